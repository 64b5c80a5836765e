package mappers

import "github.com/dongbohu/biohub/internal/storage/collections"

// IdentityMapper passes documents through unchanged. It is always present
// under DefaultMapperName and is used whenever a source declares no
// mapper.
type IdentityMapper struct{}

// NewIdentityMapper constructs the default transparent mapper.
func NewIdentityMapper() *IdentityMapper {
	return &IdentityMapper{}
}

func (m *IdentityMapper) Name() string { return DefaultMapperName }

func (m *IdentityMapper) NeedLoad() bool { return false }

func (m *IdentityMapper) Load() error { return nil }

func (m *IdentityMapper) Process(docs []collections.Doc) ([]collections.Doc, error) {
	out := make([]collections.Doc, len(docs))
	copy(out, docs)
	return out, nil
}
