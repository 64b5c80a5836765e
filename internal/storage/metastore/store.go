// Package metastore persists the structured control-plane records the merge
// engine reads and writes: BuildConfig, SourceMaster and the upload journal.
// It generalizes the teacher's internal/storage/badger/document_storage.go
// pattern (badgerhold typed Find/Where queries over one struct) to several
// struct types sharing one badgerhold.Store.
package metastore

import (
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/dongbohu/biohub/internal/models"
)

// Store is the badgerhold-backed persistence layer for build configs,
// source masters and the upload journal.
type Store struct {
	hold   *badgerhold.Store
	logger arbor.ILogger
}

// New wraps an already-open badgerhold.Store.
func New(hold *badgerhold.Store, logger arbor.ILogger) *Store {
	return &Store{hold: hold, logger: logger}
}

// -- BuildConfig -------------------------------------------------------

// GetBuildConfig fetches one config by name.
func (s *Store) GetBuildConfig(name string) (*models.BuildConfig, error) {
	var cfg models.BuildConfig
	if err := s.hold.Get(name, &cfg); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("build config %q not found", name)
		}
		return nil, fmt.Errorf("get build config %q: %w", name, err)
	}
	return &cfg, nil
}

// ListBuildConfigs returns every persisted build config.
func (s *Store) ListBuildConfigs() ([]models.BuildConfig, error) {
	var cfgs []models.BuildConfig
	if err := s.hold.Find(&cfgs, nil); err != nil {
		return nil, fmt.Errorf("list build configs: %w", err)
	}
	return cfgs, nil
}

// SaveBuildConfig creates or replaces a build config.
func (s *Store) SaveBuildConfig(cfg *models.BuildConfig) error {
	if err := s.hold.Upsert(cfg.BuildName, cfg); err != nil {
		return fmt.Errorf("save build config %q: %w", cfg.BuildName, err)
	}
	return nil
}

// ListPendingBuildConfigs returns every config with PendingToBuild set, in
// lexical order by build name (callers get a stable merge-initiation order
// from this, matching the poll tick's required lexical ordering).
func (s *Store) ListPendingBuildConfigs() ([]models.BuildConfig, error) {
	var cfgs []models.BuildConfig
	if err := s.hold.Find(&cfgs, badgerhold.Where("PendingToBuild").Eq(true).SortBy("BuildName")); err != nil {
		return nil, fmt.Errorf("list pending build configs: %w", err)
	}
	return cfgs, nil
}

// -- SourceMaster --------------------------------------------------------

// GetSourceMaster fetches the master record for a source name.
func (s *Store) GetSourceMaster(name string) (*models.SourceMaster, error) {
	var m models.SourceMaster
	if err := s.hold.Get(name, &m); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("source master %q not found", name)
		}
		return nil, fmt.Errorf("get source master %q: %w", name, err)
	}
	return &m, nil
}

// ListSourceMasters returns every master record, for lookups that must scan
// all masters (get_mapper_for_source's regex match).
func (s *Store) ListSourceMasters() ([]models.SourceMaster, error) {
	var masters []models.SourceMaster
	if err := s.hold.Find(&masters, nil); err != nil {
		return nil, fmt.Errorf("list source masters: %w", err)
	}
	return masters, nil
}

// SaveSourceMaster creates or replaces a source master record.
func (s *Store) SaveSourceMaster(m *models.SourceMaster) error {
	if err := s.hold.Upsert(m.ID, m); err != nil {
		return fmt.Errorf("save source master %q: %w", m.ID, err)
	}
	return nil
}

// -- Upload journal --------------------------------------------------------

// uploadRecord is the badgerhold row for one source's last upload status.
type uploadRecord struct {
	Source string `badgerholdKey:"Source"`
	Status string
}

// LastUploadStatus returns the last recorded upload status for source, or
// "" if no record exists.
func (s *Store) LastUploadStatus(source string) (string, error) {
	var rec uploadRecord
	if err := s.hold.Get(source, &rec); err != nil {
		if err == badgerhold.ErrNotFound {
			return "", nil
		}
		return "", fmt.Errorf("get upload status %q: %w", source, err)
	}
	return rec.Status, nil
}

// SetUploadStatus records the last upload status for source. Exposed so
// tests (and, in a full deployment, the out-of-scope Uploader subsystem)
// can populate the readiness journal this module only reads.
func (s *Store) SetUploadStatus(source, status string) error {
	rec := uploadRecord{Source: source, Status: status}
	if err := s.hold.Upsert(source, &rec); err != nil {
		return fmt.Errorf("set upload status %q: %w", source, err)
	}
	return nil
}
