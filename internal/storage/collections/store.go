// Package collections implements the generic multi-collection document
// store the merge engine reads sources from and writes targets to. Unlike
// the teacher's single fixed-struct Badger store, every named collection
// (one per data source, plus one per build's target) lives in the same
// Badger instance, addressed by a "<collection>\x00<id>" key prefix.
package collections

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
)

// Doc is one document inside a collection: an opaque field bag keyed by ID.
type Doc struct {
	ID     string                 `json:"_id"`
	Fields map[string]interface{} `json:"fields"`
}

// Clone returns a deep-enough copy of d suitable for merging into a stored
// document without aliasing the caller's map.
func (d Doc) Clone() Doc {
	fields := make(map[string]interface{}, len(d.Fields))
	for k, v := range d.Fields {
		fields[k] = v
	}
	return Doc{ID: d.ID, Fields: fields}
}

const (
	catalogPrefix = "\x00catalog\x00"
	docSep        = "\x00doc\x00"
)

// Store is the read/write facade both the Source Backend and Target Backend
// are built on.
type Store interface {
	// ListCollections returns the live collection catalog.
	ListCollections(ctx context.Context) ([]string, error)

	// Prepare creates collection if it does not already exist in the
	// catalog. Idempotent.
	Prepare(ctx context.Context, collection string) error

	// Drop removes collection and every document inside it.
	Drop(ctx context.Context, collection string) error

	// Exists reports whether id is present in collection.
	Exists(ctx context.Context, collection, id string) (bool, error)

	// IterIDs streams every document ID in collection, in key order, closing
	// the returned channel when iteration completes or ctx is cancelled.
	IterIDs(ctx context.Context, collection string) (<-chan string, error)

	// GetByIDs fetches the documents named by ids that exist in collection.
	// Missing ids are silently omitted from the result.
	GetByIDs(ctx context.Context, collection string, ids []string) ([]Doc, error)

	// Upsert writes docs into collection, creating documents that do not
	// exist and field-merging into documents that do. Returns the number of
	// documents written.
	Upsert(ctx context.Context, collection string, docs []Doc) (int, error)

	// Update field-merges docs into collection, but only for documents that
	// already exist; documents with no existing counterpart are skipped.
	// Returns the number of documents actually merged.
	Update(ctx context.Context, collection string, docs []Doc) (int, error)
}

// BadgerStore is the Store implementation backed by dgraph-io/badger.
type BadgerStore struct {
	db     *badger.DB
	logger arbor.ILogger
}

// NewBadgerStore wraps an already-open badger.DB.
func NewBadgerStore(db *badger.DB, logger arbor.ILogger) *BadgerStore {
	return &BadgerStore{db: db, logger: logger}
}

func catalogKey(collection string) []byte {
	return []byte(catalogPrefix + collection)
}

func docKey(collection, id string) []byte {
	return []byte(collection + docSep + id)
}

func docPrefix(collection string) []byte {
	return []byte(collection + docSep)
}

func (s *BadgerStore) ListCollections(ctx context.Context) ([]string, error) {
	var names []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(catalogPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			names = append(names, string(bytes.TrimPrefix(key, []byte(catalogPrefix))))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	return names, nil
}

func (s *BadgerStore) Prepare(ctx context.Context, collection string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(catalogKey(collection), []byte{1})
	})
}

func (s *BadgerStore) Drop(ctx context.Context, collection string) error {
	if err := s.db.DropPrefix(docPrefix(collection)); err != nil {
		return fmt.Errorf("drop collection %q: %w", collection, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(catalogKey(collection))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		return err
	})
}

func (s *BadgerStore) Exists(ctx context.Context, collection, id string) (bool, error) {
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(docKey(collection, id))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("exists %s/%s: %w", collection, id, err)
	}
	return found, nil
}

func (s *BadgerStore) IterIDs(ctx context.Context, collection string) (<-chan string, error) {
	out := make(chan string)
	go func() {
		defer close(out)
		prefix := docPrefix(collection)
		_ = s.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false
			opts.Prefix = prefix
			it := txn.NewIterator(opts)
			defer it.Close()
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				key := it.Item().KeyCopy(nil)
				id := string(bytes.TrimPrefix(key, prefix))
				select {
				case out <- id:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			return nil
		})
	}()
	return out, nil
}

func (s *BadgerStore) GetByIDs(ctx context.Context, collection string, ids []string) ([]Doc, error) {
	docs := make([]Doc, 0, len(ids))
	err := s.db.View(func(txn *badger.Txn) error {
		for _, id := range ids {
			item, err := txn.Get(docKey(collection, id))
			if err == badger.ErrKeyNotFound {
				continue
			}
			if err != nil {
				return err
			}
			var d Doc
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &d)
			}); err != nil {
				return fmt.Errorf("decode %s/%s: %w", collection, id, err)
			}
			docs = append(docs, d)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get by ids in %q: %w", collection, err)
	}
	return docs, nil
}

func (s *BadgerStore) Upsert(ctx context.Context, collection string, docs []Doc) (int, error) {
	return s.write(collection, docs, true)
}

func (s *BadgerStore) Update(ctx context.Context, collection string, docs []Doc) (int, error) {
	return s.write(collection, docs, false)
}

// write merges each doc's fields into any existing document at the same
// ID, or creates a new one when createIfMissing is true.
func (s *BadgerStore) write(collection string, docs []Doc, createIfMissing bool) (int, error) {
	written := 0
	err := s.db.Update(func(txn *badger.Txn) error {
		for _, incoming := range docs {
			key := docKey(collection, incoming.ID)

			var merged Doc
			item, err := txn.Get(key)
			switch {
			case err == badger.ErrKeyNotFound:
				if !createIfMissing {
					continue
				}
				merged = Doc{ID: incoming.ID, Fields: map[string]interface{}{}}
			case err != nil:
				return err
			default:
				if decodeErr := item.Value(func(val []byte) error {
					return json.Unmarshal(val, &merged)
				}); decodeErr != nil {
					return fmt.Errorf("decode existing %s/%s: %w", collection, incoming.ID, decodeErr)
				}
			}

			if merged.Fields == nil {
				merged.Fields = map[string]interface{}{}
			}
			for k, v := range incoming.Fields {
				merged.Fields[k] = v
			}

			buf, err := json.Marshal(merged)
			if err != nil {
				return fmt.Errorf("encode %s/%s: %w", collection, incoming.ID, err)
			}
			if err := txn.Set(key, buf); err != nil {
				return err
			}
			written++
		}
		return nil
	})
	if err != nil {
		return written, fmt.Errorf("write to %q: %w", collection, err)
	}
	return written, nil
}
