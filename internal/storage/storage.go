// Package storage keeps exported inventory snapshots on local disk.
package storage

import (
	"fmt"
	"strings"
	"time"
)

// Store persists exported medicament records keyed by reference. Records
// saved between BeginSnapshot and CommitSnapshot replace the previous
// snapshot as a whole; an uncommitted snapshot leaves it untouched.
type Store interface {
	Close() error
	BeginSnapshot() error
	SaveMedication(reference string, raw []byte) error
	CommitSnapshot() error
	Count() (int, error)
	ForEach(fn func(reference string, raw []byte) error) error
	ExportedAt() (time.Time, error)
}

// NewStore creates the configured storage backend.
func NewStore(typ, path string) (Store, error) {
	typ = strings.TrimSpace(strings.ToLower(typ))

	switch typ {
	case "", "none", "disabled":
		return noopStore{}, nil
	case "bbolt":
		if strings.TrimSpace(path) == "" {
			return nil, fmt.Errorf("bbolt storage requires a path")
		}
		return openBolt(path)
	default:
		return nil, fmt.Errorf("unsupported storage type %q", typ)
	}
}

type noopStore struct{}

func (noopStore) Close() error                             { return nil }
func (noopStore) BeginSnapshot() error                     { return nil }
func (noopStore) SaveMedication(string, []byte) error      { return nil }
func (noopStore) CommitSnapshot() error                    { return nil }
func (noopStore) Count() (int, error)                      { return 0, nil }
func (noopStore) ForEach(func(string, []byte) error) error { return nil }
func (noopStore) ExportedAt() (time.Time, error)           { return time.Time{}, nil }
