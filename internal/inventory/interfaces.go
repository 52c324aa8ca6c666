package inventory

import (
	"context"

	"github.com/pharmacie-hq/pharmacie-inventory/pkg/pharmacie"
	"github.com/pharmacie-hq/pharmacie-inventory/pkg/publishers"
)

// MedicationAPI is the subset of the pharmacie client the service drives.
type MedicationAPI interface {
	List(ctx context.Context, page, size int) (*pharmacie.ListResult, error)
	Get(ctx context.Context, reference int64) (pharmacie.Medication, error)
	Create(ctx context.Context, m pharmacie.Medication) (pharmacie.Medication, error)
	Replace(ctx context.Context, reference int64, m pharmacie.Medication) (pharmacie.Medication, error)
	Patch(ctx context.Context, reference int64, fields map[string]any) (pharmacie.Medication, error)
	Remove(ctx context.Context, reference int64) error
	ListCategories(ctx context.Context) ([]pharmacie.Category, error)
}

// EventPublisher publishes inventory change events downstream.
type EventPublisher interface {
	Publish(ctx context.Context, evt publishers.Event) (int, error)
}

// SnapshotWriter receives exported records keyed by reference. Records saved
// after BeginSnapshot replace the previous snapshot only once CommitSnapshot
// succeeds.
type SnapshotWriter interface {
	BeginSnapshot() error
	SaveMedication(reference string, raw []byte) error
	CommitSnapshot() error
}
