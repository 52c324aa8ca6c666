// Package inventory layers change notifications, bulk import and snapshot
// export on top of the pharmacie client.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/juju/ratelimit"

	"github.com/pharmacie-hq/pharmacie-inventory/internal/logger"
	"github.com/pharmacie-hq/pharmacie-inventory/pkg/pharmacie"
	"github.com/pharmacie-hq/pharmacie-inventory/pkg/publishers"
)

// DefaultRequestsPerSecond bounds export page fetches when no rate is given.
const DefaultRequestsPerSecond = 5.0

// Service coordinates client calls with publishers and the snapshot store.
type Service struct {
	api       MedicationAPI
	publisher EventPublisher
	log       logger.Logger
	bucket    *ratelimit.Bucket
}

// Option customises a Service.
type Option func(*Service)

// WithPublisher routes change events to pub.
func WithPublisher(pub EventPublisher) Option {
	return func(s *Service) {
		if pub != nil {
			s.publisher = pub
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(log logger.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithRequestsPerSecond throttles export page fetches. Non-positive rates
// fall back to DefaultRequestsPerSecond.
func WithRequestsPerSecond(rps float64) Option {
	return func(s *Service) {
		s.bucket = newBucket(rps)
	}
}

// NewService wires a service around the medication client.
func NewService(api MedicationAPI, opts ...Option) (*Service, error) {
	if api == nil {
		return nil, errors.New("medication client must not be nil")
	}
	s := &Service{
		api:    api,
		log:    &logger.NopLogger{},
		bucket: newBucket(DefaultRequestsPerSecond),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func newBucket(rps float64) *ratelimit.Bucket {
	if rps <= 0 {
		rps = DefaultRequestsPerSecond
	}
	capacity := int64(rps)
	if capacity < 1 {
		capacity = 1
	}
	return ratelimit.NewBucketWithRate(rps, capacity)
}

// List returns one page of medicaments.
func (s *Service) List(ctx context.Context, page, size int) (*pharmacie.ListResult, error) {
	return s.api.List(ctx, page, size)
}

// Get returns a single medicament.
func (s *Service) Get(ctx context.Context, reference int64) (pharmacie.Medication, error) {
	return s.api.Get(ctx, reference)
}

// Categories returns every category.
func (s *Service) Categories(ctx context.Context) ([]pharmacie.Category, error) {
	return s.api.ListCategories(ctx)
}

// Create adds a medicament and announces it.
func (s *Service) Create(ctx context.Context, m pharmacie.Medication) (pharmacie.Medication, error) {
	created, err := s.api.Create(ctx, m)
	if err != nil {
		return nil, err
	}
	ref, _ := created.Reference()
	s.publish(ctx, publishers.NewEvent(publishers.EventCreated, ref, created))
	return created, nil
}

// Replace overwrites a medicament and announces it.
func (s *Service) Replace(ctx context.Context, reference int64, m pharmacie.Medication) (pharmacie.Medication, error) {
	updated, err := s.api.Replace(ctx, reference, m)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, publishers.NewEvent(publishers.EventReplaced, reference, updated))
	return updated, nil
}

// Patch updates selected fields of a medicament and announces it.
func (s *Service) Patch(ctx context.Context, reference int64, fields map[string]any) (pharmacie.Medication, error) {
	updated, err := s.api.Patch(ctx, reference, fields)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, publishers.NewEvent(publishers.EventPatched, reference, updated))
	return updated, nil
}

// Remove deletes a medicament and announces it.
func (s *Service) Remove(ctx context.Context, reference int64) error {
	if err := s.api.Remove(ctx, reference); err != nil {
		return err
	}
	s.publish(ctx, publishers.NewEvent(publishers.EventDeleted, reference, nil))
	return nil
}

// Import creates every record in order. It returns the records the server
// accepted along with the joined failures of the rest.
func (s *Service) Import(ctx context.Context, recs []pharmacie.Medication) ([]pharmacie.Medication, error) {
	created := make([]pharmacie.Medication, 0, len(recs))
	var errs []error
	for i, rec := range recs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		out, err := s.Create(ctx, rec)
		if err != nil {
			errs = append(errs, fmt.Errorf("record %d: %w", i, err))
			continue
		}
		created = append(created, out)
	}

	s.log.InfoObj("import completed", "import_result", map[string]any{
		"records": len(recs),
		"created": len(created),
		"failed":  len(errs),
	})
	return created, errors.Join(errs...)
}

// Export walks every page of medicaments and saves each record into store.
// Records whose reference cannot be determined are skipped. It returns the
// number of records saved.
func (s *Service) Export(ctx context.Context, store SnapshotWriter, pageSize int) (int, error) {
	if store == nil {
		return 0, errors.New("snapshot store must not be nil")
	}
	if pageSize <= 0 {
		pageSize = pharmacie.DefaultPageSize
	}

	if err := store.BeginSnapshot(); err != nil {
		return 0, fmt.Errorf("begin snapshot: %w", err)
	}

	start := time.Now()
	saved, skipped := 0, 0
	for page := 0; ; page++ {
		if err := s.wait(ctx); err != nil {
			return saved, err
		}

		res, err := s.api.List(ctx, page, pageSize)
		if err != nil {
			return saved, fmt.Errorf("export page %d: %w", page, err)
		}

		for _, item := range res.Items {
			ref, ok := item.Reference()
			if !ok {
				skipped++
				continue
			}
			raw, err := json.Marshal(item)
			if err != nil {
				return saved, fmt.Errorf("encode medicament %d: %w", ref, err)
			}
			if err := store.SaveMedication(strconv.FormatInt(ref, 10), raw); err != nil {
				return saved, fmt.Errorf("save medicament %d: %w", ref, err)
			}
			saved++
		}

		if len(res.Items) == 0 || res.Page.Last() {
			break
		}
	}

	if err := store.CommitSnapshot(); err != nil {
		return saved, fmt.Errorf("commit snapshot: %w", err)
	}
	if skipped > 0 {
		s.log.WarnObj("export skipped records without reference", "export_skipped", skipped)
	}
	s.log.InfoObj("export completed", "export_result", map[string]any{
		"saved":      saved,
		"skipped":    skipped,
		"elapsed_ms": time.Since(start).Milliseconds(),
	})
	return saved, nil
}

// wait blocks until the bucket yields a token or ctx ends.
func (s *Service) wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d := s.bucket.Take(1)
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *Service) publish(ctx context.Context, evt publishers.Event) {
	if s.publisher == nil {
		return
	}
	n, err := s.publisher.Publish(ctx, evt)
	if err != nil {
		s.log.ErrorObj("publish change event failed", "publish_error", map[string]any{
			"event_type": evt.Type,
			"reference":  evt.Reference,
			"delivered":  n,
			"error":      err.Error(),
		})
		return
	}
	s.log.DebugObj("change event published", "publish_result", map[string]any{
		"event_type": evt.Type,
		"reference":  evt.Reference,
		"delivered":  n,
	})
}
