package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/pharmacie-hq/pharmacie-inventory/pkg/pharmacie"
	"github.com/pharmacie-hq/pharmacie-inventory/pkg/publishers"
)

// fakeAPI is an in-memory medication backend.
type fakeAPI struct {
	mu        sync.Mutex
	records   map[int64]pharmacie.Medication
	nextRef   int64
	listCalls []int
	failOn    map[string]error
	noPage    bool
}

func newFakeAPI(n int) *fakeAPI {
	f := &fakeAPI{records: map[int64]pharmacie.Medication{}, failOn: map[string]error{}}
	for i := 0; i < n; i++ {
		f.nextRef++
		f.records[f.nextRef] = pharmacie.Medication{"reference": f.nextRef, "nom": "med"}
	}
	return f
}

func (f *fakeAPI) sortedRefs() []int64 {
	refs := make([]int64, 0, len(f.records))
	for ref := range f.records {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i] < refs[j] })
	return refs
}

func (f *fakeAPI) List(_ context.Context, page, size int) (*pharmacie.ListResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls = append(f.listCalls, page)
	if err := f.failOn["list"]; err != nil {
		return nil, err
	}
	refs := f.sortedRefs()
	total := int64(len(refs))
	res := &pharmacie.ListResult{Items: []pharmacie.Medication{}}
	for i := page * size; i < len(refs) && i < (page+1)*size; i++ {
		res.Items = append(res.Items, f.records[refs[i]])
	}
	if !f.noPage {
		res.Page = &pharmacie.Page{
			Size:          int64(size),
			TotalElements: total,
			TotalPages:    (total + int64(size) - 1) / int64(size),
			Number:        int64(page),
		}
	}
	return res, nil
}

func (f *fakeAPI) Get(_ context.Context, reference int64) (pharmacie.Medication, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.records[reference]
	if !ok {
		return nil, &pharmacie.FetchError{Op: "get", Message: "not found", StatusCode: 404}
	}
	return m, nil
}

func (f *fakeAPI) Create(_ context.Context, m pharmacie.Medication) (pharmacie.Medication, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if nom, _ := m["nom"].(string); nom == "" {
		return nil, &pharmacie.FetchError{Op: "create", Message: "creation failed", StatusCode: 400}
	}
	f.nextRef++
	out := pharmacie.Medication{}
	for k, v := range m {
		out[k] = v
	}
	out["reference"] = f.nextRef
	f.records[f.nextRef] = out
	return out, nil
}

func (f *fakeAPI) Replace(_ context.Context, reference int64, m pharmacie.Medication) (pharmacie.Medication, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.records[reference]; !ok {
		return nil, &pharmacie.FetchError{Op: "replace", Message: "update failed", StatusCode: 404}
	}
	out := pharmacie.Medication{"reference": reference}
	for k, v := range m {
		out[k] = v
	}
	f.records[reference] = out
	return out, nil
}

func (f *fakeAPI) Patch(_ context.Context, reference int64, fields map[string]any) (pharmacie.Medication, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.records[reference]
	if !ok {
		return nil, &pharmacie.FetchError{Op: "patch", Message: "patch failed", StatusCode: 404}
	}
	for k, v := range fields {
		cur[k] = v
	}
	return cur, nil
}

func (f *fakeAPI) Remove(_ context.Context, reference int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.records[reference]; !ok {
		return &pharmacie.FetchError{Op: "remove", Message: "deletion failed", StatusCode: 404}
	}
	delete(f.records, reference)
	return nil
}

func (f *fakeAPI) ListCategories(context.Context) ([]pharmacie.Category, error) {
	return []pharmacie.Category{{"nom": "Antalgiques"}}, nil
}

// fakePublisher records published events and can inject errors.
type fakePublisher struct {
	mu     sync.Mutex
	events []publishers.Event
	err    error
}

func (f *fakePublisher) Publish(_ context.Context, evt publishers.Event) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, evt)
	if f.err != nil {
		return 0, f.err
	}
	return 1, nil
}

// memStore captures committed snapshots in saved and the one in progress in
// staged.
type memStore struct {
	saved  map[string][]byte
	staged map[string][]byte
	failOn string
}

func (m *memStore) BeginSnapshot() error {
	m.staged = map[string][]byte{}
	return nil
}

func (m *memStore) SaveMedication(reference string, raw []byte) error {
	if reference == m.failOn {
		return errors.New("disk full")
	}
	if m.staged == nil {
		return errors.New("no snapshot in progress")
	}
	m.staged[reference] = raw
	return nil
}

func (m *memStore) CommitSnapshot() error {
	if m.staged == nil {
		return errors.New("no snapshot in progress")
	}
	m.saved, m.staged = m.staged, nil
	return nil
}

func newTestService(t *testing.T, api MedicationAPI, opts ...Option) *Service {
	t.Helper()
	opts = append([]Option{WithRequestsPerSecond(1000)}, opts...)
	svc, err := NewService(api, opts...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestNewServiceRequiresClient(t *testing.T) {
	if _, err := NewService(nil); err == nil {
		t.Fatalf("expected error for nil client")
	}
}

func TestMutationsPublishEvents(t *testing.T) {
	api := newFakeAPI(0)
	pub := &fakePublisher{}
	svc := newTestService(t, api, WithPublisher(pub))
	ctx := context.Background()

	created, err := svc.Create(ctx, pharmacie.Medication{"nom": "Doliprane"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	ref, ok := created.Reference()
	if !ok {
		t.Fatalf("created record has no reference: %v", created)
	}
	if _, err := svc.Replace(ctx, ref, pharmacie.Medication{"nom": "Dafalgan"}); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if _, err := svc.Patch(ctx, ref, map[string]any{"prix": 2.5}); err != nil {
		t.Fatalf("Patch: %v", err)
	}
	if err := svc.Remove(ctx, ref); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	want := []string{publishers.EventCreated, publishers.EventReplaced, publishers.EventPatched, publishers.EventDeleted}
	if len(pub.events) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(pub.events))
	}
	for i, evt := range pub.events {
		if evt.Type != want[i] {
			t.Fatalf("event %d type = %s, want %s", i, evt.Type, want[i])
		}
		if evt.Reference != ref {
			t.Fatalf("event %d reference = %d, want %d", i, evt.Reference, ref)
		}
	}
	if pub.events[3].Medicament != nil {
		t.Fatalf("deleted event should carry no record")
	}
}

func TestFailedMutationPublishesNothing(t *testing.T) {
	pub := &fakePublisher{}
	svc := newTestService(t, newFakeAPI(0), WithPublisher(pub))

	err := svc.Remove(context.Background(), 99)
	var fe *pharmacie.FetchError
	if !errors.As(err, &fe) || fe.Message != "deletion failed" {
		t.Fatalf("expected deletion failed FetchError, got %v", err)
	}
	if len(pub.events) != 0 {
		t.Fatalf("no event expected, got %d", len(pub.events))
	}
}

func TestPublishFailureDoesNotFailMutation(t *testing.T) {
	pub := &fakePublisher{err: errors.New("queue down")}
	svc := newTestService(t, newFakeAPI(1), WithPublisher(pub))

	if _, err := svc.Patch(context.Background(), 1, map[string]any{"stock": 3}); err != nil {
		t.Fatalf("Patch should succeed despite publish failure: %v", err)
	}
	if len(pub.events) != 1 {
		t.Fatalf("publish should have been attempted once")
	}
}

func TestImportJoinsFailures(t *testing.T) {
	api := newFakeAPI(0)
	svc := newTestService(t, api)

	created, err := svc.Import(context.Background(), []pharmacie.Medication{
		{"nom": "A"},
		{"prix": 1},
		{"nom": "C"},
	})
	if len(created) != 2 {
		t.Fatalf("expected 2 created, got %d", len(created))
	}
	var fe *pharmacie.FetchError
	if err == nil || !errors.As(err, &fe) || fe.Message != "creation failed" {
		t.Fatalf("expected joined creation failure, got %v", err)
	}
}

func TestExportWalksAllPages(t *testing.T) {
	api := newFakeAPI(5)
	svc := newTestService(t, api)
	store := &memStore{}

	n, err := svc.Export(context.Background(), store, 2)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if n != 5 || len(store.saved) != 5 {
		t.Fatalf("expected 5 saved, got n=%d stored=%d", n, len(store.saved))
	}
	if got := api.listCalls; len(got) != 3 || got[0] != 0 || got[2] != 2 {
		t.Fatalf("unexpected pages requested: %v", got)
	}

	var rec map[string]any
	if err := json.Unmarshal(store.saved["3"], &rec); err != nil {
		t.Fatalf("stored record is not JSON: %v", err)
	}
	if rec["nom"] != "med" {
		t.Fatalf("unexpected stored record: %v", rec)
	}
}

func TestExportStopsOnEmptyPageWithoutMetadata(t *testing.T) {
	api := newFakeAPI(0)
	api.noPage = true
	svc := newTestService(t, api)

	n, err := svc.Export(context.Background(), &memStore{}, 10)
	if err != nil || n != 0 {
		t.Fatalf("Export = %d, %v", n, err)
	}
	if len(api.listCalls) != 1 {
		t.Fatalf("expected one list call, got %v", api.listCalls)
	}
}

func TestExportSkipsRecordsWithoutReference(t *testing.T) {
	api := newFakeAPI(2)
	api.records[2] = pharmacie.Medication{"nom": "anonymous"}
	svc := newTestService(t, api)
	store := &memStore{}

	n, err := svc.Export(context.Background(), store, 10)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 saved, got %d", n)
	}
}

func TestExportPropagatesErrors(t *testing.T) {
	api := newFakeAPI(3)
	svc := newTestService(t, api)

	n, err := svc.Export(context.Background(), &memStore{failOn: "2"}, 10)
	if err == nil || n != 1 {
		t.Fatalf("expected store failure after 1 save, got n=%d err=%v", n, err)
	}

	api.failOn["list"] = &pharmacie.FetchError{Op: "list", Message: "listing failed", StatusCode: 500}
	if _, err := svc.Export(context.Background(), &memStore{}, 10); err == nil {
		t.Fatalf("expected listing failure")
	}
	if _, err := svc.Export(context.Background(), nil, 10); err == nil {
		t.Fatalf("expected error for nil store")
	}
}

func TestExportDropsRecordsRemovedUpstream(t *testing.T) {
	api := newFakeAPI(3)
	svc := newTestService(t, api)
	store := &memStore{}

	if n, err := svc.Export(context.Background(), store, 2); err != nil || n != 3 {
		t.Fatalf("first Export = %d, %v", n, err)
	}
	for _, ref := range []int64{1, 3} {
		if err := svc.Remove(context.Background(), ref); err != nil {
			t.Fatalf("Remove(%d): %v", ref, err)
		}
	}

	n, err := svc.Export(context.Background(), store, 2)
	if err != nil {
		t.Fatalf("second Export: %v", err)
	}
	if n != 1 || len(store.saved) != 1 {
		t.Fatalf("expected only the surviving record, got n=%d stored=%d", n, len(store.saved))
	}
	if _, ok := store.saved["2"]; !ok {
		t.Fatalf("surviving record missing: %v", store.saved)
	}
}

func TestFailedExportKeepsPreviousSnapshot(t *testing.T) {
	api := newFakeAPI(3)
	svc := newTestService(t, api)
	store := &memStore{}

	if _, err := svc.Export(context.Background(), store, 10); err != nil {
		t.Fatalf("first Export: %v", err)
	}

	store.failOn = "2"
	if _, err := svc.Export(context.Background(), store, 10); err == nil {
		t.Fatalf("expected store failure")
	}
	if len(store.saved) != 3 {
		t.Fatalf("previous snapshot should survive a failed export, got %d records", len(store.saved))
	}
}

func TestExportHonoursCancelledContext(t *testing.T) {
	svc := newTestService(t, newFakeAPI(3))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := svc.Export(ctx, &memStore{}, 10); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestReadsPassThrough(t *testing.T) {
	svc := newTestService(t, newFakeAPI(3))
	ctx := context.Background()

	res, err := svc.List(ctx, 0, 2)
	if err != nil || len(res.Items) != 2 {
		t.Fatalf("List = %v, %v", res, err)
	}
	if _, err := svc.Get(ctx, 42); !pharmacie.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	cats, err := svc.Categories(ctx)
	if err != nil || len(cats) != 1 {
		t.Fatalf("Categories = %v, %v", cats, err)
	}
}
