package pharmacie

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/goccy/go-json"
)

// inventoryServer is a small in-memory stand-in for the Spring Data REST backend.
type inventoryServer struct {
	mu         sync.Mutex
	nextRef    int64
	records    map[int64]map[string]any
	categories []map[string]any
	requests   []*http.Request
}

func newInventoryServer(t *testing.T) (*inventoryServer, *httptest.Server) {
	t.Helper()
	s := &inventoryServer{
		nextRef: 1,
		records: make(map[int64]map[string]any),
	}
	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)
	return s, srv
}

func (s *inventoryServer) seed(rec map[string]any) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref := s.nextRef
	s.nextRef++
	rec["reference"] = ref
	s.records[ref] = rec
	return ref
}

func (s *inventoryServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, r)

	switch {
	case r.URL.Path == "/api/categories" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{
			"_embedded": map[string]any{"categories": s.categories},
		})
	case r.URL.Path == "/api/medicaments" && r.Method == http.MethodGet:
		s.list(w, r)
	case r.URL.Path == "/api/medicaments" && r.Method == http.MethodPost:
		rec, ok := readRecord(w, r)
		if !ok {
			return
		}
		ref := s.nextRef
		s.nextRef++
		rec["reference"] = ref
		s.records[ref] = rec
		writeJSON(w, http.StatusCreated, rec)
	case strings.HasPrefix(r.URL.Path, "/api/medicaments/"):
		s.item(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (s *inventoryServer) list(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	size, _ := strconv.Atoi(r.URL.Query().Get("size"))
	if size <= 0 {
		size = 20
	}

	refs := make([]int64, 0, len(s.records))
	for ref := range s.records {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i] < refs[j] })

	start := page * size
	items := []map[string]any{}
	for i := start; i < len(refs) && i < start+size; i++ {
		items = append(items, s.records[refs[i]])
	}
	totalPages := (len(refs) + size - 1) / size

	body := map[string]any{
		"page": map[string]any{
			"size":          size,
			"totalElements": len(refs),
			"totalPages":    totalPages,
			"number":        page,
		},
	}
	if len(items) > 0 {
		body["_embedded"] = map[string]any{"medicaments": items}
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *inventoryServer) item(w http.ResponseWriter, r *http.Request) {
	ref, err := strconv.ParseInt(strings.TrimPrefix(r.URL.Path, "/api/medicaments/"), 10, 64)
	if err != nil {
		http.Error(w, "bad reference", http.StatusBadRequest)
		return
	}
	current, exists := s.records[ref]
	if !exists {
		writeJSON(w, http.StatusNotFound, map[string]any{"status": 404, "error": "Not Found"})
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, current)
	case http.MethodPut:
		rec, ok := readRecord(w, r)
		if !ok {
			return
		}
		rec["reference"] = ref
		s.records[ref] = rec
		writeJSON(w, http.StatusOK, rec)
	case http.MethodPatch:
		fields, ok := readRecord(w, r)
		if !ok {
			return
		}
		for k, v := range fields {
			if k == "reference" {
				continue
			}
			current[k] = v
		}
		writeJSON(w, http.StatusOK, current)
	case http.MethodDelete:
		delete(s.records, ref)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func readRecord(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	if ct := r.Header.Get("Content-Type"); ct != "application/json" {
		http.Error(w, "unsupported content type "+ct, http.StatusUnsupportedMediaType)
		return nil, false
	}
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return nil, false
	}
	var rec map[string]any
	if err := json.Unmarshal(raw, &rec); err != nil || rec == nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return nil, false
	}
	return rec, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/hal+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
