package pharmacie

import (
	"math"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// ReferenceField is the body field carrying a medicament's identifier.
const ReferenceField = "reference"

// Medication is an opaque medicament record. The client passes its fields
// through verbatim and only ever reads the reference.
type Medication map[string]any

// Category is an opaque category record.
type Category map[string]any

// Page is the pagination descriptor returned by the server alongside a listing.
type Page struct {
	Size          int64 `json:"size" yaml:"size"`
	TotalElements int64 `json:"totalElements" yaml:"totalElements"`
	TotalPages    int64 `json:"totalPages" yaml:"totalPages"`
	Number        int64 `json:"number" yaml:"number"`
}

// Last reports whether p describes the final page of the collection.
func (p *Page) Last() bool {
	if p == nil {
		return true
	}
	return p.Number+1 >= p.TotalPages
}

// ListResult is one page of medicaments. Page is nil when the server sent none.
type ListResult struct {
	Items []Medication `json:"medicaments" yaml:"medicaments"`
	Page  *Page        `json:"page,omitempty" yaml:"page,omitempty"`
}

// Reference returns the record identifier. Spring Data REST hides ids by
// default, so the HAL self link is used when the field is absent.
func (m Medication) Reference() (int64, bool) {
	if m == nil {
		return 0, false
	}
	if ref, ok := parseReference(m[ReferenceField]); ok {
		return ref, true
	}
	return referenceFromLinks(m["_links"])
}

func parseReference(v any) (int64, bool) {
	switch r := v.(type) {
	case json.Number:
		n, err := r.Int64()
		return n, err == nil
	case float64:
		if r != math.Trunc(r) {
			return 0, false
		}
		return int64(r), true
	case int:
		return int64(r), true
	case int64:
		return r, true
	case int32:
		return int64(r), true
	case uint64:
		if r > math.MaxInt64 {
			return 0, false
		}
		return int64(r), true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(r), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

func referenceFromLinks(v any) (int64, bool) {
	links, ok := v.(map[string]any)
	if !ok {
		return 0, false
	}
	self, ok := links["self"].(map[string]any)
	if !ok {
		return 0, false
	}
	href, ok := self["href"].(string)
	if !ok {
		return 0, false
	}

	// drop URI template suffixes such as "{?projection}"
	if i := strings.IndexAny(href, "{?#"); i >= 0 {
		href = href[:i]
	}
	href = strings.TrimRight(href, "/")
	if i := strings.LastIndex(href, "/"); i >= 0 {
		href = href[i+1:]
	}
	return parseReference(href)
}
