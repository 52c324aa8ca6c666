package pharmacie

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/goccy/go-json"
)

const maxDetailBytes = 512

var errEmptyBody = errors.New("empty response body")

// FetchError reports a response whose status was outside the 2xx range.
// Message is fixed per operation; StatusCode and Body keep what the server sent.
type FetchError struct {
	Op         string
	Message    string
	StatusCode int
	Body       []byte
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s: %s (status %d)", e.Op, e.Message, e.StatusCode)
}

// NotFound reports whether the server answered 404.
func (e *FetchError) NotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// Detail summarises the server's error body for display.
func (e *FetchError) Detail() string {
	return summarizeBody(e.Body)
}

// TransportError wraps a failure to complete the HTTP exchange at all.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// DecodeError reports a 2xx response whose body could not be used.
type DecodeError struct {
	Op  string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: decode response: %v", e.Op, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a FetchError for a 404 response.
func IsNotFound(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.NotFound()
}

func summarizeBody(body []byte) string {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return ""
	}

	switch trimmed[0] {
	case '{':
		var payload map[string]any
		if err := json.Unmarshal(trimmed, &payload); err == nil {
			for _, key := range []string{"message", "error", "detail", "title"} {
				if s, ok := payload[key].(string); ok && strings.TrimSpace(s) != "" {
					return strings.TrimSpace(s)
				}
			}
		}
	case '<':
		if s := htmlSummary(trimmed); s != "" {
			return s
		}
	}

	if len(trimmed) > maxDetailBytes {
		trimmed = trimmed[:maxDetailBytes]
	}
	return string(trimmed)
}

// htmlSummary pulls a readable line out of proxy or gateway error pages.
func htmlSummary(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	return firstNonEmpty(
		doc.Find("title").First().Text(),
		doc.Find("h1").First().Text(),
	)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
