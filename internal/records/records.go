// Package records loads medicament payloads from YAML or JSON files.
package records

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/goccy/go-json"
	"golang.org/x/text/encoding/charmap"
	"gopkg.in/yaml.v3"

	"github.com/pharmacie-hq/pharmacie-inventory/pkg/pharmacie"
)

const maxFileBytes = 16 << 20 // 16 MiB

type unmarshalFn func([]byte, any) error

// Load reads every record in path. The file may hold a single object, a list
// of objects, or an object with a "medicaments" list.
func Load(path string) ([]pharmacie.Medication, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("records file path is empty")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open records file: %w", err)
	}
	defer file.Close()

	raw, err := io.ReadAll(io.LimitReader(file, maxFileBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read records file: %w", err)
	}
	if len(raw) > maxFileBytes {
		return nil, fmt.Errorf("records file exceeds %d bytes", maxFileBytes)
	}

	return Parse(raw, filepath.Ext(path))
}

// LoadOne reads path and requires it to hold exactly one record.
func LoadOne(path string) (pharmacie.Medication, error) {
	recs, err := Load(path)
	if err != nil {
		return nil, err
	}
	if len(recs) != 1 {
		return nil, fmt.Errorf("records file %s holds %d records, expected 1", path, len(recs))
	}
	return recs[0], nil
}

// Parse decodes raw using the decoder for ext, or tries each when ext is empty.
func Parse(raw []byte, ext string) ([]pharmacie.Medication, error) {
	data, err := toUTF8(raw)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.New("records file is empty")
	}

	ext = strings.ToLower(strings.TrimSpace(ext))
	decoders := []struct {
		name string
		ext  string
		fn   unmarshalFn
	}{
		{name: "json", ext: ".json", fn: decodeJSON},
		{name: "yaml", ext: ".yaml", fn: yaml.Unmarshal},
		{name: "yaml", ext: ".yml", fn: yaml.Unmarshal},
	}

	var errs []error
	for _, d := range decoders {
		if ext != "" && ext != d.ext {
			continue
		}
		recs, err := decode(d.name, data, d.fn)
		if err == nil {
			return recs, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, fmt.Errorf("records file extension %q not recognized (expected .yaml, .yml or .json)", ext)
	}
	return nil, errors.Join(errs...)
}

func decode(name string, data []byte, fn unmarshalFn) ([]pharmacie.Medication, error) {
	var doc any
	if err := fn(data, &doc); err != nil {
		return nil, fmt.Errorf("decode %s records: %w", name, err)
	}

	switch v := doc.(type) {
	case map[string]any:
		if list, ok := v["medicaments"]; ok {
			return toRecords(name, list)
		}
		return []pharmacie.Medication{pharmacie.Medication(v)}, nil
	case []any:
		return toRecords(name, v)
	default:
		return nil, fmt.Errorf("decode %s records: expected an object or a list, got %T", name, doc)
	}
}

func toRecords(name string, list any) ([]pharmacie.Medication, error) {
	items, ok := list.([]any)
	if !ok {
		return nil, fmt.Errorf("decode %s records: medicaments must be a list", name)
	}
	out := make([]pharmacie.Medication, 0, len(items))
	for i, item := range items {
		rec, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("decode %s records: entry %d is %T, expected an object", name, i, item)
		}
		out = append(out, pharmacie.Medication(rec))
	}
	return out, nil
}

// French inventory exports are frequently ISO-8859-1.
func toUTF8(raw []byte) ([]byte, error) {
	if utf8.Valid(raw) {
		return raw, nil
	}
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(raw)
	if err != nil {
		return nil, fmt.Errorf("decode iso-8859-1 records: %w", err)
	}
	return out, nil
}

func decodeJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}
