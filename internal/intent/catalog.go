// Package intent loads the intent catalogue and resolves chat text to a record.
package intent

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// FallbackID names the record returned when nothing matches.
const FallbackID = "fallback"

// Built-in fallback values, also used by the chat endpoint when a record omits them.
const (
	DefaultReply = "Un instant s’il vous plaît."
	DefaultClip  = "WAIT_PLEASE_LSF"
)

// ErrNoRecords is returned when a catalogue source holds no usable record.
var ErrNoRecords = errors.New("intent catalog has no usable records")

// Record is one intent. Examples are stored lower-cased.
type Record struct {
	ID       string   `json:"id" yaml:"id"`
	Examples []string `json:"examples" yaml:"examples"`
	Reply    string   `json:"reply" yaml:"reply"`
	Clip     string   `json:"clip" yaml:"clip"`
}

// DefaultFallback is used when the catalogue declares no fallback record.
func DefaultFallback() Record {
	return Record{ID: FallbackID, Reply: DefaultReply, Clip: DefaultClip}
}

// rawRecord accepts both "id" and the legacy "intent" key.
type rawRecord struct {
	ID       string   `json:"id" yaml:"id"`
	Intent   string   `json:"intent" yaml:"intent"`
	Examples []string `json:"examples" yaml:"examples"`
	Reply    string   `json:"reply" yaml:"reply"`
	Clip     string   `json:"clip" yaml:"clip"`
}

// Catalog is an immutable ordered list of records with a guaranteed fallback.
type Catalog struct {
	records  []Record
	fallback Record
}

// New validates records and returns a catalogue. Order is preserved.
func New(records []Record, logger *zap.Logger) *Catalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Catalog{fallback: DefaultFallback()}
	seen := make(map[string]struct{}, len(records))
	hasFallback := false

	for i, rec := range records {
		id := strings.TrimSpace(rec.ID)
		if id == "" {
			logger.Warn("intent record without id skipped", zap.Int("index", i))
			continue
		}
		if _, dup := seen[id]; dup {
			logger.Warn("duplicate intent id skipped", zap.String("id", id), zap.Int("index", i))
			continue
		}
		seen[id] = struct{}{}

		examples := make([]string, 0, len(rec.Examples))
		for _, ex := range rec.Examples {
			if strings.TrimSpace(ex) == "" {
				logger.Warn("empty intent example dropped", zap.String("id", id))
				continue
			}
			examples = append(examples, strings.ToLower(ex))
		}

		clean := Record{ID: id, Examples: examples, Reply: rec.Reply, Clip: rec.Clip}
		c.records = append(c.records, clean)
		if id == FallbackID {
			c.fallback = clean
			hasFallback = true
		}
	}

	if !hasFallback {
		logger.Info("intent catalog declares no fallback; using built-in default")
	}
	return c
}

// FallbackOnly returns a catalogue holding only the built-in fallback.
func FallbackOnly() *Catalog {
	return &Catalog{fallback: DefaultFallback()}
}

// Load reads the catalogue at path. Any failure degrades to FallbackOnly with a warning;
// the returned error is informational.
func Load(path string, logger *zap.Logger) (*Catalog, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	records, err := ReadFile(path)
	if err != nil {
		logger.Warn("intent catalog unavailable; serving fallback only",
			zap.String("path", path),
			zap.Error(err),
		)
		return FallbackOnly(), err
	}
	catalog := New(records, logger)
	if len(catalog.records) == 0 {
		logger.Warn("intent catalog empty after validation; serving fallback only", zap.String("path", path))
		return FallbackOnly(), fmt.Errorf("%s: %w", path, ErrNoRecords)
	}
	logger.Info("intent catalog loaded",
		zap.String("path", path),
		zap.Int("intents", len(catalog.records)),
	)
	return catalog, nil
}

// ReadFile parses a catalogue file. YAML is used for .yaml and .yml, JSON otherwise.
func ReadFile(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data, filepath.Ext(path))
}

// Parse decodes catalogue bytes. ext selects the format.
func Parse(data []byte, ext string) ([]Record, error) {
	var raw []rawRecord
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse yaml catalog: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse json catalog: %w", err)
		}
	}
	if len(raw) == 0 {
		return nil, ErrNoRecords
	}
	records := make([]Record, 0, len(raw))
	for _, r := range raw {
		id := r.ID
		if id == "" {
			id = r.Intent
		}
		records = append(records, Record{ID: id, Examples: r.Examples, Reply: r.Reply, Clip: r.Clip})
	}
	return records, nil
}

// Records returns a copy of the ordered records.
func (c *Catalog) Records() []Record {
	out := make([]Record, len(c.records))
	copy(out, c.records)
	return out
}

// Fallback returns the declared or built-in fallback record.
func (c *Catalog) Fallback() Record {
	return c.fallback
}

// Len counts declared records, excluding a built-in fallback.
func (c *Catalog) Len() int {
	return len(c.records)
}
