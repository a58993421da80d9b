// Package structured extracts and validates JSON objects produced by LLMs.
package structured

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ErrNoJSON is returned when the text holds no JSON object.
var ErrNoJSON = errors.New("no JSON object in model output")

// Extract returns the outermost JSON object in text, tolerating code fences
// and prose around it.
func Extract(text string) ([]byte, error) {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```JSON")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return nil, ErrNoJSON
	}
	raw := []byte(s[start : end+1])
	if !json.Valid(raw) {
		return nil, fmt.Errorf("%w: malformed object", ErrNoJSON)
	}
	return raw, nil
}

// Schema is a compiled JSON schema.
type Schema struct {
	s *gojsonschema.Schema
}

// MustCompile compiles a schema given as a Go value and panics on error.
// Schemas are package-level constants, so a failure is a programming error.
func MustCompile(schema map[string]any) *Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema))
	if err != nil {
		panic(fmt.Sprintf("structured: compile schema: %v", err))
	}
	return &Schema{s: s}
}

// Validate checks doc against the schema.
func (s *Schema) Validate(doc []byte) error {
	result, err := s.s.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return fmt.Errorf("validation error: %w", err)
	}
	if !result.Valid() {
		errs := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			errs[i] = desc.String()
		}
		return fmt.Errorf("schema validation failed: %v", errs)
	}
	return nil
}

// Enum converts a typed string list into a schema enum.
func Enum[T ~string](vals []T) []any {
	out := make([]any, len(vals))
	for i, v := range vals {
		out[i] = string(v)
	}
	return out
}
