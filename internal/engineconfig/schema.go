package engineconfig

import (
	"fmt"
	"regexp"

	"github.com/sparv-lang/engine/internal/engineerr"
)

// KeySchema describes the structural and value constraints for one
// configuration key, as declared by a processor's config=[...] entries.
// This is the neutral, hand-rolled equivalent of a single JSON Schema
// property: no third-party JSON-schema library appears anywhere in the
// example pack, and generating/validating against a tiny struct-described
// schema is squarely standard-library territory (see DESIGN.md).
type KeySchema struct {
	Key         string
	Description string
	Type        string   // "string", "bool", "int", "float", "list"
	Choices     []string // if non-empty, value (as string) must be one of these
	Min, Max    *float64 // numeric bounds, nil if unbounded
	Pattern     string   // regex the string value must match, if set
}

// Schema is the full set of declared configuration keys, keyed by dotted
// path, generated by merging every processor's config declarations during
// registry discovery.
type Schema map[string]KeySchema

// Validate checks every key in t that has a matching schema entry against
// that entry's constraints. Unknown keys (no schema entry) are permitted:
// the schema only constrains keys processors have declared.
func Validate(t Tree, schema Schema) error {
	for key, ks := range schema {
		v, ok := t.Get(key, nil)
		if !ok {
			continue
		}
		if err := validateValue(key, v, ks); err != nil {
			return err
		}
	}
	return nil
}

func validateValue(key string, v any, ks KeySchema) error {
	switch ks.Type {
	case "string":
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("%w: %s: expected string, got %T", engineerr.ErrConfigInvalid, key, v)
		}
		if len(ks.Choices) > 0 && !contains(ks.Choices, s) {
			return fmt.Errorf("%w: %s: %q not in %v", engineerr.ErrConfigInvalid, key, s, ks.Choices)
		}
		if ks.Pattern != "" {
			re, err := regexp.Compile(ks.Pattern)
			if err != nil {
				return fmt.Errorf("%w: %s: invalid pattern %q: %v", engineerr.ErrConfigInvalid, key, ks.Pattern, err)
			}
			if !re.MatchString(s) {
				return fmt.Errorf("%w: %s: %q does not match %q", engineerr.ErrConfigInvalid, key, s, ks.Pattern)
			}
		}
	case "bool":
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("%w: %s: expected bool, got %T", engineerr.ErrConfigInvalid, key, v)
		}
	case "int", "float":
		f, ok := asFloat(v)
		if !ok {
			return fmt.Errorf("%w: %s: expected number, got %T", engineerr.ErrConfigInvalid, key, v)
		}
		if ks.Min != nil && f < *ks.Min {
			return fmt.Errorf("%w: %s: %v below minimum %v", engineerr.ErrConfigInvalid, key, f, *ks.Min)
		}
		if ks.Max != nil && f > *ks.Max {
			return fmt.Errorf("%w: %s: %v above maximum %v", engineerr.ErrConfigInvalid, key, f, *ks.Max)
		}
	case "list":
		if _, ok := v.([]any); !ok {
			return fmt.Errorf("%w: %s: expected list, got %T", engineerr.ErrConfigInvalid, key, v)
		}
	}
	return nil
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case float64:
		return x, true
	case float32:
		return float64(x), true
	default:
		return 0, false
	}
}

func contains(list []string, s string) bool {
	for _, c := range list {
		if c == s {
			return true
		}
	}
	return false
}

// GenerateDocument renders the schema as a minimal JSON-Schema-shaped
// document (map[string]any suitable for json.Marshal), covering the subset
// of JSON Schema the engine actually validates: type, enum, minimum,
// maximum, pattern.
func (s Schema) GenerateDocument() map[string]any {
	props := make(map[string]any, len(s))
	for key, ks := range s {
		prop := map[string]any{"description": ks.Description}
		switch ks.Type {
		case "int":
			prop["type"] = "integer"
		case "float":
			prop["type"] = "number"
		case "list":
			prop["type"] = "array"
		default:
			prop["type"] = ks.Type
		}
		if len(ks.Choices) > 0 {
			prop["enum"] = ks.Choices
		}
		if ks.Min != nil {
			prop["minimum"] = *ks.Min
		}
		if ks.Max != nil {
			prop["maximum"] = *ks.Max
		}
		if ks.Pattern != "" {
			prop["pattern"] = ks.Pattern
		}
		props[key] = prop
	}
	return map[string]any{
		"$schema":    "http://json-schema.org/draft-07/schema#",
		"type":       "object",
		"properties": props,
	}
}
