package expressions

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/rendis/actionkit/pkg/schema"
)

// Interpolate replaces ${{path}} references in text with values from data.
// A path is a data key optionally followed by dot-separated fields:
// "${{project}}", "${{selection.count}}". A reference to an unresolved key
// renders as the empty string; a malformed one is an error.
func Interpolate(text string, data map[string]any) (string, error) {
	if !HasInterpolation(text) {
		return text, nil
	}

	var out strings.Builder
	out.Grow(len(text))
	i := 0
	for i < len(text) {
		idx := strings.Index(text[i:], "${{")
		if idx == -1 {
			out.WriteString(text[i:])
			break
		}
		out.WriteString(text[i : i+idx])
		start := i + idx + 3

		end := strings.Index(text[start:], "}}")
		if end == -1 {
			return "", schema.NewErrorf(schema.ErrCodeInterpolation, "unclosed ${{ in %q", text)
		}
		end += start

		path := strings.TrimSpace(text[start:end])
		if strings.Contains(path, "${{") {
			return "", schema.NewError(schema.ErrCodeInterpolation,
				"nested interpolation not allowed: ${{...}} cannot contain ${{")
		}
		if path == "" {
			return "", schema.NewError(schema.ErrCodeInterpolation, "empty reference: ${{ }}")
		}

		val, err := resolvePath(data, path)
		if err != nil {
			return "", err
		}
		out.WriteString(renderInline(val))
		i = end + 2
	}
	return out.String(), nil
}

// References returns the data keys text refers to, sorted and deduplicated.
func References(text string) []string {
	seen := make(map[string]bool)
	for {
		idx := strings.Index(text, "${{")
		if idx == -1 {
			break
		}
		rest := text[idx+3:]
		end := strings.Index(rest, "}}")
		if end == -1 {
			break
		}
		path := strings.TrimSpace(rest[:end])
		if key, _, _ := strings.Cut(path, "."); key != "" {
			seen[key] = true
		}
		text = rest[end+2:]
	}
	return slices.Sorted(maps.Keys(seen))
}

// HasInterpolation checks whether text contains any ${{...}} reference.
func HasInterpolation(text string) bool {
	return strings.Contains(text, "${{")
}

func resolvePath(data map[string]any, path string) (any, error) {
	key, rest, nested := strings.Cut(path, ".")
	val, ok := data[key]
	if !ok || val == nil {
		return nil, nil
	}
	if !nested {
		return val, nil
	}
	return traversePath(val, rest, path)
}

// traversePath navigates into nested maps and slices along a dot path.
func traversePath(root any, path, full string) (any, error) {
	current := root
	for i, seg := range strings.Split(path, ".") {
		if seg == "" {
			return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
				"empty segment in %q at position %d", full, i+1).
				WithDetails(map[string]any{"expression": full})
		}
		switch v := current.(type) {
		case map[string]any:
			val, ok := v[seg]
			if !ok {
				available := slices.Sorted(maps.Keys(v))
				return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
					"field %q not found in %q; available: [%s]", seg, full, strings.Join(available, ", ")).
					WithDetails(map[string]any{"expression": full, "available_fields": available})
			}
			current = val
		case []any:
			if seg == "count" || seg == "length" {
				current = len(v)
				continue
			}
			var idx int
			if _, err := fmt.Sscanf(seg, "%d", &idx); err != nil || idx < 0 || idx >= len(v) {
				return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
					"invalid index %q into list of %d in %q", seg, len(v), full).
					WithDetails(map[string]any{"expression": full})
			}
			current = v[idx]
		default:
			return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
				"cannot traverse into non-object at %q in %q (type: %T)", seg, full, current).
				WithDetails(map[string]any{"expression": full})
		}
	}
	return current, nil
}

// renderInline converts a resolved value into display text.
func renderInline(val any) string {
	switch v := val.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool, int, int64, float64:
		return fmt.Sprint(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}
