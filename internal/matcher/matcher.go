// Package matcher implements structural subset matching of decoded
// JSON values against partial templates. It is the dispatch primitive
// used to decide which pipelines an incoming event triggers and which
// queue the event router selects.
package matcher

import "fmt"

// Matches reports whether value satisfies pattern.
//
// A map pattern requires value to be a map containing every pattern
// key with a matching value; extra keys in value are ignored. A list
// pattern requires value to be a list where every pattern element is
// matched by at least one value element, in any order. Any other
// pattern is compared by equality. A nil pattern matches everything.
//
// Map keys are compared after coercion to string, so events decoded
// with non-string key types still match string-keyed patterns.
func Matches(value, pattern any) bool {
	if pattern == nil {
		return true
	}

	if pm, ok := asStringMap(pattern); ok {
		vm, ok := asStringMap(value)
		if !ok {
			return false
		}
		for k, pv := range pm {
			vv, present := vm[k]
			if !present {
				if pv == nil {
					continue
				}
				return false
			}
			if !Matches(vv, pv) {
				return false
			}
		}
		return true
	}

	if pl, ok := asList(pattern); ok {
		vl, ok := asList(value)
		if !ok {
			return false
		}
		for _, pe := range pl {
			if !anyMatches(vl, pe) {
				return false
			}
		}
		return true
	}

	return equal(value, pattern)
}

func anyMatches(values []any, pattern any) bool {
	for _, v := range values {
		if Matches(v, pattern) {
			return true
		}
	}
	return false
}

// asStringMap normalizes the two map shapes JSON decoders and callers
// produce into a string-keyed map. Keys are coerced to string.
func asStringMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, mv := range m {
			out[fmt.Sprint(k)] = mv
		}
		return out, true
	default:
		return nil, false
	}
}

func asList(v any) ([]any, bool) {
	l, ok := v.([]any)
	return l, ok
}

// equal compares scalars, coercing numeric types so that values built
// in Go code (int) compare equal to decoded JSON numbers (float64).
func equal(a, b any) bool {
	if af, ok := asFloat(a); ok {
		bf, ok := asFloat(b)
		return ok && af == bf
	}
	return a == b
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
