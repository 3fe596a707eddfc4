package swrcache

import (
	"fmt"
	"net/url"
	"strconv"
)

// Params are the query parameters of a request. Values are expected to be primitives
// (string, bool, integer or float kinds) and are stringified.
type Params map[string]any

// BuildKey derives the canonical cache key for endpoint and params. Parameter order does
// not matter, and no params yields the bare endpoint.
func BuildKey(endpoint string, params Params) string {
	q := params.values()
	if len(q) == 0 {
		return endpoint
	}

	// Encode sorts by key and escapes, so distinct pairs never collide.
	return endpoint + "?" + q.Encode()
}

func (p Params) values() url.Values {
	if len(p) == 0 {
		return nil
	}

	v := make(url.Values, len(p))
	for k, val := range p {
		v.Set(k, stringify(val))
	}

	return v
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case fmt.Stringer:
		return t.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}
