package conditions

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/rendis/flowcore/pkg/schema"
)

// Interpolate resolves {{dotted.path}} references against the run context.
// Each placeholder is replaced by the literal rendering of the resolved
// value; missing or null intermediate keys resolve to the literal null.
// Exported so step instructions can reuse the same reference syntax.
func Interpolate(expression string, runCtx schema.Context) string {
	var out strings.Builder
	out.Grow(len(expression))

	i := 0
	for i < len(expression) {
		idx := strings.Index(expression[i:], "{{")
		if idx == -1 {
			out.WriteString(expression[i:])
			break
		}

		out.WriteString(expression[i : i+idx])
		start := i + idx + 2

		end := strings.Index(expression[start:], "}}")
		if end == -1 {
			// Unclosed placeholder: keep the raw text; the tokenizer will
			// reject it.
			out.WriteString(expression[i+idx:])
			break
		}
		end += start

		path := strings.TrimSpace(expression[start:end])
		out.WriteString(renderLiteral(resolvePath(runCtx, path)))

		i = end + 2
	}

	return out.String()
}

// resolvePath walks a dot-delimited path through nested maps.
// Any missing key or non-map intermediate yields nil.
func resolvePath(runCtx schema.Context, path string) any {
	if path == "" {
		return nil
	}

	var current any = map[string]any(runCtx)
	for _, seg := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current, ok = m[seg]
		if !ok {
			return nil
		}
	}
	return current
}

// renderLiteral converts a resolved value into a literal the restricted
// grammar accepts. Strings are quoted, scalars rendered inline, and
// composite values embedded as their JSON text in a quoted string.
func renderLiteral(val any) string {
	switch v := val.(type) {
	case nil:
		return "null"
	case bool:
		if v {
			return "true"
		}
		return "false"
	case string:
		return strconv.Quote(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case json.Number:
		return v.String()
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "null"
		}
		return strconv.Quote(string(b))
	}
}
