package query

import (
	"fmt"
	"strings"

	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"
)

// parseSignalJPath splits a signal key of the form "signalName{$.path}"
// into its base signal name and JPath expression, directly modeled on
// the teacher's parseColumnJPath (app/query/stages.go), rewired from a
// CSV column name onto a LogEntry signal key.
func parseSignalJPath(key string) (base string, jpathExpr string, hasJPath bool) {
	open := strings.Index(key, "{")
	if open == -1 {
		return key, "", false
	}
	closeIdx := strings.LastIndex(key, "}")
	if closeIdx == -1 || closeIdx <= open {
		return key, "", false
	}
	name := strings.TrimSpace(key[:open])
	expr := strings.TrimSpace(key[open+1 : closeIdx])
	if name == "" || expr == "" {
		return key, "", false
	}
	return name, expr, true
}

// evaluateJPath extracts a sub-value from a JSON-valued LogEntry.Value,
// mirroring the teacher's evaluateColumnJPath (app/query/stages.go)
// value-to-string coercion.
func evaluateJPath(jsonValue, jpathExpr string) (string, bool) {
	if jsonValue == "" || jpathExpr == "" {
		return "", false
	}
	data, err := oj.ParseString(jsonValue)
	if err != nil {
		return "", false
	}
	path, err := jp.ParseString(jpathExpr)
	if err != nil {
		return "", false
	}
	results := path.Get(data)
	if len(results) == 0 {
		return "", false
	}
	switch v := results[0].(type) {
	case string:
		return v, true
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v)), true
		}
		return fmt.Sprintf("%v", v), true
	case int64:
		return fmt.Sprintf("%d", v), true
	case int:
		return fmt.Sprintf("%d", v), true
	case bool:
		return fmt.Sprintf("%t", v), true
	case nil:
		return "", true
	case map[string]any, []any:
		b, err := oj.Marshal(v)
		if err != nil {
			return "", false
		}
		return string(b), true
	default:
		return fmt.Sprintf("%v", v), true
	}
}
