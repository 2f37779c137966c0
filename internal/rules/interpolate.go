package rules

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var placeholder = regexp.MustCompile(`\{(\w+)\}`)

// Interpolate substitutes {key} tokens in template with values from details.
// Tokens without a matching key are left verbatim.
func Interpolate(template string, details map[string]any) string {
	if template == "" {
		return ""
	}
	return placeholder.ReplaceAllStringFunc(template, func(token string) string {
		key := token[1 : len(token)-1]
		v, ok := details[key]
		if !ok {
			return token
		}
		return formatValue(v)
	})
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []string:
		return strings.Join(val, ", ")
	case []any:
		parts := make([]string, len(val))
		for i, item := range val {
			parts[i] = formatValue(item)
		}
		return strings.Join(parts, ", ")
	case float64:
		// JSON numbers decode as float64; render whole values as integers.
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprint(val)
	}
}
