package task

import (
	"fmt"
	"strconv"
	"strings"
)

func formatValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	default:
		return fmt.Sprint(x)
	}
}

// toList flattens a scalar or list parameter into strings.
func toList(v any) []string {
	switch x := v.(type) {
	case nil:
		return nil
	case []string:
		return append([]string(nil), x...)
	case []any:
		out := make([]string, 0, len(x))
		for _, item := range x {
			if item == nil {
				continue
			}
			out = append(out, formatValue(item))
		}
		return out
	default:
		return []string{formatValue(x)}
	}
}

// toScalar unwraps a one-element list; longer lists are an error.
func toScalar(v any) (string, error) {
	switch v.(type) {
	case []string, []any:
		items := toList(v)
		if len(items) != 1 {
			return "", fmt.Errorf("%w: expected a single value, got %d", ErrInvalidParam, len(items))
		}
		return items[0], nil
	default:
		return formatValue(v), nil
	}
}

func toBool(v any) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(x))
		if err != nil {
			return false, fmt.Errorf("%w: %q is not a boolean", ErrInvalidParam, x)
		}
		return b, nil
	default:
		return false, fmt.Errorf("%w: %v is not a boolean", ErrInvalidParam, v)
	}
}

func isEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case []string:
		return len(x) == 0
	case []any:
		return len(x) == 0
	}
	return false
}

func joinFlag(flag, value string) string {
	if flag == "" {
		return value
	}
	return flag + " " + value
}
