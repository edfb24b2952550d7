package entity

import (
	"fmt"
	"time"
)

// Scan helpers for decoding column values coming back from the store. pgx
// hands back natives whose width depends on the column type, so the numeric
// helpers accept the common integer and float widths.

func asString(v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("expected string, got %T", v)
	}
	return s, nil
}

func asFloat64(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case int32:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("expected float, got %T", v)
	}
}

func asInt32(v any) (int32, error) {
	switch n := v.(type) {
	case int32:
		return n, nil
	case int64:
		return int32(n), nil
	case int16:
		return int32(n), nil
	default:
		return 0, fmt.Errorf("expected integer, got %T", v)
	}
}

func asTime(v any) (time.Time, error) {
	t, ok := v.(time.Time)
	if !ok {
		return time.Time{}, fmt.Errorf("expected timestamp, got %T", v)
	}
	return t.UTC(), nil
}
