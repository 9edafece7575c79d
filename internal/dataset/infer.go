package dataset

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"
)

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02",
}

var missingMarkers = map[string]struct{}{
	"":     {},
	"na":   {},
	"n/a":  {},
	"nan":  {},
	"null": {},
	"none": {},
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		normalized[i] = normalizeValue(value)
	}
	return normalized
}

func normalizeValue(value any) any {
	switch typed := value.(type) {
	case nil:
		return nil
	case string, int64, bool:
		return typed
	case time.Time:
		return typed
	case []byte:
		return string(typed)
	case int:
		return int64(typed)
	case int8:
		return int64(typed)
	case int16:
		return int64(typed)
	case int32:
		return int64(typed)
	case uint8:
		return int64(typed)
	case uint16:
		return int64(typed)
	case uint32:
		return int64(typed)
	case uint64:
		if typed > math.MaxInt64 {
			return float64(typed)
		}
		return int64(typed)
	case float32:
		return float64(typed)
	case float64:
		if math.IsNaN(typed) {
			return nil
		}
		return typed
	case *big.Int:
		if typed == nil {
			return nil
		}
		if typed.IsInt64() {
			return typed.Int64()
		}
		f, _ := new(big.Float).SetInt(typed).Float64()
		return f
	case interface{ Float64() float64 }:
		// Fixed-point decimals from database drivers.
		return normalizeValue(typed.Float64())
	case fmt.Stringer:
		return typed.String()
	default:
		return typed
	}
}

func inferColumn(rows [][]any, col int) DType {
	var nonNull, ints, floats, bools, times int
	for _, row := range rows {
		switch row[col].(type) {
		case nil:
			continue
		case int64:
			ints++
		case float64:
			floats++
		case bool:
			bools++
		case time.Time:
			times++
		}
		nonNull++
	}
	missing := len(rows) - nonNull

	switch {
	case nonNull == 0:
		return DTypeObject
	case ints == nonNull && missing == 0:
		return DTypeInt64
	case ints+floats == nonNull:
		for _, row := range rows {
			if v, ok := row[col].(int64); ok {
				row[col] = float64(v)
			}
		}
		return DTypeFloat64
	case bools == nonNull:
		return DTypeBool
	case times == nonNull:
		return DTypeDatetime
	default:
		return DTypeObject
	}
}

func parseCell(raw string, dtype DType) any {
	trimmed := strings.TrimSpace(raw)
	if isMissing(trimmed) {
		return nil
	}
	switch dtype {
	case DTypeInt64:
		v, _ := strconv.ParseInt(trimmed, 10, 64)
		return v
	case DTypeFloat64:
		v, _ := strconv.ParseFloat(trimmed, 64)
		return v
	case DTypeBool:
		return strings.EqualFold(trimmed, "true")
	case DTypeDatetime:
		v, _ := parseTime(trimmed)
		return v
	default:
		return raw
	}
}

func inferTextColumn(cells []string) DType {
	var nonNull, ints, floats, bools, times int
	for _, raw := range cells {
		value := strings.TrimSpace(raw)
		if isMissing(value) {
			continue
		}
		nonNull++
		if _, err := strconv.ParseInt(value, 10, 64); err == nil {
			ints++
			continue
		}
		if _, err := strconv.ParseFloat(value, 64); err == nil {
			floats++
			continue
		}
		if strings.EqualFold(value, "true") || strings.EqualFold(value, "false") {
			bools++
			continue
		}
		if _, ok := parseTime(value); ok {
			times++
		}
	}
	missing := len(cells) - nonNull

	switch {
	case nonNull == 0:
		return DTypeObject
	case ints == nonNull && missing == 0:
		return DTypeInt64
	case ints+floats == nonNull:
		return DTypeFloat64
	case bools == nonNull:
		return DTypeBool
	case times == nonNull:
		return DTypeDatetime
	default:
		return DTypeObject
	}
}

func isMissing(value string) bool {
	_, ok := missingMarkers[strings.ToLower(value)]
	return ok
}

func parseTime(value string) (time.Time, bool) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
