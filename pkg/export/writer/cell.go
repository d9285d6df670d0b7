package writer

import (
	"database/sql/driver"
	"fmt"
	"reflect"
	"strconv"
	"time"

	"mercator-hq/tabula/pkg/export"
)

// normalizeRow converts every cell of row to one of nil, string, bool, int64,
// uint64 or float64. On failure it returns the 1-based column number.
func normalizeRow(row []any) ([]any, int, error) {
	cells := make([]any, len(row))
	for i, v := range row {
		c, err := normalizeCell(v)
		if err != nil {
			return nil, i + 1, err
		}
		cells[i] = c
	}
	return cells, 0, nil
}

func normalizeCell(v any) (any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case string:
		return val, nil
	case bool:
		return val, nil
	case int:
		return int64(val), nil
	case int8:
		return int64(val), nil
	case int16:
		return int64(val), nil
	case int32:
		return int64(val), nil
	case int64:
		return val, nil
	case uint:
		return uint64(val), nil
	case uint8:
		return uint64(val), nil
	case uint16:
		return uint64(val), nil
	case uint32:
		return uint64(val), nil
	case uint64:
		return val, nil
	case float32:
		return widenFloat32(val), nil
	case float64:
		return val, nil
	case []byte:
		return string(val), nil
	case time.Time:
		if val.IsZero() {
			return nil, nil
		}
		return val.Format(time.RFC3339Nano), nil
	case driver.Valuer:
		inner, err := val.Value()
		if err != nil {
			return nil, err
		}
		if _, again := inner.(driver.Valuer); again {
			return nil, fmt.Errorf("%w: %T", export.ErrUnsupportedCell, v)
		}
		return normalizeCell(inner)
	case fmt.Stringer:
		return val.String(), nil
	}

	// Named scalar types such as `type Status string`.
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return nil, nil
		}
		return normalizeCell(rv.Elem().Interface())
	case reflect.String:
		return rv.String(), nil
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint(), nil
	case reflect.Float32:
		return widenFloat32(float32(rv.Float())), nil
	case reflect.Float64:
		return rv.Float(), nil
	}
	return nil, fmt.Errorf("%w: %T", export.ErrUnsupportedCell, v)
}

// widenFloat32 converts through the shortest decimal form of f, so 0.1 stays
// 0.1 instead of 0.10000000149011612.
func widenFloat32(f float32) float64 {
	wide, err := strconv.ParseFloat(strconv.FormatFloat(float64(f), 'g', -1, 32), 64)
	if err != nil {
		return float64(f)
	}
	return wide
}

// cellText renders a normalised cell for the text formats.
func cellText(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprint(val)
	}
}
