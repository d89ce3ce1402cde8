package dbwriter

import (
	"fmt"
	"strconv"
)

// columnKind is the normalized declared type after resolving aliases.
type columnKind int

const (
	kindInt columnKind = iota
	kindText
	kindBool
	kindFloat
)

// pgType is the UNNEST(...) cast used for this kind's array parameter.
func (k columnKind) pgType() string {
	switch k {
	case kindInt:
		return "int"
	case kindText:
		return "text"
	case kindBool:
		return "bool"
	case kindFloat:
		return "float8"
	default:
		return "unknown"
	}
}

// normalizeColumnType resolves a declared type name (or one of its
// aliases) from spec.md §4.6's coercion table to a columnKind.
func normalizeColumnType(declared string) (columnKind, error) {
	switch declared {
	case "int", "integer":
		return kindInt, nil
	case "text", "string", "varchar":
		return kindText, nil
	case "bool":
		return kindBool, nil
	case "float8", "float", "double":
		return kindFloat, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownColumnType, declared)
	}
}

// ColumnBuffer is a homogeneous, per-column array ready to be bound as a
// single UNNEST(...) parameter.
type ColumnBuffer struct {
	Kind  columnKind
	Int   []int32
	Text  []string
	Bool  []bool
	Float []float64
}

func newColumnBuffer(kind columnKind, n int) ColumnBuffer {
	buf := ColumnBuffer{Kind: kind}
	switch kind {
	case kindInt:
		buf.Int = make([]int32, 0, n)
	case kindText:
		buf.Text = make([]string, 0, n)
	case kindBool:
		buf.Bool = make([]bool, 0, n)
	case kindFloat:
		buf.Float = make([]float64, 0, n)
	}
	return buf
}

// Param returns the value to bind as the driver parameter for this
// column's UNNEST(...) array argument.
func (b ColumnBuffer) Param() interface{} {
	switch b.Kind {
	case kindInt:
		return b.Int
	case kindText:
		return b.Text
	case kindBool:
		return b.Bool
	case kindFloat:
		return b.Float
	default:
		return nil
	}
}

// coerceValue converts one JSON-decoded value (as produced by
// encoding/json: float64, string, bool, nil, map, slice) into the
// column's declared kind, per spec.md §4.6's coercion table. It appends
// the coerced value onto buf.
func coerceValue(buf *ColumnBuffer, columnName string, v interface{}) error {
	switch buf.Kind {
	case kindInt:
		n, ok := v.(float64)
		if !ok {
			return fmt.Errorf("%w: column %q expects an integer, got %T", ErrTypeMismatch, columnName, v)
		}
		buf.Int = append(buf.Int, int32(int64(n)))
	case kindText:
		switch val := v.(type) {
		case string:
			buf.Text = append(buf.Text, val)
		case float64:
			buf.Text = append(buf.Text, strconv.FormatFloat(val, 'f', -1, 64))
		default:
			return fmt.Errorf("%w: column %q expects a string or number, got %T", ErrTypeMismatch, columnName, v)
		}
	case kindBool:
		b, ok := v.(bool)
		if !ok {
			return fmt.Errorf("%w: column %q expects a boolean, got %T", ErrTypeMismatch, columnName, v)
		}
		buf.Bool = append(buf.Bool, b)
	case kindFloat:
		n, ok := v.(float64)
		if !ok {
			return fmt.Errorf("%w: column %q expects a number, got %T", ErrTypeMismatch, columnName, v)
		}
		buf.Float = append(buf.Float, n)
	default:
		return fmt.Errorf("%w: column %q", ErrUnknownColumnType, columnName)
	}
	return nil
}
