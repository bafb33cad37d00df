package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"slices"
	"strconv"
	"unicode/utf16"
)

// IRValue is a sealed interface over the JSON value kinds the data layer
// hashes and filters on. Only the types in this file implement it.
type IRValue interface {
	irValue()
}

// IRNull is JSON null.
type IRNull struct{}

func (IRNull) irValue() {}

// IRString is a string value.
type IRString string

func (IRString) irValue() {}

// IRInt is an integer that fits in int64.
type IRInt int64

func (IRInt) irValue() {}

// IRNumber is a non-integer JSON number, kept as its shortest float64 text
// so that 1.50 and 1.5 compare equal. Integral values always decode to IRInt.
type IRNumber string

func (IRNumber) irValue() {}

// IRBool is a boolean value.
type IRBool bool

func (IRBool) irValue() {}

// IRArray is an ordered list of values.
type IRArray []IRValue

func (IRArray) irValue() {}

// IRObject maps string keys to values. Use SortedKeys for deterministic iteration.
type IRObject map[string]IRValue

func (IRObject) irValue() {}

// SortedKeys returns keys in RFC 8785 order (UTF-16 code units, not UTF-8 bytes).
func (obj IRObject) SortedKeys() []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeysRFC8785)
	return keys
}

func compareKeysRFC8785(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))
	return slices.Compare(a16, b16)
}

// ParseJSON decodes one JSON document into an IRValue. Integers become IRInt,
// other numbers IRNumber, null IRNull. Trailing data after the document is an
// error.
func ParseJSON(data []byte) (IRValue, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("parse json: unexpected data after top-level value")
	}
	return FromGo(raw)
}

// FromGo converts decoded JSON or YAML values (and plain Go scalars) into an
// IRValue.
func FromGo(v any) (IRValue, error) {
	switch val := v.(type) {
	case nil:
		return IRNull{}, nil
	case IRValue:
		return val, nil
	case string:
		return IRString(val), nil
	case bool:
		return IRBool(val), nil
	case int:
		return IRInt(val), nil
	case int32:
		return IRInt(val), nil
	case int64:
		return IRInt(val), nil
	case uint64:
		if val > uint64(1<<63-1) {
			return nil, fmt.Errorf("number out of int64 range: %d", val)
		}
		return IRInt(val), nil
	case float64:
		return numberFromFloat(val), nil
	case json.Number:
		return numberFromLiteral(val)
	case []any:
		arr := make(IRArray, len(val))
		for i, elem := range val {
			irElem, err := FromGo(elem)
			if err != nil {
				return nil, fmt.Errorf("array[%d]: %w", i, err)
			}
			arr[i] = irElem
		}
		return arr, nil
	case map[string]any:
		obj := make(IRObject, len(val))
		for k, elem := range val {
			irElem, err := FromGo(elem)
			if err != nil {
				return nil, fmt.Errorf("object[%q]: %w", k, err)
			}
			obj[k] = irElem
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

func numberFromLiteral(n json.Number) (IRValue, error) {
	if i, err := n.Int64(); err == nil {
		return IRInt(i), nil
	}
	f, err := n.Float64()
	if err != nil {
		return nil, fmt.Errorf("invalid number %q: %w", n, err)
	}
	return numberFromFloat(f), nil
}

func numberFromFloat(f float64) IRValue {
	if f >= -9.223372036854775e18 && f <= 9.223372036854775e18 && f == math.Trunc(f) {
		return IRInt(int64(f))
	}
	return IRNumber(strconv.FormatFloat(f, 'g', -1, 64))
}

// ToParam converts a scalar IRValue into a database/sql argument.
func ToParam(v IRValue) (any, error) {
	switch val := v.(type) {
	case IRString:
		return string(val), nil
	case IRInt:
		return int64(val), nil
	case IRBool:
		return bool(val), nil
	case IRNumber:
		f, err := strconv.ParseFloat(string(val), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q: %w", val, err)
		}
		return f, nil
	case IRNull:
		return nil, nil
	case IRArray:
		return nil, fmt.Errorf("IRArray cannot be used as SQL parameter directly")
	case IRObject:
		return nil, fmt.Errorf("IRObject cannot be used as SQL parameter directly")
	default:
		return nil, fmt.Errorf("unsupported IRValue type for SQL parameter: %T", v)
	}
}
