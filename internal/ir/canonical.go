package ir

import (
	"bytes"
	"fmt"
	"strconv"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// MarshalCanonical produces RFC 8785 style canonical JSON for hashing.
// This is the only serialization used for request fingerprints.
//
// Differences from encoding/json:
//  1. Object keys sorted by UTF-16 code units
//  2. No HTML escaping; only quote, backslash and control characters are escaped
//  3. Strings and keys are NFC normalized
//  4. Numbers use their shortest form (integers as decimal, others as IRNumber)
func MarshalCanonical(v any) ([]byte, error) {
	val, err := FromGo(v)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := writeCanonical(&buf, val); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// CanonicalizeJSON re-encodes a JSON document in canonical form, so two
// documents differing only in key order, whitespace or number spelling yield
// identical bytes.
func CanonicalizeJSON(data []byte) ([]byte, error) {
	val, err := ParseJSON(data)
	if err != nil {
		return nil, err
	}
	return MarshalCanonical(val)
}

func writeCanonical(buf *bytes.Buffer, v IRValue) error {
	switch val := v.(type) {
	case IRNull:
		buf.WriteString("null")
	case IRString:
		writeCanonicalString(buf, string(val))
	case IRInt:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
	case IRNumber:
		buf.WriteString(string(val))
	case IRBool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case IRArray:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, elem); err != nil {
				return fmt.Errorf("array[%d]: %w", i, err)
			}
		}
		buf.WriteByte(']')
	case IRObject:
		// NFC normalization can merge two distinct keys; that is a collision,
		// not something to resolve silently.
		normalized := make(IRObject, len(val))
		for k, elem := range val {
			nk := norm.NFC.String(k)
			if _, dup := normalized[nk]; dup {
				return fmt.Errorf("object keys collide after NFC normalization: %q", nk)
			}
			normalized[nk] = elem
		}
		buf.WriteByte('{')
		for i, k := range normalized.SortedKeys() {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeCanonicalString(buf, k)
			buf.WriteByte(':')
			if err := writeCanonical(buf, normalized[k]); err != nil {
				return fmt.Errorf("value for key %q: %w", k, err)
			}
		}
		buf.WriteByte('}')
	case nil:
		return fmt.Errorf("nil IRValue")
	default:
		return fmt.Errorf("unsupported type for canonical JSON: %T", v)
	}
	return nil
}

const hexDigits = "0123456789abcdef"

// writeCanonicalString writes s NFC normalized and quoted. Invalid UTF-8 is
// replaced with U+FFFD.
func writeCanonicalString(buf *bytes.Buffer, s string) {
	s = norm.NFC.String(s)
	buf.WriteByte('"')
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		i += size
		switch r {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			if r < 0x20 {
				buf.WriteString(`\u00`)
				buf.WriteByte(hexDigits[r>>4])
				buf.WriteByte(hexDigits[r&0xF])
				continue
			}
			buf.WriteRune(r)
		}
	}
	buf.WriteByte('"')
}
