// Package cursor encodes keyset pagination positions as opaque tokens.
//
// A token is the unpadded base64url encoding of "<unix-microseconds>:<id>".
// Clients must treat it as opaque; only Decode interprets it, and Decode
// validates every part before a value can reach a query.
package cursor

import (
	"encoding/base64"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/roach88/tenantcore/internal/errs"
)

const (
	// MaxTokenLen bounds the encoded token.
	MaxTokenLen = 1024
	// MaxIDLen bounds the id part, in bytes.
	MaxIDLen = 255
)

// Position is the sort key of the last row of a page.
type Position struct {
	CreatedAt time.Time
	ID        string
}

// Micros returns CreatedAt as unix microseconds, the stored representation.
func (p Position) Micros() int64 {
	return p.CreatedAt.UnixMicro()
}

// Encode returns the token for (createdAt, id). Encoding is deterministic:
// the same position always yields the same token. Sub-microsecond precision
// is dropped.
func Encode(createdAt time.Time, id string) string {
	raw := strconv.FormatInt(createdAt.UnixMicro(), 10) + ":" + id
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// EncodePosition is Encode for a Position.
func EncodePosition(p Position) string {
	return Encode(p.CreatedAt, p.ID)
}

// Decode parses a token produced by Encode. Any malformed token yields an
// INVALID_CURSOR error whose reason names the failed check.
func Decode(token string) (Position, error) {
	if token == "" {
		return Position{}, errs.InvalidCursor("empty", nil)
	}
	if len(token) > MaxTokenLen {
		return Position{}, errs.InvalidCursor("too_long", nil)
	}

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Position{}, errs.InvalidCursor("bad_encoding", err)
	}
	// The decoder skips newlines and tolerates stray trailing bits.
	if base64.RawURLEncoding.EncodeToString(raw) != token {
		return Position{}, errs.InvalidCursor("bad_encoding", nil)
	}

	ts, id, ok := strings.Cut(string(raw), ":")
	if !ok {
		return Position{}, errs.InvalidCursor("missing_separator", nil)
	}

	micros, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return Position{}, errs.InvalidCursor("bad_timestamp", err)
	}
	// Reject "+5", "007" and similar so each position has exactly one token.
	if strconv.FormatInt(micros, 10) != ts {
		return Position{}, errs.InvalidCursor("bad_timestamp", nil)
	}

	if err := validateID(id); err != nil {
		return Position{}, err
	}

	return Position{CreatedAt: time.UnixMicro(micros).UTC(), ID: id}, nil
}

func validateID(id string) error {
	switch {
	case id == "":
		return errs.InvalidCursor("empty_id", nil)
	case len(id) > MaxIDLen:
		return errs.InvalidCursor("id_too_long", nil)
	case !utf8.ValidString(id):
		return errs.InvalidCursor("id_not_utf8", nil)
	}
	for _, r := range id {
		if unicode.IsControl(r) {
			return errs.InvalidCursor("id_control_char", nil)
		}
	}
	return nil
}
