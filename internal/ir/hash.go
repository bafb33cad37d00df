package ir

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Domain prefixes for hashed identities. The version suffix allows the
// fingerprint algorithm to change without colliding with stored hashes.
const (
	DomainRequest = "tenantcore/request/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data). The null separator
// removes domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Fingerprint is everything that makes two write requests "the same request"
// for idempotency purposes.
type Fingerprint struct {
	Method   string
	Path     string
	Body     []byte
	TenantID string
	UserID   string
}

// RequestHash computes the idempotency request hash.
//
// The method is upper-cased. A JSON body is canonicalized first, so key order,
// whitespace and number spelling do not change the hash. A body that is not
// JSON is hashed as raw bytes under a different key, so it can never collide
// with a JSON body. An empty body contributes nothing.
func RequestHash(f Fingerprint) (string, error) {
	obj := IRObject{
		"method":    IRString(strings.ToUpper(strings.TrimSpace(f.Method))),
		"path":      IRString(f.Path),
		"tenant_id": IRString(f.TenantID),
		"user_id":   IRString(f.UserID),
	}

	body := bytes.TrimSpace(f.Body)
	if len(body) > 0 {
		if parsed, err := ParseJSON(body); err == nil {
			obj["body"] = parsed
		} else {
			obj["body_raw"] = IRString(hex.EncodeToString(f.Body))
		}
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("request hash: %w", err)
	}
	return hashWithDomain(DomainRequest, canonical), nil
}

// MustRequestHash is like RequestHash but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustRequestHash(f Fingerprint) string {
	h, err := RequestHash(f)
	if err != nil {
		panic(err)
	}
	return h
}
