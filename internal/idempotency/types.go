package idempotency

import (
	"fmt"
	"net/textproto"
	"sort"
	"strings"
	"time"
)

// Status is the state of an idempotency record.
type Status string

const (
	StatusReserved  Status = "reserved"
	StatusCompleted Status = "completed"
)

// TruncationMarker ends every stored body that was cut to fit
// Config.MaxResponseBytes.
const TruncationMarker = "\n...[truncated]"

// MaxKeyLen bounds the caller-supplied key, in bytes.
const MaxKeyLen = 255

// Key identifies one idempotency record.
type Key struct {
	TenantID string
	UserID   string
	Name     string
}

func (k Key) String() string {
	return k.TenantID + "/" + k.UserID + "/" + k.Name
}

// Request is a write request guarded by an idempotency key.
type Request struct {
	TenantID string
	UserID   string
	Key      string
	Method   string
	Path     string
	Body     []byte
}

// ID returns the record key of the request.
func (r Request) ID() Key {
	return Key{TenantID: r.TenantID, UserID: r.UserID, Name: r.Key}
}

// Response is what a completed request returned, as stored for replay.
type Response struct {
	StatusCode int
	// Headers are keyed by canonical MIME header name, with sensitive
	// headers removed.
	Headers map[string]string
	Body    []byte
	// Truncated reports that Body was cut and ends with TruncationMarker.
	Truncated bool
}

// Reservation is the outcome of TryReserve.
//
// Owned means the caller holds the key and must run the operation, then call
// Complete or Release. Otherwise Replay holds the stored response.
type Reservation struct {
	Key         Key
	Owned       bool
	Replay      *Response
	Token       string
	RequestHash string
	// TookOver reports that the key was claimed from a reservation whose
	// lease had expired.
	TookOver bool
}

// Record is a stored idempotency row.
type Record struct {
	Key         Key
	Method      string
	Path        string
	RequestHash string
	Status      Status
	// Response is nil while the record is reserved.
	Response    *Response
	OwnerToken  string
	LockedUntil time.Time
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// Config tunes a Coordinator.
type Config struct {
	// TTL is how long a completed response is replayed. Also the upper bound
	// on a reservation nobody completes.
	TTL time.Duration
	// Lease is how long a reservation is protected from takeover. Zero
	// disables takeover.
	Lease time.Duration
	// MaxResponseBytes caps the stored body, marker included.
	MaxResponseBytes int
	// RedactHeaders are extra header names never stored, in addition to
	// DefaultRedactHeaders.
	RedactHeaders []string
}

// DefaultRedactHeaders are never persisted.
var DefaultRedactHeaders = []string{
	"Authorization",
	"Proxy-Authorization",
	"Cookie",
	"Set-Cookie",
	"X-Api-Key",
	"X-Auth-Token",
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		TTL:              24 * time.Hour,
		Lease:            30 * time.Second,
		MaxResponseBytes: 1 << 20,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.TTL <= 0 {
		return fmt.Errorf("idempotency ttl must be positive, got %s", c.TTL)
	}
	if c.Lease < 0 {
		return fmt.Errorf("idempotency lease must not be negative, got %s", c.Lease)
	}
	if c.MaxResponseBytes <= len(TruncationMarker) {
		return fmt.Errorf("idempotency max_response_bytes must exceed %d, got %d", len(TruncationMarker), c.MaxResponseBytes)
	}
	return nil
}

// truncate cuts body to max bytes, marker included.
func truncate(body []byte, max int) ([]byte, bool) {
	if len(body) <= max {
		return body, false
	}
	out := make([]byte, 0, max)
	out = append(out, body[:max-len(TruncationMarker)]...)
	out = append(out, TruncationMarker...)
	return out, true
}

func redactSet(extra []string) map[string]bool {
	set := make(map[string]bool, len(DefaultRedactHeaders)+len(extra))
	for _, h := range DefaultRedactHeaders {
		set[textproto.CanonicalMIMEHeaderKey(h)] = true
	}
	for _, h := range extra {
		set[textproto.CanonicalMIMEHeaderKey(strings.TrimSpace(h))] = true
	}
	return set
}

// filterHeaders canonicalizes names and drops redacted ones. Names that
// collide after canonicalization are joined with ", " in input-key order.
func filterHeaders(in map[string]string, redact map[string]bool) map[string]string {
	if len(in) == 0 {
		return nil
	}
	keys := make([]string, 0, len(in))
	for k := range in {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]string, len(in))
	for _, k := range keys {
		name := textproto.CanonicalMIMEHeaderKey(strings.TrimSpace(k))
		if name == "" || redact[name] {
			continue
		}
		if prev, ok := out[name]; ok {
			out[name] = prev + ", " + in[k]
			continue
		}
		out[name] = in[k]
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
