package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseFingerprint() Fingerprint {
	return Fingerprint{
		Method:   "POST",
		Path:     "/v1/documents",
		Body:     []byte(`{"title":"a","tags":["x","y"]}`),
		TenantID: "tenant-a",
		UserID:   "user-1",
	}
}

func TestRequestHashDeterminism(t *testing.T) {
	h1, err := RequestHash(baseFingerprint())
	require.NoError(t, err)
	h2, err := RequestHash(baseFingerprint())
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestRequestHashIgnoresJSONFormatting(t *testing.T) {
	f := baseFingerprint()
	f.Body = []byte("{\n  \"tags\": [\"x\", \"y\"],\n  \"title\": \"a\"\n}\n")

	assert.Equal(t, MustRequestHash(baseFingerprint()), MustRequestHash(f))
}

func TestRequestHashMethodCaseInsensitive(t *testing.T) {
	f := baseFingerprint()
	f.Method = "post"

	assert.Equal(t, MustRequestHash(baseFingerprint()), MustRequestHash(f))
}

func TestRequestHashChangesWithInput(t *testing.T) {
	base := MustRequestHash(baseFingerprint())

	tests := []struct {
		name   string
		mutate func(*Fingerprint)
	}{
		{"method", func(f *Fingerprint) { f.Method = "PUT" }},
		{"path", func(f *Fingerprint) { f.Path = "/v1/documents/1" }},
		{"body", func(f *Fingerprint) { f.Body = []byte(`{"title":"b","tags":["x","y"]}`) }},
		{"array order", func(f *Fingerprint) { f.Body = []byte(`{"title":"a","tags":["y","x"]}`) }},
		{"tenant", func(f *Fingerprint) { f.TenantID = "tenant-b" }},
		{"user", func(f *Fingerprint) { f.UserID = "user-2" }},
		{"empty body", func(f *Fingerprint) { f.Body = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := baseFingerprint()
			tt.mutate(&f)
			assert.NotEqual(t, base, MustRequestHash(f))
		})
	}
}

func TestRequestHashRawBodyDistinctFromJSON(t *testing.T) {
	jsonBody := baseFingerprint()
	jsonBody.Body = []byte(`"abc"`)

	rawBody := baseFingerprint()
	rawBody.Body = []byte(`abc`)

	assert.NotEqual(t, MustRequestHash(jsonBody), MustRequestHash(rawBody))
}

func TestRequestHashEmptyAndWhitespaceBodyEqual(t *testing.T) {
	empty := baseFingerprint()
	empty.Body = nil

	blank := baseFingerprint()
	blank.Body = []byte("  \n")

	assert.Equal(t, MustRequestHash(empty), MustRequestHash(blank))
}

func TestRequestHashMatchesDocumentedConstruction(t *testing.T) {
	f := Fingerprint{Method: "delete", Path: "/x", TenantID: "t", UserID: "u"}

	canonical := `{"method":"DELETE","path":"/x","tenant_id":"t","user_id":"u"}`
	sum := sha256.Sum256(append([]byte(DomainRequest+"\x00"), canonical...))

	assert.Equal(t, hex.EncodeToString(sum[:]), MustRequestHash(f))
}

func TestHashWithDomainNullSeparator(t *testing.T) {
	// "ab"+"c" and "a"+"bc" must differ once the separator is inserted.
	h1 := hashWithDomain("ab", []byte("c"))
	h2 := hashWithDomain("a", []byte("bc"))

	assert.NotEqual(t, h1, h2)
}

func TestDomainConstants(t *testing.T) {
	assert.Equal(t, "tenantcore/request/v1", DomainRequest)
}
