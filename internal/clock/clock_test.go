package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSystemNow(t *testing.T) {
	now := System{}.Now()

	assert.Equal(t, time.UTC, now.Location())
	assert.Equal(t, 0, now.Nanosecond()%1000)
	assert.WithinDuration(t, time.Now(), now, time.Second)
}

func TestFunc(t *testing.T) {
	fixed := time.Date(2024, 5, 6, 7, 8, 9, 123456789, time.FixedZone("X", 3600))

	got := Func(func() time.Time { return fixed }).Now()

	assert.Equal(t, time.Date(2024, 5, 6, 6, 8, 9, 123456000, time.UTC), got)
}

func TestMicrosRoundTrip(t *testing.T) {
	ts := Normalize(time.Date(2024, 1, 2, 3, 4, 5, 678901234, time.UTC))

	assert.Equal(t, ts, FromMicros(ts.UnixMicro()))
}
