package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCache_SetGet(t *testing.T) {
	t.Parallel()
	c := New(true)

	etag := c.Set("stats", []byte(`{"total":1}`), time.Minute)
	data, got, ok := c.Get("stats")
	assert.True(t, ok)
	assert.Equal(t, `{"total":1}`, string(data))
	assert.Equal(t, etag, got)
	assert.Equal(t, ComputeETag([]byte(`{"total":1}`)), etag)

	_, _, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestCache_Expiry(t *testing.T) {
	t.Parallel()
	c := New(true)
	c.Set("short", []byte("x"), time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	_, _, ok := c.Get("short")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Stats()["expired_keys"])
}

func TestCache_Flush(t *testing.T) {
	t.Parallel()
	c := New(true)
	c.Set("a", []byte("1"), time.Minute)
	c.Set("b", []byte("2"), time.Minute)
	c.Flush()

	_, _, ok := c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Stats()["total_keys"])
}

func TestCache_Disabled(t *testing.T) {
	t.Parallel()
	c := New(false)
	etag := c.Set("a", []byte("1"), time.Minute)
	assert.NotEmpty(t, etag, "etag is computed even when caching is off")

	_, _, ok := c.Get("a")
	assert.False(t, ok)
	c.Flush()
	assert.Equal(t, map[string]any{"enabled": false}, c.Stats())
}

func TestCheckETagMatch(t *testing.T) {
	t.Parallel()
	etag := `W/"abc"`
	tests := []struct {
		header string
		want   bool
	}{
		{"", false},
		{"*", true},
		{`W/"abc"`, true},
		{`W/"zzz", W/"abc"`, true},
		{`W/"zzz"`, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CheckETagMatch(tt.header, etag), tt.header)
	}
}
