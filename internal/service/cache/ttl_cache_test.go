package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTTLCache(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	c := NewTTLCacheWithClock(func() time.Time { return now })

	c.Set("model:MNL-CEB:3", "m3", time.Minute)
	c.Set("model:MNL-CEB:2", "m2", 0)
	c.Set("model:MNL-DVO:1", "d1", time.Hour)

	v, ok := c.Get("model:MNL-CEB:3")
	assert.True(t, ok)
	assert.Equal(t, "m3", v)

	now = now.Add(2 * time.Minute)
	_, ok = c.Get("model:MNL-CEB:3")
	assert.False(t, ok)
	_, ok = c.Get("model:MNL-CEB:2")
	assert.True(t, ok)

	assert.Equal(t, 1, c.DeletePrefix("model:MNL-CEB:"))
	assert.Equal(t, 1, c.Len())

	c.Delete("model:MNL-DVO:1")
	assert.Equal(t, 0, c.Len())
}
