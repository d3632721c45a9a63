package kafka

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffWithJitterBounds(t *testing.T) {
	testData := map[string]struct {
		attempt int
		max     time.Duration
	}{
		"first":  {attempt: 1, max: 100 * time.Millisecond},
		"second": {attempt: 2, max: 200 * time.Millisecond},
		"capped": {attempt: 30, max: time.Second},
	}

	for name, td := range testData {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 20; i++ {
				d := backoffWithJitter(100*time.Millisecond, time.Second, td.attempt)
				assert.LessOrEqual(t, d, td.max)
				assert.Greater(t, d, td.max/2-time.Millisecond)
			}
		})
	}
}

func TestPermanent(t *testing.T) {
	base := errors.New("bad json")
	err := fmt.Errorf("handle: %w", Permanent(base))

	assert.True(t, IsPermanent(err))
	assert.ErrorIs(t, err, base)
	assert.False(t, IsPermanent(base))
	assert.Nil(t, Permanent(nil))
}

func TestPartitionLockIsStable(t *testing.T) {
	c := &Consumer{partLocks: map[string]*sync.Mutex{}}
	a := c.partitionLock("fares", 1)
	b := c.partitionLock("fares", 1)
	other := c.partitionLock("fares", 2)
	assert.Same(t, a, b)
	assert.NotSame(t, a, other)
}
