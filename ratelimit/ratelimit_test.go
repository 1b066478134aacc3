package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLimiterBurstThenReject(t *testing.T) {
	l := NewLimiter(0.0001, 5, 3)

	for i := 0; i < 5; i++ {
		ok, exhausted := l.Allow()
		assert.True(t, ok, "frame %d within burst", i)
		assert.False(t, exhausted)
	}

	ok, exhausted := l.Allow()
	assert.False(t, ok)
	assert.False(t, exhausted)
	_, _ = l.Allow()
	ok, exhausted = l.Allow()
	assert.False(t, ok)
	assert.True(t, exhausted)
	assert.Equal(t, 3, l.Violations())
}

func TestLimiterWithoutViolationCap(t *testing.T) {
	l := NewLimiter(0.0001, 1, 0)
	l.Allow()
	for i := 0; i < 10; i++ {
		_, exhausted := l.Allow()
		assert.False(t, exhausted)
	}
}
