package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManualAdvance(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewManual(start)

	assert.Equal(t, start, c.Now())
	assert.Equal(t, start.Add(5*time.Second), c.Advance(5*time.Second))
	assert.Equal(t, start.Add(5*time.Second), c.Now())

	c.Set(start)
	assert.Equal(t, start, c.Now())
}

func TestOrReal(t *testing.T) {
	assert.NotNil(t, OrReal(nil))
	m := NewManual(time.Unix(0, 0))
	assert.Same(t, m, OrReal(m))

	before := time.Now()
	got := Real().Now()
	assert.False(t, got.Before(before))
}
