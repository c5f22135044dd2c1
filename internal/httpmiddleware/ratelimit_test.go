package httpmiddleware

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenBucketExhaustion(t *testing.T) {
	l := NewTokenBucket(3, 60)

	for i := 0; i < 3; i++ {
		assert.True(t, l.allow("10.0.0.1"), "request %d", i)
	}
	assert.False(t, l.allow("10.0.0.1"))

	// other clients have their own bucket
	assert.True(t, l.allow("10.0.0.2"))
}

func TestTokenBucketDefaultsCapacity(t *testing.T) {
	l := NewTokenBucket(0, 2)
	assert.True(t, l.allow("kiosk"))
	assert.True(t, l.allow("kiosk"))
	assert.False(t, l.allow("kiosk"))
}
