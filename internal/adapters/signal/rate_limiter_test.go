package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestChatRateLimiterCapsPerUser(t *testing.T) {
	rl := NewChatRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("u1"))
	}
	assert.False(t, rl.Allow("u1"))
	assert.True(t, rl.Allow("u2"), "limits are per user")
}

func TestChatRateLimiterWindowSlides(t *testing.T) {
	rl := NewChatRateLimiter(2, 30*time.Millisecond)

	assert.True(t, rl.Allow("u1"))
	assert.True(t, rl.Allow("u1"))
	assert.False(t, rl.Allow("u1"))

	time.Sleep(40 * time.Millisecond)
	assert.True(t, rl.Allow("u1"))
}
