package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSendQFullVsClosed(t *testing.T) {
	q := NewSendQ(1)
	assert.Equal(t, TrySendOK, q.TrySend([]byte("a")))
	assert.Equal(t, TrySendFull, q.TrySend([]byte("b")))

	q2 := NewSendQ(1)
	q2.Close()
	assert.Equal(t, TrySendClosed, q2.TrySend([]byte("c")))
}

func TestFloodLimiterExemptAlwaysAllows(t *testing.T) {
	f := NewFloodLimiter(0, 0)
	for i := 0; i < 100; i++ {
		assert.True(t, f.Allow())
	}
}

func TestFloodLimiterStrikesToKill(t *testing.T) {
	f := NewFloodLimiter(2, 2)
	var killed bool
	for i := 0; i < 5 && !killed; i++ {
		_, killed = f.Strike(3)
	}
	assert.True(t, killed)
}
