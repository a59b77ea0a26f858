package auth

import (
	"context"
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashVerifyRoundTrip(t *testing.T) {
	salt := make([]byte, 16)
	_, err := rand.Read(salt)
	require.NoError(t, err)

	p := DefaultParams()
	encoded := Hash("hunter2", salt, p)

	assert.True(t, verify("hunter2", encoded))
	assert.False(t, verify("wrong", encoded))
}

func TestPoolVerifyPassword(t *testing.T) {
	salt := make([]byte, 16)
	_, _ = rand.Read(salt)
	encoded := Hash("correct-horse", salt, DefaultParams())

	pool := NewPool(2, 4)
	defer pool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, pool.VerifyPassword(ctx, "correct-horse", encoded))
	assert.ErrorIs(t, pool.VerifyPassword(ctx, "wrong", encoded), ErrBadPassword)
}

func TestPoolConcurrentLogins(t *testing.T) {
	salt := make([]byte, 16)
	_, _ = rand.Read(salt)
	encoded := Hash("concurrent-pw", salt, DefaultParams())

	pool := NewPool(8, 128)
	defer pool.Close()

	const n = 50
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			results <- pool.VerifyPassword(ctx, "concurrent-pw", encoded)
		}()
	}
	ok := 0
	for i := 0; i < n; i++ {
		if err := <-results; err == nil {
			ok++
		}
	}
	assert.GreaterOrEqual(t, ok, n-1)
}
