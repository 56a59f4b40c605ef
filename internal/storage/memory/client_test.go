package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetGetDelete(t *testing.T) {
	c := New()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "tok", "alice", time.Minute))
	userID, err := c.Get(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, "alice", userID)

	require.NoError(t, c.Delete(ctx, "tok"))
	userID, err = c.Get(ctx, "tok")
	require.NoError(t, err)
	assert.Empty(t, userID)
}

func TestUnknownTokenIsEmptyNotError(t *testing.T) {
	c := New()
	userID, err := c.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.Empty(t, userID)
}

func TestExpiredTokenIsEmpty(t *testing.T) {
	c := New()
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "tok", "alice", -time.Second))

	userID, err := c.Get(ctx, "tok")
	require.NoError(t, err)
	assert.Empty(t, userID)
}
