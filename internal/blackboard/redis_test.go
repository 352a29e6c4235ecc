package blackboard_test

import (
	"context"
	"testing"

	"Solar/internal/blackboard"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisBoard(t *testing.T, opts ...blackboard.RedisOption) (*blackboard.RedisBoard, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return blackboard.NewRedisFromClient(client, opts...), mr
}

func TestRedisBoard_SetGet(t *testing.T) {
	ctx := context.Background()
	board, _ := newRedisBoard(t)

	require.NoError(t, board.Set(ctx, "docked", true))
	require.NoError(t, board.Set(ctx, "battery_level", 42))

	v, ok, err := board.Get(ctx, "docked")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, true, v)

	// JSON round trip turns numbers into float64.
	v, ok, err = board.Get(ctx, "battery_level")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, float64(42), v)
}

func TestRedisBoard_MissingKey(t *testing.T) {
	board, _ := newRedisBoard(t)

	v, ok, err := board.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, v)
}

func TestRedisBoard_PrefixAndSnapshot(t *testing.T) {
	ctx := context.Background()
	board, mr := newRedisBoard(t, blackboard.WithPrefix("solar:"))
	assert.Equal(t, "solar:blackboard", board.Key())

	require.NoError(t, board.Set(ctx, "mode", "patrol"))
	assert.Equal(t, `"patrol"`, mr.HGet("solar:blackboard", "mode"))

	// Foreign writers may put garbage in the hash; it is skipped.
	mr.HSet("solar:blackboard", "broken", "{not json")

	snap, err := board.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"mode": "patrol"}, snap)

	require.NoError(t, board.Delete(ctx, "mode"))
	_, ok, err := board.Get(ctx, "mode")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisBoard_ConnectionError(t *testing.T) {
	board, mr := newRedisBoard(t)
	mr.Close()

	_, ok, err := board.Get(context.Background(), "mode")
	assert.Error(t, err)
	assert.False(t, ok)
	assert.Error(t, board.Ping(context.Background()))
}
