package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_TTL(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	m := NewMemory(0, 0)
	m.now = func() time.Time { return now }
	defer m.Close()

	require.NoError(t, m.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, m.Set(ctx, "b", []byte("2"), 0))

	v, err := m.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), v)

	now = now.Add(time.Minute)
	_, err = m.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrMiss)

	v, err = m.Get(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), v)
}

func TestMemory_Sweep(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	m := NewMemory(0, 0)
	m.now = func() time.Time { return now }

	require.NoError(t, m.Set(ctx, "short", []byte("x"), time.Second))
	require.NoError(t, m.Set(ctx, "long", []byte("y"), time.Hour))

	now = now.Add(2 * time.Second)
	m.sweep()
	assert.Equal(t, 1, m.Len())
}

func TestMemory_Evicts(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(0, 2)

	require.NoError(t, m.Set(ctx, "a", []byte("1"), 0))
	require.NoError(t, m.Set(ctx, "b", []byte("2"), 0))
	require.NoError(t, m.Set(ctx, "c", []byte("3"), 0))

	_, err := m.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrMiss)
	assert.Equal(t, 2, m.Len())
}

func TestMemory_ExpiredKeyReinsertedAsNewest(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	m := NewMemory(0, 2)
	m.now = func() time.Time { return now }

	require.NoError(t, m.Set(ctx, "a", []byte("old"), time.Second))
	require.NoError(t, m.Set(ctx, "b", []byte("2"), 0))

	now = now.Add(2 * time.Second)
	_, err := m.Get(ctx, "a")
	require.ErrorIs(t, err, ErrMiss)

	require.NoError(t, m.Set(ctx, "a", []byte("fresh"), time.Hour))
	require.NoError(t, m.Set(ctx, "c", []byte("3"), 0))

	assert.Equal(t, []string{"a", "c"}, m.order)

	v, err := m.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("fresh"), v)

	_, err = m.Get(ctx, "b")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestRedis(t *testing.T) {
	ctx := context.Background()
	srv := miniredis.RunT(t)

	c, err := NewRedis(srv.Addr(), "", 0)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, SetJSON(ctx, c, "player", map[string]int64{"account_id": 42}, time.Minute))
	got, err := GetJSON[map[string]int64](ctx, c, "player")
	require.NoError(t, err)
	assert.Equal(t, int64(42), (*got)["account_id"])
	assert.True(t, srv.Exists(keyPrefix+"player"))

	srv.FastForward(2 * time.Minute)
	_, err = c.Get(ctx, "player")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestKey(t *testing.T) {
	a := Key("top", map[string]any{"limit": 10, "parameter": "wins"})
	b := Key("top", map[string]any{"parameter": "wins", "limit": 10})
	c := Key("top", map[string]any{"parameter": "damage", "limit": 10})

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Contains(t, a, "top:")
}
