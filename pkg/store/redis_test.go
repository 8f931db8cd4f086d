package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xroute/pkg/types"
)

func newRedisStore(t *testing.T, opts ...RedisOption) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	s := NewRedisStoreFromClient(client, opts...)
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func TestRedisStoreContract(t *testing.T) {
	s, _ := newRedisStore(t)
	runStoreContract(t, s)
}

func TestRedisStoreKeys(t *testing.T) {
	s, mr := newRedisStore(t, WithPrefix("test:"))
	require.NoError(t, s.Save(context.Background(), testRoute("r1", time.Now(), types.StatusPending)))

	assert.True(t, mr.Exists("test:r1"))
	members, err := mr.ZMembers("test:index")
	require.NoError(t, err)
	assert.Equal(t, []string{"r1"}, members)
}

func TestRedisStoreExpiredRoutesDisappear(t *testing.T) {
	s, mr := newRedisStore(t, WithTTL(time.Minute))
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, testRoute("r1", time.Now(), types.StatusPending)))

	mr.FastForward(2 * time.Minute)

	_, err := s.Load(ctx, "r1")
	assert.ErrorIs(t, err, ErrNotFound)
	routes, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, routes)
}
