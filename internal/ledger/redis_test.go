//go:build integration

package ledger

import (
	"context"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisTestClient(t *testing.T) *goredis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("redis not available at %s: %v", addr, err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func newRedisTestLedger(t *testing.T, client *goredis.Client) *RedisLedger {
	t.Helper()
	// Unique prefix per test to avoid collisions between runs.
	prefix := "test:" + t.Name() + ":"
	l := NewRedisLedger(client, WithKeyPrefix(prefix))
	t.Cleanup(func() {
		ctx := context.Background()
		iter := client.Scan(ctx, 0, prefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
	})
	return l
}

func TestRedisLedgerTryAdmit(t *testing.T) {
	client := newRedisTestClient(t)
	l := newRedisTestLedger(t, client)
	ctx := context.Background()

	adm, err := l.TryAdmit(ctx, "device-a", "lisboa", 2)
	require.NoError(t, err)
	assert.True(t, adm.Admitted)
	assert.ElementsMatch(t, []string{"lisboa"}, adm.Cities)
	assert.Equal(t, 1, adm.Remaining)
	assert.Greater(t, adm.ResetSeconds, 0)

	adm, err = l.TryAdmit(ctx, "device-a", "porto", 2)
	require.NoError(t, err)
	assert.True(t, adm.Admitted)
	assert.Equal(t, 0, adm.Remaining)

	adm, err = l.TryAdmit(ctx, "device-a", "faro", 2)
	require.NoError(t, err)
	assert.False(t, adm.Admitted)
	assert.ElementsMatch(t, []string{"lisboa", "porto"}, adm.Cities)

	// Repeat city is always admitted without growing the set.
	adm, err = l.TryAdmit(ctx, "device-a", "lisboa", 2)
	require.NoError(t, err)
	assert.True(t, adm.Admitted)
	assert.Len(t, adm.Cities, 2)
}

func TestRedisLedgerSetExpiry(t *testing.T) {
	client := newRedisTestClient(t)
	l := newRedisTestLedger(t, client)
	ctx := context.Background()

	adm, err := l.TryAdmit(ctx, "device-a", "lisboa", 2)
	require.NoError(t, err)

	ttl, err := client.TTL(ctx, l.keyPrefix+"device-a").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, 24*time.Hour)
	assert.InDelta(t, adm.ResetSeconds, int(ttl.Seconds()), 2)
}

func TestRedisLedgerConcurrentAdmissions(t *testing.T) {
	client := newRedisTestClient(t)
	l := newRedisTestLedger(t, client)
	ctx := context.Background()

	cities := []string{"lisboa", "porto", "faro", "aveiro", "braga", "evora"}
	results := make(chan bool, len(cities)*4)
	for i := 0; i < len(cities)*4; i++ {
		go func(i int) {
			adm, err := l.TryAdmit(ctx, "device-a", cities[i%len(cities)], 2)
			if err != nil {
				results <- false
				return
			}
			results <- adm.Admitted
		}(i)
	}
	for i := 0; i < len(cities)*4; i++ {
		<-results
	}

	count, err := client.SCard(ctx, l.keyPrefix+"device-a").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}
