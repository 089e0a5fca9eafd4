package lock

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestRedisLocker connects to CAMPUSGATE_TEST_REDIS_URL with a per-test key
// prefix. The test is skipped when the variable is unset.
func newTestRedisLocker(t *testing.T, ttl, wait time.Duration) *RedisLocker {
	t.Helper()

	url := strings.TrimSpace(os.Getenv("CAMPUSGATE_TEST_REDIS_URL"))
	if url == "" {
		t.Skip("CAMPUSGATE_TEST_REDIS_URL not set")
	}

	l, err := NewRedisLocker(context.Background(), RedisConfig{
		URL:    url,
		Prefix: "campusgate:test:" + uuid.NewString() + ":",
		TTL:    ttl,
		Wait:   wait,
		Poll:   5 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestRedisLocker_AcquireRelease(t *testing.T) {
	l := newTestRedisLocker(t, 5*time.Second, 50*time.Millisecond)
	ctx := context.Background()

	release, err := l.Acquire(ctx, "id-1")
	require.NoError(t, err)

	_, err = l.Acquire(ctx, "id-1")
	assert.ErrorIs(t, err, ErrContended)

	other, err := l.Acquire(ctx, "id-2")
	require.NoError(t, err, "different keys do not contend")
	other()

	release()
	again, err := l.Acquire(ctx, "id-1")
	require.NoError(t, err)
	again()
}

func TestRedisLocker_WaitsForRelease(t *testing.T) {
	l := newTestRedisLocker(t, 5*time.Second, 2*time.Second)
	ctx := context.Background()

	release, err := l.Acquire(ctx, "id-1")
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		release()
	}()

	start := time.Now()
	second, err := l.Acquire(ctx, "id-1")
	require.NoError(t, err)
	second()
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestRedisLocker_LeaseExpires(t *testing.T) {
	l := newTestRedisLocker(t, 100*time.Millisecond, 2*time.Second)
	ctx := context.Background()

	stale, err := l.Acquire(ctx, "id-1")
	require.NoError(t, err)

	// The first holder never releases; its lease lapses and a second holder
	// gets in.
	fresh, err := l.Acquire(ctx, "id-1")
	require.NoError(t, err)

	// A late release by the stale holder must not free the fresh lease.
	stale()
	exists, err := l.client.Exists(ctx, l.prefix+"id-1").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), exists)

	fresh()
	exists, err = l.client.Exists(ctx, l.prefix+"id-1").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), exists)
}

func TestRedisLocker_ContextCancelled(t *testing.T) {
	l := newTestRedisLocker(t, 5*time.Second, 2*time.Second)

	release, err := l.Acquire(context.Background(), "id-1")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = l.Acquire(ctx, "id-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrContended, "gives up on the context, not the wait budget")
	assert.Less(t, time.Since(start), time.Second)
}
