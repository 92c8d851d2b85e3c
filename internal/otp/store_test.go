package otp

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestStore() (*Store, *MemoryCache, *fakeClock) {
	clock := newFakeClock()
	cache := NewMemoryCache()
	cache.now = clock.Now
	s := NewStore(cache)
	s.now = clock.Now
	return s, cache, clock
}

func TestGenerateCode(t *testing.T) {
	for i := 0; i < 1000; i++ {
		code, err := GenerateCode()
		require.NoError(t, err)
		require.Len(t, code, 6)
		n, err := strconv.Atoi(code)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, 100000)
		assert.LessOrEqual(t, n, 999999)
	}
}

func TestStore_putThenVerify(t *testing.T) {
	s, _, _ := newTestStore()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "a@example.com", "123456"))
	ok, err := s.Verify(ctx, "a@example.com", "123456")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Verify(ctx, "a@example.com", "123456")
	require.NoError(t, err)
	assert.False(t, ok, "a code verifies at most once")
}

func TestStore_unknownEmail(t *testing.T) {
	s, _, _ := newTestStore()
	ok, err := s.Verify(context.Background(), "nobody@example.com", "123456")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_putOverwrites(t *testing.T) {
	s, _, _ := newTestStore()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "a@example.com", "111111"))
	ok, _ := s.Verify(ctx, "a@example.com", "000000")
	assert.False(t, ok)
	attempts, err := s.Attempts(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)

	require.NoError(t, s.Put(ctx, "a@example.com", "222222"))
	attempts, _ = s.Attempts(ctx, "a@example.com")
	assert.Equal(t, 0, attempts, "put resets attempts")

	ok, _ = s.Verify(ctx, "a@example.com", "111111")
	assert.False(t, ok, "old code is gone")
	ok, _ = s.Verify(ctx, "a@example.com", "222222")
	assert.True(t, ok)
}

func TestStore_expiry(t *testing.T) {
	s, _, clock := newTestStore()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "a@example.com", "123456"))
	clock.Advance(CodeTTL)
	ok, err := s.Verify(ctx, "a@example.com", "123456")
	require.NoError(t, err)
	assert.True(t, ok, "valid up to and including the expiry instant")

	require.NoError(t, s.Put(ctx, "a@example.com", "123456"))
	clock.Advance(CodeTTL + time.Second)
	ok, err = s.Verify(ctx, "a@example.com", "123456")
	require.NoError(t, err)
	assert.False(t, ok)

	attempts, err := s.Attempts(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, 0, attempts)
}

func TestStore_lockout(t *testing.T) {
	s, _, _ := newTestStore()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "a@example.com", "123456"))

	for i := 1; i <= MaxAttempts; i++ {
		ok, err := s.Verify(ctx, "a@example.com", "000000")
		require.NoError(t, err)
		assert.False(t, ok)
		attempts, _ := s.Attempts(ctx, "a@example.com")
		assert.Equal(t, i, attempts)
	}

	// the next call deletes the record, even with the right code
	ok, err := s.Verify(ctx, "a@example.com", "123456")
	require.NoError(t, err)
	assert.False(t, ok)

	attempts, _ := s.Attempts(ctx, "a@example.com")
	assert.Equal(t, 0, attempts, "record is gone")
	ok, _ = s.Verify(ctx, "a@example.com", "123456")
	assert.False(t, ok)
}

func TestStore_correctOnFifthAttempt(t *testing.T) {
	s, _, _ := newTestStore()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "a@example.com", "123456"))

	for i := 0; i < MaxAttempts-1; i++ {
		ok, _ := s.Verify(ctx, "a@example.com", "000000")
		assert.False(t, ok)
	}
	ok, err := s.Verify(ctx, "a@example.com", "123456")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStore_emailIsNormalised(t *testing.T) {
	s, _, _ := newTestStore()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, " Alice@Example.com", "123456"))
	ok, err := s.Verify(ctx, "alice@example.com", "123456")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStore_concurrentVerifySucceedsOnce(t *testing.T) {
	s, _, _ := newTestStore()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "a@example.com", "123456"))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := s.Verify(ctx, "a@example.com", "123456"); ok {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, successes)
}

type failingCache struct{ MemoryCache }

func (*failingCache) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("backend down")
}

func TestStore_backendFailureIsAnError(t *testing.T) {
	s := NewStore(&failingCache{})
	ok, err := s.Verify(context.Background(), "a@example.com", "123456")
	assert.False(t, ok)
	assert.Error(t, err)
}
