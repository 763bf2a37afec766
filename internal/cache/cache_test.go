package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cvFields struct {
	CVText    string   `json:"cvText"`
	JobSkills []string `json:"jobSkills"`
}

type analysis struct {
	Score  int      `json:"score"`
	Skills []string `json:"skills"`
}

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, "cache:", zerolog.Nop()), mr, client
}

func TestKeyIsDeterministic(t *testing.T) {
	c, _, _ := newTestCache(t)

	a := c.Key("cv-analysis", cvFields{CVText: "Go engineer", JobSkills: Unordered([]string{"Go", "Redis", "SQL"})})
	b := c.Key("cv-analysis", cvFields{CVText: "Go engineer", JobSkills: Unordered([]string{" sql", "redis", "go "})})
	other := c.Key("cv-analysis", cvFields{CVText: "Rust engineer", JobSkills: Unordered([]string{"go"})})

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, other)
	assert.Regexp(t, `^cache:cv-analysis:[0-9a-f]{64}$`, a)
}

func TestKeyIgnoresMapOrder(t *testing.T) {
	c, _, _ := newTestCache(t)
	a := c.Key("x", map[string]any{"b": 1, "a": []int{1, 2}})
	b := c.Key("x", map[string]any{"a": []int{1, 2}, "b": 1})
	assert.Equal(t, a, b)
	assert.NotEqual(t, c.Key("x", 1), c.Key("y", 1))
}

func TestSetGetAndExpiry(t *testing.T) {
	ctx := context.Background()
	c, mr, _ := newTestCache(t)

	var got analysis
	assert.False(t, c.Get(ctx, "cache:k", &got))

	c.Set(ctx, "cache:k", analysis{Score: 80, Skills: []string{"go"}}, time.Hour)
	require.True(t, c.Get(ctx, "cache:k", &got))
	assert.Equal(t, analysis{Score: 80, Skills: []string{"go"}}, got)
	assert.Equal(t, time.Hour, mr.TTL("cache:k"))

	mr.FastForward(time.Hour + time.Second)
	assert.False(t, c.Get(ctx, "cache:k", &got))
}

func TestSetWithoutTTLStoresNothing(t *testing.T) {
	ctx := context.Background()
	c, mr, _ := newTestCache(t)
	c.Set(ctx, "cache:k", analysis{Score: 1}, 0)
	assert.False(t, mr.Exists("cache:k"))
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	c, mr, _ := newTestCache(t)
	c.Set(ctx, "cache:k", analysis{Score: 1}, time.Minute)
	c.Delete(ctx, "cache:k")
	assert.False(t, mr.Exists("cache:k"))
}

func TestUndecodableEntryIsAMiss(t *testing.T) {
	ctx := context.Background()
	c, mr, _ := newTestCache(t)
	require.NoError(t, mr.Set("cache:k", "not json"))

	var got analysis
	assert.False(t, c.Get(ctx, "cache:k", &got))
}

func TestStoreFailureIsAMiss(t *testing.T) {
	ctx := context.Background()
	c, mr, _ := newTestCache(t)
	mr.Close()

	var got analysis
	assert.False(t, c.Get(ctx, "cache:k", &got))
	assert.NotPanics(t, func() { c.Set(ctx, "cache:k", analysis{Score: 1}, time.Minute) })

	calls := 0
	v, err := GetOrSet(ctx, c, "cv", "cache:k", time.Minute, func(context.Context) (analysis, error) {
		calls++
		return analysis{Score: 9}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 9, v.Score)
	assert.Equal(t, 1, calls)
}

func TestGetOrSetFetchesOnce(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestCache(t)

	calls := 0
	fetch := func(context.Context) (analysis, error) {
		calls++
		return analysis{Score: 64}, nil
	}
	for i := 0; i < 3; i++ {
		v, err := GetOrSet(ctx, c, "cv", "cache:k", time.Minute, fetch)
		require.NoError(t, err)
		assert.Equal(t, 64, v.Score)
	}
	assert.Equal(t, 1, calls)
}

func TestGetOrSetDoesNotCacheErrors(t *testing.T) {
	ctx := context.Background()
	c, mr, _ := newTestCache(t)

	_, err := GetOrSet(ctx, c, "cv", "cache:k", time.Minute, func(context.Context) (analysis, error) {
		return analysis{}, errors.New("provider down")
	})
	require.Error(t, err)
	assert.False(t, mr.Exists("cache:k"))
}

func TestGetOrSetSharedCollapsesConcurrentMisses(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestCache(t)

	var calls atomic.Int32
	release := make(chan struct{})
	fetch := func(context.Context) (analysis, error) {
		calls.Add(1)
		<-release
		return analysis{Score: 70}, nil
	}

	const callers = 8
	var wg sync.WaitGroup
	results := make([]analysis, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := GetOrSetShared(ctx, c, "cv", "cache:shared", time.Minute, fetch)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, r := range results {
		assert.Equal(t, 70, r.Score)
	}
}

func TestGetOrSetSharedSurvivesCancelledLeader(t *testing.T) {
	c, _, _ := newTestCache(t)

	var calls atomic.Int32
	started := make(chan struct{})
	var startOnce sync.Once
	release := make(chan struct{})
	var fetchErr atomic.Value
	fetch := func(ctx context.Context) (analysis, error) {
		calls.Add(1)
		startOnce.Do(func() { close(started) })
		<-release
		if err := ctx.Err(); err != nil {
			fetchErr.Store(err)
		}
		return analysis{Score: 64}, nil
	}

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderDone := make(chan error, 1)
	go func() {
		_, err := GetOrSetShared(leaderCtx, c, "cv", "cache:leader", time.Minute, fetch)
		leaderDone <- err
	}()
	<-started

	followerDone := make(chan analysis, 1)
	go func() {
		v, err := GetOrSetShared(context.Background(), c, "cv", "cache:leader", time.Minute, fetch)
		assert.NoError(t, err)
		followerDone <- v
	}()

	cancelLeader()
	select {
	case err := <-leaderDone:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller kept waiting for the shared fetch")
	}

	close(release)
	select {
	case v := <-followerDone:
		assert.Equal(t, 64, v.Score)
	case <-time.After(time.Second):
		t.Fatal("follower never received the shared result")
	}
	assert.Equal(t, int32(1), calls.Load())
	assert.Nil(t, fetchErr.Load(), "shared fetch saw the leader's cancellation")

	var cached analysis
	assert.True(t, c.Get(context.Background(), "cache:leader", &cached))
	assert.Equal(t, 64, cached.Score)
}
