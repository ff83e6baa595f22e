package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/variant-search/pkg/config"
	pkgredis "github.com/Adithya-Monish-Kumar-K/variant-search/pkg/redis"
)

func results(n int) []json.RawMessage {
	out := make([]json.RawMessage, n)
	for i := range out {
		out[i] = json.RawMessage(fmt.Sprintf(`{"variantId":"v%d"}`, i))
	}
	return out
}

func TestPage(t *testing.T) {
	all := []int{1, 2, 3, 4, 5}
	assert.Equal(t, []int{1, 2}, Page(all, 1, 2))
	assert.Equal(t, []int{5}, Page(all, 3, 2))
	assert.Empty(t, Page(all, 4, 2))
	assert.NotNil(t, Page(all, 4, 2))
	assert.Empty(t, Page(all, 0, 2))
	assert.Empty(t, Page([]int(nil), 1, 10))
}

func TestPageHugePageNumbers(t *testing.T) {
	all := results(3)
	assert.Empty(t, Page(all, 100000000000000001, 100))
	assert.Empty(t, Page(all, 4611686018427387905, 2))
	assert.Empty(t, Page(all, math.MaxInt, math.MaxInt))
	assert.Len(t, Page(all, 1, math.MaxInt), 3)
}

func TestResultsThrough(t *testing.T) {
	n, ok := ResultsThrough(3, 100)
	assert.True(t, ok)
	assert.Equal(t, 300, n)

	_, ok = ResultsThrough(math.MaxInt/2+1, 2)
	assert.False(t, ok)
	_, ok = ResultsThrough(0, 10)
	assert.False(t, ok)
	_, ok = ResultsThrough(1, -1)
	assert.False(t, ok)
}

func TestCoversRejectsOverflow(t *testing.T) {
	s := &SessionState{Fingerprint: "fp", Sort: "xpos", Total: 10, Results: results(3)}
	assert.False(t, s.Covers("fp", "xpos", 100000000000000001, 100))
}

func TestCovers(t *testing.T) {
	s := &SessionState{Fingerprint: "fp", Sort: "xpos", Total: 10, Results: results(4)}

	assert.True(t, s.Covers("fp", "xpos", 2, 2))
	assert.False(t, s.Covers("fp", "xpos", 3, 2))
	assert.False(t, s.Covers("fp", "cadd", 1, 2), "a different sort reorders results")
	assert.False(t, s.Covers("other", "xpos", 1, 2))

	s.Total = 4
	assert.True(t, s.Covers("fp", "xpos", 10, 100), "all results held")
	assert.True(t, s.Complete())

	var missing *SessionState
	assert.False(t, missing.Covers("fp", "xpos", 1, 1))
	assert.False(t, missing.Complete())
}

func TestMemoryStoreIsolatesCallers(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, ok, err := store.Load(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, ok)

	state := &SessionState{Fingerprint: "fp", Total: 2, Results: results(2)}
	require.NoError(t, store.Save(ctx, "s1", state))
	state.Results[0] = json.RawMessage(`"mutated"`)

	got, ok, err := store.Load(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"variantId":"v0"}`, string(got.Results[0]))
	assert.Equal(t, 1, store.Len())
}

// fakeHash mimics Redis hash semantics: every field is stored as a string.
type fakeHash struct {
	mu     sync.Mutex
	hashes map[string]map[string]string
	ttls   map[string]time.Duration
	err    error
}

func newFakeHash() *fakeHash {
	return &fakeHash{hashes: map[string]map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeHash) HGetAll(_ context.Context, key string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.hashes[key], nil
}

func (f *fakeHash) ReplaceHash(_ context.Context, key string, fields map[string]any, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	h := make(map[string]string, len(fields))
	for k, v := range fields {
		switch v := v.(type) {
		case []byte:
			h[k] = string(v)
		default:
			h[k] = fmt.Sprint(v)
		}
	}
	f.hashes[key] = h
	f.ttls[key] = ttl
	return nil
}

func TestRedisStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	client := newFakeHash()
	store := NewRedisStore(client, time.Hour)

	_, ok, err := store.Load(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, ok)

	state := &SessionState{
		Fingerprint:           "fp",
		Sort:                  "cadd",
		Total:                 7,
		Results:               results(3),
		GeneCountsFingerprint: "fp",
		GeneCounts:            map[string]json.RawMessage{"ENSG00000223972": json.RawMessage(`{"total":2}`)},
	}
	require.NoError(t, store.Save(ctx, "s1", state))
	assert.Equal(t, time.Hour, client.ttls[keyPrefix+"s1"])

	got, ok, err := store.Load(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "fp", got.Fingerprint)
	assert.Equal(t, "cadd", got.Sort)
	assert.Equal(t, 7, got.Total)
	require.Len(t, got.Results, 3)
	assert.JSONEq(t, `{"variantId":"v2"}`, string(got.Results[2]))
	assert.JSONEq(t, `{"total":2}`, string(got.GeneCounts["ENSG00000223972"]))
}

func TestRedisStoreWrapsErrors(t *testing.T) {
	client := newFakeHash()
	client.err = fmt.Errorf("connection refused")
	store := NewRedisStore(client, 0)

	_, _, err := store.Load(context.Background(), "s1")
	assert.ErrorContains(t, err, "loading session s1")
	err = store.Save(context.Background(), "s1", &SessionState{})
	assert.ErrorContains(t, err, "saving session s1")
}

func TestRedisStoreRejectsCorruptState(t *testing.T) {
	client := newFakeHash()
	client.hashes[keyPrefix+"s1"] = map[string]string{fieldFingerprint: "fp", fieldTotal: "many"}
	_, _, err := NewRedisStore(client, 0).Load(context.Background(), "s1")
	assert.ErrorContains(t, err, "total")
}

func skipIfNoRedis(t *testing.T) *pkgredis.Client {
	t.Helper()
	addr := os.Getenv("VS_REDIS_ADDR")
	if addr == "" {
		t.Skip("VS_REDIS_ADDR not set")
	}
	client, err := pkgredis.NewClient(config.RedisConfig{Addr: addr, PoolSize: 2})
	if err != nil {
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisStoreAgainstServer(t *testing.T) {
	client := skipIfNoRedis(t)
	ctx := context.Background()
	store := NewRedisStore(client, time.Minute)
	id := uuid.NewString()
	t.Cleanup(func() { client.Del(ctx, keyPrefix+id) })

	require.NoError(t, store.Save(ctx, id, &SessionState{Fingerprint: "fp", Total: 1, Results: results(1)}))
	require.NoError(t, store.Save(ctx, id, &SessionState{Fingerprint: "fp2", Total: 0, Results: results(0)}))

	got, ok, err := store.Load(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "fp2", got.Fingerprint)
	assert.Empty(t, got.Results)
	assert.Nil(t, got.GeneCounts, "replaced hash drops stale fields")
}

func TestLockerSerialisesSession(t *testing.T) {
	l := NewLocker()
	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock("s1")
			defer unlock()
			n := inside.Add(1)
			if n > maxInside.Load() {
				maxInside.Store(n)
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside.Load())
	assert.Zero(t, l.held())
}

func TestLockerIndependentSessions(t *testing.T) {
	l := NewLocker()
	unlock := l.Lock("s1")
	done := make(chan struct{})
	go func() {
		l.Lock("s2")()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on s2 blocked behind s1")
	}
	unlock()
}
