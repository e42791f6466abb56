package cache

import (
	"context"
	"errors"
	"path"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HanTheDev/genie-analytics/internal/models"
)

// fakeRedis pages SCAN results two keys at a time.
type fakeRedis struct {
	mu   sync.Mutex
	data map[string]string
	ttls map[string]time.Duration
	err  error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value interface{}, ttl time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewStatusResult("", f.err)
	}
	f.data[key] = string(value.([]byte))
	f.ttls[key] = ttl
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeRedis) Scan(_ context.Context, cursor uint64, match string, _ int64) *redis.ScanCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewScanCmdResult(nil, 0, f.err)
	}
	var all []string
	for k := range f.data {
		if ok, _ := path.Match(match, k); ok {
			all = append(all, k)
		}
	}
	sort.Strings(all)

	// Keys are deleted between pages, so every page starts from the front.
	end := min(2, len(all))
	var next uint64
	if len(all) > end {
		next = cursor + 1
	}
	return redis.NewScanCmdResult(all[:end], next, nil)
}

var analyst = models.TenantContext{TenantID: "acme", UserID: "u1", Role: "analyst"}

func TestKey(t *testing.T) {
	k := Key(analyst, "Top  Campaigns ")
	assert.Equal(t, k, Key(analyst, "top campaigns"), "normalized question")
	assert.Regexp(t, `^genie:answer:acme:[0-9a-f]{64}$`, k)

	viewer := analyst
	viewer.Role = "viewer"
	assert.NotEqual(t, k, Key(viewer, "top campaigns"))

	other := analyst
	other.TenantID = "globex"
	assert.NotEqual(t, k, Key(other, "top campaigns"))
}

func TestAnswerCacheRoundTrip(t *testing.T) {
	r := newFakeRedis()
	c := NewAnswerCache(r, time.Minute)
	ctx := context.Background()
	metric := 3.4

	_, ok := c.Get(ctx, analyst, "top campaigns")
	assert.False(t, ok)

	want := &models.AnalyticsAnswer{
		Answer:        "Spring leads.",
		SQL:           "SELECT 1",
		ChartType:     models.ChartBar,
		Rows:          []models.Row{{"campaign": "spring", "ces_score": 3.4}},
		RowCount:      1,
		Confidence:    0.9,
		Tier:          models.TierSimple,
		DerivedMetric: &metric,
		State:         models.StateDone,
		TenantID:      "acme",
	}
	c.Set(ctx, analyst, "top campaigns", want)
	assert.Equal(t, time.Minute, r.ttls[Key(analyst, "top campaigns")])

	got, ok := c.Get(ctx, analyst, "Top campaigns")
	require.True(t, ok)
	assert.Equal(t, want.Answer, got.Answer)
	assert.Equal(t, want.Rows, got.Rows)
	require.NotNil(t, got.DerivedMetric)
	assert.Equal(t, metric, *got.DerivedMetric)
	assert.Equal(t, models.StateDone, got.State)
}

func TestAnswerCacheFailsSoft(t *testing.T) {
	r := newFakeRedis()
	r.err = errors.New("dial tcp: connection refused")
	c := NewAnswerCache(r, 0)
	ctx := context.Background()

	c.Set(ctx, analyst, "q", &models.AnalyticsAnswer{Answer: "a"})
	_, ok := c.Get(ctx, analyst, "q")
	assert.False(t, ok)

	r.err = nil
	r.data[Key(analyst, "q")] = "{not json"
	_, ok = c.Get(ctx, analyst, "q")
	assert.False(t, ok)
}

func TestInvalidateTenant(t *testing.T) {
	r := newFakeRedis()
	c := NewAnswerCache(r, 0)
	ctx := context.Background()

	for _, q := range []string{"a", "b", "c", "d", "e"} {
		c.Set(ctx, analyst, q, &models.AnalyticsAnswer{Answer: q})
	}
	globex := models.TenantContext{TenantID: "globex"}
	c.Set(ctx, globex, "a", &models.AnalyticsAnswer{Answer: "a"})
	starry := models.TenantContext{TenantID: "ac*"}
	c.Set(ctx, starry, "a", &models.AnalyticsAnswer{Answer: "a"})

	n, err := c.InvalidateTenant(ctx, "ac*")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n, "glob characters in tenant ids are literal")

	n, err = c.InvalidateTenant(ctx, "acme")
	require.NoError(t, err)
	assert.EqualValues(t, 5, n)

	_, ok := c.Get(ctx, globex, "a")
	assert.True(t, ok)

	r.err = errors.New("down")
	_, err = c.InvalidateTenant(ctx, "globex")
	assert.Error(t, err)
}
