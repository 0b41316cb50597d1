package routecache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crewroute/internal/model"
)

func TestKeyIgnoresDueOrder(t *testing.T) {
	a := Key("co", "crew", "2026-03-04", []string{"c1", "c2", "c3"})
	b := Key("co", "crew", "2026-03-04", []string{"c3", "c1", "c2"})
	assert.Equal(t, a, b)

	c := Key("co", "crew", "2026-03-04", []string{"c1", "c2"})
	assert.NotEqual(t, a, c)
	d := Key("co", "crew", "2026-03-05", []string{"c1", "c2", "c3"})
	assert.NotEqual(t, c, d)
}

func TestGetOrComputeCachesByDueSet(t *testing.T) {
	c := New(time.Hour)
	var calls int32
	compute := func(ctx context.Context) (model.DailyRoute, error) {
		atomic.AddInt32(&calls, 1)
		return model.DailyRoute{ID: "r1"}, nil
	}

	rt, hit, err := c.GetOrCompute(context.Background(), "co", "crew", "2026-03-04", []string{"c1", "c2"}, compute)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "r1", rt.ID)
	assert.NotEmpty(t, rt.CacheKey)

	rt2, hit, err := c.GetOrCompute(context.Background(), "co", "crew", "2026-03-04", []string{"c2", "c1"}, compute)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, rt.ID, rt2.ID)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestGetOrComputeCoalescesConcurrentCallers(t *testing.T) {
	c := New(time.Hour)
	var calls int32
	started := make(chan struct{})
	release := make(chan struct{})
	compute := func(ctx context.Context) (model.DailyRoute, error) {
		atomic.AddInt32(&calls, 1)
		close(started)
		<-release
		return model.DailyRoute{ID: "r1"}, nil
	}

	const n = 8
	var wg sync.WaitGroup
	results := make([]model.DailyRoute, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rt, _, err := c.GetOrCompute(context.Background(), "co", "crew", "2026-03-04", []string{"c1"}, compute)
			assert.NoError(t, err)
			results[i] = rt
		}(i)
	}
	<-started
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
	for _, rt := range results {
		assert.Equal(t, "r1", rt.ID)
	}
}

func TestNewDueSetSupersedesOldEntry(t *testing.T) {
	c := New(time.Hour)
	compute := func(id string) func(context.Context) (model.DailyRoute, error) {
		return func(ctx context.Context) (model.DailyRoute, error) {
			return model.DailyRoute{ID: id}, nil
		}
	}

	_, _, err := c.GetOrCompute(context.Background(), "co", "crew", "2026-03-04", []string{"c1"}, compute("r1"))
	require.NoError(t, err)
	_, _, err = c.GetOrCompute(context.Background(), "co", "crew", "2026-03-04", []string{"c1", "c2"}, compute("r2"))
	require.NoError(t, err)
	// the second due set evicts the first entry for the same crew/date
	assert.Equal(t, 1, c.Len())

	// other crews and dates are untouched
	_, _, err = c.GetOrCompute(context.Background(), "co", "other", "2026-03-04", []string{"c1"}, compute("r3"))
	require.NoError(t, err)
	assert.Equal(t, 2, c.Len())
}

func TestStaleComputationNeverOvershadowsNewerEntry(t *testing.T) {
	c := New(time.Hour)
	now := time.Date(2026, 3, 4, 8, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	computeStarted := make(chan struct{})
	release := make(chan struct{})
	slow := func(ctx context.Context) (model.DailyRoute, error) {
		close(computeStarted)
		<-release
		return model.DailyRoute{ID: "rOld"}, nil
	}

	var wg sync.WaitGroup
	var oldRoute model.DailyRoute
	wg.Add(1)
	go func() {
		defer wg.Done()
		rt, _, err := c.GetOrCompute(context.Background(), "co", "crew", "2026-03-04", []string{"c1"}, slow)
		assert.NoError(t, err)
		oldRoute = rt
	}()
	<-computeStarted

	// the due set changes while the old computation is still in flight
	now = now.Add(time.Minute)
	rt, _, err := c.GetOrCompute(context.Background(), "co", "crew", "2026-03-04", []string{"c1", "c2"}, func(ctx context.Context) (model.DailyRoute, error) {
		return model.DailyRoute{ID: "rNew"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "rNew", rt.ID)

	close(release)
	wg.Wait()

	// the stale result goes to its caller but never into the cache
	assert.Equal(t, "rOld", oldRoute.ID)
	assert.Equal(t, 1, c.Len())
	cached, hit, err := c.GetOrCompute(context.Background(), "co", "crew", "2026-03-04", []string{"c1", "c2"}, func(ctx context.Context) (model.DailyRoute, error) {
		return model.DailyRoute{ID: "recomputed"}, nil
	})
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "rNew", cached.ID)
}

func TestRetentionEvictsOldEntries(t *testing.T) {
	c := New(48 * time.Hour)
	now := time.Date(2026, 3, 4, 8, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	var calls int32
	compute := func(ctx context.Context) (model.DailyRoute, error) {
		atomic.AddInt32(&calls, 1)
		return model.DailyRoute{ID: "r1"}, nil
	}
	_, _, err := c.GetOrCompute(context.Background(), "co", "crew", "2026-03-04", []string{"c1"}, compute)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Len())

	// within retention: still a hit
	now = now.Add(47 * time.Hour)
	_, hit, err := c.GetOrCompute(context.Background(), "co", "crew", "2026-03-04", []string{"c1"}, compute)
	require.NoError(t, err)
	assert.True(t, hit)

	// past retention: recomputed
	now = now.Add(2 * time.Hour)
	_, hit, err = c.GetOrCompute(context.Background(), "co", "crew", "2026-03-04", []string{"c1"}, compute)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestInvalidate(t *testing.T) {
	c := New(time.Hour)
	rt, _, err := c.GetOrCompute(context.Background(), "co", "crew", "2026-03-04", []string{"c1"}, func(ctx context.Context) (model.DailyRoute, error) {
		return model.DailyRoute{ID: "r1"}, nil
	})
	require.NoError(t, err)
	c.Invalidate(rt.CacheKey)
	assert.Equal(t, 0, c.Len())
}
