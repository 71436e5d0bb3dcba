package estimator

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"qms/display-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// monday09 is a Monday at 09:15.
var monday09 = time.Date(2026, 10, 19, 9, 15, 0, 0, time.UTC)

func newTestEstimator(seed int64) (*Estimator, *MemoryStore) {
	store := NewMemoryStore()
	est := New(store, Options{
		Rand: rand.New(rand.NewSource(seed)),
		Now:  func() time.Time { return monday09 },
	})
	return est, store
}

func seed(t *testing.T, est *Estimator, serviceID string, samples int, minutes float64, operatorID string, at time.Time) {
	t.Helper()
	for i := 0; i < samples; i++ {
		require.NoError(t, est.RecordCompletionAt(context.Background(), serviceID, minutes, operatorID, at))
	}
}

func TestRecordCompletionRunningAverage(t *testing.T) {
	est, store := newTestEstimator(1)
	ctx := context.Background()

	require.NoError(t, est.RecordCompletion(ctx, "svc", 10, "op-1"))
	require.NoError(t, est.RecordCompletion(ctx, "svc", 20, "op-1"))
	require.NoError(t, est.RecordCompletion(ctx, "svc", 30, ""))

	stat, found, err := store.Load(ctx, "svc")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 3, stat.SampleCount)
	assert.InDelta(t, 20, stat.AverageMinutes, 1e-9)
	assert.Equal(t, Pattern{AverageMinutes: 20, Samples: 3}, stat.HourPatterns[9])
	assert.Equal(t, 3, stat.WeekdayPatterns[int(time.Monday)].Samples)
	assert.Equal(t, Pattern{AverageMinutes: 15, Samples: 2}, stat.OperatorPattern["op-1"])
	assert.Equal(t, monday09, stat.UpdatedAt)
}

func TestRecordCompletionCapsWeight(t *testing.T) {
	est, store := newTestEstimator(1)
	ctx := context.Background()

	// Fill the weekday pattern past its cap of 5 with 10-minute samples.
	seed(t, est, "svc", 20, 10, "", monday09)
	require.NoError(t, est.RecordCompletionAt(ctx, "svc", 70, "", monday09))

	stat, _, err := store.Load(ctx, "svc")
	require.NoError(t, err)
	// weekday: (10*5 + 70) / 6
	assert.InDelta(t, 20, stat.WeekdayPatterns[int(time.Monday)].AverageMinutes, 1e-9)
	// hour: (10*10 + 70) / 11
	assert.InDelta(t, 170.0/11.0, stat.HourPatterns[9].AverageMinutes, 1e-9)
	// overall, still under its cap of 100: (10*20 + 70) / 21
	assert.InDelta(t, 270.0/21.0, stat.AverageMinutes, 1e-9)
	assert.Equal(t, 21, stat.SampleCount)
}

func TestRecordCompletionRejectsBadSamples(t *testing.T) {
	est, store := newTestEstimator(1)
	for _, minutes := range []float64{0, -3} {
		assert.ErrorIs(t, est.RecordCompletion(context.Background(), "svc", minutes, ""), ErrInvalidSample)
	}
	_, found, _ := store.Load(context.Background(), "svc")
	assert.False(t, found)
}

func TestRecordCompletionConcurrentSameService(t *testing.T) {
	est, store := newTestEstimator(1)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = est.RecordCompletion(context.Background(), "svc", 4, "op")
		}()
	}
	wg.Wait()

	stat, _, err := store.Load(context.Background(), "svc")
	require.NoError(t, err)
	assert.Equal(t, 50, stat.SampleCount)
	assert.Equal(t, 50, stat.OperatorPattern["op"].Samples)
}

func TestEstimateFallbackIsAdjustedBaseline(t *testing.T) {
	est, _ := newTestEstimator(1)
	ctx := context.Background()
	seed(t, est, "svc", MinSamples-1, 60, "", monday09)

	cases := []struct {
		name    string
		factors Factors
		want    int
	}{
		{"nominal", Factors{QueueLength: 2, AvailableOperators: 1}, 20},
		{"vip", Factors{QueueLength: 2, AvailableOperators: 1, ClientType: models.ClientVIP}, 16},
		{"new client", Factors{QueueLength: 2, AvailableOperators: 1, ClientType: models.ClientNew}, 24},
		{"idle", Factors{QueueLength: 0, AvailableOperators: 1}, 18},
		{"busy", Factors{QueueLength: 4, AvailableOperators: 1}, 23},
		{"overloaded", Factors{QueueLength: 12, AvailableOperators: 1}, 26},
		{"fast operator", Factors{QueueLength: 2, AvailableOperators: 1, OperatorEfficiency: 1.2}, 16},
		{"slow operator", Factors{QueueLength: 2, AvailableOperators: 1, OperatorEfficiency: 0.7}, 26},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			// Repeated calls are identical: no jitter without history.
			for i := 0; i < 3; i++ {
				assert.Equal(t, tc.want, est.Estimate(ctx, "svc", 1, 20, tc.factors))
			}
		})
	}
}

func TestEstimateUnknownServiceUsesBaseline(t *testing.T) {
	est, _ := newTestEstimator(1)
	got := est.Estimate(context.Background(), "missing", 3, 5, Factors{QueueLength: 3, AvailableOperators: 1})
	assert.Equal(t, 15, got)
}

func TestEstimateClampsToBounds(t *testing.T) {
	est, _ := newTestEstimator(1)
	ctx := context.Background()

	// 10 operators on position 1: 1 minute raw, raised to 0.3 * baseline.
	assert.Equal(t, 3, est.Estimate(ctx, "svc", 1, 10, Factors{QueueLength: 10, AvailableOperators: 10}))
	// Invalid baseline falls back to the default.
	assert.Equal(t, 5, est.Estimate(ctx, "svc", 1, 0, Factors{QueueLength: 1, AvailableOperators: 1}))
	// Position below 1 is treated as next in line.
	assert.Equal(t, 10, est.Estimate(ctx, "svc", 0, 10, Factors{QueueLength: 1, AvailableOperators: 1}))
}

func TestEstimateUsesHistory(t *testing.T) {
	est, _ := newTestEstimator(7)
	ctx := context.Background()
	seed(t, est, "svc", 10, 20, "", monday09)

	got := est.Estimate(ctx, "svc", 1, 10, Factors{QueueLength: 2, AvailableOperators: 1, At: monday09})

	// 0.4*20 + 0.3*10 + 0.2*10 + 0.1*10; hour and weekday agree, so the
	// spread and with it the variability term are zero.
	assert.Equal(t, 14, got)
}

func TestEstimateHourPatternPreferred(t *testing.T) {
	est, _ := newTestEstimator(3)
	ctx := context.Background()
	seed(t, est, "svc", 10, 10, "", monday09)
	seed(t, est, "svc", 10, 50, "", monday09.Add(-5*time.Hour))

	morning := est.Estimate(ctx, "svc", 1, 10, Factors{QueueLength: 2, AvailableOperators: 1, At: monday09})
	early := est.Estimate(ctx, "svc", 1, 10, Factors{QueueLength: 2, AvailableOperators: 1, At: monday09.Add(-5 * time.Hour)})

	assert.Less(t, morning, early)
}

func TestEstimateDeterministicForSeed(t *testing.T) {
	run := func() []int {
		est, _ := newTestEstimator(42)
		seed(t, est, "svc", 8, 12, "op-1", monday09)
		seed(t, est, "svc", 4, 25, "op-2", monday09.Add(24*time.Hour))
		var out []int
		for pos := 1; pos <= 6; pos++ {
			out = append(out, est.Estimate(context.Background(), "svc", pos, 10, Factors{QueueLength: 6, AvailableOperators: 2, OperatorID: "op-1", At: monday09}))
		}
		return out
	}
	assert.Equal(t, run(), run())
}

func TestEstimateMonotonicInPosition(t *testing.T) {
	scenarios := []struct {
		name    string
		samples int
		factors Factors
	}{
		{"no history", 0, Factors{QueueLength: 5, AvailableOperators: 1}},
		{"history", 30, Factors{QueueLength: 5, AvailableOperators: 1, At: monday09}},
		{"history busy", 30, Factors{QueueLength: 40, AvailableOperators: 3, ClientType: models.ClientVIP, At: monday09}},
	}
	for _, sc := range scenarios {
		t.Run(sc.name, func(t *testing.T) {
			for s := int64(0); s < 25; s++ {
				est, _ := newTestEstimator(s)
				seed(t, est, "svc", sc.samples, 9, "op", monday09)
				seed(t, est, "svc", sc.samples/3, 30, "op-slow", monday09.Add(-2*time.Hour))
				first := est.Estimate(context.Background(), "svc", 1, 8, sc.factors)
				fifth := est.Estimate(context.Background(), "svc", 5, 8, sc.factors)
				assert.GreaterOrEqual(t, fifth, first, "seed %d", s)
			}
		})
	}
}

func TestEstimateUsesLearnedOperatorEfficiency(t *testing.T) {
	est, _ := newTestEstimator(1)
	ctx := context.Background()
	seed(t, est, "svc", 2, 10, "fast", monday09)
	seed(t, est, "svc", 2, 10, "slow", monday09)

	assert.Equal(t, 1.0, est.efficiency(Factors{OperatorID: "fast"}, HistoricalStat{}, false))
	assert.Equal(t, 1.3, est.efficiency(Factors{OperatorEfficiency: 1.3}, HistoricalStat{}, false))

	stat := HistoricalStat{
		AverageMinutes:  10,
		OperatorPattern: map[string]Pattern{"fast": {AverageMinutes: 8, Samples: 6}},
	}
	assert.InDelta(t, 1.25, est.efficiency(Factors{OperatorID: "fast"}, stat, true), 1e-9)

	got := est.Estimate(ctx, "svc", 1, 10, Factors{QueueLength: 2, AvailableOperators: 1, OperatorID: "fast"})
	assert.Equal(t, 10, got)
}

type failingStore struct{}

func (failingStore) Load(context.Context, string) (HistoricalStat, bool, error) {
	return HistoricalStat{}, false, errors.New("unavailable")
}

func (failingStore) Save(context.Context, HistoricalStat) error {
	return errors.New("unavailable")
}

func TestEstimateSurvivesStoreFailure(t *testing.T) {
	est := New(failingStore{}, Options{Rand: rand.New(rand.NewSource(1))})
	assert.Equal(t, 10, est.Estimate(context.Background(), "svc", 1, 10, Factors{QueueLength: 1, AvailableOperators: 1}))
	assert.Error(t, est.RecordCompletion(context.Background(), "svc", 5, ""))
}

func TestPatternSpread(t *testing.T) {
	stat := HistoricalStat{
		AverageMinutes:  10,
		HourPatterns:    map[int]Pattern{9: {AverageMinutes: 14, Samples: 3}},
		WeekdayPatterns: map[int]Pattern{1: {AverageMinutes: 6, Samples: 3}},
	}
	spread, ok := patternSpread(stat, monday09, "")
	require.True(t, ok)
	// values 14, 6, 10: mean 10, variance 32/3
	assert.InDelta(t, 3.26599, spread, 1e-4)

	_, ok = patternSpread(HistoricalStat{HourPatterns: stat.HourPatterns}, monday09, "")
	assert.False(t, ok)
}
