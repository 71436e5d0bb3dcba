package estimator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"qms/display-service/internal/metrics"
	"qms/display-service/internal/models"

	"github.com/rs/zerolog/log"
)

const (
	MinSamples             = 5
	DefaultBaselineMinutes = 5.0
	LongQueueLength        = 20

	historicalWeight = 0.4
	loadWeight       = 0.3
	efficiencyWeight = 0.2
	dynamicsWeight   = 0.1

	spreadJitter    = 0.10
	syntheticJitter = 0.15
)

var ErrInvalidSample = errors.New("service duration must be a positive number of minutes")

// Factors are the real-time signals an estimate is adjusted for.
type Factors struct {
	QueueLength        int
	AvailableOperators int
	// OperatorEfficiency is 1.0 for a nominal operator, above 1.0 for a
	// faster one. Zero means unknown.
	OperatorEfficiency float64
	OperatorID         string
	ClientType         string
	At                 time.Time
}

type Options struct {
	// Rand drives the variability term. Tests pass a seeded source.
	Rand *rand.Rand
	Now  func() time.Time
}

// Estimator learns per-service durations and turns them into wait estimates.
type Estimator struct {
	store Store
	now   func() time.Time

	randMu sync.Mutex
	rng    *rand.Rand

	locks sync.Map
}

func New(store Store, options Options) *Estimator {
	rng := options.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	now := options.Now
	if now == nil {
		now = time.Now
	}
	return &Estimator{store: store, rng: rng, now: now}
}

// RecordCompletion folds a finished ticket's service time into the model,
// bucketed by the current time.
func (e *Estimator) RecordCompletion(ctx context.Context, serviceID string, minutes float64, operatorID string) error {
	return e.RecordCompletionAt(ctx, serviceID, minutes, operatorID, e.now())
}

// RecordCompletionAt is RecordCompletion for a sample observed at a known time.
// Writes for the same service are serialized.
func (e *Estimator) RecordCompletionAt(ctx context.Context, serviceID string, minutes float64, operatorID string, at time.Time) error {
	if math.IsNaN(minutes) || math.IsInf(minutes, 0) || minutes <= 0 {
		return ErrInvalidSample
	}
	lock := e.serviceLock(serviceID)
	lock.Lock()
	defer lock.Unlock()

	stat, found, err := e.store.Load(ctx, serviceID)
	if err != nil {
		return fmt.Errorf("load stats for %s: %w", serviceID, err)
	}
	if !found {
		stat = newStat(serviceID)
	}
	if err := e.store.Save(ctx, stat.record(minutes, operatorID, at)); err != nil {
		return fmt.Errorf("save stats for %s: %w", serviceID, err)
	}
	metrics.TrackCompletion()
	return nil
}

// Stats returns the learned model for a service.
func (e *Estimator) Stats(ctx context.Context, serviceID string) (HistoricalStat, bool, error) {
	return e.store.Load(ctx, serviceID)
}

// Estimate returns the expected wait in whole minutes for a ticket at
// position (1 = next to be called). It never fails: a missing or unreadable
// model falls back to the factor-adjusted baseline.
func (e *Estimator) Estimate(ctx context.Context, serviceID string, position int, baseline float64, f Factors) int {
	if position < 1 {
		position = 1
	}
	if baseline <= 0 || math.IsNaN(baseline) || math.IsInf(baseline, 0) {
		baseline = DefaultBaselineMinutes
	}
	operators := f.AvailableOperators
	if operators < 1 {
		operators = 1
	}
	at := f.At
	if at.IsZero() {
		at = e.now()
	}

	stat, found, err := e.store.Load(ctx, serviceID)
	if err != nil {
		log.Warn().Err(err).Str("service_id", serviceID).Msg("stats unavailable, using baseline estimate")
		found = false
	}

	var perTicket, offset float64
	if !found || stat.SampleCount < MinSamples {
		metrics.TrackEstimate("baseline")
		perTicket = baseline *
			efficiencyMultiplier(e.efficiency(f, stat, found)) *
			clientMultiplier(f.ClientType) *
			loadMultiplier(f.QueueLength, operators)
	} else {
		metrics.TrackEstimate("historical")
		historical := historicalMinutes(stat, at)
		load := baseline * loadMultiplier(f.QueueLength, operators)
		efficiency := baseline * efficiencyMultiplier(e.efficiency(f, stat, found))
		dynamics := baseline * clientMultiplier(f.ClientType) * queueMultiplier(f.QueueLength)
		perTicket = historicalWeight*historical +
			loadWeight*load +
			efficiencyWeight*efficiency +
			dynamicsWeight*dynamics
		spread, ok := patternSpread(stat, at, f.OperatorID)
		offset = e.variability(perTicket, spread, ok)
	}

	total := (perTicket + offset) * float64(position) / float64(operators)
	low := 0.3 * baseline
	high := 2 * baseline * float64(position)
	total = math.Max(low, math.Min(high, total))
	return int(math.Round(total))
}

// efficiency prefers the caller's figure, then the operator's learned speed
// relative to the service average, then nominal.
func (e *Estimator) efficiency(f Factors, stat HistoricalStat, found bool) float64 {
	if f.OperatorEfficiency > 0 {
		return f.OperatorEfficiency
	}
	if found && f.OperatorID != "" && stat.AverageMinutes > 0 {
		if p, ok := stat.OperatorPattern[f.OperatorID]; ok && p.Samples >= MinSamples && p.AverageMinutes > 0 {
			return stat.AverageMinutes / p.AverageMinutes
		}
	}
	return 1
}

// variability draws the per-ticket offset. With a measurable spread it is
// bounded to ±10% of perTicket; otherwise it is a synthetic ±15%.
func (e *Estimator) variability(perTicket float64, spread float64, ok bool) float64 {
	e.randMu.Lock()
	u := e.rng.Float64()*2 - 1
	e.randMu.Unlock()

	if !ok {
		return u * syntheticJitter * perTicket
	}
	bound := spreadJitter * perTicket
	return math.Max(-bound, math.Min(bound, u*spreadJitter*spread))
}

func (e *Estimator) serviceLock(serviceID string) *sync.Mutex {
	lock, _ := e.locks.LoadOrStore(serviceID, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// historicalMinutes picks the most specific learned average: this hour, this
// weekday, then the overall average.
func historicalMinutes(stat HistoricalStat, at time.Time) float64 {
	if p, ok := stat.HourPatterns[at.Hour()]; ok && p.Samples > 0 {
		return p.AverageMinutes
	}
	if p, ok := stat.WeekdayPatterns[int(at.Weekday())]; ok && p.Samples > 0 {
		return p.AverageMinutes
	}
	return stat.AverageMinutes
}

// patternSpread is the standard deviation of the populated sub-pattern
// averages relevant to at. It needs at least two to mean anything.
func patternSpread(stat HistoricalStat, at time.Time, operatorID string) (float64, bool) {
	var values []float64
	if p, ok := stat.HourPatterns[at.Hour()]; ok && p.Samples > 0 {
		values = append(values, p.AverageMinutes)
	}
	if p, ok := stat.WeekdayPatterns[int(at.Weekday())]; ok && p.Samples > 0 {
		values = append(values, p.AverageMinutes)
	}
	if p, ok := stat.OperatorPattern[operatorID]; ok && operatorID != "" && p.Samples > 0 {
		values = append(values, p.AverageMinutes)
	}
	if len(values) < 2 {
		return 0, false
	}
	values = append(values, stat.AverageMinutes)
	var mean float64
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	var variance float64
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(values))
	return math.Sqrt(variance), true
}

func loadMultiplier(queueLength, operators int) float64 {
	ratio := float64(queueLength) / float64(operators)
	switch {
	case ratio > 5:
		return 1.3
	case ratio > 3:
		return 1.15
	case ratio < 1:
		return 0.9
	default:
		return 1
	}
}

// efficiencyMultiplier is 2 - efficiency with efficiency held to [0.5, 1.5].
func efficiencyMultiplier(efficiency float64) float64 {
	if efficiency <= 0 || math.IsNaN(efficiency) {
		efficiency = 1
	}
	efficiency = math.Max(0.5, math.Min(1.5, efficiency))
	return 2 - efficiency
}

func clientMultiplier(clientType string) float64 {
	switch clientType {
	case models.ClientVIP:
		return 0.8
	case models.ClientNew:
		return 1.2
	default:
		return 1
	}
}

func queueMultiplier(queueLength int) float64 {
	if queueLength > LongQueueLength {
		return 0.95
	}
	return 1
}
