package estimator

import (
	"context"
	"sync"
	"time"
)

const (
	overallCap  = 100
	hourCap     = 10
	weekdayCap  = 5
	operatorCap = 20
)

// Pattern is the running average for one temporal or operator bucket.
type Pattern struct {
	AverageMinutes float64 `json:"avg_minutes"`
	Samples        int     `json:"samples"`
}

// HistoricalStat is the learned service-time model of one service.
type HistoricalStat struct {
	ServiceID       string             `json:"service_id"`
	AverageMinutes  float64            `json:"avg_minutes"`
	SampleCount     int                `json:"sample_count"`
	HourPatterns    map[int]Pattern    `json:"hour_patterns"`
	WeekdayPatterns map[int]Pattern    `json:"weekday_patterns"`
	OperatorPattern map[string]Pattern `json:"operator_patterns"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

func newStat(serviceID string) HistoricalStat {
	return HistoricalStat{
		ServiceID:       serviceID,
		HourPatterns:    make(map[int]Pattern),
		WeekdayPatterns: make(map[int]Pattern),
		OperatorPattern: make(map[string]Pattern),
	}
}

// blend folds one sample into a capped running average: once count reaches
// limit, older history keeps a fixed weight of limit samples.
func blend(average float64, count, limit int, sample float64) float64 {
	weight := count
	if weight > limit {
		weight = limit
	}
	return (average*float64(weight) + sample) / float64(weight+1)
}

func (p Pattern) add(sample float64, limit int) Pattern {
	return Pattern{
		AverageMinutes: blend(p.AverageMinutes, p.Samples, limit, sample),
		Samples:        p.Samples + 1,
	}
}

// record returns a copy of s with the sample folded in.
func (s HistoricalStat) record(minutes float64, operatorID string, at time.Time) HistoricalStat {
	next := newStat(s.ServiceID)
	for k, v := range s.HourPatterns {
		next.HourPatterns[k] = v
	}
	for k, v := range s.WeekdayPatterns {
		next.WeekdayPatterns[k] = v
	}
	for k, v := range s.OperatorPattern {
		next.OperatorPattern[k] = v
	}

	next.AverageMinutes = blend(s.AverageMinutes, s.SampleCount, overallCap, minutes)
	next.SampleCount = s.SampleCount + 1
	next.HourPatterns[at.Hour()] = next.HourPatterns[at.Hour()].add(minutes, hourCap)
	weekday := int(at.Weekday())
	next.WeekdayPatterns[weekday] = next.WeekdayPatterns[weekday].add(minutes, weekdayCap)
	if operatorID != "" {
		next.OperatorPattern[operatorID] = next.OperatorPattern[operatorID].add(minutes, operatorCap)
	}
	next.UpdatedAt = at
	return next
}

// Store persists historical stats. Load reports found=false for services
// that have never completed a ticket.
type Store interface {
	Load(ctx context.Context, serviceID string) (HistoricalStat, bool, error)
	Save(ctx context.Context, stat HistoricalStat) error
}

// MemoryStore keeps stats in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	stats map[string]HistoricalStat
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{stats: make(map[string]HistoricalStat)}
}

func (m *MemoryStore) Load(_ context.Context, serviceID string) (HistoricalStat, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stat, ok := m.stats[serviceID]
	return stat, ok, nil
}

func (m *MemoryStore) Save(_ context.Context, stat HistoricalStat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats[stat.ServiceID] = stat
	return nil
}
