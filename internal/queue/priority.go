package queue

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"qms/display-service/internal/models"
)

const (
	MinPriority     = 0
	MaxPriority     = 5
	DefaultPriority = 0
)

// RefFunc picks the timestamp a bucket orders by.
type RefFunc func(models.Ticket) time.Time

// NormalizePriorityLevel maps any priority-like value onto [MinPriority, MaxPriority].
// Nil, NaN, infinities and unparseable input become DefaultPriority.
func NormalizePriorityLevel(value any) int {
	var f float64
	switch v := value.(type) {
	case nil:
		return DefaultPriority
	case int:
		f = float64(v)
	case int32:
		f = float64(v)
	case int64:
		f = float64(v)
	case float32:
		f = float64(v)
	case float64:
		f = v
	case *int:
		if v == nil {
			return DefaultPriority
		}
		f = float64(*v)
	case *float64:
		if v == nil {
			return DefaultPriority
		}
		f = *v
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return DefaultPriority
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return DefaultPriority
		}
		f = parsed
	default:
		return DefaultPriority
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return DefaultPriority
	}
	level := int(math.Round(f))
	if level < MinPriority {
		return MinPriority
	}
	if level > MaxPriority {
		return MaxPriority
	}
	return level
}

// Compare orders by priority descending, then ref ascending, then id ascending.
// It returns -1 when a sorts before b.
func Compare(a, b models.Ticket, ref RefFunc) int {
	if a.Priority != b.Priority {
		if a.Priority > b.Priority {
			return -1
		}
		return 1
	}
	return CompareChronological(a, b, ref)
}

// CompareChronological is Compare without the priority step.
func CompareChronological(a, b models.Ticket, ref RefFunc) int {
	if c := compareTime(ref(a), ref(b)); c != 0 {
		return c
	}
	return compareID(a.ID, b.ID)
}

// compareRecent orders most recent first; ties fall back to id ascending.
func compareRecent(a, b models.Ticket, ref RefFunc) int {
	if c := compareTime(ref(b), ref(a)); c != 0 {
		return c
	}
	return compareID(a.ID, b.ID)
}

func compareTime(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	default:
		return 0
	}
}

func compareID(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// firstTime returns the first non-nil timestamp, falling back to the zero
// sentinel, which sorts as the oldest.
func firstTime(values ...*time.Time) time.Time {
	for _, value := range values {
		if value != nil && !value.IsZero() {
			return *value
		}
	}
	return time.Time{}
}
