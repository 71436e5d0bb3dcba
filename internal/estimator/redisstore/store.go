package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"qms/display-service/internal/estimator"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "display:stats:"

// Store keeps one JSON document per service in Redis.
type Store struct {
	client redis.Cmdable
	ttl    time.Duration
}

// New returns a store over client. A zero ttl keeps stats forever.
func New(client redis.Cmdable, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl}
}

func Key(serviceID string) string {
	return keyPrefix + serviceID
}

func (s *Store) Load(ctx context.Context, serviceID string) (estimator.HistoricalStat, bool, error) {
	data, err := s.client.Get(ctx, Key(serviceID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return estimator.HistoricalStat{}, false, nil
	}
	if err != nil {
		return estimator.HistoricalStat{}, false, err
	}
	var stat estimator.HistoricalStat
	if err := json.Unmarshal(data, &stat); err != nil {
		return estimator.HistoricalStat{}, false, fmt.Errorf("decode stats %s: %w", serviceID, err)
	}
	return stat, true, nil
}

func (s *Store) Save(ctx context.Context, stat estimator.HistoricalStat) error {
	data, err := json.Marshal(stat)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, Key(stat.ServiceID), data, s.ttl).Err()
}
