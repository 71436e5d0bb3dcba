package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"qms/display-service/internal/board"
	"qms/display-service/internal/models"
	"qms/display-service/internal/queue"
	"qms/display-service/internal/store"

	"github.com/rs/zerolog/log"
)

const ticketEventPrefix = "ticket."

type Source interface {
	ListOutboxEvents(ctx context.Context, offset store.OutboxOffset, limit int) ([]store.OutboxEvent, error)
	GetOffset(ctx context.Context, consumer string) (store.OutboxOffset, error)
	UpdateOffset(ctx context.Context, consumer string, offset store.OutboxOffset) error
}

type Applier interface {
	Apply(ctx context.Context, raw models.RawTicket) (queue.Snapshot, error)
}

// Consumer tails the outbox and applies every ticket event to the board.
// Offsets are committed after each batch, so a crash replays at most one
// batch; board updates are idempotent.
type Consumer struct {
	source    Source
	applier   Applier
	name      string
	batchSize int

	offset  store.OutboxOffset
	loaded  bool
	running int32
}

func NewConsumer(source Source, applier Applier, name string, batchSize int) *Consumer {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Consumer{source: source, applier: applier, name: name, batchSize: batchSize}
}

// Poll applies one batch and returns how many events it consumed. Overlapping
// calls return immediately.
func (c *Consumer) Poll(ctx context.Context) (int, error) {
	if !atomic.CompareAndSwapInt32(&c.running, 0, 1) {
		return 0, nil
	}
	defer atomic.StoreInt32(&c.running, 0)

	if !c.loaded {
		offset, err := c.source.GetOffset(ctx, c.name)
		if err != nil {
			return 0, fmt.Errorf("load offset: %w", err)
		}
		c.offset = offset
		c.loaded = true
	}

	events, err := c.source.ListOutboxEvents(ctx, c.offset, c.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list outbox: %w", err)
	}
	for _, event := range events {
		if err := c.handle(ctx, event); err != nil {
			// Source failures stop the batch so the event is retried.
			if !isPermanent(err) {
				return 0, err
			}
			log.Warn().Err(err).Str("event_id", event.EventID).Str("type", event.Type).Msg("skip outbox event")
		}
		c.offset = store.OutboxOffset{LastEventTime: event.CreatedAt, LastEventID: event.EventID}
	}
	if len(events) > 0 {
		if err := c.source.UpdateOffset(ctx, c.name, c.offset); err != nil {
			return len(events), fmt.Errorf("update offset: %w", err)
		}
	}
	return len(events), nil
}

// Run polls every interval until ctx is done.
func (c *Consumer) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			pollCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if _, err := c.Poll(pollCtx); err != nil {
				log.Error().Err(err).Msg("outbox poll")
			}
			cancel()
		}
	}
}

func (c *Consumer) handle(ctx context.Context, event store.OutboxEvent) error {
	if !strings.HasPrefix(event.Type, ticketEventPrefix) {
		return nil
	}
	var raw models.RawTicket
	if err := json.Unmarshal(event.Payload, &raw); err != nil {
		return permanent{fmt.Errorf("decode payload: %w", err)}
	}
	if _, err := c.applier.Apply(ctx, raw); err != nil {
		if errors.Is(err, queue.ErrMissingTicketID) || errors.Is(err, board.ErrMissingServiceID) || errors.Is(err, store.ErrServiceNotFound) {
			return permanent{err}
		}
		return err
	}
	return nil
}

type permanent struct {
	error
}

func (p permanent) Unwrap() error {
	return p.error
}

func isPermanent(err error) bool {
	var p permanent
	return errors.As(err, &p)
}
