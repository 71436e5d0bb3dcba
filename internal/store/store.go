package store

import (
	"context"
	"encoding/json"
	"time"

	"qms/display-service/internal/models"
)

type OutboxEvent struct {
	EventID   string          `json:"event_id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// OutboxOffset is the keyset position of the last applied outbox event.
type OutboxOffset struct {
	LastEventTime time.Time
	LastEventID   string
}

type Store interface {
	// ListBoardTickets returns every non-terminal ticket of a service plus
	// the ones that completed or went absent since dayStart.
	ListBoardTickets(ctx context.Context, serviceID string, dayStart time.Time) ([]models.RawTicket, error)
	ListServices(ctx context.Context) ([]models.Service, error)
	GetService(ctx context.Context, serviceID string) (models.Service, error)
	GetOperator(ctx context.Context, operatorID string) (models.Operator, error)
	ListOutboxEvents(ctx context.Context, offset OutboxOffset, limit int) ([]OutboxEvent, error)
	GetOffset(ctx context.Context, consumer string) (OutboxOffset, error)
	UpdateOffset(ctx context.Context, consumer string, offset OutboxOffset) error
}
