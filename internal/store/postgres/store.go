package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"qms/display-service/internal/models"
	"qms/display-service/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const zeroUUID = "00000000-0000-0000-0000-000000000000"

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) ListBoardTickets(ctx context.Context, serviceID string, dayStart time.Time) ([]models.RawTicket, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT ticket_id, ticket_number, service_id, operator_id, client_id, status, priority,
			created_at, called_at, started_at, service_started_at, completed_at, requeued_at, absent_at
		FROM tickets
		WHERE service_id = $1
			AND (
				UPPER(status) IN ('WAITING','CALLED','IN_PROGRESS','SERVING')
				OR (UPPER(status) IN ('COMPLETED','ABSENT','DONE','NO_SHOW') AND COALESCE(completed_at, absent_at, created_at) >= $2)
			)
		ORDER BY created_at ASC, ticket_id ASC
	`, serviceID, dayStart)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []models.RawTicket
	for rows.Next() {
		var (
			id                 int64
			number, service    string
			status             string
			priority           sql.NullInt32
			operator, client   sql.NullString
			createdAt          time.Time
			calledAt, started  sql.NullTime
			serviceStarted     sql.NullTime
			completed, requeue sql.NullTime
			absent             sql.NullTime
		)
		if err := rows.Scan(&id, &number, &service, &operator, &client, &status, &priority,
			&createdAt, &calledAt, &started, &serviceStarted, &completed, &requeue, &absent); err != nil {
			return nil, err
		}
		raw := models.RawTicket{
			ID:               id,
			Number:           number,
			ServiceID:        service,
			OperatorID:       nullStringValue(operator),
			ClientID:         nullStringValue(client),
			Status:           status,
			CreatedAt:        createdAt,
			CalledAt:         nullTimeValue(calledAt),
			StartedAt:        nullTimeValue(started),
			ServiceStartedAt: nullTimeValue(serviceStarted),
			CompletedAt:      nullTimeValue(completed),
			RequeuedAt:       nullTimeValue(requeue),
			AbsentAt:         nullTimeValue(absent),
		}
		if priority.Valid {
			raw.Priority = int(priority.Int32)
		}
		tickets = append(tickets, raw)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tickets, nil
}

func (s *Store) ListServices(ctx context.Context) ([]models.Service, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT service_id, name, code, priority_weight, baseline_minutes
		FROM services
		WHERE active = TRUE
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var services []models.Service
	for rows.Next() {
		var svc models.Service
		if err := rows.Scan(&svc.ServiceID, &svc.Name, &svc.Code, &svc.PriorityWeight, &svc.BaselineMinutes); err != nil {
			return nil, err
		}
		services = append(services, svc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return services, nil
}

func (s *Store) GetService(ctx context.Context, serviceID string) (models.Service, error) {
	var svc models.Service
	row := s.pool.QueryRow(ctx, `
		SELECT service_id, name, code, priority_weight, baseline_minutes
		FROM services
		WHERE service_id = $1
	`, serviceID)
	if err := row.Scan(&svc.ServiceID, &svc.Name, &svc.Code, &svc.PriorityWeight, &svc.BaselineMinutes); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Service{}, store.ErrServiceNotFound
		}
		return models.Service{}, err
	}
	return svc, nil
}

func (s *Store) GetOperator(ctx context.Context, operatorID string) (models.Operator, error) {
	var op models.Operator
	row := s.pool.QueryRow(ctx, `
		SELECT operator_id, name, efficiency
		FROM operators
		WHERE operator_id = $1
	`, operatorID)
	if err := row.Scan(&op.OperatorID, &op.Name, &op.Efficiency); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Operator{}, store.ErrOperatorNotFound
		}
		return models.Operator{}, err
	}
	return op, nil
}

func (s *Store) ListOutboxEvents(ctx context.Context, offset store.OutboxOffset, limit int) ([]store.OutboxEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	after := offset.LastEventTime
	if after.IsZero() {
		after = time.Unix(0, 0).UTC()
	}
	afterID := offset.LastEventID
	if afterID == "" {
		afterID = zeroUUID
	}
	rows, err := s.pool.Query(ctx, `
		SELECT event_id::text, type, payload_json, created_at
		FROM outbox_events
		WHERE (created_at, event_id) > ($1, $2::uuid)
		ORDER BY created_at ASC, event_id ASC
		LIMIT $3
	`, after, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []store.OutboxEvent
	for rows.Next() {
		var event store.OutboxEvent
		if err := rows.Scan(&event.EventID, &event.Type, &event.Payload, &event.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// GetOffset returns the zero offset for a consumer that has never committed.
func (s *Store) GetOffset(ctx context.Context, consumer string) (store.OutboxOffset, error) {
	var offset store.OutboxOffset
	row := s.pool.QueryRow(ctx, `
		SELECT last_event_time, last_event_id::text
		FROM display_offsets
		WHERE consumer = $1
	`, consumer)
	if err := row.Scan(&offset.LastEventTime, &offset.LastEventID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.OutboxOffset{}, nil
		}
		return store.OutboxOffset{}, err
	}
	return offset, nil
}

func (s *Store) UpdateOffset(ctx context.Context, consumer string, offset store.OutboxOffset) error {
	eventID := offset.LastEventID
	if eventID == "" {
		eventID = zeroUUID
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO display_offsets (consumer, last_event_time, last_event_id, updated_at)
		VALUES ($1, $2, $3::uuid, NOW())
		ON CONFLICT (consumer) DO UPDATE
		SET last_event_time = EXCLUDED.last_event_time,
			last_event_id = EXCLUDED.last_event_id,
			updated_at = NOW()
	`, consumer, offset.LastEventTime, eventID)
	return err
}

func nullTimeValue(value sql.NullTime) any {
	if !value.Valid {
		return nil
	}
	return value.Time
}

func nullStringValue(value sql.NullString) any {
	if !value.Valid {
		return nil
	}
	return value.String
}
