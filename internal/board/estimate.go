package board

import (
	"context"
	"errors"
	"fmt"

	"qms/display-service/internal/estimator"
	"qms/display-service/internal/models"
	"qms/display-service/internal/queue"
	"qms/display-service/internal/store"

	"github.com/rs/zerolog/log"
)

type Estimate struct {
	ServiceID          string `json:"service_id"`
	TicketID           int64  `json:"ticket_id,omitempty"`
	Position           int    `json:"position"`
	QueueLength        int    `json:"queue_length"`
	AvailableOperators int    `json:"available_operators"`
	Minutes            int    `json:"estimated_minutes"`
}

// EstimateTicket estimates the wait of a ticket already in the waiting line.
func (b *Board) EstimateTicket(ctx context.Context, serviceID string, ticketID int64) (Estimate, error) {
	snap, err := b.current(ctx, serviceID)
	if err != nil {
		return Estimate{}, err
	}
	position := snap.Position(ticketID)
	if position == 0 {
		return Estimate{}, ErrTicketNotWaiting
	}
	estimate, err := b.estimate(ctx, serviceID, snap, position, "")
	if err != nil {
		return Estimate{}, err
	}
	estimate.TicketID = ticketID
	return estimate, nil
}

// EstimateNew estimates the wait of a ticket drawn now, behind every waiting one.
func (b *Board) EstimateNew(ctx context.Context, serviceID, clientType string) (Estimate, error) {
	snap, err := b.current(ctx, serviceID)
	if err != nil {
		return Estimate{}, err
	}
	return b.estimate(ctx, serviceID, snap, len(snap.Waiting)+1, clientType)
}

func (b *Board) current(ctx context.Context, serviceID string) (queue.Snapshot, error) {
	if snap, ok := b.Snapshot(serviceID); ok {
		return snap, nil
	}
	return b.Refresh(ctx, serviceID)
}

func (b *Board) estimate(ctx context.Context, serviceID string, snap queue.Snapshot, position int, clientType string) (Estimate, error) {
	svc, err := b.directory.GetService(ctx, serviceID)
	if err != nil {
		return Estimate{}, fmt.Errorf("service %s: %w", serviceID, err)
	}
	operators := activeOperators(snap)
	factors := estimator.Factors{
		QueueLength:        len(snap.Waiting),
		AvailableOperators: max(len(operators), 1),
		OperatorEfficiency: b.efficiency(ctx, operators),
		ClientType:         clientType,
		At:                 b.now(),
	}
	if len(operators) == 1 {
		factors.OperatorID = operators[0]
	}

	minutes := b.estimator.Estimate(ctx, serviceID, position, svc.BaselineMinutes, factors)
	return Estimate{
		ServiceID:          serviceID,
		Position:           position,
		QueueLength:        factors.QueueLength,
		AvailableOperators: factors.AvailableOperators,
		Minutes:            minutes,
	}, nil
}

// activeOperators lists the distinct operators holding a called or
// in-progress ticket, in first-seen order.
func activeOperators(snap queue.Snapshot) []string {
	seen := make(map[string]struct{})
	var operators []string
	for _, bucket := range [][]models.Ticket{snap.InProgress, snap.Called} {
		for _, ticket := range bucket {
			if ticket.OperatorID == "" {
				continue
			}
			if _, ok := seen[ticket.OperatorID]; ok {
				continue
			}
			seen[ticket.OperatorID] = struct{}{}
			operators = append(operators, ticket.OperatorID)
		}
	}
	return operators
}

// efficiency averages the configured efficiency of the operators the
// directory knows. Zero leaves the estimator to its learned figures.
func (b *Board) efficiency(ctx context.Context, operatorIDs []string) float64 {
	var total float64
	var known int
	for _, id := range operatorIDs {
		op, err := b.directory.GetOperator(ctx, id)
		if err != nil {
			if !errors.Is(err, store.ErrOperatorNotFound) {
				log.Warn().Err(err).Str("operator_id", id).Msg("operator lookup failed")
			}
			continue
		}
		if op.Efficiency > 0 {
			total += op.Efficiency
			known++
		}
	}
	if known == 0 {
		return 0
	}
	return total / float64(known)
}
