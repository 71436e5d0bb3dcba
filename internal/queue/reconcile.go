package queue

import (
	"errors"

	"qms/display-service/internal/models"
)

var ErrMissingTicketID = errors.New("ticket id is required")

// Apply patches a snapshot with one ticket's new state. Only the bucket the
// ticket lands in is re-sorted. Applying the same state twice is a no-op.
func (b *Builder) Apply(s Snapshot, raw models.RawTicket) (Snapshot, error) {
	ticket, ok := Sanitize(raw)
	if !ok {
		return s, ErrMissingTicketID
	}

	now := b.now()
	next := Snapshot{
		InProgress:        without(s.InProgress, ticket.ID),
		Called:            without(s.Called, ticket.ID),
		Waiting:           without(s.Waiting, ticket.ID),
		Absent:            without(s.Absent, ticket.ID),
		RecentlyCompleted: without(s.RecentlyCompleted, ticket.ID),
		GeneratedAt:       now,
	}

	switch ticket.Status {
	case models.StatusInProgress:
		next.InProgress = SortInProgress(append(next.InProgress, ticket))
	case models.StatusCalled:
		next.Called = SortCalled(append(next.Called, ticket))
	case models.StatusWaiting:
		next.Waiting = SortWaiting(append(next.Waiting, ticket))
	case models.StatusAbsent:
		next.Absent = SortAbsent(append(next.Absent, ticket))
	case models.StatusCompleted:
		next.RecentlyCompleted = b.recent(append(next.RecentlyCompleted, ticket), now)
	}

	// without already dropped the id everywhere; these guard the two
	// history buckets against a status that does not belong there.
	if ticket.Status != models.StatusCompleted {
		next.RecentlyCompleted = without(next.RecentlyCompleted, ticket.ID)
	}
	if ticket.Status != models.StatusAbsent {
		next.Absent = without(next.Absent, ticket.ID)
	}

	current := s.Current
	if current != nil && current.ID == ticket.ID {
		if ticket.Status.Active() {
			t := ticket
			current = &t
		} else {
			current = nil
		}
	} else if current != nil {
		t := *current
		current = &t
	}
	if current == nil && ticket.Status == models.StatusInProgress {
		t := ticket
		current = &t
	}
	if current == nil {
		current = resolveCurrent(0, next)
	}
	next.Current = current
	next.Next = nextTickets(next)
	return next, nil
}

// Remove drops a ticket from every bucket, for a ticket that now belongs to
// another service. The current ticket is re-resolved when it was the one
// removed.
func (b *Builder) Remove(s Snapshot, ticketID int64) Snapshot {
	next := Snapshot{
		InProgress:        without(s.InProgress, ticketID),
		Called:            without(s.Called, ticketID),
		Waiting:           without(s.Waiting, ticketID),
		Absent:            without(s.Absent, ticketID),
		RecentlyCompleted: without(s.RecentlyCompleted, ticketID),
		GeneratedAt:       b.now(),
	}
	if s.Current != nil && s.Current.ID != ticketID {
		next.Current = resolveCurrent(s.Current.ID, next)
	} else {
		next.Current = resolveCurrent(0, next)
	}
	next.Next = nextTickets(next)
	return next
}

// without returns a fresh copy of tickets minus the given id.
func without(tickets []models.Ticket, id int64) []models.Ticket {
	out := make([]models.Ticket, 0, len(tickets))
	for _, ticket := range tickets {
		if ticket.ID != id {
			out = append(out, ticket)
		}
	}
	return out
}
