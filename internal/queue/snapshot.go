package queue

import (
	"fmt"
	"time"

	"qms/display-service/internal/models"
)

const DefaultRecentLimit = 5

// Snapshot is the reconciled view of one service's queue. Values returned by
// the Builder are never modified afterwards; hold on to them freely.
type Snapshot struct {
	InProgress        []models.Ticket `json:"in_progress"`
	Called            []models.Ticket `json:"called"`
	Waiting           []models.Ticket `json:"waiting"`
	Absent            []models.Ticket `json:"absent"`
	RecentlyCompleted []models.Ticket `json:"recently_completed"`
	Current           *models.Ticket  `json:"current_ticket"`
	Next              []models.Ticket `json:"next_tickets"`
	GeneratedAt       time.Time       `json:"generated_at"`
}

type Options struct {
	Now         func() time.Time
	Location    *time.Location
	RecentLimit int
}

type Builder struct {
	now         func() time.Time
	location    *time.Location
	recentLimit int
}

func NewBuilder(options Options) *Builder {
	now := options.Now
	if now == nil {
		now = time.Now
	}
	location := options.Location
	if location == nil {
		location = time.Local
	}
	limit := options.RecentLimit
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	return &Builder{now: now, location: location, recentLimit: limit}
}

// Build reconciles a full set of tickets into a snapshot.
func (b *Builder) Build(raws []models.RawTicket) Snapshot {
	return b.build(0, raws)
}

// Rebuild is Build, but keeps prev's current ticket in focus while it is
// still active in the new data.
func (b *Builder) Rebuild(prev Snapshot, raws []models.RawTicket) Snapshot {
	var preferred int64
	if prev.Current != nil {
		preferred = prev.Current.ID
	}
	return b.build(preferred, raws)
}

func (b *Builder) build(preferred int64, raws []models.RawTicket) Snapshot {
	seen := make(map[int64]struct{}, len(raws))
	var inProgress, called, waiting, absent, completed []models.Ticket
	for _, raw := range raws {
		ticket, ok := Sanitize(raw)
		if !ok {
			continue
		}
		if _, dup := seen[ticket.ID]; dup {
			continue
		}
		seen[ticket.ID] = struct{}{}
		switch ticket.Status {
		case models.StatusInProgress:
			inProgress = append(inProgress, ticket)
		case models.StatusCalled:
			called = append(called, ticket)
		case models.StatusWaiting:
			waiting = append(waiting, ticket)
		case models.StatusAbsent:
			absent = append(absent, ticket)
		case models.StatusCompleted:
			completed = append(completed, ticket)
		}
	}

	now := b.now()
	snap := Snapshot{
		InProgress:        SortInProgress(inProgress),
		Called:            SortCalled(called),
		Waiting:           SortWaiting(waiting),
		Absent:            SortAbsent(absent),
		RecentlyCompleted: b.recent(completed, now),
		GeneratedAt:       now,
	}
	snap.Current = resolveCurrent(preferred, snap)
	snap.Next = nextTickets(snap)
	return snap
}

// recent keeps completed tickets whose service started today, most recent
// first, capped at the builder's limit.
func (b *Builder) recent(completed []models.Ticket, now time.Time) []models.Ticket {
	today := make([]models.Ticket, 0, len(completed))
	for _, ticket := range completed {
		if b.startedToday(ticket, now) {
			today = append(today, ticket)
		}
	}
	sorted := SortRecentlyCompleted(today)
	if len(sorted) > b.recentLimit {
		sorted = sorted[:b.recentLimit]
	}
	return sorted
}

func (b *Builder) startedToday(ticket models.Ticket, now time.Time) bool {
	start, ok := ticket.ServiceStart()
	if !ok {
		return false
	}
	y1, m1, d1 := start.In(b.location).Date()
	y2, m2, d2 := now.In(b.location).Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

// resolveCurrent keeps the preferred ticket when it is still active, else
// takes the head of in-progress, called, then waiting.
func resolveCurrent(preferred int64, snap Snapshot) *models.Ticket {
	if preferred != 0 {
		for _, bucket := range [][]models.Ticket{snap.InProgress, snap.Called, snap.Waiting} {
			for _, ticket := range bucket {
				if ticket.ID == preferred {
					t := ticket
					return &t
				}
			}
		}
	}
	for _, bucket := range [][]models.Ticket{snap.InProgress, snap.Called, snap.Waiting} {
		if len(bucket) > 0 {
			t := bucket[0]
			return &t
		}
	}
	return nil
}

func nextTickets(snap Snapshot) []models.Ticket {
	total := len(snap.InProgress) + len(snap.Called) + len(snap.Waiting)
	next := make([]models.Ticket, 0, total)
	seen := make(map[int64]struct{}, total)
	if snap.Current != nil {
		seen[snap.Current.ID] = struct{}{}
	}
	for _, bucket := range [][]models.Ticket{snap.InProgress, snap.Called, snap.Waiting} {
		for _, ticket := range bucket {
			if _, skip := seen[ticket.ID]; skip {
				continue
			}
			seen[ticket.ID] = struct{}{}
			next = append(next, ticket)
		}
	}
	return next
}

// Validate checks the structural guarantees of a snapshot: buckets are
// disjoint by id, the current ticket sits in exactly one bucket and is not
// repeated in Next.
func (s Snapshot) Validate() error {
	owner := make(map[int64]string)
	buckets := []struct {
		name    string
		tickets []models.Ticket
	}{
		{"in_progress", s.InProgress},
		{"called", s.Called},
		{"waiting", s.Waiting},
		{"absent", s.Absent},
		{"recently_completed", s.RecentlyCompleted},
	}
	for _, bucket := range buckets {
		for _, ticket := range bucket.tickets {
			if prev, ok := owner[ticket.ID]; ok {
				return fmt.Errorf("ticket %d in both %s and %s", ticket.ID, prev, bucket.name)
			}
			owner[ticket.ID] = bucket.name
		}
	}
	if s.Current != nil {
		if _, ok := owner[s.Current.ID]; !ok {
			return fmt.Errorf("current ticket %d is in no bucket", s.Current.ID)
		}
		for _, ticket := range s.Next {
			if ticket.ID == s.Current.ID {
				return fmt.Errorf("current ticket %d repeated in next tickets", s.Current.ID)
			}
		}
	}
	return nil
}

// Position returns the 1-based place of a waiting ticket, or 0 when the
// ticket is not waiting.
func (s Snapshot) Position(ticketID int64) int {
	for i, ticket := range s.Waiting {
		if ticket.ID == ticketID {
			return i + 1
		}
	}
	return 0
}

// Find looks a ticket up across all buckets.
func (s Snapshot) Find(ticketID int64) (models.Ticket, bool) {
	for _, bucket := range [][]models.Ticket{s.InProgress, s.Called, s.Waiting, s.Absent, s.RecentlyCompleted} {
		for _, ticket := range bucket {
			if ticket.ID == ticketID {
				return ticket, true
			}
		}
	}
	return models.Ticket{}, false
}
