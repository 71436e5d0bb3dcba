package queue

import (
	"time"

	"qms/display-service/internal/models"
)

var testZone = time.FixedZone("WIB", 7*60*60)

// testNow is 12:00 local on the reference day; every clock in these tests is pinned to it.
var testNow = time.Date(2026, 10, 18, 12, 0, 0, 0, testZone)

func at(hour, minute int) time.Time {
	return time.Date(2026, 10, 18, hour, minute, 0, 0, testZone)
}

func ptr(t time.Time) *time.Time {
	return &t
}

func newTestBuilder() *Builder {
	return NewBuilder(Options{
		Now:      func() time.Time { return testNow },
		Location: testZone,
	})
}

func raw(t models.Ticket) models.RawTicket {
	return models.RawFromTicket(t)
}

func raws(tickets ...models.Ticket) []models.RawTicket {
	out := make([]models.RawTicket, 0, len(tickets))
	for _, t := range tickets {
		out = append(out, raw(t))
	}
	return out
}

func ids(tickets []models.Ticket) []int64 {
	out := make([]int64, 0, len(tickets))
	for _, t := range tickets {
		out = append(out, t.ID)
	}
	return out
}

// scenarioTickets is the three-ticket queue for service S1: two waiting
// tickets with the later one at higher priority, and one being served.
func scenarioTickets() (t1, t2, t3 models.Ticket) {
	t1 = models.Ticket{ID: 1, ServiceID: "S1", Status: models.StatusWaiting, Priority: 1, CreatedAt: at(10, 0)}
	t2 = models.Ticket{ID: 2, ServiceID: "S1", Status: models.StatusWaiting, Priority: 2, CreatedAt: at(10, 5)}
	t3 = models.Ticket{ID: 3, ServiceID: "S1", Status: models.StatusInProgress, CreatedAt: at(9, 50), StartedAt: ptr(at(9, 58))}
	return t1, t2, t3
}
