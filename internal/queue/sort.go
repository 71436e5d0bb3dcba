package queue

import (
	"slices"
	"time"

	"qms/display-service/internal/models"
)

func inProgressRef(t models.Ticket) time.Time {
	return firstTime(t.StartedAt, t.CalledAt, &t.CreatedAt)
}

func calledRef(t models.Ticket) time.Time {
	return firstTime(t.CalledAt, &t.CreatedAt)
}

func waitingRef(t models.Ticket) time.Time {
	return firstTime(t.RequeuedAt, &t.CreatedAt)
}

func absentRef(t models.Ticket) time.Time {
	return firstTime(t.AbsentAt, t.RequeuedAt, t.CalledAt, &t.CreatedAt)
}

func completedRef(t models.Ticket) time.Time {
	start, _ := t.ServiceStart()
	return start
}

// SortInProgress orders by start time, oldest first.
func SortInProgress(tickets []models.Ticket) []models.Ticket {
	return sortedCopy(tickets, func(a, b models.Ticket) int {
		return CompareChronological(a, b, inProgressRef)
	})
}

// SortCalled orders by call time, oldest first.
func SortCalled(tickets []models.Ticket) []models.Ticket {
	return sortedCopy(tickets, func(a, b models.Ticket) int {
		return CompareChronological(a, b, calledRef)
	})
}

// SortWaiting orders by priority, then by requeue or creation time.
func SortWaiting(tickets []models.Ticket) []models.Ticket {
	return sortedCopy(tickets, func(a, b models.Ticket) int {
		return Compare(a, b, waitingRef)
	})
}

// SortAbsent puts the most recently absent ticket first.
func SortAbsent(tickets []models.Ticket) []models.Ticket {
	return sortedCopy(tickets, func(a, b models.Ticket) int {
		return compareRecent(a, b, absentRef)
	})
}

// SortRecentlyCompleted puts the most recent service start first.
func SortRecentlyCompleted(tickets []models.Ticket) []models.Ticket {
	return sortedCopy(tickets, func(a, b models.Ticket) int {
		return compareRecent(a, b, completedRef)
	})
}

func sortedCopy(tickets []models.Ticket, cmp func(a, b models.Ticket) int) []models.Ticket {
	out := make([]models.Ticket, len(tickets))
	copy(out, tickets)
	slices.SortStableFunc(out, cmp)
	return out
}
