package models

import "time"

type Status string

const (
	StatusWaiting    Status = "WAITING"
	StatusCalled     Status = "CALLED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusCancelled  Status = "CANCELLED"
	StatusAbsent     Status = "ABSENT"
)

var statuses = []Status{
	StatusWaiting,
	StatusCalled,
	StatusInProgress,
	StatusCompleted,
	StatusCancelled,
	StatusAbsent,
}

// ParseStatus reports whether value is one of the closed set of ticket statuses.
// The match is exact; callers normalise case and whitespace first.
func ParseStatus(value string) (Status, bool) {
	for _, status := range statuses {
		if string(status) == value {
			return status, true
		}
	}
	return "", false
}

// Active reports whether a ticket in this status can still be the focus of a counter.
func (s Status) Active() bool {
	return s == StatusInProgress || s == StatusCalled || s == StatusWaiting
}

type Ticket struct {
	ID               int64      `json:"id"`
	Number           string     `json:"number,omitempty"`
	ServiceID        string     `json:"service_id,omitempty"`
	OperatorID       string     `json:"operator_id,omitempty"`
	ClientID         string     `json:"client_id,omitempty"`
	Status           Status     `json:"status"`
	Priority         int        `json:"priority"`
	CreatedAt        time.Time  `json:"created_at"`
	CalledAt         *time.Time `json:"called_at,omitempty"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	ServiceStartedAt *time.Time `json:"service_started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	RequeuedAt       *time.Time `json:"requeued_at,omitempty"`
	AbsentAt         *time.Time `json:"absent_at,omitempty"`
}

// ServiceStart resolves the moment service began: the explicit service-start
// field first, then StartedAt.
func (t Ticket) ServiceStart() (time.Time, bool) {
	if t.ServiceStartedAt != nil && !t.ServiceStartedAt.IsZero() {
		return *t.ServiceStartedAt, true
	}
	if t.StartedAt != nil && !t.StartedAt.IsZero() {
		return *t.StartedAt, true
	}
	return time.Time{}, false
}
