package queue

import (
	"encoding/json"
	"testing"
	"time"

	"qms/display-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeStatus(t *testing.T) {
	cases := []struct {
		in   any
		want models.Status
	}{
		{"waiting", models.StatusWaiting},
		{"  called ", models.StatusCalled},
		{"in_progress", models.StatusInProgress},
		{"in-progress", models.StatusInProgress},
		{"COMPLETED", models.StatusCompleted},
		{"cancelled", models.StatusCancelled},
		{"Absent", models.StatusAbsent},
		{"serving", models.StatusInProgress},
		{"done", models.StatusCompleted},
		{"no_show", models.StatusAbsent},
		{"No-Show", models.StatusAbsent},
		{"held", models.StatusCancelled},
		{"canceled", models.StatusCancelled},
		{"paused", models.StatusWaiting},
		{"", models.StatusWaiting},
		{nil, models.StatusWaiting},
	}
	for _, tc := range cases {
		ticket, ok := Sanitize(models.RawTicket{ID: 1, Status: tc.in})
		require.True(t, ok)
		assert.Equal(t, tc.want, ticket.Status, "status %v", tc.in)
	}
}

func TestSanitizeTicketServicePayloadLeavesLine(t *testing.T) {
	b := NewBuilder(Options{Now: func() time.Time { return time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC) }, Location: time.UTC})
	var raws []models.RawTicket
	for _, payload := range []string{
		`{"ticket_id": 1, "status": "waiting", "created_at": "2026-10-18T10:00:00Z"}`,
		`{"ticket_id": 2, "status": "done", "created_at": "2026-10-18T09:00:00Z", "served_at": "2026-10-18T09:30:00Z", "completed_at": "2026-10-18T09:40:00Z"}`,
		`{"ticket_id": 3, "status": "no_show", "created_at": "2026-10-18T09:10:00Z", "no_show_at": "2026-10-18T09:50:00Z"}`,
		`{"ticket_id": 4, "status": "serving", "counter_id": "op-1", "created_at": "2026-10-18T09:20:00Z", "served_at": "2026-10-18T11:00:00Z"}`,
		`{"ticket_id": 5, "status": "held", "created_at": "2026-10-18T09:30:00Z"}`,
	} {
		var raw models.RawTicket
		require.NoError(t, json.Unmarshal([]byte(payload), &raw))
		raws = append(raws, raw)
	}

	snap := b.Build(raws)

	require.Len(t, snap.Waiting, 1)
	assert.Equal(t, int64(1), snap.Waiting[0].ID)
	require.Len(t, snap.RecentlyCompleted, 1)
	assert.Equal(t, int64(2), snap.RecentlyCompleted[0].ID)
	require.Len(t, snap.Absent, 1)
	assert.Equal(t, int64(3), snap.Absent[0].ID)
	require.NotNil(t, snap.Current)
	assert.Equal(t, int64(4), snap.Current.ID)
	_, found := snap.Find(5)
	assert.False(t, found)
}

func TestSanitizeRejectsMissingID(t *testing.T) {
	for _, id := range []any{nil, 0, -4, "abc", 1.5, json.Number("x")} {
		_, ok := Sanitize(models.RawTicket{ID: id, Status: "waiting"})
		assert.False(t, ok, "id %v", id)
	}
	ticket, ok := Sanitize(models.RawTicket{ID: "17"})
	require.True(t, ok)
	assert.Equal(t, int64(17), ticket.ID)
}

func TestSanitizeDates(t *testing.T) {
	created := time.Date(2026, 10, 18, 3, 0, 0, 0, time.UTC)
	ticket, ok := Sanitize(models.RawTicket{
		ID:          1,
		CreatedAt:   "2026-10-18T03:00:00Z",
		CalledAt:    "not a date",
		StartedAt:   created.Add(time.Minute),
		CompletedAt: json.Number("1792292400000"),
		RequeuedAt:  time.Time{},
		AbsentAt:    true,
	})
	require.True(t, ok)
	assert.True(t, ticket.CreatedAt.Equal(created))
	assert.Nil(t, ticket.CalledAt)
	require.NotNil(t, ticket.StartedAt)
	assert.True(t, ticket.StartedAt.Equal(created.Add(time.Minute)))
	require.NotNil(t, ticket.CompletedAt)
	assert.Equal(t, int64(1792292400000), ticket.CompletedAt.UnixMilli())
	assert.Nil(t, ticket.RequeuedAt)
	assert.Nil(t, ticket.AbsentAt)
}

func TestSanitizeMissingCreatedAtKeepsSentinel(t *testing.T) {
	ticket, ok := Sanitize(models.RawTicket{ID: 3, CreatedAt: "yesterday"})
	require.True(t, ok)
	assert.True(t, ticket.CreatedAt.IsZero())
}

func TestSanitizeDecodedPayload(t *testing.T) {
	payloads := []string{
		`{"ticket_id": 12, "state": "called", "priority_level": 2, "counter_id": "op-1", "created_at": "2026-10-18T09:00:00+07:00", "served_at": "2026-10-18T09:10:00+07:00"}`,
		`{"id": 12, "status": "CALLED", "priority": "2", "operatorId": "op-1", "createdAt": "2026-10-18T09:00:00+07:00", "serviceStartedAt": "2026-10-18T09:10:00+07:00"}`,
		`{"Id": 12, "Status": "Called", "Priority": 2.2, "OperatorID": "op-1", "CreatedAt": "2026-10-18 09:00:00+07:00", "ServiceStart": "2026-10-18T09:10:00+07:00"}`,
	}
	for _, payload := range payloads {
		var rawTicket models.RawTicket
		require.NoError(t, json.Unmarshal([]byte(payload), &rawTicket))
		ticket, ok := Sanitize(rawTicket)
		require.True(t, ok, payload)
		assert.Equal(t, int64(12), ticket.ID)
		assert.Equal(t, models.StatusCalled, ticket.Status)
		assert.Equal(t, 2, ticket.Priority)
		assert.Equal(t, "op-1", ticket.OperatorID)
		assert.True(t, ticket.CreatedAt.Equal(at(9, 0)), payload)
		start, ok := ticket.ServiceStart()
		require.True(t, ok)
		assert.True(t, start.Equal(at(9, 10)))
	}
}

func TestSanitizeRoundTripsTypedTicket(t *testing.T) {
	original := models.Ticket{
		ID:         5,
		Number:     "A-005",
		ServiceID:  "S1",
		Status:     models.StatusAbsent,
		Priority:   3,
		CreatedAt:  at(9, 0),
		CalledAt:   ptr(at(9, 5)),
		AbsentAt:   ptr(at(9, 12)),
		RequeuedAt: ptr(at(9, 7)),
	}
	ticket, ok := Sanitize(models.RawFromTicket(original))
	require.True(t, ok)
	assert.Equal(t, original, ticket)
}
