package queue

import (
	"testing"

	"qms/display-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyScenarioCallsWaitingTicket(t *testing.T) {
	b := newTestBuilder()
	t1, t2, t3 := scenarioTickets()
	snap := b.Build(raws(t1, t2, t3))

	t1.Status = models.StatusCalled
	t1.CalledAt = ptr(at(10, 20))
	next, err := b.Apply(snap, raw(t1))
	require.NoError(t, err)

	assert.Equal(t, []int64{1}, ids(next.Called))
	assert.Equal(t, []int64{2}, ids(next.Waiting))
	require.NotNil(t, next.Current)
	assert.Equal(t, int64(3), next.Current.ID)
	assert.Equal(t, []int64{1, 2}, ids(next.Next))
	assert.NoError(t, next.Validate())

	// The input snapshot is untouched.
	assert.Equal(t, []int64{2, 1}, ids(snap.Waiting))
	assert.Empty(t, snap.Called)
}

func TestApplyIsIdempotent(t *testing.T) {
	b := newTestBuilder()
	t1, t2, t3 := scenarioTickets()
	snap := b.Build(raws(t1, t2, t3))

	updates := []models.Ticket{
		{ID: 1, Status: models.StatusCalled, Priority: 1, CreatedAt: at(10, 0), CalledAt: ptr(at(10, 20))},
		{ID: 3, Status: models.StatusCompleted, CreatedAt: at(9, 50), StartedAt: ptr(at(9, 58)), CompletedAt: ptr(at(10, 25))},
		{ID: 2, Status: models.StatusInProgress, Priority: 2, CreatedAt: at(10, 5), StartedAt: ptr(at(10, 30))},
		{ID: 8, Status: models.StatusWaiting, CreatedAt: at(10, 40)},
		{ID: 1, Status: models.StatusAbsent, Priority: 1, CreatedAt: at(10, 0), AbsentAt: ptr(at(10, 45))},
		{ID: 8, Status: models.StatusCancelled, CreatedAt: at(10, 40)},
	}
	for _, update := range updates {
		once, err := b.Apply(snap, raw(update))
		require.NoError(t, err)
		twice, err := b.Apply(once, raw(update))
		require.NoError(t, err)
		assert.Equal(t, once, twice, "update %d -> %s", update.ID, update.Status)
		assert.NoError(t, once.Validate())
		snap = once
	}
}

func TestApplyCompletedLeavesActiveBuckets(t *testing.T) {
	b := newTestBuilder()
	t1, t2, t3 := scenarioTickets()
	absent := models.Ticket{ID: 4, Status: models.StatusAbsent, CreatedAt: at(9, 0), AbsentAt: ptr(at(9, 30))}
	snap := b.Build(raws(t1, t2, t3, absent))

	for _, id := range []int64{1, 3, 4} {
		done := models.Ticket{ID: id, Status: models.StatusCompleted, CreatedAt: at(9, 0), StartedAt: ptr(at(10, 0)), CompletedAt: ptr(at(10, 10))}
		next, err := b.Apply(snap, raw(done))
		require.NoError(t, err)
		for _, bucket := range [][]models.Ticket{next.Waiting, next.Called, next.InProgress, next.Absent} {
			assert.NotContains(t, ids(bucket), id)
		}
		assert.Contains(t, ids(next.RecentlyCompleted), id)
	}
}

func TestApplyRequeueLeavesHistoryBuckets(t *testing.T) {
	b := newTestBuilder()
	gone := models.Ticket{ID: 1, Status: models.StatusAbsent, CreatedAt: at(9, 0), CalledAt: ptr(at(9, 10)), AbsentAt: ptr(at(9, 20))}
	done := models.Ticket{ID: 2, Status: models.StatusCompleted, CreatedAt: at(9, 0), StartedAt: ptr(at(9, 30))}
	snap := b.Build(raws(gone, done))
	require.Equal(t, []int64{1}, ids(snap.Absent))
	require.Equal(t, []int64{2}, ids(snap.RecentlyCompleted))

	gone.Status = models.StatusWaiting
	gone.RequeuedAt = ptr(at(9, 40))
	snap, err := b.Apply(snap, raw(gone))
	require.NoError(t, err)
	done.Status = models.StatusWaiting
	snap, err = b.Apply(snap, raw(done))
	require.NoError(t, err)

	assert.Empty(t, snap.Absent)
	assert.Empty(t, snap.RecentlyCompleted)
	assert.Equal(t, []int64{2, 1}, ids(snap.Waiting))
}

func TestApplyPromotesStartedTicketWhenNoCurrent(t *testing.T) {
	b := newTestBuilder()
	snap := b.Build(nil)

	started := models.Ticket{ID: 5, Status: models.StatusInProgress, CreatedAt: at(9, 0), StartedAt: ptr(at(9, 5))}
	next, err := b.Apply(snap, raw(started))
	require.NoError(t, err)

	require.NotNil(t, next.Current)
	assert.Equal(t, int64(5), next.Current.ID)
	assert.Empty(t, next.Next)
}

func TestApplyCurrentTicketLeavesFocus(t *testing.T) {
	b := newTestBuilder()
	t1, t2, t3 := scenarioTickets()
	snap := b.Build(raws(t1, t2, t3))

	t3.Status = models.StatusCompleted
	t3.CompletedAt = ptr(at(10, 30))
	next, err := b.Apply(snap, raw(t3))
	require.NoError(t, err)

	require.NotNil(t, next.Current)
	assert.Equal(t, int64(2), next.Current.ID)
	assert.Equal(t, []int64{1}, ids(next.Next))
	assert.Equal(t, []int64{3}, ids(next.RecentlyCompleted))
}

func TestApplyCurrentTicketStaysWhileActive(t *testing.T) {
	b := newTestBuilder()
	t1, t2, t3 := scenarioTickets()
	snap := b.Build(raws(t1, t2, t3))

	// Sent back to waiting, but it is still the focus.
	t3.Status = models.StatusWaiting
	t3.RequeuedAt = ptr(at(10, 30))
	next, err := b.Apply(snap, raw(t3))
	require.NoError(t, err)

	require.NotNil(t, next.Current)
	assert.Equal(t, int64(3), next.Current.ID)
	assert.Equal(t, models.StatusWaiting, next.Current.Status)
	assert.Equal(t, []int64{2, 1}, ids(next.Next))
	assert.NoError(t, next.Validate())
}

func TestApplyRejectsMissingID(t *testing.T) {
	b := newTestBuilder()
	t1, t2, t3 := scenarioTickets()
	snap := b.Build(raws(t1, t2, t3))

	next, err := b.Apply(snap, models.RawTicket{Status: "called"})

	assert.ErrorIs(t, err, ErrMissingTicketID)
	assert.Equal(t, snap, next)
}

func TestApplyMatchesRebuild(t *testing.T) {
	b := newTestBuilder()
	t1, t2, t3 := scenarioTickets()
	snap := b.Build(raws(t1, t2, t3))

	t2.Status = models.StatusCalled
	t2.CalledAt = ptr(at(10, 12))
	patched, err := b.Apply(snap, raw(t2))
	require.NoError(t, err)
	rebuilt := b.Rebuild(snap, raws(t1, t2, t3))

	assert.Equal(t, rebuilt, patched)
}

func TestRemoveDropsTicketEverywhere(t *testing.T) {
	b := newTestBuilder()
	t1, t2, t3 := scenarioTickets()
	snap := b.Build(raws(t1, t2, t3))

	next := b.Remove(snap, 1)
	assert.Equal(t, []int64{2}, ids(next.Waiting))
	require.NotNil(t, next.Current)
	assert.Equal(t, int64(3), next.Current.ID)
	assert.Equal(t, []int64{2}, ids(next.Next))
	assert.NoError(t, next.Validate())

	// Removing the current ticket hands focus to the next in line.
	next = b.Remove(next, 3)
	assert.Empty(t, next.InProgress)
	require.NotNil(t, next.Current)
	assert.Equal(t, int64(2), next.Current.ID)

	assert.Equal(t, next, b.Remove(next, 99))
	assert.Equal(t, []int64{2, 1}, ids(snap.Waiting))
}
