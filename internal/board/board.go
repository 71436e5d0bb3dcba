package board

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"qms/display-service/internal/estimator"
	"qms/display-service/internal/metrics"
	"qms/display-service/internal/models"
	"qms/display-service/internal/queue"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const (
	learnWindow        = 24 * time.Hour
	ownerSweepInterval = time.Minute
	defaultConcurrency = 4
)

var (
	ErrMissingServiceID = errors.New("ticket has no service id")
	ErrTicketNotWaiting = errors.New("ticket is not waiting")
)

var tracer = otel.Tracer("qms/display-service/board")

// Source lists the tickets a board is rebuilt from.
type Source interface {
	ListBoardTickets(ctx context.Context, serviceID string, dayStart time.Time) ([]models.RawTicket, error)
	ListServices(ctx context.Context) ([]models.Service, error)
}

// Directory resolves the service and operator records estimates depend on.
type Directory interface {
	GetService(ctx context.Context, serviceID string) (models.Service, error)
	GetOperator(ctx context.Context, operatorID string) (models.Operator, error)
}

// Publisher receives every snapshot a board produces, in order per service.
// Publish is called with the service's write lock held and must not block.
type Publisher interface {
	Publish(serviceID string, snap queue.Snapshot)
}

type Options struct {
	Now         func() time.Time
	Location    *time.Location
	RecentLimit int
	// Concurrency bounds RefreshAll's fan-out.
	Concurrency int
}

// Board holds the last reconciled snapshot of every service. Reads are
// lock-free; writers to the same service are serialized.
type Board struct {
	source    Source
	directory Directory
	estimator *estimator.Estimator
	publisher Publisher
	builder   *queue.Builder

	now         func() time.Time
	location    *time.Location
	concurrency int

	entries sync.Map

	learnMu sync.Mutex
	learned map[int64]time.Time

	// owners records the service each ticket was last applied to, so a
	// ticket that moved is dropped from the board it left.
	ownerMu    sync.Mutex
	owners     map[int64]owner
	ownerSwept time.Time
}

type entry struct {
	mu   sync.Mutex
	snap atomic.Pointer[queue.Snapshot]
}

type owner struct {
	serviceID string
	at        time.Time
}

func New(source Source, directory Directory, est *estimator.Estimator, publisher Publisher, options Options) *Board {
	now := options.Now
	if now == nil {
		now = time.Now
	}
	location := options.Location
	if location == nil {
		location = time.Local
	}
	concurrency := options.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Board{
		source:    source,
		directory: directory,
		estimator: est,
		publisher: publisher,
		builder: queue.NewBuilder(queue.Options{
			Now:         now,
			Location:    location,
			RecentLimit: options.RecentLimit,
		}),
		now:         now,
		location:    location,
		concurrency: concurrency,
		learned:     make(map[int64]time.Time),
		owners:      make(map[int64]owner),
	}
}

// Snapshot returns the last snapshot of a service, if one was ever built.
func (b *Board) Snapshot(serviceID string) (queue.Snapshot, bool) {
	value, ok := b.entries.Load(serviceID)
	if !ok {
		return queue.Snapshot{}, false
	}
	snap := value.(*entry).snap.Load()
	if snap == nil {
		return queue.Snapshot{}, false
	}
	return *snap, true
}

// Refresh rebuilds a service's snapshot from the source. A service the
// directory does not know fails with store.ErrServiceNotFound.
func (b *Board) Refresh(ctx context.Context, serviceID string) (queue.Snapshot, error) {
	ctx, span := tracer.Start(ctx, "board.Refresh", trace.WithAttributes(attribute.String("service.id", serviceID)))
	defer span.End()

	e, err := b.entry(ctx, serviceID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return queue.Snapshot{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	snap, err := b.rebuildLocked(ctx, serviceID, e)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return queue.Snapshot{}, err
	}
	b.publish(serviceID, snap)
	return snap, nil
}

// RefreshAll rebuilds every active service. It stops at the first failure.
func (b *Board) RefreshAll(ctx context.Context) error {
	services, err := b.source.ListServices(ctx)
	if err != nil {
		return fmt.Errorf("list services: %w", err)
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	for _, svc := range services {
		serviceID := svc.ServiceID
		g.Go(func() error {
			_, err := b.Refresh(ctx, serviceID)
			return err
		})
	}
	return g.Wait()
}

// Apply routes one ticket update to its service's snapshot. A service that
// has no snapshot yet is loaded from the source first. The ticket is removed
// from any other service's board it was still shown on.
func (b *Board) Apply(ctx context.Context, raw models.RawTicket) (queue.Snapshot, error) {
	ticket, ok := queue.Sanitize(raw)
	if !ok {
		metrics.TrackUpdate("unknown", "rejected")
		return queue.Snapshot{}, queue.ErrMissingTicketID
	}
	if ticket.ServiceID == "" {
		metrics.TrackUpdate(string(ticket.Status), "rejected")
		return queue.Snapshot{}, ErrMissingServiceID
	}

	ctx, span := tracer.Start(ctx, "board.Apply", trace.WithAttributes(
		attribute.String("service.id", ticket.ServiceID),
		attribute.Int64("ticket.id", ticket.ID),
		attribute.String("ticket.status", string(ticket.Status)),
	))
	defer span.End()

	e, err := b.entry(ctx, ticket.ServiceID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.TrackUpdate(string(ticket.Status), "rejected")
		return queue.Snapshot{}, err
	}
	e.mu.Lock()
	prev := e.snap.Load()
	if prev == nil {
		loaded, err := b.rebuildLocked(ctx, ticket.ServiceID, e)
		if err != nil {
			e.mu.Unlock()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			metrics.TrackUpdate(string(ticket.Status), "failed")
			return queue.Snapshot{}, err
		}
		prev = &loaded
	}
	snap, err := b.builder.Apply(*prev, raw)
	if err != nil {
		e.mu.Unlock()
		metrics.TrackUpdate(string(ticket.Status), "rejected")
		return queue.Snapshot{}, err
	}
	e.snap.Store(&snap)
	b.claim(ticket.ID, ticket.ServiceID)
	b.publish(ticket.ServiceID, snap)
	e.mu.Unlock()

	b.evict(ticket.ID, ticket.ServiceID)
	metrics.TrackUpdate(string(ticket.Status), "applied")
	if ticket.Status == models.StatusCompleted {
		b.learn(ctx, ticket)
	}
	return snap, nil
}

// entry returns the holder for a service, creating it only for services the
// directory knows so arbitrary ids never occupy the board.
func (b *Board) entry(ctx context.Context, serviceID string) (*entry, error) {
	if value, ok := b.entries.Load(serviceID); ok {
		return value.(*entry), nil
	}
	if _, err := b.directory.GetService(ctx, serviceID); err != nil {
		return nil, fmt.Errorf("service %s: %w", serviceID, err)
	}
	value, _ := b.entries.LoadOrStore(serviceID, &entry{})
	return value.(*entry), nil
}

func (b *Board) claim(ticketID int64, serviceID string) {
	b.ownerMu.Lock()
	defer b.ownerMu.Unlock()
	now := b.now()
	if now.Sub(b.ownerSwept) >= ownerSweepInterval {
		for id, o := range b.owners {
			if now.Sub(o.at) > learnWindow {
				delete(b.owners, id)
			}
		}
		b.ownerSwept = now
	}
	b.owners[ticketID] = owner{serviceID: serviceID, at: now}
}

func (b *Board) ownedBy(ticketID int64, serviceID string) bool {
	b.ownerMu.Lock()
	defer b.ownerMu.Unlock()
	o, ok := b.owners[ticketID]
	return ok && o.serviceID == serviceID
}

// evict drops a ticket from every board except its owner's. Each board is
// re-checked under its own lock because the ticket may have moved back.
func (b *Board) evict(ticketID int64, serviceID string) {
	b.entries.Range(func(key, value any) bool {
		other := key.(string)
		if other == serviceID {
			return true
		}
		e := value.(*entry)
		if snap := e.snap.Load(); snap == nil || !holds(*snap, ticketID) {
			return true
		}
		e.mu.Lock()
		defer e.mu.Unlock()
		current := e.snap.Load()
		if current == nil || !holds(*current, ticketID) || b.ownedBy(ticketID, other) {
			return true
		}
		next := b.builder.Remove(*current, ticketID)
		e.snap.Store(&next)
		b.publish(other, next)
		log.Debug().Int64("ticket_id", ticketID).Str("from_service_id", other).Str("to_service_id", serviceID).Msg("ticket moved between services")
		return true
	})
}

func holds(snap queue.Snapshot, ticketID int64) bool {
	_, ok := snap.Find(ticketID)
	return ok
}

func (b *Board) rebuildLocked(ctx context.Context, serviceID string, e *entry) (queue.Snapshot, error) {
	start := time.Now()
	raws, err := b.source.ListBoardTickets(ctx, serviceID, b.dayStart())
	if err != nil {
		return queue.Snapshot{}, fmt.Errorf("list tickets for %s: %w", serviceID, err)
	}
	var prev queue.Snapshot
	if current := e.snap.Load(); current != nil {
		prev = *current
	}
	snap := b.builder.Rebuild(prev, raws)
	e.snap.Store(&snap)
	metrics.TrackRebuild(serviceID, time.Since(start))
	return snap, nil
}

func (b *Board) dayStart() time.Time {
	now := b.now().In(b.location)
	year, month, day := now.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, b.location)
}

func (b *Board) publish(serviceID string, snap queue.Snapshot) {
	if b.publisher != nil {
		b.publisher.Publish(serviceID, snap)
	}
}

// learn feeds a completed ticket's service time to the estimator once per
// ticket id within learnWindow.
func (b *Board) learn(ctx context.Context, ticket models.Ticket) {
	if b.estimator == nil || ticket.CompletedAt == nil {
		return
	}
	start, ok := ticket.ServiceStart()
	if !ok {
		return
	}
	minutes := ticket.CompletedAt.Sub(start).Minutes()
	if minutes <= 0 {
		return
	}
	if !b.markLearned(ticket.ID) {
		return
	}
	if err := b.estimator.RecordCompletionAt(ctx, ticket.ServiceID, minutes, ticket.OperatorID, *ticket.CompletedAt); err != nil {
		b.unmarkLearned(ticket.ID)
		log.Warn().Err(err).Int64("ticket_id", ticket.ID).Str("service_id", ticket.ServiceID).Msg("record completion failed")
	}
}

func (b *Board) markLearned(ticketID int64) bool {
	b.learnMu.Lock()
	defer b.learnMu.Unlock()
	now := b.now()
	for id, at := range b.learned {
		if now.Sub(at) > learnWindow {
			delete(b.learned, id)
		}
	}
	if _, seen := b.learned[ticketID]; seen {
		return false
	}
	b.learned[ticketID] = now
	return true
}

func (b *Board) unmarkLearned(ticketID int64) {
	b.learnMu.Lock()
	delete(b.learned, ticketID)
	b.learnMu.Unlock()
}
