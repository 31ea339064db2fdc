package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/edgard/chatindex/internal/database"
	"github.com/edgard/chatindex/internal/deadline"
	"github.com/edgard/chatindex/internal/media"
	"github.com/edgard/chatindex/internal/metrics"
	"github.com/edgard/chatindex/internal/queue"
)

// AnonymousForwardID is stored as forward_from when a forward's author is
// hidden and their name matches no known user.
const AnonymousForwardID int64 = -1

const (
	defaultRefreshAfter = time.Hour
	defaultEventTimeout = 2 * time.Minute
	peerCacheSize       = 4096
)

var (
	// ErrStopped is returned when pushing into a closed pipeline.
	ErrStopped = errors.New("ingestion pipeline stopped")
	// ErrMalformedEvent is returned for events missing required identifiers.
	ErrMalformedEvent = errors.New("malformed event")
	// ErrEventTimeout marks an event that ran past its processing deadline.
	ErrEventTimeout = errors.New("event processing timed out")
)

// FatalError wraps a storage failure that must stop the process.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return "fatal ingestion error: " + e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }

func fatal(err error) error {
	if err == nil {
		return nil
	}
	var fe *FatalError
	if errors.As(err, &fe) {
		return err
	}
	return &FatalError{Err: err}
}

// Platform is the live source for profile data.
type Platform interface {
	// FetchProfile loads the current profile of a user or chat.
	FetchProfile(ctx context.Context, id int64) (*ProfileRef, error)
	// ResolvePeer returns a stable peer identifier.
	ResolvePeer(ctx context.Context, id int64) (string, error)
}

// MediaQueue accepts media download jobs.
type MediaQueue interface {
	Enqueue(ctx context.Context, job media.Job) error
}

// Options configures a Pipeline. Store is required; everything else is
// optional.
type Options struct {
	Store    database.Store
	Platform Platform
	Media    MediaQueue
	Notifier Notifier
	Recovery *RecoveryLog
	Clock    clockwork.Clock
	Logger   *slog.Logger

	FilterChats []int64
	FilterUsers []int64
	// RefreshAfter is how old a profile may get before a live refresh.
	RefreshAfter time.Duration
	// EventTimeout bounds the processing of a single event.
	EventTimeout time.Duration
	// RecoveredText is sent when a consumer leaves emergency mode. Empty
	// disables the notice.
	RecoveredText string
}

// Pipeline owns the message and user queues and their consumers.
type Pipeline struct {
	store        database.Store
	platform     Platform
	media        MediaQueue
	notifier     Notifier
	recovery     *RecoveryLog
	clock        clockwork.Clock
	logger       *slog.Logger
	filterChats  map[int64]struct{}
	filterUsers  map[int64]struct{}
	refreshAfter time.Duration
	eventTimeout time.Duration
	recovered    string
	peers        *lru.Cache[int64, string]

	msgs  *queue.Queue[Event]
	users *queue.Queue[ProfileRef]
}

// New creates a pipeline. Call Run to start consuming.
func New(opts Options) *Pipeline {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.RefreshAfter <= 0 {
		opts.RefreshAfter = defaultRefreshAfter
	}
	if opts.EventTimeout <= 0 {
		opts.EventTimeout = defaultEventTimeout
	}
	peers, _ := lru.New[int64, string](peerCacheSize)

	return &Pipeline{
		store:        opts.Store,
		platform:     opts.Platform,
		media:        opts.Media,
		notifier:     opts.Notifier,
		recovery:     opts.Recovery,
		clock:        opts.Clock,
		logger:       opts.Logger.With("component", "ingest"),
		filterChats:  toSet(opts.FilterChats),
		filterUsers:  toSet(opts.FilterUsers),
		refreshAfter: opts.RefreshAfter,
		eventTimeout: opts.EventTimeout,
		recovered:    opts.RecoveredText,
		peers:        peers,
		msgs:         queue.New[Event](),
		users:        queue.New[ProfileRef](),
	}
}

func toSet(ids []int64) map[int64]struct{} {
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// Push enqueues an event. Profile refs go to the user queue; a message also
// enqueues the profiles it references. Push never blocks.
func (p *Pipeline) Push(ev Event) error {
	if ref, ok := ev.(ProfileRef); ok {
		return p.PushProfile(ref)
	}
	if !p.msgs.Push(ev) {
		return p.reject(CategoryMessage, ev)
	}
	metrics.QueueDepth.WithLabelValues("messages").Set(float64(p.msgs.Len()))

	if m, ok := ev.(MessageEvent); ok {
		seen := make(map[int64]struct{}, len(m.Related))
		for _, ref := range m.Related {
			if ref.ID == 0 {
				continue
			}
			if _, dup := seen[ref.ID]; dup {
				continue
			}
			seen[ref.ID] = struct{}{}
			// a rejected ref is already in the recovery log
			_ = p.PushProfile(ref)
		}
	}
	return nil
}

// PushProfile enqueues a profile refresh.
func (p *Pipeline) PushProfile(ref ProfileRef) error {
	if !p.users.Push(ref) {
		return p.reject(CategoryUser, ref)
	}
	metrics.QueueDepth.WithLabelValues("users").Set(float64(p.users.Len()))
	return nil
}

// reject keeps an event that arrived after its consumer stopped in the
// recovery log and reports ErrStopped.
func (p *Pipeline) reject(cat Category, ev Event) error {
	if p.recovery != nil {
		if err := p.recovery.Append(cat, ev, ErrStopped); err != nil {
			p.logger.Error("Failed to record rejected event", "consumer", string(cat), "kind", ev.Kind(), "error", err)
		}
	}
	return ErrStopped
}

// Pending returns the number of queued messages and profiles.
func (p *Pipeline) Pending() (messages, users int) {
	return p.msgs.Len(), p.users.Len()
}

// Close stops accepting events. Run returns after both queues drain.
func (p *Pipeline) Close() {
	p.msgs.Close()
	p.users.Close()
}

// Run starts both consumers and blocks until the context is cancelled, the
// pipeline is closed and drained, or a fatal error occurs.
func (p *Pipeline) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return consume(gCtx, p, CategoryMessage, p.msgs, p.handleEvent)
	})
	g.Go(func() error {
		return consume(gCtx, p, CategoryUser, p.users, p.handleProfile)
	})
	return g.Wait()
}

// consume is the single-consumer loop for one queue.
func consume[T Event](ctx context.Context, p *Pipeline, cat Category, q *queue.Queue[T], handle func(context.Context, T) error) error {
	logger := p.logger.With("consumer", string(cat))
	logger.Info("Consumer started")
	defer logger.Info("Consumer stopped")

	emergency := false
	for {
		if ctx.Err() != nil {
			spill(p, cat, q, context.Canceled)
			return nil
		}
		ev, err := q.Pop(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) {
				return nil
			}
			spill(p, cat, q, context.Canceled)
			return nil
		}
		metrics.QueueDepth.WithLabelValues(queueName(cat)).Set(float64(q.Len()))

		err = process(ctx, p.clock, p.eventTimeout, ev, handle)
		if err == nil {
			if emergency {
				logger.Info("Consumer recovered from emergency mode")
				metrics.EmergencyMode.WithLabelValues(string(cat)).Set(0)
				emergency = false
				if p.notifier != nil && p.recovered != "" {
					p.notifier.Notify(ctx, fmt.Sprintf("%s (%s)", p.recovered, cat))
				}
			}
			metrics.EventsProcessed.WithLabelValues(string(cat), "ok").Inc()
			continue
		}

		metrics.EventsProcessed.WithLabelValues(string(cat), "failed").Inc()
		if !emergency {
			logger.Warn("Consumer entering emergency mode")
			metrics.EmergencyMode.WithLabelValues(string(cat)).Set(1)
			emergency = true
		}
		if ferr := p.fail(context.WithoutCancel(ctx), cat, ev, err); ferr != nil {
			spill(p, cat, q, ferr)
			return ferr
		}
	}
}

func queueName(cat Category) string {
	if cat == CategoryUser {
		return "users"
	}
	return "messages"
}

// process runs one event to completion even if ctx is cancelled meanwhile,
// converting panics into errors. Running out of time is a processing error
// whatever the handler made of it; flood waits extend the deadline.
func process[T Event](ctx context.Context, clock clockwork.Clock, timeout time.Duration, ev T, handle func(context.Context, T) error) (err error) {
	procCtx, dl := deadline.New(context.WithoutCancel(ctx), clock, timeout)
	defer dl.Stop()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while processing %s event: %v", ev.Kind(), r)
		}
		if err != nil && dl.Expired() {
			err = fmt.Errorf("%w: %s event after %s: %v", ErrEventTimeout, ev.Kind(), timeout, err)
		}
	}()
	return handle(procCtx, ev)
}

// fail logs, notifies and persists a failed event. It returns an error only
// when the consumer must stop.
func (p *Pipeline) fail(ctx context.Context, cat Category, ev Event, cause error) error {
	p.logger.ErrorContext(ctx, "Failed to process event", "consumer", string(cat), "kind", ev.Kind(), "error", cause)
	if p.notifier != nil {
		p.notifier.Notify(ctx, fmt.Sprintf("%s consumer failed on %s event: %v", cat, ev.Kind(), cause))
	}
	if p.recovery != nil {
		if err := p.recovery.Append(cat, ev, cause); err != nil {
			p.logger.ErrorContext(ctx, "Failed to write recovery log", "consumer", string(cat), "error", err)
			return fatal(fmt.Errorf("recovery log append: %w", err))
		}
	}
	var fe *FatalError
	if errors.As(cause, &fe) {
		return cause
	}
	return nil
}

// spill closes q and moves the events still queued into the recovery log,
// recording why the consumer stopped.
func spill[T Event](p *Pipeline, cat Category, q *queue.Queue[T], cause error) {
	q.Close()
	pending := q.Drain()
	if len(pending) == 0 {
		return
	}
	if p.recovery == nil {
		p.logger.Warn("Dropping queued events", "consumer", string(cat), "count", len(pending))
		return
	}
	for _, ev := range pending {
		if err := p.recovery.Append(cat, ev, cause); err != nil {
			p.logger.Error("Failed to spill queued event", "consumer", string(cat), "kind", ev.Kind(), "error", err)
		}
	}
	p.logger.Info("Spilled queued events to recovery log", "consumer", string(cat), "count", len(pending))
}
