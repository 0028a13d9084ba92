package recorder

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flight-control/fcc/internal/flight"
	"github.com/flight-control/fcc/internal/geo"
	"github.com/flight-control/fcc/internal/telemetry"
)

type recordKind int

const (
	recordPosition recordKind = iota
	recordEvent
	recordTransition
	recordCommand
	recordEnd
)

func (k recordKind) String() string {
	switch k {
	case recordPosition:
		return "position"
	case recordEvent:
		return "event"
	case recordTransition:
		return "transition"
	case recordCommand:
		return "command"
	default:
		return "end"
	}
}

type record struct {
	kind      recordKind
	at        time.Time
	position  geo.Coordinate
	name      string
	detail    string
	from, to  string
	attempt   int
	latencyMs float64
	errText   string
	status    flight.Status
}

const (
	defaultQueueSize  = 1024
	defaultBatchSize  = 64
	defaultFlushEvery = 250 * time.Millisecond
)

// Recorder writes one flight to a Store. Its observer and listener methods
// only queue; a background writer batches rows into transactions. When the
// queue is full new records are dropped and counted.
type Recorder struct {
	store    *Store
	flightID string
	logger   *slog.Logger

	queue      chan record
	batchSize  int
	flushEvery time.Duration

	dropped atomic.Int64

	mu     sync.RWMutex
	closed bool

	done  chan struct{}
	errMu sync.Mutex
	err   error
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithLogger sets the recorder logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Recorder) { r.logger = logger.With(slog.String("component", "recorder")) }
}

// WithQueueSize bounds the records waiting to be written.
func WithQueueSize(n int) Option {
	return func(r *Recorder) {
		if n > 0 {
			r.queue = make(chan record, n)
		}
	}
}

// WithFlushInterval sets how often partial batches are written.
func WithFlushInterval(d time.Duration) Option {
	return func(r *Recorder) {
		if d > 0 {
			r.flushEvery = d
		}
	}
}

// Start creates the flight row and starts the writer.
func Start(ctx context.Context, store *Store, flightID, actorID, recipe string, config any, opts ...Option) (*Recorder, error) {
	r := &Recorder{
		store:      store,
		flightID:   flightID,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		queue:      make(chan record, defaultQueueSize),
		batchSize:  defaultBatchSize,
		flushEvery: defaultFlushEvery,
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}

	if err := store.CreateFlight(ctx, flightID, actorID, recipe, time.Now(), config); err != nil {
		return nil, err
	}
	go r.write()
	return r, nil
}

// FlightID returns the id rows are written under.
func (r *Recorder) FlightID() string { return r.flightID }

// Dropped returns how many records were lost to a full queue.
func (r *Recorder) Dropped() int64 { return r.dropped.Load() }

// Event records a telemetry event; positions also go to the track.
func (r *Recorder) Event(ev telemetry.Event) {
	at := ev.Received
	if at.IsZero() {
		at = time.Now()
	}
	if ev.Kind == telemetry.KindPosition {
		r.enqueue(record{kind: recordPosition, at: at, position: ev.Position})
		return
	}
	r.enqueue(record{kind: recordEvent, at: at, name: ev.Kind.String(), detail: ev.String()})
}

// PhaseChanged records a transition.
func (r *Recorder) PhaseChanged(t flight.Transition) {
	r.enqueue(record{kind: recordTransition, at: t.At, from: t.From.String(), to: t.To.String(), detail: t.Reason})
}

// CommandIssued records a command issue.
func (r *Recorder) CommandIssued(c flight.CommandRecord) {
	rec := record{
		kind:      recordCommand,
		at:        c.At,
		name:      c.Command,
		attempt:   c.Attempt,
		latencyMs: float64(c.Latency) / float64(time.Millisecond),
	}
	if c.Err != nil {
		rec.errText = c.Err.Error()
	}
	r.enqueue(rec)
}

// FlightEnded records the terminal status.
func (r *Recorder) FlightEnded(s flight.Status) {
	r.enqueue(record{kind: recordEnd, at: time.Now(), status: s})
}

func (r *Recorder) enqueue(rec record) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- rec:
	default:
		if r.dropped.Add(1) == 1 {
			r.logger.Warn("recorder queue full, dropping records", "flight_id", r.flightID)
		}
	}
}

// Close flushes queued records and stops the writer. It returns the first
// write error, if any.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()
	<-r.done

	r.errMu.Lock()
	defer r.errMu.Unlock()
	return r.err
}

func (r *Recorder) write() {
	defer close(r.done)

	ticker := time.NewTicker(r.flushEvery)
	defer ticker.Stop()

	batch := make([]record, 0, r.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		rows := batch[:0:0]
		for _, rec := range batch {
			if rec.kind == recordEnd {
				r.finish(rows, rec)
				rows = rows[:0]
				continue
			}
			rows = append(rows, rec)
		}
		r.insert(rows)
		batch = batch[:0]
	}

	for {
		select {
		case rec, ok := <-r.queue:
			if !ok {
				flush()
				return
			}
			batch = append(batch, rec)
			if len(batch) >= r.batchSize || rec.kind == recordEnd {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// finish writes rows queued before the end record, then the end itself.
func (r *Recorder) finish(rows []record, end record) {
	r.insert(rows)
	st := end.status
	if err := r.store.FinishFlight(context.Background(), r.flightID, end.at, st.Outcome.String(), st.Reason, st.Phase.String()); err != nil {
		r.fail(err)
	}
}

func (r *Recorder) insert(rows []record) {
	if err := r.store.insertBatch(context.Background(), r.flightID, rows); err != nil {
		r.fail(err)
	}
}

func (r *Recorder) fail(err error) {
	r.logger.Error("recorder write failed", "flight_id", r.flightID, "error", err)
	r.errMu.Lock()
	if r.err == nil {
		r.err = err
	}
	r.errMu.Unlock()
}

var _ flight.Observer = (*Recorder)(nil)
