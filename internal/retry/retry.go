package retry

import (
	"time"
)

// State of a Handle.
type State int

const (
	// Running handles resend on every tick.
	Running State = iota
	// Done handles stopped because isDone returned true.
	Done
	// Cancelled handles were stopped by their owner.
	Cancelled
	// Failed handles stopped because issue returned an error.
	Failed
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Done:
		return "done"
	case Cancelled:
		return "cancelled"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Ticker is the timer source of a Handle.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	t *time.Ticker
}

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

// NewTicker returns a Ticker backed by time.Ticker.
func NewTicker(d time.Duration) Ticker {
	return timeTicker{t: time.NewTicker(d)}
}

// Handle owns the periodic resend of one command.
type Handle struct {
	goal     string
	issue    func() error
	isDone   func() bool
	interval time.Duration

	ticker Ticker
	state  State
	issues int
	err    error
}

// Option configures Start.
type Option func(*Handle)

// WithTicker replaces the time.Ticker used for the resend schedule.
func WithTicker(newTicker func(time.Duration) Ticker) Option {
	return func(h *Handle) {
		h.ticker = newTicker(h.interval)
	}
}

// Start issues the command once and schedules resends every interval.
// If isDone already holds nothing is issued and the handle is Done. If the
// first issue fails the handle is Failed and the error is returned.
func Start(goal string, issue func() error, isDone func() bool, interval time.Duration, opts ...Option) (*Handle, error) {
	h := &Handle{
		goal:     goal,
		issue:    issue,
		isDone:   isDone,
		interval: interval,
		state:    Running,
	}

	if isDone() {
		h.state = Done
		return h, nil
	}
	if err := h.send(); err != nil {
		return h, err
	}

	for _, opt := range opts {
		opt(h)
	}
	if h.ticker == nil {
		h.ticker = NewTicker(interval)
	}
	return h, nil
}

// C delivers the resend ticks. It is nil once the handle stopped, which
// blocks forever in a select.
func (h *Handle) C() <-chan time.Time {
	if h == nil || h.state != Running || h.ticker == nil {
		return nil
	}
	return h.ticker.C()
}

// Fire handles one tick: it stops without sending when isDone holds and
// resends otherwise. Ticks on a stopped handle are ignored, so a tick that
// was already queued when the confirming event stopped the handle cannot
// cause another send.
func (h *Handle) Fire() error {
	if h == nil || h.state != Running {
		return nil
	}
	if h.isDone() {
		h.stop(Done)
		return nil
	}
	return h.send()
}

// Cancel stops future resends. It reports whether the handle was running;
// cancelling a stopped handle does nothing.
func (h *Handle) Cancel() bool {
	if h == nil || h.state != Running {
		return false
	}
	h.stop(Cancelled)
	return true
}

// Goal names what the handle was created for.
func (h *Handle) Goal() string { return h.goal }

// Interval is the resend period.
func (h *Handle) Interval() time.Duration { return h.interval }

// State reports whether the handle is still running and why it stopped.
func (h *Handle) State() State { return h.state }

// Issues counts the sends made so far, the initial one included.
func (h *Handle) Issues() int { return h.issues }

// Err is the issue error that failed the handle.
func (h *Handle) Err() error { return h.err }

func (h *Handle) send() error {
	h.issues++
	if err := h.issue(); err != nil {
		h.err = err
		h.stop(Failed)
		return err
	}
	return nil
}

func (h *Handle) stop(s State) {
	h.state = s
	if h.ticker != nil {
		h.ticker.Stop()
	}
}
