package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/flight-control/fcc/internal/auth"
	"github.com/flight-control/fcc/internal/config"
	"github.com/flight-control/fcc/internal/flight"
	"github.com/flight-control/fcc/internal/hub"
	"github.com/flight-control/fcc/internal/retry"
	"github.com/flight-control/fcc/internal/telemetry"
	"github.com/flight-control/fcc/internal/vehicle"
)

// Option configures Run.
type Option func(*runner)

// WithLogger sets the logger shared by every component of the flight.
func WithLogger(logger *slog.Logger) Option {
	return func(r *runner) { r.logger = logger }
}

// WithFlightID tags every log line with id.
func WithFlightID(id string) Option {
	return func(r *runner) { r.flightID = id }
}

// WithObserver adds an observer of transitions and commands.
func WithObserver(o flight.Observer) Option {
	return func(r *runner) {
		if o != nil {
			r.observers = append(r.observers, o)
		}
	}
}

// WithEventListener receives every decoded telemetry event on the bus
// goroutine. It must not block.
func WithEventListener(l telemetry.Listener) Option {
	return func(r *runner) {
		if l != nil {
			r.listeners = append(r.listeners, l)
		}
	}
}

// WithRetryTicker replaces the resend timer source.
func WithRetryTicker(newTicker func(time.Duration) retry.Ticker) Option {
	return func(r *runner) { r.newTicker = newTicker }
}

type runner struct {
	cfg       *config.Config
	logger    *slog.Logger
	flightID  string
	observers []flight.Observer
	listeners []telemetry.Listener
	newTicker func(time.Duration) retry.Ticker
}

// Run flies one flight with cfg and returns its terminal status. Startup
// failures end the flight as Failed after the same teardown as any other
// exit. Cancelling ctx aborts the flight; timing.flight_timeout bounds it.
func Run(ctx context.Context, cfg *config.Config, opts ...Option) flight.Status {
	r := &runner{
		cfg:    cfg,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.flightID != "" {
		r.logger = r.logger.With(slog.String("flight_id", r.flightID))
	}
	return r.run(ctx)
}

func (r *runner) run(ctx context.Context) flight.Status {
	settings := r.cfg.FlightSettings()
	if err := settings.Validate(); err != nil {
		return r.early(flight.FailedStatus(fmt.Errorf("invalid flight config: %w", err)))
	}
	kind, err := vehicle.ParseTransportKind(r.cfg.Vehicle.Transport)
	if err != nil {
		return r.early(flight.FailedStatus(&vehicle.CommandError{Command: vehicle.CmdConnect, Err: err}))
	}

	if d := r.cfg.Timing.FlightTimeout.D(); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, d, flight.ErrFlightTimeout)
		defer cancel()
	}

	client, err := r.dial(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return r.early(flight.AbortedStatus(flight.AbortCause(ctx)))
		}
		return r.early(flight.FailedStatus(fmt.Errorf("hub session: %w", vehicle.NormalizeActorError(err, nil))))
	}

	module := client.Actor(r.cfg.Actor.ID).Module(r.cfg.Actor.Module)
	port := vehicle.NewRemote(module,
		vehicle.WithCommandTimeout(r.cfg.Timing.CommandTimeout.D()),
		vehicle.WithLogger(r.logger))
	bus := telemetry.NewBus(port, telemetry.WithLogger(r.logger))
	module.OnEvent(bus.Deliver)
	defer module.OnEvent(nil)

	ctrlOpts := []flight.Option{
		flight.WithLogger(r.logger),
		flight.WithSessionLoss(client.Done(), client.Err),
	}
	for _, o := range r.observers {
		ctrlOpts = append(ctrlOpts, flight.WithObserver(o))
	}
	if r.newTicker != nil {
		ctrlOpts = append(ctrlOpts, flight.WithRetryTicker(r.newTicker))
	}
	ctrl, err := flight.NewController(settings, port, client, bus, ctrlOpts...)
	if err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return r.early(flight.FailedStatus(err))
	}

	busCtx, stopBus := context.WithCancel(context.Background())
	busDone := make(chan struct{})
	go func() {
		defer close(busDone)
		_ = bus.Run(busCtx)
	}()
	defer func() {
		bus.Close()
		<-busDone
		stopBus()
	}()

	// The forwarder parks on the bus goroutine until the control loop
	// takes the event, which keeps arrival order without buffering.
	events := make(chan telemetry.Event)
	loopDone := make(chan struct{})
	defer close(loopDone)
	bus.OnEvent(func(ev telemetry.Event) {
		select {
		case events <- ev:
		case <-loopDone:
		}
	}, ctrl.Kinds()...)
	for _, l := range r.listeners {
		bus.OnEvent(l)
	}

	if err := r.prepare(ctx, bus, port, kind, ctrl.Kinds()); err != nil {
		if ctx.Err() != nil {
			return ctrl.Abort(ctx, flight.AbortCause(ctx))
		}
		return ctrl.Fail(ctx, err)
	}

	r.logger.Info("vehicle ready, controller started",
		"recipe", string(settings.Recipe), "target_mode", settings.TargetMode)
	return ctrl.Run(ctx, events)
}

// prepare subscribes telemetry, connects the vehicle, lets the link settle
// and requests the target mode.
func (r *runner) prepare(ctx context.Context, bus *telemetry.Bus, port vehicle.Port, kind vehicle.TransportKind, kinds []telemetry.Kind) error {
	if err := bus.Subscribe(ctx, kinds); err != nil {
		return fmt.Errorf("subscribe telemetry: %w", err)
	}
	r.logger.Debug("telemetry subscribed", "events", telemetry.WireNames(kinds))

	if err := port.Connect(ctx, kind, r.cfg.Vehicle.Address); err != nil {
		return err
	}
	r.logger.Info("vehicle connected", "transport", string(kind), "address", r.cfg.Vehicle.Address)

	if d := r.cfg.Vehicle.SettleDelay.D(); d > 0 {
		t := time.NewTimer(d)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}

	return port.SetMode(ctx, r.cfg.Vehicle.TargetMode)
}

func (r *runner) dial(ctx context.Context) (*hub.Client, error) {
	opts := []hub.Option{
		hub.WithTransport(r.cfg.Hub.Transport),
		hub.WithLogger(r.logger),
	}
	if r.cfg.Hub.Secret != "" {
		signer, err := auth.NewSigner(auth.SignerConfig{Algorithm: auth.AlgHS256, SecretKey: r.cfg.Hub.Secret})
		if err != nil {
			return nil, err
		}
		token, err := signer.PilotToken(r.cfg.Hub.Subject)
		if err != nil {
			return nil, fmt.Errorf("sign hub token: %w", err)
		}
		opts = append(opts, hub.WithToken(token))
	}
	return hub.Dial(ctx, r.cfg.Hub.Address, opts...)
}

// early reports a flight that ended before the controller existed.
func (r *runner) early(st flight.Status) flight.Status {
	st.Phase = flight.Idle
	if st.Outcome == flight.Failed {
		r.logger.Error("flight failed before start", "error", st.Err)
	} else {
		r.logger.Info("flight ended before start", "outcome", st.Outcome.String(), "reason", st.Reason)
	}
	flight.Observers(r.observers).FlightEnded(st)
	return st
}
