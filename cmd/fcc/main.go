// Command fcc flies one flight against a vehicle actor on the hub and
// exits with a code describing how the flight ended.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/flight-control/fcc/internal/audit"
	"github.com/flight-control/fcc/internal/auth"
	"github.com/flight-control/fcc/internal/config"
	"github.com/flight-control/fcc/internal/flight"
	"github.com/flight-control/fcc/internal/logging"
	"github.com/flight-control/fcc/internal/recorder"
	"github.com/flight-control/fcc/internal/session"
	"github.com/flight-control/fcc/internal/status"
)

// Exit codes.
const (
	exitCompleted = 0
	exitSetup     = 1
	exitAborted   = 2
	exitFailed    = 3
)

const shutdownTimeout = 5 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	var configPath, recipe, flightID string
	flag.StringVar(&configPath, "c", "", "Path to the configuration file (default $"+config.EnvConfigFile+")")
	flag.StringVar(&recipe, "recipe", "", "Override flight.recipe: direct, linear_mission or loop_mission")
	flag.StringVar(&flightID, "flight-id", "", "Flight id (default a random UUID)")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fcc: %v\n", err)
		return exitSetup
	}
	if recipe != "" {
		if _, err := flight.ParseRecipe(recipe); err != nil {
			fmt.Fprintf(os.Stderr, "fcc: %v\n", err)
			return exitSetup
		}
		cfg.Flight.Recipe = recipe
	}

	logger, _, logCloser, err := logging.New(cfg.Log, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fcc: %v\n", err)
		return exitSetup
	}
	defer logCloser.Close()

	if flightID == "" {
		flightID = uuid.NewString()
	}
	logger.Info("starting flight",
		"flight_id", flightID,
		"hub", cfg.Hub.Address,
		"actor", cfg.Actor.ID,
		"recipe", cfg.Flight.Recipe)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	opts := []session.Option{session.WithLogger(logger), session.WithFlightID(flightID)}

	if cfg.Audit.File != "" {
		al, err := audit.NewLogger(cfg.Audit.File, flightID,
			audit.WithSubject(cfg.Hub.Subject), audit.WithActor(cfg.Actor.ID))
		if err != nil {
			logger.Error("failed to open audit trail", "error", err)
			return exitSetup
		}
		defer func() {
			if err := al.Close(); err != nil {
				logger.Warn("closing audit trail", "error", err)
			}
		}()
		opts = append(opts, session.WithObserver(al))
	}

	if cfg.Recorder.Path != "" {
		store := recorder.NewStore(cfg.Recorder.Path)
		defer store.Close()
		rec, err := recorder.Start(ctx, store, flightID, cfg.Actor.ID, cfg.Flight.Recipe, cfg.Flight,
			recorder.WithLogger(logger))
		if err != nil {
			logger.Error("failed to start flight recorder", "path", cfg.Recorder.Path, "error", err)
			return exitSetup
		}
		defer func() {
			if err := rec.Close(); err != nil {
				logger.Warn("flight recorder lost records", "error", err)
			}
			if n := rec.Dropped(); n > 0 {
				logger.Warn("flight recorder queue overflowed", "dropped", humanize.Comma(n))
			}
		}()
		opts = append(opts, session.WithObserver(rec), session.WithEventListener(rec.Event))
	}

	if cfg.Status.Addr != "" {
		stop, err := startStatus(cfg, flightID, logger, &opts)
		if err != nil {
			logger.Error("failed to start status API", "addr", cfg.Status.Addr, "error", err)
			return exitSetup
		}
		defer stop()
	}

	started := time.Now()
	st := session.Run(ctx, cfg, opts...)

	logger.Info("flight finished",
		"flight_id", flightID,
		"outcome", st.Outcome.String(),
		"phase", st.Phase.String(),
		"reason", st.Reason,
		"elapsed", humanize.RelTime(started, time.Now(), "", ""))
	if st.TeardownErr != nil {
		logger.Warn("teardown incomplete", "error", st.TeardownErr)
	}
	fmt.Printf("flight %s: %s\n", flightID, st)

	switch st.Outcome {
	case flight.Completed:
		return exitCompleted
	case flight.Aborted:
		return exitAborted
	default:
		return exitFailed
	}
}

// startStatus serves the status API for the flight and adds its hub to
// opts. Tokens are checked with the hub secret when one is configured.
func startStatus(cfg *config.Config, flightID string, logger *slog.Logger, opts *[]session.Option) (func(), error) {
	h := status.NewHub(flightID, cfg.Actor.ID, cfg.Flight.Recipe, status.WithHubLogger(logger))
	serverOpts := []status.ServerOption{status.WithLogger(logger)}
	if cfg.Hub.Secret != "" {
		v, err := auth.NewVerifier(auth.VerifierConfig{Algorithm: auth.AlgHS256, SecretKey: cfg.Hub.Secret})
		if err != nil {
			h.Stop()
			return nil, err
		}
		serverOpts = append(serverOpts, status.WithVerifier(v))
	}
	srv := status.NewServer(h, serverOpts...)

	l, err := net.Listen("tcp", cfg.Status.Addr)
	if err != nil {
		h.Stop()
		return nil, err
	}
	go func() {
		if err := srv.Serve(l); err != nil {
			logger.Error("status API stopped", "error", err)
		}
	}()

	*opts = append(*opts, session.WithObserver(h), session.WithEventListener(h.Event))
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Stop(ctx); err != nil {
			logger.Warn("status API shutdown", "error", err)
		}
	}, nil
}
