// Command hubsim runs a hub hosting simulated ArduCopter actors over
// websocket and gRPC.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flight-control/fcc/internal/hubsim"
	"github.com/flight-control/fcc/internal/logging"
	"github.com/flight-control/fcc/internal/sim"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "c", "", "Path to the configuration file (default $"+hubsim.EnvConfigFile+")")
	flag.Parse()

	cfg, err := hubsim.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hubsim: %v\n", err)
		os.Exit(1)
	}

	logger, _, logCloser, err := logging.New(cfg.Log, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hubsim: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	verifier, err := cfg.Verifier()
	if err != nil {
		logger.Error("failed to configure auth", "error", err)
		os.Exit(1)
	}
	nets, err := cfg.AllowedNets()
	if err != nil {
		logger.Error("failed to parse allowed networks", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	srvOpts := []hubsim.Option{hubsim.WithLogger(logger), hubsim.WithAllowedCIDRs(nets)}
	if verifier != nil {
		srvOpts = append(srvOpts, hubsim.WithVerifier(verifier))
	}
	srv := hubsim.NewServer(srvOpts...)

	for _, v := range cfg.Vehicles {
		copter := sim.NewCopter(v.SimConfig(), sim.WithLogger(logger))
		if err := srv.Register(copter); err != nil {
			logger.Error("failed to register vehicle", "id", v.ID, "error", err)
			os.Exit(1)
		}
		go func() {
			if err := copter.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("simulated vehicle stopped", "id", copter.ID(), "error", err)
			}
		}()
		logger.Info("simulated vehicle ready", "id", v.ID, "home", v.Home, "drop_rate", v.DropRate)
	}

	errCh := make(chan error, 2)

	httpServer := &http.Server{
		Addr:        cfg.Network.HTTPAddr,
		Handler:     srv.Handler(),
		ReadTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("websocket hub listening", "addr", cfg.Network.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server failed: %w", err)
		}
	}()

	gs := srv.GRPCServer()
	if cfg.Network.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.Network.GRPCAddr)
		if err != nil {
			logger.Error("failed to listen for gRPC", "addr", cfg.Network.GRPCAddr, "error", err)
			os.Exit(1)
		}
		go func() {
			logger.Info("gRPC hub listening", "addr", cfg.Network.GRPCAddr)
			if err := gs.Serve(lis); err != nil {
				errCh <- fmt.Errorf("gRPC server failed: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		logger.Error("server error", "error", err)
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	_ = srv.Close()
	gs.Stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown", "error", err)
	}
	logger.Info("hub stopped")
}
