// Package main implements the GeoTrack server entry point.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/geotrack/geotrack/internal/api"
	"github.com/geotrack/geotrack/internal/audit"
	"github.com/geotrack/geotrack/internal/config"
	"github.com/geotrack/geotrack/internal/logging"
	"github.com/geotrack/geotrack/internal/registry"
	"github.com/geotrack/geotrack/internal/relay"
	"github.com/geotrack/geotrack/internal/stream"
	"github.com/geotrack/geotrack/internal/tracking"
)

func main() {
	flags := pflag.NewFlagSet("geotrack", pflag.ExitOnError)
	config.RegisterFlags(flags)
	_ = flags.Parse(os.Args[1:])

	if err := run(flags); err != nil {
		fmt.Fprintf(os.Stderr, "geotrack: %v\n", err)
		os.Exit(1)
	}
}

func run(flags *pflag.FlagSet) error {
	// Step 1: Load configuration
	configPath, _ := flags.GetString("config")
	cfg, err := config.Load(configPath, flags)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := logging.New(cfg.Log)
	instanceID := uuid.NewString()
	log := logger.WithField("instance", instanceID)
	log.WithField("version", api.Version).Info("Starting GeoTrack")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Step 2: Initialize backends
	backends, err := newBackends(ctx, cfg, instanceID, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := backends.close(); err != nil {
			log.WithError(err).Warn("Error closing backends")
		}
	}()

	// Step 3: Initialize audit logger
	var auditLogger tracking.AuditLogger
	if cfg.Audit.Enabled {
		al, err := audit.NewLogger(cfg.Audit)
		if err != nil {
			return fmt.Errorf("failed to initialize audit logger: %w", err)
		}
		defer func() {
			if err := al.Close(); err != nil {
				log.WithError(err).Warn("Error closing audit logger")
			}
		}()
		auditLogger = al
		log.WithField("path", al.GetFilePath()).Info("Audit logger initialized")

		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		go rotateOnSignal(ctx, hup, al, log)
	}

	// Step 4: Registry and bus relay
	reg := registry.New(log)
	busRelay := relay.New(backends.bus, reg, cfg.Relay, log)
	relayCtx, cancelRelay := context.WithCancel(context.Background())
	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		_ = busRelay.Run(relayCtx)
	}()
	log.Info("Bus relay started")

	// Step 5: Tracking service and live transports
	svc := tracking.NewService(tracking.Dependencies{
		Geo:       backends.geo,
		Cache:     backends.cache,
		Publisher: backends.bus,
		Audit:     auditLogger,
	}, cfg.Store.OperationTimeout, log)
	streams := stream.NewHandler(reg, cfg.Stream, log)

	// Step 6: Create API server with all components
	server := api.NewServer(api.Dependencies{
		Tracking:    svc,
		Streams:     streams,
		Relay:       busRelay,
		Connections: reg,
	}, cfg.Server, log)
	server.OnShutdown(streams.Close)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start(cfg.Server.Addr)
	}()

	// Wait for shutdown signal or server error
	var runErr error
	select {
	case <-ctx.Done():
		log.Info("Shutdown signal received, stopping")
	case err := <-serverErr:
		if err != nil {
			log.WithError(err).Error("HTTP server failed")
			runErr = err
		}
	}

	// Graceful shutdown: HTTP first so no new ingests arrive, then the relay.
	if err := server.Stop(context.Background()); err != nil {
		log.WithError(err).Warn("Error stopping HTTP server")
	} else {
		log.Info("HTTP server stopped")
	}
	streams.Close()

	cancelRelay()
	<-relayDone
	log.Info("Bus relay stopped")

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	log.Info("GeoTrack shutdown complete")
	return nil
}
