package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"climacore/internal/api"
	"climacore/internal/brain"
	"climacore/internal/config"
	"climacore/internal/coordinator"
	"climacore/internal/ha"
	"climacore/internal/metrics"
	"climacore/internal/mqtt"
	"climacore/internal/scenario"
)

func newRunCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the coordinator until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.settings.requireHA(); err != nil {
				return err
			}
			if err := a.settings.requireBrain(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, a.settings, a.logger)
		},
	}
}

func run(ctx context.Context, s *settings, logger *zap.Logger) error {
	loader := config.NewLoader(s.OptionsPath, logger)
	if err := loader.Load(); err != nil {
		return err
	}
	opts := loader.Get()

	logger.Info("Starting ClimaCore",
		zap.String("version", Version),
		zap.String("url", s.HAURL),
		zap.String("options", s.OptionsPath),
		zap.Int("zones", len(opts.ActiveZones())),
		zap.Bool("read_only", s.ReadOnly))
	if s.ReadOnly {
		logger.Info("Running in READ-ONLY mode - no changes will be made to Home Assistant")
	}

	client := ha.NewClient(s.HAURL, s.HAToken, logger)
	if err := client.Connect(); err != nil {
		return fmt.Errorf("failed to connect to Home Assistant: %w", err)
	}
	defer client.Disconnect()
	logger.Info("Connected to Home Assistant")

	brainClient := brain.NewClient(s.GatewayURL, s.ActivationCode, logger,
		brain.WithObserver(metrics.ObserveBrainRequest))

	tracker := scenario.NewTracker(client, logger, s.ReadOnly)
	if s.MQTTBroker != "" {
		publisher, err := mqtt.Connect(mqtt.Config{
			Broker:      s.MQTTBroker,
			Username:    s.MQTTUsername,
			Password:    s.MQTTPassword,
			TopicPrefix: s.MQTTTopicPrefix,
		}, logger)
		if err != nil {
			logger.Warn("MQTT publisher disabled", zap.Error(err))
		} else {
			defer publisher.Close()
			tracker.AddPublisher(publisher)
		}
	}

	coord := coordinator.NewCoordinator(client, brainClient, opts, logger, s.ReadOnly)
	coord.SetLocation(s.Location)
	coord.SetScenarioSink(tracker)
	loader.OnReload(func(o *config.Options) {
		if err := coord.UpdateOptions(o); err != nil {
			logger.Error("Failed to apply new options", zap.Error(err))
		}
	})

	if err := coord.Start(); err != nil {
		return fmt.Errorf("failed to start coordinator: %w", err)
	}
	defer coord.Stop()

	if err := loader.StartWatcher(ctx); err != nil {
		logger.Warn("Options hot reload disabled", zap.Error(err))
	} else {
		defer loader.Stop()
	}

	server := api.NewServer(coord, tracker, logger, s.APIPort)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(ctx)
	})
	g.Go(func() error {
		return reloadOnHangup(ctx, loader, logger)
	})

	logger.Info("Application running. Press Ctrl+C to exit.")
	err := g.Wait()
	logger.Info("Shutting down gracefully...")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// reloadOnHangup reloads the options file on SIGHUP until ctx is done.
func reloadOnHangup(ctx context.Context, loader *config.Loader, logger *zap.Logger) error {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hup:
			logger.Info("Received SIGHUP, reloading options")
			if err := loader.Reload(); err != nil {
				logger.Warn("Options reload failed", zap.Error(err))
			}
		}
	}
}
