package main

import (
	"fmt"
	"log"
	"os"

	"github.com/rivo/tview"
	"github.com/spf13/cobra"
	"tinygo.org/x/bluetooth"

	"github.com/lowaak/bike-computer/internal/bikecomputer"
	"github.com/lowaak/bike-computer/internal/bt"
	"github.com/lowaak/bike-computer/internal/config"
	"github.com/lowaak/bike-computer/internal/location"
	"github.com/lowaak/bike-computer/internal/logging"
	"github.com/lowaak/bike-computer/internal/speed"
	"github.com/lowaak/bike-computer/internal/trail"
)

const uiLogBuffer = 256

func main() {
	rootCmd := &cobra.Command{
		Use:   "bike-computer",
		Short: "Bicycle speed, heading and GPX trail recorder",
		Long: `bike-computer shows the speed reported by a BLE wheel sensor together with
position and heading from a GPS receiver, and can record the ride as a GPX track.

Use --mock to run against a simulated wheel sensor and --location-source sim
for a simulated GPS when no hardware is attached.`,
		SilenceUsage: true,
		RunE:         run,
	}
	config.RegisterFlags(rootCmd.Flags())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return err
	}

	logs := logging.New(logging.Options{
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Stderr:     cfg.Log.Stderr,
		UIBuffer:   uiLogBuffer,
	})
	defer logs.Close()
	logger := logs.Logger
	if cfg.File != "" {
		logger.Printf("BikeComputer: using config %s", cfg.File)
	}

	adapter, stopAdapter := newAdapter(cfg, logger)
	defer stopAdapter()
	if err := adapter.Enable(); err != nil {
		return fmt.Errorf("failed to enable BLE stack: %w", err)
	}

	source, closeSource := newPositionSource(cfg, logger)
	defer closeSource()

	ticks := speed.NewTickBuffer(cfg.Speed.RetentionWindow)
	estimator := speed.NewEstimator(ticks, cfg.EstimatorConfig(), nil, logger)
	link := bt.NewLinkManager(adapter, ticks, cfg.LinkConfig(), logger)
	readouts := location.NewReadouts()
	poller := location.NewPoller(source, readouts, cfg.PollerConfig(), logger)
	recorder := trail.NewRecorder(readouts, cfg.RecorderConfig(), logger)

	model := bikecomputer.NewUIModel(bikecomputer.NewUIModelArg{
		Link:      link,
		Speed:     estimator,
		Location:  readouts,
		Trail:     recorder,
		StatePath: bikecomputer.DefaultStatePath(),
		Logger:    logger,
		UILogChan: logs.UILogChan(),
	})
	controller := bikecomputer.NewUIController(bikecomputer.NewUIControllerArg{
		Model:    model,
		Link:     link,
		Trail:    recorder,
		Ticks:    ticks,
		Services: []bikecomputer.Service{estimator, poller},
		Logger:   logger,
	})

	app := tview.NewApplication()
	view := bikecomputer.NewBaseUIView(bikecomputer.NewBaseUIViewArg{
		UIViewImpl:   bikecomputer.NewCursesUIView(logger, app, model),
		UIModel:      model,
		UIController: controller,
		Logger:       logger,
	})

	estimator.Start()
	poller.Start()
	logger.Printf("BikeComputer: ready, trails go to %s", cfg.Trail.Dir)

	runErr := view.Run()

	view.Shutdown()
	controller.Shutdown()
	model.Shutdown()
	if runErr != nil {
		return fmt.Errorf("terminal UI: %w", runErr)
	}
	return nil
}

func newAdapter(cfg *config.Config, logger *log.Logger) (bt.Adapter, func()) {
	if cfg.BLE.Mock {
		mock := bt.NewMockAdapter(logger, cfg.MockAdapterConfig())
		return mock, mock.Shutdown
	}
	return bt.NewTinyGoAdapter(bluetooth.DefaultAdapter, cfg.CapabilityTable(), logger), func() {}
}

// newPositionSource opens the configured source. A receiver that cannot be
// opened leaves the instrument running without position.
func newPositionSource(cfg *config.Config, logger *log.Logger) (location.PositionSource, func()) {
	switch cfg.Location.Source {
	case config.SourceSim:
		return location.NewSimSource(cfg.SimConfig()), func() {}
	case config.SourceNMEA:
		src, err := location.OpenNMEASource(cfg.Location.SerialPort, cfg.Location.BaudRate, logger)
		if err != nil {
			logger.Printf("BikeComputer: GPS unavailable, continuing without position: %v", err)
			return location.NoSource{}, func() {}
		}
		return src, func() {
			if err := src.Close(); err != nil {
				logger.Printf("BikeComputer: error closing GPS: %v", err)
			}
		}
	default:
		return location.NoSource{}, func() {}
	}
}
