// Command bridge runs the Marker/relay bridge controller: it opens
// both serial links, starts the PLC watcher, and serves the
// request/reply socket described by spec.md §6 until interrupted.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/D1nhkh01/controller/internal/bridge"
	"github.com/D1nhkh01/controller/internal/codec"
	"github.com/D1nhkh01/controller/internal/config"
	"github.com/D1nhkh01/controller/internal/coordinator"
	"github.com/D1nhkh01/controller/internal/logging"
	"github.com/D1nhkh01/controller/internal/markerlink"
	"github.com/D1nhkh01/controller/internal/modbus"
	"github.com/D1nhkh01/controller/internal/plcwatcher"
	"github.com/D1nhkh01/controller/internal/relay"
	"github.com/D1nhkh01/controller/internal/serial"
	"github.com/D1nhkh01/controller/internal/store"
	"github.com/D1nhkh01/controller/internal/transport"
)

var (
	flagConfigPath    string
	flagLogLevel      string
	flagDryRun        bool
	flagDryRunRelay   bool
	flagDryRunCommand bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "bridge",
		Short:         "Mediates between the request socket and the Marker/relay serial devices",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}
	cmd.Flags().StringVar(&flagConfigPath, "config", "config.yaml", "path to the YAML configuration file")
	cmd.Flags().StringVar(&flagLogLevel, "log-level", "", "off|error|warn|info|debug (overrides logging.level)")
	cmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "dry-run both serial devices")
	cmd.Flags().BoolVar(&flagDryRunRelay, "dry-run-relay", false, "dry-run the relay/PLC board only")
	cmd.Flags().BoolVar(&flagDryRunCommand, "dry-run-command", false, "dry-run the Marker link only")
	return cmd
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(flagConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	levelName := cfg.Logging.Level
	if flagLogLevel != "" {
		levelName = flagLogLevel
	}
	log, atomicLevel := logging.New(logging.Options{
		Level:      logging.LevelFromName(levelName),
		Timestamps: cfg.Logging.Timestamps,
		Console:    cfg.Logging.Console,
	})
	defer log.Sync()

	markerDryRun := cfg.Devices.SoftwareCommand.DryRun || flagDryRun || flagDryRunCommand
	relayDryRun := cfg.Devices.BoardRelay.DryRun || flagDryRun || flagDryRunRelay

	link, err := markerlink.Open(markerlink.Config{
		PortName: cfg.Devices.SoftwareCommand.ComPort,
		Link: serial.LinkConfig{
			BaudRate: cfg.Devices.SoftwareCommand.BaudRate,
			XonXoff:  cfg.Devices.SoftwareCommand.XonXoff,
		},
		DryRun:              markerDryRun,
		DryRunCompleteDelay: time.Duration(cfg.Devices.SoftwareCommand.DryRunCompleteMs) * time.Millisecond,
	}, log.Named("markerlink"))
	if err != nil {
		return fmt.Errorf("open marker link: %w", err)
	}
	defer link.Close()

	var relayClient *modbus.Client
	if relayDryRun {
		relayClient = modbus.NewClientWithTransport(newDryRunBoard(cfg.Devices.BoardRelay.DryRunState), byte(cfg.Devices.BoardRelay.SlaveID))
	} else {
		relayClient, err = modbus.NewClient(cfg.Devices.BoardRelay.ComPort, byte(cfg.Devices.BoardRelay.SlaveID), serial.LinkConfig{
			BaudRate: cfg.Devices.BoardRelay.BaudRate,
		})
		if err != nil {
			return fmt.Errorf("open relay board: %w", err)
		}
	}
	defer relayClient.Close()

	choreographer := relay.New(relayClient)
	coord := coordinator.New(link, choreographer, bridge.DefaultTimeoutPolicy())

	st, err := store.Open(storePath(flagConfigPath))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	observer := bridge.LogObserver{Log: log.Named("observer")}

	watcher := plcwatcher.New(relayClient, plcwatcher.Config{
		StartAddress:       cfg.Devices.BoardRelay.ReadSettings.StartAddress,
		NumRegisters:       cfg.Devices.BoardRelay.ReadSettings.NumRegisters,
		PollInterval:       time.Duration(cfg.Devices.BoardRelay.ReadSettings.IntervalMs) * time.Millisecond,
		DebounceInterval:   time.Duration(cfg.Devices.SoftwareCommand.EmitOptions.DebounceMs) * time.Millisecond,
		MaxConsecutiveFail: 5,
	}, log.Named("plcwatcher"), execThroughCoordinator(coord, observer), observer)
	watcher.Run()
	defer watcher.Stop()

	handler := &bridge.Handler{
		Coordinator: coord,
		Watcher:     watcher,
		Store:       st,
		Observer:    observer,
		LogLevel:    &atomicLevel,
		DryRunState: &bridge.DryRunState{Marker: markerDryRun, Relay: relayDryRun},
	}

	srv, err := transport.Listen(transport.Config{Addr: cfg.ListenAddr}, handler.Handle, log.Named("transport"))
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.ListenAddr, err)
	}
	go srv.Serve()
	defer srv.Close()

	log.Info("bridge controller started",
		zap.String("listenAddr", cfg.ListenAddr),
		zap.Bool("markerDryRun", markerDryRun),
		zap.Bool("relayDryRun", relayDryRun),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutdown signal received")
	return nil
}

func execThroughCoordinator(coord *coordinator.Coordinator, observer bridge.Observer) func(codec.Command, string) {
	return func(cmd codec.Command, sourceTag string) {
		res := coord.Execute(cmd, sourceTag)
		observer.OnOperationResult(sourceTag, string(cmd.Kind), res)
	}
}

func storePath(configPath string) string {
	return configPath + ".store.json"
}
