package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/yodaldevoid/MyoBlueZ/internal/device"
	"github.com/yodaldevoid/MyoBlueZ/internal/groutine"
	"github.com/yodaldevoid/MyoBlueZ/internal/metrics"
	"github.com/yodaldevoid/MyoBlueZ/internal/platform"
	"github.com/yodaldevoid/MyoBlueZ/internal/platform/bluez"
	"github.com/yodaldevoid/MyoBlueZ/internal/platform/goble"
	"github.com/yodaldevoid/MyoBlueZ/internal/protocol"
	"github.com/yodaldevoid/MyoBlueZ/internal/stream"
	"github.com/yodaldevoid/MyoBlueZ/pkg/config"
	"golang.org/x/sys/unix"
)

const outputBufferSize = 512

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to a Myo armband and stream its data",
	Long: `Scans for a Myo armband, connects to the first one found, configures
the requested streaming modes and prints every decoded notification until
interrupted. A dropped link is re-established automatically.

Examples:
  # Stream IMU and pose events as text
  myobluez run

  # Stream filtered EMG as JSON lines, no classifier
  myobluez run --emg filtered --classifier disabled --format json

  # Use a second controller and expose Prometheus metrics
  myobluez run --adapter hci1 --metrics-addr 127.0.0.1:9464`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringP("format", "f", "", "Output format (text, json)")
	runCmd.Flags().Duration("scan-timeout", 0, "Give up when no armband is found in this time (0 waits forever)")
	runCmd.Flags().String("emg", "", "EMG mode (none, filtered, raw)")
	runCmd.Flags().String("imu", "", "IMU mode (none, data, events, all, raw)")
	runCmd.Flags().String("classifier", "", "Classifier mode (enabled, disabled)")
	runCmd.Flags().Int("notify-retries", 0, "Attempts per notification subscription change")
	runCmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address")
	runCmd.Flags().String("vibrate", "", "Vibrate once connected (short, medium, long)")
}

// newPlatform opens the configured Bluetooth backend.
var newPlatform = func(cfg *config.Config, logger *logrus.Logger) (platform.Platform, error) {
	switch cfg.Backend {
	case config.BackendGoBLE:
		return goble.New(logger)
	default:
		return bluez.New(logger)
	}
}

func parseVibration(s string) (protocol.Vibration, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return protocol.VibrationNone, nil
	case "short":
		return protocol.VibrationShort, nil
	case "medium":
		return protocol.VibrationMedium, nil
	case "long":
		return protocol.VibrationLong, nil
	default:
		return 0, fmt.Errorf("invalid vibration %q: use short, medium or long", s)
	}
}

func runRun(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	modes, err := cfg.Modes()
	if err != nil {
		return err
	}
	vibrateFlag, _ := cmd.Flags().GetString("vibrate")
	vibration, err := parseVibration(vibrateFlag)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(cmd.Context(), unix.SIGINT, unix.SIGTERM)
	defer stop()

	m := metrics.New()
	if cfg.MetricsAddr != "" {
		srv := serveMetrics(cfg.MetricsAddr, m, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	plat, err := newPlatform(cfg, logger)
	if err != nil {
		return &device.AdapterError{Adapter: cfg.Adapter, Err: platform.NormalizeError(err)}
	}

	out := stream.NewRing[record](outputBufferSize)
	out.OnDrop = func(record) { m.ObserveDropped() }
	written := make(chan struct{})
	p := newPrinter(cfg.OutputFormat, cmd.OutOrStdout())
	groutine.Go(context.Background(), logger, "output-writer", func(ctx context.Context) {
		defer close(written)
		out.Drain(ctx, func(rec record) {
			if err := p.Print(rec); err != nil {
				logger.WithError(err).Debug("Output write failed")
			}
		})
	})

	drv := device.New(plat, newHandlers(modes, vibration, out, logger), cfg.Options(), logger, m)
	runErr := drv.Run(ctx)

	out.Close()
	<-written
	return runErr
}

// newHandlers wires the driver callbacks to the output ring.
func newHandlers(modes device.Modes, vibration protocol.Vibration, out *stream.Ring[record], logger *logrus.Logger) device.Handlers {
	push := func(ev protocol.Event) { out.Push(eventRecord(ev)) }
	initialize := device.DefaultInitializer(modes, push)

	return device.Handlers{
		Initialize: func(myo *device.Myo) {
			initialize(myo)
			myo.ReadBatteryLevel(func(level protocol.BatteryLevel, err error) {
				if err != nil {
					logger.WithError(err).Warn("Cannot read battery level")
					return
				}
				push(level)
			})
			if vibration != protocol.VibrationNone {
				if err := myo.Vibrate(vibration); err != nil {
					logger.WithError(err).Warn("Cannot vibrate")
				}
			}
		},
		OnIMU:        func(_ *device.Myo, s protocol.IMUSample) { push(s) },
		OnClassifier: func(_ *device.Myo, e protocol.ClassifierEvent) { push(e) },
		OnEMG:        func(_ *device.Myo, f protocol.EMGFrame) { push(f) },
		OnStatus: func(myo *device.Myo, s device.ConnectionStatus) {
			logger.WithFields(logrus.Fields{
				"status":  s.String(),
				"address": myo.Address(),
			}).Info("Connection status changed")
			out.Push(statusRecord(s))
		},
		OnError: func(_ *device.Myo, err error) {
			logger.WithError(err).Warn("Driver error")
		},
	}
}

func serveMetrics(addr string, m *metrics.Metrics, logger *logrus.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	groutine.Go(context.Background(), logger, "metrics-server", func(context.Context) {
		logger.WithField("addr", addr).Info("Serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Metrics server failed")
		}
	})
	return srv
}
