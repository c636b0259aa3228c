package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/muurk/tuyalocal/internal/config"
	"github.com/muurk/tuyalocal/internal/logging"
	"github.com/muurk/tuyalocal/internal/monitor"
	"github.com/muurk/tuyalocal/internal/ui"
)

var monitorAddr string

func init() {
	monitorCmd.Flags().StringVar(&monitorAddr, "listen", "", "HTTP listen address (default "+monitor.DefaultAddr+")")
	rootCmd.AddCommand(monitorCmd)
}

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Serve the device over HTTP and websocket",
	Long: `Keep a connection to the device open and expose it over HTTP:

  GET  /state      connection state
  GET  /dps        query data points
  POST /dps        set data points, body {"dps": {"1": true}}
  GET  /ws         live packet and state events
  GET  /metrics    Prometheus metrics
  GET  /captures   recorded sessions (with --capture)

Lost connections are retried with exponential backoff.`,
	Example: `  tuyactl monitor --device lamp --listen 127.0.0.1:8668
  curl -s localhost:8668/dps`,
	Args: cobra.NoArgs,
	RunE: runMonitor,
}

func runMonitor(cmd *cobra.Command, args []string) error {
	t, err := resolveTarget()
	if err != nil {
		return err
	}
	s, err := openSession(t, true)
	if err != nil {
		return err
	}

	addr := monitorAddr
	if addr == "" {
		if reg, err := config.LoadRegistry(); err == nil && reg.Preferences != nil {
			addr = reg.Preferences.MonitorAddr
		}
	}
	srv, err := monitor.New(monitor.Config{
		Addr:     addr,
		Device:   s.device,
		Gatherer: s.registry,
		Capture:  s.capture,
	})
	if err != nil {
		return multierr.Append(err, s.Close())
	}
	if err := srv.Start(); err != nil {
		return multierr.Append(err, s.Close())
	}

	params := connectionParams(s)
	params["Listening"] = "http://" + srv.Addr().String()
	ui.NewPrinter(nil).PrintHeader("Monitor", "tuyactl monitor", params)

	ctx := cmd.Context()
	var runErr error
	for ctx.Err() == nil {
		err := s.connectWithRetry(ctx, func(err error, wait time.Duration) {
			logging.Warn("Connect failed, retrying",
				zap.String("device", t.label()),
				zap.Duration("wait", wait),
				zap.Error(err),
			)
		})
		if err != nil {
			if ctx.Err() == nil {
				runErr = err
			}
			break
		}
		logging.LogConnection(s.conn.Addr(), "ready")

		select {
		case <-srv.Follow(s.conn):
			logging.Warn("Connection lost, reconnecting", zap.Error(s.conn.Packets().Err()))
		case <-ctx.Done():
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return multierr.Combine(runErr, srv.Shutdown(shutdownCtx), s.Close())
}
