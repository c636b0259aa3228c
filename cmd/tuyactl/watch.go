package main

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/muurk/tuyalocal/internal/conn"
	"github.com/muurk/tuyalocal/internal/logging"
	"github.com/muurk/tuyalocal/internal/protocol"
	"github.com/muurk/tuyalocal/internal/ui"
)

func init() {
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Show data points live as the device reports them",
	Long: `Connect to the device, keep the connection alive with heartbeats and
show every data point update it pushes. Lost connections are retried with
exponential backoff.

Press r to query all data points again, q to quit.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	t, err := resolveTarget()
	if err != nil {
		return err
	}
	s, err := openSession(t, true)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			logging.Debug("Close after watch", zap.Error(err))
		}
	}()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	model := ui.NewWatchModel(ui.WatchConfig{
		Name:    t.label(),
		Addr:    t.device.Addr(),
		Version: t.device.Version,
		Refresh: func() tea.Msg {
			rctx, rcancel := context.WithTimeout(ctx, 5*time.Second)
			defer rcancel()
			dps, err := s.device.DPS(rctx)
			if err != nil {
				return ui.StateMsg{State: string(s.conn.State()), Err: err}
			}
			return ui.DPSMsg{DPS: dps}
		},
	})

	p := tea.NewProgram(model)
	go followDevice(ctx, s, p.Send)

	_, err = p.Run()
	cancel()
	return err
}

// followDevice keeps s connected and turns connection events into watch
// messages until ctx ends.
func followDevice(ctx context.Context, s *session, send func(tea.Msg)) {
	for ctx.Err() == nil {
		send(ui.StateMsg{State: string(conn.StateConnecting)})
		err := s.connectWithRetry(ctx, func(err error, wait time.Duration) {
			send(ui.StateMsg{
				State: string(conn.StateDisconnected),
				Err:   fmt.Errorf("%w (retrying in %s)", err, wait.Round(100*time.Millisecond)),
			})
		})
		if err != nil {
			if ctx.Err() == nil {
				send(ui.StateMsg{State: string(conn.StateDisconnected), Err: err})
			}
			return
		}

		stream := s.conn.Packets()
		packets, stop := stream.Subscribe(64)
		send(ui.StateMsg{State: string(conn.StateReady)})

		qctx, qcancel := context.WithTimeout(ctx, 5*time.Second)
		if dps, err := s.device.DPS(qctx); err == nil {
			send(ui.DPSMsg{DPS: dps, At: time.Now()})
		} else {
			send(ui.StateMsg{State: string(s.conn.State()), Err: err})
		}
		qcancel()

		for p := range packets {
			if p.Command != protocol.CmdStatus {
				continue
			}
			if dps, ok := p.Payload.DPS(); ok {
				send(ui.DPSMsg{DPS: dps, At: time.Now()})
			}
		}
		stop()

		if ctx.Err() == nil {
			send(ui.StateMsg{State: string(conn.StateDisconnected), Err: stream.Err()})
		}
	}
}
