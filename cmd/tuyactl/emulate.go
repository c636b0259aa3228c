package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/muurk/tuyalocal/internal/config"
	"github.com/muurk/tuyalocal/internal/mockdevice"
	"github.com/muurk/tuyalocal/internal/protocol"
	"github.com/muurk/tuyalocal/internal/ui"
)

var (
	emulateListen string
	emulateDPS    string
)

func init() {
	emulateCmd.Flags().StringVar(&emulateListen, "listen", "127.0.0.1:6668", "TCP listen address")
	emulateCmd.Flags().StringVar(&emulateDPS, "dps", `{"1":false}`, "Initial data points as a JSON object")
	rootCmd.AddCommand(emulateCmd)
}

var emulateCmd = &cobra.Command{
	Use:   "emulate",
	Short: "Run an emulated device for testing clients",
	Long: `Listen for local protocol connections and answer them like a device
would: status queries, control commands, heartbeats and, for 3.4 and 3.5,
the session key handshake.`,
	Example: `  # Terminal 1
  tuyactl emulate --id fake01 --key 0123456789abcdef --version 3.4

  # Terminal 2
  tuyactl get --host 127.0.0.1 --id fake01 --key 0123456789abcdef --version 3.4`,
	Args: cobra.NoArgs,
	RunE: runEmulate,
}

func runEmulate(cmd *cobra.Command, args []string) error {
	if idFlag == "" {
		return fmt.Errorf("--id is required")
	}
	v := versionFlag
	if v == "" {
		v = defaultVersion
	}
	version, err := protocol.ParseVersion(v)
	if err != nil {
		return err
	}
	key, _, err := config.ResolveKey(keyFlag, nil, config.TerminalPrompter{})
	if err != nil {
		return err
	}

	var dps map[string]any
	if err := json.Unmarshal([]byte(emulateDPS), &dps); err != nil {
		return fmt.Errorf("--dps is not a JSON object: %w", err)
	}

	dev, err := mockdevice.New(mockdevice.Config{
		Addr:      emulateListen,
		DeviceID:  idFlag,
		GatewayID: gatewayFlag,
		Key:       key,
		Version:   version,
		DPS:       dps,
	})
	if err != nil {
		return err
	}
	if err := dev.Start(); err != nil {
		return err
	}

	ui.NewPrinter(nil).PrintHeader("Emulate", "tuyactl emulate", map[string]string{
		"Device":    idFlag,
		"Version":   string(version),
		"Listening": dev.Addr().String(),
	})

	<-cmd.Context().Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return dev.Shutdown(ctx)
}
