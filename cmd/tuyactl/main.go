// Tuyactl controls Tuya devices over the local network.
//
// It speaks protocol versions 3.1 to 3.5 directly to the device on TCP port
// 6668, without the vendor cloud. Devices can be given on the command line or
// stored in the registry with "tuyactl devices add".
//
// Usage:
//
//	tuyactl [command] [flags]
//
// See 'tuyactl --help' for available commands.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/muurk/tuyalocal/internal/config"
	"github.com/muurk/tuyalocal/internal/logging"
	"github.com/muurk/tuyalocal/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	logging.Sync()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// Global connection flags
var (
	deviceName   string
	hostFlag     string
	portFlag     int
	idFlag       string
	gatewayFlag  string
	keyFlag      string
	versionFlag  string
	timeoutFlag  time.Duration
	logLevel     string
	capturePath  string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "tuyactl",
	Short: "Local control for Tuya devices",
	Long: `Query and control Tuya devices over the local network.

Devices are addressed either by name from the registry (--device) or
directly with --host, --id, --key and --version. Flags given on the
command line override the stored entry.`,
	Version:           version.Version,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&deviceName, "device", "d", "", "Device name from the registry")
	pf.StringVar(&hostFlag, "host", "", "Device IP address or hostname")
	pf.IntVar(&portFlag, "port", 0, "Device TCP port (default 6668)")
	pf.StringVar(&idFlag, "id", "", "Device id")
	pf.StringVar(&gatewayFlag, "gateway-id", "", "Gateway id (defaults to the device id)")
	pf.StringVar(&keyFlag, "key", "", "16 character local key (also read from "+config.KeyEnvVar+")")
	pf.StringVar(&versionFlag, "version", "", "Protocol version: 3.1, 3.2, 3.3, 3.4 or 3.5")
	pf.DurationVar(&timeoutFlag, "timeout", 0, "Response timeout (default 1s)")
	pf.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); silent when unset")
	pf.StringVar(&capturePath, "capture", "", "Record every packet to this SQLite file")
	pf.StringVarP(&outputFormat, "format", "o", "detailed", "Output format (detailed, json)")

	rootCmd.AddCommand(versionCmd)
}

// setup initializes logging from the flag, the environment or the registry
// preference, in that order.
func setup(cmd *cobra.Command, args []string) error {
	level := logLevel
	if level == "" && os.Getenv(logging.LogLevelEnvVar) == "" {
		if reg, err := config.LoadRegistry(); err == nil && reg.Preferences != nil {
			level = reg.Preferences.LogLevel
		}
	}
	if err := logging.Initialize(level); err != nil {
		return err
	}
	switch outputFormat {
	case "detailed", "json":
		return nil
	default:
		return fmt.Errorf("unknown --format %q (want detailed or json)", outputFormat)
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("tuyactl %s\n", version.Full())
	},
}
