package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/muurk/tuyalocal/internal/config"
	"github.com/muurk/tuyalocal/internal/ui"
)

var (
	forceAdd  bool
	assumeYes bool
)

func init() {
	devicesAddCmd.Flags().BoolVar(&forceAdd, "force", false, "Replace an existing entry")
	devicesRemoveCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Do not ask for confirmation")

	devicesCmd.AddCommand(devicesAddCmd)
	devicesCmd.AddCommand(devicesListCmd)
	devicesCmd.AddCommand(devicesRemoveCmd)
	rootCmd.AddCommand(devicesCmd)
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "Manage the device registry",
}

var devicesAddCmd = &cobra.Command{
	Use:   "add NAME",
	Short: "Store a device under a name",
	Long: `Store a device's connection settings under NAME.

The local key is stored only when --key is given. Leave it out to supply it
later through --key, ` + config.KeyEnvVar + ` or the prompt.`,
	Example: `  tuyactl devices add lamp --host 192.168.1.40 --id bf0123456789abcdef --version 3.4 --key '0123456789abcdef'`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		reg, err := config.LoadRegistry()
		if err != nil {
			return err
		}
		if reg.GetDevice(name) != nil && !forceAdd {
			return fmt.Errorf("device %q already exists (use --force to replace it)", name)
		}

		d := &config.Device{
			ID:              idFlag,
			GatewayID:       gatewayFlag,
			Host:            hostFlag,
			Port:            portFlag,
			Version:         versionFlag,
			Key:             keyFlag,
			ResponseTimeout: timeoutFlag,
		}
		if d.Version == "" {
			d.Version = defaultVersion
		}
		if err := reg.SetDevice(name, d); err != nil {
			return err
		}
		if err := reg.Save(); err != nil {
			return err
		}

		path, _ := config.GetConfigPath()
		ui.NewPrinter(nil).PrintSuccess("Device "+name+" saved", map[string]string{
			"Address":  d.Addr(),
			"Version":  d.Version,
			"Key":      keyState(d),
			"Registry": path,
		})
		return nil
	},
}

func keyState(d *config.Device) string {
	if d.Key == "" {
		return "not stored"
	}
	return "stored"
}

var devicesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored devices",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := config.LoadRegistry()
		if err != nil {
			return err
		}
		names := reg.Names()

		if outputFormat == "json" {
			out := make(map[string]any, len(names))
			for _, name := range names {
				d := *reg.GetDevice(name)
				d.Key = keyState(&d)
				out[name] = d
			}
			return printJSON(out)
		}

		p := ui.NewPrinter(nil)
		if len(names) == 0 {
			p.Println("No devices stored. Add one with 'tuyactl devices add NAME --host ... --id ...'.")
			return nil
		}
		for _, name := range names {
			d := reg.GetDevice(name)
			details := map[string]string{
				"ID":      d.ID,
				"Address": d.Addr(),
				"Version": d.Version,
				"Key":     keyState(d),
			}
			if !d.LastSeen.IsZero() {
				details["Last seen"] = d.LastSeen.Local().Format(time.DateTime)
			}
			p.PrintSuccess(name, details)
		}
		return nil
	},
}

var devicesRemoveCmd = &cobra.Command{
	Use:   "remove NAME",
	Short: "Remove a stored device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		reg, err := config.LoadRegistry()
		if err != nil {
			return err
		}
		d := reg.GetDevice(name)
		if d == nil {
			return fmt.Errorf("no device named %q", name)
		}

		if !assumeYes {
			details := map[string]string{"ID": d.ID, "Address": d.Addr(), "Key": keyState(d)}
			if !ui.Confirm(os.Stdin, os.Stdout, "Remove device "+name, details, "Remove "+name+"?") {
				return nil
			}
		}

		reg.RemoveDevice(name)
		if err := reg.Save(); err != nil {
			return err
		}
		ui.NewPrinter(nil).PrintSuccess("Device "+name+" removed", nil)
		return nil
	},
}
