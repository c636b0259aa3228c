package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/muurk/tuyalocal/internal/config"
	"github.com/muurk/tuyalocal/internal/device"
	"github.com/muurk/tuyalocal/internal/protocol"
	"github.com/muurk/tuyalocal/internal/ui"
)

func init() {
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(setCmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(pingCmd)
	rootCmd.AddCommand(decodeCmd)
}

// printJSON writes v as indented JSON to stdout.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// connectionParams describes the target in command headers.
func connectionParams(s *session) map[string]string {
	return map[string]string{
		"Device":  s.target.label(),
		"Address": s.target.device.Addr(),
		"Version": s.target.device.Version,
	}
}

// report prints the outcome of a one-shot command in the selected format.
func report(command string, err error) error {
	if err != nil && outputFormat == "detailed" {
		ui.NewPrinter(nil).PrintError(command+" failed", err)
	}
	return err
}

var getCmd = &cobra.Command{
	Use:   "get",
	Short: "Query all data points",
	Long: `Query the device for the current value of every data point.

Versions 3.4 and 3.5 negotiate a session key first, which adds one round
trip before the query.`,
	Example: `  # Query a stored device
  tuyactl get --device lamp

  # Query an ad hoc device as JSON
  tuyactl get --host 192.168.1.40 --id bf0123456789abcdef --version 3.4 -o json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		err := withSession(cmd.Context(), func(ctx context.Context, s *session) error {
			dps, err := s.device.DPS(ctx)
			if err != nil {
				return err
			}
			if outputFormat == "json" {
				return printJSON(map[string]any{"dps": dps})
			}
			p := ui.NewPrinter(nil)
			p.PrintHeader("Get", "tuyactl get", connectionParams(s))
			p.PrintDPS(fmt.Sprintf("%d data points", len(dps)), dps)
			return nil
		})
		return report("Get", err)
	},
}

var setCmd = &cobra.Command{
	Use:   "set ID=VALUE...",
	Short: "Set data points",
	Long: `Set one or more data points.

Values are parsed as JSON when possible (true, 42, "text", {"h":120}) and
sent as strings otherwise.`,
	Example: `  # Switch on and set brightness
  tuyactl set --device lamp 1=true 22=500

  # Set a colour mode string
  tuyactl set --device lamp 21=colour`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dps, err := device.ParseAssignments(args)
		if err != nil {
			return err
		}
		err = withSession(cmd.Context(), func(ctx context.Context, s *session) error {
			if err := s.device.Set(ctx, dps); err != nil {
				return err
			}
			if outputFormat == "json" {
				return printJSON(map[string]any{"set": dps})
			}
			p := ui.NewPrinter(nil)
			p.PrintHeader("Set", "tuyactl set "+strings.Join(args, " "), connectionParams(s))
			p.PrintDPS("Device accepted the update", dps)
			return nil
		})
		return report("Set", err)
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh [ID...]",
	Short: "Ask the device to re-measure data points",
	Long: `Ask the device to refresh data points whose values it samples, such as
power metering readings. Defaults to ids 4, 5, 6, 18, 19 and 20.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ids := []int{4, 5, 6, 18, 19, 20}
		if len(args) > 0 {
			ids = ids[:0]
			for _, a := range args {
				n, err := strconv.Atoi(a)
				if err != nil {
					return fmt.Errorf("data point id %q is not a number", a)
				}
				ids = append(ids, n)
			}
		}
		err := withSession(cmd.Context(), func(ctx context.Context, s *session) error {
			dps, err := s.device.Refresh(ctx, ids)
			if err != nil {
				return err
			}
			if outputFormat == "json" {
				return printJSON(map[string]any{"dps": dps})
			}
			p := ui.NewPrinter(nil)
			p.PrintHeader("Refresh", "tuyactl refresh", connectionParams(s))
			p.PrintDPS("Refreshed data points", dps)
			return nil
		})
		return report("Refresh", err)
	},
}

var pingCount int

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Send heartbeats and report round trip times",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		err := withSession(cmd.Context(), func(ctx context.Context, s *session) error {
			results := make(map[string]string, pingCount)
			var failed int
			for i := 1; i <= pingCount; i++ {
				start := time.Now()
				label := fmt.Sprintf("heartbeat %d", i)
				if s.conn.SendPing(ctx) {
					results[label] = time.Since(start).Round(time.Microsecond).String()
				} else {
					results[label] = "no reply"
					failed++
				}
			}

			if outputFormat == "json" {
				return printJSON(map[string]any{"results": results, "failed": failed})
			}
			p := ui.NewPrinter(nil)
			p.PrintHeader("Ping", "tuyactl ping", connectionParams(s))
			if failed > 0 {
				p.PrintWarning(fmt.Sprintf("%d of %d heartbeats unanswered", failed, pingCount), results)
				return nil
			}
			p.PrintSuccess("Device answered every heartbeat", results)
			return nil
		})
		return report("Ping", err)
	},
}

func init() {
	pingCmd.Flags().IntVarP(&pingCount, "count", "c", 3, "Number of heartbeats")
}

var decodeCmd = &cobra.Command{
	Use:   "decode HEX",
	Short: "Decode captured frames",
	Long: `Decode one or more frames given as hex, for example copied from a
packet capture. Whitespace in the input is ignored.

For 3.4 and 3.5 traffic after the handshake, pass the session key with
--key instead of the local key.`,
	Example: `  tuyactl decode --version 3.3 --key '0123456789abcdef' 000055aa00000001...`,
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := hex.DecodeString(strings.Join(strings.Fields(strings.Join(args, "")), ""))
		if err != nil {
			return fmt.Errorf("input is not hex: %w", err)
		}

		t, err := targetForDecode()
		if err != nil {
			return err
		}
		codec, err := protocol.NewCodec(protocol.Version(t.device.Version), t.key)
		if err != nil {
			return err
		}

		packets, err := protocol.Decode(codec, raw)
		if outputFormat == "json" {
			if jerr := printJSON(map[string]any{"packets": decodedPackets(packets)}); jerr != nil {
				return jerr
			}
			return err
		}

		p := ui.NewPrinter(nil)
		p.PrintHeader("Decode", "tuyactl decode", map[string]string{
			"Version": t.device.Version,
			"Bytes":   strconv.Itoa(len(raw)),
		})
		for i, pkt := range decodedPackets(packets) {
			details := map[string]string{
				"command": pkt["command"].(string),
				"seq":     strconv.FormatUint(uint64(pkt["seq"].(uint32)), 10),
				"payload": pkt["payload"].(string),
			}
			if code, ok := pkt["return_code"]; ok {
				details["return code"] = strconv.FormatUint(uint64(code.(uint32)), 10)
			}
			p.PrintSuccess(fmt.Sprintf("Frame %d", i+1), details)
		}
		return report("Decode", err)
	},
}

// targetForDecode needs only a version and key, not an address.
func targetForDecode() (*target, error) {
	t := &target{name: deviceName}
	if deviceName != "" {
		reg, err := config.LoadRegistry()
		if err != nil {
			return nil, err
		}
		if d := reg.GetDevice(deviceName); d != nil {
			t.device = *d
		}
	}
	if versionFlag != "" {
		t.device.Version = versionFlag
	}
	if t.device.Version == "" {
		t.device.Version = defaultVersion
	}
	if _, err := protocol.ParseVersion(t.device.Version); err != nil {
		return nil, err
	}
	key, _, err := config.ResolveKey(keyFlag, &t.device, config.TerminalPrompter{})
	if err != nil {
		return nil, err
	}
	t.key = key
	return t, nil
}

func decodedPackets(packets []protocol.Packet) []map[string]any {
	out := make([]map[string]any, 0, len(packets))
	for _, p := range packets {
		m := map[string]any{
			"command": p.Command.String(),
			"seq":     p.Sequence,
		}
		if utf8.Valid(p.Payload.Raw) {
			m["payload"] = string(p.Payload.Raw)
		} else {
			m["payload"] = hex.EncodeToString(p.Payload.Raw)
		}
		if p.HasReturnCode {
			m["return_code"] = p.ReturnCode
		}
		if p.Payload.IsJSON() {
			m["data"] = p.Payload.Data
		}
		out = append(out, m)
	}
	return out
}
