// Package config manages the tuyalocal device registry.
//
// The registry is a YAML file that maps a device name to everything needed to
// open a local connection: device id, address, protocol version, timeouts and,
// optionally, the 16 byte local key.
//
// # Configuration File Location
//
// TUYALOCAL_CONFIG_DIR wins when set. Otherwise devices.yaml lives under the
// user config directory:
//
//   - Linux: $XDG_CONFIG_HOME/tuyalocal or $HOME/.config/tuyalocal
//   - macOS: $HOME/Library/Application Support/tuyalocal
//   - Windows: %AppData%\tuyalocal
//
// # Local Keys
//
// A key stored in the registry is written in clear text, so the file is saved
// with mode 0600. ResolveKey lets callers keep keys out of the file entirely:
//
//	key, source, err := config.ResolveKey(flagKey, dev, config.TerminalPrompter{})
//
// The first non-empty value wins: the flag, then TUYALOCAL_KEY, then the
// registry entry, then an interactive prompt.
//
// # Usage Example
//
//	registry, err := config.LoadRegistry()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = registry.SetDevice("lamp", &config.Device{
//	    ID:      "bf0123456789abcdef",
//	    Host:    "192.168.1.40",
//	    Version: "3.4",
//	})
//	if err == nil {
//	    err = registry.Save()
//	}
//
// # Thread Safety
//
// LoadRegistry reads the file once per process. Saves are serialized by a
// mutex and replace the file by rename, so readers never see a partial write.
package config
