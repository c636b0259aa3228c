package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/muurk/tuyalocal/internal/protocol"
)

func TestGetConfigDir(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("XDG layout is only used on Linux")
	}
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)

	configDir, err := GetConfigDir()
	if err != nil {
		t.Fatalf("GetConfigDir() error = %v", err)
	}
	if configDir != filepath.Join(xdg, "tuyalocal") {
		t.Errorf("GetConfigDir() = %v, want %v", configDir, filepath.Join(xdg, "tuyalocal"))
	}

	configPath, err := GetConfigPath()
	if err != nil {
		t.Fatalf("GetConfigPath() error = %v", err)
	}
	if filepath.Base(configPath) != "devices.yaml" {
		t.Errorf("GetConfigPath() should end with 'devices.yaml', got: %v", configPath)
	}

	override := t.TempDir()
	t.Setenv(ConfigDirEnvVar, override)
	if dir, _ := GetConfigDir(); dir != override {
		t.Errorf("GetConfigDir() with %s = %v, want %v", ConfigDirEnvVar, dir, override)
	}
}

func TestNewRegistry(t *testing.T) {
	reg := NewRegistry()

	if reg.Version != 1 {
		t.Errorf("NewRegistry().Version = %v, want 1", reg.Version)
	}
	if reg.Devices == nil {
		t.Error("NewRegistry().Devices should be initialized")
	}
	if reg.Preferences == nil || reg.Preferences.MonitorAddr == "" {
		t.Error("NewRegistry().Preferences should carry a monitor address")
	}
}

func validDevice() *Device {
	return &Device{
		ID:      "bf0123456789abcdef",
		Host:    "192.168.1.40",
		Version: "3.4",
	}
}

func TestDevice_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(d *Device)
		wantErr bool
	}{
		{name: "valid", mutate: func(d *Device) {}},
		{name: "valid with key", mutate: func(d *Device) { d.Key = "0123456789abcdef" }},
		{name: "missing id", mutate: func(d *Device) { d.ID = "" }, wantErr: true},
		{name: "missing host", mutate: func(d *Device) { d.Host = "" }, wantErr: true},
		{name: "bad version", mutate: func(d *Device) { d.Version = "2.0" }, wantErr: true},
		{name: "bad port", mutate: func(d *Device) { d.Port = 70000 }, wantErr: true},
		{name: "short key", mutate: func(d *Device) { d.Key = "short" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := validDevice()
			tt.mutate(d)
			err := d.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil {
				return
			}
			if typ, ok := protocol.TypeOf(err); !ok || typ != protocol.ErrTypeConfig {
				t.Errorf("Validate() error = %v, want a config error", err)
			}
		})
	}
}

func TestDevice_Options(t *testing.T) {
	d := validDevice()
	d.Port = 6667
	d.ResponseTimeout = 3 * time.Second

	opts, err := d.Options([]byte("0123456789abcdef"))
	if err != nil {
		t.Fatalf("Options() error = %v", err)
	}
	if opts.Host != d.Host || opts.Port != 6667 || opts.DeviceID != d.ID {
		t.Errorf("Options() = %+v", opts)
	}
	if opts.Version != protocol.V34 {
		t.Errorf("Options().Version = %v, want 3.4", opts.Version)
	}
	if opts.ResponseTimeout != 3*time.Second {
		t.Errorf("Options().ResponseTimeout = %v", opts.ResponseTimeout)
	}
	if got := d.Addr(); got != "192.168.1.40:6667" {
		t.Errorf("Addr() = %v", got)
	}

	d.Port = 0
	if got := d.Addr(); got != "192.168.1.40:6668" {
		t.Errorf("Addr() with default port = %v", got)
	}
}

func TestRegistryDevices(t *testing.T) {
	reg := NewRegistry()

	if err := reg.SetDevice("", validDevice()); err == nil {
		t.Error("SetDevice() accepted an empty name")
	}
	bad := validDevice()
	bad.Host = ""
	if err := reg.SetDevice("lamp", bad); err == nil {
		t.Error("SetDevice() accepted an invalid device")
	}

	for _, name := range []string{"plug", "lamp", "fan"} {
		if err := reg.SetDevice(name, validDevice()); err != nil {
			t.Fatalf("SetDevice(%s) error = %v", name, err)
		}
	}
	if got := strings.Join(reg.Names(), ","); got != "fan,lamp,plug" {
		t.Errorf("Names() = %v", got)
	}

	before := time.Now()
	reg.UpdateDeviceLastSeen("lamp")
	if reg.GetDevice("lamp").LastSeen.Before(before) {
		t.Error("UpdateDeviceLastSeen() did not update timestamp")
	}
	reg.UpdateDeviceLastSeen("missing")

	if !reg.RemoveDevice("fan") || reg.RemoveDevice("fan") {
		t.Error("RemoveDevice() should report existence exactly once")
	}
	if reg.GetDevice("fan") != nil {
		t.Error("GetDevice() returned a removed device")
	}
}

func TestRegistrySaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devices.yaml")

	reg := NewRegistry()
	d := validDevice()
	d.Key = "0123456789abcdef"
	d.HeartbeatInterval = 7 * time.Second
	if err := reg.SetDevice("lamp", d); err != nil {
		t.Fatal(err)
	}
	reg.Preferences.LogLevel = "debug"

	if err := reg.SaveFile(path); err != nil {
		t.Fatalf("SaveFile() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if runtime.GOOS != "windows" && info.Mode().Perm() != 0600 {
		t.Errorf("file mode = %v, want 0600", info.Mode().Perm())
	}
	if entries, _ := os.ReadDir(filepath.Dir(path)); len(entries) != 1 {
		t.Errorf("directory holds %d entries, want only devices.yaml", len(entries))
	}
	data, _ := os.ReadFile(path)
	if !strings.HasPrefix(string(data), "# tuyalocal device registry") {
		t.Error("saved file is missing the header comment")
	}

	loaded, err := LoadRegistryFile(path)
	if err != nil {
		t.Fatalf("LoadRegistryFile() error = %v", err)
	}
	got := loaded.GetDevice("lamp")
	if got == nil {
		t.Fatal("device missing after reload")
	}
	if got.Key != d.Key || got.HeartbeatInterval != 7*time.Second || got.Version != "3.4" {
		t.Errorf("reloaded device = %+v", got)
	}
	if loaded.Preferences.LogLevel != "debug" {
		t.Errorf("reloaded log level = %v", loaded.Preferences.LogLevel)
	}
}

func TestLoadRegistryFile_Errors(t *testing.T) {
	dir := t.TempDir()

	reg, err := LoadRegistryFile(filepath.Join(dir, "missing.yaml"))
	if err != nil || reg == nil || len(reg.Devices) != 0 {
		t.Errorf("missing file: reg = %v, err = %v", reg, err)
	}

	tests := []struct {
		name    string
		content string
	}{
		{name: "bad yaml", content: "devices: [unterminated"},
		{name: "wrong version", content: "version: 2\n"},
		{name: "unknown field", content: "version: 1\ndevicez: {}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, strings.ReplaceAll(tt.name, " ", "_")+".yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0600); err != nil {
				t.Fatal(err)
			}
			if _, err := LoadRegistryFile(path); err == nil {
				t.Error("LoadRegistryFile() error = nil")
			}
		})
	}

	path := filepath.Join(dir, "minimal.yaml")
	if err := os.WriteFile(path, []byte("version: 1\n"), 0600); err != nil {
		t.Fatal(err)
	}
	reg, err = LoadRegistryFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if reg.Devices == nil || reg.Preferences == nil {
		t.Error("minimal registry should get initialized maps and preferences")
	}

	path = filepath.Join(dir, "unversioned.yaml")
	content := "devices:\n  lamp:\n    id: bf01\n    host: 10.0.0.2\n    version: \"3.3\"\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	reg, err = LoadRegistryFile(path)
	if err != nil {
		t.Fatalf("unversioned file: %v", err)
	}
	if reg.Version != 1 || reg.GetDevice("lamp") == nil {
		t.Errorf("unversioned file loaded as %+v", reg)
	}
	if reg.Preferences.MonitorAddr == "" {
		t.Error("preferences should default the monitor address")
	}
}

type fakePrompter struct {
	answer string
	calls  int
}

func (p *fakePrompter) ReadSecret(string) (string, error) {
	p.calls++
	return p.answer, nil
}

func TestResolveKey(t *testing.T) {
	const (
		flagKey = "flagflagflagflag"
		envKey  = "envenvenvenvenve"
		regKey  = "regregregregregr"
		ttyKey  = "ttyttyttyttyttyt"
	)

	tests := []struct {
		name    string
		flag    string
		env     string
		device  *Device
		prompt  string
		want    string
		source  KeySource
		wantErr bool
	}{
		{name: "flag wins", flag: flagKey, env: envKey, device: &Device{Key: regKey}, want: flagKey, source: KeyFromFlag},
		{name: "env over registry", env: envKey, device: &Device{Key: regKey}, want: envKey, source: KeyFromEnv},
		{name: "registry", device: &Device{Key: regKey}, want: regKey, source: KeyFromRegistry},
		{name: "prompt", device: &Device{}, prompt: ttyKey, want: ttyKey, source: KeyFromPrompt},
		{name: "nothing", device: &Device{}, wantErr: true},
		{name: "wrong length", flag: "short", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(KeyEnvVar, tt.env)
			p := &fakePrompter{answer: tt.prompt}

			key, source, err := ResolveKey(tt.flag, tt.device, p)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ResolveKey() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, protocol.ErrInvalidKey) {
					t.Errorf("ResolveKey() error = %v, want ErrInvalidKey", err)
				}
				return
			}
			if string(key) != tt.want || source != tt.source {
				t.Errorf("ResolveKey() = %q from %v, want %q from %v", key, source, tt.want, tt.source)
			}
			if source != KeyFromPrompt && p.calls != 0 {
				t.Error("prompter called although a key was available")
			}
		})
	}
}
