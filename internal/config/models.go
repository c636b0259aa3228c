package config

import (
	"fmt"
	"net"
	"sort"
	"strconv"
	"time"

	"github.com/muurk/tuyalocal/internal/conn"
	"github.com/muurk/tuyalocal/internal/protocol"
)

// Registry represents the entire user configuration file.
type Registry struct {
	Version     int                `yaml:"version"`
	Devices     map[string]*Device `yaml:"devices,omitempty"` // Keyed by device name
	Preferences *Preferences       `yaml:"preferences,omitempty"`
}

// Device is the connection configuration of one device.
type Device struct {
	ID        string `yaml:"id"`
	GatewayID string `yaml:"gateway_id,omitempty"` // Defaults to ID
	Host      string `yaml:"host"`
	Port      int    `yaml:"port,omitempty"` // Defaults to 6668
	Version   string `yaml:"version"`
	// Key is the 16 character local key. It may be left out and supplied
	// with --key, TUYALOCAL_KEY or at the prompt instead.
	Key string `yaml:"key,omitempty"`

	ConnectTimeout    time.Duration `yaml:"connect_timeout,omitempty"`
	ResponseTimeout   time.Duration `yaml:"response_timeout,omitempty"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval,omitempty"`

	LastSeen time.Time `yaml:"last_seen,omitempty"`
}

// Preferences represents application-wide user preferences.
type Preferences struct {
	LogLevel    string `yaml:"log_level,omitempty"`
	CapturePath string `yaml:"capture_path,omitempty"` // SQLite file for --capture
	MonitorAddr string `yaml:"monitor_addr,omitempty"`
}

// NewRegistry creates a new Registry with default values.
func NewRegistry() *Registry {
	return &Registry{
		Version: 1,
		Devices: make(map[string]*Device),
		Preferences: &Preferences{
			MonitorAddr: "127.0.0.1:8668",
		},
	}
}

// GetDevice retrieves a device by name.
// Returns nil if the device doesn't exist in the registry.
func (r *Registry) GetDevice(name string) *Device {
	return r.Devices[name]
}

// SetDevice adds or replaces a device after validating it.
func (r *Registry) SetDevice(name string, d *Device) error {
	if name == "" {
		return fmt.Errorf("device name is required")
	}
	if err := d.Validate(); err != nil {
		return err
	}
	if r.Devices == nil {
		r.Devices = make(map[string]*Device)
	}
	r.Devices[name] = d
	return nil
}

// RemoveDevice deletes a device and reports whether it existed.
func (r *Registry) RemoveDevice(name string) bool {
	if _, ok := r.Devices[name]; !ok {
		return false
	}
	delete(r.Devices, name)
	return true
}

// Names returns the device names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.Devices))
	for name := range r.Devices {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// UpdateDeviceLastSeen records a successful connection.
func (r *Registry) UpdateDeviceLastSeen(name string) {
	if d := r.Devices[name]; d != nil {
		d.LastSeen = time.Now()
	}
}

// Validate checks the fields needed to connect. The key is optional here.
func (d *Device) Validate() error {
	if d.ID == "" {
		return protocol.NewConfigError(nil, "device id is required")
	}
	if d.Host == "" {
		return protocol.NewConfigError(nil, "device host is required")
	}
	if _, err := protocol.ParseVersion(d.Version); err != nil {
		return err
	}
	if d.Port < 0 || d.Port > 65535 {
		return protocol.NewConfigError(nil, "port %d out of range", d.Port)
	}
	if d.Key != "" && len(d.Key) != 16 {
		return protocol.NewConfigError(protocol.ErrInvalidKey, "got %d bytes", len(d.Key))
	}
	return nil
}

// Addr returns host:port with the default port applied.
func (d *Device) Addr() string {
	port := d.Port
	if port == 0 {
		port = conn.DefaultPort
	}
	return net.JoinHostPort(d.Host, strconv.Itoa(port))
}

// Options converts d into connection options using key.
func (d *Device) Options(key []byte) (conn.Options, error) {
	if err := d.Validate(); err != nil {
		return conn.Options{}, err
	}
	return conn.Options{
		Host:              d.Host,
		Port:              d.Port,
		DeviceID:          d.ID,
		GatewayID:         d.GatewayID,
		Key:               key,
		Version:           protocol.Version(d.Version),
		ConnectTimeout:    d.ConnectTimeout,
		ResponseTimeout:   d.ResponseTimeout,
		HeartbeatInterval: d.HeartbeatInterval,
	}, nil
}
