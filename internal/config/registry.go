package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

const (
	appName    = "tuyalocal"
	configFile = "devices.yaml"

	// ConfigDirEnvVar overrides the registry directory.
	ConfigDirEnvVar = "TUYALOCAL_CONFIG_DIR"

	registryVersion = 1
)

var (
	globalRegistry     *Registry
	globalRegistryOnce sync.Once
	globalRegistryErr  error

	// fileMutex serializes writers within this process.
	fileMutex sync.Mutex
)

// GetConfigDir returns the directory holding the device registry:
// $TUYALOCAL_CONFIG_DIR when set, otherwise tuyalocal under the user config
// directory ($XDG_CONFIG_HOME or ~/.config on Linux, ~/Library/Application
// Support on macOS, %AppData% on Windows).
func GetConfigDir() (string, error) {
	if dir := os.Getenv(ConfigDirEnvVar); dir != "" {
		return dir, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine config directory (set %s): %w", ConfigDirEnvVar, err)
	}
	return filepath.Join(base, appName), nil
}

// GetConfigPath returns the full path of devices.yaml.
func GetConfigPath() (string, error) {
	dir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFile), nil
}

// LoadRegistry returns the process-wide registry, reading it from disk on
// first use.
func LoadRegistry() (*Registry, error) {
	globalRegistryOnce.Do(func() {
		path, err := GetConfigPath()
		if err != nil {
			globalRegistryErr = err
			return
		}
		globalRegistry, globalRegistryErr = LoadRegistryFile(path)
	})
	return globalRegistry, globalRegistryErr
}

// LoadRegistryFile reads a registry from path. A missing or empty file
// yields an empty registry. Unknown keys are rejected so a typo does not
// silently drop a setting.
func LoadRegistryFile(path string) (*Registry, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return NewRegistry(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open registry: %w", err)
	}
	defer f.Close()

	var reg Registry
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	switch err := dec.Decode(&reg); {
	case errors.Is(err, io.EOF):
		return NewRegistry(), nil
	case err != nil:
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	switch reg.Version {
	case 0:
		// Hand-written files often leave the version out.
		reg.Version = registryVersion
	case registryVersion:
	default:
		return nil, fmt.Errorf("%s: unsupported registry version %d (want %d)", path, reg.Version, registryVersion)
	}

	if reg.Devices == nil {
		reg.Devices = make(map[string]*Device)
	}
	defaults := NewRegistry().Preferences
	if reg.Preferences == nil {
		reg.Preferences = defaults
	} else if reg.Preferences.MonitorAddr == "" {
		reg.Preferences.MonitorAddr = defaults.MonitorAddr
	}
	return &reg, nil
}

// Save writes the registry to GetConfigPath, creating the directory with
// mode 0700 when needed.
func (r *Registry) Save() error {
	path, err := GetConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return r.SaveFile(path)
}

const fileHeader = `# tuyalocal device registry
# Device local keys are stored here when given to "tuyactl devices add --key".
# Keep this file private (it is written with mode 0600).
#
`

// SaveFile replaces path atomically: the registry is encoded into a
// temporary file in the same directory, which is then renamed over path.
func (r *Registry) SaveFile(path string) (err error) {
	fileMutex.Lock()
	defer fileMutex.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temporary registry file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if err := tmp.Chmod(0600); err != nil {
		return fmt.Errorf("failed to restrict registry permissions: %w", err)
	}
	if _, err := io.WriteString(tmp, fileHeader+"# Location: "+path+"\n\n"); err != nil {
		return fmt.Errorf("failed to write registry: %w", err)
	}
	enc := yaml.NewEncoder(tmp)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("failed to encode registry: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to encode registry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write registry: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace registry: %w", err)
	}
	return nil
}
