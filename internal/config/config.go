package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/muurk/orvibo-relay/internal/devstate"
	"gopkg.in/yaml.v3"
)

const (
	appName    = "orvibo-relay"
	configFile = "config.yaml"

	// CurrentVersion is the config file format version.
	CurrentVersion = 1
)

// Mutex for thread-safe file operations
var fileMutex sync.Mutex

// GetConfigDir returns the OS-appropriate configuration directory for the application.
// This follows platform conventions:
//   - Linux: $XDG_CONFIG_HOME/orvibo-relay or $HOME/.config/orvibo-relay
//   - macOS: $HOME/.config/orvibo-relay
//   - Windows: %LOCALAPPDATA%\orvibo-relay
func GetConfigDir() (string, error) {
	var baseDir string

	switch runtime.GOOS {
	case "windows":
		localAppData := os.Getenv("LOCALAPPDATA")
		if localAppData == "" {
			userProfile := os.Getenv("USERPROFILE")
			if userProfile == "" {
				return "", fmt.Errorf("cannot determine user profile directory (LOCALAPPDATA and USERPROFILE not set)")
			}
			baseDir = filepath.Join(userProfile, "AppData", "Local", appName)
		} else {
			baseDir = filepath.Join(localAppData, appName)
		}

	case "darwin":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		baseDir = filepath.Join(homeDir, ".config", appName)

	default:
		xdgConfigHome := os.Getenv("XDG_CONFIG_HOME")
		if xdgConfigHome != "" {
			baseDir = filepath.Join(xdgConfigHome, appName)
		} else {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("cannot determine home directory: %w", err)
			}
			baseDir = filepath.Join(homeDir, ".config", appName)
		}
	}

	return baseDir, nil
}

// GetConfigPath returns the full path to the default configuration file.
func GetConfigPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, configFile), nil
}

// Default returns a configuration with every optional field at its default.
func Default() *Config {
	return &Config{Version: CurrentVersion}
}

// Load reads the configuration at path, or at GetConfigPath when path is
// empty. A missing default file yields Default(); a missing explicit file is
// an error.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		var err error
		if path, err = GetConfigPath(); err != nil {
			return nil, fmt.Errorf("failed to get config path: %w", err)
		}
	}

	cfg, err := loadFromFile(path)
	if errors.Is(err, os.ErrNotExist) && !explicit {
		return Default(), nil
	}
	return cfg, err
}

func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return parse(data)
}

func parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if cfg.Version != CurrentVersion {
		return nil, fmt.Errorf("unsupported config version: %d (expected %d)", cfg.Version, CurrentVersion)
	}
	return cfg, nil
}

// Save writes the configuration to path, or to GetConfigPath when path is
// empty. The file is replaced atomically.
func (c *Config) Save(path string) error {
	fileMutex.Lock()
	defer fileMutex.Unlock()

	if path == "" {
		var err error
		if path, err = GetConfigPath(); err != nil {
			return fmt.Errorf("failed to get config path: %w", err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := marshalConfig(c)
	if err != nil {
		return err
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary config file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to save config file: %w", err)
	}
	return nil
}

func marshalConfig(c *Config) ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	header := []byte(`# orvibo-relay configuration
#
# The account password is stored as its MD5 hex digest only. Leave
# password_md5 empty to be prompted instead.

`)
	return append(header, data...), nil
}

// Validate checks that the configuration can open a relay session.
// All problems are reported together.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.Relay.Host == "" {
		add("relay.host is required")
	}
	if c.Relay.Port <= 0 || c.Relay.Port > 65535 {
		add("relay.port %d out of range", c.Relay.Port)
	}
	if c.Account.Username == "" {
		add("account.username is required")
	}
	if c.Account.PasswordMD5 != "" && !isMD5Hex(c.Account.PasswordMD5) {
		add("account.password_md5 must be 32 hex characters")
	}
	if (c.TLS.Cert == "") != (c.TLS.Key == "") {
		add("tls.cert and tls.key must be set together")
	}
	if c.Session.HeartbeatInterval < 0 || c.Session.RetryInterval < 0 ||
		c.Session.HelloGrace < 0 || c.Session.ConnectTimeout < 0 {
		add("session durations must not be negative")
	}
	if c.Session.MaxReconnectAttempts < 0 {
		add("session.max_reconnect_attempts must not be negative")
	}

	for model, name := range c.Models {
		if _, err := devstate.ParseType(name); err != nil {
			add("models.%s: %v", model, err)
		}
	}
	seen := make(map[string]bool, len(c.Devices))
	for i, d := range c.Devices {
		if d.ID == "" {
			add("devices[%d]: id is required", i)
			continue
		}
		if _, err := devstate.ParseType(d.Type); err != nil {
			add("devices[%d] (%s): %v", i, d.ID, err)
		}
		if seen[d.ID] && !d.Deleted {
			add("devices[%d]: duplicate id %s", i, d.ID)
		}
		seen[d.ID] = seen[d.ID] || !d.Deleted
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// ValidateTLS checks that the client certificate, its key and the relay CA
// are all configured. Commands that never dial the relay skip it.
func (c *Config) ValidateTLS() error {
	var missing []string
	if c.TLS.Cert == "" {
		missing = append(missing, "tls.cert")
	}
	if c.TLS.Key == "" {
		missing = append(missing, "tls.key")
	}
	if c.TLS.CA == "" {
		missing = append(missing, "tls.ca")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%s required to reach the relay", strings.Join(missing, ", "))
	}
	return nil
}

func isMD5Hex(s string) bool {
	if len(s) != 32 {
		return false
	}
	for _, r := range s {
		if !strings.ContainsRune("0123456789abcdefABCDEF", r) {
			return false
		}
	}
	return true
}
