package config

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/muurk/orvibo-relay/internal/catalog"
	"github.com/muurk/orvibo-relay/internal/devstate"
)

// Config represents the entire configuration file.
type Config struct {
	Version int           `yaml:"version"`
	Relay   RelayConfig   `yaml:"relay"`
	TLS     TLSFiles      `yaml:"tls"`
	Account AccountConfig `yaml:"account"`
	Session SessionConfig `yaml:"session"`
	Feed    FeedConfig    `yaml:"feed,omitempty"`

	// Models maps vendor model strings to device types for devices whose
	// type is not set explicitly.
	Models  map[string]string `yaml:"models,omitempty"`
	Devices []Device          `yaml:"devices,omitempty"`
}

// RelayConfig locates the vendor relay.
type RelayConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	ServerName string `yaml:"server_name,omitempty"` // TLS server name, Host when empty
}

// TLSFiles holds PEM file paths for the mutually authenticated relay session.
type TLSFiles struct {
	Cert string `yaml:"cert"`
	Key  string `yaml:"key"`
	CA   string `yaml:"ca"`
}

// AccountConfig identifies the vendor account. The password is stored only
// as its MD5 hex digest, the form the relay expects at login.
type AccountConfig struct {
	Username    string `yaml:"username"`
	PasswordMD5 string `yaml:"password_md5,omitempty"`
	FamilyID    string `yaml:"family_id"`
}

// SessionConfig holds session timings. Zero values fall back to the relay
// client defaults.
type SessionConfig struct {
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval,omitempty"`
	RetryInterval        time.Duration `yaml:"retry_interval,omitempty"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts,omitempty"`
	HelloGrace           time.Duration `yaml:"hello_grace,omitempty"`
	ConnectTimeout       time.Duration `yaml:"connect_timeout,omitempty"`
}

// FeedConfig configures the optional websocket state feed.
type FeedConfig struct {
	Addr string `yaml:"addr,omitempty"`
}

// Device is one catalogued device.
type Device struct {
	ID      string `yaml:"id"`
	UID     string `yaml:"uid,omitempty"`
	Name    string `yaml:"name,omitempty"`
	Model   string `yaml:"model,omitempty"`
	Type    string `yaml:"type,omitempty"` // switch, air_conditioner or ventilation
	Room    string `yaml:"room,omitempty"`
	Deleted bool   `yaml:"del_flag,omitempty"`
}

// Addr returns the relay address as host:port.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Relay.Host, strconv.Itoa(c.Relay.Port))
}

// ServerName returns the TLS server name to verify.
func (c *Config) ServerName() string {
	if c.Relay.ServerName != "" {
		return c.Relay.ServerName
	}
	return c.Relay.Host
}

// Catalog builds the device catalog. A device's explicit type wins over its
// model mapping; unknown models are switches.
func (c *Config) Catalog() (*catalog.Catalog, error) {
	models := make(map[string]devstate.Type, len(c.Models))
	for model, name := range c.Models {
		t, err := devstate.ParseType(name)
		if err != nil {
			return nil, fmt.Errorf("model %q: %w", model, err)
		}
		models[model] = t
	}

	devices := make([]catalog.Device, 0, len(c.Devices))
	for _, d := range c.Devices {
		t := devstate.TypeFromModel(models, d.Model)
		if d.Type != "" {
			var err error
			if t, err = devstate.ParseType(d.Type); err != nil {
				return nil, fmt.Errorf("device %q: %w", d.ID, err)
			}
		}
		devices = append(devices, catalog.Device{
			ID:      d.ID,
			UID:     d.UID,
			Name:    d.Name,
			Model:   d.Model,
			RoomID:  d.Room,
			Type:    t,
			Deleted: d.Deleted,
		})
	}
	return catalog.New(devices), nil
}
