package main

import (
	"bufio"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/muurk/orvibo-relay/internal/catalog"
	"github.com/muurk/orvibo-relay/internal/config"
	"github.com/muurk/orvibo-relay/internal/coordinator"
	"github.com/muurk/orvibo-relay/internal/logging"
	"github.com/muurk/orvibo-relay/internal/relay"
	"go.uber.org/zap"
)

// PasswordEnvVar supplies the account password without a prompt.
const PasswordEnvVar = "ORVIBO_PASSWORD"

// relaySession bundles everything a command needs to talk to devices.
type relaySession struct {
	cfg     *config.Config
	catalog *catalog.Catalog
	client  *relay.Client
	coord   *coordinator.Coordinator
}

// openSession loads the config, builds the relay client and logs in.
func openSession(ctx context.Context) (*relaySession, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.ValidateTLS(); err != nil {
		return nil, err
	}

	cat, err := cfg.Catalog()
	if err != nil {
		return nil, err
	}

	passwordMD5 := cfg.Account.PasswordMD5
	if passwordMD5 == "" {
		pw, err := readPassword(os.Stdin, os.Stderr)
		if err != nil {
			return nil, err
		}
		passwordMD5 = md5Hex(pw)
	}

	tlsConfig, err := relay.NewTLSConfig(cfg.TLS.Cert, cfg.TLS.Key, cfg.TLS.CA, cfg.ServerName())
	if err != nil {
		return nil, err
	}

	client, err := relay.NewClient(relay.Options{
		Addr:                 cfg.Addr(),
		TLSConfig:            tlsConfig,
		Username:             cfg.Account.Username,
		PasswordMD5:          passwordMD5,
		FamilyID:             cfg.Account.FamilyID,
		Catalog:              cat,
		HeartbeatInterval:    cfg.Session.HeartbeatInterval,
		RetryInterval:        cfg.Session.RetryInterval,
		MaxReconnectAttempts: cfg.Session.MaxReconnectAttempts,
		HelloGrace:           cfg.Session.HelloGrace,
		ConnectTimeout:       cfg.Session.ConnectTimeout,
		OnSessionID: func(id string) {
			logging.Debug("Relay session assigned", zap.String("session_id", id))
		},
		OnConnectFailed: func(err error) {
			logging.Error("Relay reconnect gave up", zap.Error(err))
		},
	})
	if err != nil {
		return nil, err
	}

	if err := client.ConnectAndLogin(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}

	return &relaySession{
		cfg:     cfg,
		catalog: cat,
		client:  client,
		coord:   coordinator.New(client, cat),
	}, nil
}

func (s *relaySession) Close() {
	if err := s.client.Close(); err != nil {
		logging.Warn("Relay close failed", zap.Error(err))
	}
}

// device resolves a device by id or, failing that, by exact name.
func (s *relaySession) device(ref string) (catalog.Device, error) {
	return lookupDevice(s.catalog, ref)
}

func lookupDevice(cat *catalog.Catalog, ref string) (catalog.Device, error) {
	if d, ok := cat.Device(ref); ok {
		return d, nil
	}
	var match []catalog.Device
	for _, d := range cat.Devices() {
		if strings.EqualFold(d.Name, ref) {
			match = append(match, d)
		}
	}
	switch len(match) {
	case 0:
		return catalog.Device{}, fmt.Errorf("%w: %s", coordinator.ErrUnknownDevice, ref)
	case 1:
		return match[0], nil
	default:
		return catalog.Device{}, fmt.Errorf("device name %q is ambiguous, use the device id", ref)
	}
}

// readPassword reads the account password from PasswordEnvVar or prompts
// for it without echo. Input that is not a terminal is read as one line.
func readPassword(in *os.File, prompt io.Writer) (string, error) {
	if pw := os.Getenv(PasswordEnvVar); pw != "" {
		return pw, nil
	}

	fmt.Fprint(prompt, "Account password: ")
	if term.IsTerminal(int(in.Fd())) {
		b, err := term.ReadPassword(int(in.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(b), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	pw := strings.TrimRight(line, "\r\n")
	if pw == "" {
		return "", errors.New("empty password")
	}
	return pw, nil
}

// md5Hex returns the lowercase hex MD5 digest the relay login expects.
func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func isExhausted(err error) bool {
	return errors.Is(err, relay.ErrConnectExhausted)
}
