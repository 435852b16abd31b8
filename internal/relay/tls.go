package relay

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/muurk/orvibo-relay/internal/logging"
	"go.uber.org/zap"
)

// NewTLSConfig creates the mutual-TLS client configuration for the relay.
// The client certificate authenticates the app to the relay; caPath pins the
// relay's certificate authority.
func NewTLSConfig(certPath, keyPath, caPath, serverName string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load client certificate: %w", err)
	}

	caPEM, err := os.ReadFile(caPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}

	logging.Debug("TLS client configuration created from files",
		zap.String("cert", certPath),
		zap.String("key", keyPath),
		zap.String("ca", caPath),
		zap.String("server_name", serverName),
	)

	return NewTLSConfigFromMemory(cert, caPEM, serverName)
}

// NewTLSConfigFromMemory builds the client configuration from a loaded
// certificate and a PEM encoded CA bundle.
func NewTLSConfigFromMemory(cert tls.Certificate, caPEM []byte, serverName string) (*tls.Config, error) {
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("failed to parse CA certificate: no PEM certificates found")
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      pool,
		ServerName:   serverName,
		MinVersion:   tls.VersionTLS12,

		// Callback to log TLS handshake details
		VerifyConnection: func(cs tls.ConnectionState) error {
			logging.LogTLSHandshake(
				cs.ServerName,
				cs.Version,
				cs.CipherSuite,
				cs.ServerName,
			)
			return nil
		},
	}, nil
}
