package config

import (
	"crypto/tls"
	"fmt"
	"os"
)

// TLSConfig contains TLS-specific configuration for the status listener
type TLSConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	CertFile   string `json:"cert_file" yaml:"cert_file"`
	KeyFile    string `json:"key_file" yaml:"key_file"`
	MinVersion string `json:"min_version" yaml:"min_version"`
}

var tlsVersions = map[string]uint16{
	"1.2": tls.VersionTLS12,
	"1.3": tls.VersionTLS13,
}

// DefaultTLSConfig returns default TLS configuration
func DefaultTLSConfig() TLSConfig {
	return TLSConfig{
		Enabled:    false,
		MinVersion: "1.2",
	}
}

// Validate validates the TLS configuration
func (c TLSConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.CertFile == "" {
		return fmt.Errorf("cert_file is required when TLS is enabled")
	}
	if c.KeyFile == "" {
		return fmt.Errorf("key_file is required when TLS is enabled")
	}
	if _, err := os.Stat(c.CertFile); os.IsNotExist(err) {
		return fmt.Errorf("cert file not found: %s", c.CertFile)
	}
	if _, err := os.Stat(c.KeyFile); os.IsNotExist(err) {
		return fmt.Errorf("key file not found: %s", c.KeyFile)
	}
	if _, ok := tlsVersions[c.MinVersion]; c.MinVersion != "" && !ok {
		return fmt.Errorf("min_version must be 1.2 or 1.3, got %q", c.MinVersion)
	}
	return nil
}

// ServerTLSConfig builds the crypto/tls settings for the listener. The
// certificate itself is loaded by ListenAndServeTLS.
func (c TLSConfig) ServerTLSConfig() *tls.Config {
	minVersion, ok := tlsVersions[c.MinVersion]
	if !ok {
		minVersion = tls.VersionTLS12
	}
	return &tls.Config{MinVersion: minVersion}
}
