package config

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ConfigError represents a configuration validation error
type ConfigError struct {
	Field       string
	Value       any
	Reason      string
	Suggestions []string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error in field '%s': %s", e.Field, e.Reason)
}

// WithSuggestion appends a remediation hint.
func (e *ConfigError) WithSuggestion(suggestion string) *ConfigError {
	e.Suggestions = append(e.Suggestions, suggestion)
	return e
}

func newMissingError(field string) *ConfigError {
	return &ConfigError{Field: field, Reason: fmt.Sprintf("required field '%s' is missing", field)}
}

func newValidationError(field string, value any, reason string) *ConfigError {
	return &ConfigError{Field: field, Value: value, Reason: reason}
}

// TLSVersion represents supported TLS protocol versions
type TLSVersion string

const (
	TLSVersion12 TLSVersion = "1.2"
	TLSVersion13 TLSVersion = "1.3"
)

// ParseTLSVersion converts a string to a TLSVersion. Versions below 1.2 are
// rejected.
func ParseTLSVersion(version string) (TLSVersion, error) {
	normalized := TLSVersion(strings.TrimSpace(version))
	switch normalized {
	case "":
		return TLSVersion12, nil
	case TLSVersion12, TLSVersion13:
		return normalized, nil
	case "1.0", "1.1":
		return "", fmt.Errorf("TLS version %q is deprecated and insecure", version)
	default:
		return "", fmt.Errorf("unsupported TLS version %q", version)
	}
}

func (v TLSVersion) wire() uint16 {
	if v == TLSVersion13 {
		return tls.VersionTLS13
	}
	return tls.VersionTLS12
}

// TLSConfig represents TLS termination for the HTTP listener.
type TLSConfig struct {
	Enabled    bool           `yaml:"enabled"`
	CertFile   string         `yaml:"cert_file"`
	KeyFile    string         `yaml:"key_file"`
	MinVersion string         `yaml:"min_version"`
	ClientAuth ClientAuthConf `yaml:"client_auth"`
}

// ClientAuthConf enables mutual TLS. Client certificates are verified
// against the trust bundle.
type ClientAuthConf struct {
	Required    bool        `yaml:"required"`
	TrustBundle TrustBundle `yaml:"trust_bundle"`
}

// TrustBundle points at PEM encoded CA certificates, either on disk or
// inline, optionally pinned by SHA-256.
type TrustBundle struct {
	Path   string `yaml:"path"`
	Inline string `yaml:"inline"`
	SHA256 string `yaml:"sha256"`
}

// Validate checks the TLS settings without touching the filesystem.
func (c *TLSConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	if strings.TrimSpace(c.CertFile) == "" {
		return newMissingError("cert_file").
			WithSuggestion("Provide a path to a PEM encoded certificate")
	}
	if strings.TrimSpace(c.KeyFile) == "" {
		return newMissingError("key_file").
			WithSuggestion("Provide a path to the PEM encoded private key matching the certificate")
	}
	if _, err := ParseTLSVersion(c.MinVersion); err != nil {
		return newValidationError("min_version", c.MinVersion, err.Error()).
			WithSuggestion("Use 1.2 or 1.3")
	}
	if c.ClientAuth.Required && c.ClientAuth.TrustBundle.empty() {
		return newMissingError("client_auth.trust_bundle").
			WithSuggestion("Set trust_bundle.path or trust_bundle.inline to the client CA certificates")
	}
	return nil
}

// ServerTLS loads the certificate material and returns the listener
// configuration. It returns nil when TLS is disabled.
func (c *TLSConfig) ServerTLS() (*tls.Config, error) {
	if !c.Enabled {
		return nil, nil
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	cert, err := tls.LoadX509KeyPair(filepath.Clean(c.CertFile), filepath.Clean(c.KeyFile))
	if err != nil {
		return nil, fmt.Errorf("load TLS key pair: %w", err)
	}

	version, _ := ParseTLSVersion(c.MinVersion)
	out := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   version.wire(),
		NextProtos:   []string{"h2", "http/1.1"},
	}

	if c.ClientAuth.Required {
		pool, err := c.ClientAuth.TrustBundle.CertPool()
		if err != nil {
			return nil, err
		}
		out.ClientCAs = pool
		out.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return out, nil
}

func (b TrustBundle) empty() bool {
	return strings.TrimSpace(b.Path) == "" && strings.TrimSpace(b.Inline) == ""
}

// Materialise returns the PEM-encoded contents for the bundle.
func (b TrustBundle) Materialise() ([]byte, error) {
	var data []byte
	switch {
	case strings.TrimSpace(b.Inline) != "":
		data = []byte(b.Inline)
	case strings.TrimSpace(b.Path) != "":
		var err error
		data, err = os.ReadFile(filepath.Clean(b.Path))
		if err != nil {
			return nil, fmt.Errorf("trust bundle: read: %w", err)
		}
	default:
		return nil, fmt.Errorf("trust bundle: no path or inline data provided")
	}

	if b.SHA256 != "" {
		expected := strings.TrimPrefix(strings.TrimSpace(strings.ToLower(b.SHA256)), "sha256:")
		digest := sha256.Sum256(data)
		if hex.EncodeToString(digest[:]) != expected {
			return nil, fmt.Errorf("trust bundle: checksum mismatch")
		}
	}
	return data, nil
}

// CertPool parses the bundle into an x509.CertPool.
func (b TrustBundle) CertPool() (*x509.CertPool, error) {
	data, err := b.Materialise()
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("trust bundle: no certificates found")
	}
	return pool, nil
}
