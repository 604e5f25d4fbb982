package tls

import (
	"crypto/tls"
	"fmt"
	"time"
)

// Config describes the server side of TLS.
type Config struct {
	CertFile string
	KeyFile  string

	// MinVersion is "1.2" or "1.3".
	// Default: "1.3"
	MinVersion string

	// CipherSuites names the TLS 1.2 suites to enable. Empty keeps Go's
	// defaults. TLS 1.3 suites are not configurable.
	CipherSuites []string

	// ReloadInterval is how often the key pair is checked for changes.
	// Default: 5 minutes
	ReloadInterval time.Duration
}

// ServerConfig builds a tls.Config serving certificates through a Reloader.
// The caller runs Reloader.Run to pick up renewals.
func ServerConfig(cfg Config) (*tls.Config, *Reloader, error) {
	if cfg.CertFile == "" || cfg.KeyFile == "" {
		return nil, nil, fmt.Errorf("cert_file and key_file are required when TLS is enabled")
	}

	version, err := parseVersion(cfg.MinVersion)
	if err != nil {
		return nil, nil, err
	}
	suites, err := parseCipherSuites(cfg.CipherSuites)
	if err != nil {
		return nil, nil, err
	}

	reloader, err := NewReloader(cfg.CertFile, cfg.KeyFile, cfg.ReloadInterval)
	if err != nil {
		return nil, nil, err
	}

	// #nosec G402 - MinVersion is 1.2 or 1.3
	tc := &tls.Config{
		MinVersion:     version,
		CipherSuites:   suites,
		GetCertificate: reloader.GetCertificate,
	}
	return tc, reloader, nil
}

func parseVersion(v string) (uint16, error) {
	switch v {
	case "", "1.3":
		return tls.VersionTLS13, nil
	case "1.2":
		return tls.VersionTLS12, nil
	default:
		return 0, fmt.Errorf("unsupported TLS version %q: must be 1.2 or 1.3", v)
	}
}

// parseCipherSuites accepts only suites Go does not list as insecure.
func parseCipherSuites(names []string) ([]uint16, error) {
	if len(names) == 0 {
		return nil, nil
	}

	known := make(map[string]uint16)
	for _, s := range tls.CipherSuites() {
		known[s.Name] = s.ID
	}

	ids := make([]uint16, 0, len(names))
	for _, name := range names {
		id, ok := known[name]
		if !ok {
			return nil, fmt.Errorf("unknown or insecure cipher suite %q", name)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
