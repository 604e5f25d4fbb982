package tls

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Reloader serves a certificate and key pair from disk, re-reading them when
// either file's modification time changes.
type Reloader struct {
	certFile string
	keyFile  string
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger

	mu       sync.RWMutex
	cert     *tls.Certificate
	certTime time.Time
	keyTime  time.Time
}

// NewReloader loads the pair once and returns a reloader for it. A load
// failure here is fatal; later failures keep the previous certificate.
func NewReloader(certFile, keyFile string, interval time.Duration) (*Reloader, error) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	r := &Reloader{
		certFile: certFile,
		keyFile:  keyFile,
		interval: interval,
		now:      time.Now,
		logger:   slog.Default().With("component", "tls.reloader"),
	}
	if err := r.reload(); err != nil {
		return nil, err
	}
	r.logExpiry()
	return r, nil
}

// Run polls the files every interval until ctx is cancelled.
func (r *Reloader) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Check()
		case <-ctx.Done():
			return
		}
	}
}

// Check reloads the pair if either file changed and reports whether a new
// certificate is now served.
func (r *Reloader) Check() bool {
	if !r.changed() {
		return false
	}
	if err := r.reload(); err != nil {
		r.logger.Error("certificate reload failed, serving previous certificate",
			"error", err,
			"cert_file", r.certFile,
		)
		return false
	}
	r.logger.Info("certificate reloaded", "cert_file", r.certFile)
	r.logExpiry()
	return true
}

func (r *Reloader) changed() bool {
	certInfo, err := os.Stat(r.certFile)
	if err != nil {
		return false
	}
	keyInfo, err := os.Stat(r.keyFile)
	if err != nil {
		return false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return !certInfo.ModTime().Equal(r.certTime) || !keyInfo.ModTime().Equal(r.keyTime)
}

func (r *Reloader) reload() error {
	certInfo, err := os.Stat(r.certFile)
	if err != nil {
		return fmt.Errorf("certificate file: %w", err)
	}
	keyInfo, err := os.Stat(r.keyFile)
	if err != nil {
		return fmt.Errorf("key file: %w", err)
	}

	cert, err := tls.LoadX509KeyPair(r.certFile, r.keyFile)
	if err != nil {
		return fmt.Errorf("failed to load key pair: %w", err)
	}
	x, err := leaf(&cert)
	if err != nil {
		return err
	}
	if err := CheckValidity(x, r.now()); err != nil {
		return err
	}
	cert.Leaf = x

	r.mu.Lock()
	r.cert = &cert
	r.certTime = certInfo.ModTime()
	r.keyTime = keyInfo.ModTime()
	r.mu.Unlock()
	return nil
}

// Certificate returns the certificate currently served.
func (r *Reloader) Certificate() *tls.Certificate {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cert
}

// GetCertificate is a tls.Config.GetCertificate callback.
func (r *Reloader) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return r.Certificate(), nil
}

func (r *Reloader) logExpiry() {
	cert := r.Certificate()
	if cert == nil || cert.Leaf == nil {
		return
	}
	x := cert.Leaf
	attrs := []any{
		"subject", x.Subject.CommonName,
		"expires_at", x.NotAfter.Format(time.RFC3339),
		"expires_in_days", int(x.NotAfter.Sub(r.now()).Hours() / 24),
	}
	if ExpiresSoon(x, r.now()) {
		r.logger.Warn("certificate expiring soon", attrs...)
		return
	}
	r.logger.Info("certificate loaded", attrs...)
}
