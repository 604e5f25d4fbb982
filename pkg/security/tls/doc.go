// Package tls builds the server TLS configuration.
//
// Certificates are served through a Reloader, which re-reads the PEM files
// when their modification time changes. Renewed certificates (for example
// from cert-manager or certbot) take effect without a restart. A renewal
// that fails to load or is already expired is logged and the previous
// certificate keeps being served.
//
// Only TLS 1.2 and 1.3 are accepted.
package tls
