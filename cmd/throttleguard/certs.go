package main

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rpzk/throttleguard/pkg/cli"
	securitytls "github.com/rpzk/throttleguard/pkg/security/tls"
)

var certsFlags struct {
	hosts    string
	validity int
	output   string
	cert     string
	key      string
}

var certsCmd = &cobra.Command{
	Use:   "certs",
	Short: "Manage TLS certificates",
	Long: `Manage the certificate served when security.tls.enabled is set.

Subcommands:
  generate - Generate a self-signed certificate for development
  check    - Load a certificate and key pair and report its validity`,
}

var certsGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a self-signed certificate",
	Long: `Generate a self-signed ECDSA P-256 certificate and key.

⚠️  Self-signed certificates are for development only.

Examples:
  throttleguard certs generate --host "localhost,127.0.0.1"
  throttleguard certs generate --validity 30 --output certs/`,
	Args: cobra.NoArgs,
	RunE: generateCertificate,
}

var certsCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate a certificate and key pair",
	Long: `Load the pair the way the server does and report the subject, names
and expiry. Fails if the pair does not match or the certificate is outside
its validity period.

Examples:
  throttleguard certs check --cert certs/server.crt --key certs/server.key`,
	Args: cobra.NoArgs,
	RunE: checkCertificate,
}

func init() {
	rootCmd.AddCommand(certsCmd)
	certsCmd.AddCommand(certsGenerateCmd, certsCheckCmd)

	certsGenerateCmd.Flags().StringVar(&certsFlags.hosts, "host", "localhost", "comma-separated hostnames and IPs")
	certsGenerateCmd.Flags().IntVar(&certsFlags.validity, "validity", 365, "validity in days")
	certsGenerateCmd.Flags().StringVarP(&certsFlags.output, "output", "o", "certs", "output directory")

	certsCheckCmd.Flags().StringVar(&certsFlags.cert, "cert", "certs/server.crt", "certificate file")
	certsCheckCmd.Flags().StringVar(&certsFlags.key, "key", "certs/server.key", "private key file")
}

func generateCertificate(cmd *cobra.Command, args []string) error {
	if certsFlags.validity <= 0 {
		return cli.NewCommandError("certs generate", fmt.Errorf("--validity must be positive"))
	}

	var dnsNames []string
	var ips []net.IP
	for _, h := range strings.Split(certsFlags.hosts, ",") {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		if ip := net.ParseIP(h); ip != nil {
			ips = append(ips, ip)
		} else {
			dnsNames = append(dnsNames, h)
		}
	}
	if len(dnsNames)+len(ips) == 0 {
		return cli.NewCommandError("certs generate", fmt.Errorf("--host names no hosts"))
	}
	cn := strings.TrimSpace(strings.Split(certsFlags.hosts, ",")[0])

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return cli.NewCommandError("certs generate", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return cli.NewCommandError("certs generate", err)
	}

	notBefore := time.Now()
	notAfter := notBefore.AddDate(0, 0, certsFlags.validity)
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: cn, Organization: []string{"throttleguard"}},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              dnsNames,
		IPAddresses:           ips,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return cli.NewCommandError("certs generate", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return cli.NewCommandError("certs generate", err)
	}

	if err := os.MkdirAll(certsFlags.output, 0o750); err != nil {
		return cli.NewCommandError("certs generate", err)
	}
	certPath := filepath.Join(certsFlags.output, "server.crt")
	keyPath := filepath.Join(certsFlags.output, "server.key")
	if err := writePEM(certPath, "CERTIFICATE", der, 0o644); err != nil {
		return cli.NewCommandError("certs generate", err)
	}
	if err := writePEM(keyPath, "EC PRIVATE KEY", keyDER, 0o600); err != nil {
		return cli.NewCommandError("certs generate", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✓ Certificate: %s\n", certPath)
	fmt.Fprintf(out, "✓ Private key: %s\n", keyPath)
	fmt.Fprintf(out, "  Valid until %s\n", notAfter.Format(time.RFC3339))
	fmt.Fprintln(out)
	fmt.Fprintln(out, "⚠️  Self-signed certificates are for development only")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "security:")
	fmt.Fprintln(out, "  tls:")
	fmt.Fprintln(out, "    enabled: true")
	fmt.Fprintf(out, "    cert_file: %q\n", certPath)
	fmt.Fprintf(out, "    key_file: %q\n", keyPath)
	return nil
}

func writePEM(path, blockType string, der []byte, mode os.FileMode) error {
	// #nosec G304 - output path is chosen by the operator
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if err := pem.Encode(f, &pem.Block{Type: blockType, Bytes: der}); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func checkCertificate(cmd *cobra.Command, args []string) error {
	r, err := securitytls.NewReloader(certsFlags.cert, certsFlags.key, 0)
	if err != nil {
		return cli.NewCommandError("certs check", err)
	}
	x := r.Certificate().Leaf
	now := time.Now()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Subject:    %s\n", x.Subject.CommonName)
	fmt.Fprintf(out, "Issuer:     %s\n", x.Issuer.CommonName)
	if len(x.DNSNames) > 0 {
		fmt.Fprintf(out, "DNS names:  %s\n", strings.Join(x.DNSNames, ", "))
	}
	if len(x.IPAddresses) > 0 {
		addrs := make([]string, len(x.IPAddresses))
		for i, ip := range x.IPAddresses {
			addrs[i] = ip.String()
		}
		fmt.Fprintf(out, "IPs:        %s\n", strings.Join(addrs, ", "))
	}
	fmt.Fprintf(out, "Not before: %s\n", x.NotBefore.Format(time.RFC3339))
	fmt.Fprintf(out, "Not after:  %s (%d days)\n", x.NotAfter.Format(time.RFC3339), int(x.NotAfter.Sub(now).Hours()/24))

	if securitytls.ExpiresSoon(x, now) {
		fmt.Fprintln(out, "⚠️  Certificate expires soon")
		return nil
	}
	fmt.Fprintln(out, "✓ Certificate valid")
	return nil
}
