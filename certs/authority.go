// Package certs owns the proxy's signing identity: a persistent root CA and
// a cache of per-hostname leaf certificates issued on demand. Issuance is
// on the first-connect latency path, so it is a single local signing
// operation, deduplicated per hostname, and cached both in memory and on
// disk.
package certs

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	caCertFile = "ca.crt"
	caKeyFile  = "ca.key"

	caValidity = 10 * 365 * 24 * time.Hour

	// LeafValidity is the issued certificate lifetime. Long enough to
	// amortize signing across a cache entry's realistic usable life, short
	// enough to force periodic rotation.
	LeafValidity = 89 * 24 * time.Hour
)

// Authority is the long-lived signing identity. Loaded or generated once at
// startup and read-only afterwards.
type Authority struct {
	cert    *x509.Certificate
	key     *rsa.PrivateKey
	certPEM []byte
	dir     string
}

// LoadOrCreate loads ca.crt/ca.key from dir, generating and persisting a new
// self-signed root when either is missing. The error is fatal to the caller:
// there is no proxy without a trusted root.
func LoadOrCreate(dir string) (*Authority, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("certs: create ca directory: %w", err)
	}

	certPath := filepath.Join(dir, caCertFile)
	keyPath := filepath.Join(dir, caKeyFile)

	if _, err := os.Stat(certPath); err == nil {
		if _, err := os.Stat(keyPath); err == nil {
			return loadAuthority(dir, certPath, keyPath)
		}
	}

	logrus.WithField("dir", dir).Info("generating new root CA certificate")
	return createAuthority(dir, certPath, keyPath)
}

func loadAuthority(dir, certPath, keyPath string) (*Authority, error) {
	pair, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("certs: load root CA: %w", err)
	}
	cert, err := x509.ParseCertificate(pair.Certificate[0])
	if err != nil {
		return nil, fmt.Errorf("certs: parse root CA certificate: %w", err)
	}
	key, ok := pair.PrivateKey.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("certs: root CA key is %T, expected RSA", pair.PrivateKey)
	}
	if time.Now().After(cert.NotAfter) {
		logrus.Warn("root CA certificate expired, generating a replacement")
		return createAuthority(dir, certPath, keyPath)
	}

	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, fmt.Errorf("certs: read root CA pem: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"subject":   cert.Subject.CommonName,
		"not_after": cert.NotAfter.Format(time.RFC3339),
	}).Info("loaded existing root CA")

	return &Authority{cert: cert, key: key, certPEM: certPEM, dir: dir}, nil
}

func createAuthority(dir, certPath, keyPath string) (*Authority, error) {
	key, err := rsa.GenerateKey(rand.Reader, 4096)
	if err != nil {
		return nil, fmt.Errorf("certs: generate root key: %w", err)
	}

	serial, err := randomSerial()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"Proxycloak"},
			CommonName:   "Proxycloak Root CA",
		},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(caValidity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("certs: self-sign root: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("certs: parse generated root: %w", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("certs: marshal root key: %w", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})

	if err := os.WriteFile(certPath, certPEM, 0o644); err != nil {
		return nil, fmt.Errorf("certs: persist root certificate: %w", err)
	}
	if err := os.WriteFile(keyPath, keyPEM, 0o600); err != nil {
		return nil, fmt.Errorf("certs: persist root key: %w", err)
	}

	logrus.WithField("path", certPath).Info("root CA generated; install it in clients that should trust the proxy")

	return &Authority{cert: cert, key: key, certPEM: certPEM, dir: dir}, nil
}

// CertPEM returns the root certificate in PEM form, for export to clients.
func (a *Authority) CertPEM() []byte {
	out := make([]byte, len(a.certPEM))
	copy(out, a.certPEM)
	return out
}

// CertPath returns the on-disk location of the root certificate.
func (a *Authority) CertPath() string {
	return filepath.Join(a.dir, caCertFile)
}

// issue signs an ECDSA P-256 leaf certificate for hostname, valid for
// LeafValidity, with SAN entries for the hostname and its wildcard variant.
func (a *Authority) issue(hostname string) (*Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("certs: generate leaf key: %w", err)
	}

	serial, err := randomSerial()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"Proxycloak"},
			CommonName:   hostname,
		},
		// Backdated against clock skew; the validity window itself
		// stays exactly LeafValidity.
		NotBefore:   now.Add(-time.Hour),
		NotAfter:    now.Add(-time.Hour).Add(LeafValidity),
		KeyUsage:    x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}
	if ip := net.ParseIP(hostname); ip != nil {
		template.IPAddresses = []net.IP{ip}
	} else {
		template.DNSNames = []string{hostname, "*." + hostname}
	}

	der, err := x509.CreateCertificate(rand.Reader, template, a.cert, &key.PublicKey, a.key)
	if err != nil {
		return nil, fmt.Errorf("certs: sign leaf for %s: %w", hostname, err)
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("certs: parse issued leaf: %w", err)
	}

	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("certs: marshal leaf key: %w", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})

	tlsCert := tls.Certificate{
		Certificate: [][]byte{der, a.cert.Raw},
		PrivateKey:  key,
		Leaf:        leaf,
	}

	return &Certificate{
		Hostname: hostname,
		TLS:      tlsCert,
		Leaf:     leaf,
		CertPEM:  certPEM,
		KeyPEM:   keyPEM,
	}, nil
}

// randomSerial draws a 160-bit random serial, mirroring what public CAs do.
func randomSerial() (*big.Int, error) {
	limit := new(big.Int).Lsh(big.NewInt(1), 160)
	serial, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return nil, fmt.Errorf("certs: generate serial: %w", err)
	}
	return serial, nil
}
