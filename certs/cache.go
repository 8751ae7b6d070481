package certs

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Certificate is one issued leaf with everything the TLS server side and the
// persistence layer need.
type Certificate struct {
	Hostname string
	TLS      tls.Certificate
	Leaf     *x509.Certificate
	CertPEM  []byte
	KeyPEM   []byte
}

// Expired reports whether the leaf is past its not-after instant.
func (c *Certificate) Expired(now time.Time) bool {
	return now.After(c.Leaf.NotAfter)
}

// Cache issues and caches leaf certificates per hostname. Reads are served
// concurrently from memory; a miss triggers exactly one issuance per
// hostname regardless of caller count (singleflight), with disk persistence
// for reuse across restarts.
type Cache struct {
	authority *Authority
	dir       string

	mu      sync.RWMutex
	entries map[string]*Certificate

	issuing singleflight.Group

	// pendingPersist tracks hostnames whose disk write failed; retried on
	// the next sweep instead of failing the connection.
	pendingPersist map[string]bool

	sweepInterval time.Duration
	shutdown      chan struct{}
	closeOnce     sync.Once
}

// NewCache creates a certificate cache backed by the authority, persisting
// leaf pairs under dir.
func NewCache(authority *Authority, dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("certs: create cache directory: %w", err)
	}
	c := &Cache{
		authority:      authority,
		dir:            dir,
		entries:        make(map[string]*Certificate),
		pendingPersist: make(map[string]bool),
		sweepInterval:  time.Hour,
		shutdown:       make(chan struct{}),
	}
	go c.sweepLoop()
	return c, nil
}

// GetOrIssue returns a valid certificate for hostname, issuing one when the
// cache has no unexpired entry. Concurrent callers for one hostname share a
// single issuance and receive the identical certificate.
func (c *Cache) GetOrIssue(ctx context.Context, hostname string) (*Certificate, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	hostname = normalizeHostname(hostname)
	if hostname == "" {
		return nil, fmt.Errorf("certs: empty hostname")
	}

	if cert := c.lookup(hostname); cert != nil {
		logrus.WithField("host", hostname).Debug("certificate cache hit")
		return cert, nil
	}

	result, err, _ := c.issuing.Do(hostname, func() (interface{}, error) {
		// Re-check under the flight: a concurrent caller may have finished
		// issuance between our lookup and entering the group.
		if cert := c.lookup(hostname); cert != nil {
			return cert, nil
		}

		if cert := c.loadFromDisk(hostname); cert != nil {
			c.store(hostname, cert)
			logrus.WithField("host", hostname).Debug("certificate loaded from disk")
			return cert, nil
		}

		cert, err := c.authority.issue(hostname)
		if err != nil {
			return nil, err
		}
		c.store(hostname, cert)

		if err := c.persist(cert); err != nil {
			// The certificate works for this process regardless; remember
			// the failure and retry persistence on the next sweep.
			logrus.WithError(err).WithField("host", hostname).
				Warn("certificate persistence failed, keeping in-memory copy")
			c.markPendingPersist(hostname)
		}

		logrus.WithFields(logrus.Fields{
			"host":      hostname,
			"serial":    cert.Leaf.SerialNumber.Text(16),
			"not_after": cert.Leaf.NotAfter.Format(time.RFC3339),
		}).Info("certificate issued")

		return cert, nil
	})
	if err != nil {
		return nil, err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	return result.(*Certificate), nil
}

// GetCertificateFunc adapts the cache to tls.Config.GetCertificate, using
// SNI when present and falling back to the supplied hostname.
func (c *Cache) GetCertificateFunc(fallbackHost string) func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return func(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
		host := hello.ServerName
		if host == "" {
			host = fallbackHost
		}
		cert, err := c.GetOrIssue(hello.Context(), host)
		if err != nil {
			return nil, err
		}
		return &cert.TLS, nil
	}
}

// SweepExpired evicts expired entries and retries failed persistence. The
// next access to an evicted hostname re-issues.
func (c *Cache) SweepExpired() {
	now := time.Now()

	c.mu.Lock()
	var evicted []string
	for host, cert := range c.entries {
		if cert.Expired(now) {
			delete(c.entries, host)
			evicted = append(evicted, host)
		}
	}
	retry := make([]*Certificate, 0, len(c.pendingPersist))
	for host := range c.pendingPersist {
		if cert, ok := c.entries[host]; ok {
			retry = append(retry, cert)
		} else {
			delete(c.pendingPersist, host)
		}
	}
	c.mu.Unlock()

	for _, host := range evicted {
		logrus.WithField("host", host).Debug("expired certificate evicted")
	}
	for _, cert := range retry {
		if err := c.persist(cert); err != nil {
			continue
		}
		c.mu.Lock()
		delete(c.pendingPersist, cert.Hostname)
		c.mu.Unlock()
	}
}

// Close stops the background sweep loop.
func (c *Cache) Close() {
	c.closeOnce.Do(func() { close(c.shutdown) })
}

func (c *Cache) sweepLoop() {
	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.SweepExpired()
		case <-c.shutdown:
			return
		}
	}
}

func (c *Cache) lookup(hostname string) *Certificate {
	c.mu.RLock()
	cert, ok := c.entries[hostname]
	c.mu.RUnlock()
	if !ok || cert.Expired(time.Now()) {
		return nil
	}
	return cert
}

func (c *Cache) store(hostname string, cert *Certificate) {
	c.mu.Lock()
	c.entries[hostname] = cert
	c.mu.Unlock()
}

func (c *Cache) markPendingPersist(hostname string) {
	c.mu.Lock()
	c.pendingPersist[hostname] = true
	c.mu.Unlock()
}

func (c *Cache) persist(cert *Certificate) error {
	base := filepath.Join(c.dir, sanitizeFilename(cert.Hostname))
	// The .crt file carries the full presented chain: leaf then root.
	chain := append(append([]byte{}, cert.CertPEM...), c.authority.certPEM...)
	if err := os.WriteFile(base+".crt", chain, 0o644); err != nil {
		return fmt.Errorf("certs: write leaf certificate: %w", err)
	}
	if err := os.WriteFile(base+".key", cert.KeyPEM, 0o600); err != nil {
		return fmt.Errorf("certs: write leaf key: %w", err)
	}
	return nil
}

// loadFromDisk restores a persisted leaf pair, discarding expired ones.
func (c *Cache) loadFromDisk(hostname string) *Certificate {
	base := filepath.Join(c.dir, sanitizeFilename(hostname))
	certPEM, err := os.ReadFile(base + ".crt")
	if err != nil {
		return nil
	}
	keyPEM, err := os.ReadFile(base + ".key")
	if err != nil {
		return nil
	}
	pair, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		logrus.WithError(err).WithField("host", hostname).
			Warn("discarding unreadable persisted certificate")
		return nil
	}
	leaf, err := x509.ParseCertificate(pair.Certificate[0])
	if err != nil {
		return nil
	}
	pair.Leaf = leaf

	cert := &Certificate{
		Hostname: hostname,
		TLS:      pair,
		Leaf:     leaf,
		CertPEM:  certPEM,
		KeyPEM:   keyPEM,
	}
	if cert.Expired(time.Now()) {
		return nil
	}
	return cert
}

func normalizeHostname(hostname string) string {
	hostname = strings.ToLower(strings.TrimSpace(hostname))
	// Bracket-aware port strip: bare IPv6 literals contain colons but
	// carry no port.
	if host, _, err := net.SplitHostPort(hostname); err == nil {
		hostname = host
	}
	hostname = strings.Trim(hostname, "[]")
	return strings.TrimSuffix(hostname, ".")
}

// sanitizeFilename keeps hostnames filesystem-safe. Hostnames are already
// restricted characters, but IPv6 literals contain colons.
func sanitizeFilename(hostname string) string {
	return strings.NewReplacer(":", "_", "/", "_").Replace(hostname)
}
