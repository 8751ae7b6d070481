package certs

import (
	"context"
	"crypto/tls"
	"net"
	"sync"
	"testing"
	"time"
)

func newTestCache(t *testing.T, dir string) *Cache {
	t.Helper()
	c, err := NewCache(testAuthority(t), dir)
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestGetOrIssueCaches(t *testing.T) {
	c := newTestCache(t, t.TempDir())
	ctx := context.Background()

	first, err := c.GetOrIssue(ctx, "example.com")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	second, err := c.GetOrIssue(ctx, "example.com")
	if err != nil {
		t.Fatalf("cached get: %v", err)
	}
	if first.Leaf.SerialNumber.Cmp(second.Leaf.SerialNumber) != 0 {
		t.Error("second get re-issued instead of serving the cache")
	}
}

func TestGetOrIssueNormalizesHostname(t *testing.T) {
	c := newTestCache(t, t.TempDir())
	ctx := context.Background()

	a, err := c.GetOrIssue(ctx, "Example.COM:443")
	if err != nil {
		t.Fatal(err)
	}
	b, err := c.GetOrIssue(ctx, "example.com.")
	if err != nil {
		t.Fatal(err)
	}
	if a.Leaf.SerialNumber.Cmp(b.Leaf.SerialNumber) != 0 {
		t.Error("hostname variants issued separate certificates")
	}
	if a.Hostname != "example.com" {
		t.Errorf("stored hostname %q", a.Hostname)
	}
}

func TestGetOrIssueEmptyHostname(t *testing.T) {
	c := newTestCache(t, t.TempDir())
	if _, err := c.GetOrIssue(context.Background(), ""); err == nil {
		t.Error("empty hostname did not error")
	}
}

func TestGetOrIssueSingleFlight(t *testing.T) {
	c := newTestCache(t, t.TempDir())

	const callers = 16
	certs := make([]*Certificate, callers)
	errs := make([]error, callers)

	var start, done sync.WaitGroup
	start.Add(1)
	done.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer done.Done()
			start.Wait()
			certs[i], errs[i] = c.GetOrIssue(context.Background(), "burst.example.com")
		}(i)
	}
	start.Done()
	done.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if certs[i].Leaf.SerialNumber.Cmp(certs[0].Leaf.SerialNumber) != 0 {
			t.Fatal("concurrent callers received different certificates")
		}
	}
}

func TestCachePersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	c1 := newTestCache(t, dir)
	first, err := c1.GetOrIssue(ctx, "persist.example.com")
	if err != nil {
		t.Fatal(err)
	}
	c1.Close()

	c2 := newTestCache(t, dir)
	second, err := c2.GetOrIssue(ctx, "persist.example.com")
	if err != nil {
		t.Fatal(err)
	}
	if first.Leaf.SerialNumber.Cmp(second.Leaf.SerialNumber) != 0 {
		t.Error("restart re-issued instead of loading the persisted leaf")
	}
}

func TestSweepEvictsExpired(t *testing.T) {
	c := newTestCache(t, t.TempDir())
	ctx := context.Background()

	if _, err := c.GetOrIssue(ctx, "short.example.com"); err != nil {
		t.Fatal(err)
	}
	c.mu.Lock()
	c.entries["short.example.com"].Leaf.NotAfter = time.Now().Add(-time.Minute)
	c.mu.Unlock()

	c.SweepExpired()

	if got := c.lookup("short.example.com"); got != nil {
		t.Fatal("expired entry survived the sweep")
	}

	// Mutating the in-memory leaf does not touch the persisted copy, which
	// is still valid; the re-issue path may load it back from disk. Either
	// way the returned certificate must be unexpired.
	fresh, err := c.GetOrIssue(ctx, "short.example.com")
	if err != nil {
		t.Fatal(err)
	}
	if fresh.Expired(time.Now()) {
		t.Error("re-acquired certificate is expired")
	}
}

func TestGetCertificateFunc(t *testing.T) {
	c := newTestCache(t, t.TempDir())

	getCert := c.GetCertificateFunc("fallback.example.com")

	cert, err := getCert(&tls.ClientHelloInfo{ServerName: "sni.example.com"})
	if err != nil {
		t.Fatalf("with SNI: %v", err)
	}
	if cert.Leaf.DNSNames[0] != "sni.example.com" {
		t.Errorf("SNI cert for %v", cert.Leaf.DNSNames)
	}

	cert, err = getCert(&tls.ClientHelloInfo{})
	if err != nil {
		t.Fatalf("without SNI: %v", err)
	}
	if cert.Leaf.DNSNames[0] != "fallback.example.com" {
		t.Errorf("fallback cert for %v", cert.Leaf.DNSNames)
	}
}

func TestNormalizeHostname(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Example.COM", "example.com"},
		{"example.com.", "example.com"},
		{"example.com:8443", "example.com"},
		{"  example.com  ", "example.com"},
		{"2001:db8::1", "2001:db8::1"},
		{"[2001:db8::1]:443", "2001:db8::1"},
		{"[2001:db8::1]", "2001:db8::1"},
		{"192.0.2.7:443", "192.0.2.7"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := normalizeHostname(tt.in); got != tt.want {
			t.Errorf("normalizeHostname(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestGetOrIssueIPv6Literal(t *testing.T) {
	c := newTestCache(t, t.TempDir())

	cert, err := c.GetOrIssue(context.Background(), "[2001:db8::1]:443")
	if err != nil {
		t.Fatalf("GetOrIssue: %v", err)
	}
	if cert.Hostname != "2001:db8::1" {
		t.Errorf("hostname = %q, want %q", cert.Hostname, "2001:db8::1")
	}
	if len(cert.Leaf.DNSNames) != 0 {
		t.Errorf("IP certificate carries DNS SANs %v", cert.Leaf.DNSNames)
	}
	if len(cert.Leaf.IPAddresses) != 1 || !cert.Leaf.IPAddresses[0].Equal(net.ParseIP("2001:db8::1")) {
		t.Errorf("IP SANs = %v, want [2001:db8::1]", cert.Leaf.IPAddresses)
	}
	if err := cert.Leaf.VerifyHostname("2001:db8::1"); err != nil {
		t.Errorf("VerifyHostname: %v", err)
	}
}
