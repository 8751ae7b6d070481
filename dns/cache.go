// Package dns provides a TTL-aware resolver cache for outbound dials.
// Answers are cached for the TTL the authoritative response carried,
// clamped to a minimum so misbehaving zones cannot force a lookup per
// request.
package dns

import (
	"context"
	"net"
	"sync"
	"time"

	mdns "github.com/miekg/dns"
)

// Entry represents a cached DNS entry
type Entry struct {
	IPs       []net.IP
	ExpiresAt time.Time
	LookupAt  time.Time
}

// IsExpired checks if the entry has expired
func (e *Entry) IsExpired() bool {
	return time.Now().After(e.ExpiresAt)
}

// Cache provides TTL-aware DNS caching
type Cache struct {
	entries    map[string]*Entry
	mu         sync.RWMutex
	client     *mdns.Client
	servers    []string
	resolver   *net.Resolver
	defaultTTL time.Duration
	minTTL     time.Duration
	maxTTL     time.Duration
}

// NewCache creates a new DNS cache using the system's configured
// nameservers. When no resolv.conf is available it falls back to the
// default Go resolver with a fixed TTL.
func NewCache() *Cache {
	c := &Cache{
		entries:    make(map[string]*Entry),
		client:     &mdns.Client{Timeout: 5 * time.Second},
		resolver:   net.DefaultResolver,
		defaultTTL: 5 * time.Minute,
		minTTL:     30 * time.Second,
		maxTTL:     1 * time.Hour,
	}
	if conf, err := mdns.ClientConfigFromFile("/etc/resolv.conf"); err == nil {
		for _, s := range conf.Servers {
			c.servers = append(c.servers, net.JoinHostPort(s, conf.Port))
		}
	}
	return c
}

// Resolve looks up the IP addresses for a hostname
// Returns cached result if available and not expired
func (c *Cache) Resolve(ctx context.Context, host string) ([]net.IP, error) {
	c.mu.RLock()
	entry, exists := c.entries[host]
	c.mu.RUnlock()

	if exists && !entry.IsExpired() {
		return entry.IPs, nil
	}

	ips, ttl, err := c.lookup(ctx, host)
	if err != nil {
		// If lookup fails but we have stale cache, use it
		if exists {
			return entry.IPs, nil
		}
		return nil, err
	}

	c.mu.Lock()
	c.entries[host] = &Entry{
		IPs:       ips,
		ExpiresAt: time.Now().Add(ttl),
		LookupAt:  time.Now(),
	}
	c.mu.Unlock()

	return ips, nil
}

// lookup performs the actual DNS lookup and reports the answer TTL.
func (c *Cache) lookup(ctx context.Context, host string) ([]net.IP, time.Duration, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []net.IP{ip}, c.maxTTL, nil
	}

	if len(c.servers) > 0 {
		if ips, ttl, err := c.query(ctx, host); err == nil && len(ips) > 0 {
			return ips, ttl, nil
		}
	}

	// Fallback: system resolver, no TTL information.
	addrs, err := c.resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, 0, err
	}
	ips := make([]net.IP, len(addrs))
	for i, addr := range addrs {
		ips[i] = addr.IP
	}
	return ips, c.defaultTTL, nil
}

// query asks the configured nameservers for AAAA and A records and
// returns the combined addresses with the smallest TTL seen.
func (c *Cache) query(ctx context.Context, host string) ([]net.IP, time.Duration, error) {
	var (
		ips     []net.IP
		minTTL  uint32
		lastErr error
	)
	fqdn := mdns.Fqdn(host)
	for _, qtype := range []uint16{mdns.TypeAAAA, mdns.TypeA} {
		msg := new(mdns.Msg)
		msg.SetQuestion(fqdn, qtype)
		msg.RecursionDesired = true

		var resp *mdns.Msg
		var err error
		for _, server := range c.servers {
			resp, _, err = c.client.ExchangeContext(ctx, msg, server)
			if err == nil && resp != nil && resp.Rcode == mdns.RcodeSuccess {
				break
			}
		}
		if err != nil {
			lastErr = err
			continue
		}
		if resp == nil || resp.Rcode != mdns.RcodeSuccess {
			continue
		}
		for _, rr := range resp.Answer {
			var ip net.IP
			switch record := rr.(type) {
			case *mdns.AAAA:
				ip = record.AAAA
			case *mdns.A:
				ip = record.A
			default:
				continue
			}
			ips = append(ips, ip)
			if ttl := rr.Header().Ttl; minTTL == 0 || ttl < minTTL {
				minTTL = ttl
			}
		}
	}
	if len(ips) == 0 {
		if lastErr != nil {
			return nil, 0, lastErr
		}
		return nil, 0, &net.DNSError{Err: "no addresses found", Name: host}
	}
	return ips, c.clampTTL(time.Duration(minTTL) * time.Second), nil
}

func (c *Cache) clampTTL(ttl time.Duration) time.Duration {
	if ttl < c.minTTL {
		return c.minTTL
	}
	if ttl > c.maxTTL {
		return c.maxTTL
	}
	return ttl
}

// ResolveOne returns a single IP address for the hostname
// Prefers IPv6 over IPv4 (modern browser behavior)
func (c *Cache) ResolveOne(ctx context.Context, host string) (net.IP, error) {
	ips, err := c.Resolve(ctx, host)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, &net.DNSError{Err: "no addresses found", Name: host}
	}
	for _, ip := range ips {
		if ip.To4() == nil && ip.To16() != nil {
			return ip, nil
		}
	}
	return ips[0], nil
}

// ResolveAllSorted returns all IPs sorted for Happy Eyeballs (RFC 8305)
// IPv6 addresses first, interleaved with IPv4
func (c *Cache) ResolveAllSorted(ctx context.Context, host string) ([]net.IP, error) {
	ips, err := c.Resolve(ctx, host)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, &net.DNSError{Err: "no addresses found", Name: host}
	}

	var ipv4, ipv6 []net.IP
	for _, ip := range ips {
		if ip.To4() != nil {
			ipv4 = append(ipv4, ip)
		} else {
			ipv6 = append(ipv6, ip)
		}
	}

	// Interleave: IPv6, IPv4, IPv6, IPv4, ... (RFC 8305 recommendation)
	result := make([]net.IP, 0, len(ips))
	i, j := 0, 0
	for i < len(ipv6) || j < len(ipv4) {
		if i < len(ipv6) {
			result = append(result, ipv6[i])
			i++
		}
		if j < len(ipv4) {
			result = append(result, ipv4[j])
			j++
		}
	}

	return result, nil
}

// Invalidate removes a hostname from the cache
func (c *Cache) Invalidate(host string) {
	c.mu.Lock()
	delete(c.entries, host)
	c.mu.Unlock()
}

// Clear removes all entries from the cache
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*Entry)
	c.mu.Unlock()
}

// Stats returns cache statistics
func (c *Cache) Stats() (total int, expired int) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := time.Now()
	for _, entry := range c.entries {
		total++
		if now.After(entry.ExpiresAt) {
			expired++
		}
	}
	return
}

// Cleanup removes expired entries from the cache
func (c *Cache) Cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for host, entry := range c.entries {
		if now.After(entry.ExpiresAt) {
			delete(c.entries, host)
		}
	}
}

// StartCleanup starts a background goroutine that periodically cleans up expired entries
func (c *Cache) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Cleanup()
			}
		}
	}()
}
