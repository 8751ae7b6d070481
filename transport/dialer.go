package transport

import (
	"context"
	"net"
	"time"

	"github.com/proxycloak/proxycloak/dns"
)

// Dialer opens TCP connections to origins using the shared DNS cache.
// Resolution returns addresses in Happy Eyeballs order and the dial
// walks them with a bounded number of attempts.
type Dialer struct {
	dnsCache       *dns.Cache
	upstream       *SOCKS5Dialer
	connectTimeout time.Duration
	maxAttempts    int
}

// NewDialer creates a dialer backed by the given DNS cache.
func NewDialer(dnsCache *dns.Cache) *Dialer {
	return &Dialer{
		dnsCache:       dnsCache,
		connectTimeout: 30 * time.Second,
		maxAttempts:    3,
	}
}

// SetUpstream routes all dials through a SOCKS5 proxy.
func (d *Dialer) SetUpstream(upstream *SOCKS5Dialer) {
	d.upstream = upstream
}

// retryLimit bounds extra connect rounds after the first failure.
const (
	retryLimit   = 2
	retryBackoff = 250 * time.Millisecond
)

// DialContext connects to host:port, retrying transient failures with
// a short backoff before reporting the last error.
func (d *Dialer) DialContext(ctx context.Context, host, port string) (net.Conn, error) {
	var lastErr error
	for attempt := 0; attempt <= retryLimit; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryBackoff << (attempt - 1)):
			}
		}
		conn, err := d.dialOnce(ctx, host, port)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

// dialOnce resolves the host and tries up to maxAttempts addresses in
// Happy Eyeballs order.
func (d *Dialer) dialOnce(ctx context.Context, host, port string) (net.Conn, error) {
	if d.upstream != nil {
		if d.upstream.remoteResolve {
			return d.upstream.DialContext(ctx, host, port)
		}
		ip, err := d.dnsCache.ResolveOne(ctx, host)
		if err != nil {
			return nil, NewDNSError(host, err)
		}
		return d.upstream.DialContext(ctx, ip.String(), port)
	}

	ips, err := d.dnsCache.ResolveAllSorted(ctx, host)
	if err != nil {
		return nil, NewDNSError(host, err)
	}

	if len(ips) > d.maxAttempts {
		ips = ips[:d.maxAttempts]
	}

	dialer := &net.Dialer{
		Timeout:   d.connectTimeout,
		KeepAlive: 30 * time.Second,
	}

	var lastErr error
	for _, ip := range ips {
		addr := net.JoinHostPort(ip.String(), port)
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}

		if tcpConn, ok := conn.(*net.TCPConn); ok {
			tcpConn.SetKeepAlive(true)
			tcpConn.SetKeepAlivePeriod(30 * time.Second)
			tcpConn.SetNoDelay(true)
		}
		return conn, nil
	}

	return nil, NewConnectionError("dial", host, port, "tcp", lastErr)
}
