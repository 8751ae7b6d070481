// Package transport dials origin servers while presenting a browser
// fingerprint: the TLS ClientHello, HTTP/2 connection preamble, and
// header ordering all follow the bound profile. Connections are pooled
// per origin with browser-like idle limits.
package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	utls "github.com/refraction-networking/utls"

	"github.com/proxycloak/proxycloak/dns"
	"github.com/proxycloak/proxycloak/fingerprint"
)

// Request is an outbound request with explicit header ordering. Headers
// holds every header except Host, already in the order they must appear
// on the wire.
type Request struct {
	Method        string
	Scheme        string
	Host          string // authority, may include a non-default port
	Port          string
	Path          string
	Headers       []fingerprint.HeaderPair
	Body          io.Reader
	ContentLength int64 // -1 when unknown
	Chunked       bool  // body length unknown, frame with chunked encoding on HTTP/1.1
}

// originConn is a pooled connection to one origin.
type originConn interface {
	roundTrip(ctx context.Context, req *Request) (*http.Response, error)
	protocol() string
	lastUsed() time.Time
	isBroken() bool
	close()
}

// Transport issues requests for a single session, so every connection
// it opens carries the same profile.
type Transport struct {
	profile            *fingerprint.Profile
	dialer             *Dialer
	sessionCache       utls.ClientSessionCache
	insecureSkipVerify bool

	idleConns   map[string][]originConn
	idleConnsMu sync.Mutex

	maxIdlePerHost  int
	maxIdleTime     time.Duration
	responseTimeout time.Duration

	stopCleanup chan struct{}
	closeOnce   sync.Once
	closed      bool
	closedMu    sync.RWMutex
}

// New creates a transport bound to the given profile.
func New(profile *fingerprint.Profile, dnsCache *dns.Cache) *Transport {
	maxIdle := profile.Connection.MaxIdlePerHost
	if maxIdle == 0 {
		maxIdle = 6
	}
	idleTimeout := profile.Connection.IdleTimeout
	if idleTimeout == 0 {
		idleTimeout = 90 * time.Second
	}

	t := &Transport{
		profile:         profile,
		dialer:          NewDialer(dnsCache),
		sessionCache:    utls.NewLRUClientSessionCache(64),
		idleConns:       make(map[string][]originConn),
		maxIdlePerHost:  maxIdle,
		maxIdleTime:     idleTimeout,
		responseTimeout: 60 * time.Second,
		stopCleanup:     make(chan struct{}),
	}

	go t.cleanupLoop()

	return t
}

// SetInsecureSkipVerify disables origin certificate verification.
func (t *Transport) SetInsecureSkipVerify(skip bool) {
	t.insecureSkipVerify = skip
}

// SetUpstreamDialer routes all origin dials through a SOCKS5 proxy.
func (t *Transport) SetUpstreamDialer(upstream *SOCKS5Dialer) {
	t.dialer.SetUpstream(upstream)
}

// Profile returns the fingerprint profile this transport presents.
func (t *Transport) Profile() *fingerprint.Profile {
	return t.profile
}

// RoundTrip sends the request on a pooled or fresh connection. The
// response body streams from the origin; the connection returns to the
// pool once the body is fully read.
func (t *Transport) RoundTrip(ctx context.Context, req *Request) (*http.Response, error) {
	t.closedMu.RLock()
	if t.closed {
		t.closedMu.RUnlock()
		return nil, &TransportError{Op: "roundtrip", Host: req.Host, Cause: ErrClosed, Category: ErrClosed}
	}
	t.closedMu.RUnlock()

	key := fmt.Sprintf("%s://%s:%s", req.Scheme, req.Host, req.Port)

	if conn := t.getIdleConn(key); conn != nil {
		resp, err := conn.roundTrip(ctx, req)
		if err == nil {
			t.trackBody(key, conn, resp)
			return resp, nil
		}
		conn.close()
		// Retry once on a fresh connection; the idle one may have been
		// closed by the origin while pooled.
	}

	conn, err := t.createConn(ctx, req.Scheme, req.Host, req.Port)
	if err != nil {
		return nil, err
	}

	resp, err := conn.roundTrip(ctx, req)
	if err != nil {
		conn.close()
		return nil, WrapError("request", req.Host, req.Port, conn.protocol(), err)
	}

	t.trackBody(key, conn, resp)
	return resp, nil
}

// createConn dials the origin and negotiates the protocol.
func (t *Transport) createConn(ctx context.Context, scheme, host, port string) (originConn, error) {
	if scheme != "https" {
		rawConn, err := t.dialer.DialContext(ctx, host, port)
		if err != nil {
			return nil, err
		}
		return newH1Conn(rawConn, t.responseTimeout), nil
	}

	tlsConn, err := t.DialTLS(ctx, host, port, nil)
	if err != nil {
		return nil, err
	}

	if tlsConn.ConnectionState().NegotiatedProtocol == "h2" {
		h2, err := newH2Conn(tlsConn, t.profile, t.responseTimeout)
		if err != nil {
			tlsConn.Close()
			return nil, NewConnectionError("h2_setup", host, port, "h2", err)
		}
		return h2, nil
	}

	return newH1Conn(tlsConn, t.responseTimeout), nil
}

// trackBody arranges for the connection to return to the pool when the
// response body is drained, or to be closed if the body is abandoned.
func (t *Transport) trackBody(key string, conn originConn, resp *http.Response) {
	if resp.Body == nil || resp.Body == http.NoBody {
		t.putIdleConn(key, conn)
		resp.Body = http.NoBody
		return
	}
	resp.Body = &pooledBody{
		body: resp.Body,
		done: func(clean bool) {
			if clean && !conn.isBroken() {
				t.putIdleConn(key, conn)
			} else {
				conn.close()
			}
		},
	}
}

// pooledBody returns its connection to the pool on EOF.
type pooledBody struct {
	body io.ReadCloser
	done func(clean bool)
	once sync.Once
}

func (b *pooledBody) Read(p []byte) (int, error) {
	n, err := b.body.Read(p)
	if err == io.EOF {
		b.once.Do(func() { b.done(true) })
	} else if err != nil {
		b.once.Do(func() { b.done(false) })
	}
	return n, err
}

func (b *pooledBody) Close() error {
	err := b.body.Close()
	// Closing before EOF abandons unread data; the connection state is
	// unknown so it cannot be reused.
	b.once.Do(func() { b.done(false) })
	return err
}

func (t *Transport) getIdleConn(key string) originConn {
	t.idleConnsMu.Lock()
	defer t.idleConnsMu.Unlock()

	conns := t.idleConns[key]
	for len(conns) > 0 {
		conn := conns[len(conns)-1]
		conns = conns[:len(conns)-1]
		t.idleConns[key] = conns

		if conn.isBroken() || time.Since(conn.lastUsed()) > t.maxIdleTime {
			conn.close()
			continue
		}
		return conn
	}
	return nil
}

func (t *Transport) putIdleConn(key string, conn originConn) {
	t.closedMu.RLock()
	if t.closed {
		t.closedMu.RUnlock()
		conn.close()
		return
	}
	t.closedMu.RUnlock()

	t.idleConnsMu.Lock()
	defer t.idleConnsMu.Unlock()

	conns := t.idleConns[key]
	if len(conns) >= t.maxIdlePerHost {
		old := conns[0]
		conns = conns[1:]
		go old.close()
	}
	t.idleConns[key] = append(conns, conn)
}

func (t *Transport) cleanupLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopCleanup:
			return
		case <-ticker.C:
			t.cleanup()
		}
	}
}

func (t *Transport) cleanup() {
	t.idleConnsMu.Lock()
	defer t.idleConnsMu.Unlock()

	for key, conns := range t.idleConns {
		var active []originConn
		for _, conn := range conns {
			if conn.isBroken() || time.Since(conn.lastUsed()) > t.maxIdleTime {
				go conn.close()
			} else {
				active = append(active, conn)
			}
		}
		if len(active) > 0 {
			t.idleConns[key] = active
		} else {
			delete(t.idleConns, key)
		}
	}
}

// Close shuts down the transport and all pooled connections.
func (t *Transport) Close() {
	t.closedMu.Lock()
	if t.closed {
		t.closedMu.Unlock()
		return
	}
	t.closed = true
	t.closedMu.Unlock()

	t.closeOnce.Do(func() { close(t.stopCleanup) })

	t.idleConnsMu.Lock()
	for _, conns := range t.idleConns {
		for _, conn := range conns {
			go conn.close()
		}
	}
	t.idleConns = nil
	t.idleConnsMu.Unlock()
}
