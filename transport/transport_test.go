package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/proxycloak/proxycloak/fingerprint"
)

type fakeConn struct {
	mu     sync.Mutex
	broken bool
	closed bool
	last   time.Time
}

func (c *fakeConn) roundTrip(ctx context.Context, req *Request) (*http.Response, error) {
	return nil, errors.New("fake conn does not serve requests")
}
func (c *fakeConn) protocol() string { return "fake" }
func (c *fakeConn) lastUsed() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last.IsZero() {
		return time.Now()
	}
	return c.last
}
func (c *fakeConn) isBroken() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.broken
}
func (c *fakeConn) close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}
func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func newPoolTestTransport(t *testing.T) *Transport {
	t.Helper()
	tr := New(fingerprint.NewDefaultRegistry().Default(), nil)
	t.Cleanup(tr.Close)
	return tr
}

func TestPooledBodyReturnsConnOnEOF(t *testing.T) {
	tr := newPoolTestTransport(t)
	conn := &fakeConn{}
	resp := &http.Response{Body: io.NopCloser(strings.NewReader("payload"))}

	tr.trackBody("https://example.com:443", conn, resp)

	if _, err := io.ReadAll(resp.Body); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if conn.isClosed() {
		t.Fatal("clean EOF closed the connection")
	}
	if got := tr.getIdleConn("https://example.com:443"); got != conn {
		t.Fatal("connection not returned to the pool after EOF")
	}
}

func TestPooledBodyAbandonClosesConn(t *testing.T) {
	tr := newPoolTestTransport(t)
	conn := &fakeConn{}
	resp := &http.Response{Body: io.NopCloser(strings.NewReader("a very long unread payload"))}

	tr.trackBody("https://example.com:443", conn, resp)

	// Closing before EOF leaves unread bytes on the wire; the connection
	// must not be reused.
	resp.Body.Close()

	if !conn.isClosed() {
		t.Fatal("abandoned body left the connection open")
	}
	if got := tr.getIdleConn("https://example.com:443"); got != nil {
		t.Fatal("abandoned connection was pooled")
	}
}

func TestTrackBodyEmptyResponse(t *testing.T) {
	tr := newPoolTestTransport(t)
	conn := &fakeConn{}
	resp := &http.Response{Body: http.NoBody}

	tr.trackBody("https://example.com:443", conn, resp)

	if got := tr.getIdleConn("https://example.com:443"); got != conn {
		t.Fatal("bodyless response did not pool the connection immediately")
	}
}

func TestGetIdleConnSkipsBroken(t *testing.T) {
	tr := newPoolTestTransport(t)

	broken := &fakeConn{broken: true}
	healthy := &fakeConn{}
	tr.putIdleConn("k", healthy)
	tr.putIdleConn("k", broken)

	if got := tr.getIdleConn("k"); got != healthy {
		t.Fatal("broken connection served from the pool")
	}
	if !broken.isClosed() {
		t.Error("broken connection not closed on eviction")
	}
}

func TestPutIdleConnEnforcesLimit(t *testing.T) {
	tr := newPoolTestTransport(t)

	first := &fakeConn{}
	tr.putIdleConn("k", first)
	for i := 0; i < tr.maxIdlePerHost; i++ {
		tr.putIdleConn("k", &fakeConn{})
	}

	tr.idleConnsMu.Lock()
	n := len(tr.idleConns["k"])
	var stillPooled bool
	for _, c := range tr.idleConns["k"] {
		if c == first {
			stillPooled = true
		}
	}
	tr.idleConnsMu.Unlock()

	if n != tr.maxIdlePerHost {
		t.Errorf("pool holds %d conns, want %d", n, tr.maxIdlePerHost)
	}
	if stillPooled {
		t.Error("oldest connection not evicted at the limit")
	}
}

func TestRoundTripAfterClose(t *testing.T) {
	tr := New(fingerprint.NewDefaultRegistry().Default(), nil)
	tr.Close()

	_, err := tr.RoundTrip(context.Background(), &Request{
		Method: "GET", Scheme: "https", Host: "example.com", Port: "443", Path: "/",
	})
	if !errors.Is(err, ErrClosed) {
		t.Errorf("got %v, want ErrClosed", err)
	}
}

func TestCloseDrainsPool(t *testing.T) {
	tr := New(fingerprint.NewDefaultRegistry().Default(), nil)

	conn := &fakeConn{}
	tr.putIdleConn("k", conn)
	tr.Close()

	// Close releases pooled connections asynchronously.
	deadline := time.Now().Add(time.Second)
	for !conn.isClosed() {
		if time.Now().After(deadline) {
			t.Fatal("pooled connection not closed on transport shutdown")
		}
		time.Sleep(5 * time.Millisecond)
	}

	late := &fakeConn{}
	tr.putIdleConn("k", late)
	if !late.isClosed() {
		t.Error("connection pooled after shutdown was not closed")
	}
}
