package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// h1Conn is a persistent HTTP/1.1 connection to one origin.
type h1Conn struct {
	conn net.Conn
	br   *bufio.Reader
	bw   *bufio.Writer

	responseTimeout time.Duration

	mu         sync.Mutex
	createdAt  time.Time
	lastUsedAt time.Time
	useCount   int64
	broken     bool
	closed     bool
}

func newH1Conn(conn net.Conn, responseTimeout time.Duration) *h1Conn {
	return &h1Conn{
		conn:            conn,
		br:              bufio.NewReaderSize(conn, 4096),
		bw:              bufio.NewWriterSize(conn, 4096),
		responseTimeout: responseTimeout,
		createdAt:       time.Now(),
		lastUsedAt:      time.Now(),
	}
}

func (c *h1Conn) protocol() string { return "h1" }

func (c *h1Conn) lastUsed() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastUsedAt
}

func (c *h1Conn) isBroken() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.broken || c.closed
}

func (c *h1Conn) roundTrip(ctx context.Context, req *Request) (*http.Response, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.lastUsedAt = time.Now()
	c.useCount++
	c.mu.Unlock()

	deadline := time.Now().Add(c.responseTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.conn.SetDeadline(deadline)

	if err := c.writeRequest(req); err != nil {
		c.markBroken()
		return nil, err
	}

	readReq := &http.Request{Method: req.Method}
	resp, err := http.ReadResponse(c.br, readReq)
	if err != nil {
		c.markBroken()
		return nil, err
	}

	// The deadline stays armed while the body streams; clear it when the
	// body finishes so the pooled connection does not time out idle.
	if !c.shouldKeepAlive(resp) {
		c.markBroken()
	}
	resp.Body = &h1Body{body: resp.Body, conn: c}

	return resp, nil
}

// writeRequest writes the request line, Host, and the caller's headers
// exactly in the order given.
func (c *h1Conn) writeRequest(req *Request) error {
	path := req.Path
	if path == "" {
		path = "/"
	}
	fmt.Fprintf(c.bw, "%s %s HTTP/1.1\r\n", req.Method, path)
	fmt.Fprintf(c.bw, "Host: %s\r\n", req.Host)

	for _, h := range req.Headers {
		fmt.Fprintf(c.bw, "%s: %s\r\n", h.Name, h.Value)
	}

	c.bw.WriteString("\r\n")
	if err := c.bw.Flush(); err != nil {
		return err
	}

	if req.Body != nil {
		if req.Chunked {
			return writeChunked(c.bw, req.Body)
		}
		if _, err := io.Copy(c.bw, req.Body); err != nil {
			return err
		}
		return c.bw.Flush()
	}
	return nil
}

func writeChunked(w *bufio.Writer, body io.Reader) error {
	buf := make([]byte, 8192)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			fmt.Fprintf(w, "%x\r\n", n)
			w.Write(buf[:n])
			w.WriteString("\r\n")
			if err := w.Flush(); err != nil {
				return err
			}
		}
		if readErr == io.EOF {
			w.WriteString("0\r\n\r\n")
			return w.Flush()
		}
		if readErr != nil {
			return readErr
		}
	}
}

func (c *h1Conn) shouldKeepAlive(resp *http.Response) bool {
	if strings.EqualFold(resp.Header.Get("Connection"), "close") {
		return false
	}
	if resp.ProtoMajor == 1 && resp.ProtoMinor >= 1 {
		return true
	}
	return strings.EqualFold(resp.Header.Get("Connection"), "keep-alive")
}

func (c *h1Conn) markBroken() {
	c.mu.Lock()
	c.broken = true
	c.mu.Unlock()
}

func (c *h1Conn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.conn.Close()
}

// h1Body clears the connection deadline once the body is consumed.
type h1Body struct {
	body io.ReadCloser
	conn *h1Conn
	once sync.Once
}

func (b *h1Body) Read(p []byte) (int, error) {
	n, err := b.body.Read(p)
	if err != nil {
		b.once.Do(func() { b.conn.conn.SetDeadline(time.Time{}) })
	}
	return n, err
}

func (b *h1Body) Close() error {
	b.once.Do(func() { b.conn.conn.SetDeadline(time.Time{}) })
	return b.body.Close()
}
