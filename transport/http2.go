package transport

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"

	"github.com/proxycloak/proxycloak/fingerprint"
)

const (
	h2Preface          = "PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n"
	h2DefaultFrameSize = 16384
	h2DefaultWindow    = 65535
	h2MaxStreamID      = 1<<31 - 1
)

// h2Conn is an HTTP/2 connection carrying one stream at a time. The
// proxy's client leg is HTTP/1.1, so requests on a connection are
// naturally sequential; full multiplexing is not needed.
type h2Conn struct {
	conn    net.Conn
	profile *fingerprint.Profile
	bw      *bufio.Writer
	fr      *http2.Framer
	henc    *hpack.Encoder
	hbuf    bytes.Buffer

	responseTimeout time.Duration

	nextStreamID     uint32
	peerMaxFrameSize uint32
	connSendWindow   int64
	streamInitWindow int64

	// Stream frames that arrived while we were pumping the request body.
	earlyMeta *h2ResponseHead
	earlyData [][]byte
	earlyEnd  bool

	mu         sync.Mutex
	createdAt  time.Time
	lastUsedAt time.Time
	broken     bool
	closed     bool
}

// h2ResponseHead is a decoded HEADERS frame, copied out of the framer's
// read buffer.
type h2ResponseHead struct {
	status    int
	header    http.Header
	streamEnd bool
}

// newH2Conn writes the connection preface with the profile's SETTINGS
// order and initial window update.
func newH2Conn(conn net.Conn, profile *fingerprint.Profile, responseTimeout time.Duration) (*h2Conn, error) {
	c := &h2Conn{
		conn:             conn,
		profile:          profile,
		bw:               bufio.NewWriterSize(conn, 4096),
		responseTimeout:  responseTimeout,
		nextStreamID:     1,
		peerMaxFrameSize: h2DefaultFrameSize,
		connSendWindow:   h2DefaultWindow,
		streamInitWindow: h2DefaultWindow,
		createdAt:        time.Now(),
		lastUsedAt:       time.Now(),
	}
	c.fr = http2.NewFramer(c.bw, bufio.NewReaderSize(conn, 4096))
	c.fr.ReadMetaHeaders = hpack.NewDecoder(uint32(profile.HTTP2.HeaderTableSize), nil)
	c.henc = hpack.NewEncoder(&c.hbuf)

	if _, err := c.bw.WriteString(h2Preface); err != nil {
		return nil, err
	}

	var settings []http2.Setting
	for _, s := range fingerprint.SettingsList(profile) {
		settings = append(settings, http2.Setting{ID: http2.SettingID(s.ID), Val: s.Val})
	}
	if err := c.fr.WriteSettings(settings...); err != nil {
		return nil, err
	}
	if incr := profile.HTTP2.ConnectionWindowUpdate; incr > 0 {
		if err := c.fr.WriteWindowUpdate(0, incr); err != nil {
			return nil, err
		}
	}
	if err := c.bw.Flush(); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *h2Conn) protocol() string { return "h2" }

func (c *h2Conn) lastUsed() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastUsedAt
}

func (c *h2Conn) isBroken() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.broken || c.closed || c.nextStreamID > h2MaxStreamID
}

func (c *h2Conn) markBroken() {
	c.mu.Lock()
	c.broken = true
	c.mu.Unlock()
}

func (c *h2Conn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.conn.Close()
}

func (c *h2Conn) roundTrip(ctx context.Context, req *Request) (*http.Response, error) {
	c.mu.Lock()
	if c.closed || c.broken {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.lastUsedAt = time.Now()
	streamID := c.nextStreamID
	c.nextStreamID += 2
	c.mu.Unlock()

	c.earlyMeta = nil
	c.earlyData = nil
	c.earlyEnd = false

	deadline := time.Now().Add(c.responseTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.conn.SetDeadline(deadline)

	if err := c.writeRequest(streamID, req); err != nil {
		c.markBroken()
		return nil, err
	}

	head, err := c.readResponseHead(streamID)
	if err != nil {
		c.markBroken()
		return nil, err
	}

	resp := &http.Response{
		StatusCode:    head.status,
		Status:        fmt.Sprintf("%d %s", head.status, http.StatusText(head.status)),
		Proto:         "HTTP/2.0",
		ProtoMajor:    2,
		Header:        head.header,
		ContentLength: -1,
	}
	if cl := head.header.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil {
			resp.ContentLength = n
		}
	}

	if head.streamEnd && len(c.earlyData) == 0 {
		c.conn.SetDeadline(time.Time{})
		resp.Body = http.NoBody
		return resp, nil
	}

	resp.Body = &h2Body{conn: c, streamID: streamID}
	return resp, nil
}

// writeRequest sends HEADERS with the profile's pseudo-header order and
// priority, then the body under flow control.
func (c *h2Conn) writeRequest(streamID uint32, req *Request) error {
	block := c.encodeHeaders(req)
	endStream := req.Body == nil

	weight := c.profile.HTTP2.StreamWeight
	if weight == 0 {
		weight = 256
	}
	priority := http2.PriorityParam{
		StreamDep: 0,
		Exclusive: c.profile.HTTP2.StreamExclusive,
		Weight:    uint8(weight - 1),
	}

	first := block
	if len(first) > int(c.peerMaxFrameSize) {
		first = block[:c.peerMaxFrameSize]
	}
	if err := c.fr.WriteHeaders(http2.HeadersFrameParam{
		StreamID:      streamID,
		BlockFragment: first,
		EndStream:     endStream,
		EndHeaders:    len(first) == len(block),
		Priority:      priority,
	}); err != nil {
		return err
	}
	rest := block[len(first):]
	for len(rest) > 0 {
		chunk := rest
		if len(chunk) > int(c.peerMaxFrameSize) {
			chunk = rest[:c.peerMaxFrameSize]
		}
		rest = rest[len(chunk):]
		if err := c.fr.WriteContinuation(streamID, len(rest) == 0, chunk); err != nil {
			return err
		}
	}
	if err := c.bw.Flush(); err != nil {
		return err
	}

	if req.Body == nil {
		return nil
	}
	return c.writeBody(streamID, req.Body)
}

func (c *h2Conn) writeBody(streamID uint32, body io.Reader) error {
	streamWindow := c.streamInitWindow
	buf := make([]byte, h2DefaultFrameSize)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			for len(chunk) > 0 {
				allow := int64(len(chunk))
				for c.connSendWindow <= 0 || streamWindow <= 0 {
					if err := c.pumpForWindow(streamID, &streamWindow); err != nil {
						return err
					}
				}
				if allow > c.connSendWindow {
					allow = c.connSendWindow
				}
				if allow > streamWindow {
					allow = streamWindow
				}
				if allow > int64(c.peerMaxFrameSize) {
					allow = int64(c.peerMaxFrameSize)
				}
				part := chunk[:allow]
				chunk = chunk[allow:]
				end := readErr == io.EOF && len(chunk) == 0
				if err := c.fr.WriteData(streamID, end, part); err != nil {
					return err
				}
				c.connSendWindow -= allow
				streamWindow -= allow
				if err := c.bw.Flush(); err != nil {
					return err
				}
			}
		}
		if readErr == io.EOF {
			if n == 0 {
				if err := c.fr.WriteData(streamID, true, nil); err != nil {
					return err
				}
				return c.bw.Flush()
			}
			return nil
		}
		if readErr != nil {
			return readErr
		}
	}
}

// pumpForWindow reads frames until the send window grows, stashing any
// response frames that arrive early.
func (c *h2Conn) pumpForWindow(streamID uint32, streamWindow *int64) error {
	f, err := c.fr.ReadFrame()
	if err != nil {
		return err
	}
	switch fr := f.(type) {
	case *http2.WindowUpdateFrame:
		if fr.StreamID == 0 {
			c.connSendWindow += int64(fr.Increment)
		} else if fr.StreamID == streamID {
			*streamWindow += int64(fr.Increment)
		}
	case *http2.MetaHeadersFrame:
		if fr.StreamID == streamID {
			c.earlyMeta = copyMetaHeaders(fr)
		}
	case *http2.DataFrame:
		if fr.StreamID == streamID {
			data := append([]byte(nil), fr.Data()...)
			c.earlyData = append(c.earlyData, data)
			c.earlyEnd = fr.StreamEnded()
		}
	default:
		return c.handleConnFrame(f)
	}
	return nil
}

// handleConnFrame processes connection-level frames common to every
// read path.
func (c *h2Conn) handleConnFrame(f http2.Frame) error {
	switch fr := f.(type) {
	case *http2.SettingsFrame:
		if fr.IsAck() {
			return nil
		}
		if v, ok := fr.Value(http2.SettingMaxFrameSize); ok {
			c.peerMaxFrameSize = v
		}
		if v, ok := fr.Value(http2.SettingInitialWindowSize); ok {
			c.streamInitWindow = int64(v)
		}
		if err := c.fr.WriteSettingsAck(); err != nil {
			return err
		}
		return c.bw.Flush()
	case *http2.PingFrame:
		if fr.IsAck() {
			return nil
		}
		if err := c.fr.WritePing(true, fr.Data); err != nil {
			return err
		}
		return c.bw.Flush()
	case *http2.GoAwayFrame:
		c.markBroken()
		if fr.ErrCode != http2.ErrCodeNo {
			return fmt.Errorf("http2: goaway %v", fr.ErrCode)
		}
		return nil
	case *http2.RSTStreamFrame:
		return fmt.Errorf("http2: stream reset by origin: %v", fr.ErrCode)
	}
	return nil
}

// readResponseHead reads frames until the response HEADERS for the
// stream arrive, skipping informational responses.
func (c *h2Conn) readResponseHead(streamID uint32) (*h2ResponseHead, error) {
	for {
		if c.earlyMeta != nil {
			head := c.earlyMeta
			c.earlyMeta = nil
			if head.status >= 100 && head.status < 200 {
				continue
			}
			return head, nil
		}

		f, err := c.fr.ReadFrame()
		if err != nil {
			return nil, err
		}
		switch fr := f.(type) {
		case *http2.MetaHeadersFrame:
			if fr.StreamID != streamID {
				continue
			}
			head := copyMetaHeaders(fr)
			if head.status >= 100 && head.status < 200 {
				continue
			}
			return head, nil
		case *http2.DataFrame:
			// Data before headers is a protocol violation.
			if fr.StreamID == streamID {
				return nil, errors.New("http2: data before headers")
			}
		case *http2.WindowUpdateFrame:
			if fr.StreamID == 0 {
				c.connSendWindow += int64(fr.Increment)
			}
		default:
			if err := c.handleConnFrame(f); err != nil {
				return nil, err
			}
		}
	}
}

func copyMetaHeaders(mh *http2.MetaHeadersFrame) *h2ResponseHead {
	head := &h2ResponseHead{
		header:    make(http.Header),
		streamEnd: mh.StreamEnded(),
	}
	for _, field := range mh.Fields {
		if strings.HasPrefix(field.Name, ":") {
			if field.Name == ":status" {
				head.status, _ = strconv.Atoi(field.Value)
			}
			continue
		}
		head.header.Add(http.CanonicalHeaderKey(field.Name), field.Value)
	}
	return head
}

func (c *h2Conn) encodeHeaders(req *Request) []byte {
	c.hbuf.Reset()

	path := req.Path
	if path == "" {
		path = "/"
	}
	for _, name := range c.profile.PseudoHeaderOrder {
		var value string
		switch name {
		case ":method":
			value = req.Method
		case ":authority":
			value = req.Host
		case ":scheme":
			value = req.Scheme
		case ":path":
			value = path
		default:
			continue
		}
		c.henc.WriteField(hpack.HeaderField{Name: name, Value: value})
	}

	for _, h := range req.Headers {
		name := strings.ToLower(h.Name)
		if skipOnH2(name) {
			continue
		}
		if name == "te" && !strings.EqualFold(h.Value, "trailers") {
			continue
		}
		c.henc.WriteField(hpack.HeaderField{Name: name, Value: h.Value})
	}

	block := make([]byte, c.hbuf.Len())
	copy(block, c.hbuf.Bytes())
	return block
}

// skipOnH2 reports whether a header is connection-specific and must not
// appear on an HTTP/2 request.
func skipOnH2(name string) bool {
	switch name {
	case "host", "connection", "proxy-connection", "keep-alive",
		"transfer-encoding", "upgrade":
		return true
	}
	return false
}

// h2Body streams DATA frames for one stream, granting flow control
// window back as data is consumed.
type h2Body struct {
	conn     *h2Conn
	streamID uint32
	leftover []byte
	done     bool
	closed   bool
}

func (b *h2Body) Read(p []byte) (int, error) {
	if len(b.leftover) > 0 {
		n := copy(p, b.leftover)
		b.leftover = b.leftover[n:]
		return n, nil
	}
	if b.done {
		return 0, io.EOF
	}

	c := b.conn
	for {
		if len(c.earlyData) > 0 {
			data := c.earlyData[0]
			c.earlyData = c.earlyData[1:]
			if len(c.earlyData) == 0 && c.earlyEnd {
				b.finish()
			}
			return b.deliver(p, data)
		}

		f, err := c.fr.ReadFrame()
		if err != nil {
			c.markBroken()
			return 0, err
		}
		switch fr := f.(type) {
		case *http2.DataFrame:
			if fr.StreamID != b.streamID {
				continue
			}
			data := append([]byte(nil), fr.Data()...)
			if n := len(data); n > 0 {
				c.fr.WriteWindowUpdate(0, uint32(n))
				if !fr.StreamEnded() {
					c.fr.WriteWindowUpdate(b.streamID, uint32(n))
				}
				c.bw.Flush()
			}
			if fr.StreamEnded() {
				b.finish()
			}
			if len(data) == 0 {
				if b.done {
					return 0, io.EOF
				}
				continue
			}
			return b.deliver(p, data)
		case *http2.MetaHeadersFrame:
			// Trailers end the stream.
			if fr.StreamID == b.streamID && fr.StreamEnded() {
				b.finish()
				return 0, io.EOF
			}
		case *http2.WindowUpdateFrame:
			if fr.StreamID == 0 {
				c.connSendWindow += int64(fr.Increment)
			}
		default:
			if err := c.handleConnFrame(f); err != nil {
				c.markBroken()
				return 0, err
			}
		}
	}
}

func (b *h2Body) deliver(p, data []byte) (int, error) {
	n := copy(p, data)
	b.leftover = data[n:]
	if b.done && len(b.leftover) == 0 {
		return n, io.EOF
	}
	return n, nil
}

func (b *h2Body) finish() {
	if b.done {
		return
	}
	b.done = true
	b.conn.conn.SetDeadline(time.Time{})
}

func (b *h2Body) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	if !b.done {
		// Abandoning a live stream; reset it so the origin stops sending.
		b.conn.fr.WriteRSTStream(b.streamID, http2.ErrCodeCancel)
		b.conn.bw.Flush()
		b.conn.markBroken()
	}
	return nil
}
