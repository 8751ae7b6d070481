package proxy

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/proxycloak/proxycloak/fingerprint"
	"github.com/proxycloak/proxycloak/keylog"
	"github.com/proxycloak/proxycloak/session"
	"github.com/proxycloak/proxycloak/transport"
)

// handleConn classifies the first request on a client connection and
// routes it to the CONNECT tunnel or the plain HTTP relay.
func (s *Server) handleConn(clientConn net.Conn) {
	defer clientConn.Close()

	key := sessionKey(clientConn.RemoteAddr())
	sess, err := s.sessions.Acquire(key)
	if err != nil {
		logrus.WithError(err).WithField("client", key).Warn("Session rejected")
		return
	}

	br := bufio.NewReaderSize(clientConn, headPeekLimit)
	order := peekHeaderNames(br)
	req, err := http.ReadRequest(br)
	if err != nil {
		return
	}

	if req.Method == http.MethodConnect {
		s.handleConnect(clientConn, br, req, sess)
		return
	}
	s.servePlain(clientConn, br, req, order, sess)
}

// handleConnect answers a CONNECT request. Passthrough hosts get an
// opaque tunnel; everything else is intercepted with a fabricated
// certificate and re-originated with the session's fingerprint.
func (s *Server) handleConnect(clientConn net.Conn, br *bufio.Reader, req *http.Request, sess *session.Session) {
	host := hostOnly(req.Host)
	port := portOf(req.Host, "443")

	log := logrus.WithFields(logrus.Fields{
		"session": sess.ID,
		"profile": sess.Profile.ID,
		"target":  net.JoinHostPort(host, port),
	})

	if _, err := io.WriteString(clientConn, "HTTP/1.1 200 Connection Established\r\n\r\n"); err != nil {
		return
	}

	if s.pass.Match(host) {
		log.Debug("Passthrough tunnel")
		s.tunnel(clientConn, br, host, port)
		return
	}

	tlsConn := tls.Server(&bufferedConn{Conn: clientConn, r: br}, &tls.Config{
		GetCertificate: s.certs.GetCertificateFunc(host),
		NextProtos:     []string{"http/1.1"},
		KeyLogWriter:   keylog.Writer(),
		MinVersion:     tls.VersionTLS12,
	})
	if err := tlsConn.Handshake(); err != nil {
		s.pass.MarkFailed(host)
		log.WithError(err).Debug("Client rejected interception, recording handshake failure")
		return
	}
	defer tlsConn.Close()

	tlsBr := bufio.NewReaderSize(tlsConn, headPeekLimit)
	for {
		order := peekHeaderNames(tlsBr)
		inner, err := http.ReadRequest(tlsBr)
		if err != nil {
			return
		}
		sess.Touch()

		if isWebSocketUpgrade(inner) {
			s.handleWebSocket(tlsConn, tlsBr, inner, sess, "https", host, port)
			return
		}
		if !s.relayRequest(tlsConn, inner, order, sess, "https", host, port) {
			return
		}
	}
}

// servePlain relays absolute-form HTTP requests, keeping the client
// connection alive between them.
func (s *Server) servePlain(clientConn net.Conn, br *bufio.Reader, req *http.Request, order []string, sess *session.Session) {
	for {
		sess.Touch()

		host := req.URL.Hostname()
		if host == "" {
			host = hostOnly(req.Host)
		}
		port := req.URL.Port()
		if port == "" {
			port = "80"
		}

		if isWebSocketUpgrade(req) {
			s.handleWebSocket(clientConn, br, req, sess, "http", host, port)
			return
		}
		if !s.relayRequest(clientConn, req, order, sess, "http", host, port) {
			return
		}

		order = peekHeaderNames(br)
		next, err := http.ReadRequest(br)
		if err != nil {
			return
		}
		req = next
	}
}

// relayRequest re-originates one request with the session's fingerprint
// and streams the response back. Returns false when the client
// connection must close.
func (s *Server) relayRequest(w io.Writer, req *http.Request, order []string, sess *session.Session, scheme, host, port string) bool {
	t := s.transportFor(sess)
	profile := sess.Profile

	clientAccept := req.Header.Get("Accept-Encoding")

	treq := buildOutbound(profile, req, order, scheme, host, port)

	resp, err := t.RoundTrip(context.Background(), treq)
	if err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"session": sess.ID,
			"target":  net.JoinHostPort(host, port),
			"method":  req.Method,
		}).Warn("Upstream request failed")
		writeGatewayError(w, err)
		return false
	}

	// The profile may advertise encodings the client never offered;
	// decode before relaying in that case.
	if enc := resp.Header.Get("Content-Encoding"); enc != "" && !acceptsEncoding(clientAccept, enc) {
		if err := transport.DecodeBody(resp); err != nil {
			resp.Body.Close()
			writeGatewayError(w, err)
			return false
		}
	}

	resp.Proto = "HTTP/1.1"
	resp.ProtoMajor = 1
	resp.ProtoMinor = 1
	if req.Close {
		resp.Close = true
	}
	resp.Header.Del("Connection")

	if err := resp.Write(w); err != nil {
		resp.Body.Close()
		return false
	}
	resp.Body.Close()

	return !req.Close && !resp.Close
}

// buildOutbound converts the client's request into an ordered outbound
// request carrying the profile's identity headers. order is the header
// name sequence as it appeared on the wire; nil falls back to sorted
// emission for headers outside the profile's vocabulary.
func buildOutbound(profile *fingerprint.Profile, req *http.Request, order []string, scheme, host, port string) *transport.Request {
	var pairs []fingerprint.HeaderPair
	for _, p := range fingerprint.PairsInOrder(req.Header, order) {
		name := strings.ToLower(p.Name)
		if isHopByHop(name) || fingerprint.IsIdentityHeader(name) {
			continue
		}
		pairs = append(pairs, p)
	}

	chunked := req.ContentLength < 0 && req.Body != nil && req.Body != http.NoBody
	if chunked {
		pairs = append(pairs, fingerprint.HeaderPair{Name: "Transfer-Encoding", Value: "chunked"})
	} else if req.ContentLength > 0 || bodyExpected(req) {
		pairs = append(pairs, fingerprint.HeaderPair{
			Name:  "Content-Length",
			Value: strconv.FormatInt(req.ContentLength, 10),
		})
	}

	authority := req.Host
	if authority == "" {
		authority = host
		if (scheme == "https" && port != "443") || (scheme == "http" && port != "80") {
			authority = net.JoinHostPort(host, port)
		}
	}

	var body io.Reader
	if req.Body != nil && req.Body != http.NoBody {
		body = req.Body
	}

	return &transport.Request{
		Method:        req.Method,
		Scheme:        scheme,
		Host:          hostOnly(authority),
		Port:          port,
		Path:          req.URL.RequestURI(),
		Headers:       fingerprint.OrderHeaders(profile, pairs),
		Body:          body,
		ContentLength: req.ContentLength,
		Chunked:       chunked,
	}
}

// bodyExpected reports whether a zero-length body still needs an
// explicit Content-Length, e.g. an empty POST.
func bodyExpected(req *http.Request) bool {
	switch req.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return req.ContentLength == 0 && req.Body != nil
	}
	return false
}

// headPeekLimit caps how much of a request head is inspected for header
// ordering. Heads that exceed it lose wire ordering, nothing else.
const headPeekLimit = 64 << 10

// peekHeaderNames captures the header-name sequence of the next request
// head without consuming the reader. http.ReadRequest collapses headers
// into a map, so the order must be taken off the wire before parsing.
func peekHeaderNames(br *bufio.Reader) []string {
	var head []byte
	for n := 4; ; n++ {
		b, err := br.Peek(n)
		if len(b) >= 4 && bytes.Equal(b[len(b)-4:], []byte("\r\n\r\n")) {
			head = b
			break
		}
		if err != nil {
			return nil
		}
	}

	var names []string
	lines := strings.Split(string(head), "\r\n")
	for _, line := range lines[1:] {
		if i := strings.IndexByte(line, ':'); i > 0 {
			names = append(names, strings.TrimSpace(line[:i]))
		}
	}
	return names
}

// tunnel relays an opaque byte stream between the client and the
// origin, used for passthrough hosts.
func (s *Server) tunnel(clientConn net.Conn, br *bufio.Reader, host, port string) {
	dialer := transport.NewDialer(s.dnsCache)
	if s.upstream != nil {
		dialer.SetUpstream(s.upstream)
	}
	originConn, err := dialer.DialContext(context.Background(), host, port)
	if err != nil {
		return
	}
	splice(clientConn, br, originConn, originConn)
}

// splice copies both directions until either side closes, then tears
// down both connections exactly once.
func splice(client net.Conn, clientR io.Reader, origin net.Conn, originR io.Reader) {
	done := make(chan struct{}, 2)
	go func() {
		io.Copy(origin, clientR)
		done <- struct{}{}
	}()
	go func() {
		io.Copy(client, originR)
		done <- struct{}{}
	}()
	<-done
	client.Close()
	origin.Close()
	<-done
}

// bufferedConn replays bytes already buffered by a bufio.Reader before
// reading from the underlying connection.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *bufferedConn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}

func isWebSocketUpgrade(req *http.Request) bool {
	return strings.EqualFold(req.Header.Get("Upgrade"), "websocket") &&
		strings.Contains(strings.ToLower(req.Header.Get("Connection")), "upgrade")
}

// isHopByHop reports headers that never cross the proxy.
func isHopByHop(name string) bool {
	switch name {
	case "connection", "proxy-connection", "keep-alive", "te", "trailer",
		"transfer-encoding", "upgrade", "proxy-authorization",
		"proxy-authenticate", "host", "content-length":
		return true
	}
	return false
}

// acceptsEncoding reports whether the client's Accept-Encoding covers
// the given content coding.
func acceptsEncoding(accept, encoding string) bool {
	for _, part := range strings.Split(accept, ",") {
		token := strings.TrimSpace(part)
		if i := strings.IndexByte(token, ';'); i >= 0 {
			token = strings.TrimSpace(token[:i])
		}
		if strings.EqualFold(token, encoding) || token == "*" {
			return true
		}
	}
	return false
}

func writeGatewayError(w io.Writer, err error) {
	status := http.StatusBadGateway
	if errors.Is(err, transport.ErrTimeout) {
		status = http.StatusGatewayTimeout
	}
	fmt.Fprintf(w, "HTTP/1.1 %d %s\r\nContent-Length: 0\r\nConnection: close\r\n\r\n",
		status, http.StatusText(status))
}

func portOf(hostport, fallback string) string {
	if _, port, err := net.SplitHostPort(hostport); err == nil && port != "" {
		return port
	}
	return fallback
}
