package proxy

import (
	"bufio"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"io"
	"math/big"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/proxycloak/proxycloak/fingerprint"
)

// One shared proxy for the tunnel tests; creating the CA is expensive.
var (
	e2eOnce  sync.Once
	e2eErr   error
	e2eAddr  string
	e2eSrv   *Server
	e2eRoots *x509.CertPool
)

func testProxy(t *testing.T) (string, *Server, *x509.CertPool) {
	t.Helper()
	e2eOnce.Do(func() {
		dir, err := os.MkdirTemp("", "proxycloak-test")
		if err != nil {
			e2eErr = err
			return
		}
		srv, err := New(Config{CertDir: dir, InsecureSkipVerify: true})
		if err != nil {
			e2eErr = err
			return
		}
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			e2eErr = err
			return
		}
		go srv.Serve(ln)

		pemBytes, err := os.ReadFile(srv.CACertPath())
		if err != nil {
			e2eErr = err
			return
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemBytes) {
			e2eErr = fmt.Errorf("CA certificate at %s did not parse", srv.CACertPath())
			return
		}

		e2eAddr = ln.Addr().String()
		e2eSrv = srv
		e2eRoots = pool
	})
	if e2eErr != nil {
		t.Fatalf("proxy setup: %v", e2eErr)
	}
	return e2eAddr, e2eSrv, e2eRoots
}

func originTLSConfig(t *testing.T) *tls.Config {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("origin key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "origin"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("origin certificate: %v", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{{Certificate: [][]byte{der}, PrivateKey: key}},
	}
}

// readRawHead consumes one request or response head verbatim, blank
// line excluded.
func readRawHead(br *bufio.Reader) (string, error) {
	var b strings.Builder
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return "", err
		}
		if line == "\r\n" {
			return b.String(), nil
		}
		b.WriteString(line)
	}
}

func headValue(head, name string) string {
	for _, line := range strings.Split(head, "\r\n") {
		if i := strings.IndexByte(line, ':'); i > 0 && strings.EqualFold(line[:i], name) {
			return strings.TrimSpace(line[i+1:])
		}
	}
	return ""
}

// startHTTPOrigin serves one canned response per connection and
// reports each raw request head it saw.
func startHTTPOrigin(t *testing.T) (string, chan string) {
	t.Helper()
	ln, err := tls.Listen("tcp", "127.0.0.1:0", originTLSConfig(t))
	if err != nil {
		t.Fatalf("origin listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	heads := make(chan string, 8)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				head, err := readRawHead(bufio.NewReader(c))
				if err != nil {
					return
				}
				heads <- head
				io.WriteString(c, "HTTP/1.1 200 OK\r\n"+
					"Content-Type: text/plain\r\n"+
					"Content-Length: 5\r\n"+
					"Connection: close\r\n"+
					"\r\nhello")
			}(conn)
		}
	}()
	return ln.Addr().String(), heads
}

// dialIntercepted opens a CONNECT tunnel through the proxy and
// completes the client half of the intercepted handshake.
func dialIntercepted(t *testing.T, proxyAddr, target string, roots *x509.CertPool) (*tls.Conn, *bufio.Reader) {
	t.Helper()
	raw, err := net.Dial("tcp", proxyAddr)
	if err != nil {
		t.Fatalf("dial proxy: %v", err)
	}
	t.Cleanup(func() { raw.Close() })

	fmt.Fprintf(raw, "CONNECT %s HTTP/1.1\r\nHost: %s\r\n\r\n", target, target)
	head, err := readRawHead(bufio.NewReader(raw))
	if err != nil {
		t.Fatalf("CONNECT response: %v", err)
	}
	if !strings.Contains(head, " 200 ") {
		t.Fatalf("CONNECT answered %q", head)
	}

	tc := tls.Client(raw, &tls.Config{RootCAs: roots, ServerName: "127.0.0.1"})
	if err := tc.Handshake(); err != nil {
		t.Fatalf("intercepted handshake: %v", err)
	}
	return tc, bufio.NewReader(tc)
}

func TestConnectTunnelReoriginatesRequest(t *testing.T) {
	proxyAddr, srv, roots := testProxy(t)
	originAddr, heads := startHTTPOrigin(t)

	tc, br := dialIntercepted(t, proxyAddr, originAddr, roots)

	// The fabricated certificate must name the CONNECT target.
	leaf := tc.ConnectionState().PeerCertificates[0]
	if len(leaf.IPAddresses) != 1 || !leaf.IPAddresses[0].Equal(net.ParseIP("127.0.0.1")) {
		t.Errorf("intercept certificate SANs = %v", leaf.IPAddresses)
	}

	fmt.Fprintf(tc, "GET /page HTTP/1.1\r\n"+
		"Host: %s\r\n"+
		"User-Agent: test-client\r\n"+
		"Accept: text/plain\r\n"+
		"X-Zulu: 1\r\n"+
		"X-Alpha: 2\r\n"+
		"\r\n", originAddr)

	resp, err := http.ReadResponse(br, nil)
	if err != nil {
		t.Fatalf("relayed response: %v", err)
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil || resp.StatusCode != http.StatusOK || string(body) != "hello" {
		t.Fatalf("relayed response %d %q (%v)", resp.StatusCode, body, err)
	}

	var head string
	select {
	case head = <-heads:
	case <-time.After(5 * time.Second):
		t.Fatal("origin never saw the request")
	}

	profile := srv.Registry().Default()
	if !strings.HasPrefix(head, "GET /page HTTP/1.1\r\nHost: 127.0.0.1\r\n") {
		t.Errorf("request head starts %q", head)
	}
	if headValue(head, "User-Agent") != profile.UserAgent {
		t.Error("origin did not see the profile user agent")
	}
	if strings.Contains(head, "test-client") {
		t.Error("client user agent leaked to the origin")
	}
	if headValue(head, "Accept") != "text/plain" {
		t.Error("client Accept value lost")
	}

	chua := strings.Index(head, "sec-ch-ua:")
	ua := strings.Index(head, "User-Agent:")
	if chua < 0 || ua < 0 || chua > ua {
		t.Errorf("profile header order broken: sec-ch-ua at %d, User-Agent at %d", chua, ua)
	}
	zulu, alpha := strings.Index(head, "X-Zulu:"), strings.Index(head, "X-Alpha:")
	if zulu < 0 || alpha < 0 || zulu > alpha {
		t.Errorf("custom header wire order lost: X-Zulu at %d, X-Alpha at %d", zulu, alpha)
	}
}

func TestConnectTunnelReusesCachedCertificate(t *testing.T) {
	proxyAddr, _, roots := testProxy(t)

	serial := func() *big.Int {
		tc, _ := dialIntercepted(t, proxyAddr, "127.0.0.1:39999", roots)
		s := tc.ConnectionState().PeerCertificates[0].SerialNumber
		tc.Close()
		return s
	}

	if first, second := serial(), serial(); first.Cmp(second) != 0 {
		t.Errorf("leaf reissued across tunnels: %v then %v", first, second)
	}
}

func TestWebSocketUpgradeThroughTunnel(t *testing.T) {
	proxyAddr, srv, roots := testProxy(t)

	ln, err := tls.Listen("tcp", "127.0.0.1:0", originTLSConfig(t))
	if err != nil {
		t.Fatalf("origin listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	heads := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		br := bufio.NewReader(conn)
		head, err := readRawHead(br)
		if err != nil {
			return
		}
		heads <- head
		fmt.Fprintf(conn, "HTTP/1.1 101 Switching Protocols\r\n"+
			"Upgrade: websocket\r\n"+
			"Connection: Upgrade\r\n"+
			"Sec-WebSocket-Accept: %s\r\n"+
			"\r\n", fingerprint.WebSocketAccept(headValue(head, "Sec-WebSocket-Key")))
		buf := make([]byte, 4)
		if _, err := io.ReadFull(br, buf); err == nil && string(buf) == "ping" {
			io.WriteString(conn, "pong")
		}
	}()

	originAddr := ln.Addr().String()
	tc, br := dialIntercepted(t, proxyAddr, originAddr, roots)

	const key = "dGhlIHNhbXBsZSBub25jZQ=="
	fmt.Fprintf(tc, "GET /socket HTTP/1.1\r\n"+
		"Host: %s\r\n"+
		"Connection: Upgrade\r\n"+
		"Upgrade: websocket\r\n"+
		"Sec-WebSocket-Version: 13\r\n"+
		"Sec-WebSocket-Key: %s\r\n"+
		"\r\n", originAddr, key)

	resp, err := http.ReadResponse(br, nil)
	if err != nil {
		t.Fatalf("upgrade response: %v", err)
	}
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("upgrade answered %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Sec-WebSocket-Accept"); got != fingerprint.WebSocketAccept(key) {
		t.Errorf("accept token %q does not match the preserved key", got)
	}

	if _, err := tc.Write([]byte("ping")); err != nil {
		t.Fatalf("frame write: %v", err)
	}
	buf := make([]byte, 4)
	if _, err := io.ReadFull(br, buf); err != nil || string(buf) != "pong" {
		t.Fatalf("frame relay: %q (%v)", buf, err)
	}

	var head string
	select {
	case head = <-heads:
	case <-time.After(5 * time.Second):
		t.Fatal("origin never saw the upgrade")
	}
	if headValue(head, "Sec-WebSocket-Key") != key {
		t.Error("client websocket key not preserved toward the origin")
	}
	if headValue(head, "User-Agent") != srv.Registry().Default().UserAgent {
		t.Error("upgrade did not carry the session profile's user agent")
	}
}
