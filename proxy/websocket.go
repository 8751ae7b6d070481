package proxy

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/proxycloak/proxycloak/fingerprint"
	"github.com/proxycloak/proxycloak/session"
	"github.com/proxycloak/proxycloak/transport"
)

// handleWebSocket re-originates a WebSocket upgrade with the profile's
// handshake header order, then splices frames verbatim in both
// directions. The client's Sec-WebSocket-Key is preserved so the
// accept token stays valid on both legs.
func (s *Server) handleWebSocket(clientConn net.Conn, clientR *bufio.Reader, req *http.Request, sess *session.Session, scheme, host, port string) {
	log := logrus.WithFields(logrus.Fields{
		"session": sess.ID,
		"profile": sess.Profile.ID,
		"target":  net.JoinHostPort(host, port),
		"path":    req.URL.RequestURI(),
	})

	handshake := fingerprint.BuildWebSocketHandshake(sess.Profile, req.Host, fingerprint.PairsFromHeader(req.Header))

	originConn, err := s.dialWebSocket(sess, scheme, host, port)
	if err != nil {
		log.WithError(err).Warn("WebSocket dial failed")
		writeGatewayError(clientConn, err)
		return
	}
	defer originConn.Close()

	originBw := bufio.NewWriter(originConn)
	fmt.Fprintf(originBw, "GET %s HTTP/1.1\r\n", req.URL.RequestURI())
	for _, h := range handshake {
		fmt.Fprintf(originBw, "%s: %s\r\n", h.Name, h.Value)
	}
	originBw.WriteString("\r\n")
	if err := originBw.Flush(); err != nil {
		writeGatewayError(clientConn, err)
		return
	}

	originBr := bufio.NewReader(originConn)
	resp, err := http.ReadResponse(originBr, req)
	if err != nil {
		writeGatewayError(clientConn, err)
		return
	}

	if resp.StatusCode != http.StatusSwitchingProtocols {
		log.WithField("status", resp.StatusCode).Debug("WebSocket upgrade refused")
		resp.Close = true
		resp.Write(clientConn)
		resp.Body.Close()
		return
	}
	resp.Body.Close()

	if err := resp.Write(clientConn); err != nil {
		return
	}

	log.Debug("WebSocket established")
	splice(clientConn, clientR, originConn, originBr)
}

// dialWebSocket opens a dedicated origin connection for the upgrade.
// TLS targets offer only http/1.1 since WebSocket rides HTTP/1.1.
func (s *Server) dialWebSocket(sess *session.Session, scheme, host, port string) (net.Conn, error) {
	if scheme == "https" {
		t := s.transportFor(sess)
		return t.DialTLS(context.Background(), host, port, []string{"http/1.1"})
	}
	dialer := transport.NewDialer(s.dnsCache)
	if s.upstream != nil {
		dialer.SetUpstream(s.upstream)
	}
	return dialer.DialContext(context.Background(), host, port)
}
