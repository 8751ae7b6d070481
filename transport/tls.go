package transport

import (
	"context"
	"net"

	utls "github.com/refraction-networking/utls"

	"github.com/proxycloak/proxycloak/fingerprint"
	"github.com/proxycloak/proxycloak/keylog"
)

// DialTLS opens a TCP connection to host:port and performs a TLS
// handshake presenting the profile's ClientHello. A non-nil alpn
// restricts the offered protocols, e.g. []string{"http/1.1"} for
// WebSocket upgrades; nil offers the profile's full ALPN list.
func (t *Transport) DialTLS(ctx context.Context, host, port string, alpn []string) (*utls.UConn, error) {
	rawConn, err := t.dialer.DialContext(ctx, host, port)
	if err != nil {
		return nil, err
	}

	tlsConn, err := t.handshake(ctx, rawConn, host, port, alpn)
	if err != nil {
		rawConn.Close()
		return nil, err
	}
	return tlsConn, nil
}

// handshake wraps an established connection with uTLS and completes
// the handshake.
func (t *Transport) handshake(ctx context.Context, rawConn net.Conn, host, port string, alpn []string) (*utls.UConn, error) {
	if alpn == nil {
		alpn = t.profile.ALPN()
	}

	config := &utls.Config{
		ServerName:         host,
		InsecureSkipVerify: t.insecureSkipVerify,
		ClientSessionCache: t.sessionCache,
		NextProtos:         alpn,
		KeyLogWriter:       keylog.Writer(),
	}

	spec := fingerprint.BuildClientHelloSpec(t.profile)
	overrideALPN(spec, alpn)

	tlsConn := utls.UClient(rawConn, config, utls.HelloCustom)
	if err := tlsConn.ApplyPreset(spec); err != nil {
		return nil, NewTLSError("tls_preset", host, port, "tls", err)
	}

	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return nil, NewTLSError("tls_handshake", host, port, "tls", err)
	}

	return tlsConn, nil
}

// overrideALPN rewrites the ALPN extension inside an already built
// ClientHello spec. The extension list and ordering stay untouched.
func overrideALPN(spec *utls.ClientHelloSpec, alpn []string) {
	for _, ext := range spec.Extensions {
		if a, ok := ext.(*utls.ALPNExtension); ok {
			a.AlpnProtocols = append([]string(nil), alpn...)
		}
		if a, ok := ext.(*utls.ApplicationSettingsExtension); ok {
			// ALPS only applies when h2 is on the table.
			if !contains(alpn, "h2") {
				a.SupportedProtocols = nil
			}
		}
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
