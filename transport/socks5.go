package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"time"
)

const (
	socks5Version = 0x05
	cmdConnect    = 0x01

	authNone     = 0x00
	authPassword = 0x02
	authNoAccept = 0xFF

	atypIPv4   = 0x01
	atypDomain = 0x03
	atypIPv6   = 0x04

	replySuccess = 0x00
)

// SOCKS5Dialer tunnels origin connections through an upstream SOCKS5
// proxy. With the socks5h scheme hostnames are resolved by the proxy;
// with socks5 they are resolved locally first.
type SOCKS5Dialer struct {
	proxyHost     string
	proxyPort     string
	username      string
	password      string
	remoteResolve bool
	timeout       time.Duration
}

// NewSOCKS5Dialer parses a socks5:// or socks5h:// URL, with optional
// user:pass credentials.
func NewSOCKS5Dialer(proxyURL string) (*SOCKS5Dialer, error) {
	parsed, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy URL: %w", err)
	}
	if parsed.Scheme != "socks5" && parsed.Scheme != "socks5h" {
		return nil, fmt.Errorf("unsupported proxy scheme: %s (need socks5 or socks5h)", parsed.Scheme)
	}

	port := parsed.Port()
	if port == "" {
		port = "1080"
	}

	d := &SOCKS5Dialer{
		proxyHost:     parsed.Hostname(),
		proxyPort:     port,
		remoteResolve: parsed.Scheme == "socks5h",
		timeout:       30 * time.Second,
	}
	if parsed.User != nil {
		d.username = parsed.User.Username()
		d.password, _ = parsed.User.Password()
	}
	return d, nil
}

// DialContext opens a tunnel to host:port through the proxy.
func (d *SOCKS5Dialer) DialContext(ctx context.Context, host, port string) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: d.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(d.proxyHost, d.proxyPort))
	if err != nil {
		return nil, NewConnectionError("dial_proxy", d.proxyHost, d.proxyPort, "socks5", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	if err := d.handshake(conn); err != nil {
		conn.Close()
		return nil, NewConnectionError("socks5_handshake", d.proxyHost, d.proxyPort, "socks5", err)
	}
	if err := d.connect(conn, host, port); err != nil {
		conn.Close()
		return nil, NewConnectionError("socks5_connect", host, port, "socks5", err)
	}

	conn.SetDeadline(time.Time{})
	return conn, nil
}

func (d *SOCKS5Dialer) handshake(conn net.Conn) error {
	var greeting []byte
	if d.username != "" {
		greeting = []byte{socks5Version, 0x02, authNone, authPassword}
	} else {
		greeting = []byte{socks5Version, 0x01, authNone}
	}
	if _, err := conn.Write(greeting); err != nil {
		return err
	}

	resp := make([]byte, 2)
	if _, err := io.ReadFull(conn, resp); err != nil {
		return err
	}
	if resp[0] != socks5Version {
		return fmt.Errorf("invalid SOCKS version: %d", resp[0])
	}

	switch resp[1] {
	case authNone:
		return nil
	case authPassword:
		return d.passwordAuth(conn)
	case authNoAccept:
		return errors.New("proxy rejected all authentication methods")
	default:
		return fmt.Errorf("unsupported authentication method: %d", resp[1])
	}
}

// passwordAuth performs RFC 1929 username/password authentication.
func (d *SOCKS5Dialer) passwordAuth(conn net.Conn) error {
	if d.username == "" {
		return errors.New("proxy requires authentication but no credentials provided")
	}

	req := make([]byte, 0, 3+len(d.username)+len(d.password))
	req = append(req, 0x01)
	req = append(req, byte(len(d.username)))
	req = append(req, []byte(d.username)...)
	req = append(req, byte(len(d.password)))
	req = append(req, []byte(d.password)...)

	if _, err := conn.Write(req); err != nil {
		return err
	}

	resp := make([]byte, 2)
	if _, err := io.ReadFull(conn, resp); err != nil {
		return err
	}
	if resp[1] != 0x00 {
		return errors.New("authentication failed: invalid credentials")
	}
	return nil
}

func (d *SOCKS5Dialer) connect(conn net.Conn, host, port string) error {
	portNum, err := net.LookupPort("tcp", port)
	if err != nil {
		return fmt.Errorf("invalid port: %w", err)
	}

	req := []byte{socks5Version, cmdConnect, 0x00}

	ip := net.ParseIP(host)
	switch {
	case ip != nil && ip.To4() != nil:
		req = append(req, atypIPv4)
		req = append(req, ip.To4()...)
	case ip != nil:
		req = append(req, atypIPv6)
		req = append(req, ip.To16()...)
	default:
		if len(host) > 255 {
			return errors.New("domain name too long")
		}
		req = append(req, atypDomain, byte(len(host)))
		req = append(req, []byte(host)...)
	}

	portBytes := make([]byte, 2)
	binary.BigEndian.PutUint16(portBytes, uint16(portNum))
	req = append(req, portBytes...)

	if _, err := conn.Write(req); err != nil {
		return err
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(conn, header); err != nil {
		return err
	}
	if header[0] != socks5Version {
		return fmt.Errorf("invalid SOCKS version in reply: %d", header[0])
	}
	if header[1] != replySuccess {
		return fmt.Errorf("CONNECT failed: %s (reply=%d)", socks5ReplyString(header[1]), header[1])
	}

	// Discard the bound address.
	switch header[3] {
	case atypIPv4:
		_, err = io.ReadFull(conn, make([]byte, 6))
	case atypIPv6:
		_, err = io.ReadFull(conn, make([]byte, 18))
	case atypDomain:
		lenByte := make([]byte, 1)
		if _, err = io.ReadFull(conn, lenByte); err == nil {
			_, err = io.ReadFull(conn, make([]byte, int(lenByte[0])+2))
		}
	default:
		return fmt.Errorf("unsupported address type in reply: %d", header[3])
	}
	return err
}

func socks5ReplyString(code byte) string {
	switch code {
	case 0x01:
		return "general failure"
	case 0x02:
		return "connection not allowed by ruleset"
	case 0x03:
		return "network unreachable"
	case 0x04:
		return "host unreachable"
	case 0x05:
		return "connection refused"
	case 0x06:
		return "TTL expired"
	case 0x07:
		return "command not supported"
	case 0x08:
		return "address type not supported"
	default:
		return "unknown error"
	}
}
