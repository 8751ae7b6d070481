// Package proxy implements the MITM proxy server. Each client session
// is bound to one browser profile; every connection the client opens is
// re-originated toward the target with that profile's TLS, HTTP, and
// WebSocket fingerprint.
package proxy

import (
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/proxycloak/proxycloak/certs"
	"github.com/proxycloak/proxycloak/dns"
	"github.com/proxycloak/proxycloak/fingerprint"
	"github.com/proxycloak/proxycloak/session"
	"github.com/proxycloak/proxycloak/transport"
)

// RotationMode selects how profiles are assigned to new sessions.
type RotationMode string

const (
	RotationFixed      RotationMode = "fixed"
	RotationRoundRobin RotationMode = "round-robin"
	RotationRandom     RotationMode = "random"
)

// Config configures the proxy server.
type Config struct {
	Addr     string
	CertDir  string
	Profile  string       // profile ID for fixed rotation
	Rotation RotationMode // defaults to fixed

	// Hosts relayed without interception, e.g. certificate-pinned apps.
	// Entries match the hostname and all of its subdomains.
	PassthroughHosts []string

	UpstreamProxy      string // optional SOCKS5 upstream
	InsecureSkipVerify bool
	SessionTimeout     time.Duration
}

// Server accepts proxy clients and relays their traffic.
type Server struct {
	config   Config
	registry *fingerprint.Registry
	ca       *certs.Authority
	certs    *certs.Cache
	dnsCache *dns.Cache
	sessions *session.Manager
	pass     *passthroughList
	upstream *transport.SOCKS5Dialer

	transports   map[string]*transport.Transport
	transportsMu sync.Mutex

	listener net.Listener
	closeMu  sync.Mutex
	closed   bool
}

// New creates a proxy server: loads or creates the CA, builds the
// profile registry, and prepares the session manager.
func New(config Config) (*Server, error) {
	registry := fingerprint.NewDefaultRegistry()

	policy, err := buildPolicy(config, registry)
	if err != nil {
		return nil, err
	}

	ca, err := certs.LoadOrCreate(config.CertDir)
	if err != nil {
		return nil, fmt.Errorf("certificate authority: %w", err)
	}

	certCache, err := certs.NewCache(ca, config.CertDir)
	if err != nil {
		return nil, fmt.Errorf("certificate cache: %w", err)
	}

	manager := session.NewManager(policy)
	if config.SessionTimeout > 0 {
		manager.SetSessionTimeout(config.SessionTimeout)
	}

	var upstream *transport.SOCKS5Dialer
	if config.UpstreamProxy != "" {
		upstream, err = transport.NewSOCKS5Dialer(config.UpstreamProxy)
		if err != nil {
			return nil, fmt.Errorf("upstream proxy: %w", err)
		}
	}

	s := &Server{
		config:     config,
		upstream:   upstream,
		registry:   registry,
		ca:         ca,
		certs:      certCache,
		dnsCache:   dns.NewCache(),
		sessions:   manager,
		pass:       newPassthroughList(config.PassthroughHosts),
		transports: make(map[string]*transport.Transport),
	}
	manager.SetEvictHook(s.releaseTransport)

	return s, nil
}

func buildPolicy(config Config, registry *fingerprint.Registry) (session.Policy, error) {
	switch config.Rotation {
	case RotationRoundRobin:
		return session.NewRoundRobin(registry.List()), nil
	case RotationRandom:
		return session.NewRandom(registry.List(), time.Now().UnixNano()), nil
	case RotationFixed, "":
		profile, err := registry.Get(profileOrDefault(config.Profile))
		if err != nil {
			return nil, err
		}
		return session.NewFixed(profile), nil
	default:
		return nil, fmt.Errorf("unknown rotation mode %q", config.Rotation)
	}
}

func profileOrDefault(id string) string {
	if id == "" {
		return fingerprint.DefaultProfileID
	}
	return id
}

// CACertPath returns the path of the root certificate clients must trust.
func (s *Server) CACertPath() string {
	return s.ca.CertPath()
}

// Registry returns the profile registry.
func (s *Server) Registry() *fingerprint.Registry {
	return s.registry
}

// ListenAndServe listens on the configured address and serves clients.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts client connections until the listener closes.
func (s *Server) Serve(ln net.Listener) error {
	s.closeMu.Lock()
	s.listener = ln
	s.closeMu.Unlock()

	logrus.WithField("addr", ln.Addr().String()).Info("Proxy listening")

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosed() {
				return nil
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				time.Sleep(100 * time.Millisecond)
				continue
			}
			return err
		}
		go s.handleConn(conn)
	}
}

// transportFor returns the session's transport, creating it on first
// use. One transport per session keeps TLS session resumption and
// connection pools scoped to the bound profile.
func (s *Server) transportFor(sess *session.Session) *transport.Transport {
	s.transportsMu.Lock()
	defer s.transportsMu.Unlock()

	if t, ok := s.transports[sess.ID]; ok {
		return t
	}
	t := transport.New(sess.Profile, s.dnsCache)
	if s.config.InsecureSkipVerify {
		t.SetInsecureSkipVerify(true)
	}
	if s.upstream != nil {
		t.SetUpstreamDialer(s.upstream)
	}
	s.transports[sess.ID] = t
	return t
}

// releaseTransport closes and drops the transport of an evicted
// session, so idle clients cannot accumulate pooled connections and
// cleanup goroutines.
func (s *Server) releaseTransport(sess *session.Session) {
	s.transportsMu.Lock()
	t, ok := s.transports[sess.ID]
	if ok {
		delete(s.transports, sess.ID)
	}
	s.transportsMu.Unlock()
	if ok {
		t.Close()
	}
}

// sessionKey derives the session key from the client address. All
// connections from one client IP share a session and therefore a
// profile.
func sessionKey(addr net.Addr) string {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

func (s *Server) isClosed() bool {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	return s.closed
}

// Close shuts down the listener, all sessions, and their transports.
func (s *Server) Close() error {
	s.closeMu.Lock()
	if s.closed {
		s.closeMu.Unlock()
		return nil
	}
	s.closed = true
	ln := s.listener
	s.closeMu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}

	s.sessions.Shutdown()

	s.transportsMu.Lock()
	for id, t := range s.transports {
		t.Close()
		delete(s.transports, id)
	}
	s.transportsMu.Unlock()

	s.certs.Close()
	return err
}

// hostOnly strips a port from host:port forms.
func hostOnly(hostport string) string {
	if host, _, err := net.SplitHostPort(hostport); err == nil {
		return host
	}
	return strings.TrimSuffix(hostport, ".")
}
