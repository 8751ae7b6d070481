// Package fingerprint models browser network fingerprints as immutable,
// data-driven profiles and derives the on-wire artifacts from them: the TLS
// ClientHello parameter set, HTTP/1.1 header layout, HTTP/2 SETTINGS, and the
// WebSocket upgrade handshake.
//
// A Profile couples the TLS descriptor and the HTTP descriptor of one real
// browser release. The two must never be mixed across versions; real clients
// ship them together, and a mismatch is itself a fingerprint.
package fingerprint

import (
	"time"

	utls "github.com/refraction-networking/utls"
)

// TLSDescriptor is the ordered TLS ClientHello parameter set of one browser
// generation. Several Profile versions of the same browser family usually
// share one descriptor, since browsers change their TLS shape far less often
// than they bump version numbers.
type TLSDescriptor struct {
	MinVersion uint16
	MaxVersion uint16

	// CipherSuites in exact wire order, GREASE excluded. A leading GREASE
	// value is emitted when GREASECiphers is set.
	CipherSuites  []uint16
	GREASECiphers bool

	// ExtensionOrder lists extension IDs in exact wire order. The value
	// extGREASE marks a GREASE placeholder position.
	ExtensionOrder []uint16

	SupportedGroups     []utls.CurveID
	SignatureAlgorithms []utls.SignatureScheme
	ALPNProtocols       []string
	SupportedVersions   []uint16
	KeyShareGroups      []utls.CurveID
	PSKModes            []uint8
	PointFormats        []uint8
	CertCompression     []utls.CertCompressionAlgo
	RecordSizeLimit     uint16
	ALPSProtocols       []string
	DelegatedCreds      []utls.SignatureScheme
}

// extGREASE marks a GREASE placeholder in ExtensionOrder. The value itself is
// a valid GREASE code point (RFC 8701); utls randomizes the actual value at
// handshake time while the position stays fixed.
const extGREASE uint16 = 0x0a0a

// HTTP2Settings describes the HTTP/2 connection preface of a profile: the
// SETTINGS parameters in emission order, the initial connection-level
// WINDOW_UPDATE, and the stream priority bits.
type HTTP2Settings struct {
	HeaderTableSize      uint32
	EnablePush           bool
	MaxConcurrentStreams uint32
	InitialWindowSize    uint32
	MaxFrameSize         uint32
	MaxHeaderListSize    uint32

	// SettingsOrder lists the SETTINGS IDs actually sent, in order. IDs not
	// listed are omitted from the frame even if the field above is non-zero.
	SettingsOrder []uint16

	ConnectionWindowUpdate uint32
	StreamWeight           uint16
	StreamExclusive        bool
}

// WebSocketBehavior describes the upgrade-request shape of a profile.
type WebSocketBehavior struct {
	// HeaderOrder is the canonical order of the upgrade request headers,
	// Host first.
	HeaderOrder []string

	// Extensions is the Sec-WebSocket-Extensions value the browser offers,
	// or empty when the browser does not negotiate compression.
	Extensions string
}

// ConnectionBehavior captures connection-management traits that are visible
// on the wire across requests.
type ConnectionBehavior struct {
	MaxIdlePerHost int
	IdleTimeout    time.Duration
}

// Profile is one browser release's complete network fingerprint. Profiles
// are immutable after registry construction and safe for concurrent use.
type Profile struct {
	ID       string
	Browser  string
	Version  string
	Platform string

	UserAgent string

	TLS *TLSDescriptor

	// Headers are the profile-mandatory request headers (excluding Host and
	// User-Agent). HeaderOrder gives the canonical casing and order of every
	// header the browser may send; client headers not listed are appended
	// after the ordered prefix, never dropped.
	Headers     map[string]string
	HeaderOrder []string

	HTTP2             *HTTP2Settings
	PseudoHeaderOrder []string

	WebSocket WebSocketBehavior

	Connection ConnectionBehavior
}

// SupportsHTTP2 reports whether the profile offers h2 in its ALPN list.
func (p *Profile) SupportsHTTP2() bool {
	for _, proto := range p.TLS.ALPNProtocols {
		if proto == "h2" {
			return true
		}
	}
	return false
}

// ALPN returns the profile's ALPN protocol list in offer order.
func (p *Profile) ALPN() []string {
	out := make([]string, len(p.TLS.ALPNProtocols))
	copy(out, p.TLS.ALPNProtocols)
	return out
}
