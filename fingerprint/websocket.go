package fingerprint

import (
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"strings"
)

// wsKeyGUID is the fixed GUID from RFC 6455 used to derive the
// Sec-WebSocket-Accept value.
const wsKeyGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// GenerateWebSocketKey returns a fresh 16-byte random key, base64-encoded,
// for upgrade requests that arrive without one.
func GenerateWebSocketKey() string {
	var b [16]byte
	rand.Read(b[:])
	return base64.StdEncoding.EncodeToString(b[:])
}

// WebSocketAccept computes the Sec-WebSocket-Accept value for a key.
func WebSocketAccept(key string) string {
	h := sha1.New()
	h.Write([]byte(key))
	h.Write([]byte(wsKeyGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// BuildWebSocketHandshake lays out a client upgrade request the way the
// profile's browser would: the profile's upgrade header order, the client's
// Sec-WebSocket-Key preserved (or generated if absent), and the compression
// offer rewritten to the profile's canonical extension parameters.
//
// The compression offer is only emitted when the client itself offered
// permessage-deflate: the proxy relays frames opaquely after the upgrade, so
// it must never negotiate a codec on the client's behalf that the client did
// not ask for.
func BuildWebSocketHandshake(p *Profile, host string, in []HeaderPair) []HeaderPair {
	clientOfferedDeflate := false
	key := ""
	version := "13"

	// Pull the handshake fields out of the client set; everything else is
	// ordered by the regular header path.
	rest := make([]HeaderPair, 0, len(in))
	for _, pair := range in {
		switch strings.ToLower(pair.Name) {
		case "sec-websocket-key":
			key = pair.Value
		case "sec-websocket-version":
			version = pair.Value
		case "sec-websocket-extensions":
			if strings.Contains(strings.ToLower(pair.Value), "permessage-deflate") {
				clientOfferedDeflate = true
			}
		case "host", "upgrade", "connection":
			// Re-emitted below in profile order.
		default:
			rest = append(rest, pair)
		}
	}
	if key == "" {
		key = GenerateWebSocketKey()
	}

	restByName := make(map[string][]string, len(rest))
	for _, pair := range rest {
		k := strings.ToLower(pair.Name)
		restByName[k] = append(restByName[k], pair.Value)
	}

	out := make([]HeaderPair, 0, len(p.WebSocket.HeaderOrder)+len(rest))
	emitted := make(map[string]bool)

	for _, name := range p.WebSocket.HeaderOrder {
		k := strings.ToLower(name)
		var value string
		switch k {
		case "host":
			value = host
		case "upgrade":
			value = "websocket"
		case "connection":
			value = "Upgrade"
		case "pragma", "cache-control":
			// Browsers pin no-cache on upgrades; a client-supplied value
			// still wins to avoid rewriting data.
			value = "no-cache"
			if values, ok := restByName[k]; ok && len(values) > 0 {
				value = values[0]
			}
		case "sec-websocket-key":
			value = key
		case "sec-websocket-version":
			value = version
		case "sec-websocket-extensions":
			if !clientOfferedDeflate || p.WebSocket.Extensions == "" {
				continue
			}
			value = p.WebSocket.Extensions
		case "user-agent":
			value = p.UserAgent
		default:
			if values, ok := restByName[k]; ok {
				for _, v := range values {
					out = append(out, HeaderPair{Name: name, Value: v})
				}
				emitted[k] = true
				continue
			}
			if v, ok := mandatoryValue(p, name); ok {
				value = v
			} else {
				continue
			}
		}
		out = append(out, HeaderPair{Name: name, Value: value})
		emitted[k] = true
	}

	// Client headers outside the profile's handshake vocabulary follow the
	// ordered prefix, never dropped.
	for _, pair := range rest {
		if emitted[strings.ToLower(pair.Name)] {
			continue
		}
		out = append(out, pair)
	}

	return out
}
