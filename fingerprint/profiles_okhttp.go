package fingerprint

import (
	"strings"
	"time"
)

// OkHttp is not a browser, but mobile-app traffic is a large share of what
// origins see, so it rotates alongside the browser profiles. Minimal header
// surface, no client hints, no Sec-Fetch.

var okhttpHeaderOrder = []string{
	"Host",
	"Connection",
	"Accept-Encoding",
	"User-Agent",
	"Cookie",
	"Content-Type",
	"Content-Length",
}

var okhttpPseudoOrder = []string{":method", ":path", ":authority", ":scheme"}

// OkHttp's WebSocket client sends the bare RFC 6455 handshake.
var okhttpWebSocket = WebSocketBehavior{
	HeaderOrder: []string{
		"Host",
		"Upgrade",
		"Connection",
		"Sec-WebSocket-Key",
		"Sec-WebSocket-Version",
		"User-Agent",
		"Accept-Encoding",
		"Cookie",
	},
}

var okhttpH2 = &HTTP2Settings{
	HeaderTableSize:   4096,
	EnablePush:        false,
	InitialWindowSize: 16777216,
	MaxFrameSize:      16384,
	SettingsOrder:     []uint16{1, 2, 4, 5},
	// OkHttp posts one large connection window instead of Chrome-style
	// incremental updates.
	ConnectionWindowUpdate: 16711681,
}

func okhttpProfile(version string) *Profile {
	return &Profile{
		ID:        "okhttp-" + strings.ReplaceAll(version, ".", "-"),
		Browser:   "okhttp",
		Version:   version,
		Platform:  "android",
		UserAgent: "okhttp/" + version,

		TLS: tlsOkHttp,

		Headers: map[string]string{
			"Accept-Encoding": "gzip",
		},
		HeaderOrder: okhttpHeaderOrder,

		HTTP2:             okhttpH2,
		PseudoHeaderOrder: okhttpPseudoOrder,

		WebSocket: okhttpWebSocket,

		Connection: ConnectionBehavior{
			MaxIdlePerHost: 5,
			IdleTimeout:    5 * time.Minute,
		},
	}
}

var okhttpVersions = []string{"5.0", "4.10", "4.9", "3.14", "3.13", "3.11", "3.9"}

func okhttpProfiles() []*Profile {
	out := make([]*Profile, 0, len(okhttpVersions))
	for _, v := range okhttpVersions {
		out = append(out, okhttpProfile(v))
	}
	return out
}
