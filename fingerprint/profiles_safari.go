package fingerprint

import (
	"fmt"
	"strings"
	"time"
)

var safariHeaderOrder = []string{
	"Host",
	"Connection",
	"Accept",
	"User-Agent",
	"Accept-Language",
	"Referer",
	"Accept-Encoding",
	"Cookie",
	"Origin",
	"Content-Type",
	"Content-Length",
}

var safariPseudoOrder = []string{":method", ":scheme", ":path", ":authority"}

// Safari offers no WebSocket compression extension.
var safariWebSocket = WebSocketBehavior{
	HeaderOrder: []string{
		"Host",
		"Upgrade",
		"Connection",
		"Sec-WebSocket-Version",
		"Sec-WebSocket-Key",
		"User-Agent",
		"Origin",
		"Accept-Encoding",
		"Accept-Language",
		"Cookie",
	},
}

var safariH2 = &HTTP2Settings{
	HeaderTableSize:        4096,
	EnablePush:             true,
	MaxConcurrentStreams:   100,
	InitialWindowSize:      2097152,
	SettingsOrder:          []uint16{4, 3, 1},
	ConnectionWindowUpdate: 10485760,
	StreamWeight:           255,
}

func safariHeaders() map[string]string {
	return map[string]string{
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		"Accept-Language": "en-US,en;q=0.9",
		"Accept-Encoding": "gzip, deflate, br",
	}
}

// safariWebKitBuild maps a Safari marketing version to the WebKit build in
// its user agent. Desktop Safari keeps the frozen 605.1.15 token.
func safariProfile(version string) *Profile {
	id := "safari-" + strings.ReplaceAll(version, ".", "-")
	return &Profile{
		ID:        id,
		Browser:   "safari",
		Version:   version,
		Platform:  "macos",
		UserAgent: fmt.Sprintf("Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/%s Safari/605.1.15", version),

		TLS: tlsSafari,

		Headers:     safariHeaders(),
		HeaderOrder: safariHeaderOrder,

		HTTP2:             safariH2,
		PseudoHeaderOrder: safariPseudoOrder,

		WebSocket: safariWebSocket,

		Connection: ConnectionBehavior{
			MaxIdlePerHost: 6,
			IdleTimeout:    60 * time.Second,
		},
	}
}

// safariIOSProfile models Mobile Safari. Same WebKit network stack as the
// desktop release, different user agent platform token.
func safariIOSProfile(version, osVersion string) *Profile {
	id := "safari-ios-" + strings.ReplaceAll(version, ".", "-")
	return &Profile{
		ID:        id,
		Browser:   "safari-ios",
		Version:   version,
		Platform:  "ios",
		UserAgent: fmt.Sprintf("Mozilla/5.0 (iPhone; CPU iPhone OS %s like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/%s Mobile/15E148 Safari/604.1", osVersion, version),

		TLS: tlsSafari,

		Headers:     safariHeaders(),
		HeaderOrder: safariHeaderOrder,

		HTTP2:             safariH2,
		PseudoHeaderOrder: safariPseudoOrder,

		WebSocket: safariWebSocket,

		Connection: ConnectionBehavior{
			MaxIdlePerHost: 6,
			IdleTimeout:    60 * time.Second,
		},
	}
}

func safariIPadProfile(version, osVersion string) *Profile {
	p := safariIOSProfile(version, osVersion)
	p.ID = "safari-ipad-" + strings.ReplaceAll(version, ".", "-")
	p.Platform = "ipados"
	p.UserAgent = fmt.Sprintf("Mozilla/5.0 (iPad; CPU OS %s like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/%s Mobile/15E148 Safari/604.1", osVersion, version)
	return p
}

var safariVersions = []string{
	"18.2", "18.0", "17.5", "17.4.1", "17.2.1", "17.0",
	"16.5", "16.0", "15.6.1", "15.5", "15.3",
}

func safariProfiles() []*Profile {
	out := make([]*Profile, 0, len(safariVersions)+5)
	for _, v := range safariVersions {
		out = append(out, safariProfile(v))
	}
	out = append(out,
		safariIOSProfile("18.1.1", "18_1_1"),
		safariIOSProfile("17.4.1", "17_4_1"),
		safariIOSProfile("17.2", "17_2"),
		safariIOSProfile("16.5", "16_5"),
		safariIPadProfile("18.0", "18_0"),
	)
	return out
}
