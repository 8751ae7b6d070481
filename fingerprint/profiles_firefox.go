package fingerprint

import (
	"fmt"
	"time"
)

var firefoxHeaderOrder = []string{
	"Host",
	"User-Agent",
	"Accept",
	"Accept-Language",
	"Accept-Encoding",
	"Referer",
	"Origin",
	"Connection",
	"Cookie",
	"Upgrade-Insecure-Requests",
	"Sec-Fetch-Dest",
	"Sec-Fetch-Mode",
	"Sec-Fetch-Site",
	"Sec-Fetch-User",
	"Content-Type",
	"Content-Length",
	"Priority",
}

var firefoxPseudoOrder = []string{":method", ":path", ":authority", ":scheme"}

var firefoxWebSocket = WebSocketBehavior{
	HeaderOrder: []string{
		"Host",
		"User-Agent",
		"Accept",
		"Accept-Language",
		"Accept-Encoding",
		"Sec-WebSocket-Version",
		"Origin",
		"Sec-WebSocket-Extensions",
		"Sec-WebSocket-Key",
		"Connection",
		"Cookie",
		"Pragma",
		"Cache-Control",
		"Upgrade",
	},
	Extensions: "permessage-deflate",
}

var firefoxH2 = &HTTP2Settings{
	HeaderTableSize:        65536,
	EnablePush:             true,
	InitialWindowSize:      131072,
	MaxFrameSize:           16384,
	SettingsOrder:          []uint16{1, 4, 5},
	ConnectionWindowUpdate: 12517377,
	StreamWeight:           42,
}

func firefoxProfile(version int) *Profile {
	headers := map[string]string{
		"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
		"Accept-Language":           "en-US,en;q=0.5",
		"Accept-Encoding":           "gzip, deflate, br",
		"Upgrade-Insecure-Requests": "1",
		"Sec-Fetch-Dest":            "document",
		"Sec-Fetch-Mode":            "navigate",
		"Sec-Fetch-Site":            "none",
		"Sec-Fetch-User":            "?1",
	}
	if version >= 120 {
		headers["Accept-Encoding"] = "gzip, deflate, br, zstd"
		headers["Priority"] = "u=0, i"
	}
	return &Profile{
		ID:        fmt.Sprintf("firefox-%d", version),
		Browser:   "firefox",
		Version:   fmt.Sprintf("%d", version),
		Platform:  "windows",
		UserAgent: fmt.Sprintf("Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:%d.0) Gecko/20100101 Firefox/%d.0", version, version),

		TLS: tlsFirefox,

		Headers:     headers,
		HeaderOrder: firefoxHeaderOrder,

		HTTP2:             firefoxH2,
		PseudoHeaderOrder: firefoxPseudoOrder,

		WebSocket: firefoxWebSocket,

		Connection: ConnectionBehavior{
			MaxIdlePerHost: 6,
			IdleTimeout:    115 * time.Second,
		},
	}
}

var firefoxVersions = []int{133, 117, 109}

func firefoxProfiles() []*Profile {
	out := make([]*Profile, 0, len(firefoxVersions))
	for _, v := range firefoxVersions {
		out = append(out, firefoxProfile(v))
	}
	return out
}
