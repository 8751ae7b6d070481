package fingerprint

import (
	"fmt"
	"time"
)

// Header layout shared by every Chromium-based profile (Chrome, Edge).
// Order and casing match desktop Chromium's HTTP/1.1 serialization.
var chromiumHeaderOrder = []string{
	"Host",
	"Connection",
	"Cache-Control",
	"sec-ch-ua",
	"sec-ch-ua-mobile",
	"sec-ch-ua-platform",
	"Upgrade-Insecure-Requests",
	"User-Agent",
	"Accept",
	"Sec-Fetch-Site",
	"Sec-Fetch-Mode",
	"Sec-Fetch-User",
	"Sec-Fetch-Dest",
	"Referer",
	"Accept-Encoding",
	"Accept-Language",
	"Cookie",
	"Origin",
	"Content-Type",
	"Content-Length",
	"Priority",
}

var chromiumPseudoOrder = []string{":method", ":authority", ":scheme", ":path"}

var chromiumWebSocket = WebSocketBehavior{
	HeaderOrder: []string{
		"Host",
		"Connection",
		"Pragma",
		"Cache-Control",
		"User-Agent",
		"Upgrade",
		"Origin",
		"Sec-WebSocket-Version",
		"Accept-Encoding",
		"Accept-Language",
		"Sec-WebSocket-Key",
		"Sec-WebSocket-Extensions",
		"Cookie",
	},
	Extensions: "permessage-deflate; client_max_window_bits",
}

// chromiumH2Old is the SETTINGS shape of Chrome 100-106.
var chromiumH2Old = &HTTP2Settings{
	HeaderTableSize:        65536,
	MaxConcurrentStreams:   1000,
	InitialWindowSize:      6291456,
	MaxFrameSize:           16384,
	MaxHeaderListSize:      262144,
	SettingsOrder:          []uint16{1, 3, 4, 5, 6},
	ConnectionWindowUpdate: 15663105,
	StreamWeight:           256,
	StreamExclusive:        true,
}

// chromiumH2 is the SETTINGS shape of Chrome 107 and later: ENABLE_PUSH is
// sent explicitly as 0 and the stream-limit setting disappeared.
var chromiumH2 = &HTTP2Settings{
	HeaderTableSize:        65536,
	EnablePush:             false,
	InitialWindowSize:      6291456,
	MaxHeaderListSize:      262144,
	SettingsOrder:          []uint16{1, 2, 4, 6},
	ConnectionWindowUpdate: 15663105,
	StreamWeight:           256,
	StreamExclusive:        true,
}

// chromeBrands maps Chrome versions to the sec-ch-ua value the release
// shipped. The "Not A Brand" entry is GREASE seeded by the major version,
// so it cannot be computed from a single template.
var chromeBrands = map[int]string{
	100: `" Not A;Brand";v="99", "Chromium";v="100", "Google Chrome";v="100"`,
	101: `" Not A;Brand";v="99", "Chromium";v="101", "Google Chrome";v="101"`,
	104: `"Chromium";v="104", " Not A;Brand";v="99", "Google Chrome";v="104"`,
	105: `"Google Chrome";v="105", "Not)A;Brand";v="8", "Chromium";v="105"`,
	106: `"Chromium";v="106", "Google Chrome";v="106", "Not;A=Brand";v="99"`,
	107: `"Google Chrome";v="107", "Chromium";v="107", "Not=A?Brand";v="24"`,
	108: `"Not?A_Brand";v="8", "Chromium";v="108", "Google Chrome";v="108"`,
	109: `"Not_A Brand";v="99", "Google Chrome";v="109", "Chromium";v="109"`,
	114: `"Not.A/Brand";v="8", "Chromium";v="114", "Google Chrome";v="114"`,
	116: `"Chromium";v="116", "Not)A;Brand";v="24", "Google Chrome";v="116"`,
	117: `"Google Chrome";v="117", "Not;A=Brand";v="8", "Chromium";v="117"`,
	118: `"Chromium";v="118", "Google Chrome";v="118", "Not=A?Brand";v="99"`,
	119: `"Google Chrome";v="119", "Chromium";v="119", "Not?A_Brand";v="24"`,
	120: `"Not_A Brand";v="8", "Chromium";v="120", "Google Chrome";v="120"`,
	123: `"Google Chrome";v="123", "Not:A-Brand";v="8", "Chromium";v="123"`,
	124: `"Chromium";v="124", "Google Chrome";v="124", "Not-A.Brand";v="99"`,
	126: `"Not/A)Brand";v="8", "Chromium";v="126", "Google Chrome";v="126"`,
	127: `"Not)A;Brand";v="99", "Google Chrome";v="127", "Chromium";v="127"`,
	128: `"Chromium";v="128", "Not;A=Brand";v="24", "Google Chrome";v="128"`,
	129: `"Google Chrome";v="129", "Not=A?Brand";v="8", "Chromium";v="129"`,
	130: `"Chromium";v="130", "Google Chrome";v="130", "Not?A_Brand";v="99"`,
	131: `"Google Chrome";v="131", "Chromium";v="131", "Not_A Brand";v="24"`,
}

// chromeTLSFor picks the TLS generation a Chrome major version shipped with.
func chromeTLSFor(version int) *TLSDescriptor {
	switch {
	case version >= 131:
		return tlsChromiumMLKEM
	case version >= 124:
		return tlsChromiumPQ
	default:
		return tlsChromium
	}
}

// chromiumHeaders builds the mandatory header set shared by Chromium
// profiles. Accept-Encoding grew zstd in 123 and the Priority request header
// appeared in 124.
func chromiumHeaders(version int, brands string) map[string]string {
	encoding := "gzip, deflate, br"
	if version >= 123 {
		encoding = "gzip, deflate, br, zstd"
	}
	h := map[string]string{
		"sec-ch-ua":                 brands,
		"sec-ch-ua-mobile":          "?0",
		"sec-ch-ua-platform":        `"Windows"`,
		"Upgrade-Insecure-Requests": "1",
		"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8,application/signed-exchange;v=b3;q=0.7",
		"Sec-Fetch-Site":            "none",
		"Sec-Fetch-Mode":            "navigate",
		"Sec-Fetch-User":            "?1",
		"Sec-Fetch-Dest":            "document",
		"Accept-Encoding":           encoding,
		"Accept-Language":           "en-US,en;q=0.9",
	}
	if version >= 124 {
		h["Priority"] = "u=0, i"
	}
	return h
}

func chromeProfile(version int) *Profile {
	h2 := chromiumH2
	if version <= 106 {
		h2 = chromiumH2Old
	}
	return &Profile{
		ID:        fmt.Sprintf("chrome-%d", version),
		Browser:   "chrome",
		Version:   fmt.Sprintf("%d", version),
		Platform:  "windows",
		UserAgent: fmt.Sprintf("Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%d.0.0.0 Safari/537.36", version),

		TLS: chromeTLSFor(version),

		Headers:     chromiumHeaders(version, chromeBrands[version]),
		HeaderOrder: chromiumHeaderOrder,

		HTTP2:             h2,
		PseudoHeaderOrder: chromiumPseudoOrder,

		WebSocket: chromiumWebSocket,

		Connection: ConnectionBehavior{
			MaxIdlePerHost: 6,
			IdleTimeout:    90 * time.Second,
		},
	}
}

// chromeVersions lists the supported Chrome releases, newest first. The
// registry preserves this order.
var chromeVersions = []int{
	131, 130, 129, 128, 127, 126, 124, 123, 120, 119, 118,
	117, 116, 114, 109, 108, 107, 106, 105, 104, 101, 100,
}

func chromeProfiles() []*Profile {
	out := make([]*Profile, 0, len(chromeVersions))
	for _, v := range chromeVersions {
		out = append(out, chromeProfile(v))
	}
	return out
}
