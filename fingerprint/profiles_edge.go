package fingerprint

import (
	"fmt"
	"time"
)

// Edge shares the Chromium network stack wholesale; only the user agent and
// the sec-ch-ua brand list differ from the Chrome release it tracks.

var edgeBrands = map[int]string{
	101: `" Not A;Brand";v="99", "Microsoft Edge";v="101", "Chromium";v="101"`,
	122: `"Chromium";v="122", "Not(A:Brand";v="24", "Microsoft Edge";v="122"`,
	127: `"Not)A;Brand";v="99", "Microsoft Edge";v="127", "Chromium";v="127"`,
	131: `"Microsoft Edge";v="131", "Chromium";v="131", "Not_A Brand";v="24"`,
}

func edgeProfile(version int) *Profile {
	h2 := chromiumH2
	if version <= 106 {
		h2 = chromiumH2Old
	}
	return &Profile{
		ID:        fmt.Sprintf("edge-%d", version),
		Browser:   "edge",
		Version:   fmt.Sprintf("%d", version),
		Platform:  "windows",
		UserAgent: fmt.Sprintf("Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%d.0.0.0 Safari/537.36 Edg/%d.0.0.0", version, version),

		TLS: chromeTLSFor(version),

		Headers:     chromiumHeaders(version, edgeBrands[version]),
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

var edgeVersions = []int{131, 127, 122, 101}

func edgeProfiles() []*Profile {
	out := make([]*Profile, 0, len(edgeVersions))
	for _, v := range edgeVersions {
		out = append(out, edgeProfile(v))
	}
	return out
}
