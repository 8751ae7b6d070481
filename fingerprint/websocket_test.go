package fingerprint

import (
	"encoding/base64"
	"strings"
	"testing"
)

func TestWebSocketAccept(t *testing.T) {
	// Key/accept pair from RFC 6455 section 1.3.
	got := WebSocketAccept("dGhlIHNhbXBsZSBub25jZQ==")
	want := "s3pPLMBiTxaQ9kYGzzhZRbK+xOo="
	if got != want {
		t.Errorf("WebSocketAccept = %q, want %q", got, want)
	}
}

func TestGenerateWebSocketKey(t *testing.T) {
	k1 := GenerateWebSocketKey()
	k2 := GenerateWebSocketKey()
	if k1 == k2 {
		t.Error("two generated keys are identical")
	}
	raw, err := base64.StdEncoding.DecodeString(k1)
	if err != nil {
		t.Fatalf("key is not base64: %v", err)
	}
	if len(raw) != 16 {
		t.Errorf("key decodes to %d bytes, want 16", len(raw))
	}
}

func TestBuildWebSocketHandshake(t *testing.T) {
	p := chromeProfile(131)

	in := []HeaderPair{
		{Name: "Origin", Value: "https://app.example.com"},
		{Name: "Sec-WebSocket-Key", Value: "dGhlIHNhbXBsZSBub25jZQ=="},
		{Name: "Sec-WebSocket-Version", Value: "13"},
		{Name: "Sec-WebSocket-Extensions", Value: "permessage-deflate; client_max_window_bits"},
		{Name: "Cookie", Value: "sid=1"},
	}

	out := BuildWebSocketHandshake(p, "ws.example.com", in)

	get := func(name string) (string, bool) {
		for _, pair := range out {
			if strings.EqualFold(pair.Name, name) {
				return pair.Value, true
			}
		}
		return "", false
	}

	if v, _ := get("Host"); v != "ws.example.com" {
		t.Errorf("Host = %q", v)
	}
	if v, _ := get("Upgrade"); v != "websocket" {
		t.Errorf("Upgrade = %q", v)
	}
	if v, _ := get("Connection"); v != "Upgrade" {
		t.Errorf("Connection = %q", v)
	}
	if v, _ := get("Sec-WebSocket-Key"); v != "dGhlIHNhbXBsZSBub25jZQ==" {
		t.Error("client key not preserved")
	}
	if v, _ := get("User-Agent"); v != p.UserAgent {
		t.Error("User-Agent not taken from profile")
	}
	if v, _ := get("Sec-WebSocket-Extensions"); v != p.WebSocket.Extensions {
		t.Errorf("extensions = %q, want profile offer", v)
	}
	if v, _ := get("Origin"); v != "https://app.example.com" {
		t.Error("Origin not preserved")
	}
	if v, _ := get("Cookie"); v != "sid=1" {
		t.Error("Cookie not preserved")
	}

	// Output order follows the profile's upgrade layout.
	pos := make(map[string]int)
	for i, pair := range out {
		pos[strings.ToLower(pair.Name)] = i
	}
	prev := -1
	for _, name := range p.WebSocket.HeaderOrder {
		i, ok := pos[strings.ToLower(name)]
		if !ok {
			continue
		}
		if i < prev {
			t.Fatalf("header %s out of profile order: %v", name, out)
		}
		prev = i
	}
}

func TestBuildWebSocketHandshakeGeneratesMissingKey(t *testing.T) {
	p := chromeProfile(131)

	out := BuildWebSocketHandshake(p, "ws.example.com", nil)

	var key string
	for _, pair := range out {
		if strings.EqualFold(pair.Name, "Sec-WebSocket-Key") {
			key = pair.Value
		}
	}
	if key == "" {
		t.Fatal("no Sec-WebSocket-Key generated")
	}
	raw, err := base64.StdEncoding.DecodeString(key)
	if err != nil || len(raw) != 16 {
		t.Errorf("generated key %q is not 16 random bytes", key)
	}
}

func TestBuildWebSocketHandshakeDeflateGating(t *testing.T) {
	chrome := chromeProfile(131)

	hasExtensions := func(out []HeaderPair) bool {
		for _, pair := range out {
			if strings.EqualFold(pair.Name, "Sec-WebSocket-Extensions") {
				return true
			}
		}
		return false
	}

	// Client never offered compression: the proxy must not offer it either,
	// frames are relayed opaquely after the upgrade.
	out := BuildWebSocketHandshake(chrome, "ws.example.com", []HeaderPair{
		{Name: "Sec-WebSocket-Key", Value: GenerateWebSocketKey()},
	})
	if hasExtensions(out) {
		t.Error("extensions offered without a client offer")
	}

	// Safari defines no extension offer at all.
	safari := safariProfile("18.2")
	out = BuildWebSocketHandshake(safari, "ws.example.com", []HeaderPair{
		{Name: "Sec-WebSocket-Extensions", Value: "permessage-deflate"},
	})
	if hasExtensions(out) {
		t.Error("safari profile offered a compression extension")
	}
}
