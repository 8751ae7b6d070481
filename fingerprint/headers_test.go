package fingerprint

import (
	"net/http"
	"strings"
	"testing"
)

func TestOrderHeadersChromiumLayout(t *testing.T) {
	p := chromeProfile(131)

	in := []HeaderPair{
		{Name: "cookie", Value: "session=abc123"},
		{Name: "accept", Value: "text/plain"},
		{Name: "x-request-id", Value: "42"},
	}

	out := OrderHeaders(p, in)

	idx := func(name string) int {
		for i, pair := range out {
			if strings.EqualFold(pair.Name, name) {
				return i
			}
		}
		return -1
	}

	// Client values survive untouched, under the profile's casing.
	if i := idx("Accept"); i < 0 {
		t.Fatal("Accept missing from output")
	} else {
		if out[i].Name != "Accept" {
			t.Errorf("Accept emitted as %q, want profile casing", out[i].Name)
		}
		if out[i].Value != "text/plain" {
			t.Errorf("Accept value rewritten to %q", out[i].Value)
		}
	}
	if i := idx("Cookie"); i < 0 || out[i].Value != "session=abc123" {
		t.Error("Cookie value not preserved")
	}

	// Profile-mandatory headers are injected.
	if i := idx("User-Agent"); i < 0 || out[i].Value != p.UserAgent {
		t.Error("User-Agent not injected from profile")
	}
	if i := idx("sec-ch-ua"); i < 0 || out[i].Value != p.Headers["sec-ch-ua"] {
		t.Error("sec-ch-ua not injected from profile")
	}
	if idx("Accept-Encoding") < 0 {
		t.Error("Accept-Encoding not injected from profile")
	}

	// Relative ordering follows the profile: sec-ch-ua < User-Agent <
	// Accept < Accept-Encoding < Cookie.
	order := []string{"sec-ch-ua", "User-Agent", "Accept", "Accept-Encoding", "Cookie"}
	for i := 1; i < len(order); i++ {
		if idx(order[i-1]) >= idx(order[i]) {
			t.Errorf("%s not before %s: %v", order[i-1], order[i], out)
		}
	}

	// Unknown headers trail the ordered prefix.
	last := out[len(out)-1]
	if last.Name != "x-request-id" || last.Value != "42" {
		t.Errorf("unknown header not appended last, got %v", last)
	}
}

func TestOrderHeadersKeepsEveryInputPair(t *testing.T) {
	p := chromeProfile(131)

	in := []HeaderPair{
		{Name: "Accept", Value: "a"},
		{Name: "X-One", Value: "1"},
		{Name: "X-Two", Value: "2"},
		{Name: "Cookie", Value: "a=1"},
		{Name: "Cookie", Value: "b=2"},
	}

	out := OrderHeaders(p, in)

	counts := make(map[string]int)
	for _, pair := range out {
		counts[strings.ToLower(pair.Name)+"\x00"+pair.Value]++
	}
	for _, pair := range in {
		key := strings.ToLower(pair.Name) + "\x00" + pair.Value
		if counts[key] == 0 {
			t.Errorf("input pair %s: %s dropped", pair.Name, pair.Value)
		}
	}

	// Duplicate cookies keep their relative order.
	var cookies []string
	for _, pair := range out {
		if strings.EqualFold(pair.Name, "Cookie") {
			cookies = append(cookies, pair.Value)
		}
	}
	if len(cookies) != 2 || cookies[0] != "a=1" || cookies[1] != "b=2" {
		t.Errorf("cookie order not preserved: %v", cookies)
	}
}

func TestOrderHeadersFirefoxPutsUserAgentFirst(t *testing.T) {
	p := firefoxProfile(133)

	out := OrderHeaders(p, []HeaderPair{{Name: "accept", Value: "*/*"}})
	if len(out) == 0 || out[0].Name != "User-Agent" {
		t.Fatalf("first header is %v, want User-Agent", out[:1])
	}
}

func TestIsIdentityHeader(t *testing.T) {
	for _, name := range []string{"User-Agent", "sec-ch-ua", "SEC-CH-UA-MOBILE", "Accept-Encoding"} {
		if !IsIdentityHeader(name) {
			t.Errorf("IsIdentityHeader(%q) = false", name)
		}
	}
	for _, name := range []string{"Accept", "Cookie", "Authorization"} {
		if IsIdentityHeader(name) {
			t.Errorf("IsIdentityHeader(%q) = true", name)
		}
	}
}

func TestPairsFromHeader(t *testing.T) {
	h := http.Header{}
	h.Add("Accept", "text/html")
	h.Add("Cookie", "a=1")
	h.Add("Cookie", "b=2")

	pairs := PairsFromHeader(h)
	if len(pairs) != 3 {
		t.Fatalf("got %d pairs, want 3", len(pairs))
	}
	if pairs[0].Name != "Accept" {
		t.Errorf("pairs not sorted by name: %v", pairs)
	}
	if pairs[1].Value != "a=1" || pairs[2].Value != "b=2" {
		t.Errorf("multi-value order not preserved: %v", pairs)
	}
}

func TestCanonicalName(t *testing.T) {
	p := chromeProfile(131)
	if got := CanonicalName(p, "accept-language"); got != "Accept-Language" {
		t.Errorf("CanonicalName(accept-language) = %q", got)
	}
	if got := CanonicalName(p, "X-Custom"); got != "X-Custom" {
		t.Errorf("CanonicalName(X-Custom) = %q", got)
	}
}

func TestPairsInOrder(t *testing.T) {
	h := http.Header{}
	h.Add("X-B", "1")
	h.Add("X-A", "2")
	h.Add("Cookie", "a=1")
	h.Add("Cookie", "b=2")

	pairs := PairsInOrder(h, []string{"X-B", "Cookie", "X-A", "Cookie"})
	want := []HeaderPair{
		{Name: "X-B", Value: "1"},
		{Name: "Cookie", Value: "a=1"},
		{Name: "X-A", Value: "2"},
		{Name: "Cookie", Value: "b=2"},
	}
	if len(pairs) != len(want) {
		t.Fatalf("pairs = %v, want %v", pairs, want)
	}
	for i := range want {
		if pairs[i] != want[i] {
			t.Errorf("pair %d = %v, want %v", i, pairs[i], want[i])
		}
	}

	// Values the order does not account for still come out, after the
	// ordered part.
	pairs = PairsInOrder(h, []string{"Cookie"})
	if len(pairs) != 4 {
		t.Fatalf("short order lost pairs: %v", pairs)
	}
	if pairs[0] != (HeaderPair{Name: "Cookie", Value: "a=1"}) {
		t.Errorf("ordered prefix = %v", pairs[0])
	}

	// Nil order falls back to the sorted flattening.
	sorted := PairsFromHeader(h)
	fallback := PairsInOrder(h, nil)
	if len(sorted) != len(fallback) {
		t.Fatalf("fallback diverged: %v vs %v", fallback, sorted)
	}
	for i := range sorted {
		if sorted[i] != fallback[i] {
			t.Errorf("fallback pair %d = %v, want %v", i, fallback[i], sorted[i])
		}
	}
}
