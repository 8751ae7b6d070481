package fingerprint

import (
	"net/http"
	"sort"
	"strings"
)

// HeaderPair is one name/value header in wire order. Header maps cannot
// represent ordering; everything the engine reorders flows through pairs.
type HeaderPair struct {
	Name  string
	Value string
}

// identityHeaders are the headers a browser populates itself. The pipeline
// strips these from the client request before ordering so the profile's own
// values can be injected without value rewriting inside the engine.
var identityHeaders = map[string]bool{
	"user-agent":         true,
	"sec-ch-ua":          true,
	"sec-ch-ua-mobile":   true,
	"sec-ch-ua-platform": true,
	"accept-encoding":    true,
}

// IsIdentityHeader reports whether the profile owns this header's value.
func IsIdentityHeader(name string) bool {
	return identityHeaders[strings.ToLower(name)]
}

// PairsFromHeader flattens an http.Header into pairs. Go's header map loses
// the client's original ordering, so unknown headers are emitted in sorted
// name order to keep the result deterministic.
func PairsFromHeader(h http.Header) []HeaderPair {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)

	var pairs []HeaderPair
	for _, name := range names {
		for _, v := range h[name] {
			pairs = append(pairs, HeaderPair{Name: name, Value: v})
		}
	}
	return pairs
}

// PairsInOrder flattens an http.Header following wireOrder, the header
// names as they appeared on the wire, one entry per occurrence. Each
// occurrence consumes the next stored value for that name, so duplicates
// keep their relative order. Names the parsed header does not carry are
// skipped; values the wire order does not account for fall back to
// sorted emission.
func PairsInOrder(h http.Header, wireOrder []string) []HeaderPair {
	if len(wireOrder) == 0 {
		return PairsFromHeader(h)
	}

	remaining := make(map[string][]string, len(h))
	for name, values := range h {
		key := strings.ToLower(name)
		remaining[key] = append(remaining[key], values...)
	}

	pairs := make([]HeaderPair, 0, len(wireOrder))
	for _, name := range wireOrder {
		key := strings.ToLower(name)
		values := remaining[key]
		if len(values) == 0 {
			continue
		}
		pairs = append(pairs, HeaderPair{Name: name, Value: values[0]})
		remaining[key] = values[1:]
	}

	var rest []string
	for key, values := range remaining {
		if len(values) > 0 {
			rest = append(rest, key)
		}
	}
	sort.Strings(rest)
	for _, key := range rest {
		for _, v := range remaining[key] {
			pairs = append(pairs, HeaderPair{Name: key, Value: v})
		}
	}
	return pairs
}

// OrderHeaders lays out a request header set the way the profile's browser
// would serialize it: profile-known headers first, in the profile's order
// and casing, then profile-mandatory headers the client did not send, then
// everything else in input order. The output is a permutation of the input
// plus mandatory additions; no value is rewritten and no pair is dropped.
func OrderHeaders(p *Profile, in []HeaderPair) []HeaderPair {
	// Index client pairs by lowercase name, preserving multiplicity and
	// relative order of duplicates.
	byName := make(map[string][]string, len(in))
	for _, pair := range in {
		key := strings.ToLower(pair.Name)
		byName[key] = append(byName[key], pair.Value)
	}

	out := make([]HeaderPair, 0, len(in)+len(p.Headers))
	emitted := make(map[string]bool, len(in))

	for _, name := range p.HeaderOrder {
		key := strings.ToLower(name)
		if values, ok := byName[key]; ok {
			for _, v := range values {
				out = append(out, HeaderPair{Name: name, Value: v})
			}
			emitted[key] = true
			continue
		}
		if v, ok := mandatoryValue(p, name); ok {
			out = append(out, HeaderPair{Name: name, Value: v})
			emitted[key] = true
		}
	}

	// Headers outside the profile's vocabulary keep their input order
	// after the ordered prefix.
	for _, pair := range in {
		key := strings.ToLower(pair.Name)
		if emitted[key] {
			continue
		}
		out = append(out, pair)
	}

	return out
}

// mandatoryValue returns the profile's own value for a header it always
// sends. Conditional headers (Cookie, Referer, bodies) have no mandatory
// value.
func mandatoryValue(p *Profile, name string) (string, bool) {
	if strings.EqualFold(name, "User-Agent") {
		return p.UserAgent, true
	}
	for k, v := range p.Headers {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

// CanonicalName returns the profile's casing for a header name, or the
// input unchanged when the profile does not define it.
func CanonicalName(p *Profile, name string) string {
	for _, known := range p.HeaderOrder {
		if strings.EqualFold(known, name) {
			return known
		}
	}
	return name
}
