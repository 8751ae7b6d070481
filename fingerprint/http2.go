package fingerprint

import (
	"fmt"
	"strconv"
	"strings"
)

// SettingParam is one HTTP/2 SETTINGS parameter in emission order.
type SettingParam struct {
	ID  uint16
	Val uint32
}

// HTTP/2 SETTINGS identifiers (RFC 7540 §6.5.2).
const (
	SettingHeaderTableSize      = 0x1
	SettingEnablePush           = 0x2
	SettingMaxConcurrentStreams = 0x3
	SettingInitialWindowSize    = 0x4
	SettingMaxFrameSize         = 0x5
	SettingMaxHeaderListSize    = 0x6
)

// SettingsList returns the profile's SETTINGS parameters in the exact order
// the browser emits them. Only IDs named by the profile's SettingsOrder are
// included; omission is part of the fingerprint.
func SettingsList(p *Profile) []SettingParam {
	s := p.HTTP2
	if s == nil {
		return nil
	}
	out := make([]SettingParam, 0, len(s.SettingsOrder))
	for _, id := range s.SettingsOrder {
		switch id {
		case SettingHeaderTableSize:
			out = append(out, SettingParam{id, s.HeaderTableSize})
		case SettingEnablePush:
			v := uint32(0)
			if s.EnablePush {
				v = 1
			}
			out = append(out, SettingParam{id, v})
		case SettingMaxConcurrentStreams:
			out = append(out, SettingParam{id, s.MaxConcurrentStreams})
		case SettingInitialWindowSize:
			out = append(out, SettingParam{id, s.InitialWindowSize})
		case SettingMaxFrameSize:
			out = append(out, SettingParam{id, s.MaxFrameSize})
		case SettingMaxHeaderListSize:
			out = append(out, SettingParam{id, s.MaxHeaderListSize})
		}
	}
	return out
}

// AkamaiString formats the profile's HTTP/2 shape in the Akamai fingerprint
// notation: SETTINGS|WINDOW_UPDATE|PRIORITY|PSEUDO_HEADER_ORDER.
func AkamaiString(p *Profile) string {
	var settings []string
	for _, param := range SettingsList(p) {
		settings = append(settings, fmt.Sprintf("%d:%d", param.ID, param.Val))
	}

	weight := "0"
	if p.HTTP2 != nil && p.HTTP2.StreamWeight > 0 {
		weight = strconv.Itoa(int(p.HTTP2.StreamWeight))
	}

	var pseudo []string
	for _, name := range p.PseudoHeaderOrder {
		switch name {
		case ":method":
			pseudo = append(pseudo, "m")
		case ":authority":
			pseudo = append(pseudo, "a")
		case ":scheme":
			pseudo = append(pseudo, "s")
		case ":path":
			pseudo = append(pseudo, "p")
		}
	}

	window := uint32(0)
	if p.HTTP2 != nil {
		window = p.HTTP2.ConnectionWindowUpdate
	}

	return strings.Join(settings, ";") + "|" +
		strconv.FormatUint(uint64(window), 10) + "|" +
		weight + "|" +
		strings.Join(pseudo, ",")
}

// ParseAkamai parses an Akamai HTTP/2 fingerprint string into settings and
// pseudo-header order, for defining profiles from captured fingerprints.
//
// Format: SETTINGS|WINDOW_UPDATE|PRIORITY|PSEUDO_HEADER_ORDER, with SETTINGS
// as semicolon-separated "id:value" pairs and pseudo-headers as the
// single-character identifiers m, a, s, p.
func ParseAkamai(akamai string) (*HTTP2Settings, []string, error) {
	parts := strings.Split(akamai, "|")
	if len(parts) != 4 {
		return nil, nil, fmt.Errorf("akamai: expected 4 pipe-separated fields, got %d", len(parts))
	}

	settings := &HTTP2Settings{}

	if parts[0] != "" {
		for _, pair := range strings.Split(parts[0], ";") {
			pair = strings.TrimSpace(pair)
			if pair == "" {
				continue
			}
			kv := strings.SplitN(pair, ":", 2)
			if len(kv) != 2 {
				return nil, nil, fmt.Errorf("akamai: invalid settings pair %q", pair)
			}
			id, err := strconv.ParseUint(strings.TrimSpace(kv[0]), 10, 16)
			if err != nil {
				return nil, nil, fmt.Errorf("akamai: invalid settings id %q: %w", kv[0], err)
			}
			val, err := strconv.ParseUint(strings.TrimSpace(kv[1]), 10, 32)
			if err != nil {
				return nil, nil, fmt.Errorf("akamai: invalid settings value %q: %w", kv[1], err)
			}

			settings.SettingsOrder = append(settings.SettingsOrder, uint16(id))
			switch id {
			case SettingHeaderTableSize:
				settings.HeaderTableSize = uint32(val)
			case SettingEnablePush:
				settings.EnablePush = val != 0
			case SettingMaxConcurrentStreams:
				settings.MaxConcurrentStreams = uint32(val)
			case SettingInitialWindowSize:
				settings.InitialWindowSize = uint32(val)
			case SettingMaxFrameSize:
				settings.MaxFrameSize = uint32(val)
			case SettingMaxHeaderListSize:
				settings.MaxHeaderListSize = uint32(val)
			}
		}
	}

	if parts[1] != "" {
		window, err := strconv.ParseUint(strings.TrimSpace(parts[1]), 10, 32)
		if err != nil {
			return nil, nil, fmt.Errorf("akamai: invalid window update %q: %w", parts[1], err)
		}
		settings.ConnectionWindowUpdate = uint32(window)
	}

	if parts[2] != "" && parts[2] != "0" {
		weight, err := strconv.ParseUint(strings.TrimSpace(parts[2]), 10, 16)
		if err != nil {
			return nil, nil, fmt.Errorf("akamai: invalid priority weight %q: %w", parts[2], err)
		}
		settings.StreamWeight = uint16(weight)
		settings.StreamExclusive = true
	}

	var pseudoOrder []string
	if parts[3] != "" {
		for _, ch := range strings.Split(strings.TrimSpace(parts[3]), ",") {
			switch strings.TrimSpace(ch) {
			case "m":
				pseudoOrder = append(pseudoOrder, ":method")
			case "a":
				pseudoOrder = append(pseudoOrder, ":authority")
			case "s":
				pseudoOrder = append(pseudoOrder, ":scheme")
			case "p":
				pseudoOrder = append(pseudoOrder, ":path")
			default:
				return nil, nil, fmt.Errorf("akamai: unknown pseudo-header identifier %q", ch)
			}
		}
	}

	return settings, pseudoOrder, nil
}
