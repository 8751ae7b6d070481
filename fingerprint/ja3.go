package fingerprint

import (
	"crypto/md5"
	"encoding/hex"
	"strconv"
	"strings"
)

// isGREASE reports whether a value is a TLS GREASE code point (RFC 8701).
func isGREASE(v uint16) bool {
	return (v & 0x0f0f) == 0x0a0a
}

// JA3String renders a profile's TLS descriptor in JA3 notation:
// TLSVersion,Ciphers,Extensions,Groups,PointFormats with dash-separated
// decimal fields. GREASE values are excluded, matching the JA3 convention
// used by every fingerprinting service.
func JA3String(p *Profile) string {
	d := p.TLS

	var b strings.Builder
	b.WriteString("771") // ClientHello legacy version is always 0x0303

	b.WriteByte(',')
	writeDashedU16(&b, d.CipherSuites)

	b.WriteByte(',')
	var exts []uint16
	for _, id := range d.ExtensionOrder {
		if !isGREASE(id) {
			exts = append(exts, id)
		}
	}
	writeDashedU16(&b, exts)

	b.WriteByte(',')
	var groups []uint16
	for _, g := range d.SupportedGroups {
		if !isGREASE(uint16(g)) {
			groups = append(groups, uint16(g))
		}
	}
	writeDashedU16(&b, groups)

	b.WriteByte(',')
	for i, pt := range d.PointFormats {
		if i > 0 {
			b.WriteByte('-')
		}
		b.WriteString(strconv.Itoa(int(pt)))
	}

	return b.String()
}

// JA3Hash returns the MD5 of the JA3 string, the form logged and compared in
// practice.
func JA3Hash(p *Profile) string {
	sum := md5.Sum([]byte(JA3String(p)))
	return hex.EncodeToString(sum[:])
}

func writeDashedU16(b *strings.Builder, values []uint16) {
	for i, v := range values {
		if i > 0 {
			b.WriteByte('-')
		}
		b.WriteString(strconv.Itoa(int(v)))
	}
}
