package fingerprint

import (
	utls "github.com/refraction-networking/utls"
)

// BuildClientHelloSpec derives the utls ClientHelloSpec for a profile. The
// result is deterministic: repeated calls with the same profile produce the
// identical ordered parameter sequence (GREASE positions are fixed by the
// descriptor; only the GREASE values themselves are randomized by utls at
// handshake time, which is exactly what the real browsers do).
//
// The returned spec is freshly allocated on every call: utls mutates
// extension state during the handshake, so specs must not be shared between
// connections.
func BuildClientHelloSpec(p *Profile) *utls.ClientHelloSpec {
	d := p.TLS

	ciphers := make([]uint16, 0, len(d.CipherSuites)+1)
	if d.GREASECiphers {
		ciphers = append(ciphers, utls.GREASE_PLACEHOLDER)
	}
	ciphers = append(ciphers, d.CipherSuites...)

	extensions := make([]utls.TLSExtension, 0, len(d.ExtensionOrder))
	for _, id := range d.ExtensionOrder {
		extensions = append(extensions, extensionForID(id, d))
	}

	return &utls.ClientHelloSpec{
		TLSVersMin:         d.MinVersion,
		TLSVersMax:         d.MaxVersion,
		CipherSuites:       ciphers,
		CompressionMethods: []uint8{0}, // null compression
		Extensions:         extensions,
	}
}

// extensionForID materializes one TLS extension with the descriptor's
// contents. Extension IDs outside a profile's vocabulary fall back to an
// empty GenericExtension rather than failing the connection.
func extensionForID(id uint16, d *TLSDescriptor) utls.TLSExtension {
	switch id {
	case extGREASE:
		return &utls.UtlsGREASEExtension{}

	case 0: // server_name
		return &utls.SNIExtension{}

	case 5: // status_request
		return &utls.StatusRequestExtension{}

	case 10: // supported_groups
		curves := make([]utls.CurveID, 0, len(d.SupportedGroups)+1)
		if d.GREASECiphers {
			curves = append(curves, utls.CurveID(utls.GREASE_PLACEHOLDER))
		}
		curves = append(curves, d.SupportedGroups...)
		return &utls.SupportedCurvesExtension{Curves: curves}

	case 11: // ec_point_formats
		return &utls.SupportedPointsExtension{SupportedPoints: d.PointFormats}

	case 13: // signature_algorithms
		return &utls.SignatureAlgorithmsExtension{
			SupportedSignatureAlgorithms: d.SignatureAlgorithms,
		}

	case 16: // alpn
		return &utls.ALPNExtension{AlpnProtocols: d.ALPNProtocols}

	case 18: // signed_certificate_timestamp
		return &utls.SCTExtension{}

	case 21: // padding
		return &utls.UtlsPaddingExtension{GetPaddingLen: utls.BoringPaddingStyle}

	case 23: // extended_master_secret
		return &utls.UtlsExtendedMasterSecretExtension{}

	case 27: // compress_certificate
		return &utls.UtlsCompressCertExtension{Algorithms: d.CertCompression}

	case 28: // record_size_limit
		limit := d.RecordSizeLimit
		if limit == 0 {
			limit = 0x4001
		}
		return &utls.FakeRecordSizeLimitExtension{Limit: limit}

	case 34: // delegated_credentials
		return &utls.DelegatedCredentialsExtension{
			SupportedSignatureAlgorithms: d.DelegatedCreds,
		}

	case 35: // session_ticket
		return &utls.SessionTicketExtension{}

	case 43: // supported_versions
		versions := make([]uint16, 0, len(d.SupportedVersions)+1)
		if d.GREASECiphers {
			versions = append(versions, utls.GREASE_PLACEHOLDER)
		}
		versions = append(versions, d.SupportedVersions...)
		return &utls.SupportedVersionsExtension{Versions: versions}

	case 45: // psk_key_exchange_modes
		return &utls.PSKKeyExchangeModesExtension{Modes: d.PSKModes}

	case 51: // key_share
		// Shares only for the descriptor's preferred groups; generating a
		// share for every supported group is a detectable signal.
		shares := make([]utls.KeyShare, 0, len(d.KeyShareGroups)+1)
		if d.GREASECiphers {
			shares = append(shares, utls.KeyShare{
				Group: utls.CurveID(utls.GREASE_PLACEHOLDER),
				Data:  []byte{0},
			})
		}
		for _, g := range d.KeyShareGroups {
			shares = append(shares, utls.KeyShare{Group: g})
		}
		return &utls.KeyShareExtension{KeyShares: shares}

	case 17513: // application_settings
		return &utls.ApplicationSettingsExtension{SupportedProtocols: d.ALPSProtocols}

	case 65037: // encrypted_client_hello (GREASE)
		return &utls.GREASEEncryptedClientHelloExtension{}

	case 65281: // renegotiation_info
		return &utls.RenegotiationInfoExtension{Renegotiation: utls.RenegotiateOnceAsClient}

	default:
		return &utls.GenericExtension{Id: id}
	}
}
