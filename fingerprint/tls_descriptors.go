package fingerprint

import (
	utls "github.com/refraction-networking/utls"
)

// Shared TLS descriptors, one per browser generation. Profiles reference
// these; the descriptors themselves were taken from captures of the real
// browsers (cipher order, extension order, and extension contents).

// chromeCiphers is the Chromium cipher order, stable since Chrome 72.
var chromeCiphers = []uint16{
	0x1301, 0x1302, 0x1303, // TLS 1.3 AES-128, AES-256, CHACHA20
	0xc02b, 0xc02f, 0xc02c, 0xc030, // ECDHE-ECDSA/RSA AES-GCM
	0xcca9, 0xcca8, // ECDHE CHACHA20
	0xc013, 0xc014, // ECDHE-RSA AES-CBC
	0x009c, 0x009d, // RSA AES-GCM
	0x002f, 0x0035, // RSA AES-CBC
}

var chromeSigAlgs = []utls.SignatureScheme{
	utls.ECDSAWithP256AndSHA256,
	utls.PSSWithSHA256,
	utls.PKCS1WithSHA256,
	utls.ECDSAWithP384AndSHA384,
	utls.PSSWithSHA384,
	utls.PKCS1WithSHA384,
	utls.PSSWithSHA512,
	utls.PKCS1WithSHA512,
}

// tlsChromium covers Chrome 100-123 and the Edge releases of the same
// engine range: classic key exchange, no post-quantum share.
var tlsChromium = &TLSDescriptor{
	MinVersion:    utls.VersionTLS12,
	MaxVersion:    utls.VersionTLS13,
	CipherSuites:  chromeCiphers,
	GREASECiphers: true,
	ExtensionOrder: []uint16{
		extGREASE,
		0,     // server_name
		23,    // extended_master_secret
		65281, // renegotiation_info
		10,    // supported_groups
		11,    // ec_point_formats
		35,    // session_ticket
		16,    // alpn
		5,     // status_request
		13,    // signature_algorithms
		18,    // signed_certificate_timestamp
		51,    // key_share
		45,    // psk_key_exchange_modes
		43,    // supported_versions
		27,    // compress_certificate
		17513, // application_settings
		extGREASE,
		21, // padding
	},
	SupportedGroups:     []utls.CurveID{utls.X25519, utls.CurveP256, utls.CurveP384},
	SignatureAlgorithms: chromeSigAlgs,
	ALPNProtocols:       []string{"h2", "http/1.1"},
	SupportedVersions:   []uint16{utls.VersionTLS13, utls.VersionTLS12},
	KeyShareGroups:      []utls.CurveID{utls.X25519},
	PSKModes:            []uint8{utls.PskModeDHE},
	PointFormats:        []uint8{0},
	CertCompression:     []utls.CertCompressionAlgo{utls.CertCompressionBrotli},
	ALPSProtocols:       []string{"h2"},
}

// tlsChromiumPQ covers Chrome 124-130: Kyber hybrid key share, GREASE ECH.
var tlsChromiumPQ = &TLSDescriptor{
	MinVersion:    utls.VersionTLS12,
	MaxVersion:    utls.VersionTLS13,
	CipherSuites:  chromeCiphers,
	GREASECiphers: true,
	ExtensionOrder: []uint16{
		extGREASE,
		0, 23, 65281, 10, 11, 35, 16, 5, 13, 18, 51, 45, 43, 27, 17513,
		65037, // encrypted_client_hello (GREASE)
		extGREASE,
		21,
	},
	SupportedGroups: []utls.CurveID{
		utls.X25519Kyber768Draft00, utls.X25519, utls.CurveP256, utls.CurveP384,
	},
	SignatureAlgorithms: chromeSigAlgs,
	ALPNProtocols:       []string{"h2", "http/1.1"},
	SupportedVersions:   []uint16{utls.VersionTLS13, utls.VersionTLS12},
	KeyShareGroups:      []utls.CurveID{utls.X25519Kyber768Draft00, utls.X25519},
	PSKModes:            []uint8{utls.PskModeDHE},
	PointFormats:        []uint8{0},
	CertCompression:     []utls.CertCompressionAlgo{utls.CertCompressionBrotli},
	ALPSProtocols:       []string{"h2"},
}

// tlsChromiumMLKEM covers Chrome 131+: ML-KEM replaces the Kyber draft.
var tlsChromiumMLKEM = &TLSDescriptor{
	MinVersion:    utls.VersionTLS12,
	MaxVersion:    utls.VersionTLS13,
	CipherSuites:  chromeCiphers,
	GREASECiphers: true,
	ExtensionOrder: []uint16{
		extGREASE,
		0, 23, 65281, 10, 11, 35, 16, 5, 13, 18, 51, 45, 43, 27, 17513,
		65037,
		extGREASE,
		21,
	},
	SupportedGroups: []utls.CurveID{
		utls.CurveID(0x11ec), // X25519MLKEM768
		utls.X25519, utls.CurveP256, utls.CurveP384,
	},
	SignatureAlgorithms: chromeSigAlgs,
	ALPNProtocols:       []string{"h2", "http/1.1"},
	SupportedVersions:   []uint16{utls.VersionTLS13, utls.VersionTLS12},
	KeyShareGroups:      []utls.CurveID{utls.CurveID(0x11ec), utls.X25519},
	PSKModes:            []uint8{utls.PskModeDHE},
	PointFormats:        []uint8{0},
	CertCompression:     []utls.CertCompressionAlgo{utls.CertCompressionBrotli},
	ALPSProtocols:       []string{"h2"},
}

// tlsFirefox covers Firefox 109-133. Firefox sends no GREASE and offers
// delegated credentials and record_size_limit, which Chromium never does.
var tlsFirefox = &TLSDescriptor{
	MinVersion: utls.VersionTLS12,
	MaxVersion: utls.VersionTLS13,
	CipherSuites: []uint16{
		0x1301, 0x1303, 0x1302,
		0xc02b, 0xc02f, 0xcca9, 0xcca8, 0xc02c, 0xc030,
		0xc00a, 0xc009, 0xc013, 0xc014,
		0x009c, 0x009d, 0x002f, 0x0035,
	},
	ExtensionOrder: []uint16{
		0,     // server_name
		23,    // extended_master_secret
		65281, // renegotiation_info
		10,    // supported_groups
		11,    // ec_point_formats
		35,    // session_ticket
		16,    // alpn
		5,     // status_request
		34,    // delegated_credentials
		51,    // key_share
		43,    // supported_versions
		13,    // signature_algorithms
		45,    // psk_key_exchange_modes
		28,    // record_size_limit
		65037, // encrypted_client_hello (GREASE)
	},
	SupportedGroups: []utls.CurveID{
		utls.X25519, utls.CurveP256, utls.CurveP384, utls.CurveP521,
		utls.CurveID(0x0100), // ffdhe2048
		utls.CurveID(0x0101), // ffdhe3072
	},
	SignatureAlgorithms: []utls.SignatureScheme{
		utls.ECDSAWithP256AndSHA256,
		utls.ECDSAWithP384AndSHA384,
		utls.ECDSAWithP521AndSHA512,
		utls.PSSWithSHA256,
		utls.PSSWithSHA384,
		utls.PSSWithSHA512,
		utls.PKCS1WithSHA256,
		utls.PKCS1WithSHA384,
		utls.PKCS1WithSHA512,
		utls.ECDSAWithSHA1,
		utls.PKCS1WithSHA1,
	},
	ALPNProtocols:     []string{"h2", "http/1.1"},
	SupportedVersions: []uint16{utls.VersionTLS13, utls.VersionTLS12},
	KeyShareGroups:    []utls.CurveID{utls.X25519, utls.CurveP256},
	PSKModes:          []uint8{utls.PskModeDHE},
	PointFormats:      []uint8{0},
	RecordSizeLimit:   0x4001,
	DelegatedCreds: []utls.SignatureScheme{
		utls.ECDSAWithP256AndSHA256,
		utls.ECDSAWithP384AndSHA384,
		utls.ECDSAWithP521AndSHA512,
		utls.ECDSAWithSHA1,
	},
}

// tlsSafari covers desktop Safari 15-18 and the iOS releases of the same
// WebKit generation (they share the network stack).
var tlsSafari = &TLSDescriptor{
	MinVersion: utls.VersionTLS10,
	MaxVersion: utls.VersionTLS13,
	CipherSuites: []uint16{
		0x1301, 0x1302, 0x1303,
		0xc02c, 0xc02b, 0xcca9, 0xc030, 0xc02f, 0xcca8,
		0xc00a, 0xc009, 0xc014, 0xc013,
		0x009d, 0x009c, 0x0035, 0x002f,
		0xc008, 0xc012, 0x000a,
	},
	GREASECiphers: true,
	ExtensionOrder: []uint16{
		extGREASE,
		0,     // server_name
		23,    // extended_master_secret
		65281, // renegotiation_info
		10,    // supported_groups
		11,    // ec_point_formats
		16,    // alpn
		5,     // status_request
		13,    // signature_algorithms
		18,    // signed_certificate_timestamp
		51,    // key_share
		45,    // psk_key_exchange_modes
		43,    // supported_versions
		27,    // compress_certificate
		extGREASE,
		21, // padding
	},
	SupportedGroups: []utls.CurveID{
		utls.X25519, utls.CurveP256, utls.CurveP384, utls.CurveP521,
	},
	SignatureAlgorithms: []utls.SignatureScheme{
		utls.ECDSAWithP256AndSHA256,
		utls.PSSWithSHA256,
		utls.PKCS1WithSHA256,
		utls.ECDSAWithP384AndSHA384,
		utls.ECDSAWithSHA1,
		utls.PSSWithSHA384,
		utls.PKCS1WithSHA384,
		utls.PSSWithSHA512,
		utls.PKCS1WithSHA512,
		utls.PKCS1WithSHA1,
	},
	ALPNProtocols: []string{"h2", "http/1.1"},
	SupportedVersions: []uint16{
		utls.VersionTLS13, utls.VersionTLS12, utls.VersionTLS11, utls.VersionTLS10,
	},
	KeyShareGroups:  []utls.CurveID{utls.X25519},
	PSKModes:        []uint8{utls.PskModeDHE},
	PointFormats:    []uint8{0},
	CertCompression: []utls.CertCompressionAlgo{utls.CertCompressionZlib},
}

// tlsOkHttp covers OkHttp 3.9-5 on the Android platform TLS stack. Plain
// shape: no GREASE, no padding, no session tickets beyond the basics.
var tlsOkHttp = &TLSDescriptor{
	MinVersion: utls.VersionTLS12,
	MaxVersion: utls.VersionTLS13,
	CipherSuites: []uint16{
		0x1301, 0x1302, 0x1303,
		0xc02b, 0xc02f, 0xc02c, 0xc030, 0xcca9, 0xcca8,
		0xc013, 0xc014, 0x009c, 0x009d, 0x002f, 0x0035,
	},
	ExtensionOrder: []uint16{
		65281, // renegotiation_info
		0,     // server_name
		23,    // extended_master_secret
		35,    // session_ticket
		16,    // alpn
		5,     // status_request
		13,    // signature_algorithms
		51,    // key_share
		45,    // psk_key_exchange_modes
		43,    // supported_versions
		10,    // supported_groups
		11,    // ec_point_formats
	},
	SupportedGroups: []utls.CurveID{utls.X25519, utls.CurveP256, utls.CurveP384},
	SignatureAlgorithms: []utls.SignatureScheme{
		utls.ECDSAWithP256AndSHA256,
		utls.PSSWithSHA256,
		utls.PKCS1WithSHA256,
		utls.ECDSAWithP384AndSHA384,
		utls.PSSWithSHA384,
		utls.PKCS1WithSHA384,
		utls.PSSWithSHA512,
		utls.PKCS1WithSHA512,
		utls.PKCS1WithSHA1,
	},
	ALPNProtocols:     []string{"h2", "http/1.1"},
	SupportedVersions: []uint16{utls.VersionTLS13, utls.VersionTLS12},
	KeyShareGroups:    []utls.CurveID{utls.X25519},
	PSKModes:          []uint8{utls.PskModeDHE},
	PointFormats:      []uint8{0},
}
