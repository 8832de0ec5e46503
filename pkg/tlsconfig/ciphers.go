package tlsconfig

import "crypto/tls"

// opensslToGo maps OpenSSL-style cipher names to the TLS 1.2 suite
// constants crypto/tls supports. TLS 1.3 suites are not configurable in
// crypto/tls and are always offered by the runtime regardless of this
// table, matching the three mandatory TLS 1.3 suites upstream rustls
// always offers.
var opensslToGo = map[string]uint16{
	"ECDHE-ECDSA-AES128-GCM-SHA256": tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	"ECDHE-RSA-AES128-GCM-SHA256":   tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	"ECDHE-ECDSA-AES256-GCM-SHA384": tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	"ECDHE-RSA-AES256-GCM-SHA384":   tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	"ECDHE-ECDSA-CHACHA20-POLY1305": tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
	"ECDHE-RSA-CHACHA20-POLY1305":   tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
	"ECDHE-RSA-AES128-SHA":         tls.TLS_ECDHE_RSA_WITH_AES_128_CBC_SHA,
	"ECDHE-RSA-AES256-SHA":         tls.TLS_ECDHE_RSA_WITH_AES_256_CBC_SHA,
	"AES128-GCM-SHA256":             tls.TLS_RSA_WITH_AES_128_GCM_SHA256,
	"AES256-GCM-SHA384":             tls.TLS_RSA_WITH_AES_256_GCM_SHA384,
	"AES128-SHA":                    tls.TLS_RSA_WITH_AES_128_CBC_SHA,
	"AES256-SHA":                    tls.TLS_RSA_WITH_AES_256_CBC_SHA,
}

// mapCipherList splits an OpenSSL-style colon-separated cipher list and
// maps every recognized entry to its crypto/tls suite id, dropping
// unrecognized names. An empty or all-unrecognized list yields an empty
// slice; the caller falls back to crypto/tls defaults in that case.
func mapCipherList(list string) []uint16 {
	var suites []uint16
	start := 0
	for i := 0; i <= len(list); i++ {
		if i == len(list) || list[i] == ':' {
			if name := list[start:i]; name != "" {
				if suite, ok := opensslToGo[name]; ok {
					suites = append(suites, suite)
				}
			}
			start = i + 1
		}
	}
	return suites
}
