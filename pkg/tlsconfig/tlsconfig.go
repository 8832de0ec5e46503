// Package tlsconfig builds a crypto/tls.Config for the local RPC server
// from broker-supplied certificate material, and maps OpenSSL-style
// cipher names to crypto/tls cipher suite identifiers.
package tlsconfig

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"

	"github.com/udsactor/agent/pkg/broker"
)

// Build parses info into a server-side tls.Config: certificate chain,
// private key (PKCS#8, PKCS#1, or encrypted PKCS#8), and an optional
// cipher restriction. TLS 1.2 and 1.3 are accepted; TLS 1.3 suite
// selection is not configurable in crypto/tls and is left to the runtime.
func Build(info broker.CertificateInfo) (*tls.Config, error) {
	chain, err := parseCertificate(info.CertificatePEM)
	if err != nil {
		return nil, err
	}

	key, err := parsePrivateKey(info.PrivateKeyPEM, info.Password)
	if err != nil {
		return nil, err
	}

	der := make([][]byte, len(chain))
	for i, c := range chain {
		der[i] = c.Raw
	}
	tlsCert := tls.Certificate{Certificate: der, PrivateKey: key, Leaf: chain[0]}

	cfg := &tls.Config{
		Certificates: []tls.Certificate{tlsCert},
		MinVersion:   tls.VersionTLS12,
		MaxVersion:   tls.VersionTLS13,
	}

	if info.CipherList != "" {
		if suites := mapCipherList(info.CipherList); len(suites) > 0 {
			cfg.CipherSuites = suites
		}
	}

	return cfg, nil
}

// parseCertificate decodes every PEM block in certPEM, in order, so an
// intermediate chain bundled after the leaf is carried into the returned
// tls.Certificate rather than silently dropped.
func parseCertificate(certPEM string) ([]*x509.Certificate, error) {
	var chain []*x509.Certificate
	rest := []byte(certPEM)
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("tlsconfig: parse certificate: %w", err)
		}
		chain = append(chain, cert)
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("tlsconfig: no PEM block found in certificate")
	}
	return chain, nil
}

func parsePrivateKey(keyPEM, password string) (any, error) {
	block, _ := pem.Decode([]byte(keyPEM))
	if block == nil {
		return nil, fmt.Errorf("tlsconfig: no PEM block found in private key")
	}

	der := block.Bytes
	encrypted := isEncryptedPKCS8(block)
	if encrypted {
		if password == "" {
			return nil, fmt.Errorf("tlsconfig: private key is encrypted but no password was supplied")
		}
		decrypted, err := decryptPKCS8(der, password)
		if err != nil {
			return nil, fmt.Errorf("tlsconfig: decrypt private key: %w", err)
		}
		der = decrypted
	}

	if key, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		return key, nil
	}
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}

	return nil, fmt.Errorf("tlsconfig: no valid private key found (tried PKCS#8 and PKCS#1)")
}
