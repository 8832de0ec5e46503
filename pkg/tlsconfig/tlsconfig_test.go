package tlsconfig

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/udsactor/agent/pkg/broker"
)

func generateSelfSigned(t *testing.T) (certPEM, keyPKCS8PEM, keyPKCS1PEM string) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "udsactor-test"},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)

	certPEM = string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))

	pkcs8, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	keyPKCS8PEM = string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: pkcs8}))

	keyPKCS1PEM = string(pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}))
	return
}

func TestBuildAcceptsPKCS8Key(t *testing.T) {
	certPEM, keyPEM, _ := generateSelfSigned(t)

	cfg, err := Build(broker.CertificateInfo{CertificatePEM: certPEM, PrivateKeyPEM: keyPEM})
	require.NoError(t, err)
	assert.Len(t, cfg.Certificates, 1)
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
}

func TestBuildAcceptsPKCS1Key(t *testing.T) {
	certPEM, _, keyPEM := generateSelfSigned(t)

	cfg, err := Build(broker.CertificateInfo{CertificatePEM: certPEM, PrivateKeyPEM: keyPEM})
	require.NoError(t, err)
	assert.Len(t, cfg.Certificates, 1)
}

func TestBuildRejectsMissingEncryptedPassword(t *testing.T) {
	encryptedBlock := pem.EncodeToMemory(&pem.Block{Type: "ENCRYPTED PRIVATE KEY", Bytes: []byte("not-a-real-key")})
	certPEM, _, _ := generateSelfSigned(t)

	_, err := Build(broker.CertificateInfo{CertificatePEM: certPEM, PrivateKeyPEM: string(encryptedBlock)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "password")
}

func TestMapCipherListFiltersUnknownAndFallsBackWhenEmpty(t *testing.T) {
	suites := mapCipherList("ECDHE-RSA-AES128-GCM-SHA256:bogus-cipher")
	require.Len(t, suites, 1)
	assert.Equal(t, tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256, suites[0])

	empty := mapCipherList("totally-unknown")
	assert.Empty(t, empty)
}
