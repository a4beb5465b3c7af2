package security

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeSelfSigned generates a throwaway certificate/key pair on disk
func writeSelfSigned(t *testing.T, notAfter time.Time) (certPath, keyPath string) {
	t.Helper()
	dir := t.TempDir()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "spanners-test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)

	certPath = filepath.Join(dir, "server.crt")
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	require.NoError(t, os.WriteFile(certPath, certPEM, 0o600))

	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)
	keyPath = filepath.Join(dir, "server.key")
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	require.NoError(t, os.WriteFile(keyPath, keyPEM, 0o600))

	return certPath, keyPath
}

func TestLoadServerTLSConfig(t *testing.T) {
	certPath, keyPath := writeSelfSigned(t, time.Now().Add(365*24*time.Hour))

	cfg, err := LoadServerTLSConfig(certPath, keyPath)
	require.NoError(t, err)
	require.NotNil(t, cfg)
	require.Len(t, cfg.Certificates, 1)
	assert.NotNil(t, cfg.Certificates[0].Leaf)
	assert.Equal(t, uint16(0x0303), cfg.MinVersion) // TLS 1.2
}

func TestPlaintextWhenUnconfigured(t *testing.T) {
	cfg, err := LoadServerTLSConfig("", "")
	require.NoError(t, err)
	assert.Nil(t, cfg)
}

func TestHalfConfiguredIsAnError(t *testing.T) {
	certPath, keyPath := writeSelfSigned(t, time.Now().Add(time.Hour))

	_, err := LoadServerTLSConfig(certPath, "")
	assert.Error(t, err)
	_, err = LoadServerTLSConfig("", keyPath)
	assert.Error(t, err)
}

func TestMissingFiles(t *testing.T) {
	_, err := LoadServerTLSConfig("/nonexistent/server.crt", "/nonexistent/server.key")
	assert.Error(t, err)
}

func TestCertNeedsRenewal(t *testing.T) {
	certPath, keyPath := writeSelfSigned(t, time.Now().Add(365*24*time.Hour))
	cfg, err := LoadServerTLSConfig(certPath, keyPath)
	require.NoError(t, err)
	assert.False(t, CertNeedsRenewal(cfg.Certificates[0].Leaf))

	certPath, keyPath = writeSelfSigned(t, time.Now().Add(24*time.Hour))
	cfg, err = LoadServerTLSConfig(certPath, keyPath)
	require.NoError(t, err)
	assert.True(t, CertNeedsRenewal(cfg.Certificates[0].Leaf))

	assert.True(t, CertNeedsRenewal(nil))
}
