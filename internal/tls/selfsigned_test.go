package tls

import (
	cryptotls "crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSelfSignedCert(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "cert.pem")
	keyPath := filepath.Join(dir, "key.pem")

	require.NoError(t, GenerateSelfSignedCert(certPath, keyPath, []string{"onboarding.local", "127.0.0.1"}))

	_, err := cryptotls.LoadX509KeyPair(certPath, keyPath)
	require.NoError(t, err)

	raw, err := os.ReadFile(certPath)
	require.NoError(t, err)
	block, _ := pem.Decode(raw)
	require.NotNil(t, block)
	cert, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)

	assert.Equal(t, []string{"onboarding.local"}, cert.DNSNames)
	require.Len(t, cert.IPAddresses, 1)
	assert.Equal(t, "127.0.0.1", cert.IPAddresses[0].String())
	assert.NoError(t, cert.VerifyHostname("onboarding.local"))

	info, err := os.Stat(keyPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestEnsureCert_KeepsExistingPair(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "cert.pem")
	keyPath := filepath.Join(dir, "key.pem")

	generated, err := EnsureCert(certPath, keyPath, nil)
	require.NoError(t, err)
	assert.True(t, generated)
	first, err := os.ReadFile(certPath)
	require.NoError(t, err)

	generated, err = EnsureCert(certPath, keyPath, nil)
	require.NoError(t, err)
	assert.False(t, generated)
	second, err := os.ReadFile(certPath)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestGenerateSelfSignedCert_BadPath(t *testing.T) {
	dir := t.TempDir()
	err := GenerateSelfSignedCert(filepath.Join(dir, "missing", "cert.pem"), filepath.Join(dir, "key.pem"), nil)
	assert.Error(t, err)
}
