//go:build unit

package certutil_test

import (
	"crypto/x509"
	"encoding/pem"
	"net"
	"testing"
	"time"

	"github.com/alexandremahdhaoui/virtmig/internal/util/certutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parsePEMCert(t *testing.T, data []byte) *x509.Certificate {
	t.Helper()
	block, rest := pem.Decode(data)
	require.NotNil(t, block)
	assert.Empty(t, rest)
	assert.Equal(t, "CERTIFICATE", block.Type)

	cert, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)
	return cert
}

func TestNewCA(t *testing.T) {
	ca, err := certutil.NewCA("virtmig test CA", time.Hour)
	require.NoError(t, err)
	require.NotNil(t, ca.Pool())

	cert := parsePEMCert(t, ca.Cert())
	assert.True(t, cert.IsCA)
	assert.Equal(t, "virtmig test CA", cert.Subject.CommonName)
	assert.True(t, cert.NotAfter.After(time.Now()))
	assert.True(t, cert.NotAfter.Before(time.Now().Add(2*time.Hour)))
}

func TestNewCA_DefaultValidity(t *testing.T) {
	ca, err := certutil.NewCA("ca", 0)
	require.NoError(t, err)

	cert := parsePEMCert(t, ca.Cert())
	assert.True(t, cert.NotAfter.After(time.Now().Add(certutil.DefaultValidity-time.Hour)))
}

func TestCA_NewCertifiedKey(t *testing.T) {
	ca, err := certutil.NewCA("ca", time.Hour)
	require.NoError(t, err)

	key, cert, err := ca.NewCertifiedKey("host2", "host2.example.com", "192.0.2.10")
	require.NoError(t, err)
	require.NotNil(t, key)

	assert.Equal(t, "host2", cert.Subject.CommonName)
	assert.Equal(t, []string{"host2.example.com"}, cert.DNSNames)
	require.Len(t, cert.IPAddresses, 1)
	assert.True(t, cert.IPAddresses[0].Equal(net.ParseIP("192.0.2.10")))

	_, err = cert.Verify(x509.VerifyOptions{
		DNSName:   "host2.example.com",
		Roots:     ca.Pool(),
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	})
	assert.NoError(t, err)

	_, err = cert.Verify(x509.VerifyOptions{
		Roots:     ca.Pool(),
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	})
	assert.NoError(t, err)
}

func TestCA_NewCertifiedKey_UniqueSerials(t *testing.T) {
	ca, err := certutil.NewCA("ca", time.Hour)
	require.NoError(t, err)

	_, a, err := ca.NewCertifiedKey("a")
	require.NoError(t, err)
	_, b, err := ca.NewCertifiedKey("b")
	require.NoError(t, err)

	assert.NotEqual(t, 0, a.SerialNumber.Cmp(b.SerialNumber))
}

func TestCA_NewCertifiedKeyPEM(t *testing.T) {
	ca, err := certutil.NewCA("ca", time.Hour)
	require.NoError(t, err)

	keyPEM, certPEM, err := ca.NewCertifiedKeyPEM("client")
	require.NoError(t, err)

	block, _ := pem.Decode(keyPEM)
	require.NotNil(t, block)
	assert.Equal(t, "PRIVATE KEY", block.Type)
	_, err = x509.ParsePKCS8PrivateKey(block.Bytes)
	require.NoError(t, err)

	cert := parsePEMCert(t, certPEM)
	assert.Equal(t, "client", cert.Subject.CommonName)
}
