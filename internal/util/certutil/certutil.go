/*
Copyright 2024 Alexandre Mahdhaoui

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package certutil issues the short-lived PKI used to run libvirt's TLS
// transport between two hosts.
package certutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"net"
	"time"
)

const DefaultValidity = 24 * time.Hour

var (
	errGenerateKey    = errors.New("failed to generate private key")
	errSignCert       = errors.New("failed to sign certificate")
	errMarshalKey     = errors.New("failed to marshal private key")
	errGenerateSerial = errors.New("failed to generate serial number")
)

// ------------------------------------------------------- CA ------------------------------------------------------- //

// CA is a certificate authority.
type CA struct {
	key      *ecdsa.PrivateKey
	pool     *x509.CertPool
	rootCert *x509.Certificate
	validity time.Duration
}

// NewCA creates a self-signed CA. Certificates it issues share its validity.
func NewCA(commonName string, validity time.Duration) (*CA, error) {
	if validity <= 0 {
		validity = DefaultValidity
	}

	serial, err := newSerial()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	caCert := &x509.Certificate{
		Subject: pkix.Name{
			CommonName:   commonName,
			Organization: []string{"virtmig"},
		},
		SerialNumber:          serial,
		NotBefore:             now.Add(-1 * time.Hour),
		NotAfter:              now.Add(validity),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
	}

	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, errors.Join(err, errGenerateKey)
	}

	raw, err := x509.CreateCertificate(rand.Reader, caCert, caCert, caKey.Public(), caKey)
	if err != nil {
		return nil, errors.Join(err, errSignCert)
	}

	selfSigned, err := x509.ParseCertificate(raw)
	if err != nil {
		return nil, errors.Join(err, errSignCert)
	}

	pool := x509.NewCertPool()
	pool.AddCert(selfSigned)

	return &CA{
		key:      caKey,
		pool:     pool,
		rootCert: selfSigned,
		validity: validity,
	}, nil
}

// Pool returns the CA's cert pool.
func (ca *CA) Pool() *x509.CertPool {
	return ca.pool
}

// Cert returns the CA's root certificate in PEM format.
func (ca *CA) Cert() []byte {
	return certToPEM(ca.rootCert)
}

// ------------------------------------------------ CertifiedKeypair ------------------------------------------------ //

// NewCertifiedKey issues a key pair usable for both client and server auth.
// names are added as IP SANs when they parse as IPs, DNS SANs otherwise.
func (ca *CA) NewCertifiedKey(commonName string, names ...string) (*ecdsa.PrivateKey, *x509.Certificate, error) {
	serial, err := newSerial()
	if err != nil {
		return nil, nil, err
	}

	now := time.Now()
	tmpl := &x509.Certificate{
		Subject: pkix.Name{
			CommonName:   commonName,
			Organization: []string{"virtmig"},
		},
		SerialNumber: serial,
		NotBefore:    now.Add(-1 * time.Hour),
		NotAfter:     now.Add(ca.validity),
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
	}
	for _, n := range names {
		if ip := net.ParseIP(n); ip != nil {
			tmpl.IPAddresses = append(tmpl.IPAddresses, ip)
			continue
		}
		tmpl.DNSNames = append(tmpl.DNSNames, n)
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, errors.Join(err, errGenerateKey)
	}

	raw, err := x509.CreateCertificate(rand.Reader, tmpl, ca.rootCert, key.Public(), ca.key)
	if err != nil {
		return nil, nil, errors.Join(err, errSignCert)
	}

	signed, err := x509.ParseCertificate(raw)
	if err != nil {
		return nil, nil, errors.Join(err, errSignCert)
	}

	return key, signed, nil
}

// NewCertifiedKeyPEM is NewCertifiedKey with PEM-encoded outputs.
func (ca *CA) NewCertifiedKeyPEM(commonName string, names ...string) (key []byte, cert []byte, err error) {
	k, c, err := ca.NewCertifiedKey(commonName, names...)
	if err != nil {
		return nil, nil, err
	}

	keyPEM, err := privateKeyToPem(k)
	if err != nil {
		return nil, nil, err
	}

	return keyPEM, certToPEM(c), nil
}

func newSerial() (*big.Int, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, errors.Join(err, errGenerateSerial)
	}
	return serial, nil
}

func privateKeyToPem(key *ecdsa.PrivateKey) ([]byte, error) {
	kb, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, errors.Join(err, errMarshalKey)
	}

	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: kb}), nil
}

func certToPEM(cert *x509.Certificate) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
}
