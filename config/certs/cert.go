// Package certs loads and generates the X.509 material for the line protocol
// listener. Mutual TLS is enabled whenever a client CA is configured.
package certs

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
)

// File names written by Generate.
const (
	CAFile         = "ca.crt"
	ServerCertFile = "server.crt"
	ServerKeyFile  = "server.key"
	ClientCertFile = "client.crt"
	ClientKeyFile  = "client.key"
)

func loadPool(caPath string) (*x509.CertPool, error) {
	pemBytes, err := os.ReadFile(caPath)
	if err != nil {
		return nil, errors.Wrap(err, "could not read CA certificate")
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pemBytes) {
		return nil, errors.Newf("no certificates found in %s", caPath)
	}
	return pool, nil
}

// LoadServerTLSConfig loads the server key pair. With a non-empty caPath the
// server requires and verifies client certificates signed by that CA.
func LoadServerTLSConfig(caPath, certPath, keyPath string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, errors.Wrap(err, "could not load server key pair")
	}
	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	if caPath != "" {
		pool, err := loadPool(caPath)
		if err != nil {
			return nil, err
		}
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
		cfg.ClientCAs = pool
	}
	return cfg, nil
}

// LoadClientTLSConfig trusts servers signed by caPath and, when certPath is
// set, presents that client certificate.
func LoadClientTLSConfig(caPath, certPath, keyPath string) (*tls.Config, error) {
	pool, err := loadPool(caPath)
	if err != nil {
		return nil, err
	}
	cfg := &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
	if certPath != "" {
		cert, err := tls.LoadX509KeyPair(certPath, keyPath)
		if err != nil {
			return nil, errors.Wrap(err, "could not load client key pair")
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}

// Generate writes a fresh CA plus a server and a client certificate into dir.
// The server certificate is valid for host and 127.0.0.1.
func Generate(dir, host string, validFor time.Duration) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return errors.Wrapf(err, "creating %s", dir)
	}

	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return err
	}
	caCert, err := createCACertificate(caKey, validFor)
	if err != nil {
		return err
	}
	if err := saveCert(filepath.Join(dir, CAFile), caCert); err != nil {
		return err
	}

	for _, leaf := range []struct {
		name, certFile, keyFile string
		server                  bool
	}{
		{host, ServerCertFile, ServerKeyFile, true},
		{"blinkdb-client", ClientCertFile, ClientKeyFile, false},
	} {
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return err
		}
		cert, err := createSignedCertificate(key, leaf.name, caCert, caKey, leaf.server, validFor)
		if err != nil {
			return err
		}
		if err := saveCert(filepath.Join(dir, leaf.certFile), cert); err != nil {
			return err
		}
		if err := saveKey(filepath.Join(dir, leaf.keyFile), key); err != nil {
			return err
		}
	}
	return nil
}

func createCACertificate(key *ecdsa.PrivateKey, validFor time.Duration) (*x509.Certificate, error) {
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{Organization: []string{"blinkdb CA"}},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(validFor),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, errors.Wrap(err, "creating CA certificate")
	}
	return x509.ParseCertificate(der)
}

func createSignedCertificate(
	key *ecdsa.PrivateKey,
	commonName string,
	caCert *x509.Certificate,
	caKey *ecdsa.PrivateKey,
	isServer bool,
	validFor time.Duration,
) (*x509.Certificate, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, errors.Wrap(err, "generating serial")
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    time.Now().Add(-time.Minute),
		NotAfter:     time.Now().Add(validFor),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		DNSNames:     []string{commonName},
	}
	if isServer {
		template.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth}
		template.IPAddresses = []net.IP{net.ParseIP("127.0.0.1")}
	} else {
		template.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth}
	}

	der, err := x509.CreateCertificate(rand.Reader, template, caCert, &key.PublicKey, caKey)
	if err != nil {
		return nil, errors.Wrapf(err, "creating certificate for %s", commonName)
	}
	return x509.ParseCertificate(der)
}

func saveCert(filename string, cert *x509.Certificate) error {
	out, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer out.Close()
	return pem.Encode(out, &pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
}

func saveKey(filename string, key *ecdsa.PrivateKey) error {
	out, err := os.OpenFile(filename, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer out.Close()
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return err
	}
	return pem.Encode(out, &pem.Block{Type: "EC PRIVATE KEY", Bytes: der})
}
