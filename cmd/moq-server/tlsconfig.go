package main

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"time"
)

// loadTLSConfig builds the tls.Config a QUIC listener negotiates with,
// either from an on-disk cert/key pair or, if none is configured, an
// ephemeral self-signed certificate (spec.md §6.4: "TLS cert/key or
// self-sign list"). alpns is the set of ALPN protocol ids this server
// will accept: the -alpn flag values (default "moq-go-01").
//
// Self-signing is grounded on
// redbco-redb-open/services/mesh/internal/security/credentials.go's
// ECDSA key + x509.CreateCertificate template pattern, trimmed to a
// single self-signed leaf (no separate CA) since this is a development
// convenience, not a mesh trust chain.
func loadTLSConfig(certPath, keyPath string, selfSign bool, alpns []string) (*tls.Config, error) {
	if certPath != "" && keyPath != "" {
		cert, err := tls.LoadX509KeyPair(certPath, keyPath)
		if err != nil {
			return nil, fmt.Errorf("load tls cert/key: %w", err)
		}
		return &tls.Config{Certificates: []tls.Certificate{cert}, NextProtos: alpns}, nil
	}
	if !selfSign {
		return nil, fmt.Errorf("no -cert/-key given and -self-sign not set")
	}
	cert, err := generateSelfSignedCert()
	if err != nil {
		return nil, fmt.Errorf("generate self-signed cert: %w", err)
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}, NextProtos: alpns}, nil
}

func generateSelfSignedCert() (tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("generate key: %w", err)
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{Organization: []string{"go-moq dev"}, CommonName: "go-moq self-signed"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IsCA:         true,
		DNSNames:     []string{"localhost"},
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("create certificate: %w", err)
	}

	return tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  key,
		Leaf:        &template,
	}, nil
}
