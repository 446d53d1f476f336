package dremio

import (
	"crypto/tls"
	"crypto/x509"

	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// Scheme is the transport scheme of a Flight location.
type Scheme string

const (
	// SchemeTCP is the plaintext transport.
	SchemeTCP Scheme = "grpc+tcp"
	// SchemeTLS is the encrypted transport.
	SchemeTLS Scheme = "grpc+tls"
)

// ResolveScheme returns SchemeTLS when TLS is enabled, SchemeTCP otherwise.
func ResolveScheme(tlsEnabled bool) Scheme {
	if tlsEnabled {
		return SchemeTLS
	}
	return SchemeTCP
}

// TLSParams is the resolved transport security of a connection.
// The zero value means plaintext.
type TLSParams struct {
	enabled bool

	// SkipVerify disables server certificate verification.
	SkipVerify bool

	// RootCAs holds the PEM trust material used for verification.
	RootCAs []byte
}

// Enabled reports whether the transport is encrypted.
func (p TLSParams) Enabled() bool {
	return p.enabled
}

// BuildTLSParams resolves the certificate source of cfg. readFile loads
// cfg.CertPath; os.ReadFile is used when nil.
//
// Resolution order when TLS is enabled:
//  1. Verify disabled: no trust material is needed.
//  2. RootCerts bytes supplied directly.
//  3. The bundle at CertPath.
//
// Fails with ErrConfig when the bundle cannot be read or no source is given.
func BuildTLSParams(cfg TLSConfig, readFile func(string) ([]byte, error)) (TLSParams, error) {
	if !cfg.Enabled {
		return TLSParams{}, nil
	}
	if !cfg.Verify {
		return TLSParams{enabled: true, SkipVerify: true}, nil
	}

	roots := cfg.RootCerts
	if len(roots) == 0 && cfg.CertPath != "" {
		if readFile == nil {
			readFile = Options{}.readFile()
		}
		data, err := readFile(cfg.CertPath)
		if err != nil {
			return TLSParams{}, configError("build tls", "tls.cert_path", "certificate source unreadable: "+cfg.CertPath, err)
		}
		roots = data
	}
	if len(roots) == 0 {
		return TLSParams{}, configError("build tls", "tls", "TLS enabled but no certificate source", nil)
	}
	if !x509.NewCertPool().AppendCertsFromPEM(roots) {
		return TLSParams{}, configError("build tls", "tls", "no PEM certificate found in trust material", nil)
	}

	return TLSParams{enabled: true, RootCAs: roots}, nil
}

// Credentials returns the grpc transport credentials for p.
func (p TLSParams) Credentials() credentials.TransportCredentials {
	if !p.enabled {
		return insecure.NewCredentials()
	}

	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}
	if p.SkipVerify {
		tlsConfig.InsecureSkipVerify = true
	} else {
		pool := x509.NewCertPool()
		pool.AppendCertsFromPEM(p.RootCAs)
		tlsConfig.RootCAs = pool
	}
	return credentials.NewTLS(tlsConfig)
}
