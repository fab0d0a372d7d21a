// Package remote talks to the shopping list server: the identity endpoints
// through Auth and the document endpoints through DocumentClient.
package remote

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"
)

const requestTimeout = 10 * time.Second

// TLSConfig returns a client TLS configuration that trusts only the CA in
// caPath. An empty caPath returns nil, which means the system roots.
func TLSConfig(caPath string) (*tls.Config, error) {
	if caPath == "" {
		return nil, nil
	}
	caCert, err := os.ReadFile(caPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA cert: %w", err)
	}
	caPool := x509.NewCertPool()
	if !caPool.AppendCertsFromPEM(caCert) {
		return nil, errors.New("failed to parse CA cert")
	}
	return &tls.Config{RootCAs: caPool, MinVersion: tls.VersionTLS12}, nil
}

// NewHTTPClient returns an HTTP client for the API. When caPath is set the
// server certificate must chain to that CA.
func NewHTTPClient(caPath string) (*http.Client, error) {
	tlsConfig, err := TLSConfig(caPath)
	if err != nil {
		return nil, err
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = tlsConfig
	return &http.Client{Transport: transport, Timeout: requestTimeout}, nil
}
