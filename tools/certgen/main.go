// Package main generates a development Certificate Authority and a server
// certificate signed by it. An existing CA in the output directory is reused.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/atinyakov/shoplist/internal/certgen"
	"github.com/spf13/pflag"
)

const (
	caValidity     = 10 * 365 * 24 * time.Hour
	serverValidity = 365 * 24 * time.Hour
)

func main() {
	dir := pflag.StringP("dir", "o", "certs", "output directory")
	hosts := pflag.StringSlice("hosts", []string{"localhost", "127.0.0.1"}, "server certificate hosts")
	pflag.Parse()

	if err := run(*dir, *hosts); err != nil {
		fmt.Fprintln(os.Stderr, "certgen:", err)
		os.Exit(1)
	}
	fmt.Printf("Certificates generated into ./%s\n", *dir)
}

func run(dir string, hosts []string) error {
	ca, err := loadOrCreateCA(dir)
	if err != nil {
		return err
	}
	certPEM, keyPEM, err := ca.GenerateServerCertificate(hosts, serverValidity)
	if err != nil {
		return err
	}
	return certgen.WritePair(dir, "server", certPEM, keyPEM)
}

func loadOrCreateCA(dir string) (*certgen.CA, error) {
	certPath := filepath.Join(dir, "ca.crt")
	keyPath := filepath.Join(dir, "ca.key")
	ca, err := certgen.LoadCACredentials(certPath, keyPath)
	if err == nil {
		return ca, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	ca, certPEM, keyPEM, err := certgen.GenerateCA("ShopList Dev CA", caValidity)
	if err != nil {
		return nil, err
	}
	if err := certgen.WritePair(dir, "ca", certPEM, keyPEM); err != nil {
		return nil, err
	}
	return ca, nil
}
