// Package config provides functionality for managing server configuration
// using command-line flags, a JSON config file and environment variables.
//
// Precedence, lowest to highest: defaults, config file, flags given
// explicitly on the command line, environment variables.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
	"github.com/tidwall/jsonc"
)

// Options holds the configuration values for the server.
type Options struct {
	// Port defines the server's listening address (ip:port).
	Port string `json:"address"`

	// DatabaseDSN holds the Postgres connection string. Empty runs the
	// server on in-memory storage.
	DatabaseDSN string `json:"database_dsn"`

	// Config is the path to the config file.
	Config string `json:"-"`

	// LogLevel is the zap level name.
	LogLevel string `json:"log_level"`

	// JWTSecret signs session tokens.
	JWTSecret string `json:"jwt_secret"`

	// TokenTTL is how long an issued session token stays valid.
	TokenTTL Duration `json:"token_ttl"`

	// CleanupInterval is how often expired token revocations are purged.
	CleanupInterval Duration `json:"cleanup_interval"`

	// TLSCert and TLSKey enable HTTPS when both are set.
	TLSCert string `json:"tls_cert"`
	TLSKey  string `json:"tls_key"`

	// FederatedIssuer, FederatedAudience and FederatedKeyFile configure
	// sign-in with ID tokens from an external identity provider.
	// Federated sign-in is disabled while FederatedKeyFile is empty.
	FederatedIssuer   string `json:"federated_issuer"`
	FederatedAudience string `json:"federated_audience"`
	FederatedKeyFile  string `json:"federated_key_file"`
}

// Duration is a time.Duration that reads "90s"-style strings from JSON.
type Duration time.Duration

// UnmarshalJSON accepts a Go duration string or a number of nanoseconds.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return err
		}
		*d = Duration(v)
		return nil
	}
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("duration must be a string or integer: %s", b)
	}
	*d = Duration(n)
	return nil
}

// Parse parses the process's command line and environment.
func Parse() (*Options, error) {
	return ParseArgs(os.Args[1:])
}

// ParseArgs parses args and environment variables into Options.
func ParseArgs(args []string) (*Options, error) {
	options := &Options{}
	var ttl, cleanup time.Duration

	fs := pflag.NewFlagSet("server", pflag.ContinueOnError)
	fs.StringVarP(&options.Port, "address", "a", "localhost:8080", "run on ip:port server")
	fs.StringVarP(&options.DatabaseDSN, "database-dsn", "d", "", "postgres DSN (empty: in-memory storage)")
	fs.StringVarP(&options.Config, "config", "c", "config.json", "path to config file")
	fs.StringVar(&options.LogLevel, "log-level", "info", "log level")
	fs.StringVar(&options.JWTSecret, "jwt-secret", "", "secret for signing session tokens")
	fs.DurationVar(&ttl, "token-ttl", 24*time.Hour, "session token lifetime")
	fs.DurationVar(&cleanup, "cleanup-interval", time.Hour, "revocation cleanup interval")
	fs.StringVar(&options.TLSCert, "tls-cert", "", "server TLS certificate (PEM)")
	fs.StringVar(&options.TLSKey, "tls-key", "", "server TLS key (PEM)")
	fs.StringVar(&options.FederatedIssuer, "federated-issuer", "", "expected iss of federated ID tokens")
	fs.StringVar(&options.FederatedAudience, "federated-audience", "", "expected aud of federated ID tokens")
	fs.StringVar(&options.FederatedKeyFile, "federated-key-file", "", "PEM public key of the federated identity provider")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	options.TokenTTL = Duration(ttl)
	options.CleanupInterval = Duration(cleanup)

	if configPath := os.Getenv("CONFIG"); configPath != "" {
		options.Config = configPath
	}

	if options.Config != "" {
		if _, err := os.Stat(options.Config); err == nil {
			data, err := os.ReadFile(options.Config)
			if err != nil {
				return nil, fmt.Errorf("read config file: %w", err)
			}
			fromFile := *options
			if err := json.Unmarshal(jsonc.ToJSON(data), &fromFile); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}
			// flags set explicitly win over the file
			fs.Visit(func(f *pflag.Flag) {
				restoreFlag(&fromFile, options, f.Name)
			})
			*options = fromFile
		}
	}

	if v := os.Getenv("SERVER_ADDRESS"); v != "" {
		options.Port = v
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		options.DatabaseDSN = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		options.JWTSecret = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		options.LogLevel = v
	}

	if options.JWTSecret == "" {
		return nil, fmt.Errorf("jwt secret is required (--jwt-secret or JWT_SECRET)")
	}
	if (options.TLSCert == "") != (options.TLSKey == "") {
		return nil, fmt.Errorf("tls-cert and tls-key must be set together")
	}
	return options, nil
}

func restoreFlag(dst, src *Options, name string) {
	switch name {
	case "address":
		dst.Port = src.Port
	case "database-dsn":
		dst.DatabaseDSN = src.DatabaseDSN
	case "log-level":
		dst.LogLevel = src.LogLevel
	case "jwt-secret":
		dst.JWTSecret = src.JWTSecret
	case "token-ttl":
		dst.TokenTTL = src.TokenTTL
	case "cleanup-interval":
		dst.CleanupInterval = src.CleanupInterval
	case "tls-cert":
		dst.TLSCert = src.TLSCert
	case "tls-key":
		dst.TLSKey = src.TLSKey
	case "federated-issuer":
		dst.FederatedIssuer = src.FederatedIssuer
	case "federated-audience":
		dst.FederatedAudience = src.FederatedAudience
	case "federated-key-file":
		dst.FederatedKeyFile = src.FederatedKeyFile
	}
}
