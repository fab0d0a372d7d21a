// Package main is the interactive shopping list client.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/atinyakov/shoplist/internal/client/remote"
	"github.com/atinyakov/shoplist/internal/client/shell"
	"github.com/atinyakov/shoplist/internal/logger"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	version   string
	buildDate string
)

type clientOptions struct {
	server      string
	caFile      string
	sessionFile string
	logLevel    string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &clientOptions{}
	root := &cobra.Command{
		Use:          "shoplist",
		Short:        "Keep your shopping list in sync",
		Version:      fmt.Sprintf("%s (built %s)", orNA(version), orNA(buildDate)),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runShell(cmd.Context(), opts)
		},
	}
	root.PersistentFlags().StringVar(&opts.server, "server", "http://localhost:8080", "server base URL")
	root.PersistentFlags().StringVar(&opts.caFile, "ca", "", "CA certificate to trust for https servers")
	root.PersistentFlags().StringVar(&opts.sessionFile, "session-file", defaultSessionFile(), "where the session is stored between runs")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level; empty disables logging")

	root.AddCommand(&cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			auth, _, err := setup(opts, loggerFor(opts.logLevel))
			if err != nil {
				return err
			}
			if err := auth.SignOut(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
			return nil
		},
	})
	return root
}

func runShell(ctx context.Context, opts *clientOptions) error {
	log := loggerFor(opts.logLevel)
	auth, docs, err := setup(opts, log)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sh := shell.New(auth, docs, os.Stdin, os.Stdout, shell.WithLogger(log))
	return sh.Run(ctx)
}

func setup(opts *clientOptions, log *zap.Logger) (*remote.Auth, *remote.DocumentClient, error) {
	client, err := remote.NewHTTPClient(opts.caFile)
	if err != nil {
		return nil, nil, err
	}
	tlsConfig, err := remote.TLSConfig(opts.caFile)
	if err != nil {
		return nil, nil, err
	}
	dialer := &websocket.Dialer{
		Proxy:            websocket.DefaultDialer.Proxy,
		HandshakeTimeout: websocket.DefaultDialer.HandshakeTimeout,
		TLSClientConfig:  tlsConfig,
	}

	auth := remote.NewAuth(opts.server, client,
		remote.WithSessionFile(opts.sessionFile),
		remote.WithAuthLogger(log),
	)
	if err := auth.Restore(); err != nil {
		log.Warn("ignoring stored session", zap.Error(err))
	}
	docs := remote.NewDocumentClient(opts.server, client, dialer, auth, log)
	return auth, docs, nil
}

// loggerFor returns a logger at level, or a no-op logger so log lines do not
// interleave with the shell.
func loggerFor(level string) *zap.Logger {
	l := logger.New()
	if level == "" {
		return l.Log
	}
	if err := l.Init(level); err != nil {
		fmt.Fprintln(os.Stderr, "invalid log level:", err)
	}
	return l.Log
}

func defaultSessionFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "shoplist-session.json"
	}
	return filepath.Join(dir, "shoplist", "session.json")
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
