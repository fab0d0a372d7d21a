// Package main initializes and starts the shopping list server, setting up
// configuration, logging, storage, services, handlers and optional TLS.
package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	nethttp "net/http"

	"github.com/atinyakov/shoplist/internal/config"
	"github.com/atinyakov/shoplist/internal/db"
	"github.com/atinyakov/shoplist/internal/docstore"
	"github.com/atinyakov/shoplist/internal/logger"
	"github.com/atinyakov/shoplist/internal/repository"
	"github.com/atinyakov/shoplist/internal/server/handler/http"
	"github.com/atinyakov/shoplist/internal/service"
	"go.uber.org/zap"
)

var (
	// version holds the build version set via ldflags.
	version string
	// buildDate holds the build timestamp set via ldflags.
	buildDate string
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Parse command-line, config file and environment configuration.
	options, err := config.Parse()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}

	// Print build metadata (or "N/A" if unset).
	fmt.Printf("Build version: %s\n", cmp.Or(version, "N/A"))
	fmt.Printf("Build date: %s\n", cmp.Or(buildDate, "N/A"))

	// Initialize structured logging.
	log := logger.New()
	defer func() { _ = log.Log.Sync() }()
	if err := log.Init(options.LogLevel); err != nil {
		fmt.Fprintln(os.Stderr, "failed to init logger:", err)
		os.Exit(2)
	}
	zapLogger := log.Log

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	authRepo, documents, err := initStorage(ctx, options, zapLogger)
	if err != nil {
		zapLogger.Fatal("cannot init storage", zap.Error(err))
	}

	// Initialize business-logic services.
	authOpts := []service.AuthOption{service.WithAuthLogger(zapLogger)}
	if options.FederatedKeyFile != "" {
		verifier, err := service.LoadFederatedVerifier(options.FederatedKeyFile, options.FederatedIssuer, options.FederatedAudience)
		if err != nil {
			zapLogger.Fatal("cannot load federated identity provider key", zap.Error(err))
		}
		authOpts = append(authOpts, service.WithFederatedVerifier(verifier))
		zapLogger.Info("federated sign-in enabled", zap.String("issuer", options.FederatedIssuer))
	}
	tokens := service.NewTokenIssuer(options.JWTSecret, time.Duration(options.TokenTTL))
	authService := service.NewAuthService(authRepo, tokens, authOpts...)

	// Create HTTP handlers and build the router.
	authHandler := &http.AuthHandler{AuthService: authService}
	docHandler := http.NewDocumentHandler(documents, zapLogger)
	router := http.NewRouter(authHandler, docHandler, authService, zapLogger)

	server := &nethttp.Server{
		Addr:              options.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			zapLogger.Warn("shutdown", zap.Error(err))
		}
	}()

	if options.TLSCert != "" {
		zapLogger.Info("starting HTTPS server", zap.String("addr", options.Port))
		err = server.ListenAndServeTLS(options.TLSCert, options.TLSKey)
	} else {
		zapLogger.Info("starting HTTP server", zap.String("addr", options.Port))
		err = server.ListenAndServe()
	}
	if err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
		zapLogger.Fatal("server failed", zap.Error(err))
	}
	zapLogger.Info("server stopped")
}

// initStorage wires Postgres storage and its change feed, or in-memory
// storage when no DSN is configured.
func initStorage(ctx context.Context, options *config.Options, log *zap.Logger) (service.AuthRepository, http.DocumentStore, error) {
	if options.DatabaseDSN == "" {
		log.Warn("no database configured, using in-memory storage")
		return repository.NewMemoryAuthRepository(), docstore.NewMemory(), nil
	}

	postgresDB, err := db.InitPostgres(options.DatabaseDSN)
	if err != nil {
		return nil, nil, err
	}
	db.StartRevocationCleaner(ctx, postgresDB, time.Duration(options.CleanupInterval), log)

	feed := repository.NewChangeFeed(repository.NewPQListener(options.DatabaseDSN, log), log)
	go func() {
		if err := feed.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("change feed stopped", zap.Error(err))
		}
	}()

	documents := service.NewDocumentService(repository.NewPostgresDocumentRepository(postgresDB), feed, log)
	return repository.NewPostgresAuthRepository(postgresDB), documents, nil
}
