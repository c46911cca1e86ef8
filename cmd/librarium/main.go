package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"librarium/internal/auth"
	"librarium/internal/catalog"
	"librarium/internal/config"
	"librarium/internal/membership"
	"librarium/internal/server"
	"librarium/internal/store"
	"librarium/internal/telemetry"
	"librarium/pkg/eventstore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	if len(os.Args) > 1 {
		var err error
		switch os.Args[1] {
		case "token":
			err = issueToken(cfg, os.Args[2:])
		case "migrate":
			err = runMigrate(context.Background(), cfg, os.Args[2:], logger)
		default:
			err = fmt.Errorf("unknown command %q", os.Args[1])
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		return
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("configuration loaded", "config", cfg.String())

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry.OTLPEndpoint, cfg.Telemetry.ServiceName, logger)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("flush traces", "error", err)
		}
	}()

	db, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.URL, store.Options{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxOpenConns,
		ConnMaxLifetime: 30 * time.Minute,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Warn("close db", "error", err)
		}
	}()

	es := eventstore.NewEventStore(db.DB)

	var membershipOpts []membership.Option
	if n := cfg.Limits.RegistrationsPerMinute; n > 0 {
		membershipOpts = append(membershipOpts,
			membership.WithRegistrationLimiter(rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), n)))
	}

	authn := auth.NewAuthenticator(cfg.Auth.JWTSecret, logger)
	if !authn.Enabled() {
		logger.Warn("AUTH_JWT_SECRET is empty; mutating routes are unauthenticated")
	}

	srv := &http.Server{
		Addr: ":" + cfg.HTTP.Port,
		Handler: server.NewRouter(server.Deps{
			Catalog:    catalog.NewService(db, es, logger),
			Membership: membership.NewService(db, es, logger, membershipOpts...),
			Events:     es,
			Auth:       authn,
			DB:         db,
			Logger:     logger,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// issueToken prints a signed bearer token for manual testing:
//
//	librarium token -name alice -kind librarian -ttl 24h
func issueToken(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	name := fs.String("name", "", "caller name")
	kind := fs.String("kind", auth.KindLibrarian, "caller kind (librarian or borrower)")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime, 0 for none")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" {
		return errors.New("token: -name is required")
	}

	tok, err := auth.IssueToken(cfg.Auth.JWTSecret, *name, *kind, *ttl)
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}
