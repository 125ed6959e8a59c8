package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/pressly/goose/v3"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/time/rate"

	"Smart-Music-Tags/pkg/config"
	"Smart-Music-Tags/pkg/db"
	"Smart-Music-Tags/pkg/handlers"
	"Smart-Music-Tags/pkg/library"
	"Smart-Music-Tags/pkg/logging"
	"Smart-Music-Tags/pkg/metrics"
	"Smart-Music-Tags/pkg/secret"
	"Smart-Music-Tags/pkg/spotify"
	"Smart-Music-Tags/pkg/tags"
)

var _ handlers.OAuth = (*spotifyauth.Authenticator)(nil)

// environment is what every subcommand opens before doing its work.
type environment struct {
	cfg      *config.Config
	log      *logrus.Logger
	store    *db.DB
	logClose io.Closer
}

func (e *environment) Close() {
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			e.log.WithError(err).Warn("close database")
		}
	}
	_ = e.logClose.Close()
}

// open loads the configuration named by --config, builds the logger and
// opens the database, applying pending migrations.
func open(cmd *cli.Command, validate bool) (*environment, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, err
	}
	if validate {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration:\n%w", err)
		}
	}
	logger, closer, err := logging.New(logging.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.LogFormat(),
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		return nil, err
	}
	env := &environment{cfg: cfg, log: logger, logClose: closer}

	codec, err := secret.NewCodec(cfg.Security.CryptSecret, cfg.Security.CryptSalt)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.store, err = db.New(db.Config{Path: cfg.Database.Path, Codec: codec, Logger: logger})
	if err != nil {
		env.Close()
		return nil, err
	}
	return env, nil
}

// newApplication wires the catalog gateway, the tag maintainer and the
// listening list behind the HTTP handlers. client carries every Spotify
// request.
func newApplication(cfg *config.Config, store *db.DB, logger *logrus.Logger, m *metrics.Metrics, client *http.Client) (*handlers.Application, error) {
	gateway, err := spotify.NewGateway(spotify.Config{
		ClientID:     cfg.Spotify.ClientID,
		ClientSecret: cfg.Spotify.ClientSecret,
		HTTPClient:   client,
		Store:        store,
		Limiter:      rate.NewLimiter(rate.Limit(cfg.Spotify.RequestsPerSecond), cfg.Spotify.Burst),
		Metrics:      m,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}
	auth := spotifyauth.New(
		spotifyauth.WithRedirectURL(cfg.Spotify.RedirectURL),
		spotifyauth.WithScopes(spotifyauth.ScopeUserLibraryRead, spotifyauth.ScopeUserLibraryModify),
		spotifyauth.WithClientID(cfg.Spotify.ClientID),
		spotifyauth.WithClientSecret(cfg.Spotify.ClientSecret),
	)

	return &handlers.Application{
		Catalog:     gateway,
		Tags:        tags.New(store, m, logger),
		Library:     library.New(store, logger),
		Users:       store,
		Auth:        auth,
		SignKey:     []byte(cfg.Security.SigningKey),
		Metrics:     m,
		Logger:      logger,
		CORSOrigins: cfg.Server.CORSOrigins,
		Ping:        store.PingContext,
	}, nil
}

func newMetrics() *metrics.Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return metrics.New(reg)
}

// serve runs the HTTP server until SIGINT or SIGTERM, then drains in-flight
// requests for the configured grace period.
func serve(ctx context.Context, cmd *cli.Command) error {
	env, err := open(cmd, true)
	if err != nil {
		return err
	}
	defer env.Close()

	app, err := newApplication(env.cfg, env.store, env.log, newMetrics(), &http.Client{Timeout: env.cfg.SpotifyTimeout()})
	if err != nil {
		return err
	}
	if !env.cfg.IsProduction() {
		env.log.Warn("running in development mode")
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:    env.cfg.Server.Addr,
		Handler: app.Routes(),
	}
	errCh := make(chan error, 1)
	go func() {
		env.log.WithField("addr", srv.Addr).Info("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	env.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), env.cfg.ShutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// migrateDatabase opens the database, which applies pending migrations, and
// reports the resulting schema version.
func migrateDatabase(ctx context.Context, cmd *cli.Command) error {
	env, err := open(cmd, false)
	if err != nil {
		return err
	}
	defer env.Close()

	version, err := goose.GetDBVersionContext(ctx, env.store.DB)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	env.log.WithField("version", version).Info("database is up to date")
	return nil
}

// collectGarbage removes rows left behind by interrupted detaches.
func collectGarbage(ctx context.Context, cmd *cli.Command) error {
	env, err := open(cmd, false)
	if err != nil {
		return err
	}
	defer env.Close()

	c, err := tags.New(env.store, metrics.NewNop(), env.log).Sweep(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.Root().Writer, "removed %d album tags, %d albums, %d tags\n", c.AlbumTags, c.Albums, c.Tags)
	return nil
}

func writeConfig(ctx context.Context, cmd *cli.Command) error {
	path := cmd.String("output")
	if err := config.WriteExample(path); err != nil {
		return err
	}
	fmt.Fprintf(cmd.Root().Writer, "wrote %s\n", path)
	return nil
}
