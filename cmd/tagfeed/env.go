package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/robertmeta/tagfeed/account"
	"github.com/robertmeta/tagfeed/apperror"
	"github.com/robertmeta/tagfeed/config"
	"github.com/robertmeta/tagfeed/feed"
	"github.com/robertmeta/tagfeed/gateway"
	"github.com/robertmeta/tagfeed/gateway/postgres"
	"github.com/robertmeta/tagfeed/gateway/supabase"
	"github.com/robertmeta/tagfeed/prefs"
	"github.com/robertmeta/tagfeed/session"
	"github.com/robertmeta/tagfeed/store"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

const (
	ExitSuccess      = 0
	ExitGeneralError = 1
	ExitUsageError   = 2
	ExitDataError    = 3
	ExitSignedOut    = 4
)

// env is everything a command needs, built once per invocation.
type env struct {
	cfg      *config.Config
	logger   *zap.Logger
	stdout   io.Writer
	stderr   io.Writer
	local    *store.Store
	gw       gateway.Gateway
	metrics  *gateway.Metrics
	sessions *session.Resolver
	pg       *postgres.Gateway
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return cfg.Build()
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	return config.Load(c.String("config"), func(cfg *config.Config) {
		if c.IsSet("backend") {
			cfg.Backend = c.String("backend")
		}
		if c.IsSet("db") {
			cfg.DBPath = c.String("db")
		}
		if c.IsSet("metrics-file") {
			cfg.MetricsFile = c.String("metrics-file")
		}
	})
}

func openEnv(c *cli.Context, stdout, stderr io.Writer) (*env, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, cli.Exit(err.Error(), ExitUsageError)
	}

	logger, err := newLogger(c.Bool("verbose"))
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	e := &env{cfg: cfg, logger: logger, stdout: stdout, stderr: stderr}

	// The session cache is always the local database, whatever the backend.
	if cfg.DBPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
			return nil, cli.Exit(fmt.Sprintf("failed to create database directory: %v", err), ExitDataError)
		}
	}
	e.local, err = store.New(cfg.DBPath)
	if err != nil {
		return nil, cli.Exit(fmt.Sprintf("failed to open database: %v", err), ExitDataError)
	}
	e.sessions = session.NewResolver(e.local, logger.Named("session"))

	if err := e.openBackend(c.Context); err != nil {
		e.close()
		return nil, cli.Exit(err.Error(), ExitDataError)
	}
	return e, nil
}

func (e *env) openBackend(ctx context.Context) error {
	var remote gateway.Gateway
	switch e.cfg.Backend {
	case config.BackendLocal:
		e.gw = e.local
	case config.BackendSupabase:
		gw, err := supabase.New(e.cfg.Supabase.URL, e.cfg.Supabase.AnonKey)
		if err != nil {
			return err
		}
		remote = gw
	case config.BackendPostgres:
		gw, err := postgres.Connect(ctx, e.cfg.DatabaseURL)
		if err != nil {
			return err
		}
		e.pg = gw
		remote = gw
	default:
		return fmt.Errorf("unknown backend %q", e.cfg.Backend)
	}

	if remote != nil {
		e.gw = remote
		if e.cfg.Breaker.Enabled {
			bc := gateway.DefaultBreakerConfig()
			bc.Name = e.cfg.Backend
			bc.Timeout = e.cfg.Breaker.Timeout
			bc.MinRequests = e.cfg.Breaker.MinRequests
			bc.FailureThreshold = e.cfg.Breaker.FailureRatio
			e.gw = gateway.WithBreaker(e.gw, bc, e.logger.Named("breaker"))
		}
	}

	if e.cfg.MetricsFile != "" {
		e.metrics = gateway.NewMetrics()
		e.gw = gateway.WithMetrics(e.gw, e.metrics)
	}
	e.logger.Debug("backend ready", zap.String("backend", e.cfg.Backend))
	return nil
}

func (e *env) close() {
	if e.metrics != nil {
		if err := e.metrics.WriteTextfile(e.cfg.MetricsFile); err != nil {
			e.logger.Warn("writing metrics failed", zap.String("file", e.cfg.MetricsFile), zap.Error(err))
		}
	}
	if e.pg != nil {
		e.pg.Close()
	}
	if e.local != nil {
		e.local.Close()
	}
	_ = e.logger.Sync()
}

func (e *env) assembler() *feed.Assembler {
	return feed.NewAssembler(e.gw)
}

func (e *env) prefs() *prefs.Store {
	return prefs.New(e.gw, e.sessions, e.assembler(), e.logger.Named("prefs"))
}

func (e *env) account() *account.Manager {
	return account.NewManager(e.sessions, e.gw, e.logger.Named("account"))
}

// exitCode maps workflow errors onto the CLI's exit codes.
func exitCode(err error) int {
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, apperror.ErrSignedOut):
		return ExitSignedOut
	case errors.Is(err, apperror.ErrValidation):
		return ExitUsageError
	default:
		return ExitDataError
	}
}

// run wraps a command body with env setup, teardown and error mapping.
func run(stdout, stderr io.Writer, fn func(c *cli.Context, e *env) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		e, err := openEnv(c, stdout, stderr)
		if err != nil {
			return err
		}
		defer e.close()

		err = fn(c, e)
		if err == nil {
			return nil
		}
		var exit cli.ExitCoder
		if errors.As(err, &exit) {
			return err
		}
		if errors.Is(err, context.Canceled) {
			return cli.Exit("interrupted", ExitGeneralError)
		}
		if errors.Is(err, apperror.ErrUnavailable) {
			e.logger.Warn("backend unavailable", zap.Error(err))
		}
		return cli.Exit(err.Error(), exitCode(err))
	}
}

func since(c *cli.Context) (*time.Time, error) {
	t, err := gateway.SinceTime(c.String("since"), time.Now())
	if err != nil {
		return nil, cli.Exit(fmt.Sprintf("Invalid --since: %v", err), ExitUsageError)
	}
	return t, nil
}
