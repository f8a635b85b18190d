// Package cli implements the membercycle command line.
package cli

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"membercycle/internal/auth"
	"membercycle/internal/catalog"
	"membercycle/internal/config"
	"membercycle/internal/docstore"
	"membercycle/internal/jobs"
	"membercycle/internal/lifecycle"
	"membercycle/internal/logging"
	"membercycle/internal/runlock"
	"membercycle/internal/telemetry"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "membercycle",
	Short:         "Member lifecycle engine",
	Long:          `membercycle suspends inactive members, expires balances, promotes VIPs, ranks borrowers and sends client renewal notices.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a TOML config file")
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// app holds the process-wide dependencies of one command.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	db       *sql.DB
	store    *docstore.SQLStore
	redis    *redis.Client
	shutdown func(context.Context) error
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logging.Setup(cfg.Log.Level)}

	a.shutdown, err = telemetry.Setup(ctx, "membercycle", cfg.Telemetry.Endpoint)
	if err != nil {
		return nil, err
	}

	dialect := docstore.Dialect(cfg.Store.Driver)
	a.db, err = docstore.Open(dialect, cfg.Store.DSN)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	a.store = docstore.New(a.db, dialect, docstore.Options{
		MaxBatchSize: cfg.Store.MaxBatchSize,
		Indexes:      catalog.Indexes(),
	})

	if cfg.Redis.Addr != "" {
		a.redis, err = runlock.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password)
		if err != nil {
			a.Close(ctx)
			return nil, err
		}
	}
	return a, nil
}

func (a *app) Close(ctx context.Context) {
	if a.redis != nil {
		a.redis.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
	if a.shutdown != nil {
		if err := a.shutdown(ctx); err != nil {
			a.logger.Warn("telemetry shutdown failed", "error", err)
		}
	}
}

func (a *app) jobs() (jobs.Service, error) {
	applicator, err := lifecycle.NewApplicator(a.cfg.LifecycleRules(), a.cfg.BalanceTypes)
	if err != nil {
		return nil, fmt.Errorf("build applicator: %w", err)
	}
	var locker runlock.Locker = runlock.Noop{}
	if a.redis != nil {
		locker = runlock.NewRedisLocker(a.redis, a.cfg.Redis.LockTTL)
	}
	return jobs.NewService(a.store, applicator, jobs.Options{
		Logger:      a.logger,
		Locker:      locker,
		PageSize:    a.cfg.Store.PageSize,
		ManualRate:  rate.Limit(a.cfg.HTTP.ManualRate),
		ManualBurst: a.cfg.HTTP.ManualBurst,
	}), nil
}

func (a *app) authChain() *auth.Chain {
	var authenticators []auth.Authenticator
	if a.cfg.Auth.JWTSecret != "" {
		authenticators = append(authenticators, auth.NewTokenAuthenticator(a.cfg.Auth.JWTSecret, a.cfg.Auth.Issuer))
	}
	authenticators = append(authenticators, auth.NewKeyAuthenticator(a.store))
	return auth.NewChain(authenticators...)
}

func (a *app) schedule() jobs.Schedule {
	s := a.cfg.Schedule
	return jobs.Schedule{
		Expiry:     s.Expiry,
		Suspension: s.Suspension,
		Promotion:  s.Promotion,
		Scoring:    s.Scoring,
		Renewal:    s.Renewal,
		Pipeline:   s.Pipeline,
	}
}
