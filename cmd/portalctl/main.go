// Command portalctl is the operator tool for the portal identity service.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"harborvisa.org/internal/audit"
	"harborvisa.org/internal/auth"
	"harborvisa.org/internal/config"
	"harborvisa.org/internal/obs"
	"harborvisa.org/internal/store/pg"
)

var (
	configPath string
	dsnFlag    string
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "portalctl",
		Short:         "Operate the portal identity core",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("PORTAL_CONFIG"), "config file path")
	root.PersistentFlags().StringVar(&dsnFlag, "dsn", "", "PostgreSQL DSN (overrides config)")

	root.AddCommand(
		newHashPasswordCmd(),
		newAdminCmd(),
		newSessionsCmd(),
		newTokenCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// env is the wiring shared by commands that touch the database.
type env struct {
	cfg      config.Config
	db       *pg.Store
	hasher   *auth.Hasher
	recorder *audit.Recorder
	manager  *auth.Manager
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil && dsnFlag == "" {
		return config.Config{}, err
	}
	if err != nil {
		cfg = config.Default()
	}
	if dsnFlag != "" {
		cfg.DatabaseDSN = dsnFlag
	}
	if cfg.DatabaseDSN == "" {
		return config.Config{}, fmt.Errorf("a database DSN is required (--dsn or PORTAL_PG_DSN)")
	}
	return cfg, nil
}

func newHasher(cfg config.Config) (*auth.Hasher, error) {
	return auth.NewHasher(
		auth.WithParams(auth.Params{
			Memory:      cfg.Passwords.MemoryKiB,
			Iterations:  cfg.Passwords.Iterations,
			Parallelism: cfg.Passwords.Parallelism,
		}),
		auth.WithMinLength(cfg.Passwords.MinLength),
	)
}

func openEnv(ctx context.Context) (*env, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := obs.ConfigureLogger(cfg.LogLevel); err != nil {
		return nil, err
	}
	db, err := pg.Open(cfg.DatabaseDSN)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	hasher, err := newHasher(cfg)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	recorder := audit.NewRecorder(db.Audit(), audit.WithRetryTimeout(5*time.Second))
	mgr, err := auth.NewManager(db.Accounts(), db.Sessions(),
		auth.WithHasher(hasher),
		auth.WithAuditor(recorder),
		auth.WithSessionTTL(cfg.Sessions.ShortTTL, cfg.Sessions.LongTTL),
	)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &env{cfg: cfg, db: db, hasher: hasher, recorder: recorder, manager: mgr}, nil
}

func (e *env) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.recorder.Close(ctx); err != nil {
		obs.Logger().Warn("audit queue not drained", zap.Error(err))
	}
	_ = e.db.Close()
}

func withEnv(run func(ctx context.Context, cmd *cobra.Command, e *env, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		e, err := openEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()
		return run(ctx, cmd, e, args)
	}
}
