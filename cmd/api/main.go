package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"harborvisa.org/internal/access"
	"harborvisa.org/internal/audit"
	"harborvisa.org/internal/auth"
	"harborvisa.org/internal/config"
	"harborvisa.org/internal/httpapi"
	"harborvisa.org/internal/obs"
	"harborvisa.org/internal/store/pg"
	"harborvisa.org/internal/store/redisstore"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	if err := run(); err != nil {
		obs.Logger().Fatal("portal-api exited", zap.Error(err))
	}
}

func run() error {
	cfg, err := config.Load(os.Getenv("PORTAL_CONFIG"))
	if err != nil {
		return err
	}
	if err := obs.ConfigureLogger(cfg.LogLevel); err != nil {
		return fmt.Errorf("configure logger: %w", err)
	}
	log := obs.Logger()
	defer func() { _ = log.Sync() }()

	obs.Init()
	obs.InitBuildInfo(version, commit, cfg.Sessions.Backend)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.close()

	hasher, err := auth.NewHasher(
		auth.WithParams(auth.Params{
			Memory:      cfg.Passwords.MemoryKiB,
			Iterations:  cfg.Passwords.Iterations,
			Parallelism: cfg.Passwords.Parallelism,
		}),
		auth.WithMinLength(cfg.Passwords.MinLength),
		auth.WithMaxConcurrent(cfg.Passwords.MaxConcurrent),
	)
	if err != nil {
		return err
	}

	if deps.memAccounts != nil {
		if err := seedBootstrapAdmin(ctx, deps.memAccounts, hasher, cfg.Bootstrap); err != nil {
			return err
		}
	}

	proxies, err := cfg.HTTP.ProxyPrefixes()
	if err != nil {
		return err
	}

	recorder := audit.NewRecorder(deps.audit,
		audit.WithQueueSize(cfg.Audit.QueueSize),
		audit.WithRetryTimeout(cfg.Audit.RetryTimeout),
	)

	mgr, err := auth.NewManager(deps.accounts, deps.sessions,
		auth.WithHasher(hasher),
		auth.WithAuditor(recorder),
		auth.WithSessionTTL(cfg.Sessions.ShortTTL, cfg.Sessions.LongTTL),
	)
	if err != nil {
		return err
	}
	resolver := access.NewResolver(deps.uploads, deps.cases)

	api := httpapi.New(mgr, resolver, deps.probe, httpapi.Options{
		Version:          version,
		CookieName:       cfg.Sessions.CookieName,
		SecureCookies:    cfg.Production,
		AllowedOrigins:   cfg.HTTP.AllowedOrigins,
		MaxBodyBytes:     cfg.HTTP.MaxBodyBytes,
		RateBurst:        cfg.HTTP.RateBurst,
		RatePerSecond:    cfg.HTTP.RatePerSecond,
		LoginPerMinute:   cfg.HTTP.LoginPerMinute,
		ResolvePerMinute: cfg.HTTP.ResolvePerMinute,
		TrustedProxies:   proxies,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           otelhttp.NewHandler(api.Handler(), "portal-api"),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("portal-api listening",
			zap.String("addr", srv.Addr),
			zap.String("version", version),
			zap.String("session_backend", cfg.Sessions.Backend),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if cfg.Sessions.SweepInterval > 0 {
		g.Go(func() error {
			return mgr.RunSweeper(gctx, cfg.Sessions.SweepInterval)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		if cerr := recorder.Close(shutdownCtx); cerr != nil {
			log.Warn("audit queue not fully drained", zap.Error(cerr))
		}
		return err
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("stopped")
	return nil
}

type stores struct {
	accounts    auth.AccountStore
	memAccounts *auth.MemoryAccounts
	sessions    auth.SessionStore
	uploads     access.UploadStore
	cases       access.CaseStore
	audit       audit.Store
	probe       httpapi.ReadyProbe
	closers     []func() error
}

func (s *stores) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		_ = s.closers[i]()
	}
}

// openStores picks the persistence for each contract. Without a database DSN
// everything lives in process and the only administrator is the bootstrap one.
func openStores(ctx context.Context, cfg config.Config) (*stores, error) {
	s := &stores{probe: httpapi.ReadyProbe{}}

	if cfg.DatabaseDSN != "" {
		db, err := pg.Open(cfg.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		s.closers = append(s.closers, db.Close)
		s.probe["postgres"] = db
		s.accounts = db.Accounts()
		s.sessions = db.Sessions()
		records := db.Access()
		s.uploads, s.cases = records, records
		s.audit = db.Audit()
	} else {
		obs.Logger().Warn("no database configured; accounts, portal records and audit are in memory")
		records := access.NewMemoryStore()
		s.uploads, s.cases = records, records
		s.memAccounts = auth.NewMemoryAccounts()
		s.accounts = s.memAccounts
		s.audit = audit.StoreFunc(func(context.Context, audit.Entry) error { return nil })
	}

	switch cfg.Sessions.Backend {
	case config.BackendMemory:
		s.sessions = auth.NewMemorySessions()
	case config.BackendRedis:
		rs, err := redisstore.New(redisstore.Options{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		})
		if err != nil {
			s.close()
			return nil, err
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := rs.Ping(pingCtx); err != nil {
			_ = rs.Close()
			s.close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		s.closers = append(s.closers, rs.Close)
		s.probe["redis"] = rs
		s.sessions = rs
	}
	return s, nil
}
