package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"doorgate/internal/allowlist"
	"doorgate/internal/audit"
	"doorgate/internal/auth"
	"doorgate/internal/calls"
	"doorgate/internal/config"
	"doorgate/internal/gate"
	"doorgate/internal/gpio"
	"doorgate/internal/httpapi"
	"doorgate/internal/match"
	"doorgate/internal/sip"
	"doorgate/pkg/logger"
	"doorgate/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env, cfg.App.LogLevel)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	// Optional Postgres: call history and audit trail.
	var db *sql.DB
	if cfg.Store.Driver == config.DriverPostgres {
		db, err = utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
		if err != nil {
			log.Error("postgres init failed", "err", err)
			os.Exit(1)
		}
		defer db.Close()
	}

	// Optional Redis: allowlist cache and the shared call cap.
	var rdb *redis.Client
	if cfg.Cache.Driver == config.DriverRedis {
		rdb, err = utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
	}

	var callRepo calls.Repository
	var auditRepo audit.Repository
	var auditReader audit.Reader
	if db != nil {
		pg := calls.NewPostgresRepo(db)
		apg := audit.NewPostgresRepo(db)
		callRepo, auditRepo, auditReader = pg, apg, apg
	} else {
		mem := calls.NewMemoryRepo(0)
		amem := audit.NewMemoryRepo(0)
		callRepo, auditRepo, auditReader = mem, amem, amem
	}
	auditSvc := audit.NewService(auditRepo)

	// Relay.
	driver := gpio.NewDriver(cfg.GPIO.Mode, cfg.GPIO.Pin, log)
	pulser := gpio.NewPulser(driver, cfg.GPIO.ActiveDuration, log)

	// Allowlist: fetch, cache, background refresh.
	matcher := match.New()
	var store allowlist.Store
	switch cfg.Cache.Driver {
	case config.DriverRedis:
		store = &allowlist.RedisStore{Client: rdb}
	case config.DriverFile:
		store = &allowlist.FileStore{Path: cfg.Cache.FilePath}
	}
	fetcher := &allowlist.Fetcher{
		URL:        cfg.Allowlist.URL,
		AuthToken:  cfg.Allowlist.AuthToken,
		AuthHeader: cfg.Allowlist.AuthHeader,
		Method:     cfg.Allowlist.HTTPMethod,
		DataKey:    cfg.Allowlist.DataKey,
		Log:        log,
	}
	allowSvc := allowlist.NewService(fetcher, store, cfg.Allowlist.RefreshInterval, cfg.Cache.UseOnFailure, log)
	allowSvc.OnUpdate = func(numbers []string) {
		n := matcher.Load(numbers)
		_ = auditSvc.LogAllowlistRefresh(rootCtx, n, false, "allowlist updated")
	}
	if !allowSvc.Start(rootCtx) {
		// No patterns from the API or the cache: the gate denies everyone
		// until a refresh succeeds. Keep running; the trunk side still works.
		log.Warn("starting with an empty allowlist")
	}

	gateSvc := gate.NewService(gate.NewEngine(matcher), pulser, callRepo, auditSvc, log)

	// SIP agent. The shared redis cap is used when redis is present.
	var limiter sip.CallLimiter
	if rdb != nil {
		limiter = sip.NewRedisLimiter(rdb, "", cfg.SIP.MaxCalls)
	} else {
		limiter = sip.NewLocalLimiter(cfg.SIP.MaxCalls)
	}
	agent := sip.NewAgent(sip.Config{
		Server:         cfg.SIP.Server,
		Port:           cfg.SIP.Port,
		Username:       cfg.SIP.Username,
		Password:       cfg.SIP.Password,
		Mode:           cfg.SIP.Mode,
		AnswerDelay:    cfg.SIP.AnswerDelay,
		HangupDelay:    cfg.SIP.HangupDelay,
		RegisterExpiry: cfg.SIP.RegisterExpiry,
	}, limiter, func(ctx context.Context, ev sip.CallEvent) {
		gateSvc.HandleCall(ctx, ev)
	}, log)
	if err := agent.Start(rootCtx); err != nil {
		log.Error("sip agent start failed", "err", err)
		os.Exit(1)
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	h := httpapi.Handlers{
		Cfg:       &cfg,
		Auth:      authManager,
		Allowlist: allowSvc,
		Agent:     agent,
		Gate:      gateSvc,
		Calls:     callRepo,
		AuditLog:  auditReader,
		Pulser:    pulser,
		StartedAt: time.Now(),
	}
	registerRoutes(r, h, authManager)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("control api listening", "addr", srv.Addr, "env", cfg.App.Env, "sip_mode", cfg.SIP.Mode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	// Order matters: stop accepting API traffic, then calls, then the
	// refresher, and drop the relay pin last so no pulse is cut short.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	agent.Stop()
	allowSvc.Stop()
	if err := pulser.Close(); err != nil {
		log.Error("gpio shutdown failed", "err", err)
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}
