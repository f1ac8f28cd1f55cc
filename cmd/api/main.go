package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"callscript/internal/audit"
	"callscript/internal/auth"
	"callscript/internal/callflow"
	"callscript/internal/calls"
	"callscript/internal/config"
	"callscript/internal/observability"
	"callscript/internal/rbac"
	"callscript/internal/reporting"
	"callscript/internal/routing"
	"callscript/internal/scripts"
	"callscript/internal/telephony"
	"callscript/pkg/logger"
	"callscript/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Outbound slots outlive any call we expect; they only matter if the process
// dies without releasing.
const outboundSlotTTL = 4 * time.Hour

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}
	for _, op := range cfg.Auth.Operators {
		if !rbac.Known(op.Role) {
			log.Error("operator has unknown role", "user", op.User, "role", op.Role)
			os.Exit(1)
		}
	}

	// Call records and audit: Postgres when configured, memory otherwise.
	var records calls.Repository = calls.NewMemoryRepo()
	var auditRepo audit.Repository = audit.NewMemoryRepo()
	var db *sql.DB
	if cfg.DB.Enabled() {
		db, err = utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
		if err != nil {
			log.Error("postgres init failed", "err", err)
			os.Exit(1)
		}
		defer db.Close()
		schemas := []struct {
			component string
			migs      []utils.Migration
		}{{"calls", calls.Migrations}, {"audit", audit.Migrations}}
		for _, sc := range schemas {
			n, err := utils.Migrate(rootCtx, db, sc.component, sc.migs)
			if err != nil {
				log.Error("postgres migration failed", "component", sc.component, "err", err)
				os.Exit(1)
			}
			if n > 0 {
				log.Info("postgres migrations applied", "component", sc.component, "count", n)
			}
		}
		records = calls.NewPostgresRepo(db)
		auditRepo = audit.NewPostgresRepo(db)
	} else {
		log.Warn("DB_HOST not set, call records and audit events are kept in memory")
	}

	var limiter callflow.Limiter
	if cfg.Engine.OutboundConcurrencyLimit > 0 {
		rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{
			Addr:     cfg.RedisAddr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
		slots, err := utils.NewSlots(rdb, "callscript:outbound:", cfg.Engine.OutboundConcurrencyLimit, outboundSlotTTL)
		if err != nil {
			log.Error("concurrency cap init failed", "err", err)
			os.Exit(1)
		}
		limiter = slots
	}

	twilio, err := telephony.NewTwilioClient(telephony.TwilioClientConfig{
		AccountSID: cfg.Twilio.AccountSID,
		AuthToken:  cfg.Twilio.AuthToken,
		BaseURL:    cfg.Twilio.APIBaseURL,
	})
	if err != nil {
		log.Error("twilio client init failed", "err", err)
		os.Exit(1)
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := observability.NewMetrics(promRegistry)
	if err != nil {
		log.Error("metrics init failed", "err", err)
		os.Exit(1)
	}

	auditSvc := audit.NewService(auditRepo)
	scriptRegistry := scripts.NewRegistry()

	table, err := loadRouteTable(cfg.Routing.InboundRoutesFile, scriptRegistry)
	if err != nil {
		log.Error("route table load failed", "err", err)
		os.Exit(1)
	}
	overrides := routing.NewMemoryOverrideStore()
	router := routing.NewRoutingEngine(table, nil)
	router.Overrides = routing.NewOverrideEngine(overrides, routing.AuditAdapter{Audit: auditSvc})

	// Scripts outlive individual requests; they stop when this is canceled.
	engineCtx, cancelEngine := context.WithCancel(context.Background())
	defer cancelEngine()

	engine, err := callflow.NewEngine(engineCtx, callflow.Options{
		BaseURL:        cfg.App.PublicBaseURL,
		Creator:        twilio,
		Inbound:        routing.NewInboundResolver(router, scriptRegistry, log.With("component", "routing")),
		Limiter:        limiter,
		Recorder:       calls.NewService(records, log.With("component", "calls")),
		Observer:       metrics,
		Logger:         log.With("component", "callflow"),
		WebhookTimeout: cfg.Engine.WebhookTimeout,
		ScriptGrace:    cfg.Engine.ScriptGrace,
	})
	if err != nil {
		log.Error("call engine init failed", "err", err)
		os.Exit(1)
	}

	go reloadRoutesOnHangup(rootCtx, log, cfg.Routing.InboundRoutesFile, router, scriptRegistry)

	deps := routeDeps{
		cfg:       cfg,
		db:        db,
		auth:      authManager,
		operators: auth.NewOperators(cfg.Auth.Operators),
		engine:    engine,
		scripts:   scriptRegistry,
		records:   calls.NewService(records, log),
		overrides: overrides,
		audit:     auditSvc,
		reports:   reporting.NewService(records),
		metrics:   promRegistry,
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	registerRoutes(r, deps)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Must exceed the webhook timeout; callbacks wait on scripts.
		WriteTimeout: cfg.Engine.WebhookTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "public_base_url", cfg.App.PublicBaseURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated", "live_sessions", engine.Registry().Len())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	cancelEngine()
	if err := engine.Shutdown(shutdownCtx); err != nil {
		log.Error("scripts did not stop in time", "err", err)
	}
}

// loadRouteTable reads the inbound table and checks every script it names
// is registered. No file means every inbound call is rejected.
func loadRouteTable(path string, reg *scripts.Registry) (routing.Table, error) {
	if path == "" {
		return routing.Table{}, nil
	}
	t, err := routing.LoadTable(path)
	if err != nil {
		return routing.Table{}, err
	}
	for _, name := range t.ScriptNames() {
		if _, ok := reg.Lookup(name); !ok {
			return routing.Table{}, fmt.Errorf("route table names unknown script %q", name)
		}
	}
	return t, nil
}

func reloadRoutesOnHangup(ctx context.Context, log *slog.Logger, path string, router *routing.RoutingEngine, reg *scripts.Registry) {
	if path == "" {
		return
	}
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			t, err := loadRouteTable(path, reg)
			if err != nil {
				log.Error("route table reload failed, keeping previous table", "err", err)
				continue
			}
			router.SetTable(t)
			log.Info("route table reloaded", "routes", len(t.Routes))
		}
	}
}
