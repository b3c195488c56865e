// Package main is the entry point of the WhatsApp tutoring bot.
//
// The bot receives student messages from the Z-API gateway webhook, runs one
// session turn per message and replies through the same gateway. Payments and
// operators change entitlements through the HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/falaja/tutor-bot/config"
	"github.com/falaja/tutor-bot/internal/application/command"
	"github.com/falaja/tutor-bot/internal/application/query"
	"github.com/falaja/tutor-bot/internal/application/session"
	"github.com/falaja/tutor-bot/internal/domain/curriculum"
	"github.com/falaja/tutor-bot/internal/domain/lesson"
	"github.com/falaja/tutor-bot/internal/domain/shared"
	"github.com/falaja/tutor-bot/internal/domain/student"
	"github.com/falaja/tutor-bot/internal/infrastructure/external/gateway"
	"github.com/falaja/tutor-bot/internal/infrastructure/external/openai"
	"github.com/falaja/tutor-bot/internal/infrastructure/metrics"
	"github.com/falaja/tutor-bot/internal/infrastructure/persistence/redis"
	httpserver "github.com/falaja/tutor-bot/internal/interface/http"
	"github.com/falaja/tutor-bot/internal/interface/http/handlers"
	"github.com/falaja/tutor-bot/pkg/circuitbreaker"
	"github.com/falaja/tutor-bot/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION & LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(logger.Options{
		Output:    os.Stdout,
		Level:     logger.ParseLevel(cfg.Observability.LogLevel),
		Format:    cfg.Observability.LogFormat,
		AddCaller: true,
	})
	defer log.Sync()

	log.Info("starting tutor bot",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version),
	)

	rec := metrics.NewRecorder()
	onBreaker := func(name string, from, to circuitbreaker.State) {
		log.Warn("circuit breaker state changed",
			logger.String("breaker", name),
			logger.String("from", from.String()),
			logger.String("to", to.String()),
		)
		rec.BreakerChanged(name, from, to)
	}

	health := handlers.NewCompositeHealthChecker(cfg.App.Version)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. DURABLE STORE (PostgreSQL, optional)
	// ─────────────────────────────────────────────────────────────────────────
	var (
		durable student.Repository
		db      *durableStore
	)
	if cfg.Database.URL != "" {
		if db, err = openDurable(ctx, cfg.Database, log, onBreaker); err != nil {
			return err
		}
		defer db.Close()

		durable = db.repo
		health.AddCheck("postgres", handlers.NewPingCheck(db.conn))
		log.Info("durable store enabled")
	} else {
		log.Warn("DATABASE_URL not set, sessions are kept in memory only")
	}

	store := session.NewStore(durable, log,
		session.WithStoreTimeout(cfg.Session.StoreTimeout),
		session.WithStoreMetrics(rec),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. DUPLICATE GUARD
	// ─────────────────────────────────────────────────────────────────────────
	var guard session.Guard
	switch cfg.Session.DedupeBackend {
	case config.DedupeRedis:
		opts := redis.DefaultOptions()
		opts.PoolSize = cfg.Redis.PoolSize
		opts.MinIdleConns = cfg.Redis.MinIdleConns
		opts.DialTimeout = cfg.Redis.DialTimeout
		opts.ReadTimeout = cfg.Redis.ReadTimeout
		opts.WriteTimeout = cfg.Redis.WriteTimeout

		client, err := redis.NewClientFromURL(ctx, cfg.Redis.URL, opts)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer func() {
			_ = client.Close()
		}()

		guard = redis.NewDedupeGuard(client, cfg.Session.DedupeTTL, log)
		health.AddCheck("redis", handlers.NewPingCheck(client))
	default:
		guard = session.NewMemoryGuard(cfg.Session.DedupeMaxEntries)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. CURRICULUM & LESSON ENGINE
	// ─────────────────────────────────────────────────────────────────────────
	curr := curriculum.Default()
	if cfg.Session.CurriculumPath != "" {
		data, err := os.ReadFile(cfg.Session.CurriculumPath)
		if err != nil {
			return fmt.Errorf("failed to read curriculum: %w", err)
		}
		if curr, err = curriculum.Parse(data); err != nil {
			return fmt.Errorf("failed to parse curriculum: %w", err)
		}
		log.Info("curriculum loaded", logger.String("path", cfg.Session.CurriculumPath))
	}

	engine := lesson.NewEngine(curr, lesson.WithMinScore(cfg.Session.LessonMinScore))
	paywall := session.NewPaywall(session.PaywallConfig{
		SalesCooldown:   cfg.Paywall.SalesCooldown,
		RenewalCooldown: cfg.Paywall.RenewalCooldown,
		CheckoutURL:     cfg.Paywall.CheckoutURL,
	})

	// ─────────────────────────────────────────────────────────────────────────
	// 5. EXTERNAL COLLABORATORS
	// ─────────────────────────────────────────────────────────────────────────
	var transport session.Transport = gateway.Disabled{Log: log}
	gw, err := gateway.New(gateway.Config{
		BaseURL:     cfg.Gateway.BaseURL,
		InstanceID:  cfg.Gateway.InstanceID,
		Token:       cfg.Gateway.Token,
		ClientToken: cfg.Gateway.ClientToken,
		Timeout:     cfg.Gateway.Timeout,
	}, log, gateway.WithBreaker(circuitbreaker.GatewayBreaker(onBreaker)))
	switch {
	case err == nil:
		transport = gw
	case errors.Is(err, shared.ErrGatewayDisabled):
		log.Warn("gateway credentials missing, replies will be dropped")
	default:
		return fmt.Errorf("failed to create gateway client: %w", err)
	}

	aiCfg := openai.Config{
		APIKey:      cfg.OpenAI.APIKey,
		BaseURL:     cfg.OpenAI.BaseURL,
		ChatModel:   cfg.OpenAI.ChatModel,
		MaxTokens:   int64(cfg.OpenAI.MaxTokens),
		SpeechModel: cfg.OpenAI.SpeechModel,
		Voice:       cfg.OpenAI.Voice,
		Timeout:     cfg.OpenAI.Timeout,
		MaxRetries:  cfg.OpenAI.MaxRetries,
	}

	var completer session.Completer = openai.DisabledCompleter{}
	var synthesizer session.Synthesizer = openai.DisabledSynthesizer{}
	if aiCfg.Enabled() {
		c, err := openai.NewCompleter(aiCfg, log, openai.WithBreakerHook(rec.BreakerChanged))
		if err != nil {
			return fmt.Errorf("failed to create completer: %w", err)
		}
		s, err := openai.NewSynthesizer(aiCfg, log, openai.WithBreakerHook(rec.BreakerChanged))
		if err != nil {
			return fmt.Errorf("failed to create synthesizer: %w", err)
		}
		completer, synthesizer = c, s
	} else {
		log.Warn("OPENAI_API_KEY not set, open-ended replies and audio fall back to text")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. APPLICATION LAYER
	// ─────────────────────────────────────────────────────────────────────────
	orchestrator := session.NewOrchestrator(session.Dependencies{
		Guard:       guard,
		Store:       store,
		Classifier:  lesson.NewRuleClassifier(),
		Engine:      engine,
		Paywall:     paywall,
		Transport:   transport,
		Synthesizer: synthesizer,
		Completer:   completer,
		Flags:       cfg.Features,
		Metrics:     rec,
		Logger:      log,
	}, session.WithTurnTimeout(cfg.Session.TurnTimeout))

	deps := httpserver.Dependencies{
		Turns:          orchestrator,
		ApplyPayment:   command.NewApplyPaymentHandler(store, cfg.Paywall.PaymentDefaultDays, log),
		GrantPremium:   command.NewGrantPremiumHandler(store, log),
		RevokePremium:  command.NewRevokePremiumHandler(store, log),
		GetEntitlement: query.NewGetEntitlementHandler(store),
		HealthChecker:  health,
		Logger:         log,
	}

	if cfg.Admin.Enabled() {
		if deps.AdminAuth, err = handlers.NewTokenAuth("X-Admin-Token", cfg.Admin.Token, cfg.Admin.TokenHash); err != nil {
			return fmt.Errorf("invalid admin token: %w", err)
		}
	} else {
		log.Warn("admin token not set, admin API disabled")
	}
	if cfg.Paywall.WebhookToken != "" {
		if deps.PaymentAuth, err = handlers.NewTokenAuth("Authorization", cfg.Paywall.WebhookToken, ""); err != nil {
			return fmt.Errorf("invalid payment webhook token: %w", err)
		}
	}
	if cfg.Observability.MetricsEnabled {
		deps.Metrics = rec.Handler()
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 7. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	httpCfg := httpserver.DefaultConfig()
	httpCfg.Host = cfg.HTTP.Host
	httpCfg.Port = cfg.HTTP.Port
	httpCfg.ReadTimeout = cfg.HTTP.ReadTimeout
	httpCfg.WriteTimeout = cfg.HTTP.WriteTimeout
	httpCfg.IdleTimeout = cfg.HTTP.IdleTimeout
	httpCfg.MaxBodyBytes = cfg.HTTP.MaxBodyBytes
	httpCfg.MetricsPath = cfg.Observability.MetricsPath
	httpCfg.Version = cfg.App.Version

	server := httpserver.NewServer(httpCfg, deps)

	// ─────────────────────────────────────────────────────────────────────────
	// 8. RUN & GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)

	g.Go(server.Start)

	if db != nil {
		g.Go(func() error {
			db.migrateWhenReachable(gctx, 15*time.Second)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("starting graceful shutdown", logger.Duration("timeout", cfg.App.ShutdownTimeout))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	log.Info("tutor bot is running",
		logger.String("http_address", httpCfg.Address()),
		logger.Bool("durable", store.Durable()),
		logger.String("dedupe", cfg.Session.DedupeBackend),
	)

	if err := g.Wait(); err != nil {
		log.Error("shutdown completed with errors", logger.Err(err))
		return err
	}

	log.Info("shutdown completed successfully")
	return nil
}
