// Package main is the entry point for the API server.
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

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/sahuti/autoreply/internal/cache"
	"github.com/sahuti/autoreply/internal/config"
	"github.com/sahuti/autoreply/internal/crypto"
	"github.com/sahuti/autoreply/internal/handler"
	"github.com/sahuti/autoreply/internal/llm"
	natsclient "github.com/sahuti/autoreply/internal/nats"
	"github.com/sahuti/autoreply/internal/scheduler"
	"github.com/sahuti/autoreply/internal/service"
	"github.com/sahuti/autoreply/internal/store"
	"github.com/sahuti/autoreply/internal/whatsapp"
	"github.com/sahuti/autoreply/pkg/logger"
	"github.com/sahuti/autoreply/pkg/tracing"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.ForEnv(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting auto-reply server", zap.String("env", cfg.Env), zap.String("rate_mode", cfg.RateMode))

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "whatsapp-autoreply", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	clock := clockwork.NewRealClock()

	encryptor, err := crypto.NewCredentialEncryptor(cfg.CredentialsKey)
	if err != nil {
		log.Fatal("failed to create credential encryptor", zap.Error(err))
	}

	// Open the database and apply migrations
	st, err := store.Open(cfg.DatabasePath, store.WithClock(clock), store.WithLogger(log.Logger))
	if err != nil {
		log.Fatal("failed to open database", zap.Error(err))
	}
	defer st.Close()

	// Rate-limit claims live in Redis when configured so every replica shares them
	var (
		claims      cache.Cache
		cachePinger handler.Pinger
		memory      *cache.Memory
	)
	if cfg.RedisURL != "" {
		rc, err := cache.NewRedis(ctx, cfg.RedisURL, "autoreply:")
		if err != nil {
			log.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer rc.Close()
		claims, cachePinger = rc, rc
	} else {
		memory = cache.NewMemory(clock)
		claims = memory
	}

	// Reply events are published to JetStream when NATS is configured
	var (
		publisher  service.EventPublisher
		reader     service.EventReader
		natsPinger handler.Pinger
	)
	if cfg.NATSURL != "" {
		natsClient, err := natsclient.Connect(natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			log.Fatal("failed to connect to NATS", zap.Error(err))
		}
		defer natsClient.Close()

		streamManager := natsclient.NewStreamManager(natsClient)
		if err := streamManager.EnsureStream(ctx); err != nil {
			log.Fatal("failed to ensure stream", zap.Error(err))
		}
		publisher, reader, natsPinger = streamManager, streamManager, natsClient
	} else {
		log.Info("NATS_URL not set, reply events disabled")
	}

	// Initialize LLM client
	var llmClient llm.Client
	if cfg.LLMEnabled {
		if key := cfg.LLMAPIKey(); key != "" {
			llmClient, err = llm.NewClient(llm.Provider(cfg.LLMProvider), key)
			if err != nil {
				log.Warn("failed to create LLM client, LLM replies disabled", zap.Error(err))
			}
		} else {
			log.Warn("no API key for LLM provider, LLM replies disabled", zap.String("provider", cfg.LLMProvider))
		}
	}

	// Initialize services
	waClient := whatsapp.NewClient(cfg.WhatsAppAPIURL, cfg.WhatsAppAPIVersion, cfg.WhatsAppHTTPTimeout, log.Logger)
	secrets := service.NewSecretStore(encryptor, service.GlobalCredentials{
		PhoneNumberID: cfg.WhatsAppPhoneNumberID,
		AccessToken:   cfg.WhatsAppAccessToken,
		AppSecret:     cfg.WhatsAppAppSecret,
		VerifyToken:   cfg.WhatsAppVerifyToken,
	})
	events := service.NewEventSink(publisher, log)
	tenants := service.NewTenantDirectory(st, log)
	pauses := service.NewPauseStore(st, clock, cfg.PauseDuration, log)
	gateway := service.NewGateway(waClient, st, secrets, pauses, log)
	limiter := service.NewRateLimiter(claims, st, clock, cfg.ReplyWindow())
	replies := service.NewReplyGenerator(llmClient, service.LLMConfig{
		Enabled:     cfg.LLMEnabled,
		Model:       cfg.LLMModel,
		MaxTokens:   cfg.LLMMaxTokens,
		Temperature: cfg.LLMTemperature,
		Timeout:     cfg.LLMTimeout,
	}, clock, cfg.Location(), log)
	onboarding := service.NewOnboarding(st, gateway, events, clock, log)
	orchestrator := service.NewOrchestrator(service.OrchestratorDeps{
		Store:      st,
		Tenants:    tenants,
		Gateway:    gateway,
		Secrets:    secrets,
		Onboarding: onboarding,
		Pauses:     pauses,
		Limiter:    limiter,
		Replies:    replies,
		Events:     events,
		Clock:      clock,
		Logger:     log,
	})
	admin := service.NewAdmin(st, secrets, gateway, pauses, reader, events, log)

	// Background jobs
	jobs, err := scheduler.New(clock, log)
	if err != nil {
		log.Fatal("failed to create scheduler", zap.Error(err))
	}
	if err := jobs.AddPauseCleanup(cfg.PauseCleanup, pauses); err != nil {
		log.Fatal("failed to schedule pause cleanup", zap.Error(err))
	}
	if memory != nil {
		if err := jobs.AddCacheSweep(time.Minute, memory); err != nil {
			log.Fatal("failed to schedule cache sweep", zap.Error(err))
		}
	}
	jobs.Start()

	// Create router
	router := handler.NewRouter(handler.RouterConfig{
		JWTSecret:         cfg.JWTSecret,
		AllowedOrigins:    cfg.AllowedOrigins,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
	},
		log,
		handler.NewHealthHandler(st, natsPinger, cachePinger),
		handler.NewWebhookHandler(orchestrator, log),
		handler.NewAdminHandler(admin, log),
	)

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
	if err := jobs.Shutdown(); err != nil {
		log.Error("scheduler shutdown failed", zap.Error(err))
	}

	log.Info("server stopped")
}
