// Package main is the Plugin Bus Gateway entry point: wires the Token
// Cipher, Installation Store, Config Loader, Core Actions API, Event Bus,
// Plugin Registry, Webhook Gateway, OAuth Flow, and Housekeeper, then
// serves the HTTP surface behind a graceful shutdown.
package main

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/stratecode/triage-sub002/internal/actions"
	"github.com/stratecode/triage-sub002/internal/bus"
	"github.com/stratecode/triage-sub002/internal/config"
	cryptopkg "github.com/stratecode/triage-sub002/internal/crypto"
	"github.com/stratecode/triage-sub002/internal/housekeeper"
	"github.com/stratecode/triage-sub002/internal/logging"
	"github.com/stratecode/triage-sub002/internal/oauth"
	"github.com/stratecode/triage-sub002/internal/security"
	"github.com/stratecode/triage-sub002/internal/slack"
	"github.com/stratecode/triage-sub002/internal/store"
	"github.com/stratecode/triage-sub002/internal/triage"
	"github.com/stratecode/triage-sub002/internal/webhook"
)

func main() {
	logger := logging.NewFromEnv("gateway")

	masterKey, err := loadMasterKey()
	if err != nil {
		log.Fatalf("CRITICAL: %v", err)
	}
	cipher, err := cryptopkg.New(masterKey)
	if err != nil {
		log.Fatalf("CRITICAL: token cipher: %v", err)
	}

	dsn := config.EnvOrDefault("DATABASE_URL", "")
	if dsn == "" {
		log.Fatalf("CRITICAL: DATABASE_URL is required")
	}
	db, err := store.Connect(dsn)
	if err != nil {
		log.Fatalf("CRITICAL: connect postgres: %v", err)
	}
	migrationsDir := config.EnvOrDefault("MIGRATIONS_DIR", "migrations")
	if err := store.Migrate(db, migrationsDir); err != nil {
		log.Fatalf("CRITICAL: migrate: %v", err)
	}

	installStore := store.New(db, cipher)

	// The real ranking/classification engine is an external collaborator
	// (§1 Non-goals); MemoryEngine stands in as the reference implementation
	// until that system is wired over the network.
	engine := triage.NewMemoryEngine()
	core := actions.New(engine, logger)

	registry := bus.NewRegistry(logger)
	bus.Register("slack", slack.Factory(installStore, slack.NewWebAPIClient(), logger))

	configLoader := config.NewLoader(config.EnvOrDefault("CONFIG_DIR", "configs"))
	loadResult := registry.LoadWithAutoConfig(context.Background(), "slack", core,
		func(ctx context.Context, name string, schema bus.ConfigSchema) (bus.PluginConfig, error) {
			return configLoader.Load(name, schema)
		})
	switch loadResult.State {
	case bus.LoadStateLoaded:
		logger.WithFields(map[string]interface{}{"plugin": "slack"}).Info("plugin loaded")
	case bus.LoadStateDisabled:
		logger.WithFields(map[string]interface{}{"plugin": "slack"}).Info("plugin disabled by config")
	case bus.LoadStateError:
		logger.WithError(loadResult.Error).Warn("plugin failed to load")
	}

	registry.StartAll(context.Background())

	eventBus := bus.NewEventBus()
	eventBus.Subscribe("registry-broadcast", func(ctx context.Context, event bus.Event) {
		registry.BroadcastEvent(ctx, event.EventType, event.EventData)
	})

	replayGuard := security.NewReplayProtection(webhook.MaxClockSkew, logger)
	var sweepers []struct {
		name string
		s    housekeeper.Sweeper
	}
	sweepers = append(sweepers, struct {
		name string
		s    housekeeper.Sweeper
	}{"webhook-replay", replayGuard})

	if redisURL := config.EnvOrDefault("REDIS_URL", ""); redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			log.Fatalf("CRITICAL: invalid REDIS_URL: %v", err)
		}
		redisClient := redis.NewClient(opts)
		mirror := security.NewRedisMirror(redisClient, webhook.MaxClockSkew, replayGuard, logger)
		sweepers = append(sweepers, struct {
			name string
			s    housekeeper.Sweeper
		}{"webhook-replay-redis", mirror})
	}

	nonceGuard := security.NewReplayProtection(oauth.StateTTL, logger)
	sweepers = append(sweepers, struct {
		name string
		s    housekeeper.Sweeper
	}{"oauth-nonce", nonceGuard})

	hk := housekeeper.New(logger)
	for _, sw := range sweepers {
		if err := hk.RegisterSweep("*/5 * * * *", sw.name, sw.s); err != nil {
			log.Fatalf("CRITICAL: register sweep %s: %v", sw.name, err)
		}
	}
	hk.Start()

	slackFlow := buildSlackOAuthFlow(nonceGuard, logger)

	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)
	router.Use(chimiddleware.Timeout(30 * time.Second))

	slackGateway := webhook.New("slack", slackSigningSecret(configLoader), replayGuard, registry, logger)
	router.Post("/plugins/slack/webhook", slackGateway.ServeWebhook)
	router.Get("/plugins/health", slackGateway.ServeHealth)
	router.Handle("/metrics", promhttp.Handler())
	registerOAuthRoutes(router, "slack", slackFlow, installStore, logger)

	port := config.EnvOrDefault("PORT", "8080")
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		logger.WithFields(map[string]interface{}{"port": port}).Info("gateway starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("server shutdown error")
	}
	registry.StopAll(shutdownCtx)
	if err := hk.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Warn("housekeeper shutdown error")
	}
}

// loadMasterKey derives the 32-byte Token Cipher key from
// TOKEN_CIPHER_PASSPHRASE (at least 32 bytes of input entropy, per §4.1)
// by hashing it with SHA-256, so operators configure a memorable
// passphrase rather than managing raw key bytes.
func loadMasterKey() ([]byte, error) {
	passphrase := config.EnvOrDefault("TOKEN_CIPHER_PASSPHRASE", "")
	if len(passphrase) < 32 {
		return nil, errShortPassphrase
	}
	sum := sha256.Sum256([]byte(passphrase))
	return sum[:], nil
}

var errShortPassphrase = &passphraseError{}

type passphraseError struct{}

func (*passphraseError) Error() string {
	return "TOKEN_CIPHER_PASSPHRASE must be at least 32 bytes of entropy"
}

func slackSigningSecret(loader *config.Loader) string {
	cfg, err := loader.Load("slack", (&slack.Plugin{}).ConfigSchema())
	if err != nil {
		return ""
	}
	secret, _ := cfg.Config["signing_secret"].(string)
	return secret
}

func buildSlackOAuthFlow(nonceGuard *security.ReplayProtection, logger *logging.Logger) *oauth.Flow {
	clientID := config.EnvOrDefault("SLACK_CLIENT_ID", "")
	clientSecret := config.EnvOrDefault("SLACK_CLIENT_SECRET", "")
	redirectURI := config.EnvOrDefault("SLACK_OAUTH_REDIRECT_URI", "")
	signingKey := []byte(config.EnvOrDefault("OAUTH_STATE_SIGNING_KEY", base64.RawURLEncoding.EncodeToString(sha256Of(clientSecret))))

	client := slack.NewOAuthClient()
	flow := oauth.New("slack", clientID, clientSecret, redirectURI, signingKey, client, logger)
	flow.SetNonceGuard(nonceGuard)
	return flow
}

func sha256Of(s string) []byte {
	sum := sha256.Sum256([]byte(s))
	return sum[:]
}
