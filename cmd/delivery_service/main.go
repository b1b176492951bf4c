package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/quietwire/delivery/internal/attachments"
	"github.com/quietwire/delivery/internal/delivery/app"
	"github.com/quietwire/delivery/internal/delivery/provider"
	deliveryPostgres "github.com/quietwire/delivery/internal/delivery/repository/postgres"
	"github.com/quietwire/delivery/internal/delivery/sender"
	directoryPostgres "github.com/quietwire/delivery/internal/directory/postgres"
	"github.com/quietwire/delivery/internal/httpapi"
	"github.com/quietwire/delivery/internal/notify"
	prefsPostgres "github.com/quietwire/delivery/internal/prefs/postgres"
	"github.com/quietwire/delivery/internal/platform/config"
	"github.com/quietwire/delivery/internal/platform/database"
	"github.com/quietwire/delivery/internal/platform/logger"
	"github.com/quietwire/delivery/internal/platform/messagebroker"
	"github.com/quietwire/delivery/internal/queue"
	queuePostgres "github.com/quietwire/delivery/internal/queue/postgres"
	"github.com/quietwire/delivery/internal/sessions"
)

const appName = "delivery_service"

func main() {
	cfg, err := config.Load("./configs", "config.defaults")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	appLogger := logger.New(cfg.LogLevel).With("service", appName)
	appLogger.Info("Starting delivery service")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbPool, err := database.NewDBPool(ctx, cfg.PostgresDSN)
	if err != nil {
		appLogger.Error("Failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()
	appLogger.Info("Connected to PostgreSQL")

	natsClient, err := messagebroker.NewNATSClient(cfg.NATSUrl, appName, appLogger)
	if err != nil {
		appLogger.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer natsClient.Close()
	appLogger.Info("Connected to NATS")

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		appLogger.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	appLogger.Info("Connected to Redis")

	messageStore := deliveryPostgres.NewPgMessageStore(dbPool, appLogger)
	directoryStore := directoryPostgres.NewPgDirectoryStore(dbPool, appLogger)
	prefsStore := prefsPostgres.NewPgPrefsStore(dbPool, appLogger)
	jobStore := queuePostgres.NewPgJobStore(dbPool, appLogger)
	sessionStore := sessions.NewRedisStore(redisClient, appLogger)

	credentials := sender.NewCredentialStore()
	if cfg.PushServiceToken != "" {
		credentials.Unlock()
	}
	pushSender := sender.NewPushSender(appLogger, cfg.PushServiceURL, cfg.PushServiceToken, cfg.PushLocalNumber, nil)

	var carrier provider.CarrierProvider
	if cfg.CarrierAPIKey != "" {
		carrier = provider.NewHTTPCarrierProvider(appLogger, cfg.CarrierAPIURL, cfg.CarrierAPIKey, cfg.CarrierSenderID, nil)
	} else {
		appLogger.Warn("No carrier API key configured, using mock carrier provider")
		carrier = provider.NewMockCarrierProvider(appLogger)
	}

	resolver := attachments.NewResolver(dbPool, cfg.AttachmentDir, appLogger)
	notifier := notify.NewNATSNotifier(natsClient, appLogger)
	policy := app.NewTransportPolicy(directoryStore, prefsStore, appLogger)

	runner := queue.NewRunner(jobStore, appLogger, queue.RunnerConfig{
		RequeueDelay: cfg.RunnerRequeueDelay,
	})

	deps := app.SendJobDeps{
		Messages:    messageStore,
		Sender:      pushSender,
		Attachments: resolver,
		Sessions:    sessionStore,
		Directory:   directoryStore,
		Policy:      policy,
		Notifier:    notifier,
		Jobs:        runner,
		Logger:      appLogger,
	}

	networkTarget, err := dialTarget(cfg.PushServiceURL)
	if err != nil {
		appLogger.Error("Invalid push service URL", "url", cfg.PushServiceURL, "error", err)
		os.Exit(1)
	}
	sendService := app.NewSendService(deps, carrier, credentials, networkTarget)
	sendService.RegisterJobTypes(runner)

	if err := runner.Start(ctx); err != nil {
		appLogger.Error("Failed to start job runner", "error", err)
		os.Exit(1)
	}

	handler := httpapi.NewMessageHandler(sendService, appLogger)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           httpapi.NewRouter(handler, appLogger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		appLogger.Info("HTTP server listening", "port", cfg.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		appLogger.Info("Shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			appLogger.Error("HTTP server shutdown failed", "error", err)
		}
		if err := runner.Shutdown(shutdownCtx); err != nil {
			appLogger.Error("Job runner shutdown failed", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		appLogger.Error("Service exited with error", "error", err)
		os.Exit(1)
	}
	appLogger.Info("Delivery service stopped")
}

// dialTarget reduces a service URL to the host:port probed by the network
// requirement.
func dialTarget(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if u.Host == "" {
		return "", fmt.Errorf("url %q has no host", rawURL)
	}
	if u.Port() != "" {
		return u.Host, nil
	}
	switch u.Scheme {
	case "http":
		return u.Host + ":80", nil
	default:
		return u.Host + ":443", nil
	}
}
