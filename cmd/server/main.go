package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/twmb/franz-go/pkg/kgo"

	"ekyc/internal/events"
	"ekyc/internal/evidence/artifact"
	"ekyc/internal/evidence/providers"
	"ekyc/internal/identitysync"
	"ekyc/internal/platform/config"
	"ekyc/internal/platform/httpserver"
	"ekyc/internal/platform/kafka"
	"ekyc/internal/platform/logger"
	platformmetrics "ekyc/internal/platform/metrics"
	"ekyc/internal/platform/postgres"
	"ekyc/internal/platform/redis"
	"ekyc/internal/verification/metrics"
	"ekyc/internal/verification/service"
	"ekyc/internal/verification/store/record"
)

// main wires the engine and its adapters, then serves the ops endpoints
// until a signal arrives. Business logic lives in internal/verification.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Server.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("ekyc engine stopped", "error", err)
		os.Exit(1)
	}
}

// closers are run in reverse order on shutdown.
type closers []func()

func (c *closers) add(fn func()) { *c = append(*c, fn) }

func (c closers) closeAll() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	var cleanup closers
	defer cleanup.closeAll()

	m := metrics.New()
	checks := map[string]httpserver.Check{}

	records, err := buildRecordStore(ctx, cfg, checks, &cleanup)
	if err != nil {
		return err
	}

	evidence, err := artifact.NewFileStore(cfg.Evidence.Root)
	if err != nil {
		return fmt.Errorf("evidence store: %w", err)
	}

	gateway, err := providers.NewHTTPGateway(providers.Config{
		OCRBaseURL:       cfg.Providers.OCRBaseURL,
		LivenessBaseURL:  cfg.Providers.LivenessBaseURL,
		APIKey:           cfg.Providers.APIKey,
		Timeout:          cfg.Providers.Timeout,
		FailureThreshold: cfg.Providers.FailureThreshold,
		Cooldown:         cfg.Providers.Cooldown,
	}, providers.WithLogger(log), providers.WithMetrics(m))
	if err != nil {
		return fmt.Errorf("provider gateway: %w", err)
	}

	syncOpts := []identitysync.Option{identitysync.WithLogger(log)}
	if cfg.IdentitySync.SigningKey != "" {
		syncOpts = append(syncOpts, identitysync.WithServiceTokens(identitysync.NewServiceTokens(
			cfg.IdentitySync.SigningKey,
			cfg.IdentitySync.Issuer,
			cfg.IdentitySync.Audience,
			cfg.IdentitySync.TokenTTL,
		)))
	} else {
		log.Warn("identity sync signing key not set; admin reviews will not reach the identity service")
	}
	identity, err := identitysync.New(identitysync.Config{
		BaseURL: cfg.IdentitySync.BaseURL,
		Timeout: cfg.IdentitySync.Timeout,
	}, syncOpts...)
	if err != nil {
		return fmt.Errorf("identity sync: %w", err)
	}

	opts := []service.Option{
		service.WithLogger(log),
		service.WithMetrics(m),
		service.WithConfig(engineConfig(cfg)),
	}
	if publisher, err := buildPublisher(ctx, cfg, log, m, checks, &cleanup); err != nil {
		return err
	} else if publisher != nil {
		opts = append(opts, service.WithPublisher(publisher))
	}

	engine, err := service.New(records, evidence, gateway, identity, opts...)
	if err != nil {
		return fmt.Errorf("verification engine: %w", err)
	}

	var mounts []func(chi.Router)
	if cfg.Server.AdminToken != "" {
		mounts = append(mounts, mountAdmin(engine, cfg.Server.AdminToken, log, platformmetrics.New()))
	} else {
		log.Info("admin token not set; operator routes disabled")
	}
	srv := httpserver.New(cfg.Server.Addr, httpserver.NewOpsRouter(prometheus.DefaultGatherer, checks, mounts...), log)

	serveErr := make(chan error, 1)
	go func() {
		log.Info("starting ekyc engine",
			"addr", cfg.Server.Addr,
			"store_backend", string(cfg.Store.Backend),
			"events_enabled", len(cfg.Kafka.Brokers) > 0,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("ops server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down", "timeout", cfg.Server.ShutdownTimeout.String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

func buildRecordStore(ctx context.Context, cfg config.Config, checks map[string]httpserver.Check, cleanup *closers) (service.RecordStore, error) {
	switch cfg.Store.Backend {
	case config.StorePostgres:
		db, err := postgres.Open(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		cleanup.add(func() { _ = db.Close() })
		checks["postgres"] = db.PingContext
		return record.NewPostgres(db), nil
	case config.StoreRedis:
		client, err := redis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		cleanup.add(func() { _ = client.Close() })
		checks["redis"] = client.Health
		return record.NewRedis(client.Client), nil
	default:
		return record.NewInMemory(), nil
	}
}

// buildPublisher returns nil when no brokers are configured.
func buildPublisher(ctx context.Context, cfg config.Config, log *slog.Logger, m *metrics.Metrics, checks map[string]httpserver.Check, cleanup *closers) (service.StatusPublisher, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, nil
	}
	client, err := kafka.New(ctx, kafka.Config{
		Brokers:     cfg.Kafka.Brokers,
		ClientID:    cfg.Kafka.ClientID,
		DialTimeout: cfg.Kafka.DialTimeout,
	})
	if err != nil {
		return nil, err
	}
	cleanup.add(func() { flushAndClose(client, cfg) })

	if cfg.Kafka.EnsureTopic {
		if err := events.EnsureTopic(ctx, client, cfg.Kafka.Topic, cfg.Kafka.Partitions, cfg.Kafka.ReplicationFactor); err != nil {
			return nil, err
		}
	}
	checks["kafka"] = client.Ping
	return events.NewKafkaPublisher(client,
		events.WithTopic(cfg.Kafka.Topic),
		events.WithLogger(log),
		events.WithMetrics(m),
	), nil
}

func flushAndClose(client *kgo.Client, cfg config.Config) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	_ = client.Flush(ctx)
	client.Close()
}

func engineConfig(cfg config.Config) service.Config {
	policies := artifact.DefaultPolicies()
	limits := map[artifact.MediaClass]int64{
		artifact.MediaImage: cfg.Evidence.ImageMaxBytes,
		artifact.MediaVideo: cfg.Evidence.VideoMaxBytes,
		artifact.MediaAudio: cfg.Evidence.AudioMaxBytes,
	}
	for class, limit := range limits {
		p := policies[class]
		p.MaxBytes = limit
		policies[class] = p
	}
	return service.Config{
		LivenessThreshold:        cfg.Engine.LivenessThreshold,
		VoiceConfidenceThreshold: cfg.Engine.VoiceConfidenceThreshold,
		RecordValidity:           cfg.Engine.RecordValidity,
		Policies:                 policies,
	}
}
