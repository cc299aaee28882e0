package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"turnstile/internal/admission/credential"
	"turnstile/internal/admission/handler"
	admissionmetrics "turnstile/internal/admission/metrics"
	"turnstile/internal/admission/ports"
	"turnstile/internal/admission/service"
	"turnstile/internal/admission/store/registration"
	"turnstile/internal/audit"
	"turnstile/internal/platform/config"
	"turnstile/internal/platform/httpserver"
	"turnstile/internal/platform/logger"
	"turnstile/internal/platform/postgres"
	platformredis "turnstile/internal/platform/redis"
	"turnstile/pkg/platform/middleware/station"
)

// main wires dependencies and keeps the server lifecycle small. Business
// logic lives in the internal service packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		regStore   ports.RegistrationStore
		auditStore audit.Store
		health     func(context.Context) error
	)
	switch {
	case cfg.DatabaseURL != "":
		db, err := postgres.Open(cfg.DatabaseURL)
		if err != nil {
			log.Error("postgres connection failed", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		regStore = registration.NewPostgresStore(db)
		auditStore = audit.NewPostgresStore(db)
		health = db.PingContext
		log.Info("using postgres stores")

	case cfg.RedisURL != "":
		client, err := platformredis.New(cfg.RedisURL)
		if err != nil {
			log.Error("redis connection failed", "error", err)
			os.Exit(1)
		}
		defer client.Close()
		regStore = registration.NewRedisStore(client.Client)
		// Redis deployments keep the audit trail in memory; point DATABASE_URL
		// at postgres for a durable trail.
		auditStore = audit.NewInMemoryStore()
		health = client.Health
		log.Warn("using redis registration store with in-memory audit trail")

	default:
		regStore = registration.NewInMemoryStore()
		auditStore = audit.NewInMemoryStore()
		health = func(context.Context) error { return nil }
		log.Warn("using in-memory stores, data will not survive restarts")
	}

	group, ctx := errgroup.WithContext(ctx)

	publisherOpts := []audit.Option{audit.WithLogger(log)}
	if len(cfg.KafkaBrokers) > 0 {
		sink, err := audit.NewKafkaSink(ctx, cfg.KafkaBrokers, cfg.AuditTopic)
		if err != nil {
			log.Error("kafka connection failed", "error", err)
			os.Exit(1)
		}
		defer sink.Close()

		stream := make(chan audit.Attempt, 256)
		publisherOpts = append(publisherOpts, audit.WithStream(stream))
		worker := audit.NewWorker(sink, stream, log)
		group.Go(func() error {
			if err := worker.Run(ctx); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
		log.Info("streaming audit attempts to kafka", "topic", cfg.AuditTopic)
	}
	publisher := audit.NewPublisher(auditStore, publisherOpts...)

	codec := credential.NewCodec(cfg.CredentialSecret, cfg.CredentialMaxAge)
	svc := service.NewService(codec, regStore, publisher,
		service.WithLogger(log),
		service.WithMetrics(admissionmetrics.New()),
	)

	stationKey := cfg.StationJWTKey
	if stationKey == "" {
		stationKey = "dev-station-key"
		log.Warn("STATION_JWT_KEY not set, using development station key")
	}
	validator := station.NewValidator(stationKey)

	router := chi.NewRouter()
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := health(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unhealthy"}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	router.Handle("/metrics", promhttp.Handler())
	handler.New(svc, publisher, validator, log).Register(router)

	srv := httpserver.New(cfg.Addr, router)

	group.Go(func() error {
		log.Info("starting turnstile", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}
