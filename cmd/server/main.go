// Command server runs the compliance survey engine: the admin API, the
// recipient survey API, the audit worker, and the expiry sweeper.
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"attest/internal/directory"
	"attest/internal/notify"
	"attest/internal/platform/config"
	"attest/internal/platform/httpserver"
	"attest/internal/platform/logger"
	platformmetrics "attest/internal/platform/metrics"
	"attest/internal/platform/middleware"
	"attest/internal/platform/postgres"
	"attest/internal/platform/redis"
	"attest/internal/platform/token"
	"attest/internal/report"
	"attest/internal/session"
	sessionhandler "attest/internal/session/handler"
	surveyhandler "attest/internal/survey/handler"
	"attest/internal/survey/metrics"
	surveyservice "attest/internal/survey/service"
	"attest/internal/survey/store"
	recipientstore "attest/internal/survey/store/recipient"
	responsestore "attest/internal/survey/store/response"
	runstore "attest/internal/survey/store/run"
	"attest/pkg/platform/audit"
	auditkafka "attest/pkg/platform/audit/kafka"
	auditmemory "attest/pkg/platform/audit/store/memory"
	auditworker "attest/pkg/platform/audit/worker"
)

const (
	auditInboxSize = 256
	cursorTTL      = 30 * 24 * time.Hour
	tokenIssuer    = "attest"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.FromEnv()
	log := logger.New()
	slog.SetDefault(log)

	// Stores: PostgreSQL when configured, in-memory otherwise.
	var (
		runs       store.RunStore
		recipients store.RecipientStore
		responses  store.ResponseStore
		db         *sql.DB
	)
	if cfg.DatabaseURL != "" {
		var err error
		db, err = postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Error("database connection failed", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := postgres.EnsureSchema(ctx, db); err != nil {
			log.Error("schema bootstrap failed", "error", err)
			os.Exit(1)
		}
		runs = runstore.NewPostgres(db)
		recipients = recipientstore.NewPostgres(db)
		responses = responsestore.NewPostgres(db)
		log.Info("using postgres stores")
	} else {
		runs = runstore.NewMemory()
		recipients = recipientstore.NewMemory()
		responses = responsestore.NewMemory()
		log.Warn("no database configured, using in-memory stores")
	}

	redisClient, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		log.Error("redis connection failed", "error", err)
		os.Exit(1)
	}
	var cursors session.CursorStore
	if redisClient != nil {
		defer redisClient.Close()
		cursors = session.NewRedisCursorStore(redisClient.Client, cursorTTL)
		log.Info("using redis session cursors")
	} else {
		cursors = session.NewMemoryCursorStore(cursorTTL)
	}

	// Audit pipeline: services emit to the inbox, the worker fans out to
	// every sink. Kafka joins the in-memory trail when brokers are set.
	inbox := make(chan audit.Event, auditInboxSize)
	publisher := audit.NewPublisher(inbox, log)
	auditTrail := auditmemory.NewInMemoryStore()
	sinks := []audit.Sink{auditTrail}
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaSink, err := auditkafka.New(ctx, cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			log.Error("kafka audit sink failed", "error", err)
			os.Exit(1)
		}
		defer kafkaSink.Close()
		sinks = append(sinks, kafkaSink)
		log.Info("audit events forwarded to kafka", "topic", cfg.Kafka.Topic)
	}
	go func() {
		if err := auditworker.NewWorker(inbox, log, sinks...).Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("audit worker stopped", "error", err)
		}
	}()

	dir, err := loadDirectory(cfg, log)
	if err != nil {
		log.Error("directory seed failed", "error", err)
		os.Exit(1)
	}

	var dispatcher notify.Dispatcher = &notify.LogDispatcher{Logger: log}
	if cfg.NotifyURL != "" {
		dispatcher = notify.NewHTTPDispatcher(cfg.NotifyURL)
		log.Info("dispatching notifications over http", "url", cfg.NotifyURL)
	}

	m := metrics.New()

	surveySvc := surveyservice.New(runs, recipients, responses, dir, dispatcher, cfg.SurveyBaseURL,
		surveyservice.WithLogger(log),
		surveyservice.WithAuditPublisher(publisher),
		surveyservice.WithMetrics(m),
		surveyservice.WithNotifyTimeout(cfg.NotifyTimeout),
	)
	reportSvc := report.New(runs, recipients, responses, dir)
	sessionSvc := session.New(runs, recipients, responses, cursors, surveySvc,
		session.WithLogger(log),
		session.WithAuditPublisher(publisher),
		session.WithMetrics(m),
	)

	tokens := token.NewService(cfg.JWTSigningKey, tokenIssuer)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RequestTime,
		middleware.ClientMetadata,
		middleware.Timeout(cfg.RequestTimeout),
		middleware.Recovery(log),
		middleware.Logger(log),
		middleware.Instrument(platformmetrics.NewHTTP()),
		middleware.ContentTypeJSON,
	)
	router.Get("/healthz", healthz(db, redisClient))
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())
	router.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(tokens, log))
		surveyhandler.New(surveySvc, reportSvc, log).Register(r)
	})
	sessionhandler.New(sessionSvc, log).Register(router)

	if cfg.SweepInterval > 0 {
		sweeper := surveyservice.NewSweeper(surveySvc, cfg.SweepInterval, log)
		go func() {
			if err := sweeper.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error("sweeper stopped", "error", err)
			}
		}()
	}

	srv := httpserver.New(cfg.Addr, router)
	go func() {
		log.Info("compliance survey engine listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
}

func loadDirectory(cfg config.Config, log *slog.Logger) (*directory.Static, error) {
	if cfg.DirectoryFile == "" {
		log.Warn("no directory file configured, starting with an empty directory")
		return directory.NewStatic(), nil
	}
	dir, err := directory.LoadFile(cfg.DirectoryFile)
	if err != nil {
		return nil, err
	}
	log.Info("directory seeded", "file", cfg.DirectoryFile)
	return dir, nil
}

func healthz(db *sql.DB, redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			if err := db.PingContext(r.Context()); err != nil {
				http.Error(w, "database unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		if redisClient != nil {
			if err := redisClient.Health(r.Context()); err != nil {
				http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}
