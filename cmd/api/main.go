package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"crewroute/internal/api"
	"crewroute/internal/buildinfo"
	"crewroute/internal/config"
	"crewroute/internal/logging"
	"crewroute/internal/metrics"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, "crewroute-api")
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	metrics.RegisterDefault()

	srvDeps, err := api.NewServer(cfg, logger)
	if err != nil {
		logger.Fatal("failed to init server", zap.Error(err))
	}

	mux := http.NewServeMux()

	// Generation and change ingress
	mux.HandleFunc("/v1/generate", srvDeps.GenerateHandler)
	mux.HandleFunc("/v1/changes", srvDeps.ChangesHandler)

	// Routes
	mux.HandleFunc("/v1/routes", srvDeps.RoutesIndexHandler)
	mux.HandleFunc("/v1/routes/", srvDeps.RouteByIDHandler) // includes /status, /timings, /events/stream, /stops/{id}/status

	// Scheduling views
	mux.HandleFunc("/v1/due", srvDeps.DuePreviewHandler)
	mux.HandleFunc("/v1/crews", srvDeps.CrewsHandler)
	mux.HandleFunc("/v1/unassigned", srvDeps.UnassignedHandler)

	// Subscriptions
	mux.HandleFunc("/v1/subscriptions", srvDeps.SubscriptionsHandler)
	mux.HandleFunc("/v1/subscriptions/", srvDeps.SubscriptionByIDHandler)

	// Live schedule status over WebSocket
	mux.HandleFunc("/v1/status/ws", srvDeps.StatusWSHandler)

	// Health and telemetry
	mux.HandleFunc("/healthz", srvDeps.HealthHandler)
	mux.HandleFunc("/readyz", srvDeps.ReadyHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           logMiddleware(logger, instrumentMiddleware(mux)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Reconciliation loop and webhook worker run for the life of the
	// process.
	go func() {
		if err := srvDeps.Engine.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("engine stopped", zap.Error(err))
		}
	}()
	worker := srvDeps.NewWebhookWorker().WithMaxAttempts(os.Getenv("WEBHOOK_MAX_ATTEMPTS"))
	worker.Start()

	go func() {
		<-ctx.Done()
		shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
	}()

	logger.Info("api listening",
		zap.String("addr", cfg.Addr),
		zap.String("version", buildinfo.Version),
		zap.String("commit", buildinfo.Commit))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}
}

func logMiddleware(logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Info("request",
			zap.String("remote", r.RemoteAddr),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("duration", time.Since(start)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func instrumentMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// streaming endpoints hold the connection open; recording them
		// would skew the duration histogram
		if r.URL.Path == "/v1/status/ws" || (len(r.URL.Path) > 10 && r.URL.Path[len(r.URL.Path)-7:] == "/stream") {
			next.ServeHTTP(w, r)
			return
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		code := strconv.Itoa(rec.status)
		metrics.HTTPRequests.WithLabelValues(r.Method, r.URL.Path, code).Inc()
		metrics.HTTPDuration.WithLabelValues(r.Method, r.URL.Path, code).Observe(time.Since(start).Seconds())
	})
}
