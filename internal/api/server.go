package api

import (
	"context"
	"net/http"
	"os"
	"strings"

	"go.uber.org/zap"

	"crewroute/internal/config"
	"crewroute/internal/engine"
	"crewroute/internal/opt"
	"crewroute/internal/routecache"
	"crewroute/internal/store"
	"crewroute/internal/travel"
	"crewroute/internal/webhooks"
)

type Server struct {
	Store    store.Store
	Engine   *engine.Engine
	Notifier engine.Notifier
	Pub      *webhooks.Publisher
	Broker   EventBroker
	Log      *zap.Logger
	Cfg      *config.Config
}

// NewServer wires the store, broker, notifier, and engine from config.
// An empty databaseUrl selects the in-memory store; an empty redisUrl
// keeps broker and notifier process-local.
func NewServer(cfg *config.Config, log *zap.Logger) (*Server, error) {
	var s store.Store
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		s = store.NewMemory()
	} else {
		sp, err := store.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if os.Getenv("DB_MIGRATE") != "false" {
			if err := sp.MigrateDir("db/migrations"); err != nil {
				log.Warn("migrations", zap.Error(err))
			}
		}
		s = sp
	}

	var broker EventBroker
	var notifier engine.Notifier
	if cfg.RedisURL != "" {
		rb, err := NewRedisBroker(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		broker = rb
		rn, err := engine.NewRedisNotifier(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		notifier = rn
	} else {
		broker = NewBroker()
		notifier = engine.NewMemoryNotifier()
	}

	var provider travel.Provider
	if cfg.Travel.Endpoint != "" {
		provider = travel.NewHTTPProvider(travel.HTTPOptions{
			Endpoint:  cfg.Travel.Endpoint,
			Timeout:   cfg.TravelTimeout(),
			RateRPS:   cfg.Travel.RateRPS,
			RateBurst: cfg.Travel.RateBurst,
		})
	} else {
		provider = travel.NewStraightLine(cfg.Travel.SpeedKph)
	}
	optimizer := opt.New(provider, cfg.Travel.SpeedKph)
	optimizer.TwoOptIterations = cfg.Optimizer.TwoOptIterations
	optimizer.ProviderTimeout = cfg.TravelTimeout()

	pub := webhooks.NewPublisher(s)
	eng := engine.New(s, routecache.New(cfg.CacheRetention()), optimizer, notifier, pub, log)
	eng.WorkdayStart = cfg.Workday.Start
	eng.MaxStops = cfg.Optimizer.MaxStops

	return &Server{
		Store:    s,
		Engine:   eng,
		Notifier: notifier,
		Pub:      pub,
		Broker:   broker,
		Log:      log,
		Cfg:      cfg,
	}, nil
}

// withCompany resolves the tenant from the request header. Decoding it
// from an auth token is an edge concern that lives outside this service.
func (s *Server) withCompany(r *http.Request) (context.Context, string) {
	company := r.Header.Get("X-Company-Id")
	if company == "" {
		company = "c_demo"
	}
	ctx := context.WithValue(r.Context(), ctxKeyCompany{}, company)
	return ctx, company
}

type ctxKeyCompany struct{}

// NewWebhookWorker creates the background delivery worker.
func (s *Server) NewWebhookWorker() *webhooks.Worker {
	return webhooks.NewWorker(s.Store, s.Log)
}
