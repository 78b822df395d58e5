package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gosight/gosight/leadflow/internal/alerts"
	"github.com/gosight/gosight/leadflow/internal/analytics"
	"github.com/gosight/gosight/leadflow/internal/automation"
	"github.com/gosight/gosight/leadflow/internal/config"
	"github.com/gosight/gosight/leadflow/internal/consumer"
	"github.com/gosight/gosight/leadflow/internal/engine"
	"github.com/gosight/gosight/leadflow/internal/enricher"
	"github.com/gosight/gosight/leadflow/internal/funnel"
	"github.com/gosight/gosight/leadflow/internal/handler"
	"github.com/gosight/gosight/leadflow/internal/metrics"
	"github.com/gosight/gosight/leadflow/internal/producer"
	"github.com/gosight/gosight/leadflow/internal/scoring"
	"github.com/gosight/gosight/leadflow/internal/session"
	"github.com/gosight/gosight/leadflow/internal/storage"
	"github.com/gosight/gosight/leadflow/internal/tier"
	"github.com/gosight/gosight/leadflow/internal/validation"
	"github.com/gosight/gosight/leadflow/internal/workflow"
)

func main() {
	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("No .env file loaded")
	}

	// Load config
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/leadflow.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", configPath).Msg("Failed to load config")
	}
	setupLogging(cfg.Log)

	log.Info().
		Strs("kafka_brokers", cfg.Kafka.Brokers).
		Str("clickhouse_addr", cfg.ClickHouse.Addr).
		Str("redis_addr", cfg.Redis.Addr).
		Str("session_store", cfg.Session.Store).
		Str("automation_sink", cfg.Automation.Sink).
		Str("analytics_sink", cfg.Analytics.Sink).
		Msg("Configuration loaded")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.InitMetrics(prometheus.DefaultRegisterer)

	// Kafka producer for automation, analytics and alert streams
	var (
		kafkaProducer *producer.KafkaProducer
		pub           automation.Publisher
	)
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaProducer = producer.NewKafkaProducer(cfg.Kafka,
			producer.Topic{Name: automation.TopicAutomation},
			producer.Topic{Name: analytics.TopicAnalytics, Async: true},
			producer.Topic{Name: alerts.TopicAlerts},
		)
		defer kafkaProducer.Close()
		pub = kafkaProducer
		log.Info().Msg("Kafka producer initialized")
	}

	// Fallback and alert store
	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open storage")
	}
	if err := store.Init(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize storage schema")
	}
	defer store.Close()
	log.Info().Str("driver", cfg.Storage.Driver).Msg("Storage initialized")

	// Session store
	var (
		rdb      *redis.Client
		sessions session.Store
	)
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
	}
	switch cfg.Session.Store {
	case "redis":
		if rdb == nil {
			log.Fatal().Msg("Redis session store requires redis.addr")
		}
		sessions = session.NewRedisStore(rdb, cfg.Session.TTL)
	default:
		sessions = session.NewMemoryStore()
	}
	log.Info().Str("store", cfg.Session.Store).Msg("Session store initialized")

	// ClickHouse analytics and session export
	var (
		chTracker analytics.Tracker
		chClose   func() error
		exporter  *session.Exporter
	)
	if cfg.ClickHouse.Addr != "" {
		ch, err := storage.NewClickHouse(cfg.ClickHouse)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to ClickHouse")
		}
		defer ch.Close()
		log.Info().Msg("Connected to ClickHouse")

		t := analytics.NewClickHouseTracker(ch, cfg.Batch)
		t.OnDrop(func(n int) { m.RecordAnalyticsDropped("clickhouse", n) })
		chTracker, chClose = t, t.Close

		if cfg.Session.ExportInterval > 0 {
			exporter = session.NewExporter(sessions, ch, cfg.Session.ExportInterval)
			go exporter.Start(ctx)
		}
	}

	var chPub analytics.Publisher
	if pub != nil {
		chPub = pub
	}
	tracker, err := analytics.New(cfg.Analytics.Sink, chTracker, chPub)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create analytics tracker")
	}
	if kt, ok := tracker.(*analytics.KafkaTracker); ok {
		kt.OnDrop(func(n int) { m.RecordAnalyticsDropped("kafka", n) })
	}

	// Rule tables
	rules, err := scoring.NewRules(cfg.Scoring)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid scoring rules")
	}
	tiers, err := tier.FromConfig(cfg.Tiers)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid tier table")
	}
	funnelTracker, err := funnel.NewTracker(cfg.Funnel.Stages, cfg.Scoring.ExtendedHoverMs)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid funnel stages")
	}
	catalog, err := workflow.Compile(cfg.Workflows, tiers)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid workflow catalog")
	}
	log.Info().
		Int("tiers", len(tiers.Levels())).
		Int("stages", len(funnelTracker.Stages())).
		Int("workflows", len(catalog.Defs())).
		Msg("Rule tables compiled")

	// Automation dispatch
	sink, err := automation.New(cfg.Automation, pub)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create automation sink")
	}
	sched := workflow.NewScheduler(context.Background())
	dispatcher := workflow.NewDispatcher(sink, store, sched,
		workflow.WithMetrics(m),
		workflow.WithTimeout(cfg.Automation.Timeout),
	)
	dispatcher.OnDelivered = func(ctx context.Context, o workflow.Outcome, p workflow.Payload) {
		tracker.Track(ctx, analytics.EventWorkflowDelivered, analytics.Params{
			"session_id":  o.SessionID,
			"workflow_id": o.WorkflowID,
			"success":     o.Err == nil,
			"score":       p.Score,
		})
	}

	leadEngine := engine.New(engine.Deps{
		Store:      sessions,
		Scorer:     scoring.NewEngine(rules),
		Tiers:      tiers,
		Funnel:     funnelTracker,
		Catalog:    catalog,
		Dispatcher: dispatcher,
		Tracker:    tracker,
		Metrics:    m,
	})

	// Alert monitor
	thresholds, err := alerts.ThresholdsFromConfig(cfg.Alerts.Thresholds, cfg.Alerts.MinElapsed)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid alert thresholds")
	}
	var alertPub alerts.Publisher
	if pub != nil {
		alertPub = pub
	}
	pager, err := alerts.NewPager(cfg.Alerts, alertPub)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create pager")
	}
	tierNames := alerts.TierNamesFrom(tiers)
	if cfg.Alerts.HotTier != "" {
		tierNames.Hot = cfg.Alerts.HotTier
	}
	if cfg.Alerts.EmergencyTier != "" {
		tierNames.Emergency = cfg.Alerts.EmergencyTier
	}
	monitor := alerts.NewMonitor(sessions, thresholds, cfg.Alerts.Window, cfg.Alerts.Interval, cfg.Alerts.LogLimit,
		alerts.WithTierNames(tierNames),
		alerts.WithFailures(dispatcher),
		alerts.WithSaver(store),
		alerts.WithPager(pager),
		alerts.WithTracker(tracker),
		alerts.WithMetrics(m),
	)
	go monitor.Start(ctx)

	// Ingest
	eventEnricher := enricher.NewEnricher(cfg.GeoIP.DatabasePath)
	defer eventEnricher.Close()

	var limiter *validation.Limiter
	if rdb != nil && cfg.Server.RateLimit > 0 {
		limiter = validation.NewLimiter(rdb, cfg.Server.RateLimit)
	}

	var kafkaConsumer *consumer.KafkaConsumer
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaConsumer = consumer.NewKafkaConsumer(cfg.Kafka, consumer.NewEventProcessor(leadEngine, eventEnricher))
		go kafkaConsumer.Start(ctx)
	}

	httpHandler := handler.NewHTTPHandler(leadEngine, eventEnricher, limiter, monitor.Log(), store)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler: handler.NewRouter(httpHandler, m),
	}

	go func() {
		log.Info().Int("port", cfg.Server.HTTPPort).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to serve HTTP")
		}
	}()

	log.Info().Msg("Lead engine started")

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP shutdown failed")
	}

	cancel()
	if kafkaConsumer != nil {
		kafkaConsumer.Close()
	}

	// Deferred dispatches are dropped; in-flight deliveries finish.
	leadEngine.Close()

	if exporter != nil {
		exporter.Stop()
		if _, err := exporter.Flush(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Failed to export sessions")
		}
	}
	if chClose != nil {
		chClose()
	}

	log.Info().Msg("Shutdown complete")
}

func setupLogging(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		log.Warn().Str("level", cfg.Level).Msg("Unknown log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.JSON {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}
