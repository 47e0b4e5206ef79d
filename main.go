package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"livestock-cloud/internal/auth"
	"livestock-cloud/internal/observability/metrics"
	telemetry "livestock-cloud/internal/telemetry/domain"
	sensormemory "livestock-cloud/internal/telemetry/infrastructure/memory"
	sensorpostgres "livestock-cloud/internal/telemetry/infrastructure/postgres"
	sensorhttp "livestock-cloud/internal/telemetry/interfaces/http"
	"livestock-cloud/internal/telemetry/interfaces/thingspeak"
	trackingapp "livestock-cloud/internal/tracking/application"
	trackingmemory "livestock-cloud/internal/tracking/infrastructure/memory"
	trackingpostgres "livestock-cloud/internal/tracking/infrastructure/postgres"
	trackingredis "livestock-cloud/internal/tracking/infrastructure/redis"
	trackingsqlite "livestock-cloud/internal/tracking/infrastructure/sqlite"
	trackinghttp "livestock-cloud/internal/tracking/interfaces/http"
	"livestock-cloud/internal/tracking/notify"
)

func main() {
	cfg := loadConfig()
	logger := log.New(os.Stdout, "", log.LstdFlags)

	trackingCfg, err := trackingapp.LoadConfig()
	if err != nil {
		logger.Fatalf("tracking config error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var db *sql.DB
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			logger.Fatalf("db open error: %v", err)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			logger.Fatalf("db ping error: %v", err)
		}
		if err := trackingpostgres.EnsureSchema(ctx, db); err != nil {
			logger.Fatalf("db schema error: %v", err)
		}
	}
	metrics.Init(db, logger)

	var (
		farmRepo         trackingapp.FarmRepository
		notificationRepo notificationStore
		sensorRepo       telemetry.SensorRepository
	)
	if db != nil {
		farmRepo = trackingpostgres.NewFarmRepository(db)
		notificationRepo = trackingpostgres.NewNotificationRepository(db)
		pgSensors := sensorpostgres.NewSensorRepository(db)
		if err := pgSensors.EnsureSchema(ctx); err != nil {
			logger.Fatalf("sensor schema error: %v", err)
		}
		sensorRepo = pgSensors
	} else {
		logger.Printf("no database configured, using in-memory repositories with %d static farms", len(trackingCfg.Farms))
		farmRepo = trackingmemory.NewFarmRepository(trackingCfg.Farms...)
		notificationRepo = trackingmemory.NewNotificationRepository()
		sensorRepo = sensormemory.NewSensorRepository()
	}

	metrics.RegisterUnreadGauge(notificationRepo, logger)

	states, closeStates, err := openStateStore(ctx, cfg)
	if err != nil {
		logger.Fatalf("state store error: %v", err)
	}
	defer closeStates()

	feeds, err := buildFeedSource(cfg, trackingCfg, sensorRepo)
	if err != nil {
		logger.Fatalf("feed source error: %v", err)
	}

	broker := trackinghttp.NewSSEBroker()
	pushers := []notify.Pusher{broker}
	if cfg.WebhookURL != "" {
		webhook, err := notify.NewWebhookChannel(cfg.WebhookURL)
		if err != nil {
			logger.Fatalf("webhook channel error: %v", err)
		}
		pushers = append(pushers, webhook)
	}
	if cfg.MQTTBroker != "" {
		channel, client, err := notify.DialMQTT(cfg.MQTTBroker, cfg.MQTTClientID, cfg.MQTTTopicPrefix)
		if err != nil {
			logger.Fatalf("mqtt channel error: %v", err)
		}
		defer func(client mqtt.Client) { client.Disconnect(250) }(client)
		pushers = append(pushers, channel)
	}
	pushTemplate, err := notify.NewTemplate(cfg.PushTemplate)
	if err != nil {
		logger.Fatalf("push template error: %v", err)
	}
	emitter := notify.NewEmitter(
		notify.NewMultiPusher(pushers...),
		notificationRepo,
		notify.WithTemplate(pushTemplate),
		notify.WithLogger(logger),
		notify.WithDeliveryTimeout(cfg.PushTimeout),
	)

	engine, err := trackingapp.NewEngine(
		feeds,
		states,
		emitter,
		trackingapp.WithLogger(logger),
		trackingapp.WithStaleAfter(trackingCfg.StaleAfter),
		trackingapp.WithRestoreAlerts(trackingCfg.RestoreAlertsEnabled()),
		trackingapp.WithCollarDirectory(farmRepo),
	)
	if err != nil {
		logger.Fatalf("tracking engine error: %v", err)
	}
	farmService, err := trackingapp.NewFarmService(farmRepo, states, feeds, logger)
	if err != nil {
		logger.Fatalf("farm service error: %v", err)
	}
	scheduler, err := trackingapp.NewScheduler(
		engine,
		farmService,
		trackingCfg.PollInterval,
		logger,
		trackingapp.WithPassTimeout(trackingCfg.PassTimeout),
	)
	if err != nil {
		logger.Fatalf("tracking scheduler error: %v", err)
	}
	go scheduler.Start(ctx)

	farmHandler, err := trackinghttp.NewFarmHandler(farmService, scheduler, logger)
	if err != nil {
		logger.Fatalf("farm handler error: %v", err)
	}
	notificationHandler, err := trackinghttp.NewNotificationHandler(notificationRepo, logger)
	if err != nil {
		logger.Fatalf("notification handler error: %v", err)
	}
	sensorHandler, err := sensorhttp.NewHandler(sensorRepo, logger)
	if err != nil {
		logger.Fatalf("sensor handler error: %v", err)
	}

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, []string{"/ingest/"})
	farmGate := auth.NewFarmGate([]byte(cfg.JWTSecret), policy)
	gatewayAuth := auth.NewGatewayVerifier([]byte(cfg.IngestSecret), time.Duration(cfg.IngestSkewSeconds)*time.Second)

	mux := http.NewServeMux()
	mux.Handle("/ingest/sensors", gatewayAuth.Wrap(sensorHandler))
	mux.Handle("/api/v1/sensors", sensorHandler)
	mux.Handle("/api/v1/sensors/", sensorHandler)
	mux.Handle("/api/v1/farms", farmHandler)
	mux.Handle("/api/v1/farms/", farmHandler)
	mux.Handle("/api/v1/collars", farmHandler)
	mux.Handle("/api/v1/collars/", farmHandler)
	mux.Handle("/api/v1/notifications", notificationHandler)
	mux.Handle("/api/v1/notifications/", notificationHandler)
	mux.Handle("/api/v1/alerts/stream", trackinghttp.NewStreamHandler(broker))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: loggingMiddleware(farmGate.Wrap(mux), logger)}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Printf("http shutdown error: %v", err)
		}
	}()

	logger.Printf("http listening on %s", cfg.HTTPAddr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("http server error: %v", err)
	}
	logger.Printf("shutdown complete")
}

type notificationStore interface {
	trackingapp.NotificationStore
	metrics.UnreadCounter
}

type config struct {
	DatabaseURL       string
	HTTPAddr          string
	StateBackend      string
	StatePath         string
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	RedisPrefix       string
	FeedSource        string
	ArchiveFeedLimit  int
	WebhookURL        string
	MQTTBroker        string
	MQTTClientID      string
	MQTTTopicPrefix   string
	PushTemplate      string
	PushTimeout       time.Duration
	JWTSecret         string
	IngestSecret      string
	IngestSkewSeconds int
}

func loadConfig() config {
	cfg := config{
		DatabaseURL:       getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:          getenvDefault("HTTP_ADDR", ":8080"),
		StateBackend:      strings.ToLower(getenvDefault("STATE_BACKEND", "sqlite")),
		StatePath:         getenvDefault("STATE_SQLITE_PATH", "data/state.db"),
		RedisAddr:         getenvDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword:     getenvDefault("REDIS_PASSWORD", ""),
		RedisDB:           getenvIntDefault("REDIS_DB", 0),
		RedisPrefix:       getenvDefault("REDIS_KEY_PREFIX", "livestock:"),
		FeedSource:        strings.ToLower(getenvDefault("FEED_SOURCE", "thingspeak")),
		ArchiveFeedLimit:  getenvIntDefault("ARCHIVE_FEED_LIMIT", 1000),
		WebhookURL:        getenvDefault("ALERT_WEBHOOK_URL", ""),
		MQTTBroker:        getenvDefault("MQTT_BROKER", ""),
		MQTTClientID:      getenvDefault("MQTT_CLIENT_ID", ""),
		MQTTTopicPrefix:   getenvDefault("MQTT_TOPIC_PREFIX", "livestock"),
		PushTemplate:      getenvDefault("ALERT_PUSH_TEMPLATE", ""),
		PushTimeout:       getenvDuration("ALERT_PUSH_TIMEOUT", 10*time.Second),
		JWTSecret:         getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
		IngestSecret:      getenvDefault("INGEST_HMAC_SECRET", ""),
		IngestSkewSeconds: getenvIntDefault("INGEST_MAX_SKEW_SECONDS", 300),
	}
	if cfg.JWTSecret == "" {
		log.Fatal("AUTH_JWT_SECRET is required")
	}
	return cfg
}

// openStateStore selects the collar state backend and returns its closer.
func openStateStore(ctx context.Context, cfg config) (trackingapp.StateStore, func(), error) {
	switch cfg.StateBackend {
	case "sqlite", "":
		store, err := trackingsqlite.Open(ctx, cfg.StatePath)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	case "redis":
		store, err := trackingredis.Open(ctx, trackingredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	case "memory":
		return trackingmemory.NewStateStore(), func() {}, nil
	default:
		return nil, nil, errors.New("unknown STATE_BACKEND " + cfg.StateBackend)
	}
}

func buildFeedSource(cfg config, trackingCfg trackingapp.Config, sensors telemetry.SensorRepository) (trackingapp.FeedSource, error) {
	switch cfg.FeedSource {
	case "thingspeak", "":
		var opts []thingspeak.Option
		if trackingCfg.Feed.Results > 0 {
			opts = append(opts, thingspeak.WithResults(trackingCfg.Feed.Results))
		}
		return thingspeak.NewClient(trackingCfg.Feed.BaseURL, trackingCfg.Feed.ChannelID, trackingCfg.Feed.APIKey, opts...)
	case "archive":
		return sensorpostgres.NewFeedSource(sensors, cfg.ArchiveFeedLimit), nil
	default:
		return nil, errors.New("unknown FEED_SOURCE " + cfg.FeedSource)
	}
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Flush keeps the SSE stream working through the logging wrapper.
func (w *statusWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
