package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"patrol-beat-tracker/bot"
	"patrol-beat-tracker/config"
	"patrol-beat-tracker/internal/handlers"
	"patrol-beat-tracker/internal/models"
	"patrol-beat-tracker/internal/positioning"
	"patrol-beat-tracker/internal/repository"
	"patrol-beat-tracker/internal/services"
)

func main() {
	envFile := flag.String("env-file", "", "env file to load instead of .env")
	addr := flag.String("addr", "", "control API listen address (overrides HTTP_ADDR)")
	logLevel := flag.String("log-level", "", "log level (overrides LOG_LEVEL)")
	flag.Parse()

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	// Load configuration
	var files []string
	if *envFile != "" {
		files = append(files, *envFile)
	}
	cfg, err := config.LoadConfig(files...)
	if err != nil {
		logrus.WithError(err).Fatal("❌ Failed to load config")
	}
	if *addr != "" {
		cfg.HTTPAddr = *addr
	}
	if *logLevel != "" {
		level, err := logrus.ParseLevel(*logLevel)
		if err != nil {
			logrus.WithError(err).Fatal("❌ Invalid --log-level")
		}
		cfg.LogLevel = level
	}
	logrus.SetLevel(cfg.LogLevel)
	logrus.WithFields(logrus.Fields{
		"data":     cfg.DataBackend,
		"location": cfg.LocationBackend,
		"mqtt":     cfg.MQTTBroker != "",
	}).Info("✅ Config loaded")

	// Create application context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logrus.Info("🛑 Shutdown signal received, initiating graceful shutdown...")
		cancel()
	}()

	app, err := initApplication(ctx, cfg)
	if err != nil {
		logrus.WithError(err).Fatal("❌ Failed to initialize application")
	}
	defer app.close()

	if cfg.PocketBaseToken != "" {
		if p, err := app.engine.Restore(ctx); err != nil {
			logrus.WithError(err).Warn("⚠️ Could not restore session")
		} else if p != nil {
			logrus.WithField("principal", p.ID).Info("🔑 Session restored")
		}
	}

	if cfg.LogLevel < logrus.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}
	router := handlers.NewRouter(app.handler, promhttp.HandlerFor(app.registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 45 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logrus.WithField("addr", cfg.HTTPAddr).Info("🚀 Control API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Error("❌ Server failed")
			cancel()
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.SyncTimeout+5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("⚠️ Server shutdown error")
	}

	// never leave a live location record behind
	if app.engine.State() != models.OffDuty {
		if err := app.engine.EndDuty(shutdownCtx); err != nil {
			logrus.WithError(err).Error("❌ Could not end duty on shutdown")
		}
	}

	logrus.Info("👋 Server stopped gracefully")
}

type application struct {
	engine   *services.Engine
	handler  *handlers.DutyHandler
	registry *prometheus.Registry
	closers  []func()
}

// close releases resources in reverse order of creation
func (a *application) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// initApplication initializes all application dependencies
func initApplication(ctx context.Context, cfg *config.Config) (*application, error) {
	app := &application{registry: prometheus.NewRegistry()}
	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	fail := func(err error) (*application, error) {
		app.close()
		return nil, err
	}

	// Shared PocketBase client; unused when both backends are local
	client := repository.NewPocketBaseClient(cfg.PocketBaseURL, cfg.RequestTimeout)
	if cfg.PocketBaseToken != "" {
		client.SetToken(cfg.PocketBaseToken)
	}

	var (
		identity    repository.IdentityProvider
		directory   repository.PersonnelDirectory
		assignments repository.AssignmentStore
	)
	switch cfg.DataBackend {
	case config.BackendMemory:
		backend, err := repository.LoadFixtures(cfg.FixturesPath)
		if err != nil {
			return fail(err)
		}
		identity, directory, assignments = backend.IdentityProvider(), backend, backend
		logrus.WithField("fixtures", cfg.FixturesPath).Info("🧪 Using in-memory data backend")
	default:
		identity = repository.NewPocketBaseIdentityProvider(client, "")
		directory = repository.NewPocketBasePersonnelDirectory(client)
		assignments = repository.NewPocketBaseAssignmentRepository(client)
	}

	locations, err := openLocationStore(ctx, cfg, client)
	if err != nil {
		return fail(err)
	}
	if c, ok := locations.(interface{ Close() error }); ok {
		app.closers = append(app.closers, func() { _ = c.Close() })
	}

	// Position source
	var (
		source positioning.Source
		manual *positioning.ManualSource
	)
	if cfg.MQTTBroker != "" {
		mqttSource, err := positioning.NewMQTTSource(positioning.MQTTConfig{
			Broker:            cfg.MQTTBroker,
			DeviceID:          cfg.MQTTDeviceID,
			Username:          cfg.MQTTUsername,
			Password:          cfg.MQTTPassword,
			PermissionTimeout: cfg.PermissionTimeout,
		})
		if err != nil {
			return fail(err)
		}
		app.closers = append(app.closers, mqttSource.Close)
		source = mqttSource
	} else {
		manual = positioning.NewManualSource()
		source = manual
		logrus.Info("📥 No MQTT broker configured, accepting fixes on POST /api/device/fix")
	}

	// Dispatch notifications
	var (
		dispatch *bot.Bot
		sender   bot.Sender
	)
	if cfg.TelegramBotToken != "" {
		dispatch, err = bot.New(cfg.TelegramBotToken, cfg.DispatchChatID)
		if err != nil {
			logrus.WithError(err).Warn("⚠️ Failed to init Telegram Bot")
		} else {
			sender = dispatch
		}
	}
	notifier := bot.NewNotifier(sender)
	app.closers = append(app.closers, notifier.Close)

	// Initialize services
	metrics := services.NewMetrics(app.registry)
	session := services.NewSession(identity, directory, cfg.RequestTimeout)
	tracker := services.NewAssignmentTracker(session, assignments, cfg.RequestTimeout)
	app.engine = services.NewEngine(session, tracker, source, locations, notifier, metrics, services.EngineConfig{
		Interval:        cfg.ReportInterval,
		MinDistance:     cfg.ReportMinDistance,
		DisableDistance: cfg.ReportMinDistance == 0,
		SyncTimeout:     cfg.SyncTimeout,
	})
	app.closers = append(app.closers, app.engine.Close)

	if dispatch != nil {
		dispatch.SetStatusProvider(app.engine)
		dispatch.StartPolling(ctx)
		logrus.Info("🤖 Telegram Bot initialized")
	}

	// Initialize handlers
	app.handler = handlers.NewDutyHandler(app.engine, tracker)
	if manual != nil {
		app.handler.WithFixSink(manual)
	}

	return app, nil
}

func openLocationStore(ctx context.Context, cfg *config.Config, client *repository.PocketBaseClient) (repository.LocationStore, error) {
	switch cfg.LocationBackend {
	case config.BackendSQLite:
		logrus.WithField("path", cfg.SQLitePath).Info("💾 Using sqlite location store")
		return repository.OpenSQLiteLocationStore(ctx, cfg.SQLitePath)
	case config.BackendRedis:
		logrus.WithField("addr", cfg.RedisAddr).Info("💾 Using redis location store")
		return repository.NewRedisLocationStore(ctx, repository.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	case config.BackendMemory:
		return repository.NewMemoryLocationStore(), nil
	default:
		if !client.Configured() {
			logrus.Warn("⚠️ POCKETBASE_URL not set, location sync will fail until configured")
		}
		return repository.NewPocketBaseLocationRepository(client), nil
	}
}
