package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/hilthontt/roomrelay/internal/infrastructure/configs"
	"github.com/hilthontt/roomrelay/internal/infrastructure/events"
	"github.com/hilthontt/roomrelay/internal/infrastructure/logging"
	"github.com/hilthontt/roomrelay/internal/infrastructure/messaging"
	"github.com/hilthontt/roomrelay/internal/infrastructure/metrics"
	"github.com/hilthontt/roomrelay/internal/infrastructure/ratelimiter"
	"github.com/hilthontt/roomrelay/internal/infrastructure/tracing"
	"github.com/hilthontt/roomrelay/internal/infrastructure/ws"
	"github.com/hilthontt/roomrelay/internal/presentation/api"
	"github.com/hilthontt/roomrelay/internal/presentation/handler/health"
	"github.com/hilthontt/roomrelay/internal/presentation/handler/rooms"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const serviceName = "roomrelay"

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using process environment")
	}

	cfg, err := configs.Load(configs.DetermineConfigPath())
	if err != nil {
		log.Fatal(err)
	}

	logger, err := logging.NewLogger(&logging.LoggerConfig{
		FilePath: cfg.Logger.FilePath,
		Encoding: cfg.Logger.Encoding,
		Level:    cfg.Logger.Level,
		Logger:   cfg.Logger.Logger,
	})
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := tracing.InitTracer(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: serviceName,
		Environment: cfg.Tracing.Environment,
		Exporter:    cfg.Tracing.Exporter,
		Endpoint:    cfg.Tracing.Endpoint,
	})
	if err != nil {
		logger.Fatal(logging.Tracing, logging.Startup, "failed to initialise tracing", map[logging.ExtraKey]any{
			logging.ErrorMessage: err.Error(),
		})
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(flushCtx); err != nil {
			logger.Warnf("tracer shutdown: %v", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	relayMetrics := metrics.NewRelay(registry)

	var publisher events.Publisher = events.NopPublisher{}
	stopPublisher := func() {}
	if cfg.Events.RabbitMQURI != "" {
		rabbitmq, err := messaging.NewRabbitMQ(cfg.Events.RabbitMQURI, cfg.Events.Exchange)
		if err != nil {
			logger.Fatal(logging.RabbitMQ, logging.Startup, "failed to connect to RabbitMQ", map[logging.ExtraKey]any{
				logging.ErrorMessage: err.Error(),
			})
		}
		defer rabbitmq.Close()

		roomPublisher := events.NewRoomPublisher(rabbitmq, cfg.Events.QueueSize, logger, relayMetrics.IncDroppedEvents)
		// Stopped after the relay, so events from its shutdown pass still go out.
		publisherCtx, cancelPublisher := context.WithCancel(context.Background())
		publisherDone := make(chan struct{})
		go func() {
			defer close(publisherDone)
			roomPublisher.Run(publisherCtx)
		}()
		stopPublisher = func() {
			cancelPublisher()
			<-publisherDone
		}
		publisher = roomPublisher

		logger.Info(logging.RabbitMQ, logging.Startup, "publishing room lifecycle events", map[logging.ExtraKey]any{
			"Exchange": cfg.Events.Exchange,
		})
	}

	core := ws.NewCore(ws.Config{
		MaxFrameSize:      cfg.Relay.MaxFrameSize,
		MaxBufferedBytes:  cfg.Relay.MaxBufferedBytes,
		HeartbeatInterval: cfg.Relay.HeartbeatInterval,
		EventQueueSize:    cfg.Relay.EventQueueSize,
		RateLimit:         cfg.RateLimiter.Messages,
		RateWindow:        cfg.RateLimiter.Window,
		Rooms: ws.RoomLimits{
			MaxRooms:          cfg.Relay.MaxRooms,
			MaxMembersPerRoom: cfg.Relay.MaxMembersPerRoom,
			MaxRoomIDLength:   cfg.Relay.MaxRoomIDLength,
			MaxNameLength:     cfg.Relay.MaxNameLength,
			MaxMessageLength:  cfg.Relay.MaxMessageLength,
			MaxFileSize:       float64(cfg.Relay.MaxFileSize),
		},
	}, logger,
		ws.WithMetrics(relayMetrics),
		ws.WithPublisher(publisher),
		ws.WithTracer(tracing.GetTracer(serviceName+"/ws")),
	)

	coreCtx, stopCore := context.WithCancel(context.Background())
	go core.Run(coreCtx)

	upgradeLimiter := ratelimiter.NewFixedWindowRateLimiter(
		cfg.RateLimiter.UpgradesPerWindow,
		cfg.RateLimiter.UpgradeWindow,
		cfg.RateLimiter.SourceHeaderKey,
		nil,
	)
	defer upgradeLimiter.Close()

	app := api.NewApplication(
		*cfg,
		rooms.NewHandler(core, cfg.HTTP.AllowedOrigins, logger),
		health.NewHandler(),
		metrics.Handler(registry),
		logger,
		upgradeLimiter,
	)

	if err := app.Run(ctx, app.Mount()); err != nil {
		logger.Error(logging.General, logging.Shutdown, "server stopped with error", map[logging.ExtraKey]any{
			logging.ErrorMessage: err.Error(),
		})
	}

	// Stop accepting upgrades first, then close live connections with 1001.
	stopCore()
	<-core.Done()

	flushCtx, cancelFlush := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancelFlush()
	if err := core.Wait(flushCtx); err != nil {
		logger.Warn(logging.Relay, logging.Shutdown, "close frames not flushed", map[logging.ExtraKey]any{
			logging.ErrorMessage: err.Error(),
		})
	}

	stopPublisher()
}
