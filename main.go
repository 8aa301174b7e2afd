package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"coachconnect-chat/internal/broker"
	"coachconnect-chat/internal/config"
	"coachconnect-chat/internal/db"
	"coachconnect-chat/internal/delivery"
	"coachconnect-chat/internal/grpcserver"
	"coachconnect-chat/internal/handlers"
	"coachconnect-chat/internal/identity"
	"coachconnect-chat/internal/logging"
	"coachconnect-chat/internal/middleware"
	"coachconnect-chat/internal/observability"
	"coachconnect-chat/internal/rabbitmq"
	"coachconnect-chat/internal/ratelimit"
	"coachconnect-chat/internal/repositories"
	"coachconnect-chat/internal/session"
	"coachconnect-chat/internal/summary"
	"coachconnect-chat/internal/telemetry"
	"coachconnect-chat/internal/ws"
)

const serviceName = "coachconnect-chat"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.OTLPEndpoint, serviceName, cfg.Environment)
	if err != nil {
		logger.Fatal("failed to init tracing", zap.Error(err))
	}

	store, database, err := openStore(cfg, logger)
	if err != nil {
		logger.Fatal("failed to open message store", zap.Error(err))
	}

	var redisClient *redis.Client
	if cfg.Broker == config.BrokerRedis || cfg.RateLimitEnabled() {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	}

	bus, err := openBus(cfg, redisClient, logger)
	if err != nil {
		logger.Fatal("failed to open event bus", zap.Error(err))
	}

	publisher := rabbitmq.NewPublisher(rabbitmq.Config{
		URL:         cfg.AMQPURL,
		Exchange:    cfg.AMQPExchange,
		DialTimeout: cfg.AMQPDialTimeout,
	}, logger)
	logger.Info("amqp publisher ready",
		zap.String("mode", rabbitmq.PublisherMode(publisher)),
		zap.String("noop_reason", rabbitmq.PublisherNoopReason(publisher)),
	)
	auditEmitter := telemetry.NewAuditEmitter(publisher, cfg.AuditRoutingKey, serviceName, cfg.Environment, logger)
	wsEvents := observability.NewEventPublisher(publisher, logger)

	registry := ws.NewRegistry()
	summaries := summary.New()

	routerOpts := []delivery.Option{delivery.WithAuditor(auditEmitter)}
	if cfg.RateLimitEnabled() {
		rule := ratelimit.MessageRule(cfg.RateLimitMessages, cfg.RateLimitWindow)
		routerOpts = append(routerOpts, delivery.WithLimiter(ratelimit.New(redisClient, rule, logger)))
	}
	chatRouter := delivery.NewRouter(store, registry, summaries, bus, delivery.Config{
		PersistTimeout:      cfg.PersistTimeout,
		CrossDeviceReadSync: cfg.CrossDeviceReadSync,
	}, logger, routerOpts...)
	if err := chatRouter.Start(); err != nil {
		logger.Fatal("failed to subscribe to event bus", zap.Error(err))
	}

	resolver := identity.NewJWTResolver(cfg.JWTSecret, cfg.JWTIssuer)
	sessions := session.NewManager(resolver, store, registry, summaries, chatRouter, wsEvents, session.Config{
		SendBuffer: cfg.SendBuffer,
	}, logger)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(otelgin.Middleware(serviceName))
	engine.Use(observability.RequestIDMiddleware())
	engine.Use(observability.HTTPMetricsMiddleware())
	engine.Use(gin.Recovery())

	chatHandler := handlers.NewChatHandler(store, chatRouter, logger)
	wsHandler := handlers.NewWebSocketHandler(sessions, logger)
	authMiddleware := middleware.AuthMiddleware(resolver)

	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "connections": registry.Count()})
	})

	authed := engine.Group("/", authMiddleware)
	authed.GET("/chats", chatHandler.ListChats)
	authed.GET("/chats/unread", chatHandler.UnreadCount)
	authed.GET("/chats/:peer_id/messages", chatHandler.GetMessages)
	authed.POST("/chats/:peer_id/messages", chatHandler.PostMessage)
	authed.POST("/chats/:peer_id/read", chatHandler.MarkRead)
	handlers.RegisterDebugRoutes(authed, handlers.DebugDeps{
		Audit:     auditEmitter,
		Registry:  registry,
		Summaries: summaries,
	}, cfg.DebugRoutes)

	engine.GET("/ws", wsHandler.Handle)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	grpcServer := grpcserver.New(logger)
	grpcListener, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		logger.Fatal("failed to listen for grpc", zap.Error(err))
	}
	go func() {
		if err := grpcServer.Serve(grpcListener); err != nil {
			logger.Error("grpc server stopped", zap.Error(err))
		}
	}()
	if database != nil {
		go grpcServer.Watch(ctx, 15*time.Second, database.PingContext)
	}
	grpcServer.SetServing(true)

	go func() {
		logger.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	grpcServer.SetServing(false)
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if err := chatRouter.Drain(shutdownCtx); err != nil {
		logger.Warn("pending deliveries abandoned", zap.Error(err))
	}
	grpcServer.GracefulStop()

	if err := bus.Close(); err != nil {
		logger.Warn("event bus close", zap.Error(err))
	}
	if err := publisher.Close(); err != nil {
		logger.Warn("amqp publisher close", zap.Error(err))
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
	if database != nil {
		_ = database.Close()
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracing shutdown", zap.Error(err))
	}
}

// openStore uses Postgres when DB_DSN is set and the in-memory store
// otherwise.
func openStore(cfg *config.Config, logger *zap.Logger) (repositories.MessageStore, *sqlx.DB, error) {
	if cfg.DBDSN == "" {
		logger.Warn("DB_DSN not set, messages are kept in memory")
		return repositories.NewMemoryStore(), nil, nil
	}
	database, err := db.Connect(cfg.DBDSN, logger)
	if err != nil {
		return nil, nil, err
	}
	return repositories.NewSQLStore(database), database, nil
}

func openBus(cfg *config.Config, redisClient *redis.Client, logger *zap.Logger) (broker.Bus, error) {
	switch cfg.Broker {
	case config.BrokerRedis:
		logger.Info("event bus", zap.String("broker", cfg.Broker), zap.String("addr", cfg.RedisAddr))
		return broker.NewRedis(redisClient, logger), nil
	case config.BrokerNATS:
		logger.Info("event bus", zap.String("broker", cfg.Broker), zap.String("url", cfg.NATSURL))
		return broker.DialNATS(cfg.NATSURL, logger)
	default:
		logger.Info("event bus", zap.String("broker", config.BrokerLocal))
		return broker.NewLocal(), nil
	}
}
