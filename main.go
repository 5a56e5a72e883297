package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"marketplace-chat/internal/config"
	"marketplace-chat/internal/db"
	"marketplace-chat/internal/encryption"
	"marketplace-chat/internal/handlers"
	"marketplace-chat/internal/middleware"
	"marketplace-chat/internal/obs"
	"marketplace-chat/internal/observability"
	"marketplace-chat/internal/rabbitmq"
	"marketplace-chat/internal/repositories"
	"marketplace-chat/internal/service"
	"marketplace-chat/internal/storage/memory"
	"marketplace-chat/internal/telemetry"
	"marketplace-chat/internal/ws"
)

const (
	serviceName     = "marketplace-chat"
	auditRoutingKey = "audit.chat"
)

type storage struct {
	chats    repositories.ChatRepository
	messages repositories.MessageRepository
	users    repositories.UserRepository
	ready    obs.Check
	close    func() error
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config error", "error", err)
		os.Exit(1)
	}

	logger := obs.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel, serviceName)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, serviceName, cfg.OTLPEndpoint)
	if err != nil {
		logger.Error("tracing setup failed", "error", err)
		os.Exit(1)
	}

	store, err := openStorage(ctx, cfg, logger)
	if err != nil {
		logger.Error("storage init failed", "error", err)
		os.Exit(1)
	}
	defer store.close()

	cipher, err := encryption.NewCipher([]byte(cfg.EncryptionKey))
	if err != nil {
		logger.Error("cipher init failed", "error", err)
		os.Exit(1)
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, logger)
	defer publisher.Close()
	observability.SetPublisher(publisher)
	audit := telemetry.NewAuditEmitter(publisher, auditRoutingKey, serviceName, cfg.Env, logger)

	messaging := service.NewMessagingService(store.chats, store.messages, store.users, cipher, logger)
	unread := service.NewUnreadAggregator(store.chats, store.messages)
	auth := middleware.NewAuthenticator(cfg.JWTSecret, store.users)
	hub := ws.NewHub(logger)

	chatHandler := handlers.NewChatHandler(messaging, hub, audit, logger)
	unreadHandler := handlers.NewUnreadHandler(unread, logger)
	chatWS := ws.NewChatWebSocketHandler(hub, messaging, auth)

	if !cfg.IsDev() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// middlewares
	router.Use(gin.Recovery(), obs.RequestID(), otelgin.Middleware(serviceName), observability.HTTPMetricsMiddleware(), obs.AccessLog(logger, "/healthz", "/readyz", "/metrics"))

	probes := obs.Probes{Checks: map[string]obs.Check{"storage": store.ready}, Timeout: 2 * time.Second}
	router.GET("/healthz", probes.Live)
	router.GET("/readyz", probes.Ready)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	handlers.RegisterDebugRoutes(router, audit, cfg.IsDev())

	users := router.Group("/users/:username", middleware.AuthMiddleware(auth), middleware.RequirePathUser())
	handlers.RegisterUserRoutes(users, chatHandler, unreadHandler)

	router.GET("/ws/chats/:chat_id", chatWS.Handle)

	seedUsers(ctx, cfg, store, auth, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("chat service listening", "port", cfg.Port, "storage", cfg.StorageDriver, "publisher", rabbitmq.PublisherMode(publisher))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	hub.CloseAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("tracing shutdown failed", "error", err)
	}
}

func openStorage(ctx context.Context, cfg config.Config, logger *slog.Logger) (storage, error) {
	if cfg.StorageDriver == config.StorageMemory {
		mem := memory.NewStore()
		for _, username := range cfg.SeedUsers {
			mem.AddUser(username)
		}
		logger.Warn("using in-memory storage, data is lost on restart", "seeded_users", len(cfg.SeedUsers))
		return storage{
			chats:    mem,
			messages: mem,
			users:    mem,
			ready:    func(context.Context) error { return nil },
			close:    func() error { return nil },
		}, nil
	}

	database, err := db.Connect(ctx, db.Options{DSN: cfg.DBDSN, MaxOpenConns: cfg.DBMaxOpenConns}, logger)
	if err != nil {
		return storage{}, err
	}
	return storage{
		chats:    repositories.NewChatRepo(database),
		messages: repositories.NewMessageRepo(database),
		users:    repositories.NewUserRepo(database),
		ready: database.PingContext,
		close: database.Close,
	}, nil
}

// seedUsers logs a short-lived token per seeded user so a dev instance can be
// exercised without the marketplace account service.
func seedUsers(ctx context.Context, cfg config.Config, store storage, auth *middleware.Authenticator, logger *slog.Logger) {
	if !cfg.IsDev() {
		return
	}
	for _, username := range cfg.SeedUsers {
		if _, err := store.users.FindByUsername(ctx, username); err != nil {
			logger.Warn("seed user not found", "username", username, "error", err)
			continue
		}
		token, err := auth.Issue(username, 24*time.Hour)
		if err != nil {
			logger.Warn("seed token failed", "username", username, "error", err)
			continue
		}
		logger.Info("dev token", "username", username, "token", token)
	}
}
