package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/studyroom/backend/config"
	"github.com/studyroom/backend/internal/auth"
	"github.com/studyroom/backend/internal/cache"
	"github.com/studyroom/backend/internal/database"
	"github.com/studyroom/backend/internal/handlers"
	"github.com/studyroom/backend/internal/loggers"
	"github.com/studyroom/backend/internal/metrics"
	"github.com/studyroom/backend/internal/middleware"
	"github.com/studyroom/backend/internal/repository"
	"github.com/studyroom/backend/internal/websocket"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := loggers.NewZap(cfg.Server.LogLevel)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}

	// Connect to database
	db, err := database.NewPostgresDB(cfg.GetDSN())
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Run migrations
	logger.Info("Running database migrations...")
	if err := database.RunMigrations(db.DB); err != nil {
		logger.Fatalf("Failed to run migrations: %v", err)
	}
	logger.Info("Migrations completed successfully")

	// Connect to Redis
	redis, err := cache.NewRedisClient(cfg.GetRedisAddr(), cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Warnf("Failed to connect to Redis: %v", err)
		logger.Warn("Running without Redis - sessions are limited to this instance")
		redis = nil
	} else {
		defer redis.Close()
	}

	// Initialize services
	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpiryHours)
	m := metrics.New()

	// Initialize repositories
	userRepo := repository.NewUserRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	msgRepo := repository.NewMessageRepository(db)
	boardRepo := repository.NewBoardRepository(db)
	docRepo := repository.NewDocumentRepository(db)
	materialRepo := repository.NewMaterialRepository(db)

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(userRepo, jwtService)
	sessionHandler := handlers.NewSessionHandler(sessionRepo)
	msgHandler := handlers.NewMessageHandler(msgRepo, sessionRepo)
	materialHandler := handlers.NewMaterialHandler(materialRepo, sessionRepo, cfg.Materials.Dir, cfg.Materials.MaxUploadSize)

	// Initialize WebSocket hub
	hub := websocket.NewHub(redis, msgRepo, boardRepo, docRepo, logger, m)
	wsHandler := websocket.NewHandler(hub, jwtService, sessionRepo, cfg.CORS.AllowedOrigins)

	// Initialize rate limiter
	rateLimiter := middleware.NewRateLimiter(cfg.API.RateLimitMessagesPerSec)
	rateLimiter.Cleanup()

	// Setup Gin router
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()

	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(m.Reg, promhttp.HandlerOpts{})))

	// Public routes
	authRoutes := router.Group("/api/auth")
	{
		authRoutes.POST("/register", authHandler.Register)
		authRoutes.POST("/login", authHandler.Login)
	}

	// The session event channel
	router.GET("/ws/sessions/:id", wsHandler.HandleWebSocket)

	// Protected routes
	api := router.Group("/api")
	api.Use(middleware.AuthMiddleware(jwtService))
	{
		api.GET("/me", authHandler.GetMe)
		api.GET("/webrtc-config", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"stun_servers": cfg.WebRTC.STUNServers})
		})

		api.GET("/sessions", sessionHandler.GetSessions)
		api.POST("/sessions", sessionHandler.CreateSession)
		api.POST("/sessions/join", sessionHandler.JoinSession)
		api.GET("/sessions/:id", sessionHandler.GetSession)
		api.DELETE("/sessions/:id", sessionHandler.DeleteSession)

		api.GET("/sessions/:id/messages", msgHandler.GetMessages)
		api.POST("/messages", middleware.RateLimitMiddleware(rateLimiter), msgHandler.SendMessage)

		api.GET("/sessions/:id/materials", materialHandler.List)
		api.POST("/sessions/:id/materials", materialHandler.Upload)
		api.GET("/sessions/:id/materials/:materialId", materialHandler.Download)
		api.DELETE("/sessions/:id/materials/:materialId", materialHandler.Delete)
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("Server starting on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatalf("Server error: %v", err)
	}
}
