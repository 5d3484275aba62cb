// internal/app/server.go
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"

	"carelink-service/internal/config"
	"carelink-service/internal/db"
	authHandler "carelink-service/internal/handlers/auth"
	"carelink-service/internal/middleware"
	"carelink-service/internal/pkg/jwt"
	"carelink-service/internal/pkg/session"
	"carelink-service/internal/repository/postgres"
	authUsecase "carelink-service/internal/service/auth"
	"carelink-service/internal/service/email"
	"carelink-service/internal/ws"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Server struct {
	cfg         config.AppConfig
	engine      *gin.Engine
	httpSrv     *http.Server
	logger      *zap.Logger
	authService *authUsecase.AuthService
}

func NewServer() *Server {
	cfg := config.Load()
	engine := gin.New()
	return &Server{
		cfg:     cfg,
		engine:  engine,
		httpSrv: &http.Server{Addr: cfg.HTTPAddr, Handler: engine},
	}
}

func (s *Server) Start() error {
	ctx := context.Background()

	// ----- PostgreSQL -----
	pool, err := db.ConnectDB()
	if err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	// ----- Redis -----
	redisClient, err := db.NewRedisClient(db.RedisConfig{
		Addr:     s.cfg.RedisAddr,
		Password: s.cfg.RedisPass,
		DB:       0,
		PoolSize: 10,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	// ----- Logger -----
	logger, _ := zap.NewProduction()
	defer logger.Sync()
	s.logger = logger

	// ----- JWT Manager -----
	jwtManager, err := jwt.LoadAndBuild(s.cfg.JWT)
	if err != nil {
		return fmt.Errorf("failed to load JWT manager: %w", err)
	}

	// ----- Session state & rate limiter -----
	sessionManager := session.NewManager(redisClient)
	rateLimiter := session.NewRateLimiter(redisClient)

	// ----- Email -----
	emailSender := email.NewEmailSender(
		s.cfg.SMTPHost,
		s.cfg.SMTPPort,
		s.cfg.SMTPUser,
		s.cfg.SMTPPass,
		s.cfg.SMTPFromName,
		s.cfg.SMTPSecure,
	)
	emailHelper := authUsecase.NewEmailHelper(emailSender, logger, s.cfg.BaseURL)

	// ----- Repositories -----
	userRepo := postgres.NewUserRepository(pool)
	resetRepo := postgres.NewResetTokenRepository(pool)

	// ----- WebSocket hub -----
	hub := ws.NewHub(jwtManager.Verifier, sessionManager, logger)

	// ----- Services -----
	authService := authUsecase.NewAuthService(
		userRepo,
		resetRepo,
		jwtManager,
		sessionManager,
		rateLimiter,
		hub,
		emailHelper,
		logger,
	)
	s.authService = authService

	// ----- Handlers -----
	authHandlerInst := authHandler.NewAuthHandler(authService, logger)
	wsHandlerInst := ws.NewHandler(hub, logger)

	// ----- Middlewares -----
	authMiddleware := middleware.NewAuthMiddleware(authService, LogoutPath)

	s.engine.Use(
		middleware.RecoveryMiddleware(logger),
		middleware.LoggingMiddleware(logger),
		middleware.CORSMiddleware(s.cfg.AllowedOrigins...),
	)

	// ----- Router -----
	handlers := &Handlers{
		AuthHandler:    authHandlerInst,
		WSHandler:      wsHandlerInst,
		AuthMiddleware: authMiddleware,
	}
	SetupRouter(s.engine, logger, handlers)

	// ----- Start HTTP -----
	log.Printf("server running on %s", s.cfg.HTTPAddr)
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting new connections and drains in-flight requests
// until ctx expires. Safe to call on a server that never started.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}
