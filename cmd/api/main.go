package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "debtapproval/api/swagger" // swagger docs
	"debtapproval/internal/config"
	"debtapproval/internal/conversation"
	"debtapproval/internal/database"
	"debtapproval/internal/handler"
	"debtapproval/internal/ingestion"
	"debtapproval/internal/middleware"
	"debtapproval/internal/repository"
	"debtapproval/internal/repository/memory"
	"debtapproval/internal/routing"
	"debtapproval/internal/service"
	"debtapproval/internal/websocket"
	"debtapproval/pkg/logger"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// @title           Debt Approval API
// @version         1.0
// @description     Monthly debt write-off and extension requests with a staged approval workflow.
// @host            localhost:8080
// @BasePath        /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		logrus.Fatalf("Config load failed: %v", err)
	}
	log := logger.New(cfg.Logging)

	repos, err := openRepositories(cfg, log)
	if err != nil {
		log.Fatalf("Database connection failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Push channel
	wsHub := websocket.NewHub(log)
	go wsHub.Run(ctx)

	// Workflow core
	router := routing.NewRouter(repos, log)
	notifier := service.NewNotifier(wsHub, log)
	lifecycleService := service.NewLifecycleService(repos, router, notifier, log)
	blockService := service.NewBlockService(repos, log)
	statisticsService := service.NewStatisticsService(repos)
	auditService := service.NewAuditService(repos)

	engine := ingestion.NewEngine(ingestion.Options{
		HeaderScanRows:      cfg.Ingestion.HeaderScanRows,
		TokenMatchRatio:     cfg.Ingestion.TokenMatchRatio,
		MismatchSampleLimit: cfg.Ingestion.MismatchSampleLimit,
	})
	drafts := conversation.NewDraftStore(cfg.Workflow.DraftTTL)
	machine := conversation.NewMachine(drafts, router, lifecycleService, engine, repos, log)

	sweeper := service.NewSweeper(cfg.Workflow, repos, router, notifier, drafts, log)
	go sweeper.Run(ctx)

	// Handlers
	secret := []byte(cfg.Auth.JWTSecret)
	requestHandler := handler.NewRequestHandler(lifecycleService)
	conversationHandler := handler.NewConversationHandler(machine, cfg.Ingestion.MaxUploadBytes)
	blockHandler := handler.NewBlockHandler(blockService)
	statisticsHandler := handler.NewStatisticsHandler(statisticsService)
	auditHandler := handler.NewAuditHandler(auditService)
	wsHandler := handler.NewWSHandler(wsHub, machine, lifecycleService, secret)

	gin.SetMode(cfg.Server.Mode)
	engineHTTP := gin.New()
	engineHTTP.Use(gin.Recovery(), requestLogger(log))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.CORS.AllowedOrigins
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", "Accept"}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	engineHTTP.Use(cors.New(corsConfig))

	engineHTTP.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	engineHTTP.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "OK"})
	})
	wsHandler.RegisterRoutes(engineHTTP)

	api := engineHTTP.Group("", middleware.Authenticate(secret))
	requestHandler.RegisterRoutes(api)
	conversationHandler.RegisterRoutes(api)
	blockHandler.RegisterRoutes(api)
	statisticsHandler.RegisterRoutes(api)
	auditHandler.RegisterRoutes(api)

	srv := &http.Server{
		Addr:         cfg.Server.GetServerAddress(),
		Handler:      engineHTTP,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Infof("Server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Server shutdown failed: %v", err)
	}
}

// openRepositories picks the storage backend named by database.driver.
func openRepositories(cfg *config.Config, log *logrus.Logger) (*repository.Repositories, error) {
	if cfg.Database.Driver == "memory" {
		log.Warn("Using the in-memory store; data is lost on restart")
		return memory.NewStore().Repositories(), nil
	}
	db, err := database.NewConnection(cfg.Database, log)
	if err != nil {
		return nil, err
	}
	log.Info("Connected to PostgreSQL successfully.")
	return repository.NewGormRepositories(db), nil
}

func requestLogger(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		}).Info("http request")
	}
}
