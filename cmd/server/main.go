package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ipimonitor/ipi-api/internal/config"
	"github.com/ipimonitor/ipi-api/internal/handler"
	"github.com/ipimonitor/ipi-api/internal/middleware"
	"github.com/ipimonitor/ipi-api/internal/remote"
	"github.com/ipimonitor/ipi-api/internal/remote/pgstore"
	"github.com/ipimonitor/ipi-api/internal/remote/supabase"
	"github.com/ipimonitor/ipi-api/internal/repository"
	"github.com/ipimonitor/ipi-api/internal/service"
	"github.com/ipimonitor/ipi-api/internal/session"
	"github.com/ipimonitor/ipi-api/internal/ws"
	"github.com/ipimonitor/ipi-api/migrations"
	"github.com/ipimonitor/ipi-api/pkg/auth"
	"github.com/ipimonitor/ipi-api/pkg/mailer"
	"github.com/ipimonitor/ipi-api/pkg/notification"
	"github.com/ipimonitor/ipi-api/pkg/storage"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// @title           IPI Monitor API
// @version         1.1
// @description     Sensor dashboard backend: devices, measurements, charts and threshold alerts over Supabase.

// @contact.name   API Support
// @contact.email  support@ipi-monitor.local

// @license.name  MIT
// @license.url   https://opensource.org/licenses/MIT

// @host      localhost:8080
// @BasePath  /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	// ==================== Load Config ====================
	cfg := config.Load()
	log.Printf("🚀 Starting IPI Monitor API [env=%s, data=%s]", cfg.App.Env, cfg.Backend.Data)

	// ==================== Redis ====================
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       0,
	})

	ctx := context.Background()
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		log.Fatalf("❌ Failed to connect to Redis: %v", err)
	}
	log.Println("✅ Connected to Redis")

	// ==================== Data Backend ====================
	supabaseCfg := supabase.Config{
		URL:     cfg.Supabase.URL,
		AnonKey: cfg.Supabase.AnonKey,
		Timeout: cfg.Supabase.Timeout,
	}
	if supabaseCfg.URL == "" {
		log.Fatal("❌ SUPABASE_URL is required: sign-in always goes through the hosted auth service")
	}

	newClient := func() remote.Client { return supabase.New(supabaseCfg) }
	if cfg.Backend.Data == "postgres" {
		store := openStore(cfg, rdb)
		// Auth stays hosted; tables come from the self-hosted database
		newClient = func() remote.Client { return remote.Combine(supabase.New(supabaseCfg), store) }
	}

	// ==================== Email (SMTP / Mailpit) ====================
	var alertMailer service.AlertMailer
	if cfg.SMTP.Host != "" {
		alertMailer = mailer.New(mailer.Config{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
			FromName: cfg.SMTP.FromName,
		})
		log.Printf("📧 SMTP configured: %s:%s", cfg.SMTP.Host, cfg.SMTP.Port)
	}

	// ==================== Initialize Layers ====================
	// JWT Manager
	jwtManager := auth.NewJWTManager(cfg.JWT.Secret, cfg.JWT.Expiry)

	// Repositories
	sessionRepo := repository.NewSessionRepository(rdb)
	selectionRepo := repository.NewSelectionRepository(rdb)
	pushTokenRepo := repository.NewPushTokenRepository(rdb)

	// Firebase push (optional)
	var alertPusher service.AlertPusher
	fcm, err := notification.NewNotificationService(cfg.Firebase.CredentialsFile, pushTokenRepo)
	if err != nil {
		log.Printf("⚠️  Push notifications disabled: %v", err)
	}
	if fcm != nil {
		alertPusher = fcm
	}

	// MinIO Storage (optional)
	var exportStorage storage.Storage
	minioStorage, err := storage.NewMinIO(storage.Config{
		Endpoint:  cfg.MinIO.Endpoint,
		PublicURL: cfg.MinIO.PublicURL,
		AccessKey: cfg.MinIO.AccessKey,
		SecretKey: cfg.MinIO.SecretKey,
		Bucket:    cfg.MinIO.Bucket,
		UseSSL:    cfg.MinIO.UseSSL,
	})
	if err != nil {
		log.Printf("⚠️  MinIO not available: %v (exports are streamed)", err)
	} else {
		exportStorage = minioStorage
		log.Println("✅ Connected to MinIO")
	}

	// Sessions
	registry := session.NewRegistry(newClient, sessionRepo, cfg.JWT.Expiry)

	// Services
	authService := service.NewAuthService(registry, jwtManager, sessionRepo, selectionRepo, rdb, cfg.App.PublicURL)
	deviceService := service.NewDeviceService(selectionRepo)
	alertService := service.NewAlertService(alertMailer, alertPusher, cfg.App.PublicURL)
	measurementService := service.NewMeasurementService(alertService, cfg.App.Location(), cfg.Data.DefaultLimit, cfg.Data.RetentionDays)
	exportService := service.NewExportService(measurementService, exportStorage)

	// WebSocket Hub (revocations arrive over Redis Pub/Sub)
	hub := ws.NewHub(rdb, service.RevokedChannel)

	// Start Hub event loop
	hubCtx, hubCancel := context.WithCancel(context.Background())
	defer hubCancel()
	go hub.Run(hubCtx)

	// Drop expired sessions, and sessions revoked on other instances
	go registry.Run(hubCtx, time.Minute)
	go registry.Listen(hubCtx, rdb, service.RevokedChannel)

	// Handlers
	authHandler := handler.NewAuthHandler(authService, cfg.App.Env == "production")
	routes := handler.Routes{
		Auth:          middleware.NewAuthenticator(jwtManager, registry, rdb),
		AuthHandler:   authHandler,
		Pages:         handler.NewPageHandler(authHandler, authService, deviceService, measurementService),
		Devices:       handler.NewDeviceHandler(authService, deviceService),
		Measurements:  handler.NewMeasurementHandler(authService, measurementService, exportService),
		Notifications: handler.NewNotificationHandler(pushTokenRepo),
		WS:            handler.NewWSHandler(hub, authService, measurementService, selectionRepo, cfg.CORS.Origins),
		Version:       cfg.App.Version,
	}

	// ==================== Gin Router ====================
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()

	// Serve swagger.json at /docs/swagger.json to avoid conflict with /swagger/* wildcard
	router.StaticFile("/docs/swagger.json", "./docs/swagger.json")
	url := ginSwagger.URL("/docs/swagger.json")
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler, url))

	// Global middleware
	router.Use(middleware.CORS(cfg.CORS))

	routes.Register(router)

	// ==================== Start Server ====================
	srv := &http.Server{
		Addr:    ":" + cfg.App.Port,
		Handler: router,
	}

	// Graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ Server failed: %v", err)
		}
	}()

	log.Printf("🌐 IPI Monitor API running on http://0.0.0.0:%s", cfg.App.Port)
	log.Printf("📋 API docs: http://0.0.0.0:%s/swagger/index.html", cfg.App.Port)
	log.Printf("🔌 Live view: ws://0.0.0.0:%s/ws/live", cfg.App.Port)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("🛑 Shutting down server...")

	// Give ongoing requests 5 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("❌ Server forced to shutdown: %v", err)
	}

	hubCancel()
	measurementService.Wait()
	registry.Close()
	if err := rdb.Close(); err != nil {
		log.Printf("⚠️  Redis close: %v", err)
	}
	log.Println("✅ Server exited gracefully")
}

// openStore connects the self-hosted database and brings its schema up to date
func openStore(cfg *config.Config, rdb *redis.Client) *pgstore.Store {
	gormLogger := logger.Default.LogMode(logger.Info)
	if cfg.App.Env == "production" {
		gormLogger = logger.Default.LogMode(logger.Warn)
	}

	db, err := gorm.Open(postgres.Open(cfg.DB.DSN()), &gorm.Config{
		Logger:         gormLogger,
		TranslateError: true,
	})
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	log.Println("✅ Connected to PostgreSQL")

	if err := migrations.Run(cfg.DB.URL()); err != nil {
		log.Printf("⚠️  Migration warning: %v", err)
		log.Println("📦 Falling back to GORM AutoMigrate...")
		if err := db.AutoMigrate(pgstore.Models()...); err != nil {
			log.Fatalf("❌ Failed to migrate database: %v", err)
		}
	}
	log.Println("✅ Database migrated successfully")

	return pgstore.New(db, rdb)
}
