package main

import (
	"context"
	"log"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/jobtrail/jobtrail/internal/auth"
	"github.com/jobtrail/jobtrail/internal/config"
	"github.com/jobtrail/jobtrail/internal/database"
	"github.com/jobtrail/jobtrail/internal/extract"
	"github.com/jobtrail/jobtrail/internal/handlers"
	"github.com/jobtrail/jobtrail/internal/secrets"
	"github.com/jobtrail/jobtrail/internal/syncrun"
)

func main() {
	// 1. Environment
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using process environment")
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Invalid configuration:", err)
	}

	// 2. Database
	db := database.Connect(cfg.DatabaseURL)

	// 3. Core services
	cipher, err := secrets.NewCipher(cfg.TokenCipherKey)
	if err != nil {
		log.Fatal("Invalid TOKEN_CIPHER_KEY:", err)
	}
	credManager := auth.NewManager(db, cipher, cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.OAuthRedirectURL)

	engine, err := extract.NewEngine(context.Background(), cfg)
	if err != nil {
		log.Fatal("Failed to create extraction engine:", err)
	}

	controller := syncrun.NewController(
		syncrun.NewGormStorage(db),
		credManager,
		syncrun.GmailSource(cfg),
		engine,
		cfg,
	)

	// 4. Handlers
	syncHandler := handlers.NewSyncHandler(controller, db, cfg.CronSecret)
	oauthHandler := handlers.NewOAuthHandler(credManager)

	// 5. Router & CORS
	r := gin.Default()
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", "X-User-ID", "X-Cron-Secret"}
	r.Use(cors.New(corsConfig))

	// 6. Routes
	api := r.Group("/api/v1")
	{
		api.GET("/health", handlers.HealthCheck)
		api.GET("/oauth/callback", oauthHandler.Callback)
		api.POST("/cron/daily-sync", syncHandler.DailyCronSync)

		authed := api.Group("", handlers.RequireUser(db))
		{
			authed.POST("/sync", syncHandler.TriggerSync)
			authed.GET("/oauth/authorize", oauthHandler.Authorize)
			authed.POST("/oauth/disconnect", oauthHandler.Disconnect)
		}
	}

	log.Printf("Server starting on port %s...", cfg.Port)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatal("Server failed to start:", err)
	}
}
