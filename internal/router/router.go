package router

import (
	"time"

	"tailpay/config"
	"tailpay/internal/handler"
	"tailpay/internal/middleware"
	"tailpay/internal/notify"
	"tailpay/internal/service"
	"tailpay/internal/ws"

	"github.com/gin-gonic/gin"
)

// Deps are the services the HTTP surface delegates to.
type Deps struct {
	Intents  *service.IntentService
	Auth     *service.AuthService
	Hub      *ws.Hub
	Notifier notify.Notifier
}

func Setup(cfg *config.Config, d Deps) *gin.Engine {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	// Skip gin.Logger() to reduce log noise; use gin.Default() if you need request logging
	r.Use(middleware.RateLimit(middleware.NewInMemoryRateLimiter(100, 15*time.Minute), "Too many requests from this IP, please try again later."))

	createLimiter := middleware.NewInMemoryRateLimiter(10, 15*time.Minute)

	intentHandler := handler.NewIntentHandler(d.Intents, cfg.Chain.ReceiveAddress)
	adminHandler := handler.NewAdminHandler(d.Auth, d.Intents, d.Notifier, d.Hub)

	r.GET("/healthz", handler.Health(d.Hub))
	r.GET("/ws/overlay", ws.UpgradeOverlayWS(d.Hub))

	api := r.Group("/api/v1")
	{
		api.GET("/healthz", handler.Health(d.Hub))

		intents := api.Group("/intents")
		{
			intents.POST("", middleware.RateLimit(createLimiter, "Too many payment requests, please try again later."), intentHandler.Create)
			intents.GET("/recent", intentHandler.Recent)
			intents.GET("/:id", intentHandler.Get)
		}

		api.POST("/admin/login", adminHandler.AdminLogin)
		admin := api.Group("/admin")
		admin.Use(middleware.AuthRequired(&cfg.JWT), middleware.AdminRequired())
		{
			admin.GET("/stats", adminHandler.Stats)
			admin.PUT("/intents/:id/status", adminHandler.UpdateStatus)
		}
	}
	return r
}
