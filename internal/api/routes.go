package api

import (
	"time"

	"github.com/24hmood24/checkserialnum/internal/core"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// RouteOptions tunes the shared middleware.
type RouteOptions struct {
	RequestsPerMinute int
	IdempotencyCache  int
	IdempotencyTTL    time.Duration
}

// SetupRoutes configures all API routes
func SetupRoutes(router *gin.Engine, handlers *APIHandlers, services *core.ServiceRegistry, logger *logrus.Logger, opts RouteOptions) {
	if opts.IdempotencyTTL <= 0 {
		opts.IdempotencyTTL = 10 * time.Minute
	}
	idempotency := NewIdempotencyCache(opts.IdempotencyCache, opts.IdempotencyTTL)

	// Global middleware
	router.Use(Recovery(logger))
	router.Use(Metrics())
	router.Use(RequestLogger(logger))
	router.Use(ErrorHandler(logger))
	router.Use(CORS())

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	v1.Use(RateLimiter(opts.RequestsPerMinute))

	// Public endpoints
	v1.GET("/check", handlers.CheckDevice)
	v1.POST("/check", handlers.CheckDevice)
	v1.GET("/users/:nationalId/exists", handlers.UserExists)
	v1.POST("/purchases", idempotency.Middleware(), handlers.RecordPurchase)
	v1.POST("/reports", idempotency.Middleware(), handlers.FileReport)

	auth := v1.Group("/auth")
	{
		auth.POST("/register", handlers.RegisterUser)
		auth.POST("/login", handlers.Login)
	}

	// Authenticated endpoints
	authAPI := v1.Group("")
	authAPI.Use(TokenAuthentication(services.Accounts))
	{
		authAPI.GET("/certificates/:id/pdf", handlers.CertificatePDF)

		me := authAPI.Group("/me")
		me.Use(idempotency.Middleware())
		{
			me.GET("/profile", handlers.MyProfile)
			me.PATCH("/profile", handlers.UpdateProfile)
			me.GET("/devices", handlers.MyDevices)
			me.POST("/devices", handlers.AddDevice)
			me.GET("/reports", handlers.MyReports)
			me.POST("/certificates/:id/sell", handlers.SellCertificate)
			me.POST("/certificates/:id/report", handlers.ReportCertificate)
			me.POST("/reports/:id/closure", handlers.RequestClosure)
		}

		admin := authAPI.Group("/admin")
		admin.Use(RequireAdmin())
		{
			admin.POST("/certificates", idempotency.Middleware(), handlers.CreateCertificate)
			admin.GET("/dashboard", handlers.Dashboard)
			admin.GET("/stats", handlers.Stats)
			admin.GET("/history/:serial", handlers.History)
			admin.POST("/reports/:id/approve", handlers.ApproveClosure)
			admin.POST("/reports/:id/reject", handlers.RejectClosure)
			admin.PATCH("/reports/:id", handlers.UpdateReport)
		}
	}
}
