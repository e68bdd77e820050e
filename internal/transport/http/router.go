package httptransport

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	sloggin "github.com/samber/slog-gin"
	"github.com/topspeed/backend/internal/session"
	"github.com/topspeed/backend/internal/transport/http/handler"
	"github.com/topspeed/backend/internal/transport/http/middleware"
)

func NewRouter(logger *slog.Logger, authHandler *handler.AuthHandler, sessions *session.Issuer) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Security())
	r.Use(sloggin.New(logger))
	r.Use(middleware.Metrics())

	authMW := middleware.Auth(sessions)

	// Public auth routes
	auth := r.Group("/auth")
	auth.POST("/register", authHandler.Register)
	auth.POST("/verify-otp", authHandler.VerifyOTP)
	auth.POST("/resend-otp", authHandler.ResendOTP)
	auth.POST("/login", authHandler.Login)

	// Authenticated account routes
	auth.GET("/me", authMW, authHandler.Me)
	auth.PUT("/email", authMW, authHandler.UpdateEmail)

	// Admin routes: everything under here requires the admin role.
	admin := r.Group("/admin", authMW, middleware.RequireAdmin())
	admin.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{"ok": true})
	})

	return r
}
