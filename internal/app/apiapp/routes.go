package apiapp

import (
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	sessionsvc "github.com/antonrudenka/blogger-api/internal/services/session"
	"github.com/antonrudenka/blogger-api/internal/transport/http/handlers"
)

type Dependencies struct {
	SessionService *sessionsvc.Service
	Logger         *zap.Logger
}

func RegisterRoutes(r chi.Router, deps Dependencies) {
	authHandler := handlers.NewAuthHandler(deps.SessionService, deps.Logger)
	securityHandler := handlers.NewSecurityHandler(deps.SessionService, deps.Logger)
	healthHandler := handlers.NewHealthHandler()

	r.Get("/health", healthHandler.Check)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", authHandler.Login)
		r.Post("/refresh-token", authHandler.Refresh)
		r.Post("/logout", authHandler.Logout)
	})

	r.Route("/security", func(r chi.Router) {
		r.Use(AuthMiddleware(deps.SessionService, deps.Logger))
		r.Get("/devices", securityHandler.ListDevices)
		r.Delete("/devices", securityHandler.RevokeOtherDevices)
		r.Delete("/devices/{deviceID}", securityHandler.RevokeDevice)
	})
}
