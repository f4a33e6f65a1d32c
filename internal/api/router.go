package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/athebyme/catalog-sync/internal/api/handlers"
	"github.com/athebyme/catalog-sync/internal/api/middleware"
	"github.com/athebyme/catalog-sync/internal/domain/services"
	"github.com/athebyme/catalog-sync/pkg/interfaces"
)

// SetupRouter настраивает маршрутизатор
func SetupRouter(
	dispatcher *services.Dispatcher,
	reconciler *services.Reconciler,
	logger interfaces.LoggerPort,
	jwtSecret string,
) *chi.Mux {
	r := chi.NewRouter()

	// Глобальные middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.Timeout(30 * time.Second))

	r.Method(http.MethodGet, "/health", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}))
	r.Method(http.MethodHead, "/health", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.JWTAuth(jwtSecret, logger))

		syncHandler := handlers.NewSyncHandler(dispatcher, reconciler, logger)

		// Прием уведомлений source-платформы
		r.Post("/notifications", syncHandler.HandleNotification)

		// Ручной запуск сверки
		r.Route("/integrations/{id}", func(r chi.Router) {
			r.Post("/reconcile/{kind}", syncHandler.HandleReconcile)
		})
	})

	return r
}
