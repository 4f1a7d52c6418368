package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/mynextid/zklogin-prover/common"
	"github.com/mynextid/zklogin-prover/server/api"
)

type routes struct {
	api     *api.Server
	health  http.Handler
	metrics http.Handler
}

func setupRouter(rt routes, cfg *ServeConfig, logger common.Logger) *chi.Mux {
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(loggerMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.WriteTimeout))
	r.Use(middleware.RequestSize(cfg.MaxRequestSize))

	if cfg.EnableCORS {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CorsOrigins,
			AllowedMethods:   []string{"GET", "POST"},
			AllowedHeaders:   []string{"Accept", "Content-Type"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	r.Use(middleware.Compress(5))

	// Health and metrics
	r.Method(http.MethodGet, "/health", rt.health)
	r.Method(http.MethodGet, "/metrics", rt.metrics)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/zklogin", rt.api.HandleProve)
		r.Post("/verify", rt.api.HandleVerify)
		r.Get("/circuit", rt.api.HandleGetCircuit)
	})

	if cfg.EnableDebug {
		r.Get("/debug/keys", rt.api.HandleListKeys)
	}
	if cfg.EnablePprof {
		r.Mount("/debug", middleware.Profiler())
	}

	return r
}
