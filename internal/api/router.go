package api

import (
	"net/http"
	"time"

	"videojobs/internal/api/handler"
	"videojobs/internal/app/service"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/jwtauth/v5"
)

func NewRouter(tokenAuth *jwtauth.JWTAuth, orchestrator *service.VideoJobOrchestrator) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(60 * time.Second))
	r.Use(jwtauth.Verifier(tokenAuth))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	r.Route("/api/v1", func(v1 chi.Router) {
		executionHandler := handler.NewExecutionHandler(orchestrator)
		v1.Route("/executions", executionHandler.RegisterRoutes)
		v1.Route("/subjects", executionHandler.RegisterSubjectRoutes)
		v1.Route("/canary", executionHandler.RegisterCanaryRoutes)
	})

	return r
}
