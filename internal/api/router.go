package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/wonny/ifrs9-ecl/internal/api/handlers"
	"github.com/wonny/ifrs9-ecl/pkg/database"
	"github.com/wonny/ifrs9-ecl/pkg/logger"
)

// HealthChecker reports database state for /health
type HealthChecker interface {
	Health(ctx context.Context) (*database.Health, error)
}

// Routes are the handlers mounted by NewRouter.
// Health and Metrics may be nil.
type Routes struct {
	Process *handlers.ProcessHandler
	Logs    *handlers.LogHandler
	Health  HealthChecker
	Metrics http.Handler
}

// NewRouter creates and configures the HTTP router
// ⭐ SSOT: 라우팅 설정은 이 함수에서만
func NewRouter(routes Routes, log *logger.Logger) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", healthHandler(routes.Health)).Methods("GET")
	if routes.Metrics != nil {
		r.Handle("/metrics", routes.Metrics).Methods("GET")
	}

	api := r.PathPrefix("/api").Subrouter()

	// Process endpoints
	api.HandleFunc("/process", routes.Process.Trigger).Methods("POST")
	api.HandleFunc("/process/{id}", routes.Process.Get).Methods("GET")
	api.HandleFunc("/process/{id}/cancel", routes.Process.Cancel).Methods("POST")

	// Log endpoints
	api.HandleFunc("/logs", routes.Logs.Recent).Methods("GET")

	// Apply middleware
	r.Use(loggingMiddleware(log))
	r.Use(recoveryMiddleware(log))

	return r
}

const healthTimeout = 3 * time.Second

// healthHandler answers 503 when the database is unreachable or the ecl schema is incomplete
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := map[string]interface{}{"service": "ifrs9-ecl", "status": "ok"}
		code := http.StatusOK

		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
			defer cancel()

			h, err := checker.Health(ctx)
			body["database"] = h
			switch {
			case err != nil:
				body["status"], code = "database unavailable", http.StatusServiceUnavailable
			case !h.SchemaReady:
				body["status"], code = "schema not migrated", http.StatusServiceUnavailable
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(body)
	}
}

// statusRecorder captures the response code for logging
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			log.WithFields(map[string]interface{}{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   rec.status,
				"duration": time.Since(start),
			}).Debug("HTTP request")
		})
	}
}

// recoveryMiddleware recovers from panics
func recoveryMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.WithFields(map[string]interface{}{
						"error": err,
						"path":  r.URL.Path,
					}).Error("Panic recovered")

					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					json.NewEncoder(w).Encode(map[string]string{
						"error": "Internal server error",
					})
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
