package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ignite/outreach-engine/internal/pkg/logger"
)

// RouteOptions carries the per-deployment bits of the router.
type RouteOptions struct {
	AllowedOrigins []string
	// WebhookToken guards POST /api/delivery/events. The route is not
	// mounted when it is empty.
	WebhookToken string
	Health       *HealthChecker
	Log          *logger.Logger
}

// SetupRoutes configures all API routes.
func SetupRoutes(h *Handlers, opts RouteOptions) *chi.Mux {
	r := chi.NewRouter()

	log := opts.Log
	if log == nil {
		log = logger.Nop()
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log.Named("http")))
	r.Use(middleware.Recoverer)

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", HeaderUserID, HeaderTenantID},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check (no identity required)
	health := opts.Health
	if health == nil {
		health = NewHealthChecker(nil, nil, nil)
	}
	r.Get("/health", health.HandleHealth)
	r.Get("/health/ready", health.HandleReadiness)

	r.Route("/api", func(r chi.Router) {
		if opts.WebhookToken != "" {
			r.With(RequireBearer(opts.WebhookToken)).Post("/delivery/events", h.DeliveryEvent)
		}

		r.Group(func(r chi.Router) {
			r.Use(RequireActor)

			r.Route("/campaigns/{campaignId}/enrollments", func(r chi.Router) {
				r.Post("/", h.Enroll)
				r.Get("/", h.ListEnrollments)
			})

			r.Route("/enrollments/{enrollmentId}", func(r chi.Router) {
				r.Get("/", h.GetEnrollment)
				r.Get("/profiles", h.ListEnrollmentProfiles)
				r.Get("/due", h.DueProfiles)
				r.Post("/pause", h.PauseEnrollment)
				r.Post("/resume", h.ResumeEnrollment)
				r.Post("/complete", h.CompleteEnrollment)
			})

			r.Route("/enrollment-profiles/{profileId}", func(r chi.Router) {
				r.Get("/", h.GetSequenceRecord)
				r.Post("/pause", h.PauseProfile)
				r.Post("/resume", h.ResumeProfile)
				r.Post("/unsubscribe", h.UnsubscribeProfile)
				r.Post("/complete", h.CompleteProfile)
			})

			r.Route("/target-lists/{listId}", func(r chi.Router) {
				r.Get("/can-delete", h.CanDeleteTargetList)
				r.Delete("/", h.DeleteTargetList)
			})
		})
	})

	return r
}

// requestLogger replaces middleware.Logger so access lines go through the
// structured logger.
func requestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start).String(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
