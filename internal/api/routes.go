package api

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ignite/mailflow/internal/domain"
)

type ctxKey int

const actorKey ctxKey = 1

// SetupRoutes configures all API routes.
func SetupRoutes(h *Handlers) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-User", "X-Site"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Unauthenticated surface
	r.Get("/health", h.HealthCheck)
	r.Get("/track/open/{trackingID}.gif", h.TrackOpen)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(actorContext)

		r.Route("/outbound", func(r chi.Router) {
			r.Post("/send", h.Send)
			r.Post("/send-raw", h.SendRaw)
			r.Post("/send-batch", h.SendBatch)
			r.Get("/{id}", h.GetOutgoing)
			r.Post("/{id}/retry", h.Retry)
			r.Get("/{id}/reply-template", h.ReplyTemplate)
		})

		r.Route("/inbound", func(r chi.Router) {
			r.Get("/pull", h.Pull)
			r.Get("/pull-raw", h.PullRaw)
		})

		r.Get("/domains/{name}/dns", h.DomainDNS)
		r.Get("/blacklist", h.BlacklistLookup)
		r.Post("/spamd/scan", h.SpamScan)
		r.Post("/spamd/is_spam", h.SpamIsSpam)
		r.Post("/spamd/score", h.SpamScore)
	})

	return r
}

// actorContext requires an X-User identity and stores the caller
// context for the handlers. X-Site names the pull cursor source.
func actorContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := strings.TrimSpace(r.Header.Get("X-User"))
		if user == "" {
			respondError(w, http.StatusUnauthorized, "missing X-User header")
			return
		}
		actor := domain.Context{
			User:      user,
			RequestIP: requestIP(r),
			Site:      strings.TrimSpace(r.Header.Get("X-Site")),
		}
		ctx := context.WithValue(r.Context(), actorKey, actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func actorFrom(r *http.Request) domain.Context {
	actor, _ := r.Context().Value(actorKey).(domain.Context)
	return actor
}

// requestIP strips the port from RemoteAddr; middleware.RealIP has
// already substituted any proxy header.
func requestIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return strings.Trim(r.RemoteAddr, "[]")
}
