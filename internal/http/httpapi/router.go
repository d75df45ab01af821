package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"mediagen/internal/http/handlers"
	"mediagen/internal/middleware"
)

// Options configures the router's middleware stack.
type Options struct {
	JWTSecret       string
	CORSOrigins     []string
	RateLimitPerMin int
	DefaultLocale   string
	CountryLookup   middleware.CountryLookup
	// StaticDir, when set, is served under /static for the filesystem storage driver.
	StaticDir string
	Logger    zerolog.Logger
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(opts.Logger),
	)

	r.Get("/v1/healthz", app.Health)

	// Provider callbacks are retried by the sender and must not be throttled.
	r.Post("/webhook/{provider}/{taskID}", app.Webhook)

	r.Route("/v1", func(r chi.Router) {
		r.Use(
			middleware.CORS(opts.CORSOrigins),
			middleware.I18N(opts.DefaultLocale, opts.CountryLookup),
		)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(opts.RateLimitPerMin, time.Minute))
			r.Get("/tasks/{taskID}", app.TaskGet)
			r.Get("/share/{shareID}", app.ShareGet)
		})

		r.Group(func(r chi.Router) {
			r.Use(
				middleware.AuthJWT(opts.JWTSecret),
				middleware.RateLimit(opts.RateLimitPerMin, time.Minute),
			)
			r.Get("/tasks", app.TaskList)
			r.Get("/tasks/recent", app.TaskRecent)
			r.Delete("/tasks/{taskID}", app.TaskDelete)
			r.Post("/quota/daily-check", app.QuotaDailyCheck)
			r.Get("/quota", app.QuotaList)
		})
	})

	if opts.StaticDir != "" {
		r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir(opts.StaticDir))))
	}

	return r
}
