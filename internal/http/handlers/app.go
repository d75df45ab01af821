package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"mediagen/internal/domain"
	"mediagen/internal/infra"
	"mediagen/internal/lifecycle"
	"mediagen/internal/middleware"
	"mediagen/internal/quota"
	"mediagen/internal/webhook"
)

// Pinger reports database reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// App carries the dependencies shared by every handler.
type App struct {
	Logger     infra.Logger
	DB         Pinger
	Tasks      domain.TaskRepository
	Normalizer *webhook.Normalizer
	Verifiers  webhook.Verifiers
	Machine    *lifecycle.Machine
	Daily      *quota.DailyIssuer
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, msg string) {
	a.json(w, code, map[string]any{"success": false, "error": msg})
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}

// log returns the request-scoped logger set by middleware.Logger, falling
// back to the application logger.
func (a *App) log(r *http.Request) *zerolog.Logger {
	if l := zerolog.Ctx(r.Context()); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &a.Logger
}
