package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"

	"server/internal/domain"
	"server/internal/engine"
	"server/internal/infra"
	"server/internal/middleware"
	"server/internal/notify"
)

// JobRunner executes one admitted job end to end.
type JobRunner interface {
	Execute(ctx context.Context, userID, jobID string) (*engine.Outcome, error)
}

// App carries the handler dependencies.
type App struct {
	Config   *infra.Config
	Logger   infra.Logger
	Jobs     domain.JobRepository
	Projects domain.ProjectRepository
	Subs     domain.SubscriptionRepository
	Assets   domain.AssetRepository
	Store    engine.ObjectStore
	Runner   JobRunner
	Hub      *notify.Hub

	upgrader websocket.Upgrader
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, slug, message string) {
	a.json(w, code, map[string]string{"error": slug, "message": message})
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}

// domainError maps admission and lookup failures onto HTTP responses.
func (a *App) domainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "job not found")
	case errors.Is(err, domain.ErrNotOwner):
		a.error(w, http.StatusForbidden, "forbidden", "job belongs to another user")
	case errors.Is(err, domain.ErrJobNotPending):
		a.error(w, http.StatusConflict, "conflict", "job already admitted or finished")
	case errors.Is(err, domain.ErrNoSubscription):
		a.error(w, http.StatusPaymentRequired, "payment_required", "no active subscription")
	case errors.Is(err, domain.ErrInsufficientCredits):
		a.error(w, http.StatusPaymentRequired, "payment_required", "insufficient credits")
	default:
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
