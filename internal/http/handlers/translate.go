package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"server/internal/domain"
)

// TranslateJob runs the execution engine synchronously for one admitted job
// and returns the terminal outcome. Admission failures map onto 4xx codes; a
// terminal rate-limited failure surfaces as 429 so clients can resubmit.
func (a *App) TranslateJob(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "job_id required")
		return
	}

	outcome, err := a.Runner.Execute(r.Context(), userID, jobID)
	if err != nil {
		a.domainError(w, err)
		return
	}

	if outcome.Status == domain.JobStatusFailed && outcome.ErrorCode == domain.ErrorCodeRateLimited {
		a.json(w, http.StatusTooManyRequests, outcome)
		return
	}
	a.json(w, http.StatusOK, outcome)
}
