package handlers

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"server/internal/domain"
)

const maxVariationsPerRequest = 10

type submitJobsRequest struct {
	ProjectID      string `json:"project_id"`
	ImageBase64    string `json:"image_base64"`
	MIME           string `json:"mime"`
	Variations     int    `json:"variations"`
	TargetLanguage string `json:"target_language"`
}

type submitJobsResponse struct {
	ProjectID string   `json:"project_id"`
	JobIDs    []string `json:"job_ids"`
	Status    string   `json:"status"`
}

type jobStatusDTO struct {
	JobID                string    `json:"job_id"`
	Status               string    `json:"status"`
	Variation            int       `json:"variation"`
	TargetLanguage       string    `json:"target_language"`
	RetryCount           int       `json:"retry_count"`
	OutputAssetID        string    `json:"output_asset_id,omitempty"`
	ErrorCode            string    `json:"error_code,omitempty"`
	ErrorMessage         string    `json:"error_message,omitempty"`
	IsRetryable          bool      `json:"is_retryable"`
	ProcessingDurationMS int64     `json:"processing_duration_ms,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

func jobToDTO(job *domain.Job) jobStatusDTO {
	return jobStatusDTO{
		JobID:                job.ID,
		Status:               string(job.Status),
		Variation:            job.Variation,
		TargetLanguage:       job.TargetLanguage,
		RetryCount:           job.RetryCount,
		OutputAssetID:        job.OutputAssetID,
		ErrorCode:            string(job.ErrorCode),
		ErrorMessage:         job.ErrorMessage,
		IsRetryable:          job.IsRetryable,
		ProcessingDurationMS: job.ProcessingDurationMS,
		CreatedAt:            job.CreatedAt,
		UpdatedAt:            job.UpdatedAt,
	}
}

// SubmitJobs creates one pending job per requested variation. The batch is
// admitted only when the remaining credits cover every variation upfront.
func (a *App) SubmitJobs(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req submitJobsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if req.Variations <= 0 {
		req.Variations = 1
	}
	if req.Variations > maxVariationsPerRequest {
		a.error(w, http.StatusBadRequest, "bad_request", "too many variations")
		return
	}
	if strings.TrimSpace(req.TargetLanguage) == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "target_language required")
		return
	}
	source, err := base64.StdEncoding.DecodeString(req.ImageBase64)
	if err != nil || len(source) == 0 {
		a.error(w, http.StatusBadRequest, "bad_request", "image_base64 required")
		return
	}
	if req.MIME == "" {
		req.MIME = http.DetectContentType(source)
	}

	sub, err := a.Subs.GetByUserID(r.Context(), userID)
	if err != nil {
		a.domainError(w, err)
		return
	}
	cost := req.Variations * a.Config.JobCost
	if !sub.HasCredits(cost) {
		a.error(w, http.StatusPaymentRequired, "payment_required", "insufficient credits for batch")
		return
	}

	projectID := req.ProjectID
	if projectID == "" {
		projectID = uuid.NewString()
		if err := a.Projects.Create(r.Context(), &domain.Project{ID: projectID, UserID: userID, Name: "untitled"}); err != nil {
			a.Logger.Error().Err(err).Msg("create project failed")
			a.error(w, http.StatusInternalServerError, "internal", "failed to create project")
			return
		}
	} else {
		owner, err := a.Projects.IsOwner(r.Context(), projectID, userID)
		if err != nil {
			a.domainError(w, err)
			return
		}
		if !owner {
			a.error(w, http.StatusForbidden, "forbidden", "project belongs to another user")
			return
		}
	}

	sourceKey := "sources/" + projectID + "/" + uuid.NewString()
	savedKey, err := a.Store.Upload(r.Context(), sourceKey, source)
	if err != nil {
		a.Logger.Error().Err(err).Msg("store source image failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to store source image")
		return
	}

	jobIDs := make([]string, 0, req.Variations)
	for variation := 1; variation <= req.Variations; variation++ {
		job := &domain.Job{
			ID:             uuid.NewString(),
			ProjectID:      projectID,
			UserID:         userID,
			Variation:      variation,
			SourceKey:      savedKey,
			SourceMIME:     req.MIME,
			TargetLanguage: req.TargetLanguage,
			Status:         domain.JobStatusPending,
		}
		if err := a.Jobs.Create(r.Context(), job); err != nil {
			a.Logger.Error().Err(err).Str("project_id", projectID).Msg("create job failed")
			a.error(w, http.StatusInternalServerError, "internal", "failed to create job")
			return
		}
		jobIDs = append(jobIDs, job.ID)
	}

	a.json(w, http.StatusCreated, submitJobsResponse{
		ProjectID: projectID,
		JobIDs:    jobIDs,
		Status:    string(domain.JobStatusPending),
	})
}

// JobStatus returns the persisted state of one job.
func (a *App) JobStatus(w http.ResponseWriter, r *http.Request) {
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
	job, err := a.Jobs.GetByID(r.Context(), jobID)
	if err != nil {
		a.domainError(w, err)
		return
	}
	if job.UserID != userID {
		a.error(w, http.StatusNotFound, "not_found", "job not found")
		return
	}
	a.json(w, http.StatusOK, jobToDTO(job))
}

// JobStatuses is the batch poll behind client-side reconciliation. Jobs of
// other users are silently omitted rather than erroring the whole batch.
func (a *App) JobStatuses(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	raw := strings.TrimSpace(r.URL.Query().Get("ids"))
	if raw == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "ids required")
		return
	}
	var ids []string
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	jobs, err := a.Jobs.ListByIDs(r.Context(), ids)
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to load jobs")
		return
	}
	items := make([]jobStatusDTO, 0, len(jobs))
	for i := range jobs {
		if jobs[i].UserID != userID {
			continue
		}
		items = append(items, jobToDTO(&jobs[i]))
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}

// AverageDuration reports the mean processing time of completed jobs. Clients
// seed their synthetic progress curve from it.
func (a *App) AverageDuration(w http.ResponseWriter, r *http.Request) {
	avg, err := a.Jobs.AverageProcessingDuration(r.Context())
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to compute average")
		return
	}
	a.json(w, http.StatusOK, map[string]any{"average_duration_ms": avg.Milliseconds()})
}
