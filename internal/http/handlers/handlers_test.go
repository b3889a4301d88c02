package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/engine"
	"server/internal/infra"
	"server/internal/middleware"
)

type stubRunner struct {
	outcome *engine.Outcome
	err     error
	calls   int
}

func (r *stubRunner) Execute(ctx context.Context, userID, jobID string) (*engine.Outcome, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return r.outcome, nil
}

type stubJobs struct {
	jobs    map[string]*domain.Job
	created []*domain.Job
}

func newStubJobs() *stubJobs {
	return &stubJobs{jobs: make(map[string]*domain.Job)}
}

func (s *stubJobs) Create(ctx context.Context, job *domain.Job) error {
	copied := *job
	s.jobs[job.ID] = &copied
	s.created = append(s.created, &copied)
	return nil
}

func (s *stubJobs) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *job
	return &copied, nil
}

func (s *stubJobs) ListByIDs(ctx context.Context, jobIDs []string) ([]domain.Job, error) {
	var out []domain.Job
	for _, id := range jobIDs {
		if job, ok := s.jobs[id]; ok {
			out = append(out, *job)
		}
	}
	return out, nil
}

func (s *stubJobs) TransitionStatus(ctx context.Context, jobID string, from, to domain.JobStatus) error {
	return nil
}

func (s *stubJobs) MarkRetrying(ctx context.Context, jobID string, at time.Time) error { return nil }
func (s *stubJobs) SetFirstError(ctx context.Context, jobID string, at time.Time) error {
	return nil
}
func (s *stubJobs) MarkCompleted(ctx context.Context, jobID, outputAssetID string, durationMS int64) error {
	return nil
}
func (s *stubJobs) MarkFailed(ctx context.Context, jobID string, code domain.ErrorCode, message string, retryable bool) error {
	return nil
}
func (s *stubJobs) AverageProcessingDuration(ctx context.Context) (time.Duration, error) {
	return 8 * time.Second, nil
}

type stubProjects struct {
	owned   map[string]string
	created []*domain.Project
}

func (s *stubProjects) IsOwner(ctx context.Context, projectID, userID string) (bool, error) {
	owner, ok := s.owned[projectID]
	if !ok {
		return false, domain.ErrNotFound
	}
	return owner == userID, nil
}

func (s *stubProjects) Create(ctx context.Context, project *domain.Project) error {
	if s.owned == nil {
		s.owned = make(map[string]string)
	}
	s.owned[project.ID] = project.UserID
	s.created = append(s.created, project)
	return nil
}

type stubSubs struct {
	sub *domain.Subscription
	err error
}

func (s *stubSubs) GetByUserID(ctx context.Context, userID string) (*domain.Subscription, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.sub, nil
}

func (s *stubSubs) AddUsage(ctx context.Context, userID string, cost int) error { return nil }

type stubAssets struct {
	assets map[string]*domain.Asset
}

func (s *stubAssets) Create(ctx context.Context, asset *domain.Asset) error { return nil }

func (s *stubAssets) GetByID(ctx context.Context, assetID string) (*domain.Asset, error) {
	asset, ok := s.assets[assetID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return asset, nil
}

type stubStore struct {
	objects map[string][]byte
}

func newStubStore() *stubStore {
	return &stubStore{objects: make(map[string][]byte)}
}

func (s *stubStore) Upload(ctx context.Context, key string, data []byte) (string, error) {
	s.objects[key] = data
	return key, nil
}

func (s *stubStore) Download(ctx context.Context, key string) ([]byte, error) {
	data, ok := s.objects[key]
	if !ok {
		return nil, errors.New("object missing")
	}
	return data, nil
}

func (s *stubStore) Delete(ctx context.Context, key string) error {
	delete(s.objects, key)
	return nil
}

func testApp() (*App, *stubJobs, *stubSubs, *stubStore) {
	jobs := newStubJobs()
	subs := &stubSubs{sub: &domain.Subscription{CreditsLimit: 10}}
	store := newStubStore()
	app := &App{
		Config:   &infra.Config{JobCost: 1},
		Logger:   zerolog.Nop(),
		Jobs:     jobs,
		Projects: &stubProjects{owned: map[string]string{"proj-1": "user-1"}},
		Subs:     subs,
		Assets:   &stubAssets{assets: make(map[string]*domain.Asset)},
		Store:    store,
		Runner:   &stubRunner{},
	}
	return app, jobs, subs, store
}

func authedRequest(method, target string, body []byte, userID string) *http.Request {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	return req.WithContext(middleware.ContextWithUserID(req.Context(), userID))
}

func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestTranslateJobStatusMapping(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"not found", domain.ErrNotFound, http.StatusNotFound},
		{"not owner", domain.ErrNotOwner, http.StatusForbidden},
		{"not pending", domain.ErrJobNotPending, http.StatusConflict},
		{"no subscription", domain.ErrNoSubscription, http.StatusPaymentRequired},
		{"insufficient credits", domain.ErrInsufficientCredits, http.StatusPaymentRequired},
		{"internal", errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			app, _, _, _ := testApp()
			app.Runner = &stubRunner{err: tc.err}

			req := withURLParam(authedRequest(http.MethodPost, "/v1/jobs/job-1/translate", nil, "user-1"), "job_id", "job-1")
			rec := httptest.NewRecorder()
			app.TranslateJob(rec, req)

			if rec.Code != tc.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tc.wantCode)
			}
		})
	}
}

func TestTranslateJobSuccess(t *testing.T) {
	app, _, _, _ := testApp()
	runner := &stubRunner{outcome: &engine.Outcome{
		JobID:                "job-1",
		Status:               domain.JobStatusCompleted,
		OutputAssetID:        "asset-1",
		ProcessingDurationMS: 1234,
	}}
	app.Runner = runner

	req := withURLParam(authedRequest(http.MethodPost, "/v1/jobs/job-1/translate", nil, "user-1"), "job_id", "job-1")
	rec := httptest.NewRecorder()
	app.TranslateJob(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var got engine.Outcome
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if got.OutputAssetID != "asset-1" || got.Status != domain.JobStatusCompleted {
		t.Errorf("outcome = %+v", got)
	}
	if runner.calls != 1 {
		t.Errorf("runner calls = %d, want 1", runner.calls)
	}
}

func TestTranslateJobRateLimitedFailureReturns429(t *testing.T) {
	app, _, _, _ := testApp()
	app.Runner = &stubRunner{outcome: &engine.Outcome{
		JobID:        "job-1",
		Status:       domain.JobStatusFailed,
		ErrorCode:    domain.ErrorCodeRateLimited,
		ErrorMessage: "provider rate limit",
		IsRetryable:  true,
	}}

	req := withURLParam(authedRequest(http.MethodPost, "/v1/jobs/job-1/translate", nil, "user-1"), "job_id", "job-1")
	rec := httptest.NewRecorder()
	app.TranslateJob(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	var got engine.Outcome
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if !got.IsRetryable {
		t.Error("expected retryable outcome in 429 body")
	}
}

func TestTranslateJobRequiresAuth(t *testing.T) {
	app, _, _, _ := testApp()
	req := withURLParam(httptest.NewRequest(http.MethodPost, "/v1/jobs/job-1/translate", nil), "job_id", "job-1")
	rec := httptest.NewRecorder()
	app.TranslateJob(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func submitBody(t *testing.T, variations int, lang string) []byte {
	t.Helper()
	body, err := json.Marshal(submitJobsRequest{
		ProjectID:      "proj-1",
		ImageBase64:    base64.StdEncoding.EncodeToString([]byte("image-bytes")),
		MIME:           "image/png",
		Variations:     variations,
		TargetLanguage: lang,
	})
	if err != nil {
		t.Fatal(err)
	}
	return body
}

func TestSubmitJobsCreatesOneJobPerVariation(t *testing.T) {
	app, jobs, _, store := testApp()

	req := authedRequest(http.MethodPost, "/v1/jobs", submitBody(t, 3, "de"), "user-1")
	rec := httptest.NewRecorder()
	app.SubmitJobs(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	var resp submitJobsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(resp.JobIDs) != 3 {
		t.Fatalf("job ids = %d, want 3", len(resp.JobIDs))
	}
	if len(jobs.created) != 3 {
		t.Fatalf("created jobs = %d, want 3", len(jobs.created))
	}
	for i, job := range jobs.created {
		if job.Status != domain.JobStatusPending {
			t.Errorf("job %d status = %s, want pending", i, job.Status)
		}
		if job.Variation != i+1 {
			t.Errorf("job %d variation = %d, want %d", i, job.Variation, i+1)
		}
		if job.TargetLanguage != "de" {
			t.Errorf("job %d target language = %q", i, job.TargetLanguage)
		}
		if _, err := store.Download(context.Background(), job.SourceKey); err != nil {
			t.Errorf("job %d source artifact missing: %v", i, err)
		}
	}
}

func TestSubmitJobsRejectsBatchOverCredits(t *testing.T) {
	app, jobs, subs, _ := testApp()
	subs.sub = &domain.Subscription{CreditsLimit: 2}

	req := authedRequest(http.MethodPost, "/v1/jobs", submitBody(t, 3, "de"), "user-1")
	rec := httptest.NewRecorder()
	app.SubmitJobs(rec, req)

	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", rec.Code)
	}
	if len(jobs.created) != 0 {
		t.Errorf("created jobs = %d, want 0", len(jobs.created))
	}
}

func TestSubmitJobsValidation(t *testing.T) {
	cases := []struct {
		name string
		body []byte
	}{
		{"invalid json", []byte("{")},
		{"missing language", mustJSON(submitJobsRequest{ProjectID: "proj-1", ImageBase64: base64.StdEncoding.EncodeToString([]byte("x")), Variations: 1})},
		{"missing image", mustJSON(submitJobsRequest{ProjectID: "proj-1", Variations: 1, TargetLanguage: "de"})},
		{"too many variations", mustJSON(submitJobsRequest{ProjectID: "proj-1", ImageBase64: base64.StdEncoding.EncodeToString([]byte("x")), Variations: maxVariationsPerRequest + 1, TargetLanguage: "de"})},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			app, _, _, _ := testApp()
			req := authedRequest(http.MethodPost, "/v1/jobs", tc.body, "user-1")
			rec := httptest.NewRecorder()
			app.SubmitJobs(rec, req)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func mustJSON(v any) []byte {
	body, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return body
}

func TestSubmitJobsForeignProjectForbidden(t *testing.T) {
	app, _, _, _ := testApp()
	req := authedRequest(http.MethodPost, "/v1/jobs", submitBody(t, 1, "de"), "user-2")
	rec := httptest.NewRecorder()
	app.SubmitJobs(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestJobStatusesFiltersForeignJobs(t *testing.T) {
	app, jobs, _, _ := testApp()
	jobs.jobs["job-1"] = &domain.Job{ID: "job-1", UserID: "user-1", Status: domain.JobStatusCompleted, OutputAssetID: "asset-1"}
	jobs.jobs["job-2"] = &domain.Job{ID: "job-2", UserID: "user-2", Status: domain.JobStatusFailed}

	req := authedRequest(http.MethodGet, "/v1/jobs/statuses?ids=job-1,job-2,missing", nil, "user-1")
	rec := httptest.NewRecorder()
	app.JobStatuses(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp struct {
		Items []jobStatusDTO `json:"items"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].JobID != "job-1" {
		t.Errorf("items = %+v, want only job-1", resp.Items)
	}
}

func TestJobStatusHidesForeignJob(t *testing.T) {
	app, jobs, _, _ := testApp()
	jobs.jobs["job-2"] = &domain.Job{ID: "job-2", UserID: "user-2", Status: domain.JobStatusProcessing}

	req := withURLParam(authedRequest(http.MethodGet, "/v1/jobs/job-2", nil, "user-1"), "job_id", "job-2")
	rec := httptest.NewRecorder()
	app.JobStatus(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestAverageDuration(t *testing.T) {
	app, _, _, _ := testApp()
	req := authedRequest(http.MethodGet, "/v1/jobs/stats/average-duration", nil, "user-1")
	rec := httptest.NewRecorder()
	app.AverageDuration(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp struct {
		AverageDurationMS int64 `json:"average_duration_ms"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if resp.AverageDurationMS != 8000 {
		t.Errorf("average_duration_ms = %d, want 8000", resp.AverageDurationMS)
	}
}

func TestDownloadAsset(t *testing.T) {
	app, _, _, store := testApp()
	app.Assets = &stubAssets{assets: map[string]*domain.Asset{
		"asset-1": {ID: "asset-1", UserID: "user-1", StorageKey: "translated/a.png", MIME: "image/png"},
	}}
	if _, err := store.Upload(context.Background(), "translated/a.png", []byte("png-bytes")); err != nil {
		t.Fatal(err)
	}

	req := withURLParam(authedRequest(http.MethodGet, "/v1/assets/asset-1/download", nil, "user-1"), "asset_id", "asset-1")
	rec := httptest.NewRecorder()
	app.DownloadAsset(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "image/png" {
		t.Errorf("content type = %q", got)
	}
	if rec.Body.String() != "png-bytes" {
		t.Errorf("body = %q", rec.Body.String())
	}

	foreign := withURLParam(authedRequest(http.MethodGet, "/v1/assets/asset-1/download", nil, "user-2"), "asset_id", "asset-1")
	rec = httptest.NewRecorder()
	app.DownloadAsset(rec, foreign)
	if rec.Code != http.StatusNotFound {
		t.Errorf("foreign download status = %d, want 404", rec.Code)
	}
}
