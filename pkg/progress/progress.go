// Package progress drives per-job progress reporting on the client. For each
// submitted job it synthesizes a smooth, never-decreasing percentage from a
// statistical average-duration estimate, reconciles completion signals from a
// push channel and a one-shot deferred poll, and guarantees the terminal
// callback for every job fires exactly once.
package progress

import (
	"context"
	"time"
)

// Job status values as persisted on the server's job row.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Status is the polled state of one job.
type Status struct {
	JobID         string `json:"job_id"`
	Status        string `json:"status"`
	OutputAssetID string `json:"output_asset_id,omitempty"`
	ErrorMessage  string `json:"error_message,omitempty"`
}

// Event is one push frame reporting a job row change. Delivery order and
// timing carry no guarantee relative to submission.
type Event struct {
	Type          string `json:"type"`
	JobID         string `json:"job_id"`
	Status        string `json:"status"`
	OutputAssetID string `json:"output_asset_id,omitempty"`
	ErrorMessage  string `json:"error_message,omitempty"`
}

// Poller answers the one-shot reconciliation query for still-pending jobs.
type Poller interface {
	PollStatuses(ctx context.Context, jobIDs []string) ([]Status, error)
}

// EventSource is the push channel. Events delivers frames until the source
// is closed; Close releases the underlying subscription.
type EventSource interface {
	Events() <-chan Event
	Close() error
}

// Callbacks receive tracker updates. All callbacks run on the supervisor's
// single goroutine, so no two invocations ever interleave.
type Callbacks struct {
	OnProgress    func(jobID string, percent float64)
	OnJobComplete func(jobID, outputAssetID string)
	OnJobFailed   func(jobID, errorMessage string)
	OnAllDone     func()
}

// Options tunes the synthetic curve and reconciliation timing.
type Options struct {
	// AverageDuration is the statistical estimate of one job's processing
	// time, seeding the synthetic curve.
	AverageDuration time.Duration
	// TickInterval is the synthetic progress update period.
	TickInterval time.Duration
	// ReconcileDelay is how long after start the one-shot poll fires. It
	// covers jobs that finished before the push subscription was attached.
	ReconcileDelay time.Duration
}

const (
	defaultAverageDuration = 8 * time.Second
	defaultTickInterval    = 150 * time.Millisecond
	defaultReconcileDelay  = 500 * time.Millisecond

	// syntheticCeiling is the highest value the curve reaches on its own;
	// 100 is reserved for an authoritative terminal signal.
	syntheticCeiling = 95.0
	// crawlCeiling caps the slow crawl beyond the average duration.
	crawlCeiling = 99.0
)

// tracker is the ephemeral record of one job's displayed progress.
type tracker struct {
	jobID     string
	progress  float64
	startTime time.Time
	completed bool
	resultRef string
}

// Supervisor owns one tracker per job and reconciles their signals. It is
// not safe for concurrent use; all interaction happens through Run.
type Supervisor struct {
	poller    Poller
	source    EventSource
	callbacks Callbacks
	opts      Options
	trackers  map[string]*tracker
	order     []string
}

// New creates a supervisor for the given batch of jobs.
func New(jobIDs []string, poller Poller, source EventSource, callbacks Callbacks, opts Options) *Supervisor {
	if opts.AverageDuration <= 0 {
		opts.AverageDuration = defaultAverageDuration
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = defaultTickInterval
	}
	if opts.ReconcileDelay <= 0 {
		opts.ReconcileDelay = defaultReconcileDelay
	}
	s := &Supervisor{
		poller:    poller,
		source:    source,
		callbacks: callbacks,
		opts:      opts,
		trackers:  make(map[string]*tracker, len(jobIDs)),
	}
	now := time.Now()
	for _, id := range jobIDs {
		if _, ok := s.trackers[id]; ok {
			continue
		}
		s.trackers[id] = &tracker{jobID: id, startTime: now}
		s.order = append(s.order, id)
	}
	return s
}

// Run drives all trackers until every job reaches a terminal state or ctx is
// cancelled. It owns the only goroutine that mutates tracker state: the
// periodic tick, the deferred poll and push delivery are all suspension
// points of this single loop. On return the ticker is stopped and the push
// subscription is released; no callbacks fire afterwards.
func (s *Supervisor) Run(ctx context.Context) error {
	defer func() {
		if s.source != nil {
			_ = s.source.Close()
		}
	}()

	if len(s.trackers) == 0 {
		s.allDone()
		return nil
	}

	ticker := time.NewTicker(s.opts.TickInterval)
	defer ticker.Stop()

	reconcile := time.NewTimer(s.opts.ReconcileDelay)
	defer reconcile.Stop()

	var events <-chan Event
	if s.source != nil {
		events = s.source.Events()
	}

	for len(s.trackers) > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.tick(time.Now())
		case <-reconcile.C:
			s.reconcile(ctx)
		case event, ok := <-events:
			if !ok {
				// Push channel gone; the synthetic curve keeps moving and
				// the deferred poll remains the only terminal source.
				events = nil
				continue
			}
			s.handleEvent(event)
		}
	}

	s.allDone()
	return nil
}

// tick advances the synthetic curve for every active tracker.
func (s *Supervisor) tick(now time.Time) {
	for _, id := range s.activeIDs() {
		tr, ok := s.trackers[id]
		if !ok || tr.completed {
			continue
		}
		next := syntheticProgress(now.Sub(tr.startTime), s.opts.AverageDuration)
		if next > tr.progress {
			tr.progress = next
			s.emitProgress(tr)
		}
	}
}

// reconcile performs the one deferred poll over every still-active job,
// catching jobs that finished before the push subscription attached. The
// poll is best-effort: on error the push channel remains the terminal
// source.
func (s *Supervisor) reconcile(ctx context.Context) {
	if s.poller == nil {
		return
	}
	ids := s.activeIDs()
	if len(ids) == 0 {
		return
	}
	statuses, err := s.poller.PollStatuses(ctx, ids)
	if err != nil {
		return
	}
	for _, status := range statuses {
		switch status.Status {
		case StatusCompleted:
			s.finalize(status.JobID, true, status.OutputAssetID, "")
		case StatusFailed:
			s.finalize(status.JobID, false, "", status.ErrorMessage)
		}
	}
}

func (s *Supervisor) handleEvent(event Event) {
	switch event.Status {
	case StatusCompleted:
		s.finalize(event.JobID, true, event.OutputAssetID, "")
	case StatusFailed:
		s.finalize(event.JobID, false, "", event.ErrorMessage)
	}
}

// finalize transitions one tracker to terminal exactly once. A duplicate
// signal for an already-finalized job is detected before any state mutation
// or callback and discarded.
func (s *Supervisor) finalize(jobID string, success bool, outputAssetID, errorMessage string) {
	tr, ok := s.trackers[jobID]
	if !ok || tr.completed {
		return
	}
	tr.completed = true
	tr.progress = 100
	tr.resultRef = outputAssetID
	s.emitProgress(tr)
	if success {
		if s.callbacks.OnJobComplete != nil {
			s.callbacks.OnJobComplete(jobID, outputAssetID)
		}
	} else {
		if s.callbacks.OnJobFailed != nil {
			s.callbacks.OnJobFailed(jobID, errorMessage)
		}
	}
	delete(s.trackers, jobID)
}

func (s *Supervisor) allDone() {
	if s.callbacks.OnAllDone != nil {
		s.callbacks.OnAllDone()
	}
}

func (s *Supervisor) emitProgress(tr *tracker) {
	if s.callbacks.OnProgress != nil {
		s.callbacks.OnProgress(tr.jobID, tr.progress)
	}
}

func (s *Supervisor) activeIDs() []string {
	ids := make([]string, 0, len(s.trackers))
	for _, id := range s.order {
		if _, ok := s.trackers[id]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// syntheticProgress maps elapsed time onto the display curve: a linear ramp
// to 95 over the average duration, then a slow crawl toward (never reaching)
// 100 until an authoritative terminal signal arrives.
func syntheticProgress(elapsed, average time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	if elapsed <= average {
		return syntheticCeiling * float64(elapsed) / float64(average)
	}
	over := float64(elapsed-average) / float64(average)
	crawl := syntheticCeiling + over
	if crawl > crawlCeiling {
		return crawlCeiling
	}
	return crawl
}
