package notify

import (
	"sync"

	"server/internal/domain"
	"server/internal/infra"
)

// Event is one job-row-changed notification frame. It carries only state
// already persisted on the job row, so push and poll always agree.
type Event struct {
	Type          string           `json:"type"`
	JobID         string           `json:"job_id"`
	Status        domain.JobStatus `json:"status"`
	OutputAssetID string           `json:"output_asset_id,omitempty"`
	ErrorMessage  string           `json:"error_message,omitempty"`
	IsRetryable   bool             `json:"is_retryable"`
}

// EventTypeJobUpdate tags job status change frames.
const EventTypeJobUpdate = "job_update"

// subscriberBuffer bounds the per-subscriber queue. A subscriber that falls
// behind loses frames; the client's reconciliation poll covers the gap.
const subscriberBuffer = 16

type subscriber struct {
	userID string
	jobIDs map[string]struct{}
	ch     chan Event
}

func (s *subscriber) wants(userID, jobID string) bool {
	if s.userID != userID {
		return false
	}
	if len(s.jobIDs) == 0 {
		return true
	}
	_, ok := s.jobIDs[jobID]
	return ok
}

// Hub fans job status changes out to live subscriptions, each filtered to
// one user and an optional set of job ids.
type Hub struct {
	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	logger infra.Logger
}

// NewHub creates an empty hub.
func NewHub(logger infra.Logger) *Hub {
	return &Hub{subs: make(map[*subscriber]struct{}), logger: logger}
}

// Subscription is one live push channel. Events arrives on C until Close.
type Subscription struct {
	C    <-chan Event
	hub  *Hub
	sub  *subscriber
	once sync.Once
}

// Close releases the subscription. After Close no further events arrive and
// C is closed. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs, s.sub)
		s.hub.mu.Unlock()
		close(s.sub.ch)
	})
}

// Subscribe registers a push channel for the user, filtered to jobIDs. An
// empty filter receives all of the user's job events.
func (h *Hub) Subscribe(userID string, jobIDs []string) *Subscription {
	sub := &subscriber{
		userID: userID,
		jobIDs: make(map[string]struct{}, len(jobIDs)),
		ch:     make(chan Event, subscriberBuffer),
	}
	for _, id := range jobIDs {
		sub.jobIDs[id] = struct{}{}
	}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return &Subscription{C: sub.ch, hub: h, sub: sub}
}

// JobChanged implements the executor's notifier contract: it converts the
// persisted job row into an event and delivers it to matching subscribers.
// Delivery never blocks the executor.
func (h *Hub) JobChanged(job *domain.Job) {
	event := Event{
		Type:          EventTypeJobUpdate,
		JobID:         job.ID,
		Status:        job.Status,
		OutputAssetID: job.OutputAssetID,
		ErrorMessage:  job.ErrorMessage,
		IsRetryable:   job.IsRetryable,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		if !sub.wants(job.UserID, job.ID) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			h.logger.Warn().
				Str("job_id", job.ID).
				Str("user_id", job.UserID).
				Msg("notify: subscriber buffer full, frame dropped")
		}
	}
}
