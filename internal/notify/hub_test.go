package notify

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"server/internal/domain"
)

func jobFor(userID, jobID string, status domain.JobStatus) *domain.Job {
	return &domain.Job{ID: jobID, UserID: userID, Status: status}
}

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestHubFiltersByUserAndJobID(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	sub := hub.Subscribe("user-1", []string{"job-a"})
	defer sub.Close()

	hub.JobChanged(jobFor("user-1", "job-a", domain.JobStatusCompleted))
	hub.JobChanged(jobFor("user-1", "job-b", domain.JobStatusCompleted))
	hub.JobChanged(jobFor("user-2", "job-a", domain.JobStatusFailed))

	event := receive(t, sub.C)
	if event.JobID != "job-a" || event.Status != domain.JobStatusCompleted {
		t.Errorf("event = %+v, want job-a completed", event)
	}
	select {
	case extra, ok := <-sub.C:
		if ok {
			t.Errorf("unexpected extra event: %+v", extra)
		}
	default:
	}
}

func TestHubEmptyFilterReceivesAllUserJobs(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	sub := hub.Subscribe("user-1", nil)
	defer sub.Close()

	hub.JobChanged(jobFor("user-1", "job-a", domain.JobStatusProcessing))
	hub.JobChanged(jobFor("user-1", "job-b", domain.JobStatusFailed))

	first := receive(t, sub.C)
	second := receive(t, sub.C)
	if first.JobID != "job-a" || second.JobID != "job-b" {
		t.Errorf("events = %+v, %+v", first, second)
	}
}

func TestHubCloseStopsDelivery(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	sub := hub.Subscribe("user-1", []string{"job-a"})
	sub.Close()
	sub.Close() // idempotent

	hub.JobChanged(jobFor("user-1", "job-a", domain.JobStatusCompleted))

	if _, ok := <-sub.C; ok {
		t.Error("expected closed channel after Close")
	}
}

func TestHubDoesNotBlockOnSlowSubscriber(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	sub := hub.Subscribe("user-1", []string{"job-a"})
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*2; i++ {
			hub.JobChanged(jobFor("user-1", "job-a", domain.JobStatusProcessing))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}
