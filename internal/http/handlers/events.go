package handlers

import (
	"net/http"
	"strings"
	"time"
)

const eventWriteTimeout = 10 * time.Second

// Events upgrades the connection to a websocket and streams job status
// change frames for the authenticated user, filtered to the requested job
// ids. The subscription is released when either side closes.
func (a *App) Events(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}

	var jobIDs []string
	if raw := strings.TrimSpace(r.URL.Query().Get("job_ids")); raw != "" {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				jobIDs = append(jobIDs, id)
			}
		}
	}

	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	sub := a.Hub.Subscribe(userID, jobIDs)
	defer sub.Close()
	defer conn.Close()

	// Reader drains control frames and unblocks the writer when the peer
	// goes away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case event, ok := <-sub.C:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}
