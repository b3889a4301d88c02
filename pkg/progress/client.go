package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
)

// WSEventSource adapts a websocket connection to the EventSource contract.
// Frames that fail to decode are skipped; the channel closes when the
// connection drops or Close is called.
type WSEventSource struct {
	conn   *websocket.Conn
	events chan Event
}

// Dial opens the push subscription for the given jobs against the server's
// events endpoint. The bearer token authenticates the user; the server
// filters delivery to that user's jobs.
func Dial(ctx context.Context, baseURL, token string, jobIDs []string) (*WSEventSource, error) {
	endpoint, err := eventsURL(baseURL, jobIDs)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("progress: dial events: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("progress: dial events: %w", err)
	}

	source := &WSEventSource{conn: conn, events: make(chan Event, 16)}
	go source.readLoop()
	return source, nil
}

// Events implements EventSource.
func (s *WSEventSource) Events() <-chan Event {
	return s.events
}

// Close implements EventSource and releases the subscription.
func (s *WSEventSource) Close() error {
	return s.conn.Close()
}

func (s *WSEventSource) readLoop() {
	defer close(s.events)
	for {
		var event Event
		if err := s.conn.ReadJSON(&event); err != nil {
			return
		}
		if event.JobID == "" {
			continue
		}
		s.events <- event
	}
}

func eventsURL(baseURL string, jobIDs []string) (string, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("progress: parse base url: %w", err)
	}
	switch parsed.Scheme {
	case "http":
		parsed.Scheme = "ws"
	case "https":
		parsed.Scheme = "wss"
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/") + "/v1/events"
	query := parsed.Query()
	if len(jobIDs) > 0 {
		query.Set("job_ids", strings.Join(jobIDs, ","))
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

// HTTPPoller queries the batch status endpoint, serving as the deferred
// reconciliation poll and any manual refresh.
type HTTPPoller struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// PollStatuses implements Poller.
func (p *HTTPPoller) PollStatuses(ctx context.Context, jobIDs []string) ([]Status, error) {
	if len(jobIDs) == 0 {
		return nil, nil
	}
	client := p.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	endpoint := fmt.Sprintf("%s/v1/jobs/statuses?ids=%s",
		strings.TrimRight(p.BaseURL, "/"), url.QueryEscape(strings.Join(jobIDs, ",")))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("progress: build poll request: %w", err)
	}
	if p.Token != "" {
		req.Header.Set("Authorization", "Bearer "+p.Token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("progress: poll statuses: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("progress: poll statuses: status %d", resp.StatusCode)
	}
	var payload struct {
		Items []Status `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("progress: decode poll response: %w", err)
	}
	return payload.Items, nil
}

var _ Poller = (*HTTPPoller)(nil)
var _ EventSource = (*WSEventSource)(nil)
