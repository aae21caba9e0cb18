// api/tracker/sender.go
package tracker

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"wandertrack/api/models"
)

const defaultSendTimeout = 3 * time.Second

// Sender ships segments to the ingestion endpoint fire-and-forget: each
// emission runs on its own goroutine, failures are logged and dropped, and
// nothing ever propagates back to the host application. The shared client
// keeps connections alive so a send started during page teardown can still
// complete.
type Sender struct {
	endpoint string
	apiKey   string
	client   *http.Client
	wg       sync.WaitGroup
}

// SenderOption configures a Sender.
type SenderOption func(*Sender)

// WithAPIKey attaches the ingestion API key to every request.
func WithAPIKey(key string) SenderOption {
	return func(s *Sender) { s.apiKey = key }
}

// WithHTTPClient swaps the underlying client.
func WithHTTPClient(client *http.Client) SenderOption {
	return func(s *Sender) { s.client = client }
}

func NewSender(endpoint string, opts ...SenderOption) *Sender {
	s := &Sender{
		endpoint: endpoint,
		client:   &http.Client{Timeout: defaultSendTimeout},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Emit sends one segment without blocking the caller.
func (s *Sender) Emit(seg models.VisitSegment) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.send(seg)
	}()
}

// Flush waits for in-flight sends. Hosts call it on orderly shutdown; there
// is no retry queue, whatever did not make it is acceptable loss.
func (s *Sender) Flush() {
	s.wg.Wait()
}

func (s *Sender) send(seg models.VisitSegment) {
	spent := seg.TimeSpentSeconds
	payload := models.TrackVisitRequest{
		SessionID:        seg.SessionID,
		UserID:           seg.UserID,
		Place:            seg.Place,
		PagePath:         seg.PagePath,
		TimeSpentSeconds: &spent,
		ExitReason:       string(seg.ExitReason),
		IsSiteExit:       seg.IsSiteExit,
		GeoLocation:      seg.GeoLocation,
		DeviceInfo:       seg.DeviceInfo,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		log.Printf("tracker: failed to marshal visit segment: %v", err)
		return
	}

	req, err := http.NewRequest(http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		log.Printf("tracker: failed to build ingestion request: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Connection", "keep-alive")
	if s.apiKey != "" {
		req.Header.Set("X-API-KEY", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		log.Printf("tracker: visit segment dropped: %v", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		log.Printf("tracker: ingestion rejected segment with status %d", resp.StatusCode)
	}
}
