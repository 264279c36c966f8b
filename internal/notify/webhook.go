package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Sink posts operational events to a chat webhook. Every call is
// fire-and-forget: delivery failures are logged and swallowed, and the
// pipeline never waits on the channel.
type Sink struct {
	endpoint   string
	httpClient *http.Client
}

func NewSink(endpoint string) *Sink {
	return &Sink{
		endpoint:   strings.TrimSpace(endpoint),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *Sink) Enabled() bool {
	return s != nil && s.endpoint != ""
}

// Requested announces a new avatar request.
func (s *Sink) Requested(username, email, sourceIP string) {
	s.dispatch(fmt.Sprintf("avatar requested: user=%s email=%s ip=%s", username, email, sourceIP))
}

// Completed announces a delivered avatar.
func (s *Sink) Completed(username, email string) {
	s.dispatch(fmt.Sprintf("avatar delivered: user=%s email=%s", username, email))
}

func (s *Sink) dispatch(content string) {
	if !s.Enabled() {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.post(ctx, content); err != nil {
			slog.Warn("Webhook notification failed", "error", err)
		}
	}()
}

func (s *Sink) post(ctx context.Context, content string) error {
	raw, _ := json.Marshal(map[string]string{"content": content})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		payload, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("webhook rejected: status=%s body=%s", resp.Status, strings.TrimSpace(string(payload)))
	}
	return nil
}
