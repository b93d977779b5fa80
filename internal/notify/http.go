package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPDispatcher posts invitations to an external notification service.
type HTTPDispatcher struct {
	URL    string
	Client *http.Client
}

// NewHTTPDispatcher builds a dispatcher for the given endpoint. The client
// carries no timeout of its own; callers bound each Send via context.
func NewHTTPDispatcher(url string) *HTTPDispatcher {
	return &HTTPDispatcher{URL: url, Client: &http.Client{}}
}

type notificationPayload struct {
	To        string `json:"to"`
	Name      string `json:"name"`
	Subject   string `json:"subject"`
	SurveyURL string `json:"survey_url"`
	RunTitle  string `json:"run_title"`
	DueDate   string `json:"due_date"`
}

func (d *HTTPDispatcher) Send(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(notificationPayload{
		To:        n.RecipientEmail,
		Name:      n.RecipientName,
		Subject:   fmt.Sprintf("Compliance survey: %s", n.RunTitle),
		SurveyURL: n.SurveyURL,
		RunTitle:  n.RunTitle,
		DueDate:   n.DueDate.Format(time.DateOnly),
	})
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.Client.Do(req)
	if err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notification service returned %d", resp.StatusCode)
	}
	return nil
}
