// Package report delivers structured failure reports to the error sink.
//
// Delivery is best-effort: a failure to reach the sink is logged and
// swallowed, never escalated.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"portalwatch/internal/logger"
)

// HTTPError carries response details from a failed HTTP call so they can
// be included in a failure report.
type HTTPError struct {
	Body   string
	Status int
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Status)
}

// Payload is the wire shape accepted by the error sink.
type Payload struct {
	Message        string `json:"message"`
	Stack          string `json:"stack,omitempty"`
	ResponseStatus int    `json:"responseStatus,omitempty"`
	ResponseBody   string `json:"responseBody,omitempty"`
}

// Sink receives failure reports. Implemented by Reporter; faked in tests.
type Sink interface {
	Report(ctx context.Context, err error)
}

// Reporter posts failure reports to a webhook-style sink URL.
type Reporter struct {
	client *http.Client
	logger *logger.Logger
	url    string
}

// NewReporter creates a reporter. An empty URL disables delivery; reports
// are then logged only.
func NewReporter(url string, log *logger.Logger) *Reporter {
	return &Reporter{
		client: &http.Client{Timeout: 10 * time.Second},
		logger: log,
		url:    url,
	}
}

// Report sends one failure to the sink. HTTP response details are pulled
// from the error chain when present.
func (r *Reporter) Report(ctx context.Context, err error) {
	if err == nil {
		return
	}

	payload := Payload{Message: err.Error()}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		payload.ResponseStatus = httpErr.Status
		payload.ResponseBody = httpErr.Body
	}

	if r.url == "" {
		r.logger.Warn("error sink not configured, report dropped", "error", err)

		return
	}

	body, marshalErr := json.Marshal(payload)
	if marshalErr != nil {
		r.logger.Error("failed to marshal error report", "error", marshalErr)

		return
	}

	req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if reqErr != nil {
		r.logger.Error("failed to build error report request", "error", reqErr)

		return
	}

	req.Header.Set("Content-Type", "application/json")

	resp, sendErr := r.client.Do(req)
	if sendErr != nil {
		r.logger.Error("failed to deliver error report", "error", sendErr)

		return
	}

	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		r.logger.Error("error sink rejected report", "status", resp.StatusCode)

		return
	}

	r.logger.Debug("error report delivered", "message", payload.Message)
}
