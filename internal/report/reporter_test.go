package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"portalwatch/internal/logger"
)

func TestReporter_DeliversPayload(t *testing.T) {
	var got Payload

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("bad payload: %v", err)
		}

		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	reporter := NewReporter(srv.URL, logger.Discard())
	reporter.Report(context.Background(), errors.New("login request failed"))

	if got.Message != "login request failed" {
		t.Errorf("Message = %q", got.Message)
	}

	if got.ResponseStatus != 0 || got.ResponseBody != "" {
		t.Errorf("unexpected response fields: %+v", got)
	}
}

func TestReporter_ExtractsHTTPDetails(t *testing.T) {
	var got Payload

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	reporter := NewReporter(srv.URL, logger.Discard())

	wrapped := fmt.Errorf("board fetch: %w", &HTTPError{Status: 503, Body: "maintenance"})
	reporter.Report(context.Background(), wrapped)

	if got.ResponseStatus != 503 || got.ResponseBody != "maintenance" {
		t.Errorf("HTTP details not extracted: %+v", got)
	}
}

func TestReporter_NilErrorIgnored(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	reporter := NewReporter(srv.URL, logger.Discard())
	reporter.Report(context.Background(), nil)

	if calls.Load() != 0 {
		t.Errorf("nil error reached the sink")
	}
}

func TestReporter_UnconfiguredURLLogsOnly(t *testing.T) {
	// Must not panic or block without a sink URL.
	reporter := NewReporter("", logger.Discard())
	reporter.Report(context.Background(), errors.New("whatever"))
}

func TestReporter_SinkFailureSwallowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "no", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	reporter := NewReporter(srv.URL, logger.Discard())
	reporter.Report(context.Background(), errors.New("whatever"))
}

func TestHTTPError_Error(t *testing.T) {
	err := &HTTPError{Status: 404, Body: "gone"}
	if err.Error() != "unexpected status 404" {
		t.Errorf("Error() = %q", err.Error())
	}
}
