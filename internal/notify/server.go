package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"portalwatch/internal/logger"
	"portalwatch/internal/report"
	"portalwatch/pkg/textutil"
)

// Discord caps message content at 2000 characters; stay under it with
// room for the truncation marker.
const maxForwardWidth = 1900

// Server is the downstream notifier: it accepts a cycle's change set in
// the aggregator shape and performs the per-channel expansion, and it
// forwards structured error reports to an operator webhook.
type Server struct {
	router     *Router
	client     *http.Client
	logger     *logger.Logger
	errorHook  string
	sourceName string
}

// NewServer creates the notifier HTTP handler set. errorHook may be empty,
// in which case error reports are logged and dropped.
func NewServer(router *Router, errorHook, sourceName string, log *logger.Logger) *Server {
	return &Server{
		router:     router,
		client:     &http.Client{Timeout: 15 * time.Second},
		logger:     log,
		errorHook:  errorHook,
		sourceName: sourceName,
	}
}

// Handler returns the route mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /notify", s.handleNotify)
	mux.HandleFunc("POST /error", s.handleError)

	return mux
}

func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	var batch Batch
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		s.logger.Warn("invalid notify payload", "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})

		return
	}

	s.router.Dispatch(r.Context(), batch.New, batch.Updated)

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleError(w http.ResponseWriter, r *http.Request) {
	var payload report.Payload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.logger.Warn("invalid error payload", "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})

		return
	}

	s.forwardError(r, payload)

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// forwardError posts the report to the operator webhook, best-effort.
func (s *Server) forwardError(r *http.Request, payload report.Payload) {
	message := s.formatError(payload)

	if s.errorHook == "" {
		s.logger.Warn("error webhook not configured, report dropped", "message", payload.Message)

		return
	}

	body, err := json.Marshal(map[string]string{"content": message})
	if err != nil {
		s.logger.Error("failed to marshal error forward", "error", err)

		return
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, s.errorHook, bytes.NewReader(body))
	if err != nil {
		s.logger.Error("failed to build error forward request", "error", err)

		return
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Error("failed to forward error report", "error", err)

		return
	}

	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		s.logger.Error("error webhook rejected report", "status", resp.StatusCode)

		return
	}

	s.logger.Info("error report forwarded")
}

func (s *Server) formatError(payload report.Payload) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Error %s detail: %s", s.sourceName, payload.Message)

	if payload.ResponseStatus != 0 {
		fmt.Fprintf(&sb, "\nstatus: %d", payload.ResponseStatus)
	}

	if payload.ResponseBody != "" {
		fmt.Fprintf(&sb, "\nbody: %s", payload.ResponseBody)
	}

	if payload.Stack != "" {
		fmt.Fprintf(&sb, "\n%s", payload.Stack)
	}

	return textutil.TruncateDisplay(sb.String(), maxForwardWidth, "...（The rest is omitted）")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
