package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"sort"
	"time"

	"portalwatch/internal/config"
	"portalwatch/internal/logger"
	"portalwatch/internal/models"
	"portalwatch/internal/report"
)

// Router fans out notices to per-audience webhook channels.
type Router struct {
	client       *http.Client
	logger       *logger.Logger
	reporter     report.Sink
	channels     map[string]string
	wildcards    map[string]bool
	gradePattern *regexp.Regexp
	loc          *time.Location
}

// NewRouter creates a router from the notify configuration.
func NewRouter(cfg config.NotifyConfig, loc *time.Location, reporter report.Sink, log *logger.Logger) (*Router, error) {
	pattern, err := regexp.Compile(cfg.GradePattern)
	if err != nil {
		return nil, fmt.Errorf("invalid grade pattern: %w", err)
	}

	wildcards := make(map[string]bool, len(cfg.WildcardTags))
	for _, tag := range cfg.WildcardTags {
		wildcards[tag] = true
	}

	return &Router{
		client:       &http.Client{Timeout: 15 * time.Second},
		logger:       log,
		reporter:     reporter,
		channels:     cfg.Channels,
		wildcards:    wildcards,
		gradePattern: pattern,
		loc:          loc,
	}, nil
}

// Dispatch delivers new and updated notices. Delivery is attempted
// independently per (item, channel) pair; a failed channel never blocks
// the remaining channels or items.
func (r *Router) Dispatch(ctx context.Context, newItems, updatedItems []models.Notice) {
	for _, item := range newItems {
		r.dispatchItem(ctx, item, KindNew)
	}

	for _, item := range updatedItems {
		r.dispatchItem(ctx, item, KindUpdated)
	}
}

func (r *Router) dispatchItem(ctx context.Context, item models.Notice, kind Kind) {
	targets := r.resolveTargets(item.To)
	if len(targets) == 0 {
		r.logger.Info("no matching channels for notice", "title", item.Title, "to", item.To)

		return
	}

	message := RenderMessage(item, kind, r.loc)

	for _, target := range targets {
		if err := r.post(ctx, r.channels[target], message); err != nil {
			r.logger.Error("notification delivery failed", "channel", target, "title", item.Title, "error", err)
			r.reporter.Report(ctx, fmt.Errorf("notify %s: %w", target, err))

			continue
		}

		r.logger.Info("notification sent", "channel", target, "title", item.Title)
	}
}

// resolveTargets expands audience tags to configured channel names. A
// wildcard tag selects every configured channel and short-circuits further
// evaluation. Grade tags map 1:1; a tag with no configured channel is
// skipped, which is a configuration gap, not a delivery failure.
func (r *Router) resolveTargets(tags []string) []string {
	selected := make(map[string]bool)

	for _, tag := range tags {
		if r.wildcards[tag] {
			for name := range r.channels {
				selected[name] = true
			}

			break
		}

		if !r.gradePattern.MatchString(tag) {
			continue
		}

		if _, ok := r.channels[tag]; !ok {
			r.logger.Info("no webhook configured for audience tag, skipping", "tag", tag)

			continue
		}

		selected[tag] = true
	}

	targets := make([]string, 0, len(selected))
	for name := range selected {
		targets = append(targets, name)
	}

	sort.Strings(targets)

	return targets
}

func (r *Router) post(ctx context.Context, url, message string) error {
	body, err := json.Marshal(map[string]string{"text": message})
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create notification request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json; charset=UTF-8")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("notification request failed: %w", err)
	}

	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))

		return &report.HTTPError{Status: resp.StatusCode, Body: string(snippet)}
	}

	return nil
}
