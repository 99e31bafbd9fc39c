package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"portalwatch/internal/models"
	"portalwatch/internal/report"
)

// Batch is the aggregator wire shape: the full change set of one cycle,
// fanned out per channel by a downstream notifier.
type Batch struct {
	New     []models.Notice `json:"new"`
	Updated []models.Notice `json:"updated"`
}

// AggregatorClient posts the whole change set to a single downstream
// notifier instead of expanding channels locally.
type AggregatorClient struct {
	client *http.Client
	url    string
}

// NewAggregatorClient creates an aggregator client.
func NewAggregatorClient(url string) *AggregatorClient {
	return &AggregatorClient{
		client: &http.Client{Timeout: 30 * time.Second},
		url:    url,
	}
}

// Notify posts one cycle's change set.
func (a *AggregatorClient) Notify(ctx context.Context, newItems, updatedItems []models.Notice) error {
	batch := Batch{New: newItems, Updated: updatedItems}
	if batch.New == nil {
		batch.New = []models.Notice{}
	}

	if batch.Updated == nil {
		batch.Updated = []models.Notice{}
	}

	body, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("failed to marshal notification batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create batch request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("batch notification failed: %w", err)
	}

	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))

		return fmt.Errorf("batch notification rejected: %w", &report.HTTPError{Status: resp.StatusCode, Body: string(snippet)})
	}

	return nil
}
