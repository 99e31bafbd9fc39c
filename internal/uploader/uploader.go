// Package uploader submits attachment payloads to the durable-storage
// endpoint and returns the durable reference it assigns.
package uploader

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"time"

	"portalwatch/internal/logger"
	"portalwatch/internal/report"
)

// Upload errors.
var (
	ErrNotConfigured = errors.New("upload URL is not configured")
	ErrNoFileURL     = errors.New("upload response contained no fileUrl")
)

// Uploader stores binary payloads durably. Implemented by Client; faked in
// tests.
type Uploader interface {
	Upload(ctx context.Context, payload []byte, filename string) (string, error)
}

// Client is the HTTP upload client.
type Client struct {
	http   *http.Client
	logger *logger.Logger
	url    string
	token  string
}

// NewClient creates an upload client.
func NewClient(url, token string, log *logger.Logger) *Client {
	return &Client{
		http:   &http.Client{Timeout: 60 * time.Second},
		logger: log,
		url:    url,
		token:  token,
	}
}

type uploadRequest struct {
	Token    string `json:"token"`
	Filename string `json:"filename"`
	MimeType string `json:"mimeType"`
	FileData string `json:"fileData"`
}

type uploadResponse struct {
	FileURL string `json:"fileUrl"`
}

// Upload submits one payload and returns the durable reference. The MIME
// type is derived from the filename extension, defaulting to a generic
// binary type when unknown.
func (c *Client) Upload(ctx context.Context, payload []byte, filename string) (string, error) {
	if c.url == "" {
		return "", ErrNotConfigured
	}

	reqBody := uploadRequest{
		Token:    c.token,
		Filename: filename,
		MimeType: mimeTypeFor(filename),
		FileData: base64.StdEncoding.EncodeToString(payload),
	}

	data, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal upload request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to create upload request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload request failed: %w", err)
	}

	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read upload response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("upload %s: %w", filename, &report.HTTPError{Status: resp.StatusCode, Body: string(body)})
	}

	var result uploadResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("failed to parse upload response: %w", err)
	}

	if result.FileURL == "" {
		return "", fmt.Errorf("%w: %s", ErrNoFileURL, filename)
	}

	c.logger.Debug("attachment uploaded", "filename", filename, "fileUrl", result.FileURL)

	return result.FileURL, nil
}

// mimeTypeFor resolves a MIME type from the filename extension.
func mimeTypeFor(filename string) string {
	if t := mime.TypeByExtension(filepath.Ext(filename)); t != "" {
		return t
	}

	return "application/octet-stream"
}
