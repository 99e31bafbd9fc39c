// Package portal implements the authenticated HTTP session against the
// bulletin-board source: login, board and detail page fetches, and
// attachment downloads.
package portal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/transform"

	"portalwatch/internal/config"
	"portalwatch/internal/logger"
	"portalwatch/internal/report"
)

// Login errors.
var (
	ErrLoginFailed = errors.New("login request failed")
)

// Pages are capped to keep a misbehaving response from exhausting memory;
// attachments use a larger cap.
const (
	maxPageBytes       = 4 << 20
	maxAttachmentBytes = 64 << 20
)

// Client is an authenticated portal session. Cookies captured during login
// (including the session id set by the post-login iframe) are carried by
// the jar on every subsequent request.
type Client struct {
	http    *http.Client
	baseURL *url.URL
	logger  *logger.Logger
	retry   config.RetryPolicy
	creds   config.Credentials
}

// NewClient creates a portal client with a fresh cookie jar.
func NewClient(cfg config.PortalConfig, creds config.Credentials, retry config.RetryPolicy, log *logger.Logger) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid portal base URL: %w", err)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	return &Client{
		http: &http.Client{
			Jar:     jar,
			Timeout: retry.GetTimeout(),
		},
		baseURL: base.JoinPath(cfg.LoginPath),
		logger:  log,
		retry:   retry,
		creds:   creds,
	}, nil
}

// Login posts the credentials and returns the decoded board page HTML. The
// response to a successful login is the board itself. When the board page
// embeds an iframe, it is fetched once so the server can set its session
// cookie before any detail requests go out.
func (c *Client) Login(ctx context.Context) (string, error) {
	form := url.Values{}
	form.Set("MAILADDRESS", c.creds.LoginID)
	form.Set("LOGINPASS", c.creds.LoginPassword)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL.String(), strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create login request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	setCommonHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrLoginFailed, err)
	}

	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))

		return "", fmt.Errorf("%w: %w", ErrLoginFailed, &report.HTTPError{Status: resp.StatusCode, Body: string(body)})
	}

	page, err := decodeShiftJIS(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", fmt.Errorf("failed to decode login response: %w", err)
	}

	c.followSessionFrame(ctx, page)

	return page, nil
}

// followSessionFrame fetches the board page's iframe, if any, purely for
// the session cookie it sets. Failures here are logged, not fatal: detail
// fetches will surface any missing session as restricted content.
func (c *Client) followSessionFrame(ctx context.Context, page string) {
	src := frameSource(page)
	if src == "" {
		return
	}

	if _, _, err := c.get(ctx, src, maxPageBytes); err != nil {
		c.logger.Warn("session frame fetch failed", "src", src, "error", err)

		return
	}

	c.logger.Debug("session frame fetched", "src", src)
}

// FetchDetailPage fetches and decodes one notice's detail page.
func (c *Client) FetchDetailPage(ctx context.Context, detailRef string) (string, error) {
	body, _, err := c.get(ctx, detailRef, maxPageBytes)
	if err != nil {
		return "", fmt.Errorf("failed to fetch detail page: %w", err)
	}

	page, err := decodeShiftJIS(strings.NewReader(string(body)))
	if err != nil {
		return "", fmt.Errorf("failed to decode detail page: %w", err)
	}

	return page, nil
}

// AttachmentData is one downloaded attachment payload.
type AttachmentData struct {
	ContentType string
	Filename    string
	Body        []byte
}

// FetchAttachment downloads one attachment. Filename is taken from the
// Content-Disposition header when present, otherwise left empty for the
// caller to fill from the display label. The declared content type is
// passed through untouched so callers can apply the HTML guard.
func (c *Client) FetchAttachment(ctx context.Context, sourceRef string) (*AttachmentData, error) {
	body, header, err := c.get(ctx, sourceRef, maxAttachmentBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch attachment: %w", err)
	}

	return &AttachmentData{
		ContentType: header.Get("Content-Type"),
		Filename:    dispositionFilename(header.Get("Content-Disposition")),
		Body:        body,
	}, nil
}

// get performs a GET relative to the portal base with bounded retries.
// Redirects are followed by the underlying client.
func (c *Client) get(ctx context.Context, ref string, limit int64) ([]byte, http.Header, error) {
	target, err := c.resolve(ref)
	if err != nil {
		return nil, nil, err
	}

	var lastErr error

	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := c.retry.GetRetryDelay(attempt)
			if delay > 0 {
				select {
				case <-ctx.Done():
					return nil, nil, ctx.Err()
				case <-time.After(delay):
				}
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create request: %w", err)
		}

		setCommonHeaders(req)

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request failed (attempt %d/%d): %w", attempt, c.retry.MaxAttempts, err)

			continue
		}

		if resp.StatusCode >= http.StatusBadRequest {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
			resp.Body.Close()

			lastErr = fmt.Errorf("fetch %s: %w", ref, &report.HTTPError{Status: resp.StatusCode, Body: string(snippet)})
			if !isRetryableStatus(resp.StatusCode) {
				return nil, nil, lastErr
			}

			continue
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
		header := resp.Header
		resp.Body.Close()

		if err != nil {
			lastErr = fmt.Errorf("failed to read response body: %w", err)

			continue
		}

		return body, header, nil
	}

	return nil, nil, lastErr
}

func (c *Client) resolve(ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid reference %q: %w", ref, err)
	}

	return c.baseURL.ResolveReference(u).String(), nil
}

func setCommonHeaders(req *http.Request) {
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
}

// isRetryableStatus determines if a retry is worthwhile for a status code.
func isRetryableStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusServiceUnavailable,
		http.StatusGatewayTimeout,
		http.StatusTooManyRequests,
		http.StatusRequestTimeout:
		return true
	}

	return false
}

// decodeShiftJIS converts the portal's Shift_JIS pages to UTF-8.
func decodeShiftJIS(r io.Reader) (string, error) {
	decoded, err := io.ReadAll(transform.NewReader(r, japanese.ShiftJIS.NewDecoder()))
	if err != nil {
		return "", err
	}

	return string(decoded), nil
}

// dispositionFilename extracts a filename from a Content-Disposition
// header, returning "" when absent or unparsable.
func dispositionFilename(header string) string {
	if header == "" {
		return ""
	}

	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}

	return params["filename"]
}
