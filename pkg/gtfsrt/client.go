package gtfsrt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

var ErrRateLimited = errors.New("upstream rate limited")

// HTTPStatusError is returned for any non-200 upstream answer.
type HTTPStatusError struct {
	URL        string
	StatusCode int
	retryAfter time.Duration
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.StatusCode)
}

func (e *HTTPStatusError) Is(target error) bool {
	return target == ErrRateLimited && e.StatusCode == http.StatusTooManyRequests
}

// RetryAfter is the delay requested by the upstream, 0 when none was sent.
func (e *HTTPStatusError) RetryAfter() time.Duration {
	return e.retryAfter
}

type Client struct {
	URL       string
	Token     string
	UserAgent string

	HTTPClient *http.Client
	Now        func() time.Time
}

func NewClient(url string, token string, timeout time.Duration) *Client {
	return &Client{
		URL:        url,
		Token:      token,
		UserAgent:  "mesdeparts/1.0",
		HTTPClient: &http.Client{Timeout: timeout},
		Now:        time.Now,
	}
}

// Fetch downloads the raw feed body.
func (c *Client) Fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	req.Header.Set("Accept", "application/x-protobuf, application/octet-stream, application/json")
	req.Header.Set("User-Agent", c.UserAgent)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

		return nil, &HTTPStatusError{
			URL:        c.URL,
			StatusCode: resp.StatusCode,
			retryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), c.Now()),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read feed body: %w", err)
	}

	return body, nil
}

// parseRetryAfter accepts both delta-seconds and HTTP-date forms.
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}

	if at, err := http.ParseTime(value); err == nil {
		if wait := at.Sub(now); wait > 0 {
			return wait
		}
	}

	return 0
}
