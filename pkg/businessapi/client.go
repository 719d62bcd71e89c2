package businessapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/voxline/voxline/pkg/errorsx"
	"github.com/voxline/voxline/pkg/logging"
)

// Client invokes operations on the external business system.
type Client interface {
	Invoke(ctx context.Context, method, path string, payload map[string]any) (map[string]any, error)
}

type Config struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// HTTPClient talks JSON over HTTP to the business backend. GET payloads
// become query parameters; every other method sends a JSON body.
type HTTPClient struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	client  *http.Client
	logger  *slog.Logger
}

func NewHTTPClient(cfg Config) (*HTTPClient, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		return nil, errors.New("businessapi: base_url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("businessapi: invalid base_url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL: base,
		apiKey:  cfg.APIKey,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
		logger:  logging.NewComponentLogger(slog.Default(), "businessapi"),
	}, nil
}

func (c *HTTPClient) Invoke(ctx context.Context, method, path string, payload map[string]any) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	target := c.baseURL + path
	var body io.Reader
	if method == http.MethodGet {
		if len(payload) > 0 {
			q := url.Values{}
			for k, v := range payload {
				q.Set(k, fmt.Sprintf("%v", v))
			}
			target += "?" + q.Encode()
		}
	} else if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, errorsx.Wrap(err, errorsx.ReasonBusinessError, "payload encode failed")
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonBusinessError, "request build failed")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	started := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, errorsx.Wrap(err, errorsx.ReasonBusinessTimeout, "business call timed out")
		}
		return nil, errorsx.Wrap(err, errorsx.ReasonBusinessError, "business call failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonBusinessError, "response read failed")
	}
	c.logger.Debug("business call finished",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(started).Milliseconds(),
	)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errorsx.Wrap(
			fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(raw), 200)),
			errorsx.ReasonBusinessError, "business call rejected")
	}

	result := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &result); err != nil {
			return nil, errorsx.Wrap(err, errorsx.ReasonBusinessError, "response decode failed")
		}
	}
	return result, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
