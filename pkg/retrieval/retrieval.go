package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/voxline/voxline/pkg/errorsx"
	"github.com/voxline/voxline/pkg/resilience"
)

// Document is one retrieved knowledge-base passage.
type Document struct {
	ID      string  `json:"id"`
	Title   string  `json:"title,omitempty"`
	Snippet string  `json:"snippet"`
	Score   float64 `json:"score,omitempty"`
}

// Retriever answers free-text queries against the knowledge base.
type Retriever interface {
	Query(ctx context.Context, query string, topK int) ([]Document, error)
}

type Config struct {
	Endpoint string        `mapstructure:"endpoint"`
	APIKey   string        `mapstructure:"api_key"`
	TopK     int           `mapstructure:"top_k"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// HTTPRetriever queries a remote retrieval service over JSON. Transient
// failures are retried; a run of failures opens the breaker so grounded
// turns degrade immediately instead of stacking timeouts.
type HTTPRetriever struct {
	endpoint string
	apiKey   string
	timeout  time.Duration
	client   *http.Client
	retry    resilience.RetryPolicy
	breaker  *resilience.CircuitBreaker
}

func NewHTTPRetriever(cfg Config) (*HTTPRetriever, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("retrieval: endpoint is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPRetriever{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		timeout:  timeout,
		client:   &http.Client{Timeout: timeout},
		retry:    resilience.NewRetryPolicy(2, 150*time.Millisecond),
		breaker:  resilience.NewCircuitBreaker(3, 30*time.Second),
	}, nil
}

func (r *HTTPRetriever) Query(ctx context.Context, query string, topK int) ([]Document, error) {
	if !r.breaker.Allow() {
		return nil, errorsx.Wrap(errors.New("retrieval circuit open"),
			errorsx.ReasonRetrievalError, "retrieval unavailable")
	}
	var docs []Document
	err := r.retry.Do(ctx, func() error {
		var qerr error
		docs, qerr = r.queryOnce(ctx, query, topK)
		return qerr
	})
	if err != nil {
		r.breaker.OnError()
		return nil, err
	}
	r.breaker.OnSuccess()
	return docs, nil
}

func (r *HTTPRetriever) queryOnce(ctx context.Context, query string, topK int) ([]Document, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	body, err := json.Marshal(map[string]any{"query": query, "top_k": topK})
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonRetrievalError, "query encode failed")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonRetrievalError, "request build failed")
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, errorsx.Wrap(err, errorsx.ReasonRetrievalTimeout, "retrieval timed out")
		}
		return nil, errorsx.Wrap(err, errorsx.ReasonRetrievalError, "retrieval call failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, errorsx.Wrap(
			fmt.Errorf("status %d: %s", resp.StatusCode, raw),
			errorsx.ReasonRetrievalError, "retrieval rejected")
	}

	var payload struct {
		Documents []Document `json:"documents"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonRetrievalError, "response decode failed")
	}
	return payload.Documents, nil
}
