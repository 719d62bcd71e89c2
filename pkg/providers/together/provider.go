package together

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/voxline/voxline/pkg/completion"
	"github.com/voxline/voxline/pkg/errorsx"
	"github.com/voxline/voxline/pkg/resilience"
)

// Provider talks to Together's OpenAI-compatible chat completions API.
type Provider struct {
	APIKey  string
	Model   string
	BaseURL string
	Client  *http.Client
}

func New(apiKey, model string) *Provider {
	return &Provider{
		APIKey:  apiKey,
		Model:   model,
		BaseURL: "https://api.together.xyz/v1",
		Client:  &http.Client{Timeout: 60 * time.Second},
	}
}

func (p *Provider) Name() string { return "together" }

func (p *Provider) Complete(ctx context.Context, req completion.Request) (completion.Response, error) {
	messages := make([]completion.Message, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, completion.Message{Role: completion.RoleSystem, Content: req.System})
	}
	messages = append(messages, req.Messages...)

	body := map[string]any{
		"model":    p.Model,
		"messages": messages,
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}
	if req.Temperature > 0 {
		body["temperature"] = req.Temperature
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return completion.Response{}, errorsx.Wrap(err, errorsx.ReasonCompletionError, "request encode failed")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/chat/completions", bytes.NewReader(encoded))
	if err != nil {
		return completion.Response{}, errorsx.Wrap(err, errorsx.ReasonCompletionError, "request build failed")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.APIKey)

	resp, err := p.client().Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return completion.Response{}, errorsx.Wrap(err, errorsx.ReasonCompletionTimeout, "completion timed out")
		}
		return completion.Response{}, errorsx.Wrap(err, errorsx.ReasonCompletionError, "completion call failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		raw, _ := io.ReadAll(resp.Body)
		return completion.Response{}, resilience.RateLimitError{Provider: "together", Message: string(raw)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return completion.Response{}, errorsx.Wrap(
			fmt.Errorf("status %d: %s", resp.StatusCode, raw),
			errorsx.ReasonCompletionError, "completion rejected")
	}

	var payload struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			TotalTokens      int `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return completion.Response{}, errorsx.Wrap(err, errorsx.ReasonCompletionError, "response decode failed")
	}
	if len(payload.Choices) == 0 {
		return completion.Response{}, errorsx.Wrap(errors.New("no choices"), errorsx.ReasonCompletionError, "empty completion")
	}
	return completion.Response{
		Text:         payload.Choices[0].Message.Content,
		FinishReason: payload.Choices[0].FinishReason,
		Usage: completion.Usage{
			PromptTokens:     payload.Usage.PromptTokens,
			CompletionTokens: payload.Usage.CompletionTokens,
			TotalTokens:      payload.Usage.TotalTokens,
		},
	}, nil
}

func (p *Provider) client() *http.Client {
	if p.Client != nil {
		return p.Client
	}
	return http.DefaultClient
}

var _ completion.Provider = (*Provider)(nil)
