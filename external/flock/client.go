package flock

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/degenduel/duel-settlement/business/retry"
	"github.com/degenduel/duel-settlement/entities"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	hintSystemPrompt    = "You are a crypto market analyst for DegenDuel prediction game. Respond with JSON: {confidence: 0-100, rationale: string, alternativeThreshold: number|null}"
	outcomeSystemPrompt = "You are an analyst for DegenDuel. Explain in 2-3 sentences what drove the outcome. Keep under 75 words."

	FallbackConfidence = 50
	FallbackRationale  = "AI analysis temporarily unavailable. Make your own call!"
	FallbackAnalysis   = "Analysis unavailable."

	maxRationaleRunes = 200
	maxTokens         = 2048
	temperature       = 0.7
)

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	Stream      bool      `json:"stream"`
}

type completionResponse struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
}

// Client asks the FLock chat completion API for strategy hints. It never fails, a
// fallback answer is returned instead.
type Client struct {
	url     string
	apiKey  string
	model   string
	timeout time.Duration
	client  *http.Client
	logger  *zap.SugaredLogger
}

func NewClient(url, apiKey, model string, timeout time.Duration, logger *zap.SugaredLogger) *Client {
	return &Client{
		url:     url,
		apiKey:  apiKey,
		model:   model,
		timeout: timeout,
		client:  &http.Client{},
		logger:  logger,
	}
}

func (c *Client) GetStrategyHint(ctx context.Context, prompt string) entities.StrategyHint {
	content, err := c.complete(ctx, hintSystemPrompt, prompt)
	if err != nil {
		c.logger.Warnw("Strategy hint unavailable", "error", err)
		return entities.StrategyHint{Confidence: FallbackConfidence, Rationale: FallbackRationale}
	}

	var hint entities.StrategyHint
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &hint); err != nil {
		return entities.StrategyHint{Confidence: FallbackConfidence, Rationale: truncate(content, maxRationaleRunes)}
	}
	return hint
}

func (c *Client) AnalyzeOutcome(ctx context.Context, prompt string) string {
	content, err := c.complete(ctx, outcomeSystemPrompt, prompt)
	if err != nil {
		c.logger.Warnw("Outcome analysis unavailable", "error", err)
		return FallbackAnalysis
	}
	return content
}

// complete makes one retry after a failed or timed out attempt.
func (c *Client) complete(ctx context.Context, systemPrompt, prompt string) (string, error) {
	policy := retry.Policy{MaxAttempts: 2}
	return retry.Do(ctx, policy, func(ctx context.Context) (string, error) {
		ctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		return c.call(ctx, systemPrompt, prompt)
	})
}

func (c *Client) call(ctx context.Context, systemPrompt, prompt string) (string, error) {
	body, err := json.Marshal(completionRequest{
		Model: c.model,
		Messages: []message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		MaxTokens:   maxTokens,
		Temperature: temperature,
	})
	if err != nil {
		return "", errors.Wrap(err, "marshalling request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "creating request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-litellm-api-key", c.apiKey)

	res, err := c.client.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "calling flock api")
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, res.Body)
		return "", errors.Errorf("flock api returned status [%d]", res.StatusCode)
	}

	var completion completionResponse
	if err := json.NewDecoder(res.Body).Decode(&completion); err != nil {
		return "", errors.Wrap(err, "decoding completion")
	}
	if len(completion.Choices) == 0 {
		return "", errors.New("completion without choices")
	}
	return completion.Choices[0].Message.Content, nil
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
