package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"NewsDigest/internal/config"
	"NewsDigest/internal/domain"
	"NewsDigest/internal/ports"
)

const defaultChatGPTEndpoint = "https://api.openai.com/v1/chat/completions"

// ChatGPTProducer generates scripts through an OpenAI-compatible chat completions API.
type ChatGPTProducer struct {
	scriptWriter
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

var _ ports.Producer = (*ChatGPTProducer)(nil)

// NewChatGPTProducer builds a producer from configuration.
func NewChatGPTProducer(cfg config.ChatGPTConfig, store ScriptStore) *ChatGPTProducer {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultChatGPTEndpoint
	}
	return &ChatGPTProducer{
		scriptWriter: scriptWriter{
			model:        cfg.Model,
			systemPrompt: cfg.SystemPrompt,
			pricing:      Pricing{InputPerM: cfg.InputPricePerM, OutputPerM: cfg.OutputPricePerM},
			store:        store,
		},
		endpoint: endpoint,
		apiKey:   cfg.APIKey,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// Produce writes the script for one shortlisted item.
func (c *ChatGPTProducer) Produce(ctx context.Context, item domain.WorkItem, options map[string]string) (domain.Artifact, error) {
	if c == nil {
		return domain.Artifact{}, domain.Permanent("chatgpt", errors.New("client is nil"))
	}
	if c.apiKey == "" || c.model == "" {
		return domain.Artifact{}, domain.Permanent("chatgpt", errors.New("client misconfigured"))
	}
	return c.produce(ctx, item, options, c.complete)
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (c *ChatGPTProducer) complete(ctx context.Context, system, prompt string) (completion, error) {
	body, err := json.Marshal(map[string]any{
		"model": c.model,
		"messages": []map[string]string{
			{"role": "system", "content": system},
			{"role": "user", "content": prompt},
		},
		"temperature":     0.7,
		"max_tokens":      1500,
		"response_format": map[string]string{"type": "json_object"},
	})
	if err != nil {
		return completion{}, domain.Permanent("marshal chatgpt payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return completion{}, domain.Permanent("new request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return completion{}, domain.Transient("chatgpt request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return completion{}, classifyStatus(resp.StatusCode, fmt.Errorf("chatgpt error %s: %s", resp.Status, strings.TrimSpace(string(payload))))
	}

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return completion{}, domain.Transient("decode chatgpt response", err)
	}
	if len(decoded.Choices) == 0 {
		return completion{}, domain.Permanent("chatgpt", errors.New("no choices in response"))
	}

	return completion{
		Text:             decoded.Choices[0].Message.Content,
		PromptTokens:     decoded.Usage.PromptTokens,
		CompletionTokens: decoded.Usage.CompletionTokens,
	}, nil
}

// classifyStatus marks rate limiting and server errors as retryable.
func classifyStatus(code int, err error) error {
	if code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= http.StatusInternalServerError {
		return domain.Transient("chatgpt", err)
	}
	return domain.Permanent("chatgpt", err)
}
