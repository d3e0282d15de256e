// Package media talks to the image, narration and compose service.
package media

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

const defaultTimeout = 5 * time.Minute

// ArtifactReader loads locally stored artifacts, used to inline the script for narration.
type ArtifactReader interface {
	Load(ref string) ([]byte, error)
}

// Client is a reusable HTTP client for the media service.
type Client struct {
	endpoint  string
	apiKey    string
	http      *http.Client
	artifacts ArtifactReader
}

// NewClient creates the client; artifacts may be nil.
func NewClient(cfg config.MediaConfig, artifacts ArtifactReader) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		endpoint:  strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:    cfg.APIKey,
		http:      &http.Client{Timeout: timeout},
		artifacts: artifacts,
	}
}

// Producer returns the producer for one media stage.
func (c *Client) Producer(stage domain.Stage) *Producer {
	return &Producer{client: c, stage: stage}
}

// Producer posts stage payloads to {endpoint}/{stage}.
type Producer struct {
	client *Client
	stage  domain.Stage
}

var _ ports.Producer = (*Producer)(nil)

type produceRequest struct {
	CandidateID   string            `json:"candidate_id"`
	Stage         domain.Stage      `json:"stage"`
	Payload       domain.Payload    `json:"payload"`
	Options       map[string]string `json:"options,omitempty"`
	ScriptContent string            `json:"script_content,omitempty"`
}

type produceResponse struct {
	ArtifactRef string  `json:"artifact_ref"`
	Cost        float64 `json:"cost"`
}

// Produce requests one artifact and returns its reference and price.
func (p *Producer) Produce(ctx context.Context, item domain.WorkItem, options map[string]string) (domain.Artifact, error) {
	op := fmt.Sprintf("media %s", p.stage)
	if p.client == nil || p.client.endpoint == "" {
		return domain.Artifact{}, domain.Permanent(op, errors.New("client misconfigured"))
	}

	payload := produceRequest{
		CandidateID: item.Candidate.ID,
		Stage:       p.stage,
		Payload:     item.Payload,
		Options:     options,
	}
	if p.stage == domain.StageNarration && p.client.artifacts != nil {
		if ref := payloadRef(item.Payload, "script"); ref != "" {
			data, err := p.client.artifacts.Load(ref)
			if err != nil {
				return domain.Artifact{}, domain.Permanent(op, err)
			}
			payload.ScriptContent = string(data)
		}
	}

	var resp produceResponse
	if err := p.client.post(ctx, op, "/"+string(p.stage), payload, &resp); err != nil {
		return domain.Artifact{}, err
	}
	if resp.ArtifactRef == "" {
		return domain.Artifact{}, domain.Permanent(op, errors.New("empty artifact_ref in response"))
	}
	if resp.Cost < 0 {
		return domain.Artifact{}, domain.Permanent(op, fmt.Errorf("negative cost %f", resp.Cost))
	}
	return domain.Artifact{Ref: resp.ArtifactRef, Cost: resp.Cost}, nil
}

func (c *Client) post(ctx context.Context, op, path string, payload any, v any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return domain.Permanent(op, fmt.Errorf("marshal payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return domain.Permanent(op, fmt.Errorf("new request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.Transient(op, fmt.Errorf("do request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		err := fmt.Errorf("unexpected status %s: %s", resp.Status, strings.TrimSpace(string(detail)))
		if retryable(resp.StatusCode) {
			return domain.Transient(op, err)
		}
		return domain.Permanent(op, err)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return domain.Permanent(op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func retryable(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusRequestTimeout ||
		code >= http.StatusInternalServerError
}

func payloadRef(p domain.Payload, key string) string {
	switch v := p[key].(type) {
	case domain.Ref:
		return string(v)
	case string:
		return v
	}
	return ""
}
