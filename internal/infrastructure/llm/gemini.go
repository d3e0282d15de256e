package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"NewsDigest/internal/config"
	"NewsDigest/internal/domain"
	"NewsDigest/internal/ports"
)

// GeminiProducer generates scripts with Google Gemini.
type GeminiProducer struct {
	scriptWriter
	client   *genai.Client
	complete completeFunc
}

var _ ports.Producer = (*GeminiProducer)(nil)

// NewGeminiProducer creates the Gemini client; Close releases it.
func NewGeminiProducer(ctx context.Context, cfg config.GeminiConfig, store ScriptStore) (*GeminiProducer, error) {
	if cfg.APIKey == "" {
		return nil, domain.Configuration("gemini api key is required")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	g := &GeminiProducer{
		scriptWriter: scriptWriter{
			model:        cfg.Model,
			systemPrompt: cfg.SystemPrompt,
			pricing:      Pricing{InputPerM: cfg.InputPricePerM, OutputPerM: cfg.OutputPricePerM},
			store:        store,
		},
		client: client,
	}
	g.complete = g.generate
	return g, nil
}

// Produce writes the script for one shortlisted item.
func (g *GeminiProducer) Produce(ctx context.Context, item domain.WorkItem, options map[string]string) (domain.Artifact, error) {
	if g == nil || g.complete == nil {
		return domain.Artifact{}, domain.Permanent("gemini", errors.New("client is nil"))
	}
	return g.produce(ctx, item, options, g.complete)
}

// Close releases resources held by the client.
func (g *GeminiProducer) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

func (g *GeminiProducer) generate(ctx context.Context, system, prompt string) (completion, error) {
	model := g.client.GenerativeModel(g.model)
	model.SetTemperature(0.7)
	model.SetMaxOutputTokens(1500)
	model.ResponseMIMEType = "application/json"
	model.SystemInstruction = genai.NewUserContent(genai.Text(system))

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return completion{}, classifyGeminiError(err)
	}

	text, err := extractText(resp)
	if err != nil {
		return completion{}, domain.Permanent("gemini", err)
	}

	out := completion{Text: text}
	if resp.UsageMetadata != nil {
		out.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		out.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return out, nil
}

func extractText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", errors.New("no candidates in response")
	}

	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", errors.New("no content in response")
	}

	var parts []string
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			parts = append(parts, string(text))
		}
	}
	if len(parts) == 0 {
		return "", errors.New("no text parts in response")
	}
	return strings.Join(parts, ""), nil
}

// classifyGeminiError separates quota and availability failures from rejected requests.
func classifyGeminiError(err error) error {
	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		return domain.Permanent("gemini", err)
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError {
			return domain.Transient("gemini", err)
		}
		return domain.Permanent("gemini", err)
	}

	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.ResourceExhausted, codes.Unavailable, codes.Internal, codes.DeadlineExceeded, codes.Aborted:
			return domain.Transient("gemini", err)
		case codes.InvalidArgument, codes.PermissionDenied, codes.Unauthenticated, codes.NotFound, codes.FailedPrecondition:
			return domain.Permanent("gemini", err)
		}
	}
	return domain.Transient("gemini", err)
}
