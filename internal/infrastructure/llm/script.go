// Package llm produces news scripts with hosted language models.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"NewsDigest/internal/domain"
)

const (
	defaultStyle    = "professional"
	defaultDuration = 60
	wordsPerSecond  = 2.5
)

// scriptSchema is the JSON contract the model must answer with.
const scriptSchema = `{
  "type": "object",
  "required": ["english_script", "korean_translation", "estimated_duration"],
  "properties": {
    "english_script": {"type": "string", "minLength": 1},
    "korean_translation": {"type": "string", "minLength": 1},
    "estimated_duration": {"type": "number", "minimum": 1},
    "word_count": {"type": "integer", "minimum": 0},
    "key_vocabulary": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["word", "meaning"],
        "properties": {
          "word": {"type": "string"},
          "meaning": {"type": "string"},
          "example": {"type": "string"}
        }
      }
    }
  }
}`

var compiledSchema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewStringLoader(scriptSchema))
})

var stylePrompts = map[string]string{
	"professional": "Style: professional but approachable, clear and precise, active voice, explain technical terms.",
	"casual":       "Style: conversational and friendly, simple everyday language, relatable examples.",
	"educational":  "Style: focus on teaching, break down complex concepts, highlight key vocabulary.",
}

const baseSystemPrompt = `You are a news anchor for a daily tech news video channel.
Your audience wants to learn English while staying updated on tech trends.
Transform news articles into engaging, clear and educational scripts.`

// Vocabulary is one highlighted term of a script.
type Vocabulary struct {
	Word    string `json:"word"`
	Meaning string `json:"meaning"`
	Example string `json:"example,omitempty"`
}

// Script is the artifact written for the script stage.
type Script struct {
	EnglishScript     string       `json:"english_script"`
	KoreanTranslation string       `json:"korean_translation"`
	KeyVocabulary     []Vocabulary `json:"key_vocabulary"`
	EstimatedDuration float64      `json:"estimated_duration"`
	WordCount         int          `json:"word_count"`
	Style             string       `json:"style"`
	Model             string       `json:"model"`
	PromptTokens      int          `json:"prompt_tokens"`
	CompletionTokens  int          `json:"completion_tokens"`
	Cost              float64      `json:"cost"`
}

// Pricing converts token usage to USD.
type Pricing struct {
	InputPerM  float64
	OutputPerM float64
}

// Cost prices one call.
func (p Pricing) Cost(promptTokens, completionTokens int) float64 {
	return float64(promptTokens)*p.InputPerM/1e6 + float64(completionTokens)*p.OutputPerM/1e6
}

// ScriptStore persists generated scripts and returns their reference.
type ScriptStore interface {
	Save(stage domain.Stage, data []byte, ext string) (string, error)
}

type completion struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
}

type completeFunc func(ctx context.Context, system, prompt string) (completion, error)

// scriptWriter holds the backend independent part of script generation.
type scriptWriter struct {
	model        string
	systemPrompt string
	pricing      Pricing
	store        ScriptStore
}

func (w scriptWriter) produce(ctx context.Context, item domain.WorkItem, options map[string]string, complete completeFunc) (domain.Artifact, error) {
	if w.store == nil {
		return domain.Artifact{}, domain.Permanent("script", errors.New("no script store configured"))
	}

	style := strings.ToLower(strings.TrimSpace(options["style"]))
	if _, ok := stylePrompts[style]; !ok {
		style = defaultStyle
	}
	duration := defaultDuration
	if v, err := strconv.Atoi(strings.TrimSpace(options["duration"])); err == nil && v > 0 {
		duration = v
	}

	out, err := complete(ctx, w.system(style), buildPrompt(item, style, duration))
	if err != nil {
		return domain.Artifact{}, err
	}

	script, err := parseScript(out.Text)
	if err != nil {
		return domain.Artifact{}, err
	}
	script.Style = style
	script.Model = w.model
	script.WordCount = len(strings.Fields(script.EnglishScript))
	script.PromptTokens = out.PromptTokens
	script.CompletionTokens = out.CompletionTokens
	script.Cost = w.pricing.Cost(out.PromptTokens, out.CompletionTokens)

	data, err := json.MarshalIndent(script, "", "  ")
	if err != nil {
		return domain.Artifact{}, domain.Permanent("encode script", err)
	}
	ref, err := w.store.Save(domain.StageScript, data, "json")
	if err != nil {
		return domain.Artifact{}, domain.Transient("store script", err)
	}
	return domain.Artifact{Ref: ref, Cost: script.Cost}, nil
}

func (w scriptWriter) system(style string) string {
	prompt := strings.TrimSpace(w.systemPrompt)
	if prompt == "" {
		prompt = baseSystemPrompt
	}
	return prompt + "\n" + stylePrompts[style]
}

func buildPrompt(item domain.WorkItem, style string, duration int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Transform this news article into a %d-second news script.\n\n", duration)
	b.WriteString("Article:\n")
	fmt.Fprintf(&b, "- Title: %s\n", payloadString(item.Payload, "title", item.Candidate.Title))
	fmt.Fprintf(&b, "- Category: %s\n", payloadString(item.Payload, "category", item.Candidate.Category))
	fmt.Fprintf(&b, "- Summary: %s\n\n", payloadString(item.Payload, "body", item.Candidate.Body))
	fmt.Fprintf(&b, "Target about %.0f words in a %s style, clear English for non-native speakers.\n\n", float64(duration)*wordsPerSecond, style)
	b.WriteString("Return a JSON object with english_script, korean_translation, estimated_duration (seconds), ")
	b.WriteString("word_count and key_vocabulary (3-5 items of word, meaning in Korean, example).")
	return b.String()
}

func payloadString(p domain.Payload, key, fallback string) string {
	if v, ok := p[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

// parseScript validates raw model output against scriptSchema.
func parseScript(raw string) (Script, error) {
	text := cleanJSONBlock(raw)

	schema, err := compiledSchema()
	if err != nil {
		return Script{}, domain.Permanent("compile script schema", err)
	}
	result, err := schema.Validate(gojsonschema.NewStringLoader(text))
	if err != nil {
		return Script{}, domain.Permanent("decode script", err)
	}
	if !result.Valid() {
		fields := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			fields = append(fields, fmt.Sprintf("%s: %s", e.Field(), e.Description()))
		}
		return Script{}, domain.Permanent("validate script", errors.New(strings.Join(fields, "; ")))
	}

	var script Script
	if err := json.Unmarshal([]byte(text), &script); err != nil {
		return Script{}, domain.Permanent("decode script", err)
	}
	return script, nil
}

// cleanJSONBlock strips markdown code fences some models wrap JSON in.
func cleanJSONBlock(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}
