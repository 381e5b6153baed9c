package confidence

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"github.com/go-playground/validator/v10"

	"github.com/ahrav/go-crowdcheck/internal/domain"
	"github.com/ahrav/go-crowdcheck/internal/ports"
)

var _ ports.ConfidenceScorer = (*LLMScorer)(nil)

// Defaults for LLMScorerConfig.
const (
	DefaultLLMTemperature = 0.0
	DefaultLLMMaxTokens   = 256
)

// DefaultPromptTemplate asks the model to judge plausibility without seeing
// other contributors' answers.
const DefaultPromptTemplate = `You are reviewing a crowdsourced answer for plausibility.

Question type: {{.Kind}}
Question: {{.Question}}
Answer: {{truncate .Answer 2000}}

Rate how plausible and well-formed this answer is for the question on a scale from 0 to 100.`

const jsonInstruction = "\n\nIMPORTANT: You must respond with valid JSON in exactly this format:\n" +
	`{"confidence": <0-100>, "reasoning": "<short explanation>"}`

var validate = validator.New()

// LLMScorerConfig configures an LLMScorer.
type LLMScorerConfig struct {
	// PromptTemplate is a text/template with {{.Question}}, {{.Answer}} and
	// {{.Kind}} placeholders and the functions from PromptFuncs.
	PromptTemplate string `yaml:"prompt_template" toml:"prompt_template" json:"prompt_template" validate:"required,min=20"`

	// Temperature controls randomness in the model's scoring.
	Temperature float64 `yaml:"temperature" toml:"temperature" json:"temperature" validate:"min=0,max=1"`

	// MaxTokens caps the response length.
	MaxTokens int `yaml:"max_tokens" toml:"max_tokens" json:"max_tokens" validate:"required,min=50,max=2000"`

	// Concurrency bounds BatchScore.
	Concurrency int `yaml:"concurrency" toml:"concurrency" json:"concurrency" validate:"min=0,max=64"`
}

// DefaultLLMScorerConfig returns a config using DefaultPromptTemplate.
func DefaultLLMScorerConfig() LLMScorerConfig {
	return LLMScorerConfig{
		PromptTemplate: DefaultPromptTemplate,
		Temperature:    DefaultLLMTemperature,
		MaxTokens:      DefaultLLMMaxTokens,
		Concurrency:    DefaultBatchConcurrency,
	}
}

// llmConfidenceResponse is the JSON the model must return.
type llmConfidenceResponse struct {
	Confidence *float64 `json:"confidence" validate:"required,gte=0,lte=100"`
	Reasoning  string   `json:"reasoning"`
}

// LLMScorer asks a language model for a plausibility score. It is safe for
// concurrent use as long as the underlying client is.
type LLMScorer struct {
	client ports.LLMClient
	config LLMScorerConfig
	prompt *template.Template
}

// NewLLMScorer validates config and compiles its prompt template.
func NewLLMScorer(client ports.LLMClient, config LLMScorerConfig) (*LLMScorer, error) {
	if client == nil {
		return nil, errors.New("LLM client cannot be nil")
	}
	if err := validate.Struct(config); err != nil {
		return nil, fmt.Errorf("%w: llm scorer: %w", domain.ErrInvalidConfiguration, err)
	}

	tmpl, err := template.New("confidencePrompt").Funcs(PromptFuncs()).Option("missingkey=error").Parse(config.PromptTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse confidence prompt template: %w", err)
	}

	return &LLMScorer{client: client, config: config, prompt: tmpl}, nil
}

// Score renders the prompt, calls the model and parses its JSON reply.
func (s *LLMScorer) Score(ctx context.Context, req domain.ScoreRequest) (domain.ConfidenceSignal, error) {
	model := s.client.GetModel()

	var buf bytes.Buffer
	data := struct {
		Question string
		Answer   string
		Kind     string
	}{
		Question: req.QuestionText,
		Answer:   req.AnswerText,
		Kind:     req.Kind.String(),
	}
	if err := s.prompt.Execute(&buf, data); err != nil {
		return domain.ConfidenceSignal{}, fmt.Errorf("failed to render confidence prompt: %w", err)
	}
	prompt := buf.String() + jsonInstruction

	options := map[string]any{
		"temperature": s.config.Temperature,
		"max_tokens":  s.config.MaxTokens,
	}
	if supportsJSONMode(model) {
		options["response_format"] = map[string]string{"type": "json_object"}
	}

	response, err := s.client.Complete(ctx, prompt, options)
	if err != nil {
		return domain.ConfidenceSignal{}, ports.NewLLMError(model, "Score", err)
	}

	parsed, err := parseConfidenceResponse(response)
	if err != nil {
		return domain.ConfidenceSignal{}, ports.NewLLMError(model, "Score", err)
	}

	meta := map[string]any{}
	if parsed.Reasoning != "" {
		meta["reasoning"] = parsed.Reasoning
	}
	if tokens, err := s.client.EstimateTokens(prompt + response); err == nil {
		meta["tokens_estimate"] = tokens
	}

	return domain.ConfidenceSignal{
		Confidence: domain.ClampScore(*parsed.Confidence),
		Model:      model,
		Metadata:   meta,
	}, nil
}

// BatchScore scores reqs concurrently via ScoreBatch.
func (s *LLMScorer) BatchScore(
	ctx context.Context,
	reqs []domain.ScoreRequest,
) ([]domain.ConfidenceSignal, error) {
	return ScoreBatch(ctx, reqs, s.config.Concurrency, s.Score)
}

func parseConfidenceResponse(response string) (llmConfidenceResponse, error) {
	jsonStr := extractJSON(response)
	if jsonStr == "" {
		return llmConfidenceResponse{}, fmt.Errorf("%w: no JSON object in response (%d chars)",
			ports.ErrInvalidResponse, len(response))
	}

	var parsed llmConfidenceResponse
	if err := json.Unmarshal([]byte(jsonStr), &parsed); err != nil {
		return llmConfidenceResponse{}, fmt.Errorf("%w: %w", ports.ErrInvalidResponse, err)
	}
	if err := validate.Struct(parsed); err != nil {
		return llmConfidenceResponse{}, fmt.Errorf("%w: %w", ports.ErrInvalidResponse, err)
	}
	return parsed, nil
}

// supportsJSONMode guesses from the model name whether the provider accepts a
// JSON response format hint.
func supportsJSONMode(model string) bool {
	m := strings.ToLower(model)
	return strings.Contains(m, "gpt") || strings.Contains(m, "claude")
}

// extractJSON pulls the first JSON object out of a response that may wrap it
// in prose or a markdown code fence.
func extractJSON(response string) string {
	response = strings.TrimSpace(response)

	if start := strings.Index(response, "```"); start != -1 {
		body := response[start+3:]
		if nl := strings.Index(body, "\n"); nl != -1 {
			body = body[nl+1:]
		}
		if end := strings.Index(body, "```"); end != -1 {
			if candidate := strings.TrimSpace(body[:end]); strings.HasPrefix(candidate, "{") {
				return candidate
			}
		}
	}

	start := strings.Index(response, "{")
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(response); i++ {
		c := response[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return response[start : i+1]
			}
		}
	}
	return ""
}
