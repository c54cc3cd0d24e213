package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/clipforge/clipforge/internal/transcribe"
)

const (
	defaultHookCount = 5
	minHookSeconds   = 20
	maxHookSeconds   = 30
)

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Count   int
}

// OpenAIRanker asks a chat model for the most engaging hooks.
type OpenAIRanker struct {
	client openai.Client
	model  string
	count  int
}

func NewOpenAIRanker(cfg OpenAIConfig) (*OpenAIRanker, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("openai ranker: api key required")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	count := cfg.Count
	if count <= 0 {
		count = defaultHookCount
	}
	return &OpenAIRanker{
		client: openai.NewClient(opts...),
		model:  cfg.Model,
		count:  count,
	}, nil
}

const systemPrompt = "You are a professional social media editor. Respond with JSON only."

func buildPrompt(t *transcribe.Transcript, count int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analyze the following transcript from a video.\n")
	fmt.Fprintf(&b, "Identify the %d most engaging, self-contained hooks or highlights suitable for a TikTok/Reel.\n", count)
	fmt.Fprintf(&b, "Each clip must be between %d and %d seconds long.\n", minHookSeconds, maxHookSeconds)
	b.WriteString("Ensure that the entire hook is captured in the start and end times.\n")
	b.WriteString(`Output format: {"clips":[{"start":0.0,"end":0.0,"reason":"...","hook_type":"question|story|insight|controversy|humor","virality_score":0.0}]}` + "\n")
	b.WriteString("virality_score is between 0 and 1.\n\nTranscript:\n")
	for _, s := range t.Segments {
		fmt.Fprintf(&b, "%.2f - %.2f: %s\n", s.Start, s.End, s.Text)
	}
	return b.String()
}

func (r *OpenAIRanker) Rank(ctx context.Context, t *transcribe.Transcript) ([]Candidate, error) {
	resp, err := r.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(buildPrompt(t, r.count)),
		},
		Model:       r.model,
		Temperature: openai.Float(0.2),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{Type: "json_object"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai ranker: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai ranker: empty choices")
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return nil, errors.New("openai ranker: empty content")
	}
	cands, err := parseCandidates(content)
	if err != nil {
		return nil, fmt.Errorf("openai ranker: %w", err)
	}
	return cands, nil
}

// parseCandidates accepts {"clips":[...]} or a bare array.
func parseCandidates(content string) ([]Candidate, error) {
	content = stripFence(content)

	var wrapped struct {
		Clips []Candidate `json:"clips"`
	}
	if err := json.Unmarshal([]byte(content), &wrapped); err == nil && wrapped.Clips != nil {
		return wrapped.Clips, nil
	}

	var bare []Candidate
	if err := json.Unmarshal([]byte(content), &bare); err != nil {
		return nil, fmt.Errorf("parse payload: %w", err)
	}
	return bare, nil
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
