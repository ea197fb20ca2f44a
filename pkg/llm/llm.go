// Package llm wraps the external LLM capability. The orchestration core
// only needs "given conversation context plus state cues, produce response
// text"; this package provides that over the Gemini API. Prompt assembly
// lives with the minion runtime, not here.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"
)

// DefaultTimeout bounds a single invocation so a slow model cannot leave a
// minion stuck in Invoking.
const DefaultTimeout = 60 * time.Second

// DefaultModel is used when a persona carries no model override.
const DefaultModel = "gemini-2.0-flash"

// Request is one invocation against the model.
type Request struct {
	System      string  // persona instructions + emotional and memory cues
	Message     string  // the triggering message content
	Model       string  // model override; empty = DefaultModel
	Temperature float64 // 0 = provider default
}

// GeminiClient invokes Gemini via the google.golang.org/genai SDK.
type GeminiClient struct {
	client       *genai.Client
	timeout      time.Duration
	defaultModel string
}

// NewGeminiClient creates a client using the Gemini developer API backend.
func NewGeminiClient(ctx context.Context, apiKey string) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiClient{client: client, timeout: DefaultTimeout, defaultModel: DefaultModel}, nil
}

// SetDefaultModel overrides the model used when a request carries none.
func (g *GeminiClient) SetDefaultModel(model string) {
	if model != "" {
		g.defaultModel = model
	}
}

// SetTimeout overrides the per-invocation timeout.
func (g *GeminiClient) SetTimeout(d time.Duration) {
	if d > 0 {
		g.timeout = d
	}
}

// Invoke sends one request and returns the model's text response. A
// timeout is reported as an error like any other invocation failure; the
// caller treats both identically.
func (g *GeminiClient) Invoke(ctx context.Context, req Request) (string, error) {
	model := req.Model
	if model == "" {
		model = g.defaultModel
	}

	var cfg *genai.GenerateContentConfig
	if req.System != "" || req.Temperature > 0 {
		cfg = &genai.GenerateContentConfig{}
		if req.System != "" {
			cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
		}
		if req.Temperature > 0 {
			t := float32(req.Temperature)
			cfg.Temperature = &t
		}
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.client.Models.GenerateContent(timeoutCtx, model, genai.Text(req.Message), cfg)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("llm timeout after %v", g.timeout)
		}
		return "", fmt.Errorf("generate content: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("no candidates returned")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("empty response")
	}
	return sb.String(), nil
}
