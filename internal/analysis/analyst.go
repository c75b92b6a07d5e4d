package analysis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/TobiSchelling/RegWatch/internal/knowledge"
	"github.com/TobiSchelling/RegWatch/internal/llm"
	"github.com/TobiSchelling/RegWatch/internal/risk"
)

const analysisPrompt = `You are an autonomous compliance agent for Indian DPDP regulatory monitoring. Return valid JSON only.

COMPANY PROFILE:
%s

REGULATORY UPDATE:
%s

RETRIEVED OBLIGATION:
%s

INSTRUCTIONS:
1. Determine if this update is applicable to the company (true/false)
2. Assess risk level: Low, Medium, High, or Critical
3. Generate 2-4 actionable tasks with priorities
4. Assign realistic deadlines in days (Critical=%d, High=%d, Medium=%d, Low=%d)
5. Provide short reasoning steps

OUTPUT SCHEMA (JSON only, no markdown, no explanations):
{
  "applicable": boolean,
  "risk_level": "Low" | "Medium" | "High" | "Critical",
  "affected_obligation_id": "%s",
  "summary": "Brief summary of impact",
  "tasks": [
    {
      "title": "Task description",
      "priority": "Low" | "Medium" | "High",
      "deadline_days": integer
    }
  ],
  "reasoning_steps": [
    "Step 1: ...",
    "Step 2: ..."
  ]
}

Return ONLY the JSON object. No markdown formatting. No additional text.`

// Request is everything an analyst needs to assess one change.
type Request struct {
	ChangeID   string
	UpdateText string
	Obligation knowledge.Obligation
	Profile    knowledge.Profile
}

// Analyst produces an impact assessment. Failures wrap ErrTransport or
// ErrMalformed.
type Analyst interface {
	Analyze(ctx context.Context, req Request) (*Result, error)
}

// LLMAnalyst asks an LLM provider for the assessment.
type LLMAnalyst struct {
	provider  llm.Provider
	maxTokens int
}

// NewLLMAnalyst creates an analyst backed by provider.
func NewLLMAnalyst(provider llm.Provider, maxTokens int) *LLMAnalyst {
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	return &LLMAnalyst{provider: provider, maxTokens: maxTokens}
}

// Analyze builds the prompt, calls the provider and validates the answer.
func (a *LLMAnalyst) Analyze(ctx context.Context, req Request) (*Result, error) {
	if a.provider == nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, llm.ErrNotConfigured)
	}

	prompt, err := BuildPrompt(req)
	if err != nil {
		return nil, err
	}

	text, err := a.provider.Generate(ctx, prompt, a.maxTokens)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}

	return DecodeResult(text)
}

// BuildPrompt renders the analysis prompt for req.
func BuildPrompt(req Request) (string, error) {
	profile := req.Profile
	if profile == nil {
		profile = knowledge.Profile{}
	}
	profileJSON, err := json.MarshalIndent(profile, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding profile: %w", err)
	}
	obligationJSON, err := json.MarshalIndent(req.Obligation, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding obligation: %w", err)
	}

	return fmt.Sprintf(analysisPrompt,
		profileJSON,
		req.UpdateText,
		obligationJSON,
		DeadlineDays[risk.Critical], DeadlineDays[risk.High], DeadlineDays[risk.Medium], DeadlineDays[risk.Low],
		req.Obligation.ID,
	), nil
}
