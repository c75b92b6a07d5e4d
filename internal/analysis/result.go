package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/TobiSchelling/RegWatch/internal/llm"
	"github.com/TobiSchelling/RegWatch/internal/risk"
)

var (
	// ErrTransport marks a failed call to the analysis backend.
	ErrTransport = errors.New("analysis transport failure")
	// ErrMalformed marks a response that is not a valid analysis.
	ErrMalformed = errors.New("malformed analysis")
)

// Task is a remediation action proposed by the analyst.
type Task struct {
	Title        string `json:"title"`
	Priority     string `json:"priority"`
	DeadlineDays int    `json:"deadline_days"`
}

// Result is the impact assessment of one change against one obligation.
type Result struct {
	Applicable            bool       `json:"applicable"`
	RiskLevel             risk.Level `json:"risk_level"`
	AffectedObligationID  string     `json:"affected_obligation_id"`
	Summary               string     `json:"summary"`
	Tasks                 []Task     `json:"tasks"`
	ReasoningSteps        []string   `json:"reasoning_steps"`
	RetrievedObligationID string     `json:"retrieved_obligation_id,omitempty"`
}

// Clone returns a deep copy of r.
func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	c := *r
	c.Tasks = append([]Task(nil), r.Tasks...)
	c.ReasoningSteps = append([]string(nil), r.ReasoningSteps...)
	return &c
}

// DeadlineDays is the default remediation window per analyst risk level.
var DeadlineDays = map[risk.Level]int{
	risk.Critical: 3,
	risk.High:     7,
	risk.Medium:   14,
	risk.Low:      30,
}

type rawResult struct {
	Applicable           *bool           `json:"applicable"`
	RiskLevel            *string         `json:"risk_level"`
	AffectedObligationID string          `json:"affected_obligation_id"`
	Summary              string          `json:"summary"`
	Tasks                json.RawMessage `json:"tasks"`
	ReasoningSteps       json.RawMessage `json:"reasoning_steps"`
}

// DecodeResult parses and validates an analyst response. Any shape problem
// is reported as ErrMalformed.
func DecodeResult(text string) (*Result, error) {
	var raw rawResult
	if err := llm.ParseJSONResponse(text, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	if raw.Applicable == nil {
		return nil, fmt.Errorf("%w: missing applicable", ErrMalformed)
	}
	if raw.RiskLevel == nil {
		return nil, fmt.Errorf("%w: missing risk_level", ErrMalformed)
	}
	level, err := risk.ParseLevel(*raw.RiskLevel)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	var tasks []Task
	if len(raw.Tasks) == 0 || string(raw.Tasks) == "null" {
		return nil, fmt.Errorf("%w: missing tasks", ErrMalformed)
	}
	if err := json.Unmarshal(raw.Tasks, &tasks); err != nil {
		return nil, fmt.Errorf("%w: tasks: %w", ErrMalformed, err)
	}
	for i, task := range tasks {
		if strings.TrimSpace(task.Title) == "" {
			return nil, fmt.Errorf("%w: task %d has no title", ErrMalformed, i)
		}
		if task.DeadlineDays < 0 {
			return nil, fmt.Errorf("%w: task %d has a negative deadline", ErrMalformed, i)
		}
	}

	var steps []string
	if len(raw.ReasoningSteps) > 0 && string(raw.ReasoningSteps) != "null" {
		if err := json.Unmarshal(raw.ReasoningSteps, &steps); err != nil {
			return nil, fmt.Errorf("%w: reasoning_steps: %w", ErrMalformed, err)
		}
	}

	return &Result{
		Applicable:           *raw.Applicable,
		RiskLevel:            level,
		AffectedObligationID: raw.AffectedObligationID,
		Summary:              strings.TrimSpace(raw.Summary),
		Tasks:                tasks,
		ReasoningSteps:       steps,
	}, nil
}
