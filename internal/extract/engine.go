// Package extract turns one raw message into typed application fields by
// prompting the AI extraction service and validating its output against a
// strict schema.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"

	"github.com/jobtrail/jobtrail/internal/config"
	"github.com/jobtrail/jobtrail/internal/mailbox"
	"github.com/jobtrail/jobtrail/internal/models"
	"github.com/jobtrail/jobtrail/internal/syncerr"
)

// ErrNotJobRelated means the model judged the message unrelated to a job
// application. The item counts as skipped, not as an error.
var ErrNotJobRelated = errors.New("message is not job related")

// Fields is a validated extraction result. Optionals are pointers; an absent
// value is nil, never an empty string standing in for "unknown".
type Fields struct {
	Company   *string
	Position  *string
	Status    *models.Status
	Source    *string
	Location  *string
	SalaryMin *float64
	SalaryMax *float64
	AppliedAt *time.Time
	Note      *string

	SourceID   string
	ReceivedAt time.Time
}

type Engine struct {
	model       llms.Model
	attempts    int
	backoffBase time.Duration
	callTimeout time.Duration
}

// NewEngine builds the Gemini-backed engine from configuration.
func NewEngine(ctx context.Context, cfg *config.Config) (*Engine, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is empty")
	}
	llm, err := googleai.New(ctx,
		googleai.WithAPIKey(cfg.GeminiAPIKey),
		googleai.WithDefaultModel("gemini-2.5-flash"),
	)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return NewEngineWithModel(llm, cfg), nil
}

// NewEngineWithModel wires an explicit model, used by tests.
func NewEngineWithModel(model llms.Model, cfg *config.Config) *Engine {
	return &Engine{
		model:       model,
		attempts:    cfg.RetryAttempts,
		backoffBase: cfg.RetryBackoffBase,
		callTimeout: cfg.CallTimeout,
	}
}

// Extract prompts the model for one message and returns validated fields.
// Provider failures are retried with exponential backoff; schema violations
// are not retried and surface as ExtractionError.
func (e *Engine) Extract(ctx context.Context, raw *mailbox.RawMessage) (*Fields, error) {
	prompt := buildPrompt(raw)

	var resp string
	var lastErr error
	for attempt := 0; attempt < e.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, &syncerr.TransientError{Op: "extract", Err: ctx.Err()}
			case <-time.After(Backoff(e.backoffBase, attempt-1)):
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
		resp, lastErr = llms.GenerateFromSinglePrompt(callCtx, e.model, prompt)
		cancel()
		if lastErr == nil {
			fields, perr := parseResponse(resp)
			if perr != nil {
				return nil, perr
			}
			fields.SourceID = raw.SourceID
			fields.ReceivedAt = raw.ReceivedAt
			return fields, nil
		}
		if ctx.Err() != nil {
			break
		}
	}
	return nil, &syncerr.TransientError{Op: "extract", Err: lastErr}
}

// Backoff is the pure delay schedule: base, 2*base, 4*base, ...
func Backoff(base time.Duration, attempt int) time.Duration {
	return base << attempt
}

type payload struct {
	IsJobEmail      bool     `json:"is_job_email"`
	Company         *string  `json:"company"`
	Position        *string  `json:"position"`
	Status          *string  `json:"status"`
	ApplicationDate *string  `json:"application_date"`
	Source          *string  `json:"application_source"`
	Location        *string  `json:"location"`
	SalaryMin       *float64 `json:"salary_min"`
	SalaryMax       *float64 `json:"salary_max"`
	Notes           *string  `json:"notes"`
}

// parseResponse validates the model output end to end: fence stripping,
// JSON decode, schema validation, then mapping onto Fields. Any violation
// rejects the whole item.
func parseResponse(resp string) (*Fields, error) {
	raw := stripFences(resp)

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
	if err != nil {
		return nil, &syncerr.ExtractionError{Reason: fmt.Sprintf("model output is not JSON: %v", err)}
	}
	if err := compiledSchema.Validate(doc); err != nil {
		return nil, &syncerr.ExtractionError{Reason: fmt.Sprintf("model output failed schema: %v", err)}
	}

	var p payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, &syncerr.ExtractionError{Reason: fmt.Sprintf("decode model output: %v", err)}
	}
	if !p.IsJobEmail {
		return nil, ErrNotJobRelated
	}

	f := &Fields{
		Company:   cleanString(p.Company),
		Position:  cleanString(p.Position),
		Source:    cleanString(p.Source),
		Location:  cleanString(p.Location),
		SalaryMin: p.SalaryMin,
		SalaryMax: p.SalaryMax,
		Note:      cleanString(p.Notes),
	}

	if hint := cleanString(p.Status); hint != nil {
		status := mapStatusHint(*hint)
		f.Status = &status
	}
	if date := cleanString(p.ApplicationDate); date != nil {
		// A malformed date is dropped, not guessed at.
		if t, err := time.Parse("2006-01-02", *date); err == nil {
			f.AppliedAt = &t
		}
	}
	return f, nil
}

// stripFences removes a markdown code fence if the model wrapped its JSON
// despite being told not to.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if after, ok := strings.CutPrefix(s, "```json"); ok {
		s = after
	} else if after, ok := strings.CutPrefix(s, "```"); ok {
		s = after
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// cleanString nils out empty and whitespace-only strings.
func cleanString(s *string) *string {
	if s == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*s)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

// mapStatusHint maps the prompt vocabulary onto the stored status enum.
func mapStatusHint(hint string) models.Status {
	switch hint {
	case "Applied":
		return models.StatusApplied
	case "Interview Scheduled":
		return models.StatusInterviewing
	case "Offer Received":
		return models.StatusOffer
	case "Rejected":
		return models.StatusRejected
	default:
		return models.StatusOther
	}
}
