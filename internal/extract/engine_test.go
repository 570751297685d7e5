package extract

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tmc/langchaingo/llms"

	"github.com/jobtrail/jobtrail/internal/config"
	"github.com/jobtrail/jobtrail/internal/mailbox"
	"github.com/jobtrail/jobtrail/internal/models"
	"github.com/jobtrail/jobtrail/internal/syncerr"
)

// fakeModel returns queued responses or errors, one per call.
type fakeModel struct {
	responses []string
	errs      []error
	calls     int
}

func (m *fakeModel) GenerateContent(ctx context.Context, _ []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	i := m.calls
	m.calls++
	if i < len(m.errs) && m.errs[i] != nil {
		return nil, m.errs[i]
	}
	resp := ""
	if i < len(m.responses) {
		resp = m.responses[i]
	}
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: resp}},
	}, nil
}

func (m *fakeModel) Call(ctx context.Context, _ string, _ ...llms.CallOption) (string, error) {
	return "", errors.New("not implemented")
}

func testConfig() *config.Config {
	return &config.Config{
		RetryAttempts:    3,
		RetryBackoffBase: time.Millisecond,
		CallTimeout:      time.Second,
	}
}

const goodResponse = `{
	"is_job_email": true,
	"company": "Acme Corp",
	"position": "Backend Engineer",
	"status": "Interview Scheduled",
	"application_date": "2026-08-10",
	"application_source": "LinkedIn",
	"location": "Remote",
	"salary_min": 120000,
	"salary_max": 150000,
	"notes": "Phone screen on Thursday"
}`

func testMessage() *mailbox.RawMessage {
	return &mailbox.RawMessage{
		SourceID:   "msg-1",
		Subject:    "Interview with Acme",
		From:       "recruiter@acme.com",
		Body:       "We would like to schedule an interview.",
		ReceivedAt: time.Date(2026, 8, 12, 9, 0, 0, 0, time.UTC),
	}
}

func TestExtractFullPayload(t *testing.T) {
	model := &fakeModel{responses: []string{goodResponse}}
	engine := NewEngineWithModel(model, testConfig())

	fields, err := engine.Extract(context.Background(), testMessage())
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if fields.Company == nil || *fields.Company != "Acme Corp" {
		t.Errorf("company = %v", fields.Company)
	}
	if fields.Position == nil || *fields.Position != "Backend Engineer" {
		t.Errorf("position = %v", fields.Position)
	}
	if fields.Status == nil || *fields.Status != models.StatusInterviewing {
		t.Errorf("status = %v", fields.Status)
	}
	if fields.SalaryMin == nil || *fields.SalaryMin != 120000 {
		t.Errorf("salary_min = %v", fields.SalaryMin)
	}
	if fields.AppliedAt == nil || !fields.AppliedAt.Equal(time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("applied_at = %v", fields.AppliedAt)
	}
	if fields.SourceID != "msg-1" {
		t.Errorf("source id = %q", fields.SourceID)
	}
	if !fields.ReceivedAt.Equal(testMessage().ReceivedAt) {
		t.Errorf("received at = %v", fields.ReceivedAt)
	}
}

func TestExtractFencedResponse(t *testing.T) {
	model := &fakeModel{responses: []string{"```json\n" + goodResponse + "\n```"}}
	engine := NewEngineWithModel(model, testConfig())

	fields, err := engine.Extract(context.Background(), testMessage())
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if fields.Company == nil || *fields.Company != "Acme Corp" {
		t.Errorf("company = %v", fields.Company)
	}
}

func TestExtractNotJobRelated(t *testing.T) {
	model := &fakeModel{responses: []string{`{"is_job_email": false, "company": null, "position": null, "status": null, "application_date": null, "application_source": null, "location": null, "salary_min": null, "salary_max": null, "notes": null}`}}
	engine := NewEngineWithModel(model, testConfig())

	_, err := engine.Extract(context.Background(), testMessage())
	if !errors.Is(err, ErrNotJobRelated) {
		t.Fatalf("expected ErrNotJobRelated, got %v", err)
	}
}

func TestExtractRetriesTransientThenSucceeds(t *testing.T) {
	model := &fakeModel{
		errs:      []error{errors.New("503 backend error"), errors.New("rate limited"), nil},
		responses: []string{"", "", goodResponse},
	}
	engine := NewEngineWithModel(model, testConfig())

	fields, err := engine.Extract(context.Background(), testMessage())
	if err != nil {
		t.Fatalf("Extract after retries: %v", err)
	}
	if model.calls != 3 {
		t.Errorf("calls = %d, want 3", model.calls)
	}
	if fields.Company == nil {
		t.Error("company missing after retry success")
	}
}

func TestExtractExhaustedRetriesIsTransient(t *testing.T) {
	boom := errors.New("provider down")
	model := &fakeModel{errs: []error{boom, boom, boom}}
	engine := NewEngineWithModel(model, testConfig())

	_, err := engine.Extract(context.Background(), testMessage())
	var te *syncerr.TransientError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransientError, got %v", err)
	}
	if model.calls != 3 {
		t.Errorf("calls = %d, want 3", model.calls)
	}
}

func TestExtractSchemaViolationNotRetried(t *testing.T) {
	// salary_min must be a number.
	model := &fakeModel{responses: []string{`{"is_job_email": true, "company": "Acme", "position": "SRE", "status": null, "application_date": null, "application_source": null, "location": null, "salary_min": "a lot", "salary_max": null, "notes": null}`}}
	engine := NewEngineWithModel(model, testConfig())

	_, err := engine.Extract(context.Background(), testMessage())
	var ee *syncerr.ExtractionError
	if !errors.As(err, &ee) {
		t.Fatalf("expected ExtractionError, got %v", err)
	}
	if model.calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry on schema violation)", model.calls)
	}
}

func TestParseResponseRejectsNonJSON(t *testing.T) {
	_, err := parseResponse("Sure! Here is the information you asked for.")
	var ee *syncerr.ExtractionError
	if !errors.As(err, &ee) {
		t.Fatalf("expected ExtractionError, got %v", err)
	}
}

func TestParseResponseRejectsMissingRequired(t *testing.T) {
	_, err := parseResponse(`{"company": "Acme"}`)
	var ee *syncerr.ExtractionError
	if !errors.As(err, &ee) {
		t.Fatalf("expected ExtractionError for missing is_job_email, got %v", err)
	}
}

func TestParseResponseRejectsUnknownStatus(t *testing.T) {
	_, err := parseResponse(`{"is_job_email": true, "company": "Acme", "position": "SRE", "status": "Hired!!", "application_date": null, "application_source": null, "location": null, "salary_min": null, "salary_max": null, "notes": null}`)
	var ee *syncerr.ExtractionError
	if !errors.As(err, &ee) {
		t.Fatalf("expected ExtractionError for out-of-enum status, got %v", err)
	}
}

func TestParseResponseNormalizesEmptyStrings(t *testing.T) {
	fields, err := parseResponse(`{"is_job_email": true, "company": "Acme", "position": "  ", "status": null, "application_date": null, "application_source": "", "location": null, "salary_min": null, "salary_max": null, "notes": null}`)
	if err != nil {
		t.Fatalf("parseResponse: %v", err)
	}
	if fields.Position != nil {
		t.Errorf("whitespace-only position should be nil, got %q", *fields.Position)
	}
	if fields.Source != nil {
		t.Errorf("empty source should be nil, got %q", *fields.Source)
	}
}

func TestParseResponseDropsMalformedDate(t *testing.T) {
	fields, err := parseResponse(`{"is_job_email": true, "company": "Acme", "position": "SRE", "status": null, "application_date": "last Tuesday", "application_source": null, "location": null, "salary_min": null, "salary_max": null, "notes": null}`)
	if err != nil {
		t.Fatalf("parseResponse: %v", err)
	}
	if fields.AppliedAt != nil {
		t.Errorf("malformed date should be dropped, got %v", fields.AppliedAt)
	}
}

func TestMapStatusHint(t *testing.T) {
	cases := map[string]models.Status{
		"Applied":             models.StatusApplied,
		"Interview Scheduled": models.StatusInterviewing,
		"Offer Received":      models.StatusOffer,
		"Rejected":            models.StatusRejected,
		"Follow-up Needed":    models.StatusOther,
		"Other":               models.StatusOther,
	}
	for hint, want := range cases {
		if got := mapStatusHint(hint); got != want {
			t.Errorf("mapStatusHint(%q) = %v, want %v", hint, got, want)
		}
	}
}

func TestStripFences(t *testing.T) {
	cases := []struct{ in, want string }{
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n{\"a\":1}\n```", `{"a":1}`},
		{`{"a":1}`, `{"a":1}`},
		{"  {\"a\":1}  ", `{"a":1}`},
	}
	for _, c := range cases {
		if got := stripFences(c.in); got != c.want {
			t.Errorf("stripFences(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestBackoffSchedule(t *testing.T) {
	base := 100 * time.Millisecond
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}
	for i, w := range want {
		if got := Backoff(base, i); got != w {
			t.Errorf("Backoff(%v, %d) = %v, want %v", base, i, got, w)
		}
	}
}
