package extract

import (
	"fmt"

	"github.com/jobtrail/jobtrail/internal/mailbox"
)

// Bodies are truncated before prompting; everything past this is boilerplate
// footers and quoted threads.
const maxBodyChars = 20000

const emailParsingPrompt = `You are a job-application email parser. Analyze the email below and extract structured data about the job application it describes.

### INSTRUCTIONS:
1. Decide whether this email is about a job application the recipient made (confirmation, interview invite, offer, rejection, recruiter follow-up).
2. If it is NOT such an email, respond with exactly: {"is_job_email": false}
3. Otherwise extract the fields below.
4. Respond with valid JSON only. No markdown code fences, no commentary.

### OUTPUT SCHEMA:
{
    "is_job_email": true,
    "company": "Company name",
    "position": "Role title",
    "status": "one of: Applied, Interview Scheduled, Offer Received, Rejected, Follow-up Needed, Other",
    "application_date": "YYYY-MM-DD",
    "application_source": "one of: LinkedIn, Indeed, Company Website, Referral, Recruiter, Job Board, Other",
    "location": "City, Country or 'Remote'",
    "salary_min": 120000,
    "salary_max": 150000,
    "notes": "One-sentence summary of what this email says"
}

### CONSTRAINT:
Use null for any field the email does not state. Never use an empty string for an unknown value. Do not guess.

### EMAIL:
Subject: %s
Date: %s
Body:
%s`

func buildPrompt(raw *mailbox.RawMessage) string {
	body := raw.Body
	if len(body) > maxBodyChars {
		body = body[:maxBodyChars]
	}
	return fmt.Sprintf(emailParsingPrompt, raw.Subject, raw.ReceivedAt.Format("2006-01-02"), body)
}
