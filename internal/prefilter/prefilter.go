// Package prefilter is the cheap deterministic gate in front of the
// extraction engine. It only ever reads the message text, so the same
// message always gets the same answer, and it never fails: worst case a
// useless message costs one extraction call.
package prefilter

import (
	"strings"

	"github.com/jobtrail/jobtrail/internal/mailbox"
)

// atsDomains are applicant-tracking senders; mail from them is a candidate
// outright.
var atsDomains = []string{
	"greenhouse.io",
	"lever.co",
	"myworkday.com",
	"workday.com",
	"ashbyhq.com",
	"smartrecruiters.com",
	"jobvite.com",
	"icims.com",
	"bamboohr.com",
	"successfactors.com",
}

// subjectKeywords correlate with confirmations, interview invites, offers
// and rejections. Subject hits weigh double.
var subjectKeywords = []string{
	"your application",
	"application received",
	"application update",
	"thank you for applying",
	"interview",
	"phone screen",
	"next steps",
	"offer",
	"we regret",
	"unfortunately",
	"not moving forward",
	"position",
	"candidacy",
	"recruiting",
	"recruiter",
}

var bodyKeywords = []string{
	"your application",
	"thank you for applying",
	"we received your application",
	"interview",
	"hiring team",
	"talent acquisition",
	"next round",
	"we regret to inform",
	"move forward with other candidates",
	"pleased to offer",
	"offer letter",
}

// denylist marks newsletters, digests and job-ad blasts. A deny hit always
// wins over keyword hits.
var denylist = []string{
	"newsletter",
	"job alert",
	"jobs for you",
	"recommended jobs",
	"daily digest",
	"weekly digest",
	"new jobs posted",
	"jobs you may be interested in",
	"premium",
	"upgrade your",
	"webinar",
	"promotional",
}

const scoreThreshold = 2

// IsCandidate reports whether the message looks application-related.
func IsCandidate(msg *mailbox.RawMessage) bool {
	subject := strings.ToLower(msg.Subject)
	from := strings.ToLower(msg.From)
	body := strings.ToLower(msg.Body)

	for _, deny := range denylist {
		if strings.Contains(subject, deny) || strings.Contains(from, deny) {
			return false
		}
	}

	for _, domain := range atsDomains {
		if strings.Contains(from, domain) {
			return true
		}
	}

	score := 0
	for _, kw := range subjectKeywords {
		if strings.Contains(subject, kw) {
			score += 2
		}
	}
	if score < scoreThreshold {
		for _, kw := range bodyKeywords {
			if strings.Contains(body, kw) {
				score++
			}
			if score >= scoreThreshold {
				break
			}
		}
	}
	return score >= scoreThreshold
}
