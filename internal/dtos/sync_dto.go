package dtos

import "github.com/jobtrail/jobtrail/internal/syncrun"

type SyncResponse struct {
	RunID        string   `json:"run_id"`
	State        string   `json:"state"`
	Candidates   int      `json:"candidates"`
	New          int      `json:"new"`
	Updated      int      `json:"updated"`
	Skipped      int      `json:"skipped"`
	Errors       int      `json:"errors"`
	ErrorReasons []string `json:"error_reasons"`
}

func FromSummary(s *syncrun.Summary) SyncResponse {
	reasons := s.ErrorReasons
	if reasons == nil {
		reasons = []string{}
	}
	return SyncResponse{
		RunID:        s.RunID,
		State:        string(s.State),
		Candidates:   s.Candidates,
		New:          s.New,
		Updated:      s.Updated,
		Skipped:      s.Skipped,
		Errors:       s.Errors,
		ErrorReasons: reasons,
	}
}

type CronOwnerResult struct {
	UserID  uint          `json:"user_id"`
	Email   string        `json:"email"`
	Success bool          `json:"success"`
	Error   string        `json:"error,omitempty"`
	Summary *SyncResponse `json:"summary,omitempty"`
}

type CronResponse struct {
	SyncedOwners int               `json:"synced_owners"`
	FailedOwners int               `json:"failed_owners"`
	Results      []CronOwnerResult `json:"results"`
}
