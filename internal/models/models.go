package models

import (
	"time"

	"gorm.io/gorm"
)

// Status is the application pipeline stage, stored as text.
type Status string

const (
	StatusApplied      Status = "APPLIED"
	StatusInterviewing Status = "INTERVIEWING"
	StatusOffer        Status = "OFFER"
	StatusRejected     Status = "REJECTED"
	StatusGhosted      Status = "GHOSTED"
	StatusOther        Status = "OTHER"
)

// Rank orders statuses by how far along the pipeline they are. A stored
// status with a higher rank is never overwritten by a lower-ranked one
// coming out of a stale email. OFFER and REJECTED share the top rank:
// both are terminal, and either may legitimately follow the other.
func (s Status) Rank() int {
	switch s {
	case StatusOther:
		return 0
	case StatusGhosted:
		return 1
	case StatusApplied:
		return 2
	case StatusInterviewing:
		return 3
	case StatusOffer, StatusRejected:
		return 4
	}
	return 0
}

func (s Status) Valid() bool {
	switch s {
	case StatusApplied, StatusInterviewing, StatusOffer, StatusRejected, StatusGhosted, StatusOther:
		return true
	}
	return false
}

type User struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Email           string `gorm:"uniqueIndex;not null" json:"email"`
	AutoSyncEnabled bool   `gorm:"default:false" json:"auto_sync_enabled"`
}

type Application struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	UserID uint `gorm:"not null;uniqueIndex:idx_owner_fingerprint" json:"user_id"`

	// Fingerprint is the dedup identity derived from company+position
	// (plus the source message when position is unknown). Unique per owner.
	Fingerprint string `gorm:"not null;uniqueIndex:idx_owner_fingerprint" json:"-"`

	Company  string `gorm:"not null;index" json:"company"`
	Position string `gorm:"index" json:"position"`
	Status   Status `gorm:"not null;default:'APPLIED';index" json:"status"`
	Source   string `json:"source"`
	Location string `json:"location"`

	SalaryMin *float64 `json:"salary_min"`
	SalaryMax *float64 `json:"salary_max"`

	AppliedAt      *time.Time `json:"applied_at"`
	LastActivityAt time.Time  `json:"last_activity_at"`

	// EmailID links back to the gmail message that created the record.
	EmailID string `json:"email_id"`
	Notes   string `gorm:"type:text" json:"notes"`

	History []StatusHistory `gorm:"constraint:OnDelete:CASCADE" json:"history,omitempty"`
}

// StatusHistory records one status transition. The Reconciler is the only
// sync-path producer and it never emits an entry with OldStatus == NewStatus.
type StatusHistory struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	ApplicationID uint      `gorm:"not null;index" json:"application_id"`
	OldStatus     *Status   `json:"old_status"` // nil for the creation entry
	NewStatus     Status    `gorm:"not null" json:"new_status"`
	Note          string    `gorm:"type:text" json:"note"`
	Actor         string    `gorm:"not null;default:'sync'" json:"actor"` // "sync" or "user"
	ChangedAt     time.Time `json:"changed_at"`
}

func (StatusHistory) TableName() string { return "status_history" }

// SyncCredential holds one owner's OAuth tokens for one scope set.
// AccessToken and RefreshToken are AES-GCM ciphertext, never plaintext.
type SyncCredential struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	UserID   uint   `gorm:"not null;uniqueIndex:idx_owner_scopeset" json:"user_id"`
	ScopeSet string `gorm:"not null;uniqueIndex:idx_owner_scopeset" json:"scope_set"`

	AccessToken  string    `gorm:"type:text;not null" json:"-"`
	RefreshToken string    `gorm:"type:text" json:"-"`
	TokenType    string    `json:"-"`
	Expiry       time.Time `json:"expiry"`
	Scopes       string    `json:"scopes"` // space-joined granted scopes
}

type RunState string

const (
	RunPending        RunState = "PENDING"
	RunRunning        RunState = "RUNNING"
	RunCompleted      RunState = "COMPLETED"
	RunPartialFailure RunState = "PARTIAL_FAILURE"
	RunFailed         RunState = "FAILED"
)

// Terminal reports whether the state is final. Finalized runs are immutable.
func (s RunState) Terminal() bool {
	return s == RunCompleted || s == RunPartialFailure || s == RunFailed
}

type SyncRun struct {
	ID        string    `gorm:"primaryKey" json:"id"` // uuid
	CreatedAt time.Time `json:"created_at"`

	UserID       uint       `gorm:"not null;index" json:"user_id"`
	State        RunState   `gorm:"not null" json:"state"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at"`
	LookbackDays int        `json:"lookback_days"`

	Candidates int `json:"candidates"`
	New        int `json:"new"`
	Updated    int `json:"updated"`
	Skipped    int `json:"skipped"`
	Errors     int `json:"errors"`

	ErrorReasons []string `gorm:"serializer:json;type:text" json:"error_reasons"`
}

// ProcessedMessage marks a mailbox message as handled so repeated runs over
// the same window do not re-extract it. Rows are written inside the same
// transaction as the batch that consumed the message, so a rolled-back batch
// leaves its messages eligible for the next run.
type ProcessedMessage struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time

	UserID    uint   `gorm:"not null;uniqueIndex:idx_owner_message"`
	MessageID string `gorm:"not null;uniqueIndex:idx_owner_message"`
}
