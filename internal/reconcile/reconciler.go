// Package reconcile matches extracted records against stored Applications
// and decides insert vs update vs no-op.
package reconcile

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/jobtrail/jobtrail/internal/extract"
	"github.com/jobtrail/jobtrail/internal/models"
	"github.com/jobtrail/jobtrail/internal/syncerr"
)

type Kind int

const (
	Insert Kind = iota + 1
	Update
	NoOp
)

func (k Kind) String() string {
	switch k {
	case Insert:
		return "insert"
	case Update:
		return "update"
	case NoOp:
		return "noop"
	}
	return "unknown"
}

// Decision is one reconciliation outcome. For Insert, App is the full record
// to create (including its creation history entry). For Update, App is the
// matched record, Changes the column set, and History the transition entry
// when the status actually changed.
type Decision struct {
	Kind        Kind
	Fingerprint string
	App         *models.Application
	Changes     map[string]interface{}
	History     *models.StatusHistory
}

// Store is the lookup the Reconciler needs from the data store. A run-scoped
// overlay implements it too, so records inserted earlier in the same run are
// visible before they are committed.
type Store interface {
	// FindByFingerprint returns (nil, nil) when no application matches.
	FindByFingerprint(ownerID uint, fingerprint string) (*models.Application, error)
}

// GormStore is the database-backed Store.
type GormStore struct {
	DB *gorm.DB
}

func (s *GormStore) FindByFingerprint(ownerID uint, fingerprint string) (*models.Application, error) {
	var app models.Application
	err := s.DB.Where("user_id = ? AND fingerprint = ?", ownerID, fingerprint).First(&app).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &app, nil
}

type Reconciler struct {
	store Store
	now   func() time.Time
}

func New(store Store) *Reconciler {
	return &Reconciler{store: store, now: time.Now}
}

// Fingerprint derives the stable dedup identity. Company and position are
// normalized so formatting noise does not split one role into two records.
// When the position is unknown the source message id joins the hash, so two
// unrelated mails from the same company do not collapse into one.
func Fingerprint(ownerID uint, company, position, sourceID string) string {
	company = normalizeIdent(company)
	position = normalizeIdent(position)

	var key string
	if position == "" {
		key = fmt.Sprintf("%d|%s|msg:%s", ownerID, company, sourceID)
	} else {
		key = fmt.Sprintf("%d|%s|%s", ownerID, company, position)
	}
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// normalizeIdent lowercases, strips punctuation and collapses whitespace.
func normalizeIdent(s string) string {
	s = strings.ToLower(s)
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Reconcile maps one extraction onto a decision against existing state.
func (r *Reconciler) Reconcile(ownerID uint, f *extract.Fields) (*Decision, error) {
	if f.Company == nil && f.Position == nil {
		return nil, &syncerr.ValidationError{Reason: "extracted record has neither company nor position"}
	}

	fingerprint := Fingerprint(ownerID, deref(f.Company), deref(f.Position), f.SourceID)

	existing, err := r.store.FindByFingerprint(ownerID, fingerprint)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return r.insertDecision(ownerID, fingerprint, f), nil
	}
	return r.updateDecision(existing, fingerprint, f), nil
}

func (r *Reconciler) insertDecision(ownerID uint, fingerprint string, f *extract.Fields) *Decision {
	status := models.StatusApplied
	if f.Status != nil {
		status = *f.Status
	}

	app := &models.Application{
		UserID:         ownerID,
		Fingerprint:    fingerprint,
		Company:        deref(f.Company),
		Position:       deref(f.Position),
		Status:         status,
		Source:         deref(f.Source),
		Location:       deref(f.Location),
		SalaryMin:      f.SalaryMin,
		SalaryMax:      f.SalaryMax,
		AppliedAt:      f.AppliedAt,
		LastActivityAt: f.ReceivedAt,
		EmailID:        f.SourceID,
		Notes:          deref(f.Note),
		History: []models.StatusHistory{{
			OldStatus: nil,
			NewStatus: status,
			Note:      deref(f.Note),
			Actor:     "sync",
			ChangedAt: r.now(),
		}},
	}
	return &Decision{Kind: Insert, Fingerprint: fingerprint, App: app}
}

func (r *Reconciler) updateDecision(existing *models.Application, fingerprint string, f *extract.Fields) *Decision {
	changes := map[string]interface{}{}
	var history *models.StatusHistory

	if f.Status != nil && *f.Status != existing.Status {
		if (*f.Status).Rank() < existing.Status.Rank() {
			// A stale or late email must not rewind progress. Record the
			// event as a note, never as a status change.
			note := fmt.Sprintf("Ignored stale status %s from email on %s (current: %s)",
				*f.Status, f.ReceivedAt.Format("2006-01-02"), existing.Status)
			changes["notes"] = appendNote(existing.Notes, note)
		} else {
			old := existing.Status
			changes["status"] = *f.Status
			history = &models.StatusHistory{
				ApplicationID: existing.ID,
				OldStatus:     &old,
				NewStatus:     *f.Status,
				Note:          deref(f.Note),
				Actor:         "sync",
				ChangedAt:     r.now(),
			}
		}
	}

	// Fill fields the stored record is still missing; never overwrite
	// user-entered data with extraction output.
	if existing.Location == "" && f.Location != nil {
		changes["location"] = *f.Location
	}
	if existing.Source == "" && f.Source != nil {
		changes["source"] = *f.Source
	}
	if existing.SalaryMin == nil && f.SalaryMin != nil {
		changes["salary_min"] = *f.SalaryMin
	}
	if existing.SalaryMax == nil && f.SalaryMax != nil {
		changes["salary_max"] = *f.SalaryMax
	}
	if existing.AppliedAt == nil && f.AppliedAt != nil {
		changes["applied_at"] = *f.AppliedAt
	}

	if len(changes) == 0 {
		return &Decision{Kind: NoOp, Fingerprint: fingerprint, App: existing}
	}

	if f.ReceivedAt.After(existing.LastActivityAt) {
		changes["last_activity_at"] = f.ReceivedAt
	}
	return &Decision{
		Kind:        Update,
		Fingerprint: fingerprint,
		App:         existing,
		Changes:     changes,
		History:     history,
	}
}

func appendNote(existing, note string) string {
	if existing == "" {
		return note
	}
	return existing + "\n\n" + note
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
