package syncrun

import (
	"time"

	"gorm.io/gorm"

	"github.com/jobtrail/jobtrail/internal/models"
	"github.com/jobtrail/jobtrail/internal/reconcile"
)

// BatchItem is one reconciled decision plus the mailbox messages it consumed.
// A same-fingerprint collision within a run folds its message ids into the
// winning insert, so the whole group commits or fails as one.
type BatchItem struct {
	Decision   *reconcile.Decision
	MessageIDs []string

	// ExtraUpdates counts in-run merges folded into this item; they are
	// reported as updates when the item's batch commits.
	ExtraUpdates int
}

// Storage is everything the controller needs from the data store. The gorm
// implementation is the production one; tests substitute fakes.
type Storage interface {
	reconcile.Store

	CreateRun(run *models.SyncRun) error
	FinalizeRun(run *models.SyncRun) error

	IsProcessed(ownerID uint, messageID string) (bool, error)
	MarkProcessed(ownerID uint, messageIDs []string) error

	// CommitBatch applies one batch as a single transaction, including the
	// processed-message marks for every item. A failed batch leaves no trace.
	CommitBatch(ownerID uint, items []*BatchItem) error
}

type GormStorage struct {
	db *gorm.DB
	reconcile.GormStore
}

func NewGormStorage(db *gorm.DB) *GormStorage {
	return &GormStorage{db: db, GormStore: reconcile.GormStore{DB: db}}
}

func (s *GormStorage) CreateRun(run *models.SyncRun) error {
	return s.db.Create(run).Error
}

// FinalizeRun persists the terminal state. The guard on the current state
// makes finalized runs immutable at the storage layer too.
func (s *GormStorage) FinalizeRun(run *models.SyncRun) error {
	now := time.Now()
	run.FinishedAt = &now
	return s.db.Model(&models.SyncRun{}).
		Where("id = ? AND state = ?", run.ID, models.RunRunning).
		Updates(map[string]interface{}{
			"state":         run.State,
			"finished_at":   run.FinishedAt,
			"candidates":    run.Candidates,
			"new":           run.New,
			"updated":       run.Updated,
			"skipped":       run.Skipped,
			"errors":        run.Errors,
			"error_reasons": run.ErrorReasons,
		}).Error
}

func (s *GormStorage) IsProcessed(ownerID uint, messageID string) (bool, error) {
	var count int64
	err := s.db.Model(&models.ProcessedMessage{}).
		Where("user_id = ? AND message_id = ?", ownerID, messageID).
		Count(&count).Error
	return count > 0, err
}

func (s *GormStorage) MarkProcessed(ownerID uint, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	rows := make([]models.ProcessedMessage, 0, len(messageIDs))
	for _, id := range messageIDs {
		rows = append(rows, models.ProcessedMessage{UserID: ownerID, MessageID: id})
	}
	return s.db.Create(&rows).Error
}

func (s *GormStorage) CommitBatch(ownerID uint, items []*BatchItem) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		for _, item := range items {
			d := item.Decision
			switch d.Kind {
			case reconcile.Insert:
				if err := tx.Create(d.App).Error; err != nil {
					return err
				}
			case reconcile.Update:
				if err := tx.Model(&models.Application{}).
					Where("id = ?", d.App.ID).
					Updates(d.Changes).Error; err != nil {
					return err
				}
				if d.History != nil {
					if err := tx.Create(d.History).Error; err != nil {
						return err
					}
				}
			}
			for _, mid := range item.MessageIDs {
				mark := models.ProcessedMessage{UserID: ownerID, MessageID: mid}
				if err := tx.Create(&mark).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
}
