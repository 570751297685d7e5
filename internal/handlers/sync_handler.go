package handlers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/jobtrail/jobtrail/internal/dtos"
	"github.com/jobtrail/jobtrail/internal/models"
	"github.com/jobtrail/jobtrail/internal/syncerr"
	"github.com/jobtrail/jobtrail/internal/syncrun"
)

type SyncHandler struct {
	Controller *syncrun.Controller
	DB         *gorm.DB
	CronSecret string
}

func NewSyncHandler(controller *syncrun.Controller, db *gorm.DB, cronSecret string) *SyncHandler {
	return &SyncHandler{Controller: controller, DB: db, CronSecret: cronSecret}
}

// TriggerSync is POST /sync: one synchronous run for the calling owner.
func (h *SyncHandler) TriggerSync(c *gin.Context) {
	ownerID := currentUserID(c)

	summary, err := h.Controller.Run(c.Request.Context(), ownerID)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, dtos.FromSummary(summary))
	case syncerr.IsConflict(err):
		c.JSON(http.StatusConflict, gin.H{"error": "a sync is already running for this account"})
	case syncerr.IsAuth(err):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "mailbox authorization failed; please reconnect your account"})
	default:
		log.Printf("sync failed for owner %d: %v", ownerID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sync failed"})
	}
}

// DailyCronSync is POST /cron/daily-sync, authenticated by shared secret.
// It sweeps every owner with auto-sync enabled; one owner's failure never
// stops the sweep.
func (h *SyncHandler) DailyCronSync(c *gin.Context) {
	if h.CronSecret == "" || c.GetHeader("X-Cron-Secret") != h.CronSecret {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid cron secret"})
		return
	}

	var users []models.User
	if err := h.DB.Where("auto_sync_enabled = ?", true).Find(&users).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list owners"})
		return
	}

	resp := dtos.CronResponse{Results: []dtos.CronOwnerResult{}}
	for _, user := range users {
		summary, err := h.Controller.Run(c.Request.Context(), user.ID)
		result := dtos.CronOwnerResult{UserID: user.ID, Email: user.Email}
		if err != nil {
			result.Error = err.Error()
			resp.FailedOwners++
		} else {
			result.Success = true
			s := dtos.FromSummary(summary)
			result.Summary = &s
			resp.SyncedOwners++
		}
		resp.Results = append(resp.Results, result)
	}
	c.JSON(http.StatusOK, resp)
}

func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
