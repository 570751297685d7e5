package handlers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jobtrail/jobtrail/internal/auth"
	"github.com/jobtrail/jobtrail/internal/syncerr"
)

type OAuthHandler struct {
	Manager *auth.Manager
}

func NewOAuthHandler(manager *auth.Manager) *OAuthHandler {
	return &OAuthHandler{Manager: manager}
}

// Authorize is GET /oauth/authorize: redirects the owner to the provider's
// consent screen for one scope set (default mailbox-read).
func (h *OAuthHandler) Authorize(c *gin.Context) {
	ownerID := currentUserID(c)
	scopeSet := c.DefaultQuery("scope_set", auth.ScopeSetMailbox)

	url, err := h.Manager.AuthorizeURL(ownerID, scopeSet)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.Redirect(http.StatusFound, url)
}

// Callback is GET /oauth/callback: the provider redirect target. The owner
// is carried in the state parameter, not in a session.
func (h *OAuthHandler) Callback(c *gin.Context) {
	code := c.Query("code")
	state := c.Query("state")
	if code == "" || state == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing code or state"})
		return
	}

	ownerID, scopeSet, err := auth.DecodeState(state)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid state parameter"})
		return
	}

	cred, err := h.Manager.CompleteAuthorization(c.Request.Context(), ownerID, scopeSet, code)
	if err != nil {
		log.Printf("oauth callback failed for owner %d: %v", ownerID, err)
		if syncerr.IsAuth(err) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization was not granted"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store credential"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"connected": true,
		"scope_set": cred.ScopeSet,
		"expiry":    cred.Expiry,
	})
}

// Disconnect is POST /oauth/disconnect: revokes the mailbox grant and
// deletes the stored credential.
func (h *OAuthHandler) Disconnect(c *gin.Context) {
	ownerID := currentUserID(c)

	if err := h.Manager.Revoke(c.Request.Context(), ownerID); err != nil {
		if syncerr.IsAuth(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no connected account"})
			return
		}
		log.Printf("revoke failed for owner %d: %v", ownerID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to disconnect"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"disconnected": true})
}
