// Package auth owns the OAuth2 credential lifecycle for mailbox access.
//
// Two disjoint scope sets are requested through two separate oauth2 configs
// and are never merged into one grant: a provider asked for a combined set
// can silently broaden what a sign-in token is allowed to do.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"gorm.io/gorm"

	"github.com/jobtrail/jobtrail/internal/models"
	"github.com/jobtrail/jobtrail/internal/secrets"
	"github.com/jobtrail/jobtrail/internal/syncerr"
)

const (
	ScopeSetSignIn  = "signin"
	ScopeSetMailbox = "mailbox"

	revokeURL = "https://oauth2.googleapis.com/revoke"
)

var signInScopes = []string{"openid", "email"}
var mailboxScopes = []string{gmail.GmailReadonlyScope}

type Manager struct {
	db     *gorm.DB
	cipher *secrets.Cipher

	signIn  *oauth2.Config
	mailbox *oauth2.Config

	httpClient *http.Client // for revocation calls
}

func NewManager(db *gorm.DB, cipher *secrets.Cipher, clientID, clientSecret, redirectURL string) *Manager {
	base := oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Endpoint:     google.Endpoint,
	}

	signIn := base
	signIn.Scopes = signInScopes
	mailbox := base
	mailbox.Scopes = mailboxScopes

	return &Manager{
		db:         db,
		cipher:     cipher,
		signIn:     &signIn,
		mailbox:    &mailbox,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

func (m *Manager) configFor(scopeSet string) (*oauth2.Config, error) {
	switch scopeSet {
	case ScopeSetSignIn:
		return m.signIn, nil
	case ScopeSetMailbox:
		return m.mailbox, nil
	}
	return nil, fmt.Errorf("unknown scope set %q", scopeSet)
}

// AuthorizeURL returns the provider redirect target for one scope set.
// Offline access plus forced consent so we always receive a refresh token.
func (m *Manager) AuthorizeURL(ownerID uint, scopeSet string) (string, error) {
	conf, err := m.configFor(scopeSet)
	if err != nil {
		return "", err
	}
	state := EncodeState(ownerID, scopeSet)
	return conf.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	), nil
}

// CompleteAuthorization exchanges the provider's code, verifies the granted
// scopes actually cover what was requested, and persists the encrypted
// credential. The credential is stored before it is returned.
func (m *Manager) CompleteAuthorization(ctx context.Context, ownerID uint, scopeSet, code string) (*models.SyncCredential, error) {
	conf, err := m.configFor(scopeSet)
	if err != nil {
		return nil, err
	}

	tok, err := conf.Exchange(ctx, code)
	if err != nil {
		return nil, &syncerr.AuthError{Reason: "code exchange failed", Err: err}
	}

	granted, _ := tok.Extra("scope").(string)
	// The provider reports sign-in scopes under aliased names, so strict
	// coverage is only enforceable for the mailbox set.
	if scopeSet == ScopeSetMailbox && !coversScopes(granted, conf.Scopes) {
		return nil, &syncerr.AuthError{
			Reason: fmt.Sprintf("granted scopes %q do not cover %v", granted, conf.Scopes),
		}
	}

	cred, err := m.persistToken(ownerID, scopeSet, tok, granted)
	if err != nil {
		return nil, err
	}
	return cred, nil
}

// ValidToken returns a usable mailbox access token, refreshing it through the
// stored refresh token when expired. A refreshed token is persisted before it
// is handed to the caller; no token lives in memory only.
func (m *Manager) ValidToken(ctx context.Context, ownerID uint) (*oauth2.Token, error) {
	var cred models.SyncCredential
	err := m.db.Where("user_id = ? AND scope_set = ?", ownerID, ScopeSetMailbox).First(&cred).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &syncerr.AuthError{Reason: "no mailbox credential; connect your account"}
	}
	if err != nil {
		return nil, err
	}
	if !coversScopes(cred.Scopes, mailboxScopes) {
		return nil, &syncerr.AuthError{Reason: "stored credential lacks mailbox scope"}
	}

	tok, err := m.decryptToken(&cred)
	if err != nil {
		return nil, err
	}
	if tok.Valid() {
		return tok, nil
	}

	if tok.RefreshToken == "" {
		return nil, &syncerr.AuthError{Reason: "token expired and no refresh token stored"}
	}

	refreshed, err := m.mailbox.TokenSource(ctx, tok).Token()
	if err != nil {
		return nil, &syncerr.AuthError{Reason: "refresh token rejected by provider", Err: err}
	}

	// Google may omit the refresh token on refresh responses; keep ours.
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = tok.RefreshToken
	}
	if _, err := m.persistToken(ownerID, ScopeSetMailbox, refreshed, cred.Scopes); err != nil {
		return nil, err
	}
	return refreshed, nil
}

// Revoke invalidates the mailbox grant with the provider and deletes the
// stored credential. The row is deleted even if the provider call fails:
// a dangling encrypted token is worse than a dangling remote grant.
func (m *Manager) Revoke(ctx context.Context, ownerID uint) error {
	var cred models.SyncCredential
	err := m.db.Where("user_id = ? AND scope_set = ?", ownerID, ScopeSetMailbox).First(&cred).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &syncerr.AuthError{Reason: "no mailbox credential to revoke"}
	}
	if err != nil {
		return err
	}

	tok, decErr := m.decryptToken(&cred)
	if decErr == nil {
		revoking := tok.RefreshToken
		if revoking == "" {
			revoking = tok.AccessToken
		}
		if revokeErr := m.revokeWithProvider(ctx, revoking); revokeErr != nil {
			decErr = revokeErr
		}
	}

	if err := m.db.Unscoped().Delete(&cred).Error; err != nil {
		return err
	}
	return decErr
}

func (m *Manager) revokeWithProvider(ctx context.Context, token string) error {
	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, revokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return &syncerr.TransientError{Op: "revoke token", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("provider revoke returned %d", resp.StatusCode)
	}
	return nil
}

func (m *Manager) persistToken(ownerID uint, scopeSet string, tok *oauth2.Token, grantedScopes string) (*models.SyncCredential, error) {
	encAccess, err := m.cipher.EncryptString(tok.AccessToken)
	if err != nil {
		return nil, err
	}
	encRefresh, err := m.cipher.EncryptString(tok.RefreshToken)
	if err != nil {
		return nil, err
	}

	cred := models.SyncCredential{UserID: ownerID, ScopeSet: scopeSet}
	err = m.db.Where(models.SyncCredential{UserID: ownerID, ScopeSet: scopeSet}).
		FirstOrCreate(&cred).Error
	if err != nil {
		return nil, err
	}

	cred.AccessToken = encAccess
	cred.RefreshToken = encRefresh
	cred.TokenType = tok.TokenType
	cred.Expiry = tok.Expiry
	cred.Scopes = grantedScopes
	if err := m.db.Save(&cred).Error; err != nil {
		return nil, err
	}
	return &cred, nil
}

func (m *Manager) decryptToken(cred *models.SyncCredential) (*oauth2.Token, error) {
	access, err := m.cipher.DecryptString(cred.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("decrypt access token: %w", err)
	}
	refresh, err := m.cipher.DecryptString(cred.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("decrypt refresh token: %w", err)
	}
	return &oauth2.Token{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    cred.TokenType,
		Expiry:       cred.Expiry,
	}, nil
}

// EncodeState packs owner and scope set into the OAuth state parameter.
func EncodeState(ownerID uint, scopeSet string) string {
	return fmt.Sprintf("user_%d_%s", ownerID, scopeSet)
}

// DecodeState is the inverse of EncodeState.
func DecodeState(state string) (uint, string, error) {
	rest, ok := strings.CutPrefix(state, "user_")
	if !ok {
		return 0, "", fmt.Errorf("malformed state %q", state)
	}
	idStr, scopeSet, ok := strings.Cut(rest, "_")
	if !ok {
		return 0, "", fmt.Errorf("malformed state %q", state)
	}
	id, err := strconv.ParseUint(idStr, 10, 32)
	if err != nil {
		return 0, "", fmt.Errorf("malformed state %q", state)
	}
	if scopeSet != ScopeSetSignIn && scopeSet != ScopeSetMailbox {
		return 0, "", fmt.Errorf("unknown scope set in state %q", state)
	}
	return uint(id), scopeSet, nil
}

// coversScopes reports whether every required scope appears in the granted
// space-separated scope string.
func coversScopes(granted string, required []string) bool {
	have := make(map[string]bool)
	for _, s := range strings.Fields(granted) {
		have[s] = true
	}
	for _, s := range required {
		if !have[s] {
			return false
		}
	}
	return true
}
