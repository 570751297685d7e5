package auth

import (
	"strings"
	"testing"

	"google.golang.org/api/gmail/v1"
)

func TestEncodeDecodeStateRoundTrip(t *testing.T) {
	for _, scopeSet := range []string{ScopeSetSignIn, ScopeSetMailbox} {
		state := EncodeState(42, scopeSet)
		id, got, err := DecodeState(state)
		if err != nil {
			t.Fatalf("DecodeState(%q): %v", state, err)
		}
		if id != 42 || got != scopeSet {
			t.Errorf("DecodeState(%q) = %d, %q", state, id, got)
		}
	}
}

func TestDecodeStateRejectsMalformed(t *testing.T) {
	cases := []string{
		"",
		"user_",
		"user_42",
		"user_abc_mailbox",
		"user_42_calendar",
		"session_42_mailbox",
	}
	for _, state := range cases {
		if _, _, err := DecodeState(state); err == nil {
			t.Errorf("DecodeState(%q) accepted malformed state", state)
		}
	}
}

func TestCoversScopes(t *testing.T) {
	granted := gmail.GmailReadonlyScope + " openid email"
	if !coversScopes(granted, mailboxScopes) {
		t.Error("granted set should cover mailbox scopes")
	}
	if !coversScopes(granted, signInScopes) {
		t.Error("granted set should cover sign-in scopes")
	}
	if coversScopes("openid email", mailboxScopes) {
		t.Error("sign-in-only grant must not cover mailbox scopes")
	}
	if coversScopes("", mailboxScopes) {
		t.Error("empty grant must not cover anything")
	}
	if !coversScopes("anything", nil) {
		t.Error("empty requirement is always covered")
	}
}

func TestScopeSetsStayDisjoint(t *testing.T) {
	m := NewManager(nil, nil, "client-id", "client-secret", "http://localhost/callback")

	for _, s := range m.signIn.Scopes {
		if strings.Contains(s, "gmail") {
			t.Errorf("sign-in config requests a mailbox scope: %s", s)
		}
	}
	if len(m.mailbox.Scopes) != 1 || m.mailbox.Scopes[0] != gmail.GmailReadonlyScope {
		t.Errorf("mailbox config scopes = %v, want readonly gmail only", m.mailbox.Scopes)
	}
}

func TestAuthorizeURLCarriesStateAndConsent(t *testing.T) {
	m := NewManager(nil, nil, "client-id", "client-secret", "http://localhost/callback")

	url, err := m.AuthorizeURL(7, ScopeSetMailbox)
	if err != nil {
		t.Fatalf("AuthorizeURL: %v", err)
	}
	if !strings.Contains(url, "state=user_7_mailbox") {
		t.Errorf("state missing from url: %s", url)
	}
	if !strings.Contains(url, "access_type=offline") {
		t.Errorf("offline access missing from url: %s", url)
	}
	if !strings.Contains(url, "prompt=consent") {
		t.Errorf("consent prompt missing from url: %s", url)
	}

	if _, err := m.AuthorizeURL(7, "calendar"); err == nil {
		t.Error("unknown scope set accepted")
	}
}
