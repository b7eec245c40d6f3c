package integrations

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

func testProvider(tokenURL string) Provider {
	return Provider{
		Name:         "github",
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		AuthURL:      "https://github.example/oauth/authorize",
		TokenURL:     tokenURL,
		RedirectURL:  "https://agent.example/callback",
		Scopes:       []string{"read:user", "repo"},
	}
}

func TestLoginURLCarriesState(t *testing.T) {
	t.Parallel()

	manager := NewManager([]Provider{testProvider("https://github.example/oauth/token")}, NewMemoryStore())

	loginURL, state, err := manager.LoginURL("GitHub")
	if err != nil {
		t.Fatalf("login url failed: %v", err)
	}
	if state == "" {
		t.Fatalf("expected non-empty state")
	}

	parsed, err := url.Parse(loginURL)
	if err != nil {
		t.Fatalf("invalid login url: %v", err)
	}
	query := parsed.Query()
	if query.Get("state") != state {
		t.Fatalf("state not embedded in url: %s", loginURL)
	}
	if query.Get("response_type") != "code" || query.Get("client_id") != "client-id" {
		t.Fatalf("unexpected query: %s", parsed.RawQuery)
	}
	if query.Get("scope") != "read:user repo" {
		t.Fatalf("unexpected scope: %q", query.Get("scope"))
	}
}

func TestLoginURLUnknownProvider(t *testing.T) {
	t.Parallel()

	manager := NewManager(nil, NewMemoryStore())
	if _, _, err := manager.LoginURL("github"); !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("expected unknown provider error, got %v", err)
	}
}

func TestHandleCallbackExchangesCode(t *testing.T) {
	t.Parallel()

	var gotForm url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form failed: %v", err)
		}
		gotForm = r.PostForm
		if user, pass, ok := r.BasicAuth(); !ok || user != "client-id" || pass != "client-secret" {
			t.Errorf("expected basic auth with client credentials")
		}
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "access-123",
			"refresh_token": "refresh-456",
			"scope":         "read:user",
			"expires_in":    3600,
			"token_type":    "bearer",
		})
	}))
	defer server.Close()

	store := NewMemoryStore()
	manager := NewManager([]Provider{testProvider(server.URL)}, store, WithHTTPClient(server.Client()))

	_, state, err := manager.LoginURL("github")
	if err != nil {
		t.Fatalf("login url failed: %v", err)
	}

	credential, err := manager.HandleCallback(context.Background(), "github", "auth-code", state)
	if err != nil {
		t.Fatalf("callback failed: %v", err)
	}
	if credential.AccessToken != "access-123" || credential.RefreshToken != "refresh-456" {
		t.Fatalf("unexpected credential: %+v", credential)
	}
	if credential.ExpiresAt == 0 {
		t.Fatalf("expected expiry to be set")
	}
	if gotForm.Get("grant_type") != "authorization_code" || gotForm.Get("code") != "auth-code" {
		t.Fatalf("unexpected token request form: %v", gotForm)
	}
	if gotForm.Get("redirect_uri") != "https://agent.example/callback" {
		t.Fatalf("redirect_uri missing from form: %v", gotForm)
	}

	stored, err := store.GetCredential(context.Background(), credential.ID)
	if err != nil {
		t.Fatalf("credential not persisted: %v", err)
	}
	if stored.Provider != "github" {
		t.Fatalf("unexpected provider: %s", stored.Provider)
	}
}

func TestHandleCallbackRejectsUnknownState(t *testing.T) {
	t.Parallel()

	manager := NewManager([]Provider{testProvider("https://github.example/oauth/token")}, NewMemoryStore())
	if _, err := manager.HandleCallback(context.Background(), "github", "code", "bogus-state"); !errors.Is(err, ErrStateMismatch) {
		t.Fatalf("expected state mismatch, got %v", err)
	}
}

func TestHandleCallbackRejectsReusedState(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"access_token": "access-123"})
	}))
	defer server.Close()

	manager := NewManager([]Provider{testProvider(server.URL)}, NewMemoryStore(), WithHTTPClient(server.Client()))
	_, state, err := manager.LoginURL("github")
	if err != nil {
		t.Fatalf("login url failed: %v", err)
	}
	if _, err := manager.HandleCallback(context.Background(), "github", "code", state); err != nil {
		t.Fatalf("first callback failed: %v", err)
	}
	if _, err := manager.HandleCallback(context.Background(), "github", "code", state); !errors.Is(err, ErrStateMismatch) {
		t.Fatalf("expected state mismatch on reuse, got %v", err)
	}
}

func TestHandleCallbackRejectsExpiredState(t *testing.T) {
	t.Parallel()

	manager := NewManager([]Provider{testProvider("https://github.example/oauth/token")}, NewMemoryStore(), WithStateTTL(time.Minute))
	current := time.Now()
	manager.now = func() time.Time { return current }

	_, state, err := manager.LoginURL("github")
	if err != nil {
		t.Fatalf("login url failed: %v", err)
	}

	current = current.Add(2 * time.Minute)
	if _, err := manager.HandleCallback(context.Background(), "github", "code", state); !errors.Is(err, ErrStateMismatch) {
		t.Fatalf("expected expired state to be rejected, got %v", err)
	}
}

func TestHandleCallbackTokenEndpointFailure(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "denied", http.StatusBadRequest)
	}))
	defer server.Close()

	manager := NewManager([]Provider{testProvider(server.URL)}, NewMemoryStore(), WithHTTPClient(server.Client()))
	_, state, err := manager.LoginURL("github")
	if err != nil {
		t.Fatalf("login url failed: %v", err)
	}
	_, err = manager.HandleCallback(context.Background(), "github", "code", state)
	if err == nil || !strings.Contains(err.Error(), "400") {
		t.Fatalf("expected exchange failure, got %v", err)
	}
}

func TestCredentialLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()
	manager := NewManager(nil, store)

	credential := Credential{
		ID:        "cred-1",
		Provider:  "github",
		CreatedAt: time.Unix(100, 0),
		UpdatedAt: time.Unix(100, 0),
	}
	if err := store.SaveCredential(ctx, credential); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := store.SaveCredential(ctx, Credential{ID: "cred-2", Provider: "twitter", CreatedAt: time.Unix(200, 0)}); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	all, err := manager.ListCredentials(ctx, "")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(all) != 2 || all[0].ID != "cred-2" {
		t.Fatalf("expected newest first, got %+v", all)
	}

	github, err := manager.ListCredentials(ctx, "GitHub")
	if err != nil {
		t.Fatalf("list by provider failed: %v", err)
	}
	if len(github) != 1 || github[0].ID != "cred-1" {
		t.Fatalf("unexpected provider filter result: %+v", github)
	}

	if err := manager.DeleteCredential(ctx, "cred-1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := manager.GetCredential(ctx, "cred-1"); !errors.Is(err, ErrCredentialNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestCredentialExpired(t *testing.T) {
	t.Parallel()

	credential := Credential{ExpiresAt: 1000}
	if !credential.Expired(time.Unix(2000, 0)) {
		t.Fatalf("expected credential to be expired")
	}
	if credential.Expired(time.Unix(500, 0)) {
		t.Fatalf("credential should still be valid")
	}
	forever := Credential{}
	if forever.Expired(time.Unix(2000, 0)) {
		t.Fatalf("zero expiry must never expire")
	}
}
