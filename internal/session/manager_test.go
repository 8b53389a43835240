package session

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/joshp123/thinq/internal/locale"
	"github.com/joshp123/thinq/internal/thinq"
)

type memoryBlobStore struct {
	data []byte
}

func (m *memoryBlobStore) Load(_ context.Context) ([]byte, error) {
	if m.data == nil {
		return nil, ErrBlobNotFound
	}
	return m.data, nil
}

func (m *memoryBlobStore) Save(_ context.Context, data []byte) error {
	m.data = data
	return nil
}

func testLocale(t *testing.T) locale.Locale {
	t.Helper()
	loc, err := locale.Parse("US", "en-US")
	if err != nil {
		t.Fatalf("parse locale: %v", err)
	}
	return loc
}

func writeTestState(t *testing.T, path string, state State) {
	t.Helper()
	if err := WriteState(path, state); err != nil {
		t.Fatalf("write state: %v", err)
	}
}

func TestRefreshFlow(t *testing.T) {
	var tokenRequests int

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case tokenPath:
			tokenRequests++
			if r.Method != http.MethodPost {
				t.Fatalf("expected POST to token endpoint, got %s", r.Method)
			}
			if r.Header.Get("x-lge-appkey") != empAppKey {
				t.Fatalf("missing x-lge-appkey header")
			}
			if r.Header.Get("x-lge-oauth-signature") == "" {
				t.Fatalf("missing x-lge-oauth-signature header")
			}
			body, _ := io.ReadAll(r.Body)
			if !strings.Contains(string(body), "refresh_token=refresh-token") {
				t.Fatalf("expected refresh_token in request, got %s", string(body))
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"access_token":"test-token","expires_in":3600,"token_type":"Bearer"}`)
			return
		case profilePath:
			if auth := r.Header.Get("Authorization"); auth != "Bearer test-token" {
				t.Fatalf("unexpected auth header: %s", auth)
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"status":1,"account":{"userNo":"US2408266801234"}}`)
			return
		default:
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
	}))
	defer server.Close()

	statePath := filepath.Join(t.TempDir(), "session.json")
	writeTestState(t, statePath, State{
		SchemaVersion: SchemaVersion,
		RefreshToken:  "refresh-token",
		OAuthURL:      server.URL,
		Country:       "US",
		Language:      "en-US",
	})

	blob := &memoryBlobStore{}
	m, err := NewManager(Options{
		StateFile:  statePath,
		Locale:     testLocale(t),
		BlobStore:  blob,
		HTTPClient: newSigningClient(0),
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	ctx := context.Background()
	token, err := m.AccessToken(ctx)
	if err != nil {
		t.Fatalf("AccessToken: %v", err)
	}
	if token != "test-token" {
		t.Fatalf("unexpected token: %s", token)
	}
	if m.UserNumber() != "US2408266801234" {
		t.Fatalf("unexpected user number: %s", m.UserNumber())
	}
	if access, refresh := m.CurrentToken(); access != "test-token" || refresh != "refresh-token" {
		t.Fatalf("CurrentToken: %s / %s", access, refresh)
	}

	// Cached token satisfies subsequent calls without another request.
	if _, err := m.AccessToken(ctx); err != nil {
		t.Fatalf("AccessToken cached: %v", err)
	}
	if tokenRequests != 1 {
		t.Fatalf("expected 1 token request, got %d", tokenRequests)
	}

	// Invalidation within the debounce window is a no-op.
	if err := m.Invalidate(ctx); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if tokenRequests != 1 {
		t.Fatalf("expected debounced invalidate, got %d token requests", tokenRequests)
	}

	if blob.data == nil {
		t.Fatalf("expected session mirrored to blob store")
	}
	info, err := os.Stat(statePath)
	if err != nil {
		t.Fatalf("stat state: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("state file permissions: %v", info.Mode().Perm())
	}
}

func TestRefreshClassifiesSocialAccount(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"code":"MS.001.03","message":"third party account"}}`)
	}))
	defer server.Close()

	statePath := filepath.Join(t.TempDir(), "session.json")
	writeTestState(t, statePath, State{
		SchemaVersion: SchemaVersion,
		RefreshToken:  "refresh-token",
		OAuthURL:      server.URL,
		Country:       "US",
		Language:      "en-US",
	})

	m, err := NewManager(Options{
		StateFile:  statePath,
		Locale:     testLocale(t),
		HTTPClient: newSigningClient(0),
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	_, err = m.AccessToken(context.Background())
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthError, got %v", err)
	}
	if authErr.Reason != ReasonSocialAccount {
		t.Fatalf("expected social account reason, got %s", authErr.Reason)
	}
}

func TestRefreshClassifiesTermsPending(t *testing.T) {
	got := classifyAuthFailure(400, []byte(`{"error":{"code":"MS.001.48","message":"terms"}}`))
	if got.Reason != ReasonTermsPending {
		t.Fatalf("expected terms pending, got %s", got.Reason)
	}
	got = classifyAuthFailure(400, []byte(`{"error":{"code":"MS.001.99","message":"bad password"}}`))
	if got.Reason != ReasonInvalidCredential {
		t.Fatalf("expected invalid credential, got %s", got.Reason)
	}
	got = classifyAuthFailure(401, []byte(`nonsense`))
	if got.Reason != ReasonTokenRejected {
		t.Fatalf("expected token rejected, got %s", got.Reason)
	}
}

func TestLocaleMismatchDropsCachedIdentity(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "session.json")
	writeTestState(t, statePath, State{
		SchemaVersion: SchemaVersion,
		RefreshToken:  "refresh-token",
		AccessToken:   "stale-token",
		UserNumber:    "KR123",
		Country:       "KR",
		Language:      "ko-KR",
	})

	m, err := NewManager(Options{
		StateFile: statePath,
		Locale:    testLocale(t),
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if m.accessToken != "" {
		t.Fatalf("expected cached access token dropped on locale change")
	}
	if m.UserNumber() != "" {
		t.Fatalf("expected user number dropped on locale change")
	}
	if m.refreshToken != "refresh-token" {
		t.Fatalf("expected refresh token kept")
	}
}

func TestNewManagerRequiresBootstrap(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "session.json")
	_, err := NewManager(Options{StateFile: statePath, Locale: testLocale(t)})
	if !errors.Is(err, ErrNotBootstrapped) {
		t.Fatalf("expected ErrNotBootstrapped, got %v", err)
	}
}

func TestNewManagerRecoversFromBlob(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "session.json")
	blob := &memoryBlobStore{data: []byte(`{"schema_version":1,"refresh_token":"from-blob","country":"US","language":"en-US"}`)}

	m, err := NewManager(Options{
		StateFile: statePath,
		Locale:    testLocale(t),
		BlobStore: blob,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if m.refreshToken != "from-blob" {
		t.Fatalf("expected refresh token from blob, got %s", m.refreshToken)
	}
	if _, err := os.Stat(statePath); err != nil {
		t.Fatalf("expected state file restored from blob: %v", err)
	}
}

func TestRefreshRetriesTransientFailure(t *testing.T) {
	var tokenRequests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case tokenPath:
			tokenRequests++
			if tokenRequests < 3 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"access_token":"recovered-token","expires_in":3600,"token_type":"Bearer"}`)
		case profilePath:
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"status":1,"account":{"userNo":"US1"}}`)
		}
	}))
	defer server.Close()

	statePath := filepath.Join(t.TempDir(), "session.json")
	writeTestState(t, statePath, State{
		SchemaVersion: SchemaVersion,
		RefreshToken:  "refresh-token",
		OAuthURL:      server.URL,
		Country:       "US",
		Language:      "en-US",
	})

	m, err := NewManager(Options{
		StateFile:   statePath,
		Locale:      testLocale(t),
		HTTPClient:  newSigningClient(0),
		RetryPolicy: thinq.RetryPolicy{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	token, err := m.AccessToken(context.Background())
	if err != nil {
		t.Fatalf("AccessToken: %v", err)
	}
	if token != "recovered-token" {
		t.Fatalf("unexpected token: %s", token)
	}
	if tokenRequests != 3 {
		t.Fatalf("expected 3 token requests, got %d", tokenRequests)
	}
}

func TestRefreshDoesNotRetryTerminalFailure(t *testing.T) {
	var tokenRequests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenRequests++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"code":"MS.001.03","message":"third party account"}}`)
	}))
	defer server.Close()

	statePath := filepath.Join(t.TempDir(), "session.json")
	writeTestState(t, statePath, State{
		SchemaVersion: SchemaVersion,
		RefreshToken:  "refresh-token",
		OAuthURL:      server.URL,
		Country:       "US",
		Language:      "en-US",
	})

	m, err := NewManager(Options{
		StateFile:   statePath,
		Locale:      testLocale(t),
		HTTPClient:  newSigningClient(0),
		RetryPolicy: thinq.RetryPolicy{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	_, err = m.AccessToken(context.Background())
	var authErr *AuthError
	if !errors.As(err, &authErr) || authErr.Reason != ReasonSocialAccount {
		t.Fatalf("expected social account AuthError, got %v", err)
	}
	if tokenRequests != 1 {
		t.Fatalf("terminal failure retried: %d token requests", tokenRequests)
	}
}
