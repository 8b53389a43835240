package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/joshp123/thinq/internal/locale"
	"github.com/joshp123/thinq/internal/thinq"
)

const (
	// tokenExpiryMargin is how long before nominal expiry a cached access
	// token stops being handed out. Refreshes happen behind this margin so
	// in-flight API calls never carry a token about to lapse.
	tokenExpiryMargin = 60 * time.Second

	// invalidateDebounce absorbs bursts of not-logged-in responses from
	// concurrent API calls: only the first one triggers a refresh.
	invalidateDebounce = 5 * time.Second

	// DefaultRefreshInterval drives the background proactive refresh loop.
	DefaultRefreshInterval = 10 * time.Minute

	tokenPath   = "/oauth/1.0/oauth2/token"
	profilePath = "/users/profile"
)

var ErrNotBootstrapped = errors.New("no persisted session; run the login flow first")

// Options configures a session Manager.
type Options struct {
	StateFile string
	Locale    locale.Locale
	// OAuthURL overrides the member platform root. Defaults to the
	// per-country host, e.g. https://us.lgeapi.com for country US.
	OAuthURL   string
	BlobStore  BlobStore
	HTTPClient *http.Client
	// RetryPolicy bounds transient token endpoint retries. Zero value
	// means the shared default policy.
	RetryPolicy thinq.RetryPolicy
}

// Manager owns the LG account session: it caches the access token, refreshes
// it through the member platform token endpoint, and persists the refresh
// token locally and to blob storage. It satisfies the credentials dependency
// of the API client.
type Manager struct {
	statePath string
	loc       locale.Locale
	blobStore BlobStore
	client    *http.Client
	retry     thinq.RetryPolicy

	group singleflight.Group

	mu           sync.Mutex
	oauthURL     string
	accessToken  string
	expiresAt    time.Time
	refreshToken string
	userNumber   string
	lastRefresh  time.Time
}

// DefaultOAuthURL returns the member platform root for a country.
func DefaultOAuthURL(loc locale.Locale) string {
	return "https://" + strings.ToLower(loc.Country) + ".lgeapi.com"
}

func NewManager(opts Options) (*Manager, error) {
	if opts.StateFile == "" {
		return nil, fmt.Errorf("state file is required")
	}
	if opts.Locale.Country == "" {
		return nil, fmt.Errorf("locale is required")
	}

	client := opts.HTTPClient
	if client == nil {
		client = newSigningClient(15 * time.Second)
	}

	retry := opts.RetryPolicy
	if retry.MaxAttempts == 0 {
		retry = thinq.DefaultRetryPolicy()
	}

	m := &Manager{
		statePath: opts.StateFile,
		loc:       opts.Locale,
		blobStore: opts.BlobStore,
		client:    client,
		retry:     retry,
		oauthURL:  opts.OAuthURL,
	}

	state, err := m.loadInitialState()
	if err != nil {
		return nil, err
	}

	m.refreshToken = state.RefreshToken
	m.userNumber = state.UserNumber
	if state.OAuthURL != "" {
		m.oauthURL = state.OAuthURL
	}
	if m.oauthURL == "" {
		m.oauthURL = DefaultOAuthURL(opts.Locale)
	}

	// A session persisted for another market would resolve labels and
	// courses in the wrong language. The refresh token itself is still
	// valid, so keep it and drop everything locale-derived.
	if state.Country != "" && (state.Country != opts.Locale.Country || state.Language != opts.Locale.Language) {
		log.Printf("session: persisted locale %s/%s differs from configured %s, resetting cached identity",
			state.Country, state.Language, opts.Locale)
		m.accessToken = ""
		m.userNumber = ""
	} else {
		m.accessToken = state.AccessToken
	}

	return m, nil
}

// Bootstrap writes an initial session state. Used by the CLI login flow;
// the daemon only ever loads and refreshes.
func Bootstrap(path string, loc locale.Locale, refreshToken, oauthURL string) error {
	if refreshToken == "" {
		return fmt.Errorf("refresh token is required")
	}
	return WriteState(path, State{
		SchemaVersion: SchemaVersion,
		RefreshToken:  refreshToken,
		OAuthURL:      oauthURL,
		Country:       loc.Country,
		Language:      loc.Language,
	})
}

// SetOAuthURL adopts the member platform root that gateway discovery
// returned. A root persisted by the login flow wins; discovery only fills
// the gap.
func (m *Manager) SetOAuthURL(url string) {
	if url == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.oauthURL == "" || m.oauthURL == DefaultOAuthURL(m.loc) {
		m.oauthURL = url
	}
}

// Start runs the proactive refresh loop until ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	m.StartWithInterval(ctx, DefaultRefreshInterval)
}

func (m *Manager) StartWithInterval(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	if _, err := m.AccessToken(ctx); err != nil {
		log.Printf("session: initial refresh failed: %v", err)
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := m.AccessToken(ctx); err != nil {
					log.Printf("session: background refresh failed: %v", err)
				}
			}
		}
	}()
}

// AccessToken returns a valid access token, refreshing if the cached one is
// missing or inside the expiry margin. Concurrent callers share one refresh.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	if m.accessToken != "" && time.Until(m.expiresAt) > tokenExpiryMargin {
		token := m.accessToken
		m.mu.Unlock()
		return token, nil
	}
	m.mu.Unlock()

	return m.refreshShared(ctx)
}

// UserNumber returns the account identifier used in API headers. Empty until
// the first successful refresh if the persisted state predates it.
func (m *Manager) UserNumber() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userNumber
}

// CurrentToken returns the cached token pair without refreshing. The access
// token may be empty or expired; callers wanting a usable token go through
// AccessToken.
func (m *Manager) CurrentToken() (accessToken, refreshToken string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accessToken, m.refreshToken
}

// Invalidate discards the cached access token after the API rejected it and
// fetches a fresh one. Rejections arriving within the debounce window of the
// last refresh are ignored, since they raced with it.
func (m *Manager) Invalidate(ctx context.Context) error {
	m.mu.Lock()
	if time.Since(m.lastRefresh) < invalidateDebounce {
		m.mu.Unlock()
		return nil
	}
	m.accessToken = ""
	m.mu.Unlock()

	_, err := m.refreshShared(ctx)
	return err
}

func (m *Manager) refreshShared(ctx context.Context) (string, error) {
	token, err, _ := m.group.Do("refresh", func() (interface{}, error) {
		return m.refresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return token.(string), nil
}

func (m *Manager) refresh(ctx context.Context) (string, error) {
	m.mu.Lock()
	refreshToken := m.refreshToken
	oauthURL := m.oauthURL
	m.mu.Unlock()

	cfg := &oauth2.Config{
		Endpoint: oauth2.Endpoint{
			TokenURL:  oauthURL + tokenPath,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.client)
	source := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})

	// Terminal rejections surface immediately; network failures and 5xx
	// responses get the bounded backoff before the refresh fails.
	var token *oauth2.Token
	err := thinq.Retry(ctx, m.retry, func() error {
		t, err := source.Token()
		if err != nil {
			var retrieveErr *oauth2.RetrieveError
			if errors.As(err, &retrieveErr) && retrieveErr.Response.StatusCode < 500 {
				return classifyAuthFailure(retrieveErr.Response.StatusCode, retrieveErr.Body)
			}
			return &thinq.TransportError{Op: "token refresh", Err: err}
		}
		token = t
		return nil
	})
	if err != nil {
		refreshFailure.Inc()
		tokenValid.Set(0)
		var authErr *AuthError
		if errors.As(err, &authErr) {
			authFailures.WithLabelValues(string(authErr.Reason)).Inc()
			return "", authErr
		}
		return "", err
	}

	m.mu.Lock()
	m.accessToken = token.AccessToken
	m.expiresAt = token.Expiry
	if token.RefreshToken != "" {
		m.refreshToken = token.RefreshToken
	}
	m.lastRefresh = time.Now()
	needUserNumber := m.userNumber == ""
	m.mu.Unlock()

	if needUserNumber {
		if err := m.fetchUserNumber(ctx, oauthURL, token.AccessToken); err != nil {
			log.Printf("session: fetch user number: %v", err)
		}
	}

	if err := m.persist(ctx); err != nil {
		refreshFailure.Inc()
		return "", err
	}

	refreshSuccess.Inc()
	tokenValid.Set(1)
	return token.AccessToken, nil
}

// fetchUserNumber resolves the account number from the member profile
// endpoint. The number is stable, so it is fetched once and persisted.
func (m *Manager) fetchUserNumber(ctx context.Context, oauthURL, accessToken string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, oauthURL+profilePath, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("profile endpoint returned %d", resp.StatusCode)
	}

	var profile struct {
		Account struct {
			UserNo string `json:"userNo"`
		} `json:"account"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return fmt.Errorf("decode profile: %w", err)
	}
	if profile.Account.UserNo == "" {
		return fmt.Errorf("profile missing userNo")
	}

	m.mu.Lock()
	m.userNumber = profile.Account.UserNo
	m.mu.Unlock()
	return nil
}

func (m *Manager) persist(ctx context.Context) error {
	m.mu.Lock()
	state := State{
		SchemaVersion: SchemaVersion,
		RefreshToken:  m.refreshToken,
		AccessToken:   m.accessToken,
		OAuthURL:      m.oauthURL,
		UserNumber:    m.userNumber,
		Country:       m.loc.Country,
		Language:      m.loc.Language,
	}
	m.mu.Unlock()

	if err := WriteState(m.statePath, state); err != nil {
		return fmt.Errorf("persist state: %w", err)
	}
	if m.blobStore == nil {
		return nil
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	if err := m.blobStore.Save(ctx, data); err != nil {
		remotePersistOK.Set(0)
		log.Printf("session: blob mirror failed: %v", err)
		return nil
	}
	remotePersistOK.Set(1)
	return nil
}

func (m *Manager) loadInitialState() (State, error) {
	local, localErr := LoadState(m.statePath)
	if localErr == nil {
		if err := checkStateFile(m.statePath); err != nil {
			return State{}, err
		}
		return local, nil
	}
	if !errors.Is(localErr, ErrStateNotFound) {
		return State{}, localErr
	}

	if m.blobStore == nil {
		return State{}, ErrNotBootstrapped
	}

	data, blobErr := m.blobStore.Load(context.Background())
	if blobErr != nil {
		if errors.Is(blobErr, ErrBlobNotFound) {
			return State{}, ErrNotBootstrapped
		}
		return State{}, blobErr
	}

	state, err := DecodeState(data)
	if err != nil {
		return State{}, err
	}
	if err := WriteState(m.statePath, state); err != nil {
		return State{}, err
	}
	return state, nil
}
