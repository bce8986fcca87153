// Package auth manages the oauth credential lifecycle for authenticated
// feed sources. Tokens are persisted through the store's key-value table,
// so a restart keeps the durable refresh token and picks up where it left.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-pkgz/lgr"
)

// sentinel errors, callers treat ErrNotConfigured as "skip this source"
var (
	ErrNotConfigured = errors.New("reddit auth not configured")
	ErrAuthFailure   = errors.New("reddit authorization failed")
)

// credential keys in the store
const (
	credPrefix       = "reddit."
	credAccessToken  = "reddit.access_token"
	credExpiry       = "reddit.expiry"
	credRefreshToken = "reddit.refresh_token"
	credUsername     = "reddit.username"
)

// refreshSkew forces a refresh when the token expires this soon
const refreshSkew = 60 * time.Second

// oauthScopes requested during setup
const oauthScopes = "identity history read save"

// CredentialStore persists oauth credential fields
type CredentialStore interface {
	GetCredential(ctx context.Context, key string) (string, error)
	SetCredential(ctx context.Context, key, value string) error
	DeleteCredentials(ctx context.Context, prefix string) error
}

// Opts configures the manager
type Opts struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	UserAgent    string
	Timeout      time.Duration

	// endpoint overrides for tests, production defaults used when empty
	AuthURL  string
	TokenURL string
	APIURL   string
}

// Manager owns the oauth token lifecycle: setup handshake, refresh, logout
type Manager struct {
	store CredentialStore
	opts  Opts

	client *http.Client
	now    func() time.Time

	mu      sync.Mutex
	pending map[string]int64 // anti-forgery state -> chat id
}

// Status summarizes the credential state for the auth-status command
type Status struct {
	Configured bool
	HasToken   bool
	Username   string
	ExpiresAt  time.Time
}

// NewManager creates an oauth token manager backed by the given store
func NewManager(store CredentialStore, opts Opts) *Manager {
	if opts.AuthURL == "" {
		opts.AuthURL = "https://www.reddit.com/api/v1/authorize"
	}
	if opts.TokenURL == "" {
		opts.TokenURL = "https://www.reddit.com/api/v1/access_token"
	}
	if opts.APIURL == "" {
		opts.APIURL = "https://oauth.reddit.com"
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Manager{
		store:   store,
		opts:    opts,
		client:  &http.Client{Timeout: opts.Timeout},
		now:     time.Now,
		pending: map[string]int64{},
	}
}

// BeginSetup generates a per-chat anti-forgery state and returns the
// authorization URL for the user to visit
func (m *Manager) BeginSetup(chatID int64) (string, error) {
	if m.opts.ClientID == "" || m.opts.ClientSecret == "" {
		return "", ErrNotConfigured
	}

	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	state := hex.EncodeToString(buf)

	m.mu.Lock()
	// drop any previous pending state for the same chat
	for s, id := range m.pending {
		if id == chatID {
			delete(m.pending, s)
		}
	}
	m.pending[state] = chatID
	m.mu.Unlock()

	q := url.Values{}
	q.Set("client_id", m.opts.ClientID)
	q.Set("response_type", "code")
	q.Set("state", state)
	q.Set("redirect_uri", m.opts.RedirectURL)
	q.Set("duration", "permanent")
	q.Set("scope", oauthScopes)

	return m.opts.AuthURL + "?" + q.Encode(), nil
}

// ChatForState maps a callback state back to the chat that started setup.
// The state is consumed: a second lookup with the same value fails.
func (m *Manager) ChatForState(state string) (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	chatID, ok := m.pending[state]
	if ok {
		delete(m.pending, state)
	}
	return chatID, ok
}

// CompleteSetup exchanges the authorization code for tokens and persists
// them. Fails with ErrAuthFailure if the exchange is rejected or no durable
// refresh token is returned.
func (m *Manager) CompleteSetup(ctx context.Context, chatID int64, code string) error {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", m.opts.RedirectURL)

	tok, err := m.exchange(ctx, form)
	if err != nil {
		return err
	}
	if tok.RefreshToken == "" {
		return fmt.Errorf("%w: no refresh token in response", ErrAuthFailure)
	}

	if err := m.persistToken(ctx, tok); err != nil {
		return err
	}
	if err := m.store.SetCredential(ctx, credRefreshToken, tok.RefreshToken); err != nil {
		return fmt.Errorf("persist refresh token: %w", err)
	}
	// cached username belongs to the previous account
	if err := m.store.SetCredential(ctx, credUsername, ""); err != nil {
		return fmt.Errorf("reset cached username: %w", err)
	}

	lgr.Printf("[INFO] reddit auth completed for chat %d", chatID)
	return nil
}

// AccessToken returns a token valid for at least another 60 seconds,
// refreshing it first when needed. ErrNotConfigured means no refresh token
// is on file and the caller must treat the source as not set up.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	token, err := m.store.GetCredential(ctx, credAccessToken)
	if err != nil {
		return "", fmt.Errorf("read access token: %w", err)
	}
	expiryRaw, err := m.store.GetCredential(ctx, credExpiry)
	if err != nil {
		return "", fmt.Errorf("read token expiry: %w", err)
	}

	if token != "" && expiryRaw != "" {
		expiry, perr := time.Parse(time.RFC3339, expiryRaw)
		if perr == nil && expiry.After(m.now().Add(refreshSkew)) {
			return token, nil
		}
	}

	return m.refresh(ctx)
}

// Username resolves and caches the authenticated user's name, needed for
// the saved-items listing
func (m *Manager) Username(ctx context.Context) (string, error) {
	cached, err := m.store.GetCredential(ctx, credUsername)
	if err != nil {
		return "", fmt.Errorf("read cached username: %w", err)
	}
	if cached != "" {
		return cached, nil
	}

	token, err := m.AccessToken(ctx)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.opts.APIURL+"/api/v1/me", http.NoBody)
	if err != nil {
		return "", fmt.Errorf("create me request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", m.opts.UserAgent)

	resp, err := m.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("resolve username: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: me endpoint status %d", ErrAuthFailure, resp.StatusCode)
	}

	var me struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&me); err != nil {
		return "", fmt.Errorf("decode me response: %w", err)
	}
	if me.Name == "" {
		return "", fmt.Errorf("%w: empty username", ErrAuthFailure)
	}

	if err := m.store.SetCredential(ctx, credUsername, me.Name); err != nil {
		return "", fmt.Errorf("cache username: %w", err)
	}
	return me.Name, nil
}

// Logout deletes all persisted credential fields
func (m *Manager) Logout(ctx context.Context) error {
	if err := m.store.DeleteCredentials(ctx, credPrefix); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	lgr.Printf("[INFO] reddit credentials deleted")
	return nil
}

// GetStatus reports the current credential state
func (m *Manager) GetStatus(ctx context.Context) (Status, error) {
	st := Status{Configured: m.opts.ClientID != "" && m.opts.ClientSecret != ""}

	refresh, err := m.store.GetCredential(ctx, credRefreshToken)
	if err != nil {
		return st, fmt.Errorf("read refresh token: %w", err)
	}
	st.HasToken = refresh != ""

	if st.HasToken {
		if name, err := m.store.GetCredential(ctx, credUsername); err == nil {
			st.Username = name
		}
		if raw, err := m.store.GetCredential(ctx, credExpiry); err == nil && raw != "" {
			if expiry, perr := time.Parse(time.RFC3339, raw); perr == nil {
				st.ExpiresAt = expiry
			}
		}
	}
	return st, nil
}

// refresh performs a refresh-token exchange and persists the new token
func (m *Manager) refresh(ctx context.Context) (string, error) {
	refreshToken, err := m.store.GetCredential(ctx, credRefreshToken)
	if err != nil {
		return "", fmt.Errorf("read refresh token: %w", err)
	}
	if refreshToken == "" {
		return "", ErrNotConfigured
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	tok, err := m.exchange(ctx, form)
	if err != nil {
		return "", err
	}
	if err := m.persistToken(ctx, tok); err != nil {
		return "", err
	}

	lgr.Printf("[DEBUG] reddit access token refreshed, expires in %ds", tok.ExpiresIn)
	return tok.AccessToken, nil
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	Error        string `json:"error"`
}

// exchange posts a token request with client credentials
func (m *Manager) exchange(ctx context.Context, form url.Values) (*tokenResponse, error) {
	if m.opts.ClientID == "" || m.opts.ClientSecret == "" {
		return nil, ErrNotConfigured
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.opts.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create token request: %w", err)
	}
	req.SetBasicAuth(m.opts.ClientID, m.opts.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", m.opts.UserAgent)

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token exchange: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return nil, fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: token endpoint status %d", ErrAuthFailure, resp.StatusCode)
	}

	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	if tok.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrAuthFailure, tok.Error)
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("%w: empty access token", ErrAuthFailure)
	}
	return &tok, nil
}

// persistToken stores the access token and its absolute expiry
func (m *Manager) persistToken(ctx context.Context, tok *tokenResponse) error {
	if err := m.store.SetCredential(ctx, credAccessToken, tok.AccessToken); err != nil {
		return fmt.Errorf("persist access token: %w", err)
	}
	expiry := m.now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	if err := m.store.SetCredential(ctx, credExpiry, expiry.Format(time.RFC3339)); err != nil {
		return fmt.Errorf("persist token expiry: %w", err)
	}
	return nil
}
