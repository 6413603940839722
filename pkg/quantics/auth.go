package quantics

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/strataquant/strata/internal/observability"
	"github.com/strataquant/strata/internal/tracing"
)

const defaultTimeout = 30 * time.Second

// loginPath is the authentication endpoint on the Quantics service.
const loginPath = "/api/login"

// CredentialCache holds the process-wide Quantics session. Logins are
// lazy: the first caller that needs a token performs the exchange while
// holding the lock, and concurrent callers wait and share its result.
type CredentialCache struct {
	client *resty.Client
	logger zerolog.Logger

	mu       sync.Mutex
	username string
	password string
	session  *AuthSession
}

// NewCredentialCache creates a credential cache for the given service.
// No login happens until the first Token call.
func NewCredentialCache(cfg Config) *CredentialCache {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	client := resty.New()
	client.SetBaseURL(cfg.BaseURL)
	client.SetTimeout(timeout)

	return &CredentialCache{
		client:   client,
		logger:   cfg.Logger,
		username: cfg.Username,
		password: cfg.Password,
	}
}

// Token returns the cached session, logging in first when none is held.
func (c *CredentialCache) Token(ctx context.Context) (*AuthSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil {
		return c.session, nil
	}

	session, err := c.login(ctx)
	if err != nil {
		return nil, err
	}

	c.session = session
	return session, nil
}

// Invalidate discards the cached session. The next Token call performs
// a fresh login.
func (c *CredentialCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = nil
}

// InvalidateToken discards the cached session only when it still carries
// the given token. When several calls hit an expired session at once the
// first one clears it; the rest see the replacement login and keep it.
func (c *CredentialCache) InvalidateToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil && c.session.Token == token {
		c.session = nil
	}
}

// SetCredentials replaces the login pair and discards any session
// obtained with the old one.
func (c *CredentialCache) SetCredentials(username, password string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.username = username
	c.password = password
	c.session = nil
}

// HasSession reports whether a session is currently cached.
func (c *CredentialCache) HasSession() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session != nil
}

// login performs the credential exchange. Callers must hold c.mu.
func (c *CredentialCache) login(ctx context.Context) (*AuthSession, error) {
	ctx, span := tracing.StartSpan(ctx, "strata.quantics", "quantics.login")
	defer span.End()

	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"username": c.username,
			"password": c.password,
		}).
		Post(loginPath)
	if err != nil {
		observability.RecordLogin(false)
		return nil, &AuthError{Message: err.Error()}
	}

	if resp.StatusCode() != http.StatusOK {
		observability.RecordLogin(false)
		c.logger.Warn().Int("status", resp.StatusCode()).Msg("Login rejected")
		return nil, &AuthError{Status: resp.StatusCode(), Message: "login rejected"}
	}

	var body struct {
		UserID string `json:"user_id"`
		Token  string `json:"token"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		observability.RecordLogin(false)
		return nil, &AuthError{Message: "malformed login response"}
	}
	if body.Token == "" {
		observability.RecordLogin(false)
		return nil, &AuthError{Message: "login response missing token"}
	}

	observability.RecordLogin(true)
	c.logger.Info().Str("user_id", body.UserID).Msg("Logged in to Quantics")

	return &AuthSession{
		UserID:     body.UserID,
		Token:      body.Token,
		ObtainedAt: time.Now(),
	}, nil
}
