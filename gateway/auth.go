package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	log "github.com/sachindeshpande/faers-sub002/chassis/logging"

	"github.com/sachindeshpande/faers-sub002/chassis/config"
	"github.com/sachindeshpande/faers-sub002/chassis/metrics"
)

const (
	requestTimeout = 30 * time.Second
	refreshMargin  = 60 * time.Second
)

// AccessToken - replaced wholesale on refresh, never mutated in place.
type AccessToken struct {
	Value       string
	TokenType   string
	ExpiresAt   time.Time
	Environment string
}

// AuthManager obtains and caches one client-credentials token for the
// active environment. No retry logic lives here; retrying is the
// caller's responsibility.
type AuthManager struct {
	mu     sync.Mutex
	client *http.Client
	envs   map[string]config.Environment
	token  *AccessToken
	now    func() time.Time
}

// NewAuthManager ...
func NewAuthManager(envs []config.Environment) *AuthManager {
	byName := make(map[string]config.Environment, len(envs))
	for _, env := range envs {
		byName[env.Name] = env
	}
	return &AuthManager{
		client: &http.Client{Timeout: requestTimeout},
		envs:   byName,
		now:    time.Now,
	}
}

// Token returns the cached token when still valid for the environment,
// refreshing otherwise. The read-refresh-swap sequence is guarded so
// concurrent callers never trigger redundant refreshes.
func (m *AuthManager) Token(ctx context.Context, environment string) (*AccessToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.valid(environment) {
		return m.token, nil
	}
	token, err := m.refresh(ctx, environment)
	if err != nil {
		return nil, err
	}
	m.token = token
	return token, nil
}

func (m *AuthManager) valid(environment string) bool {
	if m.token == nil || m.token.Environment != environment {
		return false
	}
	return m.now().Before(m.token.ExpiresAt.Add(-refreshMargin))
}

func (m *AuthManager) refresh(ctx context.Context, environment string) (*AccessToken, error) {
	env, ok := m.envs[environment]
	if !ok {
		return nil, &APIError{
			Category: CategoryAuthentication,
			Message:  fmt.Sprintf("no credentials configured for environment %q", environment),
		}
	}
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", env.ClientID)
	form.Set("client_secret", env.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, env.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &APIError{Category: CategoryUnknown, Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	metrics.TokenRefreshes.Inc()
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, &APIError{Category: CategoryNetwork, Message: err.Error()}
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		category := Classify(resp.StatusCode)
		if resp.StatusCode == 401 || resp.StatusCode == 403 {
			category = CategoryAuthentication
		}
		return nil, &APIError{
			Category:   category,
			HTTPStatus: resp.StatusCode,
			Message:    parseMessage(body, "token request rejected"),
		}
	}

	var grant struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &grant); err != nil || grant.AccessToken == "" {
		return nil, &APIError{
			Category:   CategoryUnknown,
			HTTPStatus: resp.StatusCode,
			Message:    parseMessage(body, "malformed token response"),
		}
	}
	log.WithFields(log.Fields{
		"event":       "token_refreshed",
		"environment": environment,
	}).Debug("access token refreshed")
	return &AccessToken{
		Value:       grant.AccessToken,
		TokenType:   grant.TokenType,
		ExpiresAt:   m.now().Add(time.Duration(grant.ExpiresIn) * time.Second),
		Environment: environment,
	}, nil
}
