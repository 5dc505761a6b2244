package dataverse

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vantera-data/dataverse-sync/pkg/apperrors"
)

const (
	defaultLoginBase = "https://login.microsoftonline.com"

	discoveryTimeout = 10 * time.Second
	tokenTimeout     = 30 * time.Second

	// renewalWindow is how close to expiry a cached token may get before
	// Token acquires a fresh one.
	renewalWindow = time.Minute
)

// tenantPattern extracts the tenant GUID from the authorization_uri of a
// WWW-Authenticate challenge, e.g.
// Bearer authorization_uri="https://login.microsoftonline.com/<guid>/oauth2/authorize".
var tenantPattern = regexp.MustCompile(`(?i)authorization_uri="[^"]*?/([0-9a-f\-]{36})/oauth2`)

// TokenSource acquires access tokens for the Dataverse Web API using the
// client-credentials grant. The tenant is discovered from the API's own
// WWW-Authenticate challenge, so only the API URL and app credentials need
// configuring. Tokens are cached and renewed shortly before expiry.
type TokenSource struct {
	apiURL       string
	clientID     string
	clientSecret string
	scope        string
	logger       *zap.Logger

	httpClient *http.Client
	loginBase  string

	mu       sync.Mutex
	tenantID string
	token    string
	expiry   time.Time
}

// NewTokenSource creates a token source for the given Dataverse environment.
func NewTokenSource(apiURL, clientID, clientSecret, scope string, logger *zap.Logger) *TokenSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenSource{
		apiURL:       apiURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		scope:        scope,
		logger:       logger,
		httpClient:   &http.Client{},
		loginBase:    defaultLoginBase,
	}
}

// Token returns a valid access token, reusing the cached one until it
// enters the renewal window.
func (ts *TokenSource) Token(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.token != "" && (ts.expiry.IsZero() || time.Until(ts.expiry) > renewalWindow) {
		return ts.token, nil
	}

	if ts.token != "" {
		ts.logger.Info("Access token near expiry, renewing",
			zap.Time("expiry", ts.expiry))
	}
	return ts.authenticateLocked(ctx)
}

// Invalidate drops the cached token so the next Token call re-authenticates.
// The client calls this after a 401.
func (ts *TokenSource) Invalidate() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.token = ""
	ts.expiry = time.Time{}
}

func (ts *TokenSource) authenticateLocked(ctx context.Context) (string, error) {
	if ts.tenantID == "" {
		tenant, err := ts.discoverTenant(ctx)
		if err != nil {
			return "", err
		}
		ts.tenantID = tenant
		ts.logger.Info("Discovered tenant", zap.String("tenant_id", tenant))
	}

	token, err := ts.requestToken(ctx)
	if err != nil {
		return "", err
	}

	ts.token = token
	ts.expiry = tokenExpiry(token)
	if !ts.expiry.IsZero() {
		ts.logger.Debug("Acquired access token", zap.Time("expiry", ts.expiry))
	}
	return token, nil
}

// discoverTenant makes an unauthenticated request to the API and extracts
// the tenant GUID from the WWW-Authenticate challenge header.
func (ts *TokenSource) discoverTenant(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, discoveryTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.apiURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build discovery request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := ts.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to discover tenant: %w", err)
	}
	defer resp.Body.Close()

	challenge := resp.Header.Get("WWW-Authenticate")
	if challenge == "" {
		return "", fmt.Errorf("%w: no WWW-Authenticate header in response", apperrors.ErrAuth)
	}

	match := tenantPattern.FindStringSubmatch(challenge)
	if match == nil {
		return "", fmt.Errorf("%w: could not extract tenant ID from WWW-Authenticate header: %s", apperrors.ErrAuth, challenge)
	}

	tenant := match[1]
	if _, err := uuid.Parse(tenant); err != nil {
		return "", fmt.Errorf("%w: discovered tenant ID %q is not a GUID", apperrors.ErrAuth, tenant)
	}
	return tenant, nil
}

// requestToken performs the client-credentials token request against the
// Microsoft identity platform.
func (ts *TokenSource) requestToken(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, tokenTimeout)
	defer cancel()

	form := url.Values{
		"client_id":     {ts.clientID},
		"client_secret": {ts.clientSecret},
		"scope":         {ts.scope},
		"grant_type":    {"client_credentials"},
	}
	tokenURL := fmt.Sprintf("%s/%s/oauth2/v2.0/token", ts.loginBase, ts.tenantID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := ts.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("authentication failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("%w: token request failed with status %d: %s", apperrors.ErrAuth, resp.StatusCode, string(body))
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return "", fmt.Errorf("%w: no access_token in authentication response", apperrors.ErrAuth)
	}
	return tokenResp.AccessToken, nil
}

// tokenExpiry reads the exp claim without verifying the signature; the
// claim only schedules renewal. Returns the zero time for opaque tokens.
func tokenExpiry(token string) time.Time {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	claims := &jwt.RegisteredClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}
