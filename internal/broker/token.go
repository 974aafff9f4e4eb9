package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	// expiryMargin treats a token as expired this long before the broker does.
	expiryMargin    = 60 * time.Second
	defaultTokenTTL = 24 * time.Hour
	tokenPath       = "/oauth2/token"
)

// Keys is the app key pair issued by the broker.
type Keys struct {
	AppKey    string
	SecretKey string
}

// CredentialStore reads the saved keys. It returns nil, nil when none are saved.
type CredentialStore interface {
	BrokerKeys(ctx context.Context) (*Keys, error)
}

// Token is a cached access token.
type Token struct {
	Value    string
	IssuedAt time.Time
	TTL      time.Duration
}

// Expired reports whether the token is inside the safety margin of its lifetime.
func (t *Token) Expired(now time.Time) bool {
	return now.After(t.IssuedAt.Add(t.TTL - expiryMargin))
}

type tokenRequest struct {
	GrantType string `json:"grant_type"`
	AppKey    string `json:"appkey"`
	SecretKey string `json:"secretkey"`
}

type tokenResponse struct {
	Token       string  `json:"token"`
	AccessToken string  `json:"access_token"`
	ExpiresIn   flexInt `json:"expires_in"`
	ExpiresDt   string  `json:"expires_dt"`
	ReturnCode  flexInt `json:"return_code"`
	ReturnMsg   string  `json:"return_msg"`
}

// TokenManager owns the access token. No other component knows how it is refreshed.
type TokenManager struct {
	mu         sync.Mutex
	baseURL    string
	httpClient *http.Client
	creds      CredentialStore
	now        func() time.Time
	loc        *time.Location
	token      *Token

	// OnRefresh is called after every successful network refresh.
	OnRefresh func()
}

// NewTokenManager creates a token manager reading keys from creds.
func NewTokenManager(baseURL string, httpClient *http.Client, creds CredentialStore, now func() time.Time, loc *time.Location) *TokenManager {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if now == nil {
		now = time.Now
	}
	if loc == nil {
		loc = time.Local
	}
	return &TokenManager{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		creds:      creds,
		now:        now,
		loc:        loc,
	}
}

// AccessToken returns the cached token, fetching a new one when there is
// none, it is expired, or forceRefresh is set.
func (m *TokenManager) AccessToken(ctx context.Context, forceRefresh bool) (string, error) {
	keys, err := m.creds.BrokerKeys(ctx)
	if err != nil {
		return "", &AuthError{Reason: ReasonKeysMissing, Err: err}
	}
	if keys == nil || keys.AppKey == "" || keys.SecretKey == "" {
		return "", &AuthError{Reason: ReasonKeysMissing}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !forceRefresh && m.token != nil && !m.token.Expired(m.now()) {
		return m.token.Value, nil
	}

	token, err := m.fetch(ctx, keys)
	if err != nil {
		return "", err
	}
	m.token = token
	log.Printf("Broker access token acquired: %s...", prefix(token.Value, 10))

	if m.OnRefresh != nil {
		m.OnRefresh()
	}
	return token.Value, nil
}

func (m *TokenManager) fetch(ctx context.Context, keys *Keys) (*Token, error) {
	payload, err := json.Marshal(tokenRequest{
		GrantType: "client_credentials",
		AppKey:    keys.AppKey,
		SecretKey: keys.SecretKey,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+tokenPath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, &AuthError{Reason: ReasonRejected, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &AuthError{Reason: ReasonRejected, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &AuthError{Reason: ReasonRejected, Err: &HTTPError{StatusCode: resp.StatusCode, Body: body}}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, &AuthError{Reason: ReasonRejected, Err: fmt.Errorf("decode token response: %w", err)}
	}

	value := tr.Token
	if value == "" {
		value = tr.AccessToken
	}
	if value == "" || value == "undefined" {
		return nil, &AuthError{Reason: ReasonRejected, Err: fmt.Errorf("%s", strings.TrimSpace(tr.ReturnMsg))}
	}

	issued := m.now()
	return &Token{Value: value, IssuedAt: issued, TTL: m.ttl(tr, issued)}, nil
}

// ttl prefers expires_in seconds and falls back to the absolute expires_dt
// (yyyyMMddHHmmss, exchange local time).
func (m *TokenManager) ttl(tr tokenResponse, issued time.Time) time.Duration {
	if tr.ExpiresIn > 0 {
		return time.Duration(tr.ExpiresIn) * time.Second
	}
	if tr.ExpiresDt != "" {
		if at, err := time.ParseInLocation("20060102150405", tr.ExpiresDt, m.loc); err == nil && at.After(issued) {
			return at.Sub(issued)
		}
	}
	return defaultTokenTTL
}

// Clear drops the cached token.
func (m *TokenManager) Clear() {
	m.mu.Lock()
	m.token = nil
	m.mu.Unlock()
}

// Connected reports whether a non-expired token is cached.
func (m *TokenManager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token != nil && !m.token.Expired(m.now())
}

func prefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
