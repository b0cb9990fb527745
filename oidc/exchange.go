package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const maxTokenResponseBytes = 1 << 20

// TokenResponse is the provider's answer to a code exchange.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	IDToken      string `json:"id_token"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Exchanger redeems an authorization code at the provider's token endpoint.
type Exchanger interface {
	Exchange(ctx context.Context, code, codeVerifier string) (*TokenResponse, error)
}

// HTTPExchanger is the default Exchanger.
type HTTPExchanger struct {
	tokenURL     string
	clientID     string
	clientSecret string
	redirectURL  string
	client       *http.Client
}

// NewHTTPExchanger returns an Exchanger for cfg. A nil client gets cfg.HTTPTimeout.
func NewHTTPExchanger(cfg Config, client *http.Client) *HTTPExchanger {
	cfg = cfg.withDefaults()
	if client == nil {
		client = &http.Client{Timeout: cfg.HTTPTimeout}
	}
	return &HTTPExchanger{
		tokenURL:     cfg.TokenURL,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		redirectURL:  cfg.RedirectURL,
		client:       client,
	}
}

// Exchange posts the code and returns the decoded token response. Every failure,
// including a response without an ID token, wraps ErrTokenExchangeFailed.
func (e *HTTPExchanger) Exchange(ctx context.Context, code, codeVerifier string) (*TokenResponse, error) {
	data := url.Values{}
	data.Set("grant_type", "authorization_code")
	data.Set("code", code)
	data.Set("redirect_uri", e.redirectURL)
	data.Set("client_id", e.clientID)
	if e.clientSecret != "" {
		data.Set("client_secret", e.clientSecret)
	}
	if codeVerifier != "" {
		data.Set("code_verifier", codeVerifier)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%w: build token request: %v", ErrTokenExchangeFailed, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: token request: %v", ErrTokenExchangeFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read token response: %v", ErrTokenExchangeFailed, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status=%d", ErrTokenExchangeFailed, resp.StatusCode)
	}

	var tokens TokenResponse
	if err := json.Unmarshal(body, &tokens); err != nil {
		return nil, fmt.Errorf("%w: decode token response: %v", ErrTokenExchangeFailed, err)
	}
	if tokens.IDToken == "" {
		return nil, fmt.Errorf("%w: response carried no id_token", ErrTokenExchangeFailed)
	}
	return &tokens, nil
}
