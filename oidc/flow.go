package oidc

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/MrEthical07/authcore/internal"
)

const (
	stateBytes    = 32
	nonceBytes    = 32
	verifierBytes = 32
)

// Authorization is returned by Start. The caller redirects to URL and hands State
// and Nonce to the browser as cookies living MaxAge.
type Authorization struct {
	URL    string
	State  string
	Nonce  string
	MaxAge time.Duration
}

// CallbackRequest is what the provider redirect and the browser cookies carry.
type CallbackRequest struct {
	Code          string
	State         string
	CookieState   string
	CookieNonce   string
	ProviderError string
}

// Result is a verified federation callback.
type Result struct {
	Provider string
	Claims   *IDTokenClaims
	Tokens   *TokenResponse
}

// Flow drives the authorization-code federation for one provider.
type Flow struct {
	cfg       Config
	states    StateStore
	exchanger Exchanger
	verifier  *Verifier
	logger    *zap.Logger
	now       func() time.Time
}

// Option customizes a Flow.
type Option func(*flowOptions)

type flowOptions struct {
	exchanger Exchanger
	client    *http.Client
	logger    *zap.Logger
	now       func() time.Time
}

// WithExchanger replaces the HTTP code exchange.
func WithExchanger(e Exchanger) Option {
	return func(o *flowOptions) { o.exchanger = e }
}

// WithHTTPClient sets the client for code exchange and key set fetches.
func WithHTTPClient(client *http.Client) Option {
	return func(o *flowOptions) { o.client = client }
}

// WithLogger sets the flow logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *flowOptions) { o.logger = logger }
}

// WithClock overrides the clock used for token and state expiry.
func WithClock(now func() time.Time) Option {
	return func(o *flowOptions) { o.now = now }
}

// NewFlow validates cfg and wires a Flow. A nil keys resolver gets a JWKSCache
// for cfg.JWKSURL.
func NewFlow(cfg Config, states StateStore, keys KeyResolver, opts ...Option) (*Flow, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	if states == nil {
		return nil, fmt.Errorf("%w: state store is required", ErrInvalidConfig)
	}

	o := flowOptions{logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.now == nil {
		o.now = time.Now
	}
	client := o.client
	if client == nil {
		client = &http.Client{Timeout: cfg.HTTPTimeout}
	}

	if keys == nil {
		if cfg.JWKSURL == "" {
			return nil, fmt.Errorf("%w: jwks url or key resolver is required", ErrInvalidConfig)
		}
		keys = NewJWKSCache(cfg.JWKSURL,
			WithJWKSHTTPClient(client),
			WithJWKSTTL(cfg.JWKSCacheTTL),
			WithJWKSRefetchLimit(cfg.JWKSRequestsPerMinute),
			WithJWKSLogger(o.logger),
			WithJWKSClock(o.now),
		)
	}
	exchanger := o.exchanger
	if exchanger == nil {
		exchanger = NewHTTPExchanger(cfg, client)
	}

	return &Flow{
		cfg:       cfg,
		states:    states,
		exchanger: exchanger,
		verifier:  NewVerifier(cfg.ClientID, cfg.Issuers, keys, cfg.Leeway, o.now),
		logger:    o.logger.Named("oidc").With(zap.String("provider", cfg.ProviderName)),
		now:       o.now,
	}, nil
}

// Provider returns the configured provider name.
func (f *Flow) Provider() string { return f.cfg.ProviderName }

// StateTTL returns how long a started flow stays redeemable.
func (f *Flow) StateTTL() time.Duration { return f.cfg.StateTTL }

// Start creates and persists a fresh exchange state and returns the provider
// authorization URL carrying it.
func (f *Flow) Start(ctx context.Context) (Authorization, error) {
	st := ExchangeState{CreatedAt: f.now()}
	var err error
	if st.State, err = internal.RandomToken(stateBytes); err != nil {
		return Authorization{}, fmt.Errorf("oidc: generate state: %w", err)
	}
	if st.Nonce, err = internal.RandomToken(nonceBytes); err != nil {
		return Authorization{}, fmt.Errorf("oidc: generate nonce: %w", err)
	}
	if f.cfg.UsePKCE {
		if st.CodeVerifier, err = internal.RandomToken(verifierBytes); err != nil {
			return Authorization{}, fmt.Errorf("oidc: generate code verifier: %w", err)
		}
	}

	authURL, err := f.authorizationURL(st)
	if err != nil {
		return Authorization{}, err
	}
	if err := f.states.Save(ctx, st, f.cfg.StateTTL); err != nil {
		return Authorization{}, fmt.Errorf("oidc: save state: %w", err)
	}

	return Authorization{
		URL:    authURL,
		State:  st.State,
		Nonce:  st.Nonce,
		MaxAge: f.cfg.StateTTL,
	}, nil
}

// Callback completes a federation attempt.
//
// The stored state is taken out of the store first and is gone whatever happens
// next. A state mismatch fails with ErrInvalidState before any provider call.
func (f *Flow) Callback(ctx context.Context, req CallbackRequest) (*Result, error) {
	if req.CookieState == "" {
		return nil, fmt.Errorf("%w: missing state cookie", ErrInvalidState)
	}
	st, err := f.states.Take(ctx, req.CookieState)
	if err != nil {
		if errors.Is(err, ErrStateNotFound) {
			return nil, fmt.Errorf("%w: unknown or expired state", ErrInvalidState)
		}
		return nil, fmt.Errorf("oidc: take state: %w", err)
	}
	if req.State == "" || !equal(req.State, st.State) {
		return nil, fmt.Errorf("%w: state does not match", ErrInvalidState)
	}
	if req.CookieNonce != "" && !equal(req.CookieNonce, st.Nonce) {
		return nil, fmt.Errorf("%w: nonce cookie does not match", ErrNonceMismatch)
	}

	if req.ProviderError != "" {
		return nil, fmt.Errorf("%w: provider returned %q", ErrTokenExchangeFailed, req.ProviderError)
	}
	if strings.TrimSpace(req.Code) == "" {
		return nil, fmt.Errorf("%w: missing code", ErrTokenExchangeFailed)
	}

	tokens, err := f.exchanger.Exchange(ctx, req.Code, st.CodeVerifier)
	if err != nil {
		f.logger.Warn("code exchange failed", zap.Error(err))
		if errors.Is(err, ErrTokenExchangeFailed) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenExchangeFailed, err)
	}
	if tokens == nil || tokens.IDToken == "" {
		return nil, fmt.Errorf("%w: response carried no id_token", ErrTokenExchangeFailed)
	}

	claims, err := f.verifier.Verify(ctx, tokens.IDToken)
	if err != nil {
		f.logger.Warn("id token rejected", zap.Error(err))
		return nil, err
	}
	if claims.Nonce == "" || !equal(claims.Nonce, st.Nonce) {
		return nil, fmt.Errorf("%w: id token nonce does not match", ErrNonceMismatch)
	}

	return &Result{Provider: f.cfg.ProviderName, Claims: claims, Tokens: tokens}, nil
}

func (f *Flow) authorizationURL(st ExchangeState) (string, error) {
	u, err := url.Parse(f.cfg.AuthURL)
	if err != nil {
		return "", fmt.Errorf("%w: auth url: %v", ErrInvalidConfig, err)
	}
	q := u.Query()
	for k, v := range f.cfg.ExtraAuthParams {
		q.Set(k, v)
	}
	q.Set("response_type", "code")
	q.Set("client_id", f.cfg.ClientID)
	q.Set("redirect_uri", f.cfg.RedirectURL)
	q.Set("scope", strings.Join(f.cfg.Scopes, " "))
	q.Set("state", st.State)
	q.Set("nonce", st.Nonce)
	if st.CodeVerifier != "" {
		q.Set("code_challenge", codeChallenge(st.CodeVerifier))
		q.Set("code_challenge_method", "S256")
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func codeChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
