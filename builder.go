package authcore

import (
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/MrEthical07/authcore/identity"
	internalaudit "github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/internal/flows"
	"github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/internal/seal"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/notify"
	"github.com/MrEthical07/authcore/oidc"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/session"
	"github.com/MrEthical07/authcore/store/memstore"
	"github.com/MrEthical07/authcore/store/redisstore"
	"github.com/MrEthical07/authcore/tokencodec"
)

// Builder assembles an Engine. Configure it once, call Build, then discard it.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	store      identity.Store
	states     oidc.StateStore
	keys       oidc.KeyResolver
	exchanger  oidc.Exchanger
	httpClient *http.Client
	notifier   notify.Channel
	logger     *zap.Logger
	auditSink  AuditSink
	clock      func() time.Time

	built bool
}

// New returns a Builder holding DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the Redis client. Without an explicit identity or state store,
// Redis backs both. The login throttle requires it.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithIdentityStore sets the identity store. Defaults to Redis when a client is
// set, otherwise to an in-memory store.
func (b *Builder) WithIdentityStore(store identity.Store) *Builder {
	b.store = store
	return b
}

// WithStateStore sets where federation exchange state is kept.
func (b *Builder) WithStateStore(states oidc.StateStore) *Builder {
	b.states = states
	return b
}

// WithKeyResolver replaces the provider key set cache, typically with oidc.StaticKeys in tests.
func (b *Builder) WithKeyResolver(keys oidc.KeyResolver) *Builder {
	b.keys = keys
	return b
}

// WithTokenExchanger replaces the provider code exchange.
func (b *Builder) WithTokenExchanger(exchanger oidc.Exchanger) *Builder {
	b.exchanger = exchanger
	return b
}

// WithHTTPClient sets the client used for provider calls.
func (b *Builder) WithHTTPClient(client *http.Client) *Builder {
	b.httpClient = client
	return b
}

// WithNotifier sets the mail channel. Defaults to logging mail through the engine logger.
func (b *Builder) WithNotifier(ch notify.Channel) *Builder {
	b.notifier = ch
	return b
}

// WithLogger sets the logger. Defaults to zap.NewNop.
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithAuditSink sets the audit sink and enables auditing.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	b.config.Audit.Enabled = sink != nil
	return b
}

// WithMetricsEnabled toggles in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the ValidateAccess latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// WithClock overrides the time source for every token and proof expiry.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.clock = now
	return b
}

// Build validates the configuration and wires the Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.RateLimit.Enabled && b.redis == nil {
		return nil, errors.New("RateLimit requires redis client")
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := b.clock
	if now == nil {
		now = time.Now
	}

	// -------- TOKEN CODEC --------
	codec, err := tokencodec.New(tokencodec.Config{
		Kinds: map[tokencodec.Kind]tokencodec.KindConfig{
			tokencodec.KindEmailVerification: codecKind(cfg.Codec, tokencodec.KindEmailVerification, cfg.EmailVerification.TTL),
			tokencodec.KindPasswordReset:     codecKind(cfg.Codec, tokencodec.KindPasswordReset, cfg.PasswordReset.TTL),
			tokencodec.KindRefresh:           codecKind(cfg.Codec, tokencodec.KindRefresh, cfg.JWT.RefreshTTL),
		},
		Now: now,
	})
	if err != nil {
		return nil, err
	}

	// -------- SESSION TOKENS --------
	jwtManager, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		RefreshTTL:    cfg.JWT.RefreshTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cfg.JWT.PrivateKey,
		PublicKey:     cfg.JWT.PublicKey,
		RefreshSecret: cfg.JWT.RefreshSecret,
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		KeyID:         cfg.JWT.KeyID,
		Now:           now,
	})
	if err != nil {
		return nil, err
	}
	issuer, err := session.NewIssuer(jwtManager, codec)
	if err != nil {
		return nil, err
	}

	// -------- PASSWORDS --------
	passwords, err := password.New(password.Config{
		Algorithm:  password.Algorithm(cfg.Password.Algorithm),
		BcryptCost: cfg.Password.BcryptCost,
		Argon2: password.Argon2Config{
			Memory:      cfg.Password.Memory,
			Time:        cfg.Password.Time,
			Parallelism: cfg.Password.Parallelism,
			SaltLength:  cfg.Password.SaltLength,
			KeyLength:   cfg.Password.KeyLength,
		},
	})
	if err != nil {
		return nil, err
	}

	// -------- IDENTITY STORE --------
	store := b.store
	if store == nil {
		if b.redis != nil {
			store = redisstore.New(b.redis, "")
		} else {
			store = memstore.New()
		}
	}

	e := &Engine{
		config:    cfg,
		store:     store,
		passwords: passwords,
		codec:     codec,
		tokens:    issuer,
		notifier:  b.notifier,
		metrics:   NewMetrics(cfg.Metrics),
		logger:    logger.Named("authcore"),
		now:       now,
		newID:     uuid.NewString,
	}
	if e.notifier == nil {
		e.notifier = notify.NewLogChannel(logger)
	}

	// -------- RATE LIMITER --------
	if cfg.RateLimit.Enabled {
		e.limiter = rate.New(b.redis, rate.Config{
			EnableIPThrottle: cfg.RateLimit.EnableIPThrottle,
			MaxLoginAttempts: cfg.RateLimit.MaxLoginAttempts,
			LoginCooldown:    cfg.RateLimit.LoginCooldown,
			KeyPrefix:        cfg.RateLimit.RedisPrefix,
		})
	}

	// -------- FEDERATION --------
	if cfg.Federation.Enabled {
		states := b.states
		if states == nil {
			if b.redis != nil {
				states = redisstore.NewStateStore(b.redis, "")
			} else {
				states = oidc.NewMemoryStateStore(now)
			}
		}
		opts := []oidc.Option{oidc.WithLogger(logger), oidc.WithClock(now)}
		if b.httpClient != nil {
			opts = append(opts, oidc.WithHTTPClient(b.httpClient))
		}
		if b.exchanger != nil {
			opts = append(opts, oidc.WithExchanger(b.exchanger))
		}
		flow, err := oidc.NewFlow(cfg.Federation.Provider, states, b.keys, opts...)
		if err != nil {
			return nil, err
		}
		e.federation = flow

		if len(cfg.Federation.SealKey) > 0 {
			sealer, err := seal.New(cfg.Federation.SealKey)
			if err != nil {
				return nil, err
			}
			e.sealer = sealer
		}
	}

	// -------- AUDIT --------
	if cfg.Audit.Enabled {
		sink := b.auditSink
		if sink == nil {
			sink = internalaudit.NewLoggerSink(logger)
		}
		e.audit = internalaudit.NewDispatcher(internalaudit.Config{
			Enabled:    true,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
		}, sink)
	}

	e.flows = e.buildFlowDeps()

	b.built = true
	return e, nil
}

func (e *Engine) buildFlowDeps() flows.Deps {
	sessionDeps := flows.SessionDeps{
		Store:       e.store,
		Tokens:      e.tokens,
		DefaultRole: e.config.Account.DefaultRole,
		Now:         e.now,
	}
	loginDeps := flows.LoginDeps{
		Session:              sessionDeps,
		Passwords:            e.passwords,
		RateLimited:          rate.ErrRateLimited,
		RequireVerifiedEmail: e.config.Account.RequireVerifiedEmail,
		UpgradeHashOnLogin:   e.config.Password.UpgradeOnLogin,
		ClientIPFromContext:  clientIPFromContext,
		Warn:                 e.logger.Sugar().Warnw,
	}
	if e.limiter != nil {
		loginDeps.Limiter = e.limiter
	}

	return flows.Deps{
		Session: sessionDeps,
		Login:   loginDeps,
		Proof: flows.ProofDeps{
			Store: e.store,
			Codec: e.codec,
			Now:   e.now,
		},
		Link: flows.LinkDeps{
			Store:                e.store,
			NewID:                e.newID,
			DefaultRole:          e.config.Account.DefaultRole,
			RequireVerifiedEmail: e.config.Account.RequireVerifiedEmail,
			Now:                  e.now,
		},
	}
}

// codecKind derives an independent hmac key per kind.
func codecKind(cfg CodecConfig, kind tokencodec.Kind, ttl time.Duration) tokencodec.KindConfig {
	kc := tokencodec.KindConfig{
		Strategy:   tokencodec.Strategy(cfg.Strategy),
		TTL:        ttl,
		ValueBytes: cfg.ValueBytes,
	}
	if kc.Strategy == tokencodec.StrategyHMACSHA256 {
		mac := hmac.New(sha256.New, cfg.Secret)
		_, _ = fmt.Fprintf(mac, "authcore/%s", kind)
		kc.Secret = mac.Sum(nil)
	}
	return kc
}
