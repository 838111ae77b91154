package rtauth

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	internalaudit "github.com/greensec/rtauth/internal/audit"
	"github.com/greensec/rtauth/internal/flows"
	"github.com/greensec/rtauth/internal/rate"
	"github.com/greensec/rtauth/jwt"
	"github.com/greensec/rtauth/mfa"
	"github.com/greensec/rtauth/password"
	"github.com/greensec/rtauth/session"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an [Engine]. Configure it during initialization, call
// Build once, then discard it.
type Builder struct {
	config Config
	store  session.KV
	redis  redis.UniversalClient

	userProvider UserProvider
	passwords    PasswordChecker
	auditSink    AuditSink
	logger       *slog.Logger
	codeCheck    mfa.CodeCheck
	now          func() time.Time

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithStore sets the session store directly. It takes precedence over
// WithRedis.
func (b *Builder) WithStore(store session.KV) *Builder {
	b.store = store
	return b
}

// WithRedis backs the session store with a Redis client (single node,
// cluster or sentinel).
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithUserProvider(up UserProvider) *Builder {
	b.userProvider = up
	return b
}

// WithPasswordChecker overrides the default bcrypt/argon2id checker.
func (b *Builder) WithPasswordChecker(pc PasswordChecker) *Builder {
	b.passwords = pc
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithSecondFactorCheck replaces the TOTP code check.
func (b *Builder) WithSecondFactorCheck(check mfa.CodeCheck) *Builder {
	b.codeCheck = check
	return b
}

// WithClock overrides the time source for token issuance, verification and
// revocation lifetimes.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires every component. A Builder
// can only be built once.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// -------- SESSION STORE --------
	store := b.store
	if store == nil {
		if b.redis == nil {
			return nil, errors.New("session store or redis client required")
		}
		store = session.NewStore(b.redis)
	}

	now := b.now
	if now == nil {
		now = time.Now
	}

	// -------- SIGNER --------
	signer, err := jwt.NewManager(jwt.Config{
		AccessKey:  cloneBytes(cfg.JWT.AccessKey),
		RefreshKey: cloneBytes(cfg.JWT.RefreshKey),
		Issuer:     cfg.JWT.Issuer,
		Leeway:     cfg.JWT.Leeway,
	}, jwt.WithClock(now))
	if err != nil {
		return nil, fmt.Errorf("signer: %w", err)
	}

	// -------- SECOND FACTOR --------
	verifier, err := mfa.NewVerifier(mfa.Config{
		Issuer:    cfg.SecondFactor.Issuer,
		Period:    cfg.SecondFactor.Period,
		Digits:    cfg.SecondFactor.Digits,
		Skew:      cfg.SecondFactor.Skew,
		Algorithm: cfg.SecondFactor.Algorithm,
	}, mfa.WithCodeCheck(b.codeCheck), mfa.WithClock(now))
	if err != nil {
		return nil, fmt.Errorf("second factor: %w", err)
	}

	passwords := b.passwords
	if passwords == nil {
		passwords = password.NewChecker()
	}

	var throttle *rate.Limiter
	if cfg.Throttle.Enabled && b.redis != nil {
		throttle = rate.New(b.redis, "RL("+cfg.Namespace+"):", rate.Config{
			MaxAttempts: cfg.Throttle.MaxAttempts,
			Window:      cfg.Throttle.Window,
			PerAddress:  cfg.Throttle.PerAddress,
		})
	}

	logger := b.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	engine := &Engine{
		config: cfg,
		signer: signer,
		deps: &flows.Deps{
			Signer:           signer,
			Store:            store,
			Namespace:        cfg.Namespace,
			RevocationPrefix: cfg.RevocationPrefix,
			AccessTTL:        cfg.JWT.AccessTTL,
			RefreshTTL:       cfg.JWT.RefreshTTL,
			Now:              now,
		},
		userProvider: b.userProvider,
		passwords:    passwords,
		secondFactor: verifier,
		throttle:     throttle,
		audit: internalaudit.NewDispatcher(internalaudit.Config{
			Enabled:    cfg.Audit.Enabled,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
			Logger:     logger.With("component", "rtauth.audit"),
		}, b.auditSink),
		metrics: NewMetrics(cfg.Metrics),
		logger:  logger.With("component", "rtauth"),
		now:     now,
	}

	for _, w := range cfg.Lint() {
		engine.logger.Debug("config lint", "code", w.Code, "message", w.Message)
	}

	b.built = true
	return engine, nil
}
