package core

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// Manager wires the credential lifecycle and the classify gateway around one
// shared store.
type Manager struct {
	store       Store
	issuer      *Issuer
	validator   *Validator
	gateway     *Gateway
	reaper      *Reaper
	now         func() time.Time
	rateLimiter RateLimiter
	rateLimit   int
	rateWindow  time.Duration
	metrics     *Metrics
	logger      *slog.Logger
	closer      io.Closer
}

type Config struct {
	Store            Store
	Classifier       Classifier
	UploadDir        string
	ExpirationWindow time.Duration
	StrictExpiry     bool
	ClassifyTimeout  time.Duration
	RateLimiter      RateLimiter
	RateLimit        int
	RateWindow       time.Duration
	Now              func() time.Time
	Logger           *slog.Logger
	Metrics          *Metrics
}

func NewManager(cfg Config) (*Manager, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	nowFn := cfg.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	window := cfg.ExpirationWindow
	if window <= 0 {
		window = DefaultExpirationWindow
	}

	validator := NewValidator(cfg.Store, window, cfg.StrictExpiry, nowFn)
	gateway, err := NewGateway(GatewayConfig{
		Validator:  validator,
		Classifier: cfg.Classifier,
		UploadDir:  cfg.UploadDir,
		Timeout:    cfg.ClassifyTimeout,
		Logger:     logger,
		Metrics:    cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}

	return &Manager{
		store:       cfg.Store,
		issuer:      NewIssuer(cfg.Store, nowFn),
		validator:   validator,
		gateway:     gateway,
		reaper:      NewReaper(cfg.Store, window, logger, cfg.Metrics),
		now:         nowFn,
		rateLimiter: cfg.RateLimiter,
		rateLimit:   cfg.RateLimit,
		rateWindow:  cfg.RateWindow,
		metrics:     cfg.Metrics,
		logger:      logger,
	}, nil
}

// Issue mints a credential for client, which is only used for rate limiting.
func (m *Manager) Issue(ctx context.Context, client string) (Credential, error) {
	if m.rateLimiter != nil && m.rateLimit > 0 {
		if err := m.rateLimiter.CheckAndIncrement(ctx, client, m.rateLimit, m.rateWindow); err != nil {
			m.metrics.issueFailed("rate_limited")
			return Credential{}, err
		}
	}

	c, err := m.issuer.Issue(ctx)
	if err != nil {
		m.metrics.issueFailed("storage")
		m.logger.Error("credential issue failed", "err", err)
		return Credential{}, err
	}
	m.metrics.credentialIssued()
	return c, nil
}

func (m *Manager) IsValid(ctx context.Context, id string) (bool, error) {
	return m.validator.IsValid(ctx, id)
}

func (m *Manager) Authorize(ctx context.Context, credentialID string) error {
	return m.gateway.Authorize(ctx, credentialID)
}

func (m *Manager) Classify(ctx context.Context, req ClassifyRequest) (ClassifyResult, error) {
	return m.gateway.Classify(ctx, req)
}

// ClassifyAuthorized must only follow a successful Authorize for the same
// credential.
func (m *Manager) ClassifyAuthorized(ctx context.Context, req ClassifyRequest) (ClassifyResult, error) {
	return m.gateway.ClassifyAuthorized(ctx, req)
}

func (m *Manager) Reap(ctx context.Context, now time.Time) int {
	return m.reaper.Reap(ctx, now)
}

// RunReaper blocks, reaping every interval until ctx is cancelled.
func (m *Manager) RunReaper(ctx context.Context, interval time.Duration) {
	m.reaper.Run(ctx, interval, m.now)
}

func (m *Manager) Store() Store { return m.store }

func (m *Manager) Metrics() *Metrics { return m.metrics }

func (m *Manager) Close() error {
	if m.closer == nil {
		return nil
	}
	return m.closer.Close()
}
