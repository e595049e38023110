// Package secretprovider wraps an external secret source behind a circuit
// breaker: it fails fast and serves a cached snapshot when the source is
// unhealthy, exactly as the teacher's circuit breaker protects outbound AI
// calls, generalized here to guard a generic key/value secret fetch.
package secretprovider

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alephauto/core/internal/domain"
	"github.com/alephauto/core/internal/observability"
)

// StalenessThreshold is the age beyond which a still-present cache snapshot
// is reported as stale in the health view, even though it continues to
// serve reads.
const StalenessThreshold = 24 * time.Hour

// Source is the upstream capability the Provider protects: a single
// operation returning the full secret map, or an error.
type Source interface {
	Fetch(ctx context.Context) (map[string]string, error)
}

// SourceFunc adapts a plain function to Source.
type SourceFunc func(ctx context.Context) (map[string]string, error)

func (f SourceFunc) Fetch(ctx context.Context) (map[string]string, error) { return f(ctx) }

// Health is the get_health view exposed at GET /api/health/secrets.
type Health struct {
	State               string     `json:"state"`
	Healthy             bool       `json:"healthy"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	CacheAgeMs          int64      `json:"cache_age_ms"`
	Stale               bool       `json:"stale,omitempty"`
	LastError           string     `json:"last_error,omitempty"`
	NextRetryAt         *time.Time `json:"next_retry_at,omitempty"`
}

// Provider is the circuit-breaker-guarded façade over a secret Source.
type Provider struct {
	source Source
	cb     *circuitBreaker

	mu       sync.RWMutex
	cache    map[string]string
	cachedAt time.Time
	hasCache bool

	metrics *observability.ConnectionMetrics
}

// Config configures the circuit breaker thresholds guarding the secret
// source.
type Config struct {
	FailureThreshold int
	SuccessThreshold int
	Cooldown         time.Duration
}

// New constructs a Provider wrapping source. Every upstream refresh is
// recorded on a ConnectionMetrics instance, generalized from the teacher's
// external-connection observability wrapper to the secret source connection
// type.
func New(source Source, cfg Config) *Provider {
	return &Provider{
		source:  source,
		cb:      newCircuitBreaker(cfg.FailureThreshold, cfg.SuccessThreshold, cfg.Cooldown),
		metrics: observability.NewConnectionMetrics(observability.ConnectionTypeSecret, observability.OperationTypeFetch, "secretprovider"),
	}
}

// Get resolves a single secret key. It attempts an upstream refresh when the
// circuit breaker allows it, then serves from cache. It fails with
// ErrSecretUnavailable when no cache snapshot exists, whatever the circuit
// state, and with ErrNotFound when the key is absent from the snapshot.
func (p *Provider) Get(ctx context.Context, key string) (string, error) {
	if p.cb.allow() {
		if err := p.refresh(ctx); err != nil {
			slog.Warn("secretprovider: upstream fetch failed", slog.String("error", err.Error()))
		}
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.hasCache {
		return "", fmt.Errorf("op=secretprovider.Get: %w", domain.ErrSecretUnavailable)
	}
	v, ok := p.cache[key]
	if !ok {
		return "", fmt.Errorf("op=secretprovider.Get key=%s: %w", key, domain.ErrNotFound)
	}
	return v, nil
}

// refresh performs exactly one upstream fetch attempt and records exactly
// one success/failure against the circuit breaker, per spec.md §4.2's
// closed-state contract ("each call attempts fetch ... on failure,
// increment consecutive_failures"). It must never retry internally: the
// Provider's job is to fail fast, not to mask an unhealthy upstream behind
// a blocking retry loop.
func (p *Provider) refresh(ctx context.Context) error {
	p.metrics.RecordRequest()
	start := time.Now()
	secrets, err := p.source.Fetch(ctx)
	if err != nil {
		p.metrics.RecordFailure(err, time.Since(start))
		p.cb.recordFailure(err)
		return fmt.Errorf("op=secretprovider.refresh: %w", err)
	}
	p.metrics.RecordSuccess(time.Since(start))

	p.mu.Lock()
	p.cache = secrets
	p.cachedAt = time.Now()
	p.hasCache = true
	p.mu.Unlock()

	p.cb.recordSuccess()
	return nil
}

// GetHealth returns the current circuit breaker health view.
func (p *Provider) GetHealth() Health {
	state, failures, lastErr, nextRetry := p.cb.snapshot()

	p.mu.RLock()
	hasCache := p.hasCache
	cachedAt := p.cachedAt
	p.mu.RUnlock()

	h := Health{
		State:               state.String(),
		Healthy:             state == StateClosed,
		ConsecutiveFailures: failures,
		NextRetryAt:         nextRetry,
	}
	if lastErr != nil {
		h.LastError = lastErr.Error()
	}
	if hasCache {
		age := time.Since(cachedAt)
		h.CacheAgeMs = age.Milliseconds()
		h.Stale = age > StalenessThreshold
	}

	switch state {
	case StateClosed:
		observability.SecretCircuitBreakerState.Set(0)
	case StateHalfOpen:
		observability.SecretCircuitBreakerState.Set(1)
	case StateOpen:
		observability.SecretCircuitBreakerState.Set(2)
	}
	return h
}
