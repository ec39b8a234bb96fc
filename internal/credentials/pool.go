// Package credentials rotates platform credentials under rate-limit and
// fairness constraints.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hamychatgpt/Rasad-v2/internal/events"
	"github.com/hamychatgpt/Rasad-v2/internal/fault"
	"github.com/hamychatgpt/Rasad-v2/internal/logger"
	"github.com/hamychatgpt/Rasad-v2/internal/metrics"
	"github.com/hamychatgpt/Rasad-v2/internal/models"
)

const (
	// NeverUsedIdleMinutes is the idle time assumed for a credential that was never used.
	NeverUsedIdleMinutes = 1000.0
	// DefaultQuota is the optimistic remaining quota assumed without rate-limit data.
	DefaultQuota = 100

	idleWeight  = 0.7
	quotaWeight = 0.3
)

var (
	// ErrNoHealthyCredential means every active credential is exhausted or none
	// is active. Callers try again on the next tick.
	ErrNoHealthyCredential = fault.New(fault.Transient, "acquire credential", errors.New("no healthy credential available"))
	// ErrUnknownCredential is returned for usernames not in the pool.
	ErrUnknownCredential = fault.New(fault.NotFound, "credential", errors.New("unknown credential"))
)

// Store is the durable backing store of the pool.
type Store interface {
	// ListCredentials returns every credential in pool order.
	ListCredentials(ctx context.Context) ([]models.Credential, error)
	TouchCredential(ctx context.Context, username string, usedAt time.Time) error
	SetCredentialActive(ctx context.Context, username string, active bool) error
	// AddCredential inserts c unless the username exists; created reports which.
	AddCredential(ctx context.Context, c models.Credential) (created bool, err error)
}

// Pool owns the credentials and their transient rate-limit state.
type Pool struct {
	mu     sync.Mutex
	creds  []models.Credential
	limits map[string]models.RateLimitState

	store        Store
	now          func() time.Time
	log          logger.Logger
	pub          events.Publisher
	metrics      *metrics.Metrics
	defaultQuota int
}

type Option func(*Pool)

func WithClock(now func() time.Time) Option     { return func(p *Pool) { p.now = now } }
func WithLogger(l logger.Logger) Option         { return func(p *Pool) { p.log = l } }
func WithPublisher(pub events.Publisher) Option { return func(p *Pool) { p.pub = pub } }
func WithMetrics(m *metrics.Metrics) Option     { return func(p *Pool) { p.metrics = m } }
func WithDefaultQuota(q int) Option             { return func(p *Pool) { p.defaultQuota = q } }

// NewPool loads every credential from store.
func NewPool(ctx context.Context, store Store, opts ...Option) (*Pool, error) {
	p := &Pool{
		store:        store,
		limits:       make(map[string]models.RateLimitState),
		now:          time.Now,
		log:          logger.NewNop(),
		pub:          events.Nop{},
		defaultQuota: DefaultQuota,
	}
	for _, opt := range opts {
		opt(p)
	}
	if err := p.Reload(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// Reload replaces the in-memory credential list with the store contents.
// Rate-limit state is kept for usernames that still exist.
func (p *Pool) Reload(ctx context.Context) error {
	creds, err := p.store.ListCredentials(ctx)
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.creds = creds
	known := make(map[string]struct{}, len(creds))
	for _, c := range creds {
		known[c.Username] = struct{}{}
	}
	for u := range p.limits {
		if _, ok := known[u]; !ok {
			delete(p.limits, u)
		}
	}
	p.log.Info("Credentials loaded", logger.Int("count", len(creds)))
	return nil
}

// Score is the desirability of a credential: long-idle credentials with a
// large remaining quota win.
func Score(idleMinutes float64, remaining int) float64 {
	return idleWeight*idleMinutes + quotaWeight*float64(remaining)
}

// Acquire selects the best available credential, stamps its last use and
// persists the stamp before returning. It returns ErrNoHealthyCredential when
// nothing can be used right now.
func (p *Pool) Acquire(ctx context.Context) (models.Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	best := -1
	bestScore := 0.0
	for i, c := range p.creds {
		if !c.Active {
			continue
		}
		remaining := p.defaultQuota
		if rl, ok := p.limits[c.Username]; ok {
			if rl.Exhausted(now) {
				continue
			}
			if now.Before(rl.ResetAt) {
				remaining = rl.Remaining
			}
		}
		idle := NeverUsedIdleMinutes
		if c.LastUsedAt != nil {
			idle = now.Sub(*c.LastUsedAt).Minutes()
		}
		score := Score(idle, remaining)
		// strict comparison keeps the earliest credential on ties
		if best < 0 || score > bestScore {
			best, bestScore = i, score
		}
	}

	if best < 0 {
		p.metrics.ObserveAcquire("none")
		p.log.Warn("No healthy credential available", logger.Int("pool_size", len(p.creds)))
		return models.Credential{}, ErrNoHealthyCredential
	}

	selected := p.creds[best]
	if err := p.store.TouchCredential(ctx, selected.Username, now); err != nil {
		p.metrics.ObserveAcquire("error")
		return models.Credential{}, fmt.Errorf("persist last use of %s: %w", selected.Username, err)
	}
	usedAt := now
	p.creds[best].LastUsedAt = &usedAt
	selected.LastUsedAt = &usedAt

	p.metrics.ObserveAcquire("acquired")
	p.log.Debug("Credential acquired",
		logger.String("username", selected.Username),
		logger.Float64("score", bestScore),
	)
	return selected, nil
}

// RecordRateLimit stores the quota a fetch reported. The state is transient.
func (p *Pool) RecordRateLimit(username string, remaining int, resetAt time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.indexOf(username) < 0 {
		p.log.Debug("Rate limit for unknown credential ignored", logger.String("username", username))
		return
	}
	p.limits[username] = models.RateLimitState{Remaining: remaining, ResetAt: resetAt}
	p.log.Debug("Rate limit updated",
		logger.String("username", username),
		logger.Int("remaining", remaining),
		logger.Time("reset_at", resetAt),
	)
}

// SetActive durably activates or deactivates a credential. Deactivation is
// the isolation hook for authentication failures.
func (p *Pool) SetActive(ctx context.Context, username string, active bool, reason string) error {
	p.mu.Lock()
	i := p.indexOf(username)
	if i < 0 {
		p.mu.Unlock()
		p.log.Warn("Credential not found", logger.String("username", username))
		return ErrUnknownCredential
	}
	was := p.creds[i].Active
	if err := p.store.SetCredentialActive(ctx, username, active); err != nil {
		p.mu.Unlock()
		return fmt.Errorf("persist active=%t for %s: %w", active, username, err)
	}
	p.creds[i].Active = active
	p.mu.Unlock()

	p.log.Info("Credential status changed",
		logger.String("username", username),
		logger.Bool("old_active", was),
		logger.Bool("new_active", active),
		logger.String("reason", reason),
	)
	if was == active {
		return nil
	}

	typ := events.CredentialActivated
	if !active {
		typ = events.CredentialDisabled
		p.metrics.ObserveDeactivation()
	}
	p.publish(ctx, events.Event{
		Type:    typ,
		Subject: username,
		From:    activeLabel(was),
		To:      activeLabel(active),
		Reason:  reason,
		At:      p.now(),
	})
	return nil
}

// Add registers a new credential. An existing username is left untouched.
func (p *Pool) Add(ctx context.Context, c models.Credential) (bool, error) {
	created, err := p.store.AddCredential(ctx, c)
	if err != nil {
		return false, fmt.Errorf("add credential %s: %w", c.Username, err)
	}
	if !created {
		p.log.Warn("Credential already exists", logger.String("username", c.Username))
		return false, nil
	}
	if err := p.Reload(ctx); err != nil {
		return true, err
	}
	p.log.Info("Credential added", logger.String("username", c.Username))
	return true, nil
}

// Status is a read-only view of one pool entry.
type Status struct {
	Credential models.Credential      `json:"credential"`
	RateLimit  *models.RateLimitState `json:"rate_limit,omitempty"`
	Exhausted  bool                   `json:"exhausted"`
}

// Snapshot lists the pool in order, with secrets removed.
func (p *Pool) Snapshot() []Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	out := make([]Status, 0, len(p.creds))
	for _, c := range p.creds {
		c.Secret = ""
		st := Status{Credential: c}
		if rl, ok := p.limits[c.Username]; ok {
			rl := rl
			st.RateLimit = &rl
			st.Exhausted = rl.Exhausted(now)
		}
		out = append(out, st)
	}
	return out
}

func (p *Pool) indexOf(username string) int {
	for i := range p.creds {
		if p.creds[i].Username == username {
			return i
		}
	}
	return -1
}

func (p *Pool) publish(ctx context.Context, e events.Event) {
	if err := p.pub.Publish(ctx, e); err != nil {
		p.log.Warn("Publish credential event failed", logger.String("type", string(e.Type)), logger.Error(err))
	}
}

func activeLabel(active bool) string {
	if active {
		return "active"
	}
	return "inactive"
}
