package schedule

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hamychatgpt/Rasad-v2/internal/events"
	"github.com/hamychatgpt/Rasad-v2/internal/fault"
	"github.com/hamychatgpt/Rasad-v2/internal/logger"
	"github.com/hamychatgpt/Rasad-v2/internal/metrics"
	"github.com/hamychatgpt/Rasad-v2/internal/models"
)

// ErrUnknownTopic is returned for signals addressed to a topic the scheduler
// does not know.
var ErrUnknownTopic = errors.New("unknown topic")

// Store persists topic schedules.
type Store interface {
	LoadSchedules(ctx context.Context) ([]models.TopicSchedule, error)
	SaveSchedule(ctx context.Context, s models.TopicSchedule) error
}

// Topic is a configured monitored topic.
type Topic struct {
	Name       string
	Kind       models.TopicKind
	Importance int
}

// Bases are the base intervals the per-topic intervals are derived from.
type Bases struct {
	Normal   time.Duration
	Critical time.Duration
}

type Scheduler struct {
	mu     sync.Mutex
	topics map[string]models.TopicSchedule

	store   Store
	bases   Bases
	now     func() time.Time
	log     logger.Logger
	pub     events.Publisher
	metrics *metrics.Metrics
}

type Option func(*Scheduler)

func WithClock(now func() time.Time) Option     { return func(s *Scheduler) { s.now = now } }
func WithLogger(l logger.Logger) Option         { return func(s *Scheduler) { s.log = l } }
func WithPublisher(pub events.Publisher) Option { return func(s *Scheduler) { s.pub = pub } }
func WithMetrics(m *metrics.Metrics) Option     { return func(s *Scheduler) { s.metrics = m } }

// New restores persisted schedules and overlays configured topics.
//
// Persisted rows are loaded first. A configured topic missing from storage
// gets freshly derived intervals and is saved. A stored topic that is no
// longer configured is deactivated, never deleted.
func New(ctx context.Context, store Store, bases Bases, topics []Topic, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		topics: make(map[string]models.TopicSchedule),
		store:  store,
		bases:  bases,
		now:    time.Now,
		log:    logger.NewNop(),
		pub:    events.Nop{},
	}
	for _, opt := range opts {
		opt(s)
	}

	stored, err := store.LoadSchedules(ctx)
	if err != nil {
		return nil, fmt.Errorf("load schedules: %w", err)
	}
	for _, ts := range stored {
		s.topics[ts.Topic] = ts
	}

	configured := make(map[string]struct{}, len(topics))
	created := 0
	for _, t := range topics {
		configured[t.Name] = struct{}{}
		ts, ok := s.topics[t.Name]
		switch {
		case !ok:
			normal, critical := Intervals(t.Importance, bases.Normal, bases.Critical)
			ts = models.TopicSchedule{
				Topic:            t.Name,
				Kind:             t.Kind,
				Importance:       t.Importance,
				NormalInterval:   normal,
				CriticalInterval: critical,
				Status:           models.StatusNormal,
				Active:           true,
			}
			created++
		case !ts.Active:
			ts.Active = true
		default:
			continue
		}
		if err := s.store.SaveSchedule(ctx, ts); err != nil {
			return nil, fmt.Errorf("save schedule %s: %w", t.Name, err)
		}
		s.topics[t.Name] = ts
	}

	for name, ts := range s.topics {
		if _, ok := configured[name]; ok || !ts.Active {
			continue
		}
		ts.Active = false
		if err := s.store.SaveSchedule(ctx, ts); err != nil {
			return nil, fmt.Errorf("deactivate schedule %s: %w", name, err)
		}
		s.topics[name] = ts
		s.log.Info("Topic deactivated", logger.String("topic", name))
	}

	for _, ts := range s.topics {
		s.metrics.ObserveStatus(ts.Topic, ts.Active && ts.Status == models.StatusCritical)
	}
	s.log.Info("Schedules loaded",
		logger.Int("stored", len(stored)),
		logger.Int("created", created),
		logger.Int("total", len(s.topics)),
	)
	return s, nil
}

// IsDue reports whether topic should be fetched at now. Unknown and inactive
// topics are never due.
func (s *Scheduler) IsDue(topic string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts, ok := s.topics[topic]
	if !ok || !ts.Active {
		return false
	}
	return isDue(ts, now)
}

func isDue(ts models.TopicSchedule, now time.Time) bool {
	if ts.LastCheckedAt == nil {
		return true
	}
	return now.Sub(*ts.LastCheckedAt) >= ts.Interval()
}

// Due lists the active topics due at now, most important first.
func (s *Scheduler) Due(now time.Time) []models.TopicSchedule {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.TopicSchedule
	for _, ts := range s.topics {
		if ts.Active && isDue(ts, now) {
			out = append(out, ts)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Importance != out[j].Importance {
			return out[i].Importance > out[j].Importance
		}
		return out[i].Topic < out[j].Topic
	})
	return out
}

// Escalate switches topic to critical polling.
func (s *Scheduler) Escalate(ctx context.Context, topic, reason string) error {
	return s.transition(ctx, topic, models.StatusCritical, reason)
}

// Deescalate switches topic back to normal polling.
func (s *Scheduler) Deescalate(ctx context.Context, topic, reason string) error {
	return s.transition(ctx, topic, models.StatusNormal, reason)
}

func (s *Scheduler) transition(ctx context.Context, topic string, to models.TopicStatus, reason string) error {
	s.mu.Lock()
	ts, ok := s.topics[topic]
	if !ok {
		s.mu.Unlock()
		return fault.New(fault.NotFound, "schedule "+topic, ErrUnknownTopic)
	}
	from := ts.Status
	if from == to {
		s.mu.Unlock()
		return nil
	}
	next, err := s.apply(ctx, ts, to)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.log.Info("Topic status changed",
		logger.String("topic", topic),
		logger.String("old_status", string(from)),
		logger.String("new_status", string(to)),
		logger.String("reason", reason),
	)
	typ := events.ScheduleEscalated
	if to == models.StatusNormal {
		typ = events.ScheduleDeescalated
	}
	s.publish(ctx, events.Event{
		Type:    typ,
		Subject: topic,
		From:    string(from),
		To:      string(to),
		Reason:  reason,
		At:      s.now(),
	})
	s.metrics.ObserveStatus(next.Topic, to == models.StatusCritical)
	return nil
}

// apply persists the new status and only then updates memory. Caller holds mu.
func (s *Scheduler) apply(ctx context.Context, ts models.TopicSchedule, to models.TopicStatus) (models.TopicSchedule, error) {
	ts.Status = to
	if to == models.StatusCritical {
		at := s.now()
		ts.EscalatedAt = &at
	} else {
		ts.EscalatedAt = nil
	}
	if err := s.store.SaveSchedule(ctx, ts); err != nil {
		return ts, fmt.Errorf("save schedule %s: %w", ts.Topic, err)
	}
	s.topics[ts.Topic] = ts
	return ts, nil
}

// EscalateAll forces every known topic to critical. Topics already critical
// are left as they are. It returns the topics that changed; a failed save
// does not stop the broadcast.
func (s *Scheduler) EscalateAll(ctx context.Context, reason string) ([]string, error) {
	s.mu.Lock()
	names := make([]string, 0, len(s.topics))
	for name := range s.topics {
		names = append(names, name)
	}
	sort.Strings(names)

	var (
		changed []string
		errs    []error
	)
	for _, name := range names {
		ts := s.topics[name]
		if ts.Status == models.StatusCritical {
			continue
		}
		if _, err := s.apply(ctx, ts, models.StatusCritical); err != nil {
			errs = append(errs, err)
			continue
		}
		changed = append(changed, name)
	}
	s.mu.Unlock()

	for _, name := range changed {
		s.metrics.ObserveStatus(name, true)
	}
	s.log.Warn("All topics escalated",
		logger.Strings("topics", changed),
		logger.String("old_status", string(models.StatusNormal)),
		logger.String("new_status", string(models.StatusCritical)),
		logger.String("reason", reason),
	)
	s.publish(ctx, events.Event{
		Type:    events.ScheduleEscalatedAll,
		Subject: "*",
		To:      string(models.StatusCritical),
		Reason:  reason,
		At:      s.now(),
	})
	return changed, errors.Join(errs...)
}

// MarkChecked records a completed fetch of topic and persists it.
func (s *Scheduler) MarkChecked(ctx context.Context, topic string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts, ok := s.topics[topic]
	if !ok {
		return fault.New(fault.NotFound, "schedule "+topic, ErrUnknownTopic)
	}
	ts.LastCheckedAt = &at
	if err := s.store.SaveSchedule(ctx, ts); err != nil {
		return fmt.Errorf("save schedule %s: %w", topic, err)
	}
	s.topics[topic] = ts
	return nil
}

// DeescalateExpired returns topics that stayed critical for at least hold
// to normal. A zero hold disables it.
func (s *Scheduler) DeescalateExpired(ctx context.Context, hold time.Duration) ([]string, error) {
	if hold <= 0 {
		return nil, nil
	}
	now := s.now()

	s.mu.Lock()
	var expired []string
	for name, ts := range s.topics {
		if ts.Status == models.StatusCritical && ts.EscalatedAt != nil && now.Sub(*ts.EscalatedAt) >= hold {
			expired = append(expired, name)
		}
	}
	s.mu.Unlock()
	sort.Strings(expired)

	var errs []error
	for _, name := range expired {
		if err := s.Deescalate(ctx, name, "critical hold elapsed"); err != nil {
			errs = append(errs, err)
		}
	}
	return expired, errors.Join(errs...)
}

// Get returns the schedule of topic.
func (s *Scheduler) Get(topic string) (models.TopicSchedule, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts, ok := s.topics[topic]
	return ts, ok
}

// List returns every known schedule ordered by topic.
func (s *Scheduler) List() []models.TopicSchedule {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.TopicSchedule, 0, len(s.topics))
	for _, ts := range s.topics {
		out = append(out, ts)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Topic < out[j].Topic })
	return out
}

func (s *Scheduler) publish(ctx context.Context, e events.Event) {
	if err := s.pub.Publish(ctx, e); err != nil {
		s.log.Warn("Publish schedule event failed", logger.String("type", string(e.Type)), logger.Error(err))
	}
}
