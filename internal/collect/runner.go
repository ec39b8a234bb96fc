package collect

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/hamychatgpt/Rasad-v2/internal/config"
	"github.com/hamychatgpt/Rasad-v2/internal/credentials"
	"github.com/hamychatgpt/Rasad-v2/internal/fault"
	"github.com/hamychatgpt/Rasad-v2/internal/ingest"
	"github.com/hamychatgpt/Rasad-v2/internal/logger"
	"github.com/hamychatgpt/Rasad-v2/internal/metrics"
	"github.com/hamychatgpt/Rasad-v2/internal/models"
)

// Scheduler is the adaptive scheduler as seen by the runner.
// *schedule.Scheduler implements it.
type Scheduler interface {
	Due(now time.Time) []models.TopicSchedule
	MarkChecked(ctx context.Context, topic string, at time.Time) error
	DeescalateExpired(ctx context.Context, hold time.Duration) ([]string, error)
}

// TopicCollector collects one topic.
type TopicCollector interface {
	Collect(ctx context.Context, topic string) (ingest.Results, error)
}

// Backfiller pages a keyword topic into the past.
type Backfiller interface {
	Backfill(ctx context.Context, topic string) (ingest.Results, error)
}

// Report summarizes one tick.
type Report struct {
	Due       int
	Collected int
	Skipped   int
	Failed    int
	Created   int
}

// Runner processes every due topic on each tick.
type Runner struct {
	sched    Scheduler
	keywords TopicCollector
	backfill Backfiller
	accounts TopicCollector
	cfg      config.SchedulingConfig
	limiter  *rate.Limiter
	now      func() time.Time
	log      logger.Logger
	metrics  *metrics.Metrics

	mu          sync.Mutex
	lastArchive map[string]time.Time
	running     atomic.Bool
}

type RunnerOption func(*Runner)

func WithRunnerClock(now func() time.Time) RunnerOption { return func(r *Runner) { r.now = now } }
func WithRunnerMetrics(m *metrics.Metrics) RunnerOption { return func(r *Runner) { r.metrics = m } }

// NewRunner wires the collectors. backfill may be nil to disable archiving.
func NewRunner(
	sched Scheduler,
	keywords TopicCollector,
	backfill Backfiller,
	accounts TopicCollector,
	cfg config.SchedulingConfig,
	log logger.Logger,
	opts ...RunnerOption,
) *Runner {
	pause := rate.Inf
	if cfg.TopicPause > 0 {
		pause = rate.Every(cfg.TopicPause)
	}
	r := &Runner{
		sched:       sched,
		keywords:    keywords,
		backfill:    backfill,
		accounts:    accounts,
		cfg:         cfg,
		limiter:     rate.NewLimiter(pause, 1),
		now:         time.Now,
		log:         log,
		lastArchive: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Tick collects every due topic once. Topic failures are logged and never
// abort the tick; a topic that could not be fetched stays due and is
// retried on the next tick.
func (r *Runner) Tick(ctx context.Context) Report {
	if !r.running.CompareAndSwap(false, true) {
		r.metrics.ObserveSkip("tick_overlap")
		r.log.Warn("Previous tick still running, skipping")
		return Report{}
	}
	defer r.running.Store(false)

	if r.cfg.CriticalHold > 0 {
		if expired, err := r.sched.DeescalateExpired(ctx, r.cfg.CriticalHold); err != nil {
			r.log.Error("Critical hold de-escalation failed", logger.Error(err))
		} else if len(expired) > 0 {
			r.log.Info("Critical hold elapsed", logger.Strings("topics", expired))
		}
	}

	due := r.sched.Due(r.now())
	var collected, skipped, failed, created atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, r.cfg.Workers))
	for _, ts := range due {
		g.Go(func() error {
			if err := r.limiter.Wait(gctx); err != nil {
				skipped.Add(1)
				return nil
			}
			n, err := r.collectTopic(gctx, ts)
			switch {
			case errors.Is(err, credentials.ErrNoHealthyCredential):
				skipped.Add(1)
			case err != nil:
				failed.Add(1)
			default:
				collected.Add(1)
				created.Add(int64(n))
			}
			return nil
		})
	}
	_ = g.Wait()

	rep := Report{
		Due:       len(due),
		Collected: int(collected.Load()),
		Skipped:   int(skipped.Load()),
		Failed:    int(failed.Load()),
		Created:   int(created.Load()),
	}
	if rep.Due > 0 {
		r.log.Info("Tick finished",
			logger.Int("due", rep.Due),
			logger.Int("collected", rep.Collected),
			logger.Int("skipped", rep.Skipped),
			logger.Int("failed", rep.Failed),
			logger.Int("created", rep.Created),
		)
	}
	return rep
}

func (r *Runner) collectTopic(ctx context.Context, ts models.TopicSchedule) (int, error) {
	var collector TopicCollector = r.keywords
	if ts.Kind == models.TopicAccount {
		collector = r.accounts
	}

	res, err := collector.Collect(ctx, ts.Topic)
	switch {
	case errors.Is(err, credentials.ErrNoHealthyCredential):
		r.metrics.ObserveSkip("no_credential")
		r.log.Info("No credential available, topic retried next tick", logger.String("topic", ts.Topic))
		return 0, err
	case fault.IsTransient(err) || fault.IsAuth(err):
		return 0, err
	case err != nil:
		// permanent for this topic; wait a full interval before trying again
		r.log.Error("Collect topic failed", logger.String("topic", ts.Topic), logger.Error(err))
		r.markChecked(ctx, ts.Topic)
		return 0, err
	}

	r.markChecked(ctx, ts.Topic)
	created, _, _ := res.Counts()

	if ts.Kind == models.TopicKeyword && r.archiveDue(ts.Topic) {
		if res, err := r.backfill.Backfill(ctx, ts.Topic); err != nil {
			r.log.Warn("Backfill failed", logger.String("topic", ts.Topic), logger.Error(err))
		} else {
			r.markArchived(ts.Topic)
			n, _, _ := res.Counts()
			created += n
		}
	}
	return created, nil
}

func (r *Runner) markChecked(ctx context.Context, topic string) {
	if err := r.sched.MarkChecked(ctx, topic, r.now()); err != nil {
		r.log.Error("Mark topic checked failed", logger.String("topic", topic), logger.Error(err))
	}
}

func (r *Runner) archiveDue(topic string) bool {
	if r.backfill == nil || r.cfg.ArchiveInterval <= 0 {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	last, ok := r.lastArchive[topic]
	return !ok || r.now().Sub(last) >= r.cfg.ArchiveInterval
}

func (r *Runner) markArchived(topic string) {
	r.mu.Lock()
	r.lastArchive[topic] = r.now()
	r.mu.Unlock()
}

// Start runs Tick on the configured cron spec until ctx is done.
func (r *Runner) Start(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(r.cfg.Tick, func() { r.Tick(ctx) }); err != nil {
		return err
	}
	r.log.Info("Collection runner started", logger.String("tick", r.cfg.Tick), logger.Int("workers", r.cfg.Workers))
	c.Start()

	// first pass without waiting for the first tick
	r.Tick(ctx)

	<-ctx.Done()
	<-c.Stop().Done()
	r.log.Info("Collection runner stopped")
	return nil
}
