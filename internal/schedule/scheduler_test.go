package schedule

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hamychatgpt/Rasad-v2/internal/config"
	"github.com/hamychatgpt/Rasad-v2/internal/events"
	"github.com/hamychatgpt/Rasad-v2/internal/fault"
	"github.com/hamychatgpt/Rasad-v2/internal/models"
)

type fakeStore struct {
	mu      sync.Mutex
	rows    map[string]models.TopicSchedule
	saves   int
	failFor string
}

func newFakeStore(rows ...models.TopicSchedule) *fakeStore {
	s := &fakeStore{rows: make(map[string]models.TopicSchedule)}
	for _, r := range rows {
		s.rows[r.Topic] = r
	}
	return s
}

func (s *fakeStore) LoadSchedules(context.Context) ([]models.TopicSchedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.TopicSchedule, 0, len(s.rows))
	for _, r := range s.rows {
		out = append(out, r)
	}
	return out, nil
}

func (s *fakeStore) SaveSchedule(_ context.Context, ts models.TopicSchedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ts.Topic == s.failFor {
		return errors.New("write failed")
	}
	s.saves++
	s.rows[ts.Topic] = ts
	return nil
}

var (
	t0    = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	bases = Bases{Normal: 20 * time.Minute, Critical: 5 * time.Minute}
)

func newScheduler(t *testing.T, store Store, topics []Topic, opts ...Option) *Scheduler {
	t.Helper()
	opts = append([]Option{WithClock(func() time.Time { return t0 })}, opts...)
	s, err := New(context.Background(), store, bases, topics, opts...)
	require.NoError(t, err)
	return s
}

func TestIntervalFor(t *testing.T) {
	assert.Equal(t, 10*time.Minute, IntervalFor(10, 20*time.Minute))
	assert.Equal(t, 20*time.Minute, IntervalFor(0, 20*time.Minute))
	assert.Equal(t, 15*time.Minute, IntervalFor(5, 20*time.Minute))
	assert.Equal(t, IntervalFor(10, time.Minute), IntervalFor(42, time.Minute))
	assert.Equal(t, IntervalFor(0, time.Minute), IntervalFor(-3, time.Minute))
	// 0.5 + 0.35 = 0.85 of 61s is 51.85s
	assert.Equal(t, 51*time.Second, IntervalFor(3, 61*time.Second))
	assert.Equal(t, time.Second, IntervalFor(10, 1500*time.Millisecond), "never below one second")
	assert.Equal(t, time.Second, IntervalFor(10, config.MinBaseInterval))
}

func TestIntervalOrdering(t *testing.T) {
	for _, base := range []time.Duration{bases.Normal, bases.Critical, 7 * time.Second} {
		for hi := 0; hi <= 10; hi++ {
			for lo := 0; lo < hi; lo++ {
				assert.LessOrEqual(t, IntervalFor(hi, base), IntervalFor(lo, base), "base=%s %d vs %d", base, hi, lo)
			}
		}
	}
}

func TestIntervals_CriticalNeverSlower(t *testing.T) {
	for i := 0; i <= 10; i++ {
		normal, critical := Intervals(i, time.Minute, time.Hour)
		assert.LessOrEqual(t, critical, normal)
	}
}

func TestNew_OverlaysConfiguredTopics(t *testing.T) {
	checked := t0.Add(-time.Minute)
	store := newFakeStore(
		models.TopicSchedule{
			Topic: "kept", Kind: models.TopicKeyword, Importance: 3,
			NormalInterval: time.Hour, CriticalInterval: time.Minute,
			Status: models.StatusCritical, LastCheckedAt: &checked, Active: true,
		},
		models.TopicSchedule{Topic: "gone", Kind: models.TopicKeyword, Status: models.StatusNormal, Active: true},
	)
	s := newScheduler(t, store, []Topic{
		{Name: "kept", Kind: models.TopicKeyword, Importance: 9},
		{Name: "fresh", Kind: models.TopicKeyword, Importance: 10},
	})

	kept, ok := s.Get("kept")
	require.True(t, ok)
	assert.Equal(t, models.StatusCritical, kept.Status)
	assert.Equal(t, time.Hour, kept.NormalInterval)
	assert.Equal(t, checked, *kept.LastCheckedAt)

	fresh, ok := s.Get("fresh")
	require.True(t, ok)
	assert.Equal(t, 10*time.Minute, fresh.NormalInterval)
	assert.Equal(t, 150*time.Second, fresh.CriticalInterval)
	assert.Equal(t, models.StatusNormal, fresh.Status)
	assert.Contains(t, store.rows, "fresh")

	gone, ok := s.Get("gone")
	require.True(t, ok)
	assert.False(t, gone.Active)
	assert.False(t, store.rows["gone"].Active)
	assert.False(t, s.IsDue("gone", t0))
}

func TestNew_RestartRestoresState(t *testing.T) {
	store := newFakeStore()
	topics := []Topic{{Name: "a", Kind: models.TopicKeyword, Importance: 5}}
	s := newScheduler(t, store, topics)
	require.NoError(t, s.Escalate(context.Background(), "a", "wave"))
	require.NoError(t, s.MarkChecked(context.Background(), "a", t0))

	restarted := newScheduler(t, store, topics)
	got, ok := restarted.Get("a")
	require.True(t, ok)
	assert.Equal(t, models.StatusCritical, got.Status)
	require.NotNil(t, got.LastCheckedAt)
	assert.Equal(t, t0, *got.LastCheckedAt)
}

func TestIsDue(t *testing.T) {
	s := newScheduler(t, newFakeStore(), []Topic{{Name: "a", Kind: models.TopicKeyword, Importance: 0}})
	ctx := context.Background()

	assert.True(t, s.IsDue("a", t0), "never checked")
	assert.False(t, s.IsDue("missing", t0))

	require.NoError(t, s.MarkChecked(ctx, "a", t0))
	assert.False(t, s.IsDue("a", t0.Add(19*time.Minute)))
	assert.True(t, s.IsDue("a", t0.Add(20*time.Minute)))

	require.NoError(t, s.Escalate(ctx, "a", "test"))
	assert.True(t, s.IsDue("a", t0.Add(5*time.Minute)))
	assert.False(t, s.IsDue("a", t0.Add(4*time.Minute)))
}

func TestEscalate_UnknownTopic(t *testing.T) {
	s := newScheduler(t, newFakeStore(), nil)
	err := s.Escalate(context.Background(), "nope", "")
	require.ErrorIs(t, err, ErrUnknownTopic)
	assert.True(t, fault.IsNotFound(err))
	assert.True(t, fault.IsNotFound(s.MarkChecked(context.Background(), "nope", t0)))
}

func TestEscalate_PersistFailureKeepsMemory(t *testing.T) {
	store := newFakeStore()
	s := newScheduler(t, store, []Topic{{Name: "a", Kind: models.TopicKeyword}})
	store.failFor = "a"

	require.Error(t, s.Escalate(context.Background(), "a", ""))
	got, _ := s.Get("a")
	assert.Equal(t, models.StatusNormal, got.Status)
}

func TestEscalateAll_Broadcast(t *testing.T) {
	store := newFakeStore()
	rec := events.NewRecorder(8)
	s := newScheduler(t, store, []Topic{
		{Name: "A", Kind: models.TopicKeyword},
		{Name: "B", Kind: models.TopicKeyword},
		{Name: "C", Kind: models.TopicKeyword},
	}, WithPublisher(rec))
	ctx := context.Background()
	require.NoError(t, s.Escalate(ctx, "B", "wave"))
	rec.Drain()

	changed, err := s.EscalateAll(ctx, "manager posted")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "C"}, changed)
	for _, name := range []string{"A", "B", "C"} {
		got, _ := s.Get(name)
		assert.Equal(t, models.StatusCritical, got.Status, name)
		assert.Equal(t, models.StatusCritical, store.rows[name].Status, name)
	}

	evs := rec.Drain()
	require.Len(t, evs, 1)
	assert.Equal(t, events.ScheduleEscalatedAll, evs[0].Type)
}

func TestTransitionEvents(t *testing.T) {
	rec := events.NewRecorder(8)
	s := newScheduler(t, newFakeStore(), []Topic{{Name: "a", Kind: models.TopicKeyword}}, WithPublisher(rec))
	ctx := context.Background()

	require.NoError(t, s.Escalate(ctx, "a", "x"))
	require.NoError(t, s.Escalate(ctx, "a", "x"))
	require.NoError(t, s.Deescalate(ctx, "a", "y"))

	evs := rec.Drain()
	require.Len(t, evs, 2)
	assert.Equal(t, events.ScheduleEscalated, evs[0].Type)
	assert.Equal(t, "normal", evs[0].From)
	assert.Equal(t, "critical", evs[0].To)
	assert.Equal(t, events.ScheduleDeescalated, evs[1].Type)
}

func TestDeescalateExpired(t *testing.T) {
	now := t0
	s := newScheduler(t, newFakeStore(), []Topic{
		{Name: "old", Kind: models.TopicKeyword},
		{Name: "new", Kind: models.TopicKeyword},
	}, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	require.NoError(t, s.Escalate(ctx, "old", ""))
	now = now.Add(30 * time.Minute)
	require.NoError(t, s.Escalate(ctx, "new", ""))
	now = now.Add(35 * time.Minute)

	none, err := s.DeescalateExpired(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, none)

	expired, err := s.DeescalateExpired(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []string{"old"}, expired)
	got, _ := s.Get("new")
	assert.Equal(t, models.StatusCritical, got.Status)
}

func TestDue_OrderedByImportance(t *testing.T) {
	s := newScheduler(t, newFakeStore(), []Topic{
		{Name: "low", Kind: models.TopicKeyword, Importance: 2},
		{Name: "high", Kind: models.TopicKeyword, Importance: 9},
		{Name: "done", Kind: models.TopicKeyword, Importance: 9},
	})
	require.NoError(t, s.MarkChecked(context.Background(), "done", t0))

	due := s.Due(t0)
	require.Len(t, due, 2)
	assert.Equal(t, "high", due[0].Topic)
	assert.Equal(t, "low", due[1].Topic)
}

func TestTopicsFromConfig(t *testing.T) {
	cfg := config.Config{
		Keywords:        []config.Keyword{{Text: "election", Importance: 7}},
		TrackedAccounts: []config.TrackedAccount{{Handle: "Minister", Importance: 9}},
	}
	topics := TopicsFromConfig(cfg)
	assert.Equal(t, []Topic{
		{Name: "election", Kind: models.TopicKeyword, Importance: 7},
		{Name: "@minister", Kind: models.TopicAccount, Importance: 9},
	}, topics)
}
