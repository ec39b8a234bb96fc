package ingest_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hamychatgpt/Rasad-v2/internal/config"
	"github.com/hamychatgpt/Rasad-v2/internal/fault"
	"github.com/hamychatgpt/Rasad-v2/internal/ingest"
	"github.com/hamychatgpt/Rasad-v2/internal/models"
	"github.com/hamychatgpt/Rasad-v2/internal/store/memory"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return t0 }

func record(id string, tags ...string) ingest.Record {
	return ingest.Record{
		Post: models.Post{
			ExternalID: id,
			Body:       "body of " + id,
			CreatedAt:  t0.Add(-time.Hour),
		},
		Author:   models.Author{ExternalID: "u1", Handle: "alice", DisplayName: "Alice"},
		Hashtags: tags,
		Topics:   []string{"election"},
	}
}

func TestUpsert_Idempotent(t *testing.T) {
	store := memory.New()
	svc := ingest.New(store, nil, fixedNow)
	ctx := context.Background()
	rec := record("p1", "#Vote", "vote", "#news")
	rec.Mentions = []string{"@Bob"}
	rec.Media = []models.MediaItem{{Type: "photo", URL: "https://img/1"}}

	first, err := svc.Upsert(ctx, rec)
	require.NoError(t, err)
	assert.True(t, first.Created)

	second, err := svc.Upsert(ctx, rec)
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.ID, second.ID)

	h, ok := store.Hashtag("vote")
	require.True(t, ok)
	assert.Equal(t, 1, h.UsageCount, "repeat tags within one post count once")
	assert.Len(t, store.Media(first.ID), 1)
	assert.Len(t, store.Mentions(first.ID), 1)
	posts, authors := store.Counts()
	assert.Equal(t, 1, posts)
	assert.Equal(t, 2, authors, "author plus mention placeholder")
}

func TestUpsert_HashtagUsageCountsDistinctPosts(t *testing.T) {
	store := memory.New()
	svc := ingest.New(store, nil, fixedNow)
	const n = 7
	for i := range n {
		_, err := svc.Upsert(context.Background(), record(fmt.Sprintf("p%d", i), "#X"))
		require.NoError(t, err)
	}
	h, ok := store.Hashtag("x")
	require.True(t, ok)
	assert.Equal(t, n, h.UsageCount)
}

func TestUpsert_TrackedAuthorPrecedence(t *testing.T) {
	store := memory.New()
	svc := ingest.New(store, []config.TrackedAccount{{Handle: "alice", Importance: 8}}, fixedNow)

	rec := record("p1")
	rec.Author.Handle = "@Alice"
	rec.Author.Importance = 0
	_, err := svc.Upsert(context.Background(), rec)
	require.NoError(t, err)

	a, ok := store.Author("u1")
	require.True(t, ok)
	assert.True(t, a.IsTracked)
	assert.Equal(t, 8, a.Importance)
}

func TestUpsert_MentionPlaceholder(t *testing.T) {
	store := memory.New()
	svc := ingest.New(store, nil, fixedNow)
	rec := record("p1")
	rec.Mentions = []string{"@Carol", "carol"}

	out, err := svc.Upsert(context.Background(), rec)
	require.NoError(t, err)

	ids := store.Mentions(out.ID)
	require.Equal(t, []string{ingest.PlaceholderAuthorID("carol")}, ids)
	ph, ok := store.Author(ids[0])
	require.True(t, ok)
	assert.True(t, ph.IsPlaceholder)
	assert.Equal(t, "carol", ph.Handle)
}

func TestUpsert_RejectsMissingIDs(t *testing.T) {
	svc := ingest.New(memory.New(), nil, fixedNow)

	_, err := svc.Upsert(context.Background(), ingest.Record{})
	require.ErrorIs(t, err, ingest.ErrMissingExternalID)

	rec := record("p1")
	rec.Author.ExternalID = ""
	_, err = svc.Upsert(context.Background(), rec)
	require.ErrorIs(t, err, ingest.ErrMissingAuthor)
}

// failingRepo wraps a repository and fails one Tx operation.
type failingRepo struct {
	*memory.Store
	failOn string
}

func (r failingRepo) WithTx(ctx context.Context, fn func(ingest.Tx) error) error {
	return r.Store.WithTx(ctx, func(tx ingest.Tx) error {
		return fn(failingTx{Tx: tx, failOn: r.failOn})
	})
}

type failingTx struct {
	ingest.Tx
	failOn string
}

var errInjected = errors.New("injected failure")

func (t failingTx) InsertMedia(ctx context.Context, postID int64, m models.MediaItem) error {
	if t.failOn == "media" {
		return errInjected
	}
	return t.Tx.InsertMedia(ctx, postID, m)
}

func (t failingTx) InsertPost(ctx context.Context, p models.Post) (int64, error) {
	if t.failOn == "duplicate" {
		return 0, ingest.ErrDuplicatePost
	}
	return t.Tx.InsertPost(ctx, p)
}

func TestUpsert_FailureRollsBackRecordOnly(t *testing.T) {
	store := memory.New()
	ok := ingest.New(store, nil, fixedNow)
	_, err := ok.Upsert(context.Background(), record("p0", "#keep"))
	require.NoError(t, err)

	svc := ingest.New(failingRepo{Store: store, failOn: "media"}, nil, fixedNow)
	bad := record("p1", "#keep", "#lost")
	bad.Media = []models.MediaItem{{Type: "video"}}
	good := record("p2", "#keep")

	res := svc.UpsertAll(context.Background(), []ingest.Record{bad, good})
	require.Len(t, res, 2)
	require.ErrorIs(t, res[0].Err, errInjected)
	assert.Equal(t, "p1", res[0].ExternalID)
	require.NoError(t, res[1].Err)
	assert.True(t, res[1].Created)

	created, existing, failed := res.Counts()
	assert.Equal(t, [3]int{1, 0, 1}, [3]int{created, existing, failed})

	p, err := svc.FindByExternalID(context.Background(), "p1")
	require.NoError(t, err)
	assert.Nil(t, p)
	_, found := store.Hashtag("lost")
	assert.False(t, found)
	h, _ := store.Hashtag("keep")
	assert.Equal(t, 2, h.UsageCount)
}

func TestUpsert_DuplicateRaceReReadsWinner(t *testing.T) {
	store := memory.New()
	winner, err := ingest.New(store, nil, fixedNow).Upsert(context.Background(), record("p1"))
	require.NoError(t, err)

	// the losing writer did not see the post in its lookup but hit the
	// unique constraint on insert
	svc := ingest.New(racingRepo{failingRepo{Store: store, failOn: "duplicate"}}, nil, fixedNow)
	out, err := svc.Upsert(context.Background(), record("p1"))
	require.NoError(t, err)
	assert.False(t, out.Created)
	assert.Equal(t, winner.ID, out.ID)

	gone := ingest.New(racingRepo{failingRepo{Store: memory.New(), failOn: "duplicate"}}, nil, fixedNow)
	_, err = gone.Upsert(context.Background(), record("p9"))
	assert.Equal(t, fault.Conflict, fault.KindOf(err))
}

// racingRepo hides existing posts from the in-transaction lookup.
type racingRepo struct{ failingRepo }

func (r racingRepo) WithTx(ctx context.Context, fn func(ingest.Tx) error) error {
	return r.failingRepo.WithTx(ctx, func(tx ingest.Tx) error {
		return fn(blindTx{Tx: tx})
	})
}

type blindTx struct{ ingest.Tx }

func (blindTx) PostIDByExternalID(context.Context, string) (int64, bool, error) {
	return 0, false, nil
}

func TestUpsert_ConcurrentSamePost(t *testing.T) {
	store := memory.New()
	svc := ingest.New(store, nil, fixedNow)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		ids   = map[int64]int{}
		fresh int
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := svc.Upsert(context.Background(), record("same", "#x"))
			assert.NoError(t, err)
			mu.Lock()
			ids[out.ID]++
			if out.Created {
				fresh++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, ids, 1)
	assert.Equal(t, 1, fresh)
	h, _ := store.Hashtag("x")
	assert.Equal(t, 1, h.UsageCount)
}

func TestQueries(t *testing.T) {
	store := memory.New()
	svc := ingest.New(store, nil, fixedNow)
	ctx := context.Background()
	for i, offset := range []time.Duration{2 * time.Hour, 0, time.Hour} {
		rec := record(fmt.Sprintf("p%d", i))
		rec.Post.CreatedAt = t0.Add(offset)
		_, err := svc.Upsert(ctx, rec)
		require.NoError(t, err)
	}

	oldest, err := svc.OldestForTopic(ctx, "election")
	require.NoError(t, err)
	require.NotNil(t, oldest)
	assert.Equal(t, "p1", oldest.ExternalID)

	posts, err := svc.FindByTopic(ctx, ingest.TopicQuery{Topic: "election", Limit: 10_000})
	require.NoError(t, err)
	require.Len(t, posts, 3)
	assert.Equal(t, "p0", posts[0].ExternalID)
	assert.Equal(t, t0, posts[0].IngestedAt)

	recent, err := svc.Recent(ctx, 2, 1)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "p1", recent[0].ExternalID, "same ingestion time falls back to id order")
	assert.Equal(t, "p0", recent[1].ExternalID)

	none, err := svc.OldestForTopic(ctx, "unknown")
	require.NoError(t, err)
	assert.Nil(t, none)

	results := ingest.Results{{Outcome: ingest.Outcome{ExternalID: "a", Created: true}}, {Outcome: ingest.Outcome{ExternalID: "b"}}}
	assert.Equal(t, []ingest.Outcome{{ExternalID: "a", Created: true}}, results.Created())
}

// recordingRepo logs the shared rows each transaction writes, in order.
type recordingRepo struct {
	*memory.Store
	mu     sync.Mutex
	writes [][]string
}

func (r *recordingRepo) WithTx(ctx context.Context, fn func(ingest.Tx) error) error {
	rt := &recordingTx{}
	err := r.Store.WithTx(ctx, func(tx ingest.Tx) error {
		rt.Tx = tx
		return fn(rt)
	})
	r.mu.Lock()
	r.writes = append(r.writes, rt.order)
	r.mu.Unlock()
	return err
}

type recordingTx struct {
	ingest.Tx
	order []string
}

func (t *recordingTx) UpsertHashtag(ctx context.Context, text string, at time.Time) (int64, error) {
	t.order = append(t.order, "#"+text)
	return t.Tx.UpsertHashtag(ctx, text, at)
}

func (t *recordingTx) EnsureAuthorByHandle(ctx context.Context, handle, placeholderID string, at time.Time) (string, error) {
	t.order = append(t.order, "@"+handle)
	return t.Tx.EnsureAuthorByHandle(ctx, handle, placeholderID, at)
}

func (t *recordingTx) UpsertTopic(ctx context.Context, label string, at time.Time) (int64, error) {
	t.order = append(t.order, "topic:"+label)
	return t.Tx.UpsertTopic(ctx, label, at)
}

func TestUpsert_SharedRowsWrittenInSortedOrder(t *testing.T) {
	repo := &recordingRepo{Store: memory.New()}
	svc := ingest.New(repo, nil, fixedNow)
	ctx := context.Background()

	a := record("pa", "#x", "#y")
	a.Mentions = []string{"@zed", "@amy"}
	a.Topics = []string{"vote", "election"}
	b := record("pb", "#Y", "#x")
	b.Mentions = []string{"amy", "zed"}
	b.Topics = []string{"election", "vote"}

	_, err := svc.Upsert(ctx, a)
	require.NoError(t, err)
	_, err = svc.Upsert(ctx, b)
	require.NoError(t, err)

	want := []string{"#x", "#y", "@amy", "@zed", "topic:election", "topic:vote"}
	require.Len(t, repo.writes, 2)
	assert.Equal(t, want, repo.writes[0])
	assert.Equal(t, want, repo.writes[1], "input order must not change the write order")
}

func TestUpsert_AbsentVerifiedKeepsStoredValue(t *testing.T) {
	store := memory.New()
	svc := ingest.New(store, nil, fixedNow)
	ctx := context.Background()
	verified := true

	first := record("p1")
	first.Author.Verified = &verified
	first.Author.FollowersCount = 50
	_, err := svc.Upsert(ctx, first)
	require.NoError(t, err)

	second := record("p2")
	_, err = svc.Upsert(ctx, second)
	require.NoError(t, err)

	a, ok := store.Author("u1")
	require.True(t, ok)
	require.NotNil(t, a.Verified)
	assert.True(t, *a.Verified)
	assert.Equal(t, 50, a.FollowersCount)

	unverified := false
	third := record("p3")
	third.Author.Verified = &unverified
	_, err = svc.Upsert(ctx, third)
	require.NoError(t, err)
	a, _ = store.Author("u1")
	assert.False(t, *a.Verified)
}
