package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hamychatgpt/Rasad-v2/internal/config"
	"github.com/hamychatgpt/Rasad-v2/internal/fault"
	"github.com/hamychatgpt/Rasad-v2/internal/logger"
	"github.com/hamychatgpt/Rasad-v2/internal/metrics"
	"github.com/hamychatgpt/Rasad-v2/internal/models"
)

const (
	defaultTopicLimit  = 100
	defaultRecentLimit = 50
	maxTopicLimit      = 500
)

var (
	ErrMissingExternalID = errors.New("post external id is required")
	ErrMissingAuthor     = errors.New("author external id is required")
)

// Service normalizes records into the post graph and commits each one
// exactly once per external id.
type Service struct {
	repo    Repository
	tracked map[string]config.TrackedAccount
	now     func() time.Time
	log     logger.Logger
	metrics *metrics.Metrics
}

type Option func(*Service)

func WithLogger(l logger.Logger) Option     { return func(s *Service) { s.log = l } }
func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }

// New builds the service. Tracked accounts override the stored tracking
// status and importance of their authors.
func New(repo Repository, tracked []config.TrackedAccount, now func() time.Time, opts ...Option) *Service {
	if now == nil {
		now = time.Now
	}
	s := &Service{
		repo:    repo,
		tracked: make(map[string]config.TrackedAccount, len(tracked)),
		now:     now,
		log:     logger.NewNop(),
	}
	for _, t := range tracked {
		s.tracked[NormalizeHandle(t.Handle)] = t
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Outcome is the result of ingesting one record.
type Outcome struct {
	ExternalID string `json:"external_id"`
	ID         int64  `json:"id"`
	Created    bool   `json:"created"`
}

// Upsert stores rec in one transaction and returns its internal id. A record
// whose external id is already stored is a no-op returning the existing id.
func (s *Service) Upsert(ctx context.Context, rec Record) (Outcome, error) {
	extID := rec.Post.ExternalID
	if extID == "" {
		s.metrics.ObserveIngest("failed")
		return Outcome{}, fault.New(fault.Internal, "upsert post", ErrMissingExternalID)
	}

	var out Outcome
	err := s.repo.WithTx(ctx, func(tx Tx) error {
		var err error
		out, err = s.write(ctx, tx, rec)
		return err
	})
	if errors.Is(err, ErrDuplicatePost) {
		// a concurrent writer won; its row is the answer
		existing, ferr := s.repo.FindPostByExternalID(ctx, extID)
		if ferr != nil {
			s.metrics.ObserveIngest("failed")
			return Outcome{}, fmt.Errorf("re-read post %s: %w", extID, ferr)
		}
		if existing == nil {
			s.metrics.ObserveIngest("failed")
			return Outcome{}, fault.New(fault.Conflict, "upsert post "+extID, err)
		}
		s.log.Debug("Concurrent insert resolved", logger.String("external_id", extID), logger.Int64("id", existing.ID))
		s.metrics.ObserveIngest("existing")
		return Outcome{ExternalID: extID, ID: existing.ID}, nil
	}
	if err != nil {
		s.metrics.ObserveIngest("failed")
		return Outcome{}, fmt.Errorf("upsert post %s: %w", extID, err)
	}

	if out.Created {
		s.metrics.ObserveIngest("created")
	} else {
		s.metrics.ObserveIngest("existing")
	}
	return out, nil
}

func (s *Service) write(ctx context.Context, tx Tx, rec Record) (Outcome, error) {
	extID := rec.Post.ExternalID
	out := Outcome{ExternalID: extID}

	id, found, err := tx.PostIDByExternalID(ctx, extID)
	if err != nil {
		return out, fmt.Errorf("look up post: %w", err)
	}
	if found {
		out.ID = id
		return out, nil
	}

	now := s.now().UTC()

	author := rec.Author
	if author.ExternalID == "" {
		return out, ErrMissingAuthor
	}
	if t, ok := s.tracked[NormalizeHandle(author.Handle)]; ok {
		author.IsTracked = true
		author.Importance = t.Importance
	}
	author.IsPlaceholder = false
	if err := tx.UpsertAuthor(ctx, author); err != nil {
		return out, fmt.Errorf("upsert author %s: %w", author.ExternalID, err)
	}

	post := rec.Post
	post.AuthorExternalID = author.ExternalID
	post.IngestedAt = now
	postID, err := tx.InsertPost(ctx, post)
	if err != nil {
		return out, err
	}

	for _, tag := range lockOrder(rec.Hashtags, NormalizeHashtag) {
		hid, err := tx.UpsertHashtag(ctx, tag, now)
		if err != nil {
			return out, fmt.Errorf("upsert hashtag %q: %w", tag, err)
		}
		if err := tx.LinkHashtag(ctx, postID, hid); err != nil {
			return out, fmt.Errorf("link hashtag %q: %w", tag, err)
		}
	}

	for _, handle := range lockOrder(rec.Mentions, NormalizeHandle) {
		mentioned, err := tx.EnsureAuthorByHandle(ctx, handle, PlaceholderAuthorID(handle), now)
		if err != nil {
			return out, fmt.Errorf("resolve mention @%s: %w", handle, err)
		}
		if err := tx.InsertMention(ctx, postID, mentioned); err != nil {
			return out, fmt.Errorf("insert mention @%s: %w", handle, err)
		}
	}

	for _, m := range rec.Media {
		if err := tx.InsertMedia(ctx, postID, m); err != nil {
			return out, fmt.Errorf("insert media: %w", err)
		}
	}

	for _, label := range lockOrder(rec.Topics, strings.TrimSpace) {
		tid, err := tx.UpsertTopic(ctx, label, now)
		if err != nil {
			return out, fmt.Errorf("upsert topic %q: %w", label, err)
		}
		if err := tx.LinkTopic(ctx, postID, tid); err != nil {
			return out, fmt.Errorf("link topic %q: %w", label, err)
		}
	}

	out.ID = postID
	out.Created = true
	return out, nil
}

// Result is the per-record result of a batch.
type Result struct {
	Outcome
	Err error `json:"-"`
}

// Results is the outcome of UpsertAll, in input order.
type Results []Result

// Counts tallies created, existing and failed records.
func (r Results) Counts() (created, existing, failed int) {
	for _, res := range r {
		switch {
		case res.Err != nil:
			failed++
		case res.Created:
			created++
		default:
			existing++
		}
	}
	return created, existing, failed
}

// Created returns the outcomes of records that were newly stored.
func (r Results) Created() []Outcome {
	var out []Outcome
	for _, res := range r {
		if res.Err == nil && res.Created {
			out = append(out, res.Outcome)
		}
	}
	return out
}

// UpsertAll applies Upsert to each record in order. A failed record is
// logged and reported without affecting the others.
func (s *Service) UpsertAll(ctx context.Context, recs []Record) Results {
	out := make(Results, 0, len(recs))
	for _, rec := range recs {
		o, err := s.Upsert(ctx, rec)
		if err != nil {
			s.log.Warn("Ingest record failed",
				logger.String("external_id", rec.Post.ExternalID),
				logger.Error(err),
			)
			o.ExternalID = rec.Post.ExternalID
		}
		out = append(out, Result{Outcome: o, Err: err})
	}
	return out
}

// FindByExternalID returns nil when no post has the id.
func (s *Service) FindByExternalID(ctx context.Context, externalID string) (*models.Post, error) {
	return s.repo.FindPostByExternalID(ctx, externalID)
}

// FindByTopic returns the posts of a topic newest first. The limit defaults
// to 100 and is capped at 500.
func (s *Service) FindByTopic(ctx context.Context, q TopicQuery) ([]models.Post, error) {
	if q.Limit <= 0 {
		q.Limit = defaultTopicLimit
	}
	if q.Limit > maxTopicLimit {
		q.Limit = maxTopicLimit
	}
	return s.repo.FindPostsByTopic(ctx, q)
}

// OldestForTopic returns the oldest post of a topic, or nil when it has none.
func (s *Service) OldestForTopic(ctx context.Context, topic string) (*models.Post, error) {
	return s.repo.OldestPostForTopic(ctx, topic)
}

// Recent pages through the latest ingested posts. The limit defaults to 50
// and is capped at 500.
func (s *Service) Recent(ctx context.Context, limit, offset int) ([]models.Post, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	if limit > maxTopicLimit {
		limit = maxTopicLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.RecentPosts(ctx, limit, offset)
}
