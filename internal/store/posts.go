package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"github.com/hamychatgpt/Rasad-v2/internal/fault"
	"github.com/hamychatgpt/Rasad-v2/internal/ingest"
	"github.com/hamychatgpt/Rasad-v2/internal/models"
)

const (
	uniqueViolation      = "23505"
	serializationFailure = "40001"
	deadlockDetected     = "40P01"
)

// lockConflict marks deadlocks and serialization failures as transient.
func lockConflict(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == deadlockDetected || pgErr.Code == serializationFailure) {
		return fault.New(fault.Transient, "post tx", err)
	}
	return err
}

// PostRepository stores posts and everything attached to them.
type PostRepository struct {
	db *sqlx.DB
}

var _ ingest.Repository = (*PostRepository)(nil)

func NewPostRepository(db *sqlx.DB) *PostRepository {
	return &PostRepository{db: db}
}

const postColumns = `p.id, p.external_id, p.author_external_id, p.body, p.created_at,
	p.reply_count, p.like_count, p.repost_count, p.quote_count, p.lang,
	p.is_repost, p.is_reply, p.in_reply_to_id, p.in_reply_to_author_id, p.quoted_id,
	p.sentiment_score, p.raw AS raw_json, p.ingested_at`

// postRow scans the jsonb payload as bytes so a NULL becomes an empty payload.
type postRow struct {
	models.Post
	RawJSON []byte `db:"raw_json"`
}

func (r postRow) post() models.Post {
	p := r.Post
	if len(r.RawJSON) > 0 {
		p.Raw = json.RawMessage(r.RawJSON)
	}
	return p
}

func toPosts(rows []postRow) []models.Post {
	out := make([]models.Post, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.post())
	}
	return out
}

func (r *PostRepository) WithTx(ctx context.Context, fn func(ingest.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&postTx{tx: tx}); err != nil {
		_ = tx.Rollback()
		return lockConflict(err)
	}
	if err := tx.Commit(); err != nil {
		return lockConflict(fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

func (r *PostRepository) FindPostByExternalID(ctx context.Context, externalID string) (*models.Post, error) {
	var row postRow
	err := r.db.GetContext(ctx, &row, `SELECT `+postColumns+` FROM posts p WHERE p.external_id = $1`, externalID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find post %s: %w", externalID, err)
	}
	p := row.post()
	return &p, nil
}

// FindPostsByTopic applies Since inclusively and Until exclusively. A zero
// limit returns every match.
func (r *PostRepository) FindPostsByTopic(ctx context.Context, q ingest.TopicQuery) ([]models.Post, error) {
	var rows []postRow
	err := r.db.SelectContext(ctx, &rows, `
SELECT `+postColumns+`
FROM posts p
JOIN post_topics pt ON pt.post_id = p.id
JOIN topics t ON t.id = pt.topic_id
WHERE t.label = $1
  AND ($2::timestamptz IS NULL OR p.created_at >= $2)
  AND ($3::timestamptz IS NULL OR p.created_at < $3)
ORDER BY p.created_at DESC, p.id DESC
LIMIT NULLIF($4, 0)`,
		q.Topic, nullTime(q.Since), nullTime(q.Until), q.Limit)
	if err != nil {
		return nil, fmt.Errorf("find posts for topic %q: %w", q.Topic, err)
	}
	return toPosts(rows), nil
}

func (r *PostRepository) OldestPostForTopic(ctx context.Context, topic string) (*models.Post, error) {
	var row postRow
	err := r.db.GetContext(ctx, &row, `
SELECT `+postColumns+`
FROM posts p
JOIN post_topics pt ON pt.post_id = p.id
JOIN topics t ON t.id = pt.topic_id
WHERE t.label = $1
ORDER BY p.created_at ASC, p.id ASC
LIMIT 1`, topic)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("oldest post for topic %q: %w", topic, err)
	}
	p := row.post()
	return &p, nil
}

func (r *PostRepository) RecentPosts(ctx context.Context, limit, offset int) ([]models.Post, error) {
	var rows []postRow
	err := r.db.SelectContext(ctx, &rows, `
SELECT `+postColumns+`
FROM posts p
ORDER BY p.ingested_at DESC, p.id DESC
LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("recent posts: %w", err)
	}
	return toPosts(rows), nil
}

type postTx struct {
	tx *sqlx.Tx
}

func (t *postTx) PostIDByExternalID(ctx context.Context, externalID string) (int64, bool, error) {
	var id int64
	err := t.tx.GetContext(ctx, &id, `SELECT id FROM posts WHERE external_id = $1`, externalID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// UpsertAuthor keeps stored profile values the fetch left empty.
func (t *postTx) UpsertAuthor(ctx context.Context, a models.Author) error {
	_, err := t.tx.ExecContext(ctx, `
INSERT INTO authors (
  external_id, handle, display_name, bio, followers_count, following_count, post_count,
  verified, profile_image_url, account_created_at, is_tracked, importance, is_placeholder, raw
) VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8::boolean, FALSE), $9, $10, $11, $12, FALSE, $13)
ON CONFLICT (external_id) DO UPDATE SET
  handle             = COALESCE(NULLIF(EXCLUDED.handle, ''), authors.handle),
  display_name       = COALESCE(NULLIF(EXCLUDED.display_name, ''), authors.display_name),
  bio                = COALESCE(NULLIF(EXCLUDED.bio, ''), authors.bio),
  followers_count    = COALESCE(NULLIF(EXCLUDED.followers_count, 0), authors.followers_count),
  following_count    = COALESCE(NULLIF(EXCLUDED.following_count, 0), authors.following_count),
  post_count         = COALESCE(NULLIF(EXCLUDED.post_count, 0), authors.post_count),
  verified           = COALESCE($8::boolean, authors.verified),
  profile_image_url  = COALESCE(NULLIF(EXCLUDED.profile_image_url, ''), authors.profile_image_url),
  account_created_at = COALESCE(EXCLUDED.account_created_at, authors.account_created_at),
  is_tracked         = authors.is_tracked OR EXCLUDED.is_tracked,
  importance         = CASE WHEN EXCLUDED.is_tracked THEN EXCLUDED.importance ELSE authors.importance END,
  is_placeholder     = FALSE,
  raw                = COALESCE(EXCLUDED.raw, authors.raw),
  updated_at         = now()`,
		a.ExternalID, a.Handle, a.DisplayName, a.Bio, a.FollowersCount, a.FollowingCount, a.PostCount,
		a.Verified, a.ProfileImageURL, a.AccountCreated, a.IsTracked, a.Importance, nullJSON(a.Raw),
	)
	return err
}

func (t *postTx) InsertPost(ctx context.Context, p models.Post) (int64, error) {
	var id int64
	err := t.tx.GetContext(ctx, &id, `
INSERT INTO posts (
  external_id, author_external_id, body, created_at, reply_count, like_count, repost_count, quote_count,
  lang, is_repost, is_reply, in_reply_to_id, in_reply_to_author_id, quoted_id, sentiment_score, raw, ingested_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
RETURNING id`,
		p.ExternalID, p.AuthorExternalID, p.Body, p.CreatedAt, p.ReplyCount, p.LikeCount, p.RepostCount, p.QuoteCount,
		p.Lang, p.IsRepost, p.IsReply, p.InReplyToID, p.InReplyToAuthorID, p.QuotedID, p.SentimentScore,
		nullJSON(p.Raw), p.IngestedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return 0, ingest.ErrDuplicatePost
	}
	if err != nil {
		return 0, fmt.Errorf("insert post %s: %w", p.ExternalID, err)
	}
	return id, nil
}

func (t *postTx) UpsertHashtag(ctx context.Context, text string, seenAt time.Time) (int64, error) {
	var id int64
	err := t.tx.GetContext(ctx, &id, `
INSERT INTO hashtags (text, first_seen_at, last_seen_at, usage_count)
VALUES ($1, $2, $2, 1)
ON CONFLICT (text) DO UPDATE SET
  usage_count  = hashtags.usage_count + 1,
  last_seen_at = GREATEST(hashtags.last_seen_at, EXCLUDED.last_seen_at)
RETURNING id`, text, seenAt)
	return id, err
}

func (t *postTx) LinkHashtag(ctx context.Context, postID, hashtagID int64) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO post_hashtags (post_id, hashtag_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		postID, hashtagID)
	return err
}

// EnsureAuthorByHandle prefers a fetched author over a placeholder.
func (t *postTx) EnsureAuthorByHandle(ctx context.Context, handle, placeholderID string, seenAt time.Time) (string, error) {
	var id string
	err := t.tx.GetContext(ctx, &id, `
SELECT external_id FROM authors
WHERE lower(handle) = lower($1)
ORDER BY is_placeholder, id
LIMIT 1`, handle)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", err
	}

	_, err = t.tx.ExecContext(ctx, `
INSERT INTO authors (external_id, handle, is_placeholder, first_seen_at, updated_at)
VALUES ($1, $2, TRUE, $3, $3)
ON CONFLICT (external_id) DO NOTHING`, placeholderID, handle, seenAt)
	if err != nil {
		return "", err
	}
	return placeholderID, nil
}

func (t *postTx) InsertMention(ctx context.Context, postID int64, authorExternalID string) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO mentions (post_id, author_external_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		postID, authorExternalID)
	return err
}

func (t *postTx) InsertMedia(ctx context.Context, postID int64, m models.MediaItem) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO media_items (post_id, media_type, url, alt_text) VALUES ($1, $2, $3, $4)`,
		postID, m.Type, m.URL, m.AltText)
	return err
}

func (t *postTx) UpsertTopic(ctx context.Context, label string, usedAt time.Time) (int64, error) {
	var id int64
	err := t.tx.GetContext(ctx, &id, `
INSERT INTO topics (label, last_used_at) VALUES ($1, $2)
ON CONFLICT (label) DO UPDATE SET last_used_at = GREATEST(topics.last_used_at, EXCLUDED.last_used_at)
RETURNING id`, label, usedAt)
	return id, err
}

func (t *postTx) LinkTopic(ctx context.Context, postID, topicID int64) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO post_topics (post_id, topic_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		postID, topicID)
	return err
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
