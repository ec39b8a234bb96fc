package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/hamychatgpt/Rasad-v2/internal/models"
)

// ErrDuplicatePost is returned by Tx.InsertPost when another writer already
// stored a post with the same external id.
var ErrDuplicatePost = errors.New("duplicate post external id")

// Repository is the persistence port of the ingestion service.
type Repository interface {
	// WithTx runs fn in one transaction. It commits when fn returns nil and
	// rolls back otherwise.
	WithTx(ctx context.Context, fn func(Tx) error) error

	// FindPostByExternalID returns nil and no error when the post is absent.
	FindPostByExternalID(ctx context.Context, externalID string) (*models.Post, error)
	// FindPostsByTopic returns posts associated with q.Topic, newest first.
	FindPostsByTopic(ctx context.Context, q TopicQuery) ([]models.Post, error)
	// OldestPostForTopic returns nil and no error when the topic has no posts.
	OldestPostForTopic(ctx context.Context, topic string) (*models.Post, error)
	// RecentPosts pages through every post by ingestion time, newest first.
	RecentPosts(ctx context.Context, limit, offset int) ([]models.Post, error)
}

// Tx is the write side available inside one record's transaction.
type Tx interface {
	PostIDByExternalID(ctx context.Context, externalID string) (id int64, found bool, err error)
	// UpsertAuthor inserts or refreshes an author by external id. Tracking
	// fields are overwritten only when a.IsTracked is set.
	UpsertAuthor(ctx context.Context, a models.Author) error
	// InsertPost returns ErrDuplicatePost on a unique violation.
	InsertPost(ctx context.Context, p models.Post) (int64, error)
	// UpsertHashtag increments the usage count and bumps last seen.
	UpsertHashtag(ctx context.Context, text string, seenAt time.Time) (int64, error)
	LinkHashtag(ctx context.Context, postID, hashtagID int64) error
	// EnsureAuthorByHandle returns the external id of an author with the
	// handle, inserting a placeholder with placeholderID when none exists.
	EnsureAuthorByHandle(ctx context.Context, handle, placeholderID string, seenAt time.Time) (string, error)
	InsertMention(ctx context.Context, postID int64, authorExternalID string) error
	InsertMedia(ctx context.Context, postID int64, m models.MediaItem) error
	// UpsertTopic finds or creates a topic label and bumps its last use.
	UpsertTopic(ctx context.Context, label string, usedAt time.Time) (int64, error)
	LinkTopic(ctx context.Context, postID, topicID int64) error
}

// TopicQuery selects posts of one topic. Zero times leave that bound open.
type TopicQuery struct {
	Topic string
	Since time.Time
	Until time.Time
	Limit int
}
