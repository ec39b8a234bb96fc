package models

import (
	"encoding/json"
	"time"
)

// Credential is one rotation-pool identity able to perform an authenticated fetch.
type Credential struct {
	ID         int64      `json:"id" db:"id"`
	Username   string     `json:"username" db:"username"`
	Secret     string     `json:"-" db:"secret"`
	Email      string     `json:"email,omitempty" db:"email"`
	Active     bool       `json:"active" db:"active"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
}

// RateLimitState is the transient quota reported by the platform for a credential.
type RateLimitState struct {
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// Exhausted reports whether the quota is spent and not yet reset at now.
func (r RateLimitState) Exhausted(now time.Time) bool {
	return r.Remaining <= 0 && now.Before(r.ResetAt)
}

// TopicKind distinguishes keyword topics from tracked accounts.
type TopicKind string

const (
	TopicKeyword TopicKind = "keyword"
	TopicAccount TopicKind = "account"
)

// TopicStatus is the polling state of a topic.
type TopicStatus string

const (
	StatusNormal   TopicStatus = "normal"
	StatusCritical TopicStatus = "critical"
)

// TopicSchedule is the persisted polling cadence of one monitored topic.
type TopicSchedule struct {
	Topic            string        `json:"topic" db:"topic"`
	Kind             TopicKind     `json:"kind" db:"kind"`
	Importance       int           `json:"importance" db:"importance"`
	NormalInterval   time.Duration `json:"normal_interval" db:"-"`
	CriticalInterval time.Duration `json:"critical_interval" db:"-"`
	Status           TopicStatus   `json:"status" db:"status"`
	LastCheckedAt    *time.Time    `json:"last_checked_at,omitempty" db:"last_checked_at"`
	EscalatedAt      *time.Time    `json:"escalated_at,omitempty" db:"escalated_at"`
	Active           bool          `json:"active" db:"active"`
}

// Interval returns the interval that applies to the current status.
func (s TopicSchedule) Interval() time.Duration {
	if s.Status == StatusCritical {
		return s.CriticalInterval
	}
	return s.NormalInterval
}

// Author is a platform account that posted or was mentioned.
type Author struct {
	ID              int64           `json:"id" db:"id"`
	ExternalID      string          `json:"external_id" db:"external_id"`
	Handle          string          `json:"handle" db:"handle"`
	DisplayName     string          `json:"display_name" db:"display_name"`
	Bio             string          `json:"bio,omitempty" db:"bio"`
	FollowersCount  int             `json:"followers_count" db:"followers_count"`
	FollowingCount  int             `json:"following_count" db:"following_count"`
	PostCount       int             `json:"post_count" db:"post_count"`
	Verified        *bool           `json:"verified,omitempty" db:"verified"`
	ProfileImageURL string          `json:"profile_image_url,omitempty" db:"profile_image_url"`
	AccountCreated  *time.Time      `json:"account_created_at,omitempty" db:"account_created_at"`
	IsTracked       bool            `json:"is_tracked" db:"is_tracked"`
	Importance      int             `json:"importance" db:"importance"`
	IsPlaceholder   bool            `json:"is_placeholder" db:"is_placeholder"`
	Raw             json.RawMessage `json:"raw,omitempty" db:"raw"`
}

// Post is a stored platform post.
type Post struct {
	ID                int64           `json:"id" db:"id"`
	ExternalID        string          `json:"external_id" db:"external_id"`
	AuthorExternalID  string          `json:"author_external_id" db:"author_external_id"`
	Body              string          `json:"body" db:"body"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
	ReplyCount        int             `json:"reply_count" db:"reply_count"`
	LikeCount         int             `json:"like_count" db:"like_count"`
	RepostCount       int             `json:"repost_count" db:"repost_count"`
	QuoteCount        int             `json:"quote_count" db:"quote_count"`
	Lang              string          `json:"lang,omitempty" db:"lang"`
	IsRepost          bool            `json:"is_repost" db:"is_repost"`
	IsReply           bool            `json:"is_reply" db:"is_reply"`
	InReplyToID       *string         `json:"in_reply_to_id,omitempty" db:"in_reply_to_id"`
	InReplyToAuthorID *string         `json:"in_reply_to_author_id,omitempty" db:"in_reply_to_author_id"`
	QuotedID          *string         `json:"quoted_id,omitempty" db:"quoted_id"`
	SentimentScore    *float64        `json:"sentiment_score,omitempty" db:"sentiment_score"`
	Raw               json.RawMessage `json:"raw,omitempty" db:"raw"`
	IngestedAt        time.Time       `json:"ingested_at" db:"ingested_at"`
}

// Hashtag is a normalized, lowercase tag with usage statistics.
type Hashtag struct {
	ID          int64     `json:"id" db:"id"`
	Text        string    `json:"text" db:"text"`
	FirstSeenAt time.Time `json:"first_seen_at" db:"first_seen_at"`
	LastSeenAt  time.Time `json:"last_seen_at" db:"last_seen_at"`
	UsageCount  int       `json:"usage_count" db:"usage_count"`
}

// MediaItem is a media descriptor attached to one post.
type MediaItem struct {
	Type    string `json:"type" db:"media_type"`
	URL     string `json:"url,omitempty" db:"url"`
	AltText string `json:"alt_text,omitempty" db:"alt_text"`
}

// RawAuthor is the author block of a fetched post.
type RawAuthor struct {
	ID              string     `json:"id"`
	Username        string     `json:"username"`
	DisplayName     string     `json:"display_name"`
	Bio             string     `json:"bio,omitempty"`
	FollowersCount  *int       `json:"followers_count,omitempty"`
	FollowingCount  *int       `json:"following_count,omitempty"`
	PostCount       *int       `json:"post_count,omitempty"`
	Verified        *bool      `json:"verified,omitempty"`
	ProfileImageURL string     `json:"profile_image_url,omitempty"`
	CreatedAt       *time.Time `json:"created_at,omitempty"`
}

// RawPost is a single post exactly as the fetch collaborator returned it.
type RawPost struct {
	ID                string          `json:"id"`
	Author            RawAuthor       `json:"author"`
	Text              string          `json:"text"`
	CreatedAt         time.Time       `json:"created_at"`
	ReplyCount        int             `json:"reply_count"`
	LikeCount         int             `json:"like_count"`
	RepostCount       int             `json:"repost_count"`
	QuoteCount        int             `json:"quote_count"`
	Lang              string          `json:"lang,omitempty"`
	Hashtags          []string        `json:"hashtags,omitempty"`
	Mentions          []string        `json:"mentions,omitempty"`
	URLs              []string        `json:"urls,omitempty"`
	Media             []MediaItem     `json:"media,omitempty"`
	IsRepost          bool            `json:"is_repost"`
	InReplyToID       string          `json:"in_reply_to_id,omitempty"`
	InReplyToAuthorID string          `json:"in_reply_to_author_id,omitempty"`
	QuotedID          string          `json:"quoted_id,omitempty"`
	Payload           json.RawMessage `json:"-"`
}
