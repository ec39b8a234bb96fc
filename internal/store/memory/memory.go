// Package memory keeps the whole store in process. It backs dry runs
// (database driver "memory") and service tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hamychatgpt/Rasad-v2/internal/credentials"
	"github.com/hamychatgpt/Rasad-v2/internal/ingest"
	"github.com/hamychatgpt/Rasad-v2/internal/models"
	"github.com/hamychatgpt/Rasad-v2/internal/schedule"
)

var (
	_ ingest.Repository = (*Store)(nil)
	_ credentials.Store = (*Store)(nil)
	_ schedule.Store    = (*Store)(nil)
)

// Topic is a stored topic label.
type Topic struct {
	ID         int64
	Label      string
	LastUsedAt time.Time
}

// Store implements every persistence port in memory. Transactions are
// serialized and rolled back through an undo journal.
type Store struct {
	mu     sync.Mutex
	nextID int64

	authors    map[string]models.Author
	posts      map[string]models.Post
	postByID   map[int64]string
	hashtags   map[string]models.Hashtag
	postTags   map[int64][]int64
	mentions   map[int64][]string
	media      map[int64][]models.MediaItem
	topics     map[string]Topic
	topicPosts map[int64][]int64

	creds     []models.Credential
	schedules map[string]models.TopicSchedule
}

func New() *Store {
	return &Store{
		authors:    make(map[string]models.Author),
		posts:      make(map[string]models.Post),
		postByID:   make(map[int64]string),
		hashtags:   make(map[string]models.Hashtag),
		postTags:   make(map[int64][]int64),
		mentions:   make(map[int64][]string),
		media:      make(map[int64][]models.MediaItem),
		topics:     make(map[string]Topic),
		topicPosts: make(map[int64][]int64),
		schedules:  make(map[string]models.TopicSchedule),
	}
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

// WithTx runs fn while holding the store lock and undoes its writes when it
// fails.
func (s *Store) WithTx(_ context.Context, fn func(ingest.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &tx{s: s}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

func (s *Store) FindPostByExternalID(_ context.Context, externalID string) (*models.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.posts[externalID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// FindPostsByTopic applies Since inclusively and Until exclusively.
func (s *Store) FindPostsByTopic(_ context.Context, q ingest.TopicQuery) ([]models.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	posts := s.topicPostsLocked(q.Topic)
	out := posts[:0]
	for _, p := range posts {
		if !q.Since.IsZero() && p.CreatedAt.Before(q.Since) {
			continue
		}
		if !q.Until.IsZero() && !p.CreatedAt.Before(q.Until) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *Store) OldestPostForTopic(_ context.Context, topic string) (*models.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var oldest *models.Post
	for _, p := range s.topicPostsLocked(topic) {
		if oldest == nil || p.CreatedAt.Before(oldest.CreatedAt) ||
			(p.CreatedAt.Equal(oldest.CreatedAt) && p.ID < oldest.ID) {
			p := p
			oldest = &p
		}
	}
	return oldest, nil
}

// RecentPosts orders by ingestion time, then id, newest first.
func (s *Store) RecentPosts(_ context.Context, limit, offset int) ([]models.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Post, 0, len(s.posts))
	for _, p := range s.posts {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].IngestedAt.Equal(out[j].IngestedAt) {
			return out[i].IngestedAt.After(out[j].IngestedAt)
		}
		return out[i].ID > out[j].ID
	})
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) topicPostsLocked(label string) []models.Post {
	t, ok := s.topics[label]
	if !ok {
		return nil
	}
	ids := s.topicPosts[t.ID]
	out := make([]models.Post, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.posts[s.postByID[id]])
	}
	return out
}

// Author returns a stored author.
func (s *Store) Author(externalID string) (models.Author, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.authors[externalID]
	return a, ok
}

// Hashtag returns a stored hashtag by normalized text.
func (s *Store) Hashtag(text string) (models.Hashtag, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hashtags[text]
	return h, ok
}

// Topic returns a stored topic label.
func (s *Store) Topic(label string) (Topic, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.topics[label]
	return t, ok
}

// Mentions returns the external ids of authors mentioned by a post.
func (s *Store) Mentions(postID int64) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.mentions[postID]...)
}

// Media returns the media of a post.
func (s *Store) Media(postID int64) []models.MediaItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.MediaItem(nil), s.media[postID]...)
}

// Counts reports the number of stored posts and authors.
func (s *Store) Counts() (posts, authors int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.posts), len(s.authors)
}

type tx struct {
	s    *Store
	undo []func()
}

func (t *tx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *tx) PostIDByExternalID(_ context.Context, externalID string) (int64, bool, error) {
	p, ok := t.s.posts[externalID]
	return p.ID, ok, nil
}

func (t *tx) UpsertAuthor(_ context.Context, a models.Author) error {
	s := t.s
	prev, exists := s.authors[a.ExternalID]
	if !exists {
		a.ID = s.id()
		s.authors[a.ExternalID] = a
		t.undo = append(t.undo, func() { delete(s.authors, a.ExternalID) })
		return nil
	}

	next := prev
	next.Handle = coalesce(a.Handle, prev.Handle)
	next.DisplayName = coalesce(a.DisplayName, prev.DisplayName)
	next.Bio = coalesce(a.Bio, prev.Bio)
	next.ProfileImageURL = coalesce(a.ProfileImageURL, prev.ProfileImageURL)
	next.FollowersCount = coalesceInt(a.FollowersCount, prev.FollowersCount)
	next.FollowingCount = coalesceInt(a.FollowingCount, prev.FollowingCount)
	next.PostCount = coalesceInt(a.PostCount, prev.PostCount)
	if a.Verified != nil {
		next.Verified = a.Verified
	}
	if a.AccountCreated != nil {
		next.AccountCreated = a.AccountCreated
	}
	if len(a.Raw) > 0 {
		next.Raw = a.Raw
	}
	next.IsPlaceholder = false
	if a.IsTracked {
		next.IsTracked = true
		next.Importance = a.Importance
	}
	s.authors[a.ExternalID] = next
	t.undo = append(t.undo, func() { s.authors[a.ExternalID] = prev })
	return nil
}

func (t *tx) InsertPost(_ context.Context, p models.Post) (int64, error) {
	s := t.s
	if _, dup := s.posts[p.ExternalID]; dup {
		return 0, ingest.ErrDuplicatePost
	}
	p.ID = s.id()
	s.posts[p.ExternalID] = p
	s.postByID[p.ID] = p.ExternalID
	t.undo = append(t.undo, func() {
		delete(s.posts, p.ExternalID)
		delete(s.postByID, p.ID)
	})
	return p.ID, nil
}

func (t *tx) UpsertHashtag(_ context.Context, text string, seenAt time.Time) (int64, error) {
	s := t.s
	prev, exists := s.hashtags[text]
	next := prev
	if !exists {
		next = models.Hashtag{ID: s.id(), Text: text, FirstSeenAt: seenAt, LastSeenAt: seenAt}
	}
	next.UsageCount++
	if seenAt.After(next.LastSeenAt) {
		next.LastSeenAt = seenAt
	}
	s.hashtags[text] = next
	t.undo = append(t.undo, func() {
		if exists {
			s.hashtags[text] = prev
		} else {
			delete(s.hashtags, text)
		}
	})
	return next.ID, nil
}

func (t *tx) LinkHashtag(_ context.Context, postID, hashtagID int64) error {
	s := t.s
	for _, id := range s.postTags[postID] {
		if id == hashtagID {
			return nil
		}
	}
	prev := s.postTags[postID]
	s.postTags[postID] = append(append([]int64(nil), prev...), hashtagID)
	t.undo = append(t.undo, func() { restoreInts(s.postTags, postID, prev) })
	return nil
}

func (t *tx) EnsureAuthorByHandle(_ context.Context, handle, placeholderID string, _ time.Time) (string, error) {
	s := t.s
	found := ""
	for id, a := range s.authors {
		if !strings.EqualFold(a.Handle, handle) {
			continue
		}
		if !a.IsPlaceholder {
			return id, nil
		}
		found = id
	}
	if found != "" {
		return found, nil
	}

	a := models.Author{ID: s.id(), ExternalID: placeholderID, Handle: handle, IsPlaceholder: true}
	s.authors[placeholderID] = a
	t.undo = append(t.undo, func() { delete(s.authors, placeholderID) })
	return placeholderID, nil
}

func (t *tx) InsertMention(_ context.Context, postID int64, authorExternalID string) error {
	s := t.s
	prev := s.mentions[postID]
	for _, id := range prev {
		if id == authorExternalID {
			return nil
		}
	}
	s.mentions[postID] = append(append([]string(nil), prev...), authorExternalID)
	t.undo = append(t.undo, func() {
		if prev == nil {
			delete(s.mentions, postID)
		} else {
			s.mentions[postID] = prev
		}
	})
	return nil
}

func (t *tx) InsertMedia(_ context.Context, postID int64, m models.MediaItem) error {
	s := t.s
	prev := s.media[postID]
	s.media[postID] = append(append([]models.MediaItem(nil), prev...), m)
	t.undo = append(t.undo, func() {
		if prev == nil {
			delete(s.media, postID)
		} else {
			s.media[postID] = prev
		}
	})
	return nil
}

func (t *tx) UpsertTopic(_ context.Context, label string, usedAt time.Time) (int64, error) {
	s := t.s
	prev, exists := s.topics[label]
	next := prev
	if !exists {
		next = Topic{ID: s.id(), Label: label}
	}
	if usedAt.After(next.LastUsedAt) {
		next.LastUsedAt = usedAt
	}
	s.topics[label] = next
	t.undo = append(t.undo, func() {
		if exists {
			s.topics[label] = prev
		} else {
			delete(s.topics, label)
		}
	})
	return next.ID, nil
}

func (t *tx) LinkTopic(_ context.Context, postID, topicID int64) error {
	s := t.s
	prev := s.topicPosts[topicID]
	for _, id := range prev {
		if id == postID {
			return nil
		}
	}
	s.topicPosts[topicID] = append(append([]int64(nil), prev...), postID)
	t.undo = append(t.undo, func() { restoreInts(s.topicPosts, topicID, prev) })
	return nil
}

func restoreInts(m map[int64][]int64, key int64, prev []int64) {
	if prev == nil {
		delete(m, key)
		return
	}
	m[key] = prev
}

func coalesce(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func coalesceInt(v, fallback int) int {
	if v == 0 {
		return fallback
	}
	return v
}
