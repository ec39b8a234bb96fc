package api

import (
	"context"
	"errors"

	"github.com/hamychatgpt/Rasad-v2/internal/collect"
	"github.com/hamychatgpt/Rasad-v2/internal/fault"
	"github.com/hamychatgpt/Rasad-v2/internal/ingest"
	"github.com/hamychatgpt/Rasad-v2/internal/models"
)

var (
	ErrPostNotFound     = errors.New("post not found")
	ErrCollectorMissing = errors.New("collection runner is not configured")
)

// CollectOnce runs a single collection tick.
func (a *API) CollectOnce(ctx context.Context) (collect.Report, error) {
	if a.runner == nil {
		return collect.Report{}, ErrCollectorMissing
	}
	return a.runner.Tick(ctx), nil
}

// RecentPosts pages through the latest ingested posts.
func (a *API) RecentPosts(ctx context.Context, limit, offset int) ([]models.Post, error) {
	return a.ing.Recent(ctx, limit, offset)
}

// Post returns one post by its platform id.
func (a *API) Post(ctx context.Context, externalID string) (*models.Post, error) {
	p, err := a.ing.FindByExternalID(ctx, externalID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fault.New(fault.NotFound, "post "+externalID, ErrPostNotFound)
	}
	return p, nil
}

func (a *API) TopicPosts(ctx context.Context, q ingest.TopicQuery) ([]models.Post, error) {
	return a.ing.FindByTopic(ctx, q)
}

// OldestPost returns the oldest stored post of topic.
func (a *API) OldestPost(ctx context.Context, topic string) (*models.Post, error) {
	p, err := a.ing.OldestForTopic(ctx, topic)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fault.New(fault.NotFound, "oldest post of "+topic, ErrPostNotFound)
	}
	return p, nil
}
