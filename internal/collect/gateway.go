package collect

import (
	"context"
	"time"

	"github.com/hamychatgpt/Rasad-v2/internal/fault"
	"github.com/hamychatgpt/Rasad-v2/internal/fetch"
	"github.com/hamychatgpt/Rasad-v2/internal/ingest"
	"github.com/hamychatgpt/Rasad-v2/internal/logger"
	"github.com/hamychatgpt/Rasad-v2/internal/models"
)

// Fetcher is the platform gateway. *fetch.Client implements it.
type Fetcher interface {
	Search(ctx context.Context, cred models.Credential, query string, limit int) (fetch.Page, error)
	PostsByAuthor(ctx context.Context, cred models.Credential, authorID string, limit int) (fetch.Page, error)
	RepliesTo(ctx context.Context, cred models.Credential, postID string, limit int) (fetch.Page, error)
	UserByHandle(ctx context.Context, cred models.Credential, handle string) (fetch.User, error)
}

// Credentials is the credential pool. *credentials.Pool implements it.
type Credentials interface {
	Acquire(ctx context.Context) (models.Credential, error)
	RecordRateLimit(username string, remaining int, resetAt time.Time)
	SetActive(ctx context.Context, username string, active bool, reason string) error
}

// Ingester stores normalized records. *ingest.Service implements it.
type Ingester interface {
	UpsertAll(ctx context.Context, recs []ingest.Record) ingest.Results
	OldestForTopic(ctx context.Context, topic string) (*models.Post, error)
}

// gateway runs one fetch with the best available credential.
type gateway struct {
	pool    Credentials
	fetcher Fetcher
	log     logger.Logger
}

// call acquires a credential, runs fn with it, records the reported quota
// and deactivates the credential when the gateway rejected it.
func (g gateway) call(ctx context.Context, op string, fn func(models.Credential) (*fetch.RateLimit, error)) error {
	cred, err := g.pool.Acquire(ctx)
	if err != nil {
		return err
	}

	rl, err := fn(cred)
	if rl != nil {
		g.pool.RecordRateLimit(cred.Username, rl.Remaining, rl.ResetAt)
	}
	if fault.IsAuth(err) {
		if derr := g.pool.SetActive(ctx, cred.Username, false, err.Error()); derr != nil {
			g.log.Error("Deactivate credential failed",
				logger.String("username", cred.Username),
				logger.Error(derr),
			)
		}
	}
	if err != nil {
		g.log.Warn("Fetch failed",
			logger.String("operation", op),
			logger.String("username", cred.Username),
			logger.String("kind", fault.KindOf(err).String()),
			logger.Error(err),
		)
	}
	return err
}

func (g gateway) page(ctx context.Context, op string, fn func(models.Credential) (fetch.Page, error)) (fetch.Page, error) {
	var page fetch.Page
	err := g.call(ctx, op, func(cred models.Credential) (*fetch.RateLimit, error) {
		var err error
		page, err = fn(cred)
		return page.RateLimit, err
	})
	return page, err
}
