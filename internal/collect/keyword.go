package collect

import (
	"context"
	"time"

	"github.com/hamychatgpt/Rasad-v2/internal/config"
	"github.com/hamychatgpt/Rasad-v2/internal/fetch"
	"github.com/hamychatgpt/Rasad-v2/internal/ingest"
	"github.com/hamychatgpt/Rasad-v2/internal/logger"
	"github.com/hamychatgpt/Rasad-v2/internal/models"
)

const untilLayout = "2006-01-02"

// KeywordCollector searches for keyword topics.
type KeywordCollector struct {
	gw     gateway
	ingest Ingester
	cfg    config.CollectionConfig
	now    func() time.Time
	log    logger.Logger
}

func NewKeywordCollector(pool Credentials, fetcher Fetcher, ing Ingester, cfg config.CollectionConfig, log logger.Logger) *KeywordCollector {
	return &KeywordCollector{
		gw:     gateway{pool: pool, fetcher: fetcher, log: log},
		ingest: ing,
		cfg:    cfg,
		now:    time.Now,
		log:    log,
	}
}

// Collect fetches the latest posts matching topic and ingests them.
func (k *KeywordCollector) Collect(ctx context.Context, topic string) (ingest.Results, error) {
	return k.search(ctx, topic, topic, k.cfg.KeywordLimit)
}

// Backfill pages further into the past of topic, starting at its oldest
// stored post. It does nothing once that post is older than the backfill
// horizon.
func (k *KeywordCollector) Backfill(ctx context.Context, topic string) (ingest.Results, error) {
	oldest, err := k.ingest.OldestForTopic(ctx, topic)
	if err != nil {
		return nil, err
	}
	if oldest == nil {
		return k.search(ctx, topic, topic, k.cfg.BackfillLimit)
	}

	horizon := k.now().AddDate(0, 0, -k.cfg.BackfillDays)
	if oldest.CreatedAt.Before(horizon) {
		k.log.Debug("Backfill horizon reached", logger.String("topic", topic), logger.Time("oldest", oldest.CreatedAt))
		return nil, nil
	}
	query := topic + " until:" + oldest.CreatedAt.UTC().Format(untilLayout)
	return k.search(ctx, topic, query, k.cfg.BackfillLimit)
}

func (k *KeywordCollector) search(ctx context.Context, topic, query string, limit int) (ingest.Results, error) {
	page, err := k.gw.page(ctx, "search", func(cred models.Credential) (fetch.Page, error) {
		return k.gw.fetcher.Search(ctx, cred, query, limit)
	})
	if err != nil {
		return nil, err
	}

	recs := make([]ingest.Record, 0, len(page.Posts))
	for _, raw := range page.Posts {
		topics := []string{topic}
		if k.cfg.ExtractHashtagTopics {
			topics = append(topics, ingest.ExtractHashtags(raw.Text)...)
		}
		recs = append(recs, Normalize(raw, topics...))
	}
	res := k.ingest.UpsertAll(ctx, recs)
	created, existing, failed := res.Counts()
	k.log.Info("Keyword collected",
		logger.String("topic", topic),
		logger.Int("fetched", len(page.Posts)),
		logger.Int("created", created),
		logger.Int("existing", existing),
		logger.Int("failed", failed),
	)
	return res, nil
}
