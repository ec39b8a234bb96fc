package collect

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hamychatgpt/Rasad-v2/internal/config"
	"github.com/hamychatgpt/Rasad-v2/internal/fault"
	"github.com/hamychatgpt/Rasad-v2/internal/fetch"
	"github.com/hamychatgpt/Rasad-v2/internal/ingest"
	"github.com/hamychatgpt/Rasad-v2/internal/logger"
	"github.com/hamychatgpt/Rasad-v2/internal/models"
)

// TrackedPostLabel is the extra topic label of posts by manager accounts.
const TrackedPostLabel = "tracked-account-post"

var ErrUntrackedAccount = errors.New("account is not tracked")

// Escalator receives escalation signals. *schedule.Scheduler implements it.
type Escalator interface {
	Escalate(ctx context.Context, topic, reason string) error
	EscalateAll(ctx context.Context, reason string) ([]string, error)
	Get(topic string) (models.TopicSchedule, bool)
}

// AccountCollector fetches the posts of tracked accounts.
type AccountCollector struct {
	gw         gateway
	ingest     Ingester
	escalator  Escalator
	tracked    map[string]config.TrackedAccount
	cfg        config.CollectionConfig
	escalateAt int
	log        logger.Logger
	now        func() time.Time

	mu  sync.Mutex
	ids map[string]string
}

func NewAccountCollector(
	pool Credentials,
	fetcher Fetcher,
	ing Ingester,
	esc Escalator,
	cfg config.Config,
	log logger.Logger,
) *AccountCollector {
	ids := make(map[string]string)
	for _, a := range cfg.TrackedAccounts {
		if a.ID != "" {
			ids[config.NormalizeHandle(a.Handle)] = a.ID
		}
	}
	return &AccountCollector{
		gw:         gateway{pool: pool, fetcher: fetcher, log: log},
		ingest:     ing,
		escalator:  esc,
		tracked:    cfg.TrackedByHandle(),
		cfg:        cfg.Collection,
		escalateAt: cfg.Scheduling.EscalateImportance,
		log:        log,
		now:        time.Now,
		ids:        ids,
	}
}

// Collect fetches the latest posts of the tracked account behind topic. A
// fresh post by a manager escalates every topic; one by an account at or
// above the escalation importance escalates that account's topic. Fresh
// means newly stored and published after the topic's previous check.
func (a *AccountCollector) Collect(ctx context.Context, topic string) (ingest.Results, error) {
	handle := config.NormalizeHandle(topic)
	acct, ok := a.tracked[handle]
	if !ok {
		return nil, fault.New(fault.NotFound, "collect "+topic, ErrUntrackedAccount)
	}

	id, err := a.resolve(ctx, handle)
	if err != nil {
		return nil, err
	}
	page, err := a.gw.page(ctx, "posts_by_author", func(cred models.Credential) (fetch.Page, error) {
		return a.gw.fetcher.PostsByAuthor(ctx, cred, id, a.cfg.AccountLimit)
	})
	if err != nil {
		return nil, err
	}

	labels := []string{topic}
	if acct.IsManager() {
		labels = append(labels, TrackedPostLabel)
	}
	res := a.ingest.UpsertAll(ctx, NormalizeAll(page.Posts, labels...))
	created := res.Created()
	a.log.Info("Account collected",
		logger.String("topic", topic),
		logger.Int("fetched", len(page.Posts)),
		logger.Int("created", len(created)),
	)
	if len(created) == 0 {
		return res, nil
	}

	fresh := a.freshCount(topic, page.Posts, created)
	switch {
	case fresh == 0:
		a.log.Debug("Only backlog posts stored, not escalating",
			logger.String("topic", topic),
			logger.Int("created", len(created)),
		)
	case acct.IsManager():
		if _, err := a.escalator.EscalateAll(ctx, fmt.Sprintf("manager %s posted", topic)); err != nil {
			a.log.Error("Escalate all failed", logger.String("topic", topic), logger.Error(err))
		}
	case acct.Importance >= a.escalateAt:
		if err := a.escalator.Escalate(ctx, topic, fmt.Sprintf("%s posted (importance %d)", topic, acct.Importance)); err != nil {
			a.log.Error("Escalate failed", logger.String("topic", topic), logger.Error(err))
		}
	}

	if a.cfg.CollectReplies {
		a.CollectInteractions(ctx, topic, created)
	}
	return res, nil
}

// freshCount counts created posts published after the topic was last
// checked. A topic never checked looks back one normal interval.
func (a *AccountCollector) freshCount(topic string, posts []models.RawPost, created []ingest.Outcome) int {
	ts, ok := a.escalator.Get(topic)
	if !ok {
		return 0
	}
	cutoff := a.now().Add(-ts.NormalInterval)
	if ts.LastCheckedAt != nil {
		cutoff = *ts.LastCheckedAt
	}

	publishedAt := make(map[string]time.Time, len(posts))
	for _, p := range posts {
		publishedAt[p.ID] = p.CreatedAt
	}
	var n int
	for _, o := range created {
		if publishedAt[o.ExternalID].After(cutoff) {
			n++
		}
	}
	return n
}

// CollectInteractions ingests replies to and reposts of up to
// ReplyPostLimit of posts. Failures are logged and skipped.
func (a *AccountCollector) CollectInteractions(ctx context.Context, topic string, posts []ingest.Outcome) {
	if len(posts) > a.cfg.ReplyPostLimit {
		posts = posts[:a.cfg.ReplyPostLimit]
	}
	for _, p := range posts {
		page, err := a.gw.page(ctx, "replies", func(cred models.Credential) (fetch.Page, error) {
			return a.gw.fetcher.RepliesTo(ctx, cred, p.ExternalID, a.cfg.ReplyLimit)
		})
		if err != nil {
			continue
		}
		res := a.ingest.UpsertAll(ctx, NormalizeAll(page.Posts))

		reposts, err := a.Reposts(ctx, p.ExternalID, a.cfg.ReplyLimit)
		if err == nil && len(reposts) > 0 {
			a.ingest.UpsertAll(ctx, NormalizeAll(reposts))
		}
		a.log.Debug("Interactions collected",
			logger.String("topic", topic),
			logger.String("post", p.ExternalID),
			logger.Int("replies", len(res)),
			logger.Int("reposts", len(reposts)),
		)
	}
}

// Reposts approximates the reposts and quotes of postID. The gateway offers
// no direct listing, so it searches for the id and keeps results that quote
// the post or are reposts. Reposts whose text does not carry the id are
// missed.
func (a *AccountCollector) Reposts(ctx context.Context, postID string, limit int) ([]models.RawPost, error) {
	page, err := a.gw.page(ctx, "search", func(cred models.Credential) (fetch.Page, error) {
		return a.gw.fetcher.Search(ctx, cred, postID, limit)
	})
	if err != nil {
		return nil, err
	}
	var out []models.RawPost
	for _, p := range page.Posts {
		if p.ID == postID {
			continue
		}
		if p.QuotedID == postID || (p.IsRepost && strings.Contains(p.Text, postID)) {
			out = append(out, p)
		}
	}
	return out, nil
}

// resolve returns the platform id of handle, looking it up once.
func (a *AccountCollector) resolve(ctx context.Context, handle string) (string, error) {
	a.mu.Lock()
	id, ok := a.ids[handle]
	a.mu.Unlock()
	if ok {
		return id, nil
	}

	var user fetch.User
	err := a.gw.call(ctx, "user_by_handle", func(cred models.Credential) (*fetch.RateLimit, error) {
		var err error
		user, err = a.gw.fetcher.UserByHandle(ctx, cred, handle)
		return user.RateLimit, err
	})
	if err != nil {
		return "", err
	}
	if user.Author.ID == "" {
		return "", fault.New(fault.NotFound, "resolve @"+handle, errors.New("empty account id"))
	}

	a.mu.Lock()
	a.ids[handle] = user.Author.ID
	a.mu.Unlock()
	return user.Author.ID, nil
}
