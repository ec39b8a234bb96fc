package schedule

import (
	"github.com/hamychatgpt/Rasad-v2/internal/config"
	"github.com/hamychatgpt/Rasad-v2/internal/models"
)

// TopicsFromConfig lists every configured keyword and tracked account as a
// schedulable topic. Account topics are named by config.AccountTopic.
func TopicsFromConfig(cfg config.Config) []Topic {
	out := make([]Topic, 0, len(cfg.Keywords)+len(cfg.TrackedAccounts))
	for _, k := range cfg.Keywords {
		out = append(out, Topic{Name: k.Text, Kind: models.TopicKeyword, Importance: k.Importance})
	}
	for _, a := range cfg.TrackedAccounts {
		out = append(out, Topic{Name: config.AccountTopic(a.Handle), Kind: models.TopicAccount, Importance: a.Importance})
	}
	return out
}

// BasesFromConfig returns the configured base intervals.
func BasesFromConfig(cfg config.SchedulingConfig) Bases {
	return Bases{Normal: cfg.NormalInterval, Critical: cfg.CriticalInterval}
}
