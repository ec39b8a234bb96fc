package api

import (
	"time"

	"github.com/hamychatgpt/Rasad-v2/internal/collect"
	"github.com/hamychatgpt/Rasad-v2/internal/credentials"
	"github.com/hamychatgpt/Rasad-v2/internal/ingest"
	"github.com/hamychatgpt/Rasad-v2/internal/models"
	"github.com/hamychatgpt/Rasad-v2/internal/schedule"
)

// API is the application-facing facade. All callers (HTTP, CLI) go through this.
type API struct {
	ing     *ingest.Service
	sched   *schedule.Scheduler
	pool    *credentials.Pool
	runner  *collect.Runner
	started time.Time
}

// New builds the facade. runner may be nil when collection is not wired,
// e.g. for read-only CLI commands.
func New(ing *ingest.Service, sched *schedule.Scheduler, pool *credentials.Pool, runner *collect.Runner) *API {
	return &API{ing: ing, sched: sched, pool: pool, runner: runner, started: time.Now()}
}

// Health responds with the health status of the app.
func (a *API) Health() map[string]any {
	var critical, active int
	for _, ts := range a.sched.List() {
		if ts.Active && ts.Status == models.StatusCritical {
			critical++
		}
	}
	for _, st := range a.pool.Snapshot() {
		if st.Credential.Active && !st.Exhausted {
			active++
		}
	}
	return map[string]any{
		"app":                "rasad",
		"startedAt":          a.started.Format(time.RFC3339),
		"status":             "ok",
		"criticalTopics":     critical,
		"healthyCredentials": active,
	}
}
