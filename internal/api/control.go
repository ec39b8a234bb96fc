package api

import (
	"context"
	"errors"
	"fmt"

	"github.com/hamychatgpt/Rasad-v2/internal/credentials"
	"github.com/hamychatgpt/Rasad-v2/internal/models"
)

func (a *API) Schedules() []models.TopicSchedule {
	return a.sched.List()
}

func (a *API) Escalate(ctx context.Context, topic, reason string) error {
	return a.sched.Escalate(ctx, topic, reason)
}

func (a *API) Deescalate(ctx context.Context, topic, reason string) error {
	return a.sched.Deescalate(ctx, topic, reason)
}

// EscalateAll returns the topics that changed state.
func (a *API) EscalateAll(ctx context.Context, reason string) ([]string, error) {
	return a.sched.EscalateAll(ctx, reason)
}

// Credentials lists the pool without secrets.
func (a *API) Credentials() []credentials.Status {
	return a.pool.Snapshot()
}

func (a *API) SetCredentialActive(ctx context.Context, username string, active bool) error {
	reason := "operator deactivated"
	if active {
		reason = "operator activated"
	}
	return a.pool.SetActive(ctx, username, active, reason)
}

// ImportCredentials adds every credential whose username is new and returns
// how many were added. Invalid entries are reported together.
func (a *API) ImportCredentials(ctx context.Context, creds []models.Credential) (int, error) {
	var added int
	var errs []error
	for _, c := range creds {
		if c.Username == "" {
			errs = append(errs, errors.New("credential without username"))
			continue
		}
		created, err := a.pool.Add(ctx, c)
		if err != nil {
			errs = append(errs, fmt.Errorf("add %s: %w", c.Username, err))
			continue
		}
		if created {
			added++
		}
	}
	return added, errors.Join(errs...)
}
