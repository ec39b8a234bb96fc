//go:build integration

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/hamychatgpt/Rasad-v2/internal/config"
	"github.com/hamychatgpt/Rasad-v2/internal/ingest"
	"github.com/hamychatgpt/Rasad-v2/internal/logger"
	"github.com/hamychatgpt/Rasad-v2/internal/models"
)

func startPostgres(t *testing.T) config.DatabaseConfig {
	t.Helper()
	ctx := context.Background()

	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("rasad"),
		postgres.WithUsername("app"),
		postgres.WithPassword("app"),
		postgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(ctr) })

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return config.DatabaseConfig{DSN: dsn, MaxConns: 4}
}

func TestPostgres_EndToEnd(t *testing.T) {
	cfg := startPostgres(t)
	ctx := context.Background()
	log := logger.NewNop()

	require.NoError(t, MigrateUp(cfg, log))
	require.NoError(t, MigrateUp(cfg, log), "second run has nothing to apply")
	version, dirty, err := MigrationVersion(cfg)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	db, err := Open(ctx, cfg)
	require.NoError(t, err)
	defer db.Close()

	svc := ingest.New(NewPostRepository(db.DB), []config.TrackedAccount{{Handle: "alice", Importance: 9}},
		func() time.Time { return time.Now().UTC() })

	rec := ingest.Record{
		Post:     models.Post{ExternalID: "p1", Body: "hi @bob #Vote", CreatedAt: time.Now().UTC().Add(-time.Hour)},
		Author:   models.Author{ExternalID: "u1", Handle: "alice", FollowersCount: 10},
		Hashtags: []string{"vote"},
		Mentions: []string{"bob"},
		Media:    []models.MediaItem{{Type: "photo", URL: "https://example.com/a.jpg"}},
		Topics:   []string{"election"},
	}
	first, err := svc.Upsert(ctx, rec)
	require.NoError(t, err)
	assert.True(t, first.Created)

	again, err := svc.Upsert(ctx, rec)
	require.NoError(t, err)
	assert.False(t, again.Created)
	assert.Equal(t, first.ID, again.ID)

	var usage int
	require.NoError(t, db.GetContext(ctx, &usage, `SELECT usage_count FROM hashtags WHERE text = 'vote'`))
	assert.Equal(t, 1, usage)

	var tracked bool
	var importance int
	require.NoError(t, db.QueryRowxContext(ctx,
		`SELECT is_tracked, importance FROM authors WHERE external_id = 'u1'`).Scan(&tracked, &importance))
	assert.True(t, tracked)
	assert.Equal(t, 9, importance)

	var placeholder bool
	require.NoError(t, db.GetContext(ctx, &placeholder, `SELECT is_placeholder FROM authors WHERE handle = 'bob'`))
	assert.True(t, placeholder)

	posts, err := svc.FindByTopic(ctx, ingest.TopicQuery{Topic: "election"})
	require.NoError(t, err)
	require.Len(t, posts, 1)

	schedules := NewScheduleRepository(db.DB)
	err = schedules.SaveSchedule(ctx, models.TopicSchedule{
		Topic: "election", Kind: models.TopicKeyword, Importance: 5,
		NormalInterval: time.Minute, CriticalInterval: 2 * time.Minute,
		Status: models.StatusNormal, Active: true,
	})
	require.Error(t, err, "critical interval above normal violates the table check")

	creds := NewCredentialRepository(db.DB)
	created, err := creds.AddCredential(ctx, models.Credential{Username: "c1", Secret: "s", Active: true})
	require.NoError(t, err)
	assert.True(t, created)
	created, err = creds.AddCredential(ctx, models.Credential{Username: "c1", Secret: "s", Active: true})
	require.NoError(t, err)
	assert.False(t, created)

	require.NoError(t, MigrateDown(cfg, 1, log))
}
