package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hamychatgpt/Rasad-v2/internal/api"
	"github.com/hamychatgpt/Rasad-v2/internal/config"
	"github.com/hamychatgpt/Rasad-v2/internal/credentials"
	"github.com/hamychatgpt/Rasad-v2/internal/ingest"
	"github.com/hamychatgpt/Rasad-v2/internal/logger"
	"github.com/hamychatgpt/Rasad-v2/internal/metrics"
	"github.com/hamychatgpt/Rasad-v2/internal/models"
	"github.com/hamychatgpt/Rasad-v2/internal/schedule"
	"github.com/hamychatgpt/Rasad-v2/internal/store/memory"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	ctx := context.Background()
	cfg := config.Config{
		Keywords:        []config.Keyword{{Text: "election", Importance: 8}},
		TrackedAccounts: []config.TrackedAccount{{Handle: "boss", Role: config.RoleManager}},
	}
	cfg.SetDefaults()

	store := memory.New()
	_, err := store.AddCredential(ctx, models.Credential{Username: "c1", Secret: "top-secret", Active: true})
	require.NoError(t, err)
	pool, err := credentials.NewPool(ctx, store)
	require.NoError(t, err)
	sched, err := schedule.New(ctx, store, schedule.BasesFromConfig(cfg.Scheduling), schedule.TopicsFromConfig(cfg))
	require.NoError(t, err)
	svc := ingest.New(store, nil, func() time.Time { return t0 })

	for i, id := range []string{"p1", "p2"} {
		_, err := svc.Upsert(ctx, ingest.Record{
			Post:   models.Post{ExternalID: id, Body: "x", CreatedAt: t0.Add(time.Duration(i) * time.Hour)},
			Author: models.Author{ExternalID: "u1", Handle: "alice"},
			Topics: []string{"election"},
		})
		require.NoError(t, err)
	}

	m := metrics.New()
	srv := New(api.New(svc, sched, pool, nil), cfg.Server, m, logger.NewNop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func post(t *testing.T, url, body string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

type postList struct {
	Items []models.Post `json:"items"`
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)

	var health map[string]map[string]any
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/healthz", &health))
	assert.Equal(t, "ok", health["status"]["status"])
	assert.EqualValues(t, 1, health["status"]["healthyCredentials"])

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPostRoutes(t *testing.T) {
	ts := newTestServer(t)

	var p models.Post
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/posts/p1", &p))
	assert.Equal(t, "p1", p.ExternalID)

	var errBody map[string]string
	assert.Equal(t, http.StatusNotFound, getJSON(t, ts.URL+"/posts/nope", &errBody))
	assert.NotEmpty(t, errBody["error"])

	var recent postList
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/posts?limit=1", &recent))
	require.Len(t, recent.Items, 1)
	assert.Equal(t, "p2", recent.Items[0].ExternalID)

	assert.Equal(t, http.StatusBadRequest, getJSON(t, ts.URL+"/posts?limit=abc", nil))
}

func TestTopicRoutes(t *testing.T) {
	ts := newTestServer(t)

	var all postList
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/topics/election/posts", &all))
	require.Len(t, all.Items, 2)
	assert.Equal(t, "p2", all.Items[0].ExternalID)

	var since postList
	url := ts.URL + "/topics/election/posts?since=" + t0.Add(30*time.Minute).Format(time.RFC3339)
	assert.Equal(t, http.StatusOK, getJSON(t, url, &since))
	require.Len(t, since.Items, 1)

	assert.Equal(t, http.StatusBadRequest, getJSON(t, ts.URL+"/topics/election/posts?until=yesterday", nil))

	var oldest models.Post
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/topics/election/oldest", &oldest))
	assert.Equal(t, "p1", oldest.ExternalID)
	assert.Equal(t, http.StatusNotFound, getJSON(t, ts.URL+"/topics/quiet/oldest", nil))
}

func TestScheduleRoutes(t *testing.T) {
	ts := newTestServer(t)

	status, body := post(t, ts.URL+"/schedules/election/escalate", `{"reason":"breaking news"}`)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "critical", body["status"])

	status, _ = post(t, ts.URL+"/schedules/unknown/escalate", "")
	assert.Equal(t, http.StatusNotFound, status)

	status, body = post(t, ts.URL+"/schedules/escalate-all", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, []any{"@boss"}, body["escalated"], "election was already critical")

	status, _ = post(t, ts.URL+"/schedules/@boss/deescalate", "")
	assert.Equal(t, http.StatusOK, status)

	var list struct {
		Items []models.TopicSchedule `json:"items"`
	}
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/schedules", &list))
	statuses := map[string]models.TopicStatus{}
	for _, s := range list.Items {
		statuses[s.Topic] = s.Status
	}
	assert.Equal(t, models.StatusCritical, statuses["election"])
	assert.Equal(t, models.StatusNormal, statuses["@boss"])

	status, _ = post(t, ts.URL+"/schedules/election/deescalate", "{not json")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestCredentialsRouteHidesSecrets(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/credentials")
	require.NoError(t, err)
	defer resp.Body.Close()

	var raw strings.Builder
	_, err = io.Copy(&raw, resp.Body)
	require.NoError(t, err)
	assert.Contains(t, raw.String(), `"username":"c1"`)
	assert.NotContains(t, raw.String(), "top-secret")
}
