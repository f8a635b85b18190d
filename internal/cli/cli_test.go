package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"membercycle/internal/auth"
	"membercycle/internal/catalog"
	"membercycle/internal/clients"
	"membercycle/internal/docstore"
	"membercycle/internal/jobs"
	"membercycle/internal/membership"
)

func setupDB(t *testing.T) string {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "membercycle.db")
	t.Setenv("MEMBERCYCLE_STORE_DRIVER", "sqlite")
	t.Setenv("MEMBERCYCLE_STORE_DSN", dsn)
	t.Setenv("MEMBERCYCLE_LOG_LEVEL", "error")
	return dsn
}

func seed(t *testing.T, dsn string, id string, fields map[string]any) {
	t.Helper()
	seedIn(t, dsn, membership.CollectionUsers, id, fields)
}

func seedIn(t *testing.T, dsn, collection, id string, fields map[string]any) {
	t.Helper()
	db, err := docstore.Open(docstore.SQLite, dsn)
	require.NoError(t, err)
	defer db.Close()

	store := docstore.New(db, docstore.SQLite, docstore.Options{Indexes: catalog.Indexes()})
	b := store.NewBatch()
	b.Add(docstore.Set(docstore.Ref{Collection: collection, ID: id}, fields))
	require.NoError(t, b.Commit(context.Background()))
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	err := Execute(context.Background())
	return out.String(), err
}

func TestMigrateCommand(t *testing.T) {
	setupDB(t)
	out, err := execute(t, "migrate")
	require.NoError(t, err)
	assert.Equal(t, "schema at version 1\n", out)
}

func TestRunCommand(t *testing.T) {
	dsn := setupDB(t)
	seed(t, dsn, "m1", map[string]any{
		"status": "active", "tier": "member", "total_shares": 20, "fund_shares": 6,
	})

	out, err := execute(t, "run", "vip-promotion")
	require.NoError(t, err)

	var result map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, "Daily VIP promotion check completed", result["message"])
	assert.Equal(t, 1.0, result["promoted"])

	_, err = execute(t, "run", "reactivation")
	assert.True(t, errors.Is(err, jobs.ErrUnknownJob))
}

func TestRunPipelineCommand(t *testing.T) {
	setupDB(t)
	out, err := execute(t, "run", "pipeline")
	require.NoError(t, err)

	var results []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	assert.Len(t, results, len(jobs.PipelineKinds))
}

func TestAPIKeyCreateCommand(t *testing.T) {
	dsn := setupDB(t)
	out, err := execute(t, "apikey", "create", "admin-1")
	require.NoError(t, err)
	key := strings.TrimSpace(out)
	require.Contains(t, key, ".")

	db, err := docstore.Open(docstore.SQLite, dsn)
	require.NoError(t, err)
	defer db.Close()

	caller, err := auth.NewKeyAuthenticator(docstore.New(db, docstore.SQLite, docstore.Options{})).
		Authenticate(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, "admin-1", caller.MemberID)
}

func TestInvalidConfig(t *testing.T) {
	setupDB(t)
	t.Setenv("MEMBERCYCLE_STORE_DRIVER", "mysql")
	_, err := execute(t, "migrate")
	assert.Error(t, err)
}

func TestTriggerCommand(t *testing.T) {
	var authorization string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authorization = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path != "/jobs/suspension" {
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`{"error":"permission-denied","message":"Must be admin"}`))
			return
		}
		w.Write([]byte(`{"success":true,"message":"Manual suspension check completed","checked":2,"suspended":1}`))
	}))
	defer srv.Close()

	out, err := execute(t, "trigger", "suspension", "--url", srv.URL, "--api-key", "k1")
	require.NoError(t, err)
	assert.Equal(t, "ApiKey k1", authorization)
	assert.Contains(t, out, `"suspended": 1`)

	_, err = execute(t, "trigger", "vip-promotion", "--url", srv.URL, "--api-key", "k1")
	assert.True(t, errors.Is(err, clients.ErrRejected))

	_, err = execute(t, "trigger", "score-calculation", "--url", srv.URL)
	assert.True(t, errors.Is(err, jobs.ErrUnknownJob))
}

func TestChaosCommand(t *testing.T) {
	setupDB(t)
	out, err := execute(t, "chaos")
	require.NoError(t, err)

	var results []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.NotEmpty(t, results)
	for _, r := range results {
		assert.Equal(t, true, r["hypothesis_held"], r["experiment_name"])
	}
}

func TestInspectCommands(t *testing.T) {
	dsn := setupDB(t)
	seed(t, dsn, "m1", map[string]any{
		"status": "active", "tier": "member", "total_shares": 20, "fund_shares": 6,
	})
	seedIn(t, dsn, catalog.CollectionGames, "g1", map[string]any{
		"title": "Racer", "accounts": []map[string]any{{"contributor_id": "m1"}},
	})

	_, err := execute(t, "run", "vip-promotion")
	require.NoError(t, err)

	out, err := execute(t, "inspect", "member", "m1")
	require.NoError(t, err)
	var report struct {
		ID     string         `json:"id"`
		Member map[string]any `json:"member"`
		Promotions []struct {
			TotalShares int    `json:"total_shares_at_promotion"`
			TriggeredBy string `json:"triggered_by"`
		} `json:"promotions"`
		Games []string `json:"contributed_games"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "m1", report.ID)
	assert.Equal(t, "vip", report.Member["tier"])
	require.Len(t, report.Promotions, 1)
	assert.Equal(t, 20, report.Promotions[0].TotalShares)
	assert.Equal(t, "scheduled", report.Promotions[0].TriggeredBy)
	assert.Equal(t, []string{"g1"}, report.Games)

	out, err = execute(t, "inspect", "game", "g1")
	require.NoError(t, err)
	var game map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &game))
	assert.Equal(t, "g1", game["id"])
	assert.Equal(t, "Racer", game["title"])
	assert.Equal(t, false, game["has_suspended_contributor"])

	_, err = execute(t, "inspect", "member", "nobody")
	assert.True(t, errors.Is(err, membership.ErrMemberNotFound))
	_, err = execute(t, "inspect", "game", "nothing")
	assert.True(t, errors.Is(err, catalog.ErrGameNotFound))
}
