package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atinyakov/declutter/internal/models"
)

type backend struct {
	healthy atomic.Bool

	mu       sync.Mutex
	requests []string
}

func (b *backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" {
		if !b.healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		return
	}
	b.mu.Lock()
	b.requests = append(b.requests, r.Method+" "+r.URL.Path)
	b.mu.Unlock()
	w.WriteHeader(http.StatusCreated)
}

func (b *backend) seen() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.requests...)
}

type cli struct {
	server string
	store  string
}

func newCLI(t *testing.T, b *backend) *cli {
	t.Helper()
	srv := httptest.NewServer(b)
	t.Cleanup(srv.Close)
	return &cli{server: srv.URL, store: filepath.Join(t.TempDir(), "cli.db")}
}

func (c *cli) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--store", c.store, "--server", c.server, "--log-level", "error"}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestEnqueue_DeliveredWhenOnline(t *testing.T) {
	b := &backend{}
	b.healthy.Store(true)
	c := newCLI(t, b)

	out, err := c.run(t, "enqueue", "create", "users", `{"id":"u1","name":"Ann"}`)
	require.NoError(t, err)

	var action models.PendingAction
	require.NoError(t, json.Unmarshal([]byte(out), &action))
	assert.Equal(t, models.ActionCreate, action.Type)
	assert.Equal(t, []string{"POST /users"}, b.seen())

	out, err = c.run(t, "pending")
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, out)
}

func TestEnqueue_KeptWhileOfflineThenSynced(t *testing.T) {
	b := &backend{}
	c := newCLI(t, b)

	_, err := c.run(t, "enqueue", "UPDATE", "streaks", `{"userId":"u1","current":3}`)
	require.NoError(t, err)
	assert.Empty(t, b.seen())

	out, err := c.run(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "connectivity: offline")
	assert.Contains(t, out, "pending:      1")

	out, err = c.run(t, "sync")
	require.NoError(t, err)
	assert.JSONEq(t, `{"skipped":"offline","succeeded":0,"failed":0}`, out)

	b.healthy.Store(true)
	out, err = c.run(t, "sync")
	require.NoError(t, err)
	var summary syncSummary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, 1, summary.Succeeded)
	assert.Zero(t, summary.Failed)
	assert.Equal(t, []string{"PATCH /streaks/u1"}, b.seen())

	out, err = c.run(t, "status", "--json")
	require.NoError(t, err)
	var st models.SyncStatus
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.True(t, st.IsOnline)
	assert.Zero(t, st.PendingCount)
}

func TestEnqueue_InvalidInput(t *testing.T) {
	c := newCLI(t, &backend{})

	_, err := c.run(t, "enqueue", "UPSERT", "users", `{"id":"u1"}`)
	assert.Error(t, err)

	_, err = c.run(t, "enqueue", "CREATE", "users", `[1,2]`)
	assert.Error(t, err)

	_, err = c.run(t, "enqueue", "CREATE", "users")
	assert.Error(t, err)
}

func TestDiscard(t *testing.T) {
	c := newCLI(t, &backend{})

	out, err := c.run(t, "enqueue", "DELETE", "users", `{"id":"u9"}`)
	require.NoError(t, err)
	var action models.PendingAction
	require.NoError(t, json.Unmarshal([]byte(out), &action))

	out, err = c.run(t, "discard", action.ID)
	require.NoError(t, err)
	assert.Equal(t, "discarded "+action.ID+"\n", out)

	_, err = c.run(t, "discard", action.ID)
	assert.Error(t, err)
}

func TestRecord_PutGetListDelete(t *testing.T) {
	c := newCLI(t, &backend{})

	_, err := c.run(t, "record", "put", "digitalData", `{"userId":"u1","photoCount":10}`)
	require.NoError(t, err)
	out, err := c.run(t, "record", "put", "digitalData", `{"userId":"u1","emailCount":4}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"userId":"u1","photoCount":10,"emailCount":4}`, out)

	out, err = c.run(t, "record", "get", "digitalData", "u1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"userId":"u1","photoCount":10,"emailCount":4}`, out)

	out, err = c.run(t, "record", "list", "digitalData")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"userId":"u1","photoCount":10,"emailCount":4}]`, out)

	_, err = c.run(t, "record", "delete", "digitalData", "u1")
	require.NoError(t, err)
	_, err = c.run(t, "record", "get", "digitalData", "u1")
	assert.Error(t, err)

	out, err = c.run(t, "pending")
	require.NoError(t, err)
	var pending []models.PendingAction
	require.NoError(t, json.Unmarshal([]byte(out), &pending))
	require.Len(t, pending, 3)
	assert.Equal(t, models.ActionCreate, pending[0].Type)
	assert.Equal(t, models.ActionUpdate, pending[1].Type)
	assert.Equal(t, models.ActionDelete, pending[2].Type)
}

func TestRecord_UnknownCollection(t *testing.T) {
	c := newCLI(t, &backend{})

	_, err := c.run(t, "record", "put", "photos", `{"id":"p1"}`)
	assert.Error(t, err)
}
