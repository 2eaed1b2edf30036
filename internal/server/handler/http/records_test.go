package http_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atinyakov/declutter/internal/models"
	"github.com/atinyakov/declutter/internal/remote"
	handler "github.com/atinyakov/declutter/internal/server/handler/http"
	"github.com/atinyakov/declutter/internal/service"
)

// fakeRecordService records calls and returns preconfigured results.
type fakeRecordService struct {
	calls []string
	last  models.Record
	ids   []string

	err error
}

func (f *fakeRecordService) Create(_ context.Context, c models.Collection, rec models.Record) (models.Record, error) {
	f.calls = append(f.calls, "create "+string(c))
	f.last = rec
	return rec, f.err
}

func (f *fakeRecordService) Update(_ context.Context, c models.Collection, id string, patch models.Record) (models.Record, error) {
	f.calls = append(f.calls, "update "+string(c)+"/"+id)
	f.last = patch
	return patch, f.err
}

func (f *fakeRecordService) Delete(_ context.Context, c models.Collection, id string) error {
	f.calls = append(f.calls, "delete "+string(c)+"/"+id)
	return f.err
}

func (f *fakeRecordService) Get(_ context.Context, c models.Collection, id string) (models.Record, error) {
	f.calls = append(f.calls, "get "+string(c)+"/"+id)
	return models.Record{"id": id}, f.err
}

func (f *fakeRecordService) List(_ context.Context, c models.Collection, ids []string) ([]models.Record, error) {
	f.calls = append(f.calls, "list "+string(c))
	f.ids = ids
	return []models.Record{}, f.err
}

func newRouter(svc handler.RecordService, requireCert bool) http.Handler {
	return handler.NewRouter(&handler.RecordHandler{RecordService: svc}, requireCert, zap.NewNop())
}

func TestRemoteContract(t *testing.T) {
	fake := &fakeRecordService{}
	srv := httptest.NewServer(newRouter(fake, false))
	defer srv.Close()

	client := remote.NewClient(srv.URL, srv.Client())
	ctx := context.Background()

	require.NoError(t, client.Apply(ctx, models.PendingAction{ID: "1", Type: models.ActionCreate, Collection: models.Users, Payload: models.Record{"name": "A"}}))
	require.NoError(t, client.Apply(ctx, models.PendingAction{ID: "2", Type: models.ActionUpdate, Collection: models.Streaks, Payload: models.Record{"userId": "u1", "current": 3}}))
	require.NoError(t, client.Apply(ctx, models.PendingAction{ID: "3", Type: models.ActionDelete, Collection: models.DigitalData, Payload: models.Record{"id": "d1"}}))

	assert.Equal(t, []string{"create users", "update streaks/u1", "delete digitalData/d1"}, fake.calls)
}

func TestRemoteContract_Rejections(t *testing.T) {
	fake := &fakeRecordService{err: service.ErrNotFound}
	srv := httptest.NewServer(newRouter(fake, false))
	defer srv.Close()

	client := remote.NewClient(srv.URL, srv.Client())
	err := client.Apply(context.Background(), models.PendingAction{ID: "1", Type: models.ActionUpdate, Collection: models.Users, Payload: models.Record{"id": "u1"}})

	var rejected *remote.RejectedError
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, http.StatusNotFound, rejected.StatusCode)
}

func TestCreate_BadJSON(t *testing.T) {
	router := newRouter(&fakeRecordService{}, false)

	req := httptest.NewRequest(http.MethodPost, "/users", bytes.NewBufferString("not-a-json"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d; want %d", w.Code, http.StatusBadRequest)
	}
	if body := w.Body.String(); body != "invalid body\n" {
		t.Errorf("body = %q; want %q", body, "invalid body\n")
	}
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"unknown collection", service.ErrUnknownCollection, http.StatusNotFound},
		{"not found", service.ErrNotFound, http.StatusNotFound},
		{"missing id", service.ErrMissingID, http.StatusBadRequest},
		{"other", errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := newRouter(&fakeRecordService{err: tc.err}, false)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/users/u1", nil))
			assert.Equal(t, tc.want, w.Code)
		})
	}
}

func TestList_IDFilter(t *testing.T) {
	fake := &fakeRecordService{}
	router := newRouter(fake, false)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/users?id=a&id=b", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
	assert.Equal(t, []string{"a", "b"}, fake.ids)
}

func TestRequireCert(t *testing.T) {
	router := newRouter(&fakeRecordService{}, true)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/users/u1", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
