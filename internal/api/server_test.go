package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivans-csu/super-cow-powers/internal/config"
	"github.com/ivans-csu/super-cow-powers/internal/events"
	"github.com/ivans-csu/super-cow-powers/internal/history"
	"github.com/ivans-csu/super-cow-powers/internal/server"
)

func newTestRouter(t *testing.T) (*Server, http.Handler) {
	t.Helper()

	bus := events.NewBus()
	t.Cleanup(bus.Stop)

	store, err := history.NewStore(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	srv := NewServer(config.APIConfig{Port: 0}, server.NewRegistry(0, 0, bus), store, "info")
	srv.startedAt = time.Now()
	return srv, srv.buildRouter()
}

func get(t *testing.T, router http.Handler, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var body map[string]interface{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestStatusRoute(t *testing.T) {
	_, router := newTestRouter(t)

	rec, body := get(t, router, "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, body["sessions"])
	assert.EqualValues(t, 0, body["games"])
	assert.Contains(t, body, "system")
}

func TestGamesRoutes(t *testing.T) {
	_, router := newTestRouter(t)

	rec, body := get(t, router, "/api/games")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, body["games"])

	rec, _ = get(t, router, "/api/games/999")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = get(t, router, "/api/games/abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHistoryRoute(t *testing.T) {
	srv, router := newTestRouter(t)

	require.NoError(t, srv.store.Record(history.Match{
		GameID: 2, HostID: 1, GuestID: 2, BlackScore: 40, WhiteScore: 24,
	}))

	rec, body := get(t, router, "/api/history")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, body["total"])

	rec, _ = get(t, router, "/api/history?limit=bogus")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHistoryRouteDisabled(t *testing.T) {
	bus := events.NewBus()
	t.Cleanup(bus.Stop)

	srv := NewServer(config.APIConfig{Port: 0}, server.NewRegistry(0, 0, bus), nil, "info")
	rec, _ := get(t, srv.buildRouter(), "/api/history")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
