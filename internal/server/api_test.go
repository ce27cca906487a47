package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cory-johannsen/automap/internal/codec"
	"github.com/cory-johannsen/automap/internal/frontend/hub"
	"github.com/cory-johannsen/automap/internal/game/session"
	"github.com/cory-johannsen/automap/internal/game/world"
	"github.com/cory-johannsen/automap/internal/observability"
	"github.com/cory-johannsen/automap/internal/storage"
	"github.com/cory-johannsen/automap/internal/storage/sqlite"
)

type downStore struct{ storage.Store }

func (downStore) Ping(context.Context) error { return errors.New("connection refused") }

type apiFixture struct {
	srv      *httptest.Server
	sessions *session.Manager
	metrics  *observability.Metrics
}

func newAPIFixture(t *testing.T, store storage.Store) *apiFixture {
	t.Helper()
	if store == nil {
		s, err := sqlite.Open(":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		store = s
	}
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	logger := zap.NewNop()
	hubs := hub.NewRegistry(16, logger)
	sessions := session.NewManager(store, session.Config{
		SaveDebounce: time.Hour,
		StoreTimeout: time.Second,
	}, logger, metrics, hubs.Scene)

	api := NewAPI(sessions, hubs, store, reg, metrics, logger)
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	return &apiFixture{srv: srv, sessions: sessions, metrics: metrics}
}

func (f *apiFixture) post(t *testing.T, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(f.srv.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (f *apiFixture) get(t *testing.T, path string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(f.srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func (f *apiFixture) locate(t *testing.T, story, input, id string) moveResponse {
	t.Helper()
	if input != "" {
		resp := f.post(t, "/stories/"+story+"/input", `{"text":"`+input+`"}`)
		require.Equal(t, http.StatusNoContent, resp.StatusCode)
	}
	resp := f.post(t, "/stories/"+story+"/locate", `{"id":"`+id+`","name":"Room `+id+`"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out moveResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (f *apiFixture) snapshot(t *testing.T, story string) world.Snapshot {
	t.Helper()
	resp, body := f.get(t, "/stories/"+story+"/snapshot")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var snap world.Snapshot
	require.NoError(t, json.Unmarshal([]byte(body), &snap))
	return snap
}

func TestAPI_LocateBuildsMap(t *testing.T) {
	f := newAPIFixture(t, nil)

	first := f.locate(t, "zork", "", "hall")
	assert.True(t, first.RoomCreated)
	assert.Equal(t, string(world.SkipNoDirection), first.Skip)

	second := f.locate(t, "zork", "go north", "kitchen")
	assert.Equal(t, "north", second.Direction)
	require.NotNil(t, second.Path)
	assert.Equal(t, "hall->kitchen", second.Path.ID)

	again := f.locate(t, "zork", "look", "kitchen")
	assert.Equal(t, string(session.SkipAlreadyCurrent), again.Skip)

	snap := f.snapshot(t, "zork")
	assert.Len(t, snap.Rooms, 2)
	assert.Len(t, snap.Paths, 1)
	assert.Equal(t, "kitchen", snap.Current)
}

func TestAPI_MarkersRecordNoPath(t *testing.T) {
	f := newAPIFixture(t, nil)
	f.locate(t, "zork", "", "hall")

	resp := f.post(t, "/stories/zork/undo", "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	res := f.locate(t, "zork", "", "cellar")
	assert.Nil(t, res.Path)
	assert.NotEmpty(t, res.Skip)

	resp = f.post(t, "/stories/zork/print", `{"text":"You have died"}`)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	res = f.locate(t, "zork", "", "hall")
	assert.Nil(t, res.Path)
	assert.NotEmpty(t, res.Skip)

	assert.Empty(t, f.snapshot(t, "zork").Paths)
}

func TestAPI_ClearAndRestart(t *testing.T) {
	f := newAPIFixture(t, nil)
	f.locate(t, "zork", "", "hall")
	f.locate(t, "zork", "north", "kitchen")

	require.Equal(t, http.StatusNoContent, f.post(t, "/stories/zork/clear", "").StatusCode)
	snap := f.snapshot(t, "zork")
	require.Len(t, snap.Rooms, 1)
	assert.Equal(t, "kitchen", snap.Rooms[0].ID)

	require.Equal(t, http.StatusNoContent, f.post(t, "/stories/zork/restart", "").StatusCode)
	snap = f.snapshot(t, "zork")
	assert.Empty(t, snap.Rooms)
	assert.Empty(t, snap.Current)
}

func TestAPI_Drag(t *testing.T) {
	f := newAPIFixture(t, nil)
	f.locate(t, "zork", "", "hall")
	before := f.snapshot(t, "zork").Rooms[0]

	resp := f.post(t, "/stories/zork/rooms/hall/drag", `{"dx":12.5,"dy":-4}`)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	after := f.snapshot(t, "zork").Rooms[0]
	assert.Equal(t, before.X+12.5, after.X)
	assert.Equal(t, before.Y-4, after.Y)

	resp = f.post(t, "/stories/zork/rooms/nowhere/drag", `{"dx":1,"dy":1}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_DragClearedRoomIsNotFound(t *testing.T) {
	f := newAPIFixture(t, nil)
	f.locate(t, "zork", "", "hall")
	f.locate(t, "zork", "west", "study")
	require.Equal(t, http.StatusNoContent, f.post(t, "/stories/zork/clear", "").StatusCode)

	resp := f.post(t, "/stories/zork/rooms/hall/drag", `{"dx":1,"dy":1}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = f.post(t, "/stories/zork/rooms/study/drag", `{"dx":1,"dy":1}`)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestAPI_ConcurrentDragAndClear(t *testing.T) {
	f := newAPIFixture(t, nil)
	for i := 0; i < 20; i++ {
		f.locate(t, "zork", "", "hall")
		f.locate(t, "zork", "north", "kitchen")

		codes := make(chan int, 1)
		go func() {
			resp, err := http.Post(f.srv.URL+"/stories/zork/rooms/hall/drag", "application/json", strings.NewReader(`{"dx":1,"dy":1}`))
			if err != nil {
				codes <- 0
				return
			}
			_ = resp.Body.Close()
			codes <- resp.StatusCode
		}()
		require.Equal(t, http.StatusNoContent, f.post(t, "/stories/zork/clear", "").StatusCode)
		assert.Contains(t, []int{http.StatusNoContent, http.StatusNotFound}, <-codes)
	}
}

func TestAPI_EncodedMapRoundTrips(t *testing.T) {
	f := newAPIFixture(t, nil)
	f.locate(t, "zork", "", "hall")
	f.locate(t, "zork", "east", "garden")

	resp, body := f.get(t, "/stories/zork/map")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	m, err := codec.Unmarshal(body)
	require.NoError(t, err)
	assert.Equal(t, 2, m.RoomCount())
	assert.Equal(t, "garden", m.Current())
}

func TestAPI_BadRequests(t *testing.T) {
	f := newAPIFixture(t, nil)

	assert.Equal(t, http.StatusBadRequest, f.post(t, "/stories/zork/input", "{not json").StatusCode)
	assert.Equal(t, http.StatusBadRequest, f.post(t, "/stories/zork/locate", `{"name":"x"}`).StatusCode)
	assert.Equal(t, http.StatusBadRequest, f.post(t, "/stories/..bad/clear", "").StatusCode)
	assert.Equal(t, http.StatusBadRequest, f.post(t, "/stories/zork/rooms/a/drag", `[]`).StatusCode)

	resp, _ := f.get(t, "/stories/zork/input")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestAPI_Health(t *testing.T) {
	f := newAPIFixture(t, nil)
	resp, body := f.get(t, "/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body)

	s, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	down := newAPIFixture(t, downStore{s})
	resp, _ = down.get(t, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestAPI_Metrics(t *testing.T) {
	f := newAPIFixture(t, nil)
	f.locate(t, "zork", "", "hall")
	f.locate(t, "zork", "south", "porch")

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.HTTPRequests.WithLabelValues(http.MethodPost, "/stories/{story}/input", "204")))
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.HTTPRequests.WithLabelValues(http.MethodPost, "/stories/{story}/locate", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Transitions.WithLabelValues("path")))

	resp, body := f.get(t, "/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "automap_transitions_total")
	assert.Contains(t, body, `route="/stories/{story}/locate"`)
}

func TestAPI_SceneStreamsMap(t *testing.T) {
	f := newAPIFixture(t, nil)
	f.locate(t, "zork", "", "hall")

	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/stories/zork/scene"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var op hub.Op
	require.NoError(t, conn.ReadJSON(&op))
	assert.Equal(t, hub.OpCreate, op.Op)
	assert.Equal(t, hub.KindRoom, op.Kind)
	assert.Equal(t, "hall", op.ID)

	require.NoError(t, conn.WriteJSON(hub.Command{Op: "drag", ID: "hall", DX: 10}))
	for {
		require.NoError(t, conn.ReadJSON(&op))
		if op.Op == hub.OpUpdate && op.Kind == hub.KindRoom {
			break
		}
	}
	assert.Equal(t, "hall", op.ID)
}
