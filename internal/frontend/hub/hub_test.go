package hub

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/automap/internal/frontend/scene"
)

func drain(t *testing.T, c *Client) []Op {
	t.Helper()
	var ops []Op
	for {
		select {
		case data, ok := <-c.Events():
			if !ok {
				return ops
			}
			var op Op
			require.NoError(t, json.Unmarshal(data, &op))
			ops = append(ops, op)
		default:
			return ops
		}
	}
}

func TestJoin_ReplaysMirror(t *testing.T) {
	h := New("zork", 8, zap.NewNop())
	h.CreateRoom(scene.RoomView{ID: "b", Name: "Kitchen"})
	h.CreateRoom(scene.RoomView{ID: "a", Name: "Attic"})
	h.CreateRoom(scene.RoomView{ID: "c", Name: "Cellar"})
	h.RemoveRoom("c")
	h.CreatePath(scene.PathView{ID: "a-b", Src: "a", Trg: "b", Label: "down"})
	h.UpdateRoom(scene.RoomView{ID: "b", Name: "Kitchen", Active: true})
	h.SetViewport(scene.Viewport{TranslateX: 10, TranslateY: 20, Scale: 1})

	ops := drain(t, h.Join("v1"))
	require.Len(t, ops, 4)
	assert.Equal(t, Op{Op: OpCreate, Kind: KindRoom, ID: "a", Room: &scene.RoomView{ID: "a", Name: "Attic"}}, ops[0])
	assert.Equal(t, "b", ops[1].ID)
	assert.True(t, ops[1].Room.Active, "replay carries the latest state")
	assert.Equal(t, KindPath, ops[2].Kind)
	assert.Equal(t, OpCreate, ops[2].Op)
	assert.Equal(t, OpViewport, ops[3].Op)
	assert.Equal(t, 20.0, ops[3].Viewport.TranslateY)
}

func TestJoin_EmptyHubReplaysNothing(t *testing.T) {
	h := New("zork", 8, zap.NewNop())
	assert.Empty(t, drain(t, h.Join("v1")))
	assert.Equal(t, 1, h.Viewers())
}

func TestBroadcast_ReachesEveryViewer(t *testing.T) {
	h := New("zork", 8, zap.NewNop())
	v1 := h.Join("v1")
	v2 := h.Join("v2")

	h.CreateRoom(scene.RoomView{ID: "a"})
	h.RemovePath("x")

	for _, c := range []*Client{v1, v2} {
		ops := drain(t, c)
		require.Len(t, ops, 2)
		assert.Equal(t, OpCreate, ops[0].Op)
		assert.Equal(t, Op{Op: OpRemove, Kind: KindPath, ID: "x"}, ops[1])
	}
}

func TestSlowViewerIsDropped(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	h := New("zork", 1, zap.New(core))
	slow := h.Join("slow")

	h.CreateRoom(scene.RoomView{ID: "a"})
	h.CreateRoom(scene.RoomView{ID: "b"})

	assert.Equal(t, 0, h.Viewers())
	ops := drain(t, slow)
	require.Len(t, ops, 1, "queued ops are still delivered before close")
	assert.Equal(t, "a", ops[0].ID)
	_, open := <-slow.Events()
	assert.False(t, open)
	assert.Equal(t, 1, logs.FilterMessage("dropping slow viewer").Len())
}

func TestJoin_ReplacesSameID(t *testing.T) {
	h := New("zork", 4, zap.NewNop())
	old := h.Join("v")
	h.Join("v")
	_, open := <-old.Events()
	assert.False(t, open)
	assert.Equal(t, 1, h.Viewers())
}

func TestLeave(t *testing.T) {
	h := New("zork", 4, zap.NewNop())
	c := h.Join("v")
	h.Leave("v")
	h.Leave("v")
	h.Leave("unknown")
	assert.Equal(t, 0, h.Viewers())
	assert.ErrorIs(t, c.Push([]byte("x")), ErrClientClosed)
}

func TestClient_PushFull(t *testing.T) {
	c := newClient("v", 1)
	require.NoError(t, c.Push([]byte("a")))
	assert.ErrorIs(t, c.Push([]byte("b")), ErrBufferFull)
	c.Close()
	c.Close()
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(4, zap.NewNop())
	a := r.For("zork")
	assert.Same(t, a, r.For("zork"))
	assert.NotSame(t, a, r.For("anchorhead"))
	assert.Same(t, a, r.Scene("zork"))
}

func TestPropertyReplayMatchesMirror(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		h := New("zork", 4, zap.NewNop())
		live := map[string]bool{}
		steps := rapid.SliceOfN(rapid.IntRange(0, 9), 1, 50).Draw(t, "steps")
		for i, n := range steps {
			id := string(rune('a' + n))
			if i%3 == 2 {
				h.RemoveRoom(id)
				delete(live, id)
				continue
			}
			h.CreateRoom(scene.RoomView{ID: id})
			live[id] = true
		}

		c := h.Join("v")
		seen := map[string]bool{}
		prev := ""
		for data := range drainAll(c) {
			var op Op
			if err := json.Unmarshal(data, &op); err != nil {
				t.Fatal(err)
			}
			if op.Op != OpCreate || op.ID <= prev {
				t.Fatalf("unexpected replay op %+v after %q", op, prev)
			}
			prev = op.ID
			seen[op.ID] = true
		}
		if len(seen) != len(live) {
			t.Fatalf("replayed %d rooms, want %d", len(seen), len(live))
		}
	})
}

func drainAll(c *Client) <-chan []byte {
	c.Close()
	return c.Events()
}

type recordingController struct {
	mu    sync.Mutex
	drags []string
	zooms []float64
}

func (r *recordingController) Drag(id string, dx, dy float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drags = append(r.drags, id)
	return nil
}

func (r *recordingController) Center(width, height float64) scene.Viewport {
	return scene.Viewport{Scale: 1}
}

func (r *recordingController) Zoom(scale float64) scene.Viewport {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.zooms = append(r.zooms, scale)
	return scene.Viewport{Scale: scale}
}

func (r *recordingController) snapshot() ([]string, []float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.drags...), append([]float64(nil), r.zooms...)
}

func TestServeWS(t *testing.T) {
	h := New("zork", 16, zap.NewNop())
	h.CreateRoom(scene.RoomView{ID: "a", Name: "Attic"})
	ctrl := &recordingController{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeWS(w, r, ctrl)
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var op Op
	require.NoError(t, conn.ReadJSON(&op))
	assert.Equal(t, OpCreate, op.Op)
	assert.Equal(t, "Attic", op.Room.Name)

	require.Eventually(t, func() bool { return h.Viewers() == 1 }, time.Second, 10*time.Millisecond)
	h.SetViewport(scene.Viewport{Scale: 2})
	require.NoError(t, conn.ReadJSON(&op))
	assert.Equal(t, OpViewport, op.Op)
	assert.Equal(t, 2.0, op.Viewport.Scale)

	require.NoError(t, conn.WriteJSON(Command{Op: "drag", ID: "a", DX: 5}))
	require.NoError(t, conn.WriteJSON(Command{Op: "zoom", Scale: 1.5}))
	require.NoError(t, conn.WriteJSON(Command{Op: "bogus"}))
	require.Eventually(t, func() bool {
		drags, zooms := ctrl.snapshot()
		return len(drags) == 1 && len(zooms) == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	require.Eventually(t, func() bool { return h.Viewers() == 0 }, time.Second, 10*time.Millisecond)
}

func TestServeWS_DroppedViewerIsDisconnected(t *testing.T) {
	h := New("zork", 16, zap.NewNop())
	ctrl := &recordingController{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeWS(w, r, ctrl)
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return h.Viewers() == 1 }, time.Second, 10*time.Millisecond)

	h.mu.Lock()
	for id := range h.clients {
		h.dropLocked(id, ErrBufferFull)
	}
	h.mu.Unlock()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	var ne interface{ Timeout() bool }
	if errors.As(err, &ne) {
		assert.False(t, ne.Timeout(), "socket should be closed, not idle")
	}

	_ = conn.WriteJSON(Command{Op: "drag", ID: "a", DX: 5})
	time.Sleep(100 * time.Millisecond)
	drags, _ := ctrl.snapshot()
	assert.Empty(t, drags, "gestures from a dropped viewer are ignored")
	assert.Equal(t, 0, h.Viewers())
}

func TestDropLocked_UnknownIDIsIgnored(t *testing.T) {
	h := New("zork", 4, zap.NewNop())
	h.Join("v")
	h.mu.Lock()
	h.dropLocked("other", ErrBufferFull)
	h.mu.Unlock()
	assert.Equal(t, 1, h.Viewers())
}
