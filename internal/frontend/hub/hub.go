// Package hub streams one story's scene to browser viewers over websockets.
//
// A Hub is a scene.Scene: every operation the Synchronizer issues is mirrored
// locally and broadcast as a JSON Op. A viewer that joins late first receives
// the mirrored state as create ops, then the live stream.
package hub

import (
	"encoding/json"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/cory-johannsen/automap/internal/frontend/scene"
)

// Op kinds and verbs on the wire.
const (
	OpCreate   = "create"
	OpUpdate   = "update"
	OpRemove   = "remove"
	OpViewport = "viewport"

	KindRoom = "room"
	KindPath = "path"
)

// Op is one scene operation as sent to viewers.
type Op struct {
	Op       string          `json:"op"`
	Kind     string          `json:"kind,omitempty"`
	ID       string          `json:"id,omitempty"`
	Room     *scene.RoomView `json:"room,omitempty"`
	Path     *scene.PathView `json:"path,omitempty"`
	Viewport *scene.Viewport `json:"viewport,omitempty"`
}

// Hub fans one story's scene out to its viewers. It is safe for concurrent use.
type Hub struct {
	mu       sync.Mutex
	story    string
	rooms    map[string]scene.RoomView
	paths    map[string]scene.PathView
	viewport *scene.Viewport
	clients  map[string]*Client
	buffer   int
	logger   *zap.Logger
}

// New creates a Hub with no viewers. buffer is the per-viewer queue length
// beyond the initial replay.
//
// Precondition: logger must be non-nil.
func New(story string, buffer int, logger *zap.Logger) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{
		story:   story,
		rooms:   make(map[string]scene.RoomView),
		paths:   make(map[string]scene.PathView),
		clients: make(map[string]*Client),
		buffer:  buffer,
		logger:  logger.With(zap.String("story", story)),
	}
}

// CreateRoom implements scene.Scene.
func (h *Hub) CreateRoom(v scene.RoomView) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rooms[v.ID] = v
	h.broadcastLocked(Op{Op: OpCreate, Kind: KindRoom, ID: v.ID, Room: &v})
}

// UpdateRoom implements scene.Scene.
func (h *Hub) UpdateRoom(v scene.RoomView) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rooms[v.ID] = v
	h.broadcastLocked(Op{Op: OpUpdate, Kind: KindRoom, ID: v.ID, Room: &v})
}

// RemoveRoom implements scene.Scene.
func (h *Hub) RemoveRoom(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.rooms, id)
	h.broadcastLocked(Op{Op: OpRemove, Kind: KindRoom, ID: id})
}

// CreatePath implements scene.Scene.
func (h *Hub) CreatePath(v scene.PathView) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.paths[v.ID] = v
	h.broadcastLocked(Op{Op: OpCreate, Kind: KindPath, ID: v.ID, Path: &v})
}

// UpdatePath implements scene.Scene.
func (h *Hub) UpdatePath(v scene.PathView) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.paths[v.ID] = v
	h.broadcastLocked(Op{Op: OpUpdate, Kind: KindPath, ID: v.ID, Path: &v})
}

// RemovePath implements scene.Scene.
func (h *Hub) RemovePath(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.paths, id)
	h.broadcastLocked(Op{Op: OpRemove, Kind: KindPath, ID: id})
}

// SetViewport implements scene.Scene.
func (h *Hub) SetViewport(v scene.Viewport) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.viewport = &v
	h.broadcastLocked(Op{Op: OpViewport, Viewport: &v})
}

// Join registers a viewer. Its queue is preloaded with the current scene:
// rooms, then paths, then the viewport.
//
// Postcondition: No op is both replayed and streamed to the new client.
func (h *Hub) Join(id string) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()

	replay := h.replayLocked()
	c := newClient(id, len(replay)+h.buffer)
	for _, op := range replay {
		// The queue was sized for the replay.
		_ = c.Push(encode(op))
	}
	if old, ok := h.clients[id]; ok {
		old.Close()
	}
	h.clients[id] = c
	h.logger.Debug("viewer joined", zap.String("client", id), zap.Int("replay", len(replay)))
	return c
}

// Leave removes and closes a viewer. Unknown ids are ignored.
func (h *Hub) Leave(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[id]; ok {
		c.Close()
		delete(h.clients, id)
	}
}

// Viewers returns how many viewers are connected.
func (h *Hub) Viewers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) replayLocked() []Op {
	ops := make([]Op, 0, len(h.rooms)+len(h.paths)+1)
	roomIDs := make([]string, 0, len(h.rooms))
	for id := range h.rooms {
		roomIDs = append(roomIDs, id)
	}
	sort.Strings(roomIDs)
	for _, id := range roomIDs {
		v := h.rooms[id]
		ops = append(ops, Op{Op: OpCreate, Kind: KindRoom, ID: id, Room: &v})
	}

	pathIDs := make([]string, 0, len(h.paths))
	for id := range h.paths {
		pathIDs = append(pathIDs, id)
	}
	sort.Strings(pathIDs)
	for _, id := range pathIDs {
		v := h.paths[id]
		ops = append(ops, Op{Op: OpCreate, Kind: KindPath, ID: id, Path: &v})
	}

	if h.viewport != nil {
		v := *h.viewport
		ops = append(ops, Op{Op: OpViewport, Viewport: &v})
	}
	return ops
}

func (h *Hub) broadcastLocked(op Op) {
	if len(h.clients) == 0 {
		return
	}
	data := encode(op)
	for id, c := range h.clients {
		if err := c.Push(data); err != nil {
			h.dropLocked(id, err)
		}
	}
}

// dropLocked disconnects a viewer. Closing its queue ends its connection.
func (h *Hub) dropLocked(id string, reason error) {
	c, ok := h.clients[id]
	if !ok {
		return
	}
	h.logger.Warn("dropping slow viewer", zap.String("client", id), zap.Error(reason))
	c.Close()
	delete(h.clients, id)
}

func encode(op Op) []byte {
	// Op holds only strings, floats and bools; Marshal cannot fail.
	data, _ := json.Marshal(op)
	return data
}

// Registry holds one Hub per story.
type Registry struct {
	mu     sync.Mutex
	hubs   map[string]*Hub
	buffer int
	logger *zap.Logger
}

// NewRegistry creates an empty Registry.
//
// Precondition: logger must be non-nil.
func NewRegistry(buffer int, logger *zap.Logger) *Registry {
	return &Registry{hubs: make(map[string]*Hub), buffer: buffer, logger: logger}
}

// For returns the Hub for story, creating it on first use.
func (r *Registry) For(story string) *Hub {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.hubs[story]
	if !ok {
		h = New(story, r.buffer, r.logger)
		r.hubs[story] = h
	}
	return h
}

// Scene adapts For to a session scene factory.
func (r *Registry) Scene(story string) scene.Scene {
	return r.For(story)
}
