// Package scene keeps a rendered map consistent with world snapshots.
//
// A Synchronizer binds room and path ids to visual elements owned by a Scene.
// Each Sync creates elements for new ids, updates elements whose view changed,
// and removes elements whose ids disappeared, each exactly once. The Scene
// never sees the world.Map itself.
package scene

import (
	"fmt"
	"strings"

	"github.com/cory-johannsen/automap/internal/game/world"
)

const (
	// MinScale and MaxScale bound the viewport zoom.
	MinScale = 0.3
	MaxScale = 1.5

	// centerLift raises the centered room above the middle of the viewport.
	centerLift = 50
)

// RoomView is the render state of one room.
type RoomView struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Active bool    `json:"active"`
}

// PathView is the render state of one path. Endpoint coordinates are resolved
// from the snapshot on every pass and never stored in the model.
type PathView struct {
	ID     string  `json:"id"`
	Src    string  `json:"src"`
	Trg    string  `json:"trg"`
	X1     float64 `json:"x1"`
	Y1     float64 `json:"y1"`
	X2     float64 `json:"x2"`
	Y2     float64 `json:"y2"`
	Label  string  `json:"label"`
	Dashed bool    `json:"dashed"`
}

// Viewport is the translate/scale transform applied to the whole map.
type Viewport struct {
	TranslateX float64 `json:"tx"`
	TranslateY float64 `json:"ty"`
	Scale      float64 `json:"scale"`
}

// Scene is the render boundary. Implementations own the visual elements.
type Scene interface {
	CreateRoom(v RoomView)
	UpdateRoom(v RoomView)
	RemoveRoom(id string)
	CreatePath(v PathView)
	UpdatePath(v PathView)
	RemovePath(id string)
	SetViewport(v Viewport)
}

// Stats counts the scene operations issued by one pass.
type Stats struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Removed int `json:"removed"`
}

// Synchronizer reconciles one Scene against successive snapshots.
// It is driven from a single goroutine.
type Synchronizer struct {
	scene    Scene
	rooms    map[string]RoomView
	paths    map[string]PathView
	viewport Viewport
}

// NewSynchronizer binds a Synchronizer to scene. Nothing is drawn until Sync.
//
// Precondition: scene must be non-nil.
func NewSynchronizer(scene Scene) *Synchronizer {
	return &Synchronizer{
		scene:    scene,
		rooms:    make(map[string]RoomView),
		paths:    make(map[string]PathView),
		viewport: Viewport{Scale: 1},
	}
}

// Sync reconciles the scene with snap. Paths are removed before rooms and
// rooms are created before paths, so the scene never holds a path whose
// endpoints are missing.
//
// Precondition: snap has no dangling path endpoints.
// Postcondition: Calling Sync again with an unchanged snapshot issues no operations.
func (s *Synchronizer) Sync(snap world.Snapshot) Stats {
	roomViews := make(map[string]RoomView, len(snap.Rooms))
	roomIDs := make([]string, 0, len(snap.Rooms))
	for _, r := range snap.Rooms {
		roomViews[r.ID] = RoomView{ID: r.ID, Name: r.Name, X: r.X, Y: r.Y, Active: r.ID == snap.Current}
		roomIDs = append(roomIDs, r.ID)
	}

	pathViews := make(map[string]PathView, len(snap.Paths))
	pathIDs := make([]string, 0, len(snap.Paths))
	for _, p := range snap.Paths {
		src, trg := roomViews[p.Src], roomViews[p.Trg]
		pathViews[p.ID] = PathView{
			ID:     p.ID,
			Src:    p.Src,
			Trg:    p.Trg,
			X1:     src.X,
			Y1:     src.Y,
			X2:     trg.X,
			Y2:     trg.Y,
			Label:  PathLabel(p.Labels),
			Dashed: p.Indirect,
		}
		pathIDs = append(pathIDs, p.ID)
	}

	var st Stats
	pd := Diff(s.paths, pathIDs)
	for _, id := range pd.Removed {
		s.scene.RemovePath(id)
		delete(s.paths, id)
		st.Removed++
	}

	rd := Diff(s.rooms, roomIDs)
	for _, id := range rd.Removed {
		s.scene.RemoveRoom(id)
		delete(s.rooms, id)
		st.Removed++
	}
	for _, id := range rd.Kept {
		if v := roomViews[id]; v != s.rooms[id] {
			s.scene.UpdateRoom(v)
			s.rooms[id] = v
			st.Updated++
		}
	}
	for _, id := range rd.Added {
		v := roomViews[id]
		s.scene.CreateRoom(v)
		s.rooms[id] = v
		st.Created++
	}

	for _, id := range pd.Kept {
		if v := pathViews[id]; v != s.paths[id] {
			s.scene.UpdatePath(v)
			s.paths[id] = v
			st.Updated++
		}
	}
	for _, id := range pd.Added {
		v := pathViews[id]
		s.scene.CreatePath(v)
		s.paths[id] = v
		st.Created++
	}
	return st
}

// Drag moves a room by (dx, dy) on behalf of the user and redraws. This is
// the only path by which rendering writes coordinates back into the model;
// later passes use the dragged position as-is.
//
// Postcondition: Returns an error wrapping world.ErrInvariant if id is unknown.
func (s *Synchronizer) Drag(m *world.Map, id string, dx, dy float64) (Stats, error) {
	r, ok := m.Room(id)
	if !ok {
		return Stats{}, fmt.Errorf("%w: drag: unknown room %q", world.ErrInvariant, id)
	}
	if err := m.Reposition(id, r.X+dx, r.Y+dy); err != nil {
		return Stats{}, err
	}
	return s.Sync(m.Snapshot()), nil
}

// Center translates the viewport so the current room sits in the middle of a
// width x height view, at scale 1. With no current room the viewport is left
// unchanged. Calling Center repeatedly with the same input yields the same
// viewport.
func (s *Synchronizer) Center(snap world.Snapshot, width, height float64) Viewport {
	cur, ok := snap.RoomByID(snap.Current)
	if !ok {
		return s.viewport
	}
	s.viewport = Viewport{
		TranslateX: -cur.X + width/2,
		TranslateY: -cur.Y + height/2 - centerLift,
		Scale:      1,
	}
	s.scene.SetViewport(s.viewport)
	return s.viewport
}

// Zoom sets the viewport scale, clamped to [MinScale, MaxScale].
func (s *Synchronizer) Zoom(scale float64) Viewport {
	s.viewport.Scale = min(max(scale, MinScale), MaxScale)
	s.scene.SetViewport(s.viewport)
	return s.viewport
}

// Viewport returns the last viewport sent to the scene.
func (s *Synchronizer) Viewport() Viewport {
	return s.viewport
}

// Bound reports how many rooms and paths are currently drawn.
func (s *Synchronizer) Bound() (rooms, paths int) {
	return len(s.rooms), len(s.paths)
}

// PathLabel renders a path's labels as drawn next to the line.
func PathLabel(labels []world.Direction) string {
	parts := make([]string, len(labels))
	for i, l := range labels {
		parts[i] = string(l)
	}
	return strings.Join(parts, ", ") + " →"
}

// Discard is a Scene that draws nothing.
var Discard Scene = discard{}

type discard struct{}

func (discard) CreateRoom(RoomView) {}
func (discard) UpdateRoom(RoomView) {}
func (discard) RemoveRoom(string) {}
func (discard) CreatePath(PathView) {}
func (discard) UpdatePath(PathView) {}
func (discard) RemovePath(string) {}
func (discard) SetViewport(Viewport) {}
