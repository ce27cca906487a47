// Package world provides the automatic cartography model: direction parsing,
// discovered rooms, the paths between them, and the player's current position.
package world

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
)

// ErrInvariant marks a caller sequencing bug, such as linking a room that was
// never observed. It is never produced by untrusted move text.
var ErrInvariant = errors.New("topology invariant violated")

// DefaultExemptMarkers are the transition strings the reference interpreter
// substitutes for player input on engine-driven state changes.
var DefaultExemptMarkers = []string{"DIED", "UNDO", "REDO", "restore", "y"}

const (
	defaultOriginX = 300
	defaultOriginY = 200
	defaultNudge   = 250
)

// clauseSplitter breaks move text into clauses at sentence punctuation and "and".
var clauseSplitter = regexp.MustCompile(`(?i)[.,;!?]|\band\b`)

// Room is a discovered location.
type Room struct {
	ID   string  `json:"id"`
	Name string  `json:"name"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

// Path is a discovered connection from Src to Trg.
type Path struct {
	// ID is always PathID(Src, Trg).
	ID  string `json:"id"`
	Src string `json:"src"`
	Trg string `json:"trg"`
	// Labels holds each direction once, in the order first observed.
	Labels []Direction `json:"labels"`
	// Indirect is true when any label is up, down, in or out.
	Indirect bool `json:"indirect"`
}

// HasLabel reports whether d is already one of the path's labels.
func (p *Path) HasLabel(d Direction) bool {
	for _, l := range p.Labels {
		if l == d {
			return true
		}
	}
	return false
}

// PathID returns the deterministic id of the path from src to trg.
func PathID(src, trg string) string {
	return src + "->" + trg
}

// Option customizes a Map.
type Option func(*Map)

// WithOrigin sets where the first room is placed.
func WithOrigin(x, y float64) Option {
	return func(m *Map) {
		m.originX, m.originY = x, y
	}
}

// WithNudge sets the horizontal shift applied for an unrecognized direction hint.
func WithNudge(dx float64) Option {
	return func(m *Map) {
		m.nudge = dx
	}
}

// WithExemptMarkers replaces the set of transition strings that never create paths.
func WithExemptMarkers(markers ...string) Option {
	return func(m *Map) {
		m.exempt = make(map[string]struct{}, len(markers))
		for _, mk := range markers {
			m.exempt[mk] = struct{}{}
		}
	}
}

// WithTransitionFilter installs an additional predicate; transitions for which
// it returns true are treated like exempt markers.
func WithTransitionFilter(fn func(transition string) bool) Option {
	return func(m *Map) {
		m.filter = fn
	}
}

// Map is the topology of one story: rooms and paths keyed by id plus the
// current room. A Map is owned by a single actor and is not safe for
// concurrent use.
type Map struct {
	rooms   map[string]*Room
	paths   map[string]*Path
	current string

	originX, originY float64
	nudge            float64
	exempt           map[string]struct{}
	filter           func(string) bool
}

// NewMap creates an empty Map.
//
// Postcondition: Returns a Map with no rooms, no paths and no current room.
func NewMap(opts ...Option) *Map {
	m := &Map{
		rooms:   make(map[string]*Room),
		paths:   make(map[string]*Path),
		originX: defaultOriginX,
		originY: defaultOriginY,
		nudge:   defaultNudge,
	}
	WithExemptMarkers(DefaultExemptMarkers...)(m)
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AddRoom places a new room relative to the current one.
//
// The first room goes to the origin. Later rooms are offset from the current
// room by the static table for hint; an unrecognized non-empty hint shifts the
// room horizontally by the nudge so it does not sit on top of the current room.
// AddRoom never moves an existing room.
//
// Precondition: id must be non-empty.
func (m *Map) AddRoom(id, name string, hint Direction) {
	if _, ok := m.rooms[id]; ok {
		return
	}
	x, y := m.originX, m.originY
	if cur, ok := m.rooms[m.current]; ok {
		x, y = cur.X, cur.Y
	}
	if off, ok := offsets[hint]; ok {
		x += off.dx
		y += off.dy
	} else if hint != "" {
		x += m.nudge
	}
	m.rooms[id] = &Room{ID: id, Name: name, X: x, Y: y}
}

// AddPath records that label leads from src to trg.
//
// Precondition: src and trg must both be known rooms.
// Postcondition: Returns the created or merged path, or an error wrapping
// ErrInvariant when either endpoint is unknown. Re-adding an existing label
// changes nothing.
func (m *Map) AddPath(src, trg string, label Direction) (*Path, error) {
	if _, ok := m.rooms[src]; !ok {
		return nil, fmt.Errorf("%w: path %s: unknown source room %q", ErrInvariant, PathID(src, trg), src)
	}
	if _, ok := m.rooms[trg]; !ok {
		return nil, fmt.Errorf("%w: path %s: unknown target room %q", ErrInvariant, PathID(src, trg), trg)
	}

	id := PathID(src, trg)
	if p, ok := m.paths[id]; ok {
		if !p.HasLabel(label) {
			p.Labels = append(p.Labels, label)
			p.Indirect = p.Indirect || label.IsIndirect()
		}
		return p, nil
	}

	p := &Path{
		ID:       id,
		Src:      src,
		Trg:      trg,
		Labels:   []Direction{label},
		Indirect: label.IsIndirect(),
	}
	m.paths[id] = p
	return p, nil
}

// SkipReason explains why a move did not produce a path.
type SkipReason string

// Reasons a move may leave the topology's paths untouched.
const (
	SkipNone        SkipReason = ""
	SkipNoDirection SkipReason = "no_direction"
	SkipAmbiguous   SkipReason = "ambiguous"
	SkipNoCurrent   SkipReason = "no_current"
	SkipExempt      SkipReason = "exempt"
)

// MoveResult describes the effect of one MoveTo call.
type MoveResult struct {
	// Direction is the effective direction parsed from the transition text.
	Direction Direction
	// RoomCreated is true when the destination had not been seen before.
	RoomCreated bool
	// Path is the created or merged path, or nil when Skip is set.
	Path *Path
	// Skip is why no path was recorded.
	Skip SkipReason
}

// MoveTo records that the player arrived in room id after typing transition.
//
// The transition is split into clauses and the last clause naming a direction
// wins, since earlier clauses usually describe side actions ("open door. go
// north"). A path from the previous room is only recorded when exactly one
// clause names a direction, a previous room exists, and the transition is not
// an exempt marker. The current room always advances to id.
//
// Precondition: id must be non-empty.
func (m *Map) MoveTo(id, name, transition string) (MoveResult, error) {
	var found []Direction
	for _, clause := range clauseSplitter.Split(transition, -1) {
		if d := Parse(clause); d != "" {
			found = append(found, d)
		}
	}

	var res MoveResult
	if len(found) > 0 {
		res.Direction = found[len(found)-1]
	}

	if _, ok := m.rooms[id]; !ok {
		m.AddRoom(id, name, res.Direction)
		res.RoomCreated = true
	}

	switch {
	case res.Direction == "":
		res.Skip = SkipNoDirection
	case len(found) > 1:
		res.Skip = SkipAmbiguous
	case m.current == "":
		res.Skip = SkipNoCurrent
	case m.isExempt(transition):
		res.Skip = SkipExempt
	default:
		p, err := m.AddPath(m.current, id, res.Direction)
		if err != nil {
			m.current = id
			return res, err
		}
		cp := copyPath(p)
		res.Path = &cp
	}

	m.current = id
	return res, nil
}

func (m *Map) isExempt(transition string) bool {
	if _, ok := m.exempt[transition]; ok {
		return true
	}
	return m.filter != nil && m.filter(transition)
}

// Clear discards every path and every room except the current one.
//
// Postcondition: Rooms holds only the current room (none if there is no current
// room) and there are no paths.
func (m *Map) Clear() {
	cur, ok := m.rooms[m.current]
	m.rooms = make(map[string]*Room)
	m.paths = make(map[string]*Path)
	if ok {
		m.rooms[cur.ID] = cur
	} else {
		m.current = ""
	}
}

// Reposition moves a room to a user-chosen position. It is the only way to
// change a room's coordinates after creation. Coordinates are rounded to two
// decimal places.
//
// Postcondition: Returns an error wrapping ErrInvariant if id is unknown.
func (m *Map) Reposition(id string, x, y float64) error {
	r, ok := m.rooms[id]
	if !ok {
		return fmt.Errorf("%w: reposition: unknown room %q", ErrInvariant, id)
	}
	r.X = round2(x)
	r.Y = round2(y)
	return nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Current returns the current room id, or "" when none.
func (m *Map) Current() string {
	return m.current
}

// IsCurrent reports whether id is the current room.
func (m *Map) IsCurrent(id string) bool {
	return m.current != "" && m.current == id
}

// Room returns a copy of the room with the given id.
func (m *Map) Room(id string) (Room, bool) {
	r, ok := m.rooms[id]
	if !ok {
		return Room{}, false
	}
	return *r, true
}

// Path returns a copy of the path with the given id.
func (m *Map) Path(id string) (Path, bool) {
	p, ok := m.paths[id]
	if !ok {
		return Path{}, false
	}
	return copyPath(p), true
}

// RoomCount returns the number of known rooms.
func (m *Map) RoomCount() int {
	return len(m.rooms)
}

// PathCount returns the number of known paths.
func (m *Map) PathCount() int {
	return len(m.paths)
}

func copyPath(p *Path) Path {
	cp := *p
	cp.Labels = append([]Direction(nil), p.Labels...)
	return cp
}

// Snapshot is an immutable view of a Map at one point in time.
type Snapshot struct {
	Rooms   []Room `json:"rooms"`
	Paths   []Path `json:"paths"`
	Current string `json:"current"`
}

// Snapshot copies the map's rooms and paths, each sorted by id.
//
// Postcondition: Mutating the returned value never affects the Map.
func (m *Map) Snapshot() Snapshot {
	snap := Snapshot{
		Rooms:   make([]Room, 0, len(m.rooms)),
		Paths:   make([]Path, 0, len(m.paths)),
		Current: m.current,
	}
	for _, r := range m.rooms {
		snap.Rooms = append(snap.Rooms, *r)
	}
	for _, p := range m.paths {
		snap.Paths = append(snap.Paths, copyPath(p))
	}
	sort.Slice(snap.Rooms, func(i, j int) bool { return snap.Rooms[i].ID < snap.Rooms[j].ID })
	sort.Slice(snap.Paths, func(i, j int) bool { return snap.Paths[i].ID < snap.Paths[j].ID })
	return snap
}

// RoomByID returns the snapshot room with the given id.
func (s Snapshot) RoomByID(id string) (Room, bool) {
	i := sort.Search(len(s.Rooms), func(i int) bool { return s.Rooms[i].ID >= id })
	if i < len(s.Rooms) && s.Rooms[i].ID == id {
		return s.Rooms[i], true
	}
	return Room{}, false
}

// PathSpec defines a path by its endpoints and labels, without its derived id.
type PathSpec struct {
	Src    string
	Trg    string
	Labels []Direction
}

// Restore rebuilds a Map from persisted parts. Rooms are inserted as given;
// paths are replayed through AddPath so duplicate specs merge and the
// indirect flag is recomputed.
//
// Postcondition: Returns a Map satisfying every invariant, or an error
// wrapping ErrInvariant (dangling path endpoint, unknown current room, empty
// room id).
func Restore(rooms []Room, paths []PathSpec, current string, opts ...Option) (*Map, error) {
	m := NewMap(opts...)
	for _, r := range rooms {
		if r.ID == "" {
			return nil, fmt.Errorf("%w: restore: room with empty id", ErrInvariant)
		}
		r := r
		m.rooms[r.ID] = &r
	}
	for _, ps := range paths {
		for _, label := range ps.Labels {
			if _, err := m.AddPath(ps.Src, ps.Trg, label); err != nil {
				return nil, fmt.Errorf("restore: %w", err)
			}
		}
	}
	if current != "" {
		if _, ok := m.rooms[current]; !ok {
			return nil, fmt.Errorf("%w: restore: unknown current room %q", ErrInvariant, current)
		}
	}
	m.current = current
	return m, nil
}
