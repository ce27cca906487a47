// Package session ties one story's map to the engine events that grow it, the
// store that persists it, and the scene that draws it.
package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/automap/internal/codec"
	"github.com/cory-johannsen/automap/internal/frontend/scene"
	"github.com/cory-johannsen/automap/internal/game/world"
	"github.com/cory-johannsen/automap/internal/observability"
	"github.com/cory-johannsen/automap/internal/storage"
)

// Transition markers set by engine events rather than typed commands.
const (
	MarkerDied    = "DIED"
	MarkerUndo    = "UNDO"
	MarkerRedo    = "REDO"
	MarkerRestore = "restore"
)

// deathNotice in engine output marks the next transition as a death.
const deathNotice = "You have died"

// SkipAlreadyCurrent is reported by Locate when the engine names the room the
// player is already in.
const SkipAlreadyCurrent world.SkipReason = "already_current"

// Session owns one story's Map. All methods are safe for concurrent use; they
// are serialized on one mutex so the Map only ever sees a single actor.
type Session struct {
	mu        sync.Mutex
	story     string
	key       string
	m         *world.Map
	opts      []world.Option
	sync      *scene.Synchronizer
	lastInput string

	store    storage.Store
	logger   *zap.Logger
	metrics  *observability.Metrics
	debounce time.Duration
	timeout  time.Duration

	timer *time.Timer
	gen   uint64
	seq   uint64

	// persistMu orders writes to the store; persisted is the seq of the
	// newest encode written, so an older in-flight write never lands last.
	persistMu sync.Mutex
	persisted uint64
}

func newSession(story string, m *world.Map, sc scene.Scene, mgr *Manager) *Session {
	s := &Session{
		story:    story,
		key:      StoryKey(story),
		m:        m,
		opts:     mgr.cfg.MapOptions,
		sync:     scene.NewSynchronizer(sc),
		store:    mgr.store,
		logger:   mgr.logger.With(zap.String("story", story)),
		metrics:  mgr.metrics,
		debounce: mgr.cfg.SaveDebounce,
		timeout:  mgr.cfg.StoreTimeout,
	}
	s.render()
	return s
}

// Story returns the story name.
func (s *Session) Story() string {
	return s.story
}

// Input records a command typed by the player. It becomes the transition
// text of the next move.
func (s *Session) Input(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastInput = text
}

// LastInput returns the transition text the next move will use.
func (s *Session) LastInput() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastInput
}

// Print handles text output by the engine. Any pending save is cancelled so
// output is never delayed behind persistence; a death notice marks the next
// transition as DIED.
func (s *Session) Print(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelSaveLocked()
	if strings.Contains(text, deathNotice) {
		s.lastInput = MarkerDied
	}
}

// Undo marks the next transition as an undo.
func (s *Session) Undo() { s.mark(MarkerUndo) }

// Redo marks the next transition as a redo.
func (s *Session) Redo() { s.mark(MarkerRedo) }

// Restore marks the next transition as a restored save.
func (s *Session) Restore() { s.mark(MarkerRestore) }

func (s *Session) mark(marker string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastInput = marker
}

// Locate handles the engine reporting the player's room. Reports naming the
// current room are ignored; anything else is a move using the last input as
// the transition text.
//
// Precondition: id must be non-empty.
// Postcondition: Returns an error wrapping world.ErrInvariant only on an
// internal topology fault; the current room has still advanced.
func (s *Session) Locate(id, name string) (world.MoveResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.m.IsCurrent(id) {
		return world.MoveResult{Skip: SkipAlreadyCurrent}, nil
	}

	res, err := s.m.MoveTo(id, name, s.lastInput)
	if err != nil {
		s.logger.Error("recording move",
			zap.String("room", id),
			zap.String("transition", s.lastInput),
			zap.Error(err),
		)
		s.renderLocked()
		return res, err
	}

	outcome := "path"
	if res.Skip != world.SkipNone {
		outcome = string(res.Skip)
	}
	s.metrics.Transitions.WithLabelValues(outcome).Inc()
	if res.RoomCreated {
		s.metrics.RoomsCreated.Inc()
	}
	s.logger.Debug("moved",
		zap.String("room", id),
		zap.String("transition", s.lastInput),
		zap.String("direction", string(res.Direction)),
		zap.String("outcome", outcome),
	)

	s.renderLocked()
	s.scheduleSaveLocked()
	return res, nil
}

// Clear discards every room and path except the current room.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelSaveLocked()
	s.m.Clear()
	s.renderLocked()
	s.scheduleSaveLocked()
}

// Restart forgets the story's map entirely, deleting it from the store.
func (s *Session) Restart(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelSaveLocked()
	s.m = world.NewMap(s.opts...)
	s.lastInput = ""
	s.renderLocked()

	s.seq++
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	s.persisted = s.seq

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.store.Delete(ctx, s.key); err != nil {
		return fmt.Errorf("restarting %q: %w", s.story, err)
	}
	return nil
}

// Drag moves a room on behalf of the user.
//
// Postcondition: Returns an error wrapping world.ErrInvariant if id is unknown.
func (s *Session) Drag(id string, dx, dy float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.sync.Drag(s.m, id, dx, dy)
	if err != nil {
		return err
	}
	s.countOps(st)
	s.scheduleSaveLocked()
	return nil
}

// Center moves the viewport onto the current room.
func (s *Session) Center(width, height float64) scene.Viewport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sync.Center(s.m.Snapshot(), width, height)
}

// Zoom sets the viewport scale, clamped to the allowed range.
func (s *Session) Zoom(scale float64) scene.Viewport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sync.Zoom(scale)
}

// Snapshot returns a copy of the map.
func (s *Session) Snapshot() world.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m.Snapshot()
}

// Encoded returns the map in its persisted form.
func (s *Session) Encoded() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return codec.Encode(s.m)
}

// Flush cancels any pending save and persists the map now.
func (s *Session) Flush(ctx context.Context) error {
	s.mu.Lock()
	s.cancelSaveLocked()
	seq, data := s.encodeLocked()
	s.mu.Unlock()
	return s.persist(ctx, seq, data)
}

func (s *Session) encodeLocked() (uint64, string) {
	s.seq++
	return s.seq, codec.Encode(s.m)
}

func (s *Session) render() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.renderLocked()
}

func (s *Session) renderLocked() {
	s.countOps(s.sync.Sync(s.m.Snapshot()))
}

func (s *Session) countOps(st scene.Stats) {
	s.metrics.SceneOps.WithLabelValues("created").Add(float64(st.Created))
	s.metrics.SceneOps.WithLabelValues("updated").Add(float64(st.Updated))
	s.metrics.SceneOps.WithLabelValues("removed").Add(float64(st.Removed))
}

// scheduleSaveLocked arms the debounce timer. A later call supersedes an
// earlier one; only the last encode within the window runs.
func (s *Session) scheduleSaveLocked() {
	s.cancelSaveLocked()
	gen := s.gen
	s.timer = time.AfterFunc(s.debounce, func() { s.fire(gen) })
}

func (s *Session) cancelSaveLocked() {
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Session) fire(gen uint64) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	seq, data := s.encodeLocked()
	s.mu.Unlock()

	if err := s.persist(context.Background(), seq, data); err != nil {
		s.logger.Error("saving map", zap.Error(err))
	}
}

func (s *Session) persist(ctx context.Context, seq uint64, data string) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	if seq <= s.persisted {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	err := s.store.Save(ctx, s.key, data)
	s.metrics.SaveDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		s.metrics.Saves.WithLabelValues("error").Inc()
		return fmt.Errorf("saving %q: %w", s.story, err)
	}
	s.metrics.Saves.WithLabelValues("ok").Inc()
	s.persisted = seq
	return nil
}
