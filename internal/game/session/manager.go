package session

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"github.com/cory-johannsen/automap/internal/codec"
	"github.com/cory-johannsen/automap/internal/frontend/scene"
	"github.com/cory-johannsen/automap/internal/game/world"
	"github.com/cory-johannsen/automap/internal/observability"
	"github.com/cory-johannsen/automap/internal/storage"
)

// keySuffix is appended to a story name to form its storage key.
const keySuffix = "::map"

// ErrInvalidStory is returned for story names that cannot be used as keys.
var ErrInvalidStory = errors.New("invalid story name")

var storyName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ValidStory reports whether name can identify a story.
func ValidStory(name string) bool {
	return storyName.MatchString(name)
}

// StoryKey returns the storage key for a story's map.
func StoryKey(story string) string {
	return story + keySuffix
}

// StoryID derives a stable story name from the story file's contents, so the
// same game keeps its map when the file is renamed.
//
// Postcondition: ValidStory(StoryID(data)) is true.
func StoryID(data []byte) string {
	sum := blake2b.Sum256(data)
	return "story-" + hex.EncodeToString(sum[:12])
}

// Config holds the settings shared by every session.
type Config struct {
	// MapOptions configure every map created or decoded.
	MapOptions []world.Option
	// SaveDebounce delays persisting after a change.
	SaveDebounce time.Duration
	// StoreTimeout bounds a single store call.
	StoreTimeout time.Duration
}

// SceneFactory returns the scene a new session draws on.
type SceneFactory func(story string) scene.Scene

// Manager holds one Session per open story.
// All methods are safe for concurrent use.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	store    storage.Store
	cfg      Config
	logger   *zap.Logger
	metrics  *observability.Metrics
	newScene SceneFactory
}

// NewManager creates an empty Manager.
//
// Precondition: store, logger and metrics must be non-nil. A nil newScene
// draws nothing.
func NewManager(store storage.Store, cfg Config, logger *zap.Logger, metrics *observability.Metrics, newScene SceneFactory) *Manager {
	if newScene == nil {
		newScene = func(string) scene.Scene { return scene.Discard }
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	return &Manager{
		sessions: make(map[string]*Session),
		store:    store,
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		newScene: newScene,
	}
}

// Open returns the session for story, loading its stored map on first use.
// A missing or unreadable stored map starts the story with an empty map.
//
// Postcondition: Returns ErrInvalidStory for a bad name, or a wrapped store
// error if the map could not be read.
func (m *Manager) Open(ctx context.Context, story string) (*Session, error) {
	if !ValidStory(story) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStory, story)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[story]; ok {
		return s, nil
	}

	mp, err := m.load(ctx, story)
	if err != nil {
		return nil, err
	}
	s := newSession(story, mp, m.newScene(story), m)
	m.sessions[story] = s
	m.metrics.ActiveSessions.Set(float64(len(m.sessions)))
	m.logger.Info("story opened",
		zap.String("story", story),
		zap.Int("rooms", mp.RoomCount()),
		zap.Int("paths", mp.PathCount()),
	)
	return s, nil
}

func (m *Manager) load(ctx context.Context, story string) (*world.Map, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.StoreTimeout)
	defer cancel()

	data, err := m.store.Load(ctx, StoryKey(story))
	if errors.Is(err, storage.ErrNotFound) {
		return world.NewMap(m.cfg.MapOptions...), nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading %q: %w", story, err)
	}

	mp, err := codec.Unmarshal(data, m.cfg.MapOptions...)
	switch {
	case err == nil:
		return mp, nil
	case errors.Is(err, codec.ErrEmpty):
	default:
		m.metrics.DecodeFailures.Inc()
		m.logger.Warn("discarding unreadable map",
			zap.String("story", story),
			zap.Error(err),
		)
	}
	return world.NewMap(m.cfg.MapOptions...), nil
}

// Get returns the session for story if it is open.
func (m *Manager) Get(story string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[story]
	return s, ok
}

// Stories lists the open stories in name order.
func (m *Manager) Stories() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sessions))
	for name := range m.sessions {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Close flushes every open session and forgets them.
//
// Postcondition: Returns the joined flush errors, if any.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.metrics.ActiveSessions.Set(0)
	m.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		if err := s.Flush(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
