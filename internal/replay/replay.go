// Package replay feeds a recorded transcript of engine events through a story
// session, rebuilding its map offline.
package replay

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cory-johannsen/automap/internal/game/world"
)

// Marker events.
const (
	MarkUndo    = "undo"
	MarkRedo    = "redo"
	MarkRestore = "restore"
	MarkClear   = "clear"
)

// ErrMalformedEvent is returned for events that set zero or several actions.
var ErrMalformedEvent = errors.New("event must set exactly one of input, print, locate, mark")

// Location is the engine's report of the player's room.
type Location struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// Event is one engine event. Exactly one field is set.
type Event struct {
	Input  *string   `yaml:"input,omitempty"`
	Print  *string   `yaml:"print,omitempty"`
	Locate *Location `yaml:"locate,omitempty"`
	Mark   string    `yaml:"mark,omitempty"`
}

// Transcript is a recorded play session.
type Transcript struct {
	Story  string  `yaml:"story"`
	Events []Event `yaml:"events"`
}

// Target receives replayed events. *session.Session implements it.
type Target interface {
	Input(text string)
	Print(text string)
	Locate(id, name string) (world.MoveResult, error)
	Undo()
	Redo()
	Restore()
	Clear()
}

// Summary counts what a replay did.
type Summary struct {
	Events       int
	Moves        int
	Paths        int
	RoomsCreated int
	Skips        map[world.SkipReason]int
}

// Parse decodes and validates a YAML transcript.
func Parse(r io.Reader) (Transcript, error) {
	var t Transcript
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&t); err != nil {
		if errors.Is(err, io.EOF) {
			return Transcript{}, errors.New("empty transcript")
		}
		return Transcript{}, fmt.Errorf("decoding transcript: %w", err)
	}
	for i, ev := range t.Events {
		if err := ev.validate(); err != nil {
			return Transcript{}, fmt.Errorf("event %d: %w", i, err)
		}
	}
	return t, nil
}

// Load reads a transcript file.
func Load(path string) (Transcript, error) {
	f, err := os.Open(path)
	if err != nil {
		return Transcript{}, fmt.Errorf("opening transcript: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

func (e Event) validate() error {
	set := 0
	if e.Input != nil {
		set++
	}
	if e.Print != nil {
		set++
	}
	if e.Locate != nil {
		set++
		if e.Locate.ID == "" {
			return errors.New("locate requires an id")
		}
	}
	if e.Mark != "" {
		set++
		switch e.Mark {
		case MarkUndo, MarkRedo, MarkRestore, MarkClear:
		default:
			return fmt.Errorf("unknown mark %q", e.Mark)
		}
	}
	if set != 1 {
		return ErrMalformedEvent
	}
	return nil
}

// Apply replays every event in order.
//
// Postcondition: Stops at the first Locate error and returns it with the
// summary of the events applied so far.
func Apply(t Transcript, target Target) (Summary, error) {
	sum := Summary{Skips: make(map[world.SkipReason]int)}
	for i, ev := range t.Events {
		switch {
		case ev.Input != nil:
			target.Input(*ev.Input)
		case ev.Print != nil:
			target.Print(*ev.Print)
		case ev.Locate != nil:
			res, err := target.Locate(ev.Locate.ID, ev.Locate.Name)
			if err != nil {
				return sum, fmt.Errorf("event %d: %w", i, err)
			}
			sum.Moves++
			if res.RoomCreated {
				sum.RoomsCreated++
			}
			if res.Path != nil {
				sum.Paths++
			} else {
				sum.Skips[res.Skip]++
			}
		default:
			switch ev.Mark {
			case MarkUndo:
				target.Undo()
			case MarkRedo:
				target.Redo()
			case MarkRestore:
				target.Restore()
			case MarkClear:
				target.Clear()
			}
		}
		sum.Events++
	}
	return sum, nil
}
