// Package codec converts a world.Map to and from the compact, URL-safe string
// stored per story.
//
// The payload is JSON compressed with zstd and encoded as unpadded URL-safe
// base64. Paths are written by their endpoints and labels only; their ids are
// derived again on decode.
package codec

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/cory-johannsen/automap/internal/game/world"
)

// maxDecodedSize bounds decompression of untrusted input.
const maxDecodedSize = 16 << 20

// legacySeparator joins labels in the single-string form written by older players.
const legacySeparator = ", "

var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, _ = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxDecodedSize))
)

// ErrEmpty is returned by Unmarshal for an empty input string.
var ErrEmpty = errors.New("codec: empty input")

type node struct {
	ID string  `json:"id"`
	N  string  `json:"n"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
}

type edge struct {
	Src string `json:"src"`
	Trg string `json:"trg"`
	How labels `json:"how"`
}

type document struct {
	Nodes   []node `json:"nodes"`
	Edges   []edge `json:"edges"`
	Current string `json:"current"`
}

// labels accepts either a JSON array of directions or a legacy
// ", "-joined string.
type labels []world.Direction

// UnmarshalJSON implements json.Unmarshaler.
func (l *labels) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var joined string
		if err := json.Unmarshal(data, &joined); err != nil {
			return err
		}
		*l = nil
		for _, s := range strings.Split(joined, legacySeparator) {
			if s = strings.TrimSpace(s); s != "" {
				*l = append(*l, world.Direction(s))
			}
		}
		return nil
	}
	var list []world.Direction
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*l = list
	return nil
}

// Encode serializes m.
//
// Postcondition: Decode(Encode(m)) has the same rooms, label-equivalent paths,
// and the same current room as m.
func Encode(m *world.Map) string {
	snap := m.Snapshot()
	doc := document{
		Nodes:   make([]node, 0, len(snap.Rooms)),
		Edges:   make([]edge, 0, len(snap.Paths)),
		Current: snap.Current,
	}
	for _, r := range snap.Rooms {
		doc.Nodes = append(doc.Nodes, node{ID: r.ID, N: r.Name, X: r.X, Y: r.Y})
	}
	for _, p := range snap.Paths {
		doc.Edges = append(doc.Edges, edge{Src: p.Src, Trg: p.Trg, How: labels(p.Labels)})
	}

	// document holds only strings, floats and slices of them; Marshal cannot fail.
	raw, _ := json.Marshal(doc)
	return base64.RawURLEncoding.EncodeToString(encoder.EncodeAll(raw, nil))
}

// Unmarshal parses data into a Map, reporting every failure.
//
// Postcondition: Returns a Map satisfying all topology invariants, or a
// non-nil error (ErrEmpty for empty input).
func Unmarshal(data string, opts ...world.Option) (*world.Map, error) {
	data = strings.TrimSpace(data)
	if data == "" {
		return nil, ErrEmpty
	}

	compressed, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
	if err != nil {
		return nil, fmt.Errorf("codec: base64: %w", err)
	}
	raw, err := decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("codec: zstd: %w", err)
	}

	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("codec: json: %w", err)
	}

	rooms := make([]world.Room, 0, len(doc.Nodes))
	for _, n := range doc.Nodes {
		rooms = append(rooms, world.Room{ID: n.ID, Name: n.N, X: n.X, Y: n.Y})
	}
	paths := make([]world.PathSpec, 0, len(doc.Edges))
	for _, e := range doc.Edges {
		paths = append(paths, world.PathSpec{Src: e.Src, Trg: e.Trg, Labels: e.How})
	}

	m, err := world.Restore(rooms, paths, doc.Current, opts...)
	if err != nil {
		return nil, fmt.Errorf("codec: %w", err)
	}
	return m, nil
}

// Decode parses data into a Map. It never fails: empty input yields a fresh
// Map, and malformed input is logged at Warn and also yields a fresh Map.
//
// Precondition: logger must be non-nil.
func Decode(data string, logger *zap.Logger, opts ...world.Option) *world.Map {
	m, err := Unmarshal(data, opts...)
	if err == nil {
		return m
	}
	if !errors.Is(err, ErrEmpty) {
		logger.Warn("discarding unreadable map",
			zap.Error(err),
			zap.Int("length", len(data)),
		)
	}
	return world.NewMap(opts...)
}
