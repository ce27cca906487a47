package codec

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/automap/internal/game/world"
)

func sampleMap(t *testing.T) *world.Map {
	t.Helper()
	m := world.NewMap()
	for _, mv := range [][2]string{
		{"hall", ""},
		{"kitchen", "north"},
		{"hall", "s"},
		{"kitchen", "n"},
		{"attic", "climb"},
		{"kitchen", "down"},
	} {
		_, err := m.MoveTo(mv[0], strings.ToUpper(mv[0]), mv[1])
		require.NoError(t, err)
	}
	require.NoError(t, m.Reposition("attic", 1.25, -3.5))
	return m
}

func compress(t *testing.T, raw string) string {
	t.Helper()
	return base64.RawURLEncoding.EncodeToString(encoder.EncodeAll([]byte(raw), nil))
}

func TestEncode_IsURLSafe(t *testing.T) {
	s := Encode(sampleMap(t))
	assert.NotEmpty(t, s)
	assert.False(t, strings.ContainsAny(s, "+/= \n"), "encoded form %q is not URL safe", s)
}

func TestRoundTrip(t *testing.T) {
	m := sampleMap(t)
	got, err := Unmarshal(Encode(m))
	require.NoError(t, err)
	assert.Equal(t, m.Snapshot(), got.Snapshot())
}

func TestRoundTrip_EmptyMap(t *testing.T) {
	got, err := Unmarshal(Encode(world.NewMap()))
	require.NoError(t, err)
	assert.Equal(t, 0, got.RoomCount())
	assert.Equal(t, "", got.Current())
}

func TestUnmarshal_RebuildsPathsThroughMerge(t *testing.T) {
	raw := `{"nodes":[{"id":"a","n":"A","x":0,"y":0},{"id":"b","n":"B","x":1,"y":1}],
		"edges":[{"src":"a","trg":"b","how":["north"]},{"src":"a","trg":"b","how":["north","in"]}],
		"current":"a"}`
	m, err := Unmarshal(compress(t, raw))
	require.NoError(t, err)

	require.Equal(t, 1, m.PathCount())
	p, ok := m.Path("a->b")
	require.True(t, ok)
	assert.Equal(t, []world.Direction{world.North, world.In}, p.Labels)
	assert.True(t, p.Indirect, "indirect flag is recomputed, not copied")
}

func TestUnmarshal_LegacyLabelString(t *testing.T) {
	raw := `{"nodes":[{"id":"a","n":"A","x":0,"y":0},{"id":"b","n":"B","x":1,"y":1}],
		"edges":[{"src":"a","trg":"b","how":"north, up"}],"current":"b"}`
	m, err := Unmarshal(compress(t, raw))
	require.NoError(t, err)

	p, ok := m.Path("a->b")
	require.True(t, ok)
	assert.Equal(t, []world.Direction{world.North, world.Up}, p.Labels)
	assert.True(t, p.Indirect)
	assert.Equal(t, "b", m.Current())
}

func TestUnmarshal_Errors(t *testing.T) {
	cases := map[string]string{
		"empty":           "",
		"not base64":      "!!!***",
		"not zstd":        base64.RawURLEncoding.EncodeToString([]byte("plain text")),
		"not json":        compress(t, "{nodes:"),
		"dangling edge":   compress(t, `{"nodes":[{"id":"a"}],"edges":[{"src":"a","trg":"zz","how":["east"]}],"current":"a"}`),
		"unknown current": compress(t, `{"nodes":[{"id":"a"}],"edges":[],"current":"zz"}`),
	}
	for name, data := range cases {
		_, err := Unmarshal(data)
		assert.Error(t, err, name)
	}
	_, err := Unmarshal("   ")
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestDecode_DegradesToEmptyMap(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	logger := zap.New(core)

	m := Decode("definitely-not-a-map", logger)
	require.NotNil(t, m)
	assert.Equal(t, 0, m.RoomCount())
	assert.Equal(t, 1, logs.FilterMessage("discarding unreadable map").Len())
}

func TestDecode_EmptyInputIsSilent(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	m := Decode("", zap.New(core))
	assert.Equal(t, 0, m.RoomCount())
	assert.Equal(t, 0, logs.Len())
}

func TestDecode_AppliesOptions(t *testing.T) {
	m := Decode("", zap.NewNop(), world.WithOrigin(10, 20))
	m.AddRoom("a", "A", "")
	r, _ := m.Room("a")
	assert.Equal(t, 10.0, r.X)
	assert.Equal(t, 20.0, r.Y)
}

func TestEncode_PayloadShape(t *testing.T) {
	s := Encode(sampleMap(t))
	compressed, err := base64.RawURLEncoding.DecodeString(s)
	require.NoError(t, err)
	raw, err := decoder.DecodeAll(compressed, nil)
	require.NoError(t, err)

	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Contains(t, doc, "nodes")
	assert.Contains(t, doc, "edges")
	assert.Contains(t, doc, "current")
	assert.NotContains(t, string(doc["edges"]), `"id"`, "path ids are derived, not stored")
}

func TestPropertyRoundTrip(t *testing.T) {
	hows := []string{"", "n", "s", "e", "w", "ne", "sw", "climb", "d", "enter", "exit", "DIED", "x. n", "n and e"}
	rapid.Check(t, func(t *rapid.T) {
		m := world.NewMap()
		steps := rapid.IntRange(0, 40).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			id := fmt.Sprintf("r%d", rapid.IntRange(0, 8).Draw(t, "room"))
			how := rapid.SampledFrom(hows).Draw(t, "how")
			if _, err := m.MoveTo(id, "Room "+id, how); err != nil {
				t.Fatalf("MoveTo: %v", err)
			}
		}

		got, err := Unmarshal(Encode(m))
		if err != nil {
			t.Fatalf("Unmarshal: %v", err)
		}

		want, have := m.Snapshot(), got.Snapshot()
		if len(want.Rooms) != len(have.Rooms) || want.Current != have.Current {
			t.Fatalf("room set or current differs: %+v vs %+v", want, have)
		}
		for i := range want.Rooms {
			if want.Rooms[i] != have.Rooms[i] {
				t.Fatalf("room %d differs: %+v vs %+v", i, want.Rooms[i], have.Rooms[i])
			}
		}
		if len(want.Paths) != len(have.Paths) {
			t.Fatalf("path count %d vs %d", len(want.Paths), len(have.Paths))
		}
		for i := range want.Paths {
			w, h := want.Paths[i], have.Paths[i]
			if w.Src != h.Src || w.Trg != h.Trg || w.Indirect != h.Indirect || !sameLabels(w.Labels, h.Labels) {
				t.Fatalf("path %s differs: %+v vs %+v", w.ID, w, h)
			}
		}
	})
}

func sameLabels(a, b []world.Direction) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]world.Direction(nil), a...)
	bs := append([]world.Direction(nil), b...)
	sort.Slice(as, func(i, j int) bool { return as[i] < as[j] })
	sort.Slice(bs, func(i, j int) bool { return bs[i] < bs[j] })
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}
