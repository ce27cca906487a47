package world

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestParse(t *testing.T) {
	cases := map[string]Direction{
		"go north":           North,
		"n":                  North,
		"climb":              Up,
		"":                   "",
		"enter the house":    In,
		"EXIT":               Out,
		"walk  SW":           Southwest,
		"northe":             Northeast,
		"take lamp":          "",
		"go east then west":  East,
		"  d  ":              Down,
		"look inside":        In,
		"northwards":         "",
		"southw":             Southwest,
		"u":                  Up,
		"outside, quickly":   "",
		"head southeast now": Southeast,
	}
	for input, want := range cases {
		assert.Equal(t, want, Parse(input), "Parse(%q)", input)
	}
}

func TestDirection_IsStandard(t *testing.T) {
	for _, d := range StandardDirections {
		assert.True(t, d.IsStandard(), "expected %q to be standard", d)
	}
	assert.Len(t, StandardDirections, 12)
	assert.False(t, Direction("stairs").IsStandard())
	assert.False(t, Direction("").IsStandard())
}

func TestDirection_IsIndirect(t *testing.T) {
	for _, d := range []Direction{Up, Down, In, Out} {
		assert.True(t, d.IsIndirect(), "%q", d)
	}
	for _, d := range []Direction{North, South, East, West, Northeast, Northwest, Southeast, Southwest} {
		assert.False(t, d.IsIndirect(), "%q", d)
	}
}

func TestOffsets_Distinct(t *testing.T) {
	seen := make(map[offset]Direction)
	for _, d := range StandardDirections {
		off := offsets[d]
		prev, dup := seen[off]
		assert.False(t, dup, "%q shares offset with %q", d, prev)
		seen[off] = d
	}
}

func TestPropertyParseIsTotal(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		text := rapid.String().Draw(t, "text")
		d := Parse(text)
		if d != "" && !d.IsStandard() {
			t.Fatalf("Parse(%q) = %q, not a standard direction", text, d)
		}
	})
}

func TestPropertyParseFindsCanonicalWord(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		d := rapid.SampledFrom(StandardDirections).Draw(t, "dir")
		prefix := rapid.SampledFrom([]string{"", "go", "please walk", "run"}).Draw(t, "prefix")
		text := strings.TrimSpace(prefix + " " + strings.ToUpper(string(d)))
		assert.Equal(t, d, Parse(text))
	})
}
