package world

import "strings"

// Direction is a canonical movement token. The zero value means "no direction".
type Direction string

// The twelve canonical directions recognized by Parse.
const (
	North     Direction = "north"
	South     Direction = "south"
	East      Direction = "east"
	West      Direction = "west"
	Northeast Direction = "northeast"
	Northwest Direction = "northwest"
	Southeast Direction = "southeast"
	Southwest Direction = "southwest"
	Up        Direction = "up"
	Down      Direction = "down"
	In        Direction = "in"
	Out       Direction = "out"
)

// StandardDirections lists all twelve canonical directions.
var StandardDirections = []Direction{
	North, East, South, West,
	Northeast, Northwest, Southeast, Southwest,
	Up, Down, In, Out,
}

// vocabulary maps every accepted word to its canonical direction.
var vocabulary = map[string]Direction{
	"n":         North,
	"north":     North,
	"s":         South,
	"south":     South,
	"e":         East,
	"east":      East,
	"w":         West,
	"west":      West,
	"ne":        Northeast,
	"northe":    Northeast,
	"northeast": Northeast,
	"nw":        Northwest,
	"northw":    Northwest,
	"northwest": Northwest,
	"se":        Southeast,
	"southe":    Southeast,
	"southeast": Southeast,
	"sw":        Southwest,
	"southw":    Southwest,
	"southwest": Southwest,
	"u":         Up,
	"up":        Up,
	"climb":     Up,
	"d":         Down,
	"down":      Down,
	"in":        In,
	"inside":    In,
	"enter":     In,
	"out":       Out,
	"outside":   Out,
	"exit":      Out,
}

// offset is the static placement delta applied relative to the current room.
type offset struct {
	dx, dy float64
}

// offsets fans compass directions out into their visual quadrant; the
// non-compass directions use larger offsets so they do not land on a compass slot.
var offsets = map[Direction]offset{
	North:     {0, -200},
	South:     {0, 200},
	East:      {200, 0},
	West:      {-200, 0},
	Northeast: {200, -200},
	Northwest: {-200, -200},
	Southeast: {200, 200},
	Southwest: {-200, 200},
	In:        {100, 80},
	Out:       {-100, -80},
	Up:        {-300, -500},
	Down:      {300, 500},
}

// Parse returns the first direction named in text, or "" when no word matches.
//
// Postcondition: The result is either "" or one of StandardDirections.
func Parse(text string) Direction {
	for _, word := range strings.Fields(strings.ToLower(text)) {
		if d, ok := vocabulary[word]; ok {
			return d
		}
	}
	return ""
}

// IsStandard reports whether d is one of the twelve canonical directions.
func (d Direction) IsStandard() bool {
	_, ok := offsets[d]
	return ok
}

// IsIndirect reports whether d leaves the compass plane (up, down, in, out).
// Paths carrying such a label are drawn with a distinct style.
func (d Direction) IsIndirect() bool {
	switch d {
	case Up, Down, In, Out:
		return true
	default:
		return false
	}
}
