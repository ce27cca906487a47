package session

import (
	"github.com/cory-johannsen/automap/internal/config"
	"github.com/cory-johannsen/automap/internal/game/world"
)

// MapOptions translates map configuration into world options. filter may be
// nil.
func MapOptions(cfg config.MapConfig, filter func(string) bool) []world.Option {
	opts := []world.Option{
		world.WithOrigin(cfg.OriginX, cfg.OriginY),
		world.WithNudge(cfg.Nudge),
		world.WithExemptMarkers(cfg.ExemptMarkers...),
	}
	if filter != nil {
		opts = append(opts, world.WithTransitionFilter(filter))
	}
	return opts
}
