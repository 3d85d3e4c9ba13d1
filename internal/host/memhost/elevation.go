package memhost

import (
	"context"
	"sync/atomic"

	"github.com/mohammed-shakir/panoview-bridge/internal/geom"
)

// Terrain samples ground height from a height function.
type Terrain struct {
	height func(x, y float64) float64
	calls  atomic.Int64
}

func NewTerrain(height func(x, y float64) float64) *Terrain {
	if height == nil {
		height = func(float64, float64) float64 { return 0 }
	}
	return &Terrain{height: height}
}

// FlatTerrain returns a terrain at constant height h.
func FlatTerrain(h float64) *Terrain {
	return NewTerrain(func(float64, float64) float64 { return h })
}

func (t *Terrain) Sample(ctx context.Context, p geom.Point) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	t.calls.Add(1)
	return t.height(p.X, p.Y), nil
}

// Calls reports how many samples were taken.
func (t *Terrain) Calls() int64 { return t.calls.Load() }
