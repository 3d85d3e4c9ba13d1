// Package elevation captures terrain heights for newly drawn points and keeps
// the last one as the default capture elevation.
package elevation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	h3 "github.com/uber/h3-go/v4"

	"github.com/mohammed-shakir/panoview-bridge/internal/core/observability"
	"github.com/mohammed-shakir/panoview-bridge/internal/geom"
	"github.com/mohammed-shakir/panoview-bridge/internal/host"
	"github.com/mohammed-shakir/panoview-bridge/internal/logger"
	"github.com/mohammed-shakir/panoview-bridge/internal/reproject"
)

// Tracker samples the host terrain for every capture. Samples are also kept
// per H3 cell at the configured resolution as a fallback for points the
// sampler cannot cover.
type Tracker struct {
	sampler host.ElevationSampler
	proj    *reproject.Reprojector
	geo     geom.SpatialReference
	res     int
	log     *slog.Logger

	mu    sync.Mutex
	cache *lru.Cache[h3.Cell, float64]
	def   float64
	has   bool
}

type Config struct {
	// Geographic is the reference H3 cells are computed in (WGS84).
	Geographic geom.SpatialReference
	Resolution int
	CacheSize  int
}

func New(sampler host.ElevationSampler, proj *reproject.Reprojector, cfg Config, log *slog.Logger) *Tracker {
	if log == nil {
		log = logger.Discard()
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 4096
	}
	c, _ := lru.New[h3.Cell, float64](cfg.CacheSize)
	return &Tracker{
		sampler: sampler,
		proj:    proj,
		geo:     cfg.Geographic,
		res:     cfg.Resolution,
		log:     log,
		cache:   c,
	}
}

// Capture samples the terrain at p and stores it as the default capture
// elevation. When the sampler fails, a height sampled earlier in the same
// H3 cell is used instead.
func (t *Tracker) Capture(ctx context.Context, p geom.Point) (float64, error) {
	cell, placed := t.cell(ctx, p)

	var sampleErr error
	if t.sampler == nil {
		sampleErr = errors.New("no sampler")
	} else {
		z, err := t.sampler.Sample(ctx, p)
		if err == nil {
			observability.IncElevationSample("terrain")
			t.mu.Lock()
			if placed {
				t.cache.Add(cell, z)
			}
			t.def, t.has = z, true
			t.mu.Unlock()
			return z, nil
		}
		sampleErr = err
	}

	if placed {
		t.mu.Lock()
		z, ok := t.cache.Get(cell)
		if ok {
			t.def, t.has = z, true
		}
		t.mu.Unlock()
		if ok {
			observability.IncElevationSample("cache")
			t.log.DebugContext(ctx, "terrain sample failed, using cell height", "err", sampleErr)
			return z, nil
		}
	}
	return 0, fmt.Errorf("elevation at (%v, %v): %w", p.X, p.Y, sampleErr)
}

// Default returns the last captured elevation, false before any capture.
func (t *Tracker) Default() (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.def, t.has
}

// cell returns the H3 cell of p; false when p cannot be placed on the globe.
func (t *Tracker) cell(ctx context.Context, p geom.Point) (h3.Cell, bool) {
	if !t.geo.Valid() || t.proj == nil {
		return 0, false
	}
	g, ok := t.proj.Project(ctx, &p, p.SR, t.geo).(*geom.Point)
	if !ok || g == nil || g.SR.WKID != t.geo.WKID {
		return 0, false
	}
	c, err := h3.LatLngToCell(h3.LatLng{Lat: g.Y, Lng: g.X}, t.res)
	if err != nil {
		t.log.DebugContext(ctx, "h3 cell", "err", err)
		return 0, false
	}
	return c, true
}
