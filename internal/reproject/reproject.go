// Package reproject moves geometries between the map and viewer references
// through the host geometry engine. It never fails: when a transform cannot
// be applied the input geometry is kept.
package reproject

import (
	"context"
	"log/slog"

	"github.com/mohammed-shakir/panoview-bridge/internal/core/observability"
	"github.com/mohammed-shakir/panoview-bridge/internal/geom"
	"github.com/mohammed-shakir/panoview-bridge/internal/host"
	"github.com/mohammed-shakir/panoview-bridge/internal/interchange"
	"github.com/mohammed-shakir/panoview-bridge/internal/logger"
)

type Reprojector struct {
	engine host.GeometryEngine
	log    *slog.Logger
}

func New(engine host.GeometryEngine, log *slog.Logger) *Reprojector {
	if log == nil {
		log = logger.Discard()
	}
	return &Reprojector{engine: engine, log: log}
}

// Project returns g expressed in to. Invalid references, identical WKIDs and
// engine failures all return g unchanged.
func (r *Reprojector) Project(ctx context.Context, g geom.Geometry, from, to geom.SpatialReference) geom.Geometry {
	if g == nil || !from.Valid() || !to.Valid() || from.WKID == to.WKID {
		return g
	}
	if r.engine == nil {
		observability.IncReprojectFallback("no_engine")
		return g
	}
	out, err := r.engine.Project(ctx, g, to)
	if err != nil {
		observability.IncReprojectFallback("engine_error")
		r.log.DebugContext(ctx, "reproject fallback",
			"kind", g.Kind().String(), "from", from.WKID, "to", to.WKID, "err", err)
		return g
	}
	if out == nil {
		observability.IncReprojectFallback("nil_result")
		return g
	}
	return out
}

// Coordinate projects a point and adds zOffset to its Z.
func (r *Reprojector) Coordinate(ctx context.Context, p *geom.Point, from, to geom.SpatialReference, zOffset float64) interchange.Coordinate {
	if p == nil {
		return interchange.Coordinate{}
	}
	q, ok := r.Project(ctx, p, from, to).(*geom.Point)
	if !ok || q == nil {
		q = p
	}
	return interchange.Coordinate{X: q.X, Y: q.Y, Z: q.Z + zOffset}
}
