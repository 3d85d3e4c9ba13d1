// Package overlay turns the features around each viewer into the
// interchange collection pushed to the viewer.
package overlay

import (
	"context"
	"log/slog"
	"time"

	"github.com/mohammed-shakir/panoview-bridge/internal/core/observability"
	"github.com/mohammed-shakir/panoview-bridge/internal/geom"
	"github.com/mohammed-shakir/panoview-bridge/internal/host"
	"github.com/mohammed-shakir/panoview-bridge/internal/interchange"
	"github.com/mohammed-shakir/panoview-bridge/internal/logger"
	"github.com/mohammed-shakir/panoview-bridge/internal/reproject"
	"github.com/mohammed-shakir/panoview-bridge/internal/viewer"
)

type Builder struct {
	proj         *reproject.Reprojector
	drawDistance float64
	log          *slog.Logger
}

func NewBuilder(proj *reproject.Reprojector, drawDistance float64, log *slog.Logger) *Builder {
	if log == nil {
		log = logger.Discard()
	}
	return &Builder{proj: proj, drawDistance: drawDistance, log: log}
}

// HalfSize converts the draw distance into units of sr.
func (b *Builder) HalfSize(sr geom.SpatialReference) float64 {
	f := sr.UnitFactor
	if f == 0 {
		f = 1
	}
	if sr.Geographic {
		return b.drawDistance * f
	}
	return b.drawDistance / f
}

// Windows builds one square search polygon per positioned viewer, expressed
// in the layer reference.
func (b *Builder) Windows(ctx context.Context, viewers []viewer.Viewer, viewerSR, layerSR geom.SpatialReference) []geom.Geometry {
	half := b.HalfSize(viewerSR)
	out := make([]geom.Geometry, 0, len(viewers))
	for _, v := range viewers {
		if v == nil {
			continue
		}
		c, err := v.GroundCoordinate(ctx)
		if err != nil {
			b.log.DebugContext(ctx, "viewer position unavailable", "viewer", v.ID(), "err", err)
			continue
		}
		if c == nil {
			continue
		}
		ring := []geom.Point{
			{X: c.X - half, Y: c.Y - half},
			{X: c.X + half, Y: c.Y - half},
			{X: c.X + half, Y: c.Y + half},
			{X: c.X - half, Y: c.Y + half},
			{X: c.X - half, Y: c.Y - half},
		}
		window := geom.NewPolygon(viewerSR, ring)
		out = append(out, b.proj.Project(ctx, window, viewerSR, layerSR))
	}
	return out
}

// Collect queries the layer around every viewer and converts the matching
// features. Features are de-duplicated by object id, first match wins.
func (b *Builder) Collect(ctx context.Context, layer host.FeatureLayer, viewers []viewer.Viewer, viewerSR geom.SpatialReference) *interchange.FeatureCollection {
	fc := interchange.NewFeatureCollection()
	if viewerSR.Valid() {
		fc.CRS = interchange.NamedCRS(viewerSR.String())
	}
	if layer == nil {
		return fc
	}
	layerSR := layer.SpatialReference()

	windows := b.Windows(ctx, viewers, viewerSR, layerSR)
	if len(windows) == 0 {
		return fc
	}
	table, err := layer.Table()
	if err != nil {
		b.log.DebugContext(ctx, "layer table unavailable", "err", err)
		return fc
	}
	zOffset := layer.ElevationSurface().ZOffset

	seen := map[int64]struct{}{}
	for _, w := range windows {
		start := time.Now()
		cur, err := table.Search(ctx, host.SpatialQuery{
			Geometry:     w,
			Relationship: host.Intersects,
			SubFields:    "*",
		})
		if err != nil {
			b.log.WarnContext(ctx, "spatial query failed", "err", err)
			continue
		}
		rows := 0
		for cur.Next() {
			rows++
			row := cur.Row()
			if row == nil {
				continue
			}
			oid := row.ObjectID()
			if _, dup := seen[oid]; dup {
				continue
			}
			seen[oid] = struct{}{}

			g := b.Geometry(ctx, row.Shape(), layerSR, viewerSR, zOffset)
			if g == nil {
				continue
			}
			f := interchange.NewFeature(oid, g)
			for _, a := range Attributes(row) {
				f.SetProperty(a.Name, a.Value)
			}
			fc.Add(f)
		}
		if err := cur.Close(); err != nil {
			b.log.DebugContext(ctx, "closing row cursor", "layer", layer.Name(), "err", err)
		}
		observability.ObserveSpatialQuery(rows, time.Since(start).Seconds())
	}
	return fc
}

// Geometry converts a layer shape into viewer interchange geometry. Kinds
// without a viewer representation yield nil.
func (b *Builder) Geometry(ctx context.Context, shape geom.Geometry, layerSR, viewerSR geom.SpatialReference, zOffset float64) *interchange.Geometry {
	switch geom.KindOf(shape) {
	case geom.KindPoint:
		p, ok := shape.(*geom.Point)
		if !ok || p == nil {
			return nil
		}
		return interchange.NewPoint(b.proj.Coordinate(ctx, p, layerSR, viewerSR, zOffset))
	case geom.KindPolyline:
		pl, ok := b.proj.Project(ctx, shape, layerSR, viewerSR).(*geom.Polyline)
		if !ok || pl == nil {
			return nil
		}
		paths := lineCoordinates(pl.Parts)
		switch len(paths) {
		case 0:
			return nil
		case 1:
			return interchange.NewLineString(paths[0])
		default:
			return interchange.NewMultiLineString(paths)
		}
	case geom.KindPolygon:
		pg, ok := b.proj.Project(ctx, shape, layerSR, viewerSR).(*geom.Polygon)
		if !ok || pg == nil {
			return nil
		}
		rings := lineCoordinates(pg.Rings)
		if len(rings) == 0 {
			return nil
		}
		return interchange.NewPolygon(rings)
	default:
		return nil
	}
}

// lineCoordinates emits the start of every straight segment plus the end of
// the last one. Curves are skipped; parts without straight segments are dropped.
func lineCoordinates(parts []geom.Part) [][]interchange.Coordinate {
	out := make([][]interchange.Coordinate, 0, len(parts))
	for _, part := range parts {
		var (
			coords []interchange.Coordinate
			last   *geom.Segment
		)
		for i := range part {
			s := &part[i]
			if s.Kind != geom.SegmentLine {
				continue
			}
			coords = append(coords, interchange.Coordinate{X: s.Start.X, Y: s.Start.Y, Z: s.Start.Z})
			last = s
		}
		if last == nil {
			continue
		}
		coords = append(coords, interchange.Coordinate{X: last.End.X, Y: last.End.Y, Z: last.End.Z})
		out = append(out, coords)
	}
	return out
}
