package memhost

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"

	"github.com/mohammed-shakir/panoview-bridge/internal/geom"
)

var ErrUnsupportedTransform = errors.New("memhost: unsupported transformation")

// Engine projects geometries between WGS84 and Web Mercator.
type Engine struct{}

func NewEngine() *Engine { return &Engine{} }

func (e *Engine) Project(ctx context.Context, g geom.Geometry, to geom.SpatialReference) (geom.Geometry, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("project: %w", err)
	}
	if g == nil {
		return nil, errors.New("project: nil geometry")
	}
	from := g.Reference()
	if from.WKID == to.WKID {
		return g, nil
	}
	proj, err := transform(from.WKID, to.WKID)
	if err != nil {
		return nil, err
	}
	pt := func(p geom.Point) (geom.Point, error) {
		q := proj(orb.Point{p.X, p.Y})
		if !finite(q[0]) || !finite(q[1]) {
			return geom.Point{}, fmt.Errorf("project (%v, %v) to %s: non-finite result", p.X, p.Y, to)
		}
		return geom.Point{X: q[0], Y: q[1], Z: p.Z, SR: to}, nil
	}
	parts := func(in []geom.Part) ([]geom.Part, error) {
		out := make([]geom.Part, 0, len(in))
		for _, part := range in {
			np := make(geom.Part, 0, len(part))
			for _, s := range part {
				a, err := pt(s.Start)
				if err != nil {
					return nil, err
				}
				b, err := pt(s.End)
				if err != nil {
					return nil, err
				}
				np = append(np, geom.Segment{Kind: s.Kind, Start: a, End: b})
			}
			out = append(out, np)
		}
		return out, nil
	}

	switch t := g.(type) {
	case *geom.Point:
		p, err := pt(*t)
		if err != nil {
			return nil, err
		}
		return &p, nil
	case *geom.Multipoint:
		out := &geom.Multipoint{SR: to, Points: make([]geom.Point, 0, len(t.Points))}
		for _, p := range t.Points {
			q, err := pt(p)
			if err != nil {
				return nil, err
			}
			out.Points = append(out.Points, q)
		}
		return out, nil
	case *geom.Polyline:
		ps, err := parts(t.Parts)
		if err != nil {
			return nil, err
		}
		return &geom.Polyline{Parts: ps, SR: to}, nil
	case *geom.Polygon:
		rs, err := parts(t.Rings)
		if err != nil {
			return nil, err
		}
		return &geom.Polygon{Rings: rs, SR: to}, nil
	case *geom.Envelope:
		lo, err := pt(geom.Point{X: t.XMin, Y: t.YMin})
		if err != nil {
			return nil, err
		}
		hi, err := pt(geom.Point{X: t.XMax, Y: t.YMax})
		if err != nil {
			return nil, err
		}
		return &geom.Envelope{XMin: lo.X, YMin: lo.Y, XMax: hi.X, YMax: hi.Y, SR: to}, nil
	default:
		return nil, fmt.Errorf("project %s: %w", g.Kind(), ErrUnsupportedTransform)
	}
}

func transform(from, to int) (orb.Projection, error) {
	switch {
	case from == WGS84.WKID && to == WebMercator.WKID:
		return project.WGS84.ToMercator, nil
	case from == WebMercator.WKID && to == WGS84.WKID:
		return project.Mercator.ToWGS84, nil
	default:
		return nil, fmt.Errorf("EPSG:%d -> EPSG:%d: %w", from, to, ErrUnsupportedTransform)
	}
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }
