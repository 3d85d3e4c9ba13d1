// Package geom defines the host geometry model exchanged between the map and the bridge.
package geom

import "fmt"

type Kind int

const (
	KindUnknown Kind = iota
	KindPoint
	KindPolyline
	KindPolygon
	KindEnvelope
	KindMultipatch
	KindMultipoint
)

func (k Kind) String() string {
	switch k {
	case KindPoint:
		return "point"
	case KindPolyline:
		return "polyline"
	case KindPolygon:
		return "polygon"
	case KindEnvelope:
		return "envelope"
	case KindMultipatch:
		return "multipatch"
	case KindMultipoint:
		return "multipoint"
	default:
		return "unknown"
	}
}

// SpatialReference identifies a coordinate system by well-known id.
// UnitFactor is the conversion factor of the reference's unit (meters per
// unit for planar references, radians per unit for geographic ones).
type SpatialReference struct {
	WKID       int
	Name       string
	Geographic bool
	UnitFactor float64
}

func (sr SpatialReference) Valid() bool { return sr.WKID > 0 }

func (sr SpatialReference) String() string {
	return fmt.Sprintf("EPSG:%d", sr.WKID)
}

func (sr SpatialReference) Same(o SpatialReference) bool {
	return sr.Valid() && o.Valid() && sr.WKID == o.WKID
}

type Geometry interface {
	Kind() Kind
	Reference() SpatialReference
}

type Point struct {
	X, Y, Z float64
	SR      SpatialReference
}

func (p *Point) Kind() Kind                  { return KindPoint }
func (p *Point) Reference() SpatialReference { return p.SR }

type SegmentKind int

const (
	SegmentLine SegmentKind = iota
	SegmentCircularArc
	SegmentEllipticArc
	SegmentBezier
)

type Segment struct {
	Kind       SegmentKind
	Start, End Point
}

// Part is a path of a polyline or a ring of a polygon.
type Part []Segment

type Polyline struct {
	Parts []Part
	SR    SpatialReference
}

func (p *Polyline) Kind() Kind                  { return KindPolyline }
func (p *Polyline) Reference() SpatialReference { return p.SR }

type Polygon struct {
	Rings []Part
	SR    SpatialReference
}

func (p *Polygon) Kind() Kind                  { return KindPolygon }
func (p *Polygon) Reference() SpatialReference { return p.SR }

type Envelope struct {
	XMin, YMin, XMax, YMax float64
	SR                     SpatialReference
}

func (e *Envelope) Kind() Kind                  { return KindEnvelope }
func (e *Envelope) Reference() SpatialReference { return e.SR }

// Polygon returns the envelope as a closed four-corner ring.
func (e *Envelope) Polygon() *Polygon {
	return NewPolygon(e.SR, []Point{
		{X: e.XMin, Y: e.YMin},
		{X: e.XMax, Y: e.YMin},
		{X: e.XMax, Y: e.YMax},
		{X: e.XMin, Y: e.YMax},
		{X: e.XMin, Y: e.YMin},
	})
}

type Multipoint struct {
	Points []Point
	SR     SpatialReference
}

func (m *Multipoint) Kind() Kind                  { return KindMultipoint }
func (m *Multipoint) Reference() SpatialReference { return m.SR }

type Multipatch struct {
	SR SpatialReference
}

func (m *Multipatch) Kind() Kind                  { return KindMultipatch }
func (m *Multipatch) Reference() SpatialReference { return m.SR }

// KindOf reports the kind of g, KindUnknown for nil.
func KindOf(g Geometry) Kind {
	if g == nil {
		return KindUnknown
	}
	return g.Kind()
}

// LinePart builds a part of straight segments through pts.
func LinePart(sr SpatialReference, pts []Point) Part {
	if len(pts) < 2 {
		return nil
	}
	part := make(Part, 0, len(pts)-1)
	for i := 0; i+1 < len(pts); i++ {
		a, b := pts[i], pts[i+1]
		a.SR, b.SR = sr, sr
		part = append(part, Segment{Kind: SegmentLine, Start: a, End: b})
	}
	return part
}

func NewPolyline(sr SpatialReference, paths ...[]Point) *Polyline {
	pl := &Polyline{SR: sr}
	for _, p := range paths {
		if part := LinePart(sr, p); len(part) > 0 {
			pl.Parts = append(pl.Parts, part)
		}
	}
	return pl
}

// NewPolygon builds a polygon from rings, closing any ring left open.
func NewPolygon(sr SpatialReference, rings ...[]Point) *Polygon {
	pg := &Polygon{SR: sr}
	for _, r := range rings {
		if len(r) > 2 {
			first, last := r[0], r[len(r)-1]
			if first.X != last.X || first.Y != last.Y {
				r = append(append([]Point(nil), r...), first)
			}
		}
		if part := LinePart(sr, r); len(part) > 0 {
			pg.Rings = append(pg.Rings, part)
		}
	}
	return pg
}

// Vertices returns the start of every segment plus the end of the last one.
func (p Part) Vertices() []Point {
	if len(p) == 0 {
		return nil
	}
	out := make([]Point, 0, len(p)+1)
	for _, s := range p {
		out = append(out, s.Start)
	}
	return append(out, p[len(p)-1].End)
}

// Extent returns the bounding envelope of g, false when g has no coordinates.
func Extent(g Geometry) (Envelope, bool) {
	var pts []Point
	switch t := g.(type) {
	case *Point:
		pts = []Point{*t}
	case *Multipoint:
		pts = t.Points
	case *Polyline:
		for _, part := range t.Parts {
			pts = append(pts, part.Vertices()...)
		}
	case *Polygon:
		for _, ring := range t.Rings {
			pts = append(pts, ring.Vertices()...)
		}
	case *Envelope:
		return *t, true
	}
	if len(pts) == 0 {
		return Envelope{}, false
	}
	env := Envelope{XMin: pts[0].X, YMin: pts[0].Y, XMax: pts[0].X, YMax: pts[0].Y, SR: g.Reference()}
	for _, p := range pts[1:] {
		env.XMin = min(env.XMin, p.X)
		env.YMin = min(env.YMin, p.Y)
		env.XMax = max(env.XMax, p.X)
		env.YMax = max(env.YMax, p.Y)
	}
	return env, true
}
