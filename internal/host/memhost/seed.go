package memhost

import (
	"fmt"
	"os"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/panoview-bridge/internal/geom"
	"github.com/mohammed-shakir/panoview-bridge/internal/host"
)

// SeedFile loads a GeoJSON file into a new layer on m.
func SeedFile(m *Map, layer, path string, sr geom.SpatialReference) (*Layer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("seed %s: %w", layer, err)
	}
	return Seed(m, layer, data, sr)
}

// Seed loads a GeoJSON feature collection into a new layer on m. Field types
// are inferred from the first non-null value of each property; the layer's
// geometry type follows the first feature.
func Seed(m *Map, layer string, data []byte, sr geom.SpatialReference) (*Layer, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("seed %s: %w", layer, err)
	}

	kind := geom.KindUnknown
	types := map[string]host.FieldType{}
	for _, f := range fc.Features {
		if kind == geom.KindUnknown && f.Geometry != nil {
			kind = kindOf(f.Geometry)
		}
		for k, v := range f.Properties {
			if _, ok := types[k]; ok || v == nil {
				continue
			}
			types[k] = fieldType(v)
		}
	}
	names := make([]string, 0, len(types))
	for k := range types {
		names = append(names, k)
	}
	sort.Strings(names)
	fields := make([]host.Field, 0, len(names))
	for _, n := range names {
		fields = append(fields, host.Field{Name: n, Type: types[n]})
	}

	l := m.AddLayer(layer, kind, sr, fields...)
	for i, f := range fc.Features {
		g, err := fromOrb(f.Geometry, sr)
		if err != nil {
			return nil, fmt.Errorf("seed %s feature %d: %w", layer, i, err)
		}
		l.Rows().Insert(g, map[string]any(f.Properties))
	}
	return l, nil
}

func fieldType(v any) host.FieldType {
	switch t := v.(type) {
	case float64:
		if t == float64(int64(t)) {
			return host.FieldInteger
		}
		return host.FieldDouble
	default:
		return host.FieldString
	}
}

func kindOf(g orb.Geometry) geom.Kind {
	switch g.(type) {
	case orb.Point:
		return geom.KindPoint
	case orb.MultiPoint:
		return geom.KindMultipoint
	case orb.LineString, orb.MultiLineString:
		return geom.KindPolyline
	case orb.Polygon, orb.MultiPolygon:
		return geom.KindPolygon
	default:
		return geom.KindUnknown
	}
}

func fromOrb(g orb.Geometry, sr geom.SpatialReference) (geom.Geometry, error) {
	pts := func(in []orb.Point) []geom.Point {
		out := make([]geom.Point, len(in))
		for i, p := range in {
			out[i] = geom.Point{X: p[0], Y: p[1], SR: sr}
		}
		return out
	}
	switch t := g.(type) {
	case nil:
		return nil, nil
	case orb.Point:
		return &geom.Point{X: t[0], Y: t[1], SR: sr}, nil
	case orb.MultiPoint:
		return &geom.Multipoint{Points: pts(t), SR: sr}, nil
	case orb.LineString:
		return geom.NewPolyline(sr, pts(t)), nil
	case orb.MultiLineString:
		paths := make([][]geom.Point, len(t))
		for i, ls := range t {
			paths[i] = pts(ls)
		}
		return geom.NewPolyline(sr, paths...), nil
	case orb.Polygon:
		rings := make([][]geom.Point, len(t))
		for i, r := range t {
			rings[i] = pts(r)
		}
		return geom.NewPolygon(sr, rings...), nil
	case orb.MultiPolygon:
		var rings [][]geom.Point
		for _, p := range t {
			for _, r := range p {
				rings = append(rings, pts(r))
			}
		}
		return geom.NewPolygon(sr, rings...), nil
	default:
		return nil, fmt.Errorf("unsupported geometry %s", g.GeoJSONType())
	}
}
