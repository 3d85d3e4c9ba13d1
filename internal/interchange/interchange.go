// Package interchange is the GeoJSON-style feature collection pushed to the viewer.
// Coordinates carry Z, which is why this does not reuse orb/geojson.
package interchange

import (
	"encoding/json"
	"fmt"
)

type Coordinate struct {
	X, Y, Z float64
}

func (c Coordinate) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]float64{c.X, c.Y, c.Z})
}

func (c *Coordinate) UnmarshalJSON(b []byte) error {
	var v []float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch len(v) {
	case 2:
		*c = Coordinate{X: v[0], Y: v[1]}
	case 3:
		*c = Coordinate{X: v[0], Y: v[1], Z: v[2]}
	default:
		return fmt.Errorf("coordinate: want 2 or 3 values, got %d", len(v))
	}
	return nil
}

type GeometryType string

const (
	TypePoint           GeometryType = "Point"
	TypeLineString      GeometryType = "LineString"
	TypeMultiLineString GeometryType = "MultiLineString"
	TypePolygon         GeometryType = "Polygon"
)

// Geometry holds Coordinates as Coordinate, []Coordinate or [][]Coordinate
// depending on Type.
type Geometry struct {
	Type        GeometryType `json:"type"`
	Coordinates any          `json:"coordinates"`
}

func NewPoint(c Coordinate) *Geometry {
	return &Geometry{Type: TypePoint, Coordinates: c}
}

func NewLineString(path []Coordinate) *Geometry {
	return &Geometry{Type: TypeLineString, Coordinates: path}
}

func NewMultiLineString(paths [][]Coordinate) *Geometry {
	return &Geometry{Type: TypeMultiLineString, Coordinates: paths}
}

func NewPolygon(rings [][]Coordinate) *Geometry {
	return &Geometry{Type: TypePolygon, Coordinates: rings}
}

type Feature struct {
	Type       string            `json:"type"`
	ID         int64             `json:"id"`
	Geometry   *Geometry         `json:"geometry"`
	Properties map[string]string `json:"properties"`
}

func NewFeature(id int64, g *Geometry) *Feature {
	return &Feature{Type: "Feature", ID: id, Geometry: g, Properties: map[string]string{}}
}

// SetProperty stores v under k unless k is already present.
func (f *Feature) SetProperty(k, v string) bool {
	if _, ok := f.Properties[k]; ok {
		return false
	}
	f.Properties[k] = v
	return true
}

// CRS is the named coordinate reference member of the collection.
type CRS struct {
	Type       string            `json:"type"`
	Properties map[string]string `json:"properties"`
}

func NamedCRS(name string) *CRS {
	return &CRS{Type: "name", Properties: map[string]string{"name": name}}
}

type FeatureCollection struct {
	Type     string     `json:"type"`
	CRS      *CRS       `json:"crs,omitempty"`
	Features []*Feature `json:"features"`
}

func NewFeatureCollection() *FeatureCollection {
	return &FeatureCollection{Type: "FeatureCollection", Features: []*Feature{}}
}

func (fc *FeatureCollection) Add(f *Feature) {
	fc.Features = append(fc.Features, f)
}

func (fc *FeatureCollection) Len() int {
	if fc == nil {
		return 0
	}
	return len(fc.Features)
}

// Marshal serializes the collection. A nil collection serializes as an
// empty one so comparisons against a fresh state are stable.
func (fc *FeatureCollection) Marshal() ([]byte, error) {
	if fc == nil {
		fc = NewFeatureCollection()
	}
	b, err := json.Marshal(fc)
	if err != nil {
		return nil, fmt.Errorf("marshal feature collection: %w", err)
	}
	return b, nil
}
