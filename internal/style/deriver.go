package style

import (
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strings"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mohammed-shakir/panoview-bridge/internal/host"
)

const (
	markerSize   = 10
	markerCircle = "circle"
)

var errNotDataURI = errors.New("style: not a data uri")

type picture struct {
	format  string
	content []byte
}

// Deriver maps renderers to style documents. Decoded picture markers are
// cached by the hash of their data URI.
type Deriver struct {
	pictures *lru.Cache[uint64, picture]
}

func NewDeriver(cacheSize int) *Deriver {
	if cacheSize <= 0 {
		cacheSize = 256
	}
	c, _ := lru.New[uint64, picture](cacheSize)
	return &Deriver{pictures: c}
}

// Derive builds the style document for renderer r. Unique-value renderers
// produce one filtered rule per class; any other renderer produces one
// unconditional rule from its symbol. Symbols without a usable mapping
// produce no rule.
func (d *Deriver) Derive(name string, r host.Renderer) *Document {
	doc := &Document{Name: name}
	switch t := r.(type) {
	case host.UniqueValueRenderer:
		for _, g := range t.Groups {
			for _, c := range g.Classes {
				sym := d.Symbolizer(c.Symbol)
				if sym == nil {
					continue
				}
				doc.Rules = append(doc.Rules, Rule{
					Name:       c.Label,
					Filter:     classFilter(t.Fields, c.Values),
					Symbolizer: sym,
				})
			}
		}
	case host.SimpleRenderer:
		doc.add(d.Symbolizer(t.Symbol))
	case host.OtherRenderer:
		doc.add(d.Symbolizer(t.DefaultSymbol))
	}
	return doc
}

func (doc *Document) add(sym Symbolizer) {
	if sym != nil {
		doc.Rules = append(doc.Rules, Rule{Symbolizer: sym})
	}
}

// classFilter walks every (field, value) pair of the class; the last pair wins.
func classFilter(fields []string, values []host.UniqueValue) *Filter {
	var f *Filter
	for _, v := range values {
		for i, field := range fields {
			if i >= len(v.FieldValues) {
				break
			}
			f = &Filter{Property: field, Literal: v.FieldValues[i]}
		}
	}
	return f
}

func (d *Deriver) Symbolizer(s host.Symbol) Symbolizer {
	switch t := s.(type) {
	case host.PointSymbol:
		return d.point(t.Marker)
	case host.LineSymbol:
		c, op := ColorOf(t.Stroke.Color)
		return &LineSymbolizer{Stroke: Stroke{Color: c, Opacity: op, Width: t.Stroke.Width}}
	case host.PolygonSymbol:
		c, op := ColorOf(t.Fill.Color)
		return &PolygonSymbolizer{Fill: Fill{Color: c, Opacity: op}}
	default:
		return nil
	}
}

func (d *Deriver) point(m host.Marker) Symbolizer {
	switch t := m.(type) {
	case host.ShapeMarker:
		mark := &Mark{WellKnownName: markerCircle}
		var fill *host.SolidFill
		for _, l := range t.Layers {
			switch sl := l.(type) {
			case host.SolidFill:
				if fill == nil {
					fill = &sl
				}
			case host.SolidStroke:
				if mark.Stroke == nil {
					c, op := ColorOf(sl.Color)
					mark.Stroke = &Stroke{Color: c, Opacity: op, Width: sl.Width}
				}
			}
		}
		var fc *host.Color
		if fill != nil {
			fc = fill.Color
		}
		c, op := ColorOf(fc)
		mark.Fill = Fill{Color: c, Opacity: op}
		return &PointSymbolizer{Mark: mark, Size: markerSize}
	case host.PictureMarker:
		pic, err := d.picture(t.URL)
		if err != nil {
			return nil
		}
		return &PointSymbolizer{
			External: &ExternalGraphic{Format: pic.format, Content: pic.content},
			Size:     t.Size,
		}
	default:
		return nil
	}
}

func (d *Deriver) picture(uri string) (picture, error) {
	key := xxhash.Sum64String(uri)
	if p, ok := d.pictures.Get(key); ok {
		return p, nil
	}
	p, err := parseDataURI(uri)
	if err != nil {
		return picture{}, err
	}
	d.pictures.Add(key, p)
	return p, nil
}

// parseDataURI decodes data:[<mediatype>][;base64],<data>.
func parseDataURI(uri string) (picture, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return picture{}, errNotDataURI
	}
	meta, data, ok := strings.Cut(rest, ",")
	if !ok {
		return picture{}, fmt.Errorf("%w: missing payload", errNotDataURI)
	}
	format, params, _ := strings.Cut(meta, ";")
	if format == "" {
		format = "text/plain"
	}
	if strings.Contains(params, "base64") {
		b, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			return picture{}, fmt.Errorf("decode picture: %w", err)
		}
		return picture{format: format, content: b}, nil
	}
	s, err := url.PathUnescape(data)
	if err != nil {
		return picture{}, fmt.Errorf("decode picture: %w", err)
	}
	return picture{format: format, content: []byte(s)}, nil
}

// ColorOf returns the color as #rrggbb and its opacity in [0,1]. Missing
// components default to 255; alpha is on a 0..100 scale.
func ColorOf(c *host.Color) (string, float64) {
	v := [4]float64{255, 255, 255, 255}
	if c != nil {
		copy(v[:], c.Values)
	}
	hex := fmt.Sprintf("#%02x%02x%02x", channel(v[0]), channel(v[1]), channel(v[2]))
	alpha := v[3]
	if math.IsNaN(alpha) {
		alpha = 255
	}
	return hex, math.Min(math.Max(alpha/100, 0), 1)
}

func channel(f float64) uint8 {
	if math.IsNaN(f) || f <= 0 {
		return 0
	}
	if f >= 255 {
		return 255
	}
	return uint8(math.Round(f))
}
