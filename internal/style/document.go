// Package style derives an OGC SLD 1.0 style document from a host renderer.
package style

import (
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"strconv"
)

// Document is the style pushed alongside an overlay. Rules are evaluated in order.
type Document struct {
	Name  string
	Rules []Rule
}

type Rule struct {
	Name string
	// Filter is nil for an unconditional rule.
	Filter     *Filter
	Symbolizer Symbolizer
}

// Filter matches features whose Property equals Literal.
type Filter struct {
	Property string
	Literal  string
}

type Symbolizer interface{ symbolizer() }

// PointSymbolizer draws either a Mark or an ExternalGraphic.
type PointSymbolizer struct {
	Mark     *Mark
	External *ExternalGraphic
	Size     float64
}

type Mark struct {
	WellKnownName string
	Fill          Fill
	Stroke        *Stroke
}

type ExternalGraphic struct {
	Format  string
	Content []byte
}

type LineSymbolizer struct {
	Stroke Stroke
}

type PolygonSymbolizer struct {
	Fill Fill
}

func (*PointSymbolizer) symbolizer()   {}
func (*LineSymbolizer) symbolizer()    {}
func (*PolygonSymbolizer) symbolizer() {}

type Fill struct {
	Color   string
	Opacity float64
}

type Stroke struct {
	Color   string
	Opacity float64
	Width   float64
}

func (d *Document) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Rules)
}

// Marshal renders the document as SLD XML. A nil document renders as "".
func (d *Document) Marshal() (string, error) {
	if d == nil {
		return "", nil
	}
	out := xmlSLD{
		Version:  "1.0.0",
		XMLNS:    "http://www.opengis.net/sld",
		OGC:      "http://www.opengis.net/ogc",
		XLink:    "http://www.w3.org/1999/xlink",
		XSI:      "http://www.w3.org/2001/XMLSchema-instance",
		Location: "http://www.opengis.net/sld StyledLayerDescriptor.xsd",
		Layer: xmlNamedLayer{
			Name: d.Name,
			Style: xmlUserStyle{
				Name: d.Name,
			},
		},
	}
	rules := make([]xmlRule, 0, len(d.Rules))
	for _, r := range d.Rules {
		xr := xmlRule{Name: r.Name}
		if r.Filter != nil {
			xr.Filter = &xmlFilter{Equal: xmlEqual{Property: r.Filter.Property, Literal: r.Filter.Literal}}
		}
		switch s := r.Symbolizer.(type) {
		case *PointSymbolizer:
			xr.Point = pointXML(s)
		case *LineSymbolizer:
			xr.Line = &xmlLineSymbolizer{Stroke: strokeXML(s.Stroke)}
		case *PolygonSymbolizer:
			xr.Polygon = &xmlPolygonSymbolizer{Fill: fillXML(s.Fill)}
		}
		rules = append(rules, xr)
	}
	out.Layer.Style.FeatureTypeStyle.Rules = rules

	b, err := xml.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal style %s: %w", d.Name, err)
	}
	return xml.Header + string(b), nil
}

func pointXML(s *PointSymbolizer) *xmlPointSymbolizer {
	g := xmlGraphic{Size: num(s.Size)}
	switch {
	case s.External != nil:
		g.External = &xmlExternalGraphic{
			Inline: xmlInline{Encoding: "base64", Data: base64.StdEncoding.EncodeToString(s.External.Content)},
			Format: s.External.Format,
		}
	case s.Mark != nil:
		m := &xmlMark{WellKnownName: s.Mark.WellKnownName, Fill: fillXML(s.Mark.Fill)}
		if s.Mark.Stroke != nil {
			st := strokeXML(*s.Mark.Stroke)
			m.Stroke = &st
		}
		g.Mark = m
	}
	return &xmlPointSymbolizer{Graphic: g}
}

func fillXML(f Fill) xmlFill {
	return xmlFill{Params: []xmlCSS{
		{Name: "fill", Value: f.Color},
		{Name: "fill-opacity", Value: num(f.Opacity)},
	}}
}

func strokeXML(s Stroke) xmlStroke {
	return xmlStroke{Params: []xmlCSS{
		{Name: "stroke", Value: s.Color},
		{Name: "stroke-opacity", Value: num(s.Opacity)},
		{Name: "stroke-width", Value: num(s.Width)},
	}}
}

func num(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

type xmlSLD struct {
	XMLName  xml.Name      `xml:"StyledLayerDescriptor"`
	Version  string        `xml:"version,attr"`
	XMLNS    string        `xml:"xmlns,attr"`
	OGC      string        `xml:"xmlns:ogc,attr"`
	XLink    string        `xml:"xmlns:xlink,attr"`
	XSI      string        `xml:"xmlns:xsi,attr"`
	Location string        `xml:"xsi:schemaLocation,attr"`
	Layer    xmlNamedLayer `xml:"NamedLayer"`
}

type xmlNamedLayer struct {
	Name  string       `xml:"Name"`
	Style xmlUserStyle `xml:"UserStyle"`
}

type xmlUserStyle struct {
	Name             string              `xml:"Name"`
	FeatureTypeStyle xmlFeatureTypeStyle `xml:"FeatureTypeStyle"`
}

type xmlFeatureTypeStyle struct {
	Rules []xmlRule `xml:"Rule"`
}

type xmlRule struct {
	Name    string                `xml:"Name,omitempty"`
	Filter  *xmlFilter            `xml:"ogc:Filter,omitempty"`
	Point   *xmlPointSymbolizer   `xml:"PointSymbolizer,omitempty"`
	Line    *xmlLineSymbolizer    `xml:"LineSymbolizer,omitempty"`
	Polygon *xmlPolygonSymbolizer `xml:"PolygonSymbolizer,omitempty"`
}

type xmlFilter struct {
	Equal xmlEqual `xml:"ogc:PropertyIsEqualTo"`
}

type xmlEqual struct {
	Property string `xml:"ogc:PropertyName"`
	Literal  string `xml:"ogc:Literal"`
}

type xmlPointSymbolizer struct {
	Graphic xmlGraphic `xml:"Graphic"`
}

type xmlGraphic struct {
	External *xmlExternalGraphic `xml:"ExternalGraphic,omitempty"`
	Mark     *xmlMark            `xml:"Mark,omitempty"`
	Size     string              `xml:"Size"`
}

type xmlExternalGraphic struct {
	Inline xmlInline `xml:"InlineContent"`
	Format string    `xml:"Format"`
}

type xmlInline struct {
	Encoding string `xml:"encoding,attr"`
	Data     string `xml:",chardata"`
}

type xmlMark struct {
	WellKnownName string     `xml:"WellKnownName"`
	Fill          xmlFill    `xml:"Fill"`
	Stroke        *xmlStroke `xml:"Stroke,omitempty"`
}

type xmlLineSymbolizer struct {
	Stroke xmlStroke `xml:"Stroke"`
}

type xmlPolygonSymbolizer struct {
	Fill xmlFill `xml:"Fill"`
}

type xmlFill struct {
	Params []xmlCSS `xml:"CssParameter"`
}

type xmlStroke struct {
	Params []xmlCSS `xml:"CssParameter"`
}

type xmlCSS struct {
	Name  string `xml:"name,attr"`
	Value string `xml:",chardata"`
}
