package host

type Renderer interface{ renderer() }

type SimpleRenderer struct {
	Symbol Symbol
}

type UniqueValueRenderer struct {
	Fields        []string
	Groups        []UniqueValueGroup
	DefaultSymbol Symbol
}

type UniqueValueGroup struct {
	Heading string
	Classes []UniqueValueClass
}

type UniqueValueClass struct {
	Label  string
	Values []UniqueValue
	Symbol Symbol
}

// UniqueValue holds one value per classification field, in field order.
type UniqueValue struct {
	FieldValues []string
}

// OtherRenderer stands in for renderer kinds with no dedicated mapping
// (class breaks, heat maps, ...).
type OtherRenderer struct {
	Type          string
	DefaultSymbol Symbol
}

func (SimpleRenderer) renderer()      {}
func (UniqueValueRenderer) renderer() {}
func (OtherRenderer) renderer()       {}

// Color components are r, g, b in 0..255 and alpha in 0..100.
type Color struct {
	Values []float64
}

type Symbol interface{ symbol() }

type PointSymbol struct {
	Marker Marker
}

type LineSymbol struct {
	Stroke SolidStroke
}

type PolygonSymbol struct {
	Fill    SolidFill
	Outline *SolidStroke
}

func (PointSymbol) symbol()   {}
func (LineSymbol) symbol()    {}
func (PolygonSymbol) symbol() {}

type Marker interface{ marker() }

type ShapeMarker struct {
	Size   float64
	Layers []SymbolLayer
}

// PictureMarker embeds its image as a data URI.
type PictureMarker struct {
	Size float64
	URL  string
}

func (ShapeMarker) marker()   {}
func (PictureMarker) marker() {}

type SymbolLayer interface{ symbolLayer() }

type SolidFill struct {
	Color *Color
}

type SolidStroke struct {
	Color *Color
	Width float64
}

func (SolidFill) symbolLayer()   {}
func (SolidStroke) symbolLayer() {}
