// Package host describes the GIS host runtime the bridge plugs into.
//
// Everything here is owned by the host. The bridge keeps map ids and layer
// names only and re-resolves live objects on every call.
package host

import (
	"context"
	"errors"

	"github.com/mohammed-shakir/panoview-bridge/internal/geom"
)

var (
	ErrNullReference = errors.New("host: null reference")
	ErrNotFound      = errors.New("host: not found")
)

type FieldType int

const (
	FieldString FieldType = iota
	FieldInteger
	FieldDouble
	FieldDate
	FieldOID
	FieldGUID
	FieldGeometry
	FieldBlob
)

type Field struct {
	Name string
	Type FieldType
}

type Row interface {
	ObjectID() int64
	Fields() []Field
	// OriginalValue returns the pre-edit value of field i.
	OriginalValue(i int) (any, error)
	Shape() geom.Geometry
}

type Cursor interface {
	Next() bool
	Row() Row
	Close() error
}

type SpatialRelationship int

const (
	Intersects SpatialRelationship = iota
	Contains
	Within
)

type SpatialQuery struct {
	Geometry     geom.Geometry
	Relationship SpatialRelationship
	SubFields    string
}

type RowEventKind int

const (
	RowCreated RowEventKind = iota
	RowChanged
	RowDeleted
)

func (k RowEventKind) String() string {
	switch k {
	case RowCreated:
		return "row_created"
	case RowChanged:
		return "row_changed"
	default:
		return "row_deleted"
	}
}

type RowEvent struct {
	Kind     RowEventKind
	Layer    string
	ObjectID int64
	Shape    geom.Geometry
}

type Subscription interface {
	Unsubscribe()
}

type Table interface {
	Search(ctx context.Context, q SpatialQuery) (Cursor, error)
	Subscribe(kind RowEventKind, fn func(RowEvent)) Subscription
}

type ElevationSurface struct {
	ZOffset float64
}

type FeatureLayer interface {
	Name() string
	MapID() string
	Connected() bool
	SpatialReference() geom.SpatialReference
	GeometryType() geom.Kind
	ObjectIDField() string
	Renderer(ctx context.Context) (Renderer, error)
	ElevationSurface() ElevationSurface
	// Table returns ErrNotFound when the backing table is unreachable.
	Table() (Table, error)
}

type EditTool int

const (
	ToolNone EditTool = iota
	ToolSketch
	ToolVertexEdit
)

type LayerSelection struct {
	Layer     string
	ObjectIDs []int64
}

type SelectionEvent struct {
	MapID      string
	Selections []LayerSelection
}

type DrawCompleteEvent struct {
	MapID string
}

type Map interface {
	ID() string
	SpatialReference() geom.SpatialReference
	Layer(name string) (FeatureLayer, bool)
	Layers() []FeatureLayer
	ActiveTool() EditTool
	Select(ctx context.Context, layer string, oids []int64) error
	SubscribeSelection(fn func(SelectionEvent)) Subscription
	SubscribeDrawComplete(fn func(DrawCompleteEvent)) Subscription
}

type GeometryEngine interface {
	Project(ctx context.Context, g geom.Geometry, to geom.SpatialReference) (geom.Geometry, error)
}

type ElevationSampler interface {
	Sample(ctx context.Context, p geom.Point) (float64, error)
}

type EditOperation interface {
	Create(layer FeatureLayer, g geom.Geometry, attrs map[string]any)
	Modify(layer FeatureLayer, oid int64, g geom.Geometry)
	Execute(ctx context.Context) error
}

type Editor interface {
	NewOperation(name string) EditOperation
}

type App interface {
	// ActiveMap returns nil when no map view is active.
	ActiveMap() Map
	Map(id string) (Map, bool)
	Engine() GeometryEngine
	Editor() Editor
	Elevation() ElevationSampler
	SpatialReference(wkid int) (geom.SpatialReference, bool)
}
