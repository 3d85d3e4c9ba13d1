package memhost

import (
	"context"
	"fmt"
	"sync"

	"github.com/mohammed-shakir/panoview-bridge/internal/geom"
	"github.com/mohammed-shakir/panoview-bridge/internal/host"
)

// Layer is a feature layer backed by a Table.
type Layer struct {
	name  string
	mapID string
	sr    geom.SpatialReference
	kind  geom.Kind
	table *Table

	mu        sync.RWMutex
	renderer  host.Renderer
	surface   host.ElevationSurface
	connected bool
	detached  bool
}

func NewLayer(mapID, name string, kind geom.Kind, sr geom.SpatialReference, table *Table) *Layer {
	if table == nil {
		table = NewTable(name)
	}
	return &Layer{
		name:      name,
		mapID:     mapID,
		sr:        sr,
		kind:      kind,
		table:     table,
		connected: true,
		renderer:  host.SimpleRenderer{},
	}
}

func (l *Layer) Name() string                            { return l.name }
func (l *Layer) MapID() string                           { return l.mapID }
func (l *Layer) SpatialReference() geom.SpatialReference { return l.sr }
func (l *Layer) GeometryType() geom.Kind                 { return l.kind }
func (l *Layer) ObjectIDField() string                   { return ObjectIDField }

// Rows exposes the backing table for seeding and edits.
func (l *Layer) Rows() *Table { return l.table }

func (l *Layer) Connected() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.connected
}

func (l *Layer) SetConnected(v bool) {
	l.mu.Lock()
	l.connected = v
	l.mu.Unlock()
}

// Detach makes the table unreachable, as if its data source went away.
func (l *Layer) Detach() {
	l.mu.Lock()
	l.detached = true
	l.mu.Unlock()
}

func (l *Layer) Renderer(ctx context.Context) (host.Renderer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.renderer, nil
}

func (l *Layer) SetRenderer(r host.Renderer) {
	l.mu.Lock()
	l.renderer = r
	l.mu.Unlock()
}

func (l *Layer) ElevationSurface() host.ElevationSurface {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.surface
}

func (l *Layer) SetElevationSurface(s host.ElevationSurface) {
	l.mu.Lock()
	l.surface = s
	l.mu.Unlock()
}

func (l *Layer) Table() (host.Table, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.detached {
		return nil, fmt.Errorf("layer %s table: %w", l.name, host.ErrNotFound)
	}
	return l.table, nil
}
