package memhost

import (
	"sync"

	"github.com/mohammed-shakir/panoview-bridge/internal/geom"
	"github.com/mohammed-shakir/panoview-bridge/internal/host"
)

// App is an in-process host: maps, a projection engine, an editor and terrain.
type App struct {
	engine  *Engine
	editor  *Editor
	terrain *Terrain

	mu     sync.RWMutex
	maps   map[string]*Map
	order  []string
	active string
}

type Option func(*App)

func WithTerrain(t *Terrain) Option {
	return func(a *App) {
		if t != nil {
			a.terrain = t
		}
	}
}

func New(opts ...Option) *App {
	a := &App{
		engine:  NewEngine(),
		editor:  NewEditor(),
		terrain: FlatTerrain(0),
		maps:    map[string]*Map{},
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// AddMap creates a map; the first map added becomes active.
func (a *App) AddMap(id string, sr geom.SpatialReference) *Map {
	m := NewMap(id, sr)
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.maps[id]; !ok {
		a.order = append(a.order, id)
	}
	a.maps[id] = m
	if a.active == "" {
		a.active = id
	}
	return m
}

// Activate switches the active map; an empty id leaves no map active.
func (a *App) Activate(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if id == "" {
		a.active = ""
		return true
	}
	if _, ok := a.maps[id]; !ok {
		return false
	}
	a.active = id
	return true
}

func (a *App) ActiveMap() host.Map {
	m := a.ActiveMemMap()
	if m == nil {
		return nil
	}
	return m
}

// ActiveMemMap returns the concrete active map, or nil.
func (a *App) ActiveMemMap() *Map {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.maps[a.active]
}

func (a *App) Map(id string) (host.Map, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	m, ok := a.maps[id]
	if !ok {
		return nil, false
	}
	return m, true
}

func (a *App) Maps() []*Map {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]*Map, 0, len(a.order))
	for _, id := range a.order {
		out = append(out, a.maps[id])
	}
	return out
}

func (a *App) Engine() host.GeometryEngine       { return a.engine }
func (a *App) Editor() host.Editor              { return a.editor }
func (a *App) Elevation() host.ElevationSampler { return a.terrain }

// MemEditor exposes the concrete editor for operation history.
func (a *App) MemEditor() *Editor { return a.editor }

func (a *App) Terrain() *Terrain { return a.terrain }

func (a *App) SpatialReference(wkid int) (geom.SpatialReference, bool) {
	return Reference(wkid)
}
