package memhost

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mohammed-shakir/panoview-bridge/internal/geom"
	"github.com/mohammed-shakir/panoview-bridge/internal/host"
)

type Map struct {
	id string
	sr geom.SpatialReference

	mu        sync.RWMutex
	layers    []*Layer
	tool      host.EditTool
	selection map[string][]int64

	subMu   sync.Mutex
	nextSub int
	onSel   map[int]func(host.SelectionEvent)
	onDraw  map[int]func(host.DrawCompleteEvent)
}

func NewMap(id string, sr geom.SpatialReference) *Map {
	return &Map{
		id:        id,
		sr:        sr,
		selection: map[string][]int64{},
		onSel:     map[int]func(host.SelectionEvent){},
		onDraw:    map[int]func(host.DrawCompleteEvent){},
	}
}

func (m *Map) ID() string                              { return m.id }
func (m *Map) SpatialReference() geom.SpatialReference { return m.sr }

// AddLayer creates a layer on this map; an existing layer of the same name is replaced.
func (m *Map) AddLayer(name string, kind geom.Kind, sr geom.SpatialReference, fields ...host.Field) *Layer {
	l := NewLayer(m.id, name, kind, sr, NewTable(name, fields...))
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, old := range m.layers {
		if old.name == name {
			m.layers[i] = l
			return l
		}
	}
	m.layers = append(m.layers, l)
	return l
}

func (m *Map) RemoveLayer(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, l := range m.layers {
		if l.name == name {
			m.layers = append(m.layers[:i], m.layers[i+1:]...)
			delete(m.selection, name)
			return true
		}
	}
	return false
}

func (m *Map) Layer(name string) (host.FeatureLayer, bool) {
	l, ok := m.memLayer(name)
	if !ok {
		return nil, false
	}
	return l, true
}

// MemLayer returns the concrete layer for test and seed access.
func (m *Map) MemLayer(name string) (*Layer, bool) { return m.memLayer(name) }

func (m *Map) memLayer(name string) (*Layer, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, l := range m.layers {
		if l.name == name {
			return l, true
		}
	}
	return nil, false
}

func (m *Map) Layers() []host.FeatureLayer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]host.FeatureLayer, 0, len(m.layers))
	for _, l := range m.layers {
		out = append(out, l)
	}
	return out
}

func (m *Map) ActiveTool() host.EditTool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tool
}

func (m *Map) SetActiveTool(t host.EditTool) {
	m.mu.Lock()
	m.tool = t
	m.mu.Unlock()
}

// Select replaces the selection of one layer and notifies selection subscribers.
func (m *Map) Select(ctx context.Context, layer string, oids []int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := m.memLayer(layer); !ok {
		return fmt.Errorf("select on %s: %w", layer, host.ErrNotFound)
	}
	m.mu.Lock()
	m.selection[layer] = append([]int64(nil), oids...)
	ev := m.selectionEventLocked()
	m.mu.Unlock()

	for _, fn := range m.selectionSubs() {
		fn(ev)
	}
	return nil
}

// Selection returns the selected object ids of one layer.
func (m *Map) Selection(layer string) []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]int64(nil), m.selection[layer]...)
}

// FireDrawComplete notifies draw-complete subscribers.
func (m *Map) FireDrawComplete() {
	ev := host.DrawCompleteEvent{MapID: m.id}
	m.subMu.Lock()
	fns := make([]func(host.DrawCompleteEvent), 0, len(m.onDraw))
	for _, id := range sortedKeys(m.onDraw) {
		fns = append(fns, m.onDraw[id])
	}
	m.subMu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (m *Map) SubscribeSelection(fn func(host.SelectionEvent)) host.Subscription {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	id := m.nextSub
	m.nextSub++
	m.onSel[id] = fn
	return subscription(func() {
		m.subMu.Lock()
		delete(m.onSel, id)
		m.subMu.Unlock()
	})
}

func (m *Map) SubscribeDrawComplete(fn func(host.DrawCompleteEvent)) host.Subscription {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	id := m.nextSub
	m.nextSub++
	m.onDraw[id] = fn
	return subscription(func() {
		m.subMu.Lock()
		delete(m.onDraw, id)
		m.subMu.Unlock()
	})
}

func (m *Map) selectionSubs() []func(host.SelectionEvent) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	fns := make([]func(host.SelectionEvent), 0, len(m.onSel))
	for _, id := range sortedKeys(m.onSel) {
		fns = append(fns, m.onSel[id])
	}
	return fns
}

func (m *Map) selectionEventLocked() host.SelectionEvent {
	ev := host.SelectionEvent{MapID: m.id}
	for _, l := range m.layers {
		ids, ok := m.selection[l.name]
		if !ok || len(ids) == 0 {
			continue
		}
		ev.Selections = append(ev.Selections, host.LayerSelection{
			Layer:     l.name,
			ObjectIDs: append([]int64(nil), ids...),
		})
	}
	return ev
}

func sortedKeys[V any](m map[int]V) []int {
	out := make([]int, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}
