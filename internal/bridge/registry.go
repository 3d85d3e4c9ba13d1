package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	obs "github.com/mohammed-shakir/panoview-bridge/internal/core/observability"
	"github.com/mohammed-shakir/panoview-bridge/internal/events"
	"github.com/mohammed-shakir/panoview-bridge/internal/geom"
	"github.com/mohammed-shakir/panoview-bridge/internal/host"
	"github.com/mohammed-shakir/panoview-bridge/internal/logger"
)

type bindingKey struct {
	mapID string
	layer string
}

// Registry is the list of tracked layers. It listens to map-level
// notifications and fans them out to the bindings of that map.
type Registry struct {
	deps Deps
	log  *slog.Logger

	mu       sync.RWMutex
	bindings map[bindingKey]*LayerBinding
	mapSubs  map[string][]host.Subscription
}

func NewRegistry(deps Deps) *Registry {
	log := deps.Log
	if log == nil {
		log = logger.Discard()
	}
	return &Registry{
		deps:     deps,
		log:      log,
		bindings: map[bindingKey]*LayerBinding{},
		mapSubs:  map[string][]host.Subscription{},
	}
}

// Attach starts tracking a layer and runs its first recompute. Attaching a
// tracked layer returns the existing binding.
func (r *Registry) Attach(ctx context.Context, mapID, layer string) (*LayerBinding, error) {
	m, ok := r.deps.App.Map(mapID)
	if !ok || m == nil {
		return nil, fmt.Errorf("map %q: %w", mapID, ErrUnknownLayer)
	}
	if _, ok := m.Layer(layer); !ok {
		return nil, fmt.Errorf("layer %q in map %q: %w", layer, mapID, ErrUnknownLayer)
	}

	key := bindingKey{mapID: mapID, layer: layer}
	r.mu.Lock()
	if b, ok := r.bindings[key]; ok {
		r.mu.Unlock()
		return b, nil
	}
	b := newBinding(r.deps, mapID, layer)
	r.bindings[key] = b
	if _, ok := r.mapSubs[mapID]; !ok {
		r.mapSubs[mapID] = r.subscribeMap(ctx, m)
	}
	n := len(r.bindings)
	r.mu.Unlock()
	obs.SetTrackedLayers(n)

	if err := b.Connect(ctx); err != nil {
		r.forget(key, b)
		return nil, fmt.Errorf("connect %s: %w", layer, err)
	}
	b.Generate(ctx)
	r.log.Info("layer attached", "map", mapID, "layer", layer)
	return b, nil
}

// AttachAll tracks every layer of a map.
func (r *Registry) AttachAll(ctx context.Context, mapID string) error {
	m, ok := r.deps.App.Map(mapID)
	if !ok || m == nil {
		return fmt.Errorf("map %q: %w", mapID, ErrUnknownLayer)
	}
	for _, l := range m.Layers() {
		if _, err := r.Attach(ctx, mapID, l.Name()); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) subscribeMap(ctx context.Context, m host.Map) []host.Subscription {
	base := context.WithoutCancel(ctx)
	mapID := m.ID()
	return []host.Subscription{
		m.SubscribeSelection(func(ev host.SelectionEvent) {
			for _, b := range r.forMap(mapID) {
				b.post(base, "selection_changed", func(ctx context.Context) { b.onSelectionChanged(ctx, ev) })
			}
		}),
		m.SubscribeDrawComplete(func(host.DrawCompleteEvent) {
			for _, b := range r.forMap(mapID) {
				b.post(base, "draw_complete", b.onDrawComplete)
			}
		}),
	}
}

func (r *Registry) Detach(ctx context.Context, mapID, layer string) error {
	key := bindingKey{mapID: mapID, layer: layer}
	r.mu.Lock()
	b, ok := r.bindings[key]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("layer %q in map %q: %w", layer, mapID, ErrUnknownLayer)
	}
	delete(r.bindings, key)
	var subs []host.Subscription
	if len(r.forMapLocked(mapID)) == 0 {
		subs = r.mapSubs[mapID]
		delete(r.mapSubs, mapID)
	}
	n := len(r.bindings)
	r.mu.Unlock()

	for _, s := range subs {
		s.Unsubscribe()
	}
	obs.SetTrackedLayers(n)
	r.log.Info("layer detached", "map", mapID, "layer", layer)
	return b.Close(ctx)
}

// forget drops a binding whose attach did not complete.
func (r *Registry) forget(key bindingKey, b *LayerBinding) {
	r.mu.Lock()
	if r.bindings[key] == b {
		delete(r.bindings, key)
	}
	var subs []host.Subscription
	if len(r.forMapLocked(key.mapID)) == 0 {
		subs = r.mapSubs[key.mapID]
		delete(r.mapSubs, key.mapID)
	}
	n := len(r.bindings)
	r.mu.Unlock()

	for _, s := range subs {
		s.Unsubscribe()
	}
	b.q.Close()
	obs.SetTrackedLayers(n)
}

func (r *Registry) Get(mapID, layer string) (*LayerBinding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bindings[bindingKey{mapID: mapID, layer: layer}]
	return b, ok
}

// Layers returns every binding ordered by map and layer name.
func (r *Registry) Layers() []*LayerBinding {
	r.mu.RLock()
	out := make([]*LayerBinding, 0, len(r.bindings))
	for _, b := range r.bindings {
		out = append(out, b)
	}
	r.mu.RUnlock()
	sortBindings(out)
	return out
}

func (r *Registry) forMap(mapID string) []*LayerBinding {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.forMapLocked(mapID)
}

func (r *Registry) forMapLocked(mapID string) []*LayerBinding {
	var out []*LayerBinding
	for k, b := range r.bindings {
		if k.mapID == mapID {
			out = append(out, b)
		}
	}
	sortBindings(out)
	return out
}

func sortBindings(bs []*LayerBinding) {
	sort.Slice(bs, func(i, j int) bool {
		if bs[i].mapID != bs[j].mapID {
			return bs[i].mapID < bs[j].mapID
		}
		return bs[i].layer < bs[j].layer
	})
}

// Dispatch applies a map event received from a remote host session.
// Events for layers that are not tracked are ignored.
func (r *Registry) Dispatch(ctx context.Context, ev events.Event) error {
	switch ev.Op {
	case events.OpSelectionChanged:
		sel := host.SelectionEvent{MapID: ev.Map}
		for _, s := range ev.Selection {
			sel.Selections = append(sel.Selections, host.LayerSelection{Layer: s.Layer, ObjectIDs: s.ObjectIDs})
		}
		return r.fanOut(ctx, ev.Map, func(b *LayerBinding) error { return b.OnSelectionChanged(ctx, sel) })
	case events.OpDrawComplete:
		return r.fanOut(ctx, ev.Map, func(b *LayerBinding) error { return b.OnDrawComplete(ctx) })
	}

	b, ok := r.Get(ev.Map, ev.Layer)
	if !ok {
		r.log.Debug("event for untracked layer", "map", ev.Map, "layer", ev.Layer, "op", ev.Op)
		return nil
	}
	rowEv := host.RowEvent{Layer: ev.Layer}
	if ev.ObjectID != nil {
		rowEv.ObjectID = *ev.ObjectID
	}
	switch ev.Op {
	case events.OpRowCreated:
		rowEv.Kind = host.RowCreated
		if ev.Point != nil {
			rowEv.Shape = r.eventPoint(ev)
		}
		return b.OnRowCreated(ctx, rowEv)
	case events.OpRowChanged:
		rowEv.Kind = host.RowChanged
		return b.OnRowChanged(ctx, rowEv)
	case events.OpRowDeleted:
		rowEv.Kind = host.RowDeleted
		return b.OnRowDeleted(ctx, rowEv)
	default:
		return fmt.Errorf("unsupported op %q", ev.Op)
	}
}

// eventPoint places an event point in the reference of its layer.
func (r *Registry) eventPoint(ev events.Event) *geom.Point {
	p := &geom.Point{X: ev.Point.X, Y: ev.Point.Y, Z: ev.Point.Z}
	if m, ok := r.deps.App.Map(ev.Map); ok && m != nil {
		if l, ok := m.Layer(ev.Layer); ok && l != nil {
			p.SR = l.SpatialReference()
		}
	}
	return p
}

func (r *Registry) fanOut(ctx context.Context, mapID string, fn func(*LayerBinding) error) error {
	var errs []error
	for _, b := range r.forMap(mapID) {
		if err := fn(b); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", b.layer, err))
		}
	}
	return errors.Join(errs...)
}

// RefreshAll recomputes every binding and returns how many changed.
func (r *Registry) RefreshAll(ctx context.Context) int {
	n := 0
	for _, b := range r.Layers() {
		if _, changed := b.Generate(ctx); changed {
			n++
		}
	}
	return n
}

// Close detaches every layer.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	bindings := r.bindings
	subs := r.mapSubs
	r.bindings = map[bindingKey]*LayerBinding{}
	r.mapSubs = map[string][]host.Subscription{}
	r.mu.Unlock()

	for _, ss := range subs {
		for _, s := range ss {
			s.Unsubscribe()
		}
	}
	var errs []error
	for _, b := range bindings {
		if err := b.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	obs.SetTrackedLayers(0)
	return errors.Join(errs...)
}
