// Package bridge keeps one feature layer of the host map in sync with its
// overlay in the panoramic viewer.
package bridge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strconv"
	"time"

	"github.com/mohammed-shakir/panoview-bridge/internal/core/config"
	obs "github.com/mohammed-shakir/panoview-bridge/internal/core/observability"
	"github.com/mohammed-shakir/panoview-bridge/internal/elevation"
	"github.com/mohammed-shakir/panoview-bridge/internal/geom"
	"github.com/mohammed-shakir/panoview-bridge/internal/host"
	"github.com/mohammed-shakir/panoview-bridge/internal/interchange"
	"github.com/mohammed-shakir/panoview-bridge/internal/logger"
	"github.com/mohammed-shakir/panoview-bridge/internal/overlay"
	"github.com/mohammed-shakir/panoview-bridge/internal/publish/snapshotstore"
	"github.com/mohammed-shakir/panoview-bridge/internal/reproject"
	"github.com/mohammed-shakir/panoview-bridge/internal/style"
	"github.com/mohammed-shakir/panoview-bridge/internal/viewer"
)

// groundTolerance is how close to zero a created point's Z must be for the
// terrain to be sampled under it.
const groundTolerance = 0.1

var (
	// ErrUnknownLayer is returned when a map or layer is not in the host
	// or not tracked.
	ErrUnknownLayer = errors.New("bridge: unknown layer")
	// ErrInvalidMeasurement is returned when viewer points cannot form a
	// geometry of the layer's type.
	ErrInvalidMeasurement = errors.New("bridge: invalid measurement")
)

// Deps are the collaborators shared by every binding of a registry.
type Deps struct {
	App       host.App
	Viewer    viewer.API
	Builder   *overlay.Builder
	Styles    *style.Deriver
	Proj      *reproject.Reprojector
	Elevation *elevation.Tracker
	Store     snapshotstore.Store // optional
	Project   config.Project
	Log       *slog.Logger
	QueueSize int
}

// Snapshot is the result of the latest recompute.
type Snapshot struct {
	Collection *interchange.FeatureCollection
	Features   []byte
	Style      *style.Document
	StyleText  string
}

// Status is a point-in-time view of a binding, served by the layers API.
type Status struct {
	Map         string    `json:"map"`
	Layer       string    `json:"layer"`
	OverlayID   string    `json:"overlay_id,omitempty"`
	Connected   bool      `json:"connected"`
	Features    int       `json:"features"`
	Rules       int       `json:"rules"`
	Selection   []int64   `json:"selection"`
	PendingPush bool      `json:"pending_push"`
	EditingOID  *int64    `json:"editing_oid,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// LayerBinding ties one host feature layer to one viewer overlay. The
// layer is referenced by map id and name only and resolved on every task.
// All state below q is owned by the queue worker.
type LayerBinding struct {
	deps  Deps
	mapID string
	layer string
	log   *slog.Logger
	q     *Queue

	overlayID  string
	coll       *interchange.FeatureCollection
	payload    []byte
	doc        *style.Document
	styleText  string
	selection  []int64
	pending    bool
	editingOID *int64
	subs       []host.Subscription
	updatedAt  time.Time
}

func newBinding(deps Deps, mapID, layer string) *LayerBinding {
	log := deps.Log
	if log == nil {
		log = logger.Discard()
	}
	return &LayerBinding{
		deps:  deps,
		mapID: mapID,
		layer: layer,
		log:   log.With("map", mapID, "layer", layer),
		q:     NewQueue(deps.QueueSize),
	}
}

func (b *LayerBinding) MapID() string { return b.mapID }
func (b *LayerBinding) Layer() string { return b.layer }

func (b *LayerBinding) do(ctx context.Context, fn func(context.Context) error) error {
	return b.q.Do(ctx, func(ctx context.Context) error {
		return fn(b.taskContext(ctx))
	})
}

func (b *LayerBinding) post(ctx context.Context, what string, fn func(context.Context)) {
	ok := b.q.Post(ctx, func(ctx context.Context) {
		fn(b.taskContext(ctx))
	})
	if !ok {
		b.log.Warn("task queue full or closed, dropping", "task", what)
	}
}

func (b *LayerBinding) taskContext(ctx context.Context) context.Context {
	return logger.WithLayer(logger.WithMap(ctx, b.mapID), b.layer)
}

func (b *LayerBinding) resolve() (host.Map, host.FeatureLayer, error) {
	m, ok := b.deps.App.Map(b.mapID)
	if !ok || m == nil {
		return nil, nil, fmt.Errorf("map %q: %w", b.mapID, ErrUnknownLayer)
	}
	l, ok := m.Layer(b.layer)
	if !ok || l == nil {
		return nil, nil, fmt.Errorf("layer %q: %w", b.layer, ErrUnknownLayer)
	}
	return m, l, nil
}

// viewerReference is the per-project override when configured and known,
// otherwise the map's own reference.
func (b *LayerBinding) viewerReference(m host.Map) geom.SpatialReference {
	if wkid := b.deps.Project.ViewerWKID; wkid > 0 {
		if sr, ok := b.deps.App.SpatialReference(wkid); ok {
			return sr
		}
		b.log.Debug("viewer reference override unknown, using map reference", "wkid", wkid)
	}
	return m.SpatialReference()
}

func (b *LayerBinding) snapshot() Snapshot {
	return Snapshot{
		Collection: b.coll,
		Features:   b.payload,
		Style:      b.doc,
		StyleText:  b.styleText,
	}
}

// Generate recomputes the overlay and reports whether the features or the
// style changed since the previous recompute.
func (b *LayerBinding) Generate(ctx context.Context) (Snapshot, bool) {
	var (
		snap    Snapshot
		changed bool
	)
	err := b.do(ctx, func(ctx context.Context) error {
		snap, changed = b.generate(ctx)
		return nil
	})
	if err != nil {
		b.log.Warn("generate not run", "error", err)
	}
	return snap, changed
}

func (b *LayerBinding) generate(ctx context.Context) (Snapshot, bool) {
	start := time.Now()

	active := b.deps.App.ActiveMap()
	if active == nil || active.ID() != b.mapID {
		return b.snapshot(), false
	}
	m, layer, err := b.resolve()
	if err != nil {
		b.log.Debug("layer not resolvable", "error", err)
		return b.snapshot(), false
	}
	ready, err := b.deps.Viewer.Ready(ctx)
	if err != nil || !ready {
		b.log.Debug("viewer not ready", "error", err)
		return b.snapshot(), false
	}

	viewers, err := b.deps.Viewer.Viewers(ctx)
	if err != nil {
		b.log.Warn("listing viewers failed", "error", err)
		viewers = nil
	}
	coll := b.deps.Builder.Collect(ctx, layer, viewers, b.viewerReference(m))

	styleChanged := false
	if coll.Len() > 0 {
		styleChanged = b.deriveStyle(ctx, layer)
	}

	payload, err := coll.Marshal()
	if err != nil {
		b.log.Warn("serializing features failed", "error", err)
		return b.snapshot(), false
	}
	changed := styleChanged || !bytes.Equal(payload, b.payload)
	b.coll, b.payload = coll, payload
	b.updatedAt = time.Now().UTC()

	if changed {
		b.pushOverlay(ctx)
		b.publish(ctx)
	}
	obs.ObserveRecompute(b.layer, changed, time.Since(start).Seconds())
	return b.snapshot(), changed
}

// deriveStyle rebuilds the SLD from the layer renderer and reports whether
// its text changed.
func (b *LayerBinding) deriveStyle(ctx context.Context, layer host.FeatureLayer) bool {
	r, err := layer.Renderer(ctx)
	if err != nil {
		b.log.Warn("reading renderer failed", "error", err)
		r = nil
	}
	doc := b.deps.Styles.Derive(layer.Name(), r)
	text, err := doc.Marshal()
	if err != nil {
		b.log.Warn("serializing style failed", "error", err)
		return false
	}
	changed := text != b.styleText
	b.doc, b.styleText = doc, text
	return changed
}

func (b *LayerBinding) pushOverlay(ctx context.Context) {
	o := viewer.Overlay{Name: b.layer, Features: b.payload, Style: b.styleText}
	if b.overlayID != "" {
		err := b.deps.Viewer.UpdateOverlay(ctx, b.overlayID, o)
		if err == nil {
			return
		}
		if !errors.Is(err, viewer.ErrUnknownOverlay) {
			b.log.Warn("updating overlay failed", "overlay", b.overlayID, "error", err)
			return
		}
		b.overlayID = ""
	}
	id, err := b.deps.Viewer.AddOverlay(ctx, o)
	if err != nil {
		b.log.Warn("adding overlay failed", "error", err)
		return
	}
	b.overlayID = id
}

func (b *LayerBinding) publish(ctx context.Context) {
	if b.deps.Store == nil {
		return
	}
	snap := snapshotstore.Snapshot{Features: b.payload, Style: b.styleText}
	if err := b.deps.Store.Put(ctx, b.mapID, b.layer, snap); err != nil {
		b.log.Warn("publishing snapshot failed", "error", err)
	}
}

func (b *LayerBinding) pushSelection(ctx context.Context, layer host.FeatureLayer) {
	if b.overlayID == "" {
		return
	}
	values := make([]string, 0, len(b.selection))
	seen := make(map[int64]struct{}, len(b.selection))
	for _, oid := range b.selection {
		if _, dup := seen[oid]; dup {
			continue
		}
		seen[oid] = struct{}{}
		values = append(values, strconv.FormatInt(oid, 10))
	}
	if err := b.deps.Viewer.SetSelectedFeatures(ctx, b.overlayID, layer.ObjectIDField(), values); err != nil {
		b.log.Warn("pushing selection failed", "error", err)
	}
}

func (b *LayerBinding) OnSelectionChanged(ctx context.Context, ev host.SelectionEvent) error {
	return b.do(ctx, func(ctx context.Context) error {
		b.onSelectionChanged(ctx, ev)
		return nil
	})
}

func (b *LayerBinding) onSelectionChanged(ctx context.Context, ev host.SelectionEvent) {
	obs.IncMapEvent("selection_changed")

	var (
		ids   []int64
		found bool
	)
	for _, s := range ev.Selections {
		if s.Layer == b.layer {
			ids = append(make([]int64, 0, len(s.ObjectIDs)), s.ObjectIDs...)
			found = true
		}
	}
	if !found && b.selection == nil {
		return
	}
	m, layer, err := b.resolve()
	if err != nil {
		b.log.Debug("selection for unresolvable layer", "error", err)
		return
	}

	if !found {
		b.selection = []int64{}
		b.generate(ctx)
		b.pushSelection(ctx, layer)
		b.selection = nil
		b.pending = false
		return
	}

	b.selection = ids
	b.generate(ctx)
	if m.ActiveTool() == host.ToolVertexEdit {
		b.pending = true
		return
	}
	b.pending = false
	b.pushSelection(ctx, layer)
}

func (b *LayerBinding) OnDrawComplete(ctx context.Context) error {
	return b.do(ctx, func(ctx context.Context) error {
		b.onDrawComplete(ctx)
		return nil
	})
}

func (b *LayerBinding) onDrawComplete(ctx context.Context) {
	obs.IncMapEvent("draw_complete")
	if !b.pending {
		return
	}
	b.pending = false
	_, layer, err := b.resolve()
	if err != nil {
		return
	}
	b.pushSelection(ctx, layer)
}

func (b *LayerBinding) OnRowCreated(ctx context.Context, ev host.RowEvent) error {
	return b.do(ctx, func(ctx context.Context) error {
		b.onRowCreated(ctx, ev)
		return nil
	})
}

func (b *LayerBinding) onRowCreated(ctx context.Context, ev host.RowEvent) {
	obs.IncMapEvent("row_created")
	if p, ok := ev.Shape.(*geom.Point); ok && p != nil && b.deps.Elevation != nil && math.Abs(p.Z) < groundTolerance {
		pt := *p
		b.post(ctx, "elevation", func(ctx context.Context) {
			z, err := b.deps.Elevation.Capture(ctx, pt)
			if err != nil {
				b.log.Warn("elevation capture failed", "oid", ev.ObjectID, "error", err)
				return
			}
			b.log.Debug("captured elevation", "oid", ev.ObjectID, "z", z)
		})
	}
	b.generate(ctx)
}

func (b *LayerBinding) OnRowDeleted(ctx context.Context, ev host.RowEvent) error {
	return b.do(ctx, func(ctx context.Context) error {
		b.onRowDeleted(ctx, ev)
		return nil
	})
}

func (b *LayerBinding) onRowDeleted(ctx context.Context, ev host.RowEvent) {
	obs.IncMapEvent("row_deleted")
	if b.selection != nil {
		b.selection = slices.DeleteFunc(b.selection, func(oid int64) bool { return oid == ev.ObjectID })
	}
	b.generate(ctx)
}

func (b *LayerBinding) OnRowChanged(ctx context.Context, ev host.RowEvent) error {
	return b.do(ctx, func(ctx context.Context) error {
		b.onRowChanged(ctx, ev)
		return nil
	})
}

func (b *LayerBinding) onRowChanged(ctx context.Context, _ host.RowEvent) {
	obs.IncMapEvent("row_changed")
	if m, _, err := b.resolve(); err == nil && m.ActiveTool() == host.ToolVertexEdit {
		b.editingOID = nil
		if err := b.deps.Viewer.StopMeasurementMode(ctx); err != nil {
			b.log.Warn("stopping measurement mode failed", "error", err)
		}
	}
	b.generate(ctx)
}

// AddOrUpdate commits a viewer measurement to the layer. It modifies
// feature oid when one is given and the vertex edit tool is active, and
// creates a new feature otherwise.
func (b *LayerBinding) AddOrUpdate(ctx context.Context, oid *int64, ms viewer.Measurement) error {
	return b.do(ctx, func(ctx context.Context) error {
		return b.addOrUpdate(ctx, oid, ms)
	})
}

func (b *LayerBinding) addOrUpdate(ctx context.Context, oid *int64, ms viewer.Measurement) error {
	m, layer, err := b.resolve()
	if err != nil {
		return err
	}
	vsr := b.viewerReference(m)
	g, err := shapeFor(layer.GeometryType(), vsr, ms.Points)
	if err != nil {
		return err
	}
	g = b.deps.Proj.Project(ctx, g, vsr, layer.SpatialReference())

	modify := oid != nil && m.ActiveTool() == host.ToolVertexEdit
	kind, name := "create", "Create feature in "+b.layer
	if modify {
		kind, name = "modify", fmt.Sprintf("Update feature %d in %s", *oid, b.layer)
	}

	op := b.deps.App.Editor().NewOperation(name)
	if modify {
		op.Modify(layer, *oid, g)
	} else {
		op.Create(layer, g, nil)
	}
	if err := op.Execute(ctx); err != nil {
		obs.IncEditCommit(kind, "error")
		return fmt.Errorf("commit %s: %w", kind, err)
	}
	obs.IncEditCommit(kind, "ok")
	b.log.Info("committed viewer geometry", "op", kind, "name", name)
	return nil
}

// shapeFor builds a geometry of the layer's kind from measurement points.
func shapeFor(kind geom.Kind, sr geom.SpatialReference, pts []interchange.Coordinate) (geom.Geometry, error) {
	if len(pts) == 0 {
		return nil, fmt.Errorf("no points: %w", ErrInvalidMeasurement)
	}
	vs := make([]geom.Point, len(pts))
	for i, c := range pts {
		vs[i] = geom.Point{X: c.X, Y: c.Y, Z: c.Z, SR: sr}
	}
	switch kind {
	case geom.KindPoint:
		p := vs[0]
		return &p, nil
	case geom.KindMultipoint:
		return &geom.Multipoint{Points: vs, SR: sr}, nil
	case geom.KindPolyline:
		if len(vs) < 2 {
			return nil, fmt.Errorf("polyline needs 2 points, got %d: %w", len(vs), ErrInvalidMeasurement)
		}
		return geom.NewPolyline(sr, vs), nil
	case geom.KindPolygon:
		if len(vs) < 3 {
			return nil, fmt.Errorf("polygon needs 3 points, got %d: %w", len(vs), ErrInvalidMeasurement)
		}
		return geom.NewPolygon(sr, vs), nil
	default:
		return nil, fmt.Errorf("layer geometry %s: %w", kind, ErrInvalidMeasurement)
	}
}

// SelectFromViewer applies a selection made in the viewer to the map.
func (b *LayerBinding) SelectFromViewer(ctx context.Context, oids []int64) error {
	return b.do(ctx, func(ctx context.Context) error {
		m, _, err := b.resolve()
		if err != nil {
			return err
		}
		if err := m.Select(ctx, b.layer, oids); err != nil {
			return fmt.Errorf("select: %w", err)
		}
		b.editingOID = nil
		if len(oids) == 1 {
			oid := oids[0]
			b.editingOID = &oid
		}
		return nil
	})
}

// Connect subscribes to row events once the layer's table is reachable.
func (b *LayerBinding) Connect(ctx context.Context) error {
	return b.do(ctx, func(ctx context.Context) error {
		b.connect(ctx)
		return nil
	})
}

func (b *LayerBinding) connect(ctx context.Context) {
	if len(b.subs) > 0 {
		return
	}
	_, layer, err := b.resolve()
	if err != nil || !layer.Connected() {
		return
	}
	t, err := layer.Table()
	if err != nil {
		b.log.Debug("table not reachable", "error", err)
		return
	}
	base := context.WithoutCancel(ctx)
	b.subs = []host.Subscription{
		t.Subscribe(host.RowCreated, func(ev host.RowEvent) {
			b.post(base, "row_created", func(ctx context.Context) { b.onRowCreated(ctx, ev) })
		}),
		t.Subscribe(host.RowChanged, func(ev host.RowEvent) {
			b.post(base, "row_changed", func(ctx context.Context) { b.onRowChanged(ctx, ev) })
		}),
		t.Subscribe(host.RowDeleted, func(ev host.RowEvent) {
			b.post(base, "row_deleted", func(ctx context.Context) { b.onRowDeleted(ctx, ev) })
		}),
	}
}

// Close releases subscriptions, removes the overlay and its published
// snapshot, and stops the task queue.
func (b *LayerBinding) Close(ctx context.Context) error {
	err := b.do(ctx, func(ctx context.Context) error {
		for _, s := range b.subs {
			s.Unsubscribe()
		}
		b.subs = nil
		if b.overlayID != "" {
			if err := b.deps.Viewer.RemoveOverlay(ctx, b.overlayID); err != nil && !errors.Is(err, viewer.ErrUnknownOverlay) {
				b.log.Warn("removing overlay failed", "overlay", b.overlayID, "error", err)
			}
			b.overlayID = ""
		}
		if b.deps.Store != nil {
			if err := b.deps.Store.Del(ctx, b.mapID, b.layer); err != nil {
				b.log.Warn("deleting snapshot failed", "error", err)
			}
		}
		return nil
	})
	b.q.Close()
	if errors.Is(err, ErrQueueClosed) {
		return nil
	}
	return err
}

// Flush waits until every task queued before the call has run.
func (b *LayerBinding) Flush(ctx context.Context) error {
	return b.q.Do(ctx, func(context.Context) error { return nil })
}

func (b *LayerBinding) Current(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := b.do(ctx, func(context.Context) error {
		snap = b.snapshot()
		return nil
	})
	return snap, err
}

func (b *LayerBinding) Status(ctx context.Context) (Status, error) {
	var st Status
	err := b.do(ctx, func(context.Context) error {
		st = Status{
			Map:         b.mapID,
			Layer:       b.layer,
			OverlayID:   b.overlayID,
			Connected:   len(b.subs) > 0,
			Features:    b.coll.Len(),
			Rules:       b.doc.Len(),
			Selection:   slices.Clone(b.selection),
			PendingPush: b.pending,
			UpdatedAt:   b.updatedAt,
		}
		if b.editingOID != nil {
			oid := *b.editingOID
			st.EditingOID = &oid
		}
		return nil
	})
	return st, err
}
