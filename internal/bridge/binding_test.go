package bridge

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/mohammed-shakir/panoview-bridge/internal/core/config"
	"github.com/mohammed-shakir/panoview-bridge/internal/elevation"
	"github.com/mohammed-shakir/panoview-bridge/internal/geom"
	"github.com/mohammed-shakir/panoview-bridge/internal/host"
	"github.com/mohammed-shakir/panoview-bridge/internal/host/memhost"
	"github.com/mohammed-shakir/panoview-bridge/internal/interchange"
	"github.com/mohammed-shakir/panoview-bridge/internal/logger"
	"github.com/mohammed-shakir/panoview-bridge/internal/overlay"
	"github.com/mohammed-shakir/panoview-bridge/internal/reproject"
	"github.com/mohammed-shakir/panoview-bridge/internal/style"
	"github.com/mohammed-shakir/panoview-bridge/internal/viewer"
)

type testEnv struct {
	app     *memhost.App
	m       *memhost.Map
	layer   *memhost.Layer
	session *viewer.Session
	tracker *elevation.Tracker
	reg     *Registry
}

func newEnv(t *testing.T, kind geom.Kind) *testEnv {
	t.Helper()
	app := memhost.New(memhost.WithTerrain(memhost.FlatTerrain(12.5)))
	m := app.AddMap("map", memhost.WebMercator)
	l := m.AddLayer("poles", kind, memhost.WebMercator, host.Field{Name: "kind", Type: host.FieldString})

	session := viewer.NewSession()
	session.PlaceViewer("v1", &interchange.Coordinate{})

	log := logger.Discard()
	proj := reproject.New(app.Engine(), log)
	tracker := elevation.New(app.Elevation(), proj, elevation.Config{Geographic: memhost.WGS84, Resolution: 12, CacheSize: 16}, log)
	reg := NewRegistry(Deps{
		App:       app,
		Viewer:    session,
		Builder:   overlay.NewBuilder(proj, 30, log),
		Styles:    style.NewDeriver(16),
		Proj:      proj,
		Elevation: tracker,
		Project:   config.Project{DrawDistance: 30},
		Log:       log,
	})
	t.Cleanup(func() { _ = reg.Close(context.Background()) })
	return &testEnv{app: app, m: m, layer: l, session: session, tracker: tracker, reg: reg}
}

func (e *testEnv) attach(t *testing.T) *LayerBinding {
	t.Helper()
	b, err := e.reg.Attach(t.Context(), "map", "poles")
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	return b
}

func mercPoint(x, y, z float64) *geom.Point {
	return &geom.Point{X: x, Y: y, Z: z, SR: memhost.WebMercator}
}

func status(t *testing.T, b *LayerBinding) Status {
	t.Helper()
	if err := b.Flush(t.Context()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	st, err := b.Status(t.Context())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	return st
}

func fill(r, g, b float64) host.Symbol {
	return host.PointSymbol{Marker: host.ShapeMarker{Size: 8, Layers: []host.SymbolLayer{
		host.SolidFill{Color: &host.Color{Values: []float64{r, g, b, 100}}},
	}}}
}

func TestGenerate_EmptyWindowLeavesStyleUnset(t *testing.T) {
	e := newEnv(t, geom.KindPoint)
	e.layer.Rows().Insert(mercPoint(1000, 1000, 5), nil)
	b := e.attach(t)

	snap, _ := b.Generate(t.Context())
	if snap.Collection.Len() != 0 {
		t.Fatalf("features=%d want 0", snap.Collection.Len())
	}
	if snap.Style != nil || snap.StyleText != "" {
		t.Fatalf("style should stay unset, got %q", snap.StyleText)
	}
}

func TestGenerate_UnchangedDataReportsNoChange(t *testing.T) {
	e := newEnv(t, geom.KindPoint)
	e.layer.Rows().Insert(mercPoint(5, 5, 5), map[string]any{"kind": "wood"})
	b := e.attach(t)

	for i := range 2 {
		if _, changed := b.Generate(t.Context()); changed {
			t.Fatalf("generate %d reported a change", i)
		}
	}
	if got := e.session.Overlays(); len(got) != 1 {
		t.Fatalf("overlays=%v want exactly one", got)
	}
}

func TestGenerate_DataChangeIsPushedAsUpdate(t *testing.T) {
	e := newEnv(t, geom.KindPoint)
	b := e.attach(t)

	e.layer.Rows().Insert(mercPoint(5, 5, 5), map[string]any{"kind": "wood"})
	st := status(t, b)
	if st.Features != 1 || st.OverlayID == "" {
		t.Fatalf("status=%+v", st)
	}
	o, ok := e.session.Overlay(st.OverlayID)
	if !ok || o.Name != "poles" || o.Style == "" {
		t.Fatalf("overlay=%+v ok=%v", o, ok)
	}
	if len(e.session.Overlays()) != 1 {
		t.Fatalf("overlays=%v", e.session.Overlays())
	}
}

func TestGenerate_InactiveMapReturnsPrior(t *testing.T) {
	e := newEnv(t, geom.KindPoint)
	e.layer.Rows().Insert(mercPoint(5, 5, 5), nil)
	b := e.attach(t)
	before, _ := b.Generate(t.Context())

	e.app.AddMap("other", memhost.WebMercator)
	e.app.Activate("other")
	e.layer.Rows().Insert(mercPoint(6, 6, 5), nil)

	after, changed := b.Generate(t.Context())
	if changed || string(after.Features) != string(before.Features) {
		t.Fatalf("inactive map should keep prior payload; changed=%v", changed)
	}
}

func TestGenerate_ViewerNotReadyKeepsPrior(t *testing.T) {
	e := newEnv(t, geom.KindPoint)
	b := e.attach(t)
	e.session.SetReady(false)
	e.layer.Rows().Insert(mercPoint(5, 5, 5), nil)

	if st := status(t, b); st.Features != 0 {
		t.Fatalf("features=%d want 0 while viewer is not ready", st.Features)
	}
}

func TestStyle_UniqueValueThenSimple(t *testing.T) {
	e := newEnv(t, geom.KindPoint)
	e.layer.Rows().Insert(mercPoint(5, 5, 5), map[string]any{"kind": "wood"})
	e.layer.Rows().Insert(mercPoint(-5, 5, 5), map[string]any{"kind": "steel"})
	e.layer.SetRenderer(host.UniqueValueRenderer{
		Fields: []string{"kind"},
		Groups: []host.UniqueValueGroup{{Classes: []host.UniqueValueClass{
			{Values: []host.UniqueValue{{FieldValues: []string{"wood"}}}, Symbol: fill(139, 69, 19)},
			{Values: []host.UniqueValue{{FieldValues: []string{"steel"}}}, Symbol: fill(128, 128, 128)},
		}}},
	})
	b := e.attach(t)

	snap, err := b.Current(t.Context())
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if snap.Style.Len() != 2 {
		t.Fatalf("rules=%d want 2", snap.Style.Len())
	}
	for i, lit := range []string{"wood", "steel"} {
		f := snap.Style.Rules[i].Filter
		if f == nil || f.Property != "kind" || f.Literal != lit {
			t.Fatalf("rule %d filter=%+v", i, f)
		}
	}

	e.layer.SetRenderer(host.SimpleRenderer{Symbol: fill(0, 0, 255)})
	snap, changed := b.Generate(t.Context())
	if !changed {
		t.Fatalf("renderer switch should report a change")
	}
	if snap.Style.Len() != 1 || snap.Style.Rules[0].Filter != nil {
		t.Fatalf("want one unconditional rule, got %+v", snap.Style.Rules)
	}
	o, _ := e.session.Overlay(status(t, b).OverlayID)
	if o.Style != snap.StyleText {
		t.Fatalf("viewer style not updated")
	}
}

func TestSelection_PushedToViewerDeduplicated(t *testing.T) {
	e := newEnv(t, geom.KindPoint)
	oid := e.layer.Rows().Insert(mercPoint(5, 5, 5), nil)
	b := e.attach(t)

	ev := host.SelectionEvent{MapID: "map", Selections: []host.LayerSelection{
		{Layer: "roads", ObjectIDs: []int64{99}},
		{Layer: "poles", ObjectIDs: []int64{oid, oid}},
	}}
	if err := b.OnSelectionChanged(t.Context(), ev); err != nil {
		t.Fatalf("OnSelectionChanged: %v", err)
	}
	st := status(t, b)
	sel, ok := e.session.Selected(st.OverlayID)
	if !ok || sel.Property != memhost.ObjectIDField || !slices.Equal(sel.Values, []string{"1"}) {
		t.Fatalf("viewer selection=%+v ok=%v", sel, ok)
	}
	if !slices.Equal(st.Selection, []int64{oid, oid}) {
		t.Fatalf("recorded selection=%v", st.Selection)
	}
}

func TestSelection_ClearedWhenLayerMissing(t *testing.T) {
	e := newEnv(t, geom.KindPoint)
	e.layer.Rows().Insert(mercPoint(5, 5, 5), nil)
	b := e.attach(t)
	ctx := t.Context()

	_ = b.OnSelectionChanged(ctx, host.SelectionEvent{Selections: []host.LayerSelection{{Layer: "poles", ObjectIDs: []int64{1}}}})
	if err := b.OnSelectionChanged(ctx, host.SelectionEvent{}); err != nil {
		t.Fatalf("OnSelectionChanged: %v", err)
	}
	st := status(t, b)
	if st.Selection != nil {
		t.Fatalf("selection=%v want untracked", st.Selection)
	}
	sel, _ := e.session.Selected(st.OverlayID)
	if len(sel.Values) != 0 {
		t.Fatalf("viewer selection not cleared: %+v", sel)
	}
}

func TestSelection_DeferredUntilDrawCompleteInVertexEdit(t *testing.T) {
	e := newEnv(t, geom.KindPoint)
	e.layer.Rows().Insert(mercPoint(5, 5, 5), nil)
	b := e.attach(t)
	e.m.SetActiveTool(host.ToolVertexEdit)

	if err := e.m.Select(t.Context(), "poles", []int64{1}); err != nil {
		t.Fatalf("Select: %v", err)
	}
	st := status(t, b)
	if !st.PendingPush {
		t.Fatalf("push should be deferred while sketching")
	}
	if _, ok := e.session.Selected(st.OverlayID); ok {
		t.Fatalf("selection pushed before draw complete")
	}

	e.m.FireDrawComplete()
	st = status(t, b)
	sel, ok := e.session.Selected(st.OverlayID)
	if !ok || !slices.Equal(sel.Values, []string{"1"}) || st.PendingPush {
		t.Fatalf("after draw complete sel=%+v ok=%v pending=%v", sel, ok, st.PendingPush)
	}
}

func TestRowDeleted_RemovesOnlyThatID(t *testing.T) {
	e := newEnv(t, geom.KindPoint)
	b := e.attach(t)
	ctx := t.Context()

	ev := host.SelectionEvent{Selections: []host.LayerSelection{{Layer: "poles", ObjectIDs: []int64{10, 20, 30}}}}
	if err := b.OnSelectionChanged(ctx, ev); err != nil {
		t.Fatalf("OnSelectionChanged: %v", err)
	}
	if err := b.OnRowDeleted(ctx, host.RowEvent{Kind: host.RowDeleted, Layer: "poles", ObjectID: 20}); err != nil {
		t.Fatalf("OnRowDeleted: %v", err)
	}
	if st := status(t, b); !slices.Equal(st.Selection, []int64{10, 30}) {
		t.Fatalf("selection=%v want [10 30]", st.Selection)
	}

	_ = b.OnRowDeleted(ctx, host.RowEvent{Kind: host.RowDeleted, Layer: "poles", ObjectID: 40})
	if st := status(t, b); !slices.Equal(st.Selection, []int64{10, 30}) {
		t.Fatalf("selection=%v want [10 30]", st.Selection)
	}
}

func TestRowCreated_SamplesTerrainNearZero(t *testing.T) {
	cases := []struct {
		name  string
		z     float64
		calls int64
	}{
		{"on the ground", 0.05, 1},
		{"below tolerance negative", -0.09, 1},
		{"at tolerance", 0.1, 0},
		{"above ground", 3, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newEnv(t, geom.KindPoint)
			b := e.attach(t)

			e.layer.Rows().Insert(mercPoint(5, 5, tc.z), nil)
			_ = b.Flush(t.Context())
			_ = b.Flush(t.Context())

			if got := e.app.Terrain().Calls(); got != tc.calls {
				t.Fatalf("samples=%d want %d", got, tc.calls)
			}
			z, ok := e.tracker.Default()
			if tc.calls == 1 && (!ok || z != 12.5) {
				t.Fatalf("default elevation=%v ok=%v", z, ok)
			}
			if tc.calls == 0 && ok {
				t.Fatalf("default elevation set without a sample")
			}
		})
	}
}

func TestRowChanged_VertexEditStopsMeasurement(t *testing.T) {
	e := newEnv(t, geom.KindPoint)
	oid := e.layer.Rows().Insert(mercPoint(5, 5, 5), nil)
	b := e.attach(t)
	ctx := t.Context()

	if err := b.SelectFromViewer(ctx, []int64{oid}); err != nil {
		t.Fatalf("SelectFromViewer: %v", err)
	}
	if st := status(t, b); st.EditingOID == nil || *st.EditingOID != oid {
		t.Fatalf("editing oid=%v", st.EditingOID)
	}

	_ = e.layer.Rows().Update(oid, mercPoint(6, 6, 5), nil)
	if st := status(t, b); st.EditingOID == nil || e.session.MeasurementStops() != 0 {
		t.Fatalf("outside vertex edit nothing should be cleared")
	}

	e.m.SetActiveTool(host.ToolVertexEdit)
	_ = e.layer.Rows().Update(oid, mercPoint(7, 7, 5), nil)
	st := status(t, b)
	if st.EditingOID != nil || e.session.MeasurementStops() != 1 {
		t.Fatalf("editing=%v stops=%d", st.EditingOID, e.session.MeasurementStops())
	}
}

func TestAddOrUpdate_ModifyOnlyInVertexEditWithID(t *testing.T) {
	e := newEnv(t, geom.KindPoint)
	oid := e.layer.Rows().Insert(mercPoint(5, 5, 5), nil)
	b := e.attach(t)
	ctx := t.Context()
	ms := viewer.Measurement{Points: []interchange.Coordinate{{X: 1, Y: 2, Z: 3}}}

	if err := b.AddOrUpdate(ctx, &oid, ms); err != nil {
		t.Fatalf("AddOrUpdate no tool: %v", err)
	}
	if err := b.AddOrUpdate(ctx, nil, ms); err != nil {
		t.Fatalf("AddOrUpdate nil id: %v", err)
	}
	e.m.SetActiveTool(host.ToolVertexEdit)
	if err := b.AddOrUpdate(ctx, nil, ms); err != nil {
		t.Fatalf("AddOrUpdate vertex nil id: %v", err)
	}
	if err := b.AddOrUpdate(ctx, &oid, ms); err != nil {
		t.Fatalf("AddOrUpdate vertex with id: %v", err)
	}

	want := []string{
		"Create feature in poles",
		"Create feature in poles",
		"Create feature in poles",
		"Update feature 1 in poles",
	}
	if got := e.app.MemEditor().History(); !slices.Equal(got, want) {
		t.Fatalf("history=%v want %v", got, want)
	}
	row, ok := e.layer.Rows().Get(oid)
	if !ok {
		t.Fatalf("row %d missing", oid)
	}
	p, ok := row.Shape().(*geom.Point)
	if !ok || p.X != 1 || p.Y != 2 || p.Z != 3 {
		t.Fatalf("modified shape=%+v", row.Shape())
	}
}

func TestAddOrUpdate_ShapesToLayerKindAndReprojects(t *testing.T) {
	e := newEnv(t, geom.KindPolygon)
	b := e.attach(t)
	ctx := t.Context()

	ms := viewer.Measurement{Points: []interchange.Coordinate{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10}}}
	if err := b.AddOrUpdate(ctx, nil, ms); err != nil {
		t.Fatalf("AddOrUpdate: %v", err)
	}
	row, ok := e.layer.Rows().Get(1)
	if !ok {
		t.Fatalf("created row missing")
	}
	poly, ok := row.Shape().(*geom.Polygon)
	if !ok || len(poly.Rings) != 1 {
		t.Fatalf("shape=%T", row.Shape())
	}
	v := poly.Rings[0].Vertices()
	if len(v) != 4 || v[0].X != v[3].X || v[0].Y != v[3].Y {
		t.Fatalf("ring not closed: %+v", v)
	}

	err := b.AddOrUpdate(ctx, nil, viewer.Measurement{Points: ms.Points[:2]})
	if !errors.Is(err, ErrInvalidMeasurement) {
		t.Fatalf("err=%v want ErrInvalidMeasurement", err)
	}
}

func TestAddOrUpdate_ExecuteFailureIsReturned(t *testing.T) {
	e := newEnv(t, geom.KindPoint)
	b := e.attach(t)
	boom := errors.New("boom")
	e.app.MemEditor().FailNext(boom)

	err := b.AddOrUpdate(t.Context(), nil, viewer.Measurement{Points: []interchange.Coordinate{{X: 1, Y: 1}}})
	if !errors.Is(err, boom) {
		t.Fatalf("err=%v want boom", err)
	}
}

func TestConnect_SkipsUnreachableTable(t *testing.T) {
	e := newEnv(t, geom.KindPoint)
	e.layer.Detach()
	b := e.attach(t)

	if st := status(t, b); st.Connected {
		t.Fatalf("binding subscribed to an unreachable table")
	}
	if n := e.layer.Rows().Subscribers(host.RowCreated); n != 0 {
		t.Fatalf("subscribers=%d want 0", n)
	}
}

func TestClose_ReleasesSubscriptionsAndOverlay(t *testing.T) {
	e := newEnv(t, geom.KindPoint)
	b := e.attach(t)
	if n := e.layer.Rows().Subscribers(host.RowChanged); n != 1 {
		t.Fatalf("subscribers=%d want 1", n)
	}

	if err := e.reg.Detach(t.Context(), "map", "poles"); err != nil {
		t.Fatalf("Detach: %v", err)
	}
	if n := e.layer.Rows().Subscribers(host.RowChanged); n != 0 {
		t.Fatalf("subscribers after close=%d", n)
	}
	if got := e.session.Overlays(); len(got) != 0 {
		t.Fatalf("overlays after close=%v", got)
	}
	if _, err := b.Status(t.Context()); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("Status after close err=%v", err)
	}
}

func TestRowCreated_EveryGroundPointIsSampled(t *testing.T) {
	e := newEnv(t, geom.KindPoint)
	b := e.attach(t)

	e.layer.Rows().Insert(mercPoint(5, 5, 0), nil)
	e.layer.Rows().Insert(mercPoint(7, 5, 0), nil)
	_ = b.Flush(t.Context())
	_ = b.Flush(t.Context())

	if got := e.app.Terrain().Calls(); got != 2 {
		t.Fatalf("samples=%d want 2, one per created point", got)
	}
}
