package viewer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mohammed-shakir/panoview-bridge/internal/interchange"
)

func TestSession_ViewersSortedAndPositioned(t *testing.T) {
	s := NewSession()
	s.PlaceViewer("b", &interchange.Coordinate{X: 1, Y: 2})
	s.PlaceViewer("a", nil)

	ctx := context.Background()
	vs, err := s.Viewers(ctx)
	if err != nil {
		t.Fatalf("Viewers: %v", err)
	}
	if len(vs) != 2 || vs[0].ID() != "a" || vs[1].ID() != "b" {
		t.Fatalf("viewers=%v", vs)
	}
	if c, err := vs[0].GroundCoordinate(ctx); err != nil || c != nil {
		t.Fatalf("unpositioned viewer coord=%v err=%v", c, err)
	}
	c, err := vs[1].GroundCoordinate(ctx)
	if err != nil || c == nil || c.X != 1 || c.Y != 2 {
		t.Fatalf("coord=%v err=%v", c, err)
	}

	s.CloseViewer("b")
	if _, err := vs[1].GroundCoordinate(ctx); err == nil {
		t.Fatalf("closed viewer should error")
	}
}

func TestSession_MirrorsMutationsToNotifier(t *testing.T) {
	var cmds []Command
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := NewSession(
		WithNotifier(NotifierFunc(func(_ context.Context, c Command) { cmds = append(cmds, c) })),
		WithClock(func() time.Time { return at }),
	)
	ctx := context.Background()

	id, err := s.AddOverlay(ctx, Overlay{Name: "poles", Features: []byte(`{}`)})
	if err != nil {
		t.Fatalf("AddOverlay: %v", err)
	}
	if err := s.UpdateOverlay(ctx, id, Overlay{Name: "poles", Style: "<sld/>"}); err != nil {
		t.Fatalf("UpdateOverlay: %v", err)
	}
	if err := s.SetSelectedFeatures(ctx, id, "OBJECTID", []string{"1", "2"}); err != nil {
		t.Fatalf("SetSelectedFeatures: %v", err)
	}
	if err := s.StopMeasurementMode(ctx); err != nil {
		t.Fatalf("StopMeasurementMode: %v", err)
	}
	if err := s.RemoveOverlay(ctx, id); err != nil {
		t.Fatalf("RemoveOverlay: %v", err)
	}

	want := []CommandType{CmdAddOverlay, CmdUpdateOverlay, CmdSelect, CmdStopMeasurement, CmdRemoveOverlay}
	if len(cmds) != len(want) {
		t.Fatalf("commands=%+v", cmds)
	}
	for i, c := range cmds {
		if c.Type != want[i] || !c.TS.Equal(at) {
			t.Fatalf("cmd[%d]=%+v want type %s", i, c, want[i])
		}
	}
	if s.MeasurementStops() != 1 {
		t.Fatalf("MeasurementStops=%d", s.MeasurementStops())
	}
	if _, ok := s.Selected(id); ok {
		t.Fatalf("selection should go with the overlay")
	}
}

func TestSession_UnknownOverlay(t *testing.T) {
	s := NewSession()
	ctx := context.Background()
	if err := s.UpdateOverlay(ctx, "nope", Overlay{}); !errors.Is(err, ErrUnknownOverlay) {
		t.Fatalf("update err=%v", err)
	}
	if err := s.SetSelectedFeatures(ctx, "nope", "OBJECTID", nil); !errors.Is(err, ErrUnknownOverlay) {
		t.Fatalf("select err=%v", err)
	}
	if err := s.RemoveOverlay(ctx, "nope"); !errors.Is(err, ErrUnknownOverlay) {
		t.Fatalf("remove err=%v", err)
	}
}
