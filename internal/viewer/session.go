package viewer

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mohammed-shakir/panoview-bridge/internal/interchange"
)

// Session is an in-memory viewer API. Viewers are placed by the HTTP API and
// every mutation is mirrored to the notifier.
type Session struct {
	notifier Notifier
	now      func() time.Time

	mu        sync.RWMutex
	ready     bool
	viewers   map[string]*interchange.Coordinate
	overlays  map[string]Overlay
	selected  map[string]Selection
	nextID    int
	stopCalls int
}

// Selection is the last selection pushed for an overlay.
type Selection struct {
	Property string
	Values   []string
}

type SessionOption func(*Session)

func WithNotifier(n Notifier) SessionOption {
	return func(s *Session) { s.notifier = n }
}

func WithClock(now func() time.Time) SessionOption {
	return func(s *Session) { s.now = now }
}

func NewSession(opts ...SessionOption) *Session {
	s := &Session{
		now:      time.Now,
		ready:    true,
		viewers:  map[string]*interchange.Coordinate{},
		overlays: map[string]Overlay{},
		selected: map[string]Selection{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Session) SetReady(v bool) {
	s.mu.Lock()
	s.ready = v
	s.mu.Unlock()
}

func (s *Session) Ready(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready, nil
}

// PlaceViewer opens or moves a viewer. A nil coordinate keeps the viewer
// open without a position.
func (s *Session) PlaceViewer(id string, at *interchange.Coordinate) {
	var c *interchange.Coordinate
	if at != nil {
		cp := *at
		c = &cp
	}
	s.mu.Lock()
	s.viewers[id] = c
	s.mu.Unlock()
}

func (s *Session) CloseViewer(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.viewers[id]; !ok {
		return false
	}
	delete(s.viewers, id)
	return true
}

func (s *Session) Viewers(ctx context.Context) ([]Viewer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.viewers))
	for id := range s.viewers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]Viewer, 0, len(ids))
	for _, id := range ids {
		out = append(out, &sessionViewer{s: s, id: id})
	}
	return out, nil
}

func (s *Session) AddOverlay(ctx context.Context, o Overlay) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	s.nextID++
	id := fmt.Sprintf("overlay-%d", s.nextID)
	s.overlays[id] = o
	s.mu.Unlock()

	s.notify(ctx, Command{Type: CmdAddOverlay, OverlayID: id, Name: o.Name, Features: o.Features, Style: o.Style})
	return id, nil
}

func (s *Session) UpdateOverlay(ctx context.Context, id string, o Overlay) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if _, ok := s.overlays[id]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("update %s: %w", id, ErrUnknownOverlay)
	}
	s.overlays[id] = o
	s.mu.Unlock()

	s.notify(ctx, Command{Type: CmdUpdateOverlay, OverlayID: id, Name: o.Name, Features: o.Features, Style: o.Style})
	return nil
}

func (s *Session) RemoveOverlay(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if _, ok := s.overlays[id]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("remove %s: %w", id, ErrUnknownOverlay)
	}
	delete(s.overlays, id)
	delete(s.selected, id)
	s.mu.Unlock()

	s.notify(ctx, Command{Type: CmdRemoveOverlay, OverlayID: id})
	return nil
}

func (s *Session) SetSelectedFeatures(ctx context.Context, overlayID, property string, values []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	vals := append([]string(nil), values...)
	s.mu.Lock()
	if _, ok := s.overlays[overlayID]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("select on %s: %w", overlayID, ErrUnknownOverlay)
	}
	s.selected[overlayID] = Selection{Property: property, Values: vals}
	s.mu.Unlock()

	s.notify(ctx, Command{Type: CmdSelect, OverlayID: overlayID, Property: property, Values: vals})
	return nil
}

func (s *Session) StopMeasurementMode(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.stopCalls++
	s.mu.Unlock()

	s.notify(ctx, Command{Type: CmdStopMeasurement})
	return nil
}

func (s *Session) Overlay(id string) (Overlay, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.overlays[id]
	return o, ok
}

// Overlays returns the ids of all overlays, sorted.
func (s *Session) Overlays() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.overlays))
	for id := range s.overlays {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Session) Selected(overlayID string) (Selection, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sel, ok := s.selected[overlayID]
	return sel, ok
}

// MeasurementStops reports how many times measurement mode was stopped.
func (s *Session) MeasurementStops() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stopCalls
}

func (s *Session) notify(ctx context.Context, cmd Command) {
	if s.notifier == nil {
		return
	}
	cmd.TS = s.now().UTC()
	s.notifier.Notify(ctx, cmd)
}

type sessionViewer struct {
	s  *Session
	id string
}

func (v *sessionViewer) ID() string { return v.id }

func (v *sessionViewer) GroundCoordinate(ctx context.Context) (*interchange.Coordinate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	c, ok := v.s.viewers[v.id]
	if !ok {
		return nil, fmt.Errorf("viewer %s closed", v.id)
	}
	if c == nil {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}
