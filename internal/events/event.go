// Package events is the wire form of map notifications received from a
// remote host session.
package events

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	OpRowCreated       = "row_created"
	OpRowChanged       = "row_changed"
	OpRowDeleted       = "row_deleted"
	OpSelectionChanged = "selection_changed"
	OpDrawComplete     = "draw_complete"
)

type Event struct {
	Version   int         `json:"version"`
	Op        string      `json:"op"`
	Map       string      `json:"map"`
	Layer     string      `json:"layer,omitempty"`
	TS        time.Time   `json:"ts"`
	Seq       uint64      `json:"seq,omitempty"`
	ObjectID  *int64      `json:"object_id,omitempty"`
	Point     *Point      `json:"point,omitempty"`
	Selection []Selection `json:"selection,omitempty"`
}

// Point is in the layer reference.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type Selection struct {
	Layer     string  `json:"layer"`
	ObjectIDs []int64 `json:"object_ids"`
}

// Dispatcher applies a validated event.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev Event) error
}

func (e Event) IsRowOp() bool {
	switch e.Op {
	case OpRowCreated, OpRowChanged, OpRowDeleted:
		return true
	}
	return false
}

func (e Event) Validate() error {
	if e.Version != 1 {
		return fmt.Errorf("version must be 1")
	}
	switch e.Op {
	case OpRowCreated, OpRowChanged, OpRowDeleted, OpSelectionChanged, OpDrawComplete:
	default:
		return fmt.Errorf("op must be row_created|row_changed|row_deleted|selection_changed|draw_complete")
	}
	if strings.TrimSpace(e.Map) == "" {
		return fmt.Errorf("map is required")
	}
	if e.TS.IsZero() {
		return fmt.Errorf("ts is required")
	}
	if e.IsRowOp() {
		if strings.TrimSpace(e.Layer) == "" {
			return fmt.Errorf("layer is required for %s", e.Op)
		}
		if e.ObjectID == nil {
			return fmt.Errorf("object_id is required for %s", e.Op)
		}
	}
	if e.Point != nil && e.Op != OpRowCreated {
		return fmt.Errorf("point is only allowed for %s", OpRowCreated)
	}
	for _, s := range e.Selection {
		if strings.TrimSpace(s.Layer) == "" {
			return fmt.Errorf("selection.layer is required")
		}
	}
	return nil
}

// DedupeKey scopes sequence numbers: per layer for row ops, per map otherwise.
func (e Event) DedupeKey() string {
	if e.IsRowOp() {
		return e.Map + "|" + e.Layer
	}
	return e.Map + "|" + e.Op
}
