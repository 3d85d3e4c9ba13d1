// Package viewer is the facade over the panoramic viewer SDK.
package viewer

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/mohammed-shakir/panoview-bridge/internal/interchange"
)

var ErrUnknownOverlay = errors.New("viewer: unknown overlay")

// Viewer is one open panoramic view anchored at a ground coordinate.
type Viewer interface {
	ID() string
	// GroundCoordinate returns nil when the viewer has no position yet.
	GroundCoordinate(ctx context.Context) (*interchange.Coordinate, error)
}

// Measurement carries the points a user drew in the viewer, in the viewer reference.
type Measurement struct {
	Points []interchange.Coordinate
}

// Overlay is a feature collection plus its SLD style, both serialized.
type Overlay struct {
	Name     string
	Features []byte
	Style    string
}

type API interface {
	Ready(ctx context.Context) (bool, error)
	Viewers(ctx context.Context) ([]Viewer, error)
	AddOverlay(ctx context.Context, o Overlay) (string, error)
	UpdateOverlay(ctx context.Context, id string, o Overlay) error
	RemoveOverlay(ctx context.Context, id string) error
	// SetSelectedFeatures selects the features of an overlay whose property
	// matches one of values. An empty values list clears the selection.
	SetSelectedFeatures(ctx context.Context, overlayID, property string, values []string) error
	StopMeasurementMode(ctx context.Context) error
}

type CommandType string

const (
	CmdAddOverlay      CommandType = "add_overlay"
	CmdUpdateOverlay   CommandType = "update_overlay"
	CmdRemoveOverlay   CommandType = "remove_overlay"
	CmdSelect          CommandType = "select_features"
	CmdStopMeasurement CommandType = "stop_measurement"
)

// Command is the wire form of a viewer mutation.
type Command struct {
	Type      CommandType     `json:"type"`
	OverlayID string          `json:"overlay_id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Features  json.RawMessage `json:"features,omitempty"`
	Style     string          `json:"style,omitempty"`
	Property  string          `json:"property,omitempty"`
	Values    []string        `json:"values,omitempty"`
	TS        time.Time       `json:"ts"`
}

type Notifier interface {
	Notify(ctx context.Context, cmd Command)
}

type NotifierFunc func(ctx context.Context, cmd Command)

func (f NotifierFunc) Notify(ctx context.Context, cmd Command) { f(ctx, cmd) }
