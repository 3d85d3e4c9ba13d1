package memhost

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mohammed-shakir/panoview-bridge/internal/geom"
	"github.com/mohammed-shakir/panoview-bridge/internal/host"
)

// Editor stages edits into named operations and keeps a history of the
// names of executed ones.
type Editor struct {
	mu      sync.Mutex
	history []string
	failOn  error
}

func NewEditor() *Editor { return &Editor{} }

func (e *Editor) NewOperation(name string) host.EditOperation {
	return &operation{editor: e, name: name}
}

// History returns executed operation names, oldest first.
func (e *Editor) History() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.history...)
}

// FailNext makes the next Execute return err without applying anything.
func (e *Editor) FailNext(err error) {
	e.mu.Lock()
	e.failOn = err
	e.mu.Unlock()
}

type editKind int

const (
	editCreate editKind = iota
	editModify
)

type edit struct {
	kind  editKind
	layer host.FeatureLayer
	oid   int64
	shape geom.Geometry
	attrs map[string]any
}

type operation struct {
	editor *Editor
	name   string
	edits  []edit
	done   bool
}

func (o *operation) Create(layer host.FeatureLayer, g geom.Geometry, attrs map[string]any) {
	o.edits = append(o.edits, edit{kind: editCreate, layer: layer, shape: g, attrs: attrs})
}

func (o *operation) Modify(layer host.FeatureLayer, oid int64, g geom.Geometry) {
	o.edits = append(o.edits, edit{kind: editModify, layer: layer, oid: oid, shape: g})
}

func (o *operation) Execute(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", o.name, err)
	}
	if o.done {
		return fmt.Errorf("%s: operation already executed", o.name)
	}
	o.editor.mu.Lock()
	failOn := o.editor.failOn
	o.editor.failOn = nil
	o.editor.mu.Unlock()
	if failOn != nil {
		return fmt.Errorf("%s: %w", o.name, failOn)
	}

	tables := make([]*Table, len(o.edits))
	for i, ed := range o.edits {
		l, ok := ed.layer.(*Layer)
		if !ok || l == nil {
			return fmt.Errorf("%s: layer is not editable", o.name)
		}
		t, err := l.Table()
		if err != nil {
			return fmt.Errorf("%s: %w", o.name, err)
		}
		tables[i] = t.(*Table)
		if ed.kind == editModify {
			if _, ok := tables[i].Get(ed.oid); !ok {
				return fmt.Errorf("%s: feature %d: %w", o.name, ed.oid, host.ErrNotFound)
			}
		}
		if ed.shape == nil {
			return fmt.Errorf("%s: %w", o.name, errors.New("nil geometry"))
		}
	}

	for i, ed := range o.edits {
		switch ed.kind {
		case editCreate:
			tables[i].Insert(ed.shape, ed.attrs)
		case editModify:
			if err := tables[i].Update(ed.oid, ed.shape, nil); err != nil {
				return fmt.Errorf("%s: %w", o.name, err)
			}
		}
	}
	o.done = true

	o.editor.mu.Lock()
	o.editor.history = append(o.editor.history, o.name)
	o.editor.mu.Unlock()
	return nil
}
