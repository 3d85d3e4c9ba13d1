package memhost

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dhconnelly/rtreego"
	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/panoview-bridge/internal/geom"
	"github.com/mohammed-shakir/panoview-bridge/internal/host"
)

const ObjectIDField = "OBJECTID"

// minimum extent for zero-area entries, R-tree rects must be non-degenerate
const epsilon = 1e-9

type Table struct {
	layer  string
	fields []host.Field

	mu     sync.RWMutex
	rows   map[int64]*row
	tree   *rtreego.Rtree
	nextID int64

	subMu  sync.Mutex
	subs   map[host.RowEventKind]map[int]func(host.RowEvent)
	nextSu int
}

type row struct {
	oid      int64
	shape    geom.Geometry
	values   map[string]any
	original map[string]any
	entry    *indexedRow
	deleted  bool
	fields   []host.Field
}

type indexedRow struct {
	oid  int64
	rect rtreego.Rect
}

func (r *indexedRow) Bounds() rtreego.Rect { return r.rect }

// NewTable creates a table; the OBJECTID field is always added first.
func NewTable(layer string, fields ...host.Field) *Table {
	fs := []host.Field{{Name: ObjectIDField, Type: host.FieldOID}}
	for _, f := range fields {
		if f.Name == ObjectIDField {
			continue
		}
		fs = append(fs, f)
	}
	return &Table{
		layer:  layer,
		fields: fs,
		rows:   map[int64]*row{},
		tree:   rtreego.NewTree(2, 25, 50),
		nextID: 1,
		subs:   map[host.RowEventKind]map[int]func(host.RowEvent){},
	}
}

func (t *Table) Fields() []host.Field {
	return append([]host.Field(nil), t.fields...)
}

func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows)
}

// Insert stores a new row and fires a created event.
func (t *Table) Insert(shape geom.Geometry, attrs map[string]any) int64 {
	t.mu.Lock()
	oid := t.nextID
	t.nextID++
	r := &row{oid: oid, shape: shape, fields: t.fields}
	r.values = t.copyAttrs(oid, attrs)
	r.original = cloneAttrs(r.values)
	t.rows[oid] = r
	t.index(r)
	t.mu.Unlock()

	t.fire(host.RowEvent{Kind: host.RowCreated, Layer: t.layer, ObjectID: oid, Shape: shape})
	return oid
}

// Update replaces the shape (when non-nil) and merges attrs.
func (t *Table) Update(oid int64, shape geom.Geometry, attrs map[string]any) error {
	t.mu.Lock()
	r, ok := t.rows[oid]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("update %s/%d: %w", t.layer, oid, host.ErrNotFound)
	}
	r.original = cloneAttrs(r.values)
	for k, v := range attrs {
		if k == ObjectIDField {
			continue
		}
		r.values[k] = v
	}
	if shape != nil {
		if r.entry != nil {
			t.tree.Delete(r.entry)
			r.entry = nil
		}
		r.shape = shape
		t.index(r)
	}
	ev := host.RowEvent{Kind: host.RowChanged, Layer: t.layer, ObjectID: oid, Shape: r.shape}
	t.mu.Unlock()

	t.fire(ev)
	return nil
}

func (t *Table) Delete(oid int64) error {
	t.mu.Lock()
	r, ok := t.rows[oid]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("delete %s/%d: %w", t.layer, oid, host.ErrNotFound)
	}
	if r.entry != nil {
		t.tree.Delete(r.entry)
	}
	r.deleted = true
	delete(t.rows, oid)
	t.mu.Unlock()

	t.fire(host.RowEvent{Kind: host.RowDeleted, Layer: t.layer, ObjectID: oid, Shape: r.shape})
	return nil
}

func (t *Table) Get(oid int64) (host.Row, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.rows[oid]
	return r, ok
}

// Search returns rows whose extent intersects the query geometry's extent,
// ordered by object id.
func (t *Table) Search(ctx context.Context, q host.SpatialQuery) (host.Cursor, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("search %s: %w", t.layer, err)
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	var hits []*row
	if q.Geometry == nil {
		for _, r := range t.rows {
			hits = append(hits, r)
		}
	} else {
		env, ok := geom.Extent(q.Geometry)
		if !ok {
			return &cursor{}, nil
		}
		qb := bound(env)
		for _, s := range t.tree.SearchIntersect(rect(env)) {
			r, ok := t.rows[s.(*indexedRow).oid]
			if !ok {
				continue
			}
			re, ok := geom.Extent(r.shape)
			if !ok || !matches(q.Relationship, qb, bound(re)) {
				continue
			}
			hits = append(hits, r)
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].oid < hits[j].oid })
	return &cursor{rows: hits, pos: -1}, nil
}

func (t *Table) Subscribe(kind host.RowEventKind, fn func(host.RowEvent)) host.Subscription {
	t.subMu.Lock()
	defer t.subMu.Unlock()
	if t.subs[kind] == nil {
		t.subs[kind] = map[int]func(host.RowEvent){}
	}
	id := t.nextSu
	t.nextSu++
	t.subs[kind][id] = fn
	return subscription(func() {
		t.subMu.Lock()
		delete(t.subs[kind], id)
		t.subMu.Unlock()
	})
}

// Subscribers reports the number of live subscriptions for kind.
func (t *Table) Subscribers(kind host.RowEventKind) int {
	t.subMu.Lock()
	defer t.subMu.Unlock()
	return len(t.subs[kind])
}

func (t *Table) fire(ev host.RowEvent) {
	t.subMu.Lock()
	ids := make([]int, 0, len(t.subs[ev.Kind]))
	for id := range t.subs[ev.Kind] {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(host.RowEvent), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, t.subs[ev.Kind][id])
	}
	t.subMu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (t *Table) index(r *row) {
	env, ok := geom.Extent(r.shape)
	if !ok {
		return
	}
	r.entry = &indexedRow{oid: r.oid, rect: rect(env)}
	t.tree.Insert(r.entry)
}

func (t *Table) copyAttrs(oid int64, attrs map[string]any) map[string]any {
	out := make(map[string]any, len(t.fields))
	for _, f := range t.fields {
		if f.Type == host.FieldOID {
			out[f.Name] = oid
			continue
		}
		if v, ok := attrs[f.Name]; ok {
			out[f.Name] = v
		}
	}
	return out
}

func cloneAttrs(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func rect(env geom.Envelope) rtreego.Rect {
	w := max(env.XMax-env.XMin, epsilon)
	h := max(env.YMax-env.YMin, epsilon)
	r, _ := rtreego.NewRect(rtreego.Point{env.XMin, env.YMin}, []float64{w, h})
	return r
}

func bound(env geom.Envelope) orb.Bound {
	return orb.Bound{Min: orb.Point{env.XMin, env.YMin}, Max: orb.Point{env.XMax, env.YMax}}
}

func matches(rel host.SpatialRelationship, query, candidate orb.Bound) bool {
	switch rel {
	case host.Contains:
		return query.Contains(candidate.Min) && query.Contains(candidate.Max)
	case host.Within:
		return candidate.Contains(query.Min) && candidate.Contains(query.Max)
	default:
		return query.Intersects(candidate)
	}
}

func (r *row) ObjectID() int64 { return r.oid }

func (r *row) Fields() []host.Field { return r.fields }

func (r *row) Shape() geom.Geometry { return r.shape }

func (r *row) OriginalValue(i int) (any, error) {
	if r.deleted {
		return nil, fmt.Errorf("row %d: %w", r.oid, host.ErrNullReference)
	}
	if i < 0 || i >= len(r.fields) {
		return nil, fmt.Errorf("row %d field %d: %w", r.oid, i, host.ErrNullReference)
	}
	return r.original[r.fields[i].Name], nil
}

type cursor struct {
	rows []*row
	pos  int
}

func (c *cursor) Next() bool {
	c.pos++
	return c.pos < len(c.rows)
}

func (c *cursor) Row() host.Row {
	if c.pos < 0 || c.pos >= len(c.rows) {
		return nil
	}
	return c.rows[c.pos]
}

func (c *cursor) Close() error {
	c.rows = nil
	return nil
}

type subscription func()

func (s subscription) Unsubscribe() { s() }
