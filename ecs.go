package rubble

import (
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"sync"
)

type EntityId uint64
type componentId int
type set[T comparable] = map[T]struct{}

// The entity store keeps one dense table per distinct component set. Rows
// are compacted with the same swap-with-last discipline the tilemap uses
// for chunk slots: removal moves the last row into the hole and rewrites
// the moved entity's location, so iteration never sees gaps and no free
// list is needed. Tables are keyed by a printable signature of their
// sorted component ids. Cross-references between entities are EntityIds,
// never pointers.
type Ecs struct {
	idMu   sync.Mutex
	nextId EntityId

	reg    componentRegistry
	tables map[string]*table
	locs   map[EntityId]entityLoc
}

// entityLoc pins an entity to its table and row. Rewritten whenever a
// swap-remove relocates the entity.
type entityLoc struct {
	tbl *table
	row int
}

func newEcs() *Ecs {
	return &Ecs{
		nextId: 1,
		reg:    componentRegistry{byType: make(map[reflect.Type]componentId)},
		tables: make(map[string]*table),
		locs:   make(map[EntityId]entityLoc),
	}
}

func (ecs *Ecs) allocId() EntityId {
	ecs.idMu.Lock()
	defer ecs.idMu.Unlock()
	id := ecs.nextId
	ecs.nextId++
	return id
}

func (ecs *Ecs) has(eid EntityId) bool {
	_, ok := ecs.locs[eid]
	return ok
}

// spawn places an entity with the given components. Duplicate component
// types collapse; the later value wins.
func (ecs *Ecs) spawn(eid EntityId, components ...any) {
	tbl := ecs.tableFor(ecs.idsOf(components))
	row := tbl.appendZeroRow(&ecs.reg, eid)
	for _, c := range components {
		ecs.writeAt(tbl, row, c)
	}
	ecs.locs[eid] = entityLoc{tbl: tbl, row: row}
}

func (ecs *Ecs) despawn(eid EntityId) {
	loc, ok := ecs.locs[eid]
	if !ok {
		return
	}
	ecs.removeRow(loc.tbl, loc.row)
	delete(ecs.locs, eid)
}

// attach adds (or overwrites) components. When every type is already on
// the entity the write happens in place; otherwise the row migrates to
// the wider table.
func (ecs *Ecs) attach(eid EntityId, components ...any) {
	loc, ok := ecs.locs[eid]
	if !ok {
		return
	}
	src := loc.tbl

	union := mergeSorted(src.compIds, ecs.idsOf(components))
	if len(union) == len(src.compIds) {
		for _, c := range components {
			ecs.writeAt(src, loc.row, c)
		}
		return
	}

	dst := ecs.tableFor(union)
	dstRow := dst.appendZeroRow(&ecs.reg, eid)
	for _, id := range src.compIds {
		dst.cols[id].set(dstRow, src.cols[id].get(loc.row))
	}
	for _, c := range components {
		ecs.writeAt(dst, dstRow, c)
	}
	ecs.removeRow(src, loc.row)
	ecs.locs[eid] = entityLoc{tbl: dst, row: dstRow}
}

// detach strips component types from an entity, migrating its row to the
// narrower table. Types the entity never had are ignored.
func (ecs *Ecs) detach(eid EntityId, components ...any) {
	loc, ok := ecs.locs[eid]
	if !ok {
		return
	}
	src := loc.tbl

	drop := make(set[componentId])
	for _, id := range ecs.idsOf(components) {
		drop[id] = struct{}{}
	}
	remaining := make([]componentId, 0, len(src.compIds))
	for _, id := range src.compIds {
		if _, gone := drop[id]; !gone {
			remaining = append(remaining, id)
		}
	}
	if len(remaining) == len(src.compIds) {
		return
	}

	dst := ecs.tableFor(remaining)
	dstRow := dst.appendZeroRow(&ecs.reg, eid)
	for _, id := range remaining {
		dst.cols[id].set(dstRow, src.cols[id].get(loc.row))
	}
	ecs.removeRow(src, loc.row)
	ecs.locs[eid] = entityLoc{tbl: dst, row: dstRow}
}

// removeRow swap-removes one row from every column and fixes the location
// of whichever entity got moved into the hole.
func (ecs *Ecs) removeRow(tbl *table, row int) {
	last := len(tbl.ids) - 1
	for _, col := range tbl.cols {
		col.swapRemove(row)
	}
	if row != last {
		moved := tbl.ids[last]
		tbl.ids[row] = moved
		ecs.locs[moved] = entityLoc{tbl: tbl, row: row}
	}
	tbl.ids = tbl.ids[:last]
}

func (ecs *Ecs) writeAt(tbl *table, row int, component any) {
	t, v := componentValue(component)
	tbl.cols[ecs.reg.idFor(t)].set(row, v)
}

// idsOf resolves components to their sorted, deduplicated id set.
func (ecs *Ecs) idsOf(components []any) []componentId {
	ids := make([]componentId, 0, len(components))
	for _, c := range components {
		t, _ := componentValue(c)
		id := ecs.reg.idFor(t)
		if !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

func (ecs *Ecs) tableFor(ids []componentId) *table {
	sig := signature(ids)
	if tbl, ok := ecs.tables[sig]; ok {
		return tbl
	}
	tbl := &table{
		sig:     sig,
		compIds: slices.Clone(ids),
		cols:    make(map[componentId]*column, len(ids)),
	}
	for _, id := range ids {
		tbl.cols[id] = newColumn(ecs.reg.typeOf(id))
	}
	ecs.tables[sig] = tbl
	return tbl
}

// signature is the printable table key, e.g. "2/5/11". Unlike a hash it
// cannot collide, and it reads well in a debugger.
func signature(ids []componentId) string {
	if len(ids) == 0 {
		return "-"
	}
	var sb strings.Builder
	for i, id := range ids {
		if i > 0 {
			sb.WriteByte('/')
		}
		sb.WriteString(strconv.Itoa(int(id)))
	}
	return sb.String()
}

func mergeSorted(a, b []componentId) []componentId {
	out := slices.Clone(a)
	for _, id := range b {
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}

// componentValue normalizes a component argument (struct or pointer to
// struct) into its type and dereferenced value.
func componentValue(c any) (reflect.Type, reflect.Value) {
	t := reflect.TypeOf(c)
	v := reflect.ValueOf(c)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
		v = v.Elem()
	}
	if t.Kind() != reflect.Struct {
		panic(fmt.Sprintf("component must be a struct or pointer to struct, got %s", t.Kind()))
	}
	return t, v
}

// table is one dense component-set storage: ids and every column stay
// parallel, row for row.
type table struct {
	sig     string
	compIds []componentId // sorted
	ids     []EntityId
	cols    map[componentId]*column
}

func (t *table) has(id componentId) bool {
	_, found := slices.BinarySearch(t.compIds, id)
	return found
}

// appendZeroRow grows every column by one zero value and returns the new
// row index. Callers fill the row afterwards.
func (t *table) appendZeroRow(reg *componentRegistry, eid EntityId) int {
	row := len(t.ids)
	for _, id := range t.compIds {
		t.cols[id].push(reflect.Zero(reg.typeOf(id)))
	}
	t.ids = append(t.ids, eid)
	return row
}

// column wraps one boxed []T. Queries unbox it with a type assertion; all
// generic access goes through reflect here.
type column struct {
	slice reflect.Value
}

func newColumn(t reflect.Type) *column {
	return &column{slice: reflect.MakeSlice(reflect.SliceOf(t), 0, 0)}
}

func (c *column) push(v reflect.Value) {
	c.slice = reflect.Append(c.slice, v)
}

func (c *column) get(row int) reflect.Value {
	return c.slice.Index(row)
}

func (c *column) set(row int, v reflect.Value) {
	c.slice.Index(row).Set(v)
}

func (c *column) swapRemove(row int) {
	last := c.slice.Len() - 1
	if row != last {
		c.slice.Index(row).Set(c.slice.Index(last))
	}
	c.slice = c.slice.Slice(0, last)
}

// typed returns the boxed slice for assertion to []T.
func (c *column) typed() any {
	return c.slice.Interface()
}

// componentRegistry hands out dense ids per component type; the id doubles
// as the index into types.
type componentRegistry struct {
	mu     sync.Mutex
	byType map[reflect.Type]componentId
	types  []reflect.Type
}

func (r *componentRegistry) idFor(t reflect.Type) componentId {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byType[t]; ok {
		return id
	}
	id := componentId(len(r.types))
	r.types = append(r.types, t)
	r.byType[t] = id
	return id
}

func (r *componentRegistry) typeOf(id componentId) reflect.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.types[id]
}
