package rubble

import (
	"reflect"
)

// Queries iterate entities whose table carries all requested component
// types. Map callbacks receive pointers into column storage; returning
// false stops the iteration. Optional components (passed as trailing zero
// values) may resolve to nil.

type Query1[A any] struct {
	ecs     *Ecs
	without []componentId
}
type Query2[A, B any] struct {
	ecs     *Ecs
	without []componentId
}
type Query3[A, B, C any] struct {
	ecs     *Ecs
	without []componentId
}
type Query4[A, B, C, D any] struct {
	ecs     *Ecs
	without []componentId
}

func MakeQuery1[A any](cmd *Commands) Query1[A]             { return Query1[A]{ecs: cmd.app.ecs} }
func MakeQuery2[A, B any](cmd *Commands) Query2[A, B]       { return Query2[A, B]{ecs: cmd.app.ecs} }
func MakeQuery3[A, B, C any](cmd *Commands) Query3[A, B, C] { return Query3[A, B, C]{ecs: cmd.app.ecs} }
func MakeQuery4[A, B, C, D any](cmd *Commands) Query4[A, B, C, D] {
	return Query4[A, B, C, D]{ecs: cmd.app.ecs}
}

func (q Query1[A]) WithoutTypes(types ...any) Query1[A] {
	q.without = append(q.without, idsOfValues(q.ecs, types...)...)
	return q
}

func (q Query2[A, B]) WithoutTypes(types ...any) Query2[A, B] {
	q.without = append(q.without, idsOfValues(q.ecs, types...)...)
	return q
}

func (q Query3[A, B, C]) WithoutTypes(types ...any) Query3[A, B, C] {
	q.without = append(q.without, idsOfValues(q.ecs, types...)...)
	return q
}

func idsOfValues(ecs *Ecs, vals ...any) []componentId {
	ids := make([]componentId, 0, len(vals))
	for _, v := range vals {
		t := reflect.TypeOf(v)
		if t.Kind() == reflect.Pointer {
			t = t.Elem()
		}
		ids = append(ids, ecs.reg.idFor(t))
	}
	return ids
}

func componentIdFor[T any](ecs *Ecs) componentId {
	var zero T
	t := reflect.TypeOf(zero)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return ecs.reg.idFor(t)
}

func identifyOptionals(ecs *Ecs, components ...any) set[componentId] {
	res := make(set[componentId])
	for _, c := range components {
		res[ecs.reg.idFor(reflect.TypeOf(c))] = struct{}{}
	}
	return res
}

func hasAll(tbl *table, ids []componentId) bool {
	for _, id := range ids {
		if !tbl.has(id) {
			return false
		}
	}
	return true
}

func hasAny(tbl *table, ids []componentId) bool {
	for _, id := range ids {
		if tbl.has(id) {
			return true
		}
	}
	return false
}

func requiredIds(opt set[componentId], ids ...componentId) []componentId {
	var req []componentId
	for _, id := range ids {
		if _, ok := opt[id]; !ok {
			req = append(req, id)
		}
	}
	return req
}

// fetch returns the typed column for id in tbl, or (nil, true) when the
// component is optional and absent; (nil, false, false) means the table
// does not match the query at all.
func fetch[T any](tbl *table, id componentId, opt set[componentId]) ([]T, bool, bool) {
	if col, ok := tbl.cols[id]; ok {
		return col.typed().([]T), false, true
	}
	if _, ok := opt[id]; ok {
		return nil, true, true
	}
	return nil, false, false
}

func at[T any](comps []T, missing bool, row int) *T {
	if missing {
		return nil
	}
	return &comps[row]
}

func (q Query1[A]) Map(m func(EntityId, *A) bool, optionals ...any) {
	idA := componentIdFor[A](q.ecs)
	opt := identifyOptionals(q.ecs, optionals...)
	req := requiredIds(opt, idA)

	for _, tbl := range q.ecs.tables {
		if len(q.without) > 0 && hasAny(tbl, q.without) {
			continue
		}
		if !hasAll(tbl, req) {
			continue
		}
		compsA, missA, ok := fetch[A](tbl, idA, opt)
		if !ok {
			continue
		}
		for row, eid := range tbl.ids {
			if !m(eid, at(compsA, missA, row)) {
				return
			}
		}
	}
}

func (q Query2[A, B]) Map(m func(EntityId, *A, *B) bool, optionals ...any) {
	idA := componentIdFor[A](q.ecs)
	idB := componentIdFor[B](q.ecs)
	opt := identifyOptionals(q.ecs, optionals...)
	req := requiredIds(opt, idA, idB)

	for _, tbl := range q.ecs.tables {
		if len(q.without) > 0 && hasAny(tbl, q.without) {
			continue
		}
		if !hasAll(tbl, req) {
			continue
		}
		compsA, missA, okA := fetch[A](tbl, idA, opt)
		compsB, missB, okB := fetch[B](tbl, idB, opt)
		if !okA || !okB {
			continue
		}
		for row, eid := range tbl.ids {
			if !m(eid, at(compsA, missA, row), at(compsB, missB, row)) {
				return
			}
		}
	}
}

func (q Query3[A, B, C]) Map(m func(EntityId, *A, *B, *C) bool, optionals ...any) {
	idA := componentIdFor[A](q.ecs)
	idB := componentIdFor[B](q.ecs)
	idC := componentIdFor[C](q.ecs)
	opt := identifyOptionals(q.ecs, optionals...)
	req := requiredIds(opt, idA, idB, idC)

	for _, tbl := range q.ecs.tables {
		if len(q.without) > 0 && hasAny(tbl, q.without) {
			continue
		}
		if !hasAll(tbl, req) {
			continue
		}
		compsA, missA, okA := fetch[A](tbl, idA, opt)
		compsB, missB, okB := fetch[B](tbl, idB, opt)
		compsC, missC, okC := fetch[C](tbl, idC, opt)
		if !okA || !okB || !okC {
			continue
		}
		for row, eid := range tbl.ids {
			if !m(eid, at(compsA, missA, row), at(compsB, missB, row), at(compsC, missC, row)) {
				return
			}
		}
	}
}

func (q Query4[A, B, C, D]) Map(m func(EntityId, *A, *B, *C, *D) bool, optionals ...any) {
	idA := componentIdFor[A](q.ecs)
	idB := componentIdFor[B](q.ecs)
	idC := componentIdFor[C](q.ecs)
	idD := componentIdFor[D](q.ecs)
	opt := identifyOptionals(q.ecs, optionals...)
	req := requiredIds(opt, idA, idB, idC, idD)

	for _, tbl := range q.ecs.tables {
		if len(q.without) > 0 && hasAny(tbl, q.without) {
			continue
		}
		if !hasAll(tbl, req) {
			continue
		}
		compsA, missA, okA := fetch[A](tbl, idA, opt)
		compsB, missB, okB := fetch[B](tbl, idB, opt)
		compsC, missC, okC := fetch[C](tbl, idC, opt)
		compsD, missD, okD := fetch[D](tbl, idD, opt)
		if !okA || !okB || !okC || !okD {
			continue
		}
		for row, eid := range tbl.ids {
			if !m(eid, at(compsA, missA, row), at(compsB, missB, row), at(compsC, missC, row), at(compsD, missD, row)) {
				return
			}
		}
	}
}
