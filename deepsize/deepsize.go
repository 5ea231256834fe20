// Package deepsize estimates the deep memory footprint of a value via
// reflection. The budget ledger uses it to report per-principal memory
// consumption on the operator surface.
package deepsize

import (
	"reflect"
	"unsafe"
)

// hmapOverhead approximates the runtime map header and bucket
// bookkeeping that reflection cannot see.
const hmapOverhead = int64(unsafe.Sizeof(uint64(0))) * 8

// Of returns an estimate of the total memory occupied by v, including
// all reachable heap allocations (strings, slices, pointers, maps).
// Shared pointers and cycles are counted once.
func Of(v any) int64 {
	if v == nil {
		return 0
	}
	w := walker{seen: make(map[uintptr]bool)}
	return w.total(reflect.ValueOf(v))
}

type walker struct {
	seen map[uintptr]bool
}

// total counts the inline representation of v plus everything it
// points at.
func (w *walker) total(v reflect.Value) int64 {
	if !v.IsValid() {
		return 0
	}

	switch v.Kind() {
	case reflect.Ptr:
		if v.IsNil() {
			return int64(v.Type().Size())
		}
		ptr := v.Pointer()
		if w.seen[ptr] {
			return int64(v.Type().Size())
		}
		w.seen[ptr] = true
		return int64(v.Type().Size()) + w.total(v.Elem())

	case reflect.String:
		return int64(v.Type().Size()) + int64(v.Len())

	case reflect.Slice:
		if v.IsNil() {
			return int64(v.Type().Size())
		}
		s := int64(v.Type().Size())
		s += int64(v.Cap()) * int64(v.Type().Elem().Size())
		if hasPointers(v.Type().Elem()) {
			for i := 0; i < v.Len(); i++ {
				s += w.indirect(v.Index(i))
			}
		}
		return s

	case reflect.Array:
		s := int64(0)
		if hasPointers(v.Type().Elem()) {
			for i := 0; i < v.Len(); i++ {
				s += w.indirect(v.Index(i))
			}
		}
		return int64(v.Type().Size()) + s

	case reflect.Struct:
		// The struct's own size covers inline fields and padding;
		// fields contribute their heap allocations on top.
		s := int64(v.Type().Size())
		for i := 0; i < v.NumField(); i++ {
			s += w.indirect(v.Field(i))
		}
		return s

	case reflect.Map:
		if v.IsNil() {
			return int64(v.Type().Size())
		}
		s := int64(v.Type().Size()) + hmapOverhead
		iter := v.MapRange()
		for iter.Next() {
			s += w.total(iter.Key())
			s += w.total(iter.Value())
		}
		return s

	case reflect.Interface:
		if v.IsNil() {
			return int64(v.Type().Size())
		}
		return int64(v.Type().Size()) + w.total(v.Elem())

	default:
		// bool, int*, uint*, float*, complex*
		return int64(v.Type().Size())
	}
}

// indirect counts only the heap allocations behind v. The inline part
// is already covered by the enclosing container.
func (w *walker) indirect(v reflect.Value) int64 {
	if !v.IsValid() {
		return 0
	}

	switch v.Kind() {
	case reflect.Ptr:
		if v.IsNil() {
			return 0
		}
		ptr := v.Pointer()
		if w.seen[ptr] {
			return 0
		}
		w.seen[ptr] = true
		return int64(v.Elem().Type().Size()) + w.indirect(v.Elem())

	case reflect.String:
		return int64(v.Len())

	case reflect.Slice:
		if v.IsNil() {
			return 0
		}
		s := int64(v.Cap()) * int64(v.Type().Elem().Size())
		if hasPointers(v.Type().Elem()) {
			for i := 0; i < v.Len(); i++ {
				s += w.indirect(v.Index(i))
			}
		}
		return s

	case reflect.Map:
		if v.IsNil() {
			return 0
		}
		s := hmapOverhead
		iter := v.MapRange()
		for iter.Next() {
			s += w.total(iter.Key())
			s += w.total(iter.Value())
		}
		return s

	case reflect.Interface:
		if v.IsNil() {
			return 0
		}
		return w.total(v.Elem())

	case reflect.Struct:
		s := int64(0)
		for i := 0; i < v.NumField(); i++ {
			s += w.indirect(v.Field(i))
		}
		return s

	case reflect.Array:
		s := int64(0)
		if hasPointers(v.Type().Elem()) {
			for i := 0; i < v.Len(); i++ {
				s += w.indirect(v.Index(i))
			}
		}
		return s

	default:
		return 0
	}
}

// hasPointers reports whether values of type t can reference heap data.
func hasPointers(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.String,
		reflect.Interface:
		return true
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			if hasPointers(t.Field(i).Type) {
				return true
			}
		}
	case reflect.Array:
		return hasPointers(t.Elem())
	}
	return false
}
