package asyncinit

import (
	"context"
	"fmt"
	"strings"
)

// Unit is anything that can be initialized asynchronously as part of a startup sequence. Initialize must honor
// cancellation of ctx; the Manager never aborts a Unit by force.
type Unit interface {
	Initialize(ctx context.Context) error
}

// Type is the tag used to match a Unit against priority declarations.
type Type string

// Typed can be implemented by Units that want to report their own Type instead of the one derived from their Go type.
type Typed interface {
	UnitType() Type
}

// TypeOf returns the Type of the given Unit. Units implementing Typed decide for themselves, all others are named
// after their dynamic Go type without package path or pointer marker.
func TypeOf(u Unit) Type {
	if t, ok := u.(Typed); ok {
		return t.UnitType()
	}
	name := strings.TrimLeft(fmt.Sprintf("%T", u), "*")
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return Type(name)
}

// funcUnit wraps a plain function as a Unit.
type funcUnit struct {
	typ Type
	fn  func(ctx context.Context) error
}

// Func returns a Unit of the given Type that runs fn. Every call returns a distinct Unit, even for the same function.
func Func(typ Type, fn func(ctx context.Context) error) Unit {
	return &funcUnit{typ: typ, fn: fn}
}

func (f *funcUnit) Initialize(ctx context.Context) error {
	return f.fn(ctx)
}

func (f *funcUnit) UnitType() Type {
	return f.typ
}

// Hierarchy maps a concrete Type to the ancestor Types it derives from. Declarations made for an ancestor apply to
// every descendant. A nil Hierarchy can be queried but not declared into.
type Hierarchy map[Type][]Type

// NewHierarchy returns an empty Hierarchy.
func NewHierarchy() Hierarchy {
	return make(Hierarchy)
}

// Declare registers the direct ancestors of concrete. Repeated calls accumulate.
func (h Hierarchy) Declare(concrete Type, ancestors ...Type) Hierarchy {
	h[concrete] = append(h[concrete], ancestors...)
	return h
}

// Lineage returns t followed by all of its transitive ancestors, each listed once.
func (h Hierarchy) Lineage(t Type) []Type {
	seen := map[Type]bool{t: true}
	lineage := []Type{t}

	for i := 0; i < len(lineage); i++ {
		for _, parent := range h[lineage[i]] {
			if seen[parent] {
				continue
			}
			seen[parent] = true
			lineage = append(lineage, parent)
		}
	}

	return lineage
}

// DerivesFromOrEqual reports whether t is ancestor, or has ancestor anywhere in its lineage.
func (h Hierarchy) DerivesFromOrEqual(t, ancestor Type) bool {
	for _, candidate := range h.Lineage(t) {
		if candidate == ancestor {
			return true
		}
	}
	return false
}
