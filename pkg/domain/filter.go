package domain

import (
	"sort"
	"strings"
)

// FilterKind identifies a node in a filter expression tree.
type FilterKind int

// Filter node kinds.
const (
	FilterEq FilterKind = iota + 1
	FilterPres
	FilterAnd
	FilterOr
	FilterAndNot
)

// Filter is an expression tree over attribute predicates. Record stores
// evaluate it with Matches; the engine only routes it.
type Filter struct {
	Kind     FilterKind
	Attr     string
	Value    PartialValue
	Children []Filter
}

// Eq matches entries whose attr holds a value equal to pv.
func Eq(attr string, pv PartialValue) Filter {
	return Filter{Kind: FilterEq, Attr: attr, Value: pv}
}

// Pres matches entries that carry attr.
func Pres(attr string) Filter {
	return Filter{Kind: FilterPres, Attr: attr}
}

// And matches entries satisfying every child.
func And(children ...Filter) Filter {
	return Filter{Kind: FilterAnd, Children: children}
}

// Or matches entries satisfying at least one child.
func Or(children ...Filter) Filter {
	return Filter{Kind: FilterOr, Children: children}
}

// AndNot matches entries that do not satisfy f.
func AndNot(f Filter) Filter {
	return Filter{Kind: FilterAndNot, Children: []Filter{f}}
}

// Canonical returns a copy of f with every attribute name in canonical form.
func (f Filter) Canonical() Filter {
	out := f
	if f.Attr != "" {
		out.Attr = CanonicalAttr(f.Attr)
	}
	if len(f.Children) > 0 {
		out.Children = make([]Filter, len(f.Children))
		for i, c := range f.Children {
			out.Children[i] = c.Canonical()
		}
	}
	return out
}

// Matches evaluates the filter against e. An empty And matches everything,
// an empty Or matches nothing.
func (f Filter) Matches(e Entry) bool {
	switch f.Kind {
	case FilterEq:
		return e.AttributeEquality(f.Attr, f.Value)
	case FilterPres:
		return e.Has(f.Attr)
	case FilterAnd:
		for _, c := range f.Children {
			if !c.Matches(e) {
				return false
			}
		}
		return true
	case FilterOr:
		for _, c := range f.Children {
			if c.Matches(e) {
				return true
			}
		}
		return false
	case FilterAndNot:
		if len(f.Children) != 1 {
			return false
		}
		return !f.Children[0].Matches(e)
	default:
		return false
	}
}

// Attributes lists the distinct attribute names referenced by the filter.
func (f Filter) Attributes() []string {
	seen := make(map[string]struct{})
	f.collect(seen)
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (f Filter) collect(seen map[string]struct{}) {
	if f.Attr != "" {
		seen[f.Attr] = struct{}{}
	}
	for _, c := range f.Children {
		c.collect(seen)
	}
}

// String renders the filter in a compact prefix form for logs.
func (f Filter) String() string {
	var b strings.Builder
	f.write(&b)
	return b.String()
}

func (f Filter) write(b *strings.Builder) {
	switch f.Kind {
	case FilterEq:
		b.WriteString("(eq " + f.Attr + " " + f.Value.Key() + ")")
	case FilterPres:
		b.WriteString("(pres " + f.Attr + ")")
	case FilterAnd, FilterOr, FilterAndNot:
		switch f.Kind {
		case FilterAnd:
			b.WriteString("(and")
		case FilterOr:
			b.WriteString("(or")
		default:
			b.WriteString("(not")
		}
		for _, c := range f.Children {
			b.WriteString(" ")
			c.write(b)
		}
		b.WriteString(")")
	default:
		b.WriteString("(invalid)")
	}
}
