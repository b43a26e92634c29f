package domain

// ModifyKind identifies one modification step.
type ModifyKind int

// Modification kinds, applied in list order.
const (
	// ModPresent adds a value to an attribute.
	ModPresent ModifyKind = iota + 1
	// ModRemove removes the value matching a partial value.
	ModRemove
	// ModPurge clears an attribute.
	ModPurge
	// ModPurgeAndSet clears an attribute and then sets a single value.
	ModPurgeAndSet
)

// Modify is one step of a ModifyList.
type Modify struct {
	Kind    ModifyKind
	Attr    string
	Value   Value
	Partial PartialValue
}

// ModifyList is an ordered sequence of modifications.
type ModifyList []Modify

// Present adds v to attr.
func Present(attr string, v Value) Modify {
	return Modify{Kind: ModPresent, Attr: attr, Value: v}
}

// Remove removes the value of attr matching pv.
func Remove(attr string, pv PartialValue) Modify {
	return Modify{Kind: ModRemove, Attr: attr, Partial: pv}
}

// Purge clears attr.
func Purge(attr string) Modify {
	return Modify{Kind: ModPurge, Attr: attr}
}

// PurgeAndSet clears attr and sets v.
func PurgeAndSet(attr string, v Value) Modify {
	return Modify{Kind: ModPurgeAndSet, Attr: attr, Value: v}
}

// NewModifyList builds a list from steps.
func NewModifyList(mods ...Modify) ModifyList { return ModifyList(mods) }

// NewAppend is a single-step list adding v to attr.
func NewAppend(attr string, v Value) ModifyList { return ModifyList{Present(attr, v)} }

// NewRemove is a single-step list removing pv from attr.
func NewRemove(attr string, pv PartialValue) ModifyList { return ModifyList{Remove(attr, pv)} }

// NewPurgeAndSet is a single-step list replacing attr with v.
func NewPurgeAndSet(attr string, v Value) ModifyList { return ModifyList{PurgeAndSet(attr, v)} }

// Canonical returns a copy of ml with attribute names in canonical form.
func (ml ModifyList) Canonical() ModifyList {
	out := make(ModifyList, len(ml))
	for i, m := range ml {
		m.Attr = CanonicalAttr(m.Attr)
		out[i] = m
	}
	return out
}

// Attributes lists the attribute names touched by the list, in order of
// first appearance.
func (ml ModifyList) Attributes() []string {
	seen := make(map[string]struct{}, len(ml))
	out := make([]string, 0, len(ml))
	for _, m := range ml {
		if _, ok := seen[m.Attr]; ok {
			continue
		}
		seen[m.Attr] = struct{}{}
		out = append(out, m.Attr)
	}
	return out
}
