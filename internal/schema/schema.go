// Package schema implements the attribute and class catalogue that entries are
// validated and normalised against. Committed schema is an immutable snapshot
// shared by readers; a single write view at a time stages changes on a copy.
package schema

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"idmcore/pkg/domain"
)

var (
	_ domain.SchemaStore     = (*Store)(nil)
	_ domain.SchemaWriteView = (*writeView)(nil)
)

type state struct {
	attributes map[string]domain.AttributeType
	classes    map[string]domain.ClassType
}

func newState() *state {
	return &state{
		attributes: make(map[string]domain.AttributeType),
		classes:    make(map[string]domain.ClassType),
	}
}

func (s *state) clone() *state {
	cp := &state{
		attributes: make(map[string]domain.AttributeType, len(s.attributes)),
		classes:    make(map[string]domain.ClassType, len(s.classes)),
	}
	for k, v := range s.attributes {
		cp.attributes[k] = v
	}
	for k, v := range s.classes {
		c := v
		c.SystemMay = append([]string(nil), v.SystemMay...)
		c.SystemMust = append([]string(nil), v.SystemMust...)
		cp.classes[k] = c
	}
	return cp
}

// Store holds the committed schema.
type Store struct {
	writer *semaphore.Weighted
	state  atomic.Pointer[state]
}

// NewStore returns a store loaded with the core attributes and classes.
func NewStore() *Store {
	s := NewEmptyStore()
	st := newState()
	for _, a := range CoreAttributes() {
		st.attributes[a.Name] = a
	}
	for _, c := range CoreClasses() {
		st.classes[c.Name] = c
	}
	s.state.Store(st)
	return s
}

// NewEmptyStore returns a store with no attributes or classes.
func NewEmptyStore() *Store {
	s := &Store{writer: semaphore.NewWeighted(1)}
	s.state.Store(newState())
	return s
}

// Read returns a view of the committed schema.
func (s *Store) Read() domain.SchemaReadView {
	return &view{st: s.state.Load()}
}

// Write opens the exclusive write view, waiting for a current writer to
// finish or ctx to end.
func (s *Store) Write(ctx context.Context) (domain.SchemaWriteView, error) {
	if err := s.writer.Acquire(ctx, 1); err != nil {
		return nil, domain.ErrSchema.Wrap(fmt.Errorf("acquire schema write lock: %w", err))
	}
	return &writeView{view: view{st: s.state.Load().clone()}, store: s}, nil
}

// Attributes lists committed attribute types ordered by name.
func (s *Store) Attributes() []domain.AttributeType {
	st := s.state.Load()
	out := make([]domain.AttributeType, 0, len(st.attributes))
	for _, a := range st.attributes {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Classes lists committed class types ordered by name.
func (s *Store) Classes() []domain.ClassType {
	st := s.state.Load()
	out := make([]domain.ClassType, 0, len(st.classes))
	for _, c := range st.classes {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

type view struct {
	st *state
}

func (v *view) Attribute(name string) (domain.AttributeType, bool) {
	a, ok := v.st.attributes[strings.ToLower(name)]
	return a, ok
}

func (v *view) IsMultivalue(attr string) bool {
	a, ok := v.Attribute(attr)
	return ok && a.MultiValue
}

// ValidateFilter rejects filters naming attributes schema does not know.
func (v *view) ValidateFilter(f domain.Filter) error {
	for _, attr := range f.Attributes() {
		if _, ok := v.Attribute(attr); !ok {
			return domain.ErrSchema.New("filter references unknown attribute %q", attr)
		}
	}
	return nil
}

// ValidateEntry checks that the entry's classes are known, that every must
// attribute is present, that every attribute is allowed by at least one class
// and that values fit the attribute syntax and cardinality.
func (v *view) ValidateEntry(e domain.Entry) error {
	id, _ := e.ID()
	classes := e.Classes()
	if len(classes) == 0 {
		return domain.ErrSchema.New("entry %s has no class", id)
	}
	allowed := make(map[string]struct{})
	var must []string
	for _, name := range classes {
		c, ok := v.st.classes[name]
		if !ok {
			return domain.ErrSchema.New("entry %s has unknown class %q", id, name)
		}
		for _, a := range c.SystemMust {
			allowed[a] = struct{}{}
			must = append(must, a)
		}
		for _, a := range c.SystemMay {
			allowed[a] = struct{}{}
		}
	}
	for _, a := range must {
		if !e.Has(a) {
			return domain.ErrSchema.New("entry %s is missing required attribute %q", id, a)
		}
	}
	for _, name := range e.AttributeNames() {
		at, ok := v.Attribute(name)
		if !ok {
			return domain.ErrSchema.New("entry %s has unknown attribute %q", id, name)
		}
		if _, ok := allowed[at.Name]; !ok {
			return domain.ErrSchema.New("attribute %q is not allowed on entry %s", name, id)
		}
		values := e.Get(name)
		if !at.MultiValue && len(values) > 1 {
			return domain.ErrSchema.New("attribute %q on entry %s is single valued", name, id)
		}
		for _, val := range values {
			if !syntaxAccepts(at.Syntax, val) {
				return domain.ErrSchema.New("attribute %q on entry %s expects %s, got %s", name, id, at.Syntax, val.Syntax())
			}
		}
	}
	return nil
}

// syntaxAccepts reports whether val fits syntax directly or after
// normalisation.
func syntaxAccepts(syntax domain.Syntax, val domain.Value) bool {
	if val.Syntax() == syntax {
		return true
	}
	if val.Syntax() != domain.SyntaxUtf8 {
		return false
	}
	switch syntax {
	case domain.SyntaxIname, domain.SyntaxClass:
		return true
	case domain.SyntaxURL:
		_, err := domain.NewURL(val.Key())
		return err == nil
	}
	return false
}

// NormaliseEntry returns a copy of e with attribute names lower-cased and
// string values converted to the attribute syntax.
func (v *view) NormaliseEntry(e domain.Entry) domain.Entry {
	out := domain.Entry{Attrs: make(map[string]domain.ValueSet, len(e.Attrs))}
	for name, vs := range e.Attrs {
		attr := strings.ToLower(name)
		at, known := v.Attribute(attr)
		for _, val := range vs {
			if known {
				val = normaliseValue(at.Syntax, val)
			}
			out.AddValue(attr, val)
		}
	}
	return out
}

func normaliseValue(syntax domain.Syntax, val domain.Value) domain.Value {
	if val.Syntax() != domain.SyntaxUtf8 {
		return val
	}
	switch syntax {
	case domain.SyntaxIname:
		return domain.NewIname(val.Key())
	case domain.SyntaxClass:
		return domain.NewClass(val.Key())
	case domain.SyntaxURL:
		if u, err := domain.NewURL(val.Key()); err == nil {
			return u
		}
	}
	return val
}

type writeView struct {
	view
	store *Store
	done  bool
}

func (w *writeView) AddAttribute(a domain.AttributeType) error {
	if w.done {
		return domain.ErrSchema.Wrap(domain.ErrTransactionDone)
	}
	a.Name = strings.ToLower(strings.TrimSpace(a.Name))
	if a.Name == "" {
		return domain.ErrSchema.New("attribute name required")
	}
	if existing, ok := w.st.attributes[a.Name]; ok && existing.System && existing != a {
		return domain.ErrSchema.New("system attribute %q cannot be redefined", a.Name)
	}
	w.st.attributes[a.Name] = a
	return nil
}

func (w *writeView) AddClass(c domain.ClassType) error {
	if w.done {
		return domain.ErrSchema.Wrap(domain.ErrTransactionDone)
	}
	c.Name = strings.ToLower(strings.TrimSpace(c.Name))
	if c.Name == "" {
		return domain.ErrSchema.New("class name required")
	}
	w.st.classes[c.Name] = c
	return nil
}

// Validate checks that every class only names known attributes.
func (w *writeView) Validate() error {
	names := make([]string, 0, len(w.st.classes))
	for name := range w.st.classes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c := w.st.classes[name]
		for _, a := range append(append([]string(nil), c.SystemMust...), c.SystemMay...) {
			if _, ok := w.st.attributes[a]; !ok {
				return domain.ErrSchema.New("class %q references unknown attribute %q", name, a)
			}
		}
	}
	return nil
}

func (w *writeView) Commit() error {
	if w.done {
		return domain.ErrSchema.Wrap(domain.ErrTransactionDone)
	}
	w.store.state.Store(w.st)
	w.release()
	return nil
}

func (w *writeView) Abort() {
	if w.done {
		return
	}
	w.release()
}

func (w *writeView) release() {
	w.done = true
	w.store.writer.Release(1)
}
