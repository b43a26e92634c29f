package domain

import (
	"context"
	"fmt"
	"time"
)

// PluginView gives hooks read access to the write transaction's current
// state and its fixed current time.
type PluginView interface {
	CurrentTime() time.Time
	Search(ctx context.Context, f Filter) ([]Entry, error)
	Exists(ctx context.Context, f Filter) (bool, error)
}

// Plugin is a named unit of pre-persistence logic. A plugin participates in
// a phase by also implementing PreCreateHook or PreModifyHook.
type Plugin interface {
	ID() string
}

// PreCreateHook runs before candidates from a create are validated.
type PreCreateHook interface {
	Plugin
	PreCreate(ctx context.Context, view PluginView, candidates []*Entry, ev *CreateEvent) error
}

// PreModifyHook runs after a modify list has been applied to candidates and
// before they are validated.
type PreModifyHook interface {
	Plugin
	PreModify(ctx context.Context, view PluginView, candidates []*Entry, ev *ModifyEvent) error
}

// Pipeline is a fixed, ordered list of plugins.
type Pipeline struct {
	plugins []Plugin
}

// NewPipeline builds a pipeline that runs plugins in the given order.
func NewPipeline(plugins ...Plugin) *Pipeline {
	out := make([]Plugin, 0, len(plugins))
	for _, p := range plugins {
		if p != nil {
			out = append(out, p)
		}
	}
	return &Pipeline{plugins: out}
}

// Plugins returns the registered plugins in order.
func (p *Pipeline) Plugins() []Plugin {
	out := make([]Plugin, len(p.plugins))
	copy(out, p.plugins)
	return out
}

// RunPreCreate invokes every PreCreateHook in order and stops at the first
// error, which is wrapped in ErrPlugin.
func (p *Pipeline) RunPreCreate(ctx context.Context, view PluginView, candidates []*Entry, ev *CreateEvent) error {
	for _, plugin := range p.plugins {
		hook, ok := plugin.(PreCreateHook)
		if !ok {
			continue
		}
		if err := hook.PreCreate(ctx, view, candidates, ev); err != nil {
			return ErrPlugin.Wrap(fmt.Errorf("%s: %w", plugin.ID(), err))
		}
	}
	return nil
}

// RunPreModify invokes every PreModifyHook in order and stops at the first
// error, which is wrapped in ErrPlugin.
func (p *Pipeline) RunPreModify(ctx context.Context, view PluginView, candidates []*Entry, ev *ModifyEvent) error {
	for _, plugin := range p.plugins {
		hook, ok := plugin.(PreModifyHook)
		if !ok {
			continue
		}
		if err := hook.PreModify(ctx, view, candidates, ev); err != nil {
			return ErrPlugin.Wrap(fmt.Errorf("%s: %w", plugin.ID(), err))
		}
	}
	return nil
}
