package core

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"idmcore/pkg/domain"
)

type basePlugin struct{}

// NewBasePlugin returns the plugin that owns entry identifiers: it assigns a
// uuid to new entries that lack one, rejects malformed or duplicate uuids and
// refuses modifications of the uuid attribute.
func NewBasePlugin() domain.Plugin { return basePlugin{} }

func (basePlugin) ID() string { return "plugin_base" }

func (basePlugin) PreCreate(ctx context.Context, view domain.PluginView, candidates []*domain.Entry, _ *domain.CreateEvent) error {
	seen := make(map[uuid.UUID]struct{}, len(candidates))
	for _, c := range candidates {
		switch n := len(c.Attrs[domain.AttrUUID]); n {
		case 0:
			c.AddValue(domain.AttrUUID, domain.NewUUID(uuid.New()))
		case 1:
		default:
			return fmt.Errorf("entry carries %d uuid values", n)
		}
		id, ok := c.ID()
		if !ok {
			return fmt.Errorf("uuid attribute does not hold a uuid")
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: %s repeated in batch", domain.ErrDuplicate, id)
		}
		seen[id] = struct{}{}
		exists, err := view.Exists(ctx, domain.Eq(domain.AttrUUID, domain.PartialUUID(id)))
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: %s", domain.ErrDuplicate, id)
		}
	}
	return nil
}

func (basePlugin) PreModify(_ context.Context, _ domain.PluginView, _ []*domain.Entry, ev *domain.ModifyEvent) error {
	for _, m := range ev.ModList {
		if m.Attr == domain.AttrUUID {
			return fmt.Errorf("uuid is immutable")
		}
	}
	return nil
}
