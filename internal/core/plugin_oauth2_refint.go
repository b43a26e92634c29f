package core

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"idmcore/pkg/domain"
)

type oauth2RefIntPlugin struct{}

// NewOauth2RefIntPlugin returns the plugin that requires every newly added
// oauth2 session to name an existing oauth2 resource server.
func NewOauth2RefIntPlugin() domain.Plugin { return oauth2RefIntPlugin{} }

func (oauth2RefIntPlugin) ID() string { return "plugin_oauth2_refint" }

func (p oauth2RefIntPlugin) PreCreate(ctx context.Context, view domain.PluginView, candidates []*domain.Entry, _ *domain.CreateEvent) error {
	batch := make(map[uuid.UUID]struct{})
	for _, c := range candidates {
		if id, ok := c.ID(); ok && c.HasClass(domain.ClassOauth2ResourceServer) {
			batch[id] = struct{}{}
		}
	}
	for _, c := range candidates {
		for _, s := range c.Oauth2Sessions() {
			if _, ok := batch[s.RSUUID]; ok {
				continue
			}
			if err := p.check(ctx, view, s); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p oauth2RefIntPlugin) PreModify(ctx context.Context, view domain.PluginView, _ []*domain.Entry, ev *domain.ModifyEvent) error {
	for _, m := range ev.ModList {
		if m.Attr != domain.AttrOauth2Session || (m.Kind != domain.ModPresent && m.Kind != domain.ModPurgeAndSet) {
			continue
		}
		s, ok := m.Value.(domain.Oauth2Session)
		if !ok {
			continue
		}
		if err := p.check(ctx, view, s); err != nil {
			return err
		}
	}
	return nil
}

func (oauth2RefIntPlugin) check(ctx context.Context, view domain.PluginView, s domain.Oauth2Session) error {
	found, err := view.Exists(ctx, domain.And(
		domain.Eq(domain.AttrUUID, domain.PartialUUID(s.RSUUID)),
		domain.Eq(domain.AttrClass, domain.PartialClass(domain.ClassOauth2ResourceServer)),
	))
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("oauth2 session %s references unknown resource server %s", s.ID, s.RSUUID)
	}
	return nil
}
