package core

import (
	"context"
	"time"

	"github.com/google/uuid"

	"idmcore/pkg/domain"
)

// SessionConsistencyPlugin keeps sessions on accounts coherent. On every
// create and modify it removes expired sessions, removes oauth2 sessions
// whose parent session is gone, and removes parentless oauth2 sessions once
// they are older than the grace window. It never rejects an operation; the
// only error it returns is a store error from reading an entry's pre-image.
type SessionConsistencyPlugin struct {
	grace time.Duration
}

// NewSessionConsistencyPlugin builds the plugin with the given grace window.
func NewSessionConsistencyPlugin(grace time.Duration) *SessionConsistencyPlugin {
	return &SessionConsistencyPlugin{grace: grace}
}

func (p *SessionConsistencyPlugin) ID() string { return "plugin_session_consistency" }

// GraceWindow reports the configured window.
func (p *SessionConsistencyPlugin) GraceWindow() time.Duration { return p.grace }

func (p *SessionConsistencyPlugin) PreCreate(_ context.Context, view domain.PluginView, candidates []*domain.Entry, _ *domain.CreateEvent) error {
	for _, c := range candidates {
		p.reconcile(view.CurrentTime(), nil, c)
	}
	return nil
}

func (p *SessionConsistencyPlugin) PreModify(ctx context.Context, view domain.PluginView, candidates []*domain.Entry, _ *domain.ModifyEvent) error {
	for _, c := range candidates {
		var before []domain.Session
		if id, ok := c.ID(); ok {
			pre, err := view.Search(ctx, domain.Eq(domain.AttrUUID, domain.PartialUUID(id)))
			if err != nil {
				return err
			}
			if len(pre) == 1 {
				before = pre[0].Sessions()
			}
		}
		p.reconcile(view.CurrentTime(), before, c)
	}
	return nil
}

// reconcile applies the session rules to c. before holds the sessions the
// entry carried prior to the operation.
func (p *SessionConsistencyPlugin) reconcile(now time.Time, before []domain.Session, c *domain.Entry) {
	removed := make(map[uuid.UUID]struct{})
	for _, s := range before {
		removed[s.ID] = struct{}{}
	}
	for _, s := range c.Sessions() {
		if s.Expired(now) {
			c.RemoveValue(domain.AttrUserAuthTokenSession, domain.PartialFromValue(s))
			removed[s.ID] = struct{}{}
		}
	}
	live := make(map[uuid.UUID]struct{})
	for _, s := range c.Sessions() {
		live[s.ID] = struct{}{}
		delete(removed, s.ID)
	}
	for _, s := range c.Oauth2Sessions() {
		if _, ok := live[s.Parent]; ok && !s.Expired(now) {
			continue
		}
		drop := s.Expired(now)
		if !drop {
			if _, gone := removed[s.Parent]; gone {
				drop = true
			} else {
				drop = now.Sub(s.IssuedAt) >= p.grace
			}
		}
		if drop {
			c.RemoveValue(domain.AttrOauth2Session, domain.PartialFromValue(s))
		}
	}
}

// DefaultPipeline returns the standard plugin order: identifiers first, then
// reference integrity, then session consistency.
func DefaultPipeline(grace time.Duration) *domain.Pipeline {
	return domain.NewPipeline(
		NewBasePlugin(),
		NewOauth2RefIntPlugin(),
		NewSessionConsistencyPlugin(grace),
	)
}
