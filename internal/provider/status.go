package provider

import (
	"github.com/dgnsrekt/livefeed/internal/content"
	"github.com/dgnsrekt/livefeed/internal/coordinator"
	"github.com/dgnsrekt/livefeed/internal/data"
	"github.com/dgnsrekt/livefeed/internal/registry"
	"github.com/dgnsrekt/livefeed/internal/session"
	"github.com/dgnsrekt/livefeed/internal/sports"
)

// OwnerInfo describes one live coordinator.
type OwnerInfo struct {
	Identifier string `json:"identifier"`
	State      string `json:"state"`
	Stale      bool   `json:"stale,omitempty"`
}

// Status is a point-in-time view of the provider for the status server.
type Status struct {
	Connection    string          `json:"connection"`
	Token         string          `json:"token"`
	Subscriptions []registry.Info `json:"subscriptions"`
	Coordinators  []OwnerInfo     `json:"coordinators"`
}

func (p *Provider) Status() Status {
	st := Status{
		Connection:    p.conn.State().String(),
		Subscriptions: p.reg.Active(),
	}
	if tok, ok := p.tokens.Current(); ok {
		st.Token = session.MaskToken(tok.Hash)
	}
	for _, c := range p.snapshotOwners() {
		st.Coordinators = append(st.Coordinators, OwnerInfo{
			Identifier: c.Identifier().String(),
			State:      c.State().String(),
			Stale:      c.Stale(),
		})
	}
	return st
}

// EventSnapshot returns the cached event details of eventID, if a live
// coordinator holds them.
func (p *Provider) EventSnapshot(eventID string) (*data.Event, bool) {
	p.mu.RLock()
	c, ok := p.owners[content.EventDetails(eventID)].(*coordinator.EventDetails)
	p.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return c.Snapshot()
}

// SportsSnapshot returns the merged sport list, if it is being followed.
func (p *Provider) SportsSnapshot() ([]data.Sport, bool) {
	p.mu.RLock()
	c, ok := p.owners[content.AllSports()].(*sports.Coordinator)
	p.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return c.Snapshot()
}
