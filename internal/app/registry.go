package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicerelay/internal/core"
	"github.com/dkeye/voicerelay/internal/domain"
)

type linkEntry struct {
	Link   core.Link
	Cancel func()
}

// Registry is the sole owner of sessions. Links are indexed here but owned
// by their adapter.
type Registry struct {
	mu       sync.RWMutex
	sessions map[domain.GuildID]*Session
	links    map[domain.LinkID]*linkEntry
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[domain.GuildID]*Session),
		links:    make(map[domain.LinkID]*linkEntry),
	}
}

func (r *Registry) BindLink(link core.Link, cancel func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.links[link.ID()] = &linkEntry{Link: link, Cancel: cancel}
	log.Info().Str("module", "app.registry").Str("link", string(link.ID())).Msg("bound link")
}

// UnbindLink removes the link and stops whatever was started for it.
// It reports false if the link was not bound.
func (r *Registry) UnbindLink(id domain.LinkID) bool {
	r.mu.Lock()
	e, ok := r.links[id]
	delete(r.links, id)
	r.mu.Unlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("link", string(id)).Msg("unbound link")
	return true
}

func (r *Registry) Link(id domain.LinkID) (core.Link, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.links[id]; ok {
		return e.Link, true
	}
	return nil, false
}

func (r *Registry) LinkCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.links)
}

func (r *Registry) Session(g domain.GuildID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[g]
	return s, ok
}

// Replace stores s under its guild and returns the session it displaced.
func (r *Registry) Replace(s *Session) (prev *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev = r.sessions[s.GuildID()]
	r.sessions[s.GuildID()] = s
	log.Info().Str("module", "app.registry").Str("guild", string(s.GuildID())).Msg("bound session")
	return prev
}

// Remove deletes the guild's entry only if it still points at s.
func (r *Registry) Remove(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[s.GuildID()]; !ok || cur != s {
		return false
	}
	delete(r.sessions, s.GuildID())
	log.Info().Str("module", "app.registry").Str("guild", string(s.GuildID())).Msg("unbound session")
	return true
}

func (r *Registry) SessionsOwnedBy(id domain.LinkID) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Session
	for _, s := range r.sessions {
		if s.Owner() != nil && s.Owner().ID() == id {
			out = append(out, s)
		}
	}
	return out
}

func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		list = append(list, s)
	}
	return list
}

func (r *Registry) Snapshot() []SessionInfo {
	list := r.Sessions()
	out := make([]SessionInfo, 0, len(list))
	for _, s := range list {
		out = append(out, s.Info())
	}
	return out
}
