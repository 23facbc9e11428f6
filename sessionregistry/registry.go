// Package sessionregistry implements the SessionRegistry (spec.md §4.7,
// "Session registry"): the single source of truth for session lookup, with
// a dynamically reassignable default session.
package sessionregistry

import (
	"sync"

	"github.com/agentorch/agentserver/session"
	"github.com/agentorch/agentserver/toolerrors"
)

const defaultSessionName = "default"

// Registry is the single source of truth every handler reads sessions
// through, so that a change of default becomes immediately visible (spec.md
// §4.7).
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*session.Session
	def      string
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{sessions: make(map[string]*session.Session)}
}

// GetSession resolves id, or the current default when id is empty (spec.md
// §4.7, `get_session(id|none)`).
func (r *Registry) GetSession(id string) (*session.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id == "" {
		id = r.def
	}
	if id == "" {
		return nil, toolerrors.New(toolerrors.InvalidRequest, "no default session configured")
	}
	s, ok := r.sessions[id]
	if !ok {
		return nil, toolerrors.Newf(toolerrors.InvalidRequest, "session %q not found", id)
	}
	return s, nil
}

// AddSession registers s. If this is the first session ever registered, or
// its name equals the well-known "default" name, it becomes the default.
func (r *Registry) AddSession(s *session.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID()]; ok {
		return toolerrors.Newf(toolerrors.InvalidRequest, "session %q already exists", s.ID())
	}
	r.sessions[s.ID()] = s
	if r.def == "" || s.ID() == defaultSessionName {
		r.def = s.ID()
	}
	return nil
}

// RemoveSession deletes id. The current default session may not be removed
// (spec.md §3.1, "default session non-removable").
func (r *Registry) RemoveSession(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return toolerrors.Newf(toolerrors.InvalidRequest, "session %q not found", id)
	}
	if id == r.def {
		return toolerrors.Newf(toolerrors.InvalidRequest, "cannot remove the default session %q", id)
	}
	delete(r.sessions, id)
	return nil
}

// HasSession reports whether id is registered.
func (r *Registry) HasSession(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[id]
	return ok
}

// SetDefault reassigns the default session to name. Reassignment is
// immediately observable to every caller reading through GetSession(""),
// since GetSession reads r.def under the same lock on every call (spec.md
// §3.1, "reassigning the default is observable to every component reading
// through the registry").
func (r *Registry) SetDefault(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[name]; !ok {
		return toolerrors.Newf(toolerrors.InvalidRequest, "session %q not found", name)
	}
	r.def = name
	return nil
}

// DefaultName returns the current default session's name.
func (r *Registry) DefaultName() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.def
}

// ListSessionNames returns every registered session's name.
func (r *Registry) ListSessionNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.sessions))
	for name := range r.sessions {
		out = append(out, name)
	}
	return out
}

// GetAllSessions returns every registered session.
func (r *Registry) GetAllSessions() []*session.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*session.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}
