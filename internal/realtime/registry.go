package realtime

import (
	"sync"

	"github.com/projectpulse/projectpulse/internal/domain"
)

// Registry is the in-memory subscription index: projectID to connections and
// clientID to connections. A connection appears in a project's set iff the
// project is in the connection's own subscription set; empty sets are deleted
// so dead projects never accumulate entries.
//
// All four operations take the single coarse mutex. They are O(set size) and
// rare relative to message volume.
type Registry struct {
	mu        sync.RWMutex
	byProject map[string]map[*Conn]struct{}
	byClient  map[string]map[*Conn]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		byProject: make(map[string]map[*Conn]struct{}),
		byClient:  make(map[string]map[*Conn]struct{}),
	}
}

// SubscribeProject adds the connection to the project's set. Idempotent; a
// repeated subscribe is a no-op. If clientID is non-empty the connection is
// also subscribed to that client identity.
func (r *Registry) SubscribeProject(c *Conn, projectID, clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.byProject[projectID]
	if !ok {
		conns = make(map[*Conn]struct{})
		r.byProject[projectID] = conns
	}
	conns[c] = struct{}{}
	c.projects[projectID] = struct{}{}

	if clientID != "" {
		r.subscribeClientLocked(c, clientID)
	}
}

// UnsubscribeProject removes the connection from the project's set. Absence
// is a no-op.
func (r *Registry) UnsubscribeProject(c *Conn, projectID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unsubscribeProjectLocked(c, projectID)
}

// SubscribeClient associates the connection with a client identity. A
// connection holds at most one client identity; a second subscribe moves it.
func (r *Registry) SubscribeClient(c *Conn, clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribeClientLocked(c, clientID)
}

// RemoveConnection removes the connection from every index it appears in.
// Safe to call for a connection that never subscribed to anything, and safe
// against double invocation.
func (r *Registry) RemoveConnection(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for projectID := range c.projects {
		r.unsubscribeProjectLocked(c, projectID)
	}
	if c.clientID != "" {
		r.removeClientLocked(c, c.clientID)
		c.clientID = ""
	}
}

// ConnectionsForProject returns a snapshot of the project's current members.
func (r *Registry) ConnectionsForProject(projectID string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return snapshot(r.byProject[projectID])
}

// ConnectionsForClient returns a snapshot of the client's current members.
func (r *Registry) ConnectionsForClient(clientID string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return snapshot(r.byClient[clientID])
}

// Stats reports per-key subscriber counts for operational monitoring.
func (r *Registry) Stats() domain.ConnectionStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := domain.ConnectionStats{
		ProjectSubscribers: make(map[string]int, len(r.byProject)),
		ClientSubscribers:  make(map[string]int, len(r.byClient)),
	}
	for projectID, conns := range r.byProject {
		stats.ProjectSubscribers[projectID] = len(conns)
	}
	for clientID, conns := range r.byClient {
		stats.ClientSubscribers[clientID] = len(conns)
	}
	return stats
}

func (r *Registry) subscribeClientLocked(c *Conn, clientID string) {
	if c.clientID == clientID {
		return
	}
	if c.clientID != "" {
		r.removeClientLocked(c, c.clientID)
	}
	conns, ok := r.byClient[clientID]
	if !ok {
		conns = make(map[*Conn]struct{})
		r.byClient[clientID] = conns
	}
	conns[c] = struct{}{}
	c.clientID = clientID
}

func (r *Registry) unsubscribeProjectLocked(c *Conn, projectID string) {
	delete(c.projects, projectID)
	conns, ok := r.byProject[projectID]
	if !ok {
		return
	}
	delete(conns, c)
	if len(conns) == 0 {
		delete(r.byProject, projectID)
	}
}

func (r *Registry) removeClientLocked(c *Conn, clientID string) {
	conns, ok := r.byClient[clientID]
	if !ok {
		return
	}
	delete(conns, c)
	if len(conns) == 0 {
		delete(r.byClient, clientID)
	}
}

func snapshot(set map[*Conn]struct{}) []*Conn {
	if len(set) == 0 {
		return nil
	}
	conns := make([]*Conn, 0, len(set))
	for c := range set {
		conns = append(conns, c)
	}
	return conns
}
