package mcp

import "sync"

// SessionRegistry tracks which MCP session each client is reachable on and
// which instances each client is watching. Clients are bound when they pass
// client_id to a tool.
type SessionRegistry struct {
	mu      sync.RWMutex
	clients map[string]string // client -> session
	watches map[string]string // instance -> client
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		clients: make(map[string]string),
		watches: make(map[string]string),
	}
}

// Bind points a client at a session. A reconnecting client replaces its old binding.
func (r *SessionRegistry) Bind(clientID, sessionID string) {
	r.mu.Lock()
	r.clients[clientID] = sessionID
	r.mu.Unlock()
}

func (r *SessionRegistry) SessionOf(clientID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sid, ok := r.clients[clientID]
	return sid, ok
}

// Watch routes lifecycle events of an instance to a client.
func (r *SessionRegistry) Watch(instanceID, clientID string) {
	r.mu.Lock()
	r.watches[instanceID] = clientID
	r.mu.Unlock()
}

func (r *SessionRegistry) Watcher(instanceID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cid, ok := r.watches[instanceID]
	return cid, ok
}

func (r *SessionRegistry) Release(instanceID string) {
	r.mu.Lock()
	delete(r.watches, instanceID)
	r.mu.Unlock()
}

// Drop forgets a disconnected session: every client bound to it is unbound
// and their watches are released.
func (r *SessionRegistry) Drop(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	gone := make(map[string]bool)
	for cid, sid := range r.clients {
		if sid == sessionID {
			gone[cid] = true
			delete(r.clients, cid)
		}
	}
	for inst, cid := range r.watches {
		if gone[cid] {
			delete(r.watches, inst)
		}
	}
}
