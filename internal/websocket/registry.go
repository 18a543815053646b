package websocket

import (
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

const registryShards = 32

type registryShard struct {
	mu    sync.RWMutex
	users map[string]map[*Connection]struct{}
}

// Registry maps a user ID to the set of that user's live connections. Users are
// spread over independently locked shards so fan-out to one user never waits on
// registrations for another.
type Registry struct {
	shards [registryShards]*registryShard
	total  atomic.Int64
}

func NewRegistry() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i] = &registryShard{users: make(map[string]map[*Connection]struct{})}
	}
	return r
}

func (r *Registry) shardFor(userID string) *registryShard {
	return r.shards[xxhash.Sum64String(userID)%registryShards]
}

// Register adds conn under its user and returns how many connections that user
// now has. A result of 1 means the user just came online.
func (r *Registry) Register(conn *Connection) int {
	s := r.shardFor(conn.userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.users[conn.userID]
	if !ok {
		set = make(map[*Connection]struct{})
		s.users[conn.userID] = set
	}
	if _, dup := set[conn]; !dup {
		set[conn] = struct{}{}
		r.total.Add(1)
	}
	return len(set)
}

// Unregister removes conn. Only the first call for a given conn reports removed;
// remaining is the user's connection count afterwards.
func (r *Registry) Unregister(conn *Connection) (removed bool, remaining int) {
	s := r.shardFor(conn.userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.users[conn.userID]
	if !ok {
		return false, 0
	}
	if _, ok := set[conn]; !ok {
		return false, len(set)
	}
	delete(set, conn)
	r.total.Add(-1)
	if len(set) == 0 {
		delete(s.users, conn.userID)
		return true, 0
	}
	return true, len(set)
}

// ConnectionsFor returns a copy of the user's connections at one instant.
func (r *Registry) ConnectionsFor(userID string) []*Connection {
	s := r.shardFor(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()

	set := s.users[userID]
	if len(set) == 0 {
		return nil
	}
	conns := make([]*Connection, 0, len(set))
	for c := range set {
		conns = append(conns, c)
	}
	return conns
}

func (r *Registry) IsOnline(userID string) bool {
	s := r.shardFor(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users[userID]) > 0
}

// ConnectionCount is the number of live connections held by userID.
func (r *Registry) ConnectionCount(userID string) int {
	s := r.shardFor(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users[userID])
}

// Count is the total number of live connections.
func (r *Registry) Count() int {
	return int(r.total.Load())
}

func (r *Registry) OnlineUsers() []string {
	var users []string
	for _, s := range r.shards {
		s.mu.RLock()
		for id := range s.users {
			users = append(users, id)
		}
		s.mu.RUnlock()
	}
	return users
}

// Snapshot lists every live connection. Each shard is copied under its own lock.
func (r *Registry) Snapshot() []*Connection {
	conns := make([]*Connection, 0, r.Count())
	for _, s := range r.shards {
		s.mu.RLock()
		for _, set := range s.users {
			for c := range set {
				conns = append(conns, c)
			}
		}
		s.mu.RUnlock()
	}
	return conns
}
