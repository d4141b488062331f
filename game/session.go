package game

import (
	"context"
	"sync"
	"time"

	"github.com/saeki-dev/anifight/model"
)

// conn is what the coordinator remembers about one live connection.
type conn struct {
	roomCode        string
	role            model.Role
	cancelHeartbeat context.CancelFunc
}

// registry tracks live connections by session uid and the pending
// disconnect-grace timers by room and role. Timers are keyed per role, not
// per connection, so a reconnecting client always cancels the timer its
// previous connection armed.
type registry struct {
	mu     sync.Mutex
	conns  map[string]*conn
	timers map[string]*time.Timer
}

func newRegistry() *registry {
	return &registry{
		conns:  make(map[string]*conn),
		timers: make(map[string]*time.Timer),
	}
}

func (r *registry) bind(uid string, c *conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[uid] = c
}

func (r *registry) get(uid string) (*conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[uid]
	return c, ok
}

// remove detaches a connection and stops its heartbeat. It returns the
// removed conn so teardown can continue with its room and role.
func (r *registry) remove(uid string) (*conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[uid]
	if !ok {
		return nil, false
	}
	delete(r.conns, uid)
	if c.cancelHeartbeat != nil {
		c.cancelHeartbeat()
	}
	return c, true
}

func graceKey(roomCode string, role model.Role) string {
	return roomCode + "/" + string(role)
}

// armGrace schedules fn after the grace period, replacing any timer already
// pending for the same room and role.
func (r *registry) armGrace(roomCode string, role model.Role, d time.Duration, fn func()) {
	key := graceKey(roomCode, role)
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.timers[key]; ok {
		t.Stop()
	}
	r.timers[key] = time.AfterFunc(d, func() {
		r.mu.Lock()
		delete(r.timers, key)
		r.mu.Unlock()
		fn()
	})
}

func (r *registry) cancelGrace(roomCode string, role model.Role) {
	key := graceKey(roomCode, role)
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.timers[key]; ok {
		t.Stop()
		delete(r.timers, key)
	}
}
