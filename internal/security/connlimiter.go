package security

import (
	"errors"
	"sync"
)

var (
	ErrGlobalLimit      = errors.New("global connection limit reached")
	ErrAddressLimit     = errors.New("per-address connection limit reached")
	ErrDuplicateSession = errors.New("session already registered")
)

// ConnectionLimiter is the registry of live sessions. The admission check
// and the insert happen under one lock, so concurrent accepts never push
// either count past its ceiling.
type ConnectionLimiter struct {
	mu         sync.Mutex
	sessions   map[string]map[string]struct{}
	total      int
	maxTotal   int
	maxPerAddr int
}

func NewConnectionLimiter(maxTotal, maxPerAddr int) *ConnectionLimiter {
	return &ConnectionLimiter{
		sessions:   make(map[string]map[string]struct{}),
		maxTotal:   maxTotal,
		maxPerAddr: maxPerAddr,
	}
}

// TryConnect admits session id from addr or reports which ceiling was hit.
// The returned lease must be released with Disconnect when the session ends.
func (cl *ConnectionLimiter) TryConnect(addr, id string) (*Lease, error) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if cl.total >= cl.maxTotal {
		return nil, ErrGlobalLimit
	}

	set := cl.sessions[addr]
	if len(set) >= cl.maxPerAddr {
		return nil, ErrAddressLimit
	}
	if _, ok := set[id]; ok {
		return nil, ErrDuplicateSession
	}

	if set == nil {
		set = make(map[string]struct{})
		cl.sessions[addr] = set
	}
	set[id] = struct{}{}
	cl.total++

	return &Lease{limiter: cl, addr: addr, id: id}, nil
}

func (cl *ConnectionLimiter) release(addr, id string) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	set, ok := cl.sessions[addr]
	if !ok {
		return
	}
	if _, ok := set[id]; !ok {
		return
	}
	delete(set, id)
	cl.total--
	if len(set) == 0 {
		delete(cl.sessions, addr)
	}
}

// Active returns the number of live sessions.
func (cl *ConnectionLimiter) Active() int {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.total
}

// ActiveFrom returns the number of live sessions from addr.
func (cl *ConnectionLimiter) ActiveFrom(addr string) int {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return len(cl.sessions[addr])
}

// Addresses returns the number of addresses with at least one live session.
func (cl *ConnectionLimiter) Addresses() int {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return len(cl.sessions)
}

// Lease is one admitted session's slot in the registry.
type Lease struct {
	limiter *ConnectionLimiter
	addr    string
	id      string
	once    sync.Once
}

func (l *Lease) Addr() string { return l.addr }

func (l *Lease) ID() string { return l.id }

// Disconnect gives the slot back. Only the first call has any effect, so
// racing close and error paths can both call it.
func (l *Lease) Disconnect() {
	l.once.Do(func() {
		l.limiter.release(l.addr, l.id)
	})
}
