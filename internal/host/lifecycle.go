package host

import "sync"

// Lifecycle is the host-side signal surface the agent depends on: instance
// handover control and client bookkeeping. The host otherwise lets an old
// and a new agent instance co-exist until every dependent client closes;
// the agent uses these signals to cut that short.
type Lifecycle interface {
	// SupersedeWaiting asserts that the current instance should take over
	// immediately instead of waiting for the host's default handover delay.
	SupersedeWaiting()

	// WaitingInstance reports whether a newer agent instance is installed
	// and waiting to take over.
	WaitingInstance() bool

	// ActivateWaiting forces the waiting instance to activate now.
	ActivateWaiting()

	// OtherClients returns how many clients other than the given one are
	// currently open.
	OtherClients(clientID string) int
}

// ProcessLifecycle is the in-process Lifecycle used by the daemon. Client
// registration is driven by the HTTP adapter; the waiting-instance flag is
// raised by the module-image watcher and cleared by activation.
type ProcessLifecycle struct {
	mu       sync.Mutex
	clients  map[string]int
	waiting  bool
	activate func()
}

// NewProcessLifecycle returns an empty lifecycle. The activate callback is
// invoked by ActivateWaiting; it may be nil.
func NewProcessLifecycle(activate func()) *ProcessLifecycle {
	return &ProcessLifecycle{
		clients:  make(map[string]int),
		activate: activate,
	}
}

// ClientOpened records an open client connection.
func (l *ProcessLifecycle) ClientOpened(clientID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.clients[clientID]++
}

// ClientClosed records a closed client connection.
func (l *ProcessLifecycle) ClientClosed(clientID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.clients[clientID] <= 1 {
		delete(l.clients, clientID)
		return
	}
	l.clients[clientID]--
}

// MarkWaiting raises the waiting-instance flag (a newer instance has been
// installed).
func (l *ProcessLifecycle) MarkWaiting() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.waiting = true
}

func (l *ProcessLifecycle) SupersedeWaiting() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.waiting = false
}

func (l *ProcessLifecycle) WaitingInstance() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.waiting
}

func (l *ProcessLifecycle) ActivateWaiting() {
	l.mu.Lock()
	activate := l.activate
	l.waiting = false
	l.mu.Unlock()
	if activate != nil {
		activate()
	}
}

func (l *ProcessLifecycle) OtherClients(clientID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(l.clients)
	if _, ok := l.clients[clientID]; ok {
		n--
	}
	return n
}
