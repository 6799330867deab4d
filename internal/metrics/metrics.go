package metrics

import "sync"

// Signaling event counters.
const (
	PeerJoined     = "peer_joined"
	PeerLeft       = "peer_left"
	RoomCreated    = "room_created"
	RoomDestroyed  = "room_destroyed"
	MessageRelayed = "message_relayed"

	// SendFailure counts broadcast deliveries that failed because the member's
	// channel was dead; each failure also removes that member from its room.
	SendFailure = "send_failure"

	BadMessage          = "bad_message"
	IdleTimeout         = "idle_timeout"
	InvalidRoomRejected = "invalid_room_rejected"
	RateLimited         = "rate_limited"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// The server may eventually plug into a richer metrics backend; this type
// keeps the relay logic testable and feeds the Prometheus text handler.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
