// Package relay implements the room message-relay engine: join and leave
// announcements plus content-agnostic fan-out of signaling payloads to room
// members.
package relay

import (
	"log/slog"
	"time"

	"github.com/Raj9229/VeeCall/internal/metrics"
	"github.com/Raj9229/VeeCall/internal/room"
)

// Engine orchestrates room events on top of the membership registry.
//
// It never interprets signaling payloads: offers, answers and ICE candidates
// pass through verbatim apart from the injected sender_id and timestamp.
type Engine struct {
	reg     *room.Registry
	metrics *metrics.Metrics
	log     *slog.Logger

	// now is swappable for deterministic timestamps in tests.
	now func() time.Time
}

func NewEngine(reg *room.Registry, m *metrics.Metrics, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		reg:     reg,
		metrics: m,
		log:     logger,
		now:     time.Now,
	}
}

// Registry exposes the underlying registry for read-only inspection (the HTTP
// room-info endpoint).
func (e *Engine) Registry() *room.Registry { return e.reg }

// Join adds a new peer to roomID and announces it: every existing member
// receives a user-joined event, then the joiner alone receives a room-info
// event carrying its identity and initiator role.
//
// If the room-info delivery fails the peer is disconnected again and the
// error is returned so the caller can abandon the session.
func (e *Engine) Join(roomID string, ch room.Channel) (string, error) {
	id, size, err := e.reg.Join(roomID, ch)
	if err != nil {
		return "", err
	}

	e.metrics.Inc(metrics.PeerJoined)
	if size == 1 {
		e.metrics.Inc(metrics.RoomCreated)
	}
	e.log.Info("peer joined room", "user_id", id, "room_id", roomID, "room_size", size)

	e.Broadcast(roomID, userJoinedEvent{
		Type:     eventUserJoined,
		UserID:   id,
		Message:  joinedMessage,
		RoomSize: size,
	}, id)

	if err := e.sendTo(id, roomInfoEvent{
		Type:        eventRoomInfo,
		RoomID:      roomID,
		UserID:      id,
		RoomSize:    e.reg.RoomSize(roomID),
		IsInitiator: size == 1,
	}); err != nil {
		return id, err
	}

	return id, nil
}

// Disconnect removes the peer from its room, announces the departure to the
// remaining members (if any) and closes the peer's channel.
//
// It is safe to call from every failure path: leave is idempotent, so only
// the first caller announces and closes.
func (e *Engine) Disconnect(id string) {
	m, remaining, ok := e.reg.Leave(id)
	if !ok {
		return
	}

	e.metrics.Inc(metrics.PeerLeft)
	e.log.Info("peer left room", "user_id", id, "room_id", m.RoomID, "room_size", remaining)

	if remaining > 0 {
		e.Broadcast(m.RoomID, userLeftEvent{
			Type:     eventUserLeft,
			UserID:   id,
			Message:  leftMessage,
			RoomSize: remaining,
		}, "")
	} else {
		e.metrics.Inc(metrics.RoomDestroyed)
		e.log.Info("room destroyed", "room_id", m.RoomID)
	}

	_ = m.Channel.Close(0, "")
}

// Relay stamps payload with the sender's identity and a send timestamp and
// fans it out to every other member of the sender's room. The payload's type
// field is passed through unexamined.
//
// A payload from an identity with no member record (already disconnected) is
// dropped with a warning, matching the behavior of a lost race between a
// final inbound message and cleanup.
func (e *Engine) Relay(id string, payload map[string]any) {
	m := e.reg.Member(id)
	if m == nil {
		e.log.Warn("dropping message from unknown peer", "user_id", id)
		return
	}

	payload["sender_id"] = id
	payload["timestamp"] = e.now().UTC().Format(time.RFC3339Nano)

	e.metrics.Inc(metrics.MessageRelayed)
	e.Broadcast(m.RoomID, payload, id)
}

// Broadcast delivers msg to every member of roomID except excludeID (no
// exclusion when empty).
//
// Delivery is two-phase: first attempt delivery to a snapshot of the member
// list, collecting members whose channel failed, then disconnect the failures
// once the pass is complete. The live member list is never mutated while it
// is being delivered to, and one dead peer never blocks delivery to the rest.
func (e *Engine) Broadcast(roomID string, msg any, excludeID string) {
	var failed []string
	for _, id := range e.reg.MembersOf(roomID) {
		if id == excludeID {
			continue
		}
		m := e.reg.Member(id)
		if m == nil {
			// Removed by a concurrent disconnect after the snapshot.
			continue
		}
		if err := m.Channel.Send(msg); err != nil {
			e.log.Error("broadcast delivery failed", "user_id", id, "room_id", roomID, "err", err)
			failed = append(failed, id)
		}
	}

	for _, id := range failed {
		e.metrics.Inc(metrics.SendFailure)
		e.Disconnect(id)
	}
}

func (e *Engine) sendTo(id string, msg any) error {
	m := e.reg.Member(id)
	if m == nil {
		return nil
	}
	if err := m.Channel.Send(msg); err != nil {
		e.log.Error("send failed", "user_id", id, "err", err)
		e.metrics.Inc(metrics.SendFailure)
		e.Disconnect(id)
		return err
	}
	return nil
}
