package relay

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/Raj9229/VeeCall/internal/metrics"
	"github.com/Raj9229/VeeCall/internal/room"
)

type fakeChannel struct {
	mu     sync.Mutex
	sent   []any
	fail   bool
	closed bool
}

func (c *fakeChannel) Send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("broken pipe")
	}
	c.sent = append(c.sent, v)
	return nil
}

func (c *fakeChannel) Close(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeChannel) messages() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]any, len(c.sent))
	copy(out, c.sent)
	return out
}

func (c *fakeChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func newTestEngine(t *testing.T) (*Engine, *metrics.Metrics) {
	t.Helper()
	m := metrics.New()
	e := NewEngine(room.NewRegistry(), m, slog.New(slog.NewTextHandler(io.Discard, nil)))
	e.now = func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }
	return e, m
}

func TestJoin_FirstPeerIsInitiator(t *testing.T) {
	e, _ := newTestEngine(t)

	ch := &fakeChannel{}
	id, err := e.Join("abc", ch)
	if err != nil {
		t.Fatalf("Join: %v", err)
	}

	msgs := ch.messages()
	if len(msgs) != 1 {
		t.Fatalf("joiner received %d messages, want 1 (room-info only)", len(msgs))
	}
	info, ok := msgs[0].(roomInfoEvent)
	if !ok {
		t.Fatalf("message is %T, want roomInfoEvent", msgs[0])
	}
	if info.Type != eventRoomInfo || info.RoomID != "abc" || info.UserID != id {
		t.Fatalf("room-info=%+v", info)
	}
	if !info.IsInitiator || info.RoomSize != 1 {
		t.Fatalf("room-info=%+v, want is_initiator=true room_size=1", info)
	}
}

func TestJoin_SecondPeerAnnouncedToFirst(t *testing.T) {
	e, _ := newTestEngine(t)

	chX := &fakeChannel{}
	if _, err := e.Join("abc", chX); err != nil {
		t.Fatalf("Join X: %v", err)
	}

	chY := &fakeChannel{}
	idY, err := e.Join("abc", chY)
	if err != nil {
		t.Fatalf("Join Y: %v", err)
	}

	xMsgs := chX.messages()
	if len(xMsgs) != 2 {
		t.Fatalf("X received %d messages, want 2 (room-info, user-joined)", len(xMsgs))
	}
	joined, ok := xMsgs[1].(userJoinedEvent)
	if !ok {
		t.Fatalf("X's second message is %T, want userJoinedEvent", xMsgs[1])
	}
	if joined.UserID != idY || joined.RoomSize != 2 {
		t.Fatalf("user-joined=%+v, want user_id=%s room_size=2", joined, idY)
	}

	yMsgs := chY.messages()
	if len(yMsgs) != 1 {
		t.Fatalf("Y received %d messages, want 1", len(yMsgs))
	}
	info := yMsgs[0].(roomInfoEvent)
	if info.IsInitiator || info.RoomSize != 2 {
		t.Fatalf("Y room-info=%+v, want is_initiator=false room_size=2", info)
	}
}

func TestJoin_RoomInfoDeliveryFailureDisconnects(t *testing.T) {
	e, _ := newTestEngine(t)

	ch := &fakeChannel{fail: true}
	id, err := e.Join("abc", ch)
	if err == nil {
		t.Fatalf("expected error when room-info delivery fails")
	}
	if e.Registry().Member(id) != nil {
		t.Fatalf("peer with dead channel still registered after failed join")
	}
	if !ch.isClosed() {
		t.Fatalf("dead channel was not closed")
	}
	if e.Registry().RoomInfo("abc").Exists {
		t.Fatalf("ghost room left behind by failed join")
	}
}

func TestRelay_StampsAndExcludesSender(t *testing.T) {
	e, _ := newTestEngine(t)

	chX := &fakeChannel{}
	idX, _ := e.Join("abc", chX)
	chY := &fakeChannel{}
	_, _ = e.Join("abc", chY)

	sentBefore := len(chX.messages())

	e.Relay(idX, map[string]any{"type": "offer", "sdp": "v=0"})

	if got := len(chX.messages()); got != sentBefore {
		t.Fatalf("sender received its own relayed message")
	}

	yMsgs := chY.messages()
	last, ok := yMsgs[len(yMsgs)-1].(map[string]any)
	if !ok {
		t.Fatalf("Y's last message is %T, want map payload", yMsgs[len(yMsgs)-1])
	}
	if last["type"] != "offer" || last["sdp"] != "v=0" {
		t.Fatalf("payload fields not relayed verbatim: %v", last)
	}
	if last["sender_id"] != idX {
		t.Fatalf("sender_id=%v, want %s", last["sender_id"], idX)
	}
	ts, _ := last["timestamp"].(string)
	if _, err := time.Parse(time.RFC3339Nano, ts); err != nil {
		t.Fatalf("timestamp %q is not RFC 3339: %v", ts, err)
	}
}

func TestRelay_UnknownSenderIsNoop(t *testing.T) {
	e, m := newTestEngine(t)

	chX := &fakeChannel{}
	_, _ = e.Join("abc", chX)
	before := len(chX.messages())

	e.Relay("ghost", map[string]any{"type": "offer"})

	if got := len(chX.messages()); got != before {
		t.Fatalf("message from unknown sender was delivered")
	}
	if m.Get(metrics.MessageRelayed) != 0 {
		t.Fatalf("relay counter incremented for unknown sender")
	}
}

func TestRelay_OrderingPerReceiver(t *testing.T) {
	e, _ := newTestEngine(t)

	chX := &fakeChannel{}
	idX, _ := e.Join("abc", chX)
	chY := &fakeChannel{}
	_, _ = e.Join("abc", chY)

	e.Relay(idX, map[string]any{"type": "offer", "seq": 1})
	e.Relay(idX, map[string]any{"type": "candidate", "seq": 2})

	yMsgs := chY.messages()
	if len(yMsgs) < 2 {
		t.Fatalf("Y received %d messages, want at least 2", len(yMsgs))
	}
	m1 := yMsgs[len(yMsgs)-2].(map[string]any)
	m2 := yMsgs[len(yMsgs)-1].(map[string]any)
	if m1["seq"] != 1 || m2["seq"] != 2 {
		t.Fatalf("messages out of order: %v then %v", m1["seq"], m2["seq"])
	}
}

func TestBroadcast_FaultIsolationAndCleanup(t *testing.T) {
	e, m := newTestEngine(t)

	chX := &fakeChannel{}
	idX, _ := e.Join("abc", chX)
	chY := &fakeChannel{}
	idY, _ := e.Join("abc", chY)
	chZ := &fakeChannel{}
	idZ, _ := e.Join("abc", chZ)

	chY.mu.Lock()
	chY.fail = true
	chY.mu.Unlock()

	e.Relay(idX, map[string]any{"type": "offer"})

	// Z still got the offer even though Y's channel is broken.
	zMsgs := chZ.messages()
	if _, ok := zMsgs[len(zMsgs)-1].(map[string]any); !ok {
		t.Fatalf("live member Z did not receive the broadcast")
	}

	// Y was removed and closed; X and Z were told.
	if e.Registry().Member(idY) != nil {
		t.Fatalf("dead member Y still registered")
	}
	if !chY.isClosed() {
		t.Fatalf("dead member Y's channel was not closed")
	}
	if m.Get(metrics.SendFailure) == 0 {
		t.Fatalf("send failure not counted")
	}

	want := e.Registry().MembersOf("abc")
	if len(want) != 2 || want[0] != idX || want[1] != idZ {
		t.Fatalf("MembersOf after cleanup=%v, want [%s %s]", want, idX, idZ)
	}

	xMsgs := chX.messages()
	left, ok := xMsgs[len(xMsgs)-1].(userLeftEvent)
	if !ok {
		t.Fatalf("X's last message is %T, want userLeftEvent", xMsgs[len(xMsgs)-1])
	}
	if left.UserID != idY || left.RoomSize != 2 {
		t.Fatalf("user-left=%+v, want user_id=%s room_size=2", left, idY)
	}
}

func TestDisconnect_AnnouncesAndDestroysEmptyRoom(t *testing.T) {
	e, m := newTestEngine(t)

	chX := &fakeChannel{}
	idX, _ := e.Join("abc", chX)
	chY := &fakeChannel{}
	idY, _ := e.Join("abc", chY)

	e.Disconnect(idY)

	xMsgs := chX.messages()
	left, ok := xMsgs[len(xMsgs)-1].(userLeftEvent)
	if !ok || left.UserID != idY || left.RoomSize != 1 {
		t.Fatalf("X's last message=%+v, want user-left for %s with room_size=1", xMsgs[len(xMsgs)-1], idY)
	}
	if !chY.isClosed() {
		t.Fatalf("disconnected peer's channel not closed")
	}

	e.Disconnect(idX)
	if e.Registry().RoomInfo("abc").Exists {
		t.Fatalf("room survived its last member")
	}
	if m.Get(metrics.RoomDestroyed) != 1 {
		t.Fatalf("room_destroyed=%d, want 1", m.Get(metrics.RoomDestroyed))
	}
}

func TestDisconnect_Idempotent(t *testing.T) {
	e, m := newTestEngine(t)

	ch := &fakeChannel{}
	id, _ := e.Join("abc", ch)

	e.Disconnect(id)
	e.Disconnect(id)

	if got := m.Get(metrics.PeerLeft); got != 1 {
		t.Fatalf("peer_left=%d after double disconnect, want 1", got)
	}
}
