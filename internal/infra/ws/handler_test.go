package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/deepmindneural/escuchodromo-sub002/internal/domain"
	"github.com/deepmindneural/escuchodromo-sub002/internal/domain/model"
	"github.com/deepmindneural/escuchodromo-sub002/internal/domain/ports/adapter"
	"github.com/deepmindneural/escuchodromo-sub002/internal/realtime"
	"github.com/deepmindneural/escuchodromo-sub002/internal/usecase"
)

// --- test doubles ---

type pipelineCall struct {
	Room    string
	Author  usecase.Author
	Content string
}

// fakePipeline records inbound calls and, when wired with a broadcaster,
// emits the human message the way the real pipeline does.
type fakePipeline struct {
	mu      sync.Mutex
	calls   []pipelineCall
	receipt *usecase.SendReceipt
	err     error
	bcast   usecase.Broadcaster
}

func (f *fakePipeline) HandleInbound(ctx context.Context, roomKey string, author usecase.Author, content string) (*usecase.SendReceipt, error) {
	f.mu.Lock()
	f.calls = append(f.calls, pipelineCall{Room: roomKey, Author: author, Content: content})
	f.mu.Unlock()
	if f.bcast != nil && f.err == nil {
		msg := model.NewHumanMessage(roomKey, author.UserID, author.SessionToken, content)
		f.bcast.BroadcastMessage(roomKey, msg, "")
	}
	return f.receipt, f.err
}

func (f *fakePipeline) recorded() []pipelineCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]pipelineCall, len(f.calls))
	copy(out, f.calls)
	return out
}

type fakeVerifier struct {
	identities map[string]adapter.Identity
}

func (f *fakeVerifier) Verify(_ context.Context, credential string) (adapter.Identity, error) {
	id, ok := f.identities[credential]
	if !ok {
		return adapter.Identity{}, domain.ErrInvalidCredential
	}
	return id, nil
}

// --- harness ---

type wsHarness struct {
	srv      *httptest.Server
	reg      *realtime.Registry
	pipeline *fakePipeline
}

func newWSHarness(t *testing.T, verifier adapter.CredentialVerifier) *wsHarness {
	t.Helper()
	logger := zerolog.Nop()
	reg := realtime.NewRegistry(&logger)
	pipeline := &fakePipeline{
		receipt: &usecase.SendReceipt{Status: usecase.StatusDelivered, MessageID: "m1", Remaining: 19},
		bcast:   realtime.NewBroadcaster(reg, &logger),
	}
	h := NewHandler(reg, pipeline, verifier, nil, nil, nil, nil, 0, &logger)

	r := chi.NewRouter()
	h.RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &wsHarness{srv: srv, reg: reg, pipeline: pipeline}
}

func (h *wsHarness) dial(t *testing.T, sessionToken string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws"
	if sessionToken != "" {
		url += "?session=" + sessionToken
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

type outboundEvent struct {
	Type      string          `json:"type"`
	Room      string          `json:"room,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

func readEvent(t *testing.T, conn *websocket.Conn) outboundEvent {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var ev outboundEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	return ev
}

func expectEvent(t *testing.T, conn *websocket.Conn, wantType string) outboundEvent {
	t.Helper()
	ev := readEvent(t, conn)
	if ev.Type != wantType {
		t.Fatalf("event type = %q, want %q (data: %s)", ev.Type, wantType, ev.Data)
	}
	return ev
}

// --- tests ---

func TestHandlerMintsSessionTokenOnConnect(t *testing.T) {
	h := newWSHarness(t, &fakeVerifier{})
	conn := h.dial(t, "")

	ev := expectEvent(t, conn, eventSession)
	var data map[string]string
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		t.Fatalf("decode session data: %v", err)
	}
	if data["sessionToken"] == "" {
		t.Fatal("expected a minted session token")
	}
}

func TestHandlerEchoesPresentedSessionToken(t *testing.T) {
	h := newWSHarness(t, &fakeVerifier{})
	conn := h.dial(t, "tok-visitor-7")

	ev := expectEvent(t, conn, eventSession)
	var data map[string]string
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		t.Fatalf("decode session data: %v", err)
	}
	if got := data["sessionToken"]; got != "tok-visitor-7" {
		t.Fatalf("sessionToken = %q, want tok-visitor-7", got)
	}
}

func TestHandlerJoinAndMessageFlow(t *testing.T) {
	h := newWSHarness(t, &fakeVerifier{})
	conn := h.dial(t, "tok-a")
	expectEvent(t, conn, eventSession)

	if err := conn.WriteJSON(InboundEvent{Type: inboundJoin, Room: "room-1"}); err != nil {
		t.Fatalf("write join: %v", err)
	}
	joined := expectEvent(t, conn, eventJoined)
	if joined.Room != "room-1" {
		t.Fatalf("joined room = %q, want room-1", joined.Room)
	}

	if err := conn.WriteJSON(InboundEvent{Type: inboundMessage, Room: "room-1", Content: "hola"}); err != nil {
		t.Fatalf("write message: %v", err)
	}

	// The joined sender receives both the fan-out and the ack. Order between
	// the two is not fixed: the broadcast and the ack come from different
	// queue writes.
	var sawCreated, sawAck bool
	for i := 0; i < 2; i++ {
		ev := readEvent(t, conn)
		switch ev.Type {
		case realtime.EventMessageCreated:
			sawCreated = true
		case eventAck:
			sawAck = true
			var receipt usecase.SendReceipt
			if err := json.Unmarshal(ev.Data, &receipt); err != nil {
				t.Fatalf("decode receipt: %v", err)
			}
			if receipt.Status != usecase.StatusDelivered {
				t.Fatalf("receipt status = %q, want delivered", receipt.Status)
			}
			if receipt.Remaining != 19 {
				t.Fatalf("receipt remaining = %d, want 19", receipt.Remaining)
			}
		default:
			t.Fatalf("unexpected event %q", ev.Type)
		}
	}
	if !sawCreated || !sawAck {
		t.Fatalf("sawCreated=%v sawAck=%v, want both", sawCreated, sawAck)
	}

	calls := h.pipeline.recorded()
	if len(calls) != 1 {
		t.Fatalf("pipeline calls = %d, want 1", len(calls))
	}
	call := calls[0]
	if call.Room != "room-1" || call.Content != "hola" {
		t.Fatalf("unexpected call %+v", call)
	}
	if call.Author.SessionToken != "tok-a" || call.Author.UserID != "" {
		t.Fatalf("expected anonymous author with tok-a, got %+v", call.Author)
	}
}

func TestHandlerFansOutToRoomMembers(t *testing.T) {
	h := newWSHarness(t, &fakeVerifier{})

	sender := h.dial(t, "tok-sender")
	expectEvent(t, sender, eventSession)
	listener := h.dial(t, "tok-listener")
	expectEvent(t, listener, eventSession)

	for _, conn := range []*websocket.Conn{sender, listener} {
		if err := conn.WriteJSON(InboundEvent{Type: inboundJoin, Room: "room-x"}); err != nil {
			t.Fatalf("write join: %v", err)
		}
		expectEvent(t, conn, eventJoined)
	}

	if err := sender.WriteJSON(InboundEvent{Type: inboundMessage, Room: "room-x", Content: "me siento mejor"}); err != nil {
		t.Fatalf("write message: %v", err)
	}

	ev := expectEvent(t, listener, realtime.EventMessageCreated)
	var msg model.Message
	if err := json.Unmarshal(ev.Data, &msg); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if msg.Content != "me siento mejor" || msg.RoomKey != "room-x" {
		t.Fatalf("unexpected fan-out payload %+v", msg)
	}
}

func TestHandlerAuthenticatedJoinAttachesIdentity(t *testing.T) {
	verifier := &fakeVerifier{identities: map[string]adapter.Identity{
		"good-cred": {UserID: "user-42", Role: "member"},
	}}
	h := newWSHarness(t, verifier)
	conn := h.dial(t, "tok-b")
	expectEvent(t, conn, eventSession)

	if err := conn.WriteJSON(InboundEvent{Type: inboundJoin, Room: "room-1", Credential: "good-cred"}); err != nil {
		t.Fatalf("write join: %v", err)
	}
	expectEvent(t, conn, eventJoined)

	if err := conn.WriteJSON(InboundEvent{Type: inboundMessage, Room: "room-1", Content: "hi"}); err != nil {
		t.Fatalf("write message: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		calls := h.pipeline.recorded()
		if len(calls) == 1 {
			if calls[0].Author.UserID != "user-42" {
				t.Fatalf("author = %+v, want user-42", calls[0].Author)
			}
			if calls[0].Author.Anonymous() {
				t.Fatal("authenticated author reported anonymous")
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("pipeline never called")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHandlerRejectsBadCredentialButKeepsConnection(t *testing.T) {
	h := newWSHarness(t, &fakeVerifier{})
	conn := h.dial(t, "tok-c")
	expectEvent(t, conn, eventSession)

	if err := conn.WriteJSON(InboundEvent{Type: inboundJoin, Room: "room-1", Credential: "forged"}); err != nil {
		t.Fatalf("write join: %v", err)
	}
	ev := expectEvent(t, conn, eventError)
	var ed errorData
	if err := json.Unmarshal(ev.Data, &ed); err != nil {
		t.Fatalf("decode error data: %v", err)
	}
	if ed.Code != codeInvalidCredential {
		t.Fatalf("error code = %q, want %q", ed.Code, codeInvalidCredential)
	}

	// Connection survives: an anonymous retry on the same socket succeeds.
	if err := conn.WriteJSON(InboundEvent{Type: inboundJoin, Room: "room-1"}); err != nil {
		t.Fatalf("write retry join: %v", err)
	}
	expectEvent(t, conn, eventJoined)
}

func TestHandlerRejectsUnknownEventType(t *testing.T) {
	h := newWSHarness(t, &fakeVerifier{})
	conn := h.dial(t, "tok-d")
	expectEvent(t, conn, eventSession)

	if err := conn.WriteJSON(InboundEvent{Type: "subscribe", Room: "room-1"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	ev := expectEvent(t, conn, eventError)
	var ed errorData
	if err := json.Unmarshal(ev.Data, &ed); err != nil {
		t.Fatalf("decode error data: %v", err)
	}
	if ed.Code != codeBadEvent {
		t.Fatalf("error code = %q, want %q", ed.Code, codeBadEvent)
	}
}

func TestHandlerUnregistersOnDisconnect(t *testing.T) {
	h := newWSHarness(t, &fakeVerifier{})
	conn := h.dial(t, "tok-e")
	expectEvent(t, conn, eventSession)

	if err := conn.WriteJSON(InboundEvent{Type: inboundJoin, Room: "room-z"}); err != nil {
		t.Fatalf("write join: %v", err)
	}
	expectEvent(t, conn, eventJoined)
	if got := len(h.reg.MembersOf("room-z")); got != 1 {
		t.Fatalf("members before disconnect = %d, want 1", got)
	}

	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for len(h.reg.MembersOf("room-z")) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("room membership not released after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHandlerAcksQuotaExceeded(t *testing.T) {
	h := newWSHarness(t, &fakeVerifier{})
	h.pipeline.receipt = &usecase.SendReceipt{Status: usecase.StatusQuotaExceeded, Remaining: 0}
	h.pipeline.err = domain.ErrQuotaExceeded
	h.pipeline.bcast = nil

	conn := h.dial(t, "tok-f")
	expectEvent(t, conn, eventSession)
	if err := conn.WriteJSON(InboundEvent{Type: inboundJoin, Room: "room-1"}); err != nil {
		t.Fatalf("write join: %v", err)
	}
	expectEvent(t, conn, eventJoined)

	if err := conn.WriteJSON(InboundEvent{Type: inboundMessage, Room: "room-1", Content: "one more"}); err != nil {
		t.Fatalf("write message: %v", err)
	}
	ev := expectEvent(t, conn, eventAck)
	var receipt usecase.SendReceipt
	if err := json.Unmarshal(ev.Data, &receipt); err != nil {
		t.Fatalf("decode receipt: %v", err)
	}
	if receipt.Status != usecase.StatusQuotaExceeded {
		t.Fatalf("receipt status = %q, want quota_exceeded", receipt.Status)
	}
	if receipt.Remaining != 0 {
		t.Fatalf("receipt remaining = %d, want 0", receipt.Remaining)
	}
}

func TestHandlerLeaveStopsFanOut(t *testing.T) {
	h := newWSHarness(t, &fakeVerifier{})

	sender := h.dial(t, "tok-s")
	expectEvent(t, sender, eventSession)
	listener := h.dial(t, "tok-l")
	expectEvent(t, listener, eventSession)

	for _, conn := range []*websocket.Conn{sender, listener} {
		if err := conn.WriteJSON(InboundEvent{Type: inboundJoin, Room: "room-y"}); err != nil {
			t.Fatalf("write join: %v", err)
		}
		expectEvent(t, conn, eventJoined)
	}

	if err := listener.WriteJSON(InboundEvent{Type: inboundLeave, Room: "room-y"}); err != nil {
		t.Fatalf("write leave: %v", err)
	}
	expectEvent(t, listener, eventLeft)

	if err := sender.WriteJSON(InboundEvent{Type: inboundMessage, Room: "room-y", Content: "anyone?"}); err != nil {
		t.Fatalf("write message: %v", err)
	}

	_ = listener.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	var ev outboundEvent
	if err := listener.ReadJSON(&ev); err == nil {
		t.Fatalf("departed member still received %q", ev.Type)
	}
}
