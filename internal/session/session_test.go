package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/Reenniizz/StartupMatch-sub003/internal/protocol"
)

// fakeTransport is an in-memory duplex pipe. The test plays the server side
// by reading client writes from out and pushing server events into in.
type fakeTransport struct {
	in     chan protocol.Envelope
	out    chan protocol.Envelope
	closed chan struct{}
	once   sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		in:     make(chan protocol.Envelope, 32),
		out:    make(chan protocol.Envelope, 32),
		closed: make(chan struct{}),
	}
}

func (ft *fakeTransport) WriteEvent(eventType protocol.EventType, payload any) error {
	data, err := protocol.Encode(eventType, payload)
	if err != nil {
		return err
	}
	env, err := protocol.Decode(data)
	if err != nil {
		return err
	}
	select {
	case ft.out <- env:
		return nil
	case <-ft.closed:
		return io.ErrClosedPipe
	}
}

func (ft *fakeTransport) ReadEvent() (protocol.Envelope, error) {
	select {
	case env := <-ft.in:
		return env, nil
	case <-ft.closed:
		return protocol.Envelope{}, io.EOF
	}
}

func (ft *fakeTransport) Close() error {
	ft.once.Do(func() { close(ft.closed) })
	return nil
}

// serverSend pushes one event to the client, dropping it if the transport
// already closed.
func (ft *fakeTransport) serverSend(eventType protocol.EventType, payload any) {
	data, err := protocol.Encode(eventType, payload)
	if err != nil {
		return
	}
	env, err := protocol.Decode(data)
	if err != nil {
		return
	}
	select {
	case ft.in <- env:
	case <-ft.closed:
	}
}

// next returns the next event the client wrote, failing the test on timeout.
func (ft *fakeTransport) next(t *testing.T) protocol.Envelope {
	t.Helper()
	select {
	case env := <-ft.out:
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a client event")
	}
	return protocol.Envelope{}
}

// expect reads the next client event and asserts its type.
func (ft *fakeTransport) expect(t *testing.T, eventType protocol.EventType) protocol.Envelope {
	t.Helper()
	env := ft.next(t)
	if env.Type != eventType {
		t.Fatalf("expected %s from client, got %s", eventType, env.Type)
	}
	return env
}

// fakeServer hands out fakeTransports and completes handshakes. Accepted
// transports arrive on dials so the test can script the rest.
type fakeServer struct {
	mu         sync.Mutex
	rejectAuth bool
	failDials  int
	dialCount  int
	dials      chan *fakeTransport
}

func newFakeServer() *fakeServer {
	return &fakeServer{dials: make(chan *fakeTransport, 4)}
}

func (s *fakeServer) dial(_ context.Context, _ string) (Transport, error) {
	s.mu.Lock()
	s.dialCount++
	n := s.dialCount
	if s.failDials > 0 {
		s.failDials--
		s.mu.Unlock()
		return nil, errors.New("dial refused")
	}
	reject := s.rejectAuth
	s.mu.Unlock()

	ft := newFakeTransport()
	go func() {
		select {
		case env := <-ft.out:
			if env.Type != protocol.EventConnect {
				_ = ft.Close()
				return
			}
			if reject {
				ft.serverSend(protocol.EventConnectError, protocol.ConnectErrorPayload{Reason: "invalid token"})
				return
			}
			ft.serverSend(protocol.EventConnectAck, protocol.ConnectAckPayload{
				TransportID: fmt.Sprintf("transport-%d", n),
				ServerTime:  time.Now().UnixMilli(),
			})
			s.dials <- ft
		case <-ft.closed:
		}
	}()
	return ft, nil
}

// accept waits for the next completed handshake.
func (s *fakeServer) accept(t *testing.T) *fakeTransport {
	t.Helper()
	select {
	case ft := <-s.dials:
		return ft
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a dial")
	}
	return nil
}

// noMoreDials asserts that no reconnect happens within the window.
func (s *fakeServer) noMoreDials(t *testing.T, window time.Duration) {
	t.Helper()
	select {
	case <-s.dials:
		t.Fatal("unexpected reconnect dial")
	case <-time.After(window):
	}
}

func newTestSession(t *testing.T, srv *fakeServer, opts Options) (*Session, <-chan Event) {
	t.Helper()
	opts.URL = "ws://test"
	if opts.UserID == "" {
		opts.UserID = "user-1"
	}
	opts.AuthToken = "token"
	opts.Dialer = srv.dial
	if opts.HeartbeatInterval == 0 {
		// Keep the heartbeat out of tests that do not exercise it.
		opts.HeartbeatInterval = time.Hour
	}
	s := New(opts)
	events, _ := s.Events()
	t.Cleanup(func() { _ = s.Close() })
	return s, events
}

// waitEvent drains the stream until an event of type T shows up.
func waitEvent[T Event](t *testing.T, events <-chan Event) T {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatal("event stream closed while waiting")
			}
			if v, match := ev.(T); match {
				return v
			}
		case <-deadline:
			var zero T
			t.Fatalf("timed out waiting for %T", zero)
		}
	}
}

func TestSendBeforeConnectFailsFast(t *testing.T) {
	srv := newFakeServer()
	s, _ := newTestSession(t, srv, Options{})

	tempID, err := s.SendMessage("room-1", "hello")
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if tempID != "" {
		t.Fatal("no temp id should be handed out before connecting")
	}
	if s.State() != StateIdle {
		t.Fatalf("session should stay idle, got %s", s.State())
	}
}

func TestConnectJoinSendResolves(t *testing.T) {
	srv := newFakeServer()
	s, events := newTestSession(t, srv, Options{})

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	ft := srv.accept(t)
	if s.State() != StateConnected {
		t.Fatalf("expected connected, got %s", s.State())
	}

	joinDone := make(chan error, 1)
	go func() { joinDone <- s.JoinUser(context.Background()) }()
	env := ft.expect(t, protocol.EventJoinUser)
	var join protocol.JoinPayload
	if err := env.Bind(&join); err != nil {
		t.Fatalf("bad join payload: %v", err)
	}
	if join.RoomID != "user-1" || join.RoomKind != protocol.RoomPersonal {
		t.Fatalf("unexpected join payload: %+v", join)
	}
	ft.serverSend(protocol.EventJoinSuccess, protocol.JoinSuccessPayload{RoomID: "user-1"})
	ft.serverSend(protocol.EventUsersOnline, protocol.UsersOnlinePayload{UserIDs: []string{"user-1", "user-2"}})
	if err := <-joinDone; err != nil {
		t.Fatalf("join failed: %v", err)
	}

	snapshot := waitEvent[PresenceSnapshot](t, events)
	if len(snapshot.UserIDs) != 2 {
		t.Fatalf("unexpected snapshot: %v", snapshot.UserIDs)
	}

	tempID, err := s.SendMessage("user-1", "hello")
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	sendEnv := ft.expect(t, protocol.EventSendMessage)
	var sent protocol.SendMessagePayload
	if err := sendEnv.Bind(&sent); err != nil {
		t.Fatalf("bad send payload: %v", err)
	}
	if sent.TempID != tempID || sent.Body != "hello" {
		t.Fatalf("unexpected send payload: %+v", sent)
	}

	ft.serverSend(protocol.EventMessageAck, protocol.MessageAckPayload{TempID: tempID, MessageID: "m1"})
	resolved := waitEvent[MessageResolved](t, events)
	if resolved.TempID != tempID || resolved.MessageID != "m1" || resolved.Err != "" {
		t.Fatalf("unexpected resolution: %+v", resolved)
	}
}

func TestDuplicateJoinIsSilentSuccess(t *testing.T) {
	srv := newFakeServer()
	s, _ := newTestSession(t, srv, Options{})
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	ft := srv.accept(t)

	joinDone := make(chan error, 1)
	go func() { joinDone <- s.JoinRoom(context.Background(), "conv-1", protocol.RoomGroup) }()
	ft.expect(t, protocol.EventJoinConversation)
	ft.serverSend(protocol.EventJoinSuccess, protocol.JoinSuccessPayload{RoomID: "conv-1"})
	if err := <-joinDone; err != nil {
		t.Fatalf("join failed: %v", err)
	}

	// Second join does not touch the wire.
	if err := s.JoinRoom(context.Background(), "conv-1", protocol.RoomGroup); err != nil {
		t.Fatalf("duplicate join should succeed silently: %v", err)
	}
	select {
	case env := <-ft.out:
		t.Fatalf("duplicate join wrote %s to the wire", env.Type)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestJoinDenied(t *testing.T) {
	srv := newFakeServer()
	s, _ := newTestSession(t, srv, Options{})
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	ft := srv.accept(t)

	joinDone := make(chan error, 1)
	go func() { joinDone <- s.JoinRoom(context.Background(), "conv-x", protocol.RoomGroup) }()
	ft.expect(t, protocol.EventJoinConversation)
	ft.serverSend(protocol.EventJoinError, protocol.JoinErrorPayload{RoomID: "conv-x", Reason: "not a member"})

	err := <-joinDone
	if !errors.Is(err, ErrJoinDenied) {
		t.Fatalf("expected ErrJoinDenied, got %v", err)
	}
}

func TestAuthRejectionIsFatal(t *testing.T) {
	srv := newFakeServer()
	srv.rejectAuth = true
	s, _ := newTestSession(t, srv, Options{ReconnectBaseDelay: 5 * time.Millisecond})

	err := s.Connect(context.Background())
	if !errors.Is(err, ErrAuthRejected) {
		t.Fatalf("expected ErrAuthRejected, got %v", err)
	}
	if s.State() != StateClosed {
		t.Fatalf("auth rejection should close the session, got %s", s.State())
	}
	srv.noMoreDials(t, 100*time.Millisecond)
}

func TestConnectExhaustsAttempts(t *testing.T) {
	srv := newFakeServer()
	srv.failDials = 100
	s, events := newTestSession(t, srv, Options{
		ReconnectBaseDelay: 2 * time.Millisecond,
		ReconnectMaxDelay:  5 * time.Millisecond,
		ReconnectAttempts:  2,
	})

	err := s.Connect(context.Background())
	if !errors.Is(err, ErrTooManyAttempts) {
		t.Fatalf("expected ErrTooManyAttempts, got %v", err)
	}
	failed := waitEvent[ConnectionFailed](t, events)
	if failed.Attempts != 2 {
		t.Fatalf("expected 2 attempts reported, got %d", failed.Attempts)
	}
	if s.State() != StateClosed {
		t.Fatalf("expected closed, got %s", s.State())
	}
}

func TestReconnectReplaysRoomsPersonalFirst(t *testing.T) {
	srv := newFakeServer()
	s, events := newTestSession(t, srv, Options{
		ReconnectBaseDelay: 5 * time.Millisecond,
	})
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	ft1 := srv.accept(t)

	joinDone := make(chan error, 2)
	go func() { joinDone <- s.JoinRoom(context.Background(), "conv-1", protocol.RoomGroup) }()
	ft1.expect(t, protocol.EventJoinConversation)
	ft1.serverSend(protocol.EventJoinSuccess, protocol.JoinSuccessPayload{RoomID: "conv-1"})
	if err := <-joinDone; err != nil {
		t.Fatalf("join failed: %v", err)
	}
	go func() { joinDone <- s.JoinUser(context.Background()) }()
	ft1.expect(t, protocol.EventJoinUser)
	ft1.serverSend(protocol.EventJoinSuccess, protocol.JoinSuccessPayload{RoomID: "user-1"})
	if err := <-joinDone; err != nil {
		t.Fatalf("join failed: %v", err)
	}

	// Server drops the connection.
	_ = ft1.Close()
	ft2 := srv.accept(t)

	// Memberships replay before anything else, the personal room first.
	replay1 := ft2.next(t)
	if replay1.Type != protocol.EventJoinUser {
		t.Fatalf("expected personal room replayed first, got %s", replay1.Type)
	}
	replay2 := ft2.expect(t, protocol.EventJoinConversation)
	var join protocol.JoinPayload
	if err := replay2.Bind(&join); err != nil {
		t.Fatalf("bad replay payload: %v", err)
	}
	if join.RoomID != "conv-1" {
		t.Fatalf("unexpected replayed room %q", join.RoomID)
	}

	// Reconnecting and connected transitions were both reported.
	for {
		st := waitEvent[StateChanged](t, events)
		if st.State == StateReconnecting {
			break
		}
	}
	st := waitEvent[StateChanged](t, events)
	if st.State != StateConnected {
		t.Fatalf("expected connected after reconnect, got %s", st.State)
	}
}

func TestStalePendingFailedAfterReconnect(t *testing.T) {
	srv := newFakeServer()
	s, events := newTestSession(t, srv, Options{
		ReconnectBaseDelay: 5 * time.Millisecond,
		SendTimeout:        10 * time.Second,
		StaleSendThreshold: 30 * time.Millisecond,
	})
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	ft1 := srv.accept(t)

	tempID, err := s.SendMessage("conv-1", "lost in transit")
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	ft1.expect(t, protocol.EventSendMessage)

	// The ack never arrives; the transport dies with the message in flight.
	time.Sleep(50 * time.Millisecond)
	_ = ft1.Close()
	srv.accept(t)

	resolved := waitEvent[MessageResolved](t, events)
	if resolved.TempID != tempID || resolved.Err == "" {
		t.Fatalf("expected the stale send to fail, got %+v", resolved)
	}
}

func TestSendTimeoutResolvesExactlyOnce(t *testing.T) {
	srv := newFakeServer()
	s, events := newTestSession(t, srv, Options{
		SendTimeout: 60 * time.Millisecond,
	})
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	ft := srv.accept(t)

	tempID, err := s.SendMessage("conv-1", "slow server")
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	ft.expect(t, protocol.EventSendMessage)

	resolved := waitEvent[MessageResolved](t, events)
	if resolved.TempID != tempID || resolved.Err == "" {
		t.Fatalf("expected a timeout failure, got %+v", resolved)
	}

	// A late ack must not produce a second terminal event.
	ft.serverSend(protocol.EventMessageAck, protocol.MessageAckPayload{TempID: tempID, MessageID: "m-late"})
	select {
	case ev := <-events:
		if mr, ok := ev.(MessageResolved); ok {
			t.Fatalf("temp id resolved twice: %+v", mr)
		}
	case <-time.After(150 * time.Millisecond):
	}
}

func TestRetryReusesTempID(t *testing.T) {
	srv := newFakeServer()
	s, events := newTestSession(t, srv, Options{})
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	ft := srv.accept(t)

	tempID, err := s.SendMessage("conv-1", "try again")
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	ft.expect(t, protocol.EventSendMessage)
	ft.serverSend(protocol.EventMessageError, protocol.MessageErrorPayload{TempID: tempID, Reason: "storage unavailable"})

	resolved := waitEvent[MessageResolved](t, events)
	if resolved.TempID != tempID || resolved.Err != "storage unavailable" {
		t.Fatalf("unexpected failure event: %+v", resolved)
	}

	if err := s.RetrySend(tempID); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	env := ft.expect(t, protocol.EventSendMessage)
	var sent protocol.SendMessagePayload
	if err := env.Bind(&sent); err != nil {
		t.Fatalf("bad retry payload: %v", err)
	}
	if sent.TempID != tempID || sent.Body != "try again" {
		t.Fatalf("retry must reuse the original temp id and body, got %+v", sent)
	}

	ft.serverSend(protocol.EventMessageAck, protocol.MessageAckPayload{TempID: tempID, MessageID: "m2"})
	acked := waitEvent[MessageResolved](t, events)
	if acked.TempID != tempID || acked.MessageID != "m2" {
		t.Fatalf("unexpected retry resolution: %+v", acked)
	}

	if err := s.RetrySend(tempID); !errors.Is(err, ErrUnknownTempID) {
		t.Fatalf("retry after resolution should report ErrUnknownTempID, got %v", err)
	}
}

func TestTypingRateLimit(t *testing.T) {
	srv := newFakeServer()
	s, _ := newTestSession(t, srv, Options{
		TypingRateLimit: 80 * time.Millisecond,
	})
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	ft := srv.accept(t)

	if err := s.StartTyping("conv-1"); err != nil {
		t.Fatalf("typing failed: %v", err)
	}
	ft.expect(t, protocol.EventTypingStart)

	// Repeats inside the window are suppressed.
	if err := s.StartTyping("conv-1"); err != nil {
		t.Fatalf("suppressed typing should still succeed: %v", err)
	}
	select {
	case env := <-ft.out:
		t.Fatalf("rate-limited typing wrote %s to the wire", env.Type)
	case <-time.After(40 * time.Millisecond):
	}

	// Stop clears the window, so the next start goes out immediately.
	if err := s.StopTyping("conv-1"); err != nil {
		t.Fatalf("stop typing failed: %v", err)
	}
	ft.expect(t, protocol.EventTypingStop)
	if err := s.StartTyping("conv-1"); err != nil {
		t.Fatalf("typing after stop failed: %v", err)
	}
	ft.expect(t, protocol.EventTypingStart)
}

func TestTwoMissedPongsTriggerReconnect(t *testing.T) {
	srv := newFakeServer()
	s, events := newTestSession(t, srv, Options{
		HeartbeatInterval:  30 * time.Millisecond,
		HeartbeatTimeout:   15 * time.Millisecond,
		ReconnectBaseDelay: 5 * time.Millisecond,
	})
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	ft1 := srv.accept(t)

	// Never answer pings; two consecutive misses must tear the transport down.
	go func() {
		for {
			select {
			case <-ft1.out:
			case <-ft1.closed:
				return
			}
		}
	}()

	health := waitEvent[HealthChanged](t, events)
	if health.Healthy {
		// First miss keeps the verdict healthy; wait for the second.
		health = waitEvent[HealthChanged](t, events)
	}
	if health.Healthy {
		t.Fatal("two missed pongs should report unhealthy")
	}

	srv.accept(t) // reconnect happened
}

func TestStalePongDoesNotMaskMissedHeartbeats(t *testing.T) {
	srv := newFakeServer()
	s, events := newTestSession(t, srv, Options{
		HeartbeatInterval:  30 * time.Millisecond,
		HeartbeatTimeout:   15 * time.Millisecond,
		ReconnectBaseDelay: 5 * time.Millisecond,
	})
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	ft := srv.accept(t)

	// Answer every ping, but with a timestamp that echoes nothing we sent.
	// These pongs must be ignored, so the misses still add up.
	go func() {
		for {
			select {
			case env := <-ft.out:
				if env.Type != protocol.EventHeartbeatPing {
					continue
				}
				ft.serverSend(protocol.EventHeartbeatPong, protocol.PongPayload{
					Timestamp:  1,
					ServerTime: time.Now().UnixMilli(),
				})
			case <-ft.closed:
				return
			}
		}
	}()

	health := waitEvent[HealthChanged](t, events)
	if health.Healthy {
		health = waitEvent[HealthChanged](t, events)
	}
	if health.Healthy {
		t.Fatal("stale pongs must not keep the session healthy")
	}

	srv.accept(t) // the reconnect still happened
}

func TestSingleMissedPongStaysConnected(t *testing.T) {
	srv := newFakeServer()
	s, _ := newTestSession(t, srv, Options{
		HeartbeatInterval:  30 * time.Millisecond,
		HeartbeatTimeout:   15 * time.Millisecond,
		ReconnectBaseDelay: 5 * time.Millisecond,
	})
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	ft := srv.accept(t)

	// Swallow the first ping, answer every later one.
	go func() {
		skipped := false
		for {
			select {
			case env := <-ft.out:
				if env.Type != protocol.EventHeartbeatPing {
					continue
				}
				if !skipped {
					skipped = true
					continue
				}
				var ping protocol.PingPayload
				if err := env.Bind(&ping); err != nil {
					continue
				}
				ft.serverSend(protocol.EventHeartbeatPong, protocol.PongPayload{
					Timestamp:  ping.Timestamp,
					ServerTime: time.Now().UnixMilli(),
				})
			case <-ft.closed:
				return
			}
		}
	}()

	srv.noMoreDials(t, 250*time.Millisecond)
	if s.State() != StateConnected {
		t.Fatalf("one missed pong should not disconnect, got %s", s.State())
	}
}

func TestCloseFailsAllPending(t *testing.T) {
	srv := newFakeServer()
	s, events := newTestSession(t, srv, Options{
		SendTimeout: 10 * time.Second,
	})
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	ft := srv.accept(t)

	tempID, err := s.SendMessage("conv-1", "never acked")
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	ft.expect(t, protocol.EventSendMessage)

	if err := s.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	resolved := waitEvent[MessageResolved](t, events)
	if resolved.TempID != tempID || resolved.Err == "" {
		t.Fatalf("close should fail the pending send, got %+v", resolved)
	}

	if _, err := s.SendMessage("conv-1", "after close"); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
}
