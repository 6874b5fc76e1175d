package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Reenniizz/StartupMatch-sub003/internal/logger"
	"github.com/Reenniizz/StartupMatch-sub003/internal/protocol"
	"github.com/Reenniizz/StartupMatch-sub003/internal/utils"
)

// Options configures a Session. Zero values fall back to the production
// defaults, so tests only set what they exercise.
type Options struct {
	URL       string
	UserID    string
	AuthToken string
	Dialer    Dialer

	HeartbeatInterval  time.Duration
	HeartbeatTimeout   time.Duration
	LatencyThreshold   time.Duration
	SendTimeout        time.Duration
	StaleSendThreshold time.Duration
	TypingRateLimit    time.Duration

	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration
	ReconnectAttempts  int
}

func (o *Options) applyDefaults() {
	if o.Dialer == nil {
		o.Dialer = DialWebsocket
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 30 * time.Second
	}
	if o.HeartbeatTimeout <= 0 {
		o.HeartbeatTimeout = 10 * time.Second
	}
	if o.LatencyThreshold <= 0 {
		o.LatencyThreshold = time.Second
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = 15 * time.Second
	}
	if o.StaleSendThreshold <= 0 {
		o.StaleSendThreshold = 30 * time.Second
	}
	if o.TypingRateLimit <= 0 {
		o.TypingRateLimit = time.Second
	}
}

type sendResult struct {
	tempID string
	err    error
}

type command struct {
	connect   chan error
	send      *sendRequest
	retry     *retryRequest
	join      *joinRequest
	leave     *leaveRequest
	typing    *typingRequest
	state     chan State
	closeDone chan struct{}
}

type sendRequest struct {
	roomID string
	body   string
	reply  chan sendResult
}

type retryRequest struct {
	tempID string
	reply  chan error
}

type joinRequest struct {
	roomID string
	kind   protocol.RoomKind
	reply  chan error
}

type leaveRequest struct {
	roomID string
	reply  chan error
}

type typingRequest struct {
	roomID string
	start  bool
	reply  chan error
}

type dialResult struct {
	gen          int
	transport    Transport
	transportID  string
	err          error
	authRejected bool
}

type inboundEvent struct {
	gen int
	env protocol.Envelope
	err error
}

// Session is the client session manager. All mutable state is owned by the
// run loop; public methods post commands and wait for replies, so callers
// never race each other or the transport.
type Session struct {
	opts Options
	hub  *eventHub
	cmds chan command
	done chan struct{}

	// Everything below is touched only from the run loop.
	state       State
	transport   Transport
	transportID string
	gen         int

	correlator  *Correlator
	rooms       *roomSet
	monitor     *HeartbeatMonitor
	recon       *reconnector
	typingLast  map[string]time.Time
	joinWaiters map[string]chan error
	connWaiters []chan error

	dialc    chan dialResult
	inboundc chan inboundEvent

	dialCancel   context.CancelFunc
	awaitingPong bool
	pingSentAt   time.Time
	pongC        <-chan time.Time
	reconnectC   <-chan time.Time
}

// New builds a Session and starts its run loop. The session stays idle until
// Connect is called.
func New(opts Options) *Session {
	opts.applyDefaults()
	s := &Session{
		opts:        opts,
		hub:         newEventHub(64),
		cmds:        make(chan command),
		done:        make(chan struct{}),
		state:       StateIdle,
		correlator:  NewCorrelator(),
		rooms:       newRoomSet(),
		monitor:     NewHeartbeatMonitor(opts.LatencyThreshold),
		recon:       newReconnector(opts.ReconnectBaseDelay, opts.ReconnectMaxDelay, opts.ReconnectAttempts),
		typingLast:  make(map[string]time.Time),
		joinWaiters: make(map[string]chan error),
		dialc:       make(chan dialResult, 1),
		inboundc:    make(chan inboundEvent, 32),
	}
	go s.run()
	return s
}

// Events subscribes to the session's event stream. The cancel func closes
// the returned channel.
func (s *Session) Events() (<-chan Event, func()) {
	return s.hub.subscribe()
}

// State reports the current lifecycle state.
func (s *Session) State() State {
	reply := make(chan State, 1)
	select {
	case s.cmds <- command{state: reply}:
		return <-reply
	case <-s.done:
		return StateClosed
	}
}

// Connect starts the handshake and blocks until the session is connected or
// has failed for good. Calling it on an already connected session returns nil.
func (s *Session) Connect(ctx context.Context) error {
	reply := make(chan error, 1)
	select {
	case s.cmds <- command{connect: reply}:
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendMessage writes one message and returns the temp id to correlate the
// eventual MessageResolved event. It fails fast when not connected; nothing
// is queued and no pending entry is created.
func (s *Session) SendMessage(roomID, body string) (string, error) {
	reply := make(chan sendResult, 1)
	select {
	case s.cmds <- command{send: &sendRequest{roomID: roomID, body: body, reply: reply}}:
	case <-s.done:
		return "", ErrSessionClosed
	}
	res := <-reply
	return res.tempID, res.err
}

// RetrySend rewrites a failed message under its original temp id.
func (s *Session) RetrySend(tempID string) error {
	reply := make(chan error, 1)
	select {
	case s.cmds <- command{retry: &retryRequest{tempID: tempID, reply: reply}}:
	case <-s.done:
		return ErrSessionClosed
	}
	return <-reply
}

// JoinUser joins the personal room, which doubles as the presence
// subscription. The server answers with the full online snapshot.
func (s *Session) JoinUser(ctx context.Context) error {
	return s.JoinRoom(ctx, s.opts.UserID, protocol.RoomPersonal)
}

// JoinRoom records the membership intent and, when connected, performs the
// join. A room already joined is a silent success. The intent survives
// reconnects: memberships are replayed before new commands are served.
func (s *Session) JoinRoom(ctx context.Context, roomID string, kind protocol.RoomKind) error {
	reply := make(chan error, 1)
	select {
	case s.cmds <- command{join: &joinRequest{roomID: roomID, kind: kind, reply: reply}}:
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LeaveRoom drops the membership intent and notifies the server if connected.
func (s *Session) LeaveRoom(roomID string) error {
	reply := make(chan error, 1)
	select {
	case s.cmds <- command{leave: &leaveRequest{roomID: roomID, reply: reply}}:
	case <-s.done:
		return ErrSessionClosed
	}
	return <-reply
}

// StartTyping signals typing in a room, at most once per rate-limit window.
// Suppressed repeats are a silent success.
func (s *Session) StartTyping(roomID string) error {
	return s.typing(roomID, true)
}

// StopTyping clears the typing signal and the rate-limit window.
func (s *Session) StopTyping(roomID string) error {
	return s.typing(roomID, false)
}

func (s *Session) typing(roomID string, start bool) error {
	reply := make(chan error, 1)
	select {
	case s.cmds <- command{typing: &typingRequest{roomID: roomID, start: start, reply: reply}}:
	case <-s.done:
		return ErrSessionClosed
	}
	return <-reply
}

// Close shuts the session down for good: the transport is closed, every
// pending send is failed and all event subscribers are released.
func (s *Session) Close() error {
	reply := make(chan struct{})
	select {
	case s.cmds <- command{closeDone: reply}:
		<-reply
	case <-s.done:
	}
	return nil
}

func (s *Session) run() {
	heartbeat := time.NewTicker(s.opts.HeartbeatInterval)
	defer heartbeat.Stop()
	sweep := time.NewTicker(sweepEvery(s.opts.SendTimeout))
	defer sweep.Stop()

	for {
		select {
		case cmd := <-s.cmds:
			if cmd.closeDone != nil {
				s.shutdown()
				close(cmd.closeDone)
				close(s.done)
				return
			}
			s.handleCommand(cmd)

		case res := <-s.dialc:
			s.handleDialResult(res)

		case in := <-s.inboundc:
			if in.gen != s.gen {
				continue // stale transport
			}
			if in.err != nil {
				logger.DebugF("Transport read failed: %v", in.err)
				s.transportLost()
				continue
			}
			s.handleInbound(in.env)

		case <-heartbeat.C:
			s.sendPing()

		case <-s.pongC:
			s.pongTimedOut()

		case <-s.reconnectC:
			s.reconnectC = nil
			if s.state == StateReconnecting {
				s.startDial()
			}

		case now := <-sweep.C:
			for _, tempID := range s.correlator.Sweep(now, s.opts.SendTimeout) {
				s.hub.emit(MessageResolved{TempID: tempID, Err: "send timed out"})
			}
		}
	}
}

func sweepEvery(sendTimeout time.Duration) time.Duration {
	every := sendTimeout / 4
	if every > time.Second {
		every = time.Second
	}
	if every < 10*time.Millisecond {
		every = 10 * time.Millisecond
	}
	return every
}

func (s *Session) handleCommand(cmd command) {
	switch {
	case cmd.connect != nil:
		s.handleConnect(cmd.connect)
	case cmd.send != nil:
		s.handleSend(cmd.send)
	case cmd.retry != nil:
		s.handleRetry(cmd.retry)
	case cmd.join != nil:
		s.handleJoin(cmd.join)
	case cmd.leave != nil:
		s.handleLeave(cmd.leave)
	case cmd.typing != nil:
		s.handleTyping(cmd.typing)
	case cmd.state != nil:
		cmd.state <- s.state
	}
}

func (s *Session) handleConnect(reply chan error) {
	switch s.state {
	case StateConnected:
		reply <- nil
	case StateClosed:
		reply <- ErrSessionClosed
	case StateConnecting, StateReconnecting:
		s.connWaiters = append(s.connWaiters, reply)
	default:
		s.connWaiters = append(s.connWaiters, reply)
		s.setState(StateConnecting)
		s.startDial()
	}
}

func (s *Session) handleSend(req *sendRequest) {
	if s.state == StateClosed {
		req.reply <- sendResult{err: ErrSessionClosed}
		return
	}
	if s.state != StateConnected {
		req.reply <- sendResult{err: ErrNotConnected}
		return
	}
	tempID := uuid.NewString()
	s.correlator.Register(tempID, req.roomID, req.body, time.Now())
	err := s.transport.WriteEvent(protocol.EventSendMessage, protocol.SendMessagePayload{
		RoomID: req.roomID,
		TempID: tempID,
		Body:   req.body,
	})
	if err != nil {
		// Pending stays registered; the stale sweep will fail it if no
		// reconnect delivers the ack.
		req.reply <- sendResult{tempID: tempID, err: nil}
		s.transportLost()
		return
	}
	req.reply <- sendResult{tempID: tempID}
}

func (s *Session) handleRetry(req *retryRequest) {
	if s.state == StateClosed {
		req.reply <- ErrSessionClosed
		return
	}
	if s.state != StateConnected {
		req.reply <- ErrNotConnected
		return
	}
	p, err := s.correlator.Retry(req.tempID, time.Now())
	if err != nil {
		req.reply <- err
		return
	}
	err = s.transport.WriteEvent(protocol.EventSendMessage, protocol.SendMessagePayload{
		RoomID: p.RoomID,
		TempID: p.TempID,
		Body:   p.Body,
	})
	req.reply <- nil
	if err != nil {
		s.transportLost()
	}
}

func (s *Session) handleJoin(req *joinRequest) {
	if s.state == StateClosed {
		req.reply <- ErrSessionClosed
		return
	}
	if !req.kind.Valid() {
		req.reply <- fmt.Errorf("invalid room kind %q", req.kind)
		return
	}
	if !s.rooms.Add(req.roomID, req.kind) {
		req.reply <- nil // already joined
		return
	}
	if s.state != StateConnected {
		// Intent recorded; the join is replayed once connected.
		req.reply <- nil
		return
	}
	if err := s.writeJoin(req.roomID, req.kind); err != nil {
		req.reply <- nil
		s.transportLost()
		return
	}
	s.joinWaiters[req.roomID] = req.reply
}

func (s *Session) handleLeave(req *leaveRequest) {
	if s.state == StateClosed {
		req.reply <- ErrSessionClosed
		return
	}
	s.rooms.Remove(req.roomID)
	if s.state == StateConnected {
		err := s.transport.WriteEvent(protocol.EventLeaveConversation, protocol.JoinPayload{RoomID: req.roomID})
		req.reply <- nil
		if err != nil {
			s.transportLost()
		}
		return
	}
	req.reply <- nil
}

func (s *Session) handleTyping(req *typingRequest) {
	if s.state == StateClosed {
		req.reply <- ErrSessionClosed
		return
	}
	if s.state != StateConnected {
		req.reply <- ErrNotConnected
		return
	}
	now := time.Now()
	if req.start {
		if last, ok := s.typingLast[req.roomID]; ok && now.Sub(last) < s.opts.TypingRateLimit {
			req.reply <- nil // suppressed
			return
		}
		s.typingLast[req.roomID] = now
		err := s.transport.WriteEvent(protocol.EventTypingStart, protocol.TypingPayload{RoomID: req.roomID})
		req.reply <- nil
		if err != nil {
			s.transportLost()
		}
		return
	}
	delete(s.typingLast, req.roomID)
	err := s.transport.WriteEvent(protocol.EventTypingStop, protocol.TypingPayload{RoomID: req.roomID})
	req.reply <- nil
	if err != nil {
		s.transportLost()
	}
}

func (s *Session) writeJoin(roomID string, kind protocol.RoomKind) error {
	eventType := protocol.EventJoinConversation
	if kind == protocol.RoomPersonal {
		eventType = protocol.EventJoinUser
	}
	return s.transport.WriteEvent(eventType, protocol.JoinPayload{RoomID: roomID, RoomKind: kind})
}

// startDial kicks off the handshake on a goroutine so the loop stays
// responsive. The generation tag lets the loop drop results from dials it
// has already given up on.
func (s *Session) startDial() {
	gen := s.gen
	ctx, cancel := context.WithCancel(context.Background())
	s.dialCancel = cancel
	opts := s.opts

	go func() {
		t, err := opts.Dialer(ctx, opts.URL)
		if err != nil {
			s.dialc <- dialResult{gen: gen, err: err}
			return
		}
		err = t.WriteEvent(protocol.EventConnect, protocol.ConnectPayload{
			UserID:    opts.UserID,
			AuthToken: opts.AuthToken,
		})
		if err != nil {
			_ = t.Close()
			s.dialc <- dialResult{gen: gen, err: err}
			return
		}
		env, err := t.ReadEvent()
		if err != nil {
			_ = t.Close()
			s.dialc <- dialResult{gen: gen, err: err}
			return
		}
		switch env.Type {
		case protocol.EventConnectAck:
			var ack protocol.ConnectAckPayload
			if err := env.Bind(&ack); err != nil {
				_ = t.Close()
				s.dialc <- dialResult{gen: gen, err: err}
				return
			}
			s.dialc <- dialResult{gen: gen, transport: t, transportID: ack.TransportID}
		case protocol.EventConnectError:
			var ce protocol.ConnectErrorPayload
			_ = env.Bind(&ce)
			_ = t.Close()
			logger.WarnF("Handshake rejected: %s", ce.Reason)
			s.dialc <- dialResult{gen: gen, err: ErrAuthRejected, authRejected: true}
		default:
			_ = t.Close()
			s.dialc <- dialResult{gen: gen, err: fmt.Errorf("unexpected handshake reply %s", env.Type)}
		}
	}()
}

func (s *Session) handleDialResult(res dialResult) {
	if res.gen != s.gen || (s.state != StateConnecting && s.state != StateReconnecting) {
		if res.transport != nil {
			_ = res.transport.Close()
		}
		return
	}
	if res.err != nil {
		if res.authRejected {
			s.failConnect(ErrAuthRejected)
			return
		}
		logger.DebugF("Dial attempt failed: %v", res.err)
		s.scheduleReconnect()
		return
	}

	s.transport = res.transport
	s.transportID = res.transportID
	s.monitor.Reset()
	s.awaitingPong = false
	s.pongC = nil
	s.recon.markConnected()
	s.setState(StateConnected)
	logger.InfoF("Session connected, transport %s", s.transportID)

	gen := s.gen
	go s.readLoop(gen, res.transport)

	// Memberships replay before any new command runs so the server-side
	// view matches the intent set, the personal room first.
	for _, join := range s.rooms.Replay() {
		if err := s.writeJoin(join.RoomID, join.RoomKind); err != nil {
			s.transportLost()
			return
		}
	}

	for _, tempID := range s.correlator.FailStale(time.Now(), s.opts.StaleSendThreshold) {
		s.hub.emit(MessageResolved{TempID: tempID, Err: "send interrupted by reconnect"})
	}

	for _, waiter := range s.connWaiters {
		waiter <- nil
	}
	s.connWaiters = nil
}

func (s *Session) readLoop(gen int, t Transport) {
	for {
		env, err := t.ReadEvent()
		select {
		case s.inboundc <- inboundEvent{gen: gen, env: env, err: err}:
		case <-s.done:
			return
		}
		if err != nil {
			return
		}
	}
}

func (s *Session) handleInbound(env protocol.Envelope) {
	switch env.Type {
	case protocol.EventMessageAck:
		var ack protocol.MessageAckPayload
		if err := env.Bind(&ack); err != nil {
			logger.WarnF("Bad message-ack payload: %v", err)
			return
		}
		if s.correlator.Resolve(ack.TempID) {
			s.hub.emit(MessageResolved{TempID: ack.TempID, MessageID: ack.MessageID})
		}

	case protocol.EventMessageError:
		var me protocol.MessageErrorPayload
		if err := env.Bind(&me); err != nil {
			return
		}
		if s.correlator.Fail(me.TempID) {
			s.hub.emit(MessageResolved{TempID: me.TempID, Err: me.Reason})
		}

	case protocol.EventNewMessage:
		var nm protocol.NewMessagePayload
		if err := env.Bind(&nm); err != nil {
			return
		}
		s.hub.emit(MessageReceived{
			RoomID:    nm.RoomID,
			MessageID: nm.MessageID,
			SenderID:  nm.SenderID,
			Body:      nm.Body,
			SentAt:    time.UnixMilli(nm.SentAt),
		})

	case protocol.EventJoinSuccess:
		var js protocol.JoinSuccessPayload
		if err := env.Bind(&js); err != nil {
			return
		}
		if waiter, ok := s.joinWaiters[js.RoomID]; ok {
			delete(s.joinWaiters, js.RoomID)
			waiter <- nil
		}

	case protocol.EventJoinError:
		var je protocol.JoinErrorPayload
		if err := env.Bind(&je); err != nil {
			return
		}
		s.rooms.Remove(je.RoomID)
		if waiter, ok := s.joinWaiters[je.RoomID]; ok {
			delete(s.joinWaiters, je.RoomID)
			waiter <- fmt.Errorf("%w: %s", ErrJoinDenied, je.Reason)
		}

	case protocol.EventHeartbeatPing:
		// Unsolicited server ping, echoed back.
		var ping protocol.PingPayload
		if err := env.Bind(&ping); err != nil {
			return
		}
		if s.transport != nil {
			_ = s.transport.WriteEvent(protocol.EventHeartbeatPong, protocol.PongPayload{
				Timestamp:  ping.Timestamp,
				ServerTime: utils.UnixMillis(time.Now()),
			})
		}

	case protocol.EventHeartbeatPong:
		var pong protocol.PongPayload
		if err := env.Bind(&pong); err != nil {
			return
		}
		// Only the pong echoing the outstanding ping counts; a duplicate or
		// stale one must not record a sample or mask a missed heartbeat.
		if !s.awaitingPong || pong.Timestamp != utils.UnixMillis(s.pingSentAt) {
			logger.DebugF("Ignoring stale heartbeat pong (ts %d)", pong.Timestamp)
			return
		}
		s.pongC = nil
		s.awaitingPong = false
		rtt := time.Since(s.pingSentAt)
		s.monitor.RecordPong(rtt)
		s.hub.emit(HealthChanged{Healthy: s.monitor.Healthy(), Latency: rtt})

	case protocol.EventUserTyping:
		var ut protocol.UserTypingPayload
		if err := env.Bind(&ut); err != nil {
			return
		}
		s.hub.emit(TypingChanged{RoomID: ut.RoomID, UserID: ut.UserID, IsTyping: ut.IsTyping})

	case protocol.EventUsersOnline:
		var uo protocol.UsersOnlinePayload
		if err := env.Bind(&uo); err != nil {
			return
		}
		s.hub.emit(PresenceSnapshot{UserIDs: uo.UserIDs})

	case protocol.EventUserOnline, protocol.EventUserOffline:
		var up protocol.UserPresencePayload
		if err := env.Bind(&up); err != nil {
			return
		}
		s.hub.emit(PresenceChanged{UserID: up.UserID, Online: env.Type == protocol.EventUserOnline})

	default:
		logger.DebugF("Ignoring server event %s", env.Type)
	}
}

func (s *Session) sendPing() {
	if s.state != StateConnected || s.awaitingPong {
		return
	}
	now := time.Now()
	err := s.transport.WriteEvent(protocol.EventHeartbeatPing, protocol.PingPayload{
		Timestamp: utils.UnixMillis(now),
	})
	if err != nil {
		s.transportLost()
		return
	}
	s.pingSentAt = now
	s.awaitingPong = true
	s.pongC = time.After(s.opts.HeartbeatTimeout)
}

func (s *Session) pongTimedOut() {
	s.pongC = nil
	if s.state != StateConnected || !s.awaitingPong {
		return
	}
	s.awaitingPong = false
	misses := s.monitor.Miss()
	logger.WarnF("Heartbeat pong missed (%d consecutive)", misses)
	s.hub.emit(HealthChanged{Healthy: s.monitor.Healthy(), Latency: s.monitor.Latest()})
	if misses >= 2 {
		s.transportLost()
	}
}

// transportLost tears the current transport down and moves into the
// reconnecting state. The generation bump discards whatever the old read
// loop still delivers.
func (s *Session) transportLost() {
	if s.state != StateConnected {
		return
	}
	s.gen++
	if s.transport != nil {
		_ = s.transport.Close()
		s.transport = nil
	}
	s.awaitingPong = false
	s.pongC = nil
	s.failJoinWaiters(ErrNotConnected)
	s.scheduleReconnect()
}

func (s *Session) scheduleReconnect() {
	if !s.recon.shouldReconnect() {
		logger.ErrorF("Giving up after %d reconnect attempts", s.recon.attempts())
		s.hub.emit(ConnectionFailed{Attempts: s.recon.attempts()})
		s.failConnect(ErrTooManyAttempts)
		return
	}
	s.setState(StateReconnecting)
	delay := s.recon.nextDelay()
	logger.DebugF("Reconnecting in %v (attempt %d)", delay, s.recon.attempts())
	s.reconnectC = time.After(delay)
}

// failConnect is the terminal failure path: waiters are answered with err
// and the session goes to closed. Only Close releases the loop itself.
func (s *Session) failConnect(err error) {
	for _, waiter := range s.connWaiters {
		waiter <- err
	}
	s.connWaiters = nil
	s.failJoinWaiters(err)
	s.setState(StateClosed)
}

func (s *Session) failJoinWaiters(err error) {
	for roomID, waiter := range s.joinWaiters {
		delete(s.joinWaiters, roomID)
		waiter <- err
	}
}

func (s *Session) shutdown() {
	if s.dialCancel != nil {
		s.dialCancel()
	}
	s.gen++
	if s.transport != nil {
		_ = s.transport.Close()
		s.transport = nil
	}
	for _, tempID := range s.correlator.FailAll() {
		s.hub.emit(MessageResolved{TempID: tempID, Err: "session closed"})
	}
	for _, waiter := range s.connWaiters {
		waiter <- ErrSessionClosed
	}
	s.connWaiters = nil
	s.failJoinWaiters(ErrSessionClosed)
	if s.state != StateClosed {
		s.setState(StateClosed)
	}
	s.hub.closeAll()
	logger.Info("Session closed")
}

func (s *Session) setState(next State) {
	if s.state == next {
		return
	}
	logger.DebugF("Session state %s -> %s", s.state, next)
	s.state = next
	s.hub.emit(StateChanged{State: next})
}
