package livesync

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
)

// ChannelManager owns the single logical push connection for the process.
// multiple views subscribe to different topics over the same connection.
//
// wire protocol, all JSON text frames:
//
//	client -> server  {"action": "auth", "token": t}
//	client -> server  {"action": "join", "topic": t}
//	client -> server  {"action": "leave", "topic": t}
//	server -> client  {"event": "joined"|"left", "topic": t}
//	server -> client  {"event": name, "topic": t, "data": ...}
//
// an empty text message is a ping in either direction.

const (
	channelActionAuth  = "auth"
	channelActionJoin  = "join"
	channelActionLeave = "leave"

	channelEventJoined = "joined"
	channelEventLeft   = "left"
)

type EventHandler = func(topic string, data json.RawMessage)

type channelFrame struct {
	Action string          `json:"action,omitempty"`
	Event  string          `json:"event,omitempty"`
	Topic  string          `json:"topic,omitempty"`
	Token  string          `json:"token,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

type ChannelSettings struct {
	WsHandshakeTimeout time.Duration
	ReconnectTimeout   time.Duration
	PingTimeout        time.Duration
	WriteTimeout       time.Duration
	ReadTimeout        time.Duration
	JoinTimeout        time.Duration
}

func DefaultChannelSettings() *ChannelSettings {
	return &ChannelSettings{
		WsHandshakeTimeout: 5 * time.Second,
		ReconnectTimeout:   5 * time.Second,
		PingTimeout:        15 * time.Second,
		WriteTimeout:       5 * time.Second,
		ReadTimeout:        60 * time.Second,
		JoinTimeout:        10 * time.Second,
	}
}

type ChannelManager struct {
	ctx    context.Context
	cancel context.CancelFunc

	channelUrl string
	settings   *ChannelSettings
	stats      *StatCollector

	mutex      sync.Mutex
	credential string
	conn       *websocket.Conn
	connDone   chan struct{}
	// in-flight connect attempt shared by concurrent callers
	connecting    chan struct{}
	connectingErr error
	closed        bool
	reconnecting  bool
	// desired subscriptions, re-issued after every reconnect
	topics map[string]bool
	acks   map[string]chan struct{}

	writeMutex sync.Mutex

	handlers map[string]*CallbackList[EventHandler]
}

func NewChannelManagerWithDefaults(ctx context.Context, channelUrl string) *ChannelManager {
	return NewChannelManager(ctx, channelUrl, DefaultChannelSettings(), nil)
}

func NewChannelManager(ctx context.Context, channelUrl string, settings *ChannelSettings, stats *StatCollector) *ChannelManager {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &ChannelManager{
		ctx:        cancelCtx,
		cancel:     cancel,
		channelUrl: channelUrl,
		settings:   settings,
		stats:      stats,
		topics:     map[string]bool{},
		acks:       map[string]chan struct{}{},
		handlers:   map[string]*CallbackList[EventHandler]{},
	}
}

// SetCredential is usually wired via `Attach`
func (self *ChannelManager) SetCredential(credential string) {
	self.mutex.Lock()
	self.credential = credential
	self.mutex.Unlock()
}

// Attach keeps the handshake credential in step with the session.
// the returned func detaches.
func (self *ChannelManager) Attach(session *SessionState) func() {
	return session.AddPropagateCallback(self.SetCredential)
}

// Connect is idempotent: if connected it returns immediately, and a second
// caller during an in-flight attempt awaits that attempt instead of racing
// a parallel dial. a failed connect is returned to the caller; a later call
// retries from scratch.
func (self *ChannelManager) Connect(ctx context.Context) error {
	self.mutex.Lock()
	if self.closed {
		self.mutex.Unlock()
		return fmt.Errorf("channel closed")
	}
	if self.conn != nil {
		self.mutex.Unlock()
		return nil
	}
	if connecting := self.connecting; connecting != nil {
		self.mutex.Unlock()
		select {
		case <-connecting:
		case <-ctx.Done():
			return ctx.Err()
		}
		self.mutex.Lock()
		err := self.connectingErr
		self.mutex.Unlock()
		return err
	}
	connecting := make(chan struct{})
	self.connecting = connecting
	credential := self.credential
	self.mutex.Unlock()

	conn, err := self.dial(ctx, credential)

	self.mutex.Lock()
	self.connecting = nil
	self.connectingErr = err
	if err == nil {
		if self.closed {
			self.mutex.Unlock()
			conn.Close()
			close(connecting)
			return fmt.Errorf("channel closed")
		}
		self.installConnLocked(conn)
	}
	self.mutex.Unlock()
	close(connecting)
	return err
}

func (self *ChannelManager) dial(ctx context.Context, credential string) (*websocket.Conn, error) {
	dialer := &websocket.Dialer{
		HandshakeTimeout: self.settings.WsHandshakeTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, self.channelUrl, nil)
	if err != nil {
		return nil, err
	}

	if credential != "" {
		authBytes, err := json.Marshal(&channelFrame{
			Action: channelActionAuth,
			Token:  credential,
		})
		if err != nil {
			conn.Close()
			return nil, err
		}
		conn.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, authBytes); err != nil {
			conn.Close()
			return nil, err
		}
	}

	return conn, nil
}

// must be called with `mutex`
func (self *ChannelManager) installConnLocked(conn *websocket.Conn) {
	connDone := make(chan struct{})
	self.conn = conn
	self.connDone = connDone
	go self.readLoop(conn, connDone)
	go self.pingLoop(conn, connDone)
}

// Subscribe sends a join for the topic and waits for the server ack, so the
// caller only starts acting on a topic after the join completed. the topic is
// remembered and re-joined after every reconnect.
func (self *ChannelManager) Subscribe(ctx context.Context, topic string) error {
	self.mutex.Lock()
	self.topics[topic] = true
	conn := self.conn
	self.mutex.Unlock()

	if conn == nil {
		return fmt.Errorf("channel not connected")
	}
	return self.join(ctx, conn, topic)
}

// Unsubscribe is best-effort: the topic is forgotten immediately so a
// reconnect does not re-join it, and the leave is acked like a join.
func (self *ChannelManager) Unsubscribe(ctx context.Context, topic string) error {
	self.mutex.Lock()
	delete(self.topics, topic)
	conn := self.conn
	self.mutex.Unlock()

	if conn == nil {
		return nil
	}
	return self.request(ctx, conn, channelActionLeave, channelEventLeft, topic)
}

func (self *ChannelManager) join(ctx context.Context, conn *websocket.Conn, topic string) error {
	return self.request(ctx, conn, channelActionJoin, channelEventJoined, topic)
}

func (self *ChannelManager) request(ctx context.Context, conn *websocket.Conn, action string, ackEvent string, topic string) error {
	ackKey := fmt.Sprintf("%s/%s", ackEvent, topic)
	ack := make(chan struct{}, 1)

	self.mutex.Lock()
	self.acks[ackKey] = ack
	self.mutex.Unlock()
	defer func() {
		self.mutex.Lock()
		if self.acks[ackKey] == ack {
			delete(self.acks, ackKey)
		}
		self.mutex.Unlock()
	}()

	frameBytes, err := json.Marshal(&channelFrame{
		Action: action,
		Topic:  topic,
	})
	if err != nil {
		return err
	}
	if err := self.write(conn, frameBytes); err != nil {
		return err
	}

	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-self.ctx.Done():
		return fmt.Errorf("channel closed")
	case <-time.After(self.settings.JoinTimeout):
		return fmt.Errorf("%s %s: no ack", action, topic)
	}
}

func (self *ChannelManager) write(conn *websocket.Conn, message []byte) error {
	self.writeMutex.Lock()
	defer self.writeMutex.Unlock()
	conn.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, message)
}

// On registers a handler for a named event. the returned func removes exactly
// this registration, so remount cycles cannot accumulate duplicate handlers.
func (self *ChannelManager) On(eventName string, handler EventHandler) func() {
	self.mutex.Lock()
	callbacks, ok := self.handlers[eventName]
	if !ok {
		callbacks = NewCallbackList[EventHandler]()
		self.handlers[eventName] = callbacks
	}
	self.mutex.Unlock()

	callbackId := callbacks.Add(handler)
	return func() {
		callbacks.Remove(callbackId)
	}
}

func (self *ChannelManager) readLoop(conn *websocket.Conn, connDone chan struct{}) {
	defer func() {
		close(connDone)
		conn.Close()
		self.handleDisconnect(conn)
	}()

	for {
		conn.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			glog.V(1).Infof("[ch]read error = %s\n", err)
			return
		}
		if len(message) == 0 {
			// ping
			continue
		}

		var frame channelFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			glog.V(1).Infof("[ch]drop malformed frame = %s\n", err)
			self.stats.RecordMalformed()
			continue
		}

		switch frame.Event {
		case channelEventJoined, channelEventLeft:
			ackKey := fmt.Sprintf("%s/%s", frame.Event, frame.Topic)
			self.mutex.Lock()
			ack := self.acks[ackKey]
			self.mutex.Unlock()
			if ack != nil {
				select {
				case ack <- struct{}{}:
				default:
				}
			}
		case "":
			glog.V(2).Infof("[ch]drop frame with no event\n")
		default:
			self.dispatch(&frame)
		}
	}
}

func (self *ChannelManager) dispatch(frame *channelFrame) {
	self.mutex.Lock()
	callbacks := self.handlers[frame.Event]
	self.mutex.Unlock()
	if callbacks == nil {
		return
	}
	for _, handler := range callbacks.Get() {
		handler(frame.Topic, frame.Data)
	}
}

func (self *ChannelManager) pingLoop(conn *websocket.Conn, connDone chan struct{}) {
	for {
		select {
		case <-self.ctx.Done():
			return
		case <-connDone:
			return
		case <-time.After(self.settings.PingTimeout):
			if err := self.write(conn, []byte{}); err != nil {
				return
			}
		}
	}
}

// handleDisconnect clears the dead conn and starts the reconnect loop.
// events silently stopping after a reconnect because subscriptions were not
// re-issued is the worst failure mode here, so resubscription happens on
// every successful redial before the manager settles.
func (self *ChannelManager) handleDisconnect(conn *websocket.Conn) {
	self.mutex.Lock()
	if self.conn != conn {
		// already superseded
		self.mutex.Unlock()
		return
	}
	self.conn = nil
	self.connDone = nil
	if self.closed || self.reconnecting {
		self.mutex.Unlock()
		return
	}
	self.reconnecting = true
	self.mutex.Unlock()

	go self.reconnectLoop()
}

func (self *ChannelManager) reconnectLoop() {
	defer self.settleReconnect()

	for {
		reconnect := NewReconnect(self.settings.ReconnectTimeout)
		select {
		case <-self.ctx.Done():
			return
		case <-reconnect.After():
		}

		self.mutex.Lock()
		if self.closed {
			self.mutex.Unlock()
			return
		}
		credential := self.credential
		self.mutex.Unlock()

		conn, err := self.dial(self.ctx, credential)
		if err != nil {
			glog.Infof("[ch]reconnect error = %s\n", err)
			continue
		}

		self.stats.RecordReconnect()

		self.mutex.Lock()
		if self.closed {
			self.mutex.Unlock()
			conn.Close()
			return
		}
		self.installConnLocked(conn)
		topics := make([]string, 0, len(self.topics))
		for topic := range self.topics {
			topics = append(topics, topic)
		}
		self.mutex.Unlock()

		// subscriptions do not survive a transport-level reconnect
		rejoinErr := false
		for _, topic := range topics {
			if err := self.join(self.ctx, conn, topic); err != nil {
				glog.Infof("[ch]rejoin %s error = %s\n", topic, err)
				rejoinErr = true
				break
			}
			self.stats.RecordResubscribe()
		}
		if rejoinErr {
			conn.Close()
			continue
		}
		return
	}
}

// settleReconnect runs when a reconnect pass winds down. while the pass is
// winding down `reconnecting` still swallows disconnects, so if the fresh
// connection already dropped again the loop must re-arm itself here or the
// manager sits dead with no live updates until an explicit Connect.
func (self *ChannelManager) settleReconnect() {
	self.mutex.Lock()
	again := !self.closed && self.conn == nil && self.ctx.Err() == nil
	self.reconnecting = again
	self.mutex.Unlock()

	if again {
		go self.reconnectLoop()
	}
}

func (self *ChannelManager) Connected() bool {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.conn != nil
}

func (self *ChannelManager) Close() {
	self.mutex.Lock()
	self.closed = true
	conn := self.conn
	self.conn = nil
	self.mutex.Unlock()

	self.cancel()
	if conn != nil {
		conn.Close()
	}
}
