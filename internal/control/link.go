package control

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	messages "github.com/AgustinSRG/go-simple-rpc-message"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"github.com/AgustinSRG/rtmp-ingest-client/internal/log"
)

const heartbeatInterval = 20 * time.Second
const reconnectDelay = 10 * time.Second
const readDeadline = 60 * time.Second

// Link is the websocket uplink to an external coordinator. Disabled (a
// no-op) when constructed with an empty URL, so callers can always
// construct one and call Start unconditionally.
type Link struct {
	url     string
	secret  string
	channel string

	onCommand CommandHandler

	mu            sync.Mutex
	conn          *websocket.Conn
	nextRequestID uint64
	stopped       bool

	enabled bool
}

// NewLink builds an uplink to coordinatorURL, signing its connection
// handshake with secret (HS256) when non-empty, matching the teacher's
// MakeWebsocketAuthenticationToken. onCommand is invoked once per
// FORCE-RECONNECT/FORCE-STOP message addressed to channel.
func NewLink(coordinatorURL, secret, channel string, onCommand CommandHandler) *Link {
	return &Link{
		url:       coordinatorURL,
		secret:    secret,
		channel:   channel,
		onCommand: onCommand,
		enabled:   coordinatorURL != "",
	}
}

// Start dials the uplink in the background and begins its heartbeat loop.
// A no-op if the link was constructed without a coordinator URL.
func (l *Link) Start() {
	if !l.enabled {
		return
	}
	go l.connect()
	go l.runHeartbeatLoop()
}

// Stop tears down the connection and stops all of this Link's lanes.
// Idempotent.
func (l *Link) Stop() {
	l.mu.Lock()
	l.stopped = true
	conn := l.conn
	l.conn = nil
	l.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func (l *Link) isStopped() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopped
}

func (l *Link) connect() {
	if l.isStopped() {
		return
	}

	headers := http.Header{}
	if token := l.signToken(); token != "" {
		headers.Set("x-control-auth-token", token)
	}

	conn, _, err := websocket.DefaultDialer.Dial(l.url, headers)
	if err != nil {
		log.Warning("[CONTROL] connection error: " + err.Error())
		go l.scheduleReconnect()
		return
	}

	l.mu.Lock()
	l.conn = conn
	l.mu.Unlock()

	go l.runReaderLoop(conn)
}

func (l *Link) scheduleReconnect() {
	if l.isStopped() {
		return
	}
	time.Sleep(reconnectDelay)
	l.connect()
}

func (l *Link) onDisconnect(err error) {
	l.mu.Lock()
	l.conn = nil
	l.mu.Unlock()
	if err != nil {
		log.Warning("[CONTROL] disconnected: " + err.Error())
	}
	go l.scheduleReconnect()
}

func (l *Link) runReaderLoop(conn *websocket.Conn) {
	for {
		if err := conn.SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
			conn.Close()
			l.onDisconnect(err)
			return
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			l.onDisconnect(err)
			return
		}
		msg := messages.ParseRPCMessage(string(data))
		l.handleIncoming(&msg)
	}
}

func (l *Link) handleIncoming(msg *messages.RPCMessage) {
	switch msg.Method {
	case "FORCE-RECONNECT":
		l.dispatchIfOurChannel(CommandForceReconnect, msg.GetParam("Stream-Channel"))
	case "FORCE-STOP":
		l.dispatchIfOurChannel(CommandForceStop, msg.GetParam("Stream-Channel"))
	case "ERROR":
		log.Warning("[CONTROL] remote error: " + msg.GetParam("Error-Message"))
	}
}

func (l *Link) dispatchIfOurChannel(kind CommandKind, channel string) {
	if channel != "" && channel != l.channel {
		return
	}
	if l.onCommand != nil {
		l.onCommand(Command{Kind: kind, Channel: l.channel})
	}
}

// Send pushes one Event upstream as an RPC message, one request id per
// message, matching the teacher's GetNextRequestId/Send pattern.
func (l *Link) Send(ev Event) bool {
	l.mu.Lock()
	conn := l.conn
	reqID := l.nextRequestID
	l.nextRequestID++
	l.mu.Unlock()

	if conn == nil {
		return false
	}

	params := map[string]string{
		"Request-ID":       fmt.Sprint(reqID),
		"Stream-Channel":    ev.Channel,
		"Stream-ID-Masked": ev.StreamIDMasked,
	}
	for k, v := range ev.Payload {
		params[k] = v
	}

	msg := messages.RPCMessage{Method: ev.Kind.String(), Params: params}
	return conn.WriteMessage(websocket.TextMessage, []byte(msg.Serialize())) == nil
}

func (l *Link) runHeartbeatLoop() {
	for {
		time.Sleep(heartbeatInterval)
		if l.isStopped() {
			return
		}
		l.Send(Event{Kind: EventMetricsTick, Channel: l.channel, Payload: map[string]string{"heartbeat": "1"}})
	}
}

// signToken mirrors the teacher's MakeWebsocketAuthenticationToken: an
// HS256 JWT with a fixed subject, signed with the shared secret. Empty
// secret means no token is attached, matching the teacher's behavior when
// CONTROL_SECRET is unset.
func (l *Link) signToken() string {
	if l.secret == "" {
		return ""
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "rtmp-ingest-client",
	})
	signed, err := token.SignedString([]byte(l.secret))
	if err != nil {
		log.Error(err)
		return ""
	}
	return signed
}
