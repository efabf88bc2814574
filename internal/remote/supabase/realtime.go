package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ipimonitor/ipi-api/internal/remote"
)

const (
	// Time allowed to write a frame to the server
	rtWriteWait = 10 * time.Second

	// Phoenix expects a heartbeat at least every 30s
	heartbeatPeriod = 25 * time.Second

	reconnectMin = time.Second
	reconnectMax = 30 * time.Second
)

type phxMessage struct {
	Topic   string      `json:"topic"`
	Event   string      `json:"event"`
	Payload interface{} `json:"payload"`
	Ref     string      `json:"ref"`
}

type phxIncoming struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

type changesPayload struct {
	Data remote.ChangeEvent `json:"data"`
}

type rtChannel struct {
	topic   string
	table   string
	filter  string
	handler func(remote.ChangeEvent)
}

// realtime multiplexes change-feed channels over one Phoenix socket and
// reconnects (rejoining every channel) when the socket drops.
type realtime struct {
	url       string
	dialer    *websocket.Dialer
	heartbeat time.Duration

	mu        sync.Mutex
	token     string
	channels  map[string]*rtChannel
	send      chan []byte
	connected bool
	ref       uint64

	done      chan struct{}
	closeOnce sync.Once
}

func realtimeURL(base, anonKey string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = "/realtime/v1/websocket"
	u.RawQuery = url.Values{"apikey": {anonKey}, "vsn": {"1.0.0"}}.Encode()
	return u.String(), nil
}

func newRealtime(wsURL, token string, heartbeat time.Duration) *realtime {
	return &realtime{
		url:       wsURL,
		dialer:    websocket.DefaultDialer,
		heartbeat: heartbeat,
		token:     token,
		channels:  make(map[string]*rtChannel),
		send:      make(chan []byte, 64),
		done:      make(chan struct{}),
	}
}

// readWait is how long a silent socket lives: two missed heartbeat replies
func (rt *realtime) readWait() time.Duration {
	return 2*rt.heartbeat + rtWriteWait
}

func (c *Client) Subscribe(ctx context.Context, table string, filter *remote.Filter, handler func(remote.ChangeEvent)) (remote.Subscription, error) {
	if err := remote.From(table).Validate(); err != nil {
		return nil, err
	}
	if filter != nil && filter.Op != remote.OpEq {
		return nil, errors.New("change feeds only support eq filters")
	}
	token, err := c.bearer(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, errors.New("client is closed")
	}
	rt := c.rt
	if rt == nil {
		wsURL, err := realtimeURL(c.cfg.URL, c.cfg.AnonKey)
		if err != nil {
			c.mu.Unlock()
			return nil, err
		}
		rt = newRealtime(wsURL, token, c.heartbeat)
		c.rt = rt
		go rt.run()
	}

	f := ""
	if filter != nil {
		f = filter.String()
	}
	// Joined under c.mu so an unsubscribe cannot close rt in between
	topic := rt.join(table, f, handler)
	c.mu.Unlock()

	return remote.SubscriptionFunc(func() { c.leave(rt, topic) }), nil
}

// leave drops topic and shuts the socket once no channel is left on it
func (c *Client) leave(rt *realtime, topic string) {
	c.mu.Lock()
	idle := rt.leave(topic)
	if idle && c.rt == rt {
		c.rt = nil
	}
	c.mu.Unlock()

	if idle {
		log.Println("🔌 realtime: no channels left, closing socket")
		rt.close()
	}
}

func (rt *realtime) nextRef() string {
	rt.ref++
	return strconv.FormatUint(rt.ref, 10)
}

// push queues a frame for the current connection; frames are dropped while
// disconnected because every channel is rejoined on reconnect.
// Must be called with rt.mu held.
func (rt *realtime) push(msg phxMessage) {
	if !rt.connected {
		return
	}
	msg.Ref = rt.nextRef()
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("⚠️  realtime: failed to encode %s: %v", msg.Event, err)
		return
	}
	select {
	case rt.send <- data:
	default:
		log.Printf("⚠️  realtime: send buffer full, dropping %s on %s", msg.Event, msg.Topic)
	}
}

func (rt *realtime) joinMessage(ch *rtChannel) phxMessage {
	change := map[string]string{"event": "*", "schema": "public", "table": ch.table}
	if ch.filter != "" {
		change["filter"] = ch.filter
	}
	return phxMessage{
		Topic: ch.topic,
		Event: "phx_join",
		Payload: map[string]interface{}{
			"config": map[string]interface{}{
				"broadcast":        map[string]bool{"self": false},
				"presence":         map[string]string{"key": ""},
				"postgres_changes": []map[string]string{change},
			},
			"access_token": rt.token,
		},
	}
}

func (rt *realtime) join(table, filter string, handler func(remote.ChangeEvent)) string {
	ch := &rtChannel{
		topic:   "realtime:" + table + "-" + uuid.NewString(),
		table:   table,
		filter:  filter,
		handler: handler,
	}

	rt.mu.Lock()
	rt.channels[ch.topic] = ch
	rt.push(rt.joinMessage(ch))
	rt.mu.Unlock()
	return ch.topic
}

// leave reports whether the socket carries no channel afterwards
func (rt *realtime) leave(topic string) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if _, ok := rt.channels[topic]; ok {
		delete(rt.channels, topic)
		rt.push(phxMessage{Topic: topic, Event: "phx_leave", Payload: map[string]string{}})
	}
	return len(rt.channels) == 0
}

func (rt *realtime) setToken(token string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if token == rt.token {
		return
	}
	rt.token = token
	for topic := range rt.channels {
		rt.push(phxMessage{Topic: topic, Event: "access_token", Payload: map[string]string{"access_token": token}})
	}
}

func (rt *realtime) close() {
	rt.closeOnce.Do(func() { close(rt.done) })
}

// run keeps the socket alive until close is called
func (rt *realtime) run() {
	backoff := reconnectMin
	for {
		select {
		case <-rt.done:
			return
		default:
		}

		conn, _, err := rt.dialer.Dial(rt.url, nil)
		if err != nil {
			log.Printf("⚠️  realtime: dial failed: %v (retry in %s)", err, backoff)
			select {
			case <-rt.done:
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > reconnectMax {
				backoff = reconnectMax
			}
			continue
		}
		backoff = reconnectMin
		log.Println("🔌 realtime: connected")

		rt.serve(conn)
	}
}

// serve pumps one connection until it fails or the client closes
func (rt *realtime) serve(conn *websocket.Conn) {
	stop := make(chan struct{})

	// Drain frames queued for a previous connection, then rejoin everything
	rt.mu.Lock()
	for len(rt.send) > 0 {
		<-rt.send
	}
	rt.connected = true
	for _, ch := range rt.channels {
		rt.push(rt.joinMessage(ch))
	}
	rt.mu.Unlock()

	go rt.writePump(conn, stop)

	go func() {
		select {
		case <-rt.done:
			conn.Close()
		case <-stop:
		}
	}()

	rt.readPump(conn)

	rt.mu.Lock()
	rt.connected = false
	rt.mu.Unlock()
	close(stop)
	conn.Close()
}

func (rt *realtime) readPump(conn *websocket.Conn) {
	conn.SetReadDeadline(time.Now().Add(rt.readWait()))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-rt.done:
			default:
				log.Printf("⚠️  realtime: connection lost: %v", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(rt.readWait()))

		var msg phxIncoming
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("⚠️  realtime: bad frame: %v", err)
			continue
		}
		rt.dispatch(msg)
	}
}

func (rt *realtime) dispatch(msg phxIncoming) {
	switch msg.Event {
	case "postgres_changes":
		rt.mu.Lock()
		ch, ok := rt.channels[msg.Topic]
		rt.mu.Unlock()
		if !ok {
			return
		}
		var p changesPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			log.Printf("⚠️  realtime: bad change payload on %s: %v", msg.Topic, err)
			return
		}
		if p.Data.Table == "" {
			p.Data.Table = ch.table
		}
		ch.handler(p.Data)
	case "phx_error", "system":
		log.Printf("⚠️  realtime: %s on %s: %s", msg.Event, msg.Topic, string(msg.Payload))
	}
}

func (rt *realtime) writePump(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(rt.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case data := <-rt.send:
			conn.SetWriteDeadline(time.Now().Add(rtWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				conn.Close()
				return
			}
		case <-ticker.C:
			rt.mu.Lock()
			rt.push(phxMessage{Topic: "phoenix", Event: "heartbeat", Payload: map[string]string{}})
			rt.mu.Unlock()
		}
	}
}
