package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// RealtimeClient handles Supabase Realtime subscriptions over the Phoenix
// channel protocol.
type RealtimeClient struct {
	mu       sync.RWMutex
	client   *Client
	conn     *websocket.Conn
	channels map[string]*Channel
	handlers map[string][]ChangeHandler
	done     chan struct{}
	ref      int
}

// ChangeHandler handles postgres change events.
type ChangeHandler func(event ChangeEvent)

// Channel represents a joined realtime topic.
type Channel struct {
	client  *RealtimeClient
	topic   string
	config  SubscriptionConfig
	joined  bool
	joinRef string
}

func newRealtimeClient(c *Client) *RealtimeClient {
	return &RealtimeClient{
		client:   c,
		channels: make(map[string]*Channel),
		handlers: make(map[string][]ChangeHandler),
		done:     make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection.
func (r *RealtimeClient) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn != nil {
		return nil // Already connected
	}

	wsURL := r.client.realtimeURL + "/websocket?apikey=" + r.client.config.AnonKey + "&vsn=1.0.0"

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	r.conn = conn
	r.done = make(chan struct{})

	go r.readLoop()
	go r.heartbeat()

	return nil
}

// Disconnect closes the WebSocket connection.
func (r *RealtimeClient) Disconnect() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil {
		return nil
	}

	close(r.done)

	err := r.conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	)
	r.conn.Close()
	r.conn = nil
	r.channels = make(map[string]*Channel)
	r.handlers = make(map[string][]ChangeHandler)
	if err != nil {
		return fmt.Errorf("close message: %w", err)
	}
	return nil
}

// Subscribe joins a postgres_changes topic matching cfg and registers handler
// for its events. The returned channel can be unsubscribed independently.
func (r *RealtimeClient) Subscribe(ctx context.Context, cfg SubscriptionConfig, handler ChangeHandler) (*Channel, error) {
	if cfg.Schema == "" {
		cfg.Schema = "public"
	}
	if cfg.Event == "" {
		cfg.Event = "*"
	}
	if cfg.Table == "" {
		return nil, fmt.Errorf("table is required")
	}

	if err := r.Connect(ctx); err != nil {
		return nil, err
	}

	topic := fmt.Sprintf("realtime:%s:%s", cfg.Schema, cfg.Table)
	if cfg.Filter != "" {
		topic += ":" + cfg.Filter
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.channels[topic]
	if !ok {
		ch = &Channel{client: r, topic: topic, config: cfg}
		r.channels[topic] = ch
	}

	r.handlers[topic] = append(r.handlers[topic], handler)

	if !ch.joined {
		r.ref++
		ref := fmt.Sprintf("%d", r.ref)
		ch.joinRef = ref

		join := map[string]interface{}{
			"topic": topic,
			"event": "phx_join",
			"payload": map[string]interface{}{
				"config": map[string]interface{}{
					"postgres_changes": []map[string]interface{}{
						{
							"event":  cfg.Event,
							"schema": cfg.Schema,
							"table":  cfg.Table,
							"filter": cfg.Filter,
						},
					},
				},
			},
			"ref":      ref,
			"join_ref": ref,
		}

		if err := r.conn.WriteJSON(join); err != nil {
			delete(r.channels, topic)
			delete(r.handlers, topic)
			return nil, fmt.Errorf("send join: %w", err)
		}
		ch.joined = true
	}

	return ch, nil
}

// Unsubscribe leaves the channel's topic and drops its handlers.
func (c *Channel) Unsubscribe() error {
	r := c.client
	r.mu.Lock()
	defer r.mu.Unlock()

	if !c.joined {
		return nil
	}

	r.ref++
	leave := map[string]interface{}{
		"topic":    c.topic,
		"event":    "phx_leave",
		"payload":  map[string]interface{}{},
		"ref":      fmt.Sprintf("%d", r.ref),
		"join_ref": c.joinRef,
	}

	c.joined = false
	delete(r.channels, c.topic)
	delete(r.handlers, c.topic)

	if r.conn != nil {
		if err := r.conn.WriteJSON(leave); err != nil {
			return fmt.Errorf("send leave: %w", err)
		}
	}
	return nil
}

// phoenixMessage is the realtime wire envelope.
type phoenixMessage struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref"`
}

func (r *RealtimeClient) readLoop() {
	for {
		select {
		case <-r.done:
			return
		default:
		}

		r.mu.RLock()
		conn := r.conn
		r.mu.RUnlock()

		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			// Connection closed
			return
		}

		var msg phoenixMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		if msg.Event != "postgres_changes" {
			continue
		}

		var payload struct {
			Data struct {
				Type      string                 `json:"type"`
				Schema    string                 `json:"schema"`
				Table     string                 `json:"table"`
				Record    map[string]interface{} `json:"record"`
				OldRecord map[string]interface{} `json:"old_record"`
				Timestamp time.Time              `json:"commit_timestamp"`
			} `json:"data"`
		}
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			continue
		}

		r.dispatch(msg.Topic, ChangeEvent{
			Type:      payload.Data.Type,
			Schema:    payload.Data.Schema,
			Table:     payload.Data.Table,
			Record:    payload.Data.Record,
			OldRecord: payload.Data.OldRecord,
			Timestamp: payload.Data.Timestamp,
		})
	}
}

func (r *RealtimeClient) dispatch(topic string, event ChangeEvent) {
	r.mu.RLock()
	ch := r.channels[topic]
	handlers := append([]ChangeHandler(nil), r.handlers[topic]...)
	r.mu.RUnlock()

	if ch != nil && ch.config.Event != "*" && ch.config.Event != event.Type {
		return
	}

	for _, handler := range handlers {
		go handler(event)
	}
}

func (r *RealtimeClient) heartbeat() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.mu.Lock()
			if r.conn != nil {
				r.ref++
				msg := map[string]interface{}{
					"topic":   "phoenix",
					"event":   "heartbeat",
					"payload": map[string]interface{}{},
					"ref":     fmt.Sprintf("%d", r.ref),
				}
				_ = r.conn.WriteJSON(msg)
			}
			r.mu.Unlock()
		}
	}
}
