package app

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/websocket"

	"github.com/relabs-tech/servo_arm/internal/armstate"
	"github.com/relabs-tech/servo_arm/internal/command"
	"github.com/relabs-tech/servo_arm/internal/config"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

const wsWriteTimeout = 2 * time.Second

// WSResponse is pushed to websocket clients.
type WSResponse struct {
	Type    string          `json:"type"` // state, reply, error
	State   *armstate.State `json:"state,omitempty"`
	Reply   *command.Reply  `json:"reply,omitempty"`
	Message string          `json:"message,omitempty"`
}

type wsClient struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsClient) send(resp WSResponse) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteJSON(resp)
}

// Bridge relays arm state from MQTT to HTTP and websocket clients, and
// commands the other way.
type Bridge struct {
	publish func(payload []byte) error

	mu        sync.RWMutex
	lastState armstate.State
	haveState bool
	clients   map[*wsClient]struct{}
}

// NewBridge creates a bridge that hands validated command payloads to publish.
func NewBridge(publish func(payload []byte) error) *Bridge {
	return &Bridge{
		publish: publish,
		clients: make(map[*wsClient]struct{}),
	}
}

// HandleState stores a state message and pushes it to websocket clients.
func (b *Bridge) HandleState(payload []byte) {
	var st armstate.State
	if err := json.Unmarshal(payload, &st); err != nil {
		log.Printf("web: state unmarshal error: %v", err)
		return
	}
	b.mu.Lock()
	b.lastState = st
	b.haveState = true
	b.mu.Unlock()

	b.broadcast(WSResponse{Type: "state", State: &st})
}

// state returns the latest state message, if one arrived yet.
func (b *Bridge) state() (armstate.State, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastState, b.haveState
}

// HandleReply forwards a command reply to websocket clients.
func (b *Bridge) HandleReply(payload []byte) {
	var r command.Reply
	if err := json.Unmarshal(payload, &r); err != nil {
		log.Printf("web: reply unmarshal error: %v", err)
		return
	}
	b.broadcast(WSResponse{Type: "reply", Reply: &r})
}

func (b *Bridge) broadcast(resp WSResponse) {
	b.mu.RLock()
	clients := make([]*wsClient, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	for _, c := range clients {
		if err := c.send(resp); err != nil {
			log.Printf("web: websocket write error: %v", err)
		}
	}
}

// Submit validates a command and forwards it to the arm daemon.
func (b *Bridge) Submit(c command.Command) error {
	if err := c.Validate(); err != nil {
		return err
	}
	return b.forward(c)
}

func (b *Bridge) forward(c command.Command) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("command marshal: %w", err)
	}
	return b.publish(payload)
}

// Routes registers the HTTP endpoints on mux.
func (b *Bridge) Routes(mux *http.ServeMux) {
	// JSON API endpoint: latest state
	mux.HandleFunc("/api/state", func(w http.ResponseWriter, r *http.Request) {
		st, have := b.state()
		if !have {
			http.Error(w, "no data yet", http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(st); err != nil {
			log.Printf("web: json encode error: %v", err)
		}
	})

	// JSON API endpoint: send a command
	mux.HandleFunc("/api/command", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		var c command.Command
		if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := c.Validate(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := b.forward(c); err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})

	mux.HandleFunc("/ws", b.handleWS)
}

// handleWS streams state to the client and forwards its commands.
func (b *Bridge) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("web: websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	client := &wsClient{conn: conn}
	b.mu.Lock()
	b.clients[client] = struct{}{}
	st, have := b.lastState, b.haveState
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.clients, client)
		b.mu.Unlock()
	}()
	log.Printf("web: websocket client connected from %s", r.RemoteAddr)

	if have {
		client.send(WSResponse{Type: "state", State: &st})
	}

	// Main message loop
	for {
		var c command.Command
		if err := conn.ReadJSON(&c); err != nil {
			log.Printf("web: websocket closed: %v", err)
			return
		}
		if err := b.Submit(c); err != nil {
			client.send(WSResponse{Type: "error", Message: err.Error()})
		}
	}
}

// RunWeb serves the browser UI and bridges it to the arm daemon over MQTT.
func RunWeb() error {
	cfg := config.Get()

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDWeb).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	log.Printf("web: connected to MQTT broker at %s", cfg.MQTTBroker)

	bridge := NewBridge(func(payload []byte) error {
		token := client.Publish(cfg.TopicCommand, 0, false, payload)
		token.Wait()
		return token.Error()
	})

	token := client.Subscribe(cfg.TopicState, 0, func(_ mqtt.Client, msg mqtt.Message) {
		bridge.HandleState(msg.Payload())
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	log.Printf("web: subscribed to %s", cfg.TopicState)

	token = client.Subscribe(cfg.TopicReply, 0, func(_ mqtt.Client, msg mqtt.Message) {
		bridge.HandleReply(msg.Payload())
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	log.Printf("web: subscribed to %s", cfg.TopicReply)

	mux := http.NewServeMux()
	bridge.Routes(mux)

	// Static files from ./web as the root
	mux.Handle("/", http.FileServer(http.Dir("web")))

	addr := fmt.Sprintf(":%d", cfg.WebServerPort)
	log.Printf("web: server listening on %s", addr)
	return http.ListenAndServe(addr, mux)
}
