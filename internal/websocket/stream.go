// Package websocket streams pipeline events to connected browser clients.
package websocket

import (
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/medflow/claimsim/internal/events"
)

// EventStreamer fans pipeline CloudEvents out to WebSocket clients. Slow or
// broken clients are dropped rather than allowed to stall the hub.
type EventStreamer struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan *events.CloudEvent
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
	logger     *log.Logger

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewEventStreamer creates the hub. Call Run to start it.
func NewEventStreamer() *EventStreamer {
	return &EventStreamer{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan *events.CloudEvent, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // same-host dashboard plus local dev
			},
		},
		logger: log.New(log.Writer(), "[WS] ", log.LstdFlags),
		stop:   make(chan struct{}),
	}
}

// Run starts the hub loop.
func (es *EventStreamer) Run() {
	es.wg.Add(1)
	go func() {
		defer es.wg.Done()
		for {
			select {
			case <-es.stop:
				es.mu.Lock()
				for client := range es.clients {
					client.Close()
					delete(es.clients, client)
				}
				es.mu.Unlock()
				return

			case client := <-es.register:
				es.mu.Lock()
				es.clients[client] = true
				n := len(es.clients)
				es.mu.Unlock()
				es.logger.Printf("📡 Client connected (total: %d)", n)

			case client := <-es.unregister:
				es.mu.Lock()
				if _, ok := es.clients[client]; ok {
					delete(es.clients, client)
					client.Close()
				}
				n := len(es.clients)
				es.mu.Unlock()
				es.logger.Printf("📡 Client disconnected (total: %d)", n)

			case ev := <-es.broadcast:
				es.mu.Lock()
				for client := range es.clients {
					if err := client.WriteJSON(ev); err != nil {
						es.logger.Printf("⚠️  Write error, dropping client: %v", err)
						client.Close()
						delete(es.clients, client)
					}
				}
				es.mu.Unlock()
			}
		}
	}()
}

// Stop shuts the hub down and closes all client connections.
func (es *EventStreamer) Stop() {
	close(es.stop)
	es.wg.Wait()
}

// Attach subscribes the streamer to a bus and forwards every event until the
// streamer stops.
func (es *EventStreamer) Attach(bus *events.EventBus) {
	ch := bus.Subscribe()
	es.wg.Add(1)
	go func() {
		defer es.wg.Done()
		defer bus.Unsubscribe(ch)
		for {
			select {
			case <-es.stop:
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				es.Broadcast(ev)
			}
		}
	}()
}

// Broadcast queues an event for all clients, dropping it if the hub is
// backed up.
func (es *EventStreamer) Broadcast(ev *events.CloudEvent) {
	select {
	case es.broadcast <- ev:
	default:
	}
}

// HandleWebSocket upgrades the request and registers the client. Inbound
// messages are read and discarded to detect disconnects.
func (es *EventStreamer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := es.upgrader.Upgrade(w, r, nil)
	if err != nil {
		es.logger.Printf("⚠️  Upgrade error: %v", err)
		return
	}

	es.register <- conn

	go func() {
		defer func() {
			es.unregister <- conn
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

// Statistics reports hub state for the diagnostics endpoint.
func (es *EventStreamer) Statistics() map[string]interface{} {
	es.mu.RLock()
	defer es.mu.RUnlock()
	return map[string]interface{}{
		"connected_clients": len(es.clients),
		"broadcast_queue":   len(es.broadcast),
	}
}
