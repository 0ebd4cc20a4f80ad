package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"cryptobot/internal/backtest"
	"cryptobot/internal/domain"
	"cryptobot/internal/engine"
)

const (
	writeWait       = 10 * time.Second
	requestWait     = 30 * time.Second
	clientSendQueue = 256
	hubJoinWait     = 5 * time.Second
)

var errHubStopped = errors.New("run feed is not running")

// Event types sent over the WebSocket endpoints.
const (
	EventTrade  = "trade"
	EventResult = "result"
	EventError  = "error"
	EventRun    = "run"
)

// Event is one WebSocket message.
type Event struct {
	Type  string              `json:"type"`
	Trade *domain.Trade       `json:"trade,omitempty"`
	Run   *domain.BacktestRun `json:"run,omitempty"`
	Error string              `json:"error,omitempty"`
	// Status is the HTTP status equivalent of Error.
	Status int `json:"status,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// ---------------------------------------------------------------------------
// Hub
// ---------------------------------------------------------------------------

// client represents a single WebSocket connection managed by a Hub.
type client struct {
	send chan []byte
}

// Hub manages a set of WebSocket clients and broadcasts completed runs to
// all of them. Slow clients whose queue is full are dropped.
type Hub struct {
	clients    map[*client]struct{}
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	done       chan struct{} // closed when Run returns
	stopOnce   sync.Once
	joinWait   time.Duration
}

// NewHub creates a new Hub with initialised channels and client map.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*client]struct{}),
		broadcast:  make(chan []byte, 1024),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		joinWait:   hubJoinWait,
	}
}

// Run is the Hub's event loop. It returns when ctx is cancelled, closing
// every client queue. A Hub is run at most once.
func (h *Hub) Run(ctx context.Context) {
	defer h.stopOnce.Do(func() { close(h.done) })
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			return
		case c := <-h.register:
			h.clients[c] = struct{}{}
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					delete(h.clients, c)
					close(c.send)
				}
			}
		}
	}
}

// join registers c with the event loop. It fails instead of blocking when
// the loop is not accepting clients.
func (h *Hub) join(ctx context.Context, c *client) error {
	timer := time.NewTimer(h.joinWait)
	defer timer.Stop()
	select {
	case h.register <- c:
		return nil
	case <-h.done:
		return errHubStopped
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return errHubStopped
	}
}

// PublishRun broadcasts run without its trades. It never blocks; the
// message is dropped when the broadcast queue is full.
func (h *Hub) PublishRun(run *domain.BacktestRun) {
	summary := *run
	summary.Trades = nil
	b, err := json.Marshal(Event{Type: EventRun, Run: &summary})
	if err != nil {
		return
	}
	select {
	case h.broadcast <- b:
	default:
	}
}

// handleRunFeed streams every run completed through the API to the client
// until either side closes.
func (s *Server) handleRunFeed(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	cl := &client{send: make(chan []byte, clientSendQueue)}
	if err := s.hub.join(c.Request.Context(), cl); err != nil {
		s.log.Warn("run feed rejected client", "error", err)
		msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error())
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		conn.Close()
		return
	}

	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		defer conn.Close()
		for msg := range cl.send {
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	select {
	case s.hub.unregister <- cl:
	case <-writeDone:
	}
	<-writeDone
}

// ---------------------------------------------------------------------------
// Streaming backtest
// ---------------------------------------------------------------------------

// handleBacktestStream reads one engine.Request, then streams a trade event
// per closed trade followed by a single result or error event, and closes.
func (s *Server) handleBacktestStream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	send := func(ev Event) error {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(ev)
	}

	var req engine.Request
	_ = conn.SetReadDeadline(time.Now().Add(requestWait))
	if err := conn.ReadJSON(&req); err != nil {
		_ = send(Event{Type: EventError, Error: "decoding request: " + err.Error(), Status: http.StatusBadRequest})
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	observer := backtest.WithTradeObserver(func(t domain.Trade) {
		if err := send(Event{Type: EventTrade, Trade: &t}); err != nil {
			cancel()
		}
	})

	run, err := s.engine.Run(ctx, req, observer)
	if err != nil {
		_ = send(Event{Type: EventError, Error: err.Error(), Status: statusFor(err)})
	} else {
		s.hub.PublishRun(run)
		_ = send(Event{Type: EventResult, Run: run})
	}

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
}
