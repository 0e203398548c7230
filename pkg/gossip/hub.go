package gossip

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	maxMessage = 64 * 1024
)

// peer is one websocket connection, inbound or outbound; gossip is
// symmetric so both directions use the same read/write pumps.
type peer struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

func (p *peer) writePump(logger *zap.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = p.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-p.send:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = p.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := p.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				logger.Debug("gossip peer write failed", zap.String("peer", p.id), zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (p *peer) readPump(hub *hub, logger *zap.Logger) {
	defer func() {
		hub.unregister <- p
		_ = p.conn.Close()
	}()

	p.conn.SetReadLimit(maxMessage)
	_ = p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		_ = p.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := p.conn.ReadMessage()
		if err != nil {
			logger.Debug("gossip peer read closed", zap.String("peer", p.id), zap.Error(err))
			return
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			logger.Debug("dropping malformed gossip envelope", zap.Error(err))
			continue
		}
		select {
		case hub.inbound <- env:
		case <-time.After(writeWait):
			logger.Warn("gossip inbound queue full, dropping envelope", zap.String("peer", p.id))
		}
	}
}

// hub fans out published envelopes to every connected peer and collects
// inbound ones onto a single channel, the same register/unregister/
// broadcast shape as the pack's websocket chat broadcaster.
type hub struct {
	mu    sync.RWMutex
	peers map[*peer]struct{}

	register   chan *peer
	unregister chan *peer
	broadcast  chan []byte
	inbound    chan Envelope

	upgrader websocket.Upgrader
	logger   *zap.Logger
}

func newHub(logger *zap.Logger) *hub {
	return &hub{
		peers:      make(map[*peer]struct{}),
		register:   make(chan *peer),
		unregister: make(chan *peer),
		broadcast:  make(chan []byte, 256),
		inbound:    make(chan Envelope, 256),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

func (h *hub) run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			h.mu.Lock()
			for p := range h.peers {
				close(p.send)
			}
			h.peers = make(map[*peer]struct{})
			h.mu.Unlock()
			return

		case p := <-h.register:
			h.mu.Lock()
			h.peers[p] = struct{}{}
			h.mu.Unlock()
			go p.writePump(h.logger)
			go p.readPump(h, h.logger)

		case p := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.peers[p]; ok {
				delete(h.peers, p)
				close(p.send)
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.RLock()
			for p := range h.peers {
				select {
				case p.send <- msg:
				default:
					h.logger.Warn("gossip peer send buffer full, dropping message", zap.String("peer", p.id))
				}
			}
			h.mu.RUnlock()
		}
	}
}

// upgrade promotes an inbound HTTP request to a gossip peer connection.
func (h *hub) upgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("gossip websocket upgrade failed", zap.Error(err))
		return
	}
	h.addPeer(conn)
}

func (h *hub) addPeer(conn *websocket.Conn) {
	p := &peer{id: uuid.NewString(), conn: conn, send: make(chan []byte, 64)}
	h.register <- p
}

func (h *hub) peerCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}
