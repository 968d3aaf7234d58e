package ws

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/gambit-chess/gambit-server/internal/obslog"
	"github.com/gambit-chess/gambit-server/pkg/gambitdto"
)

// Session is one live websocket connection. A session becomes addressable
// once its first event announces a wallet address.
type Session struct {
	ID     string
	conn   *websocket.Conn
	out    chan []byte
	closed chan struct{}
	once   sync.Once

	mu     sync.Mutex
	wallet string
}

func (s *Session) Wallet() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wallet
}

func (s *Session) setWallet(addr string) {
	s.mu.Lock()
	s.wallet = addr
	s.mu.Unlock()
}

func (s *Session) close() {
	s.once.Do(func() { close(s.closed) })
}

// send queues a frame; a session whose buffer is full is dropped rather than
// allowed to stall everyone else.
func (s *Session) send(payload []byte) bool {
	select {
	case s.out <- payload:
		return true
	case <-s.closed:
		return false
	default:
		obslog.L().Warn("ws_slow_client_dropped", zap.String("session_id", s.ID))
		s.close()
		return false
	}
}

// writeLoop drains the outbound queue onto the wire.
func (s *Session) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.closed:
			return
		case payload := <-s.out:
			wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := s.conn.Write(wctx, websocket.MessageText, payload)
			cancel()
			if err != nil {
				s.close()
				return
			}
		}
	}
}

// Hub maps wallets to sessions and rooms to their member wallets. It
// implements match.Notifier.
type Hub struct {
	mu       sync.Mutex
	byWallet map[string]*Session
	rooms    map[string]map[string]struct{}
}

func NewHub() *Hub {
	return &Hub{
		byWallet: make(map[string]*Session),
		rooms:    make(map[string]map[string]struct{}),
	}
}

// Bind associates a wallet with a session. A reconnect replaces the previous
// session for the same wallet, which is then closed.
func (h *Hub) Bind(s *Session, wallet string) {
	if strings.TrimSpace(wallet) == "" {
		return
	}
	h.mu.Lock()
	prev := h.byWallet[wallet]
	h.byWallet[wallet] = s
	h.mu.Unlock()
	s.setWallet(wallet)
	if prev != nil && prev != s {
		prev.close()
		obslog.L().Info("ws_session_replaced", zap.String("wallet", wallet), zap.String("old_session", prev.ID))
	}
}

// Unbind drops the wallet binding and all room memberships for a session. It
// reports whether the session was still the wallet's current binding; a
// session superseded by a reconnect keeps nothing to tear down and must not be
// treated as the player leaving.
func (h *Hub) Unbind(s *Session) bool {
	wallet := s.Wallet()
	if wallet == "" {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.byWallet[wallet] != s {
		return false
	}
	delete(h.byWallet, wallet)
	for roomID, members := range h.rooms {
		delete(members, wallet)
		if len(members) == 0 {
			delete(h.rooms, roomID)
		}
	}
	return true
}

func (h *Hub) JoinRoom(addr, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[roomID]
	if !ok {
		members = make(map[string]struct{})
		h.rooms[roomID] = members
	}
	members[addr] = struct{}{}
}

func (h *Hub) EmitRoom(roomID, event string, data any) {
	payload, err := encode(event, data)
	if err != nil {
		return
	}
	h.mu.Lock()
	var targets []*Session
	for addr := range h.rooms[roomID] {
		if s := h.byWallet[addr]; s != nil {
			targets = append(targets, s)
		}
	}
	h.mu.Unlock()
	for _, s := range targets {
		s.send(payload)
	}
}

func (h *Hub) EmitWallet(addr, event string, data any) {
	payload, err := encode(event, data)
	if err != nil {
		return
	}
	h.mu.Lock()
	s := h.byWallet[addr]
	h.mu.Unlock()
	if s != nil {
		s.send(payload)
	}
}

func (h *Hub) EmitAll(event string, data any) {
	payload, err := encode(event, data)
	if err != nil {
		return
	}
	h.mu.Lock()
	targets := make([]*Session, 0, len(h.byWallet))
	for _, s := range h.byWallet {
		targets = append(targets, s)
	}
	h.mu.Unlock()
	for _, s := range targets {
		s.send(payload)
	}
}

func encode(event string, data any) ([]byte, error) {
	payload, err := json.Marshal(gambitdto.Envelope{Event: event, Data: data})
	if err != nil {
		obslog.L().Error("ws_encode_failed", zap.String("event", event), zap.Error(err))
		return nil, err
	}
	return payload, nil
}
