// Package relay is the fan-out hub between drawing clients. It keeps no
// canvas of its own: strokes and clears are forwarded to every other member
// of a room, and late joiners are brought up to date by brokering a snapshot
// from a member that was already there.
package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/inklay/inklay/lib/protocol"
)

const writeTimeout = 2 * time.Second

type member struct {
	id    string
	room  string
	conn  *websocket.Conn
	ready bool
	dims  *protocol.Dimensions
}

type room struct {
	members map[string]*member
	// waiters maps the member asked for a snapshot to the members waiting
	// on its answer.
	waiters map[string][]string
}

func newRoom() *room {
	return &room{
		members: make(map[string]*member),
		waiters: make(map[string][]string),
	}
}

// Server accepts client connections and routes protocol messages between
// members of the same room.
type Server struct {
	log *slog.Logger

	mu    sync.Mutex
	rooms map[string]*room
}

func New(log *slog.Logger) *Server {
	return &Server{
		log:   log,
		rooms: make(map[string]*room),
	}
}

// Router returns the HTTP surface: the sync websocket, room introspection
// and a health probe.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Get("/ws", s.handleWS)
	r.Get("/rooms/{roomID}", s.handleRoomInfo)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.Error("websocket accept failed", "err", err)
		return
	}

	roomID := r.URL.Query().Get("roomID")
	if roomID == "" {
		roomID = protocol.UnknownRoom
	}

	m := &member{
		id:   uuid.NewString(),
		room: roomID,
		conn: conn,
	}
	s.addMember(m)
	s.log.Info("member joined", "room", roomID, "member", m.id)

	defer func() {
		s.removeMember(m)
		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.log.Info("member left", "room", roomID, "member", m.id)
	}()

	for {
		_, data, err := conn.Read(r.Context())
		if err != nil {
			return
		}
		s.handleMessage(m, data)
	}
}

func (s *Server) addMember(m *member) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rm := s.rooms[m.room]
	if rm == nil {
		rm = newRoom()
		s.rooms[m.room] = rm
	}
	rm.members[m.id] = m
}

func (s *Server) removeMember(m *member) {
	s.mu.Lock()
	rm := s.rooms[m.room]
	if rm == nil {
		s.mu.Unlock()
		return
	}
	delete(rm.members, m.id)

	// Waiters that were counting on this member get re-brokered; waits by
	// this member are simply dropped.
	orphans := rm.waiters[m.id]
	delete(rm.waiters, m.id)
	for provider, ids := range rm.waiters {
		rm.waiters[provider] = lo.Without(ids, m.id)
	}
	if len(rm.members) == 0 {
		delete(s.rooms, m.room)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	for _, id := range orphans {
		s.brokerSnapshot(m.room, id)
	}
}

// handleMessage routes one inbound message. Malformed payloads are dropped;
// a misbehaving client never takes the room down.
func (s *Server) handleMessage(m *member, data []byte) {
	env, err := protocol.Decode(data)
	if err != nil {
		s.log.Warn("dropping message", "room", m.room, "member", m.id, "err", err)
		return
	}

	switch env.Event {
	case protocol.EventClientReady:
		s.mu.Lock()
		m.ready = true
		s.mu.Unlock()
		s.brokerSnapshot(m.room, m.id)

	case protocol.EventBrowserDimensions:
		dims, err := env.Dimensions()
		if err != nil {
			s.log.Warn("dropping dimensions", "member", m.id, "err", err)
			return
		}
		s.mu.Lock()
		m.dims = dims
		s.mu.Unlock()

	case protocol.EventCanvasState:
		cs, err := env.CanvasState()
		if err != nil {
			s.log.Warn("dropping canvas state", "member", m.id, "err", err)
			return
		}
		s.deliverSnapshot(m, cs)

	case protocol.EventDrawLine:
		if _, err := env.DrawLine(); err != nil {
			s.log.Warn("dropping draw-line", "member", m.id, "err", err)
			return
		}
		s.broadcast(m, data)

	case protocol.EventClear:
		s.broadcast(m, data)

	default:
		// get-canvas-state and canvas-state-from-server travel
		// relay-to-client only.
		s.log.Debug("ignoring unexpected message", "member", m.id, "event", env.Event)
	}
}

// brokerSnapshot asks an established member for its canvas so waiterID can
// catch up. A room with no other ready member starts blank.
func (s *Server) brokerSnapshot(roomID, waiterID string) {
	s.mu.Lock()
	rm := s.rooms[roomID]
	if rm == nil {
		s.mu.Unlock()
		return
	}
	var provider *member
	for id, other := range rm.members {
		if id != waiterID && other.ready {
			provider = other
			break
		}
	}
	if provider == nil {
		s.mu.Unlock()
		return
	}
	rm.waiters[provider.id] = append(rm.waiters[provider.id], waiterID)
	s.mu.Unlock()

	req, err := protocol.Encode(protocol.EventGetCanvasState, nil)
	if err != nil {
		s.log.Error("encode get-canvas-state", "err", err)
		return
	}
	s.writeWithTimeout(provider, req)
}

// deliverSnapshot forwards a member's canvas to everyone waiting on it.
func (s *Server) deliverSnapshot(from *member, cs *protocol.CanvasState) {
	s.mu.Lock()
	rm := s.rooms[from.room]
	if rm == nil {
		s.mu.Unlock()
		return
	}
	ids := rm.waiters[from.id]
	delete(rm.waiters, from.id)
	targets := make([]*member, 0, len(ids))
	for _, id := range ids {
		if w, ok := rm.members[id]; ok {
			targets = append(targets, w)
		}
	}
	s.mu.Unlock()

	if len(targets) == 0 {
		return
	}
	data, err := protocol.Encode(protocol.EventCanvasStateFromServer, cs)
	if err != nil {
		s.log.Error("encode canvas-state-from-server", "err", err)
		return
	}
	for _, w := range targets {
		s.writeWithTimeout(w, data)
	}
}

// broadcast forwards data verbatim to every room member except the sender.
func (s *Server) broadcast(from *member, data []byte) {
	s.mu.Lock()
	rm := s.rooms[from.room]
	if rm == nil {
		s.mu.Unlock()
		return
	}
	targets := make([]*member, 0, len(rm.members))
	for id, other := range rm.members {
		if id != from.id {
			targets = append(targets, other)
		}
	}
	s.mu.Unlock()

	for _, other := range targets {
		s.writeWithTimeout(other, data)
	}
}

// writeWithTimeout bounds each send so one stalled member cannot wedge the
// room.
func (s *Server) writeWithTimeout(m *member, data []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := m.conn.Write(ctx, websocket.MessageText, data); err != nil {
		s.log.Debug("write to member failed", "member", m.id, "err", err)
	}
}

// MemberInfo describes one room member for introspection.
type MemberInfo struct {
	ID     string `json:"id"`
	Ready  bool   `json:"ready"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// RoomInfo is the introspection payload for one room.
type RoomInfo struct {
	Room    string       `json:"room"`
	Members []MemberInfo `json:"members"`
}

func (s *Server) handleRoomInfo(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")

	s.mu.Lock()
	rm := s.rooms[roomID]
	info := RoomInfo{Room: roomID, Members: []MemberInfo{}}
	if rm != nil {
		info.Members = lo.MapToSlice(rm.members, func(_ string, m *member) MemberInfo {
			mi := MemberInfo{ID: m.id, Ready: m.ready}
			if m.dims != nil {
				mi.Width = m.dims.Width
				mi.Height = m.dims.Height
			}
			return mi
		})
	}
	s.mu.Unlock()

	sort.Slice(info.Members, func(i, j int) bool { return info.Members[i].ID < info.Members[j].ID })

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(info); err != nil {
		s.log.Error("encode room info", "err", err)
	}
}

// MemberCount returns how many members are currently in the room.
func (s *Server) MemberCount(roomID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	rm := s.rooms[roomID]
	if rm == nil {
		return 0
	}
	return len(rm.members)
}

// Shutdown disconnects every member. In-flight handlers drain on their own.
func (s *Server) Shutdown() {
	s.mu.Lock()
	var conns []*websocket.Conn
	for _, rm := range s.rooms {
		for _, m := range rm.members {
			conns = append(conns, m.conn)
		}
	}
	s.rooms = make(map[string]*room)
	s.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close(websocket.StatusGoingAway, "relay shutting down")
	}
}
