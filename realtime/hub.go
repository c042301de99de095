package realtime

import (
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const defaultPeerBuffer = 32

// Peer is a single client connection. Room membership is owned by the
// connection: only the goroutine serving it joins or leaves rooms.
type Peer struct {
	ID     string
	UserID string

	out   chan Envelope
	rooms map[Room]struct{}
}

// Out yields envelopes addressed to the peer until it is disconnected.
func (p *Peer) Out() <-chan Envelope { return p.out }

// Hub tracks room membership for the connections served by this process.
type Hub struct {
	logger *log.Logger
	buffer int

	mu    sync.RWMutex
	rooms map[Room]map[*Peer]struct{}
	peers map[*Peer]struct{}
}

// NewHub creates a hub whose peers buffer up to buffer pending envelopes.
func NewHub(logger *log.Logger, buffer int) *Hub {
	if logger == nil {
		logger = log.StandardLogger()
	}
	if buffer <= 0 {
		buffer = defaultPeerBuffer
	}
	return &Hub{
		logger: logger,
		buffer: buffer,
		rooms:  make(map[Room]map[*Peer]struct{}),
		peers:  make(map[*Peer]struct{}),
	}
}

// Connect registers a new peer for userID.
func (h *Hub) Connect(userID string) *Peer {
	p := &Peer{
		ID:     uuid.NewString(),
		UserID: userID,
		out:    make(chan Envelope, h.buffer),
		rooms:  make(map[Room]struct{}),
	}
	h.mu.Lock()
	h.peers[p] = struct{}{}
	h.mu.Unlock()
	h.logger.WithFields(log.Fields{"peer": p.ID, "user": userID}).Debug("peer connected")
	return p
}

// Disconnect removes the peer from every room and closes its outbound channel.
func (h *Hub) Disconnect(p *Peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.peers[p]; !ok {
		return
	}
	for room := range p.rooms {
		h.removeLocked(p, room)
	}
	delete(h.peers, p)
	close(p.out)
	h.logger.WithFields(log.Fields{"peer": p.ID, "user": p.UserID}).Debug("peer disconnected")
}

// Join adds the peer to room. Joining twice is a no-op.
func (h *Hub) Join(p *Peer, room Room) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.peers[p]; !ok {
		return
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Peer]struct{})
		h.rooms[room] = members
	}
	members[p] = struct{}{}
	p.rooms[room] = struct{}{}
	h.logger.WithFields(log.Fields{"peer": p.ID, "room": room}).Debug("joined room")
}

// Leave removes the peer from room.
func (h *Hub) Leave(p *Peer, room Room) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(p, room)
}

func (h *Hub) removeLocked(p *Peer, room Room) {
	delete(p.rooms, room)
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, p)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

// Members reports how many peers are in room.
func (h *Hub) Members(room Room) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Deliver pushes env to every peer in its room. Slow peers whose buffer is
// full miss the envelope rather than stalling the others.
func (h *Hub) Deliver(env Envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for p := range h.rooms[env.Room] {
		select {
		case p.out <- env:
		default:
			h.logger.WithFields(log.Fields{"peer": p.ID, "room": env.Room, "event": env.Event}).Warn("peer buffer full, dropping event")
		}
	}
}

// Send queues env for a single peer, reporting whether it was accepted.
func (h *Hub) Send(p *Peer, env Envelope) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.peers[p]; !ok {
		return false
	}
	select {
	case p.out <- env:
		return true
	default:
		return false
	}
}

// Emit encodes payload and delivers it to the local room.
func (h *Hub) Emit(room Room, event string, payload any) {
	env, err := NewEnvelope(room, event, payload)
	if err != nil {
		h.logger.WithFields(log.Fields{"room": room, "event": event}).Errorf("encode event: %v", err)
		return
	}
	h.Deliver(env)
}
