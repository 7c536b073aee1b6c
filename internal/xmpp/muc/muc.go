// Package muc tracks the rooms a session participates in. The room->nick
// map is the sole source of truth for detecting the session's own
// groupchat messages.
package muc

import (
	"sync"
)

// Room represents a joined or joining MUC room.
type Room struct {
	JID  string
	Nick string

	// Joined is set once self-presence (status 110) confirms entry.
	Joined bool

	// PendingConfig is set while a freshly created room (status 201/210)
	// awaits the owner configuration round-trip.
	PendingConfig bool
}

// Manager manages room membership state for one session.
type Manager struct {
	mu    sync.RWMutex
	rooms map[string]*Room
}

// NewManager creates a new membership manager.
func NewManager() *Manager {
	return &Manager{
		rooms: make(map[string]*Room),
	}
}

// Join records that the session is entering roomJID under nick.
func (m *Manager) Join(roomJID, nick string) *Room {
	m.mu.Lock()
	defer m.mu.Unlock()

	room := &Room{JID: roomJID, Nick: nick}
	m.rooms[roomJID] = room
	return room
}

// Leave removes a room regardless of its state.
func (m *Manager) Leave(roomJID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rooms, roomJID)
}

// Get returns a room by JID, or nil.
func (m *Manager) Get(roomJID string) *Room {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rooms[roomJID]
}

// Nick returns the nick used in roomJID, or "" when not a member.
func (m *Manager) Nick(roomJID string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if room := m.rooms[roomJID]; room != nil {
		return room.Nick
	}
	return ""
}

// IsMember reports whether roomJID is tracked.
func (m *Manager) IsMember(roomJID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.rooms[roomJID]
	return ok
}

// SetJoined marks entry into a room as confirmed and clears the
// pending-configuration flag. The service may have assigned a different
// nick; the recorded nick is updated to match.
func (m *Manager) SetJoined(roomJID, nick string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if room := m.rooms[roomJID]; room != nil {
		room.Joined = true
		room.PendingConfig = false
		if nick != "" {
			room.Nick = nick
		}
	}
}

// SetPendingConfig marks a room as awaiting owner configuration.
func (m *Manager) SetPendingConfig(roomJID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if room := m.rooms[roomJID]; room != nil {
		room.PendingConfig = true
	}
}

// PendingConfig reports whether a room awaits owner configuration.
func (m *Manager) PendingConfig(roomJID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if room := m.rooms[roomJID]; room != nil {
		return room.PendingConfig
	}
	return false
}

// All returns every tracked room.
func (m *Manager) All() []*Room {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rooms := make([]*Room, 0, len(m.rooms))
	for _, room := range m.rooms {
		rooms = append(rooms, room)
	}
	return rooms
}
