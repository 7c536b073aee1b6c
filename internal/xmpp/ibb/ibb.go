// Package ibb holds in-band bytestream (XEP-0047) receive state.
package ibb

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Session is one inbound IBB transfer, keyed by stream id.
type Session struct {
	SID          string
	From         string
	Filename     string
	DeclaredSize int64

	buf      []byte
	received int64
	nextSeq  uint16
}

// AcceptSeq reports whether seq is the chunk expected next, advancing
// the counter on a match. The counter wraps at 65535 like the wire
// attribute does.
func (s *Session) AcceptSeq(seq uint16) bool {
	if seq != s.nextSeq {
		return false
	}
	s.nextSeq++
	return true
}

// Append adds a decoded chunk to the buffer.
func (s *Session) Append(chunk []byte) {
	s.buf = append(s.buf, chunk...)
	s.received += int64(len(chunk))
}

// Received returns how many bytes have arrived.
func (s *Session) Received() int64 {
	return s.received
}

// Complete reports whether the declared size has been reached.
func (s *Session) Complete() bool {
	return s.received >= s.DeclaredSize
}

// SaveTo writes the buffered bytes under dir using a sanitized filename
// and returns the path written. Partial buffers are flushed as-is. A name
// already taken by an earlier transfer is uniquified, never overwritten.
func (s *Session) SaveTo(dir string) (string, error) {
	name := SanitizeFilename(s.Filename)
	path := filepath.Join(dir, name)

	// Belt and braces: the sanitized name must stay inside dir.
	if !strings.HasPrefix(filepath.Clean(path), filepath.Clean(dir)+string(filepath.Separator)) {
		return "", fmt.Errorf("unsafe filename %q", s.Filename)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0600)
	if os.IsExist(err) {
		path = filepath.Join(dir, fmt.Sprintf("%d-%s", time.Now().UnixNano(), name))
		f, err = os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0600)
	}
	if err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}

	if _, err := f.Write(s.buf); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, nil
}

// SanitizeFilename strips any path components from an offered filename so
// it cannot escape the download directory. Names that sanitize to nothing
// become "download.bin".
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	name = strings.TrimLeft(name, ".")
	if name == "" || name == "/" {
		return "download.bin"
	}
	return name
}

// Manager holds the active IBB sessions for one XMPP session.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates an empty session store.
func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
	}
}

// Create registers a session for sid, replacing any stale one.
func (m *Manager) Create(sid, from, filename string, size int64) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := &Session{
		SID:          sid,
		From:         from,
		Filename:     filename,
		DeclaredSize: size,
	}
	m.sessions[sid] = s
	return s
}

// Get returns the session for sid, or nil.
func (m *Manager) Get(sid string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[sid]
}

// Delete removes the session for sid.
func (m *Manager) Delete(sid string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sid)
}

// Len returns the number of active sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
