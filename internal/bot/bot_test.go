package bot

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"mellium.im/xmpp/jid"

	"github.com/meszmate/xmppgate/internal/config"
	"github.com/meszmate/xmppgate/internal/logging"
	"github.com/meszmate/xmppgate/internal/ratelimit"
	"github.com/meszmate/xmppgate/internal/storage/sqlite"
	xmppc "github.com/meszmate/xmppgate/internal/xmpp"
	"github.com/meszmate/xmppgate/internal/xmpp/ibb"
	"github.com/meszmate/xmppgate/internal/xmpp/muc"
	"github.com/meszmate/xmppgate/internal/xmpp/upload"
	"github.com/meszmate/xmppgate/pkg/dispatch"
)

const testAccount = "bot@example.com"

// fakeConn records everything a handler sends and answers IQ round-trips
// from a scripted function.
type fakeConn struct {
	mu      sync.Mutex
	sent    []interface{}
	sendErr error
	iqFn    func(iq *xmppc.IQ) (*xmppc.IQ, error)
	self    jid.JID
}

func (f *fakeConn) Send(_ context.Context, v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, v)
	return nil
}

func (f *fakeConn) RequestIQ(_ context.Context, iq *xmppc.IQ) (*xmppc.IQ, error) {
	f.mu.Lock()
	f.sent = append(f.sent, iq)
	fn := f.iqFn
	f.mu.Unlock()

	if fn != nil {
		return fn(iq)
	}
	return &xmppc.IQ{ID: iq.ID, Type: xmppc.IQResult}, nil
}

func (f *fakeConn) JID() jid.JID {
	return f.self
}

func (f *fakeConn) messages() []*xmppc.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*xmppc.Message
	for _, v := range f.sent {
		if m, ok := v.(*xmppc.Message); ok {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeConn) presences() []*xmppc.Presence {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*xmppc.Presence
	for _, v := range f.sent {
		if p, ok := v.(*xmppc.Presence); ok {
			out = append(out, p)
		}
	}
	return out
}

func (f *fakeConn) iqs() []*xmppc.IQ {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*xmppc.IQ
	for _, v := range f.sent {
		if iq, ok := v.(*xmppc.IQ); ok {
			out = append(out, iq)
		}
	}
	return out
}

func (f *fakeConn) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = nil
}

func newTestSession(t *testing.T) (*Session, *fakeConn) {
	t.Helper()

	store, err := sqlite.New(t.TempDir())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	logger, err := logging.New(logging.Config{Level: "error"})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}

	directory, err := NewDirectory(testAccount, store)
	if err != nil {
		t.Fatalf("failed to create directory: %v", err)
	}

	fc := &fakeConn{self: jid.MustParse(testAccount + "/gateway")}

	s := &Session{
		account:   testAccount,
		cfg:       config.Account{JID: testAccount, Nick: "bot"},
		log:       logger.With(testAccount),
		conn:      fc,
		store:     store,
		directory: directory,
		rooms:     muc.NewManager(),
		ibb:       ibb.NewManager(),
		limiter: ratelimit.New(ratelimit.Config{
			Window:        time.Second,
			MaxPerWindow:  100,
			MaxViolations: 3,
			BlockDuration: time.Minute,
		}),
		deliverer:       dispatch.Discard,
		uploader:        upload.NewClient(),
		httpc:           &http.Client{Timeout: time.Second},
		downloadDir:     t.TempDir(),
		maxInbound:      1 << 20,
		dispatchTimeout: time.Second,
		iqTimeout:       time.Second,
		done:            make(chan struct{}),
	}
	return s, fc
}

// capture replaces the session deliverer with one that records every
// delivered message.
type capture struct {
	mu    sync.Mutex
	msgs  []dispatch.Context
	reply dispatch.Reply
}

func (c *capture) Deliver(_ context.Context, msg dispatch.Context) (dispatch.Reply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return c.reply, nil
}

func (c *capture) delivered() []dispatch.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]dispatch.Context(nil), c.msgs...)
}

func directMessage(from, body string) *xmppc.Message {
	return &xmppc.Message{From: from, Type: "chat", Body: body}
}
