package bot

import (
	"context"
	"fmt"
	"net/http"
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

// conn is the session-bound send surface of the wire client. It is an
// interface so handler tests can substitute a fake.
type conn interface {
	Send(ctx context.Context, v interface{}) error
	RequestIQ(ctx context.Context, iq *xmppc.IQ) (*xmppc.IQ, error)
	JID() jid.JID
}

// Session is one live account: the wire client plus all per-session
// protocol state. Stanza handlers run to completion, one at a time, on
// the dispatcher goroutine; the per-session maps need no extra locking
// beyond what their owning managers provide.
type Session struct {
	account string
	cfg     config.Account
	log     *logging.Tagged

	client *xmppc.Client
	conn   conn

	store     *sqlite.DB
	directory *Directory
	rooms     *muc.Manager
	ibb       *ibb.Manager
	limiter   *ratelimit.Limiter
	deliverer dispatch.Deliverer

	uploader *upload.Client
	httpc    *http.Client

	downloadDir     string
	maxInbound      int64
	dispatchTimeout time.Duration
	iqTimeout       time.Duration

	events <-chan xmppc.Stanza
	done   chan struct{}
}

// SessionOptions bundles what a Session needs besides its account config.
type SessionOptions struct {
	Password  string
	Engine    *config.Config
	Logger    *logging.Logger
	Store     *sqlite.DB
	Deliverer dispatch.Deliverer
}

// NewSession builds an unconnected session for the account.
func NewSession(acc config.Account, opts SessionOptions) (*Session, error) {
	j, err := jid.Parse(acc.JID)
	if err != nil {
		return nil, fmt.Errorf("invalid account JID: %w", err)
	}
	account := j.Bare().String()

	directory, err := NewDirectory(account, opts.Store)
	if err != nil {
		return nil, err
	}

	client, err := xmppc.NewClient(xmppc.Config{
		JID:      acc.JID,
		Password: opts.Password,
		Server:   acc.Server,
		Port:     acc.Port,
		Resource: acc.Resource,
	})
	if err != nil {
		return nil, err
	}

	limits := opts.Engine.Limits
	deliverer := opts.Deliverer
	if deliverer == nil {
		deliverer = dispatch.Discard
	}

	return &Session{
		account:   account,
		cfg:       acc,
		log:       opts.Logger.With(account),
		client:    client,
		conn:      client,
		store:     opts.Store,
		directory: directory,
		rooms:     muc.NewManager(),
		ibb:       ibb.NewManager(),
		limiter: ratelimit.New(ratelimit.Config{
			Window:        time.Duration(limits.WindowMS) * time.Millisecond,
			MaxPerWindow:  limits.MaxPerWindow,
			MaxViolations: limits.MaxViolations,
			BlockDuration: time.Duration(limits.BlockMS) * time.Millisecond,
		}),
		deliverer:       deliverer,
		uploader:        upload.NewClient(),
		httpc:           &http.Client{Timeout: 30 * time.Second},
		downloadDir:     opts.Engine.General.DownloadDir,
		maxInbound:      opts.Engine.Transfer.MaxInboundSize,
		dispatchTimeout: time.Duration(opts.Engine.Dispatch.TimeoutMS) * time.Millisecond,
		iqTimeout:       30 * time.Second,
		done:            make(chan struct{}),
	}, nil
}

// Start connects, seeds session state, and launches the dispatcher loop.
func (s *Session) Start() error {
	if err := s.client.Connect(); err != nil {
		return err
	}
	s.events = s.client.Events()

	if s.cfg.AdminJID != "" {
		if err := s.directory.AddAdmin(s.cfg.AdminJID); err != nil {
			s.log.Warn("failed to seed admin %s: %v", s.cfg.AdminJID, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.iqTimeout)
	defer cancel()

	// Announce availability before anything else.
	if err := s.conn.Send(ctx, &xmppc.Presence{}); err != nil {
		s.log.Warn("failed to send initial presence: %v", err)
	}

	go s.seedVCard()

	for _, room := range s.cfg.Rooms {
		if _, err := s.joinRoom(room, s.cfg.Nick); err != nil {
			s.log.Warn("failed to join room %s: %v", room, err)
		}
	}

	go s.run()

	s.log.Info("session started as %s", s.client.JID())
	return nil
}

// Stop aborts the session: intake stops, the connection closes, and
// in-flight IBB transfers are abandoned. Persisted state is already
// consistent because every mutation writes through.
func (s *Session) Stop() {
	select {
	case <-s.done:
		return
	default:
	}
	close(s.done)
	if s.client != nil {
		_ = s.client.Close()
	}
}

func (s *Session) run() {
	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-s.events:
			if !ok {
				if err := s.client.ReadErr(); err != nil {
					s.log.Error("stream closed: %v", err)
				} else {
					s.log.Info("stream closed")
				}
				return
			}
			s.handleStanza(ev)
		}
	}
}

// Account returns the bare JID the session runs as.
func (s *Session) Account() string {
	return s.account
}

func (s *Session) domain() string {
	return s.conn.JID().Domain().String()
}

// reply sends a direct chat message.
func (s *Session) reply(to, body string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.iqTimeout)
	defer cancel()
	msg := &xmppc.Message{To: to, Type: "chat", Body: body}
	if err := s.conn.Send(ctx, msg); err != nil {
		s.log.Warn("failed to send message to %s: %v", to, err)
	}
}

// respond answers in the chat a message arrived from: the sender for
// direct chat, the room for groupchat.
func (s *Session) respond(m *xmppc.Message, body string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.iqTimeout)
	defer cancel()

	out := &xmppc.Message{Body: body, Type: "chat"}
	from, err := jid.Parse(m.From)
	if err != nil {
		return
	}
	if m.Type == "groupchat" {
		out.Type = "groupchat"
		out.To = from.Bare().String()
	} else {
		out.To = from.Bare().String()
	}
	if err := s.conn.Send(ctx, out); err != nil {
		s.log.Warn("failed to respond to %s: %v", out.To, err)
	}
}

// notifyAdmins sends a direct message to every admin.
func (s *Session) notifyAdmins(body string) {
	for _, admin := range s.directory.Admins() {
		s.reply(admin, body)
	}
}

func (s *Session) recordMessage(peer, body, msgType string, outgoing bool) {
	if body == "" {
		return
	}
	if err := s.store.SaveMessage(s.account, peer, body, msgType, time.Now(), outgoing); err != nil {
		s.log.Warn("failed to record message: %v", err)
	}
}
