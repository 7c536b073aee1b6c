package xmpp

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"mellium.im/sasl"
	"mellium.im/xmpp"
	"mellium.im/xmpp/jid"
)

// Client wraps the Mellium XMPP session and turns the inbound stream into
// a channel of typed stanza events.
type Client struct {
	session   *xmpp.Session
	jid       jid.JID
	password  string
	server    string
	port      int
	resource  string
	connected bool
	mu        sync.RWMutex

	// sendMu serializes writes to the session.
	sendMu sync.Mutex

	// pending holds IQ-correlation waiters keyed by stanza id.
	pendingMu sync.Mutex
	pending   map[string]chan *IQ

	events  chan Stanza
	done    chan struct{}
	readErr error

	ctx    context.Context
	cancel context.CancelFunc
}

// Config contains configuration for the XMPP client.
type Config struct {
	JID      string
	Password string
	Server   string
	Port     int
	Resource string
}

// eventBuffer bounds the inbound queue. Correlated IQ replies bypass it,
// so a full queue only delays ordinary stanza handling.
const eventBuffer = 256

// NewClient creates a new XMPP client.
func NewClient(cfg Config) (*Client, error) {
	j, err := jid.Parse(cfg.JID)
	if err != nil {
		return nil, fmt.Errorf("invalid JID: %w", err)
	}

	if cfg.Resource != "" {
		j, err = j.WithResource(cfg.Resource)
		if err != nil {
			return nil, fmt.Errorf("invalid resource: %w", err)
		}
	}

	if cfg.Port == 0 {
		cfg.Port = 5222
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Client{
		jid:      j,
		password: cfg.Password,
		server:   cfg.Server,
		port:     cfg.Port,
		resource: cfg.Resource,
		pending:  make(map[string]chan *IQ),
		events:   make(chan Stanza, eventBuffer),
		done:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Connect establishes a connection to the XMPP server and starts the read
// loop.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	server := c.server
	if server == "" {
		server = c.jid.Domain().String()
	}

	addr := fmt.Sprintf("%s:%d", server, c.port)

	conn, err := net.DialTimeout("tcp", addr, 30*time.Second)
	if err != nil {
		return fmt.Errorf("failed to dial server: %w", err)
	}

	tlsConfig := &tls.Config{
		ServerName: c.jid.Domain().String(),
		MinVersion: tls.VersionTLS12,
	}

	negotiator := xmpp.NewNegotiator(func(_ *xmpp.Session, _ *xmpp.StreamConfig) xmpp.StreamConfig {
		return xmpp.StreamConfig{
			Features: []xmpp.StreamFeature{
				xmpp.StartTLS(tlsConfig),
				xmpp.SASL("", c.password, sasl.ScramSha256Plus, sasl.ScramSha256, sasl.ScramSha1Plus, sasl.ScramSha1, sasl.Plain),
				xmpp.BindResource(),
			},
		}
	})

	session, err := xmpp.NewSession(
		c.ctx,
		c.jid.Domain(),
		c.jid,
		conn,
		0,
		negotiator,
	)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to negotiate session: %w", err)
	}

	c.session = session
	c.connected = true
	c.jid = session.LocalAddr()

	go c.readLoop()

	return nil
}

// Close sends unavailable presence and tears the connection down. In-flight
// correlated waits are released with a closed channel.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return nil
	}

	if c.session != nil {
		c.sendMu.Lock()
		_ = c.session.Encode(c.ctx, &Presence{Type: "unavailable"})
		c.sendMu.Unlock()
	}

	c.cancel()
	if c.session != nil {
		_ = c.session.Close()
	}

	c.connected = false
	c.session = nil
	return nil
}

// Events returns the inbound stanza queue. The channel is closed when the
// read loop exits; ReadErr then reports why.
func (c *Client) Events() <-chan Stanza {
	return c.events
}

// ReadErr returns the error that ended the read loop, if any.
func (c *Client) ReadErr() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.readErr
}

// JID returns the session's negotiated JID.
func (c *Client) JID() jid.JID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.jid
}

// readLoop decodes top-level stanzas and routes them: correlated IQ
// replies go to their waiter, everything else onto the event queue in
// arrival order.
func (c *Client) readLoop() {
	defer close(c.events)
	defer close(c.done)

	c.mu.RLock()
	session := c.session
	c.mu.RUnlock()
	if session == nil {
		return
	}

	d := xml.NewTokenDecoder(session.TokenReader())

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		tok, err := d.Token()
		if err != nil {
			if err != io.EOF {
				c.mu.Lock()
				c.readErr = err
				c.mu.Unlock()
			}
			c.failPending()
			c.handleDisconnect()
			return
		}

		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		switch start.Name.Local {
		case "message":
			var m Message
			if err := d.DecodeElement(&m, &start); err != nil {
				continue
			}
			c.emit(&m)
		case "presence":
			var p Presence
			if err := d.DecodeElement(&p, &start); err != nil {
				continue
			}
			c.emit(&p)
		case "iq":
			var iq IQ
			if err := d.DecodeElement(&iq, &start); err != nil {
				continue
			}
			if (iq.Type == IQResult || iq.Type == IQError) && c.resolvePending(&iq) {
				continue
			}
			c.emit(&iq)
		default:
			_ = d.Skip()
		}
	}
}

func (c *Client) emit(s Stanza) {
	select {
	case c.events <- s:
	case <-c.ctx.Done():
	}
}

func (c *Client) handleDisconnect() {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

// Send encodes any stanza struct onto the stream.
func (c *Client) Send(ctx context.Context, v interface{}) error {
	c.mu.RLock()
	session := c.session
	connected := c.connected
	c.mu.RUnlock()

	if !connected || session == nil {
		return fmt.Errorf("not connected")
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return session.Encode(ctx, v)
}

// NewID returns a random stanza id.
func NewID() string {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return fmt.Sprintf("gate-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf[:])
}

// RequestIQ sends an IQ and waits for the correlated result or error, up
// to the context deadline. The stanza id must be set by the caller.
func (c *Client) RequestIQ(ctx context.Context, iq *IQ) (*IQ, error) {
	if iq.ID == "" {
		return nil, fmt.Errorf("iq has no id")
	}

	ch := make(chan *IQ, 1)
	c.pendingMu.Lock()
	c.pending[iq.ID] = ch
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, iq.ID)
		c.pendingMu.Unlock()
	}()

	if err := c.Send(ctx, iq); err != nil {
		return nil, err
	}

	select {
	case reply, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("connection closed while waiting for iq %s", iq.ID)
		}
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, fmt.Errorf("connection closed while waiting for iq %s", iq.ID)
	}
}

func (c *Client) resolvePending(iq *IQ) bool {
	c.pendingMu.Lock()
	ch, ok := c.pending[iq.ID]
	if ok {
		delete(c.pending, iq.ID)
	}
	c.pendingMu.Unlock()

	if ok {
		ch <- iq
	}
	return ok
}

func (c *Client) failPending() {
	c.pendingMu.Lock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()
}

// IsConnected returns whether the client is connected.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}
