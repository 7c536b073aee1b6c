package bot

import (
	"context"
	"strings"
	"time"

	"mellium.im/xmpp/jid"

	xmppc "github.com/meszmate/xmppgate/internal/xmpp"
	"github.com/meszmate/xmppgate/pkg/dispatch"
)

// handleStanza is the top-level demultiplexer. Every stanza goes to
// exactly one handler family.
func (s *Session) handleStanza(ev xmppc.Stanza) {
	switch v := ev.(type) {
	case *xmppc.Presence:
		s.handlePresence(v)
	case *xmppc.Message:
		s.handleMessage(v)
	case *xmppc.IQ:
		s.handleIQ(v)
	}
}

func (s *Session) handleMessage(m *xmppc.Message) {
	if m.MUCUser != nil && m.MUCUser.Invite != nil {
		s.handleInvite(m)
		return
	}
	if m.Type == "error" {
		s.log.Debug("message error from %s", m.From)
		return
	}

	from, err := jid.Parse(m.From)
	if err != nil {
		return
	}
	bare := from.Bare().String()

	if m.Type == "groupchat" {
		s.handleGroupchatMessage(m, from, bare)
		return
	}

	// Direct chat. Abuse control runs before any routing.
	if !s.limiter.Allow(bare) {
		s.log.Warn("rate limited %s", bare)
		return
	}

	media := s.collectMedia(m)

	if strings.HasPrefix(m.Body, "/") {
		s.routeCommand(m, bare, media)
		return
	}

	if m.Body == "" && len(media) == 0 {
		return
	}

	if !s.directory.IsContact(bare) {
		s.reply(bare, replyMustBeContact)
		return
	}

	s.recordMessage(bare, m.Body, "chat", false)
	s.forward(m, bare, media)
}

func (s *Session) handleGroupchatMessage(m *xmppc.Message, from jid.JID, room string) {
	// Our own reflected messages are recognized by the recorded nick.
	// Known edge case: the map goes stale if the session rejoins under a
	// different nick out of band.
	nick := from.Resourcepart()
	if nick == "" || s.rooms.Nick(room) == nick {
		return
	}
	if !strings.HasPrefix(m.Body, "/") {
		// Groupchat traffic is never forwarded to the host.
		return
	}
	// Occupants are throttled by their room JID; real identities are not
	// visible in groupchat.
	occupant := from.String()
	if !s.limiter.Allow(occupant) {
		s.log.Warn("rate limited %s", occupant)
		return
	}
	s.routeCommand(m, room, nil)
}

// forward hands an authorized message to the host dispatch collaborator
// and sends any reply back through the session.
func (s *Session) forward(m *xmppc.Message, bare string, media []string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.dispatchTimeout)
	defer cancel()

	msg := dispatch.Context{
		Account:    s.account,
		From:       bare,
		Body:       m.Body,
		SessionKey: s.account + "|" + bare,
		ChatType:   dispatch.ChatDirect,
		Media:      media,
		Received:   time.Now(),
	}

	reply, err := s.deliverer.Deliver(ctx, msg)
	if err != nil {
		s.log.Warn("dispatch failed for %s: %v", bare, err)
		return
	}
	if reply.Text == "" {
		return
	}
	s.recordMessage(bare, reply.Text, "chat", true)
	s.reply(bare, reply.Text)
}
