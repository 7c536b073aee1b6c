package bot

import (
	"context"
	"fmt"
	"time"

	"mellium.im/xmpp/jid"

	"github.com/meszmate/xmppgate/internal/storage/sqlite"
	xmppc "github.com/meszmate/xmppgate/internal/xmpp"
)

// Pending workflow states.
const (
	statusPending  = "pending"
	statusApproved = "approved"
	statusDenied   = "denied"
)

func (s *Session) handlePresence(p *xmppc.Presence) {
	from, err := jid.Parse(p.From)
	if err != nil {
		return
	}
	bare := from.Bare().String()

	switch p.Type {
	case "subscribe":
		s.handleSubscribe(bare)
	case "probe":
		// Always answered, independent of contact status.
		s.sendPresence(&xmppc.Presence{To: bare})
	case "subscribed":
		s.log.Debug("subscription to %s confirmed", bare)
	case "unsubscribed":
		s.log.Debug("subscription to %s revoked", bare)
	case "error":
		// A tracked room answering a join with an error never admits us;
		// forget the membership so /rooms stays truthful.
		if s.rooms.IsMember(bare) {
			s.log.Warn("dropping room %s after presence error", bare)
			s.rooms.Leave(bare)
		}
	case "unavailable", "":
		if p.MUCUser != nil {
			s.handleMUCPresence(from, p)
		}
	}
}

// handleSubscribe implements the none -> pending -> approved/denied
// workflow. Requests from contacts auto-approve and never enter the
// pending table.
func (s *Session) handleSubscribe(bare string) {
	if s.directory.IsContact(bare) {
		s.approveSubscription(bare)
		return
	}

	pending, err := s.store.GetPendingSubscription(s.account, bare)
	if err != nil {
		s.log.Error("failed to read pending subscription for %s: %v", bare, err)
		return
	}
	if pending != nil && pending.Status == statusPending {
		// Repeat request while still pending; nothing new to do.
		return
	}

	if err := s.store.SavePendingSubscription(s.account, sqlite.PendingSubscription{
		JID:         bare,
		RequestedAt: time.Now(),
		Status:      statusPending,
	}); err != nil {
		s.log.Error("failed to save pending subscription for %s: %v", bare, err)
		return
	}

	s.log.Info("subscription request from %s pending approval", bare)
	s.notifyAdmins(fmt.Sprintf(
		"Subscription request from %s. Send /add %s to approve or /remove %s to deny.",
		bare, bare, bare))
}

// approveSubscription grants mutual presence: subscribed, then a
// reciprocal subscribe.
func (s *Session) approveSubscription(bare string) {
	s.sendPresence(&xmppc.Presence{To: bare, Type: "subscribed"})
	s.sendPresence(&xmppc.Presence{To: bare, Type: "subscribe"})
}

// approvePending resolves a pending subscription as an admin approval:
// the requester becomes a contact and is notified.
func (s *Session) approvePending(bare, name string) error {
	if err := s.directory.AddContact(bare, name); err != nil {
		return err
	}
	s.approveSubscription(bare)

	pending, err := s.store.GetPendingSubscription(s.account, bare)
	if err == nil && pending != nil {
		pending.Status = statusApproved
		_ = s.store.SavePendingSubscription(s.account, *pending)
		s.reply(bare, "Your subscription request was approved.")
	}
	return nil
}

// denyPending resolves a pending subscription as a denial.
func (s *Session) denyPending(bare string) {
	s.sendPresence(&xmppc.Presence{To: bare, Type: "unsubscribed"})

	pending, err := s.store.GetPendingSubscription(s.account, bare)
	if err == nil && pending != nil {
		pending.Status = statusDenied
		_ = s.store.SavePendingSubscription(s.account, *pending)
		s.reply(bare, "Your subscription request was denied.")
	}
}

// handleMUCPresence interprets room status codes: 201/210 mark a freshly
// created room pending configuration, 110 confirms our own entry.
func (s *Session) handleMUCPresence(from jid.JID, p *xmppc.Presence) {
	room := from.Bare().String()
	if !s.rooms.IsMember(room) {
		return
	}

	var self, created bool
	for _, st := range p.MUCUser.Status {
		switch st.Code {
		case xmppc.MUCStatusSelfPresence:
			self = true
		case xmppc.MUCStatusRoomCreated, xmppc.MUCStatusAssignedNick:
			created = true
		}
	}

	if p.Type == "unavailable" {
		if self && s.rooms.Nick(room) == from.Resourcepart() {
			s.log.Info("removed from room %s", room)
			s.rooms.Leave(room)
		}
		return
	}

	if created {
		s.rooms.SetPendingConfig(room)
		// The owner round-trip waits on correlated IQs, so it runs off
		// the dispatcher goroutine.
		go s.configureRoom(room, from.Resourcepart())
		return
	}
	if self {
		s.rooms.SetJoined(room, from.Resourcepart())
		s.log.Info("joined room %s as %s", room, from.Resourcepart())
	}
}

func (s *Session) sendPresence(p *xmppc.Presence) {
	ctx, cancel := context.WithTimeout(context.Background(), s.iqTimeout)
	defer cancel()
	if err := s.conn.Send(ctx, p); err != nil {
		s.log.Warn("failed to send presence to %s: %v", p.To, err)
	}
}
