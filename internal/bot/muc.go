package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"mellium.im/xmpp/jid"

	"github.com/meszmate/xmppgate/internal/storage/sqlite"
	xmppc "github.com/meszmate/xmppgate/internal/xmpp"
)

// resolveRoom expands a bare room name to room@conference.<domain>.
func (s *Session) resolveRoom(room string) string {
	if strings.Contains(room, "@") {
		return room
	}
	return room + "@conference." + s.domain()
}

// joinRoom sends MUC presence with zero history and records the
// membership. The returned JID is the resolved room address.
func (s *Session) joinRoom(room, nick string) (string, error) {
	roomJID := s.resolveRoom(room)
	if nick == "" {
		nick = s.cfg.Nick
	}

	if _, err := jid.Parse(roomJID + "/" + nick); err != nil {
		return "", fmt.Errorf("invalid room address: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.iqTimeout)
	defer cancel()

	p := &xmppc.Presence{
		To:  roomJID + "/" + nick,
		MUC: &xmppc.MUCJoin{History: &xmppc.MUCHistory{MaxStanzas: 0}},
	}
	if err := s.conn.Send(ctx, p); err != nil {
		return "", fmt.Errorf("failed to send join presence: %w", err)
	}

	s.rooms.Join(roomJID, nick)
	return roomJID, nil
}

// leaveRoom sends unavailable presence and removes the membership. The
// room is forgotten even when the send fails; it is no longer something
// the session can act in.
func (s *Session) leaveRoom(room string) error {
	roomJID := s.resolveRoom(room)
	nick := s.rooms.Nick(roomJID)
	if nick == "" {
		return fmt.Errorf("not in room %s", roomJID)
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.iqTimeout)
	defer cancel()

	p := &xmppc.Presence{
		To:   roomJID + "/" + nick,
		Type: "unavailable",
	}
	err := s.conn.Send(ctx, p)

	s.rooms.Leave(roomJID)
	if err != nil {
		return fmt.Errorf("failed to send leave presence: %w", err)
	}
	return nil
}

// inviteToRoom sends a mediated invite for peer to the room.
func (s *Session) inviteToRoom(peer, room string) error {
	roomJID := s.resolveRoom(room)
	if !s.rooms.IsMember(roomJID) {
		return fmt.Errorf("not in room %s", roomJID)
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.iqTimeout)
	defer cancel()

	msg := &xmppc.Message{
		To: roomJID,
		MUCUser: &xmppc.MUCUser{
			Invite: &xmppc.MUCInvite{To: peer},
		},
	}
	if err := s.conn.Send(ctx, msg); err != nil {
		return fmt.Errorf("failed to send invite: %w", err)
	}
	return nil
}

// handleInvite applies the invite policy: invites from contacts
// auto-join, everything else waits for an admin.
func (s *Session) handleInvite(m *xmppc.Message) {
	roomFrom, err := jid.Parse(m.From)
	if err != nil {
		return
	}
	room := roomFrom.Bare().String()

	invite := m.MUCUser.Invite
	inviter := ""
	if invite.From != "" {
		if j, err := jid.Parse(invite.From); err == nil {
			inviter = j.Bare().String()
		}
	}

	if inviter != "" && s.directory.IsContact(inviter) {
		s.log.Info("auto-accepting invite to %s from contact %s", room, inviter)
		if _, err := s.joinRoom(room, s.cfg.Nick); err != nil {
			s.log.Warn("failed to join %s: %v", room, err)
		}
		return
	}

	pending, err := s.store.GetPendingInvite(s.account, room)
	if err != nil {
		s.log.Error("failed to read pending invite for %s: %v", room, err)
		return
	}
	if pending != nil && pending.Status == statusPending {
		return
	}

	if err := s.store.SavePendingInvite(s.account, sqlite.PendingInvite{
		Room:      room,
		Inviter:   inviter,
		Reason:    invite.Reason,
		InvitedAt: time.Now(),
		Status:    statusPending,
	}); err != nil {
		s.log.Error("failed to save pending invite for %s: %v", room, err)
		return
	}

	s.log.Info("invite to %s from %s pending approval", room, inviter)
	s.notifyAdmins(fmt.Sprintf(
		"Invite to room %s from %s. Send /invite accept %s or /invite deny %s.",
		room, inviter, room, room))
}

// acceptInvite joins a pending invited room.
func (s *Session) acceptInvite(room string) error {
	roomJID := s.resolveRoom(room)
	pending, err := s.store.GetPendingInvite(s.account, roomJID)
	if err != nil {
		return err
	}
	if pending == nil || pending.Status != statusPending {
		return fmt.Errorf("no pending invite for %s", roomJID)
	}

	if _, err := s.joinRoom(roomJID, s.cfg.Nick); err != nil {
		return err
	}
	pending.Status = statusApproved
	return s.store.SavePendingInvite(s.account, *pending)
}

// denyInvite declines a pending invited room.
func (s *Session) denyInvite(room string) error {
	roomJID := s.resolveRoom(room)
	pending, err := s.store.GetPendingInvite(s.account, roomJID)
	if err != nil {
		return err
	}
	if pending == nil || pending.Status != statusPending {
		return fmt.Errorf("no pending invite for %s", roomJID)
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.iqTimeout)
	defer cancel()

	msg := &xmppc.Message{
		To: roomJID,
		MUCUser: &xmppc.MUCUser{
			Decline: &xmppc.MUCDecline{To: pending.Inviter},
		},
	}
	if err := s.conn.Send(ctx, msg); err != nil {
		s.log.Warn("failed to send decline to %s: %v", roomJID, err)
	}

	pending.Status = statusDenied
	return s.store.SavePendingInvite(s.account, *pending)
}

// configureRoom fetches the owner configuration form for a freshly
// created room and submits it back with the offered field names and
// empty values, accepting every server default.
func (s *Session) configureRoom(room, nick string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.iqTimeout)
	defer cancel()

	get := &xmppc.IQ{
		ID:         xmppc.NewID(),
		To:         room,
		Type:       xmppc.IQGet,
		OwnerQuery: &xmppc.OwnerQuery{},
	}
	reply, err := s.conn.RequestIQ(ctx, get)
	if err != nil {
		s.log.Warn("failed to fetch configuration form for %s: %v", room, err)
		return
	}
	if reply.Type == xmppc.IQError {
		s.log.Warn("room %s refused configuration query", room)
		return
	}

	submit := &xmppc.IQ{
		ID:   xmppc.NewID(),
		To:   room,
		Type: xmppc.IQSet,
		OwnerQuery: &xmppc.OwnerQuery{
			Form: echoForm(reply.OwnerQuery),
		},
	}
	ack, err := s.conn.RequestIQ(ctx, submit)
	if err != nil {
		s.log.Warn("failed to submit configuration for %s: %v", room, err)
		return
	}
	if ack.Type == xmppc.IQError {
		s.log.Warn("room %s rejected configuration submit", room)
		return
	}

	s.rooms.SetJoined(room, nick)
	s.log.Info("configured room %s with server defaults", room)
}

// echoForm builds a submit form from an offered configuration form,
// keeping only the field names. This deliberately skips form
// introspection; empty values make the service apply its defaults.
func echoForm(q *xmppc.OwnerQuery) *xmppc.Form {
	form := &xmppc.Form{Type: "submit"}
	if q == nil || q.Form == nil {
		return form
	}
	for _, f := range q.Form.Fields {
		if f.Var == "" {
			continue
		}
		form.Fields = append(form.Fields, xmppc.FormField{Var: f.Var})
	}
	return form
}
