package bot

import (
	"errors"
	"strings"
	"testing"

	xmppc "github.com/meszmate/xmppgate/internal/xmpp"
)

func TestResolveRoom(t *testing.T) {
	s, _ := newTestSession(t)

	if got := s.resolveRoom("team"); got != "team@conference.example.com" {
		t.Fatalf("bare name should expand, got %q", got)
	}
	if got := s.resolveRoom("ops@muc.other.org"); got != "ops@muc.other.org" {
		t.Fatalf("full address should pass through, got %q", got)
	}
}

func TestJoinRoomRequestsZeroHistory(t *testing.T) {
	s, fc := newTestSession(t)

	roomJID, err := s.joinRoom("team", "bot")
	if err != nil {
		t.Fatalf("join failed: %v", err)
	}
	if roomJID != "team@conference.example.com" {
		t.Fatalf("unexpected room jid %q", roomJID)
	}

	ps := fc.presences()
	if len(ps) != 1 {
		t.Fatalf("expected 1 presence, got %d", len(ps))
	}
	p := ps[0]
	if p.To != roomJID+"/bot" {
		t.Fatalf("unexpected join target %q", p.To)
	}
	if p.MUC == nil || p.MUC.History == nil || p.MUC.History.MaxStanzas != 0 {
		t.Fatal("join must request zero history")
	}

	if !s.rooms.IsMember(roomJID) {
		t.Fatal("join must track membership")
	}
	if s.rooms.Get(roomJID).Joined {
		t.Fatal("membership is not confirmed before self presence")
	}
}

func TestLeaveRoomForgetsEvenOnSendError(t *testing.T) {
	s, fc := newTestSession(t)
	room := "team@conference.example.com"
	s.rooms.Join(room, "bot")
	s.rooms.SetJoined(room, "bot")
	fc.sendErr = errors.New("stream gone")

	err := s.leaveRoom("team")
	if err == nil {
		t.Fatal("send failure must surface")
	}
	if s.rooms.IsMember(room) {
		t.Fatal("room must be forgotten regardless of the send result")
	}
}

func TestLeaveUnknownRoom(t *testing.T) {
	s, _ := newTestSession(t)

	if err := s.leaveRoom("nowhere"); err == nil {
		t.Fatal("leaving a room we are not in must fail")
	}
}

func TestInviteRequiresMembership(t *testing.T) {
	s, _ := newTestSession(t)

	if err := s.inviteToRoom("bob@example.com", "team"); err == nil {
		t.Fatal("inviting into a room we are not in must fail")
	}
}

func TestInviteSendsMediatedInvite(t *testing.T) {
	s, fc := newTestSession(t)
	room := "team@conference.example.com"
	s.rooms.Join(room, "bot")
	s.rooms.SetJoined(room, "bot")

	if err := s.inviteToRoom("bob@example.com", "team"); err != nil {
		t.Fatalf("invite failed: %v", err)
	}

	msgs := fc.messages()
	if len(msgs) != 1 || msgs[0].To != room {
		t.Fatalf("mediated invite must go to the room, got %+v", msgs)
	}
	mu := msgs[0].MUCUser
	if mu == nil || mu.Invite == nil || mu.Invite.To != "bob@example.com" {
		t.Fatalf("invite payload missing, got %+v", mu)
	}
}

func TestInviteFromContactAutoJoins(t *testing.T) {
	s, fc := newTestSession(t)
	mustAddContact(t, s, "bob@example.com", "Bob")
	room := "party@conference.example.com"

	s.handleMessage(&xmppc.Message{
		From: room,
		MUCUser: &xmppc.MUCUser{
			Invite: &xmppc.MUCInvite{From: "bob@example.com/pc", Reason: "come"},
		},
	})

	if !s.rooms.IsMember(room) {
		t.Fatal("contact invite must auto-join")
	}
	ps := fc.presences()
	if len(ps) != 1 || !strings.HasPrefix(ps[0].To, room+"/") {
		t.Fatalf("expected join presence to the room, got %+v", ps)
	}
}

func TestInviteFromStrangerPendsForAdmins(t *testing.T) {
	s, fc := newTestSession(t)
	mustAddAdmin(t, s, "alice@example.com")
	room := "party@conference.example.com"

	s.handleMessage(&xmppc.Message{
		From: room,
		MUCUser: &xmppc.MUCUser{
			Invite: &xmppc.MUCInvite{From: "stranger@example.com", Reason: "join us"},
		},
	})

	if s.rooms.IsMember(room) {
		t.Fatal("stranger invite must not auto-join")
	}

	pending, err := s.store.GetPendingInvite(testAccount, room)
	if err != nil || pending == nil {
		t.Fatalf("expected pending invite: %v", err)
	}
	if pending.Status != statusPending || pending.Inviter != "stranger@example.com" {
		t.Fatalf("unexpected pending invite %+v", pending)
	}

	msgs := fc.messages()
	if len(msgs) != 1 || !strings.Contains(msgs[0].Body, "/invite accept "+room) {
		t.Fatalf("admins must be told how to resolve the invite, got %+v", msgs)
	}
}

func TestAcceptInviteJoins(t *testing.T) {
	s, fc := newTestSession(t)
	mustAddAdmin(t, s, "alice@example.com")
	room := "party@conference.example.com"
	s.handleMessage(&xmppc.Message{
		From:    room,
		MUCUser: &xmppc.MUCUser{Invite: &xmppc.MUCInvite{From: "stranger@example.com"}},
	})
	fc.reset()

	if err := s.acceptInvite(room); err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	if !s.rooms.IsMember(room) {
		t.Fatal("accepting must join the room")
	}

	pending, _ := s.store.GetPendingInvite(testAccount, room)
	if pending == nil || pending.Status != statusApproved {
		t.Fatalf("expected approved status, got %+v", pending)
	}
}

func TestDenyInviteDeclines(t *testing.T) {
	s, fc := newTestSession(t)
	mustAddAdmin(t, s, "alice@example.com")
	room := "party@conference.example.com"
	s.handleMessage(&xmppc.Message{
		From:    room,
		MUCUser: &xmppc.MUCUser{Invite: &xmppc.MUCInvite{From: "stranger@example.com"}},
	})
	fc.reset()

	if err := s.denyInvite(room); err != nil {
		t.Fatalf("deny failed: %v", err)
	}
	if s.rooms.IsMember(room) {
		t.Fatal("denying must not join")
	}

	msgs := fc.messages()
	if len(msgs) != 1 || msgs[0].MUCUser == nil || msgs[0].MUCUser.Decline == nil {
		t.Fatalf("expected a decline message, got %+v", msgs)
	}
	if msgs[0].MUCUser.Decline.To != "stranger@example.com" {
		t.Fatalf("decline must address the inviter, got %+v", msgs[0].MUCUser.Decline)
	}

	pending, _ := s.store.GetPendingInvite(testAccount, room)
	if pending == nil || pending.Status != statusDenied {
		t.Fatalf("expected denied status, got %+v", pending)
	}
}

func TestAcceptInviteWithoutPending(t *testing.T) {
	s, _ := newTestSession(t)

	if err := s.acceptInvite("ghost@conference.example.com"); err == nil {
		t.Fatal("accepting without a pending invite must fail")
	}
}

func TestEchoFormKeepsOnlyFieldNames(t *testing.T) {
	form := echoForm(&xmppc.OwnerQuery{
		Form: &xmppc.Form{
			Type: "form",
			Fields: []xmppc.FormField{
				{Var: "muc#roomconfig_roomname", Values: []string{"Old"}},
				{Var: "", Type: "fixed"},
				{Var: "muc#roomconfig_persistentroom", Values: []string{"0"}},
			},
		},
	})

	if form.Type != "submit" {
		t.Fatalf("expected submit form, got %q", form.Type)
	}
	if len(form.Fields) != 2 {
		t.Fatalf("unnamed fields must be dropped, got %d fields", len(form.Fields))
	}
	for _, f := range form.Fields {
		if len(f.Values) != 0 {
			t.Fatalf("field %s must carry no values", f.Var)
		}
	}
}

func TestEchoFormNilQuery(t *testing.T) {
	form := echoForm(nil)
	if form == nil || form.Type != "submit" || len(form.Fields) != 0 {
		t.Fatalf("nil query must yield an empty submit form, got %+v", form)
	}
}
