package bot

import (
	"strings"
	"testing"
	"time"

	"github.com/meszmate/xmppgate/internal/ratelimit"
	xmppc "github.com/meszmate/xmppgate/internal/xmpp"
	"github.com/meszmate/xmppgate/pkg/dispatch"
)

func mustAddContact(t *testing.T, s *Session, jid, name string) {
	t.Helper()
	if err := s.directory.AddContact(jid, name); err != nil {
		t.Fatalf("failed to add contact: %v", err)
	}
}

func mustAddAdmin(t *testing.T, s *Session, jid string) {
	t.Helper()
	if err := s.directory.AddAdmin(jid); err != nil {
		t.Fatalf("failed to add admin: %v", err)
	}
}

func groupMessage(from, body string) *xmppc.Message {
	return &xmppc.Message{From: from, Type: "groupchat", Body: body}
}

func TestNonContactAdminCommandRefused(t *testing.T) {
	s, fc := newTestSession(t)
	mustAddContact(t, s, "alice@example.com", "Alice")

	s.handleMessage(directMessage("eve@example.com/pc", "/list"))

	msgs := fc.messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 reply, got %d", len(msgs))
	}
	if msgs[0].Body != replyMustBeContact {
		t.Fatalf("expected contact refusal, got %q", msgs[0].Body)
	}
	if strings.Contains(msgs[0].Body, "alice@example.com") {
		t.Fatal("refusal must not disclose contact data")
	}
}

func TestContactAdminCommandRefused(t *testing.T) {
	s, fc := newTestSession(t)
	mustAddContact(t, s, "bob@example.com", "Bob")

	s.handleMessage(directMessage("bob@example.com/pc", "/list"))

	msgs := fc.messages()
	if len(msgs) != 1 || msgs[0].Body != replyAdminOnly {
		t.Fatalf("expected admin refusal, got %+v", msgs)
	}
}

func TestGroupchatAdminCommandAlwaysRefused(t *testing.T) {
	s, fc := newTestSession(t)
	room := "team@conference.example.com"
	s.rooms.Join(room, "bot")
	s.rooms.SetJoined(room, "bot")
	// alice is an admin in direct chat, but groupchat identity is not
	// trusted.
	mustAddAdmin(t, s, "alice@example.com")
	mustAddContact(t, s, "alice@example.com", "Alice")

	s.handleMessage(groupMessage(room+"/alice", "/list"))

	msgs := fc.messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 reply, got %d", len(msgs))
	}
	if msgs[0].Type != "groupchat" || msgs[0].To != room {
		t.Fatalf("refusal must go back to the room, got to=%q type=%q", msgs[0].To, msgs[0].Type)
	}
	if msgs[0].Body != replyAdminOnly {
		t.Fatalf("expected admin refusal, got %q", msgs[0].Body)
	}
}

func TestGroupchatNonPluginCommandIgnored(t *testing.T) {
	s, fc := newTestSession(t)
	room := "team@conference.example.com"
	s.rooms.Join(room, "bot")
	s.rooms.SetJoined(room, "bot")

	s.handleMessage(groupMessage(room+"/alice", "/frobnicate now"))

	if n := len(fc.messages()); n != 0 {
		t.Fatalf("expected no reply, got %d", n)
	}
}

func TestGroupchatOwnMessageIgnored(t *testing.T) {
	s, fc := newTestSession(t)
	room := "team@conference.example.com"
	s.rooms.Join(room, "bot")
	s.rooms.SetJoined(room, "bot")

	s.handleMessage(groupMessage(room+"/bot", "/whoami"))

	if n := len(fc.messages()); n != 0 {
		t.Fatalf("reflected own message must be ignored, got %d replies", n)
	}
}

func TestWhoamiAllowedForNonContact(t *testing.T) {
	s, fc := newTestSession(t)

	s.handleMessage(directMessage("eve@example.com/pc", "/whoami"))

	msgs := fc.messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 reply, got %d", len(msgs))
	}
	if !strings.Contains(msgs[0].Body, "eve@example.com") {
		t.Fatalf("whoami must name the sender, got %q", msgs[0].Body)
	}
}

func TestWhiteboardRequiresContact(t *testing.T) {
	s, fc := newTestSession(t)

	s.handleMessage(directMessage("eve@example.com/pc", "/whiteboard /tmp/x.png"))

	msgs := fc.messages()
	if len(msgs) != 1 || msgs[0].Body != replyMustBeContact {
		t.Fatalf("expected contact refusal, got %+v", msgs)
	}
}

func TestAdminAddApprovesPending(t *testing.T) {
	s, fc := newTestSession(t)
	mustAddAdmin(t, s, "alice@example.com")
	mustAddContact(t, s, "alice@example.com", "Alice")

	// eve asks first and lands in the pending table.
	s.handlePresence(&xmppc.Presence{From: "eve@example.com", Type: "subscribe"})
	fc.reset()

	s.handleMessage(directMessage("alice@example.com/pc", "/add eve@example.com Eve"))

	if !s.directory.IsContact("eve@example.com") {
		t.Fatal("eve should be a contact after /add")
	}
	if got := s.directory.ContactName("eve@example.com"); got != "Eve" {
		t.Fatalf("expected name Eve, got %q", got)
	}

	var subscribed, subscribe bool
	for _, p := range fc.presences() {
		if p.To == "eve@example.com" && p.Type == "subscribed" {
			subscribed = true
		}
		if p.To == "eve@example.com" && p.Type == "subscribe" {
			subscribe = true
		}
	}
	if !subscribed || !subscribe {
		t.Fatal("approval must grant and request presence")
	}

	pending, err := s.store.GetPendingSubscription(testAccount, "eve@example.com")
	if err != nil || pending == nil {
		t.Fatalf("pending row missing: %v", err)
	}
	if pending.Status != statusApproved {
		t.Fatalf("expected status approved, got %q", pending.Status)
	}
}

func TestAdminRemoveDeniesPending(t *testing.T) {
	s, fc := newTestSession(t)
	mustAddAdmin(t, s, "alice@example.com")
	mustAddContact(t, s, "alice@example.com", "Alice")

	s.handlePresence(&xmppc.Presence{From: "eve@example.com", Type: "subscribe"})
	fc.reset()

	s.handleMessage(directMessage("alice@example.com/pc", "/remove eve@example.com"))

	if s.directory.IsContact("eve@example.com") {
		t.Fatal("denied requester must not become a contact")
	}

	var unsubscribed bool
	for _, p := range fc.presences() {
		if p.To == "eve@example.com" && p.Type == "unsubscribed" {
			unsubscribed = true
		}
	}
	if !unsubscribed {
		t.Fatal("denial must send unsubscribed")
	}

	pending, err := s.store.GetPendingSubscription(testAccount, "eve@example.com")
	if err != nil || pending == nil {
		t.Fatalf("pending row missing: %v", err)
	}
	if pending.Status != statusDenied {
		t.Fatalf("expected status denied, got %q", pending.Status)
	}
}

func TestAdminRemoveContact(t *testing.T) {
	s, fc := newTestSession(t)
	mustAddAdmin(t, s, "alice@example.com")
	mustAddContact(t, s, "alice@example.com", "Alice")
	mustAddContact(t, s, "bob@example.com", "Bob")

	s.handleMessage(directMessage("alice@example.com/pc", "/remove bob@example.com"))

	if s.directory.IsContact("bob@example.com") {
		t.Fatal("bob should have been removed")
	}
	var unsubscribed, unsubscribe bool
	for _, p := range fc.presences() {
		if p.To == "bob@example.com" && p.Type == "unsubscribed" {
			unsubscribed = true
		}
		if p.To == "bob@example.com" && p.Type == "unsubscribe" {
			unsubscribe = true
		}
	}
	if !unsubscribed || !unsubscribe {
		t.Fatal("removal must revoke presence both ways")
	}
}

func TestContactMessageForwarded(t *testing.T) {
	s, fc := newTestSession(t)
	mustAddContact(t, s, "bob@example.com", "Bob")
	cap := &capture{reply: dispatch.Reply{Text: "ack"}}
	s.deliverer = cap

	s.handleMessage(directMessage("bob@example.com/pc", "hello there"))

	got := cap.delivered()
	if len(got) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(got))
	}
	if got[0].Body != "hello there" {
		t.Fatalf("unexpected body %q", got[0].Body)
	}
	if got[0].SessionKey != testAccount+"|bob@example.com" {
		t.Fatalf("unexpected session key %q", got[0].SessionKey)
	}

	msgs := fc.messages()
	if len(msgs) != 1 || msgs[0].Body != "ack" {
		t.Fatalf("expected host reply to be sent, got %+v", msgs)
	}
}

func TestNonContactMessageNotForwarded(t *testing.T) {
	s, fc := newTestSession(t)
	cap := &capture{}
	s.deliverer = cap

	s.handleMessage(directMessage("eve@example.com/pc", "hello"))

	if len(cap.delivered()) != 0 {
		t.Fatal("non-contact traffic must not reach the host")
	}
	msgs := fc.messages()
	if len(msgs) != 1 || msgs[0].Body != replyMustBeContact {
		t.Fatalf("expected contact refusal, got %+v", msgs)
	}
}

func TestHelpForwardsRawToHostForContacts(t *testing.T) {
	s, fc := newTestSession(t)
	mustAddContact(t, s, "bob@example.com", "Bob")
	cap := &capture{}
	s.deliverer = cap

	s.handleMessage(directMessage("bob@example.com/pc", "/help"))

	msgs := fc.messages()
	if len(msgs) == 0 || !strings.Contains(msgs[0].Body, "/whoami") {
		t.Fatalf("expected local help text, got %+v", msgs)
	}
	got := cap.delivered()
	if len(got) != 1 || got[0].Body != "/help" {
		t.Fatalf("expected raw /help delivered to host, got %+v", got)
	}
}

func TestHelpNotForwardedForNonContact(t *testing.T) {
	s, _ := newTestSession(t)
	cap := &capture{}
	s.deliverer = cap

	s.handleMessage(directMessage("eve@example.com/pc", "/help"))

	if len(cap.delivered()) != 0 {
		t.Fatal("non-contact /help must stay local")
	}
}

func TestUnknownCommandForwardedForContacts(t *testing.T) {
	s, _ := newTestSession(t)
	mustAddContact(t, s, "bob@example.com", "Bob")
	cap := &capture{}
	s.deliverer = cap

	s.handleMessage(directMessage("bob@example.com/pc", "/weather berlin"))

	got := cap.delivered()
	if len(got) != 1 || got[0].Body != "/weather berlin" {
		t.Fatalf("expected host command delivery, got %+v", got)
	}
}

func TestCommandNameCaseFolded(t *testing.T) {
	s, fc := newTestSession(t)

	s.handleMessage(directMessage("eve@example.com/pc", "/WhoAmI"))

	msgs := fc.messages()
	if len(msgs) != 1 || !strings.Contains(msgs[0].Body, "eve@example.com") {
		t.Fatalf("case-folded command should run, got %+v", msgs)
	}
}

func TestAdminsUnblockClearsLimiter(t *testing.T) {
	s, fc := newTestSession(t)
	mustAddAdmin(t, s, "alice@example.com")
	mustAddContact(t, s, "alice@example.com", "Alice")

	// A limiter that blocks almost immediately.
	s.limiter = ratelimit.New(ratelimit.Config{
		Window:        time.Minute,
		MaxPerWindow:  1,
		MaxViolations: 1,
		BlockDuration: time.Hour,
	})
	for i := 0; i < 3; i++ {
		s.limiter.Allow("eve@example.com")
	}
	if !s.limiter.Blocked("eve@example.com") {
		t.Fatal("expected eve to be blocked")
	}

	s.handleMessage(directMessage("alice@example.com/pc", "/admins unblock eve@example.com"))

	if s.limiter.Blocked("eve@example.com") {
		t.Fatal("unblock command should clear the block")
	}
	msgs := fc.messages()
	if len(msgs) == 0 || !strings.Contains(msgs[len(msgs)-1].Body, "Unblocked") {
		t.Fatalf("expected unblock confirmation, got %+v", msgs)
	}
}

func TestRateLimitedSenderDropped(t *testing.T) {
	s, _ := newTestSession(t)
	mustAddContact(t, s, "bob@example.com", "Bob")
	cap := &capture{}
	s.deliverer = cap
	s.limiter = ratelimit.New(ratelimit.Config{
		Window:        time.Minute,
		MaxPerWindow:  1,
		MaxViolations: 10,
		BlockDuration: time.Hour,
	})

	s.handleMessage(directMessage("bob@example.com/pc", "one"))
	s.handleMessage(directMessage("bob@example.com/pc", "two"))

	got := cap.delivered()
	if len(got) != 1 || got[0].Body != "one" {
		t.Fatalf("expected only the first message through, got %+v", got)
	}
}

func TestRateLimitedGroupchatOccupantDropped(t *testing.T) {
	s, fc := newTestSession(t)
	room := "team@conference.example.com"
	s.rooms.Join(room, "bot")
	s.rooms.SetJoined(room, "bot")
	s.limiter = ratelimit.New(ratelimit.Config{
		Window:        time.Minute,
		MaxPerWindow:  1,
		MaxViolations: 10,
		BlockDuration: time.Hour,
	})

	s.handleMessage(groupMessage(room+"/eve", "/whoami"))
	s.handleMessage(groupMessage(room+"/eve", "/whoami"))
	s.handleMessage(groupMessage(room+"/eve", "/whoami"))

	msgs := fc.messages()
	if len(msgs) != 1 {
		t.Fatalf("expected only the first command answered, got %d replies", len(msgs))
	}
}

func TestParseCommand(t *testing.T) {
	name, args := parseCommand("/Add  eve@example.com   Eve  Doe")
	if name != "add" {
		t.Fatalf("expected name add, got %q", name)
	}
	if len(args) != 3 || args[0] != "eve@example.com" || args[2] != "Doe" {
		t.Fatalf("unexpected args %v", args)
	}
}
