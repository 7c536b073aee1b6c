package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"mellium.im/xmpp/jid"

	xmppc "github.com/meszmate/xmppgate/internal/xmpp"
)

// pluginCommands is the fixed set of commands the engine handles itself.
// Anything else is a host command.
var pluginCommands = map[string]bool{
	"list":       true,
	"add":        true,
	"remove":     true,
	"admins":     true,
	"whoami":     true,
	"join":       true,
	"rooms":      true,
	"leave":      true,
	"invite":     true,
	"whiteboard": true,
	"vcard":      true,
	"help":       true,
}

// adminCommands additionally require the sender to be in the admin set.
// Admin checks are unconditionally false in groupchat.
var adminCommands = map[string]bool{
	"list":   true,
	"add":    true,
	"remove": true,
	"admins": true,
	"join":   true,
	"rooms":  true,
	"leave":  true,
	"invite": true,
	"vcard":  true,
}

const (
	replyMustBeContact = "You must be a contact to use this gateway. Ask an admin to add you."
	replyAdminOnly     = "This command requires admin privileges."
)

// parseCommand splits a slash command into its case-folded name and
// arguments.
func parseCommand(body string) (string, []string) {
	fields := strings.Fields(body)
	if len(fields) == 0 {
		return "", nil
	}
	name := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	return name, fields[1:]
}

// routeCommand applies the chat-type and admin policy, then dispatches.
// sender is the bare peer JID in direct chat and the room JID in
// groupchat.
func (s *Session) routeCommand(m *xmppc.Message, sender string, media []string) {
	groupchat := m.Type == "groupchat"
	name, args := parseCommand(m.Body)

	if !pluginCommands[name] {
		if groupchat {
			// Non-plugin commands never leave a room.
			return
		}
		if s.directory.IsContact(sender) {
			s.recordMessage(sender, m.Body, "chat", false)
			s.forward(m, sender, media)
			return
		}
		s.reply(sender, replyMustBeContact)
		return
	}

	// Sender identity cannot be verified in groupchat, so admin and
	// contact status are only meaningful in direct chat.
	isAdmin := !groupchat && s.directory.IsAdmin(sender)
	isContact := !groupchat && s.directory.IsContact(sender)

	if adminCommands[name] && !isAdmin {
		if !groupchat && !isContact {
			s.reply(sender, replyMustBeContact)
			return
		}
		s.respond(m, replyAdminOnly)
		return
	}

	switch name {
	case "whoami":
		s.cmdWhoami(m, sender, groupchat, isContact, isAdmin)
	case "help":
		s.cmdHelp(m, sender, groupchat, isContact, media)
	case "whiteboard":
		s.cmdWhiteboard(m, sender, groupchat, isContact, args)
	case "list":
		s.cmdList(m)
	case "add":
		s.cmdAdd(m, args)
	case "remove":
		s.cmdRemove(m, args)
	case "admins":
		s.cmdAdmins(m, args)
	case "join":
		s.cmdJoin(m, args)
	case "rooms":
		s.cmdRooms(m)
	case "leave":
		s.cmdLeave(m, args)
	case "invite":
		s.cmdInvite(m, args)
	case "vcard":
		s.cmdVCard(m, args)
	}
}

func (s *Session) cmdWhoami(m *xmppc.Message, sender string, groupchat, isContact, isAdmin bool) {
	if groupchat {
		s.respond(m, fmt.Sprintf("You are %s. Identity is unverified in groupchat.", m.From))
		return
	}
	s.respond(m, fmt.Sprintf("You are %s. Contact: %v. Admin: %v.", sender, isContact, isAdmin))
}

const helpText = `Available commands:
/whoami - show who you are to this gateway
/help - this help
/whiteboard <path> [text] - share a file (contacts)
Admin commands (direct chat only):
/list, /add <jid> [name], /remove <jid>, /admins [add|unblock <jid>]
/join <room> [nick], /rooms, /leave <room>
/invite accept|deny <room>, /invite <jid> <room>
/vcard get [jid], /vcard set <field> <value>`

func (s *Session) cmdHelp(m *xmppc.Message, sender string, groupchat, isContact bool, media []string) {
	s.respond(m, helpText)
	// Contacts in direct chat also get the host's supplemental help.
	if !groupchat && isContact {
		s.forward(m, sender, media)
	}
}

func (s *Session) cmdWhiteboard(m *xmppc.Message, sender string, groupchat, isContact bool, args []string) {
	if groupchat || !isContact {
		s.respond(m, replyMustBeContact)
		return
	}
	if len(args) < 1 {
		s.respond(m, "Usage: /whiteboard <path> [text]")
		return
	}

	path := args[0]
	text := strings.Join(args[1:], " ")
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := s.SendFile(ctx, sender, path, text); err != nil {
			s.log.Warn("whiteboard send failed: %v", err)
			s.reply(sender, fmt.Sprintf("File send failed: %v", err))
		}
	}()
}

func (s *Session) cmdList(m *xmppc.Message) {
	contacts := s.directory.Contacts()
	if len(contacts) == 0 {
		s.respond(m, "No contacts.")
		return
	}
	var b strings.Builder
	b.WriteString("Contacts:\n")
	for _, c := range contacts {
		if c.Name != "" {
			fmt.Fprintf(&b, "%s (%s)\n", c.JID, c.Name)
		} else {
			fmt.Fprintf(&b, "%s\n", c.JID)
		}
	}
	s.respond(m, strings.TrimRight(b.String(), "\n"))
}

func (s *Session) cmdAdd(m *xmppc.Message, args []string) {
	if len(args) < 1 {
		s.respond(m, "Usage: /add <jid> [name]")
		return
	}
	j, err := jid.Parse(args[0])
	if err != nil {
		s.respond(m, fmt.Sprintf("Invalid JID: %v", err))
		return
	}
	bare := j.Bare().String()
	name := strings.Join(args[1:], " ")

	if err := s.approvePending(bare, name); err != nil {
		s.respond(m, fmt.Sprintf("Failed to add %s: %v", bare, err))
		return
	}
	s.respond(m, fmt.Sprintf("Added %s.", bare))
}

func (s *Session) cmdRemove(m *xmppc.Message, args []string) {
	if len(args) < 1 {
		s.respond(m, "Usage: /remove <jid>")
		return
	}
	j, err := jid.Parse(args[0])
	if err != nil {
		s.respond(m, fmt.Sprintf("Invalid JID: %v", err))
		return
	}
	bare := j.Bare().String()

	pending, err := s.store.GetPendingSubscription(s.account, bare)
	if err == nil && pending != nil && pending.Status == statusPending {
		s.denyPending(bare)
		s.respond(m, fmt.Sprintf("Denied subscription request from %s.", bare))
		return
	}

	if !s.directory.IsContact(bare) {
		s.respond(m, fmt.Sprintf("%s is not a contact.", bare))
		return
	}

	s.sendPresence(&xmppc.Presence{To: bare, Type: "unsubscribed"})
	s.sendPresence(&xmppc.Presence{To: bare, Type: "unsubscribe"})
	if err := s.directory.RemoveContact(bare); err != nil {
		s.respond(m, fmt.Sprintf("Failed to remove %s: %v", bare, err))
		return
	}
	s.respond(m, fmt.Sprintf("Removed %s.", bare))
}

func (s *Session) cmdAdmins(m *xmppc.Message, args []string) {
	if len(args) == 0 {
		s.respond(m, "Admins: "+strings.Join(s.directory.Admins(), ", "))
		return
	}

	switch args[0] {
	case "add":
		if len(args) < 2 {
			s.respond(m, "Usage: /admins add <jid>")
			return
		}
		j, err := jid.Parse(args[1])
		if err != nil {
			s.respond(m, fmt.Sprintf("Invalid JID: %v", err))
			return
		}
		bare := j.Bare().String()
		if err := s.directory.AddAdmin(bare); err != nil {
			s.respond(m, fmt.Sprintf("Failed to add admin: %v", err))
			return
		}
		s.respond(m, fmt.Sprintf("%s is now an admin.", bare))
	case "unblock":
		if len(args) < 2 {
			s.respond(m, "Usage: /admins unblock <jid>")
			return
		}
		s.limiter.Unblock(args[1])
		s.respond(m, fmt.Sprintf("Unblocked %s.", args[1]))
	default:
		s.respond(m, "Usage: /admins [add|unblock <jid>]")
	}
}

func (s *Session) cmdJoin(m *xmppc.Message, args []string) {
	if len(args) < 1 {
		s.respond(m, "Usage: /join <room> [nick]")
		return
	}
	nick := s.cfg.Nick
	if len(args) > 1 {
		nick = args[1]
	}
	roomJID, err := s.joinRoom(args[0], nick)
	if err != nil {
		s.respond(m, fmt.Sprintf("Failed to join %s: %v", args[0], err))
		return
	}
	s.respond(m, fmt.Sprintf("Joining %s as %s.", roomJID, nick))
}

func (s *Session) cmdRooms(m *xmppc.Message) {
	rooms := s.rooms.All()
	if len(rooms) == 0 {
		s.respond(m, "Not in any rooms.")
		return
	}
	var b strings.Builder
	b.WriteString("Rooms:\n")
	for _, r := range rooms {
		state := "joining"
		if r.Joined {
			state = "joined"
		}
		fmt.Fprintf(&b, "%s as %s (%s)\n", r.JID, r.Nick, state)
	}
	s.respond(m, strings.TrimRight(b.String(), "\n"))
}

func (s *Session) cmdLeave(m *xmppc.Message, args []string) {
	if len(args) < 1 {
		s.respond(m, "Usage: /leave <room>")
		return
	}
	if err := s.leaveRoom(args[0]); err != nil {
		s.respond(m, fmt.Sprintf("Left %s with errors: %v", args[0], err))
		return
	}
	s.respond(m, fmt.Sprintf("Left %s.", args[0]))
}

func (s *Session) cmdInvite(m *xmppc.Message, args []string) {
	if len(args) < 2 {
		s.respond(m, "Usage: /invite accept|deny <room>, or /invite <jid> <room>")
		return
	}

	switch args[0] {
	case "accept":
		if err := s.acceptInvite(args[1]); err != nil {
			s.respond(m, fmt.Sprintf("Failed to accept invite: %v", err))
			return
		}
		s.respond(m, fmt.Sprintf("Accepted invite to %s.", args[1]))
	case "deny":
		if err := s.denyInvite(args[1]); err != nil {
			s.respond(m, fmt.Sprintf("Failed to deny invite: %v", err))
			return
		}
		s.respond(m, fmt.Sprintf("Denied invite to %s.", args[1]))
	default:
		if err := s.inviteToRoom(args[0], args[1]); err != nil {
			s.respond(m, fmt.Sprintf("Failed to invite %s: %v", args[0], err))
			return
		}
		s.respond(m, fmt.Sprintf("Invited %s to %s.", args[0], args[1]))
	}
}

func (s *Session) cmdVCard(m *xmppc.Message, args []string) {
	if len(args) < 1 {
		s.respond(m, "Usage: /vcard get [jid], /vcard set <field> <value>")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.iqTimeout)
	defer cancel()

	switch args[0] {
	case "get":
		target := ""
		if len(args) > 1 {
			target = args[1]
		}
		card, err := s.fetchVCard(ctx, target)
		if err != nil {
			s.respond(m, fmt.Sprintf("vCard query failed: %v", err))
			return
		}
		s.respond(m, card.String())
	case "set":
		if len(args) < 3 {
			s.respond(m, "Usage: /vcard set <field> <value>")
			return
		}
		field := args[1]
		value := strings.Join(args[2:], " ")
		if err := s.setVCardField(ctx, field, value); err != nil {
			s.respond(m, fmt.Sprintf("vCard update failed: %v", err))
			return
		}
		s.respond(m, fmt.Sprintf("vCard %s updated.", field))
	default:
		s.respond(m, "Usage: /vcard get [jid], /vcard set <field> <value>")
	}
}
