// Package dispatch defines the boundary between the XMPP protocol engine
// and the host gateway that produces replies for forwarded messages.
package dispatch

import (
	"context"
	"time"
)

// ChatType discriminates where a message arrived.
type ChatType string

const (
	ChatDirect ChatType = "chat"
	ChatGroup  ChatType = "groupchat"
)

// Context is the normalized inbound message handed to the host.
type Context struct {
	// Account is the bare JID of the engine account that received the
	// message.
	Account string

	// From is the bare JID of the sender.
	From string

	// Body is the raw message body, including any leading slash command.
	Body string

	// SessionKey identifies the conversation for host-side session
	// recording (account + peer).
	SessionKey string

	// ChatType is direct chat or groupchat.
	ChatType ChatType

	// Media holds local paths or remote URLs of attachments that came
	// with the message.
	Media []string

	// Received is when the engine accepted the message.
	Received time.Time
}

// Reply is the host's answer to a delivered message. An empty Text means
// the host chose not to respond.
type Reply struct {
	Text string
}

// Deliverer is implemented by the host gateway. Deliver must honor the
// context deadline; the engine never waits on it unboundedly.
type Deliverer interface {
	Deliver(ctx context.Context, msg Context) (Reply, error)
}

// Func adapts a function to the Deliverer interface.
type Func func(ctx context.Context, msg Context) (Reply, error)

// Deliver calls f.
func (f Func) Deliver(ctx context.Context, msg Context) (Reply, error) {
	return f(ctx, msg)
}

// Discard is a Deliverer that accepts every message and never replies.
var Discard Deliverer = Func(func(context.Context, Context) (Reply, error) {
	return Reply{}, nil
})
