// Command echogateway is a minimal dispatch plugin. It echoes direct
// messages back to the sender and lists any media the engine attached,
// which makes it useful for exercising the engine end to end without a
// real host application.
package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/meszmate/xmppgate/pkg/dispatch"
)

// EchoGateway is the host-side dispatch implementation.
type EchoGateway struct{}

// Deliver answers every message with an echo of what arrived.
func (EchoGateway) Deliver(_ context.Context, msg dispatch.Context) (dispatch.Reply, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "echo from %s: %s", msg.From, msg.Body)
	if len(msg.Media) > 0 {
		fmt.Fprintf(&b, " [media: %s]", strings.Join(msg.Media, ", "))
	}
	return dispatch.Reply{Text: b.String()}, nil
}

func main() {
	dispatch.Serve(EchoGateway{})
}
