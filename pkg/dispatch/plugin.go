package dispatch

import (
	"context"
	"fmt"
	"net/rpc"
	"os/exec"

	"github.com/hashicorp/go-plugin"
)

// Handshake is the plugin handshake config shared by the engine and host
// gateway binaries.
var Handshake = plugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "XMPPGATE_DISPATCH",
	MagicCookieValue: "xmppgate",
}

// PluginMap is the plugin type map.
var PluginMap = map[string]plugin.Plugin{
	"dispatch": &rpcPlugin{},
}

// Host runs the gateway binary as a subprocess and delivers messages to it
// over net/rpc.
type Host struct {
	client    *plugin.Client
	deliverer Deliverer
}

// NewHost launches the gateway binary at path and connects to it.
func NewHost(path string) (*Host, error) {
	client := plugin.NewClient(&plugin.ClientConfig{
		HandshakeConfig: Handshake,
		Plugins:         PluginMap,
		Cmd:             exec.Command(path),
		AllowedProtocols: []plugin.Protocol{
			plugin.ProtocolNetRPC,
		},
	})

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("failed to connect to dispatch plugin: %w", err)
	}

	raw, err := rpcClient.Dispense("dispatch")
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("failed to dispense dispatch plugin: %w", err)
	}

	return &Host{
		client:    client,
		deliverer: raw.(Deliverer),
	}, nil
}

// Deliver forwards the message to the gateway subprocess.
func (h *Host) Deliver(ctx context.Context, msg Context) (Reply, error) {
	return h.deliverer.Deliver(ctx, msg)
}

// Close kills the gateway subprocess.
func (h *Host) Close() {
	h.client.Kill()
}

// Serve is called from the host gateway binary's main to expose its
// Deliverer implementation to the engine.
func Serve(impl Deliverer) {
	plugin.Serve(&plugin.ServeConfig{
		HandshakeConfig: Handshake,
		Plugins: map[string]plugin.Plugin{
			"dispatch": &rpcPlugin{impl: impl},
		},
	})
}

// rpcPlugin is the go-plugin glue for the net/rpc protocol.
type rpcPlugin struct {
	impl Deliverer
}

func (p *rpcPlugin) Server(*plugin.MuxBroker) (interface{}, error) {
	return &rpcServer{impl: p.impl}, nil
}

func (p *rpcPlugin) Client(_ *plugin.MuxBroker, c *rpc.Client) (interface{}, error) {
	return &rpcClient{client: c}, nil
}

// DeliverArgs is the wire form of a delivery request.
type DeliverArgs struct {
	Msg Context
}

// DeliverResp is the wire form of a delivery response.
type DeliverResp struct {
	Reply Reply
}

type rpcServer struct {
	impl Deliverer
}

func (s *rpcServer) Deliver(args *DeliverArgs, resp *DeliverResp) error {
	reply, err := s.impl.Deliver(context.Background(), args.Msg)
	if err != nil {
		return err
	}
	resp.Reply = reply
	return nil
}

type rpcClient struct {
	client *rpc.Client
}

// Deliver issues the RPC with a bounded wait: if ctx expires first the
// call is abandoned and the deadline error is returned.
func (c *rpcClient) Deliver(ctx context.Context, msg Context) (Reply, error) {
	var resp DeliverResp
	call := c.client.Go("Plugin.Deliver", &DeliverArgs{Msg: msg}, &resp, make(chan *rpc.Call, 1))

	select {
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	case done := <-call.Done:
		if done.Error != nil {
			return Reply{}, done.Error
		}
		return resp.Reply, nil
	}
}
