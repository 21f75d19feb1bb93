package cardano

import (
	"context"
	"fmt"

	csm "github.com/machinefabric/csm-go"
	"github.com/machinefabric/csm-go/protocol/keepalive"
)

// KeepAliveClient drives the initiator side of the keep-alive
// mini-protocol
type KeepAliveClient struct {
	ch *csm.Chan[keepalive.State, keepalive.Message]
}

// NewKeepAliveClient wraps a keep-alive channel
func NewKeepAliveClient(ch *csm.Chan[keepalive.State, keepalive.Message]) *KeepAliveClient {
	return &KeepAliveClient{ch: ch}
}

// Ping sends a cookie and waits for its echo. A cookie mismatch means
// the server answered a different ping and poisons the exchange. The
// declared table treats the answered state as terminal, so one client
// drives one ping; restarting goes through the channel's ReplaceState.
func (c *KeepAliveClient) Ping(ctx context.Context, cookie uint16) error {
	if err := c.ch.WriteOne(ctx, keepalive.KeepAlive{Cookie: cookie}); err != nil {
		return err
	}
	resp, err := csm.ReadOneMatch(ctx, c.ch, keepalive.ClientKeepAliveRet)
	if err != nil {
		return err
	}
	if resp.Cookie != cookie {
		return fmt.Errorf("keepalive cookie mismatch: sent %d, got %d", cookie, resp.Cookie)
	}
	return nil
}

// Done ends the protocol
func (c *KeepAliveClient) Done(ctx context.Context) error {
	return c.ch.WriteOne(ctx, keepalive.Done{})
}
