package cardano

import (
	"context"
	"net/netip"

	csm "github.com/machinefabric/csm-go"
	"github.com/machinefabric/csm-go/protocol/peersharing"
)

// PeerSharingClient drives the initiator side of the peer-sharing
// mini-protocol. The runtime exposes peer sharing as a pipe; ranking
// the returned addresses is the caller's concern.
type PeerSharingClient struct {
	ch   *csm.Chan[peersharing.State, peersharing.Message]
	seen map[netip.AddrPort]struct{}
}

// NewPeerSharingClient wraps a peer-sharing channel
func NewPeerSharingClient(ch *csm.Chan[peersharing.State, peersharing.Message]) *PeerSharingClient {
	return &PeerSharingClient{
		ch:   ch,
		seen: make(map[netip.AddrPort]struct{}),
	}
}

// RequestOnce sends one ShareRequest and waits for the reply, returning
// only addresses not seen on previous requests of this client. Deadlines
// come from the caller's context.
func (c *PeerSharingClient) RequestOnce(ctx context.Context, count uint8) ([]netip.AddrPort, error) {
	if err := c.ch.WriteOne(ctx, peersharing.ShareRequest{Count: count}); err != nil {
		return nil, err
	}
	reply, err := csm.ReadOneMatch(ctx, c.ch, peersharing.ClientShareRequestRet)
	if err != nil {
		return nil, err
	}
	fresh := make([]netip.AddrPort, 0, len(reply.Peers))
	for _, p := range reply.Peers {
		ap := p.AddrPort()
		if _, dup := c.seen[ap]; dup {
			continue
		}
		c.seen[ap] = struct{}{}
		fresh = append(fresh, ap)
	}
	return fresh, nil
}

// Known returns how many distinct addresses the client has collected
func (c *PeerSharingClient) Known() int {
	return len(c.seen)
}

// Done ends the protocol
func (c *PeerSharingClient) Done(ctx context.Context) error {
	return c.ch.WriteOne(ctx, peersharing.Done{})
}
