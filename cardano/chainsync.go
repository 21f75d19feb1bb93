package cardano

import (
	"context"

	csm "github.com/machinefabric/csm-go"
	"github.com/machinefabric/csm-go/protocol/chainsync"
)

// ChainSyncClient drives the initiator side of the chainsync
// mini-protocol over either profile
type ChainSyncClient struct {
	ch *csm.Chan[chainsync.State, chainsync.Message]
}

// NewChainSyncClient wraps a chainsync channel of either profile
func NewChainSyncClient(ch *csm.Chan[chainsync.State, chainsync.Message]) *ChainSyncClient {
	return &ChainSyncClient{ch: ch}
}

// GetTip discovers the producer's current tip by probing for an
// intersection with the chain origin. Either reply carries the tip;
// the protocol returns to Idle.
func (c *ChainSyncClient) GetTip(ctx context.Context) (chainsync.Tip, error) {
	msg := chainsync.FindIntersect{Points: []chainsync.Point{chainsync.PointOrigin}}
	if err := c.ch.WriteOne(ctx, msg); err != nil {
		return chainsync.Tip{}, err
	}
	ret, err := csm.ReadOneMatch(ctx, c.ch, chainsync.ClientFindIntersectRet)
	if err != nil {
		return chainsync.Tip{}, err
	}
	switch v := ret.(type) {
	case chainsync.IntersectionFound:
		return v.Tip, nil
	case chainsync.IntersectionNotFound:
		return v.Tip, nil
	default:
		return chainsync.Tip{}, csm.ErrInternal
	}
}

// FindIntersect locates the most recent of points on the producer's
// chain. found=false means none of them is, and the returned tip still
// reports the producer's chain end.
func (c *ChainSyncClient) FindIntersect(ctx context.Context, points []chainsync.Point) (point chainsync.Point, tip chainsync.Tip, found bool, err error) {
	if err := c.ch.WriteOne(ctx, chainsync.FindIntersect{Points: points}); err != nil {
		return chainsync.Point{}, chainsync.Tip{}, false, err
	}
	ret, err := csm.ReadOneMatch(ctx, c.ch, chainsync.ClientFindIntersectRet)
	if err != nil {
		return chainsync.Point{}, chainsync.Tip{}, false, err
	}
	switch v := ret.(type) {
	case chainsync.IntersectionFound:
		return v.Point, v.Tip, true, nil
	case chainsync.IntersectionNotFound:
		return chainsync.Point{}, v.Tip, false, nil
	default:
		return chainsync.Point{}, chainsync.Tip{}, false, csm.ErrInternal
	}
}

// RequestNext asks for the next chain instruction, waiting through an
// AwaitReply when the producer has nothing yet. The returned message is
// either a RollForward or a RollBackward.
func (c *ChainSyncClient) RequestNext(ctx context.Context) (chainsync.RequestNextRet, error) {
	if err := c.ch.WriteOne(ctx, chainsync.RequestNext{}); err != nil {
		return nil, err
	}
	ret, err := csm.ReadOneMatch(ctx, c.ch, chainsync.ClientRequestNextRet)
	if err != nil {
		return nil, err
	}
	if _, await := ret.(chainsync.AwaitReply); await {
		// producer will reply when its chain advances
		return csm.ReadOneMatch(ctx, c.ch, chainsync.ClientRequestNextRet)
	}
	return ret, nil
}

// Done ends the protocol. The channel's table treats the end state as
// terminal; reusing the channel afterwards requires an explicit
// ReplaceState on the underlying Chan.
func (c *ChainSyncClient) Done(ctx context.Context) error {
	return c.ch.WriteOne(ctx, chainsync.SyncDone{})
}
