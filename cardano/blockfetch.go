package cardano

import (
	"context"

	csm "github.com/machinefabric/csm-go"
	"github.com/machinefabric/csm-go/protocol/blockfetch"
)

// BlockFetchClient drives the initiator side of the block-fetch
// mini-protocol
type BlockFetchClient struct {
	ch *csm.Chan[blockfetch.State, blockfetch.Message]
}

// NewBlockFetchClient wraps a block-fetch channel
func NewBlockFetchClient(ch *csm.Chan[blockfetch.State, blockfetch.Message]) *BlockFetchClient {
	return &BlockFetchClient{ch: ch}
}

// RequestRange asks for the blocks between start and end. A nil Blocks
// means the producer has no blocks for the range; otherwise the caller
// iterates Blocks.Next until it reports the end of the batch.
func (c *BlockFetchClient) RequestRange(ctx context.Context, start, end blockfetch.Point) (*Blocks, error) {
	if err := c.ch.WriteOne(ctx, blockfetch.RequestRange{Start: start, End: end}); err != nil {
		return nil, err
	}
	ret, err := csm.ReadOneMatch(ctx, c.ch, blockfetch.ClientRequestRangeRet)
	if err != nil {
		return nil, err
	}
	switch ret.(type) {
	case blockfetch.NoBlocks:
		return nil, nil
	case blockfetch.StartBatch:
		return &Blocks{ch: c.ch}, nil
	default:
		return nil, csm.ErrInternal
	}
}

// Done ends the protocol
func (c *BlockFetchClient) Done(ctx context.Context) error {
	return c.ch.WriteOne(ctx, blockfetch.ClientDone{})
}

// Blocks iterates one block batch in stream order
type Blocks struct {
	ch       *csm.Chan[blockfetch.State, blockfetch.Message]
	finished bool
}

// Next returns the next block body of the batch, or ok=false after
// BatchDone. Once ok is false the protocol is back in Idle and further
// calls keep returning ok=false.
func (b *Blocks) Next(ctx context.Context) (csm.WrappedCBOR, bool, error) {
	if b.finished {
		return nil, false, nil
	}
	msg, err := b.ch.ReadOne(ctx)
	if err != nil {
		return nil, false, err
	}
	switch v := msg.(type) {
	case blockfetch.Block:
		return v.Body, true, nil
	case blockfetch.BatchDone:
		b.finished = true
		return nil, false, nil
	default:
		// Streaming admits no other message; the transition check
		// would have rejected it before we got here
		return nil, false, csm.ErrInternal
	}
}
