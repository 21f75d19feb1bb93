package cardano

import (
	"context"
	"errors"
	"io"

	csm "github.com/machinefabric/csm-go"
	"github.com/machinefabric/csm-go/protocol/blockfetch"
	"github.com/machinefabric/csm-go/protocol/chainsync"
	"github.com/machinefabric/csm-go/protocol/handshake/n2c"
	"github.com/machinefabric/csm-go/protocol/handshake/n2n"
	"github.com/machinefabric/csm-go/protocol/keepalive"
	"github.com/machinefabric/csm-go/protocol/peersharing"
)

// Builder configuration errors
var (
	// ErrProtocolConflict means both node-to-node and node-to-client
	// protocols were requested on one connection
	ErrProtocolConflict = errors.New("node-to-node and node-to-client protocols cannot share a connection")
	// ErrProtocolNotSpecified means Build was called with no protocol
	// registered
	ErrProtocolNotSpecified = errors.New("no protocol registered")
)

// ClientBuilder assembles a client connection: register the wanted
// mini-protocols, then Build over a transport's stream halves. The
// matching handshake profile is added and driven automatically.
//
// The transport itself is the caller's concern: any connected
// (io.Reader, io.Writer) pair works - TCP, Unix socket, or a WebSocket
// tunnel carrying raw frames in binary messages.
type ClientBuilder struct {
	channels  *csm.ChannelsBuilder
	expectN2N bool
	expectN2C bool
	err       error
}

// Client is a built client connection
type Client struct {
	handle *Handle
}

// Handle is re-exported for callers that need connection stats
type Handle = csm.Handle

// Handle returns the underlying connection handle
func (c *Client) Handle() *Handle {
	return c.handle
}

// Close tears the connection's runtime down
func (c *Client) Close() {
	c.handle.Close()
}

// NewClientBuilder creates an empty builder
func NewClientBuilder() *ClientBuilder {
	return &ClientBuilder{channels: csm.NewChannels()}
}

// keep records the first configuration error; the failing With* call
// returns nil and Build surfaces the error
func (b *ClientBuilder) keep(err error) {
	if b.err == nil {
		b.err = err
	}
}

// WithChainSync registers the node-to-node chainsync protocol
func (b *ClientBuilder) WithChainSync() *ChainSyncClient {
	b.expectN2N = true
	ch, err := csm.AddInitiator(b.channels, chainsync.Spec())
	if err != nil {
		b.keep(err)
		return nil
	}
	return NewChainSyncClient(ch)
}

// WithChainSyncN2C registers the node-to-client chainsync protocol
func (b *ClientBuilder) WithChainSyncN2C() *ChainSyncClient {
	b.expectN2C = true
	ch, err := csm.AddInitiator(b.channels, chainsync.SpecN2C())
	if err != nil {
		b.keep(err)
		return nil
	}
	return NewChainSyncClient(ch)
}

// WithBlockFetch registers the block-fetch protocol
func (b *ClientBuilder) WithBlockFetch() *BlockFetchClient {
	b.expectN2N = true
	ch, err := csm.AddInitiator(b.channels, blockfetch.Spec())
	if err != nil {
		b.keep(err)
		return nil
	}
	return NewBlockFetchClient(ch)
}

// WithPeerSharing registers the peer-sharing protocol
func (b *ClientBuilder) WithPeerSharing() *PeerSharingClient {
	b.expectN2N = true
	ch, err := csm.AddInitiator(b.channels, peersharing.Spec())
	if err != nil {
		b.keep(err)
		return nil
	}
	return NewPeerSharingClient(ch)
}

// WithKeepAlive registers the keep-alive protocol
func (b *ClientBuilder) WithKeepAlive() *KeepAliveClient {
	b.expectN2N = true
	ch, err := csm.AddInitiator(b.channels, keepalive.Spec())
	if err != nil {
		b.keep(err)
		return nil
	}
	return NewKeepAliveClient(ch)
}

// Build finalizes the channels, spawns the connection's I/O tasks over
// the stream halves and runs the version negotiation. On a refused
// handshake the connection is closed and the refusal returned.
func (b *ClientBuilder) Build(ctx context.Context, r io.Reader, w io.Writer, version uint64, magic uint64) (*Client, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.expectN2N && b.expectN2C {
		return nil, ErrProtocolConflict
	}
	if !b.expectN2N && !b.expectN2C {
		return nil, ErrProtocolNotSpecified
	}

	if b.expectN2N {
		v, ok := n2n.VersionFromInt(version)
		if !ok {
			return nil, errors.New("unknown node-to-node version")
		}
		hsCh, err := csm.AddInitiator(b.channels, n2n.Spec())
		if err != nil {
			return nil, err
		}
		handle := csm.NewHandle(r, w, b.channels, csm.DefaultHandleConfig())
		hs := NewHandshakeN2NClient(hsCh)
		data := n2n.NodeData{
			Magic:       magic,
			Diffusion:   n2n.InitiatorOnly,
			PeerSharing: n2n.PeerSharingEnabled,
			Query:       false,
		}
		if _, err := hs.Handshake(ctx, v, data); err != nil {
			handle.Close()
			return nil, err
		}
		return &Client{handle: handle}, nil
	}

	v, ok := n2c.VersionFromInt(version)
	if !ok {
		return nil, errors.New("unknown node-to-client version")
	}
	hsCh, err := csm.AddInitiator(b.channels, n2c.Spec())
	if err != nil {
		return nil, err
	}
	handle := csm.NewHandle(r, w, b.channels, csm.DefaultHandleConfig())
	hs := NewHandshakeN2CClient(hsCh)
	if _, err := hs.Handshake(ctx, v, n2c.NodeData{Magic: magic}); err != nil {
		handle.Close()
		return nil, err
	}
	return &Client{handle: handle}, nil
}
