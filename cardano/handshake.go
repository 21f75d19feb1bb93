// Package cardano provides ergonomic client and server wrappers for the
// Cardano mini-protocols: version negotiation, tip discovery,
// block-range fetching, peer discovery and keep-alive, driven over the
// csm runtime.
package cardano

import (
	"context"
	"fmt"

	csm "github.com/machinefabric/csm-go"
	"github.com/machinefabric/csm-go/protocol/handshake/n2c"
	"github.com/machinefabric/csm-go/protocol/handshake/n2n"
)

// Well-known network magics
const (
	MagicMainnet uint64 = 764824073
	MagicPreprod uint64 = 1
)

// RefusedN2NError reports a refused node-to-node handshake
type RefusedN2NError struct {
	Reason n2n.RefuseReason
}

func (e *RefusedN2NError) Error() string {
	return fmt.Sprintf("connection refused: %s", e.Reason)
}

// RefusedN2CError reports a refused node-to-client handshake
type RefusedN2CError struct {
	Reason n2c.RefuseReason
}

func (e *RefusedN2CError) Error() string {
	return fmt.Sprintf("connection refused: %s", e.Reason)
}

// HandshakeN2NClient drives the initiator side of the node-to-node
// handshake
type HandshakeN2NClient struct {
	ch *csm.Chan[n2n.State, n2n.Message]
}

// NewHandshakeN2NClient wraps a handshake channel
func NewHandshakeN2NClient(ch *csm.Chan[n2n.State, n2n.Message]) *HandshakeN2NClient {
	return &HandshakeN2NClient{ch: ch}
}

// Handshake proposes a single version and waits for the responder's
// verdict. A refusal surfaces as *RefusedN2NError.
func (c *HandshakeN2NClient) Handshake(ctx context.Context, version n2n.Version, data n2n.NodeData) (n2n.NodeData, error) {
	proposal := n2n.VersionProposal{{Version: version, Data: data}}
	if err := c.ch.WriteOne(ctx, n2n.ProposeVersions{Proposal: proposal}); err != nil {
		return n2n.NodeData{}, err
	}
	ret, err := csm.ReadOneMatch(ctx, c.ch, n2n.ClientProposeVersionsRet)
	if err != nil {
		return n2n.NodeData{}, fmt.Errorf("invalid handshake reply: %w", err)
	}
	switch v := ret.(type) {
	case n2n.AcceptVersion:
		return v.Data, nil
	case n2n.Refuse:
		return n2n.NodeData{}, &RefusedN2NError{Reason: v.Reason}
	case n2n.QueryReply:
		// only reachable when the proposal asked query=true
		return n2n.NodeData{}, fmt.Errorf("unexpected handshake query reply to a non-query proposal")
	default:
		return n2n.NodeData{}, csm.ErrInternal
	}
}

// Query proposes with query=true and returns the responder's version
// table without committing to a version
func (c *HandshakeN2NClient) Query(ctx context.Context, version n2n.Version, data n2n.NodeData) (n2n.VersionProposal, error) {
	data.Query = true
	proposal := n2n.VersionProposal{{Version: version, Data: data}}
	if err := c.ch.WriteOne(ctx, n2n.ProposeVersions{Proposal: proposal}); err != nil {
		return nil, err
	}
	ret, err := csm.ReadOneMatch(ctx, c.ch, n2n.ClientProposeVersionsRet)
	if err != nil {
		return nil, fmt.Errorf("invalid handshake reply: %w", err)
	}
	switch v := ret.(type) {
	case n2n.QueryReply:
		return v.Proposal, nil
	case n2n.Refuse:
		return nil, &RefusedN2NError{Reason: v.Reason}
	case n2n.AcceptVersion:
		return n2n.VersionProposal{{Version: v.Version, Data: v.Data}}, nil
	default:
		return nil, csm.ErrInternal
	}
}

// HandshakeN2CClient drives the initiator side of the node-to-client
// handshake
type HandshakeN2CClient struct {
	ch *csm.Chan[n2c.State, n2c.Message]
}

// NewHandshakeN2CClient wraps a handshake channel
func NewHandshakeN2CClient(ch *csm.Chan[n2c.State, n2c.Message]) *HandshakeN2CClient {
	return &HandshakeN2CClient{ch: ch}
}

// Handshake proposes a single version and waits for the responder's
// verdict. A refusal surfaces as *RefusedN2CError.
func (c *HandshakeN2CClient) Handshake(ctx context.Context, version n2c.Version, data n2c.NodeData) (n2c.NodeData, error) {
	proposal := n2c.VersionProposal{{Version: version, Data: data}}
	if err := c.ch.WriteOne(ctx, n2c.ProposeVersions{Proposal: proposal}); err != nil {
		return n2c.NodeData{}, err
	}
	ret, err := csm.ReadOneMatch(ctx, c.ch, n2c.ClientProposeVersionsRet)
	if err != nil {
		return n2c.NodeData{}, fmt.Errorf("invalid handshake reply: %w", err)
	}
	switch v := ret.(type) {
	case n2c.AcceptVersion:
		return v.Data, nil
	case n2c.Refuse:
		return n2c.NodeData{}, &RefusedN2CError{Reason: v.Reason}
	case n2c.QueryReply:
		return n2c.NodeData{}, fmt.Errorf("unexpected handshake query reply to a non-query proposal")
	default:
		return n2c.NodeData{}, csm.ErrInternal
	}
}

// HandshakeN2NServer drives the responder side of the node-to-node
// handshake
type HandshakeN2NServer struct {
	ch *csm.Chan[n2n.State, n2n.Message]
}

// NewHandshakeN2NServer wraps a handshake channel
func NewHandshakeN2NServer(ch *csm.Chan[n2n.State, n2n.Message]) *HandshakeN2NServer {
	return &HandshakeN2NServer{ch: ch}
}

// Handshake waits for the initiator's proposal and answers with
// whatever decide returns
func (s *HandshakeN2NServer) Handshake(ctx context.Context, decide func(n2n.VersionProposal) n2n.ProposeVersionsRet) error {
	propose, err := csm.ReadOneMatch(ctx, s.ch, n2n.ServerProposeFilter)
	if err != nil {
		return fmt.Errorf("invalid handshake query: %w", err)
	}
	return s.ch.WriteOne(ctx, decide(propose.Proposal))
}

// HandshakeN2CServer drives the responder side of the node-to-client
// handshake
type HandshakeN2CServer struct {
	ch *csm.Chan[n2c.State, n2c.Message]
}

// NewHandshakeN2CServer wraps a handshake channel
func NewHandshakeN2CServer(ch *csm.Chan[n2c.State, n2c.Message]) *HandshakeN2CServer {
	return &HandshakeN2CServer{ch: ch}
}

// Handshake waits for the initiator's proposal and answers with
// whatever decide returns
func (s *HandshakeN2CServer) Handshake(ctx context.Context, decide func(n2c.VersionProposal) n2c.ProposeVersionsRet) error {
	propose, err := csm.ReadOneMatch(ctx, s.ch, n2c.ServerProposeFilter)
	if err != nil {
		return fmt.Errorf("invalid handshake query: %w", err)
	}
	return s.ch.WriteOne(ctx, decide(propose.Proposal))
}
