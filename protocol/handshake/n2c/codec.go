package n2c

import (
	"fmt"
	"sort"

	"github.com/fxamacker/cbor/v2"

	csm "github.com/machinefabric/csm-go"
)

// MarshalCBOR implements cbor.Marshaler: [magic, query:bool]
func (d NodeData) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal([]any{d.Magic, d.Query})
}

// UnmarshalCBOR implements cbor.Unmarshaler
func (d *NodeData) UnmarshalCBOR(data []byte) error {
	var arr []cbor.RawMessage
	if err := cbor.Unmarshal(data, &arr); err != nil {
		return fmt.Errorf("node data is not a CBOR array: %w", err)
	}
	if len(arr) != 2 {
		return fmt.Errorf("node data array length must be 2, got %d", len(arr))
	}
	if err := cbor.Unmarshal(arr[0], &d.Magic); err != nil {
		return fmt.Errorf("node data magic: %w", err)
	}
	if err := cbor.Unmarshal(arr[1], &d.Query); err != nil {
		return fmt.Errorf("node data query: %w", err)
	}
	return nil
}

// MarshalCBOR implements cbor.Marshaler: a map from version to node
// data
func (p VersionProposal) MarshalCBOR() ([]byte, error) {
	m := make(map[uint64]NodeData, len(p))
	for _, e := range p {
		m[uint64(e.Version)] = e.Data
	}
	return cbor.Marshal(m)
}

// UnmarshalCBOR implements cbor.Unmarshaler; entries come out in
// ascending version order
func (p *VersionProposal) UnmarshalCBOR(data []byte) error {
	var m map[uint64]NodeData
	if err := cbor.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("version proposal is not a CBOR map: %w", err)
	}
	out := make(VersionProposal, 0, len(m))
	for raw, nd := range m {
		v, ok := VersionFromInt(raw)
		if !ok {
			return fmt.Errorf("unknown version %d", raw)
		}
		out = append(out, ProposedVersion{Version: v, Data: nd})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	*p = out
	return nil
}

// RefuseReason tags, in declaration order
const (
	tagVersionMismatch uint64 = iota
	tagHandshakeDecodeError
	tagRefused
)

// RefuseReason is the reason sum carried by Refuse
type RefuseReason interface {
	isRefuseReason()
	fmt.Stringer
}

// VersionMismatch lists the versions the responder would have accepted
type VersionMismatch struct {
	Versions []Version
}

// HandshakeDecodeError reports the responder failed to decode the entry
// for Version
type HandshakeDecodeError struct {
	Version Version
	Message string
}

// Refused rejects Version with a free-form explanation
type Refused struct {
	Version Version
	Message string
}

func (VersionMismatch) isRefuseReason()      {}
func (HandshakeDecodeError) isRefuseReason() {}
func (Refused) isRefuseReason()              {}

func (r VersionMismatch) String() string {
	return fmt.Sprintf("version mismatch, acceptable: %v", r.Versions)
}

func (r HandshakeDecodeError) String() string {
	return fmt.Sprintf("decode error for version %d: %s", r.Version, r.Message)
}

func (r Refused) String() string {
	return fmt.Sprintf("version %d refused: %s", r.Version, r.Message)
}

func encodeRefuseReason(r RefuseReason) ([]byte, error) {
	switch v := r.(type) {
	case VersionMismatch:
		return csm.EncodeTagVariant(tagVersionMismatch, v.Versions)
	case HandshakeDecodeError:
		return csm.EncodeTagVariant(tagHandshakeDecodeError, uint64(v.Version), v.Message)
	case Refused:
		return csm.EncodeTagVariant(tagRefused, uint64(v.Version), v.Message)
	default:
		return nil, fmt.Errorf("unknown refuse reason %T", r)
	}
}

func decodeRefuseReason(data []byte) (RefuseReason, error) {
	tag, args, err := csm.DecodeTagVariant(data)
	if err != nil {
		return nil, err
	}
	switch tag {
	case tagVersionMismatch:
		if err := csm.ExpectArgs("VersionMismatch", args, 1); err != nil {
			return nil, err
		}
		var raw []uint64
		if err := cbor.Unmarshal(args[0], &raw); err != nil {
			return nil, fmt.Errorf("VersionMismatch versions: %w", err)
		}
		out := VersionMismatch{Versions: make([]Version, 0, len(raw))}
		for _, rv := range raw {
			v, ok := VersionFromInt(rv)
			if !ok {
				return nil, fmt.Errorf("unknown version %d", rv)
			}
			out.Versions = append(out.Versions, v)
		}
		return out, nil
	case tagHandshakeDecodeError:
		if err := csm.ExpectArgs("HandshakeDecodeError", args, 2); err != nil {
			return nil, err
		}
		var out HandshakeDecodeError
		if err := decodeVersionAndString(args, &out.Version, &out.Message); err != nil {
			return nil, err
		}
		return out, nil
	case tagRefused:
		if err := csm.ExpectArgs("Refused", args, 2); err != nil {
			return nil, err
		}
		var out Refused
		if err := decodeVersionAndString(args, &out.Version, &out.Message); err != nil {
			return nil, err
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown refuse reason tag %d", tag)
	}
}

func decodeVersionAndString(args []cbor.RawMessage, ver *Version, msg *string) error {
	var raw uint64
	if err := cbor.Unmarshal(args[0], &raw); err != nil {
		return fmt.Errorf("refuse reason version: %w", err)
	}
	v, ok := VersionFromInt(raw)
	if !ok {
		return fmt.Errorf("unknown version %d", raw)
	}
	*ver = v
	if err := cbor.Unmarshal(args[1], msg); err != nil {
		return fmt.Errorf("refuse reason message: %w", err)
	}
	return nil
}

// EncodeMessage serializes one handshake message to its tag-variant
// wire form
func EncodeMessage(m Message) ([]byte, error) {
	switch v := m.(type) {
	case ProposeVersions:
		return csm.EncodeTagVariant(TagProposeVersions, v.Proposal)
	case AcceptVersion:
		return csm.EncodeTagVariant(TagAcceptVersion, uint64(v.Version), v.Data)
	case Refuse:
		reason, err := encodeRefuseReason(v.Reason)
		if err != nil {
			return nil, err
		}
		return csm.EncodeTagVariant(TagRefuse, cbor.RawMessage(reason))
	case QueryReply:
		return csm.EncodeTagVariant(TagQueryReply, v.Proposal)
	default:
		return nil, fmt.Errorf("unknown handshake message %T", m)
	}
}

// DecodeMessage parses one CBOR item into a handshake message
func DecodeMessage(data []byte) (Message, error) {
	tag, args, err := csm.DecodeTagVariant(data)
	if err != nil {
		return nil, err
	}
	switch tag {
	case TagProposeVersions:
		if err := csm.ExpectArgs("ProposeVersions", args, 1); err != nil {
			return nil, err
		}
		var m ProposeVersions
		if err := cbor.Unmarshal(args[0], &m.Proposal); err != nil {
			return nil, fmt.Errorf("ProposeVersions proposal: %w", err)
		}
		return m, nil
	case TagAcceptVersion:
		if err := csm.ExpectArgs("AcceptVersion", args, 2); err != nil {
			return nil, err
		}
		var raw uint64
		if err := cbor.Unmarshal(args[0], &raw); err != nil {
			return nil, fmt.Errorf("AcceptVersion version: %w", err)
		}
		v, ok := VersionFromInt(raw)
		if !ok {
			return nil, fmt.Errorf("unknown version %d", raw)
		}
		var m AcceptVersion
		m.Version = v
		if err := cbor.Unmarshal(args[1], &m.Data); err != nil {
			return nil, fmt.Errorf("AcceptVersion data: %w", err)
		}
		return m, nil
	case TagRefuse:
		if err := csm.ExpectArgs("Refuse", args, 1); err != nil {
			return nil, err
		}
		reason, err := decodeRefuseReason(args[0])
		if err != nil {
			return nil, fmt.Errorf("Refuse reason: %w", err)
		}
		return Refuse{Reason: reason}, nil
	case TagQueryReply:
		if err := csm.ExpectArgs("QueryReply", args, 1); err != nil {
			return nil, err
		}
		var m QueryReply
		if err := cbor.Unmarshal(args[0], &m.Proposal); err != nil {
			return nil, fmt.Errorf("QueryReply proposal: %w", err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown handshake message tag %d", tag)
	}
}
