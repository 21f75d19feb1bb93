package chainsync

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// HashSize is the size of a block header hash
const HashSize = 32

// Hash is a block header hash
type Hash [HashSize]byte

// Point references a position on a chain: either the chain origin or a
// (slot, header hash) pair. The wire form is a CBOR array of length 0
// (origin) or 2.
type Point struct {
	origin bool
	Slot   uint64
	Hash   Hash
}

// PointOrigin is the chain origin
var PointOrigin = Point{origin: true}

// NewPoint creates a point referencing the block at slot with the given
// header hash
func NewPoint(slot uint64, hash Hash) Point {
	return Point{Slot: slot, Hash: hash}
}

// IsOrigin reports whether the point is the chain origin
func (p Point) IsOrigin() bool {
	return p.origin
}

func (p Point) String() string {
	if p.origin {
		return "origin"
	}
	return fmt.Sprintf("%d@%x", p.Slot, p.Hash[:])
}

// MarshalCBOR implements cbor.Marshaler
func (p Point) MarshalCBOR() ([]byte, error) {
	if p.origin {
		return cbor.Marshal([]any{})
	}
	return cbor.Marshal([]any{p.Slot, p.Hash[:]})
}

// UnmarshalCBOR implements cbor.Unmarshaler
func (p *Point) UnmarshalCBOR(data []byte) error {
	var arr []cbor.RawMessage
	if err := cbor.Unmarshal(data, &arr); err != nil {
		return fmt.Errorf("point is not a CBOR array: %w", err)
	}
	switch len(arr) {
	case 0:
		*p = PointOrigin
		return nil
	case 2:
		var slot uint64
		if err := cbor.Unmarshal(arr[0], &slot); err != nil {
			return fmt.Errorf("point slot: %w", err)
		}
		var hash []byte
		if err := cbor.Unmarshal(arr[1], &hash); err != nil {
			return fmt.Errorf("point hash: %w", err)
		}
		if len(hash) != HashSize {
			return fmt.Errorf("point hash must be %d bytes, got %d", HashSize, len(hash))
		}
		p.origin = false
		p.Slot = slot
		copy(p.Hash[:], hash)
		return nil
	default:
		return fmt.Errorf("point array length must be 0 or 2, got %d", len(arr))
	}
}

// Tip names the current end of a chain: its point and block number. The
// wire form is the array [point, block_number].
type Tip struct {
	Point       Point
	BlockNumber uint64
}

// TipOrigin is the tip of an empty chain
var TipOrigin = Tip{Point: PointOrigin}

func (t Tip) String() string {
	return fmt.Sprintf("%d-%s", t.BlockNumber, t.Point)
}

// MarshalCBOR implements cbor.Marshaler
func (t Tip) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal([]any{t.Point, t.BlockNumber})
}

// UnmarshalCBOR implements cbor.Unmarshaler
func (t *Tip) UnmarshalCBOR(data []byte) error {
	var arr []cbor.RawMessage
	if err := cbor.Unmarshal(data, &arr); err != nil {
		return fmt.Errorf("tip is not a CBOR array: %w", err)
	}
	if len(arr) != 2 {
		return fmt.Errorf("tip array length must be 2, got %d", len(arr))
	}
	if err := cbor.Unmarshal(arr[0], &t.Point); err != nil {
		return fmt.Errorf("tip point: %w", err)
	}
	if err := cbor.Unmarshal(arr[1], &t.BlockNumber); err != nil {
		return fmt.Errorf("tip block number: %w", err)
	}
	return nil
}
