package csm

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Helpers for the wire form shared by every mini-protocol message: a
// CBOR array whose first element is the message tag, followed by the
// variant's arguments.

// EncodeTagVariant marshals [tag, args...] as one CBOR array
func EncodeTagVariant(tag uint64, args ...any) ([]byte, error) {
	arr := make([]any, 0, 1+len(args))
	arr = append(arr, tag)
	arr = append(arr, args...)
	return cbor.Marshal(arr)
}

// DecodeTagVariant splits one CBOR array item into its leading tag and
// the raw encodings of the remaining elements
func DecodeTagVariant(data []byte) (tag uint64, args []cbor.RawMessage, err error) {
	var arr []cbor.RawMessage
	if err := cbor.Unmarshal(data, &arr); err != nil {
		return 0, nil, fmt.Errorf("message is not a CBOR array: %w", err)
	}
	if len(arr) == 0 {
		return 0, nil, errors.New("message array is empty")
	}
	if err := cbor.Unmarshal(arr[0], &tag); err != nil {
		return 0, nil, fmt.Errorf("message tag is not an unsigned integer: %w", err)
	}
	return tag, arr[1:], nil
}

// ExpectArgs checks a variant's argument count against its declaration
func ExpectArgs(name string, args []cbor.RawMessage, want int) error {
	if len(args) != want {
		return fmt.Errorf("%s: expected %d arguments, got %d", name, want, len(args))
	}
	return nil
}

// WrappedCBOR is an opaque payload shipped as encoded-CBOR-data-item
// (semantic tag 24): the bytes are a complete CBOR item embedded as a
// tagged byte string, so the carrier stays well-formed CBOR without the
// runtime interpreting the content. Block headers, block bodies and
// transactions travel this way.
type WrappedCBOR []byte

// MarshalCBOR implements cbor.Marshaler
func (w WrappedCBOR) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(cbor.Tag{Number: 24, Content: []byte(w)})
}

// UnmarshalCBOR implements cbor.Unmarshaler
func (w *WrappedCBOR) UnmarshalCBOR(data []byte) error {
	var raw cbor.RawTag
	if err := cbor.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("expected tagged item: %w", err)
	}
	if raw.Number != 24 {
		return fmt.Errorf("expected encoded-CBOR tag 24, got %d", raw.Number)
	}
	var content []byte
	if err := cbor.Unmarshal(raw.Content, &content); err != nil {
		return fmt.Errorf("tag 24 content is not a byte string: %w", err)
	}
	*w = content
	return nil
}
