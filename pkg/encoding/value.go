package encoding

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	decMode, err = cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

var _ Serializable = (*Value[int])(nil)

// Value wraps any CBOR-encodable T as a Serializable component.
type Value[T any] struct {
	id   StableID
	Data T
}

// NewValue tags data with a stable id. Most callers obtain ids through the
// type registry rather than passing them directly.
func NewValue[T any](id StableID, data T) *Value[T] {
	return &Value[T]{id: id, Data: data}
}

func (v *Value[T]) Get() T {
	return v.Data
}

func (v *Value[T]) Set(data T) {
	v.Data = data
}

func (v *Value[T]) ToBytes() ([]byte, error) {
	b, err := encMode.Marshal(v.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: id %d: %w", ErrEncodeFailed, v.id, err)
	}
	return b, nil
}

func (v *Value[T]) FromBytes(data []byte) error {
	var decoded T
	if err := decMode.Unmarshal(data, &decoded); err != nil {
		return fmt.Errorf("%w: id %d: %w", ErrDecodeFailed, v.id, err)
	}
	v.Data = decoded
	return nil
}

func (v *Value[T]) ByteLength() int {
	b, err := v.ToBytes()
	if err != nil {
		return 0
	}
	return len(b)
}

func (v *Value[T]) StableTypeID() StableID {
	return v.id
}

func (v *Value[T]) String() string {
	return fmt.Sprintf("Value[%d]{%v}", v.id, v.Data)
}
