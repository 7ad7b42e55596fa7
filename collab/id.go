package collab

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/oklog/ulid/v2"
)

// id of the page root item. The root exists implicitly in every page and
// cannot be deleted or moved.
var RootItemId = Id{}

// comparable
type Id [16]byte

func NewId() Id {
	return Id(ulid.Make())
}

func IdFromBytes(idBytes []byte) (Id, error) {
	if len(idBytes) != 16 {
		return Id{}, errors.New("Id must be 16 bytes")
	}
	return Id(idBytes), nil
}

func RequireIdFromBytes(idBytes []byte) Id {
	id, err := IdFromBytes(idBytes)
	if err != nil {
		panic(err)
	}
	return id
}

func ParseId(idStr string) (Id, error) {
	return parseUuid(idStr)
}

func (self Id) Bytes() []byte {
	return self[0:16]
}

func (self Id) IsZero() bool {
	return self == Id{}
}

// ulids are ordered by create time. Ids from the same client can be
// ordered by creation.
func (self Id) LessThan(other Id) bool {
	return bytes.Compare(self[0:16], other[0:16]) < 0
}

func (self Id) String() string {
	return encodeUuid(self)
}

func (self *Id) MarshalJSON() ([]byte, error) {
	var buff bytes.Buffer
	buff.WriteByte('"')
	buff.WriteString(encodeUuid(*self))
	buff.WriteByte('"')
	return buff.Bytes(), nil
}

func (self *Id) UnmarshalJSON(src []byte) error {
	if len(src) != 38 {
		return fmt.Errorf("invalid length for UUID: %v", len(src))
	}
	buf, err := parseUuid(string(src[1 : len(src)-1]))
	if err != nil {
		return err
	}
	*self = buf
	return nil
}

// ids travel on the wire as cbor byte strings, not arrays
func (self Id) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(self[0:16])
}

func (self *Id) UnmarshalCBOR(src []byte) error {
	var idBytes []byte
	if err := cbor.Unmarshal(src, &idBytes); err != nil {
		return err
	}
	id, err := IdFromBytes(idBytes)
	if err != nil {
		return err
	}
	*self = id
	return nil
}

func parseUuid(src string) (dst [16]byte, err error) {
	switch len(src) {
	case 36:
		src = src[0:8] + src[9:13] + src[14:18] + src[19:23] + src[24:]
	case 32:
		// dashes already stripped, assume valid
	default:
		// assume invalid.
		return dst, fmt.Errorf("cannot parse UUID %v", src)
	}

	buf, err := hex.DecodeString(src)
	if err != nil {
		return dst, err
	}

	copy(dst[:], buf)
	return dst, err
}

func encodeUuid(src [16]byte) string {
	return fmt.Sprintf("%x-%x-%x-%x-%x", src[0:4], src[4:6], src[6:8], src[8:10], src[10:16])
}

// OpId identifies a single document operation.
// Clock is a lamport clock maintained per document replica.
//
// OpIds totally order concurrent operations: clock first, then client id
// bytes. This is the tie-break rule for concurrent sibling inserts at the
// same position.
//
// comparable
type OpId struct {
	Clock  uint64 `cbor:"1,keyasint"`
	Client Id     `cbor:"2,keyasint"`
}

func (self OpId) IsZero() bool {
	return self == OpId{}
}

func (self OpId) LessThan(other OpId) bool {
	if self.Clock != other.Clock {
		return self.Clock < other.Clock
	}
	return self.Client.LessThan(other.Client)
}

func (self OpId) String() string {
	return fmt.Sprintf("%d@%s", self.Clock, self.Client)
}
