package collab

import (
	"github.com/fxamacker/cbor/v2"
)

type OpType int

const (
	OpTypeCreateItem OpType = iota + 1
	OpTypeInsertText
	OpTypeDeleteText
	// PlaceItem covers both initial placement and moves. The newest
	// placement by op id wins; older placements become inert cells.
	OpTypePlaceItem
	OpTypeDeleteItem
	OpTypeSetAliasTarget
	OpTypeAddComment
	OpTypeDeleteComment
	OpTypeSetTitle
)

// Op is the single replicated mutation record. One struct for all types
// keeps the codec flat; unused fields stay zero.
type Op struct {
	Id   OpId   `cbor:"1,keyasint"`
	Type OpType `cbor:"2,keyasint"`

	// Seq numbers the client's ops 1-based and contiguous. Delta sync and
	// per-client ordering key on it, not on the lamport clock, which jumps
	// whenever remote ops are observed.
	Seq uint64 `cbor:"13,keyasint"`

	// target item for all types except SetTitle
	ItemId Id `cbor:"3,keyasint"`

	// InsertText, PlaceItem: id of the cell immediately to the left.
	// zero means head of the sequence.
	Origin OpId `cbor:"4,keyasint"`

	// InsertText: utf-16 code units. Cell i of the run takes op id
	// {Id.Clock + i, Id.Client}, so a run consumes len(Units) clock ticks.
	Units []uint16 `cbor:"5,keyasint,omitempty"`

	// DeleteText: ids of the cells to tombstone
	Targets []OpId `cbor:"6,keyasint,omitempty"`

	// PlaceItem
	ParentId Id `cbor:"7,keyasint"`

	// SetAliasTarget
	TargetItemId Id `cbor:"8,keyasint"`

	// AddComment, DeleteComment
	CommentId Id     `cbor:"9,keyasint"`
	AuthorId  Id     `cbor:"10,keyasint"`
	Text      string `cbor:"11,keyasint,omitempty"`
	UnixMilli int64  `cbor:"12,keyasint,omitempty"`
}

// lastClock is the highest clock tick the op consumes
func (self *Op) lastClock() uint64 {
	if self.Type == OpTypeInsertText && 1 < len(self.Units) {
		return self.Id.Clock + uint64(len(self.Units)-1)
	}
	return self.Id.Clock
}

// Update is the unit shipped on the replication channel and appended to
// the local cache. Duplicate application is a no-op.
type Update struct {
	ClientId Id   `cbor:"1,keyasint"`
	Ops      []Op `cbor:"2,keyasint"`
}

func EncodeUpdate(update *Update) ([]byte, error) {
	return cbor.Marshal(update)
}

func DecodeUpdate(b []byte) (*Update, error) {
	update := &Update{}
	if err := cbor.Unmarshal(b, update); err != nil {
		return nil, err
	}
	return update, nil
}
