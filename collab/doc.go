package collab

import (
	"errors"
	"fmt"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/golang/glog"
	"golang.org/x/exp/maps"
)

// ErrStale marks an operation against an item, cell, or cursor that no
// longer exists. Callers in the edit path drop these silently.
var ErrStale = errors.New("stale reference")

type ChangeEvent struct {
	PageId Id
	// Local is true when the change originated on this replica.
	// Local change events carry the encoded update so the caller can
	// append it to the local cache and ship it on the channel.
	Local       bool
	UpdateBytes []byte
}

type ChangeFunction func(event *ChangeEvent)

type DocSettings struct {
	// cap on remote ops buffered while their dependencies are missing
	PendingOpLimit int
}

func DefaultDocSettings() *DocSettings {
	return &DocSettings{
		PendingOpLimit: 64 * 1024,
	}
}

type textCell struct {
	id      OpId
	origin  OpId
	unit    uint16
	deleted bool
}

type childCell struct {
	id     OpId
	origin OpId
	itemId Id
}

type commentCell struct {
	opId      OpId
	commentId Id
	authorId  Id
	text      string
	unixMilli int64
	deleted   bool
}

type itemState struct {
	id       Id
	text     []textCell
	children []childCell
	// placement is the op id of the winning PlaceItem. A child cell is
	// live only while it matches the item's placement, which makes a
	// losing concurrent move an inert cell instead of a second copy.
	placement OpId
	parentId  Id
	deleted   bool

	aliasTargetId Id
	aliasSet      OpId

	comments []commentCell
}

// Doc is one replica of one page. All reads and mutations are synchronous
// and never touch the network; replication happens by shipping the update
// bytes from change events and feeding peer updates to ApplyUpdate.
type Doc struct {
	clientId Id
	pageId   Id
	settings *DocSettings

	mutex   sync.Mutex
	clock   uint64
	items   map[Id]*itemState
	applied map[OpId]bool
	log     []Op
	// highest contiguously applied op sequence per client. Delta sync is
	// keyed on this, so an update dropped in transit is resent even after
	// later ops from the same client have landed; exact dedupe is `applied`.
	appliedVv  map[Id]uint64
	pending    []Op
	pendingIds map[OpId]bool

	title    string
	titleSet OpId

	changeCallbacks CallbackList[*ChangeFunction]
}

func NewDocWithDefaults(clientId Id, pageId Id) *Doc {
	return NewDoc(clientId, pageId, DefaultDocSettings())
}

func NewDoc(clientId Id, pageId Id, settings *DocSettings) *Doc {
	doc := &Doc{
		clientId:   clientId,
		pageId:     pageId,
		settings:   settings,
		items:      map[Id]*itemState{},
		applied:    map[OpId]bool{},
		appliedVv:  map[Id]uint64{},
		pendingIds: map[OpId]bool{},
	}
	// the root exists implicitly on every replica
	doc.items[RootItemId] = &itemState{id: RootItemId}
	return doc
}

func (self *Doc) ClientId() Id {
	return self.clientId
}

func (self *Doc) PageId() Id {
	return self.pageId
}

func (self *Doc) Subscribe(callback ChangeFunction) func() {
	callbackId := &callback
	self.changeCallbacks.Add(callbackId)
	return func() {
		self.changeCallbacks.Remove(callbackId)
	}
}

func (self *Doc) notify(event *ChangeEvent) {
	for _, callbackId := range self.changeCallbacks.Get() {
		(*callbackId)(event)
	}
}

// nextOpId reserves `ticks` clock ticks and returns the op id at the
// first tick. Must hold mutex.
func (self *Doc) nextOpId(ticks uint64) OpId {
	opId := OpId{
		Clock:  self.clock + 1,
		Client: self.clientId,
	}
	self.clock += ticks
	return opId
}

// observeClock advances the lamport clock past a remote op. Must hold mutex.
func (self *Doc) observeClock(op *Op) {
	if last := op.lastClock(); self.clock < last {
		self.clock = last
	}
}

// commitLocal applies ops that were built against current state, appends
// them to the log, and returns the change event to fire after unlock.
// The ops must be ready; a failure here is a programming error.
func (self *Doc) commitLocal(ops []Op) *ChangeEvent {
	for i := range ops {
		op := &ops[i]
		// own seq resumes from the own-client watermark, which survives
		// snapshot load and cached update replay
		op.Seq = self.appliedVv[self.clientId] + 1
		if !self.ready(op) {
			panic(fmt.Errorf("local op not ready: %s type=%d", op.Id, op.Type))
		}
		self.applyReady(op)
		self.applied[op.Id] = true
		self.appliedVv[op.Id.Client] = op.Seq
		self.log = append(self.log, *op)
	}
	updateBytes, err := EncodeUpdate(&Update{
		ClientId: self.clientId,
		Ops:      ops,
	})
	if err != nil {
		panic(err)
	}
	return &ChangeEvent{
		PageId:      self.pageId,
		Local:       true,
		UpdateBytes: updateBytes,
	}
}

// ApplyUpdate merges a remote update. Applying the same update twice is a
// no-op. Ops whose dependencies have not arrived yet are buffered and
// retried as later ops land.
func (self *Doc) ApplyUpdate(updateBytes []byte) error {
	update, err := DecodeUpdate(updateBytes)
	if err != nil {
		return err
	}

	self.mutex.Lock()
	appliedCount := 0
	var limitErr error
	for i := range update.Ops {
		op := update.Ops[i]
		if self.applied[op.Id] || op.Seq <= self.appliedVv[op.Id.Client] {
			continue
		}
		self.observeClock(&op)
		if self.ready(&op) {
			self.applyReady(&op)
			self.applied[op.Id] = true
			self.appliedVv[op.Id.Client] = op.Seq
			self.log = append(self.log, op)
			appliedCount += 1
		} else {
			if self.pendingIds[op.Id] {
				continue
			}
			if self.settings.PendingOpLimit <= len(self.pending) {
				limitErr = fmt.Errorf("pending op limit exceeded (%d)", self.settings.PendingOpLimit)
				break
			}
			self.pending = append(self.pending, op)
			self.pendingIds[op.Id] = true
			glog.V(2).Infof("[doc]%s pend %s\n", self.pageId, op.Id)
		}
	}
	if 0 < appliedCount {
		appliedCount += self.drainPending()
	}
	self.mutex.Unlock()

	// ops that did apply are committed even when the buffer overflows,
	// so subscribers must still hear about them
	if 0 < appliedCount {
		self.notify(&ChangeEvent{
			PageId:      self.pageId,
			Local:       false,
			UpdateBytes: updateBytes,
		})
	}
	return limitErr
}

// drainPending retries buffered ops until a fixpoint. Must hold mutex.
func (self *Doc) drainPending() int {
	appliedCount := 0
	for {
		progress := false
		remaining := self.pending[:0]
		for i := range self.pending {
			op := self.pending[i]
			if self.applied[op.Id] || op.Seq <= self.appliedVv[op.Id.Client] {
				delete(self.pendingIds, op.Id)
				progress = true
				continue
			}
			if self.ready(&op) {
				self.applyReady(&op)
				self.applied[op.Id] = true
				self.appliedVv[op.Id.Client] = op.Seq
				self.log = append(self.log, op)
				delete(self.pendingIds, op.Id)
				appliedCount += 1
				progress = true
			} else {
				remaining = append(remaining, op)
			}
		}
		self.pending = remaining
		if !progress || len(self.pending) == 0 {
			return appliedCount
		}
	}
}

// ready reports whether all of the op's dependencies are present.
// Must hold mutex.
func (self *Doc) ready(op *Op) bool {
	// one client's ops apply in sequence order, which keeps the applied
	// watermark contiguous
	if op.Seq != self.appliedVv[op.Id.Client]+1 {
		return false
	}
	item := self.items[op.ItemId]
	switch op.Type {
	case OpTypeCreateItem, OpTypeSetTitle:
		return true
	case OpTypeInsertText:
		if item == nil {
			return false
		}
		return op.Origin.IsZero() || 0 <= item.textCellIndex(op.Origin)
	case OpTypeDeleteText:
		if item == nil {
			return false
		}
		for _, target := range op.Targets {
			if item.textCellIndex(target) < 0 {
				return false
			}
		}
		return true
	case OpTypePlaceItem:
		if item == nil {
			return false
		}
		parent := self.items[op.ParentId]
		if parent == nil {
			return false
		}
		return op.Origin.IsZero() || 0 <= parent.childCellIndex(op.Origin)
	case OpTypeDeleteItem:
		return item != nil
	case OpTypeSetAliasTarget:
		if item == nil {
			return false
		}
		return op.TargetItemId.IsZero() || self.items[op.TargetItemId] != nil
	case OpTypeAddComment:
		return item != nil
	case OpTypeDeleteComment:
		if item == nil {
			return false
		}
		return 0 <= item.commentCellIndex(op.CommentId)
	default:
		return true
	}
}

// applyReady applies a ready op to replica state. Must hold mutex.
func (self *Doc) applyReady(op *Op) {
	switch op.Type {
	case OpTypeCreateItem:
		if self.items[op.ItemId] == nil {
			self.items[op.ItemId] = &itemState{id: op.ItemId}
		}
	case OpTypeInsertText:
		item := self.items[op.ItemId]
		origin := op.Origin
		for i, unit := range op.Units {
			cell := textCell{
				id: OpId{
					Clock:  op.Id.Clock + uint64(i),
					Client: op.Id.Client,
				},
				origin: origin,
				unit:   unit,
			}
			if i == 0 {
				item.integrateTextCell(cell)
			} else {
				// cells of a run chain causally, no concurrency inside
				item.insertTextCellAfter(cell, origin)
			}
			origin = cell.id
		}
	case OpTypeDeleteText:
		item := self.items[op.ItemId]
		for _, target := range op.Targets {
			if i := item.textCellIndex(target); 0 <= i {
				item.text[i].deleted = true
			}
		}
	case OpTypePlaceItem:
		item := self.items[op.ItemId]
		parent := self.items[op.ParentId]
		parent.integrateChildCell(childCell{
			id:     op.Id,
			origin: op.Origin,
			itemId: op.ItemId,
		})
		if item.placement.LessThan(op.Id) {
			item.placement = op.Id
			item.parentId = op.ParentId
		}
	case OpTypeDeleteItem:
		self.items[op.ItemId].deleted = true
	case OpTypeSetAliasTarget:
		if op.TargetItemId == op.ItemId {
			// self reference, never valid
			glog.Errorf("[doc]%s self alias rejected %s\n", self.pageId, op.ItemId)
			return
		}
		item := self.items[op.ItemId]
		if item.aliasSet.LessThan(op.Id) {
			item.aliasSet = op.Id
			item.aliasTargetId = op.TargetItemId
		}
	case OpTypeAddComment:
		item := self.items[op.ItemId]
		item.comments = append(item.comments, commentCell{
			opId:      op.Id,
			commentId: op.CommentId,
			authorId:  op.AuthorId,
			text:      op.Text,
			unixMilli: op.UnixMilli,
		})
	case OpTypeDeleteComment:
		item := self.items[op.ItemId]
		if i := item.commentCellIndex(op.CommentId); 0 <= i {
			item.comments[i].deleted = true
		}
	case OpTypeSetTitle:
		if self.titleSet.LessThan(op.Id) {
			self.titleSet = op.Id
			self.title = op.Text
		}
	}
}

func (self *Doc) SetTitle(title string) {
	self.mutex.Lock()
	op := Op{
		Id:   self.nextOpId(1),
		Type: OpTypeSetTitle,
		Text: title,
	}
	event := self.commitLocal([]Op{op})
	self.mutex.Unlock()
	self.notify(event)
}

func (self *Doc) Title() string {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.title
}

// VersionVector returns the applied sequence watermark per client, for
// delta sync. Pending ops are excluded so that a peer resends anything
// this replica has not applied yet.
func (self *Doc) VersionVector() map[Id]uint64 {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return maps.Clone(self.appliedVv)
}

// EncodeUpdatesSince packs every logged op not covered by the peer's
// version vector into one update. Ops the peer already holds are cheap to
// resend; application is idempotent.
func (self *Doc) EncodeUpdatesSince(vv map[Id]uint64) ([]byte, error) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	ops := []Op{}
	for i := range self.log {
		op := self.log[i]
		if vv[op.Id.Client] < op.Seq {
			ops = append(ops, op)
		}
	}
	return EncodeUpdate(&Update{
		ClientId: self.clientId,
		Ops:      ops,
	})
}

type docSnapshot struct {
	PageId  Id     `cbor:"1,keyasint"`
	Ops     []Op   `cbor:"2,keyasint"`
	Pending []Op   `cbor:"3,keyasint,omitempty"`
	Clock   uint64 `cbor:"4,keyasint"`
}

// Snapshot serializes the replica as its op log. Loading replays the log,
// which reproduces the exact same state on any replica.
func (self *Doc) Snapshot() ([]byte, error) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return cbor.Marshal(&docSnapshot{
		PageId:  self.pageId,
		Ops:     self.log,
		Pending: self.pending,
		Clock:   self.clock,
	})
}

func (self *Doc) LoadSnapshot(snapshotBytes []byte) error {
	snapshot := &docSnapshot{}
	if err := cbor.Unmarshal(snapshotBytes, snapshot); err != nil {
		return err
	}
	if !snapshot.PageId.IsZero() && !self.pageId.IsZero() && snapshot.PageId != self.pageId {
		return fmt.Errorf("snapshot is for page %s, not %s", snapshot.PageId, self.pageId)
	}

	self.mutex.Lock()
	self.items = map[Id]*itemState{
		RootItemId: {id: RootItemId},
	}
	self.applied = map[OpId]bool{}
	self.log = nil
	self.pending = nil
	self.pendingIds = map[OpId]bool{}
	self.appliedVv = map[Id]uint64{}
	self.clock = 0
	self.title = ""
	self.titleSet = OpId{}
	for i := range snapshot.Ops {
		op := snapshot.Ops[i]
		if self.applied[op.Id] {
			continue
		}
		if !self.ready(&op) {
			// the log is in application order, so this cannot happen
			// for a snapshot this replica produced
			self.pending = append(self.pending, op)
			self.pendingIds[op.Id] = true
			continue
		}
		self.applyReady(&op)
		self.applied[op.Id] = true
		self.appliedVv[op.Id.Client] = op.Seq
		self.log = append(self.log, op)
		self.observeClock(&op)
	}
	for i := range snapshot.Pending {
		op := snapshot.Pending[i]
		self.observeClock(&op)
		self.pending = append(self.pending, op)
		self.pendingIds[op.Id] = true
	}
	self.drainPending()
	if self.clock < snapshot.Clock {
		self.clock = snapshot.Clock
	}
	self.mutex.Unlock()
	return nil
}

// HasItem reports whether the item exists and is not tombstoned.
func (self *Doc) HasItem(itemId Id) bool {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	item := self.items[itemId]
	return item != nil && !item.deleted
}

func (self *Doc) ItemIds() []Id {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	itemIds := []Id{}
	for itemId, item := range self.items {
		if itemId != RootItemId && !item.deleted {
			itemIds = append(itemIds, itemId)
		}
	}
	return itemIds
}
