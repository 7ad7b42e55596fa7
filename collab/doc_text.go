package collab

import (
	"fmt"
	"unicode/utf16"
)

// text is a replicated growable array of utf-16 code units. Offsets in
// the public api are utf-16 code unit indexes over the visible (not
// tombstoned) cells, matching cursor offsets.

func (self *itemState) textCellIndex(id OpId) int {
	for i := range self.text {
		if self.text[i].id == id {
			return i
		}
	}
	return -1
}

// integrateTextCell places a cell after its origin. Among concurrent
// cells that share an origin, the newest op id comes first; cells
// attached to a skipped sibling are skipped with it.
func (self *itemState) integrateTextCell(cell textCell) {
	originIndex := -1
	if !cell.origin.IsZero() {
		originIndex = self.textCellIndex(cell.origin)
	}
	pos := originIndex + 1
	for pos < len(self.text) {
		other := self.text[pos]
		otherOriginIndex := -1
		if !other.origin.IsZero() {
			otherOriginIndex = self.textCellIndex(other.origin)
		}
		if otherOriginIndex < originIndex {
			break
		}
		if otherOriginIndex == originIndex && other.id.LessThan(cell.id) {
			break
		}
		pos += 1
	}
	self.text = append(self.text, textCell{})
	copy(self.text[pos+1:], self.text[pos:])
	self.text[pos] = cell
}

// insertTextCellAfter splices a run cell directly after its predecessor.
// Only valid for the tail cells of a run, which have no concurrency.
func (self *itemState) insertTextCellAfter(cell textCell, after OpId) {
	pos := self.textCellIndex(after) + 1
	self.text = append(self.text, textCell{})
	copy(self.text[pos+1:], self.text[pos:])
	self.text[pos] = cell
}

// visibleTextCellAt returns the raw index of the visible cell at the
// visible offset, or -1.
func (self *itemState) visibleTextCellAt(offset int) int {
	if offset < 0 {
		return -1
	}
	visible := 0
	for i := range self.text {
		if self.text[i].deleted {
			continue
		}
		if visible == offset {
			return i
		}
		visible += 1
	}
	return -1
}

func (self *itemState) visibleTextLength() int {
	visible := 0
	for i := range self.text {
		if !self.text[i].deleted {
			visible += 1
		}
	}
	return visible
}

func (self *itemState) textUnits() []uint16 {
	units := make([]uint16, 0, len(self.text))
	for i := range self.text {
		if !self.text[i].deleted {
			units = append(units, self.text[i].unit)
		}
	}
	return units
}

func (self *itemState) textString() string {
	return string(utf16.Decode(self.textUnits()))
}

// lenUtf16 is the length of s in utf-16 code units.
func lenUtf16(s string) int {
	return len(utf16.Encode([]rune(s)))
}

// sliceUtf16 slices s by utf-16 code unit offsets, clamped to bounds.
func sliceUtf16(s string, start int, end int) string {
	units := utf16.Encode([]rune(s))
	if start < 0 {
		start = 0
	}
	if len(units) < end {
		end = len(units)
	}
	if end <= start {
		return ""
	}
	return string(utf16.Decode(units[start:end]))
}

func (self *Doc) ItemText(itemId Id) (string, error) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	item := self.items[itemId]
	if item == nil || item.deleted {
		return "", fmt.Errorf("%w: item %s", ErrStale, itemId)
	}
	return item.textString(), nil
}

// ItemTextUnits returns the visible text as utf-16 code units.
func (self *Doc) ItemTextUnits(itemId Id) ([]uint16, error) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	item := self.items[itemId]
	if item == nil || item.deleted {
		return nil, fmt.Errorf("%w: item %s", ErrStale, itemId)
	}
	return item.textUnits(), nil
}

// ItemTextLength returns the visible text length in utf-16 code units.
func (self *Doc) ItemTextLength(itemId Id) (int, error) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	item := self.items[itemId]
	if item == nil || item.deleted {
		return 0, fmt.Errorf("%w: item %s", ErrStale, itemId)
	}
	return item.visibleTextLength(), nil
}

// InsertTextAt splices value into the item text at the utf-16 offset.
// Offsets past the end clamp to the end.
func (self *Doc) InsertTextAt(itemId Id, offset int, value string) error {
	if value == "" {
		return nil
	}
	units := utf16.Encode([]rune(value))

	self.mutex.Lock()
	item := self.items[itemId]
	if item == nil || item.deleted {
		self.mutex.Unlock()
		return fmt.Errorf("%w: item %s", ErrStale, itemId)
	}
	if length := item.visibleTextLength(); length < offset {
		offset = length
	}
	if offset < 0 {
		offset = 0
	}
	origin := OpId{}
	if 0 < offset {
		origin = item.text[item.visibleTextCellAt(offset-1)].id
	}
	op := Op{
		Id:     self.nextOpId(uint64(len(units))),
		Type:   OpTypeInsertText,
		ItemId: itemId,
		Origin: origin,
		Units:  units,
	}
	event := self.commitLocal([]Op{op})
	self.mutex.Unlock()
	self.notify(event)
	return nil
}

// DeleteTextRange tombstones n visible code units starting at offset.
// The range is clamped to the visible text.
func (self *Doc) DeleteTextRange(itemId Id, offset int, n int) error {
	self.mutex.Lock()
	item := self.items[itemId]
	if item == nil || item.deleted {
		self.mutex.Unlock()
		return fmt.Errorf("%w: item %s", ErrStale, itemId)
	}
	targets := item.visibleCellIds(offset, n)
	if len(targets) == 0 {
		self.mutex.Unlock()
		return nil
	}
	op := Op{
		Id:      self.nextOpId(1),
		Type:    OpTypeDeleteText,
		ItemId:  itemId,
		Targets: targets,
	}
	event := self.commitLocal([]Op{op})
	self.mutex.Unlock()
	self.notify(event)
	return nil
}

func (self *itemState) visibleCellIds(offset int, n int) []OpId {
	targets := []OpId{}
	visible := 0
	for i := range self.text {
		if self.text[i].deleted {
			continue
		}
		if offset <= visible && visible < offset+n {
			targets = append(targets, self.text[i].id)
		}
		visible += 1
	}
	return targets
}

// UpdateText replaces the item text, diffed into a minimal delete plus
// insert around the common prefix and suffix.
func (self *Doc) UpdateText(itemId Id, newText string) error {
	newUnits := utf16.Encode([]rune(newText))

	self.mutex.Lock()
	item := self.items[itemId]
	if item == nil || item.deleted {
		self.mutex.Unlock()
		return fmt.Errorf("%w: item %s", ErrStale, itemId)
	}
	oldUnits := item.textUnits()

	prefix := 0
	for prefix < len(oldUnits) && prefix < len(newUnits) && oldUnits[prefix] == newUnits[prefix] {
		prefix += 1
	}
	suffix := 0
	for suffix < len(oldUnits)-prefix && suffix < len(newUnits)-prefix &&
		oldUnits[len(oldUnits)-1-suffix] == newUnits[len(newUnits)-1-suffix] {
		suffix += 1
	}

	ops := []Op{}
	if deleteCount := len(oldUnits) - prefix - suffix; 0 < deleteCount {
		ops = append(ops, Op{
			Id:      self.nextOpId(1),
			Type:    OpTypeDeleteText,
			ItemId:  itemId,
			Targets: item.visibleCellIds(prefix, deleteCount),
		})
	}
	if insertUnits := newUnits[prefix : len(newUnits)-suffix]; 0 < len(insertUnits) {
		origin := OpId{}
		if 0 < prefix {
			origin = item.text[item.visibleTextCellAt(prefix-1)].id
		}
		ops = append(ops, Op{
			Id:     self.nextOpId(uint64(len(insertUnits))),
			Type:   OpTypeInsertText,
			ItemId: itemId,
			Origin: origin,
			Units:  insertUnits,
		})
	}
	if len(ops) == 0 {
		self.mutex.Unlock()
		return nil
	}
	event := self.commitLocal(ops)
	self.mutex.Unlock()
	self.notify(event)
	return nil
}
