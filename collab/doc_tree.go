package collab

import (
	"fmt"
)

func (self *itemState) childCellIndex(id OpId) int {
	for i := range self.children {
		if self.children[i].id == id {
			return i
		}
	}
	return -1
}

// integrateChildCell mirrors integrateTextCell for the child list.
func (self *itemState) integrateChildCell(cell childCell) {
	originIndex := -1
	if !cell.origin.IsZero() {
		originIndex = self.childCellIndex(cell.origin)
	}
	pos := originIndex + 1
	for pos < len(self.children) {
		other := self.children[pos]
		otherOriginIndex := -1
		if !other.origin.IsZero() {
			otherOriginIndex = self.childCellIndex(other.origin)
		}
		if otherOriginIndex < originIndex {
			break
		}
		if otherOriginIndex == originIndex && other.id.LessThan(cell.id) {
			break
		}
		pos += 1
	}
	self.children = append(self.children, childCell{})
	copy(self.children[pos+1:], self.children[pos:])
	self.children[pos] = cell
}

// liveChildCells returns the cells that currently place a live item.
// Must hold mutex.
func (self *Doc) liveChildCells(item *itemState) []childCell {
	cells := []childCell{}
	for _, cell := range item.children {
		child := self.items[cell.itemId]
		if child == nil || child.placement != cell.id || child.deleted {
			continue
		}
		cells = append(cells, cell)
	}
	return cells
}

// CreateItem makes a new item under parentId. A zero afterSiblingId
// appends at the end; otherwise the item goes immediately after that
// sibling. Returns the new item id.
func (self *Doc) CreateItem(parentId Id, afterSiblingId Id) (Id, error) {
	self.mutex.Lock()
	parent := self.items[parentId]
	if parent == nil || parent.deleted {
		self.mutex.Unlock()
		return Id{}, fmt.Errorf("%w: parent %s", ErrStale, parentId)
	}

	origin := OpId{}
	if !afterSiblingId.IsZero() {
		sibling := self.items[afterSiblingId]
		if sibling != nil && sibling.parentId == parentId && 0 <= parent.childCellIndex(sibling.placement) {
			origin = sibling.placement
		} else {
			// sibling moved or deleted concurrently, append instead
			origin = lastCellId(parent.children)
		}
	} else if 0 < len(parent.children) {
		origin = lastCellId(parent.children)
	}

	itemId := NewId()
	createOp := Op{
		Id:     self.nextOpId(1),
		Type:   OpTypeCreateItem,
		ItemId: itemId,
	}
	placeOp := Op{
		Id:       self.nextOpId(1),
		Type:     OpTypePlaceItem,
		ItemId:   itemId,
		ParentId: parentId,
		Origin:   origin,
	}
	event := self.commitLocal([]Op{createOp, placeOp})
	self.mutex.Unlock()
	self.notify(event)
	return itemId, nil
}

func lastCellId(cells []childCell) OpId {
	if len(cells) == 0 {
		return OpId{}
	}
	return cells[len(cells)-1].id
}

// MoveItem re-places the item under newParentId at newIndex among the
// live children. Concurrent moves of the same item resolve by
// last-writer-wins on the op id; the loser is a no-op and the item keeps
// its text and children.
func (self *Doc) MoveItem(itemId Id, newParentId Id, newIndex int) error {
	self.mutex.Lock()
	item := self.items[itemId]
	if item == nil || item.deleted || itemId == RootItemId {
		self.mutex.Unlock()
		return fmt.Errorf("%w: item %s", ErrStale, itemId)
	}
	parent := self.items[newParentId]
	if parent == nil || parent.deleted {
		self.mutex.Unlock()
		return fmt.Errorf("%w: parent %s", ErrStale, newParentId)
	}
	if itemId == newParentId || self.isAncestorOf(itemId, newParentId) {
		self.mutex.Unlock()
		return fmt.Errorf("cannot move %s into its own subtree", itemId)
	}

	origin := OpId{}
	liveCells := self.liveChildCells(parent)
	if newIndex < 0 {
		newIndex = 0
	}
	if 0 < newIndex {
		if len(liveCells) <= newIndex-1 {
			origin = lastCellId(parent.children)
		} else {
			origin = liveCells[newIndex-1].id
		}
	}

	op := Op{
		Id:       self.nextOpId(1),
		Type:     OpTypePlaceItem,
		ItemId:   itemId,
		ParentId: newParentId,
		Origin:   origin,
	}
	event := self.commitLocal([]Op{op})
	self.mutex.Unlock()
	self.notify(event)
	return nil
}

// isAncestorOf reports whether itemId appears on the parent chain of
// descendantId. Must hold mutex.
func (self *Doc) isAncestorOf(itemId Id, descendantId Id) bool {
	seen := map[Id]bool{}
	current := descendantId
	for !current.IsZero() && !seen[current] {
		seen[current] = true
		item := self.items[current]
		if item == nil {
			return false
		}
		if item.parentId == itemId {
			return true
		}
		current = item.parentId
	}
	return false
}

// DeleteItem tombstones the item. Live descendants are not deleted; they
// surface under the nearest surviving ancestor when the tree is read.
func (self *Doc) DeleteItem(itemId Id) error {
	self.mutex.Lock()
	item := self.items[itemId]
	if item == nil || item.deleted || itemId == RootItemId {
		self.mutex.Unlock()
		return fmt.Errorf("%w: item %s", ErrStale, itemId)
	}
	op := Op{
		Id:     self.nextOpId(1),
		Type:   OpTypeDeleteItem,
		ItemId: itemId,
	}
	event := self.commitLocal([]Op{op})
	self.mutex.Unlock()
	self.notify(event)
	return nil
}

// ChildItemIds returns the ordered live children. Children of tombstoned
// items are spliced in place of the tombstone, which re-parents them to
// the nearest surviving ancestor.
func (self *Doc) ChildItemIds(itemId Id) []Id {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.childItemIds(itemId, map[Id]bool{})
}

func (self *Doc) childItemIds(itemId Id, visited map[Id]bool) []Id {
	if visited[itemId] {
		return nil
	}
	visited[itemId] = true
	item := self.items[itemId]
	if item == nil {
		return nil
	}
	childIds := []Id{}
	for _, cell := range item.children {
		child := self.items[cell.itemId]
		if child == nil || child.placement != cell.id {
			continue
		}
		if child.deleted {
			childIds = append(childIds, self.childItemIds(cell.itemId, visited)...)
		} else {
			childIds = append(childIds, cell.itemId)
		}
	}
	return childIds
}

// TraverseItemIds returns every live item in depth-first outline order.
func (self *Doc) TraverseItemIds() []Id {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	ordered := []Id{}
	var walk func(itemId Id, visited map[Id]bool)
	walk = func(itemId Id, visited map[Id]bool) {
		for _, childId := range self.childItemIds(itemId, visited) {
			ordered = append(ordered, childId)
			walk(childId, visited)
		}
	}
	walk(RootItemId, map[Id]bool{})
	return ordered
}

// itemSpan returns the live items from startItemId through endItemId in
// outline order, inclusive. If either end is missing the span is empty.
// A span given in reverse order is normalized.
func (self *Doc) itemSpan(startItemId Id, endItemId Id) []Id {
	ordered := self.TraverseItemIds()
	startIndex := -1
	endIndex := -1
	for i, itemId := range ordered {
		if itemId == startItemId {
			startIndex = i
		}
		if itemId == endItemId {
			endIndex = i
		}
	}
	if startIndex < 0 || endIndex < 0 {
		return nil
	}
	if endIndex < startIndex {
		startIndex, endIndex = endIndex, startIndex
	}
	return ordered[startIndex : endIndex+1]
}

func (self *Doc) RootItemIds() []Id {
	return self.ChildItemIds(RootItemId)
}

// ItemParent returns the nearest surviving ancestor.
func (self *Doc) ItemParent(itemId Id) (Id, error) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	item := self.items[itemId]
	if item == nil || item.deleted {
		return Id{}, fmt.Errorf("%w: item %s", ErrStale, itemId)
	}
	seen := map[Id]bool{}
	current := item.parentId
	for !current.IsZero() && !seen[current] {
		seen[current] = true
		parent := self.items[current]
		if parent == nil {
			break
		}
		if !parent.deleted {
			return current, nil
		}
		current = parent.parentId
	}
	return RootItemId, nil
}
