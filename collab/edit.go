package collab

import (
	"errors"
	"unicode/utf16"

	"github.com/golang/glog"
)

// format delimiters. An item under active editing shows these literally;
// an inactive item renders them as formatting.
const (
	BoldPrefix   = "[["
	BoldSuffix   = "]]"
	ItalicPrefix = "[/ "
	ItalicSuffix = "]"
	CodeDelim    = "`"
)

type DecorationMode int

const (
	// delimiters render as formatting
	DecorationRendered DecorationMode = iota
	// delimiters display literally while the item is under active editing
	DecorationLiteral
)

// Editor translates editing intents into document mutations plus overlay
// updates. An intent against a cursor or item that was deleted
// concurrently is dropped with a diagnostic log; it never reaches the
// caller as a failure and never corrupts the document.
type Editor struct {
	doc     *Doc
	overlay *Overlay
}

func NewEditor(doc *Doc, overlay *Overlay) *Editor {
	return &Editor{
		doc:     doc,
		overlay: overlay,
	}
}

func (self *Editor) dropStale(intent string, err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrStale) {
		glog.V(1).Infof("[edit]drop %s = %s\n", intent, err)
		return true
	}
	glog.Infof("[edit]%s error = %s\n", intent, err)
	return true
}

// InsertText splices value at the cursor and advances the cursor by the
// value's utf-16 length.
func (self *Editor) InsertText(cursor Cursor, value string) Cursor {
	if err := self.doc.InsertTextAt(cursor.ItemId, cursor.Offset, value); err != nil {
		self.dropStale("insertText", err)
		return cursor
	}
	cursor.Offset += lenUtf16(value)
	cursor.IsActive = true
	cursor.CursorId = self.overlay.SetCursor(cursor)
	return cursor
}

// DeleteBackward removes one grapheme-equivalent unit before the cursor.
// At offset 0 the item merges into the previous item in outline order,
// the inverse of InsertLineBreak. At the very start of the outline it is
// a no-op.
func (self *Editor) DeleteBackward(cursor Cursor) Cursor {
	if cursor.Offset == 0 {
		return self.mergeWithPrevious(cursor)
	}
	units, err := self.doc.ItemTextUnits(cursor.ItemId)
	if err != nil {
		self.dropStale("deleteBackward", err)
		return cursor
	}
	n := backwardUnitLen(units, cursor.Offset)
	if n == 0 {
		return cursor
	}
	if err := self.doc.DeleteTextRange(cursor.ItemId, cursor.Offset-n, n); err != nil {
		self.dropStale("deleteBackward", err)
		return cursor
	}
	cursor.Offset -= n
	cursor.IsActive = true
	cursor.CursorId = self.overlay.SetCursor(cursor)
	return cursor
}

// DeleteForward removes one grapheme-equivalent unit after the cursor.
// At the end of the item it is a no-op.
func (self *Editor) DeleteForward(cursor Cursor) Cursor {
	units, err := self.doc.ItemTextUnits(cursor.ItemId)
	if err != nil {
		self.dropStale("deleteForward", err)
		return cursor
	}
	n := forwardUnitLen(units, cursor.Offset)
	if n == 0 {
		return cursor
	}
	if err := self.doc.DeleteTextRange(cursor.ItemId, cursor.Offset, n); err != nil {
		self.dropStale("deleteForward", err)
		return cursor
	}
	cursor.IsActive = true
	cursor.CursorId = self.overlay.SetCursor(cursor)
	return cursor
}

func (self *Editor) mergeWithPrevious(cursor Cursor) Cursor {
	ordered := self.doc.TraverseItemIds()
	previousId := Id{}
	for i, itemId := range ordered {
		if itemId == cursor.ItemId {
			if 0 < i {
				previousId = ordered[i-1]
			}
			break
		}
	}
	if previousId.IsZero() {
		// first item of the outline, nothing to merge into
		return cursor
	}

	text, err := self.doc.ItemText(cursor.ItemId)
	if err != nil {
		self.dropStale("mergeWithPrevious", err)
		return cursor
	}
	previousLength, err := self.doc.ItemTextLength(previousId)
	if err != nil {
		self.dropStale("mergeWithPrevious", err)
		return cursor
	}
	if err := self.doc.InsertTextAt(previousId, previousLength, text); err != nil {
		self.dropStale("mergeWithPrevious", err)
		return cursor
	}
	if err := self.doc.DeleteItem(cursor.ItemId); err != nil {
		self.dropStale("mergeWithPrevious", err)
	}

	cursor.ItemId = previousId
	cursor.Offset = previousLength
	cursor.IsActive = true
	cursor.CursorId = self.overlay.SetCursor(cursor)
	return cursor
}

// InsertLineBreak splits the item at the cursor. Text before the offset
// stays in the original item, whose id never changes; text after the
// offset moves to a fresh sibling inserted immediately after. The cursor
// moves to offset 0 of the new item.
func (self *Editor) InsertLineBreak(cursor Cursor) (Id, Cursor) {
	units, err := self.doc.ItemTextUnits(cursor.ItemId)
	if err != nil {
		self.dropStale("insertLineBreak", err)
		return Id{}, cursor
	}
	offset := cursor.Offset
	if len(units) < offset {
		offset = len(units)
	}
	tail := string(utf16.Decode(units[offset:]))

	parentId, err := self.doc.ItemParent(cursor.ItemId)
	if err != nil {
		self.dropStale("insertLineBreak", err)
		return Id{}, cursor
	}
	newItemId, err := self.doc.CreateItem(parentId, cursor.ItemId)
	if err != nil {
		self.dropStale("insertLineBreak", err)
		return Id{}, cursor
	}
	if 0 < len(units)-offset {
		if err := self.doc.DeleteTextRange(cursor.ItemId, offset, len(units)-offset); err != nil {
			self.dropStale("insertLineBreak", err)
		}
		if err := self.doc.InsertTextAt(newItemId, 0, tail); err != nil {
			self.dropStale("insertLineBreak", err)
		}
	}

	cursor.ItemId = newItemId
	cursor.Offset = 0
	cursor.IsActive = true
	cursor.CursorId = self.overlay.SetCursor(cursor)
	return newItemId, cursor
}

// DeleteSelection removes the selected range. A selection inside one item
// removes the bounded text. A linear selection across items merges the
// fragment before the start and the fragment after the end into the start
// item and tombstones everything in between. A box selection removes the
// column range from every spanned item.
func (self *Editor) DeleteSelection(selection Selection) Cursor {
	cursor := Cursor{
		UserId:   selection.UserId,
		ItemId:   selection.StartItemId,
		Offset:   selection.StartOffset,
		IsActive: true,
	}

	if selection.StartItemId == selection.EndItemId {
		startOffset, endOffset := selection.StartOffset, selection.EndOffset
		if endOffset < startOffset {
			startOffset, endOffset = endOffset, startOffset
		}
		if err := self.doc.DeleteTextRange(selection.StartItemId, startOffset, endOffset-startOffset); err != nil {
			self.dropStale("deleteSelection", err)
			return cursor
		}
		cursor.Offset = startOffset
	} else if selection.IsBoxSelection {
		startOffset, endOffset := selection.StartOffset, selection.EndOffset
		if endOffset < startOffset {
			startOffset, endOffset = endOffset, startOffset
		}
		for _, itemId := range self.doc.itemSpan(selection.StartItemId, selection.EndItemId) {
			if err := self.doc.DeleteTextRange(itemId, startOffset, endOffset-startOffset); err != nil {
				self.dropStale("deleteSelection", err)
			}
		}
		cursor.Offset = startOffset
	} else {
		spanned := self.doc.itemSpan(selection.StartItemId, selection.EndItemId)
		if len(spanned) == 0 {
			self.dropStale("deleteSelection", ErrStale)
			return cursor
		}
		startItemId := spanned[0]
		endItemId := spanned[len(spanned)-1]
		startOffset := selection.StartOffset
		endOffset := selection.EndOffset
		if startItemId != selection.StartItemId {
			// span was normalized, the selection was reversed
			startOffset, endOffset = endOffset, startOffset
		}

		endText, err := self.doc.ItemText(endItemId)
		if err != nil {
			self.dropStale("deleteSelection", err)
			return cursor
		}
		tail := sliceUtf16(endText, endOffset, lenUtf16(endText))

		startLength, err := self.doc.ItemTextLength(startItemId)
		if err != nil {
			self.dropStale("deleteSelection", err)
			return cursor
		}
		if startOffset < startLength {
			if err := self.doc.DeleteTextRange(startItemId, startOffset, startLength-startOffset); err != nil {
				self.dropStale("deleteSelection", err)
			}
		}
		if tail != "" {
			if err := self.doc.InsertTextAt(startItemId, startOffset, tail); err != nil {
				self.dropStale("deleteSelection", err)
			}
		}
		for _, itemId := range spanned[1:] {
			if err := self.doc.DeleteItem(itemId); err != nil {
				self.dropStale("deleteSelection", err)
			}
		}
		cursor.ItemId = startItemId
		cursor.Offset = startOffset
	}

	self.overlay.ClearSelectionForUser(selection.UserId)
	cursor.CursorId = self.overlay.SetCursor(cursor)
	return cursor
}

func (self *Editor) FormatBold(selection Selection) {
	self.wrapSelection(selection, BoldPrefix, BoldSuffix)
}

func (self *Editor) FormatItalic(selection Selection) {
	self.wrapSelection(selection, ItalicPrefix, ItalicSuffix)
}

func (self *Editor) FormatCode(selection Selection) {
	self.wrapSelection(selection, CodeDelim, CodeDelim)
}

// wrapSelection inserts delimiters at the selection boundaries. The
// suffix goes in first so the start offset stays valid. Unselected text
// is untouched.
func (self *Editor) wrapSelection(selection Selection, prefix string, suffix string) {
	if selection.IsBoxSelection && selection.StartItemId != selection.EndItemId {
		for _, itemId := range self.doc.itemSpan(selection.StartItemId, selection.EndItemId) {
			if err := self.doc.InsertTextAt(itemId, selection.EndOffset, suffix); err != nil {
				self.dropStale("format", err)
				continue
			}
			if err := self.doc.InsertTextAt(itemId, selection.StartOffset, prefix); err != nil {
				self.dropStale("format", err)
			}
		}
		return
	}
	if err := self.doc.InsertTextAt(selection.EndItemId, selection.EndOffset, suffix); err != nil {
		self.dropStale("format", err)
		return
	}
	if err := self.doc.InsertTextAt(selection.StartItemId, selection.StartOffset, prefix); err != nil {
		self.dropStale("format", err)
	}
}

// Decoration reports how an item should render its delimiters: literal
// while any active cursor rests inside the item, rendered otherwise.
func (self *Editor) Decoration(itemId Id) DecorationMode {
	for _, cursor := range self.overlay.CursorInstances() {
		if cursor.IsActive && cursor.ItemId == itemId {
			return DecorationLiteral
		}
	}
	return DecorationRendered
}

func isHighSurrogate(unit uint16) bool {
	return 0xd800 <= unit && unit < 0xdc00
}

func isLowSurrogate(unit uint16) bool {
	return 0xdc00 <= unit && unit < 0xe000
}

// backwardUnitLen is the utf-16 width of the code point ending at offset.
func backwardUnitLen(units []uint16, offset int) int {
	if offset <= 0 || len(units) < offset {
		return 0
	}
	if 2 <= offset && isLowSurrogate(units[offset-1]) && isHighSurrogate(units[offset-2]) {
		return 2
	}
	return 1
}

// forwardUnitLen is the utf-16 width of the code point starting at offset.
func forwardUnitLen(units []uint16, offset int) int {
	if offset < 0 || len(units) <= offset {
		return 0
	}
	if offset+1 < len(units) && isHighSurrogate(units[offset]) && isLowSurrogate(units[offset+1]) {
		return 2
	}
	return 1
}
