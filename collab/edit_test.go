package collab

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func newTestEditor(t *testing.T) (*Doc, *Overlay, *Editor) {
	doc := NewDocWithDefaults(NewId(), NewId())
	overlay := NewOverlay(doc)
	return doc, overlay, NewEditor(doc, overlay)
}

func TestInsertTextAdvancesCursor(t *testing.T) {
	doc, overlay, editor := newTestEditor(t)
	itemId, _ := doc.CreateItem(RootItemId, Id{})
	userId := NewId()

	cursor := Cursor{ItemId: itemId, UserId: userId, Offset: 0, IsActive: true}
	cursor = editor.InsertText(cursor, "he")
	cursor = editor.InsertText(cursor, "llo")
	assert.Equal(t, cursor.Offset, 5)

	text, _ := doc.ItemText(itemId)
	assert.Equal(t, text, "hello")

	active, ok := overlay.ActiveCursorForUser(userId)
	assert.Equal(t, ok, true)
	assert.Equal(t, active.Offset, 5)
}

func TestInsertLineBreakSplitsItem(t *testing.T) {
	doc, _, editor := newTestEditor(t)
	itemId, _ := doc.CreateItem(RootItemId, Id{})
	doc.UpdateText(itemId, "First part of text. Second part of text.")
	userId := NewId()

	// cursor after "First part of text."
	cursor := Cursor{ItemId: itemId, UserId: userId, Offset: 19, IsActive: true}
	newItemId, cursor := editor.InsertLineBreak(cursor)
	assert.NotEqual(t, newItemId, Id{})

	// the original item keeps its id and the head text
	text, _ := doc.ItemText(itemId)
	assert.Equal(t, text, "First part of text.")
	newText, _ := doc.ItemText(newItemId)
	assert.Equal(t, newText, " Second part of text.")

	// focus moves to offset 0 of the new item
	assert.Equal(t, cursor.ItemId, newItemId)
	assert.Equal(t, cursor.Offset, 0)

	// the new item is the next sibling
	assert.Equal(t, doc.RootItemIds(), []Id{itemId, newItemId})
}

func TestSplitThenMergeRestoresText(t *testing.T) {
	doc, _, editor := newTestEditor(t)
	itemId, _ := doc.CreateItem(RootItemId, Id{})
	doc.UpdateText(itemId, "undo this split")
	userId := NewId()

	cursor := Cursor{ItemId: itemId, UserId: userId, Offset: 4, IsActive: true}
	newItemId, cursor := editor.InsertLineBreak(cursor)
	assert.Equal(t, len(doc.RootItemIds()), 2)

	// backspace at offset 0 of the new item is the inverse of the split
	cursor = editor.DeleteBackward(cursor)
	assert.Equal(t, cursor.ItemId, itemId)
	assert.Equal(t, cursor.Offset, 4)

	text, _ := doc.ItemText(itemId)
	assert.Equal(t, text, "undo this split")
	assert.Equal(t, doc.RootItemIds(), []Id{itemId})
	assert.Equal(t, doc.HasItem(newItemId), false)
}

func TestDeleteBackwardSurrogatePair(t *testing.T) {
	doc, _, editor := newTestEditor(t)
	itemId, _ := doc.CreateItem(RootItemId, Id{})
	doc.UpdateText(itemId, "a\U0001F600")
	userId := NewId()

	// the emoji is two utf-16 units; one backspace removes both
	cursor := Cursor{ItemId: itemId, UserId: userId, Offset: 3, IsActive: true}
	cursor = editor.DeleteBackward(cursor)
	assert.Equal(t, cursor.Offset, 1)
	text, _ := doc.ItemText(itemId)
	assert.Equal(t, text, "a")
}

func TestDeleteForward(t *testing.T) {
	doc, overlay, editor := newTestEditor(t)
	itemId, _ := doc.CreateItem(RootItemId, Id{})
	doc.UpdateText(itemId, "ab")
	userId := NewId()

	cursor := Cursor{ItemId: itemId, UserId: userId, Offset: 0, IsActive: true}
	cursor = editor.DeleteForward(cursor)
	text, _ := doc.ItemText(itemId)
	assert.Equal(t, text, "b")

	// the cursor is tracked like every other intent
	tracked, ok := overlay.ActiveCursorForUser(userId)
	assert.Equal(t, ok, true)
	assert.Equal(t, tracked.CursorId, cursor.CursorId)
	assert.Equal(t, tracked.Offset, 0)

	// at the end of the item it is a no-op
	cursor.Offset = 1
	editor.DeleteForward(cursor)
	text, _ = doc.ItemText(itemId)
	assert.Equal(t, text, "b")
}

func TestDeleteBackwardAtOutlineStart(t *testing.T) {
	doc, _, editor := newTestEditor(t)
	itemId, _ := doc.CreateItem(RootItemId, Id{})
	doc.UpdateText(itemId, "first")
	userId := NewId()

	// nothing before the first item to merge into
	cursor := Cursor{ItemId: itemId, UserId: userId, Offset: 0, IsActive: true}
	cursor = editor.DeleteBackward(cursor)
	assert.Equal(t, cursor.ItemId, itemId)
	text, _ := doc.ItemText(itemId)
	assert.Equal(t, text, "first")
}

func TestTwoUsersEditConcurrently(t *testing.T) {
	doc, overlay, editor := newTestEditor(t)
	item1, _ := doc.CreateItem(RootItemId, Id{})
	item2, _ := doc.CreateItem(RootItemId, item1)
	userA := NewId()
	userB := NewId()

	cursorA := Cursor{ItemId: item1, UserId: userA, Offset: 0, IsActive: true}
	cursorB := Cursor{ItemId: item2, UserId: userB, Offset: 0, IsActive: true}
	editor.InsertText(cursorA, "x")
	editor.InsertText(cursorB, "y")

	text1, _ := doc.ItemText(item1)
	text2, _ := doc.ItemText(item2)
	assert.Equal(t, text1, "x")
	assert.Equal(t, text2, "y")
	assert.Equal(t, len(overlay.CursorInstances()), 2)
}

func TestDeleteSelectionSingleItem(t *testing.T) {
	doc, _, editor := newTestEditor(t)
	itemId, _ := doc.CreateItem(RootItemId, Id{})
	doc.UpdateText(itemId, "keep CUT keep")
	userId := NewId()

	cursor := editor.DeleteSelection(Selection{
		StartItemId: itemId,
		StartOffset: 5,
		EndItemId:   itemId,
		EndOffset:   9,
		UserId:      userId,
	})
	text, _ := doc.ItemText(itemId)
	assert.Equal(t, text, "keep keep")
	assert.Equal(t, cursor.Offset, 5)
}

func TestDeleteSelectionAcrossItems(t *testing.T) {
	doc, overlay, editor := newTestEditor(t)
	item1, _ := doc.CreateItem(RootItemId, Id{})
	doc.UpdateText(item1, "one")
	item2, _ := doc.CreateItem(RootItemId, item1)
	doc.UpdateText(item2, "two two")
	item3, _ := doc.CreateItem(RootItemId, item2)
	doc.UpdateText(item3, "three")
	userId := NewId()

	selection := Selection{
		StartItemId: item2,
		StartOffset: 3,
		EndItemId:   item3,
		EndOffset:   2,
		UserId:      userId,
	}
	overlay.SetSelection(selection)
	cursor := editor.DeleteSelection(selection)

	// items 2 and 3 merge into one surviving item holding the fragment
	// before the start plus the fragment after the end
	text, _ := doc.ItemText(item2)
	assert.Equal(t, text, "tworee")
	assert.Equal(t, doc.RootItemIds(), []Id{item1, item2})
	assert.Equal(t, doc.HasItem(item3), false)
	assert.Equal(t, cursor.ItemId, item2)
	assert.Equal(t, cursor.Offset, 3)

	// the selection is consumed
	_, ok := overlay.SelectionForUser(userId)
	assert.Equal(t, ok, false)
}

func TestDeleteSelectionEnclosedItemsTombstoned(t *testing.T) {
	doc, _, editor := newTestEditor(t)
	item1, _ := doc.CreateItem(RootItemId, Id{})
	doc.UpdateText(item1, "head tail")
	item2, _ := doc.CreateItem(RootItemId, item1)
	doc.UpdateText(item2, "enclosed")
	item3, _ := doc.CreateItem(RootItemId, item2)
	doc.UpdateText(item3, "cut here")
	userId := NewId()

	editor.DeleteSelection(Selection{
		StartItemId: item1,
		StartOffset: 4,
		EndItemId:   item3,
		EndOffset:   3,
		UserId:      userId,
	})

	text, _ := doc.ItemText(item1)
	assert.Equal(t, text, "head here")
	assert.Equal(t, doc.RootItemIds(), []Id{item1})
	assert.Equal(t, doc.HasItem(item2), false)
	assert.Equal(t, doc.HasItem(item3), false)
}

func TestFormatSelection(t *testing.T) {
	doc, _, editor := newTestEditor(t)
	itemId, _ := doc.CreateItem(RootItemId, Id{})
	doc.UpdateText(itemId, "make this bold")
	userId := NewId()

	editor.FormatBold(Selection{
		StartItemId: itemId,
		StartOffset: 5,
		EndItemId:   itemId,
		EndOffset:   9,
		UserId:      userId,
	})
	text, _ := doc.ItemText(itemId)
	assert.Equal(t, text, "make [[this]] bold")

	doc.UpdateText(itemId, "make this code")
	editor.FormatCode(Selection{
		StartItemId: itemId,
		StartOffset: 5,
		EndItemId:   itemId,
		EndOffset:   9,
		UserId:      userId,
	})
	text, _ = doc.ItemText(itemId)
	assert.Equal(t, text, "make `this` code")
}

func TestDecorationFollowsActiveCursor(t *testing.T) {
	doc, overlay, editor := newTestEditor(t)
	itemId, _ := doc.CreateItem(RootItemId, Id{})
	otherId, _ := doc.CreateItem(RootItemId, itemId)
	userId := NewId()

	assert.Equal(t, editor.Decoration(itemId), DecorationRendered)

	overlay.SetCursor(Cursor{ItemId: itemId, UserId: userId, IsActive: true})
	assert.Equal(t, editor.Decoration(itemId), DecorationLiteral)
	assert.Equal(t, editor.Decoration(otherId), DecorationRendered)
}

func TestStaleEditIsDroppedSilently(t *testing.T) {
	doc, _, editor := newTestEditor(t)
	itemId, _ := doc.CreateItem(RootItemId, Id{})
	doc.UpdateText(itemId, "going away")
	userId := NewId()
	cursor := Cursor{ItemId: itemId, UserId: userId, Offset: 5, IsActive: true}

	assert.Equal(t, doc.DeleteItem(itemId), nil)

	// edits against the deleted item are no-ops, never panics
	after := editor.InsertText(cursor, "x")
	assert.Equal(t, after, cursor)
	after = editor.DeleteBackward(cursor)
	assert.Equal(t, after, cursor)
	editor.DeleteForward(cursor)
	_, resultCursor := editor.InsertLineBreak(cursor)
	assert.Equal(t, resultCursor, cursor)
}
