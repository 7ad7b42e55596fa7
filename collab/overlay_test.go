package collab

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestSingleActiveCursorPerUser(t *testing.T) {
	doc := NewDocWithDefaults(NewId(), NewId())
	overlay := NewOverlay(doc)
	item1, _ := doc.CreateItem(RootItemId, Id{})
	item2, _ := doc.CreateItem(RootItemId, item1)
	userId := NewId()

	first := overlay.SetCursor(Cursor{ItemId: item1, UserId: userId, IsActive: true})
	second := overlay.SetCursor(Cursor{ItemId: item2, UserId: userId, IsActive: true})
	assert.NotEqual(t, first, second)

	activeCount := 0
	for _, cursor := range overlay.CursorInstances() {
		if cursor.UserId == userId && cursor.IsActive {
			activeCount += 1
			assert.Equal(t, cursor.CursorId, second)
		}
	}
	assert.Equal(t, activeCount, 1)

	active, ok := overlay.ActiveCursorForUser(userId)
	assert.Equal(t, ok, true)
	assert.Equal(t, active.ItemId, item2)
}

func TestCursorHistoryTracksBoundaryHops(t *testing.T) {
	doc := NewDocWithDefaults(NewId(), NewId())
	overlay := NewOverlay(doc)
	item1, _ := doc.CreateItem(RootItemId, Id{})
	item2, _ := doc.CreateItem(RootItemId, item1)
	userId := NewId()

	// hopping between items appends to the activation log
	first := overlay.SetCursor(Cursor{ItemId: item1, UserId: userId, IsActive: true})
	second := overlay.SetCursor(Cursor{ItemId: item2, UserId: userId, IsActive: true})
	third := overlay.SetCursor(Cursor{ItemId: item1, UserId: userId, IsActive: true})

	assert.Equal(t, overlay.CursorHistory(), []Id{first, second, third})

	last := overlay.LastActiveCursor()
	assert.NotEqual(t, last, nil)
	assert.Equal(t, last.CursorId, third)

	// deactivating the newest cursor falls back to nothing for this user,
	// and the history skips inactive entries
	overlay.RemoveCursor(third)
	_, ok := overlay.ActiveCursorForUser(userId)
	assert.Equal(t, ok, false)
	assert.Equal(t, overlay.LastActiveCursor(), nil)
}

func TestCursorHistoryBounded(t *testing.T) {
	doc := NewDocWithDefaults(NewId(), NewId())
	overlay := NewOverlay(doc)
	itemId, _ := doc.CreateItem(RootItemId, Id{})
	userId := NewId()

	for i := 0; i < 2*cursorHistoryLimit; i += 1 {
		overlay.SetCursor(Cursor{ItemId: itemId, UserId: userId, IsActive: true})
	}
	assert.Equal(t, len(overlay.CursorHistory()), cursorHistoryLimit)
}

func TestCursorsPerUserIndependent(t *testing.T) {
	doc := NewDocWithDefaults(NewId(), NewId())
	overlay := NewOverlay(doc)
	itemId, _ := doc.CreateItem(RootItemId, Id{})
	userA := NewId()
	userB := NewId()

	overlay.SetCursor(Cursor{ItemId: itemId, UserId: userA, Offset: 1, IsActive: true})
	overlay.SetCursor(Cursor{ItemId: itemId, UserId: userB, Offset: 2, IsActive: true})

	cursorA, okA := overlay.ActiveCursorForUser(userA)
	cursorB, okB := overlay.ActiveCursorForUser(userB)
	assert.Equal(t, okA, true)
	assert.Equal(t, okB, true)
	assert.Equal(t, cursorA.Offset, 1)
	assert.Equal(t, cursorB.Offset, 2)

	overlay.RemoveUser(userA)
	_, okA = overlay.ActiveCursorForUser(userA)
	assert.Equal(t, okA, false)
	_, okB = overlay.ActiveCursorForUser(userB)
	assert.Equal(t, okB, true)
	assert.Equal(t, len(overlay.CursorInstances()), 1)
}

func TestSelectedTextLinear(t *testing.T) {
	doc := NewDocWithDefaults(NewId(), NewId())
	overlay := NewOverlay(doc)
	item1, _ := doc.CreateItem(RootItemId, Id{})
	doc.UpdateText(item1, "alpha beta")
	item2, _ := doc.CreateItem(RootItemId, item1)
	doc.UpdateText(item2, "middle")
	item3, _ := doc.CreateItem(RootItemId, item2)
	doc.UpdateText(item3, "gamma delta")
	userId := NewId()

	overlay.SetSelection(Selection{
		StartItemId: item1,
		StartOffset: 6,
		EndItemId:   item3,
		EndOffset:   5,
		UserId:      userId,
	})
	assert.Equal(t, overlay.SelectedText(userId), "beta\nmiddle\ngamma")

	// a reversed span normalizes to document order
	overlay.SetSelection(Selection{
		StartItemId: item3,
		StartOffset: 6,
		EndItemId:   item1,
		EndOffset:   5,
		UserId:      userId,
		IsReversed:  true,
	})
	assert.NotEqual(t, overlay.SelectedText(userId), "")
}

func TestSelectedTextBox(t *testing.T) {
	doc := NewDocWithDefaults(NewId(), NewId())
	overlay := NewOverlay(doc)
	item1, _ := doc.CreateItem(RootItemId, Id{})
	doc.UpdateText(item1, "row one")
	item2, _ := doc.CreateItem(RootItemId, item1)
	doc.UpdateText(item2, "row two")
	userId := NewId()

	// a box selection takes the same column range from every spanned row
	overlay.SetSelection(Selection{
		StartItemId:    item1,
		StartOffset:    4,
		EndItemId:      item2,
		EndOffset:      7,
		UserId:         userId,
		IsBoxSelection: true,
	})
	assert.Equal(t, overlay.SelectedText(userId), "one\ntwo")
}

func TestSelectedTextNoSelection(t *testing.T) {
	doc := NewDocWithDefaults(NewId(), NewId())
	overlay := NewOverlay(doc)
	assert.Equal(t, overlay.SelectedText(NewId()), "")
}
