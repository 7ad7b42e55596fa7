package collab

import (
	"strings"
	"sync"

	"github.com/golang/glog"
)

// Cursor is ephemeral per-user position state. Offsets are utf-16 code
// unit indexes into the item text.
type Cursor struct {
	CursorId Id
	ItemId   Id
	UserId   Id
	Offset   int
	IsActive bool
}

type Selection struct {
	StartItemId    Id
	StartOffset    int
	EndItemId      Id
	EndOffset      int
	UserId         Id
	IsReversed     bool
	IsBoxSelection bool
}

const cursorHistoryLimit = 256

// Overlay indexes every known cursor and selection, local and remote,
// keyed by user. It is process local and never replicated; it can be
// rebuilt from a fresh document snapshot plus incoming presence state.
type Overlay struct {
	doc *Doc

	mutex      sync.Mutex
	cursors    map[Id]*Cursor
	userActive map[Id]Id
	selections map[Id]*Selection
	// log of activated cursor ids. The newest entry always matches the
	// currently active cursor of the user that moved last.
	cursorHistory []Id
}

func NewOverlay(doc *Doc) *Overlay {
	return &Overlay{
		doc:        doc,
		cursors:    map[Id]*Cursor{},
		userActive: map[Id]Id{},
		selections: map[Id]*Selection{},
	}
}

// SetCursor records a cursor. Activating a cursor deactivates the user's
// previous cursor; a user never has two active cursors.
func (self *Overlay) SetCursor(cursor Cursor) Id {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	if cursor.CursorId.IsZero() {
		cursor.CursorId = NewId()
	}
	if cursor.IsActive {
		if previousId, ok := self.userActive[cursor.UserId]; ok && previousId != cursor.CursorId {
			if previous := self.cursors[previousId]; previous != nil {
				previous.IsActive = false
			}
		}
		self.userActive[cursor.UserId] = cursor.CursorId
		self.cursorHistory = append(self.cursorHistory, cursor.CursorId)
		if cursorHistoryLimit < len(self.cursorHistory) {
			self.cursorHistory = self.cursorHistory[len(self.cursorHistory)-cursorHistoryLimit:]
		}
	} else if self.userActive[cursor.UserId] == cursor.CursorId {
		delete(self.userActive, cursor.UserId)
	}
	c := cursor
	self.cursors[cursor.CursorId] = &c

	self.convergeUser(cursor.UserId)
	return cursor.CursorId
}

// convergeUser forces the single-active-cursor invariant. A violation is
// a programming error; log it loudly and keep only the newest.
// Must hold mutex.
func (self *Overlay) convergeUser(userId Id) {
	activeId := self.userActive[userId]
	for cursorId, cursor := range self.cursors {
		if cursor.UserId != userId || !cursor.IsActive {
			continue
		}
		if cursorId != activeId {
			glog.Errorf("[overlay]double active cursor for user %s: %s and %s\n", userId, activeId, cursorId)
			cursor.IsActive = false
		}
	}
}

func (self *Overlay) RemoveCursor(cursorId Id) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	cursor := self.cursors[cursorId]
	if cursor == nil {
		return
	}
	delete(self.cursors, cursorId)
	if self.userActive[cursor.UserId] == cursorId {
		delete(self.userActive, cursor.UserId)
	}
}

// RemoveUser drops all state for a user. Called when presence for the
// user expires or the user disconnects.
func (self *Overlay) RemoveUser(userId Id) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	for cursorId, cursor := range self.cursors {
		if cursor.UserId == userId {
			delete(self.cursors, cursorId)
		}
	}
	delete(self.userActive, userId)
	delete(self.selections, userId)
}

func (self *Overlay) SetSelection(selection Selection) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	s := selection
	self.selections[selection.UserId] = &s
}

func (self *Overlay) ClearSelectionForUser(userId Id) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	delete(self.selections, userId)
}

func (self *Overlay) SelectionForUser(userId Id) (Selection, bool) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	selection := self.selections[userId]
	if selection == nil {
		return Selection{}, false
	}
	return *selection, true
}

func (self *Overlay) CursorInstances() []Cursor {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	cursors := []Cursor{}
	for _, cursor := range self.cursors {
		cursors = append(cursors, *cursor)
	}
	return cursors
}

func (self *Overlay) ActiveCursorForUser(userId Id) (Cursor, bool) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	cursorId, ok := self.userActive[userId]
	if !ok {
		return Cursor{}, false
	}
	cursor := self.cursors[cursorId]
	if cursor == nil || !cursor.IsActive {
		return Cursor{}, false
	}
	return *cursor, true
}

// LastActiveCursor returns the cursor of the newest history entry that is
// still active, or nil.
func (self *Overlay) LastActiveCursor() *Cursor {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	for i := len(self.cursorHistory) - 1; 0 <= i; i -= 1 {
		cursor := self.cursors[self.cursorHistory[i]]
		if cursor != nil && cursor.IsActive {
			c := *cursor
			return &c
		}
	}
	return nil
}

// CursorHistory returns the activation log, oldest first.
func (self *Overlay) CursorHistory() []Id {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	history := make([]Id, len(self.cursorHistory))
	copy(history, self.cursorHistory)
	return history
}

// SelectedText materializes the text covered by the user's selection.
// Linear selections join the boundary fragments and enclosed items with
// newlines; box selections take the column range of every spanned item.
func (self *Overlay) SelectedText(userId Id) string {
	self.mutex.Lock()
	selection := self.selections[userId]
	self.mutex.Unlock()
	if selection == nil {
		return ""
	}

	spanned := self.doc.itemSpan(selection.StartItemId, selection.EndItemId)
	if len(spanned) == 0 {
		return ""
	}

	parts := []string{}
	for i, itemId := range spanned {
		text, err := self.doc.ItemText(itemId)
		if err != nil {
			continue
		}
		start := 0
		end := lenUtf16(text)
		if selection.IsBoxSelection {
			start = selection.StartOffset
			end = selection.EndOffset
		} else {
			if i == 0 {
				start = selection.StartOffset
			}
			if i == len(spanned)-1 {
				end = selection.EndOffset
			}
		}
		parts = append(parts, sliceUtf16(text, start, end))
	}
	return strings.Join(parts, "\n")
}
