package collab

import (
	"fmt"
	"time"

	"golang.org/x/exp/slices"
)

// Comment is owned by exactly one item. Comments from concurrent authors
// all survive; ordering is by op id, which is stable across replicas.
type Comment struct {
	Id        Id
	AuthorId  Id
	Text      string
	CreatedAt time.Time
}

func (self *Doc) AddComment(itemId Id, authorId Id, text string) (Id, error) {
	self.mutex.Lock()
	item := self.items[itemId]
	if item == nil || item.deleted {
		self.mutex.Unlock()
		return Id{}, fmt.Errorf("%w: item %s", ErrStale, itemId)
	}
	commentId := NewId()
	op := Op{
		Id:        self.nextOpId(1),
		Type:      OpTypeAddComment,
		ItemId:    itemId,
		CommentId: commentId,
		AuthorId:  authorId,
		Text:      text,
		UnixMilli: time.Now().UnixMilli(),
	}
	event := self.commitLocal([]Op{op})
	self.mutex.Unlock()
	self.notify(event)
	return commentId, nil
}

func (self *Doc) DeleteComment(itemId Id, commentId Id) error {
	self.mutex.Lock()
	item := self.items[itemId]
	if item == nil {
		self.mutex.Unlock()
		return fmt.Errorf("%w: item %s", ErrStale, itemId)
	}
	i := item.commentCellIndex(commentId)
	if i < 0 || item.comments[i].deleted {
		self.mutex.Unlock()
		return fmt.Errorf("%w: comment %s", ErrStale, commentId)
	}
	op := Op{
		Id:        self.nextOpId(1),
		Type:      OpTypeDeleteComment,
		ItemId:    itemId,
		CommentId: commentId,
	}
	event := self.commitLocal([]Op{op})
	self.mutex.Unlock()
	self.notify(event)
	return nil
}

func (self *itemState) commentCellIndex(commentId Id) int {
	for i := range self.comments {
		if self.comments[i].commentId == commentId {
			return i
		}
	}
	return -1
}

// Comments returns the surviving comments of the item, ordered by op id.
func (self *Doc) Comments(itemId Id) []Comment {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	item := self.items[itemId]
	if item == nil {
		return nil
	}
	cells := slices.Clone(item.comments)
	slices.SortStableFunc(cells, func(a commentCell, b commentCell) int {
		if a.opId.LessThan(b.opId) {
			return -1
		}
		if b.opId.LessThan(a.opId) {
			return 1
		}
		return 0
	})
	comments := []Comment{}
	for _, cell := range cells {
		if cell.deleted {
			continue
		}
		comments = append(comments, Comment{
			Id:        cell.commentId,
			AuthorId:  cell.authorId,
			Text:      cell.text,
			CreatedAt: time.UnixMilli(cell.unixMilli),
		})
	}
	return comments
}

// CommentBadgeCount is the visible badge count, never negative.
func (self *Doc) CommentBadgeCount(itemId Id) int {
	return len(self.Comments(itemId))
}
