package collab

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestCommentsAddAndDelete(t *testing.T) {
	doc := NewDocWithDefaults(NewId(), NewId())
	itemId, _ := doc.CreateItem(RootItemId, Id{})
	authorId := NewId()

	firstId, err := doc.AddComment(itemId, authorId, "first")
	assert.Equal(t, err, nil)
	secondId, err := doc.AddComment(itemId, authorId, "second")
	assert.Equal(t, err, nil)

	comments := doc.Comments(itemId)
	assert.Equal(t, len(comments), 2)
	assert.Equal(t, comments[0].Id, firstId)
	assert.Equal(t, comments[0].Text, "first")
	assert.Equal(t, comments[1].Id, secondId)
	assert.Equal(t, doc.CommentBadgeCount(itemId), 2)

	assert.Equal(t, doc.DeleteComment(itemId, firstId), nil)
	comments = doc.Comments(itemId)
	assert.Equal(t, len(comments), 1)
	assert.Equal(t, comments[0].Id, secondId)
	assert.Equal(t, doc.CommentBadgeCount(itemId), 1)

	// double delete is stale
	assert.NotEqual(t, doc.DeleteComment(itemId, firstId), nil)
}

func TestConcurrentCommentsBothSurvive(t *testing.T) {
	pageId := NewId()
	a := NewDocWithDefaults(NewId(), pageId)
	itemId, _ := a.CreateItem(RootItemId, Id{})
	b := NewDocWithDefaults(NewId(), pageId)
	syncDocs(a, b)

	aCommentId, err := a.AddComment(itemId, NewId(), "from a")
	assert.Equal(t, err, nil)
	bCommentId, err := b.AddComment(itemId, NewId(), "from b")
	assert.Equal(t, err, nil)
	syncDocs(a, b)

	aComments := a.Comments(itemId)
	bComments := b.Comments(itemId)
	assert.Equal(t, len(aComments), 2)
	assert.Equal(t, aComments, bComments)
	commentIds := map[Id]bool{}
	for _, comment := range aComments {
		commentIds[comment.Id] = true
	}
	assert.Equal(t, commentIds[aCommentId], true)
	assert.Equal(t, commentIds[bCommentId], true)
}

func TestConcurrentAddDeleteComment(t *testing.T) {
	pageId := NewId()
	a := NewDocWithDefaults(NewId(), pageId)
	itemId, _ := a.CreateItem(RootItemId, Id{})
	commentId, _ := a.AddComment(itemId, NewId(), "contested")
	b := NewDocWithDefaults(NewId(), pageId)
	syncDocs(a, b)

	// a deletes while b adds another concurrently
	assert.Equal(t, a.DeleteComment(itemId, commentId), nil)
	otherId, err := b.AddComment(itemId, NewId(), "other")
	assert.Equal(t, err, nil)
	syncDocs(a, b)

	aComments := a.Comments(itemId)
	assert.Equal(t, aComments, b.Comments(itemId))
	assert.Equal(t, len(aComments), 1)
	assert.Equal(t, aComments[0].Id, otherId)
	assert.Equal(t, a.CommentBadgeCount(itemId), 1)
}

func TestCommentOnDeletedItemIsStale(t *testing.T) {
	doc := NewDocWithDefaults(NewId(), NewId())
	itemId, _ := doc.CreateItem(RootItemId, Id{})
	assert.Equal(t, doc.DeleteItem(itemId), nil)

	_, err := doc.AddComment(itemId, NewId(), "too late")
	assert.NotEqual(t, err, nil)
}
