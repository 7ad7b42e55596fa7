package collab

import (
	"fmt"
	"sync"
)

// Project is the root container: a title and an ordered sequence of
// pages. Each page is a tree root with its own replica and its own
// replication room, so concurrent editing on different pages never
// contends on shared channel state. The page order and the project title
// live in a small container doc of their own.
type Project struct {
	clientId  Id
	projectId Id

	doc *Doc

	mutex sync.Mutex
	pages map[Id]*Doc
}

func NewProject(clientId Id, projectId Id) *Project {
	return &Project{
		clientId:  clientId,
		projectId: projectId,
		doc:       NewDocWithDefaults(clientId, projectId),
		pages:     map[Id]*Doc{},
	}
}

func (self *Project) ProjectId() Id {
	return self.projectId
}

// ContainerDoc is the replicated doc holding the title and page order.
func (self *Project) ContainerDoc() *Doc {
	return self.doc
}

func (self *Project) SetTitle(title string) {
	self.doc.SetTitle(title)
}

func (self *Project) Title() string {
	return self.doc.Title()
}

// AddPage creates a page at the end of the page sequence. The page item
// in the container doc carries the page title as its text; the returned
// doc is the page's own replica.
func (self *Project) AddPage(title string) (Id, *Doc, error) {
	pageId, err := self.doc.CreateItem(RootItemId, Id{})
	if err != nil {
		return Id{}, nil, err
	}
	if title != "" {
		if err := self.doc.UpdateText(pageId, title); err != nil {
			return Id{}, nil, err
		}
	}
	pageDoc := NewDocWithDefaults(self.clientId, pageId)

	self.mutex.Lock()
	self.pages[pageId] = pageDoc
	self.mutex.Unlock()
	return pageId, pageDoc, nil
}

// AttachPage binds a page doc that was restored from cache or created by
// a remote client.
func (self *Project) AttachPage(pageDoc *Doc) {
	self.mutex.Lock()
	self.pages[pageDoc.PageId()] = pageDoc
	self.mutex.Unlock()
}

func (self *Project) Page(pageId Id) (*Doc, error) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	pageDoc := self.pages[pageId]
	if pageDoc == nil {
		return nil, fmt.Errorf("%w: page %s", ErrStale, pageId)
	}
	return pageDoc, nil
}

// PageIds returns the ordered page sequence.
func (self *Project) PageIds() []Id {
	return self.doc.RootItemIds()
}

func (self *Project) PageTitle(pageId Id) (string, error) {
	return self.doc.ItemText(pageId)
}

func (self *Project) MovePage(pageId Id, newIndex int) error {
	return self.doc.MoveItem(pageId, RootItemId, newIndex)
}

// RemovePage tombstones the page in the sequence. The page replica and
// its history survive; only the ordering entry is removed.
func (self *Project) RemovePage(pageId Id) error {
	return self.doc.DeleteItem(pageId)
}
