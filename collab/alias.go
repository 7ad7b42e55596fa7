package collab

import (
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
)

// AliasTarget returns the committed alias target of the item, or false
// when the item is not an alias.
func (self *Doc) AliasTarget(itemId Id) (Id, bool) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	item := self.items[itemId]
	if item == nil || item.deleted || item.aliasTargetId.IsZero() {
		return Id{}, false
	}
	return item.aliasTargetId, true
}

// SetAliasTarget commits an alias target for the item. A self target is
// rejected.
func (self *Doc) SetAliasTarget(itemId Id, targetItemId Id) error {
	if itemId == targetItemId {
		return fmt.Errorf("alias %s cannot target itself", itemId)
	}
	self.mutex.Lock()
	item := self.items[itemId]
	if item == nil || item.deleted {
		self.mutex.Unlock()
		return fmt.Errorf("%w: item %s", ErrStale, itemId)
	}
	if !targetItemId.IsZero() && self.items[targetItemId] == nil {
		self.mutex.Unlock()
		return fmt.Errorf("%w: target %s", ErrStale, targetItemId)
	}
	op := Op{
		Id:           self.nextOpId(1),
		Type:         OpTypeSetAliasTarget,
		ItemId:       itemId,
		TargetItemId: targetItemId,
	}
	event := self.commitLocal([]Op{op})
	self.mutex.Unlock()
	self.notify(event)
	return nil
}

type AliasResolverSettings struct {
	// how long Resolve trusts a confirmed target that is not yet
	// observable in the replicated document
	FallbackWindow time.Duration
}

func DefaultAliasResolverSettings() *AliasResolverSettings {
	return &AliasResolverSettings{
		FallbackWindow: 2 * time.Second,
	}
}

// AliasResolver resolves alias items to their targets. Immediately after
// a confirmation the replicated write may not be locally observable yet;
// for a short window Resolve falls back to the pending confirmation so
// the resolved path renders without waiting for a round trip.
type AliasResolver struct {
	doc      *Doc
	settings *AliasResolverSettings

	// injectable for tests
	now func() time.Time

	mutex                sync.Mutex
	lastConfirmedItemId   Id
	lastConfirmedTargetId Id
	lastConfirmedAt       time.Time
}

func NewAliasResolverWithDefaults(doc *Doc) *AliasResolver {
	return NewAliasResolver(doc, DefaultAliasResolverSettings())
}

func NewAliasResolver(doc *Doc, settings *AliasResolverSettings) *AliasResolver {
	return &AliasResolver{
		doc:      doc,
		settings: settings,
		now:      time.Now,
	}
}

// ConfirmAlias commits the alias and caches the confirmation for the
// fallback window. A self reference is a no-op that leaves the alias
// target unset.
func (self *AliasResolver) ConfirmAlias(aliasItemId Id, targetItemId Id) {
	if aliasItemId == targetItemId {
		glog.Errorf("[alias]self reference rejected %s\n", aliasItemId)
		return
	}
	if err := self.doc.SetAliasTarget(aliasItemId, targetItemId); err != nil {
		glog.V(1).Infof("[alias]confirm drop = %s\n", err)
		return
	}
	self.mutex.Lock()
	self.lastConfirmedItemId = aliasItemId
	self.lastConfirmedTargetId = targetItemId
	self.lastConfirmedAt = self.now()
	self.mutex.Unlock()
}

// Resolve returns the target of the alias item, following transitive
// aliases to the final target. Resolution never reaches the alias item
// itself; a cycle resolves to nothing.
func (self *AliasResolver) Resolve(aliasItemId Id) (Id, bool) {
	seen := map[Id]bool{}
	current := aliasItemId
	resolved := false
	for {
		if seen[current] {
			// transitive self reference
			glog.Errorf("[alias]cycle at %s\n", aliasItemId)
			return Id{}, false
		}
		seen[current] = true
		targetId, ok := self.resolveStep(current)
		if !ok {
			break
		}
		current = targetId
		resolved = true
	}
	if !resolved || current == aliasItemId {
		return Id{}, false
	}
	return current, true
}

func (self *AliasResolver) resolveStep(aliasItemId Id) (Id, bool) {
	if targetId, ok := self.doc.AliasTarget(aliasItemId); ok {
		return targetId, true
	}

	// committed value not observable yet; consult the pending
	// confirmation inside the fallback window
	self.mutex.Lock()
	defer self.mutex.Unlock()
	if self.lastConfirmedItemId != aliasItemId {
		return Id{}, false
	}
	if self.settings.FallbackWindow < self.now().Sub(self.lastConfirmedAt) {
		return Id{}, false
	}
	return self.lastConfirmedTargetId, true
}
