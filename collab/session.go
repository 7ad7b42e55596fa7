package collab

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"
)

type PageSessionSettings struct {
	ChannelSettings  *PageChannelSettings
	PresenceSettings *PresenceTableSettings
	// how often local presence is re-broadcast and remote presence expired
	PresenceInterval time.Duration
	// how often the replica is compacted into a cache snapshot
	SnapshotInterval time.Duration
}

func DefaultPageSessionSettings() *PageSessionSettings {
	return &PageSessionSettings{
		ChannelSettings:  DefaultPageChannelSettings(),
		PresenceSettings: DefaultPresenceTableSettings(),
		PresenceInterval: 5 * time.Second,
		SnapshotInterval: 60 * time.Second,
	}
}

// PageSession wires one page end to end: the replica, the overlay and
// editor on top of it, the presence table, the local cache, and the
// replication channel. This is the object a client holds per open page.
type PageSession struct {
	ctx    context.Context
	cancel context.CancelFunc

	// guards userId, which SetAuth rotates while the presence ticker reads it
	mutex  sync.Mutex
	userId Id

	doc      *Doc
	overlay  *Overlay
	editor   *Editor
	presence *PresenceTable
	resolver *AliasResolver
	channel  *PageChannel
	cache    LocalCache

	settings *PageSessionSettings

	unsubscribeCache  func()
	unsubscribeExpire func()
}

func NewPageSessionWithDefaults(
	ctx context.Context,
	clientId Id,
	pageId Id,
	cache LocalCache,
	url string,
	auth *ClientAuth,
) (*PageSession, error) {
	return NewPageSession(ctx, clientId, pageId, cache, url, auth, DefaultPageSessionSettings())
}

func NewPageSession(
	ctx context.Context,
	clientId Id,
	pageId Id,
	cache LocalCache,
	url string,
	auth *ClientAuth,
	settings *PageSessionSettings,
) (*PageSession, error) {
	cancelCtx, cancel := context.WithCancel(ctx)

	doc := NewDocWithDefaults(clientId, pageId)
	// offline-first: load the cached replica before touching the network
	if err := RestoreDoc(cache, doc); err != nil {
		cancel()
		return nil, err
	}

	userId := Id{}
	if auth != nil {
		userId, _ = auth.UserId()
	}

	overlay := NewOverlay(doc)
	presence := NewPresenceTable(settings.PresenceSettings)
	session := &PageSession{
		ctx:      cancelCtx,
		cancel:   cancel,
		userId:   userId,
		doc:      doc,
		overlay:  overlay,
		editor:   NewEditor(doc, overlay),
		presence: presence,
		resolver: NewAliasResolverWithDefaults(doc),
		cache:    cache,
		settings: settings,
	}
	session.unsubscribeCache = PersistDoc(cache, doc)
	// stale remote cursors leave the overlay when presence lapses
	session.unsubscribeExpire = presence.OnExpire(overlay.RemoveUser)

	if url != "" {
		session.channel = NewPageChannel(cancelCtx, doc, presence, url, auth, settings.ChannelSettings)
	}

	go session.run()
	return session, nil
}

func (self *PageSession) run() {
	presenceTicker := time.NewTicker(self.settings.PresenceInterval)
	defer presenceTicker.Stop()
	snapshotTicker := time.NewTicker(self.settings.SnapshotInterval)
	defer snapshotTicker.Stop()

	for {
		select {
		case <-self.ctx.Done():
			return
		case <-presenceTicker.C:
			self.presence.Expire()
			self.broadcastPresence(true)
		case <-snapshotTicker.C:
			if snapshotBytes, err := self.doc.Snapshot(); err == nil {
				if err := self.cache.StoreSnapshot(self.doc.PageId(), snapshotBytes); err != nil {
					glog.Infof("[session]%s snapshot error = %s\n", self.doc.PageId(), err)
				}
			}
		}
	}
}

func (self *PageSession) broadcastPresence(active bool) {
	userId := self.UserId()
	if self.channel == nil || userId.IsZero() {
		return
	}
	state := &PresenceState{
		UserId:   userId,
		ClientId: self.doc.ClientId(),
		Active:   active,
		SeenAt:   time.Now(),
	}
	if cursor, ok := self.overlay.ActiveCursorForUser(userId); ok {
		state.Cursor = &cursor
	}
	if selection, ok := self.overlay.SelectionForUser(userId); ok {
		state.Selection = &selection
	}
	self.channel.SendPresence(state)
}

func (self *PageSession) Doc() *Doc {
	return self.doc
}

func (self *PageSession) Overlay() *Overlay {
	return self.overlay
}

func (self *PageSession) Editor() *Editor {
	return self.editor
}

func (self *PageSession) Presence() *PresenceTable {
	return self.presence
}

func (self *PageSession) AliasResolver() *AliasResolver {
	return self.resolver
}

func (self *PageSession) Channel() *PageChannel {
	return self.channel
}

func (self *PageSession) Connected() bool {
	return self.channel != nil && self.channel.Connected()
}

func (self *PageSession) UserId() Id {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.userId
}

// SetAuth rotates the session token on the channel.
func (self *PageSession) SetAuth(auth *ClientAuth) {
	if userId, err := auth.UserId(); err == nil {
		self.mutex.Lock()
		self.userId = userId
		self.mutex.Unlock()
	}
	if self.channel != nil {
		self.channel.SetAuth(auth)
	}
}

func (self *PageSession) Close() {
	// tell peers this user is gone before tearing down
	self.broadcastPresence(false)
	self.cancel()
	if self.channel != nil {
		self.channel.Close()
	}
	self.unsubscribeCache()
	self.unsubscribeExpire()
}
