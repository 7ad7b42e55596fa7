package collab

import (
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/openoutline/collab/protocol"
)

// PresenceState is the ephemeral awareness payload for one user on one
// page: cursor, selection, active flag. It is broadcast on the page
// channel and never persisted; a user that stops refreshing expires.
type PresenceState struct {
	UserId    Id
	ClientId  Id
	Active    bool
	Cursor    *Cursor
	Selection *Selection
	SeenAt    time.Time
}

type PresenceTableSettings struct {
	// a user with no presence refresh inside the ttl is dropped
	Ttl time.Duration
}

func DefaultPresenceTableSettings() *PresenceTableSettings {
	return &PresenceTableSettings{
		Ttl: 30 * time.Second,
	}
}

type PresenceExpireFunction func(userId Id)

// PresenceTable is the ttl'd in-memory presence tier, separate from the
// durable op log so presence churn never pollutes document history.
type PresenceTable struct {
	settings *PresenceTableSettings

	// injectable for tests
	now func() time.Time

	mutex  sync.Mutex
	states map[Id]*PresenceState

	expireCallbacks CallbackList[*PresenceExpireFunction]
}

func NewPresenceTableWithDefaults() *PresenceTable {
	return NewPresenceTable(DefaultPresenceTableSettings())
}

func NewPresenceTable(settings *PresenceTableSettings) *PresenceTable {
	return &PresenceTable{
		settings: settings,
		now:      time.Now,
		states:   map[Id]*PresenceState{},
	}
}

// OnExpire registers a callback fired with the user id whenever presence
// for a user is removed. The overlay hooks this to drop stale cursors.
func (self *PresenceTable) OnExpire(callback PresenceExpireFunction) func() {
	callbackId := &callback
	self.expireCallbacks.Add(callbackId)
	return func() {
		self.expireCallbacks.Remove(callbackId)
	}
}

func (self *PresenceTable) notifyExpire(userId Id) {
	for _, callbackId := range self.expireCallbacks.Get() {
		(*callbackId)(userId)
	}
}

// Apply merges one presence message into the table. SeenAt is stamped
// with the local receive time, so the ttl never depends on peer clocks.
func (self *PresenceTable) Apply(state PresenceState) {
	state.SeenAt = self.now()

	self.mutex.Lock()
	if !state.Active {
		delete(self.states, state.UserId)
		self.mutex.Unlock()
		self.notifyExpire(state.UserId)
		return
	}
	s := state
	self.states[state.UserId] = &s
	self.mutex.Unlock()
}

func (self *PresenceTable) States() []PresenceState {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	states := []PresenceState{}
	for _, state := range self.states {
		states = append(states, *state)
	}
	return states
}

func (self *PresenceTable) StateForUser(userId Id) (PresenceState, bool) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	state := self.states[userId]
	if state == nil {
		return PresenceState{}, false
	}
	return *state, true
}

// Expire removes users whose presence is older than the ttl.
func (self *PresenceTable) Expire() {
	now := self.now()
	expiredUserIds := []Id{}

	self.mutex.Lock()
	for userId, state := range self.states {
		if self.settings.Ttl < now.Sub(state.SeenAt) {
			delete(self.states, userId)
			expiredUserIds = append(expiredUserIds, userId)
		}
	}
	self.mutex.Unlock()

	for _, userId := range expiredUserIds {
		glog.V(2).Infof("[presence]expire %s\n", userId)
		self.notifyExpire(userId)
	}
}

// ToMessage converts local presence state to the wire message.
func PresenceToMessage(pageId Id, state *PresenceState) *protocol.Presence {
	message := &protocol.Presence{
		PageId:     pageId.Bytes(),
		UserId:     state.UserId.Bytes(),
		ClientId:   state.ClientId.Bytes(),
		Active:     state.Active,
		UnixMillis: state.SeenAt.UnixMilli(),
	}
	if state.Cursor != nil {
		message.Cursor = &protocol.PresenceCursor{
			ItemId: state.Cursor.ItemId.Bytes(),
			Offset: state.Cursor.Offset,
			Active: state.Cursor.IsActive,
		}
	}
	if state.Selection != nil {
		message.Selection = &protocol.PresenceSelection{
			StartItemId:    state.Selection.StartItemId.Bytes(),
			StartOffset:    state.Selection.StartOffset,
			EndItemId:      state.Selection.EndItemId.Bytes(),
			EndOffset:      state.Selection.EndOffset,
			IsReversed:     state.Selection.IsReversed,
			IsBoxSelection: state.Selection.IsBoxSelection,
		}
	}
	return message
}

// PresenceFromMessage converts a wire message back to presence state.
func PresenceFromMessage(message *protocol.Presence) (*PresenceState, error) {
	userId, err := IdFromBytes(message.UserId)
	if err != nil {
		return nil, err
	}
	clientId, err := IdFromBytes(message.ClientId)
	if err != nil {
		return nil, err
	}
	state := &PresenceState{
		UserId:   userId,
		ClientId: clientId,
		Active:   message.Active && !message.Disconnect,
		SeenAt:   time.UnixMilli(message.UnixMillis),
	}
	if message.Cursor != nil {
		itemId, err := IdFromBytes(message.Cursor.ItemId)
		if err != nil {
			return nil, err
		}
		state.Cursor = &Cursor{
			ItemId:   itemId,
			UserId:   userId,
			Offset:   message.Cursor.Offset,
			IsActive: message.Cursor.Active,
		}
	}
	if message.Selection != nil {
		startItemId, err := IdFromBytes(message.Selection.StartItemId)
		if err != nil {
			return nil, err
		}
		endItemId, err := IdFromBytes(message.Selection.EndItemId)
		if err != nil {
			return nil, err
		}
		state.Selection = &Selection{
			StartItemId:    startItemId,
			StartOffset:    message.Selection.StartOffset,
			EndItemId:      endItemId,
			EndOffset:      message.Selection.EndOffset,
			UserId:         userId,
			IsReversed:     message.Selection.IsReversed,
			IsBoxSelection: message.Selection.IsBoxSelection,
		}
	}
	return state, nil
}
