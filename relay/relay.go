// Package relay implements the peer end of the replication channel: a
// websocket room per page that fans document updates and presence out to
// the room members. The relay keeps its own replica of every room, so a
// client that was offline can delta sync against it. Presence is relayed
// and never persisted.
package relay

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/openoutline/collab/collab"
	"github.com/openoutline/collab/protocol"
)

type RelaySettings struct {
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	PingTimeout    time.Duration
	SendBufferSize int
}

func DefaultRelaySettings() *RelaySettings {
	return &RelaySettings{
		WriteTimeout:   5 * time.Second,
		ReadTimeout:    15 * time.Second,
		PingTimeout:    1 * time.Second,
		SendBufferSize: 1024,
	}
}

type Relay struct {
	ctx    context.Context
	cancel context.CancelFunc

	clientId Id
	settings *RelaySettings

	upgrader *websocket.Upgrader

	mutex sync.Mutex
	rooms map[Id]*room
}

type Id = collab.Id

func NewRelayWithDefaults(ctx context.Context) *Relay {
	return NewRelay(ctx, DefaultRelaySettings())
}

func NewRelay(ctx context.Context, settings *RelaySettings) *Relay {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &Relay{
		ctx:      cancelCtx,
		cancel:   cancel,
		clientId: collab.NewId(),
		settings: settings,
		upgrader: &websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		rooms: map[Id]*room{},
	}
}

func (self *Relay) Close() {
	self.cancel()
}

type room struct {
	pageId Id
	doc    *collab.Doc

	mutex   sync.Mutex
	members map[*member]bool
}

type member struct {
	ws        *websocket.Conn
	sendQueue chan []byte
	userId    Id
	clientId  Id
	cancel    context.CancelFunc
}

func (self *Relay) room(pageId Id) *room {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	r := self.rooms[pageId]
	if r == nil {
		r = &room{
			pageId:  pageId,
			doc:     collab.NewDocWithDefaults(self.clientId, pageId),
			members: map[*member]bool{},
		}
		self.rooms[pageId] = r
	}
	return r
}

// ServeHTTP upgrades /page/<pageId> to a room websocket. The first frame
// must be Auth and is echoed back, mirroring the client handshake.
func (self *Relay) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	pageIdStr, ok := strings.CutPrefix(r.URL.Path, "/page/")
	if !ok {
		http.NotFound(w, r)
		return
	}
	pageId, err := collab.ParseId(pageIdStr)
	if err != nil {
		http.Error(w, "bad page id", http.StatusBadRequest)
		return
	}

	ws, err := self.upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Infof("[relay]upgrade error = %s\n", err)
		return
	}

	go self.handle(self.room(pageId), ws)
}

func (self *Relay) handle(room *room, ws *websocket.Conn) {
	defer ws.Close()

	// auth handshake
	ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
	messageType, authFrame, err := ws.ReadMessage()
	if err != nil || messageType != websocket.BinaryMessage {
		return
	}
	authMessage, err := protocol.FromFrame(authFrame)
	if err != nil {
		return
	}
	auth, ok := authMessage.(*protocol.Auth)
	if !ok {
		return
	}
	userId := Id{}
	clientId := Id{}
	if byJwt, err := collab.ParseByJwtUnverified(auth.ByJwt); err == nil {
		userId = byJwt.UserId
		clientId = byJwt.ClientId
	}
	ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
	if err := ws.WriteMessage(websocket.BinaryMessage, authFrame); err != nil {
		return
	}

	handleCtx, handleCancel := context.WithCancel(self.ctx)
	defer handleCancel()

	m := &member{
		ws:        ws,
		sendQueue: make(chan []byte, self.settings.SendBufferSize),
		userId:    userId,
		clientId:  clientId,
		cancel:    handleCancel,
	}
	room.add(m)
	defer func() {
		room.remove(m)
		// tell the survivors this user is gone so their overlays drop
		// the cursor without waiting for the ttl
		if !userId.IsZero() {
			room.fanOut(m, protocol.RequireToFrame(&protocol.Presence{
				PageId:     room.pageId.Bytes(),
				UserId:     userId.Bytes(),
				ClientId:   clientId.Bytes(),
				Active:     false,
				Disconnect: true,
				UnixMillis: time.Now().UnixMilli(),
			}))
		}
	}()

	glog.V(1).Infof("[relay]%s join %s\n", room.pageId, userId)

	go func() {
		defer handleCancel()

		for {
			select {
			case <-handleCtx.Done():
				return
			case frame, ok := <-m.sendQueue:
				if !ok {
					return
				}
				ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
				if err := ws.WriteMessage(websocket.BinaryMessage, frame); err != nil {
					return
				}
			case <-time.After(self.settings.PingTimeout):
				ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
				if err := ws.WriteMessage(websocket.BinaryMessage, make([]byte, 0)); err != nil {
					return
				}
			}
		}
	}()

	for {
		select {
		case <-handleCtx.Done():
			return
		default:
		}

		ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
		messageType, frameBytes, err := ws.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.BinaryMessage || len(frameBytes) == 0 {
			// ping
			continue
		}
		self.handleFrame(room, m, frameBytes)
	}
}

func (self *Relay) handleFrame(room *room, from *member, frameBytes []byte) {
	message, err := protocol.FromFrame(frameBytes)
	if err != nil {
		glog.Infof("[relay]%s bad frame = %s\n", room.pageId, err)
		return
	}
	switch v := message.(type) {
	case *protocol.Update:
		if err := room.doc.ApplyUpdate(v.UpdateBytes); err != nil {
			glog.Infof("[relay]%s apply error = %s\n", room.pageId, err)
			return
		}
		room.fanOut(from, frameBytes)
	case *protocol.SyncRequest:
		// answer with everything the peer is missing, then ask for
		// everything the relay is missing
		updateBytes, err := room.doc.EncodeUpdatesSince(vvFromWire(v.VersionVector))
		if err != nil {
			glog.Infof("[relay]%s sync error = %s\n", room.pageId, err)
			return
		}
		from.send(protocol.RequireToFrame(&protocol.Update{
			PageId:      room.pageId.Bytes(),
			UpdateBytes: updateBytes,
		}))
		from.send(protocol.RequireToFrame(&protocol.SyncRequest{
			PageId:        room.pageId.Bytes(),
			VersionVector: vvToWire(room.doc.VersionVector()),
		}))
	case *protocol.Presence:
		// relayed, never persisted
		room.fanOut(from, frameBytes)
	case *protocol.Ping:
	default:
		glog.V(2).Infof("[relay]%s unhandled %T\n", room.pageId, v)
	}
}

func (self *room) add(m *member) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.members[m] = true
}

func (self *room) remove(m *member) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	delete(self.members, m)
}

// fanOut sends the frame to every member except from.
func (self *room) fanOut(from *member, frame []byte) {
	self.mutex.Lock()
	members := []*member{}
	for m := range self.members {
		if m != from {
			members = append(members, m)
		}
	}
	self.mutex.Unlock()
	for _, m := range members {
		m.send(frame)
	}
}

func (self *member) send(frame []byte) {
	select {
	case self.sendQueue <- frame:
	default:
		// a stalled member catches up via delta sync on reconnect
		self.cancel()
	}
}

func vvToWire(vv map[Id]uint64) map[string]uint64 {
	wire := map[string]uint64{}
	for clientId, clock := range vv {
		wire[clientId.String()] = clock
	}
	return wire
}

func vvFromWire(wire map[string]uint64) map[Id]uint64 {
	vv := map[Id]uint64{}
	for clientIdStr, clock := range wire {
		if clientId, err := collab.ParseId(clientIdStr); err == nil {
			vv[clientId] = clock
		}
	}
	return vv
}
