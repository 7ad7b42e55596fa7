package collab

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/openoutline/collab/protocol"
)

type PageChannelSettings struct {
	WsHandshakeTimeout time.Duration
	AuthTimeout        time.Duration
	ReconnectTimeout   time.Duration
	PingTimeout        time.Duration
	WriteTimeout       time.Duration
	ReadTimeout        time.Duration
	SendBufferSize     int
}

func DefaultPageChannelSettings() *PageChannelSettings {
	return &PageChannelSettings{
		WsHandshakeTimeout: 2 * time.Second,
		AuthTimeout:        2 * time.Second,
		ReconnectTimeout:   5 * time.Second,
		PingTimeout:        1 * time.Second,
		WriteTimeout:       5 * time.Second,
		ReadTimeout:        15 * time.Second,
		SendBufferSize:     1024,
	}
}

type ConnectFunction func(connected bool)

// PageChannel is the replication channel for one page: one websocket
// room per page, carrying document updates and presence. The channel
// owns reconnect with backoff and re-authentication; the document is
// agnostic to connection state and keeps accepting local mutations
// while offline. On every (re)connect the channel runs a delta sync, so
// nothing is lost across a disconnect cycle and duplicate delivery is a
// no-op at the document.
type PageChannel struct {
	ctx    context.Context
	cancel context.CancelFunc

	doc      *Doc
	presence *PresenceTable
	url      string

	settings *PageChannelSettings

	mutex        sync.Mutex
	auth         *ClientAuth
	connected    bool
	handleCancel context.CancelFunc

	sendQueue chan []byte

	connectCallbacks CallbackList[*ConnectFunction]

	unsubscribeDoc func()
}

func NewPageChannelWithDefaults(
	ctx context.Context,
	doc *Doc,
	presence *PresenceTable,
	url string,
	auth *ClientAuth,
) *PageChannel {
	return NewPageChannel(ctx, doc, presence, url, auth, DefaultPageChannelSettings())
}

func NewPageChannel(
	ctx context.Context,
	doc *Doc,
	presence *PresenceTable,
	url string,
	auth *ClientAuth,
	settings *PageChannelSettings,
) *PageChannel {
	cancelCtx, cancel := context.WithCancel(ctx)
	channel := &PageChannel{
		ctx:       cancelCtx,
		cancel:    cancel,
		doc:       doc,
		presence:  presence,
		url:       url,
		auth:      auth,
		settings:  settings,
		sendQueue: make(chan []byte, settings.SendBufferSize),
	}
	channel.unsubscribeDoc = doc.Subscribe(channel.docChanged)
	go channel.run()
	return channel
}

func (self *PageChannel) docChanged(event *ChangeEvent) {
	if !event.Local {
		return
	}
	self.enqueue(protocol.RequireToFrame(&protocol.Update{
		PageId:      self.doc.PageId().Bytes(),
		UpdateBytes: event.UpdateBytes,
	}))
}

// enqueue never blocks the caller. A full queue drops the frame; the
// reconnect delta sync repairs any gap this opens.
func (self *PageChannel) enqueue(frame []byte) {
	select {
	case self.sendQueue <- frame:
	default:
		glog.Infof("[ch]%s drop send\n", self.doc.PageId())
	}
}

// SendPresence broadcasts ephemeral presence to the page room.
func (self *PageChannel) SendPresence(state *PresenceState) {
	self.enqueue(protocol.RequireToFrame(PresenceToMessage(self.doc.PageId(), state)))
}

// SetAuth rotates the session token. The current connection is torn down
// and the channel re-authenticates with the new token.
func (self *PageChannel) SetAuth(auth *ClientAuth) {
	self.mutex.Lock()
	self.auth = auth
	handleCancel := self.handleCancel
	self.mutex.Unlock()
	if handleCancel != nil {
		handleCancel()
	}
}

func (self *PageChannel) Connected() bool {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.connected
}

func (self *PageChannel) OnConnected(callback ConnectFunction) func() {
	callbackId := &callback
	self.connectCallbacks.Add(callbackId)
	return func() {
		self.connectCallbacks.Remove(callbackId)
	}
}

func (self *PageChannel) setConnected(connected bool) {
	self.mutex.Lock()
	if self.connected == connected {
		self.mutex.Unlock()
		return
	}
	self.connected = connected
	self.mutex.Unlock()
	for _, callbackId := range self.connectCallbacks.Get() {
		(*callbackId)(connected)
	}
}

func (self *PageChannel) run() {
	defer self.cancel()

	for {
		reconnect := NewReconnect(self.settings.ReconnectTimeout)

		self.mutex.Lock()
		auth := self.auth
		self.mutex.Unlock()

		authBytes, err := protocol.ToFrame(&protocol.Auth{
			ByJwt:      auth.ByJwt,
			InstanceId: auth.InstanceId.Bytes(),
			AppVersion: auth.AppVersion,
		})
		if err != nil {
			return
		}

		connect := func() (*websocket.Conn, error) {
			dialer := &websocket.Dialer{
				HandshakeTimeout: self.settings.WsHandshakeTimeout,
			}
			ws, _, err := dialer.DialContext(self.ctx, self.url, nil)
			if err != nil {
				return nil, err
			}

			success := false
			defer func() {
				if !success {
					ws.Close()
				}
			}()

			ws.SetWriteDeadline(time.Now().Add(self.settings.AuthTimeout))
			if err := ws.WriteMessage(websocket.BinaryMessage, authBytes); err != nil {
				return nil, err
			}
			ws.SetReadDeadline(time.Now().Add(self.settings.AuthTimeout))
			if messageType, message, err := ws.ReadMessage(); err != nil {
				return nil, err
			} else {
				// verify the auth echo
				switch messageType {
				case websocket.BinaryMessage:
					if !bytes.Equal(authBytes, message) {
						return nil, fmt.Errorf("Auth response error: bad bytes.")
					}
				default:
					return nil, fmt.Errorf("Auth response error.")
				}
			}

			success = true
			return ws, nil
		}

		ws, err := connect()
		if err != nil {
			glog.Infof("[ch]%s auth error = %s\n", self.doc.PageId(), err)
			select {
			case <-self.ctx.Done():
				return
			case <-reconnect.After():
				continue
			}
		}

		c := func() {
			defer ws.Close()

			handleCtx, handleCancel := context.WithCancel(self.ctx)
			defer handleCancel()

			self.mutex.Lock()
			self.handleCancel = handleCancel
			self.mutex.Unlock()

			self.setConnected(true)
			defer self.setConnected(false)

			// open the delta sync with the peer
			self.enqueue(protocol.RequireToFrame(&protocol.SyncRequest{
				PageId:        self.doc.PageId().Bytes(),
				VersionVector: vvToWire(self.doc.VersionVector()),
			}))

			go func() {
				defer handleCancel()

				for {
					select {
					case <-handleCtx.Done():
						return
					case frame, ok := <-self.sendQueue:
						if !ok {
							return
						}
						ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
						if err := ws.WriteMessage(websocket.BinaryMessage, frame); err != nil {
							glog.Infof("[ch]%s-> error = %s\n", self.doc.PageId(), err)
							return
						}
						glog.V(2).Infof("[ch]%s->\n", self.doc.PageId())
					case <-time.After(self.settings.PingTimeout):
						ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
						if err := ws.WriteMessage(websocket.BinaryMessage, make([]byte, 0)); err != nil {
							return
						}
					}
				}
			}()

			go func() {
				defer handleCancel()

				for {
					select {
					case <-handleCtx.Done():
						return
					default:
					}

					ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
					messageType, message, err := ws.ReadMessage()
					if err != nil {
						glog.Infof("[ch]%s<- error = %s\n", self.doc.PageId(), err)
						return
					}

					switch messageType {
					case websocket.BinaryMessage:
						if 0 == len(message) {
							// ping
							glog.V(2).Infof("[ch]ping %s<-\n", self.doc.PageId())
							continue
						}
						self.handleFrame(message)
					default:
						glog.V(2).Infof("[ch]other=%d %s<-\n", messageType, self.doc.PageId())
					}
				}
			}()

			select {
			case <-handleCtx.Done():
			}
		}
		reconnect = NewReconnect(self.settings.ReconnectTimeout)
		c()
		select {
		case <-self.ctx.Done():
			return
		case <-reconnect.After():
		}
	}
}

func (self *PageChannel) handleFrame(frameBytes []byte) {
	message, err := protocol.FromFrame(frameBytes)
	if err != nil {
		glog.Infof("[ch]%s bad frame = %s\n", self.doc.PageId(), err)
		return
	}
	switch v := message.(type) {
	case *protocol.Update:
		if err := self.doc.ApplyUpdate(v.UpdateBytes); err != nil {
			glog.Infof("[ch]%s apply error = %s\n", self.doc.PageId(), err)
		}
	case *protocol.SyncRequest:
		updateBytes, err := self.doc.EncodeUpdatesSince(vvFromWire(v.VersionVector))
		if err != nil {
			glog.Infof("[ch]%s sync error = %s\n", self.doc.PageId(), err)
			return
		}
		self.enqueue(protocol.RequireToFrame(&protocol.Update{
			PageId:      self.doc.PageId().Bytes(),
			UpdateBytes: updateBytes,
		}))
	case *protocol.Presence:
		state, err := PresenceFromMessage(v)
		if err != nil {
			glog.Infof("[ch]%s bad presence = %s\n", self.doc.PageId(), err)
			return
		}
		self.presence.Apply(*state)
	case *protocol.Ping:
	default:
		glog.V(2).Infof("[ch]%s unhandled %T\n", self.doc.PageId(), v)
	}
}

func (self *PageChannel) Close() {
	self.cancel()
	self.unsubscribeDoc()
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
		if clientId, err := ParseId(clientIdStr); err == nil {
			vv[clientId] = clock
		}
	}
	return vv
}
