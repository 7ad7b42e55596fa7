package relay

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
	gojwt "github.com/golang-jwt/jwt/v5"

	"github.com/openoutline/collab/collab"
)

func testJwt(t *testing.T, userId Id, clientId Id) string {
	token := gojwt.NewWithClaims(gojwt.SigningMethodHS256, gojwt.MapClaims{
		"user_id":   userId.String(),
		"client_id": clientId.String(),
	})
	jwt, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatal(err)
	}
	return jwt
}

func waitFor(t *testing.T, timeout time.Duration, condition func() bool) {
	end := time.Now().Add(timeout)
	for time.Now().Before(end) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not reached")
}

func pageUrl(server *httptest.Server, pageId Id) string {
	return "ws" + strings.TrimPrefix(server.URL, "http") + "/page/" + pageId.String()
}

func newTestClient(
	t *testing.T,
	ctx context.Context,
	server *httptest.Server,
	pageId Id,
) (*collab.Doc, *collab.PresenceTable, *collab.PageChannel) {
	userId := collab.NewId()
	clientId := collab.NewId()
	doc := collab.NewDocWithDefaults(clientId, pageId)
	presence := collab.NewPresenceTableWithDefaults()
	channel := collab.NewPageChannelWithDefaults(
		ctx,
		doc,
		presence,
		pageUrl(server, pageId),
		&collab.ClientAuth{
			ByJwt:      testJwt(t, userId, clientId),
			InstanceId: collab.NewId(),
		},
	)
	return doc, presence, channel
}

func TestRelayReplicatesUpdates(t *testing.T) {
	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	relay := NewRelayWithDefaults(cancelCtx)
	defer relay.Close()
	server := httptest.NewServer(relay)
	defer server.Close()

	pageId := collab.NewId()

	// a edits before connecting; the initial delta sync carries it over
	docA, _, channelA := newTestClient(t, cancelCtx, server, pageId)
	defer channelA.Close()
	itemId, err := docA.CreateItem(collab.RootItemId, Id{})
	assert.Equal(t, err, nil)
	assert.Equal(t, docA.UpdateText(itemId, "replicated"), nil)

	docB, _, channelB := newTestClient(t, cancelCtx, server, pageId)
	defer channelB.Close()

	waitFor(t, 5*time.Second, func() bool {
		text, err := docB.ItemText(itemId)
		return err == nil && text == "replicated"
	})

	// live edits flow in both directions
	otherId, err := docB.CreateItem(collab.RootItemId, itemId)
	assert.Equal(t, err, nil)
	assert.Equal(t, docB.UpdateText(otherId, "reply"), nil)
	waitFor(t, 5*time.Second, func() bool {
		text, err := docA.ItemText(otherId)
		return err == nil && text == "reply"
	})
	assert.Equal(t, docA.RootItemIds(), docB.RootItemIds())
}

func TestRelayFansOutPresence(t *testing.T) {
	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	relay := NewRelayWithDefaults(cancelCtx)
	defer relay.Close()
	server := httptest.NewServer(relay)
	defer server.Close()

	pageId := collab.NewId()

	docA, _, channelA := newTestClient(t, cancelCtx, server, pageId)
	defer channelA.Close()
	_, presenceB, channelB := newTestClient(t, cancelCtx, server, pageId)
	defer channelB.Close()

	waitFor(t, 5*time.Second, func() bool {
		return channelA.Connected() && channelB.Connected()
	})

	userA := collab.NewId()
	itemId, _ := docA.CreateItem(collab.RootItemId, Id{})
	channelA.SendPresence(&collab.PresenceState{
		UserId:   userA,
		ClientId: docA.ClientId(),
		Active:   true,
		Cursor: &collab.Cursor{
			ItemId:   itemId,
			UserId:   userA,
			Offset:   2,
			IsActive: true,
		},
	})

	waitFor(t, 5*time.Second, func() bool {
		state, ok := presenceB.StateForUser(userA)
		return ok && state.Cursor != nil && state.Cursor.Offset == 2
	})
}
