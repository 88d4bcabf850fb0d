package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vdavid/mailingest/internal/testutil/mocks"
	ws "github.com/vdavid/mailingest/internal/websocket"
)

func newWSTestServer(t *testing.T, mail *mocks.MailService, maxPerFolder int) (*WebSocketHandler, *ws.Hub, string) {
	t.Helper()

	hub := ws.NewHub(maxPerFolder)
	handler := NewWebSocketHandler(mail, hub, "INBOX")
	server := httptest.NewServer(http.HandlerFunc(handler.Handle))
	t.Cleanup(func() {
		handler.Close()
		server.Close()
	})

	return handler, hub, "ws" + strings.TrimPrefix(server.URL, "http")
}

// blockingIdle makes StartIdleListener block until its context is canceled and
// reports each started folder on the returned channel.
func blockingIdle(mail *mocks.MailService, folder string) <-chan string {
	started := make(chan string, 4)
	mail.On("StartIdleListener", mock.Anything, folder, mock.Anything).
		Run(func(args mock.Arguments) {
			started <- args.String(1)
			<-args.Get(0).(context.Context).Done()
		}).
		Return()
	return started
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()

	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	return conn
}

// serverSideClient registers the server end of a fresh WebSocket connection
// with the hub and returns it together with the peer's end.
func serverSideClient(t *testing.T, hub *ws.Hub, folder string) (*ws.Client, *websocket.Conn) {
	t.Helper()

	conns := make(chan *websocket.Conn, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := wsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns <- conn
	}))
	t.Cleanup(server.Close)

	peer := dial(t, "ws"+strings.TrimPrefix(server.URL, "http"))
	t.Cleanup(func() { _ = peer.Close() })

	var conn *websocket.Conn
	select {
	case conn = <-conns:
	case <-time.After(2 * time.Second):
		t.Fatal("server side of the connection never arrived")
	}
	client := hub.Register(folder, conn)
	require.NotNil(t, client)
	return client, peer
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	assert.Eventually(t, cond, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocketHandler_Handle(t *testing.T) {
	t.Run("subscribes to the requested folder", func(t *testing.T) {
		mail := mocks.NewMailService(t)
		started := blockingIdle(mail, "Archive")
		handler, hub, url := newWSTestServer(t, mail, 10)

		conn := dial(t, url+"?folder=Archive")
		defer conn.Close()

		select {
		case folder := <-started:
			assert.Equal(t, "Archive", folder)
		case <-time.After(2 * time.Second):
			t.Fatal("StartIdleListener was not called")
		}
		assert.Equal(t, 1, hub.ActiveConnections("Archive"))
		assert.Equal(t, 1, handler.activeListeners())
	})

	t.Run("uses the default folder", func(t *testing.T) {
		mail := mocks.NewMailService(t)
		started := blockingIdle(mail, "INBOX")
		_, hub, url := newWSTestServer(t, mail, 10)

		conn := dial(t, url)
		defer conn.Close()

		<-started
		assert.Equal(t, 1, hub.ActiveConnections("INBOX"))
	})

	t.Run("shares one listener per folder", func(t *testing.T) {
		mail := mocks.NewMailService(t)
		started := blockingIdle(mail, "INBOX")
		handler, hub, url := newWSTestServer(t, mail, 10)

		first := dial(t, url)
		defer first.Close()
		second := dial(t, url)
		defer second.Close()

		<-started
		waitFor(t, func() bool { return hub.ActiveConnections("INBOX") == 2 })
		assert.Equal(t, 1, handler.activeListeners())
		mail.AssertNumberOfCalls(t, "StartIdleListener", 1)
	})

	t.Run("stops the listener after the last subscriber leaves", func(t *testing.T) {
		mail := mocks.NewMailService(t)
		var stopped sync.WaitGroup
		stopped.Add(1)
		mail.On("StartIdleListener", mock.Anything, "INBOX", mock.Anything).
			Run(func(args mock.Arguments) {
				defer stopped.Done()
				<-args.Get(0).(context.Context).Done()
			}).
			Return().Once()
		handler, hub, url := newWSTestServer(t, mail, 10)

		conn := dial(t, url)
		waitFor(t, func() bool { return handler.activeListeners() == 1 })

		require.NoError(t, conn.Close())

		waitFor(t, func() bool { return hub.ActiveConnections("INBOX") == 0 })
		waitFor(t, func() bool { return handler.activeListeners() == 0 })
		stopped.Wait()
	})

	t.Run("pushes hub messages to the client", func(t *testing.T) {
		mail := mocks.NewMailService(t)
		started := blockingIdle(mail, "INBOX")
		_, hub, url := newWSTestServer(t, mail, 10)

		conn := dial(t, url)
		defer conn.Close()
		<-started

		hub.Send("INBOX", []byte(`{"type":"new_email","folder":"INBOX"}`))

		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, msg, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.JSONEq(t, `{"type":"new_email","folder":"INBOX"}`, string(msg))
	})

	t.Run("rejects connections over the limit", func(t *testing.T) {
		mail := mocks.NewMailService(t)
		started := blockingIdle(mail, "INBOX")
		_, hub, url := newWSTestServer(t, mail, 1)

		first := dial(t, url)
		defer first.Close()
		<-started

		second := dial(t, url)
		defer second.Close()

		require.NoError(t, second.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, _, err := second.ReadMessage()
		assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation))
		assert.Equal(t, 1, hub.ActiveConnections("INBOX"))
	})
}

func TestWebSocketHandler_StopIdleListener(t *testing.T) {
	t.Run("stops when a failed push already dropped the last subscriber", func(t *testing.T) {
		mail := mocks.NewMailService(t)
		started := blockingIdle(mail, "INBOX")
		hub := ws.NewHub(10)
		handler := NewWebSocketHandler(mail, hub, "INBOX")
		t.Cleanup(handler.Close)

		client, _ := serverSideClient(t, hub, "INBOX")
		handler.ensureIdleListener("INBOX")
		<-started

		// Send unregisters a client whose write failed before its read loop notices.
		assert.True(t, hub.Unregister("INBOX", client))
		handler.readLoop("INBOX", client)

		assert.Equal(t, 0, handler.activeListeners())
	})

	t.Run("keeps the listener when a subscriber registered in between", func(t *testing.T) {
		mail := mocks.NewMailService(t)
		started := blockingIdle(mail, "INBOX")
		hub := ws.NewHub(10)
		handler := NewWebSocketHandler(mail, hub, "INBOX")
		t.Cleanup(handler.Close)

		first, _ := serverSideClient(t, hub, "INBOX")
		handler.ensureIdleListener("INBOX")
		<-started

		assert.True(t, hub.Unregister("INBOX", first))
		second, _ := serverSideClient(t, hub, "INBOX")
		handler.ensureIdleListener("INBOX")
		handler.stopIdleListener("INBOX")

		assert.Equal(t, 1, handler.activeListeners())
		mail.AssertNumberOfCalls(t, "StartIdleListener", 1)

		assert.True(t, hub.Unregister("INBOX", second))
		handler.stopIdleListener("INBOX")
		assert.Equal(t, 0, handler.activeListeners())
	})
}

func TestWebSocketHandler_Close(t *testing.T) {
	mail := mocks.NewMailService(t)
	started := blockingIdle(mail, "INBOX")
	handler, _, url := newWSTestServer(t, mail, 10)

	conn := dial(t, url)
	defer conn.Close()
	<-started

	handler.Close()
	assert.Equal(t, 0, handler.activeListeners())
}

func TestWebSocketHandler_RejectsPlainHTTP(t *testing.T) {
	handler := NewWebSocketHandler(mocks.NewMailService(t), ws.NewHub(10), "")

	rr := httptest.NewRecorder()
	handler.Handle(rr, httptest.NewRequest(http.MethodGet, "/api/v1/ws", nil))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
