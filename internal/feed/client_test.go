package feed_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockfeed-service/internal/feed"
)

// recordingHandler captures everything the client's reader goroutine emits.
type recordingHandler struct {
	mu       sync.Mutex
	messages []string
	errors   []error
	opened   bool
	closed   bool
}

func (h *recordingHandler) OnMessage(raw string) {
	h.mu.Lock()
	h.messages = append(h.messages, raw)
	h.mu.Unlock()
}

func (h *recordingHandler) OnError(err error) {
	h.mu.Lock()
	h.errors = append(h.errors, err)
	h.mu.Unlock()
}

func (h *recordingHandler) OnOpen() {
	h.mu.Lock()
	h.opened = true
	h.mu.Unlock()
}

func (h *recordingHandler) OnClose(reason string) {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
}

func (h *recordingHandler) snapshot() ([]string, bool, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.messages...), h.opened, h.closed
}

// newFakeProviderServer speaks the provider's command protocol: it acks
// auth/validate/subscribe/unsubscribe frames and pushes one stock_feed frame
// after a successful subscribe.
func newFakeProviderServer(t *testing.T, authOK bool) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			var frame map[string]interface{}
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}

			switch frame["type"] {
			case "auth":
				message := "Authentication successful"
				if !authOK {
					message = "invalid TOTP"
				}
				conn.WriteJSON(map[string]interface{}{"type": "auth_ack", "success": authOK, "message": message})
			case "validate":
				conn.WriteJSON(map[string]interface{}{"type": "validate_ack", "success": true})
			case "subscribe":
				conn.WriteJSON(map[string]interface{}{"type": "subscribe_ack", "success": true})
				conn.WriteMessage(websocket.TextMessage,
					[]byte(`{"type":"stock_feed","data":[{"ts":"TCS","tk":"11536","e":"nse_cm","ltp":"3500.5"}]}`))
			case "unsubscribe":
				conn.WriteJSON(map[string]interface{}{"type": "unsubscribe_ack", "success": true})
			}
		}
	}))
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestClientConnectSubscribeAndReceive(t *testing.T) {
	server := newFakeProviderServer(t, true)
	defer server.Close()

	handler := &recordingHandler{}
	client := feed.NewClient(wsURL(server))
	client.SetHandler(handler)

	creds := feed.Credentials{UCC: "AB1234", TOTPCode: "123456", MPIN: "0000"}
	require.NoError(t, client.Connect(creds))
	defer client.Close()

	assert.True(t, client.IsConnected())

	instruments := []feed.Instrument{{Token: "11536", ExchangeSegment: "nse_cm"}}
	require.NoError(t, client.Subscribe(instruments))

	require.Eventually(t, func() bool {
		messages, _, _ := handler.snapshot()
		return len(messages) > 0
	}, 2*time.Second, 10*time.Millisecond)

	messages, opened, _ := handler.snapshot()
	assert.True(t, opened)

	records := feed.ParseFeedMessage(messages[0])
	require.Len(t, records, 1, "pushed frame should arrive in parseable envelope form")
	assert.Equal(t, "TCS", records[0].Symbol)

	require.NoError(t, client.Unsubscribe(instruments))
}

func TestClientAuthFrameCarriesFullIdentity(t *testing.T) {
	frames := make(chan map[string]interface{}, 1)
	upgrader := websocket.Upgrader{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			var frame map[string]interface{}
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			if frame["type"] == "auth" {
				frames <- frame
				conn.WriteJSON(map[string]interface{}{"type": "auth_ack", "success": true})
			}
		}
	}))
	defer server.Close()

	client := feed.NewClient(wsURL(server))
	client.SetHandler(&recordingHandler{})

	creds := feed.Credentials{
		ConsumerKey:    "key-123",
		ConsumerSecret: "secret-456",
		UCC:            "AB1234",
		MobileNumber:   "+919999999999",
		TOTPCode:       "123456",
	}
	require.NoError(t, client.Connect(creds))
	defer client.Close()

	select {
	case frame := <-frames:
		assert.Equal(t, "key-123", frame["consumer_key"])
		assert.Equal(t, "secret-456", frame["consumer_secret"])
		assert.Equal(t, "AB1234", frame["ucc"])
		assert.Equal(t, "+919999999999", frame["mobile_number"])
		assert.Equal(t, "123456", frame["totp"])
	case <-time.After(2 * time.Second):
		t.Fatal("auth frame never reached the provider")
	}
}

func TestClientAuthRejected(t *testing.T) {
	server := newFakeProviderServer(t, false)
	defer server.Close()

	client := feed.NewClient(wsURL(server))
	client.SetHandler(&recordingHandler{})

	err := client.Connect(feed.Credentials{UCC: "AB1234", TOTPCode: "000000"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid TOTP")
	assert.False(t, client.IsConnected())
}

func TestClientCloseIsIdempotent(t *testing.T) {
	server := newFakeProviderServer(t, true)
	defer server.Close()

	handler := &recordingHandler{}
	client := feed.NewClient(wsURL(server))
	client.SetHandler(handler)

	require.NoError(t, client.Connect(feed.Credentials{UCC: "AB1234", TOTPCode: "123456"}))
	require.NoError(t, client.Close())
	require.NoError(t, client.Close())

	assert.False(t, client.IsConnected())
	_, _, closed := handler.snapshot()
	assert.True(t, closed)

	require.Error(t, client.Subscribe([]feed.Instrument{{Token: "1", ExchangeSegment: "nse_cm"}}))
}
