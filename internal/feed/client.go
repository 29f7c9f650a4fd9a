package feed

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// commandTimeout bounds how long a login/subscribe command waits for its ack.
const commandTimeout = 10 * time.Second

// Handler receives provider notifications. All methods are invoked from the
// client's reader goroutine, never from the caller's goroutine, so
// implementations must not block.
type Handler interface {
	OnMessage(raw string)
	OnError(err error)
	OnOpen()
	OnClose(reason string)
}

// Client maintains the persistent websocket connection to the feed provider
// and implements its command protocol: a TOTP login (optionally followed by
// MPIN validation), then subscribe/unsubscribe frames. Incoming stock_feed
// frames are forwarded to the Handler wrapped in the "[Res]:" envelope the
// parser expects.
type Client struct {
	url     string
	dialer  *websocket.Dialer
	handler Handler

	writeMu sync.Mutex // serializes writes on the connection

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	acks      chan commandAck
	done      chan struct{}
}

type commandAck struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type authRequest struct {
	Type           string `json:"type"`
	ConsumerKey    string `json:"consumer_key"`
	ConsumerSecret string `json:"consumer_secret"`
	UCC            string `json:"ucc"`
	MobileNumber   string `json:"mobile_number"`
	TOTP           string `json:"totp"`
}

type validateRequest struct {
	Type string `json:"type"`
	MPIN string `json:"mpin"`
}

type subscriptionRequest struct {
	Type        string       `json:"type"`
	Instruments []Instrument `json:"instruments"`
	IsIndex     bool         `json:"isIndex"`
	IsDepth     bool         `json:"isDepth"`
}

// NewClient creates a client for the given websocket URL. The handler must
// be set before Connect.
func NewClient(url string) *Client {
	return &Client{
		url:    url,
		dialer: websocket.DefaultDialer,
	}
}

// SetHandler installs the notification handler. Must be called before
// Connect; the bridge is wired here after both sides are constructed.
func (c *Client) SetHandler(handler Handler) {
	c.handler = handler
}

// Connect dials the provider, performs the TOTP login and, when an MPIN is
// supplied, the second-factor validation. On success the reader goroutine is
// running and feed frames flow to the handler.
func (c *Client) Connect(creds Credentials) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return fmt.Errorf("already connected")
	}

	conn, _, err := c.dialer.Dial(c.url, nil)
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("failed to dial feed provider: %w", err)
	}

	c.conn = conn
	c.connected = true
	c.acks = make(chan commandAck, 1)
	c.done = make(chan struct{})
	c.mu.Unlock()

	go c.readLoop(conn)

	if c.handler != nil {
		c.handler.OnOpen()
	}

	ack, err := c.command(authRequest{
		Type:           "auth",
		ConsumerKey:    creds.ConsumerKey,
		ConsumerSecret: creds.ConsumerSecret,
		UCC:            creds.UCC,
		MobileNumber:   creds.MobileNumber,
		TOTP:           creds.TOTPCode,
	})
	if err != nil {
		c.Close()
		return fmt.Errorf("login failed: %w", err)
	}
	if !ack.Success {
		c.Close()
		return fmt.Errorf("login rejected: %s", ack.Message)
	}

	if creds.MPIN != "" {
		ack, err = c.command(validateRequest{Type: "validate", MPIN: creds.MPIN})
		if err != nil {
			c.Close()
			return fmt.Errorf("2FA validation failed: %w", err)
		}
		if !ack.Success {
			c.Close()
			return fmt.Errorf("2FA validation rejected: %s", ack.Message)
		}
	}

	log.Printf("✅ Feed provider login successful for UCC %s", creds.UCC)
	return nil
}

// Subscribe requests live updates for the given instruments.
func (c *Client) Subscribe(instruments []Instrument) error {
	ack, err := c.command(subscriptionRequest{Type: "subscribe", Instruments: instruments})
	if err != nil {
		return fmt.Errorf("subscribe failed: %w", err)
	}
	if !ack.Success {
		return fmt.Errorf("subscribe rejected: %s", ack.Message)
	}
	return nil
}

// Unsubscribe stops live updates for the given instruments.
func (c *Client) Unsubscribe(instruments []Instrument) error {
	ack, err := c.command(subscriptionRequest{Type: "unsubscribe", Instruments: instruments})
	if err != nil {
		return fmt.Errorf("unsubscribe failed: %w", err)
	}
	if !ack.Success {
		return fmt.Errorf("unsubscribe rejected: %s", ack.Message)
	}
	return nil
}

// command writes one request frame and waits for the matching ack from the
// reader goroutine. The provider answers commands in order, so a single
// pending ack slot is enough.
func (c *Client) command(request interface{}) (commandAck, error) {
	c.mu.Lock()
	conn := c.conn
	acks := c.acks
	done := c.done
	if !c.connected {
		c.mu.Unlock()
		return commandAck{}, fmt.Errorf("not connected")
	}
	c.mu.Unlock()

	c.writeMu.Lock()
	err := conn.WriteJSON(request)
	c.writeMu.Unlock()
	if err != nil {
		return commandAck{}, fmt.Errorf("failed to send command: %w", err)
	}

	select {
	case ack := <-acks:
		return ack, nil
	case <-done:
		return commandAck{}, fmt.Errorf("connection closed while waiting for response")
	case <-time.After(commandTimeout):
		return commandAck{}, fmt.Errorf("timed out waiting for response")
	}
}

// readLoop is the provider's notification context: it owns all reads and
// dispatches frames until the connection dies.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.teardown(conn, err)
			return
		}

		var ack commandAck
		if json.Unmarshal(data, &ack) == nil && isAckType(ack.Type) {
			select {
			case c.acks <- ack:
			default:
				log.Printf("⚠️ Dropping unexpected %s frame", ack.Type)
			}
			continue
		}

		if c.handler != nil {
			c.handler.OnMessage(fmt.Sprintf("%s %s", envelopePrefix, data))
		}
	}
}

func isAckType(frameType string) bool {
	switch frameType {
	case "auth_ack", "validate_ack", "subscribe_ack", "unsubscribe_ack":
		return true
	}
	return false
}

// teardown marks the connection dead and notifies the handler. Called from
// the reader goroutine on read failure, or indirectly via Close. Scoped to
// one connection so a late reader from a previous session cannot tear down a
// reconnected one.
func (c *Client) teardown(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if !c.connected || c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.connected = false
	c.conn = nil
	close(c.done)
	c.mu.Unlock()

	conn.Close()

	if c.handler != nil {
		if cause != nil && !websocket.IsCloseError(cause, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			c.handler.OnError(cause)
		}
		reason := "connection closed"
		if cause != nil {
			reason = cause.Error()
		}
		c.handler.OnClose(reason)
	}
}

// Close tears down the connection. Safe to call multiple times.
func (c *Client) Close() error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil
	}
	conn := c.conn
	c.mu.Unlock()

	// Best-effort close frame; the reader goroutine finishes the teardown
	// when the read fails.
	c.writeMu.Lock()
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
	c.writeMu.Unlock()

	c.teardown(conn, nil)
	return nil
}

// IsConnected reports whether the websocket is currently up.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}
