package bridge

import (
	"log"
	"sync"
	"time"

	"stockfeed-service/internal/feed"
)

// Provider is the upstream feed connection the bridge drives. The concrete
// implementation is feed.Client; tests substitute a fake.
type Provider interface {
	Connect(creds feed.Credentials) error
	Subscribe(instruments []feed.Instrument) error
	Unsubscribe(instruments []feed.Instrument) error
	Close() error
}

// EventKind classifies connection lifecycle notifications.
type EventKind string

const (
	EventOpened EventKind = "opened"
	EventClosed EventKind = "closed"
	EventError  EventKind = "error"
)

// Event is a discrete lifecycle or error notification from the provider's
// context, consumable by the ingestion loop or status reporting.
type Event struct {
	Kind    EventKind `json:"kind"`
	Message string    `json:"message,omitempty"`
	At      time.Time `json:"at"`
}

// CommandResult is the outcome of an authenticate/subscribe/unsubscribe
// command: a success flag plus a human-readable message.
type CommandResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Status is a point-in-time snapshot of the bridge and its connection.
type Status struct {
	IsConnected           bool  `json:"is_connected"`
	IsAuthenticated       bool  `json:"is_authenticated"`
	SubscribedInstruments int   `json:"subscribed_instruments"`
	QueuedMessages        int   `json:"queued_messages"`
	ReceivedMessages      int64 `json:"received_messages"`
	DroppedMessages       int64 `json:"dropped_messages"`
}

// FeedBridge decouples the provider's reader goroutine from the ingestion
// loop. Messages cross a bounded handoff channel with a non-blocking enqueue;
// when the channel is saturated the newest message is dropped so the
// provider's notification path never stalls. Commands against the provider
// are serialized through a single mutex because the underlying connection
// answers them in order.
type FeedBridge struct {
	provider Provider

	messages chan string
	events   chan Event

	cmdMu sync.Mutex // serializes authenticate/subscribe/unsubscribe

	mu               sync.RWMutex
	connected        bool
	authenticated    bool
	subscribed       []feed.Instrument
	receivedMessages int64
	droppedMessages  int64
}

// New creates a bridge over the given provider with the given handoff queue
// capacity.
func New(provider Provider, queueCapacity int) *FeedBridge {
	if queueCapacity <= 0 {
		queueCapacity = 10000
	}
	return &FeedBridge{
		provider: provider,
		messages: make(chan string, queueCapacity),
		events:   make(chan Event, 64),
	}
}

// Messages exposes the handoff channel consumed by the ingestion loop.
func (fb *FeedBridge) Messages() <-chan string {
	return fb.messages
}

// Events exposes lifecycle and error notifications.
func (fb *FeedBridge) Events() <-chan Event {
	return fb.events
}

// OnMessage enqueues a raw feed message from the provider's reader
// goroutine. Never blocks: on saturation the message is dropped and counted.
func (fb *FeedBridge) OnMessage(raw string) {
	select {
	case fb.messages <- raw:
		fb.mu.Lock()
		fb.receivedMessages++
		fb.mu.Unlock()
	default:
		fb.mu.Lock()
		fb.droppedMessages++
		dropped := fb.droppedMessages
		fb.mu.Unlock()
		if dropped <= 10 || dropped%1000 == 0 {
			log.Printf("⚠️ Feed handoff queue full, dropping message (%d dropped so far)", dropped)
		}
	}
}

// OnError forwards a provider error as a discrete event.
func (fb *FeedBridge) OnError(err error) {
	log.Printf("⚠️ Feed provider error: %v", err)
	fb.emit(Event{Kind: EventError, Message: err.Error(), At: time.Now().UTC()})
}

// OnOpen records the connection coming up.
func (fb *FeedBridge) OnOpen() {
	fb.mu.Lock()
	fb.connected = true
	fb.mu.Unlock()
	log.Printf("🔌 Feed connection opened")
	fb.emit(Event{Kind: EventOpened, At: time.Now().UTC()})
}

// OnClose records the connection going down.
func (fb *FeedBridge) OnClose(reason string) {
	fb.mu.Lock()
	fb.connected = false
	fb.mu.Unlock()
	log.Printf("🔌 Feed connection closed: %s", reason)
	fb.emit(Event{Kind: EventClosed, Message: reason, At: time.Now().UTC()})
}

// emit never blocks; events are advisory and dropped when nobody drains them.
func (fb *FeedBridge) emit(event Event) {
	select {
	case fb.events <- event:
	default:
	}
}

// Authenticate connects and logs in to the provider.
func (fb *FeedBridge) Authenticate(creds feed.Credentials) CommandResult {
	fb.cmdMu.Lock()
	defer fb.cmdMu.Unlock()

	if err := fb.provider.Connect(creds); err != nil {
		return CommandResult{Success: false, Message: err.Error()}
	}

	fb.mu.Lock()
	fb.authenticated = true
	fb.mu.Unlock()

	return CommandResult{Success: true, Message: "Authentication successful"}
}

// Subscribe requests live updates for the given instruments. Requires a
// prior successful Authenticate.
func (fb *FeedBridge) Subscribe(instruments []feed.Instrument) CommandResult {
	fb.cmdMu.Lock()
	defer fb.cmdMu.Unlock()

	fb.mu.RLock()
	authenticated := fb.authenticated
	fb.mu.RUnlock()
	if !authenticated {
		return CommandResult{Success: false, Message: "Not authenticated"}
	}
	if len(instruments) == 0 {
		return CommandResult{Success: false, Message: "No instruments to subscribe"}
	}

	if err := fb.provider.Subscribe(instruments); err != nil {
		return CommandResult{Success: false, Message: err.Error()}
	}

	fb.mu.Lock()
	fb.subscribed = append([]feed.Instrument(nil), instruments...)
	fb.mu.Unlock()

	log.Printf("📡 Subscribed to %d instruments", len(instruments))
	return CommandResult{Success: true, Message: "Subscribed to instruments"}
}

// Unsubscribe drops the current subscription set.
func (fb *FeedBridge) Unsubscribe() CommandResult {
	fb.cmdMu.Lock()
	defer fb.cmdMu.Unlock()

	fb.mu.RLock()
	authenticated := fb.authenticated
	subscribed := fb.subscribed
	fb.mu.RUnlock()

	if !authenticated || len(subscribed) == 0 {
		return CommandResult{Success: false, Message: "Not subscribed to any instruments"}
	}

	if err := fb.provider.Unsubscribe(subscribed); err != nil {
		return CommandResult{Success: false, Message: err.Error()}
	}

	fb.mu.Lock()
	fb.subscribed = nil
	fb.mu.Unlock()

	log.Printf("📡 Unsubscribed from all instruments")
	return CommandResult{Success: true, Message: "Unsubscribed from all instruments"}
}

// Close tears down the provider connection and clears session state.
func (fb *FeedBridge) Close() error {
	fb.cmdMu.Lock()
	defer fb.cmdMu.Unlock()

	err := fb.provider.Close()

	fb.mu.Lock()
	fb.authenticated = false
	fb.subscribed = nil
	fb.mu.Unlock()

	return err
}

// Status returns a snapshot for observability.
func (fb *FeedBridge) Status() Status {
	fb.mu.RLock()
	defer fb.mu.RUnlock()

	return Status{
		IsConnected:           fb.connected,
		IsAuthenticated:       fb.authenticated,
		SubscribedInstruments: len(fb.subscribed),
		QueuedMessages:        len(fb.messages),
		ReceivedMessages:      fb.receivedMessages,
		DroppedMessages:       fb.droppedMessages,
	}
}
