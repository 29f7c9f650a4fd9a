package ingest

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"stockfeed-service/internal/bridge"
	"stockfeed-service/internal/buffer"
	"stockfeed-service/internal/feed"
)

// State is the ingestion loop lifecycle state.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

// Source identifies where a running session gets its data from.
type Source string

const (
	SourceFeed Source = "websocket"
	SourceFile Source = "file"
)

// DefaultFlushInterval is used when configuration supplies nothing.
const DefaultFlushInterval = 3 * time.Second

// StartResult is the structured outcome of a start command.
type StartResult struct {
	Status       string                `json:"status"` // "success", "info" or "error"
	Message      string                `json:"message"`
	Auth         *bridge.CommandResult `json:"auth,omitempty"`
	Subscription *bridge.CommandResult `json:"subscription,omitempty"`
}

// StatusSnapshot merges the persisted stats row with live loop and bridge
// state for the status endpoint.
type StatusSnapshot struct {
	TotalProcessed       int64         `json:"total_processed"`
	LastProcessedAt      *time.Time    `json:"last_processed_at"`
	LastBatchSize        int           `json:"last_batch_size"`
	LastProcessingTimeMs int64         `json:"last_processing_time_ms"`
	BufferSize           int           `json:"buffer_size"`
	IsRunning            bool          `json:"is_running"`
	FeedSource           string        `json:"feed_source"`
	FeedStatus           bridge.Status `json:"websocket_status"`
}

// Service is the ingestion state machine: it drains the bridge, parses and
// buffers records, and flushes the buffer to storage on a fixed interval.
// The loop itself is a single goroutine; the only concurrency is the
// provider's reader goroutine on the far side of the bridge and the buffer.
type Service struct {
	feedBridge *bridge.FeedBridge
	buffer     *buffer.TickBuffer
	storage    Storage
	stats      *StatsTracker
	publisher  Publisher // optional

	flushInterval time.Duration

	mu       sync.Mutex
	state    State
	source   Source
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewService wires the ingestion loop. publisher may be nil to disable live
// publishing.
func NewService(feedBridge *bridge.FeedBridge, tickBuffer *buffer.TickBuffer, storage Storage, publisher Publisher, flushInterval time.Duration) *Service {
	if flushInterval <= 0 {
		flushInterval = DefaultFlushInterval
	}
	return &Service{
		feedBridge:    feedBridge,
		buffer:        tickBuffer,
		storage:       storage,
		stats:         NewStatsTracker(storage),
		publisher:     publisher,
		flushInterval: flushInterval,
		state:         StateIdle,
		source:        SourceFeed,
	}
}

// StartFeed authenticates against the provider, subscribes the instrument
// set and starts the ingestion loop. Calling it while a session is already
// running is a no-op reported as "info", never an error.
func (s *Service) StartFeed(creds feed.Credentials, instruments []feed.Instrument) StartResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle {
		return StartResult{Status: "info", Message: "Ingestion already running"}
	}

	auth := s.feedBridge.Authenticate(creds)
	if !auth.Success {
		log.Printf("❌ Feed authentication failed: %s", auth.Message)
		return StartResult{Status: "error", Message: auth.Message, Auth: &auth}
	}

	subscription := s.feedBridge.Subscribe(instruments)
	if !subscription.Success {
		log.Printf("❌ Feed subscription failed: %s", subscription.Message)
		return StartResult{Status: "error", Message: subscription.Message, Auth: &auth, Subscription: &subscription}
	}

	s.state = StateRunning
	s.source = SourceFeed
	s.stopChan = make(chan struct{})
	s.wg.Add(1)
	go s.run(s.stopChan, nil)

	log.Printf("🚀 Feed ingestion started (flush interval %v)", s.flushInterval)
	return StartResult{Status: "success", Message: "Ingestion started", Auth: &auth, Subscription: &subscription}
}

// StartFile starts an ingestion session fed from a capture file instead of
// the live feed. Used for testing and replay of recorded sessions.
func (s *Service) StartFile(path string) StartResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle {
		return StartResult{Status: "info", Message: "Ingestion already running"}
	}

	s.state = StateRunning
	s.source = SourceFile
	s.stopChan = make(chan struct{})
	s.wg.Add(1)
	go s.run(s.stopChan, func() {
		if err := s.loadFile(path); err != nil {
			log.Printf("❌ Failed to load feed file %s: %v", path, err)
		}
	})

	log.Printf("🚀 File ingestion started from %s", path)
	return StartResult{Status: "success", Message: fmt.Sprintf("Ingestion started from %s", path)}
}

// run is the ingestion loop. It reacts to bridge messages as they arrive and
// flushes on the ticker, so the flush cadence stays bounded regardless of
// message rate. Exactly one run goroutine exists per running session.
func (s *Service) run(stopChan chan struct{}, preload func()) {
	defer s.wg.Done()

	if preload != nil {
		preload()
	}

	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case raw := <-s.feedBridge.Messages():
			s.handleMessage(raw)

		case event := <-s.feedBridge.Events():
			switch event.Kind {
			case bridge.EventError:
				log.Printf("⚠️ Feed event: %s", event.Message)
			default:
				log.Printf("🔔 Feed event: %s %s", event.Kind, event.Message)
			}

		case <-ticker.C:
			s.flush()

		case <-stopChan:
			return
		}
	}
}

// handleMessage parses one raw feed message and buffers the resulting
// records. Parse failures were already logged by the parser and simply
// produce no records.
func (s *Service) handleMessage(raw string) {
	records := feed.ParseFeedMessage(raw)
	for _, record := range records {
		s.buffer.Append(record)

		if s.publisher != nil {
			if err := s.publisher.PublishTick(record); err != nil {
				log.Printf("⚠️ Failed to publish tick for %s: %v", record.Symbol, err)
			}
			if err := s.publisher.CacheLatestTick(record); err != nil {
				log.Printf("⚠️ Failed to cache latest tick for %s: %v", record.Symbol, err)
			}
		}
	}
}

// loadFile feeds a recorded capture file through the parser into the buffer,
// one message per line.
func (s *Service) loadFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open feed file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lines := 0
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		for _, record := range feed.ParseFeedMessage(line) {
			s.buffer.Append(record)
		}
		lines++
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read feed file: %w", err)
	}

	log.Printf("📄 Loaded %d lines from %s (%d records buffered)", lines, path, s.buffer.Size())
	return nil
}

// flush drains the buffer and writes the batch to storage in one
// transaction, then folds the flush into the stats row. A storage failure
// loses the drained batch: the error is logged and the loop carries on with
// whatever arrives next.
func (s *Service) flush() {
	started := time.Now()
	batch := s.buffer.DrainAll()
	if len(batch) == 0 {
		return
	}

	if err := s.storage.InsertTickBatch(batch); err != nil {
		log.Printf("❌ Failed to insert batch of %d records, batch dropped: %v", len(batch), err)
		return
	}

	latencyMs := time.Since(started).Milliseconds()
	if err := s.stats.RecordFlush(len(batch), latencyMs, time.Now().UTC()); err != nil {
		log.Printf("⚠️ Failed to update ingestion stats: %v", err)
	}

	log.Printf("📦 Flushed %d records in %dms", len(batch), latencyMs)
}

// Stop ends the running session: it cancels the loop, performs one final
// synchronous flush and, for feed sessions, unsubscribes and disconnects the
// provider so a later start can log in again. Idempotent; stopping an idle
// service is a no-op.
func (s *Service) Stop() {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return
	}
	s.state = StateStopping
	stopChan := s.stopChan
	source := s.source
	s.mu.Unlock()

	close(stopChan)
	s.wg.Wait()

	s.flush()

	if source == SourceFeed {
		if result := s.feedBridge.Unsubscribe(); !result.Success {
			log.Printf("⚠️ Unsubscribe on stop failed: %s", result.Message)
		}
		if err := s.feedBridge.Close(); err != nil {
			log.Printf("⚠️ Feed disconnect on stop failed: %v", err)
		}
	}

	s.mu.Lock()
	s.state = StateIdle
	s.mu.Unlock()

	log.Printf("🛑 Ingestion stopped")
}

// IsRunning reports whether a session is currently active.
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateRunning
}

// CurrentState returns the loop state.
func (s *Service) CurrentState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status assembles the status snapshot from the persisted stats row, the
// live buffer and the bridge.
func (s *Service) Status() (StatusSnapshot, error) {
	latest, err := s.stats.Latest()
	if err != nil {
		return StatusSnapshot{}, fmt.Errorf("failed to load ingestion stats: %w", err)
	}

	s.mu.Lock()
	state := s.state
	source := s.source
	s.mu.Unlock()

	snapshot := StatusSnapshot{
		BufferSize: s.buffer.Size(),
		IsRunning:  state == StateRunning,
		FeedSource: string(source),
		FeedStatus: s.feedBridge.Status(),
	}
	if latest != nil {
		snapshot.TotalProcessed = latest.RecordsProcessed
		snapshot.LastProcessedAt = latest.LastProcessedAt
		snapshot.LastBatchSize = latest.BatchSize
		snapshot.LastProcessingTimeMs = latest.ProcessingTimeMs
	}
	return snapshot, nil
}
