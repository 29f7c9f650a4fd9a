package ingest

import (
	"fmt"
	"time"

	"stockfeed-service/internal/feed"
)

// IngestionStats is the single persisted "latest state" row: cumulative
// counter plus the shape of the most recent flush. Created on the first
// successful flush, updated on every one after that, never deleted.
type IngestionStats struct {
	RecordsProcessed int64      `json:"records_processed"`
	LastProcessedAt  *time.Time `json:"last_processed_at,omitempty"`
	BatchSize        int        `json:"batch_size"`
	ProcessingTimeMs int64      `json:"processing_time_ms"`
}

// Storage is the persistence collaborator the ingestion loop flushes into.
// InsertTickBatch is transactional: the whole batch lands or none of it does.
type Storage interface {
	InsertTickBatch(records []feed.TickRecord) error
	UpsertStats(stats IngestionStats) error
	LatestStats() (*IngestionStats, error)
}

// Publisher pushes live tick updates out-of-band (Redis pub/sub plus a
// latest-tick cache). Best effort; publish failures never affect ingestion.
type Publisher interface {
	PublishTick(record feed.TickRecord) error
	CacheLatestTick(record feed.TickRecord) error
}

// StatsTracker maintains the latest-state stats row through Storage.
type StatsTracker struct {
	storage Storage
}

// NewStatsTracker creates a tracker backed by the given storage.
func NewStatsTracker(storage Storage) *StatsTracker {
	return &StatsTracker{storage: storage}
}

// RecordFlush folds one successful flush into the stats row: the cumulative
// counter grows by the batch size, the per-flush fields are replaced.
func (st *StatsTracker) RecordFlush(batchSize int, latencyMs int64, occurredAt time.Time) error {
	latest, err := st.storage.LatestStats()
	if err != nil {
		return fmt.Errorf("failed to load latest stats: %w", err)
	}

	next := IngestionStats{
		RecordsProcessed: int64(batchSize),
		LastProcessedAt:  &occurredAt,
		BatchSize:        batchSize,
		ProcessingTimeMs: latencyMs,
	}
	if latest != nil {
		next.RecordsProcessed += latest.RecordsProcessed
	}

	if err := st.storage.UpsertStats(next); err != nil {
		return fmt.Errorf("failed to upsert stats: %w", err)
	}
	return nil
}

// Latest returns the persisted stats row, or nil before the first flush.
func (st *StatsTracker) Latest() (*IngestionStats, error) {
	return st.storage.LatestStats()
}
