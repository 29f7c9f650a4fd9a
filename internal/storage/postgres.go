package storage

import (
	"database/sql"
	"fmt"
	"log"

	"stockfeed-service/internal/feed"
	"stockfeed-service/internal/ingest"

	_ "github.com/lib/pq"
)

// PostgresAdapter persists tick batches and the ingestion stats row. It
// implements ingest.Storage.
type PostgresAdapter struct {
	db *sql.DB
}

// NewPostgresAdapter opens the connection, verifies it and runs migrations.
func NewPostgresAdapter(connectionString string) (*PostgresAdapter, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open PostgreSQL connection: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	adapter := &PostgresAdapter{db: db}

	if err := adapter.runMigrations(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Printf("✅ PostgreSQL adapter initialized successfully")
	return adapter, nil
}

// runMigrations creates the stock_feeds and ingestion_stats tables.
func (pa *PostgresAdapter) runMigrations() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS stock_feeds (
			id BIGSERIAL PRIMARY KEY,
			timestamp TIMESTAMPTZ NOT NULL,
			symbol VARCHAR(50),
			token VARCHAR(20),
			exchange VARCHAR(20),
			ltp DECIMAL(15,2),
			ltq INTEGER,
			volume BIGINT,
			turnover DECIMAL(20,2),
			change_amount DECIMAL(15,2),
			change_percent DECIMAL(8,4),
			bid_price DECIMAL(15,2),
			ask_price DECIMAL(15,2),
			bid_qty INTEGER,
			ask_qty INTEGER,
			total_buy_qty BIGINT,
			total_sell_qty BIGINT,
			last_trade_time TIMESTAMPTZ,
			feed_time TIMESTAMPTZ,
			raw_data JSONB,
			created_at TIMESTAMPTZ DEFAULT NOW()
		);`,

		`CREATE INDEX IF NOT EXISTS idx_stock_feeds_timestamp
			ON stock_feeds (timestamp DESC);`,

		`CREATE INDEX IF NOT EXISTS idx_stock_feeds_token_timestamp
			ON stock_feeds (token, timestamp DESC);`,

		`CREATE TABLE IF NOT EXISTS ingestion_stats (
			id SERIAL PRIMARY KEY,
			records_processed BIGINT DEFAULT 0,
			last_processed_at TIMESTAMPTZ,
			batch_size INTEGER,
			processing_time_ms INTEGER,
			created_at TIMESTAMPTZ DEFAULT NOW()
		);`,
	}

	for i, migration := range migrations {
		if _, err := pa.db.Exec(migration); err != nil {
			return fmt.Errorf("failed to execute migration %d: %w", i+1, err)
		}
	}

	log.Printf("✅ PostgreSQL migrations completed successfully")
	return nil
}

// InsertTickBatch writes the whole batch in a single transaction:
// all-or-nothing. Unset numeric fields land as NULL, never as zero.
func (pa *PostgresAdapter) InsertTickBatch(records []feed.TickRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := pa.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO stock_feeds (
			timestamp, symbol, token, exchange, ltp, ltq, volume, turnover,
			change_amount, change_percent, bid_price, ask_price, bid_qty,
			ask_qty, total_buy_qty, total_sell_qty, last_trade_time,
			feed_time, raw_data
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18, $19);`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, record := range records {
		var raw interface{}
		if len(record.RawData) > 0 {
			raw = string(record.RawData)
		}

		_, err := stmt.Exec(
			record.Timestamp,
			record.Symbol,
			record.Token,
			record.Exchange,
			record.LTP,
			record.LTQ,
			record.Volume,
			record.Turnover,
			record.ChangeAmount,
			record.ChangePercent,
			record.BidPrice,
			record.AskPrice,
			record.BidQty,
			record.AskQty,
			record.TotalBuyQty,
			record.TotalSellQty,
			record.LastTradeTime,
			record.FeedTime,
			raw,
		)
		if err != nil {
			return fmt.Errorf("failed to execute batch insert: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch transaction: %w", err)
	}

	return nil
}

// UpsertStats updates the latest stats row in place, or creates the first
// one. The table conceptually holds a single latest-state entity.
func (pa *PostgresAdapter) UpsertStats(stats ingest.IngestionStats) error {
	tx, err := pa.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRow(`SELECT id FROM ingestion_stats ORDER BY id DESC LIMIT 1`).Scan(&id)
	switch {
	case err == sql.ErrNoRows:
		_, err = tx.Exec(`
			INSERT INTO ingestion_stats (records_processed, last_processed_at, batch_size, processing_time_ms)
			VALUES ($1, $2, $3, $4);`,
			stats.RecordsProcessed, stats.LastProcessedAt, stats.BatchSize, stats.ProcessingTimeMs)
	case err != nil:
		return fmt.Errorf("failed to query latest stats row: %w", err)
	default:
		_, err = tx.Exec(`
			UPDATE ingestion_stats
			SET records_processed = $1, last_processed_at = $2, batch_size = $3, processing_time_ms = $4
			WHERE id = $5;`,
			stats.RecordsProcessed, stats.LastProcessedAt, stats.BatchSize, stats.ProcessingTimeMs, id)
	}
	if err != nil {
		return fmt.Errorf("failed to upsert stats: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit stats transaction: %w", err)
	}
	return nil
}

// LatestStats returns the newest stats row, or nil before the first flush.
func (pa *PostgresAdapter) LatestStats() (*ingest.IngestionStats, error) {
	var (
		stats       ingest.IngestionStats
		processedAt sql.NullTime
		batchSize   sql.NullInt64
		latencyMs   sql.NullInt64
	)

	err := pa.db.QueryRow(`
		SELECT records_processed, last_processed_at, batch_size, processing_time_ms
		FROM ingestion_stats
		ORDER BY id DESC
		LIMIT 1;`).Scan(&stats.RecordsProcessed, &processedAt, &batchSize, &latencyMs)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest stats: %w", err)
	}

	if processedAt.Valid {
		at := processedAt.Time
		stats.LastProcessedAt = &at
	}
	if batchSize.Valid {
		stats.BatchSize = int(batchSize.Int64)
	}
	if latencyMs.Valid {
		stats.ProcessingTimeMs = latencyMs.Int64
	}
	return &stats, nil
}

// Ping tests the database connection.
func (pa *PostgresAdapter) Ping() error {
	return pa.db.Ping()
}

// Close closes the database connection.
func (pa *PostgresAdapter) Close() error {
	if err := pa.db.Close(); err != nil {
		return fmt.Errorf("failed to close PostgreSQL connection: %w", err)
	}
	log.Printf("✅ PostgreSQL adapter closed")
	return nil
}
