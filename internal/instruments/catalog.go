package instruments

import (
	"database/sql"
	"fmt"
	"log"
	"strings"

	"stockfeed-service/internal/feed"

	_ "github.com/mattn/go-sqlite3"
)

// Instrument is one subscribable scrip in the catalog.
type Instrument struct {
	Token           string `json:"instrument_token"`
	ExchangeSegment string `json:"exchange_segment"`
	Symbol          string `json:"symbol"`
	CompanyName     string `json:"company_name"`
	Sector          string `json:"sector,omitempty"`
	InstrumentType  string `json:"instrument_type"`
}

// Catalog is the SQLite-backed instrument registry used to resolve
// subscription sets. It is a thin lookup adapter around the ingestion core.
type Catalog struct {
	db *sql.DB
}

// defaultInstruments seed the catalog on first run.
var defaultInstruments = []Instrument{
	{Token: "Nifty 50", ExchangeSegment: "nse_cm", Symbol: "NIFTY50", CompanyName: "Nifty 50 Index", InstrumentType: "index"},
	{Token: "2885", ExchangeSegment: "nse_cm", Symbol: "RELIANCE", CompanyName: "Reliance Industries Ltd", Sector: "Energy", InstrumentType: "equity"},
	{Token: "11536", ExchangeSegment: "nse_cm", Symbol: "TCS", CompanyName: "Tata Consultancy Services Ltd", Sector: "IT", InstrumentType: "equity"},
	{Token: "1594", ExchangeSegment: "nse_cm", Symbol: "INFY", CompanyName: "Infosys Ltd", Sector: "IT", InstrumentType: "equity"},
	{Token: "1333", ExchangeSegment: "nse_cm", Symbol: "HDFCBANK", CompanyName: "HDFC Bank Ltd", Sector: "Banking", InstrumentType: "equity"},
	{Token: "4963", ExchangeSegment: "nse_cm", Symbol: "ICICIBANK", CompanyName: "ICICI Bank Ltd", Sector: "Banking", InstrumentType: "equity"},
	{Token: "1922", ExchangeSegment: "nse_cm", Symbol: "KOTAKBANK", CompanyName: "Kotak Mahindra Bank Ltd", Sector: "Banking", InstrumentType: "equity"},
	{Token: "3045", ExchangeSegment: "nse_cm", Symbol: "SBIN", CompanyName: "State Bank of India", Sector: "Banking", InstrumentType: "equity"},
	{Token: "10604", ExchangeSegment: "nse_cm", Symbol: "BHARTIARTL", CompanyName: "Bharti Airtel Ltd", Sector: "Telecom", InstrumentType: "equity"},
	{Token: "1348", ExchangeSegment: "nse_cm", Symbol: "HINDUNILVR", CompanyName: "Hindustan Unilever Ltd", Sector: "FMCG", InstrumentType: "equity"},
	{Token: "5900", ExchangeSegment: "nse_cm", Symbol: "AXISBANK", CompanyName: "Axis Bank Ltd", Sector: "Banking", InstrumentType: "equity"},
}

// NewCatalog opens (or creates) the catalog database and seeds the default
// instrument set on first run.
func NewCatalog(path string) (*Catalog, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open instrument database: %w", err)
	}

	catalog := &Catalog{db: db}

	if err := catalog.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize instrument catalog: %w", err)
	}

	return catalog, nil
}

func (c *Catalog) initialize() error {
	schema := `CREATE TABLE IF NOT EXISTS instruments (
		token TEXT NOT NULL,
		exchange_segment TEXT NOT NULL,
		symbol TEXT NOT NULL,
		company_name TEXT NOT NULL,
		sector TEXT DEFAULT '',
		instrument_type TEXT NOT NULL,
		PRIMARY KEY (token, exchange_segment)
	);`

	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create instruments table: %w", err)
	}

	var count int
	if err := c.db.QueryRow(`SELECT COUNT(*) FROM instruments`).Scan(&count); err != nil {
		return fmt.Errorf("failed to count instruments: %w", err)
	}
	if count > 0 {
		return nil
	}

	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin seed transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO instruments
		(token, exchange_segment, symbol, company_name, sector, instrument_type)
		VALUES (?, ?, ?, ?, ?, ?);`)
	if err != nil {
		return fmt.Errorf("failed to prepare seed statement: %w", err)
	}
	defer stmt.Close()

	for _, instrument := range defaultInstruments {
		if _, err := stmt.Exec(instrument.Token, instrument.ExchangeSegment, instrument.Symbol,
			instrument.CompanyName, instrument.Sector, instrument.InstrumentType); err != nil {
			return fmt.Errorf("failed to seed instrument %s: %w", instrument.Symbol, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit seed transaction: %w", err)
	}

	log.Printf("📊 Seeded instrument catalog with %d defaults", len(defaultInstruments))
	return nil
}

// DefaultSubscription is the instrument set used when a start request names
// none: the Nifty 50 index on the NSE cash segment.
func (c *Catalog) DefaultSubscription() []feed.Instrument {
	return []feed.Instrument{{Token: "Nifty 50", ExchangeSegment: "nse_cm"}}
}

// All returns every catalog entry.
func (c *Catalog) All() ([]Instrument, error) {
	rows, err := c.db.Query(`SELECT token, exchange_segment, symbol, company_name, sector, instrument_type
		FROM instruments ORDER BY symbol;`)
	if err != nil {
		return nil, fmt.Errorf("failed to query instruments: %w", err)
	}
	defer rows.Close()

	return scanInstruments(rows)
}

// Search matches symbol, company name or sector, case-insensitively.
func (c *Catalog) Search(query string, limit int) ([]Instrument, error) {
	query = strings.TrimSpace(query)
	if limit <= 0 {
		limit = 10
	}
	if query == "" {
		all, err := c.All()
		if err != nil {
			return nil, err
		}
		if len(all) > limit {
			all = all[:limit]
		}
		return all, nil
	}

	pattern := "%" + strings.ToLower(query) + "%"
	rows, err := c.db.Query(`SELECT token, exchange_segment, symbol, company_name, sector, instrument_type
		FROM instruments
		WHERE LOWER(symbol) LIKE ? OR LOWER(company_name) LIKE ? OR LOWER(sector) LIKE ?
		ORDER BY symbol
		LIMIT ?;`, pattern, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search instruments: %w", err)
	}
	defer rows.Close()

	return scanInstruments(rows)
}

// ByToken returns the catalog entries sharing a token, one per exchange
// segment.
func (c *Catalog) ByToken(token string) ([]Instrument, error) {
	rows, err := c.db.Query(`SELECT token, exchange_segment, symbol, company_name, sector, instrument_type
		FROM instruments WHERE token = ?;`, token)
	if err != nil {
		return nil, fmt.Errorf("failed to query instruments by token: %w", err)
	}
	defer rows.Close()

	return scanInstruments(rows)
}

func scanInstruments(rows *sql.Rows) ([]Instrument, error) {
	var instruments []Instrument
	for rows.Next() {
		var instrument Instrument
		if err := rows.Scan(&instrument.Token, &instrument.ExchangeSegment, &instrument.Symbol,
			&instrument.CompanyName, &instrument.Sector, &instrument.InstrumentType); err != nil {
			return nil, fmt.Errorf("failed to scan instrument: %w", err)
		}
		instruments = append(instruments, instrument)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate instruments: %w", err)
	}
	return instruments, nil
}

// ToSubscription converts catalog entries to the provider's subscription
// shape.
func ToSubscription(instruments []Instrument) []feed.Instrument {
	subscription := make([]feed.Instrument, 0, len(instruments))
	for _, instrument := range instruments {
		subscription = append(subscription, feed.Instrument{
			Token:           instrument.Token,
			ExchangeSegment: instrument.ExchangeSegment,
		})
	}
	return subscription
}

// Close closes the catalog database.
func (c *Catalog) Close() error {
	return c.db.Close()
}
