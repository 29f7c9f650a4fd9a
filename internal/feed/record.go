package feed

import (
	"encoding/json"
	"time"
)

// TickRecord represents a single normalized market update from the feed.
// Numeric fields are pointers because the provider distinguishes "no value"
// from zero: a missing or falsy field stays nil all the way into storage.
// Records are immutable once constructed.
type TickRecord struct {
	Timestamp     time.Time       `json:"timestamp"`
	Symbol        string          `json:"symbol,omitempty"`
	Token         string          `json:"token,omitempty"`
	Exchange      string          `json:"exchange,omitempty"`
	LTP           *float64        `json:"ltp,omitempty"`
	LTQ           *int64          `json:"ltq,omitempty"`
	Volume        *int64          `json:"volume,omitempty"`
	Turnover      *float64        `json:"turnover,omitempty"`
	ChangeAmount  *float64        `json:"change_amount,omitempty"`
	ChangePercent *float64        `json:"change_percent,omitempty"`
	BidPrice      *float64        `json:"bid_price,omitempty"`
	AskPrice      *float64        `json:"ask_price,omitempty"`
	BidQty        *int64          `json:"bid_qty,omitempty"`
	AskQty        *int64          `json:"ask_qty,omitempty"`
	TotalBuyQty   *int64          `json:"total_buy_qty,omitempty"`
	TotalSellQty  *int64          `json:"total_sell_qty,omitempty"`
	LastTradeTime *time.Time      `json:"last_trade_time,omitempty"`
	FeedTime      *time.Time      `json:"feed_time,omitempty"`
	RawData       json.RawMessage `json:"raw_data,omitempty"`
}

// Instrument identifies one subscribable scrip on an exchange segment.
type Instrument struct {
	Token           string `json:"instrument_token"`
	ExchangeSegment string `json:"exchange_segment"`
}

// Credentials carries everything needed for the provider login handshake.
// TOTPCode and MPIN are per-session and arrive with the start request; the
// rest comes from configuration.
type Credentials struct {
	ConsumerKey    string `json:"consumer_key"`
	ConsumerSecret string `json:"consumer_secret"`
	UCC            string `json:"ucc"`
	MobileNumber   string `json:"mobile_number"`
	TOTPCode       string `json:"totp_code"`
	MPIN           string `json:"mpin,omitempty"`
}
