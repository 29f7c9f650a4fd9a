package feed

import (
	"encoding/json"
	"log"
	"strconv"
	"strings"
	"time"
)

const (
	// envelopePrefix marks a feed payload line. Anything without it is
	// ignored (heartbeats, acks, provider chatter).
	envelopePrefix = "[Res]:"

	// feedTimeLayout is the provider's day/month/year timestamp format
	// used by the ltt and fdtm fields.
	feedTimeLayout = "02/01/2006 15:04:05"
)

// feedEnvelope is the JSON body carried after the envelope prefix.
type feedEnvelope struct {
	Type string            `json:"type"`
	Data []json.RawMessage `json:"data"`
}

// ParseFeedMessage converts one raw feed line into zero or more tick records.
// Only "[Res]:" envelopes of type "stock_feed" with a data array produce
// records; everything else yields nil. The parser never returns an error:
// malformed input is logged and dropped so one bad message can never take
// down the ingestion loop.
func ParseFeedMessage(raw string) []TickRecord {
	if !strings.HasPrefix(raw, envelopePrefix) {
		return nil
	}

	payload := strings.TrimSpace(raw[len(envelopePrefix):])

	var envelope feedEnvelope
	if err := json.Unmarshal([]byte(payload), &envelope); err != nil {
		log.Printf("⚠️ Failed to parse feed envelope: %v", err)
		return nil
	}

	if envelope.Type != "stock_feed" || envelope.Data == nil {
		return nil
	}

	capturedAt := time.Now().UTC()
	records := make([]TickRecord, 0, len(envelope.Data))

	for _, item := range envelope.Data {
		var fields map[string]interface{}
		if err := json.Unmarshal(item, &fields); err != nil {
			// One unreadable item never affects its siblings.
			log.Printf("⚠️ Failed to parse feed data item: %v", err)
			continue
		}

		records = append(records, TickRecord{
			Timestamp:     capturedAt,
			Symbol:        stringField(fields, "ts"),
			Token:         stringField(fields, "tk"),
			Exchange:      stringField(fields, "e"),
			LTP:           floatField(fields, "ltp"),
			LTQ:           intField(fields, "ltq"),
			Volume:        intField(fields, "v"),
			Turnover:      floatField(fields, "to"),
			ChangeAmount:  floatField(fields, "cng"),
			ChangePercent: floatField(fields, "nc"),
			BidPrice:      floatField(fields, "bp"),
			AskPrice:      floatField(fields, "sp"),
			BidQty:        intField(fields, "bq"),
			AskQty:        intField(fields, "bs"),
			TotalBuyQty:   intField(fields, "tbq"),
			TotalSellQty:  intField(fields, "tsq"),
			LastTradeTime: timeField(fields, "ltt"),
			FeedTime:      timeField(fields, "fdtm"),
			RawData:       item,
		})
	}

	if len(records) == 0 {
		return nil
	}
	return records
}

func stringField(fields map[string]interface{}, key string) string {
	if value, ok := fields[key].(string); ok {
		return value
	}
	return ""
}

// floatField maps missing or falsy values to nil: an absent key, an empty
// string and the JSON number 0 all mean "no value" on this feed. A quoted
// "0" is a real zero and stays set.
func floatField(fields map[string]interface{}, key string) *float64 {
	switch value := fields[key].(type) {
	case float64:
		if value == 0 {
			return nil
		}
		return &value
	case string:
		if value == "" {
			return nil
		}
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil
		}
		return &parsed
	}
	return nil
}

// intField follows the same falsy rules as floatField. Quantities sometimes
// arrive as decimal strings, so it falls back to float parsing and truncates.
func intField(fields map[string]interface{}, key string) *int64 {
	switch value := fields[key].(type) {
	case float64:
		if value == 0 {
			return nil
		}
		parsed := int64(value)
		return &parsed
	case string:
		if value == "" {
			return nil
		}
		parsed, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			asFloat, floatErr := strconv.ParseFloat(value, 64)
			if floatErr != nil {
				return nil
			}
			parsed = int64(asFloat)
		}
		return &parsed
	}
	return nil
}

// timeField parses the provider's dd/mm/yyyy timestamp strings. A malformed
// timestamp leaves the field unset without dropping the record.
func timeField(fields map[string]interface{}, key string) *time.Time {
	value, ok := fields[key].(string)
	if !ok || value == "" {
		return nil
	}
	parsed, err := time.ParseInLocation(feedTimeLayout, value, time.UTC)
	if err != nil {
		return nil
	}
	return &parsed
}
