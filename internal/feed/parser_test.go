package feed_test

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockfeed-service/internal/feed"
)

func TestParseFeedMessageSingleRecord(t *testing.T) {
	raw := `[Res]: {"type":"stock_feed","data":[{"ts":"TCS","tk":"123","e":"nse_cm","ltp":"3500.5"}]}`

	records := feed.ParseFeedMessage(raw)
	require.Len(t, records, 1)

	record := records[0]
	assert.Equal(t, "TCS", record.Symbol)
	assert.Equal(t, "123", record.Token)
	assert.Equal(t, "nse_cm", record.Exchange)
	require.NotNil(t, record.LTP)
	assert.Equal(t, 3500.5, *record.LTP)
	assert.Nil(t, record.Volume)
	assert.Nil(t, record.LastTradeTime)
	assert.Nil(t, record.FeedTime)
	assert.False(t, record.Timestamp.IsZero())
	assert.Equal(t, time.UTC, record.Timestamp.Location())
}

func TestParseFeedMessageAllDataItems(t *testing.T) {
	items := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		items = append(items, fmt.Sprintf(`{"ts":"SYM%d","tk":"%d","e":"nse_cm","ltp":"%d.5"}`, i, 100+i, 1000+i))
	}
	raw := fmt.Sprintf(`[Res]: {"type":"stock_feed","data":[%s]}`, strings.Join(items, ","))

	records := feed.ParseFeedMessage(raw)
	require.Len(t, records, 5)
	for i, record := range records {
		assert.Equal(t, fmt.Sprintf("SYM%d", i), record.Symbol)
		assert.Equal(t, fmt.Sprintf("%d", 100+i), record.Token)
	}
}

func TestParseFeedMessageFalsyFieldsStayUnset(t *testing.T) {
	raw := `[Res]: {"type":"stock_feed","data":[{"ts":"TCS","tk":"123","ltp":"","v":0,"to":"0","bq":"25","nc":1.25}]}`

	records := feed.ParseFeedMessage(raw)
	require.Len(t, records, 1)

	record := records[0]
	assert.Nil(t, record.LTP, "empty string is falsy")
	assert.Nil(t, record.Volume, "numeric zero is falsy")
	require.NotNil(t, record.Turnover, `quoted "0" is a real zero`)
	assert.Equal(t, 0.0, *record.Turnover)
	require.NotNil(t, record.BidQty)
	assert.Equal(t, int64(25), *record.BidQty)
	require.NotNil(t, record.ChangePercent)
	assert.Equal(t, 1.25, *record.ChangePercent)
	assert.Nil(t, record.LTQ)
	assert.Nil(t, record.TotalBuyQty)
}

func TestParseFeedMessageNumericValues(t *testing.T) {
	raw := `[Res]: {"type":"stock_feed","data":[{"ts":"INFY","tk":"1594","ltp":1450.75,"v":123456,"ltq":"10"}]}`

	records := feed.ParseFeedMessage(raw)
	require.Len(t, records, 1)

	record := records[0]
	require.NotNil(t, record.LTP)
	assert.Equal(t, 1450.75, *record.LTP)
	require.NotNil(t, record.Volume)
	assert.Equal(t, int64(123456), *record.Volume)
	require.NotNil(t, record.LTQ)
	assert.Equal(t, int64(10), *record.LTQ)
}

func TestParseFeedMessageMalformedInput(t *testing.T) {
	cases := map[string]string{
		"missing prefix":   `{"type":"stock_feed","data":[{"ts":"TCS"}]}`,
		"invalid json":     `[Res]: {"type":"stock_feed","data":[}`,
		"wrong type":       `[Res]: {"type":"order_update","data":[{"ts":"TCS"}]}`,
		"missing data key": `[Res]: {"type":"stock_feed"}`,
		"empty data array": `[Res]: {"type":"stock_feed","data":[]}`,
		"empty line":       "",
		"plain text":       "connection established",
	}

	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Nil(t, feed.ParseFeedMessage(raw))
		})
	}
}

func TestParseFeedMessageProviderTimestamps(t *testing.T) {
	raw := `[Res]: {"type":"stock_feed","data":[{"ts":"TCS","tk":"123","ltt":"15/01/2026 10:30:00","fdtm":"not-a-time"}]}`

	records := feed.ParseFeedMessage(raw)
	require.Len(t, records, 1)

	record := records[0]
	require.NotNil(t, record.LastTradeTime)
	assert.Equal(t, time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC), *record.LastTradeTime)
	assert.Nil(t, record.FeedTime, "malformed timestamp leaves the field unset without dropping the record")
}

func TestParseFeedMessageBadItemDoesNotAffectSiblings(t *testing.T) {
	// A non-object item is skipped; its siblings still parse.
	raw := `[Res]: {"type":"stock_feed","data":[42,{"ts":"TCS","tk":"123"}]}`

	records := feed.ParseFeedMessage(raw)
	require.Len(t, records, 1)
	assert.Equal(t, "TCS", records[0].Symbol)
}

func TestParseFeedMessagePreservesRawPayload(t *testing.T) {
	raw := `[Res]: {"type":"stock_feed","data":[{"ts":"TCS","tk":"123","ltp":"3500.5"}]}`

	records := feed.ParseFeedMessage(raw)
	require.Len(t, records, 1)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(records[0].RawData, &payload))
	assert.Equal(t, "TCS", payload["ts"])
	assert.Equal(t, "3500.5", payload["ltp"])
}
