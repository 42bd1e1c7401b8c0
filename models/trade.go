// models/trade.go
// @tag models, data_structure, core
package models

import (
	"encoding/json"
	"time"
)

// ───────────────────────────────────────────────────────────────
// 🚀 Core Data Structures
// ───────────────────────────────────────────────────────────────

// TradeRecord is one executed option trade as fetched from the history
// endpoint. Amount and Price stay as the raw wire strings; the cleaning
// stage parses them explicitly and drops records that do not parse.
// Records are immutable once fetched and live only for one invocation.
type TradeRecord struct {
	TradeID        string
	InstrumentName string
	Direction      string
	Amount         string
	Price          string
	IndexPrice     float64
	BlockTradeID   string
	Timestamp      time.Time
}

// IsBlockTrade reports whether the trade was reported as a block trade
// rather than filled on the public order book.
func (t TradeRecord) IsBlockTrade() bool {
	return t.BlockTradeID != ""
}

// FlowRecord is a cleaned trade row: instrument decomposed, numeric
// fields parsed, per-record value computed in the configured unit.
type FlowRecord struct {
	Asset     string     `json:"asset"`
	Maturity  time.Time  `json:"maturity"`
	Strike    float64    `json:"strike"`
	Type      OptionType `json:"type"`
	Direction string     `json:"direction"`
	Amount    float64    `json:"amount"`
	Price     float64    `json:"price"`
	Value     float64    `json:"value"`
	Timestamp time.Time  `json:"timestamp"`
}

//
// ───────────────────────────────────────────────────────────────
// 📦 Deribit History API Models (REST responses)
// ───────────────────────────────────────────────────────────────
//

// 🔹 Deribit get_last_trades_by_currency response
type DeribitTradesResponse struct {
	Result DeribitTradesResult `json:"result"`
}

type DeribitTradesResult struct {
	Trades  []DeribitTrade `json:"trades"`
	HasMore bool           `json:"has_more"`
}

// DeribitTrade mirrors one trade object on the wire. Numeric trade fields
// are decoded as json.Number so a malformed value poisons one record, not
// the whole page.
type DeribitTrade struct {
	TradeID        string      `json:"trade_id"`
	InstrumentName string      `json:"instrument_name"`
	Direction      string      `json:"direction"`
	Amount         json.Number `json:"amount"`
	Price          json.Number `json:"price"`
	IndexPrice     float64     `json:"index_price"`
	BlockTradeID   string      `json:"block_trade_id"`
	Timestamp      int64       `json:"timestamp"`
}

// Record converts the wire trade into the invocation-local form.
func (d DeribitTrade) Record() TradeRecord {
	return TradeRecord{
		TradeID:        d.TradeID,
		InstrumentName: d.InstrumentName,
		Direction:      d.Direction,
		Amount:         d.Amount.String(),
		Price:          d.Price.String(),
		IndexPrice:     d.IndexPrice,
		BlockTradeID:   d.BlockTradeID,
		Timestamp:      time.UnixMilli(d.Timestamp).UTC(),
	}
}

// 🔹 Deribit get_index_price response
type DeribitIndexPriceResponse struct {
	Result struct {
		IndexPrice float64 `json:"index_price"`
	} `json:"result"`
}
