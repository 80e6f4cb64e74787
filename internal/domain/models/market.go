package models

import "time"

type Quote struct {
	Symbol    string    `json:"symbol"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Last      float64   `json:"last"`
	Volume    int64     `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

type Candle struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

type OHLCRequest struct {
	Symbol    string
	Timeframe string
	Lookback  int
}

type ChainRequest struct {
	Symbol string
	Side   string // CALL or PUT
	MaxDTE int
}

// MarketSnapshot is fetched before a zone decision so the engine itself stays pure.
// A nil field with its error set means that fetch failed.
type MarketSnapshot struct {
	Quote      *Quote           `json:"quote,omitempty"`
	QuoteErr   string           `json:"quoteErr,omitempty"`
	Candles    []Candle         `json:"candles,omitempty"`
	CandlesErr string           `json:"candlesErr,omitempty"`
	HTF        []Candle         `json:"htf,omitempty"`
	HTFErr     string           `json:"htfErr,omitempty"`
	Chain      []OptionContract `json:"chain,omitempty"`
	ChainErr   string           `json:"chainErr,omitempty"`
}
