package models

// Position is a read-only projection of a venue position.
type Position struct {
	Ticket    uint64  `json:"ticket"`
	Symbol    string  `json:"symbol"`
	Side      Side    `json:"side"` // BUY = long, SELL = short
	Volume    float64 `json:"volume"`
	PriceOpen float64 `json:"price_open"`
	Magic     int64   `json:"magic"`
}

func (p Position) IsLong() bool { return p.Side == SideBuy }

// Label is the human form used in logs and closure records.
func (p Position) Label() string {
	if p.IsLong() {
		return "LONG"
	}
	return "SHORT"
}

type Account struct {
	Login    int64   `json:"login"`
	Balance  float64 `json:"balance"`
	Equity   float64 `json:"equity"`
	Currency string  `json:"currency"`
	Server   string  `json:"server"`
}
