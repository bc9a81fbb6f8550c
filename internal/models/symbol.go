package models

// TradeModeFull mirrors SYMBOL_TRADE_MODE_FULL on the MT5 side.
const TradeModeFull = 4

// SymbolMeta is one row of the venue symbol listing.
type SymbolMeta struct {
	Name      string `json:"name"`
	Visible   bool   `json:"visible"`
	TradeMode int    `json:"trade_mode"`
}

func (s SymbolMeta) Tradeable() bool { return s.Visible && s.TradeMode == TradeModeFull }

// SymbolInfo is the per-instrument snapshot: quote plus volume constraints.
type SymbolInfo struct {
	Name       string  `json:"name"`
	Visible    bool    `json:"visible"`
	TradeMode  int     `json:"trade_mode"`
	Bid        float64 `json:"bid"`
	Ask        float64 `json:"ask"`
	VolumeMin  float64 `json:"volume_min"`
	VolumeMax  float64 `json:"volume_max"`
	VolumeStep float64 `json:"volume_step"`
}

func (s SymbolInfo) Tradeable() bool { return s.Visible && s.TradeMode == TradeModeFull }

// PriceFor returns the side of the quote an order of the given side fills against.
func (s SymbolInfo) PriceFor(side Side) float64 {
	if side == SideBuy {
		return s.Ask
	}
	return s.Bid
}
