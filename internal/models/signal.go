package models

// Action is what an inbound signal asks the engine to do.
type Action string

const (
	ActionBuy   Action = "BUY"
	ActionSell  Action = "SELL"
	ActionClose Action = "CLOSE"
)

// CloseType narrows a CLOSE signal to one side of the book.
type CloseType string

const (
	CloseLong  CloseType = "long"
	CloseShort CloseType = "short"
	CloseAll   CloseType = "all"
)

// Signal is a decoded queue message. SL/TP are distances from entry, not prices.
type Signal struct {
	ID        string    `json:"id"`
	VpsID     string    `json:"vps_id"`
	Action    Action    `json:"action"`
	Symbol    string    `json:"symbol"`
	Quantity  float64   `json:"quantity"`
	SL        *float64  `json:"sl,omitempty"`
	TP        *float64  `json:"tp,omitempty"`
	Timestamp string    `json:"timestamp,omitempty"`
	CloseType CloseType `json:"close_type,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

// Side follows MT5 order types: BUY opens long, SELL opens short.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// SideOf maps an opening action onto the order side. CLOSE has no side.
func SideOf(a Action) (Side, bool) {
	switch a {
	case ActionBuy:
		return SideBuy, true
	case ActionSell:
		return SideSell, true
	default:
		return "", false
	}
}
