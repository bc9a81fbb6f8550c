package models

const (
	// RetcodeDone is TRADE_RETCODE_DONE.
	RetcodeDone = 10009

	TimeGTC    = "GTC"
	FillingIOC = "IOC"
)

// OrderRequest is built once per order and never mutated after submission.
type OrderRequest struct {
	Symbol      string   `json:"symbol"`
	Side        Side     `json:"type"`
	Volume      float64  `json:"volume"`
	Price       float64  `json:"price"`
	Deviation   int      `json:"deviation"`
	Magic       int64    `json:"magic"`
	Comment     string   `json:"comment"`
	SL          *float64 `json:"sl,omitempty"`
	TP          *float64 `json:"tp,omitempty"`
	Position    uint64   `json:"position,omitempty"` // ticket being closed
	TypeTime    string   `json:"type_time"`
	TypeFilling string   `json:"type_filling"`
}

func (r OrderRequest) IsClose() bool { return r.Position != 0 }

type OrderResult struct {
	Order   uint64  `json:"order"`
	Price   float64 `json:"price"`
	Volume  float64 `json:"volume"`
	Retcode int     `json:"retcode"`
	Comment string  `json:"comment"`
}

func (r OrderResult) Done() bool { return r.Retcode == RetcodeDone }
