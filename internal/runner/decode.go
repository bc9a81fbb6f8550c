package runner

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"

	"signal_executor/internal/models"
)

// DecodeError marks a body that cannot become a signal. Such messages are
// acknowledged without reaching the engine.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode signal: %s: %v", e.Reason, e.Err)
	}
	return "decode signal: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

func decodeErr(reason string, err error) error { return &DecodeError{Reason: reason, Err: err} }

// Defaults fill fields the producer left out.
type Defaults struct {
	Symbol   string
	Quantity float64
}

const defaultCloseReason = "manual_close"

// flexFloat keeps a numeric field as received. It is read only for the
// actions that use it; 0.01 and "0.01" are both accepted.
type flexFloat []byte

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	*f = append((*f)[:0], b...)
	return nil
}

func (f flexFloat) float() (float64, error) {
	s := strings.TrimSpace(string(f))
	if unq, err := strconv.Unquote(s); err == nil {
		s = strings.TrimSpace(unq)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errors.Errorf("not a number: %s", []byte(f))
	}
	return v, nil
}

type wireSignal struct {
	ID        string     `json:"id"`
	VpsID     string     `json:"vps_id"`
	Action    string     `json:"action"`
	Symbol    string     `json:"symbol"`
	Quantity  *flexFloat `json:"quantity"`
	SL        *flexFloat `json:"sl"`
	TP        *flexFloat `json:"tp"`
	Timestamp string     `json:"timestamp"`
	CloseType string     `json:"close_type"`
	Type      string     `json:"type"` // legacy alias of close_type
	Reason    string     `json:"reason"`
}

// Decode parses and validates a queue message body.
func Decode(body []byte, def Defaults) (*models.Signal, error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" || trimmed == "null" || trimmed[0] != '{' {
		return nil, decodeErr("body is not a JSON object", nil)
	}

	var w wireSignal
	if err := sonic.UnmarshalString(trimmed, &w); err != nil {
		return nil, decodeErr("malformed JSON", err)
	}

	sig := &models.Signal{
		ID:        w.ID,
		VpsID:     w.VpsID,
		Symbol:    strings.TrimSpace(w.Symbol),
		Timestamp: w.Timestamp,
	}

	action := models.Action(strings.ToUpper(strings.TrimSpace(w.Action)))
	switch action {
	case "":
		action = models.ActionBuy
	case models.ActionBuy, models.ActionSell, models.ActionClose:
	default:
		return nil, decodeErr(fmt.Sprintf("unknown action %q", w.Action), nil)
	}
	sig.Action = action

	if sig.Symbol == "" {
		sig.Symbol = def.Symbol
	}

	// CLOSE acts on whole positions; size and stop distances are ignored.
	if action != models.ActionClose {
		if err := openParams(sig, &w, def); err != nil {
			return nil, err
		}
	}

	if action == models.ActionClose {
		ct := w.CloseType
		if ct == "" {
			ct = w.Type
		}
		switch closeType := models.CloseType(strings.ToLower(strings.TrimSpace(ct))); closeType {
		case "":
			sig.CloseType = models.CloseAll
		case models.CloseLong, models.CloseShort, models.CloseAll:
			sig.CloseType = closeType
		default:
			return nil, decodeErr(fmt.Sprintf("unknown close_type %q", ct), nil)
		}

		sig.Reason = w.Reason
		if sig.Reason == "" {
			sig.Reason = defaultCloseReason
		}
	}

	return sig, nil
}

func openParams(sig *models.Signal, w *wireSignal, def Defaults) error {
	sig.Quantity = def.Quantity
	if w.Quantity != nil {
		q, err := w.Quantity.float()
		if err != nil {
			return decodeErr("quantity", err)
		}
		sig.Quantity = q
	}
	if sig.Quantity <= 0 {
		return decodeErr(fmt.Sprintf("quantity must be positive, got %v", sig.Quantity), nil)
	}

	var err error
	if sig.SL, err = distance("sl", w.SL); err != nil {
		return err
	}
	if sig.TP, err = distance("tp", w.TP); err != nil {
		return err
	}
	return nil
}

func distance(name string, f *flexFloat) (*float64, error) {
	if f == nil {
		return nil, nil
	}
	v, err := f.float()
	if err != nil {
		return nil, decodeErr(name, err)
	}
	if v < 0 {
		return nil, decodeErr(name+" must not be negative", nil)
	}
	return &v, nil
}
