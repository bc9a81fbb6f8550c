// Package positions answers "what do we already hold" for the engine. Only
// positions carrying the engine's magic number are considered ours; manual
// trades and other EAs on the same account are invisible here.
package positions

import (
	"context"

	"github.com/pkg/errors"

	"signal_executor/internal/models"
)

// Lister returns open positions, optionally narrowed to one symbol ("" = all).
type Lister interface {
	ListPositions(ctx context.Context, symbol string) ([]models.Position, error)
}

type Config struct {
	Magic         int64
	SingleTrade   bool
	CloseOpposite bool
}

type Guard struct {
	venue Lister
	cfg   Config
}

func NewGuard(venue Lister, cfg Config) *Guard {
	return &Guard{venue: venue, cfg: cfg}
}

func (g *Guard) CloseOppositeEnabled() bool { return g.cfg.CloseOpposite }

// PositionsFor returns own positions on symbol.
func (g *Guard) PositionsFor(ctx context.Context, symbol string) ([]models.Position, error) {
	all, err := g.venue.ListPositions(ctx, symbol)
	if err != nil {
		return nil, errors.Wrapf(err, "list positions %q", symbol)
	}
	return g.own(all), nil
}

// HasOpenPosition reports whether any own position is open on any symbol.
func (g *Guard) HasOpenPosition(ctx context.Context) (bool, error) {
	all, err := g.venue.ListPositions(ctx, "")
	if err != nil {
		return false, errors.Wrap(err, "list positions")
	}
	return len(g.own(all)) > 0, nil
}

// SingleTradeBlocked is true when single-trade mode is on and something of
// ours is already open. With the mode off it never touches the venue.
func (g *Guard) SingleTradeBlocked(ctx context.Context) (bool, error) {
	if !g.cfg.SingleTrade {
		return false, nil
	}
	return g.HasOpenPosition(ctx)
}

func (g *Guard) own(all []models.Position) []models.Position {
	out := make([]models.Position, 0, len(all))
	for _, p := range all {
		if p.Magic == g.cfg.Magic {
			out = append(out, p)
		}
	}
	return out
}

// Opposite keeps positions whose direction is opposite to a new order on side.
func Opposite(ps []models.Position, side models.Side) []models.Position {
	var out []models.Position
	for _, p := range ps {
		if p.Side == side.Opposite() {
			out = append(out, p)
		}
	}
	return out
}

// FilterByCloseType narrows positions for a CLOSE signal.
func FilterByCloseType(ps []models.Position, ct models.CloseType) []models.Position {
	var out []models.Position
	for _, p := range ps {
		switch ct {
		case models.CloseLong:
			if p.IsLong() {
				out = append(out, p)
			}
		case models.CloseShort:
			if !p.IsLong() {
				out = append(out, p)
			}
		default:
			out = append(out, p)
		}
	}
	return out
}
