package engine

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"signal_executor/internal/audit"
	"signal_executor/internal/metrics"
	"signal_executor/internal/models"
	"signal_executor/internal/positions"
)

const (
	defaultCloseReason  = "manual_close"
	oppositeCloseReason = "opposite_signal"
)

// closeBySignal attempts every matched position; one failure never stops the
// remaining attempts.
func (e *Engine) closeBySignal(ctx context.Context, sig *models.Signal, symbol string, log *zap.Logger) models.Outcome {
	own, err := e.guard.PositionsFor(ctx, symbol)
	if err != nil {
		log.Error("list positions failed", zap.Error(err))
		return models.Errored(err.Error())
	}
	if len(own) == 0 {
		return models.Success("No positions to close for " + symbol)
	}

	closeType := sig.CloseType
	if closeType == "" {
		closeType = models.CloseAll
	}
	targets := positions.FilterByCloseType(own, closeType)
	if len(targets) == 0 {
		return models.Success(fmt.Sprintf("No %s positions to close for %s", closeType, symbol))
	}

	reason := sig.Reason
	if reason == "" {
		reason = defaultCloseReason
	}

	closed, failed := 0, 0
	for _, p := range targets {
		if _, err := e.closePosition(ctx, sig, p, "Close: "+reason, reason); err != nil {
			log.Error("failed to close position", zap.Uint64("ticket", p.Ticket), zap.Error(err))
			failed++
			continue
		}
		closed++
	}

	switch {
	case failed == 0:
		return models.Success(fmt.Sprintf("Closed %d position(s)", closed))
	case closed == 0:
		return models.Failed(fmt.Sprintf("Failed to close %d position(s)", failed))
	default:
		return models.Partial(fmt.Sprintf("Closed %d position(s), %d failed", closed, failed))
	}
}

// closeOpposite flattens own positions against the direction of a new order.
// Failures are logged and never block the new order.
func (e *Engine) closeOpposite(ctx context.Context, sig *models.Signal, symbol string, side models.Side, log *zap.Logger) {
	own, err := e.guard.PositionsFor(ctx, symbol)
	if err != nil {
		log.Warn("close opposite: list positions failed, continuing with new order", zap.Error(err))
		return
	}

	opposite := positions.Opposite(own, side)
	if len(opposite) == 0 {
		return
	}
	log.Info("closing opposite positions", zap.Int("count", len(opposite)), zap.String("symbol", symbol))

	failed := 0
	for _, p := range opposite {
		if _, err := e.closePosition(ctx, sig, p, "Close opposite position", oppositeCloseReason); err != nil {
			log.Error("failed to close opposite position", zap.Uint64("ticket", p.Ticket), zap.Error(err))
			failed++
		}
	}
	if failed > 0 {
		log.Warn("some opposite positions were not closed, continuing with new order", zap.Int("failed", failed))
	}
}

// closePosition sends a reversing order referencing the position ticket and
// records the closure on success.
func (e *Engine) closePosition(
	ctx context.Context,
	sig *models.Signal,
	p models.Position,
	comment string,
	reason string,
) (*models.OrderResult, error) {
	side := p.Side.Opposite()

	info, err := e.venue.SymbolInfo(ctx, p.Symbol)
	if err != nil {
		return nil, errors.Wrapf(err, "quote %s", p.Symbol)
	}
	if info == nil {
		return nil, errors.Errorf("no quote for %s", p.Symbol)
	}

	res, err := e.venue.SubmitOrder(ctx, models.OrderRequest{
		Symbol:      p.Symbol,
		Side:        side,
		Volume:      p.Volume,
		Price:       info.PriceFor(side),
		Deviation:   e.cfg.Deviation,
		Magic:       e.cfg.Magic,
		Comment:     comment,
		Position:    p.Ticket,
		TypeTime:    models.TimeGTC,
		TypeFilling: models.FillingIOC,
	})
	if err != nil || res == nil {
		metrics.ObserveOrder("close", string(side), "empty")
		if err != nil {
			return nil, errors.Wrapf(err, "close position %d", p.Ticket)
		}
		return nil, errors.Errorf("close position %d: submission returned nothing", p.Ticket)
	}
	if !res.Done() {
		metrics.ObserveOrder("close", string(side), "rejected")
		return nil, errors.Errorf("close position %d: %s (code: %d)", p.Ticket, res.Comment, res.Retcode)
	}
	metrics.ObserveOrder("close", string(side), "done")

	e.log.Info("closed position",
		zap.String("signal_id", sig.ID),
		zap.Uint64("ticket", p.Ticket),
		zap.Uint64("order", res.Order),
	)

	e.recorder.Record(ctx, audit.ClosureKeyPrefix+strconv.FormatUint(res.Order, 10), map[string]any{
		"signal_id":       sig.ID,
		"closed_position": p.Ticket,
		"close_order":     res.Order,
		"symbol":          p.Symbol,
		"volume":          p.Volume,
		"position_type":   p.Label(),
		"timestamp":       e.now().UTC().Format(time.RFC3339Nano),
		"reason":          reason,
	})
	return res, nil
}
