package engine

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"signal_executor/internal/audit"
	"signal_executor/internal/metrics"
	"signal_executor/internal/models"
)

func (e *Engine) open(
	ctx context.Context,
	sig *models.Signal,
	symbol string,
	sentAt time.Time,
	hasSentAt bool,
	log *zap.Logger,
) models.Outcome {
	side, ok := models.SideOf(sig.Action)
	if !ok {
		return models.Errored(fmt.Sprintf("unsupported action %q", sig.Action))
	}

	if err := e.venue.Ping(ctx); err != nil {
		log.Error("venue connection lost, reconnecting", zap.Error(err))
		if err := e.ConnectVenue(ctx); err != nil {
			log.Error("venue reconnect failed", zap.Error(err))
			return models.Failed("venue connection lost")
		}
	}

	info, err := e.venue.SymbolInfo(ctx, symbol)
	if err != nil {
		log.Error("symbol info failed", zap.String("symbol", symbol), zap.Error(err))
	}
	if info == nil {
		return models.Failed(fmt.Sprintf("Symbol %s not found", symbol))
	}

	account, err := e.venue.AccountInfo(ctx)
	if err != nil {
		log.Error("account info failed", zap.Error(err))
	}
	if account == nil {
		return models.Failed("Cannot get account info")
	}

	blocked, err := e.guard.SingleTradeBlocked(ctx)
	if err != nil {
		log.Error("single trade check failed", zap.Error(err))
		return models.Errored(err.Error())
	}
	if blocked {
		log.Info("single trade mode, position already open")
		return models.Skipped("Single trade mode - position already open")
	}

	if e.guard.CloseOppositeEnabled() {
		e.closeOpposite(ctx, sig, symbol, side, log)
	}

	price := info.PriceFor(side)
	req := models.OrderRequest{
		Symbol:      symbol,
		Side:        side,
		Volume:      AdjustVolume(sig.Quantity, info.VolumeMin, info.VolumeMax, info.VolumeStep),
		Price:       price,
		Deviation:   e.cfg.Deviation,
		Magic:       e.cfg.Magic,
		Comment:     fmt.Sprintf("%s %s", e.cfg.CommentPrefix, sig.Action),
		TypeTime:    models.TimeGTC,
		TypeFilling: models.FillingIOC,
	}
	req.SL, req.TP = StopLevels(side, price, sig.SL, sig.TP)

	log.Info("sending order",
		zap.String("symbol", req.Symbol),
		zap.String("side", string(req.Side)),
		zap.Float64("volume", req.Volume),
		zap.Float64("price", req.Price),
		zap.Float64p("sl", req.SL),
		zap.Float64p("tp", req.TP),
	)

	res, err := e.venue.SubmitOrder(ctx, req)
	if err != nil || res == nil {
		metrics.ObserveOrder("open", string(side), "empty")
		if err != nil {
			log.Error("order submission failed", zap.Error(err))
			return models.Failed("submission returned nothing: " + err.Error())
		}
		log.Error("order submission returned nothing")
		return models.Failed("submission returned nothing")
	}
	if !res.Done() {
		metrics.ObserveOrder("open", string(side), "rejected")
		log.Error("order rejected", zap.String("comment", res.Comment), zap.Int("retcode", res.Retcode))
		return models.Failed(fmt.Sprintf("%s (retcode: %d)", res.Comment, res.Retcode))
	}
	metrics.ObserveOrder("open", string(side), "done")

	log.Info("order placed",
		zap.Uint64("order", res.Order),
		zap.Float64("price", res.Price),
		zap.Float64("volume", res.Volume),
	)

	var execSeconds any
	msg := fmt.Sprintf("Order #%d", res.Order)
	if hasSentAt {
		elapsed := e.now().Sub(sentAt).Seconds()
		execSeconds = elapsed
		metrics.SignalLatency.Observe(elapsed)
		msg = fmt.Sprintf("Order #%d - Execution time: %.3fs", res.Order, elapsed)
		log.Info("total execution time", zap.Float64("seconds", elapsed))
	}

	var webhookTS any
	if sig.Timestamp != "" {
		webhookTS = sig.Timestamp
	}
	e.recorder.Record(ctx, audit.TradeKeyPrefix+strconv.FormatUint(res.Order, 10), map[string]any{
		"signal_id":              sig.ID,
		"symbol":                 symbol,
		"requested_symbol":       sig.Symbol,
		"action":                 string(sig.Action),
		"volume":                 req.Volume,
		"price":                  res.Price,
		"timestamp":              e.now().UTC().Format(time.RFC3339Nano),
		"webhook_timestamp":      webhookTS,
		"execution_time_seconds": execSeconds,
	})

	return models.Success(msg)
}
