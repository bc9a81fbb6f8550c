// Package symbols maps a requested instrument name onto a symbol the venue
// will actually trade (brokers decorate names: EURUSD.p, XAUUSDm, ...).
package symbols

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"signal_executor/internal/models"
)

// Metadata is the part of the venue adapter the resolver needs.
type Metadata interface {
	ListSymbols(ctx context.Context) ([]models.SymbolMeta, error)
	SymbolInfo(ctx context.Context, name string) (*models.SymbolInfo, error)
	Select(ctx context.Context, name string) error
}

var (
	// stripped from requested names before the map lookup
	strippedSuffixes = []string{".p", ".s", ".a"}

	// stripped from venue names when building the map
	normalizedSuffixes = []string{".p", ".s", ".a", "m"}

	// probed against the venue, in order
	probeSuffixes = []string{".p", ".s", ".a", "m", ""}
)

// Resolver is not safe for concurrent use; the engine owns it on a single worker.
type Resolver struct {
	venue Metadata
	log   *zap.Logger

	// normalized or exact name -> venue name, rebuilt on every venue connect
	symbolMap map[string]string
	// requested name -> venue name, for names already served once
	resolved map[string]string
}

func NewResolver(venue Metadata, log *zap.Logger) *Resolver {
	return &Resolver{
		venue:     venue,
		log:       log,
		symbolMap: make(map[string]string),
		resolved:  make(map[string]string),
	}
}

// Rebuild replaces the map with a fresh venue snapshot. Returns the number of
// tradeable symbols seen.
func (r *Resolver) Rebuild(ctx context.Context) (int, error) {
	list, err := r.venue.ListSymbols(ctx)
	if err != nil {
		return 0, err
	}

	m := make(map[string]string, len(list)*2)
	tradeable := 0
	for _, s := range list {
		if !s.Tradeable() {
			continue
		}
		tradeable++
		m[Normalize(s.Name)] = s.Name
		m[s.Name] = s.Name
	}
	r.symbolMap = m
	r.resolved = make(map[string]string)

	r.log.Info("symbol map rebuilt", zap.Int("tradeable", tradeable))
	for _, probe := range []string{"EURUSD", "XAUUSD"} {
		if name, ok := m[probe]; ok {
			r.log.Info("symbol mapping", zap.String("requested", probe), zap.String("venue", name))
		}
	}
	return tradeable, nil
}

// Resolve returns the tradeable venue name for requested, or false when none
// exists. Venue lookup errors count as "not tradeable".
func (r *Resolver) Resolve(ctx context.Context, requested string) (string, bool) {
	if name, ok := r.resolved[requested]; ok {
		return r.accept(ctx, requested, name), true
	}

	if r.tradeable(ctx, requested) {
		return r.accept(ctx, requested, requested), true
	}

	if name, ok := r.symbolMap[requested]; ok {
		return r.accept(ctx, requested, name), true
	}

	base := Base(requested)
	if name, ok := r.symbolMap[base]; ok {
		return r.accept(ctx, requested, name), true
	}

	for _, suffix := range probeSuffixes {
		candidate := base + suffix
		if r.tradeable(ctx, candidate) {
			r.log.Info("found tradeable variant", zap.String("requested", requested), zap.String("venue", candidate))
			r.symbolMap[requested] = candidate
			return r.accept(ctx, requested, candidate), true
		}
	}

	r.log.Warn("no tradeable version found", zap.String("requested", requested))
	return "", false
}

func (r *Resolver) tradeable(ctx context.Context, name string) bool {
	info, err := r.venue.SymbolInfo(ctx, name)
	if err != nil {
		r.log.Debug("symbol info failed", zap.String("symbol", name), zap.Error(err))
		return false
	}
	return info != nil && info.Tradeable()
}

func (r *Resolver) accept(ctx context.Context, requested, name string) string {
	r.resolved[requested] = name
	if err := r.venue.Select(ctx, name); err != nil {
		r.log.Warn("symbol select failed", zap.String("symbol", name), zap.Error(err))
	}
	return name
}

// Normalize drops broker decorations from a venue name, including the bare
// "m" some brokers put into micro-lot symbols.
func Normalize(name string) string {
	for _, s := range normalizedSuffixes {
		name = strings.ReplaceAll(name, s, "")
	}
	return name
}

// Base strips known suffixes from a requested name.
func Base(requested string) string {
	base := requested
	for _, s := range strippedSuffixes {
		base = strings.ReplaceAll(base, s, "")
	}
	return strings.TrimSuffix(base, "m")
}
