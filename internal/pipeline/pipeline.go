// Package pipeline turns scanner results into opened trades.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/ksred/spreadbook/internal/config"
	"github.com/ksred/spreadbook/internal/trading"
	"github.com/ksred/spreadbook/internal/types"
)

// Skipped records a scan item that was not opened and why
type Skipped struct {
	Symbol string `json:"symbol"`
	Reason string `json:"reason"`
}

// Result summarizes one processed scan
type Result struct {
	ScanID   int       `json:"scan_id"`
	Items    int       `json:"items"`
	Opened   []int64   `json:"opened"`
	Skipped  []Skipped `json:"skipped"`
	Duration string    `json:"duration"`
}

type Pipeline struct {
	trades    *trading.Service
	scans     map[int]types.StrategyType
	minProfit decimal.Decimal
	maxRisk   decimal.Decimal
}

// New creates a pipeline using the scan-id lists and thresholds from cfg
func New(trades *trading.Service, cfg *config.Config) *Pipeline {
	p := &Pipeline{
		trades:    trades,
		scans:     make(map[int]types.StrategyType),
		minProfit: cfg.MinProfitThreshold,
		maxRisk:   cfg.MaxRiskThreshold,
	}
	for strategy, ids := range map[types.StrategyType][]int{
		types.StrategyIronCondor: cfg.ScanIDs.IronCondor,
		types.StrategyBullPut:    cfg.ScanIDs.BullPut,
		types.StrategyBearCall:   cfg.ScanIDs.BearCall,
		types.StrategyBullCall:   cfg.ScanIDs.BullCall,
		types.StrategyBearPut:    cfg.ScanIDs.BearPut,
	} {
		for _, id := range ids {
			p.scans[id] = strategy
		}
	}
	return p
}

// Process opens a trade for every acceptable item of a scan. Items that fail
// conversion, fall outside the thresholds or duplicate an active trade on the
// same symbol and strategy are skipped with a reason.
func (p *Pipeline) Process(ctx context.Context, scanID int, results *ScanResults) (*Result, error) {
	logger := log.With().
		Str("component", "pipeline").
		Int("scan_id", scanID).
		Logger()

	start := time.Now()
	res := &Result{ScanID: scanID, Items: len(results.Items), Opened: []int64{}, Skipped: []Skipped{}}
	if len(results.Items) == 0 {
		logger.Warn().Msg("no items found in scan results")
		res.Duration = time.Since(start).String()
		return res, nil
	}

	logger.Info().Int("items", len(results.Items)).Msg("processing scan results")

	for i := range results.Items {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		item := &results.Items[i]
		skip := func(reason string) {
			res.Skipped = append(res.Skipped, Skipped{Symbol: item.Symbol(), Reason: reason})
			logger.Info().Str("symbol", item.Symbol()).Str("reason", reason).Msg("skipping scan item")
		}

		req, err := p.transform(scanID, item)
		if err != nil {
			skip(err.Error())
			continue
		}
		if reason := p.outsideThresholds(item, req); reason != "" {
			skip(reason)
			continue
		}

		dup, err := p.trades.HasActive(ctx, req.Symbol, req.StrategyType)
		if err != nil {
			return res, fmt.Errorf("check duplicate %s %s: %w", req.Symbol, req.StrategyType, err)
		}
		if dup {
			skip(fmt.Sprintf("duplicate active %s trade", req.StrategyType))
			continue
		}

		trade, err := p.trades.Open(ctx, req)
		if err != nil {
			skip(err.Error())
			continue
		}
		res.Opened = append(res.Opened, trade.TradeID)
	}

	res.Duration = time.Since(start).String()
	logger.Info().
		Int("opened", len(res.Opened)).
		Int("skipped", len(res.Skipped)).
		Str("duration", res.Duration).
		Msg("scan processed")

	return res, nil
}

func (p *Pipeline) transform(scanID int, item *ScanItem) (*types.OpenRequest, error) {
	symbol := strings.ToUpper(item.Symbol())
	if symbol == "" {
		return nil, fmt.Errorf("missing underlying symbol")
	}
	if !item.StockLast.IsPositive() {
		return nil, fmt.Errorf("missing current price for %s", symbol)
	}
	if len(item.ExpirationDate) == 0 {
		return nil, fmt.Errorf("missing expiration date for %s", symbol)
	}
	expiration, err := types.ParseDate(item.ExpirationDate[0])
	if err != nil {
		return nil, err
	}

	strategy, ok := p.scans[scanID]
	if !ok {
		if strategy, err = InferStrategy(item.Strike); err != nil {
			return nil, err
		}
	}

	strikes, err := mapLegs(strategy, item.Strike)
	if err != nil {
		return nil, err
	}

	credit := item.MaxProfit
	if strategy.IsDebit() {
		credit = item.MaxLoss.Abs().Neg()
	}

	req := &types.OpenRequest{
		Symbol:          symbol,
		UnderlyingPrice: item.StockLast,
		StrategyType:    strategy,
		ExpirationDate:  expiration,
		NetCredit:       &credit,
		NumContracts:    1,
		PriceSource:     types.PriceSourceScan,
	}
	for role, strike := range strikes {
		in := &types.LegInput{Strike: strike}
		switch role {
		case types.LegShortPut:
			req.ShortPut = in
		case types.LegLongPut:
			req.LongPut = in
		case types.LegShortCall:
			req.ShortCall = in
		case types.LegLongCall:
			req.LongCall = in
		}
	}
	return req, nil
}

// outsideThresholds returns why an item falls outside the configured
// thresholds, or "" when it is acceptable
func (p *Pipeline) outsideThresholds(item *ScanItem, req *types.OpenRequest) string {
	premium := req.NetCredit.Abs()
	if premium.LessThan(p.minProfit) {
		return fmt.Sprintf("premium %s below minimum %s", premium.StringFixed(2), p.minProfit.String())
	}
	if p.maxRisk.IsPositive() && item.MaxLoss.IsPositive() {
		risk := item.MaxLoss.Div(item.StockLast)
		if risk.GreaterThan(p.maxRisk) {
			return fmt.Sprintf("risk ratio %s above maximum %s", risk.StringFixed(4), p.maxRisk.String())
		}
	}
	return ""
}
