package marketdata

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/finsight/advisor/plugin/ai/agent"
)

// Tool parameter defaults, matching the schemas advertised to the model.
const (
	defaultOIDays      = 7
	defaultTargetDTE   = 30
	defaultVIXDays     = 5
	defaultTimeframe   = "1d"
	compareConcurrency = 4
)

// Tools returns the conversation tools backed by the given Service, in
// the order they are advertised to the model.
func Tools(service Service) []agent.Tool {
	return []agent.Tool{
		&liveOITool{service: service},
		&marketDataTool{service: service},
		&vixContextTool{service: service},
		&compareTickersTool{service: service},
	}
}

// RegisterTools registers all market-data tools on a registry.
func RegisterTools(registry *agent.Registry, service Service) error {
	for _, tool := range Tools(service) {
		if err := registry.Register(tool); err != nil {
			return err
		}
	}
	return nil
}

// liveOITool exposes open-interest analysis for a single ticker.
type liveOITool struct {
	service Service
}

func (t *liveOITool) Name() string { return "get_live_oi_data" }

func (t *liveOITool) Description() string {
	return "Get current or historical open interest data for any ticker with custom parameters"
}

func (t *liveOITool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"ticker": {"type": "string", "description": "Stock ticker symbol"},
			"days": {"type": "integer", "description": "Number of days of historical data (1-30)", "default": 7},
			"target_dte": {"type": "integer", "description": "Target days to expiration", "default": 30},
			"include_news": {"type": "boolean", "description": "Include news analysis", "default": true}
		},
		"required": ["ticker"]
	}`)
}

func (t *liveOITool) Call(ctx context.Context, args map[string]any) (any, error) {
	ticker, err := tickerArg(args, "ticker")
	if err != nil {
		return nil, err
	}
	req := OIRequest{
		Ticker:      ticker,
		Days:        intArg(args, "days", defaultOIDays),
		TargetDTE:   intArg(args, "target_dte", defaultTargetDTE),
		IncludeNews: boolArg(args, "include_news", true),
	}

	payload, err := t.service.AnalyzeOpenInterest(ctx, req)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get OI data for %s", ticker)
	}
	return attachMetadata(payload, map[string]any{
		"tool":           t.Name(),
		"ticker":         ticker,
		"days_requested": req.Days,
		"timestamp":      time.Now().Format(time.RFC3339),
	}), nil
}

// marketDataTool exposes the technical snapshot for a single ticker.
type marketDataTool struct {
	service Service
}

func (t *marketDataTool) Name() string { return "get_market_data" }

func (t *marketDataTool) Description() string {
	return "Get current market data including prices, technical indicators, and volatility metrics"
}

func (t *marketDataTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"ticker": {"type": "string", "description": "Stock ticker symbol"},
			"timeframe": {"type": "string", "description": "Timeframe for analysis", "enum": ["1m", "5m", "15m", "1h", "1d"], "default": "1d"}
		},
		"required": ["ticker"]
	}`)
}

func (t *marketDataTool) Call(ctx context.Context, args map[string]any) (any, error) {
	ticker, err := tickerArg(args, "ticker")
	if err != nil {
		return nil, err
	}
	timeframe := stringArg(args, "timeframe", defaultTimeframe)

	payload, err := t.service.TechnicalAnalysis(ctx, ticker)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get market data for %s", ticker)
	}
	return attachMetadata(payload, map[string]any{
		"tool":      t.Name(),
		"ticker":    ticker,
		"timeframe": timeframe,
		"timestamp": time.Now().Format(time.RFC3339),
	}), nil
}

// vixContextTool reads VIX open interest for market regime analysis.
type vixContextTool struct {
	service Service
}

func (t *vixContextTool) Name() string { return "get_vix_context" }

func (t *vixContextTool) Description() string {
	return "Get current VIX open interest and volatility context for market regime analysis"
}

func (t *vixContextTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"days": {"type": "integer", "description": "Days of VIX history", "default": 5}
		}
	}`)
}

func (t *vixContextTool) Call(ctx context.Context, args map[string]any) (any, error) {
	days := intArg(args, "days", defaultVIXDays)

	payload, err := t.service.AnalyzeOpenInterest(ctx, OIRequest{
		Ticker:      "VIX",
		Days:        days,
		TargetDTE:   defaultTargetDTE,
		IncludeNews: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get VIX context")
	}
	return attachMetadata(payload, map[string]any{
		"tool":           t.Name(),
		"days_requested": days,
		"timestamp":      time.Now().Format(time.RFC3339),
	}), nil
}

// compareTickersTool fans open-interest analysis out across a primary
// ticker and its comparison set.
type compareTickersTool struct {
	service Service
}

func (t *compareTickersTool) Name() string { return "compare_tickers" }

func (t *compareTickersTool) Description() string {
	return "Compare open interest patterns between multiple tickers"
}

func (t *compareTickersTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"primary_ticker": {"type": "string", "description": "Main ticker to analyze"},
			"comparison_tickers": {"type": "array", "items": {"type": "string"}, "description": "Other tickers to compare against"},
			"days": {"type": "integer", "description": "Days of data for comparison", "default": 7}
		},
		"required": ["primary_ticker", "comparison_tickers"]
	}`)
}

func (t *compareTickersTool) Call(ctx context.Context, args map[string]any) (any, error) {
	primary, err := tickerArg(args, "primary_ticker")
	if err != nil {
		return nil, err
	}
	comparisons := stringSliceArg(args, "comparison_tickers")
	if len(comparisons) == 0 {
		return nil, errors.New("comparison_tickers is required")
	}
	days := intArg(args, "days", defaultOIDays)

	primaryData, err := t.service.AnalyzeOpenInterest(ctx, OIRequest{
		Ticker:      primary,
		Days:        days,
		TargetDTE:   defaultTargetDTE,
		IncludeNews: true,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to analyze %s", primary)
	}

	// Comparison failures are reported inline so one bad ticker does
	// not sink the whole comparison.
	var mu sync.Mutex
	results := make(map[string]any, len(comparisons))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(compareConcurrency)
	for _, ticker := range comparisons {
		group.Go(func() error {
			data, err := t.service.AnalyzeOpenInterest(groupCtx, OIRequest{
				Ticker:      ticker,
				Days:        days,
				TargetDTE:   defaultTargetDTE,
				IncludeNews: false,
			})

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				results[ticker] = map[string]any{"error": err.Error()}
			} else {
				results[ticker] = data
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	return map[string]any{
		"primary":     primaryData,
		"comparisons": results,
		"tool_metadata": map[string]any{
			"tool":               t.Name(),
			"primary_ticker":     primary,
			"comparison_tickers": comparisons,
			"days_requested":     days,
			"timestamp":          time.Now().Format(time.RFC3339),
		},
	}, nil
}

// attachMetadata stamps tool_metadata on an object payload. Non-object
// payloads are wrapped instead.
func attachMetadata(payload json.RawMessage, meta map[string]any) any {
	var decoded map[string]any
	if err := json.Unmarshal(payload, &decoded); err != nil || decoded == nil {
		return map[string]any{"data": payload, "tool_metadata": meta}
	}
	decoded["tool_metadata"] = meta
	return decoded
}

func tickerArg(args map[string]any, key string) (string, error) {
	value := stringArg(args, key, "")
	if value == "" {
		return "", errors.Errorf("%s is required", key)
	}
	return strings.ToUpper(value), nil
}

func stringArg(args map[string]any, key, fallback string) string {
	if value, ok := args[key].(string); ok && value != "" {
		return value
	}
	return fallback
}

// intArg reads a numeric argument. Decoded JSON numbers arrive as
// float64.
func intArg(args map[string]any, key string, fallback int) int {
	switch value := args[key].(type) {
	case float64:
		return int(value)
	case int:
		return value
	default:
		return fallback
	}
}

func boolArg(args map[string]any, key string, fallback bool) bool {
	if value, ok := args[key].(bool); ok {
		return value
	}
	return fallback
}

func stringSliceArg(args map[string]any, key string) []string {
	raw, ok := args[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if value, ok := item.(string); ok && value != "" {
			out = append(out, strings.ToUpper(value))
		}
	}
	return out
}

var (
	_ agent.Tool = (*liveOITool)(nil)
	_ agent.Tool = (*marketDataTool)(nil)
	_ agent.Tool = (*vixContextTool)(nil)
	_ agent.Tool = (*compareTickersTool)(nil)
)
