package marketdata

import (
	"context"
	"encoding/json"
	"time"
)

// OIRequest selects the open-interest analysis window.
type OIRequest struct {
	Ticker      string
	Days        int
	TargetDTE   int
	IncludeNews bool
}

// Service is the market-data collaborator behind the conversation
// tools. Implementations talk to external analysis servers; tests
// substitute fakes.
type Service interface {
	// AnalyzeOpenInterest returns the open-interest analysis payload
	// for a ticker.
	AnalyzeOpenInterest(ctx context.Context, req OIRequest) (json.RawMessage, error)
	// TechnicalAnalysis returns current prices, technical indicators
	// and volatility metrics for a ticker.
	TechnicalAnalysis(ctx context.Context, ticker string) (json.RawMessage, error)
}

type service struct {
	oi     *RPCClient
	market *RPCClient
}

// NewService wires the two external server executables into a Service.
func NewService(oiCommand, marketDataCommand string, timeout time.Duration) Service {
	return &service{
		oi:     NewRPCClient(oiCommand, timeout),
		market: NewRPCClient(marketDataCommand, timeout),
	}
}

func (s *service) AnalyzeOpenInterest(ctx context.Context, req OIRequest) (json.RawMessage, error) {
	return s.oi.CallTool(ctx, "analyze_open_interest", map[string]any{
		"ticker":       req.Ticker,
		"days":         req.Days,
		"target_dte":   req.TargetDTE,
		"include_news": req.IncludeNews,
	})
}

func (s *service) TechnicalAnalysis(ctx context.Context, ticker string) (json.RawMessage, error) {
	return s.market.CallTool(ctx, "financial_technical_analysis_tool", map[string]any{
		"symbol": ticker,
	})
}

var _ Service = (*service)(nil)
