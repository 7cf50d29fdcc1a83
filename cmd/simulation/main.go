package main

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc/pool"

	"github.com/ksred/spreadbook/internal/config"
	"github.com/ksred/spreadbook/internal/types"
)

const (
	minTrades  = 15
	maxTrades  = 80
	numWorkers = 5
)

var (
	// underlyings mirrors the simulated quote venue of the server
	underlyings = map[string]float64{
		"AAPL": 182.50,
		"MSFT": 410.00,
		"SPY":  520.00,
		"QQQ":  440.00,
		"TSLA": 250.00,
	}
	exitTypes = []types.ExitType{types.ExitClosedEarly, types.ExitStoppedOut, types.ExitRolled}
)

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	mu         sync.Mutex
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
}

// addDuration records a new duration measurement for the route
func (rs *routeStats) addDuration(d time.Duration, failed bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
	if failed {
		rs.failures++
	}
}

// calculate computes performance statistics from recorded durations
// Returns min, max, mean, median, 95th percentile, and 99th percentile durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))
	median = rs.durations[len(rs.durations)/2]

	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]

	return
}

// envelope is the response wrapper every endpoint returns
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// simulationClient handles HTTP communication with the spreadbook API
type simulationClient struct {
	baseURL   string
	authToken string
	client    *http.Client
	stats     map[string]*routeStats
}

// newSimulationClient creates a client and authenticates with the API
func newSimulationClient(baseURL string, cfg *config.Config) (*simulationClient, error) {
	sc := &simulationClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		stats: map[string]*routeStats{
			"auth":    {name: "Authentication"},
			"open":    {name: "Open Trade"},
			"closing": {name: "Mark Closing"},
			"close":   {name: "Close Trade"},
			"value":   {name: "Value Trade"},
			"history": {name: "Trade History"},
			"reports": {name: "Strategy Report"},
		},
	}

	var token struct {
		Token string `json:"jwt_token"`
	}
	creds := map[string]string{"api_key": cfg.APIKey, "api_secret": cfg.APISecret}
	if err := sc.do("auth", http.MethodPost, "/api/v1/auth/token", creds, nil, &token); err != nil {
		return nil, fmt.Errorf("failed to authenticate: %w", err)
	}
	sc.authToken = token.Token

	return sc, nil
}

// do sends one request, records its latency under route and decodes the
// envelope data into out
func (sc *simulationClient) do(route, method, path string, body interface{}, headers map[string]string, out interface{}) (err error) {
	start := time.Now()
	defer func() {
		sc.stats[route].addDuration(time.Since(start), err != nil)
	}()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewBuffer(payload)
	}

	req, err := http.NewRequest(method, sc.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if sc.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+sc.authToken)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := sc.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	log.Debug().Str("route", route).Str("response", string(respBody)).Msg("API response")

	var result envelope
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		if result.Error != nil {
			return fmt.Errorf("%s failed with status %d: %s", route, resp.StatusCode, result.Error.Message)
		}
		return fmt.Errorf("%s failed with status %d", route, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(result.Data, out)
}

// openTrade submits a spread with a fresh idempotency key
func (sc *simulationClient) openTrade(req *types.OpenRequest) (*types.ActiveTrade, error) {
	var record types.TradeRecord
	headers := map[string]string{"Idempotency-Key": uuid.New().String()}
	if err := sc.do("open", http.MethodPost, "/api/v1/trades", req, headers, &record); err != nil {
		return nil, err
	}
	if record.Active == nil {
		return nil, fmt.Errorf("no active trade in response")
	}
	return record.Active, nil
}

func (sc *simulationClient) markClosing(tradeID int64) error {
	return sc.do("closing", http.MethodPost, fmt.Sprintf("/api/v1/trades/%d/closing", tradeID), nil, nil, nil)
}

func (sc *simulationClient) closeTrade(tradeID int64, req types.CloseRequest) (*types.CompletedTrade, error) {
	var completed types.CompletedTrade
	if err := sc.do("close", http.MethodPost, fmt.Sprintf("/api/v1/trades/%d/close", tradeID), req, nil, &completed); err != nil {
		return nil, err
	}
	return &completed, nil
}

func (sc *simulationClient) valueTrade(tradeID int64) (*types.TradeValuation, error) {
	var valuation types.TradeValuation
	if err := sc.do("value", http.MethodGet, fmt.Sprintf("/api/v1/trades/%d/value", tradeID), nil, nil, &valuation); err != nil {
		return nil, err
	}
	return &valuation, nil
}

func (sc *simulationClient) history(tradeID int64) ([]types.StatusHistory, error) {
	var history []types.StatusHistory
	err := sc.do("history", http.MethodGet, fmt.Sprintf("/api/v1/trades/%d/history", tradeID), nil, nil, &history)
	return history, err
}

func (sc *simulationClient) strategyReport() (*types.StrategyReport, error) {
	var report types.StrategyReport
	if err := sc.do("reports", http.MethodGet, "/api/v1/reports/strategies", nil, nil, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// printPerformanceStats outputs formatted performance statistics for all API endpoints
func (sc *simulationClient) printPerformanceStats() {
	fmt.Println("\n📊 API Performance Statistics")
	fmt.Println(strings.Repeat("-", 100))
	fmt.Printf("%-20s %10s %10s %10s %10s %10s %10s %10s %10s\n",
		"Endpoint", "Calls", "Errors", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Println(strings.Repeat("-", 100))

	for _, stats := range sc.stats {
		min, max, mean, median, p95, p99 := stats.calculate()
		fmt.Printf("%-20s %10d %10d %10s %10s %10s %10s %10s %10s\n",
			stats.name,
			stats.totalCalls,
			stats.failures,
			min.Round(time.Millisecond),
			max.Round(time.Millisecond),
			mean.Round(time.Millisecond),
			median.Round(time.Millisecond),
			p95.Round(time.Millisecond),
			p99.Round(time.Millisecond))
	}
	fmt.Println(strings.Repeat("-", 100))
}

// main runs a load simulation against a running spreadbook server.
// Trades are opened concurrently, then a random share is closed, moved to
// CLOSING, or valued at market before the strategy report is fetched.
func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	baseURL := os.Getenv("SPREADBOOK_URL")
	if baseURL == "" {
		baseURL = "http://localhost:" + cfg.Port
	}

	simClient, err := newSimulationClient(baseURL, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize simulation client")
	}

	targetTrades := rand.Intn(maxTrades-minTrades) + minTrades
	log.Info().Int("target_trades", targetTrades).Str("server", baseURL).Msg("Starting simulation")

	stats := struct {
		mu         sync.Mutex
		Opened     int
		Closed     int
		Closing    int
		Valued     int
		Failed     int
		Realized   decimal.Decimal
		Unrealized decimal.Decimal
		StartTime  time.Time
		Strategies map[types.StrategyType]int
	}{
		StartTime:  time.Now(),
		Strategies: make(map[types.StrategyType]int),
	}

	p := pool.NewWithResults[*types.ActiveTrade]().WithMaxGoroutines(numWorkers)
	for i := 0; i < targetTrades; i++ {
		p.Go(func() *types.ActiveTrade {
			req := randomSpread()
			trade, err := simClient.openTrade(req)
			if err != nil {
				log.Error().Err(err).Str("symbol", req.Symbol).Str("strategy", string(req.StrategyType)).Msg("Failed to open trade")
				stats.mu.Lock()
				stats.Failed++
				stats.mu.Unlock()
				return nil
			}
			log.Info().
				Int64("trade_id", trade.TradeID).
				Str("symbol", trade.Symbol).
				Str("strategy", string(trade.TradeType)).
				Str("net_credit", trade.NetCredit.String()).
				Msg("Trade opened")
			return trade
		})
	}

	var trades []*types.ActiveTrade
	for _, trade := range p.Wait() {
		if trade != nil {
			trades = append(trades, trade)
		}
	}
	stats.Opened = len(trades)
	log.Info().Int("trades_opened", stats.Opened).Msg("All trades opened")

	work := pool.New().WithMaxGoroutines(numWorkers)
	for _, trade := range trades {
		trade := trade
		stats.Strategies[trade.TradeType]++
		work.Go(func() {
			switch roll := rand.Float64(); {
			case roll < 0.4:
				completed, err := simClient.closeTrade(trade.TradeID, randomClose(trade))
				stats.mu.Lock()
				defer stats.mu.Unlock()
				if err != nil {
					log.Error().Err(err).Int64("trade_id", trade.TradeID).Msg("Failed to close trade")
					stats.Failed++
					return
				}
				stats.Closed++
				stats.Realized = stats.Realized.Add(completed.ActualProfitLoss)
				log.Info().
					Int64("trade_id", trade.TradeID).
					Str("exit_type", string(completed.ExitType)).
					Str("pnl", completed.ActualProfitLoss.String()).
					Msg("Trade closed")
			case roll < 0.6:
				err := simClient.markClosing(trade.TradeID)
				stats.mu.Lock()
				defer stats.mu.Unlock()
				if err != nil {
					log.Error().Err(err).Int64("trade_id", trade.TradeID).Msg("Failed to mark trade closing")
					stats.Failed++
					return
				}
				stats.Closing++
			default:
				valuation, err := simClient.valueTrade(trade.TradeID)
				stats.mu.Lock()
				defer stats.mu.Unlock()
				if err != nil {
					log.Warn().Err(err).Int64("trade_id", trade.TradeID).Msg("Failed to value trade")
					stats.Failed++
					return
				}
				stats.Valued++
				stats.Unrealized = stats.Unrealized.Add(valuation.UnrealizedPnL)
			}
		})
	}
	work.Wait()

	if len(trades) > 0 {
		if history, err := simClient.history(trades[0].TradeID); err == nil {
			log.Info().Int64("trade_id", trades[0].TradeID).Int("transitions", len(history)).Msg("Sampled trade history")
		}
	}

	report, err := simClient.strategyReport()
	if err != nil {
		log.Error().Err(err).Msg("Failed to fetch strategy report")
	}

	duration := time.Since(stats.StartTime)
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("🚀 SPREAD SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Printf(`
📊 Trade Statistics
------------------
Target Trades:    %d
Opened:           %d
Closed:           %d
Marked Closing:   %d
Valued:           %d
Failures:         %d
Realized P&L:     $%s
Unrealized P&L:   $%s
Duration:         %v

📈 Strategy Distribution
--------------------
`, targetTrades, stats.Opened, stats.Closed, stats.Closing, stats.Valued, stats.Failed,
		stats.Realized.StringFixed(2), stats.Unrealized.StringFixed(2), duration.Round(time.Millisecond))

	maxCount := 0
	for _, count := range stats.Strategies {
		if count > maxCount {
			maxCount = count
		}
	}
	for _, strategy := range types.Strategies {
		count := stats.Strategies[strategy]
		barLength := 0
		if maxCount > 0 {
			barLength = int(float64(count) / float64(maxCount) * 20)
		}
		fmt.Printf("%-12s: %s (%d)\n", strategy, strings.Repeat("█", barLength), count)
	}

	if report != nil {
		fmt.Println("\n📉 Strategy Report")
		fmt.Println("------------------")
		for _, agg := range report.Strategies {
			fmt.Printf("%-12s active=%-4d completed=%-4d total_pnl=%s\n",
				agg.Strategy, agg.ActiveCount, agg.CompletedCount, agg.TotalPnL.StringFixed(2))
		}
		fmt.Printf("%-12s win_rate=%s%% total_pnl=%s\n", "PORTFOLIO",
			report.Portfolio.WinRate.StringFixed(1), report.Portfolio.TotalPnL.StringFixed(2))
	}
	fmt.Println("\n" + strings.Repeat("=", 80))

	log.Info().
		Int("opened", stats.Opened).
		Int("closed", stats.Closed).
		Int("failed", stats.Failed).
		Str("realized_pnl", stats.Realized.StringFixed(2)).
		Dur("duration", duration).
		Msg("Simulation completed")

	simClient.printPerformanceStats()
}

// randomSpread builds a well-formed spread on a random underlying with strikes
// placed around the simulated price
func randomSpread() *types.OpenRequest {
	symbols := make([]string, 0, len(underlyings))
	for symbol := range underlyings {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	symbol := symbols[rand.Intn(len(symbols))]
	price := underlyings[symbol]

	width := 5.0
	step := math.Round(price*0.05/width) * width
	atm := math.Round(price/width) * width

	leg := func(strike, premium float64) *types.LegInput {
		return &types.LegInput{
			Strike: decimal.NewFromFloat(strike),
			Price:  decimal.NewNullDecimal(decimal.NewFromFloat(premium).Round(2)),
		}
	}
	near := 0.5 + rand.Float64()*2
	far := near * (0.3 + rand.Float64()*0.4)

	req := &types.OpenRequest{
		Symbol:          symbol,
		UnderlyingPrice: decimal.NewFromFloat(price),
		StrategyType:    types.Strategies[rand.Intn(len(types.Strategies))],
		ExpirationDate:  types.NewDate(time.Now().AddDate(0, 0, 7+rand.Intn(45))),
		NumContracts:    rand.Intn(5) + 1,
		PriceSource:     "SIMULATION",
	}

	switch req.StrategyType {
	case types.StrategyBullPut:
		req.ShortPut = leg(atm-step, near)
		req.LongPut = leg(atm-step-width, far)
	case types.StrategyBearCall:
		req.ShortCall = leg(atm+step, near)
		req.LongCall = leg(atm+step+width, far)
	case types.StrategyIronCondor:
		req.ShortPut = leg(atm-step, near)
		req.LongPut = leg(atm-step-width, far)
		req.ShortCall = leg(atm+step, near)
		req.LongCall = leg(atm+step+width, far)
	case types.StrategyBullCall:
		req.LongCall = leg(atm, near+1)
		req.ShortCall = leg(atm+width, near)
	case types.StrategyBearPut:
		req.LongPut = leg(atm, near+1)
		req.ShortPut = leg(atm-width, near)
	}
	return req
}

// randomClose picks an exit for a trade, with a debit between nothing and
// twice the absolute entry premium
func randomClose(trade *types.ActiveTrade) types.CloseRequest {
	debit := trade.NetCredit.Abs().Mul(decimal.NewFromFloat(rand.Float64() * 2)).Round(2)
	move := 1 + (rand.Float64()-0.5)*0.06
	return types.CloseRequest{
		CloseDate:           types.NewDate(time.Now()),
		UnderlyingExitPrice: trade.UnderlyingPrice.Mul(decimal.NewFromFloat(move)).Round(2),
		ExitDebit:           debit,
		ExitType:            exitTypes[rand.Intn(len(exitTypes))],
	}
}
