package marketdata

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/ksred/spreadbook/internal/types"
)

// Venue is a mock quote venue
type Venue struct {
	ID          string
	Name        string
	MinLatency  int     // in milliseconds
	MaxLatency  int
	SuccessRate float64 // 0-1, probability a request is answered
	SpreadWidth float64 // bid/ask width as a fraction of fair value
}

// DefaultVenues are the venues a SimulatedSource routes between
var DefaultVenues = []*Venue{
	{
		ID:          "OPRA",
		Name:        "Consolidated Feed",
		MinLatency:  5,
		MaxLatency:  30,
		SuccessRate: 0.97,
		SpreadWidth: 0.04,
	},
	{
		ID:          "CBOE",
		Name:        "Primary Options Exchange",
		MinLatency:  10,
		MaxLatency:  50,
		SuccessRate: 0.93,
		SpreadWidth: 0.06,
	},
	{
		ID:          "DELAYED",
		Name:        "Delayed Feed",
		MinLatency:  15,
		MaxLatency:  70,
		SuccessRate: 0.85,
		SpreadWidth: 0.10,
	},
}

// SimulatedSource prices options from a simple intrinsic plus time value
// model around configured underlying prices, with venue latency, failures and
// random price jitter.
type SimulatedSource struct {
	mu          sync.Mutex
	rng         *rand.Rand
	venues      []*Venue
	underlyings map[string]decimal.Decimal
	now         func() time.Time
	jitter      float64
	sleep       bool
}

type SimulatedOption func(*SimulatedSource)

// WithVenues replaces the default venue set
func WithVenues(venues ...*Venue) SimulatedOption {
	return func(s *SimulatedSource) { s.venues = venues }
}

// WithJitter sets the maximum relative price variance, 0.02 meaning +/-2%
func WithJitter(j float64) SimulatedOption {
	return func(s *SimulatedSource) { s.jitter = j }
}

// WithoutLatency disables simulated network latency
func WithoutLatency() SimulatedOption {
	return func(s *SimulatedSource) { s.sleep = false }
}

func WithSimulatedClock(now func() time.Time) SimulatedOption {
	return func(s *SimulatedSource) { s.now = now }
}

func NewSimulatedSource(seed int64, underlyings map[string]decimal.Decimal, opts ...SimulatedOption) *SimulatedSource {
	s := &SimulatedSource{
		rng:         rand.New(rand.NewSource(seed)),
		venues:      DefaultVenues,
		underlyings: make(map[string]decimal.Decimal, len(underlyings)),
		now:         time.Now,
		jitter:      0.02,
		sleep:       true,
	}
	for symbol, price := range underlyings {
		s.underlyings[strings.ToUpper(symbol)] = price
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetUnderlying moves an underlying price
func (s *SimulatedSource) SetUnderlying(symbol string, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.underlyings[strings.ToUpper(symbol)] = price
}

func (s *SimulatedSource) Quotes(ctx context.Context, symbols []string) (map[string]types.LegQuote, error) {
	venue := s.pickVenue()
	logger := log.With().
		Str("venue_id", venue.ID).
		Int("symbols", len(symbols)).
		Logger()

	s.mu.Lock()
	latency := s.rng.Intn(venue.MaxLatency-venue.MinLatency+1) + venue.MinLatency
	failed := s.rng.Float64() > venue.SuccessRate
	s.mu.Unlock()

	if s.sleep {
		logger.Debug().Int("latency_ms", latency).Msg("simulated network latency")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(latency) * time.Millisecond):
		}
	}

	if failed {
		logger.Warn().
			Float64("success_rate", venue.SuccessRate).
			Msg("quote request failed due to success rate threshold")
		return nil, fmt.Errorf("%w: venue %s did not respond", ErrUnavailable, venue.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]types.LegQuote, len(symbols))
	for _, symbol := range symbols {
		if q, ok := s.quote(symbol, venue); ok {
			out[symbol] = q
		}
	}

	logger.Debug().Int("quoted", len(out)).Msg("quotes served")
	return out, nil
}

// quote must be called with s.mu held
func (s *SimulatedSource) quote(symbol string, venue *Venue) (types.LegQuote, bool) {
	if price, ok := s.underlyings[strings.ToUpper(symbol)]; ok {
		last := s.vary(price.InexactFloat64())
		return makeQuote(last, last*0.0005), true
	}

	contract, err := ParseOptionSymbol(symbol)
	if err != nil {
		return types.LegQuote{}, false
	}
	spot, ok := s.underlyings[contract.Underlying]
	if !ok {
		return types.LegQuote{}, false
	}

	fair := s.vary(fairValue(contract, spot.InexactFloat64(), s.now()))
	return makeQuote(fair, math.Max(fair*venue.SpreadWidth/2, 0.01)), true
}

func (s *SimulatedSource) vary(price float64) float64 {
	return price * (1 + (s.rng.Float64()*2*s.jitter - s.jitter))
}

func makeQuote(mid, halfWidth float64) types.LegQuote {
	bid := math.Max(mid-halfWidth, 0)
	return types.LegQuote{
		Bid:  decimal.NewFromFloat(bid).Round(2),
		Mid:  decimal.NewFromFloat(mid).Round(2),
		Ask:  decimal.NewFromFloat(mid + halfWidth).Round(2),
		Last: decimal.NewFromFloat(mid).Round(2),
	}
}

// fairValue is intrinsic value plus a time value that decays with the square
// root of days to expiry and with distance from the money.
func fairValue(c OptionContract, spot float64, now time.Time) float64 {
	strike := c.Strike.InexactFloat64()
	intrinsic := math.Max(spot-strike, 0)
	if c.Put {
		intrinsic = math.Max(strike-spot, 0)
	}

	days := c.Expiration.Sub(types.Day(now)).Hours() / 24
	if days <= 0 || spot <= 0 {
		return intrinsic
	}
	moneyness := math.Abs(spot-strike) / spot
	timeValue := spot * 0.004 * math.Sqrt(days) * math.Exp(-moneyness*10)
	return intrinsic + timeValue
}

// pickVenue selects a venue weighted by success rate
func (s *SimulatedSource) pickVenue() *Venue {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0.0
	for _, v := range s.venues {
		total += v.SuccessRate
	}
	choice := s.rng.Float64() * total
	current := 0.0
	for _, v := range s.venues {
		current += v.SuccessRate
		if current >= choice {
			return v
		}
	}
	return s.venues[0]
}
