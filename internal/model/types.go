package model

import (
	"fmt"
	"strings"
)

// Mode is the granularity of market data requested for a subscription.
type Mode int

// Subscription modes per the OpenAlgo WebSocket protocol.
const (
	ModeLTP   Mode = 1 // last traded price only
	ModeQuote Mode = 2 // quote with OHLC and volume
	ModeDepth Mode = 3 // full order-book depth
)

// DefaultDepthLevel is used when a depth subscription does not specify one.
const DefaultDepthLevel = 5

// Valid reports whether m is one of the defined modes.
func (m Mode) Valid() bool {
	return m >= ModeLTP && m <= ModeDepth
}

// String returns the lowercase mode name used in key strings and logs.
func (m Mode) String() string {
	switch m {
	case ModeLTP:
		return "ltp"
	case ModeQuote:
		return "quote"
	case ModeDepth:
		return "depth"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode converts a wire-level mode number to a Mode.
func ParseMode(n int) (Mode, error) {
	m := Mode(n)
	if !m.Valid() {
		return 0, fmt.Errorf("invalid mode %d (want 1, 2, or 3)", n)
	}
	return m, nil
}

// SubscriptionKey identifies one live data feed. Equality is exact
// string/enum match, case-sensitive as received from the caller.
type SubscriptionKey struct {
	Symbol   string
	Exchange string
	Mode     Mode
}

// NewKey builds a SubscriptionKey without normalizing its parts.
func NewKey(symbol, exchange string, mode Mode) SubscriptionKey {
	return SubscriptionKey{Symbol: symbol, Exchange: exchange, Mode: mode}
}

// String renders the key as "EXCHANGE:SYMBOL:mode", the form used by
// ListActive and log output.
func (k SubscriptionKey) String() string {
	return k.Exchange + ":" + k.Symbol + ":" + k.Mode.String()
}

// Validate checks the key has a symbol, an exchange, and a known mode.
func (k SubscriptionKey) Validate() error {
	if strings.TrimSpace(k.Symbol) == "" {
		return fmt.Errorf("symbol is required")
	}
	if strings.TrimSpace(k.Exchange) == "" {
		return fmt.Errorf("exchange is required")
	}
	if !k.Mode.Valid() {
		return fmt.Errorf("invalid mode %d", int(k.Mode))
	}
	return nil
}

// DepthLevel is one price level of an order book.
type DepthLevel struct {
	Price    float64 `json:"price"`
	Quantity int64   `json:"quantity"`
	Orders   int64   `json:"orders,omitempty"`
}

// Depth is the order-book portion of a depth-mode tick.
type Depth struct {
	Buy  []DepthLevel `json:"buy"`
	Sell []DepthLevel `json:"sell"`
}

// Tick is the data payload of a market_data message. Fields beyond LTP
// are populated only for the richer modes; Depth only for ModeDepth.
type Tick struct {
	Symbol    string  `json:"symbol"`
	Exchange  string  `json:"exchange"`
	LTP       float64 `json:"ltp"`
	Open      float64 `json:"open,omitempty"`
	High      float64 `json:"high,omitempty"`
	Low       float64 `json:"low,omitempty"`
	Close     float64 `json:"close,omitempty"`
	Volume    int64   `json:"volume,omitempty"`
	Timestamp int64   `json:"timestamp,omitempty"`
	Depth     *Depth  `json:"depth,omitempty"`
}
