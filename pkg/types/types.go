// Package types holds the data model shared by every component of the
// arbitrage engine: venues, quotes, order books, opportunities, orders, and
// the arbitrage position lifecycle.
package types

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ———————————————————————————————————————————————————————————————————————
// Venues and symbols
// ———————————————————————————————————————————————————————————————————————

// VenueId is the canonical, case-preserved name of a trading venue.
type VenueId string

const (
	Hyperliquid VenueId = "Hyperliquid"
	Bybit       VenueId = "Bybit"
	Binance     VenueId = "Binance"
	Gateio      VenueId = "Gateio"
	Bitget      VenueId = "Bitget"
	KuCoin      VenueId = "KuCoin"
)

// Lower returns the lower-case form used in config keys and file names.
func (v VenueId) Lower() string {
	out := make([]byte, len(v))
	for i := 0; i < len(v); i++ {
		c := v[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}

// SymbolId is the canonical short form of a traded base asset, e.g. "BTC".
type SymbolId string

// ———————————————————————————————————————————————————————————————————————
// Side / order type / order status / position status
// ———————————————————————————————————————————————————————————————————————

type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Opposite returns the other side — used when flattening a filled leg.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

type OrderType string

const (
	Market OrderType = "MARKET"
	Limit  OrderType = "LIMIT"
)

type OrderStatus string

const (
	OrderPending         OrderStatus = "PENDING"
	OrderOpen            OrderStatus = "OPEN"
	OrderPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderFilled          OrderStatus = "FILLED"
	OrderCancelled       OrderStatus = "CANCELLED"
	OrderRejected        OrderStatus = "REJECTED"
	OrderExpired         OrderStatus = "EXPIRED"
)

// IsTerminal reports whether the order will never transition further.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderFilled, OrderCancelled, OrderRejected, OrderExpired:
		return true
	default:
		return false
	}
}

// IsFilledOrPartial reports whether the order reported any fill at all.
func (s OrderStatus) IsFilledOrPartial() bool {
	return s == OrderFilled || s == OrderPartiallyFilled
}

type PositionStatus string

const (
	PositionPending PositionStatus = "PENDING"
	PositionOpening PositionStatus = "OPENING"
	PositionOpen    PositionStatus = "OPEN"
	PositionClosing PositionStatus = "CLOSING"
	PositionClosed  PositionStatus = "CLOSED"
	PositionFailed  PositionStatus = "FAILED"
)

// ———————————————————————————————————————————————————————————————————————
// Quote / OrderBook
// ———————————————————————————————————————————————————————————————————————

// Quote is an immutable normalized snapshot of best bid/ask for one
// (venue, symbol) pair. Once constructed it is never mutated; a new update
// produces a new Quote.
type Quote struct {
	Venue     VenueId
	Symbol    SymbolId
	Bid       decimal.Decimal
	Ask       decimal.Decimal
	Last      *decimal.Decimal
	MarkPrice *decimal.Decimal
	Volume24h *decimal.Decimal
	TsNanos   int64
}

// Valid reports whether the quote satisfies the invariant bid>0, ask>0, bid<=ask.
func (q Quote) Valid() bool {
	return q.Bid.IsPositive() && q.Ask.IsPositive() && !q.Bid.GreaterThan(q.Ask)
}

// Time returns the quote timestamp as a UTC time.Time.
func (q Quote) Time() time.Time {
	return time.Unix(0, q.TsNanos).UTC()
}

// PriceLevel is one (price, size) entry of an order book side.
type PriceLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// OrderBook is a transient depth snapshot used for slippage estimation.
// Bids are sorted descending by price, asks ascending; all sizes > 0.
type OrderBook struct {
	Symbol  SymbolId
	Bids    []PriceLevel
	Asks    []PriceLevel
	TsNanos int64
}

// ———————————————————————————————————————————————————————————————————————
// Opportunity
// ———————————————————————————————————————————————————————————————————————

// Opportunity is the Detector's output: a pair of venues where buying on
// BuyVenue and selling on SellVenue yields a qualifying spread.
type Opportunity struct {
	ID              string
	Symbol          SymbolId
	BuyVenue        VenueId
	SellVenue       VenueId
	BuyPrice        decimal.Decimal // = ask on BuyVenue
	SellPrice       decimal.Decimal // = bid on SellVenue
	SpreadPct       decimal.Decimal
	RecommendedSize decimal.Decimal
	ExpectedProfit  decimal.Decimal
	SlippageBuy     *decimal.Decimal
	SlippageSell    *decimal.Decimal
	TsNanos         int64
}

// NetSpread is spreadPct minus round-trip slippage, computed once both
// SlippageBuy and SlippageSell have been estimated. Unset slippage legs
// count as zero.
func (o Opportunity) NetSpread() decimal.Decimal {
	net := o.SpreadPct
	if o.SlippageBuy != nil {
		net = net.Sub(*o.SlippageBuy)
	}
	if o.SlippageSell != nil {
		net = net.Sub(*o.SlippageSell)
	}
	return net
}

// PositionValue is the USD notional of the recommended trade.
func (o Opportunity) PositionValue() decimal.Decimal {
	return o.RecommendedSize.Mul(o.BuyPrice)
}

// ———————————————————————————————————————————————————————————————————————
// Order
// ———————————————————————————————————————————————————————————————————————

// Order is a venue-visible order record. It is created by OrderRouter and
// mutated only by the monitor loop watching that single order.
type Order struct {
	ID            string // venue-assigned id, empty until acked
	ClientOrderID string // our idempotency key
	Venue         VenueId
	Symbol        SymbolId
	Side          Side
	Type          OrderType
	Price         *decimal.Decimal // nil for MARKET
	Quantity      decimal.Decimal
	Filled        decimal.Decimal
	Status        OrderStatus
	TsNanos       int64
	Fee           *decimal.Decimal
}

// Remaining returns quantity minus filled.
func (o Order) Remaining() decimal.Decimal {
	return o.Quantity.Sub(o.Filled)
}

// ———————————————————————————————————————————————————————————————————————
// Balance / Position (venue account state)
// ———————————————————————————————————————————————————————————————————————

// Balance is per-asset free/locked/total on one venue.
type Balance struct {
	Asset  string
	Free   decimal.Decimal
	Locked decimal.Decimal
}

// Total returns free + locked.
func (b Balance) Total() decimal.Decimal {
	return b.Free.Add(b.Locked)
}

// AccountPosition is a venue-reported open position (distinct from
// ArbitragePosition, which is this engine's own paired-leg construct).
type AccountPosition struct {
	Symbol        SymbolId
	Side          Side
	Size          decimal.Decimal
	EntryPrice    decimal.Decimal
	UnrealizedPnl decimal.Decimal
}

// Fees are per-venue maker/taker rates, expressed as decimal fractions
// (e.g. 0.0006 for 6 bps), not percentages.
type Fees struct {
	MakerBps decimal.Decimal
	TakerBps decimal.Decimal
}

// ———————————————————————————————————————————————————————————————————————
// ArbitragePosition
// ———————————————————————————————————————————————————————————————————————

// ArbitragePosition is the paired long/short exposure opened against an
// accepted Opportunity. State transitions: PENDING -> OPENING -> {OPEN,
// FAILED}; OPEN -> CLOSING -> {CLOSED, FAILED}. No edges skip.
type ArbitragePosition struct {
	ID            string
	OpportunityID string
	Symbol        SymbolId
	LongVenue     VenueId
	ShortVenue    VenueId
	Size          decimal.Decimal
	EntrySpread   decimal.Decimal
	ExitTargetPct decimal.Decimal

	LongOrder       *Order
	ShortOrder      *Order
	CloseLongOrder  *Order
	CloseShortOrder *Order

	CreatedAt time.Time
	OpenedAt  *time.Time
	ClosedAt  *time.Time

	RealizedPnl   decimal.Decimal
	UnrealizedPnl decimal.Decimal
	FeesPaid      decimal.Decimal

	Status   PositionStatus
	ErrorMsg string
}

// IsOpen reports whether the position currently carries live exposure.
func (p *ArbitragePosition) IsOpen() bool {
	return p.Status == PositionOpen || p.Status == PositionClosing
}

// Duration returns how long the position has been open (zero if never
// opened, or time since OpenedAt to ClosedAt/now otherwise).
func (p *ArbitragePosition) Duration() time.Duration {
	if p.OpenedAt == nil {
		return 0
	}
	end := time.Now().UTC()
	if p.ClosedAt != nil {
		end = *p.ClosedAt
	}
	return end.Sub(*p.OpenedAt)
}

// PositionValue is the USD notional of the position at entry.
func (p *ArbitragePosition) PositionValue() decimal.Decimal {
	if p.LongOrder == nil || p.LongOrder.Price == nil {
		return decimal.Zero
	}
	return p.Size.Mul(*p.LongOrder.Price)
}

// String implements fmt.Stringer for log lines.
func (p *ArbitragePosition) String() string {
	return fmt.Sprintf("position{id=%s symbol=%s status=%s size=%s}", p.ID, p.Symbol, p.Status, p.Size)
}
