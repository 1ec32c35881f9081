package main

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/taku247/omg-tool/pkg/types"
)

func TestSimAdapterFillsAtLastQuoteWithSlippage(t *testing.T) {
	reg := newSimRegistry(decimal.NewFromFloat(0.001), 0.01)
	reg.observe(types.Quote{
		Venue:  types.Hyperliquid,
		Symbol: "BTC",
		Bid:    decimal.NewFromFloat(100),
		Ask:    decimal.NewFromFloat(101),
	})
	adapter := reg.adapterFor(types.Hyperliquid)

	order, err := adapter.PlaceOrder(context.Background(), "BTC", types.Buy, decimal.NewFromFloat(1), types.Market, nil, "cid-1")
	if err != nil {
		t.Fatalf("PlaceOrder buy: %v", err)
	}
	wantBuy := decimal.NewFromFloat(101).Mul(decimal.NewFromFloat(1.01))
	if !order.Price.Equal(wantBuy) {
		t.Errorf("buy fill price = %s, want %s", order.Price, wantBuy)
	}
	if order.Status != types.OrderFilled || !order.Filled.Equal(order.Quantity) {
		t.Errorf("buy order not fully filled: %+v", order)
	}

	order, err = adapter.PlaceOrder(context.Background(), "BTC", types.Sell, decimal.NewFromFloat(1), types.Market, nil, "cid-2")
	if err != nil {
		t.Fatalf("PlaceOrder sell: %v", err)
	}
	wantSell := decimal.NewFromFloat(100).Mul(decimal.NewFromFloat(0.99))
	if !order.Price.Equal(wantSell) {
		t.Errorf("sell fill price = %s, want %s", order.Price, wantSell)
	}
}

func TestSimAdapterNoQuoteFallsBackToGivenPrice(t *testing.T) {
	reg := newSimRegistry(decimal.NewFromFloat(0.001), 0.01)
	adapter := reg.adapterFor(types.Bybit)

	px := decimal.NewFromFloat(50)
	order, err := adapter.PlaceOrder(context.Background(), "ETH", types.Buy, decimal.NewFromFloat(2), types.Limit, &px, "cid-3")
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if !order.Price.Equal(px) {
		t.Errorf("fill price = %s, want fallback %s", order.Price, px)
	}
}

func TestParseLogLevel(t *testing.T) {
	if parseLogLevel("debug") == parseLogLevel("error") {
		t.Fatal("expected distinct levels for debug and error")
	}
}
