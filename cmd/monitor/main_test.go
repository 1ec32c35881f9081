package main

import (
	"log/slog"
	"reflect"
	"testing"

	"github.com/taku247/omg-tool/pkg/types"
)

func TestResolveSymbols(t *testing.T) {
	got := resolveSymbols([]string{" btc ", "eth", "", "Sol"})
	want := []types.SymbolId{"BTC", "ETH", "SOL"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("resolveSymbols = %v, want %v", got, want)
	}
}

func TestResolveSymbolsEmpty(t *testing.T) {
	got := resolveSymbols(nil)
	if len(got) != 0 {
		t.Fatalf("resolveSymbols(nil) = %v, want empty", got)
	}
}

func TestParseLogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"DEBUG": slog.LevelDebug,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"info":  slog.LevelInfo,
		"":      slog.LevelInfo,
		"bogus": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLogLevel(in); got != want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestVenueKeysCoversConfigExchangeNames(t *testing.T) {
	for _, key := range []string{"hyperliquid", "bybit", "binance", "gate", "bitget", "kucoin"} {
		if _, ok := venueKeys[key]; !ok {
			t.Errorf("venueKeys missing entry for %q", key)
		}
	}
}
