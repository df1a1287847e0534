package types

import (
	"encoding/json"
	"testing"
)

func TestMoneyString(t *testing.T) {
	tests := []struct {
		name    string
		money   Money
		display string
	}{
		{"basic pack", USD(1000), "$10.00"},
		{"pro pack", USD(2000), "$20.00"},
		{"euro", EUR(1999), "€19.99"},
		{"pound", GBP(5), "£0.05"},
		{"zero", Zero("USD"), "$0.00"},
		{"unknown currency", Money{Amount: 150, Currency: "chf"}, "CHF 1.50"},
		{"negative", USD(-250), "$-2.50"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.money.String(); got != tt.display {
				t.Errorf("got %s, want %s", got, tt.display)
			}
		})
	}
}

func TestMoneyArithmetic(t *testing.T) {
	sum := USD(1000).Add(USD(2000))
	if !sum.Equal(USD(3000)) {
		t.Errorf("Add: got %v", sum)
	}

	if got := USD(1000).Multiply(3); !got.Equal(USD(3000)) {
		t.Errorf("Multiply: got %v", got)
	}

	if !USD(1).IsPositive() || USD(0).IsPositive() {
		t.Error("IsPositive misreported")
	}
	if !Zero("eur").IsZero() {
		t.Error("Zero should be zero")
	}
}

func TestMoneyCurrencyMismatch(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("expected panic on currency mismatch")
		}
	}()
	_ = USD(100).Add(EUR(100))
}

func TestMoneyJSON(t *testing.T) {
	data, err := json.Marshal(USD(3000))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["display"] != "$30.00" {
		t.Errorf("display: got %v", decoded["display"])
	}

	var back Money
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal into Money: %v", err)
	}
	if !back.Equal(USD(3000)) {
		t.Errorf("got %v", back)
	}
}
