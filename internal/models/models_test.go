package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestTransactionType_IsValid(t *testing.T) {
	tests := []struct {
		txType TransactionType
		valid  bool
	}{
		{TypeBuy, true},
		{TypeSell, true},
		{TypeCashDividend, true},
		{TypeDividendReinvest, true},
		{TypeInterest, true},
		{TypeFee, true},
		{TypePremiumPayment, true},
		{TypeVestAcquire, true},
		{"TRANSFER", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.txType), func(t *testing.T) {
			if got := tt.txType.IsValid(); got != tt.valid {
				t.Errorf("TransactionType.IsValid() = %v, want %v", got, tt.valid)
			}
		})
	}
}

func TestParseTransactionType(t *testing.T) {
	tests := []struct {
		input string
		want  TransactionType
		ok    bool
	}{
		{"BUY", TypeBuy, true},
		{"buy", TypeBuy, true},
		{"Sell", TypeSell, true},
		{" vest_acquire ", TypeVestAcquire, true},
		{"dividend_reinvest", TypeDividendReinvest, true},
		{"transfer", "TRANSFER", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParseTransactionType(tt.input)
			if got != tt.want || ok != tt.ok {
				t.Errorf("ParseTransactionType(%q) = %s, %v, want %s, %v",
					tt.input, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestCanonicalHolding_Key(t *testing.T) {
	h := &CanonicalHolding{
		SnapshotDate: time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
		AssetID:      "GOLD",
	}

	key := h.Key()
	if key.SnapshotDate != "2024-03-31" {
		t.Errorf("Key().SnapshotDate = %s, want 2024-03-31", key.SnapshotDate)
	}
	if key.AssetID != "GOLD" {
		t.Errorf("Key().AssetID = %s, want GOLD", key.AssetID)
	}
}

func TestCanonicalHolding_Validate(t *testing.T) {
	date := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		holding   CanonicalHolding
		wantError bool
	}{
		{
			name:    "valid holding",
			holding: CanonicalHolding{AssetID: "GOLD", SnapshotDate: date, Currency: "CNY"},
		},
		{
			name:      "empty asset id",
			holding:   CanonicalHolding{SnapshotDate: date},
			wantError: true,
		},
		{
			name:      "zero date",
			holding:   CanonicalHolding{AssetID: "GOLD"},
			wantError: true,
		},
		{
			name:      "unknown currency",
			holding:   CanonicalHolding{AssetID: "GOLD", SnapshotDate: date, Currency: "XXZ"},
			wantError: true,
		},
		{
			name:    "empty currency allowed",
			holding: CanonicalHolding{AssetID: "GOLD", SnapshotDate: date},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.holding.Validate()
			if (err != nil) != tt.wantError {
				t.Errorf("Validate() error = %v, wantError %v", err, tt.wantError)
			}
		})
	}
}

func TestCanonicalHolding_JSONRoundTrip(t *testing.T) {
	qty := decimal.NewFromInt(100)
	original := &CanonicalHolding{
		SnapshotDate:    time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
		AssetID:         "US_STOCK_FUND",
		AssetName:       "US Stock Fund",
		AssetType:       "fund",
		Quantity:        &qty,
		CostPriceUnit:   decimal.NewFromFloat(9.5),
		MarketPriceUnit: decimal.NewFromFloat(10.2),
		MarketValueRaw:  decimal.NewFromInt(1020),
		Currency:        "USD",
		Account:         "broker_a",
		FxRate:          decimal.NewFromFloat(7.0),
		MarketValueBase: decimal.NewFromInt(7140),
	}

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var decoded CanonicalHolding
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	if !decoded.Equal(original) {
		t.Errorf("round trip mismatch: got %+v, want %+v", decoded, *original)
	}
}

func TestCanonicalTransaction_Validate(t *testing.T) {
	date := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		tx        CanonicalTransaction
		wantError bool
	}{
		{
			name: "valid transaction",
			tx:   CanonicalTransaction{AssetID: "AAPL", Type: TypeBuy, TransactionDate: date},
		},
		{
			name:      "empty asset id",
			tx:        CanonicalTransaction{Type: TypeBuy, TransactionDate: date},
			wantError: true,
		},
		{
			name:      "invalid type",
			tx:        CanonicalTransaction{AssetID: "AAPL", Type: "SWAP", TransactionDate: date},
			wantError: true,
		},
		{
			name:      "zero date",
			tx:        CanonicalTransaction{AssetID: "AAPL", Type: TypeBuy},
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.tx.Validate()
			if (err != nil) != tt.wantError {
				t.Errorf("Validate() error = %v, wantError %v", err, tt.wantError)
			}
		})
	}
}

func TestSortTransactions(t *testing.T) {
	jan := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	feb := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	txs := []*CanonicalTransaction{
		{AssetID: "B", TransactionDate: feb},
		{AssetID: "B", TransactionDate: jan},
		{AssetID: "A", TransactionDate: feb},
	}

	SortTransactions(txs)

	want := []struct {
		assetID string
		date    time.Time
	}{
		{"B", jan},
		{"A", feb},
		{"B", feb},
	}
	for i, w := range want {
		if txs[i].AssetID != w.assetID || !txs[i].TransactionDate.Equal(w.date) {
			t.Errorf("position %d: got (%s, %s), want (%s, %s)",
				i, txs[i].AssetID, txs[i].TransactionDate.Format(DateFormat),
				w.assetID, w.date.Format(DateFormat))
		}
	}
}

func TestIsKnownCurrency(t *testing.T) {
	tests := []struct {
		code  string
		known bool
	}{
		{"USD", true},
		{"CNY", true},
		{"eur", true},
		{" GBP ", true},
		{"XXZ", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			if got := IsKnownCurrency(tt.code); got != tt.known {
				t.Errorf("IsKnownCurrency(%q) = %v, want %v", tt.code, got, tt.known)
			}
		})
	}
}
