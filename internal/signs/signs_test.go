package signs

import (
	"testing"
	"time"

	"portfolio-consolidation-service/internal/models"

	"github.com/shopspring/decimal"
)

func makeTransaction(txType models.TransactionType, quantity, gross, fee float64) *models.CanonicalTransaction {
	tx := &models.CanonicalTransaction{
		AssetID:         "TEST",
		Type:            txType,
		TransactionDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		AmountGross:     decimal.NewFromFloat(gross),
		CommissionFee:   decimal.NewFromFloat(fee),
	}
	if quantity != 0 {
		tx.Quantity = models.DecimalPtr(decimal.NewFromFloat(quantity))
	}
	return tx
}

func TestApply_NetAmountFormulas(t *testing.T) {
	tests := []struct {
		name    string
		txType  models.TransactionType
		gross   float64
		fee     float64
		wantNet string
	}{
		{"buy is negative gross plus fee", models.TypeBuy, 1000, 1, "-1001"},
		{"sell is gross minus fee", models.TypeSell, 480, 1, "479"},
		{"dividend reinvest is outflow", models.TypeDividendReinvest, 200, 0, "-200"},
		{"premium payment is outflow", models.TypePremiumPayment, 5000, 0, "-5000"},
		{"vest acquire is outflow", models.TypeVestAcquire, 300, 0, "-300"},
		{"cash dividend is inflow", models.TypeCashDividend, 150, 0, "150"},
		{"interest is inflow", models.TypeInterest, 25, 0, "25"},
		{"fee is negative fee", models.TypeFee, 0, 12, "-12"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := makeTransaction(tt.txType, 10, tt.gross, tt.fee)
			if err := Apply(tx); err != nil {
				t.Fatalf("Apply() error = %v", err)
			}
			want, _ := decimal.NewFromString(tt.wantNet)
			if !tx.AmountNet.Equal(want) {
				t.Errorf("AmountNet = %s, want %s", tx.AmountNet.String(), tt.wantNet)
			}
		})
	}
}

func TestApply_QuantityDirections(t *testing.T) {
	buy := makeTransaction(models.TypeBuy, -100, 1000, 1)
	if err := Apply(buy); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if buy.Quantity == nil || !buy.Quantity.Equal(decimal.NewFromInt(100)) {
		t.Errorf("buy quantity = %v, want +100", buy.Quantity)
	}

	sell := makeTransaction(models.TypeSell, 40, 480, 1)
	if err := Apply(sell); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if sell.Quantity == nil || !sell.Quantity.Equal(decimal.NewFromInt(-40)) {
		t.Errorf("sell quantity = %v, want -40", sell.Quantity)
	}

	dividend := makeTransaction(models.TypeCashDividend, 33, 150, 0)
	if err := Apply(dividend); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if dividend.Quantity != nil {
		t.Errorf("cash dividend quantity = %v, want nil", dividend.Quantity)
	}
}

func TestApply_Idempotent(t *testing.T) {
	tx := makeTransaction(models.TypeSell, 40, 480, 1)
	if err := Apply(tx); err != nil {
		t.Fatalf("first Apply() error = %v", err)
	}
	firstNet := tx.AmountNet
	firstQty := *tx.Quantity

	if err := Apply(tx); err != nil {
		t.Fatalf("second Apply() error = %v", err)
	}
	if !tx.AmountNet.Equal(firstNet) {
		t.Errorf("AmountNet changed on reapplication: %s -> %s", firstNet, tx.AmountNet)
	}
	if !tx.Quantity.Equal(firstQty) {
		t.Errorf("Quantity changed on reapplication: %s -> %s", firstQty, tx.Quantity)
	}
}

func TestApply_FeeInGrossColumn(t *testing.T) {
	// Some exports carry a standalone fee in the amount column.
	tx := makeTransaction(models.TypeFee, 0, 15, 0)
	if err := Apply(tx); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if !tx.AmountNet.Equal(decimal.NewFromInt(-15)) {
		t.Errorf("AmountNet = %s, want -15", tx.AmountNet)
	}
	if !tx.CommissionFee.Equal(decimal.NewFromInt(15)) {
		t.Errorf("CommissionFee = %s, want 15", tx.CommissionFee)
	}

	// Reapplication keeps the moved fee stable.
	if err := Apply(tx); err != nil {
		t.Fatalf("second Apply() error = %v", err)
	}
	if !tx.AmountNet.Equal(decimal.NewFromInt(-15)) {
		t.Errorf("AmountNet after reapply = %s, want -15", tx.AmountNet)
	}
}

func TestApply_UnknownType(t *testing.T) {
	tx := makeTransaction("SWAP", 10, 100, 0)
	if err := Apply(tx); err == nil {
		t.Error("Apply() expected error for unknown type")
	}
}

func TestExpectedNetSign(t *testing.T) {
	tests := []struct {
		txType models.TransactionType
		want   int
	}{
		{models.TypeBuy, -1},
		{models.TypePremiumPayment, -1},
		{models.TypeFee, -1},
		{models.TypeSell, 1},
		{models.TypeCashDividend, 1},
		{models.TypeInterest, 1},
		{"SWAP", 0},
	}

	for _, tt := range tests {
		t.Run(string(tt.txType), func(t *testing.T) {
			if got := ExpectedNetSign(tt.txType); got != tt.want {
				t.Errorf("ExpectedNetSign(%s) = %d, want %d", tt.txType, got, tt.want)
			}
		})
	}
}

func TestNetQuantity(t *testing.T) {
	buy := makeTransaction(models.TypeBuy, 100, 1000, 1)
	sell := makeTransaction(models.TypeSell, 40, 480, 1)
	dividend := makeTransaction(models.TypeCashDividend, 0, 150, 0)
	for _, tx := range []*models.CanonicalTransaction{buy, sell, dividend} {
		if err := Apply(tx); err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
	}

	net := NetQuantity([]*models.CanonicalTransaction{buy, sell, dividend})
	if !net.Equal(decimal.NewFromInt(60)) {
		t.Errorf("NetQuantity() = %s, want 60", net.String())
	}
}
