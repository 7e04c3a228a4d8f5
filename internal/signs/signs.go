// Package signs enforces the canonical sign convention on transactions.
//
// A static table maps each canonical transaction type to a quantity
// direction and a net-amount formula. Quantities and gross amounts are
// normalized to absolute values before signing, so applying the engine to
// already-signed data is a no-op.
package signs

import (
	"portfolio-consolidation-service/internal/models"
	"portfolio-consolidation-service/pkg/errors"

	"github.com/shopspring/decimal"
)

// Direction is the position effect of a transaction type.
type Direction int

const (
	// QuantityNone marks types with no position concept; quantity is
	// forced to nil.
	QuantityNone Direction = iota
	// QuantityIncrease signs quantity positive.
	QuantityIncrease
	// QuantityDecrease signs quantity negative.
	QuantityDecrease
)

// netRule selects the amount_net formula for a type.
type netRule int

const (
	// netOutflow: amount_net = -(gross + fee). Buy-like types.
	netOutflow netRule = iota
	// netInflow: amount_net = gross - fee. Sell-like and income types.
	netInflow
	// netFeeOnly: amount_net = -fee.
	netFeeOnly
)

// Convention fixes quantity direction and cash-flow formula for one type.
type Convention struct {
	Quantity Direction
	net      netRule
}

// conventions is the canonical sign table.
var conventions = map[models.TransactionType]Convention{
	models.TypeBuy:              {Quantity: QuantityIncrease, net: netOutflow},
	models.TypePremiumPayment:   {Quantity: QuantityNone, net: netOutflow},
	models.TypeDividendReinvest: {Quantity: QuantityIncrease, net: netOutflow},
	models.TypeVestAcquire:      {Quantity: QuantityIncrease, net: netOutflow},
	models.TypeSell:             {Quantity: QuantityDecrease, net: netInflow},
	models.TypeCashDividend:     {Quantity: QuantityNone, net: netInflow},
	models.TypeInterest:         {Quantity: QuantityNone, net: netInflow},
	models.TypeFee:              {Quantity: QuantityNone, net: netFeeOnly},
}

// ConventionFor returns the sign convention of a type.
func ConventionFor(t models.TransactionType) (Convention, bool) {
	c, ok := conventions[t]
	return c, ok
}

// ExpectedNetSign returns the expected sign of amount_net for a type:
// -1 for outflows, +1 for inflows and 0 when the type is unknown.
func ExpectedNetSign(t models.TransactionType) int {
	c, ok := conventions[t]
	if !ok {
		return 0
	}
	switch c.net {
	case netInflow:
		return 1
	default:
		return -1
	}
}

// Apply enforces the canonical signs on a transaction in place. Quantity
// and gross amount are taken as absolute values first, making repeated
// application idempotent. An unrecognized type returns an error so the
// caller excludes the record rather than mis-signing it.
func Apply(tx *models.CanonicalTransaction) error {
	convention, ok := conventions[tx.Type]
	if !ok {
		return errors.SignConventionUnknown(
			tx.AssetID,
			tx.TransactionDate.Format(models.DateFormat),
			tx.RawType,
		)
	}

	gross := tx.AmountGross.Abs()
	fee := tx.CommissionFee.Abs()
	tx.AmountGross = gross
	tx.CommissionFee = fee

	switch convention.net {
	case netOutflow:
		tx.AmountNet = gross.Add(fee).Neg()
	case netInflow:
		tx.AmountNet = gross.Sub(fee)
	case netFeeOnly:
		// Some sources report standalone fees in the amount column.
		if fee.IsZero() && !gross.IsZero() {
			fee = gross
			tx.CommissionFee = fee
			tx.AmountGross = decimal.Zero
		}
		tx.AmountNet = fee.Neg()
	}

	switch convention.Quantity {
	case QuantityNone:
		tx.Quantity = nil
	case QuantityIncrease:
		if tx.Quantity != nil {
			q := tx.Quantity.Abs()
			tx.Quantity = &q
		}
	case QuantityDecrease:
		if tx.Quantity != nil {
			q := tx.Quantity.Abs().Neg()
			tx.Quantity = &q
		}
	}

	return nil
}

// NetQuantity sums the signed quantities of a transaction slice. It is the
// basis for derived holdings and for the zero-position exemption in
// referential validation.
func NetQuantity(txs []*models.CanonicalTransaction) decimal.Decimal {
	total := decimal.Zero
	for _, tx := range txs {
		if tx.Quantity != nil {
			total = total.Add(*tx.Quantity)
		}
	}
	return total
}
