package workflow

import (
	"github.com/shopspring/decimal"

	"bitbucket.org/mmdatafocus/ledger_backend/config"
	"bitbucket.org/mmdatafocus/ledger_backend/models"
)

var (
	decimalOneHundred = decimal.NewFromInt(100)
	decimalTwoHundred = decimal.NewFromInt(200)
)

// TaxBreakup is the GST split for one taxable amount. Either the Cgst/Sgst
// pair or Igst is populated, never both; Cess rides on top in both
// jurisdictions.
type TaxBreakup struct {
	Cgst decimal.Decimal
	Sgst decimal.Decimal
	Igst decimal.Decimal
	Cess decimal.Decimal
}

func (t TaxBreakup) Total() decimal.Decimal {
	return t.Cgst.Add(t.Sgst).Add(t.Igst).Add(t.Cess)
}

func (t TaxBreakup) Add(other TaxBreakup) TaxBreakup {
	return TaxBreakup{
		Cgst: t.Cgst.Add(other.Cgst),
		Sgst: t.Sgst.Add(other.Sgst),
		Igst: t.Igst.Add(other.Igst),
		Cess: t.Cess.Add(other.Cess),
	}
}

func (t TaxBreakup) IsZero() bool {
	return t.Cgst.IsZero() && t.Sgst.IsZero() && t.Igst.IsZero() && t.Cess.IsZero()
}

// ComputeTax splits GST on a taxable base by jurisdiction. An intra-state
// supply (supplier state == place of supply) halves the rate into CGST and
// SGST, each rounded to two decimals on its own; an inter-state supply posts
// the full rate as IGST. Cess applies on the base in both cases and is never
// split. Rates are percentages (18 means 18%).
func ComputeTax(basicAmount, totalRate, cessRate decimal.Decimal, supplierStateCode, placeOfSupplyCode string) TaxBreakup {
	var breakup TaxBreakup
	if supplierStateCode == placeOfSupplyCode {
		half := basicAmount.Mul(totalRate).DivRound(decimalTwoHundred, 4).Round(2)
		breakup.Cgst = half
		breakup.Sgst = half
	} else {
		breakup.Igst = basicAmount.Mul(totalRate).DivRound(decimalOneHundred, 4).Round(2)
	}
	if !cessRate.IsZero() {
		breakup.Cess = basicAmount.Mul(cessRate).DivRound(decimalOneHundred, 4).Round(2)
	}
	return breakup
}

// ComputeRoundOff rounds a gross amount per policy and returns the rounded
// total together with the signed delta (total - gross). A positive delta
// means the agreed total exceeds the gross, so the round-off entry credits
// the rounding ledger; a negative delta debits it.
func ComputeRoundOff(gross decimal.Decimal, policy models.RoundingPolicy) (roundOff, total decimal.Decimal) {
	switch policy {
	case models.RoundingPolicyNearestTwoDecimal:
		total = gross.Round(2)
	default:
		total = gross.Round(0)
	}
	return total.Sub(gross), total
}

// roundingTolerance is the largest imbalance the round-off entry may absorb
// under a policy. Anything larger is a caller mistake, not rounding.
func roundingTolerance(policy models.RoundingPolicy) decimal.Decimal {
	if policy == models.RoundingPolicyNearestTwoDecimal {
		return decimal.NewFromFloat(0.005)
	}
	return decimal.NewFromFloat(0.5)
}

// CurrentRoundingPolicy maps the env-level policy name onto the model enum.
// config cannot import models, so the translation lives here.
func CurrentRoundingPolicy() models.RoundingPolicy {
	if config.VoucherRoundingPolicy() == config.RoundingPolicyNearestPaisa {
		return models.RoundingPolicyNearestTwoDecimal
	}
	return models.RoundingPolicyNearestUnit
}
