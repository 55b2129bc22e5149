package models

import "github.com/shopspring/decimal"

var (
	rateFull    = decimal.NewFromFloat(0.50)
	rateRenewal = decimal.NewFromFloat(0.25)
	hundred     = decimal.NewFromInt(100)
)

// AgentRate returns the agent's share of agency revenue for a transaction type.
// Endorsements and policy changes earn the new-business rate only when they
// take effect on the policy's origination date.
func AgentRate(txType TransactionType, originationDate, effectiveDate string) decimal.Decimal {
	switch ParseTransactionType(string(txType)) {
	case TypeNew, TypeNewBusiness, TypeStandalone, TypeBrokerOfRecord:
		return rateFull
	case TypeEndorsement, TypePolicyChange:
		if originationDate != "" && originationDate == effectiveDate {
			return rateFull
		}
		return rateRenewal
	case TypeRenewal, TypeRewrite:
		return rateRenewal
	case TypeCancel, TypeCancelRewrite:
		return decimal.Zero
	default:
		return rateRenewal
	}
}

// AgencyRevenue returns the agency's estimated commission, falling back to
// premium times the gross commission percentage when none was recorded.
func (t *Transaction) AgencyRevenue() decimal.Decimal {
	if !t.AgencyEstimatedCommission.IsZero() {
		return t.AgencyEstimatedCommission
	}
	return t.PremiumSold.Mul(t.CommissionPercent).Div(hundred).Round(2)
}

// CommissionOwed is the agent commission expected for an original
// transaction. A recorded estimate wins over the derived figure. Audit
// entries owe nothing.
func (t *Transaction) CommissionOwed() decimal.Decimal {
	if !t.IsOriginal() {
		return decimal.Zero
	}
	if !t.AgentEstimatedCommission.IsZero() {
		return t.AgentEstimatedCommission
	}
	rate := AgentRate(t.TransactionType, FormatDate(t.OriginationDate), FormatDate(t.EffectiveDate))
	return t.AgencyRevenue().Mul(rate).Round(2)
}
