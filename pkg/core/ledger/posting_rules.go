package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"arthakosh/pkg/models"
)

// EventKind names a business event with a posting rule.
type EventKind string

const (
	EventBuy              EventKind = "buy"       // stock buy / MF purchase
	EventSell             EventKind = "sell"      // stock sell / MF redemption
	EventDividend         EventKind = "dividend"
	EventBankInterest     EventKind = "bank_interest"
	EventPassbookInterest EventKind = "passbook_interest" // PPF/EPF/NPS credit
	EventContribution     EventKind = "contribution"      // PPF/EPF/NPS deposit
	EventSalary           EventKind = "salary"
	EventRSUVest          EventKind = "rsu_vest"
	EventBankCharge       EventKind = "bank_charge"
	EventLoanEMI          EventKind = "loan_emi"
	EventOpeningBalance   EventKind = "opening_balance"
)

// LegRole names one amount slot inside an event.
type LegRole string

const (
	RoleBank      LegRole = "bank"      // cash moved
	RoleAsset     LegRole = "asset"     // asset cost/value
	RoleGainShort LegRole = "stcg"      // realised short-term gain (negative = loss)
	RoleGainLong  LegRole = "ltcg"      // realised long-term gain (negative = loss)
	RoleTDS       LegRole = "tds"       // tax deducted at source
	RoleIncome    LegRole = "income"    // gross income credited
	RoleExpense   LegRole = "expense"   // charge amount
	RoleInterest  LegRole = "interest"  // EMI interest portion
	RolePrincipal LegRole = "principal" // EMI principal portion
)

type legSide int

const (
	sideDebit legSide = iota
	sideCredit
)

// legSpec binds a role to a side and an account. An empty account means the
// event's asset account (resolved from the asset type); dynamic income
// accounts use the incomeAccount field on the event.
type legSpec struct {
	role    LegRole
	side    legSide
	account string
}

// postingRules is the single translation table from business events to
// debits and credits. Zero amounts drop the leg; negative amounts flip the
// side (a loss on the gain account becomes a debit).
var postingRules = map[EventKind][]legSpec{
	EventBuy: {
		{RoleAsset, sideDebit, ""},
		{RoleBank, sideCredit, AcctBankSavings},
	},
	EventSell: {
		{RoleBank, sideDebit, AcctBankSavings},
		{RoleAsset, sideCredit, ""},
		{RoleGainShort, sideCredit, AcctSTCG},
		{RoleGainLong, sideCredit, AcctLTCG},
	},
	EventDividend: {
		{RoleBank, sideDebit, AcctBankSavings},
		{RoleTDS, sideDebit, AcctTDSReceivable},
		{RoleIncome, sideCredit, AcctDividendIncome},
	},
	EventBankInterest: {
		{RoleBank, sideDebit, AcctBankSavings},
		{RoleTDS, sideDebit, AcctTDSReceivable},
		{RoleIncome, sideCredit, AcctInterestIncome},
	},
	EventPassbookInterest: {
		{RoleAsset, sideDebit, ""},
		{RoleIncome, sideCredit, AcctInterestIncome},
	},
	EventContribution: {
		{RoleAsset, sideDebit, ""},
		{RoleBank, sideCredit, AcctBankSavings},
	},
	EventSalary: {
		{RoleBank, sideDebit, AcctBankSavings},
		{RoleTDS, sideDebit, AcctTDSReceivable},
		{RoleIncome, sideCredit, AcctSalaryIncome},
	},
	EventRSUVest: {
		{RoleAsset, sideDebit, ""},
		{RoleIncome, sideCredit, AcctSalaryIncome},
	},
	EventBankCharge: {
		{RoleExpense, sideDebit, AcctBankCharges},
		{RoleBank, sideCredit, AcctBankSavings},
	},
	EventLoanEMI: {
		{RoleInterest, sideDebit, AcctInterestExpense},
		{RolePrincipal, sideDebit, AcctLoansPayable},
		{RoleBank, sideCredit, AcctBankSavings},
	},
	EventOpeningBalance: {
		{RoleAsset, sideDebit, ""},
		{RoleIncome, sideCredit, AcctOpeningEquity},
	},
}

// Event is the input to the posting-rule builder.
type Event struct {
	Kind      EventKind
	AssetType models.AssetType // resolves the dynamic asset leg
	Amounts   map[LegRole]decimal.Decimal
	Narration string
}

// BuildEntries translates an event into journal entries using the posting
// rules. This is the only place business events become debits and credits.
func BuildEntries(ctx context.Context, ev Event, resolver AccountResolver) ([]models.JournalEntry, error) {
	specs, ok := postingRules[ev.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: no posting rule for event %q", models.ErrInvalid, ev.Kind)
	}

	var entries []models.JournalEntry
	for _, spec := range specs {
		amount, ok := ev.Amounts[spec.role]
		if !ok || amount.IsZero() {
			continue
		}

		side := spec.side
		if amount.IsNegative() {
			amount = amount.Neg()
			if side == sideDebit {
				side = sideCredit
			} else {
				side = sideDebit
			}
		}

		code := spec.account
		if code == "" {
			code = AssetAccountCode(ev.AssetType)
		}
		accountID, err := resolver.Resolve(ctx, code)
		if err != nil {
			return nil, err
		}

		entry := models.JournalEntry{
			AccountID: accountID,
			Debit:     decimal.Zero,
			Credit:    decimal.Zero,
			Narration: ev.Narration,
		}
		if side == sideDebit {
			entry.Debit = amount
		} else {
			entry.Credit = amount
		}
		entries = append(entries, entry)
	}

	if err := ValidateEntries(entries); err != nil {
		return nil, err
	}
	return entries, nil
}
