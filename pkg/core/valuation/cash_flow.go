package valuation

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"arthakosh/pkg/core/money"
	"arthakosh/pkg/core/store"
	"arthakosh/pkg/models"
)

// Cash-flow activities.
const (
	ActivityOperating = "Operating"
	ActivityInvesting = "Investing"
	ActivityFinancing = "Financing"
)

// FlowRule maps a description keyword to an activity bucket.
type FlowRule struct {
	Keyword   string `json:"keyword"`
	Activity  string `json:"activity"`
	Direction string `json:"direction"` // inflow / outflow
	Category  string `json:"category"`
}

// CategoryFlow is the aggregate for one (activity, category).
type CategoryFlow struct {
	Activity string          `json:"activity"`
	Category string          `json:"category"`
	Inflow   decimal.Decimal `json:"inflow"`
	Outflow  decimal.Decimal `json:"outflow"`
	Net      decimal.Decimal `json:"net"`
}

// CashFlowStatement is one FY's classified flows.
type CashFlowStatement struct {
	UserID        int64           `json:"user_id"`
	FinancialYear string          `json:"financial_year"`
	Categories    []CategoryFlow  `json:"categories"`
	NetOperating  decimal.Decimal `json:"net_operating"`
	NetInvesting  decimal.Decimal `json:"net_investing"`
	NetFinancing  decimal.Decimal `json:"net_financing"`
	OpeningCash   decimal.Decimal `json:"opening_cash"`
	ClosingCash   decimal.Decimal `json:"closing_cash"`
	Unclassified  int             `json:"unclassified"`
}

// CashFlowService classifies bank movements by the cash_flow_rules table.
type CashFlowService struct {
	db      store.DB
	balance *BalanceSheetService
	log     *logrus.Entry
}

func NewCashFlowService(db store.DB, balance *BalanceSheetService) *CashFlowService {
	return &CashFlowService{db: db, balance: balance, log: logrus.WithField("component", "cashflow")}
}

// DefaultFlowRules is the seeded keyword table. First match wins; anything
// unmatched lands in Operating/Other.
var DefaultFlowRules = []FlowRule{
	{"salary", ActivityOperating, "inflow", "Salary"},
	{"dividend", ActivityOperating, "inflow", "Dividends"},
	{"interest", ActivityOperating, "inflow", "Interest"},
	{"rent", ActivityOperating, "outflow", "Rent"},
	{"grocery", ActivityOperating, "outflow", "Household"},
	{"electricity", ActivityOperating, "outflow", "Utilities"},
	{"insurance", ActivityOperating, "outflow", "Insurance"},
	{"tds", ActivityOperating, "outflow", "Taxes"},
	{"advance tax", ActivityOperating, "outflow", "Taxes"},
	{"mutual fund", ActivityInvesting, "outflow", "Mutual Funds"},
	{"sip", ActivityInvesting, "outflow", "Mutual Funds"},
	{"zerodha", ActivityInvesting, "outflow", "Stocks"},
	{"ppf", ActivityInvesting, "outflow", "PPF"},
	{"nps", ActivityInvesting, "outflow", "NPS"},
	{"redemption", ActivityInvesting, "inflow", "Mutual Funds"},
	{"emi", ActivityFinancing, "outflow", "Loan EMI"},
	{"loan disbursal", ActivityFinancing, "inflow", "Loan Drawdown"},
	{"prepayment", ActivityFinancing, "outflow", "Loan Prepayment"},
}

// SeedFlowRules installs the default keyword table, keeping any existing
// customized rows.
func SeedFlowRules(ctx context.Context, db store.DB) error {
	for _, r := range DefaultFlowRules {
		if _, err := db.Exec(ctx, `
			INSERT INTO cash_flow_rules (keyword, activity, direction, category)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (keyword) DO NOTHING`,
			r.Keyword, r.Activity, r.Direction, r.Category); err != nil {
			return store.WrapError(err)
		}
	}
	return nil
}

func (s *CashFlowService) rules(ctx context.Context) ([]FlowRule, error) {
	rows, err := s.db.Query(ctx, `
		SELECT keyword, activity, direction, category FROM cash_flow_rules
		ORDER BY length(keyword) DESC, keyword`)
	if err != nil {
		return nil, store.WrapError(err)
	}
	defer rows.Close()

	var out []FlowRule
	for rows.Next() {
		var r FlowRule
		if err := rows.Scan(&r.Keyword, &r.Activity, &r.Direction, &r.Category); err != nil {
			return nil, store.WrapError(err)
		}
		out = append(out, r)
	}
	return out, store.WrapError(rows.Err())
}

// Classify matches a description against the rule set, longest keyword
// first. The sign of the amount decides inflow vs. outflow regardless of the
// rule's nominal direction.
func Classify(rules []FlowRule, description string) (FlowRule, bool) {
	desc := strings.ToLower(description)
	for _, r := range rules {
		if strings.Contains(desc, strings.ToLower(r.Keyword)) {
			return r, true
		}
	}
	return FlowRule{}, false
}

// Compute builds the statement for a financial year from bank movements.
func (s *CashFlowService) Compute(ctx context.Context, userID int64, fy string) (*CashFlowStatement, error) {
	window, err := money.ParseFY(fy)
	if err != nil {
		return nil, err
	}
	rules, err := s.rules(ctx)
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		rules = DefaultFlowRules
	}

	stmt := &CashFlowStatement{UserID: userID, FinancialYear: fy}
	buckets := make(map[[2]string]*CategoryFlow)
	var order [][2]string

	rows, err := s.db.Query(ctx, `
		SELECT raw_description, amount FROM bank_transactions
		WHERE user_id = $1 AND txn_date BETWEEN $2 AND $3
		ORDER BY txn_date, id`, userID, window.Start(), window.End())
	if err != nil {
		return nil, store.WrapError(err)
	}
	defer rows.Close()

	for rows.Next() {
		var desc string
		var amount decimal.Decimal
		if err := rows.Scan(&desc, &amount); err != nil {
			return nil, store.WrapError(err)
		}

		rule, ok := Classify(rules, desc)
		if !ok {
			rule = FlowRule{Activity: ActivityOperating, Category: "Other"}
			stmt.Unclassified++
		}

		key := [2]string{rule.Activity, rule.Category}
		flow, seen := buckets[key]
		if !seen {
			flow = &CategoryFlow{Activity: rule.Activity, Category: rule.Category}
			buckets[key] = flow
			order = append(order, key)
		}
		if amount.IsPositive() {
			flow.Inflow = flow.Inflow.Add(amount)
		} else {
			flow.Outflow = flow.Outflow.Add(amount.Neg())
		}
		flow.Net = flow.Inflow.Sub(flow.Outflow)
	}
	if err := rows.Err(); err != nil {
		return nil, store.WrapError(err)
	}

	for _, key := range order {
		flow := buckets[key]
		flow.Inflow = money.RoundAmount(flow.Inflow)
		flow.Outflow = money.RoundAmount(flow.Outflow)
		flow.Net = money.RoundAmount(flow.Net)
		stmt.Categories = append(stmt.Categories, *flow)
		switch flow.Activity {
		case ActivityInvesting:
			stmt.NetInvesting = stmt.NetInvesting.Add(flow.Net)
		case ActivityFinancing:
			stmt.NetFinancing = stmt.NetFinancing.Add(flow.Net)
		default:
			stmt.NetOperating = stmt.NetOperating.Add(flow.Net)
		}
	}

	if s.balance != nil {
		opening, err := s.cashAt(ctx, userID, window.Start().AddDate(0, 0, -1))
		if err != nil {
			return nil, err
		}
		closing, err := s.cashAt(ctx, userID, window.End())
		if err != nil {
			return nil, err
		}
		stmt.OpeningCash = opening
		stmt.ClosingCash = closing
	}

	s.log.WithFields(logrus.Fields{"user": userID, "fy": fy, "unclassified": stmt.Unclassified}).
		Debug("cash flow computed")
	return stmt, nil
}

func (s *CashFlowService) cashAt(ctx context.Context, userID int64, asOf time.Time) (decimal.Decimal, error) {
	bs, err := s.balance.Compute(ctx, userID, asOf)
	if err != nil {
		return decimal.Zero, err
	}
	cash := decimal.Zero
	for _, h := range bs.Holdings {
		if h.AssetType == models.AssetBank {
			cash = cash.Add(h.Value)
		}
	}
	return cash, nil
}
