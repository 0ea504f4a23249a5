// Package valuation derives point-in-time and period views over the posted
// data: balance sheet, cash flow, portfolio returns and loan amortization.
package valuation

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"arthakosh/pkg/core/money"
	"arthakosh/pkg/core/store"
	"arthakosh/pkg/models"
)

// AssetHolding is one valued position on the balance sheet.
type AssetHolding struct {
	AssetType models.AssetType `json:"asset_type"`
	Name      string           `json:"name"`
	Units     decimal.Decimal  `json:"units,omitempty"`
	Price     decimal.Decimal  `json:"price,omitempty"`
	Value     decimal.Decimal  `json:"value"`
	Currency  string           `json:"currency,omitempty"`
}

// LoanPosition is one liability line.
type LoanPosition struct {
	LiabilityID int64           `json:"liability_id"`
	Name        string          `json:"name"`
	LoanType    string          `json:"loan_type"`
	Outstanding decimal.Decimal `json:"outstanding"`
}

// BalanceSheet is the full statement at one date.
type BalanceSheet struct {
	UserID           int64           `json:"user_id"`
	AsOf             time.Time       `json:"as_of"`
	Holdings         []AssetHolding  `json:"holdings"`
	Loans            []LoanPosition  `json:"loans"`
	TotalAssets      decimal.Decimal `json:"total_assets"`
	TotalLiabilities decimal.Decimal `json:"total_liabilities"`
	NetWorth         decimal.Decimal `json:"net_worth"`
}

// BalanceSheetService values the user's positions from the asset tables.
type BalanceSheetService struct {
	db  store.DB
	log *logrus.Entry
}

func NewBalanceSheetService(db store.DB) *BalanceSheetService {
	return &BalanceSheetService{db: db, log: logrus.WithField("component", "balancesheet")}
}

// Compute assembles the balance sheet at asOf. Every leg tolerates an empty
// table; a user with only bank statements still gets a statement.
func (s *BalanceSheetService) Compute(ctx context.Context, userID int64, asOf time.Time) (*BalanceSheet, error) {
	bs := &BalanceSheet{UserID: userID, AsOf: asOf}

	steps := []func(context.Context, int64, time.Time, *BalanceSheet) error{
		s.bankBalances,
		s.mfHoldings,
		s.stockHoldings,
		s.passbookBalances,
		s.foreignHoldings,
		s.loans,
	}
	for _, step := range steps {
		if err := step(ctx, userID, asOf, bs); err != nil {
			return nil, err
		}
	}

	for _, h := range bs.Holdings {
		bs.TotalAssets = bs.TotalAssets.Add(h.Value)
	}
	for _, l := range bs.Loans {
		bs.TotalLiabilities = bs.TotalLiabilities.Add(l.Outstanding)
	}
	bs.TotalAssets = money.RoundAmount(bs.TotalAssets)
	bs.TotalLiabilities = money.RoundAmount(bs.TotalLiabilities)
	bs.NetWorth = bs.TotalAssets.Sub(bs.TotalLiabilities)

	s.log.WithFields(logrus.Fields{
		"user": userID, "as_of": asOf.Format("2006-01-02"), "net_worth": bs.NetWorth,
	}).Debug("balance sheet computed")
	return bs, nil
}

// Snapshot persists the statement as JSONB, replacing any snapshot for the
// same date.
func (s *BalanceSheetService) Snapshot(ctx context.Context, bs *BalanceSheet) error {
	payload, err := json.Marshal(bs)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO balance_sheet_snapshots (user_id, as_of, payload)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, as_of) DO UPDATE SET payload = EXCLUDED.payload, created_at = now()`,
		bs.UserID, bs.AsOf, payload)
	return store.WrapError(err)
}

// bankBalances takes the balance_after of the latest row per account; when a
// statement never carried balances it falls back to the sum of movements.
func (s *BalanceSheetService) bankBalances(ctx context.Context, userID int64, asOf time.Time, bs *BalanceSheet) error {
	rows, err := s.db.Query(ctx, `
		SELECT DISTINCT ON (bank, account_number)
		       bank, account_number, balance_after,
		       SUM(amount) OVER (PARTITION BY bank, account_number)
		FROM bank_transactions
		WHERE user_id = $1 AND txn_date <= $2
		ORDER BY bank, account_number, txn_date DESC, id DESC`, userID, asOf)
	if err != nil {
		return store.WrapError(err)
	}
	defer rows.Close()

	for rows.Next() {
		var bank, account string
		var balance *decimal.Decimal
		var movement decimal.Decimal
		if err := rows.Scan(&bank, &account, &balance, &movement); err != nil {
			return store.WrapError(err)
		}
		value := movement
		if balance != nil {
			value = *balance
		}
		name := bank
		if account != "" {
			name = bank + " " + account
		}
		bs.Holdings = append(bs.Holdings, AssetHolding{
			AssetType: models.AssetBank, Name: name, Value: money.RoundAmount(value), Currency: "INR",
		})
	}
	return store.WrapError(rows.Err())
}

// mfHoldings nets signed units per scheme and values them at the latest NAV
// on or before asOf. Sells are stored with negative units.
func (s *BalanceSheetService) mfHoldings(ctx context.Context, userID int64, asOf time.Time, bs *BalanceSheet) error {
	rows, err := s.db.Query(ctx, `
		SELECT t.scheme, t.asset_class, SUM(t.units),
		       (SELECT n.nav FROM mf_transactions n
		        WHERE n.user_id = t.user_id AND n.scheme = t.scheme
		          AND n.nav > 0 AND n.txn_date <= $2
		        ORDER BY n.txn_date DESC, n.id DESC LIMIT 1)
		FROM mf_transactions t
		WHERE t.user_id = $1 AND t.txn_date <= $2
		GROUP BY t.user_id, t.scheme, t.asset_class
		HAVING SUM(t.units) > 0.0001
		ORDER BY t.scheme`, userID, asOf)
	if err != nil {
		return store.WrapError(err)
	}
	defer rows.Close()

	for rows.Next() {
		var scheme, class string
		var units decimal.Decimal
		var nav *decimal.Decimal
		if err := rows.Scan(&scheme, &class, &units, &nav); err != nil {
			return store.WrapError(err)
		}
		price := decimal.Zero
		if nav != nil {
			price = *nav
		}
		assetType := models.AssetMutualFundEquity
		if class == string(models.AssetMutualFundDebt) {
			assetType = models.AssetMutualFundDebt
		}
		bs.Holdings = append(bs.Holdings, AssetHolding{
			AssetType: assetType,
			Name:      scheme,
			Units:     units,
			Price:     price,
			Value:     money.RoundAmount(units.Mul(price)),
			Currency:  "INR",
		})
	}
	return store.WrapError(rows.Err())
}

// stockHoldings nets buys minus sells per symbol at the latest trade price.
func (s *BalanceSheetService) stockHoldings(ctx context.Context, userID int64, asOf time.Time, bs *BalanceSheet) error {
	rows, err := s.db.Query(ctx, `
		SELECT t.symbol,
		       SUM(CASE WHEN t.trade_type = 'BUY' THEN t.quantity ELSE -t.quantity END),
		       (SELECT p.price FROM stock_trades p
		        WHERE p.user_id = t.user_id AND p.symbol = t.symbol
		          AND p.price > 0 AND p.trade_date <= $2
		        ORDER BY p.trade_date DESC, p.id DESC LIMIT 1)
		FROM stock_trades t
		WHERE t.user_id = $1 AND t.trade_date <= $2
		GROUP BY t.user_id, t.symbol
		HAVING SUM(CASE WHEN t.trade_type = 'BUY' THEN t.quantity ELSE -t.quantity END) > 0.0001
		ORDER BY t.symbol`, userID, asOf)
	if err != nil {
		return store.WrapError(err)
	}
	defer rows.Close()

	for rows.Next() {
		var symbol string
		var qty decimal.Decimal
		var price *decimal.Decimal
		if err := rows.Scan(&symbol, &qty, &price); err != nil {
			return store.WrapError(err)
		}
		p := decimal.Zero
		if price != nil {
			p = *price
		}
		bs.Holdings = append(bs.Holdings, AssetHolding{
			AssetType: models.AssetIndianStock,
			Name:      symbol,
			Units:     qty,
			Price:     p,
			Value:     money.RoundAmount(qty.Mul(p)),
			Currency:  "INR",
		})
	}
	return store.WrapError(rows.Err())
}

// passbookBalances reads the latest balance_after per PPF/EPF account and the
// contribution sum for NPS.
func (s *BalanceSheetService) passbookBalances(ctx context.Context, userID int64, asOf time.Time, bs *BalanceSheet) error {
	type passbook struct {
		table     string
		assetType models.AssetType
	}
	for _, pb := range []passbook{
		{"ppf_transactions", models.AssetPPF},
		{"epf_transactions", models.AssetEPF},
	} {
		rows, err := s.db.Query(ctx, `
			SELECT DISTINCT ON (account_number) account_number, balance_after
			FROM `+pb.table+`
			WHERE user_id = $1 AND txn_date <= $2 AND balance_after IS NOT NULL
			ORDER BY account_number, txn_date DESC, id DESC`, userID, asOf)
		if err != nil {
			return store.WrapError(err)
		}
		for rows.Next() {
			var account string
			var balance decimal.Decimal
			if err := rows.Scan(&account, &balance); err != nil {
				rows.Close()
				return store.WrapError(err)
			}
			bs.Holdings = append(bs.Holdings, AssetHolding{
				AssetType: pb.assetType, Name: account, Value: money.RoundAmount(balance), Currency: "INR",
			})
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return store.WrapError(err)
		}
	}

	var pran *string
	var npsValue decimal.Decimal
	err := s.db.QueryRow(ctx, `
		SELECT MIN(pran), COALESCE(SUM(units * nav), 0)
		FROM nps_transactions
		WHERE user_id = $1 AND txn_date <= $2`, userID, asOf).Scan(&pran, &npsValue)
	if err != nil {
		return store.WrapError(err)
	}
	if pran != nil && npsValue.IsPositive() {
		bs.Holdings = append(bs.Holdings, AssetHolding{
			AssetType: models.AssetNPS, Name: *pran, Value: money.RoundAmount(npsValue), Currency: "INR",
		})
	}
	return nil
}

// foreignHoldings converts the latest per-symbol snapshot through the latest
// exchange rate on or before asOf.
func (s *BalanceSheetService) foreignHoldings(ctx context.Context, userID int64, asOf time.Time, bs *BalanceSheet) error {
	rows, err := s.db.Query(ctx, `
		SELECT DISTINCT ON (h.symbol) h.symbol, h.units, h.cost_basis, h.currency,
		       COALESCE((SELECT x.rate_inr FROM exchange_rates x
		                 WHERE x.currency = h.currency AND x.rate_date <= $2
		                 ORDER BY x.rate_date DESC LIMIT 1), 1)
		FROM foreign_holdings h
		WHERE h.user_id = $1 AND h.as_of <= $2
		ORDER BY h.symbol, h.as_of DESC`, userID, asOf)
	if err != nil {
		return store.WrapError(err)
	}
	defer rows.Close()

	for rows.Next() {
		var symbol, currency string
		var units, cost, rate decimal.Decimal
		if err := rows.Scan(&symbol, &units, &cost, &currency, &rate); err != nil {
			return store.WrapError(err)
		}
		if !units.IsPositive() {
			continue
		}
		bs.Holdings = append(bs.Holdings, AssetHolding{
			AssetType: models.AssetForeignStock,
			Name:      symbol,
			Units:     units,
			Value:     money.RoundAmount(cost.Mul(rate)),
			Currency:  currency,
		})
	}
	return store.WrapError(rows.Err())
}

// loans prefers the latest outstanding_after over the contracted principal.
func (s *BalanceSheetService) loans(ctx context.Context, userID int64, asOf time.Time, bs *BalanceSheet) error {
	rows, err := s.db.Query(ctx, `
		SELECT l.id, l.name, l.loan_type,
		       COALESCE((SELECT t.outstanding_after FROM liability_transactions t
		                 WHERE t.liability_id = l.id AND t.txn_date <= $2
		                 ORDER BY t.txn_date DESC, t.id DESC LIMIT 1), l.principal)
		FROM liabilities l
		WHERE l.user_id = $1 AND l.started_on <= $2
		ORDER BY l.name`, userID, asOf)
	if err != nil {
		return store.WrapError(err)
	}
	defer rows.Close()

	for rows.Next() {
		var lp LoanPosition
		if err := rows.Scan(&lp.LiabilityID, &lp.Name, &lp.LoanType, &lp.Outstanding); err != nil {
			return store.WrapError(err)
		}
		if lp.Outstanding.IsPositive() {
			bs.Loans = append(bs.Loans, lp)
		}
	}
	return store.WrapError(rows.Err())
}
