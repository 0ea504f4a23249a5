package reports

import (
	"context"
	"encoding/csv"
	"io"
	"time"

	"github.com/shopspring/decimal"

	"arthakosh/pkg/core/money"
	"arthakosh/pkg/core/store"
)

// CapitalGainRow is one redemption line of the ITR working sheet.
type CapitalGainRow struct {
	FinancialYear string
	Scheme        string
	Folio         string
	Date          string
	Units         decimal.Decimal
	Amount        decimal.Decimal
	LTCG          decimal.Decimal
	LTCGTaxable   decimal.Decimal
	STCG          decimal.Decimal
}

var capitalGainsHeader = []string{
	"Financial Year", "Scheme", "Folio", "Date", "Units", "Amount", "LTCG", "LTCG_Taxable", "STCG",
}

// CapitalGainRows collects MF redemptions and stock sales for one FY.
func CapitalGainRows(ctx context.Context, db store.DB, userID int64, fy string) ([]CapitalGainRow, error) {
	window, err := money.ParseFY(fy)
	if err != nil {
		return nil, err
	}

	var out []CapitalGainRow

	rows, err := db.Query(ctx, `
		SELECT scheme, folio, txn_date, units, amount,
		       COALESCE(broker_ltcg, 0), COALESCE(broker_stcg, 0), COALESCE(grandfathered_nav, 0)
		FROM mf_transactions
		WHERE user_id = $1 AND txn_type = 'SELL' AND txn_date BETWEEN $2 AND $3
		ORDER BY txn_date, id`, userID, window.Start(), window.End())
	if err != nil {
		return nil, store.WrapError(err)
	}
	defer rows.Close()

	for rows.Next() {
		var r CapitalGainRow
		var txnDate time.Time
		var gfNAV decimal.Decimal
		if err := rows.Scan(&r.Scheme, &r.Folio, &txnDate, &r.Units, &r.Amount,
			&r.LTCG, &r.STCG, &gfNAV); err != nil {
			return nil, store.WrapError(err)
		}
		r.FinancialYear = fy
		r.Date = txnDate.Format("2006-01-02")
		r.Units = r.Units.Abs()
		r.Amount = r.Amount.Abs()
		r.LTCGTaxable = r.LTCG
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, store.WrapError(err)
	}

	stockRows, err := db.Query(ctx, `
		SELECT symbol, sale_date, quantity, sell_value,
		       CASE WHEN term = 'long' THEN profit ELSE 0 END,
		       CASE WHEN term = 'short' THEN profit ELSE 0 END
		FROM stock_capital_gains
		WHERE user_id = $1 AND sale_date BETWEEN $2 AND $3
		ORDER BY sale_date, id`, userID, window.Start(), window.End())
	if err != nil {
		return nil, store.WrapError(err)
	}
	defer stockRows.Close()

	for stockRows.Next() {
		var r CapitalGainRow
		var saleDate time.Time
		if err := stockRows.Scan(&r.Scheme, &saleDate, &r.Units, &r.Amount, &r.LTCG, &r.STCG); err != nil {
			return nil, store.WrapError(err)
		}
		r.FinancialYear = fy
		r.Date = saleDate.Format("2006-01-02")
		r.LTCGTaxable = r.LTCG
		out = append(out, r)
	}
	return out, store.WrapError(stockRows.Err())
}

// WriteCapitalGainsCSV streams the rows in the fixed column order.
func WriteCapitalGainsCSV(w io.Writer, rows []CapitalGainRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(capitalGainsHeader); err != nil {
		return err
	}
	for _, r := range rows {
		record := []string{
			r.FinancialYear, r.Scheme, r.Folio, r.Date,
			r.Units.String(), r.Amount.String(),
			r.LTCG.String(), r.LTCGTaxable.String(), r.STCG.String(),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
