package txservice

import (
	"fmt"
	"sort"
	"strings"

	"arthakosh/pkg/models"
)

// AssetRecord is one denormalized row destined for an asset table. Data maps
// column names to values; the service injects user_id and journal_id.
type AssetRecord struct {
	Table      string                `json:"table"`
	Data       map[string]any        `json:"data"`
	OnConflict models.ConflictPolicy `json:"on_conflict"`
}

// naturalKeys lists the unique-index columns per asset table. The upsert
// builder needs them as the ON CONFLICT target; they mirror the schema and
// the parser-specific natural-key rules.
var naturalKeys = map[string][]string{
	"mf_transactions":        {"user_id", "folio", "scheme", "txn_date", "amount", "units", "txn_type"},
	"stock_trades":           {"user_id", "symbol", "trade_date", "trade_type", "quantity", "price"},
	"stock_capital_gains":    {"user_id", "symbol", "sale_date", "quantity", "purchase_date"},
	"rsu_vests":              {"user_id", "symbol", "vest_date", "units"},
	"espp_purchases":         {"user_id", "symbol", "purchase_date", "units"},
	"ppf_transactions":       {"user_id", "account_number", "txn_date", "amount", "txn_type"},
	"epf_transactions":       {"user_id", "account_number", "txn_date", "txn_type", "employee_share", "employer_share"},
	"nps_transactions":       {"user_id", "pran", "txn_date", "txn_type", "amount"},
	"bank_transactions":      {"user_id", "row_hash"},
	"foreign_holdings":       {"user_id", "symbol", "as_of"},
	"golden_holdings":        {"golden_ref_id", "isin", "folio_number"},
	"liability_transactions": {"user_id", "liability_id", "txn_date", "txn_type", "amount"},
}

// BuildUpsertSQL renders the insert for one asset record. Returns the SQL
// with positional placeholders and the argument slice in column order.
// Column order is sorted for deterministic SQL.
func BuildUpsertSQL(rec AssetRecord) (string, []any, error) {
	keyCols, ok := naturalKeys[rec.Table]
	if !ok {
		return "", nil, fmt.Errorf("%w: unknown asset table %q", models.ErrInvalid, rec.Table)
	}
	if len(rec.Data) == 0 {
		return "", nil, fmt.Errorf("%w: empty asset record for %s", models.ErrInvalid, rec.Table)
	}

	cols := make([]string, 0, len(rec.Data))
	for c := range rec.Data {
		cols = append(cols, c)
	}
	sort.Strings(cols)

	keySet := make(map[string]bool, len(keyCols))
	for _, k := range keyCols {
		keySet[k] = true
		if _, present := rec.Data[k]; !present {
			return "", nil, fmt.Errorf("%w: %s record missing natural-key column %q", models.ErrInvalid, rec.Table, k)
		}
	}

	args := make([]any, 0, len(cols))
	placeholders := make([]string, 0, len(cols))
	for i, c := range cols {
		args = append(args, rec.Data[c])
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+1))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES (%s)",
		rec.Table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))

	switch rec.OnConflict {
	case models.ConflictIgnore:
		fmt.Fprintf(&b, " ON CONFLICT (%s) DO NOTHING", strings.Join(keyCols, ", "))
	case models.ConflictReplace:
		var sets []string
		for _, c := range cols {
			if !keySet[c] {
				sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
			}
		}
		if len(sets) == 0 {
			fmt.Fprintf(&b, " ON CONFLICT (%s) DO NOTHING", strings.Join(keyCols, ", "))
		} else {
			fmt.Fprintf(&b, " ON CONFLICT (%s) DO UPDATE SET %s",
				strings.Join(keyCols, ", "), strings.Join(sets, ", "))
		}
	case models.ConflictFail, "":
		// Plain insert; a natural-key hit surfaces as DuplicateKey.
	default:
		return "", nil, fmt.Errorf("%w: conflict policy %q", models.ErrInvalid, rec.OnConflict)
	}

	b.WriteString(" RETURNING id")
	return b.String(), args, nil
}
