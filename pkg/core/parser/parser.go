// Package parser turns heterogeneous financial statements into neutral
// records. Parsers are pure with respect to the store: they read files
// through injected tabular/PDF readers and emit ParseResult values that the
// batch ingester hands to the transaction service.
package parser

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"arthakosh/pkg/models"
)

// Transaction is one neutral parsed transaction row.
type Transaction struct {
	AssetType     models.AssetType `json:"asset_type"`
	TxnType       models.TxnType   `json:"txn_type"`
	Date          time.Time        `json:"date"`
	Scheme        string           `json:"scheme,omitempty"`
	Folio         string           `json:"folio,omitempty"`
	Symbol        string           `json:"symbol,omitempty"`
	ISIN          string           `json:"isin,omitempty"`
	Description   string           `json:"description,omitempty"`
	Units         decimal.Decimal  `json:"units"`
	Amount        decimal.Decimal  `json:"amount"`
	Price         decimal.Decimal  `json:"price"` // NAV for MF rows
	STT           decimal.Decimal  `json:"stt"`
	Segment       string           `json:"segment,omitempty"` // delivery / intraday / fno
	Currency      string           `json:"currency,omitempty"`
	Bank          string           `json:"bank,omitempty"`
	AccountNumber string           `json:"account_number,omitempty"`
	BalanceAfter  *decimal.Decimal `json:"balance_after,omitempty"`

	// Broker-supplied cross-check fields; informational only, FIFO is the
	// single truth for cost basis.
	PurchaseDate     *time.Time       `json:"purchase_date,omitempty"`
	BrokerCost       *decimal.Decimal `json:"broker_cost,omitempty"`
	BrokerSTCG       *decimal.Decimal `json:"broker_stcg,omitempty"`
	BrokerLTCG       *decimal.Decimal `json:"broker_ltcg,omitempty"`
	GrandfatheredNAV *decimal.Decimal `json:"grandfathered_nav,omitempty"`

	RowIdx int `json:"row_idx"`
}

// Holding is one neutral statement holding (golden statements).
type Holding struct {
	AssetType   models.AssetType `json:"asset_type"`
	ISIN        string           `json:"isin,omitempty"`
	Folio       string           `json:"folio,omitempty"`
	Symbol      string           `json:"symbol,omitempty"`
	Name        string           `json:"name"`
	Units       decimal.Decimal  `json:"units"`
	MarketValue decimal.Decimal  `json:"market_value"`
	NAV         decimal.Decimal  `json:"nav"`
}

// Event is a non-transactional fact worth keeping (e.g. dividend credits
// reported on a broker P&L).
type Event struct {
	Kind        string          `json:"kind"`
	Date        time.Time       `json:"date"`
	Symbol      string          `json:"symbol,omitempty"`
	Description string          `json:"description,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	RowIdx      int             `json:"row_idx"`
}

// ParseResult is the neutral output of one file. Per-row problems go to
// Warnings and the file continues; Errors fail the file.
type ParseResult struct {
	Success       bool          `json:"success"`
	SourceFile    string        `json:"source_file"`
	Parser        models.Source `json:"parser"`
	Errors        []string      `json:"errors,omitempty"`
	Warnings      []string      `json:"warnings,omitempty"`
	Transactions  []Transaction `json:"transactions,omitempty"`
	Holdings      []Holding     `json:"holdings,omitempty"`
	Events        []Event       `json:"events,omitempty"`
	StatementDate *time.Time    `json:"statement_date,omitempty"`
}

func (r *ParseResult) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

func (r *ParseResult) failf(format string, args ...any) {
	r.Success = false
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// Parser is the single interface all format parsers implement.
type Parser interface {
	Source() models.Source
	// Detect reports whether this parser recognises the file. Cheap checks
	// only: sheet names, header fingerprints, first page markers.
	Detect(ctx context.Context, file string) bool
	Parse(ctx context.Context, file string, password string) (*ParseResult, error)
}

// Registry maps file extensions to candidate parsers. Dispatch walks the
// candidates in registration order and returns the first that detects the
// file, so format fingerprints beat extension ambiguity.
type Registry struct {
	byExt map[string][]Parser
}

func NewRegistry() *Registry {
	return &Registry{byExt: make(map[string][]Parser)}
}

// Register binds a parser to one or more extensions (with leading dot).
func (r *Registry) Register(p Parser, exts ...string) {
	for _, ext := range exts {
		ext = strings.ToLower(ext)
		r.byExt[ext] = append(r.byExt[ext], p)
	}
}

// Dispatch picks the parser for a file, or ErrParse when none matches.
func (r *Registry) Dispatch(ctx context.Context, file string) (Parser, error) {
	ext := strings.ToLower(filepath.Ext(file))
	candidates := r.byExt[ext]
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: no parser registered for %q", models.ErrParse, ext)
	}
	for _, p := range candidates {
		if p.Detect(ctx, file) {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: no parser recognises %s", models.ErrParse, filepath.Base(file))
}

// DefaultRegistry wires the standard parser set against a reader chain and
// PDF opener.
func DefaultRegistry(open OpenTabularFunc, pdf PdfOpener) *Registry {
	r := NewRegistry()
	r.Register(NewCAMSParser(open), ".xlsx", ".xls")
	r.Register(NewKarvyParser(open), ".xlsx", ".xls")
	r.Register(NewZerodhaParser(open), ".xlsx")
	r.Register(NewBankParser(open, nil), ".xlsx", ".xls", ".csv")
	r.Register(NewICICIParser(open), ".csv")
	r.Register(NewPPFParser(open), ".csv", ".xlsx")
	r.Register(NewNSDLCASParser(pdf), ".pdf")
	return r
}

// ClassifyByUnitsAndDesc derives a transaction type from the unit sign and
// description keywords: positive units buy, negative sell, zero tax/misc.
func ClassifyByUnitsAndDesc(units decimal.Decimal, desc string) models.TxnType {
	lower := strings.ToLower(desc)
	switch {
	case strings.Contains(lower, "dividend") && strings.Contains(lower, "reinvest"):
		return models.TxnDividendReinvest
	case strings.Contains(lower, "dividend"):
		if units.IsPositive() {
			return models.TxnDividendReinvest
		}
		return models.TxnDividend
	case strings.Contains(lower, "stt") || strings.Contains(lower, "stamp") || strings.Contains(lower, "tax"):
		if units.IsZero() {
			return models.TxnTax
		}
	}
	switch {
	case units.IsPositive():
		return models.TxnBuy
	case units.IsNegative():
		return models.TxnSell
	default:
		return models.TxnMisc
	}
}
