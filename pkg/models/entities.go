// Package models defines the persisted entities and shared enums of the
// ledger. Entities carry no behavior beyond trivial derivations; all
// arithmetic lives in the services.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// User is the identity envelope. Every row in every table carries UserID.
// Users are soft-deleted, never destroyed.
type User struct {
	ID        int64      `json:"id"`
	Name      string     `json:"name"`
	Email     string     `json:"email"`
	CreatedAt time.Time  `json:"created_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// Account is a node in the chart of accounts. Immutable after seeding.
type Account struct {
	ID       int64  `json:"id"`
	Code     string `json:"code"` // e.g. "1101" bank savings, "4302" LTCG
	Name     string `json:"name"`
	Type     string `json:"type"` // ASSET, LIABILITY, EQUITY, INCOME, EXPENSE
	ParentID *int64 `json:"parent_id,omitempty"`
}

// Journal is one business transaction; parent of its JournalEntry legs.
type Journal struct {
	ID             int64     `json:"id"`
	UserID         int64     `json:"user_id"`
	TxnDate        time.Time `json:"txn_date"`
	Description    string    `json:"description"`
	Source         Source    `json:"source"`
	IdempotencyKey string    `json:"idempotency_key"`
	ReferenceType  string    `json:"reference_type"`
	CreatedAt      time.Time `json:"created_at"`
}

// JournalEntry is a single debit or credit leg. Exactly one of Debit/Credit
// is positive; the other is zero.
type JournalEntry struct {
	ID        int64           `json:"id"`
	JournalID int64           `json:"journal_id"`
	AccountID int64           `json:"account_id"`
	Debit     decimal.Decimal `json:"debit"`
	Credit    decimal.Decimal `json:"credit"`
	Narration string          `json:"narration"`
}

// Lot is a cost-basis purchase lot. Only UnitsRemaining mutates, on sells.
type Lot struct {
	ID              int64           `json:"id"`
	UserID          int64           `json:"user_id"`
	AssetType       AssetType       `json:"asset_type"`
	Symbol          string          `json:"symbol"`
	AcquisitionDate time.Time       `json:"acquisition_date"`
	UnitsAcquired   decimal.Decimal `json:"units_acquired"`
	UnitsRemaining  decimal.Decimal `json:"units_remaining"`
	CostPerUnit     decimal.Decimal `json:"cost_per_unit"`
	TotalCost       decimal.Decimal `json:"total_cost"`
	Currency        string          `json:"currency"`
	Reference       string          `json:"reference"`
}

// ProcessedFile records a successful ingestion for skip-on-replay.
type ProcessedFile struct {
	ID           int64      `json:"id"`
	UserID       int64      `json:"user_id"`
	BatchID      string     `json:"batch_id"`
	FileHash     string     `json:"file_hash"`
	FileName     string     `json:"file_name"`
	Parser       Source     `json:"parser"`
	RecordsCount int        `json:"records_count"`
	Status       FileStatus `json:"status"`
	ProcessedAt  time.Time  `json:"processed_at"`
}

// BatchRun summarises one multi-file ingestion.
type BatchRun struct {
	ID           int64       `json:"id"`
	BatchID      string      `json:"batch_id"`
	UserID       int64       `json:"user_id"`
	FilesCount   int         `json:"files_count"`
	RecordsCount int         `json:"records_count"`
	Status       BatchStatus `json:"status"`
	ErrorMessage string      `json:"error_message,omitempty"`
	StartedAt    time.Time   `json:"started_at"`
	CompletedAt  *time.Time  `json:"completed_at,omitempty"`
}

// AuditLog is the append-only mutation trail. One entry per row mutation,
// written inside the same transaction as the mutation itself.
type AuditLog struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	TableName string    `json:"table_name"`
	RecordID  string    `json:"record_id"`
	Action    string    `json:"action"` // INSERT, UPDATE, DELETE
	OldValues string    `json:"old_values,omitempty"`
	NewValues string    `json:"new_values,omitempty"`
	Source    string    `json:"source"`
	At        time.Time `json:"at"`
}

// IncomeRecord is one bucketed income line used by the advance-tax
// calculator. TaxRateType tags the special-rate buckets.
type IncomeRecord struct {
	UserID            int64           `json:"user_id"`
	FinancialYear     string          `json:"financial_year"`
	IncomeType        string          `json:"income_type"` // salary, capital_gains, dividend, interest, business, foreign
	SubClassification string          `json:"sub_classification,omitempty"`
	SubGrouping       string          `json:"sub_grouping,omitempty"`
	GrossAmount       decimal.Decimal `json:"gross_amount"`
	Deductions        decimal.Decimal `json:"deductions"`
	TaxableAmount     decimal.Decimal `json:"taxable_amount"`
	TDSAmount         decimal.Decimal `json:"tds_amount"`
	TaxRateType       string          `json:"tax_rate_type"` // slab, stcg_equity, ltcg_equity, stcg_other, ltcg_other
}

// AdvanceTaxComputation is the stored calculator output. Exactly one row per
// (user, FY) carries IsLatest.
type AdvanceTaxComputation struct {
	ID               int64           `json:"id"`
	UserID           int64           `json:"user_id"`
	FinancialYear    string          `json:"financial_year"`
	Regime           TaxRegime       `json:"regime"`
	GrossIncome      decimal.Decimal `json:"gross_income"`
	TotalDeductions  decimal.Decimal `json:"total_deductions"`
	TaxableIncome    decimal.Decimal `json:"taxable_income"`
	SlabTax          decimal.Decimal `json:"slab_tax"`
	SpecialRateTax   decimal.Decimal `json:"special_rate_tax"`
	Rebate           decimal.Decimal `json:"rebate"`
	Surcharge        decimal.Decimal `json:"surcharge"`
	Cess             decimal.Decimal `json:"cess"`
	TotalLiability   decimal.Decimal `json:"total_liability"`
	TDSPaid          decimal.Decimal `json:"tds_paid"`
	AdvanceTaxPaid   decimal.Decimal `json:"advance_tax_paid"`
	BalancePayable   decimal.Decimal `json:"balance_payable"`
	IsLatest         bool            `json:"is_latest"`
	ComputedAt       time.Time       `json:"computed_at"`
	ComputationNotes string          `json:"computation_notes,omitempty"`
}

// GoldenReference is the header of a parsed authoritative statement.
type GoldenReference struct {
	ID            int64     `json:"id"`
	UserID        int64     `json:"user_id"`
	ReferenceID   string    `json:"reference_id"` // uuid
	Source        Source    `json:"source"`
	StatementDate time.Time `json:"statement_date"`
	FileHash      string    `json:"file_hash"`
	ImportedAt    time.Time `json:"imported_at"`
}

// GoldenHolding is one per-holding row of a golden statement.
type GoldenHolding struct {
	ID          int64           `json:"id"`
	GoldenRefID string          `json:"golden_ref_id"`
	UserID      int64           `json:"user_id"`
	AssetType   AssetType       `json:"asset_type"`
	ISIN        string          `json:"isin,omitempty"`
	FolioNumber string          `json:"folio_number,omitempty"`
	Symbol      string          `json:"symbol,omitempty"`
	Name        string          `json:"name"`
	Units       decimal.Decimal `json:"units"`
	MarketValue decimal.Decimal `json:"market_value"`
	NAV         decimal.Decimal `json:"nav"`
}

// ReconciliationEvent is one golden-vs-system comparison outcome.
type ReconciliationEvent struct {
	ID          int64           `json:"id"`
	UserID      int64           `json:"user_id"`
	GoldenRefID string          `json:"golden_ref_id"`
	EventType   string          `json:"event_type"` // HOLDING_UNITS, COST_BASIS_DRIFT
	AssetType   AssetType       `json:"asset_type"`
	MatchKey    string          `json:"match_key"` // isin / folio / symbol / name
	GoldenValue decimal.Decimal `json:"golden_value"`
	SystemValue decimal.Decimal `json:"system_value"`
	Difference  decimal.Decimal `json:"difference"`
	Result      MatchResult     `json:"result"`
	Severity    Severity        `json:"severity"`
	CreatedAt   time.Time       `json:"created_at"`
}

// SuspenseItem tracks an open reconciliation discrepancy through its
// OPEN -> IN_PROGRESS -> RESOLVED | WRITTEN_OFF lifecycle.
type SuspenseItem struct {
	ID         int64           `json:"id"`
	UserID     int64           `json:"user_id"`
	EventID    int64           `json:"event_id"`
	AssetType  AssetType       `json:"asset_type"`
	MatchKey   string          `json:"match_key"`
	Amount     decimal.Decimal `json:"amount"`
	Status     SuspenseStatus  `json:"status"`
	Notes      string          `json:"notes,omitempty"`
	OpenedAt   time.Time       `json:"opened_at"`
	ResolvedAt *time.Time      `json:"resolved_at,omitempty"`
}
