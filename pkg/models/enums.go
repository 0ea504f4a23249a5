package models

// AssetType classifies a holding for cost-basis and tax purposes. The value
// is persisted, so names are stable.
type AssetType string

const (
	AssetMutualFundEquity AssetType = "mf_equity"
	AssetMutualFundDebt   AssetType = "mf_debt"
	AssetIndianStock      AssetType = "stock_in"
	AssetForeignStock     AssetType = "stock_foreign"
	AssetRSU              AssetType = "rsu"
	AssetESPP             AssetType = "espp"
	AssetSGB              AssetType = "sgb"
	AssetPPF              AssetType = "ppf"
	AssetEPF              AssetType = "epf"
	AssetNPS              AssetType = "nps"
	AssetBank             AssetType = "bank"
)

// Equity reports whether the asset type is equity-oriented for the
// grandfathering and special-rate capital-gains rules.
func (a AssetType) Equity() bool {
	switch a {
	case AssetMutualFundEquity, AssetIndianStock:
		return true
	}
	return false
}

// LongTermThresholdDays returns the holding period (strictly greater-than,
// in days) beyond which a sale of this asset type is long-term.
func (a AssetType) LongTermThresholdDays() int {
	switch a {
	case AssetMutualFundEquity, AssetIndianStock:
		return 365
	case AssetMutualFundDebt, AssetForeignStock, AssetRSU, AssetESPP:
		return 730
	default:
		return 365
	}
}

// TxnType is the business meaning of a parsed transaction.
type TxnType string

const (
	TxnBuy              TxnType = "BUY"
	TxnSell             TxnType = "SELL"
	TxnDividend         TxnType = "DIVIDEND"
	TxnDividendReinvest TxnType = "DIVIDEND_REINVEST"
	TxnInterest         TxnType = "INTEREST"
	TxnContribution     TxnType = "CONTRIBUTION"
	TxnWithdrawal       TxnType = "WITHDRAWAL"
	TxnTax              TxnType = "TAX"
	TxnCharge           TxnType = "CHARGE"
	TxnMisc             TxnType = "MISC"
)

// Source identifies the parser that produced a record.
type Source string

const (
	SourceCAMS    Source = "cams"
	SourceKarvy   Source = "karvy"
	SourceZerodha Source = "zerodha"
	SourceICICI   Source = "icici_direct"
	SourceNSDLCAS Source = "nsdl_cas"
	SourcePPF     Source = "ppf"
	SourceBank    Source = "bank"
	SourceManual  Source = "manual"
)

// TaxRegime selects old vs. new regime slab tables.
type TaxRegime string

const (
	RegimeOld TaxRegime = "old"
	RegimeNew TaxRegime = "new"
)

// CostBasisMethod selects the lot-depletion strategy.
type CostBasisMethod string

const (
	MethodFIFO    CostBasisMethod = "fifo"
	MethodAverage CostBasisMethod = "average"
)

// BatchStatus / FileStatus track ingestion outcomes.
type BatchStatus string

const (
	BatchRunning BatchStatus = "running"
	BatchSuccess BatchStatus = "success"
	BatchFailed  BatchStatus = "failed"
)

type FileStatus string

const (
	FileSuccess FileStatus = "success"
	FileSkipped FileStatus = "skipped"
	FileFailed  FileStatus = "failed"
)

// MatchResult is the outcome of one golden-vs-system comparison.
type MatchResult string

const (
	MatchExact           MatchResult = "EXACT"
	MatchWithinTolerance MatchResult = "WITHIN_TOLERANCE"
	MatchMismatch        MatchResult = "MISMATCH"
	MatchMissingGolden   MatchResult = "MISSING_GOLDEN"
	MatchMissingSystem   MatchResult = "MISSING_SYSTEM"
)

// Severity grades a reconciliation difference.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

// SuspenseStatus is the lifecycle state of an open discrepancy.
type SuspenseStatus string

const (
	SuspenseOpen       SuspenseStatus = "OPEN"
	SuspenseInProgress SuspenseStatus = "IN_PROGRESS"
	SuspenseResolved   SuspenseStatus = "RESOLVED"
	SuspenseWrittenOff SuspenseStatus = "WRITTEN_OFF"
)

// ConflictPolicy controls what an asset-row upsert does on a natural-key hit.
type ConflictPolicy string

const (
	ConflictIgnore  ConflictPolicy = "IGNORE"
	ConflictReplace ConflictPolicy = "REPLACE"
	ConflictFail    ConflictPolicy = "FAIL"
)
