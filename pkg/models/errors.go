package models

import "errors"

// Error kinds shared across services. Callers discriminate with errors.Is;
// wrapping layers add context with fmt.Errorf("...: %w", err).
var (
	ErrNotFound          = errors.New("not found")
	ErrInvalid           = errors.New("invalid input")
	ErrDuplicateKey      = errors.New("duplicate key")
	ErrUnbalancedJournal = errors.New("unbalanced journal")
	ErrInsufficientUnits = errors.New("insufficient units")
	ErrAccountingBalance = errors.New("accounting balance drift")
	ErrParse             = errors.New("parse failure")
	ErrPasswordRequired  = errors.New("password required")
	ErrInvalidPassword   = errors.New("invalid password")
	ErrStorage           = errors.New("storage failure")
	ErrBatchIngestion    = errors.New("batch ingestion failure")
)
