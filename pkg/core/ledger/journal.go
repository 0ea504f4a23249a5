package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"arthakosh/pkg/core/money"
	"arthakosh/pkg/core/store"
	"arthakosh/pkg/models"
)

// ValidateEntries enforces the double-entry invariants: at least one leg,
// exactly one non-zero side per leg, and total debits equal to total credits
// within 0.01. An all-zero journal is rejected as well; a sum of zero means
// there is nothing to post.
func ValidateEntries(entries []models.JournalEntry) error {
	if len(entries) == 0 {
		return fmt.Errorf("%w: journal has no entries", models.ErrUnbalancedJournal)
	}

	totalDebit := decimal.Zero
	totalCredit := decimal.Zero
	for i, e := range entries {
		debitSet := e.Debit.IsPositive()
		creditSet := e.Credit.IsPositive()
		if e.Debit.IsNegative() || e.Credit.IsNegative() {
			return fmt.Errorf("%w: entry %d has a negative side", models.ErrUnbalancedJournal, i)
		}
		if debitSet == creditSet {
			return fmt.Errorf("%w: entry %d must have exactly one non-zero side", models.ErrUnbalancedJournal, i)
		}
		totalDebit = totalDebit.Add(e.Debit)
		totalCredit = totalCredit.Add(e.Credit)
	}

	if totalDebit.IsZero() && totalCredit.IsZero() {
		return fmt.Errorf("%w: nothing to post", models.ErrUnbalancedJournal)
	}
	if !money.EqualAmount(totalDebit, totalCredit) {
		return fmt.Errorf("%w: debit %s != credit %s",
			models.ErrUnbalancedJournal, totalDebit.String(), totalCredit.String())
	}
	return nil
}

// Post inserts a journal and its entries inside the caller's transaction,
// returning the journal id. Entries must already pass ValidateEntries; Post
// re-validates to keep the invariant local.
func Post(ctx context.Context, db store.DB, journal models.Journal, entries []models.JournalEntry) (int64, error) {
	if err := ValidateEntries(entries); err != nil {
		return 0, err
	}

	var journalID int64
	err := db.QueryRow(ctx, `
		INSERT INTO journals (user_id, txn_date, description, source, idempotency_key, reference_type)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		journal.UserID, journal.TxnDate, journal.Description,
		string(journal.Source), journal.IdempotencyKey, journal.ReferenceType,
	).Scan(&journalID)
	if err != nil {
		return 0, store.WrapError(err)
	}

	for _, e := range entries {
		_, err := db.Exec(ctx, `
			INSERT INTO journal_entries (journal_id, account_id, debit, credit, narration)
			VALUES ($1, $2, $3, $4, $5)`,
			journalID, e.AccountID,
			money.RoundAmount(e.Debit), money.RoundAmount(e.Credit), e.Narration)
		if err != nil {
			return 0, store.WrapError(err)
		}
	}
	return journalID, nil
}

// FindByIdempotencyKey returns the journal id already recorded under the
// key, or ErrNotFound.
func FindByIdempotencyKey(ctx context.Context, db store.DB, userID int64, key string) (int64, error) {
	var id int64
	err := db.QueryRow(ctx,
		`SELECT id FROM journals WHERE user_id = $1 AND idempotency_key = $2`,
		userID, key).Scan(&id)
	if err != nil {
		return 0, store.WrapError(err)
	}
	return id, nil
}

// GetBalance sums debits minus credits for an account up to and including
// asOf. Asset and expense accounts carry positive debit balances; income,
// liability and equity accounts come out negative.
func GetBalance(ctx context.Context, db store.DB, userID int64, accountCode string, asOf time.Time) (decimal.Decimal, error) {
	var debit, credit decimal.Decimal
	err := db.QueryRow(ctx, `
		SELECT COALESCE(SUM(je.debit), 0), COALESCE(SUM(je.credit), 0)
		FROM journal_entries je
		JOIN journals j ON j.id = je.journal_id
		JOIN accounts a ON a.id = je.account_id
		WHERE j.user_id = $1 AND a.code = $2 AND j.txn_date <= $3`,
		userID, accountCode, asOf).Scan(&debit, &credit)
	if err != nil {
		return decimal.Zero, store.WrapError(err)
	}
	return debit.Sub(credit), nil
}

// GetEntries loads the legs of one journal in insertion order.
func GetEntries(ctx context.Context, db store.DB, journalID int64) ([]models.JournalEntry, error) {
	rows, err := db.Query(ctx, `
		SELECT id, journal_id, account_id, debit, credit, narration
		FROM journal_entries WHERE journal_id = $1 ORDER BY id`, journalID)
	if err != nil {
		return nil, store.WrapError(err)
	}
	defer rows.Close()

	var entries []models.JournalEntry
	for rows.Next() {
		var e models.JournalEntry
		if err := rows.Scan(&e.ID, &e.JournalID, &e.AccountID, &e.Debit, &e.Credit, &e.Narration); err != nil {
			return nil, store.WrapError(err)
		}
		entries = append(entries, e)
	}
	return entries, store.WrapError(rows.Err())
}
