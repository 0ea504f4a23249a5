package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"
)

// migration is one forward-only schema step. Statements must be idempotent
// (IF NOT EXISTS) so a partially applied step can be re-run safely.
type migration struct {
	version int
	name    string
	sql     string
}

var migrations = []migration{
	{1, "identity", `
CREATE TABLE IF NOT EXISTS users (
    id          BIGSERIAL PRIMARY KEY,
    name        TEXT NOT NULL,
    email       TEXT NOT NULL UNIQUE,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    deleted_at  TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS accounts (
    id        BIGSERIAL PRIMARY KEY,
    code      TEXT NOT NULL UNIQUE,
    name      TEXT NOT NULL,
    type      TEXT NOT NULL,
    parent_id BIGINT REFERENCES accounts(id)
);
`},
	{2, "journal", `
CREATE TABLE IF NOT EXISTS journals (
    id              BIGSERIAL PRIMARY KEY,
    user_id         BIGINT NOT NULL REFERENCES users(id),
    txn_date        DATE NOT NULL,
    description     TEXT NOT NULL,
    source          TEXT NOT NULL,
    idempotency_key TEXT NOT NULL,
    reference_type  TEXT NOT NULL DEFAULT '',
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (user_id, idempotency_key)
);

CREATE TABLE IF NOT EXISTS journal_entries (
    id         BIGSERIAL PRIMARY KEY,
    journal_id BIGINT NOT NULL REFERENCES journals(id),
    account_id BIGINT NOT NULL REFERENCES accounts(id),
    debit      NUMERIC(18,2) NOT NULL DEFAULT 0,
    credit     NUMERIC(18,2) NOT NULL DEFAULT 0,
    narration  TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_journal_entries_account
    ON journal_entries (account_id, journal_id);
`},
	{3, "cost_basis", `
CREATE TABLE IF NOT EXISTS cost_basis_lots (
    id               BIGSERIAL PRIMARY KEY,
    user_id          BIGINT NOT NULL REFERENCES users(id),
    asset_type       TEXT NOT NULL,
    symbol           TEXT NOT NULL,
    acquisition_date DATE NOT NULL,
    units_acquired   NUMERIC(18,4) NOT NULL,
    units_remaining  NUMERIC(18,4) NOT NULL,
    cost_per_unit    NUMERIC(18,4) NOT NULL,
    total_cost       NUMERIC(18,2) NOT NULL,
    currency         TEXT NOT NULL DEFAULT 'INR',
    reference        TEXT NOT NULL DEFAULT '',
    CHECK (units_remaining >= 0),
    CHECK (units_remaining <= units_acquired)
);
CREATE INDEX IF NOT EXISTS idx_lots_key
    ON cost_basis_lots (user_id, asset_type, symbol, acquisition_date);
`},
	{4, "asset_rows", `
CREATE TABLE IF NOT EXISTS mf_transactions (
    id         BIGSERIAL PRIMARY KEY,
    user_id    BIGINT NOT NULL REFERENCES users(id),
    journal_id BIGINT REFERENCES journals(id),
    folio      TEXT NOT NULL,
    scheme     TEXT NOT NULL,
    isin       TEXT NOT NULL DEFAULT '',
    asset_class TEXT NOT NULL DEFAULT '',
    txn_date   DATE NOT NULL,
    txn_type   TEXT NOT NULL,
    amount     NUMERIC(18,2) NOT NULL,
    units      NUMERIC(18,4) NOT NULL,
    nav        NUMERIC(18,4) NOT NULL DEFAULT 0,
    stt        NUMERIC(18,2) NOT NULL DEFAULT 0,
    broker_cost NUMERIC(18,2),
    broker_stcg NUMERIC(18,2),
    broker_ltcg NUMERIC(18,2),
    grandfathered_nav NUMERIC(18,4),
    source     TEXT NOT NULL,
    UNIQUE (user_id, folio, scheme, txn_date, amount, units, txn_type)
);

CREATE TABLE IF NOT EXISTS stock_trades (
    id         BIGSERIAL PRIMARY KEY,
    user_id    BIGINT NOT NULL REFERENCES users(id),
    journal_id BIGINT REFERENCES journals(id),
    symbol     TEXT NOT NULL,
    isin       TEXT NOT NULL DEFAULT '',
    trade_date DATE NOT NULL,
    trade_type TEXT NOT NULL,
    quantity   NUMERIC(18,4) NOT NULL,
    price      NUMERIC(18,4) NOT NULL,
    amount     NUMERIC(18,2) NOT NULL,
    segment    TEXT NOT NULL DEFAULT 'delivery',
    source     TEXT NOT NULL,
    UNIQUE (user_id, symbol, trade_date, trade_type, quantity, price)
);

CREATE TABLE IF NOT EXISTS stock_capital_gains (
    id            BIGSERIAL PRIMARY KEY,
    user_id       BIGINT NOT NULL REFERENCES users(id),
    journal_id    BIGINT REFERENCES journals(id),
    symbol        TEXT NOT NULL,
    isin          TEXT NOT NULL DEFAULT '',
    sale_date     DATE NOT NULL,
    purchase_date DATE NOT NULL,
    quantity      NUMERIC(18,4) NOT NULL,
    buy_value     NUMERIC(18,2) NOT NULL,
    sell_value    NUMERIC(18,2) NOT NULL,
    profit        NUMERIC(18,2) NOT NULL,
    term          TEXT NOT NULL,
    source        TEXT NOT NULL,
    UNIQUE (user_id, symbol, sale_date, quantity, purchase_date)
);

CREATE TABLE IF NOT EXISTS rsu_vests (
    id         BIGSERIAL PRIMARY KEY,
    user_id    BIGINT NOT NULL REFERENCES users(id),
    journal_id BIGINT REFERENCES journals(id),
    symbol     TEXT NOT NULL,
    vest_date  DATE NOT NULL,
    units      NUMERIC(18,4) NOT NULL,
    fmv_per_unit NUMERIC(18,4) NOT NULL,
    currency   TEXT NOT NULL DEFAULT 'USD',
    source     TEXT NOT NULL,
    UNIQUE (user_id, symbol, vest_date, units)
);

CREATE TABLE IF NOT EXISTS espp_purchases (
    id            BIGSERIAL PRIMARY KEY,
    user_id       BIGINT NOT NULL REFERENCES users(id),
    journal_id    BIGINT REFERENCES journals(id),
    symbol        TEXT NOT NULL,
    purchase_date DATE NOT NULL,
    units         NUMERIC(18,4) NOT NULL,
    purchase_price NUMERIC(18,4) NOT NULL,
    fmv_per_unit  NUMERIC(18,4) NOT NULL,
    currency      TEXT NOT NULL DEFAULT 'USD',
    source        TEXT NOT NULL,
    UNIQUE (user_id, symbol, purchase_date, units)
);

CREATE TABLE IF NOT EXISTS ppf_transactions (
    id             BIGSERIAL PRIMARY KEY,
    user_id        BIGINT NOT NULL REFERENCES users(id),
    journal_id     BIGINT REFERENCES journals(id),
    account_number TEXT NOT NULL,
    txn_date       DATE NOT NULL,
    txn_type       TEXT NOT NULL,
    amount         NUMERIC(18,2) NOT NULL,
    balance_after  NUMERIC(18,2),
    source         TEXT NOT NULL,
    UNIQUE (user_id, account_number, txn_date, amount, txn_type)
);

CREATE TABLE IF NOT EXISTS epf_transactions (
    id             BIGSERIAL PRIMARY KEY,
    user_id        BIGINT NOT NULL REFERENCES users(id),
    journal_id     BIGINT REFERENCES journals(id),
    account_number TEXT NOT NULL,
    txn_date       DATE NOT NULL,
    txn_type       TEXT NOT NULL,
    employee_share NUMERIC(18,2) NOT NULL DEFAULT 0,
    employer_share NUMERIC(18,2) NOT NULL DEFAULT 0,
    pension_share  NUMERIC(18,2) NOT NULL DEFAULT 0,
    balance_after  NUMERIC(18,2),
    source         TEXT NOT NULL,
    UNIQUE (user_id, account_number, txn_date, txn_type, employee_share, employer_share)
);

CREATE TABLE IF NOT EXISTS nps_transactions (
    id         BIGSERIAL PRIMARY KEY,
    user_id    BIGINT NOT NULL REFERENCES users(id),
    journal_id BIGINT REFERENCES journals(id),
    pran       TEXT NOT NULL,
    txn_date   DATE NOT NULL,
    txn_type   TEXT NOT NULL,
    amount     NUMERIC(18,2) NOT NULL,
    units      NUMERIC(18,4) NOT NULL DEFAULT 0,
    nav        NUMERIC(18,4) NOT NULL DEFAULT 0,
    source     TEXT NOT NULL,
    UNIQUE (user_id, pran, txn_date, txn_type, amount)
);

CREATE TABLE IF NOT EXISTS bank_transactions (
    id              BIGSERIAL PRIMARY KEY,
    user_id         BIGINT NOT NULL REFERENCES users(id),
    journal_id      BIGINT REFERENCES journals(id),
    bank            TEXT NOT NULL,
    account_number  TEXT NOT NULL DEFAULT '',
    txn_date        DATE NOT NULL,
    raw_description TEXT NOT NULL,
    amount          NUMERIC(18,2) NOT NULL,
    balance_after   NUMERIC(18,2),
    category        TEXT NOT NULL DEFAULT '',
    row_hash        TEXT NOT NULL,
    source          TEXT NOT NULL,
    UNIQUE (user_id, row_hash)
);

CREATE TABLE IF NOT EXISTS foreign_holdings (
    id          BIGSERIAL PRIMARY KEY,
    user_id     BIGINT NOT NULL REFERENCES users(id),
    symbol      TEXT NOT NULL,
    units       NUMERIC(18,4) NOT NULL,
    cost_basis  NUMERIC(18,2) NOT NULL,
    currency    TEXT NOT NULL DEFAULT 'USD',
    as_of       DATE NOT NULL,
    source      TEXT NOT NULL,
    UNIQUE (user_id, symbol, as_of)
);

CREATE TABLE IF NOT EXISTS exchange_rates (
    id        BIGSERIAL PRIMARY KEY,
    currency  TEXT NOT NULL,
    rate_date DATE NOT NULL,
    rate_inr  NUMERIC(18,4) NOT NULL,
    UNIQUE (currency, rate_date)
);
`},
	{5, "ingestion", `
CREATE TABLE IF NOT EXISTS processed_files (
    id            BIGSERIAL PRIMARY KEY,
    user_id       BIGINT NOT NULL REFERENCES users(id),
    batch_id      TEXT NOT NULL,
    file_hash     TEXT NOT NULL,
    file_name     TEXT NOT NULL,
    parser        TEXT NOT NULL,
    records_count INT NOT NULL DEFAULT 0,
    status        TEXT NOT NULL,
    processed_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (user_id, file_hash)
);

CREATE TABLE IF NOT EXISTS batch_runs (
    id            BIGSERIAL PRIMARY KEY,
    batch_id      TEXT NOT NULL UNIQUE,
    user_id       BIGINT NOT NULL REFERENCES users(id),
    files_count   INT NOT NULL DEFAULT 0,
    records_count INT NOT NULL DEFAULT 0,
    status        TEXT NOT NULL,
    error_message TEXT NOT NULL DEFAULT '',
    started_at    TIMESTAMPTZ NOT NULL,
    completed_at  TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS asset_idempotency (
    id              BIGSERIAL PRIMARY KEY,
    user_id         BIGINT NOT NULL REFERENCES users(id),
    idempotency_key TEXT NOT NULL,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (user_id, idempotency_key)
);

CREATE TABLE IF NOT EXISTS audit_log (
    id         BIGSERIAL PRIMARY KEY,
    user_id    BIGINT NOT NULL,
    table_name TEXT NOT NULL,
    record_id  TEXT NOT NULL,
    action     TEXT NOT NULL,
    old_values TEXT NOT NULL DEFAULT '',
    new_values TEXT NOT NULL DEFAULT '',
    source     TEXT NOT NULL DEFAULT '',
    at         TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_audit_log_user ON audit_log (user_id, at);
`},
	{6, "tax_rules", `
CREATE TABLE IF NOT EXISTS income_tax_slabs (
    id             BIGSERIAL PRIMARY KEY,
    financial_year TEXT NOT NULL,
    regime         TEXT NOT NULL,
    slab_from      NUMERIC(18,2) NOT NULL,
    slab_to        NUMERIC(18,2),
    rate           NUMERIC(6,4) NOT NULL,
    UNIQUE (financial_year, regime, slab_from)
);

CREATE TABLE IF NOT EXISTS capital_gains_rates (
    id             BIGSERIAL PRIMARY KEY,
    financial_year TEXT NOT NULL,
    asset_class    TEXT NOT NULL,
    term           TEXT NOT NULL,
    rate           NUMERIC(6,4) NOT NULL,
    exemption_limit NUMERIC(18,2) NOT NULL DEFAULT 0,
    effective_from DATE NOT NULL,
    effective_to   DATE,
    UNIQUE (financial_year, asset_class, term, effective_from)
);

CREATE TABLE IF NOT EXISTS standard_deductions (
    id             BIGSERIAL PRIMARY KEY,
    financial_year TEXT NOT NULL,
    regime         TEXT NOT NULL,
    income_type    TEXT NOT NULL DEFAULT 'salary',
    amount         NUMERIC(18,2) NOT NULL,
    UNIQUE (financial_year, regime, income_type)
);

CREATE TABLE IF NOT EXISTS surcharge_rates (
    id             BIGSERIAL PRIMARY KEY,
    financial_year TEXT NOT NULL,
    regime         TEXT NOT NULL,
    income_type    TEXT NOT NULL DEFAULT 'normal',
    income_from    NUMERIC(18,2) NOT NULL,
    income_to      NUMERIC(18,2),
    rate           NUMERIC(6,4) NOT NULL,
    UNIQUE (financial_year, regime, income_type, income_from)
);

CREATE TABLE IF NOT EXISTS cess_rates (
    id             BIGSERIAL PRIMARY KEY,
    financial_year TEXT NOT NULL,
    rate           NUMERIC(6,4) NOT NULL,
    UNIQUE (financial_year)
);

CREATE TABLE IF NOT EXISTS rebate_limits (
    id             BIGSERIAL PRIMARY KEY,
    financial_year TEXT NOT NULL,
    regime         TEXT NOT NULL,
    income_limit   NUMERIC(18,2) NOT NULL,
    max_rebate     NUMERIC(18,2) NOT NULL,
    UNIQUE (financial_year, regime)
);

CREATE TABLE IF NOT EXISTS chapter_via_limits (
    id             BIGSERIAL PRIMARY KEY,
    financial_year TEXT NOT NULL,
    regime         TEXT NOT NULL,
    section        TEXT NOT NULL,
    max_amount     NUMERIC(18,2) NOT NULL,
    UNIQUE (financial_year, regime, section)
);

CREATE TABLE IF NOT EXISTS dtaa_articles (
    id           BIGSERIAL PRIMARY KEY,
    country      TEXT NOT NULL,
    income_type  TEXT NOT NULL,
    article      TEXT NOT NULL,
    treaty_rate  NUMERIC(6,4) NOT NULL,
    effective_from DATE NOT NULL,
    effective_to DATE,
    UNIQUE (country, income_type, effective_from)
);

CREATE TABLE IF NOT EXISTS user_income_summary (
    id                 BIGSERIAL PRIMARY KEY,
    user_id            BIGINT NOT NULL REFERENCES users(id),
    financial_year     TEXT NOT NULL,
    income_type        TEXT NOT NULL,
    sub_classification TEXT NOT NULL DEFAULT '',
    sub_grouping       TEXT NOT NULL DEFAULT '',
    gross_amount       NUMERIC(18,2) NOT NULL DEFAULT 0,
    deductions         NUMERIC(18,2) NOT NULL DEFAULT 0,
    taxable_amount     NUMERIC(18,2) NOT NULL DEFAULT 0,
    tds_amount         NUMERIC(18,2) NOT NULL DEFAULT 0,
    tax_rate_type      TEXT NOT NULL DEFAULT 'slab',
    UNIQUE (user_id, financial_year, income_type, sub_classification, sub_grouping)
);

CREATE TABLE IF NOT EXISTS advance_tax_computations (
    id               BIGSERIAL PRIMARY KEY,
    user_id          BIGINT NOT NULL REFERENCES users(id),
    financial_year   TEXT NOT NULL,
    regime           TEXT NOT NULL,
    gross_income     NUMERIC(18,2) NOT NULL,
    total_deductions NUMERIC(18,2) NOT NULL,
    taxable_income   NUMERIC(18,2) NOT NULL,
    slab_tax         NUMERIC(18,2) NOT NULL,
    special_rate_tax NUMERIC(18,2) NOT NULL,
    rebate           NUMERIC(18,2) NOT NULL,
    surcharge        NUMERIC(18,2) NOT NULL,
    cess             NUMERIC(18,2) NOT NULL,
    total_liability  NUMERIC(18,2) NOT NULL,
    tds_paid         NUMERIC(18,2) NOT NULL,
    advance_tax_paid NUMERIC(18,2) NOT NULL,
    balance_payable  NUMERIC(18,2) NOT NULL,
    is_latest        BOOLEAN NOT NULL DEFAULT true,
    computed_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    computation_notes TEXT NOT NULL DEFAULT ''
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_advance_tax_latest
    ON advance_tax_computations (user_id, financial_year) WHERE is_latest;
`},
	{7, "golden", `
CREATE TABLE IF NOT EXISTS golden_references (
    id             BIGSERIAL PRIMARY KEY,
    user_id        BIGINT NOT NULL REFERENCES users(id),
    reference_id   TEXT NOT NULL UNIQUE,
    source         TEXT NOT NULL,
    statement_date DATE NOT NULL,
    file_hash      TEXT NOT NULL,
    imported_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS golden_holdings (
    id            BIGSERIAL PRIMARY KEY,
    golden_ref_id TEXT NOT NULL,
    user_id       BIGINT NOT NULL REFERENCES users(id),
    asset_type    TEXT NOT NULL,
    isin          TEXT NOT NULL DEFAULT '',
    folio_number  TEXT NOT NULL DEFAULT '',
    symbol        TEXT NOT NULL DEFAULT '',
    name          TEXT NOT NULL,
    units         NUMERIC(18,4) NOT NULL,
    market_value  NUMERIC(18,2) NOT NULL DEFAULT 0,
    nav           NUMERIC(18,4) NOT NULL DEFAULT 0,
    UNIQUE (golden_ref_id, isin, folio_number)
);

CREATE TABLE IF NOT EXISTS reconciliation_events (
    id            BIGSERIAL PRIMARY KEY,
    user_id       BIGINT NOT NULL REFERENCES users(id),
    golden_ref_id TEXT NOT NULL,
    event_type    TEXT NOT NULL,
    asset_type    TEXT NOT NULL,
    match_key     TEXT NOT NULL,
    golden_value  NUMERIC(18,4) NOT NULL DEFAULT 0,
    system_value  NUMERIC(18,4) NOT NULL DEFAULT 0,
    difference    NUMERIC(18,4) NOT NULL DEFAULT 0,
    result        TEXT NOT NULL,
    severity      TEXT NOT NULL,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS suspense_items (
    id          BIGSERIAL PRIMARY KEY,
    user_id     BIGINT NOT NULL REFERENCES users(id),
    event_id    BIGINT NOT NULL REFERENCES reconciliation_events(id),
    asset_type  TEXT NOT NULL,
    match_key   TEXT NOT NULL,
    amount      NUMERIC(18,4) NOT NULL DEFAULT 0,
    status      TEXT NOT NULL DEFAULT 'OPEN',
    notes       TEXT NOT NULL DEFAULT '',
    opened_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
    resolved_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS truth_resolver_overrides (
    id          BIGSERIAL PRIMARY KEY,
    user_id     BIGINT NOT NULL REFERENCES users(id),
    metric      TEXT NOT NULL,
    asset_class TEXT NOT NULL,
    sources     TEXT NOT NULL,
    UNIQUE (user_id, metric, asset_class)
);
`},
	{8, "liabilities_cashflow", `
CREATE TABLE IF NOT EXISTS liabilities (
    id             BIGSERIAL PRIMARY KEY,
    user_id        BIGINT NOT NULL REFERENCES users(id),
    name           TEXT NOT NULL,
    loan_type      TEXT NOT NULL DEFAULT 'home',
    principal      NUMERIC(18,2) NOT NULL,
    annual_rate    NUMERIC(8,4) NOT NULL,
    tenure_months  INT NOT NULL,
    started_on     DATE NOT NULL,
    UNIQUE (user_id, name)
);

CREATE TABLE IF NOT EXISTS liability_transactions (
    id                BIGSERIAL PRIMARY KEY,
    user_id           BIGINT NOT NULL REFERENCES users(id),
    liability_id      BIGINT NOT NULL REFERENCES liabilities(id),
    txn_date          DATE NOT NULL,
    txn_type          TEXT NOT NULL,
    amount            NUMERIC(18,2) NOT NULL,
    interest_portion  NUMERIC(18,2) NOT NULL DEFAULT 0,
    principal_portion NUMERIC(18,2) NOT NULL DEFAULT 0,
    outstanding_after NUMERIC(18,2) NOT NULL,
    UNIQUE (user_id, liability_id, txn_date, txn_type, amount)
);

CREATE TABLE IF NOT EXISTS cash_flow_rules (
    id        BIGSERIAL PRIMARY KEY,
    keyword   TEXT NOT NULL UNIQUE,
    activity  TEXT NOT NULL,
    direction TEXT NOT NULL,
    category  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS balance_sheet_snapshots (
    id        BIGSERIAL PRIMARY KEY,
    user_id   BIGINT NOT NULL REFERENCES users(id),
    as_of     DATE NOT NULL,
    payload   JSONB NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (user_id, as_of)
);
`},
}

// Migrate applies pending migrations in order. Forward-only: versions below
// the current schema version are never revisited.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INT PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return WrapError(err)
	}

	var current int
	if err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return WrapError(err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		s.log.WithFields(logrus.Fields{"version": m.version, "name": m.name}).Info("applying migration")
		m := m
		err := s.WithTx(ctx, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, m.sql); err != nil {
				return WrapError(err)
			}
			_, err := tx.Exec(ctx,
				`INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`,
				m.version, m.name)
			return WrapError(err)
		})
		if err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
	}
	return nil
}
