package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"arthakosh/pkg/core/ledger"
	"arthakosh/pkg/core/parser"
	"arthakosh/pkg/core/store"
	"arthakosh/pkg/core/txservice"
	"arthakosh/pkg/models"
)

// postOutcome tallies what one parsed record produced.
type postOutcome struct {
	recorded  int
	duplicate bool
}

// postTransaction maps one neutral parsed transaction to its journal, asset
// rows and lot updates, on the open batch transaction. Duplicate idempotency
// keys are a silent success; lots are only touched on first insert.
func (ing *Ingester) postTransaction(ctx context.Context, tx store.DB, userID int64, fileHash string, txn parser.Transaction) (postOutcome, error) {
	switch txn.AssetType {
	case models.AssetMutualFundEquity, models.AssetMutualFundDebt:
		return ing.postMFTransaction(ctx, tx, userID, fileHash, txn)
	case models.AssetIndianStock:
		return ing.postStockExit(ctx, tx, userID, fileHash, txn)
	case models.AssetPPF:
		return ing.postPPFTransaction(ctx, tx, userID, fileHash, txn)
	case models.AssetBank:
		return ing.postBankTransaction(ctx, tx, userID, fileHash, txn)
	default:
		return postOutcome{}, fmt.Errorf("%w: no posting path for asset type %q", models.ErrInvalid, txn.AssetType)
	}
}

func (ing *Ingester) postMFTransaction(ctx context.Context, tx store.DB, userID int64, fileHash string, txn parser.Transaction) (postOutcome, error) {
	symbol := lotSymbol(txn)
	key := txservice.BuildIdempotencyKey("mf", fileHash, txn.RowIdx,
		txn.Folio, txn.Scheme, txn.Date.Format("2006-01-02"),
		txn.Amount.String(), txn.Units.String(), string(txn.TxnType))

	assetRow := txservice.AssetRecord{
		Table:      "mf_transactions",
		OnConflict: models.ConflictIgnore,
		Data: map[string]any{
			"folio":       txn.Folio,
			"scheme":      txn.Scheme,
			"isin":        txn.ISIN,
			"asset_class": string(txn.AssetType),
			"txn_date":    txn.Date,
			"txn_type":    string(txn.TxnType),
			"amount":      txn.Amount,
			"units":       txn.Units,
			"nav":         txn.Price,
			"stt":         txn.STT,
			"source":      string(ing.source()),
		},
	}
	if txn.BrokerCost != nil {
		assetRow.Data["broker_cost"] = *txn.BrokerCost
	}
	if txn.BrokerSTCG != nil {
		assetRow.Data["broker_stcg"] = *txn.BrokerSTCG
	}
	if txn.BrokerLTCG != nil {
		assetRow.Data["broker_ltcg"] = *txn.BrokerLTCG
	}
	if txn.GrandfatheredNAV != nil {
		assetRow.Data["grandfathered_nav"] = *txn.GrandfatheredNAV
	}

	switch txn.TxnType {
	case models.TxnBuy, models.TxnDividendReinvest:
		return ing.postBuy(ctx, tx, userID, txn, symbol, key, assetRow)
	case models.TxnSell:
		return ing.postSell(ctx, tx, userID, txn, symbol, key, assetRow)
	case models.TxnDividend:
		return ing.postIncome(ctx, tx, userID, txn, ledger.EventDividend, key, assetRow)
	default:
		// STT, stamp duty and other zero-unit rows keep the asset row only.
		return ing.postAssetOnly(ctx, tx, userID, txn, key, assetRow)
	}
}

// postStockExit turns one tradewise exit row into up to two journals: a
// synthetic buy reconstructed from the broker's entry columns, then the sell
// matched against lots.
func (ing *Ingester) postStockExit(ctx context.Context, tx store.DB, userID int64, fileHash string, txn parser.Transaction) (postOutcome, error) {
	symbol := lotSymbol(txn)
	units := txn.Units.Abs()
	proceeds := txn.Amount.Abs()
	var total postOutcome

	if txn.PurchaseDate != nil && txn.BrokerCost != nil && txn.BrokerCost.IsPositive() {
		buyKey := txservice.BuildIdempotencyKey("stock", fileHash, txn.RowIdx,
			symbol, txn.PurchaseDate.Format("2006-01-02"), units.String(), string(models.TxnBuy))
		buy := txn
		buy.TxnType = models.TxnBuy
		buy.Date = *txn.PurchaseDate
		buy.Amount = *txn.BrokerCost
		out, err := ing.postBuy(ctx, tx, userID, buy, symbol, buyKey, txservice.AssetRecord{
			Table:      "stock_trades",
			OnConflict: models.ConflictIgnore,
			Data: map[string]any{
				"symbol":     symbol,
				"isin":       txn.ISIN,
				"trade_date": *txn.PurchaseDate,
				"trade_type": string(models.TxnBuy),
				"quantity":   units,
				"price":      perUnit(*txn.BrokerCost, units),
				"amount":     *txn.BrokerCost,
				"segment":    txn.Segment,
				"source":     string(ing.source()),
			},
		})
		if err != nil {
			return total, err
		}
		total.recorded += out.recorded
	}

	sellKey := txservice.BuildIdempotencyKey("stock", fileHash, txn.RowIdx,
		symbol, txn.Date.Format("2006-01-02"), units.String(), string(models.TxnSell))
	sellRow := txservice.AssetRecord{
		Table:      "stock_trades",
		OnConflict: models.ConflictIgnore,
		Data: map[string]any{
			"symbol":     symbol,
			"isin":       txn.ISIN,
			"trade_date": txn.Date,
			"trade_type": string(models.TxnSell),
			"quantity":   units,
			"price":      perUnit(proceeds, units),
			"amount":     proceeds,
			"segment":    txn.Segment,
			"source":     string(ing.source()),
		},
	}

	out, err := ing.postSell(ctx, tx, userID, txn, symbol, sellKey, sellRow)
	if err != nil {
		return total, err
	}
	total.recorded += out.recorded
	total.duplicate = out.duplicate

	if out.recorded > 0 && txn.PurchaseDate != nil {
		gains := txservice.AssetRecord{
			Table:      "stock_capital_gains",
			OnConflict: models.ConflictIgnore,
			Data: map[string]any{
				"symbol":        symbol,
				"isin":          txn.ISIN,
				"sale_date":     txn.Date,
				"purchase_date": *txn.PurchaseDate,
				"quantity":      units,
				"buy_value":     valueOrZero(txn.BrokerCost),
				"sell_value":    proceeds,
				"profit":        brokerProfit(txn),
				"term":          brokerTerm(txn),
				"source":        string(ing.source()),
			},
		}
		gainsKey := txservice.BuildIdempotencyKey("stockcg", fileHash, txn.RowIdx, symbol)
		if _, err := ing.tx.RecordAssetOnlyTx(ctx, tx, txservice.RecordRequest{
			UserID:         userID,
			Source:         ing.source(),
			IdempotencyKey: gainsKey,
			AssetRecords:   []txservice.AssetRecord{gains},
		}); err != nil {
			return total, err
		}
	}
	return total, nil
}

func (ing *Ingester) postPPFTransaction(ctx context.Context, tx store.DB, userID int64, fileHash string, txn parser.Transaction) (postOutcome, error) {
	key := txservice.BuildIdempotencyKey("ppf", fileHash, txn.RowIdx,
		txn.AccountNumber, txn.Date.Format("2006-01-02"), txn.Amount.String(), string(txn.TxnType))

	assetRow := txservice.AssetRecord{
		Table:      "ppf_transactions",
		OnConflict: models.ConflictIgnore,
		Data: map[string]any{
			"account_number": txn.AccountNumber,
			"txn_date":       txn.Date,
			"txn_type":       string(txn.TxnType),
			"amount":         txn.Amount,
			"source":         string(ing.source()),
		},
	}
	if txn.BalanceAfter != nil {
		assetRow.Data["balance_after"] = *txn.BalanceAfter
	}

	amount := txn.Amount.Abs()
	var ev ledger.Event
	switch txn.TxnType {
	case models.TxnContribution:
		ev = ledger.Event{
			Kind:      ledger.EventContribution,
			AssetType: txn.AssetType,
			Amounts:   map[ledger.LegRole]decimal.Decimal{ledger.RoleAsset: amount, ledger.RoleBank: amount},
		}
	case models.TxnInterest:
		ev = ledger.Event{
			Kind:      ledger.EventPassbookInterest,
			AssetType: txn.AssetType,
			Amounts:   map[ledger.LegRole]decimal.Decimal{ledger.RoleAsset: amount, ledger.RoleIncome: amount},
		}
	case models.TxnWithdrawal:
		// Negative amounts flip the legs: asset credited, bank debited.
		ev = ledger.Event{
			Kind:      ledger.EventContribution,
			AssetType: txn.AssetType,
			Amounts:   map[ledger.LegRole]decimal.Decimal{ledger.RoleAsset: amount.Neg(), ledger.RoleBank: amount.Neg()},
		}
	default:
		return ing.postAssetOnly(ctx, tx, userID, txn, key, assetRow)
	}
	ev.Narration = narration(txn)

	return ing.postEvent(ctx, tx, userID, txn, ev, key, assetRow)
}

func (ing *Ingester) postBankTransaction(ctx context.Context, tx store.DB, userID int64, fileHash string, txn parser.Transaction) (postOutcome, error) {
	rowHash := parser.BankRowHash(userID, txn.Bank, txn.Date.Format("2006-01-02"), txn.Description, txn.Amount.String())
	key := txservice.BuildIdempotencyKey("bank", fileHash, txn.RowIdx, rowHash[:16])

	assetRow := txservice.AssetRecord{
		Table:      "bank_transactions",
		OnConflict: models.ConflictIgnore,
		Data: map[string]any{
			"bank":            txn.Bank,
			"account_number":  txn.AccountNumber,
			"txn_date":        txn.Date,
			"raw_description": txn.Description,
			"amount":          txn.Amount,
			"category":        bankCategory(txn.TxnType),
			"row_hash":        rowHash,
			"source":          string(ing.source()),
		},
	}
	if txn.BalanceAfter != nil {
		assetRow.Data["balance_after"] = *txn.BalanceAfter
	}

	amount := txn.Amount.Abs()
	var ev ledger.Event
	switch txn.TxnType {
	case models.TxnInterest:
		ev = ledger.Event{
			Kind:    ledger.EventBankInterest,
			Amounts: map[ledger.LegRole]decimal.Decimal{ledger.RoleBank: amount, ledger.RoleIncome: amount},
		}
	case models.TxnCharge:
		ev = ledger.Event{
			Kind:    ledger.EventBankCharge,
			Amounts: map[ledger.LegRole]decimal.Decimal{ledger.RoleExpense: amount, ledger.RoleBank: amount},
		}
	case models.TxnContribution:
		ev = ledger.Event{
			Kind:    ledger.EventSalary,
			Amounts: map[ledger.LegRole]decimal.Decimal{ledger.RoleBank: amount, ledger.RoleIncome: amount},
		}
	default:
		// Ordinary spends and transfers carry no ledger meaning on their
		// own; the statement row feeds the balance sheet and cash flow.
		return ing.postAssetOnly(ctx, tx, userID, txn, key, assetRow)
	}
	ev.Narration = narration(txn)

	return ing.postEvent(ctx, tx, userID, txn, ev, key, assetRow)
}

// postBuy posts the buy journal and, on first insert, records the lot.
func (ing *Ingester) postBuy(ctx context.Context, tx store.DB, userID int64, txn parser.Transaction, symbol, key string, assetRow txservice.AssetRecord) (postOutcome, error) {
	amount := txn.Amount.Abs()
	units := txn.Units.Abs()
	ev := ledger.Event{
		Kind:      ledger.EventBuy,
		AssetType: txn.AssetType,
		Amounts:   map[ledger.LegRole]decimal.Decimal{ledger.RoleAsset: amount, ledger.RoleBank: amount},
		Narration: narration(txn),
	}

	out, err := ing.postEvent(ctx, tx, userID, txn, ev, key, assetRow)
	if err != nil || out.duplicate {
		return out, err
	}
	if _, err := ing.tracker.RecordPurchase(ctx, tx, userID, txn.AssetType, symbol,
		txn.Date, units, amount, key, txn.Currency); err != nil {
		return out, err
	}
	return out, nil
}

// postSell computes the cost basis on the open transaction, posts the sell
// journal with the realised gain split by term, and depletes the matched
// lots strictly after the journal insert.
func (ing *Ingester) postSell(ctx context.Context, tx store.DB, userID int64, txn parser.Transaction, symbol, key string, assetRow txservice.AssetRecord) (postOutcome, error) {
	units := txn.Units.Abs()
	proceeds := txn.Amount.Abs()

	calc, err := ing.tracker.CalculateCostBasis(ctx, tx, userID, txn.AssetType, symbol, units, txn.Date, &proceeds)
	if err != nil {
		return postOutcome{}, fmt.Errorf("cost basis for %s: %w", symbol, err)
	}

	gain := proceeds.Sub(calc.TotalCostBasis)
	amounts := map[ledger.LegRole]decimal.Decimal{
		ledger.RoleBank:  proceeds,
		ledger.RoleAsset: calc.TotalCostBasis,
	}
	if calc.IsLongTerm {
		amounts[ledger.RoleGainLong] = gain
	} else {
		amounts[ledger.RoleGainShort] = gain
	}
	ev := ledger.Event{
		Kind:      ledger.EventSell,
		AssetType: txn.AssetType,
		Amounts:   amounts,
		Narration: narration(txn),
	}

	out, err := ing.postEvent(ctx, tx, userID, txn, ev, key, assetRow)
	if err != nil || out.duplicate {
		return out, err
	}
	if err := ing.tracker.DepleteLots(ctx, tx, userID, txn.AssetType, symbol, calc); err != nil {
		return out, err
	}
	if err := ing.checkBrokerGainDrift(ctx, tx, userID, txn, symbol, gain, units); err != nil {
		return out, err
	}
	return out, nil
}

// checkBrokerGainDrift compares the lot-derived gain with the gain columns
// the broker or RTA printed on the row. Lots stay the source of truth; a
// divergence beyond 0.01 per unit is recorded for review, not corrected.
func (ing *Ingester) checkBrokerGainDrift(ctx context.Context, tx store.DB, userID int64, txn parser.Transaction, symbol string, gain, units decimal.Decimal) error {
	if txn.BrokerSTCG == nil && txn.BrokerLTCG == nil {
		return nil
	}
	brokerGain := valueOrZero(txn.BrokerSTCG).Add(valueOrZero(txn.BrokerLTCG))
	diff := gain.Sub(brokerGain)
	tolerance := decimal.New(1, -2).Mul(units)
	if diff.Abs().Cmp(tolerance) <= 0 {
		return nil
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO reconciliation_events
			(user_id, golden_ref_id, event_type, asset_type, match_key,
			 golden_value, system_value, difference, result, severity)
		VALUES ($1, $2, 'COST_BASIS_DRIFT', $3, $4, $5, $6, $7, $8, $9)`,
		userID, fmt.Sprintf("broker:%s", ing.source()), string(txn.AssetType), symbol,
		brokerGain, gain, diff, string(models.MatchMismatch), string(models.SeverityWarning),
	); err != nil {
		return store.WrapError(err)
	}
	ing.log.WithFields(logrus.Fields{
		"symbol":      symbol,
		"broker_gain": brokerGain.String(),
		"lot_gain":    gain.String(),
	}).Warn("broker gain diverges from lot cost basis")
	return nil
}

// postIncome posts a cash income event (dividend credit).
func (ing *Ingester) postIncome(ctx context.Context, tx store.DB, userID int64, txn parser.Transaction, kind ledger.EventKind, key string, assetRow txservice.AssetRecord) (postOutcome, error) {
	amount := txn.Amount.Abs()
	ev := ledger.Event{
		Kind:      kind,
		AssetType: txn.AssetType,
		Amounts:   map[ledger.LegRole]decimal.Decimal{ledger.RoleBank: amount, ledger.RoleIncome: amount},
		Narration: narration(txn),
	}
	return ing.postEvent(ctx, tx, userID, txn, ev, key, assetRow)
}

func (ing *Ingester) postEvent(ctx context.Context, tx store.DB, userID int64, txn parser.Transaction, ev ledger.Event, key string, assetRow txservice.AssetRecord) (postOutcome, error) {
	entries, err := ledger.BuildEntries(ctx, ev, ing.resolver)
	if err != nil {
		return postOutcome{}, err
	}
	res, err := ing.tx.RecordTx(ctx, tx, txservice.RecordRequest{
		UserID:         userID,
		Entries:        entries,
		Description:    narration(txn),
		Source:         ing.source(),
		IdempotencyKey: key,
		TxnDate:        txn.Date,
		ReferenceType:  string(ev.Kind),
		AssetRecords:   []txservice.AssetRecord{assetRow},
	})
	if err != nil {
		return postOutcome{}, err
	}
	if res.IsDuplicate {
		return postOutcome{duplicate: true}, nil
	}
	return postOutcome{recorded: 1}, nil
}

// postAssetOnly writes the asset row without a journal, for rows with no
// double-entry meaning.
func (ing *Ingester) postAssetOnly(ctx context.Context, tx store.DB, userID int64, txn parser.Transaction, key string, assetRow txservice.AssetRecord) (postOutcome, error) {
	res, err := ing.tx.RecordAssetOnlyTx(ctx, tx, txservice.RecordRequest{
		UserID:         userID,
		Source:         ing.source(),
		IdempotencyKey: key,
		AssetRecords:   []txservice.AssetRecord{assetRow},
	})
	if err != nil {
		return postOutcome{}, err
	}
	if res.IsDuplicate {
		return postOutcome{duplicate: true}, nil
	}
	return postOutcome{recorded: 1}, nil
}

// postEventRecord posts a non-transactional parsed event. Broker dividend
// lists are the one current case.
func (ing *Ingester) postEventRecord(ctx context.Context, tx store.DB, userID int64, fileHash string, source models.Source, pe parser.Event) (postOutcome, error) {
	if pe.Kind != "dividend" {
		return postOutcome{}, nil
	}
	txn := parser.Transaction{
		AssetType:   models.AssetIndianStock,
		TxnType:     models.TxnDividend,
		Date:        pe.Date,
		Symbol:      pe.Symbol,
		Description: pe.Description,
		Amount:      pe.Amount,
		RowIdx:      pe.RowIdx,
	}
	key := txservice.BuildIdempotencyKey("div", fileHash, pe.RowIdx,
		pe.Symbol, pe.Date.Format("2006-01-02"), pe.Amount.String())

	amount := pe.Amount.Abs()
	ev := ledger.Event{
		Kind:      ledger.EventDividend,
		Amounts:   map[ledger.LegRole]decimal.Decimal{ledger.RoleBank: amount, ledger.RoleIncome: amount},
		Narration: narration(txn),
	}
	entries, err := ledger.BuildEntries(ctx, ev, ing.resolver)
	if err != nil {
		return postOutcome{}, err
	}
	res, err := ing.tx.RecordTx(ctx, tx, txservice.RecordRequest{
		UserID:         userID,
		Entries:        entries,
		Description:    narration(txn),
		Source:         source,
		IdempotencyKey: key,
		TxnDate:        pe.Date,
		ReferenceType:  string(ledger.EventDividend),
	})
	if err != nil {
		return postOutcome{}, err
	}
	if res.IsDuplicate {
		return postOutcome{duplicate: true}, nil
	}
	return postOutcome{recorded: 1}, nil
}

// postHoldings stores a golden statement: one reference row plus its
// holdings, no journals. These feed reconciliation, never the ledger.
func (ing *Ingester) postHoldings(ctx context.Context, tx store.DB, userID int64, fileHash string, res *parser.ParseResult) (int, error) {
	refID := fmt.Sprintf("%s:%s", res.Parser, shortHash(fileHash))
	statementDate := time.Now().UTC()
	if res.StatementDate != nil {
		statementDate = *res.StatementDate
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO golden_references (user_id, reference_id, source, statement_date, file_hash)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (reference_id) DO NOTHING`,
		userID, refID, string(res.Parser), statementDate, fileHash); err != nil {
		return 0, store.WrapError(err)
	}

	recorded := 0
	for i, h := range res.Holdings {
		key := txservice.BuildIdempotencyKey("golden", fileHash, i, h.ISIN, h.Folio)
		out, err := ing.tx.RecordAssetOnlyTx(ctx, tx, txservice.RecordRequest{
			UserID:         userID,
			Source:         res.Parser,
			IdempotencyKey: key,
			AssetRecords: []txservice.AssetRecord{{
				Table:      "golden_holdings",
				OnConflict: models.ConflictIgnore,
				Data: map[string]any{
					"golden_ref_id": refID,
					"asset_type":    string(h.AssetType),
					"isin":          h.ISIN,
					"folio_number":  h.Folio,
					"symbol":        h.Symbol,
					"name":          h.Name,
					"units":         h.Units,
					"market_value":  h.MarketValue,
					"nav":           h.NAV,
				},
			}},
		})
		if err != nil {
			return recorded, err
		}
		if !out.IsDuplicate {
			recorded++
		}
	}
	return recorded, nil
}

// source is the parser currently driving the batch loop, or manual entry
// outside a batch.
func (ing *Ingester) source() models.Source {
	if ing.currentSource != "" {
		return ing.currentSource
	}
	return models.SourceManual
}

// bankCategory renders the classified type in the statement category style
// the income aggregator filters on ("Interest", "Charge", "Misc").
func bankCategory(tt models.TxnType) string {
	s := string(tt)
	if s == "" {
		return "Misc"
	}
	return s[:1] + strings.ToLower(s[1:])
}

func lotSymbol(txn parser.Transaction) string {
	if txn.Symbol != "" {
		return txn.Symbol
	}
	if txn.ISIN != "" {
		return txn.ISIN
	}
	return txn.Scheme
}

func narration(txn parser.Transaction) string {
	if txn.Description != "" {
		return txn.Description
	}
	name := txn.Scheme
	if name == "" {
		name = txn.Symbol
	}
	return strings.TrimSpace(fmt.Sprintf("%s %s", txn.TxnType, name))
}

func perUnit(amount, units decimal.Decimal) decimal.Decimal {
	if units.IsZero() {
		return decimal.Zero
	}
	return amount.Div(units).RoundBank(4)
}

func valueOrZero(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}

func brokerProfit(txn parser.Transaction) decimal.Decimal {
	if txn.BrokerLTCG != nil {
		return *txn.BrokerLTCG
	}
	if txn.BrokerSTCG != nil {
		return *txn.BrokerSTCG
	}
	return decimal.Zero
}

func brokerTerm(txn parser.Transaction) string {
	if txn.BrokerLTCG != nil {
		return "long"
	}
	return "short"
}

func shortHash(h string) string {
	if len(h) > 8 {
		return h[:8]
	}
	return h
}
