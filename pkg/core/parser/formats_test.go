package parser

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arthakosh/pkg/models"
)

func memOpener(files map[string]*MemTabularFile) OpenTabularFunc {
	return func(path string) (TabularFile, error) {
		f, ok := files[path]
		if !ok {
			return nil, fmt.Errorf("%w: %s", models.ErrParse, path)
		}
		return f, nil
	}
}

func camsFixture() *MemTabularFile {
	return &MemTabularFile{
		SheetOrder: []string{"Summary", "TRXN_DETAILS"},
		Grids: map[string][][]string{
			"Summary": {{"CAMS Capital Gains Statement"}},
			"TRXN_DETAILS": {
				{"CAMS"},
				{"Capital Gains Statement"},
				{},
				{"Scheme Name", "Folio No", "Asset Class", "Date", "Desc", "Amount", "Units", "Price", "STT", "Date_1", "Original Purchase Cost", "Grandfathered NAV", "Short Term", "Long Term Without Index"},
				{"Fund X Equity Growth", "123/45", "Equity", "01-Jun-2023", "Purchase", "5,000.00", "100.0000", "50.0000", "", "", "", "", "", ""},
				{"Fund X Equity Growth", "123/45", "Equity", "01-Jul-2024", "Redemption", "4,200.00", "-60.0000", "70.0000", "4.20", "01-Jun-2023", "3,000.00", "", "", "1,200.00"},
				{},
			},
		},
	}
}

func TestCAMSParse(t *testing.T) {
	open := memOpener(map[string]*MemTabularFile{"cams.xlsx": camsFixture()})
	p := NewCAMSParser(open)

	assert.True(t, p.Detect(context.Background(), "cams.xlsx"))

	res, err := p.Parse(context.Background(), "cams.xlsx", "")
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Len(t, res.Transactions, 2)

	buy := res.Transactions[0]
	assert.Equal(t, models.AssetMutualFundEquity, buy.AssetType)
	assert.Equal(t, models.TxnBuy, buy.TxnType)
	assert.Equal(t, "Fund X Equity Growth", buy.Scheme)
	assert.Equal(t, "123/45", buy.Folio)
	assert.Equal(t, "100", buy.Units.String())
	assert.Equal(t, "5000", buy.Amount.String())
	assert.Equal(t, 4, buy.RowIdx)

	sell := res.Transactions[1]
	assert.Equal(t, models.TxnSell, sell.TxnType)
	assert.Equal(t, "-60", sell.Units.String())
	require.NotNil(t, sell.PurchaseDate)
	assert.Equal(t, "2023-06-01", sell.PurchaseDate.Format("2006-01-02"))
	require.NotNil(t, sell.BrokerCost)
	assert.Equal(t, "3000", sell.BrokerCost.String())
	require.NotNil(t, sell.BrokerLTCG)
	assert.Equal(t, "1200", sell.BrokerLTCG.String())
	assert.Nil(t, sell.BrokerSTCG)
}

func TestCAMSFallsBackToSecondSheet(t *testing.T) {
	fixture := camsFixture()
	fixture.SheetOrder = []string{"Summary", "Sheet2"}
	fixture.Grids["Sheet2"] = fixture.Grids["TRXN_DETAILS"]
	delete(fixture.Grids, "TRXN_DETAILS")

	open := memOpener(map[string]*MemTabularFile{"cams.xlsx": fixture})
	res, err := NewCAMSParser(open).Parse(context.Background(), "cams.xlsx", "")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Len(t, res.Transactions, 2)
}

func TestCAMSBadRowBecomesWarning(t *testing.T) {
	fixture := camsFixture()
	grid := fixture.Grids["TRXN_DETAILS"]
	grid[5][3] = "not-a-date"
	open := memOpener(map[string]*MemTabularFile{"cams.xlsx": fixture})

	res, err := NewCAMSParser(open).Parse(context.Background(), "cams.xlsx", "")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Len(t, res.Transactions, 1)
	assert.Len(t, res.Warnings, 1)
}

func TestKarvySchemeCellCarriesFolioAndISIN(t *testing.T) {
	fixture := &MemTabularFile{
		SheetOrder: []string{"Trasaction_Details"},
		Grids: map[string][][]string{
			"Trasaction_Details": {
				{"KFintech"},
				{},
				{},
				{},
				{"Fund Description", "Date", "Desc", "Amount", "Units", "NAV", "STT"},
				{"Axis Bluechip Fund Growth (910123456789 / INF846K01EW2)", "15-Mar-2024", "Purchase", "10,000.00", "250.5000", "39.9200", ""},
			},
		},
	}
	open := memOpener(map[string]*MemTabularFile{"karvy.xlsx": fixture})
	p := NewKarvyParser(open)

	assert.True(t, p.Detect(context.Background(), "karvy.xlsx"))

	res, err := p.Parse(context.Background(), "karvy.xlsx", "")
	require.NoError(t, err)
	require.Len(t, res.Transactions, 1)

	txn := res.Transactions[0]
	assert.Equal(t, "Axis Bluechip Fund Growth", txn.Scheme)
	assert.Equal(t, "910123456789", txn.Folio)
	assert.Equal(t, "INF846K01EW2", txn.ISIN)
	assert.Equal(t, models.TxnBuy, txn.TxnType)
}

func TestSplitKarvyScheme(t *testing.T) {
	scheme, folio, isin := splitKarvyScheme("Fund A (123)")
	assert.Equal(t, "Fund A", scheme)
	assert.Equal(t, "123", folio)
	assert.Empty(t, isin)

	scheme, folio, isin = splitKarvyScheme("Fund B (Growth)")
	assert.Equal(t, "Fund B", scheme)
	assert.Equal(t, "Growth", folio)
	assert.Empty(t, isin)

	scheme, folio, isin = splitKarvyScheme("Plain Fund")
	assert.Equal(t, "Plain Fund", scheme)
	assert.Empty(t, folio)
	assert.Empty(t, isin)

	_, folio, isin = splitKarvyScheme("Fund C (F-99 / INF123456789)")
	assert.Equal(t, "F-99", folio)
	assert.Equal(t, "INF123456789", isin)
}

func zerodhaFixture() *MemTabularFile {
	pad := make([][]string, 14)
	exits := append(append([][]string{}, pad...),
		[]string{"Symbol", "ISIN", "Entry Date", "Exit Date", "Quantity", "Buy Value", "Sell Value", "Profit", "Period of Holding"},
		[]string{"INFY", "INE009A01021", "10-Jan-2023", "20-Feb-2024", "10", "13,000.00", "16,000.00", "3,000.00", "406"},
		[]string{"TCS", "INE467B01029", "05-Dec-2023", "10-Mar-2024", "5", "17,000.00", "18,000.00", "1,000.00", "96"},
		[]string{"Total", "", "", "", "", "", "", "4,000.00", ""},
	)
	dividends := append(append([][]string{}, pad...),
		[]string{"Symbol", "ISIN", "Date", "Quantity", "Net Dividend Amount"},
		[]string{"INFY", "INE009A01021", "15-Jun-2023", "10", "180.00"},
	)
	return &MemTabularFile{
		SheetOrder: []string{"Tradewise Exits from 2023-04-01", "Equity Dividends"},
		Grids: map[string][][]string{
			"Tradewise Exits from 2023-04-01": exits,
			"Equity Dividends":                dividends,
		},
	}
}

func TestZerodhaParse(t *testing.T) {
	open := memOpener(map[string]*MemTabularFile{"pnl.xlsx": zerodhaFixture()})
	p := NewZerodhaParser(open)

	assert.True(t, p.Detect(context.Background(), "pnl.xlsx"))

	res, err := p.Parse(context.Background(), "pnl.xlsx", "")
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Len(t, res.Transactions, 2)

	long := res.Transactions[0]
	assert.Equal(t, models.AssetIndianStock, long.AssetType)
	assert.Equal(t, models.TxnSell, long.TxnType)
	assert.Equal(t, "INFY", long.Symbol)
	assert.Equal(t, "INE009A01021", long.ISIN)
	assert.Equal(t, "delivery", long.Segment)
	assert.Equal(t, "16000", long.Amount.String())
	require.NotNil(t, long.PurchaseDate)
	assert.Equal(t, "2023-01-10", long.PurchaseDate.Format("2006-01-02"))
	require.NotNil(t, long.BrokerLTCG)
	assert.Equal(t, "3000", long.BrokerLTCG.String())
	assert.Nil(t, long.BrokerSTCG)

	short := res.Transactions[1]
	require.NotNil(t, short.BrokerSTCG)
	assert.Equal(t, "1000", short.BrokerSTCG.String())
	assert.Nil(t, short.BrokerLTCG)

	require.Len(t, res.Events, 1)
	assert.Equal(t, "dividend", res.Events[0].Kind)
	assert.Equal(t, "INFY", res.Events[0].Symbol)
	assert.Equal(t, "180", res.Events[0].Amount.String())
}

func TestZerodhaSkipsSubtotalRows(t *testing.T) {
	open := memOpener(map[string]*MemTabularFile{"pnl.xlsx": zerodhaFixture()})
	res, err := NewZerodhaParser(open).Parse(context.Background(), "pnl.xlsx", "")
	require.NoError(t, err)
	for _, txn := range res.Transactions {
		assert.NotEqual(t, "Total", txn.Symbol)
	}
}

func iciciFixture() *MemTabularFile {
	return &MemTabularFile{
		SheetOrder: []string{"Sheet1"},
		Grids: map[string][][]string{
			"Sheet1": {
				{"ICICI Direct"},
				{"Capital Gains Statement FY 2023-24"},
				{},
				{"Stock Symbol", "Quantity", "Purchase Date", "Purchase Value", "Sale Date", "Sale Value", "Profit/Loss"},
				{"Short Term Capital Gain (STT paid)"},
				{"RELIANCE", "8", "10-Nov-23", "18,400.00", "15-Feb-24", "19,200.00", "800.00"},
				{"Long Term Capital Gain (STT paid)"},
				{"HDFCBANK", "20", "01-Apr-21", "28,000.00", "20-Mar-24", "30,400.00", "2,400.00"},
			},
		},
	}
}

func TestICICIParse(t *testing.T) {
	open := memOpener(map[string]*MemTabularFile{"cg.csv": iciciFixture()})
	p := NewICICIParser(open)

	assert.True(t, p.Detect(context.Background(), "cg.csv"))

	res, err := p.Parse(context.Background(), "cg.csv", "")
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Len(t, res.Transactions, 2)

	short := res.Transactions[0]
	assert.Equal(t, "RELIANCE", short.Symbol)
	assert.Equal(t, "2024-02-15", short.Date.Format("2006-01-02"))
	require.NotNil(t, short.PurchaseDate)
	assert.Equal(t, "2023-11-10", short.PurchaseDate.Format("2006-01-02"))
	require.NotNil(t, short.BrokerSTCG)
	assert.Equal(t, "800", short.BrokerSTCG.String())
	assert.Nil(t, short.BrokerLTCG)

	long := res.Transactions[1]
	assert.Equal(t, "HDFCBANK", long.Symbol)
	require.NotNil(t, long.BrokerLTCG)
	assert.Equal(t, "2400", long.BrokerLTCG.String())
	assert.Nil(t, long.BrokerSTCG)
}

func TestPPFParse(t *testing.T) {
	fixture := &MemTabularFile{
		SheetOrder: []string{"Sheet1"},
		Grids: map[string][][]string{
			"Sheet1": {
				{"Public Provident Fund Passbook"},
				{"Account Number:", "PPF0012345"},
				{},
				{"Date", "Particulars", "Deposit", "Withdrawal", "Balance"},
				{"05-Apr-2024", "Deposit by transfer", "1,50,000.00", "", "4,50,000.00"},
				{"31-Mar-2025", "Interest credited", "31,500.00", "", "4,81,500.00"},
			},
		},
	}
	open := memOpener(map[string]*MemTabularFile{"ppf.csv": fixture})
	p := NewPPFParser(open)

	assert.True(t, p.Detect(context.Background(), "ppf.csv"))

	res, err := p.Parse(context.Background(), "ppf.csv", "")
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Len(t, res.Transactions, 2)

	dep := res.Transactions[0]
	assert.Equal(t, models.AssetPPF, dep.AssetType)
	assert.Equal(t, models.TxnContribution, dep.TxnType)
	assert.Equal(t, "PPF0012345", dep.AccountNumber)
	assert.Equal(t, "150000", dep.Amount.String())
	require.NotNil(t, dep.BalanceAfter)
	assert.Equal(t, "450000", dep.BalanceAfter.String())

	interest := res.Transactions[1]
	assert.Equal(t, models.TxnInterest, interest.TxnType)
	assert.Equal(t, "31500", interest.Amount.String())
}

func bankFixture() *MemTabularFile {
	return &MemTabularFile{
		SheetOrder: []string{"Table1"},
		Grids: map[string][][]string{
			"Table1": {
				{"HDFC BANK LTD"},
				{"Statement of account"},
				{},
				{"Date", "Narration", "Withdrawal Amt", "Deposit Amt", "Closing Balance"},
				{"01/04/2024", "SALARY CREDIT ACME CORP", "", "1,00,000.00", "2,50,000.00"},
				{"03/04/2024", "UPI/groceries/4821", "2,350.00", "", "2,47,650.00"},
				{"30/06/2024", "CREDIT INTEREST CAPITALISED", "", "1,875.00", "2,49,525.00"},
				{"30/06/2024", "SMS CHRG JUN", "25.00", "", "2,49,500.00"},
			},
		},
	}
}

func TestBankParse(t *testing.T) {
	open := memOpener(map[string]*MemTabularFile{"stmt.xls": bankFixture()})
	p := NewBankParser(open, nil)

	assert.True(t, p.Detect(context.Background(), "stmt.xls"))

	res, err := p.Parse(context.Background(), "stmt.xls", "")
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Len(t, res.Transactions, 4)

	salary := res.Transactions[0]
	assert.Equal(t, models.AssetBank, salary.AssetType)
	assert.Equal(t, "100000", salary.Amount.String())

	groceries := res.Transactions[1]
	assert.Equal(t, "-2350", groceries.Amount.String())
	assert.Equal(t, models.TxnMisc, groceries.TxnType)
	require.NotNil(t, groceries.BalanceAfter)
	assert.Equal(t, "247650", groceries.BalanceAfter.String())

	assert.Equal(t, models.TxnInterest, res.Transactions[2].TxnType)
	assert.Equal(t, models.TxnCharge, res.Transactions[3].TxnType)
}

func TestBankDetectRejectsBrokerCSV(t *testing.T) {
	open := memOpener(map[string]*MemTabularFile{"cg.csv": iciciFixture()})
	assert.False(t, NewBankParser(open, nil).Detect(context.Background(), "cg.csv"))
}

func TestBankRowHashStable(t *testing.T) {
	a := BankRowHash(1, "hdfc", "2024-04-03", "UPI/groceries/4821", "-2350.00")
	b := BankRowHash(1, "hdfc", "2024-04-03", "UPI/groceries/4821", "-2350.00")
	c := BankRowHash(2, "hdfc", "2024-04-03", "UPI/groceries/4821", "-2350.00")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}

func nsdlPages() []string {
	return []string{
		"NSDL Consolidated Account Statement\nStatement as on 31-Mar-2024\n",
		"Equities (E)\n" +
			"INE009A01021 Infosys Limited 100.000 1,450.00 1,45,000.00\n" +
			"Mutual Fund Folios\n" +
			"Folio No: 910123456789\n" +
			"INF846K01EW2 Axis Bluechip Fund Growth 245.678 52.10 12,799.82\n" +
			"Sovereign Gold Bonds (SGB)\n" +
			"IN0020220011 SGB 2022-23 Series I 10.000 5,926.00 59,260.00\n",
	}
}

func TestNSDLCASParse(t *testing.T) {
	pdf := func(path, password string) (PdfDoc, error) {
		if password == "" {
			return nil, models.ErrPasswordRequired
		}
		if password != "PAN1234" {
			return nil, models.ErrInvalidPassword
		}
		return &MemPdf{Pages: nsdlPages()}, nil
	}
	p := NewNSDLCASParser(pdf)

	assert.True(t, p.Detect(context.Background(), "cas.pdf"))

	_, err := p.Parse(context.Background(), "cas.pdf", "wrong")
	assert.ErrorIs(t, err, models.ErrInvalidPassword)

	res, err := p.Parse(context.Background(), "cas.pdf", "PAN1234")
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Len(t, res.Holdings, 3)

	require.NotNil(t, res.StatementDate)
	assert.Equal(t, "2024-03-31", res.StatementDate.Format("2006-01-02"))

	equity := res.Holdings[0]
	assert.Equal(t, models.AssetIndianStock, equity.AssetType)
	assert.Equal(t, "INE009A01021", equity.ISIN)
	assert.Equal(t, "Infosys Limited", equity.Name)
	assert.Equal(t, "100", equity.Units.String())
	assert.Equal(t, "1450", equity.NAV.String())
	assert.Equal(t, "145000", equity.MarketValue.String())

	mf := res.Holdings[1]
	assert.Equal(t, models.AssetMutualFundEquity, mf.AssetType)
	assert.Equal(t, "910123456789", mf.Folio)
	assert.Equal(t, "245.678", mf.Units.String())

	sgb := res.Holdings[2]
	assert.Equal(t, models.AssetSGB, sgb.AssetType)
	assert.Equal(t, "IN0020220011", sgb.ISIN)
}

func TestNSDLCASDoubledText(t *testing.T) {
	pdf := func(path, password string) (PdfDoc, error) {
		return &MemPdf{Pages: []string{
			"NNSSDDLL  CCoonnssoolliiddaatteedd  AAccccoouunntt  SSttaatteemmeenntt\n" +
				"EEqquuiittiieess  ((EE))\n" +
				"IINNEE000099AA0011002211  IInnffoossyyss  LLiimmiitteedd  110000..000000  11,,445500..0000  11,,4455,,000000..0000\n",
		}}, nil
	}
	res, err := NewNSDLCASParser(pdf).Parse(context.Background(), "cas.pdf", "x")
	require.NoError(t, err)
	require.Len(t, res.Holdings, 1)
	assert.Equal(t, "INE009A01021", res.Holdings[0].ISIN)
	assert.Equal(t, "Infosys Limited", res.Holdings[0].Name)
	assert.Equal(t, "100", res.Holdings[0].Units.String())
}

func TestCollapseDoubledText(t *testing.T) {
	assert.Equal(t, "National", CollapseDoubledText("NNaattiioonnaall"))
	// Ordinary text with legitimate double letters is left alone.
	assert.Equal(t, "Bookkeeping fees", CollapseDoubledText("Bookkeeping fees"))
	assert.Equal(t, "", CollapseDoubledText(""))
}

func TestRegistryDispatch(t *testing.T) {
	files := map[string]*MemTabularFile{
		"cams.xlsx": camsFixture(),
		"stmt.xls":  bankFixture(),
		"cg.csv":    iciciFixture(),
	}
	open := memOpener(files)
	pdf := func(path, password string) (PdfDoc, error) {
		return &MemPdf{Pages: nsdlPages()}, nil
	}
	reg := DefaultRegistry(open, pdf)

	p, err := reg.Dispatch(context.Background(), "cams.xlsx")
	require.NoError(t, err)
	assert.Equal(t, models.SourceCAMS, p.Source())

	p, err = reg.Dispatch(context.Background(), "stmt.xls")
	require.NoError(t, err)
	assert.Equal(t, models.SourceBank, p.Source())

	p, err = reg.Dispatch(context.Background(), "cg.csv")
	require.NoError(t, err)
	assert.Equal(t, models.SourceICICI, p.Source())

	p, err = reg.Dispatch(context.Background(), "cas.pdf")
	require.NoError(t, err)
	assert.Equal(t, models.SourceNSDLCAS, p.Source())

	_, err = reg.Dispatch(context.Background(), "notes.txt")
	assert.ErrorIs(t, err, models.ErrParse)
}

func TestClassifyByUnitsAndDesc(t *testing.T) {
	cases := []struct {
		units string
		desc  string
		want  models.TxnType
	}{
		{"100", "Purchase", models.TxnBuy},
		{"-60", "Redemption", models.TxnSell},
		{"1.5", "Dividend Reinvestment", models.TxnDividendReinvest},
		{"0", "STT Paid", models.TxnTax},
		{"0", "", models.TxnMisc},
	}
	for _, c := range cases {
		units, err := decimal.NewFromString(c.units)
		require.NoError(t, err)
		assert.Equal(t, c.want, ClassifyByUnitsAndDesc(units, c.desc), c.desc)
	}
}
