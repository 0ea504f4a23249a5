package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableFuzzyColumnLookup(t *testing.T) {
	grid := [][]string{
		{"Scheme Name", "Folio No.", "Trade Date", "AMOUNT (INR)", "Units"},
		{"Fund X Growth", "123/45", "01-Jun-2023", "5,000.00", "100.0000"},
	}
	table, err := NewTable(grid, 0)
	require.NoError(t, err)
	require.Equal(t, 1, table.Len())

	row := table.Row(0)

	v, ok := row.GetByAny("Scheme")
	assert.True(t, ok)
	assert.Equal(t, "Fund X Growth", v)

	v, ok = row.GetByAny("Folio Number", "Folio")
	assert.True(t, ok)
	assert.Equal(t, "123/45", v)

	amt, err := row.Amount("Amount")
	require.NoError(t, err)
	assert.Equal(t, "5000", amt.String())

	units, err := row.Units("Units")
	require.NoError(t, err)
	assert.Equal(t, "100", units.String())

	date, err := row.Date("Date", "Trade Date")
	require.NoError(t, err)
	assert.Equal(t, "2023-06-01", date.Format("2006-01-02"))

	_, ok = row.GetByAny("ISIN")
	assert.False(t, ok)
}

func TestTableExactMatchBeatsSubstring(t *testing.T) {
	grid := [][]string{
		{"Purchase Date", "Date"},
		{"01-Jan-2020", "15-Mar-2024"},
	}
	table, err := NewTable(grid, 0)
	require.NoError(t, err)

	v, ok := table.Row(0).GetByAny("Date")
	assert.True(t, ok)
	assert.Equal(t, "15-Mar-2024", v)
}

func TestNewTableHeaderOutOfRange(t *testing.T) {
	_, err := NewTable([][]string{{"a"}}, 3)
	assert.Error(t, err)
}

func TestParseDateLayouts(t *testing.T) {
	for _, in := range []string{"01-Jun-2023", "01-Jun-23", "2023-06-01", "01/06/2023", "01-06-2023", "1 Jun 2023"} {
		d, err := ParseDate(in)
		require.NoError(t, err, in)
		assert.Equal(t, "2023-06-01", d.Format("2006-01-02"), in)
	}
	_, err := ParseDate("yesterday")
	assert.Error(t, err)
}

func TestFindHeaderRow(t *testing.T) {
	grid := [][]string{
		{"HDFC BANK LTD"},
		{"Statement of account"},
		{},
		{"Date", "Narration", "Chq/Ref No", "Withdrawal Amt", "Deposit Amt", "Closing Balance"},
		{"01/04/2024", "UPI/groceries", "", "500.00", "", "10,000.00"},
	}
	idx := FindHeaderRow(grid, bankHeaderKeywords, 20)
	assert.Equal(t, 3, idx)
}

func TestFindHeaderRowNoMatch(t *testing.T) {
	grid := [][]string{
		{"alpha", "beta"},
		{"1", "2"},
	}
	assert.Equal(t, -1, FindHeaderRow(grid, bankHeaderKeywords, 20))
}

func TestRowIsEmptyAndSourceIdx(t *testing.T) {
	grid := [][]string{
		{"preamble"},
		{"Date", "Amount"},
		{"", "  "},
		{"01-Jun-2023", "10"},
	}
	table, err := NewTable(grid, 1)
	require.NoError(t, err)
	assert.True(t, table.Row(0).IsEmpty())
	assert.False(t, table.Row(1).IsEmpty())
	assert.Equal(t, 3, table.Row(1).SourceIdx())
}
