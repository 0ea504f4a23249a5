package parser

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"arthakosh/pkg/core/money"
	"arthakosh/pkg/models"
)

// NSDLCASParser reads the password-protected NSDL Consolidated Account
// Statement PDF and emits per-holding golden records. Text extraction from
// these PDFs frequently doubles every character, so each line is repaired
// before parsing.
type NSDLCASParser struct {
	pdf PdfOpener
}

func NewNSDLCASParser(pdf PdfOpener) *NSDLCASParser {
	return &NSDLCASParser{pdf: pdf}
}

func (p *NSDLCASParser) Source() models.Source { return models.SourceNSDLCAS }

func (p *NSDLCASParser) Detect(ctx context.Context, file string) bool {
	if p.pdf == nil {
		return false
	}
	doc, err := p.pdf(file, "")
	if err != nil {
		// A password prompt still identifies the format.
		return errors.Is(err, models.ErrPasswordRequired)
	}
	defer doc.Close()
	if doc.PageCount() == 0 {
		return false
	}
	text, err := doc.ExtractText(0)
	if err != nil {
		return false
	}
	text = CollapseDoubledText(text)
	return strings.Contains(text, "Consolidated Account Statement") ||
		strings.Contains(text, "NSDL")
}

type nsdlSection struct {
	header    string
	assetType models.AssetType
}

var nsdlSections = []nsdlSection{
	{"Equities (E)", models.AssetIndianStock},
	{"Mutual Fund Folios", models.AssetMutualFundEquity},
	{"Sovereign Gold Bonds (SGB)", models.AssetSGB},
	{"National Pension System (NPS) Holding Details", models.AssetNPS},
}

var (
	isinRe     = regexp.MustCompile(`\b(INE[A-Z0-9]{9}|INF[A-Z0-9]{9}|IN00[A-Z0-9]{8})\b`)
	numberRe   = regexp.MustCompile(`-?[\d,]+(?:\.\d+)?`)
	nsdlDateRe = regexp.MustCompile(`(?:as on|As on|AS ON)\s+(\d{1,2}[-\s][A-Za-z]{3}[-\s]\d{4})`)
	folioRe    = regexp.MustCompile(`Folio\s*(?:No\.?|Number)?\s*:?\s*([A-Z0-9/\-]+)`)
)

func (p *NSDLCASParser) Parse(ctx context.Context, file, password string) (*ParseResult, error) {
	res := &ParseResult{Success: true, SourceFile: file, Parser: p.Source()}

	if p.pdf == nil {
		return nil, fmt.Errorf("%w: no PDF engine configured", models.ErrParse)
	}
	doc, err := p.pdf(file, password)
	if err != nil {
		return nil, err
	}
	defer doc.Close()

	var lines []string
	for page := 0; page < doc.PageCount(); page++ {
		text, err := doc.ExtractText(page)
		if err != nil {
			res.warnf("page %d: %v", page+1, err)
			continue
		}
		for _, line := range strings.Split(text, "\n") {
			lines = append(lines, CollapseDoubledText(strings.TrimSpace(line)))
		}
	}

	var (
		assetType models.AssetType
		folio     string
	)
	for _, line := range lines {
		if line == "" {
			continue
		}
		if res.StatementDate == nil {
			if m := nsdlDateRe.FindStringSubmatch(line); m != nil {
				if d, err := parseNSDLDate(m[1]); err == nil {
					res.StatementDate = &d
				}
			}
		}
		if s, ok := matchSection(line); ok {
			assetType = s
			folio = ""
			continue
		}
		if m := folioRe.FindStringSubmatch(line); m != nil {
			folio = m[1]
			continue
		}
		if assetType == "" {
			continue
		}

		isinLoc := isinRe.FindStringIndex(line)
		if isinLoc == nil {
			continue
		}
		h, err := nsdlHoldingLine(line, isinLoc, assetType, folio)
		if err != nil {
			res.warnf("%v", err)
			continue
		}
		res.Holdings = append(res.Holdings, *h)
	}

	if len(res.Holdings) == 0 {
		res.failf("no holdings found in statement")
	}
	return res, nil
}

// nsdlHoldingLine parses one "ISIN  Name  units  price  value" line. When
// only two numbers follow the name they are units and market value.
func nsdlHoldingLine(line string, isinLoc []int, assetType models.AssetType, folio string) (*Holding, error) {
	isin := line[isinLoc[0]:isinLoc[1]]
	rest := line[isinLoc[1]:]

	numLocs := numberRe.FindAllStringIndex(rest, -1)
	if len(numLocs) < 2 {
		return nil, errors.Join(models.ErrParse, errors.New("holding line without numeric columns: "+line))
	}
	name := strings.TrimSpace(rest[:numLocs[0][0]])
	if name == "" {
		name = strings.TrimSpace(line[:isinLoc[0]])
	}

	parseNum := func(loc []int) (decimal.Decimal, error) {
		return money.ParseUnits(rest[loc[0]:loc[1]])
	}

	var units, nav, value decimal.Decimal
	var err error
	last := len(numLocs) - 1
	if len(numLocs) >= 3 {
		if units, err = parseNum(numLocs[last-2]); err != nil {
			return nil, err
		}
		if nav, err = parseNum(numLocs[last-1]); err != nil {
			return nil, err
		}
		if value, err = parseNum(numLocs[last]); err != nil {
			return nil, err
		}
	} else {
		if units, err = parseNum(numLocs[0]); err != nil {
			return nil, err
		}
		if value, err = parseNum(numLocs[1]); err != nil {
			return nil, err
		}
	}

	return &Holding{
		AssetType:   nsdlAssetType(isin, assetType),
		ISIN:        isin,
		Folio:       folio,
		Name:        name,
		Units:       units,
		NAV:         nav,
		MarketValue: value,
	}, nil
}

func matchSection(line string) (models.AssetType, bool) {
	for _, s := range nsdlSections {
		if strings.Contains(line, s.header) {
			return s.assetType, true
		}
	}
	return "", false
}

// nsdlAssetType refines the section's asset type from the ISIN prefix, which
// is authoritative when section headers were mangled by extraction.
func nsdlAssetType(isin string, sectionType models.AssetType) models.AssetType {
	switch {
	case strings.HasPrefix(isin, "IN00"):
		return models.AssetSGB
	case strings.HasPrefix(isin, "INF"):
		if sectionType == models.AssetMutualFundDebt {
			return sectionType
		}
		return models.AssetMutualFundEquity
	case strings.HasPrefix(isin, "INE"):
		if sectionType == models.AssetNPS {
			return sectionType
		}
		return models.AssetIndianStock
	default:
		return sectionType
	}
}

func parseNSDLDate(s string) (time.Time, error) {
	return ParseDate(strings.ReplaceAll(s, " ", "-"))
}

// CollapseDoubledText repairs the duplicated-character artifact some PDF
// extractors produce ("NNaattiioonnaall" for "National"). A line is treated
// as doubled only when most of its letter pairs repeat, so legitimate double
// letters survive.
func CollapseDoubledText(line string) string {
	runes := []rune(line)
	letterPairs, doubledPairs := 0, 0
	for i := 0; i+1 < len(runes); i += 2 {
		if isLetter(runes[i]) {
			letterPairs++
			if runes[i] == runes[i+1] {
				doubledPairs++
			}
		}
	}
	if letterPairs < 4 || doubledPairs*10 < letterPairs*8 {
		return line
	}

	var b strings.Builder
	for i := 0; i < len(runes); i++ {
		b.WriteRune(runes[i])
		if i+1 < len(runes) && runes[i] == runes[i+1] {
			i++
		}
	}
	return b.String()
}

func isLetter(r rune) bool {
	return r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z'
}
