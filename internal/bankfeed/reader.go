package bankfeed

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/tallyhq/tally/internal/encoding"
	"github.com/tallyhq/tally/internal/ledger"
	"github.com/tallyhq/tally/internal/money"
)

// ParseStatement reads the normalized CSV interchange format the extraction
// pipeline produces:
//
//	date,amount,direction,description[,reference[,confidence]]
//
// Dates are ISO (2006-01-02), amounts are positive decimal strings, direction
// is in|out. The input may arrive in any charset; it is transcoded first.
func ParseStatement(r io.Reader) ([]CreateParams, error) {
	utf8r, err := encoding.NewUTF8Reader(r)
	if err != nil {
		return nil, fmt.Errorf("preparing statement reader: %w", err)
	}

	cr := csv.NewReader(utf8r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, ledger.Validationf("statement is empty")
	}

	if err != nil {
		return nil, fmt.Errorf("reading statement header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}

	for _, required := range []string{"date", "amount", "direction", "description"} {
		if _, ok := cols[required]; !ok {
			return nil, ledger.Validationf("statement is missing the %q column", required)
		}
	}

	field := func(record []string, name string) string {
		idx, ok := cols[name]
		if !ok || idx >= len(record) {
			return ""
		}

		return strings.TrimSpace(record[idx])
	}

	var params []CreateParams

	for row := 2; ; row++ {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}

		if err != nil {
			return nil, ledger.Validationf("row %d: %v", row, err)
		}

		date, err := time.Parse(time.DateOnly, field(record, "date"))
		if err != nil {
			return nil, ledger.Validationf("row %d: bad date %q", row, field(record, "date"))
		}

		amount, err := money.Parse(field(record, "amount"))
		if err != nil {
			return nil, ledger.Validationf("row %d: bad amount %q", row, field(record, "amount"))
		}

		if !amount.IsPositive() {
			return nil, ledger.Validationf("row %d: amount must be positive", row)
		}

		direction := Direction(strings.ToLower(field(record, "direction")))
		if !direction.Valid() {
			return nil, ledger.Validationf("row %d: bad direction %q", row, field(record, "direction"))
		}

		confidence := Confidence(strings.ToLower(field(record, "confidence")))
		switch confidence {
		case "", ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
		default:
			return nil, ledger.Validationf("row %d: bad confidence %q", row, field(record, "confidence"))
		}

		params = append(params, CreateParams{
			Date:        date,
			Amount:      amount,
			Direction:   direction,
			Description: field(record, "description"),
			Reference:   field(record, "reference"),
			Confidence:  confidence,
		})
	}

	return params, nil
}
