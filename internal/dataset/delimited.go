package dataset

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

type DelimitedOptions struct {
	Delimiter rune
	MaxRows   int
}

var delimiterCandidates = []rune{',', ';', '\t', '|'}

// ParseDelimited reads a header line followed by data rows and infers a
// dtype per column.
func ParseDelimited(r io.Reader, opts DelimitedOptions) (*Dataset, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read delimited input: %w", err)
	}
	raw = bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf"))
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, errors.New("delimited input is empty")
	}

	delim := opts.Delimiter
	if delim == 0 {
		delim = sniffDelimiter(raw)
	}

	reader := csv.NewReader(bytes.NewReader(raw))
	reader.Comma = delim
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	names := dedupeNames(header)

	cells := make([][]string, len(names))
	rowCount := 0
	for opts.MaxRows <= 0 || rowCount < opts.MaxRows {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", rowCount+1, err)
		}
		if len(record) > len(names) {
			return nil, fmt.Errorf("row %d has %d fields, header has %d", rowCount+1, len(record), len(names))
		}
		for col := range names {
			value := ""
			if col < len(record) {
				value = record[col]
			}
			cells[col] = append(cells[col], value)
		}
		rowCount++
	}

	columns := make([]Column, len(names))
	for col, name := range names {
		columns[col] = Column{Name: name, DType: inferTextColumn(cells[col])}
	}
	rows := make([][]any, rowCount)
	for i := range rows {
		row := make([]any, len(columns))
		for col, column := range columns {
			row[col] = parseCell(cells[col][i], column.DType)
		}
		rows[i] = row
	}
	return &Dataset{Columns: columns, Rows: rows}, nil
}

func sniffDelimiter(raw []byte) rune {
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	if !scanner.Scan() {
		return ','
	}
	header := scanner.Text()
	best, bestCount := ',', 0
	for _, candidate := range delimiterCandidates {
		if count := strings.Count(header, string(candidate)); count > bestCount {
			best, bestCount = candidate, count
		}
	}
	return best
}
