package cdr

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/markusmobius/go-dateparser"
	"github.com/xuri/excelize/v2"
)

// Canonical column names after header matching.
const (
	colCaller    = "caller"
	colCallee    = "callee"
	colStartTime = "start_time"
	colDuration  = "duration"
	colCellID    = "cell_id"
	colCallType  = "call_type"
)

// aliasTable lists accepted header spellings per canonical column, in
// normalized form (lower case, punctuation collapsed to single spaces).
// Operator exports disagree wildly on naming.
var aliasTable = map[string][]string{
	colCaller:    {"caller", "calling number", "calling no", "a party", "a party number", "msisdn", "from", "source number"},
	colCallee:    {"callee", "called number", "called no", "b party", "b party number", "to", "target number"},
	colStartTime: {"start time", "call date time", "call date", "date time", "datetime", "date", "timestamp"},
	colDuration:  {"duration", "call duration", "duration s", "duration sec", "duration secs"},
	colCellID:    {"cell id", "first cell id", "cell global id", "tower", "tower id"},
	colCallType:  {"call type", "type", "call direction", "in out"},
}

var headerAliases = buildHeaderAliases()

func buildHeaderAliases() map[string]string {
	m := make(map[string]string)
	for canonical, aliases := range aliasTable {
		for _, alias := range aliases {
			m[alias] = canonical
		}
	}
	return m
}

// headerScanLimit bounds how many leading rows are searched for the header;
// operator exports often carry title and disclaimer rows first.
const headerScanLimit = 10

// ParseResult is the outcome of parsing one CDR file.
type ParseResult struct {
	Calls   []Call
	Skipped int
}

// Parse parses a CDR file by extension: .xlsx/.xls through excelize, .csv
// through encoding/csv. Numbers come back normalized and timestamps parsed
// leniently; rows without either party are counted as skipped.
func Parse(content []byte, filename string) (*ParseResult, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx", ".xls":
		return parseWorkbook(content)
	case ".csv":
		return parseCSV(content)
	default:
		return nil, fmt.Errorf("unsupported CDR format %q", filepath.Ext(filename))
	}
}

func parseWorkbook(content []byte) (*ParseResult, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}

	return parseRows(rows)
}

func parseCSV(content []byte) (*ParseResult, error) {
	reader := csv.NewReader(bytes.NewReader(content))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}

	return parseRows(rows)
}

func parseRows(rows [][]string) (*ParseResult, error) {
	headerIdx, columns := findHeader(rows)
	if columns == nil {
		return nil, fmt.Errorf("no caller/callee header row found in first %d rows", headerScanLimit)
	}

	result := &ParseResult{}
	for _, row := range rows[headerIdx+1:] {
		if rowEmpty(row) {
			continue
		}

		call := Call{
			Caller:          NormalizePhone(cellAt(row, columnIndex(columns, colCaller))),
			Callee:          NormalizePhone(cellAt(row, columnIndex(columns, colCallee))),
			StartTime:       parseTimestamp(cellAt(row, columnIndex(columns, colStartTime))),
			DurationSeconds: parseDurationSeconds(cellAt(row, columnIndex(columns, colDuration))),
			CellID:          strings.TrimSpace(cellAt(row, columnIndex(columns, colCellID))),
			CallType:        strings.TrimSpace(cellAt(row, columnIndex(columns, colCallType))),
		}

		if call.Caller == "" && call.Callee == "" {
			result.Skipped++
			continue
		}

		result.Calls = append(result.Calls, call)
	}

	return result, nil
}

// findHeader locates the first row that maps both a caller and a callee
// column and returns its index plus the canonical-column → cell-index map.
func findHeader(rows [][]string) (int, map[string]int) {
	limit := len(rows)
	if limit > headerScanLimit {
		limit = headerScanLimit
	}

	for i := 0; i < limit; i++ {
		columns := make(map[string]int)
		for j, cell := range rows[i] {
			canonical, ok := headerAliases[normalizeHeader(cell)]
			if !ok {
				continue
			}
			if _, taken := columns[canonical]; !taken {
				columns[canonical] = j
			}
		}

		_, hasCaller := columns[colCaller]
		_, hasCallee := columns[colCallee]
		if hasCaller && hasCallee {
			return i, columns
		}
	}

	return 0, nil
}

// normalizeHeader lower-cases a header cell and collapses punctuation runs
// to single spaces, so "Call Duration(Sec)" matches "call duration sec".
func normalizeHeader(s string) string {
	var b strings.Builder
	pendingSpace := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(r)
		default:
			pendingSpace = true
		}
	}
	return b.String()
}

// NormalizePhone reduces a phone-like string to its digits, keeping a
// leading +. Strings with fewer than 5 digits are not phone numbers and
// normalize to "".
func NormalizePhone(s string) string {
	s = strings.TrimSpace(s)
	plus := strings.HasPrefix(s, "+")

	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}

	digits := b.String()
	if len(digits) < 5 {
		return ""
	}
	if plus {
		return "+" + digits
	}
	return digits
}

// columnIndex returns the cell index of a canonical column, -1 when the
// header did not carry it.
func columnIndex(columns map[string]int, name string) int {
	if idx, ok := columns[name]; ok {
		return idx
	}
	return -1
}

func cellAt(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}

func rowEmpty(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// parseTimestamp parses operator timestamps leniently. Formats vary between
// exports (and sometimes between rows), so exact layouts are a lost cause.
func parseTimestamp(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}

	dt, err := dateparser.Parse(nil, s)
	if err != nil {
		return time.Time{}
	}
	return dt.Time
}

// parseDurationSeconds accepts plain seconds, float seconds (excel numeric
// cells) and hh:mm:ss / mm:ss clock notation.
func parseDurationSeconds(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}

	if n, err := strconv.Atoi(s); err == nil {
		return n
	}

	if strings.Contains(s, ":") {
		parts := strings.Split(s, ":")
		total := 0
		for _, part := range parts {
			n, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				return 0
			}
			total = total*60 + n
		}
		return total
	}

	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int(f)
	}

	return 0
}
