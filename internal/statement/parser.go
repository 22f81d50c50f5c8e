package statement

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// Table is the parsed form of one uploaded statement file.
type Table struct {
	Header  []string // nil when the file carries no recognizable header row
	Rows    [][]string
	Skipped []SkippedRow
}

type SkippedRow struct {
	Index  int // zero-based index in the source file
	Reason string
}

// ParserOptions control delimited-text parsing.
type ParserOptions struct {
	Delimiter rune // 0 = sniff from the first line
	// TrailingCellTolerance is how far a row's cell count may deviate from
	// the header width (ragged trailing commas) before the row is skipped.
	TrailingCellTolerance int
}

func DefaultParserOptions() ParserOptions {
	return ParserOptions{TrailingCellTolerance: 2}
}

// ParseStatementFile turns raw file bytes into a Table. Supported formats:
// delimited text (.csv/.txt), .xlsx and legacy .xls.
func ParseStatementFile(filename string, data []byte, opts ParserOptions) (*Table, error) {
	var (
		rows [][]string
		err  error
	)
	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".xlsx":
		rows, err = parseExcelRows(data)
	case ".xls":
		rows, err = parseXLSRows(data)
	default:
		rows, err = parseDelimitedRows(data, opts.Delimiter)
	}
	if err != nil {
		return nil, &MalformedInputError{Reason: err.Error()}
	}
	return buildTable(rows, opts.TrailingCellTolerance)
}

// parseDelimitedRows reads delimited text. Bank exports are frequently
// Windows-1252 encoded, so bytes are transformed to UTF-8 first.
func parseDelimitedRows(data []byte, delim rune) ([][]string, error) {
	utf8Reader := transform.NewReader(bytes.NewReader(data), charmap.Windows1252.NewDecoder())
	decoded, err := io.ReadAll(utf8Reader)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if delim == 0 {
		delim = sniffDelimiter(decoded)
	}
	r := csv.NewReader(bytes.NewReader(decoded))
	r.Comma = delim
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("csv parse: %w", err)
	}
	return rows, nil
}

// sniffDelimiter picks the candidate separator that occurs most often in the
// first non-empty line. Comma wins ties.
func sniffDelimiter(data []byte) rune {
	line := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		line = data[:i]
	}
	best, bestCount := ',', bytes.Count(line, []byte{','})
	for _, c := range []byte{';', '\t', '|'} {
		if n := bytes.Count(line, []byte{c}); n > bestCount {
			best, bestCount = rune(c), n
		}
	}
	return best
}

func parseExcelRows(data []byte) ([][]string, error) {
	xl, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer xl.Close()
	sheet := xl.GetSheetName(0)
	rows, err := xl.GetRows(sheet)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// parseXLSRows parses a legacy XLS workbook. The xls library only opens
// files, so the upload bytes go through a temp file.
func parseXLSRows(data []byte) ([][]string, error) {
	tmp, err := os.CreateTemp("", "statement-*.xls")
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, err
	}
	tmp.Close()

	book, err := xls.Open(tmp.Name(), "utf-8")
	if err != nil {
		return nil, err
	}
	sheet := book.GetSheet(0)
	if sheet == nil {
		return nil, fmt.Errorf("no sheets found")
	}
	rows := [][]string{}
	for i := 0; i <= int(sheet.MaxRow); i++ {
		xlsRow := sheet.Row(i)
		if xlsRow == nil {
			rows = append(rows, nil)
			continue
		}
		// start at column 0 so sparse leading cells keep their position
		rowData := []string{}
		for j := 0; j < xlsRow.LastCol(); j++ {
			rowData = append(rowData, xlsRow.Col(j))
		}
		rows = append(rows, rowData)
	}
	return rows, nil
}

// buildTable locates the header row, normalizes widths and drops rows whose
// cell count deviates beyond the tolerance.
func buildTable(raw [][]string, tolerance int) (*Table, error) {
	rows := make([][]string, 0, len(raw))
	indexes := make([]int, 0, len(raw))
	for i, row := range raw {
		if isEmptyRow(row) {
			continue
		}
		rows = append(rows, row)
		indexes = append(indexes, i)
	}
	if len(rows) == 0 {
		return nil, &MalformedInputError{Reason: "no data rows"}
	}

	t := &Table{}
	headerPos := findHeaderRow(rows)
	width := 0
	start := 0
	if headerPos >= 0 {
		header := make([]string, len(rows[headerPos]))
		for i, h := range rows[headerPos] {
			header[i] = strings.TrimSpace(h)
		}
		t.Header = header
		width = len(header)
		start = headerPos + 1
	} else {
		width = modalWidth(rows)
	}

	for i := start; i < len(rows); i++ {
		row := rows[i]
		diff := len(row) - width
		if diff < 0 {
			diff = -diff
		}
		if diff > tolerance {
			t.Skipped = append(t.Skipped, SkippedRow{
				Index:  indexes[i],
				Reason: fmt.Sprintf("cell count %d deviates from expected %d", len(row), width),
			})
			continue
		}
		// pad or trim trailing cells to the expected width
		for len(row) < width {
			row = append(row, "")
		}
		row = row[:width]
		for j := range row {
			row[j] = strings.TrimSpace(row[j])
		}
		t.Rows = append(t.Rows, row)
	}
	if len(t.Rows) == 0 {
		return nil, &MalformedInputError{Reason: "no usable rows after header"}
	}
	return t, nil
}

// findHeaderRow scans the leading rows for one that names a date column plus
// a description or amount column. Returns -1 when the file has no header.
func findHeaderRow(rows [][]string) int {
	limit := len(rows)
	if limit > 10 {
		limit = 10
	}
	for i := 0; i < limit; i++ {
		hasDate := false
		hasDesc := false
		hasAmount := false
		for _, cell := range rows[i] {
			lc := strings.ToLower(strings.TrimSpace(cell))
			if lc == "" {
				continue
			}
			if strings.Contains(lc, "date") {
				hasDate = true
			}
			if strings.Contains(lc, "description") || strings.Contains(lc, "narration") ||
				strings.Contains(lc, "narrative") || strings.Contains(lc, "details") ||
				strings.Contains(lc, "particulars") || strings.Contains(lc, "remarks") {
				hasDesc = true
			}
			if strings.Contains(lc, "debit") || strings.Contains(lc, "credit") ||
				strings.Contains(lc, "withdrawal") || strings.Contains(lc, "deposit") ||
				strings.Contains(lc, "amount") || strings.Contains(lc, "balance") {
				hasAmount = true
			}
		}
		if hasDate && (hasDesc || hasAmount) {
			return i
		}
	}
	return -1
}

// modalWidth returns the most common row width, used as the reference width
// for headerless files.
func modalWidth(rows [][]string) int {
	counts := map[int]int{}
	for _, row := range rows {
		counts[len(row)]++
	}
	best, bestN := 0, 0
	for w, n := range counts {
		if n > bestN || (n == bestN && w > best) {
			best, bestN = w, n
		}
	}
	return best
}

func isEmptyRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
