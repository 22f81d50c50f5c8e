package statement

import "strings"

// ColumnRole is the inferred meaning of one column in a statement export.
type ColumnRole string

const (
	RoleDate        ColumnRole = "date"
	RoleDescription ColumnRole = "description"
	RoleReference   ColumnRole = "reference"
	RoleDebit       ColumnRole = "debit"
	RoleCredit      ColumnRole = "credit"
	RoleAmount      ColumnRole = "amount"
	RoleBalance     ColumnRole = "balance"
	RoleIgnore      ColumnRole = "ignore"
)

// ConfidenceThreshold is the minimum score a role must reach to be assigned
// to a column. Below it the column is ignored.
const ConfidenceThreshold = 0.6

// SampleRows caps how many data rows feed the content classifiers.
const SampleRows = 20

var roleKeywords = map[ColumnRole][]string{
	RoleDate:        {"date"},
	RoleDescription: {"description", "narration", "narrative", "details", "particulars", "remarks"},
	RoleReference:   {"ref"},
	RoleDebit:       {"debit", "withdrawal"},
	RoleCredit:      {"credit", "deposit"},
	RoleAmount:      {"amount"},
	RoleBalance:     {"balance"},
}

// ColumnGuess is the scored role assigned to one column.
type ColumnGuess struct {
	Role        ColumnRole
	Confidence  float64
	HeaderMatch bool
}

// Schema maps column indexes to roles for one parsed table. Index fields are
// -1 when the role was not detected.
type Schema struct {
	Columns []ColumnGuess

	Date        int
	Description int
	Reference   int
	Debit       int
	Credit      int
	Amount      int
	Balance     int
}

// PairMode reports whether the export carries a debit/credit column pair
// rather than a single signed amount column.
func (s *Schema) PairMode() bool {
	return s.Credit >= 0 && s.Debit >= 0
}

// DetectSchema assigns a confidence-scored role to every column. A
// header-keyword match always outweighs content-based inference: it lifts
// the score to 0.6 + 0.4*contentRate, so a keyword column clears the
// threshold even when its sampled cells are sparse.
//
// Required roles are date and one of credit / amount. Missing either rejects
// the whole table with SchemaAmbiguousError.
func DetectSchema(t *Table, patterns []ReferencePattern) (*Schema, error) {
	width := tableWidth(t)
	sample := t.Rows
	if len(sample) > SampleRows {
		sample = sample[:SampleRows]
	}

	guesses := make([]ColumnGuess, width)
	stats := make([]columnStats, width)
	for j := 0; j < width; j++ {
		stats[j] = sampleColumn(sample, j, patterns)
	}

	for j := 0; j < width; j++ {
		guesses[j] = scoreColumn(t, j, stats[j])
	}

	sc := &Schema{
		Columns:     guesses,
		Date:        -1,
		Description: -1,
		Reference:   -1,
		Debit:       -1,
		Credit:      -1,
		Amount:      -1,
		Balance:     -1,
	}
	// first (highest-confidence, then lowest index) column wins each role
	assign := func(role ColumnRole, slot *int) {
		best := -1.0
		for j, g := range guesses {
			if g.Role != role {
				continue
			}
			if g.Confidence > best {
				best = g.Confidence
				*slot = j
			}
		}
	}
	assign(RoleDate, &sc.Date)
	assign(RoleDescription, &sc.Description)
	assign(RoleReference, &sc.Reference)
	assign(RoleDebit, &sc.Debit)
	assign(RoleCredit, &sc.Credit)
	assign(RoleAmount, &sc.Amount)
	assign(RoleBalance, &sc.Balance)

	// headerless exports with several numeric columns: the first one is the
	// transaction amount, anything after it is treated as a running balance
	if sc.Amount >= 0 && sc.Balance < 0 {
		for j := sc.Amount + 1; j < width; j++ {
			if guesses[j].Role == RoleAmount && j != sc.Amount {
				guesses[j].Role = RoleBalance
				sc.Balance = j
				break
			}
		}
	}

	if sc.Date < 0 {
		return nil, &SchemaAmbiguousError{Role: RoleDate, BestConfidence: bestScoreFor(stats, dateScore)}
	}
	if sc.Credit < 0 && sc.Amount < 0 {
		return nil, &SchemaAmbiguousError{Role: RoleAmount, BestConfidence: bestScoreFor(stats, decimalScore)}
	}
	return sc, nil
}

type columnStats struct {
	sampled  int // non-empty cells sampled
	dates    int
	decimals int
	signed   int // decimals carrying a sign or parentheses
	refs     int // alpha-prefix reference pattern hits
	texts    int // non-date, non-decimal cells
	textLen  int // total length of text cells
}

func sampleColumn(rows [][]string, j int, patterns []ReferencePattern) columnStats {
	var st columnStats
	for _, row := range rows {
		if j >= len(row) {
			continue
		}
		cell := strings.TrimSpace(row[j])
		if cell == "" {
			continue
		}
		st.sampled++
		if _, err := ParseDate(cell); err == nil {
			st.dates++
			continue
		}
		if d, err := ParseAmount(cell); err == nil {
			st.decimals++
			if d.IsNegative() || strings.ContainsAny(cell, "+-(") {
				st.signed++
			}
			continue
		}
		st.texts++
		st.textLen += len(cell)
		for _, p := range patterns {
			if p.AlphaPrefix && p.Pattern.MatchString(cell) {
				st.refs++
				break
			}
		}
	}
	return st
}

func dateScore(st columnStats) float64 {
	if st.sampled == 0 {
		return 0
	}
	return float64(st.dates) / float64(st.sampled)
}

func decimalScore(st columnStats) float64 {
	if st.sampled == 0 {
		return 0
	}
	return float64(st.decimals) / float64(st.sampled)
}

func refScore(st columnStats) float64 {
	if st.sampled == 0 {
		return 0
	}
	return float64(st.refs) / float64(st.sampled)
}

func textScore(st columnStats) float64 {
	if st.sampled == 0 {
		return 0
	}
	return float64(st.texts) / float64(st.sampled)
}

// scoreColumn picks the best role for one column from header keywords and
// sampled-content hit rates.
func scoreColumn(t *Table, j int, st columnStats) ColumnGuess {
	header := ""
	if t.Header != nil && j < len(t.Header) {
		header = strings.ToLower(strings.TrimSpace(t.Header[j]))
	}

	best := ColumnGuess{Role: RoleIgnore}
	consider := func(role ColumnRole, content float64) {
		matched := headerMatches(header, role)
		score := content
		if matched {
			score = ConfidenceThreshold + (1-ConfidenceThreshold)*content
		}
		if score < ConfidenceThreshold {
			return
		}
		// header-backed candidates beat content-only ones outright
		if score > best.Confidence || (matched && !best.HeaderMatch) {
			if !matched && best.HeaderMatch {
				return
			}
			best = ColumnGuess{Role: role, Confidence: score, HeaderMatch: matched}
		}
	}

	consider(RoleDate, dateScore(st))
	consider(RoleDescription, textScore(st))
	consider(RoleReference, refScore(st))
	// debit/credit/balance are header-driven; their cells are plain decimals
	consider(RoleDebit, decimalScore(st))
	consider(RoleCredit, decimalScore(st))
	consider(RoleBalance, decimalScore(st))
	consider(RoleAmount, decimalScore(st))

	// a decimal column without any keyword can only be an amount
	if !best.HeaderMatch && (best.Role == RoleDebit || best.Role == RoleCredit || best.Role == RoleBalance) {
		best.Role = RoleAmount
	}
	// a text column without any keyword is a description candidate only when
	// it is dominated by free text rather than reference-like tokens
	if !best.HeaderMatch && best.Role == RoleDescription && refScore(st) > textScore(st)/2 && st.textLen/maxInt(st.texts, 1) < 12 {
		best.Role = RoleReference
	}
	return best
}

func headerMatches(header string, role ColumnRole) bool {
	if header == "" {
		return false
	}
	for _, kw := range roleKeywords[role] {
		if strings.Contains(header, kw) {
			return true
		}
	}
	return false
}

func bestScoreFor(stats []columnStats, f func(columnStats) float64) float64 {
	best := 0.0
	for _, st := range stats {
		if s := f(st); s > best {
			best = s
		}
	}
	return best
}

func tableWidth(t *Table) int {
	if t.Header != nil {
		return len(t.Header)
	}
	w := 0
	for _, row := range t.Rows {
		if len(row) > w {
			w = len(row)
		}
	}
	return w
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
