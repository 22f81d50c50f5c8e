package statement

import (
	"errors"
	"testing"
)

func TestParseStatementFileCSVWithHeader(t *testing.T) {
	data := []byte("Date,Description,Amount\n" +
		"2025-03-01,PAYMENT FROM STUDENT SUT001,500.00\n" +
		"2025-03-02,EFT DEPOSIT HAR234,2850.00\n")

	table, err := ParseStatementFile("march.csv", data, DefaultParserOptions())
	if err != nil {
		t.Fatalf("ParseStatementFile returned error: %v", err)
	}
	if table.Header == nil {
		t.Fatal("expected a header row to be detected")
	}
	if got, want := len(table.Header), 3; got != want {
		t.Errorf("header width = %d, want %d", got, want)
	}
	if got, want := len(table.Rows), 2; got != want {
		t.Fatalf("row count = %d, want %d", got, want)
	}
	if got, want := table.Rows[0][1], "PAYMENT FROM STUDENT SUT001"; got != want {
		t.Errorf("description cell = %q, want %q", got, want)
	}
}

func TestParseStatementFileSniffsSemicolon(t *testing.T) {
	data := []byte("Date;Description;Amount\n" +
		"2025-03-01;SCHOOL FEES;750.00\n")

	table, err := ParseStatementFile("export.csv", data, DefaultParserOptions())
	if err != nil {
		t.Fatalf("ParseStatementFile returned error: %v", err)
	}
	if got, want := len(table.Header), 3; got != want {
		t.Fatalf("header width = %d, want %d", got, want)
	}
	if got, want := table.Rows[0][2], "750.00"; got != want {
		t.Errorf("amount cell = %q, want %q", got, want)
	}
}

func TestParseStatementFileRaggedRows(t *testing.T) {
	// one trailing comma is within tolerance, five extra cells are not
	data := []byte("Date,Description,Amount\n" +
		"2025-03-01,FEES,100.00,\n" +
		"2025-03-02,FEES,200.00,x,x,x,x,x\n" +
		"2025-03-03,FEES\n")

	table, err := ParseStatementFile("ragged.csv", data, DefaultParserOptions())
	if err != nil {
		t.Fatalf("ParseStatementFile returned error: %v", err)
	}
	if got, want := len(table.Rows), 2; got != want {
		t.Fatalf("row count = %d, want %d", got, want)
	}
	if got, want := len(table.Skipped), 1; got != want {
		t.Fatalf("skipped count = %d, want %d", got, want)
	}
	for _, row := range table.Rows {
		if got, want := len(row), 3; got != want {
			t.Errorf("normalized row width = %d, want %d", got, want)
		}
	}
}

func TestParseStatementFileHeaderless(t *testing.T) {
	data := []byte("2025-03-01,PAYMENT FROM STUDENT SUT001,500.00\n" +
		"2025-03-02,EFT DEPOSIT HAR234,2850.00\n")

	table, err := ParseStatementFile("raw.csv", data, DefaultParserOptions())
	if err != nil {
		t.Fatalf("ParseStatementFile returned error: %v", err)
	}
	if table.Header != nil {
		t.Errorf("expected no header, got %v", table.Header)
	}
	if got, want := len(table.Rows), 2; got != want {
		t.Fatalf("row count = %d, want %d", got, want)
	}
}

func TestParseStatementFileEmpty(t *testing.T) {
	_, err := ParseStatementFile("empty.csv", nil, DefaultParserOptions())
	var malformed *MalformedInputError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected MalformedInputError, got %v", err)
	}
}

func TestSniffDelimiter(t *testing.T) {
	tests := []struct {
		name string
		line string
		want rune
	}{
		{"comma", "a,b,c", ','},
		{"semicolon", "a;b;c", ';'},
		{"tab", "a\tb\tc", '\t'},
		{"pipe", "a|b|c", '|'},
		{"comma wins ties", "a,b;c", ','},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sniffDelimiter([]byte(tt.line)); got != tt.want {
				t.Errorf("sniffDelimiter(%q) = %q, want %q", tt.line, got, tt.want)
			}
		})
	}
}
