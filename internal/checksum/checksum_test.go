package checksum

import "testing"

func TestDigestAndMatches(t *testing.T) {
	data := []byte("Date,Description,Amount\n2025-03-05,SCHOOL FEES HAR234,2850.00\n")
	d := Digest(data)
	if len(d) != 64 {
		t.Fatalf("digest length = %d, want 64 hex chars", len(d))
	}
	if d != Digest(data) {
		t.Error("digest is not deterministic")
	}
	if !Matches(data, d) {
		t.Error("Matches rejected the file's own digest")
	}
	if Matches(append(data, '\n'), d) {
		t.Error("Matches accepted altered data")
	}
	if Matches(data, "") {
		t.Error("Matches accepted an empty expected digest")
	}
}
