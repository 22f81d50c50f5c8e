package statement

import "fmt"

// MalformedInputError means the file itself could not be decoded into rows.
// Individual ragged rows are not fatal; they are skipped and recorded on the
// parsed table instead.
type MalformedInputError struct {
	Reason string
}

func (e *MalformedInputError) Error() string {
	return "malformed statement input: " + e.Reason
}

// SchemaAmbiguousError means no column cleared the confidence threshold for a
// required role. The whole batch is rejected rather than guessed, since a
// wrong global mapping would corrupt every row.
type SchemaAmbiguousError struct {
	Role           ColumnRole
	BestConfidence float64
}

func (e *SchemaAmbiguousError) Error() string {
	return fmt.Sprintf("ambiguous schema: no column qualifies as %q (best confidence %.2f)", e.Role, e.BestConfidence)
}
