package gql

// ColumnMeta describes one result column. TypeTag is "any" for every
// column in the current surface.
type ColumnMeta struct {
	Name    string `json:"name"`
	TypeTag string `json:"type"`
}

// QueryStats carries execution counters.
type QueryStats struct {
	ElapsedMS uint64 `json:"elapsed_ms"`
	Scanned   uint64 `json:"scanned"`
	Expanded  uint64 `json:"expanded"`
}

// Result is the executed query output: ordered columns and rows of JSON
// values. Column order follows RETURN/WITH when the outermost operator is a
// projection (or wraps one); otherwise it derives from the first row.
type Result struct {
	Columns []ColumnMeta
	Rows    [][]any
	Stats   *QueryStats
}

// RowCount returns the number of result rows.
func (r *Result) RowCount() int {
	return len(r.Rows)
}
