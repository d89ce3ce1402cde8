package script

// ColumnDef names one destination column and its declared type, as
// reported by the script for one batch.
type ColumnDef struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// TableInfo names the destination table and its column shape.
type TableInfo struct {
	Schema  string      `json:"schema"`
	Name    string      `json:"name"`
	Columns []ColumnDef `json:"columns"`
}

// TransformResult is the JSON-compatible object the script's transform
// function returns for one batch.
type TransformResult struct {
	Success   bool                     `json:"success"`
	TableInfo *TableInfo               `json:"table_info"`
	Data      []map[string]interface{} `json:"data"`
	Error     string                   `json:"error"`
}
