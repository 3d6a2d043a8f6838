// Package backend defines the boundary contract between the storage engine
// and a column-family backend: structured, fully parameterized statements,
// an executor that runs one statement (optionally as a linearizable CAS)
// and schema metadata observation. Values are never interpolated into
// statement text because there is no statement text.
package backend

import "github.com/quellcloud/tessera/model"

// Value is a single physical column value. Concrete types:
//
//	model.AttributeValue — a typed user column
//	BlobMap              — a map<text, blob> column
//	TextMap              — a map<text, text> column
//	TextSet              — a set<text> column
//
// A nil Value means the column is unset.
type Value any

// BlobMap is the dynamic attribute data companion column.
type BlobMap map[string][]byte

// TextMap is the dynamic attribute type tag companion column.
type TextMap map[string]string

// TextSet is a set<text> column, kept sorted.
type TextSet []string

// Contains reports set membership.
func (s TextSet) Contains(elem string) bool {
	for _, e := range s {
		if e == elem {
			return true
		}
	}
	return false
}

// Row maps physical column names to values.
type Row map[string]Value

// ColumnType is the physical type of a column.
type ColumnType string

const (
	ColText       ColumnType = "text"
	ColDecimal    ColumnType = "decimal"
	ColBlob       ColumnType = "blob"
	ColTextSet    ColumnType = "set<text>"
	ColDecimalSet ColumnType = "set<decimal>"
	ColBlobSet    ColumnType = "set<blob>"
	ColBlobMap    ColumnType = "map<text,blob>"
	ColTextMap    ColumnType = "map<text,text>"
)

// ColumnDef declares one column of a table.
type ColumnDef struct {
	Name string
	Type ColumnType
}

// Statement is a marker interface over the statement variants below.
type Statement interface {
	stmt()
}

// CreateTable creates a column-family table. IndexedColumns lists columns
// that additionally need a backend secondary index.
type CreateTable struct {
	Keyspace       string
	Table          string
	Columns        []ColumnDef
	PartitionKey   string
	ClusteringKeys []string
	IndexedColumns []string
	IfNotExists    bool
}

// DropTable removes a table and its indexes. With IfExists set, dropping
// an absent table reports Applied=false instead of failing.
type DropTable struct {
	Keyspace string
	Table    string
	IfExists bool
}

// Insert writes a full row. With IfNotExists set it is a CAS guarded by
// the row's absence.
type Insert struct {
	Keyspace    string
	Table       string
	Row         Row
	IfNotExists bool
}

// Update mutates an existing row addressed by Key. When Conditions is
// non-empty the statement is a CAS; an Update with conditions on a
// missing row is never applied. A nil value in Set clears the column.
type Update struct {
	Keyspace string
	Table    string
	Key      Row
	Set      Row
	// MapPut/MapDelete mutate individual entries of map columns;
	// SetAdd/SetRemove mutate set<text> columns.
	MapPut     map[string]BlobMap
	MapPutText map[string]TextMap
	MapDelete  map[string][]string
	SetAdd     map[string][]string
	SetRemove  map[string][]string
	Conditions []Condition
}

// Delete removes a row addressed by Key, optionally as a CAS.
type Delete struct {
	Keyspace   string
	Table      string
	Key        Row
	Conditions []Condition
}

// Select reads rows. Where conditions reference key, clustering or
// indexed columns only; the backend may serve non-clustering conditions
// through its secondary indexes or by filtering.
type Select struct {
	Keyspace   string
	Table      string
	Columns    []string // nil selects all columns
	CountOnly  bool
	Where      []Where
	Limit      int
	OrderBy    string // column name; "" keeps the natural clustering order
	Descending bool
}

func (CreateTable) stmt() {}
func (DropTable) stmt()   {}
func (Insert) stmt()      {}
func (Update) stmt()      {}
func (Delete) stmt()      {}
func (Select) stmt()      {}

// CompareOp is a WHERE clause operator.
type CompareOp uint8

const (
	OpEq CompareOp = iota
	OpLt
	OpLe
	OpGt
	OpGe
)

// Where is one WHERE clause term: column <op> value.
type Where struct {
	Column string
	Op     CompareOp
	Value  model.AttributeValue
}

// CondOp is a CAS precondition operator.
type CondOp uint8

const (
	// CondEq applies if the column (or map entry) equals Value.
	CondEq CondOp = iota
	// CondNull applies if the column (or map entry) is unset.
	CondNull
	// CondNotNull applies if the column (or map entry) is set.
	CondNotNull
	// CondContains applies if the set column contains Value (a string).
	CondContains
	// CondNotContains applies if the set column is unset or does not
	// contain Value.
	CondNotContains
)

// Condition is one CAS precondition term. MapKey addresses an entry of a
// map column when non-empty, otherwise the whole column is compared.
type Condition struct {
	Column string
	MapKey string
	Op     CondOp
	Value  Value
}

// Result is the outcome of one statement execution. For CAS statements
// Applied reports whether the preconditions held; when they did not, Rows
// holds the current row snapshot (empty if the row does not exist). For
// count selects Count carries the row count.
type Result struct {
	Rows    []Row
	Applied bool
	Count   int
}
