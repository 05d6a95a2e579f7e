package snapshot

import (
	"bytes"
	"sort"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/rindang/driftwatch/pkg/diff"
)

// parquetEncoder flattens a change set into a single columnar file.
// Every row carries a change type tag and its key; data columns are
// the union of columns seen across added and modified rows, rendered
// canonically as strings. Deleted rows have only tag and key.
type parquetEncoder struct{}

func NewParquetEncoder() Encoder { return parquetEncoder{} }

func (parquetEncoder) Format() string      { return "parquet" }
func (parquetEncoder) ContentType() string { return "application/vnd.apache.parquet" }
func (parquetEncoder) Extension() string   { return "parquet" }

const (
	colChangeType = "__change_type"
	colKey        = "__key"
)

func (parquetEncoder) Encode(cs *diff.ChangeSet, meta Meta) ([]byte, error) {
	dataCols := collectColumns(cs)

	fields := []arrow.Field{
		{Name: colChangeType, Type: arrow.BinaryTypes.String},
		{Name: colKey, Type: arrow.BinaryTypes.String},
	}
	for _, c := range dataCols {
		fields = append(fields, arrow.Field{Name: c, Type: arrow.BinaryTypes.String, Nullable: true})
	}
	schema := arrow.NewSchema(fields, nil)

	pool := memory.NewGoAllocator()
	b := array.NewRecordBuilder(pool, schema)
	defer b.Release()

	appendRow := func(changeType string, key diff.Key, row diff.Row) {
		b.Field(0).(*array.StringBuilder).Append(changeType)
		b.Field(1).(*array.StringBuilder).Append(string(key))
		for i, c := range dataCols {
			sb := b.Field(i + 2).(*array.StringBuilder)
			if row == nil {
				sb.AppendNull()
				continue
			}
			v, ok := row[c]
			if !ok {
				sb.AppendNull()
				continue
			}
			s, isNull := diff.FormatValue(v)
			if isNull {
				sb.AppendNull()
			} else {
				sb.Append(s)
			}
		}
	}

	for _, row := range cs.Added {
		k, _ := diff.KeyOf(row, meta.KeyColumn)
		appendRow("added", k, row)
	}
	for _, m := range cs.Modified {
		appendRow("modified", m.Key, m.Row)
	}
	for _, k := range cs.Deleted {
		appendRow("deleted", k, nil)
	}

	rec := b.NewRecord()
	defer rec.Release()
	tbl := array.NewTableFromRecords(schema, []arrow.Record{rec})
	defer tbl.Release()

	var buf bytes.Buffer
	props := parquet.NewWriterProperties(parquet.WithCompression(compress.Codecs.Snappy))
	if err := pqarrow.WriteTable(tbl, &buf, tbl.NumRows(), props, pqarrow.DefaultWriterProps()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// collectColumns returns the sorted union of data columns across all
// rows in the change set.
func collectColumns(cs *diff.ChangeSet) []string {
	seen := make(map[string]struct{})
	for _, row := range cs.Added {
		for c := range row {
			seen[c] = struct{}{}
		}
	}
	for _, m := range cs.Modified {
		for c := range m.Row {
			seen[c] = struct{}{}
		}
	}
	cols := make([]string, 0, len(seen))
	for c := range seen {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}
