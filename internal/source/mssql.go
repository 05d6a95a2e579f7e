// Package source implements the RowSource interface for SQL Server.
// Queries stay deliberately simple (plain SELECTs plus one aggregate
// checksum) so the comparison load lands on this service, not the source
// database.
package source

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/denisenkom/go-mssqldb"
	"github.com/hashicorp/go-hclog"

	"github.com/rindang/driftwatch/internal/logging"
	"github.com/rindang/driftwatch/pkg/diff"
)

// SQLServerSource fetches rows from one SQL Server database.
type SQLServerSource struct {
	db  *sql.DB
	log hclog.Logger
}

// Connect opens and pings a SQL Server connection.
func Connect(connectionString string) (*SQLServerSource, error) {
	db, err := sql.Open("sqlserver", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	log := logging.GetLogger()
	if server, err := ServerName(connectionString); err == nil {
		log.Info("Connected to source database", "server", server)
	}
	return &SQLServerSource{db: db, log: log}, nil
}

// NewWithDB wraps an existing connection, used by tests.
func NewWithDB(db *sql.DB) *SQLServerSource {
	return &SQLServerSource{db: db, log: logging.GetLogger()}
}

// Close releases the underlying connection pool.
func (s *SQLServerSource) Close() error {
	return s.db.Close()
}

func columnList(columns []string) string {
	if len(columns) == 0 {
		return "*"
	}
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = quoteIdent(c)
	}
	return strings.Join(quoted, ", ")
}

func quoteIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

func (s *SQLServerSource) FetchFull(ctx context.Context, table string, columns []string) ([]diff.Row, error) {
	query := fmt.Sprintf("SELECT %s FROM %s", columnList(columns), quoteIdent(table))
	s.log.Debug("fetch full", "table", table, "query", query)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, &diff.SourceError{Op: "fetch full", Table: table, Err: err}
	}
	defer rows.Close()
	return scanRows(rows, table)
}

func (s *SQLServerSource) FetchRange(ctx context.Context, table, keyColumn string, r diff.KeyRange, columns []string) ([]diff.Row, error) {
	var conds []string
	var args []any
	if r.Low != "" {
		conds = append(conds, fmt.Sprintf("%s > @low", quoteIdent(keyColumn)))
		args = append(args, sql.Named("low", string(r.Low)))
	}
	if r.High != "" {
		conds = append(conds, fmt.Sprintf("%s <= @high", quoteIdent(keyColumn)))
		args = append(args, sql.Named("high", string(r.High)))
	}
	query := fmt.Sprintf("SELECT %s FROM %s", columnList(columns), quoteIdent(table))
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY %s ASC", quoteIdent(keyColumn))
	s.log.Debug("fetch range", "table", table, "range", r.String())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &diff.SourceError{Op: "fetch range", Table: table, Err: err}
	}
	defer rows.Close()
	return scanRows(rows, table)
}

func (s *SQLServerSource) FetchSince(ctx context.Context, table, tsColumn string, after time.Time) ([]diff.Row, error) {
	query := fmt.Sprintf("SELECT * FROM %s", quoteIdent(table))
	var args []any
	if !after.IsZero() {
		// Strictly greater than the stored boundary; ties were covered
		// by the run that stored it.
		query += fmt.Sprintf(" WHERE %s > @after", quoteIdent(tsColumn))
		args = append(args, sql.Named("after", after))
	}
	query += fmt.Sprintf(" ORDER BY %s ASC", quoteIdent(tsColumn))
	s.log.Debug("fetch since", "table", table, "after", after)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &diff.SourceError{Op: "fetch since", Table: table, Err: err}
	}
	defer rows.Close()
	return scanRows(rows, table)
}

// PartitionBounds asks the database for every partition_size-th key in key
// order. The boundary keys turn into half-open ranges that tile the whole
// key space, so the first and last ranges stay unbounded.
func (s *SQLServerSource) PartitionBounds(ctx context.Context, table, keyColumn string, targetRows int) ([]diff.KeyRange, error) {
	query := fmt.Sprintf(`
		SELECT k FROM (
			SELECT %s AS k, ROW_NUMBER() OVER (ORDER BY %s ASC) AS rn
			FROM %s
		) t WHERE rn %% @size = 0 ORDER BY rn`,
		quoteIdent(keyColumn), quoteIdent(keyColumn), quoteIdent(table))
	s.log.Debug("partition bounds", "table", table, "target_rows", targetRows)

	rows, err := s.db.QueryContext(ctx, query, sql.Named("size", targetRows))
	if err != nil {
		return nil, &diff.SourceError{Op: "partition bounds", Table: table, Err: err}
	}
	defer rows.Close()

	var bounds []diff.Key
	for rows.Next() {
		var v sql.NullString
		if err := rows.Scan(&v); err != nil {
			return nil, &diff.SourceError{Op: "partition bounds", Table: table, Err: err}
		}
		if v.Valid {
			bounds = append(bounds, diff.Key(v.String))
		}
	}
	if err := rows.Err(); err != nil {
		return nil, &diff.SourceError{Op: "partition bounds", Table: table, Err: err}
	}
	return RangesFromBounds(bounds), nil
}

// RangesFromBounds builds the tiling range list from ordered boundary
// keys. With no boundaries the whole key space is a single range.
func RangesFromBounds(bounds []diff.Key) []diff.KeyRange {
	ranges := make([]diff.KeyRange, 0, len(bounds)+1)
	var low diff.Key
	for _, b := range bounds {
		ranges = append(ranges, diff.KeyRange{Low: low, High: b})
		low = b
	}
	ranges = append(ranges, diff.KeyRange{Low: low})
	return ranges
}

// RangeChecksum computes a cheap source-side fingerprint of a key range
// using BINARY_CHECKSUM folded through CHECKSUM_AGG. It is the capability
// that lets the partitioned strategy skip unchanged ranges without
// fetching a single row.
func (s *SQLServerSource) RangeChecksum(ctx context.Context, table, keyColumn string, r diff.KeyRange) (int64, int64, error) {
	var conds []string
	var args []any
	if r.Low != "" {
		conds = append(conds, fmt.Sprintf("%s > @low", quoteIdent(keyColumn)))
		args = append(args, sql.Named("low", string(r.Low)))
	}
	if r.High != "" {
		conds = append(conds, fmt.Sprintf("%s <= @high", quoteIdent(keyColumn)))
		args = append(args, sql.Named("high", string(r.High)))
	}
	query := fmt.Sprintf("SELECT COUNT_BIG(*), COALESCE(CHECKSUM_AGG(BINARY_CHECKSUM(*)), 0) FROM %s", quoteIdent(table))
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	var count, sum int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count, &sum); err != nil {
		return 0, 0, &diff.SourceError{Op: "range checksum", Table: table, Err: err}
	}
	return count, sum, nil
}

// scanRows reads every result row into a column name to value map. All
// values come back through sql.NullString, so a row holds strings and
// nils; the canonicalization in pkg/diff depends on that uniformity.
func scanRows(rows *sql.Rows, table string) ([]diff.Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, &diff.SourceError{Op: "columns", Table: table, Err: err}
	}

	var out []diff.Row
	for rows.Next() {
		values := make([]sql.NullString, len(cols))
		targets := make([]any, len(cols))
		for i := range values {
			targets[i] = &values[i]
		}
		if err := rows.Scan(targets...); err != nil {
			return nil, &diff.SourceError{Op: "scan", Table: table, Err: err}
		}

		row := make(diff.Row, len(cols))
		for i, name := range cols {
			if values[i].Valid {
				row[name] = values[i].String
			} else {
				row[name] = nil
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, &diff.SourceError{Op: "iterate", Table: table, Err: err}
	}
	return out, nil
}
