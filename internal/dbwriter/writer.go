// Package dbwriter implements the §4.6 Database Writer: it coerces a
// script's TransformResult into homogeneous column buffers and executes
// a bulk UNNEST(...) insert, reusing a prepared statement per distinct
// (schema, table, columns, type signature).
package dbwriter

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/jeffutter/kafka-postgres-transform/internal/script"
)

// Conn is the subset of a pooled database connection the writer needs.
// It is satisfied by the pgx adapter in pgxconn.go and by fakes in
// tests.
type Conn interface {
	Prepare(ctx context.Context, name, sql string) error
	ExecPrepared(ctx context.Context, name string, args []interface{}) (int64, error)
	Release()
}

// DB acquires pooled connections. It is satisfied by *pgxpool.Pool via
// the adapter in pgxconn.go.
type DB interface {
	Acquire(ctx context.Context) (Conn, error)
}

// Inserter is implemented by Writer and RetryingWriter, letting callers
// depend on "something that can insert a TransformResult" without
// caring whether failures are retried.
type Inserter interface {
	Insert(ctx context.Context, result script.TransformResult) (int64, error)
}

// Writer inserts TransformResults into PostgreSQL using the bulk
// array-unnest pattern, caching one prepared statement per distinct
// table shape.
type Writer struct {
	db    DB
	cache *statementCache
	seq   uint64
}

// New constructs a Writer over db.
func New(db DB) *Writer {
	return &Writer{db: db, cache: newStatementCache()}
}

// Insert implements the §4.6 contract: insert(transform_result) ->
// rows_inserted.
func (w *Writer) Insert(ctx context.Context, result script.TransformResult) (int64, error) {
	if !result.Success {
		return 0, fmt.Errorf("%w: %s", ErrUpstreamScriptError, result.Error)
	}
	if result.TableInfo == nil || result.Data == nil {
		return 0, ErrMalformedTransformResult
	}
	if len(result.Data) == 0 || len(result.TableInfo.Columns) == 0 {
		return 0, nil
	}

	columns := result.TableInfo.Columns
	buffers := make([]ColumnBuffer, len(columns))
	columnNames := make([]string, len(columns))
	for i, col := range columns {
		kind, err := normalizeColumnType(col.Type)
		if err != nil {
			return 0, err
		}
		buffers[i] = newColumnBuffer(kind, len(result.Data))
		columnNames[i] = col.Name
	}

	for _, row := range result.Data {
		for i, col := range columns {
			v, ok := row[col.Name]
			if !ok {
				return 0, fmt.Errorf("%w: %q", ErrMissingColumn, col.Name)
			}
			if err := coerceValue(&buffers[i], col.Name, v); err != nil {
				return 0, err
			}
		}
	}

	key := newStatementKey(result.TableInfo.Schema, result.TableInfo.Name, columnNames, buffers)

	conn, err := w.db.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrConnectionAcquire, err)
	}
	defer conn.Release()

	stmtName, err := w.statementFor(ctx, conn, key, result.TableInfo.Schema, result.TableInfo.Name, columnNames, buffers)
	if err != nil {
		return 0, err
	}

	args := make([]interface{}, len(buffers))
	for i, b := range buffers {
		args[i] = b.Param()
	}

	rows, err := conn.ExecPrepared(ctx, stmtName, args)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrStatementExecute, err)
	}
	return rows, nil
}

// CacheSize reports the number of distinct prepared statements currently
// cached, for the prepared-statement-cache-size gauge.
func (w *Writer) CacheSize() int { return w.cache.size() }

func (w *Writer) statementFor(ctx context.Context, conn Conn, key statementKey, schema, name string, columnNames []string, buffers []ColumnBuffer) (string, error) {
	if cached, ok := w.cache.get(key); ok {
		return cached, nil
	}

	unnestArgs := make([]string, len(buffers))
	for i, b := range buffers {
		unnestArgs[i] = fmt.Sprintf("$%d::%s[]", i+1, b.Kind.pgType())
	}

	sql := fmt.Sprintf(
		"INSERT INTO %s.%s (%s) SELECT * FROM UNNEST(%s)",
		schema, name, strings.Join(columnNames, ", "), strings.Join(unnestArgs, ", "),
	)

	stmtName := fmt.Sprintf("kpt_stmt_%d", atomic.AddUint64(&w.seq, 1))
	if err := conn.Prepare(ctx, stmtName, sql); err != nil {
		return "", fmt.Errorf("%w: %w", ErrStatementPrepare, err)
	}

	return w.cache.storeIfAbsent(key, stmtName), nil
}
