package pgexec

import (
	"context"
	"fmt"
)

// Row is one result row keyed by column name
type Row map[string]any

// QueryExecutor runs one statement on one pooled connection and releases the
// connection before returning. With fetch=false the statement is executed for
// its side effect and no rows are returned.
type QueryExecutor interface {
	Execute(ctx context.Context, query string, params []any, fetch bool) ([]Row, error)
}

// Executor is a QueryExecutor that owns its connections
type Executor interface {
	QueryExecutor
	Close()
}

// QueryRow runs a fetching query and returns its first row, or nil when the
// result set is empty.
func QueryRow(ctx context.Context, ex QueryExecutor, query string, params ...any) (Row, error) {
	rows, err := ex.Execute(ctx, query, params, true)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// Exec runs a statement for its side effect
func Exec(ctx context.Context, ex QueryExecutor, query string, params ...any) error {
	_, err := ex.Execute(ctx, query, params, false)
	return err
}

// Typed accessors. NULL and missing columns yield nil pointers; a value of an
// unexpected type is an error rather than a silent zero.

func (r Row) String(col string) (*string, error) {
	v, ok := r[col]
	if !ok || v == nil {
		return nil, nil
	}
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("column %s: expected text, got %T", col, v)
	}
	return &s, nil
}

func (r Row) Int64(col string) (*int64, error) {
	v, ok := r[col]
	if !ok || v == nil {
		return nil, nil
	}
	switch n := v.(type) {
	case int64:
		return &n, nil
	case int32:
		x := int64(n)
		return &x, nil
	case int:
		x := int64(n)
		return &x, nil
	case float64:
		x := int64(n)
		return &x, nil
	default:
		return nil, fmt.Errorf("column %s: expected integer, got %T", col, v)
	}
}

func (r Row) Float64(col string) (*float64, error) {
	v, ok := r[col]
	if !ok || v == nil {
		return nil, nil
	}
	switch n := v.(type) {
	case float64:
		return &n, nil
	case float32:
		x := float64(n)
		return &x, nil
	case int64:
		x := float64(n)
		return &x, nil
	default:
		return nil, fmt.Errorf("column %s: expected float, got %T", col, v)
	}
}

func (r Row) Bool(col string) (*bool, error) {
	v, ok := r[col]
	if !ok || v == nil {
		return nil, nil
	}
	b, ok := v.(bool)
	if !ok {
		return nil, fmt.Errorf("column %s: expected boolean, got %T", col, v)
	}
	return &b, nil
}
