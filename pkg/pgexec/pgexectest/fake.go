// Package pgexectest provides a scripted in-memory QueryExecutor for tests.
package pgexectest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/koval-yurko/db-scales/pkg/pgexec"
)

// Handler answers one query
type Handler func(query string, params []any) ([]pgexec.Row, error)

// Call records one Execute invocation
type Call struct {
	Query  string
	Params []any
	Fetch  bool
}

type route struct {
	match   string
	handler Handler
}

// Executor routes each query to the first handler whose match string the
// query contains. Unrouted queries fail the call.
type Executor struct {
	Name string

	mu     sync.Mutex
	routes []route
	calls  []Call
	closed int
}

// New creates an empty fake for the given role
func New(name string) *Executor {
	return &Executor{Name: name}
}

// On registers (or replaces) the handler for queries containing match
func (e *Executor) On(match string, h Handler) *Executor {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.routes {
		if e.routes[i].match == match {
			e.routes[i].handler = h
			return e
		}
	}
	e.routes = append(e.routes, route{match: match, handler: h})
	return e
}

// Rows returns a handler that always answers with rows
func Rows(rows ...pgexec.Row) Handler {
	return func(string, []any) ([]pgexec.Row, error) { return rows, nil }
}

// Fail returns a handler that always fails with err
func Fail(err error) Handler {
	return func(string, []any) ([]pgexec.Row, error) { return nil, err }
}

// Sequence answers successive calls from handlers, repeating the last one
func Sequence(handlers ...Handler) Handler {
	var mu sync.Mutex
	i := 0
	return func(q string, p []any) ([]pgexec.Row, error) {
		mu.Lock()
		h := handlers[i]
		if i < len(handlers)-1 {
			i++
		}
		mu.Unlock()
		return h(q, p)
	}
}

// Execute implements pgexec.QueryExecutor
func (e *Executor) Execute(ctx context.Context, query string, params []any, fetch bool) ([]pgexec.Row, error) {
	e.mu.Lock()
	e.calls = append(e.calls, Call{Query: query, Params: params, Fetch: fetch})
	var h Handler
	for _, r := range e.routes {
		if strings.Contains(query, r.match) {
			h = r.handler
			break
		}
	}
	e.mu.Unlock()

	if h == nil {
		return nil, &pgexec.QueryError{Target: e.Name, Query: query, Err: fmt.Errorf("no fake route for query %q", query)}
	}
	return h(query, params)
}

// Close implements pgexec.Executor
func (e *Executor) Close() {
	e.mu.Lock()
	e.closed++
	e.mu.Unlock()
}

// Calls returns a copy of every recorded call
func (e *Executor) Calls() []Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Call, len(e.calls))
	copy(out, e.calls)
	return out
}

// CountContaining counts recorded calls whose query contains s
func (e *Executor) CountContaining(s string) int {
	n := 0
	for _, c := range e.Calls() {
		if strings.Contains(c.Query, s) {
			n++
		}
	}
	return n
}

// WriteCalls returns the calls made with fetch=false
func (e *Executor) WriteCalls() []Call {
	var out []Call
	for _, c := range e.Calls() {
		if !c.Fetch {
			out = append(out, c)
		}
	}
	return out
}

// Closed reports how many times Close was called
func (e *Executor) Closed() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}
