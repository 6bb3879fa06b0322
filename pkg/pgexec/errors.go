package pgexec

import (
	"errors"
	"fmt"
)

// ConnectivityError reports that a database could not be reached at all
type ConnectivityError struct {
	Target string
	Addr   string
	Err    error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("cannot connect to %s (%s): %v", e.Target, e.Addr, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// QueryError reports that a statement reached the server and failed there
type QueryError struct {
	Target string
	Query  string
	Err    error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query on %s failed: %v", e.Target, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// IsConnectivity reports whether err is, or wraps, a ConnectivityError
func IsConnectivity(err error) bool {
	var ce *ConnectivityError
	return errors.As(err, &ce)
}

// IsQuery reports whether err is, or wraps, a QueryError
func IsQuery(err error) bool {
	var qe *QueryError
	return errors.As(err, &qe)
}
