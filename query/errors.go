package query

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/GoogleCloudPlatform/datanucleus-appengine-sub004/datastore"
	"github.com/GoogleCloudPlatform/datanucleus-appengine-sub004/expression"
)

// UnsupportedOperatorError is returned for operators the datastore can't evaluate.
type UnsupportedOperatorError struct {
	Operator   expression.Operator
	Expression string
}

func (err *UnsupportedOperatorError) Error() string {
	return fmt.Sprintf("problem with query <%s>: the datastore does not support operator %s", err.Expression, err.Operator)
}

// UnsupportedFeatureError is returned for query constructs the datastore can't express.
// With the in-memory fallback enabled, these are turned into incomplete filter or order flags.
type UnsupportedFeatureError struct {
	Message string
}

func (err *UnsupportedFeatureError) Error() string {
	return err.Message
}

func unsupportedFeature(format string, args ...interface{}) error {
	return &UnsupportedFeatureError{Message: fmt.Sprintf(format, args...)}
}

// FatalUserError is returned for queries which are invalid regardless of the datastore capabilities.
type FatalUserError struct {
	Message string
}

func (err *FatalUserError) Error() string {
	return err.Message
}

func fatalUserError(format string, args ...interface{}) error {
	return &FatalUserError{Message: fmt.Sprintf(format, args...)}
}

// IsCompileError reports whether the error was raised by query compilation.
func IsCompileError(err error) bool {
	switch errors.Cause(err).(type) {
	case *UnsupportedOperatorError, *UnsupportedFeatureError, *FatalUserError:
		return true
	}
	return false
}

// downgradable reports whether the in-memory fallback may swallow the error.
func downgradable(err error) bool {
	switch errors.Cause(err).(type) {
	case *UnsupportedOperatorError, *UnsupportedFeatureError:
		return true
	}
	return false
}

type ExecutionErrorKind int

const (
	IllegalArgument ExecutionErrorKind = iota
	Timeout
	Failure
)

func (kind ExecutionErrorKind) String() string {
	switch kind {
	case IllegalArgument:
		return "illegal argument"
	case Timeout:
		return "timeout"
	case Failure:
		return "failure"
	}
	return "unknown"
}

// ExecutionError wraps a failure of the datastore during query execution.
type ExecutionError struct {
	Kind ExecutionErrorKind
	Err  error
}

func (err *ExecutionError) Error() string {
	return fmt.Sprintf("datastore %s: %s", err.Kind, err.Err)
}

func (err *ExecutionError) Unwrap() error {
	return err.Err
}

// translateError classifies a datastore error. The end of iteration and nil are passed through.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := errors.Cause(err).(*ExecutionError); ok {
		return err
	}
	switch errors.Cause(err) {
	case datastore.ErrEndOfIterator:
		return err
	case datastore.ErrIllegalArgument:
		return &ExecutionError{Kind: IllegalArgument, Err: err}
	case datastore.ErrTimeout, context.DeadlineExceeded:
		return &ExecutionError{Kind: Timeout, Err: err}
	}
	return &ExecutionError{Kind: Failure, Err: err}
}

// translatingIterator classifies the errors of the underlying iterator.
type translatingIterator struct {
	datastore.Iterator
}

func (it *translatingIterator) Next() (*datastore.Entity, error) {
	e, err := it.Iterator.Next()
	return e, translateError(err)
}
