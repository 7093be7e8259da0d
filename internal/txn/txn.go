// Package txn implements a scoped, in-request transaction manager:
// ordered forward operations with LIFO rollback on failure.
package txn

import (
	"context"
	"fmt"
	"strings"
)

// ForwardFunc performs one step of a transaction and returns its result.
type ForwardFunc func(ctx context.Context) (any, error)

// RollbackFunc undoes a step given the forward step's result. It is only
// called for steps whose forward func succeeded; a failing step's own
// rollback is not run.
type RollbackFunc func(ctx context.Context, result any) error

type operation struct {
	forward  ForwardFunc
	rollback RollbackFunc
	result   any
	executed bool
}

// Transaction is a scoped, in-request construct: a named ordered list of
// reversible operations.
type Transaction struct {
	name       string
	operations []*operation
	executed   bool
}

// Begin creates a new named transaction.
func Begin(name string) *Transaction {
	return &Transaction{name: name}
}

// Add queues an operation. rollback may be nil for non-reversible steps
// that the caller has already decided not to undo (e.g. a flush).
func (t *Transaction) Add(forward ForwardFunc, rollback RollbackFunc) {
	t.operations = append(t.operations, &operation{forward: forward, rollback: rollback})
}

// Execute runs forwards in order. On failure it rolls back every
// already-succeeded op in reverse order, swallowing individual rollback
// errors but aggregating them, then returns the original failure chained
// with any rollback failures.
func (t *Transaction) Execute(ctx context.Context) ([]any, error) {
	t.executed = true
	results := make([]any, 0, len(t.operations))

	for i, op := range t.operations {
		result, err := op.forward(ctx)
		if err != nil {
			rollbackErrs := t.rollback(ctx, i-1)
			return nil, wrapFailure(t.name, i, err, rollbackErrs)
		}
		op.result = result
		op.executed = true
		results = append(results, result)
	}

	return results, nil
}

// rollback undoes operations [0, throughIndex] in reverse order.
func (t *Transaction) rollback(ctx context.Context, throughIndex int) []error {
	var errs []error
	for i := throughIndex; i >= 0; i-- {
		op := t.operations[i]
		if !op.executed || op.rollback == nil {
			continue
		}
		if err := op.rollback(ctx, op.result); err != nil {
			errs = append(errs, fmt.Errorf("rollback of operation %d: %w", i+1, err))
		}
	}
	return errs
}

func wrapFailure(name string, failedIndex int, cause error, rollbackErrs []error) error {
	if len(rollbackErrs) == 0 {
		return fmt.Errorf("transaction %q failed at operation %d: %w", name, failedIndex+1, cause)
	}
	msgs := make([]string, len(rollbackErrs))
	for i, e := range rollbackErrs {
		msgs[i] = e.Error()
	}
	return fmt.Errorf("transaction %q failed at operation %d: %w (rollback errors: %s)",
		name, failedIndex+1, cause, strings.Join(msgs, "; "))
}

// Scoped runs fn with a fresh transaction and is the Go stand-in for the
// Python context manager's scope-exit behavior: if fn returns without
// calling Execute, the transaction is simply discarded as a no-op.
func Scoped(ctx context.Context, name string, fn func(ctx context.Context, t *Transaction) error) error {
	t := Begin(name)
	return fn(ctx, t)
}
