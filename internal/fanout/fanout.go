// Package fanout runs independent branches concurrently and collects every
// outcome, successful or not.
package fanout

import (
	"context"
	"errors"
	"fmt"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
)

// Outcome is the settled result of one branch.
type Outcome[T any] struct {
	Value T
	Err   error
}

// OK reports whether the branch succeeded.
func (o Outcome[T]) OK() bool {
	return o.Err == nil
}

// PanicError is returned for a branch that panicked.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

var errNilBranch = errors.New("nil branch")

// Settle runs every fn on its own goroutine and waits for all of them. A
// failing or panicking branch never cancels its siblings. Outcomes are
// returned in the order of fns.
func Settle[T any](ctx context.Context, fns ...func(context.Context) (T, error)) []Outcome[T] {
	out := make([]Outcome[T], len(fns))
	var wg conc.WaitGroup
	for i, fn := range fns {
		wg.Go(func() { out[i] = Call(ctx, fn) })
	}
	wg.Wait()
	return out
}

// Pair runs two branches of different result types concurrently.
func Pair[A, B any](
	ctx context.Context,
	a func(context.Context) (A, error),
	b func(context.Context) (B, error),
) (Outcome[A], Outcome[B]) {
	var (
		wg conc.WaitGroup
		oa Outcome[A]
		ob Outcome[B]
	)
	wg.Go(func() { oa = Call(ctx, a) })
	wg.Go(func() { ob = Call(ctx, b) })
	wg.Wait()
	return oa, ob
}

// Call runs fn on the calling goroutine and settles it, turning a panic
// into a *PanicError.
func Call[T any](ctx context.Context, fn func(context.Context) (T, error)) Outcome[T] {
	if fn == nil {
		return Outcome[T]{Err: errNilBranch}
	}
	var (
		out Outcome[T]
		pc  panics.Catcher
	)
	pc.Try(func() {
		v, err := fn(ctx)
		out = Outcome[T]{Value: v, Err: err}
	})
	if r := pc.Recovered(); r != nil {
		return Outcome[T]{Err: &PanicError{Value: r.Value, Stack: r.Stack}}
	}
	return out
}
