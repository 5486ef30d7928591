package generic

import "context"

// =============================================================================
// RESULT - Outcome of one independent unit of work
// =============================================================================

// Result is the outcome of processing one item. Exactly one of Value/Err is meaningful.
type Result[T any] struct {
	Index int
	Value T
	Err   error
}

// OK reports whether the item succeeded.
func (r Result[T]) OK() bool { return r.Err == nil }

// Collect applies fn to every item in order and returns one Result per item.
// A failing item never short-circuits the rest. Panics inside fn are
// converted into an ItemError for that item.
//
// If ctx is done before an item starts, collection stops and the results
// gathered so far are returned together with ctx.Err(). Items not yet
// started have no Result.
func Collect[In, Out any](ctx context.Context, items []In, fn func(context.Context, In) (Out, error)) ([]Result[Out], error) {
	results := make([]Result[Out], 0, len(items))
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		results = append(results, attempt(ctx, i, item, fn))
	}
	return results, nil
}

func attempt[In, Out any](ctx context.Context, i int, item In, fn func(context.Context, In) (Out, error)) (res Result[Out]) {
	res.Index = i
	defer func() {
		if p := recover(); p != nil {
			res.Err = &ItemError{Index: i, Err: panicError{p}}
		}
	}()
	res.Value, res.Err = fn(ctx, item)
	return res
}

// Fold reduces results into an accumulator.
func Fold[T, A any](results []Result[T], init A, f func(A, Result[T]) A) A {
	acc := init
	for _, r := range results {
		acc = f(acc, r)
	}
	return acc
}

// Tally counts successes and failures.
type Tally struct {
	Succeeded int
	Failed    int
}

// Total is Succeeded + Failed.
func (t Tally) Total() int { return t.Succeeded + t.Failed }

// Count is a Fold step that tallies outcomes.
func Count[T any](t Tally, r Result[T]) Tally {
	if r.OK() {
		t.Succeeded++
	} else {
		t.Failed++
	}
	return t
}
