package database

import (
	"cmp"
	"slices"

	"golang.org/x/sync/errgroup"
)

type concurrentOutputWithOrdering[T any] struct {
	order  int
	output T
}

// ConcurrentMapFuncWithError runs f over inputs with at most concurrency
// goroutines and returns the outputs in input order. concurrency 0 disables
// concurrency, a negative value removes the limit. A failing job does not
// stop the others: every input is still run, and once all have finished the
// first error is returned with no outputs. The clone driver uses this to fan
// the per-table clone jobs out;
// each job owns its own connection, so nothing here touches shared state.
func ConcurrentMapFuncWithError[Tin any, Tout any](inputs []Tin, concurrency int, f func(Tin) (Tout, error)) ([]Tout, error) {
	eg := errgroup.Group{}
	if concurrency == 0 {
		eg.SetLimit(1)
	} else if concurrency > 0 {
		eg.SetLimit(concurrency)
	}

	ch := make(chan concurrentOutputWithOrdering[Tout], len(inputs))

	for i := range inputs {
		order := i
		in := inputs[i]
		eg.Go(func() error {
			out, err := f(in)
			if err != nil {
				return err
			}
			ch <- concurrentOutputWithOrdering[Tout]{order, out}
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		close(ch)
		return nil, err
	}
	close(ch)

	tmp := make([]concurrentOutputWithOrdering[Tout], 0, len(inputs))
	for t := range ch {
		tmp = append(tmp, t)
	}
	slices.SortFunc(tmp, func(a, b concurrentOutputWithOrdering[Tout]) int {
		return cmp.Compare(a.order, b.order)
	})

	outputs := make([]Tout, len(tmp))
	for i, t := range tmp {
		outputs[i] = t.output
	}
	return outputs, nil
}
