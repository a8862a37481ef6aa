package exec

import "github.com/reinhardbuyabo/chronosdb/internal/values"

// Executor drives a PhysicalOperator tree to completion: open, pull every
// tuple, then always close, regardless of whether open or the pull loop
// failed (spec §4.11, §8 "the executor calls close on the root regardless").
type Executor struct {
	Root PhysicalOperator
}

// NewExecutor wraps root for a single run.
func NewExecutor(root PhysicalOperator) *Executor {
	return &Executor{Root: root}
}

// Run executes the tree and returns every tuple it produced. If Open or
// the pull loop errored, that error is returned regardless of what Close
// reports; otherwise a Close error takes its place.
func (e *Executor) Run() ([]values.Tuple, error) {
	if err := e.Root.Open(); err != nil {
		e.Root.Close()
		return nil, err
	}

	var out []values.Tuple
	runErr := func() error {
		for {
			tuple, ok, err := e.Root.Next()
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			out = append(out, tuple)
		}
	}()

	closeErr := e.Root.Close()
	if runErr != nil {
		return nil, runErr
	}
	if closeErr != nil {
		return nil, closeErr
	}
	return out, nil
}
