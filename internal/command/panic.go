package command

import "fmt"

// panicToError folds a recovered panic value into an ordinary error so
// one bad command cannot kill the tick loop.
func panicToError(r any) error {
	if err, ok := r.(error); ok {
		return fmt.Errorf("command apply panicked: %w", err)
	}
	return fmt.Errorf("command apply panicked: %v", r)
}
