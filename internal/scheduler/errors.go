package scheduler

import "fmt"

// NonClosedSetError reports that a trigger was asked to enumerate an
// identifier whose filter has no finite value set and whose template dataset
// supplies no value either.
type NonClosedSetError struct {
	ID string
}

func (e *NonClosedSetError) Error() string {
	return fmt.Sprintf("identifier %s has no closed value set and no template value", e.ID)
}
