package storage

import "fmt"

// PersistError reports a failure while writing to the destination table.
type PersistError struct {
	Op  string
	Err error
}

func (e *PersistError) Error() string {
	return fmt.Errorf("persist %s: %w", e.Op, e.Err).Error()
}

func (e *PersistError) Unwrap() error {
	return e.Err
}
