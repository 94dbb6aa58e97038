package core

import (
	"errors"
	"fmt"
)

// ErrEmptyPartition is returned when a partition key matches no rows of the
// main dataset. No partition file is written in that case.
var ErrEmptyPartition = errors.New("no loan records for partition")

// EmptyPartitionError carries the key that matched nothing.
type EmptyPartitionError struct {
	Key int64
}

func (e *EmptyPartitionError) Error() string {
	return fmt.Sprintf("no loan records for county_code %d", e.Key)
}

func (e *EmptyPartitionError) Unwrap() error { return ErrEmptyPartition }

// IsEmptyPartition checks if an error is an EmptyPartitionError.
func IsEmptyPartition(err error) bool {
	return errors.Is(err, ErrEmptyPartition)
}
