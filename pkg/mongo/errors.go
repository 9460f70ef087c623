package mongo

import "errors"

var (
	ErrConnect           = errors.New("mongo: could not connect")
	ErrHealthcheckFailed = errors.New("mongo: primary unreachable")
	// ErrCreateIndexes is returned by QueueStorage.EnsureIndexes.
	ErrCreateIndexes = errors.New("mongo: creating queue indexes")
)
