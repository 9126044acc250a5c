package async

import "errors"

var (
	ErrTimeout          = errors.New("async: operation timed out waiting for future completion")
	ErrAlreadyCompleted = errors.New("async: promise already completed")
	ErrRejected         = errors.New("async: promise rejected")
)
