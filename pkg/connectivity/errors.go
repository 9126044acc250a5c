package connectivity

import "errors"

var (
	ErrNilCheck       = errors.New("connectivity: check function cannot be nil")
	ErrProbeURLEmpty  = errors.New("connectivity: probe url is empty")
	ErrProbeFailed    = errors.New("connectivity: probe failed")
	ErrAlreadyRunning = errors.New("connectivity: monitor already running")
)
