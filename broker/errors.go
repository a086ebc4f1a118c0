package broker

import "errors"

var (
	ErrAlreadyRunning = errors.New("broker: already running")
	ErrNotRunning     = errors.New("broker: not running")
)
