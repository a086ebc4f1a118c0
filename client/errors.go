package client

import "errors"

// ErrNotConnected is returned by any send-path method called before
// Connect has established a transport.
var ErrNotConnected = errors.New("client: not connected")
