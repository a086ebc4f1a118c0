package authz

import "errors"

// ErrInvalidScope is the programmer-error condition spec.md §4.4 calls for
// on an action outside {CONNECT, PUBLISH, SUBSCRIBE, UNSUBSCRIBE}: it must
// never occur in the dispatch paths, so Policy.Check panics rather than
// returning it — callers that want the panic-to-error translation documented
// can recover and compare against this sentinel.
var ErrInvalidScope = errors.New("authz: action is not a valid authorization scope")
