package config

import "errors"

var (
	// ErrUnknownBlockKind names a "# <kind>" header whose kind is neither
	// "general" nor "user" (spec.md §6 recognizes only those two). Parse
	// does not return it: it logs such a header and skips it.
	ErrUnknownBlockKind = errors.New("config: unknown block kind")

	// ErrMissingUsername names a "# User" block that closes without a
	// username line (spec.md §3). Parse does not return it: such a block
	// yields a User with an empty Username.
	ErrMissingUsername = errors.New("config: user block missing username")
)
