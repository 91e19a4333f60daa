package rate

import "errors"

// ErrStoreUnavailable wraps every failure of the shared store, including
// per-call timeouts.
var ErrStoreUnavailable = errors.New("shared store unavailable")
