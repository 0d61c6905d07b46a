package account

import "errors"

// ErrAccountPasswordUnavailable is returned when an account requires a
// password (no preauthtunnel configured) and none could be sourced from
// remotepass, remotepassfile, a cached credential, or the UI sink.
var ErrAccountPasswordUnavailable = errors.New("account: no password available")
