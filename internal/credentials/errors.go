package credentials

import "errors"

// ErrCredentialNotFound is returned when no password is cached for an
// account, in either the OS keyring or the encrypted database fallback.
var ErrCredentialNotFound = errors.New("credentials: not found")
