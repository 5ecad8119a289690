package automation

import "errors"

// Sentinel errors returned by the registry. Callers use errors.Is; the
// HTTP layer maps each to a status code.
var (
	ErrNotFound         = errors.New("automation: not found")
	ErrNameConflict     = errors.New("automation: name already in use")
	ErrInvalidArgument  = errors.New("automation: invalid argument")
	ErrQuotaExceeded    = errors.New("automation: daily execution quota exceeded")
)
