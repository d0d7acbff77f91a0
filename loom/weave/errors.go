package weave

import (
	"errors"

	ports "github.com/ZanzyTHEbar/loreweave/loom/weave/ports"
)

// Error kinds returned by Manager. Returned errors wrap one of these together with
// the underlying cause, so callers can match either with errors.Is.
var (
	ErrBadConfig        = errors.New("bad configuration")
	ErrBudgetExhausted  = errors.New("token budget exhausted")
	ErrCompletionFailed = errors.New("completion failed")
	ErrInvalidRole      = ports.ErrInvalidRole
	ErrStorageFailed    = errors.New("storage failed")
	ErrFragmentNotFound = errors.New("fragment not found")
)
