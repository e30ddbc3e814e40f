package piston

import (
	"errors"
	"fmt"
)

// Upstream fault types. Every failure of the execution backend call maps to
// exactly one of these, so the relay core can render a generic apology to the
// user while keeping the precise cause for the error log.

// ErrTimeout indicates the backend call did not complete within the
// configured deadline.
var ErrTimeout = errors.New("piston: execution timed out")

// ErrNoOutput indicates a well-formed response that carried no run output.
var ErrNoOutput = errors.New("piston: no output received")

// InvalidStatusError indicates a non-200 response from the backend.
type InvalidStatusError struct {
	Code int
	Body string // truncated response body, for the error log
}

func (e *InvalidStatusError) Error() string {
	return fmt.Sprintf("piston: invalid status %d", e.Code)
}

// InvalidContentTypeError indicates a response that was not JSON.
type InvalidContentTypeError struct {
	ContentType string
}

func (e *InvalidContentTypeError) Error() string {
	return fmt.Sprintf("piston: invalid content type %q", e.ContentType)
}

// IsUpstream reports whether err is one of the typed upstream faults.
func IsUpstream(err error) bool {
	var statusErr *InvalidStatusError
	var ctErr *InvalidContentTypeError
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrNoOutput) ||
		errors.As(err, &statusErr) ||
		errors.As(err, &ctErr)
}
