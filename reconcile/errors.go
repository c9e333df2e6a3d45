package reconcile

import (
	"errors"
	"fmt"
)

// ErrAlreadyReconciled the trade already carries exchange PnL
var ErrAlreadyReconciled = errors.New("trade already reconciled")

// APIError a non-zero application-level return code from the exchange
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("exchange API error %d: %s", e.Code, e.Message)
}

// ExhaustedError every attempt of a fetch failed; Last is the final cause
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("closed pnl fetch failed after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}
