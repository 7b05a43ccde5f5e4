package venue

import (
	"errors"
	"fmt"
)

// ProviderLimitError is returned when a venue rejects a request because of a
// plan or rate limit. The aggregator reacts by opening a timed backoff
// window for that venue.
type ProviderLimitError struct {
	Venue   string
	Message string
}

func (e *ProviderLimitError) Error() string {
	return fmt.Sprintf("%s: provider limit: %s", e.Venue, e.Message)
}

// TransientError wraps network-level failures (unreachable host, reset
// connection, 5xx). The aggregator performs one client reset and retry
// before falling through the venue chain.
type TransientError struct {
	Venue string
	Err   error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient: %v", e.Venue, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// ErrDataInsufficient indicates a venue answered but returned too little
// data to be usable.
var ErrDataInsufficient = errors.New("insufficient market data")

// IsProviderLimit reports whether err is a venue plan/rate-limit rejection
func IsProviderLimit(err error) bool {
	var pl *ProviderLimitError
	return errors.As(err, &pl)
}

// IsTransient reports whether err is a transient network failure
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
