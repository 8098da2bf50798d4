package dbft

import "errors"

// Error kinds used across the engine. Callers match them with errors.Is;
// sites that fail wrap these with additional context using %w.
var (
	// ErrInvalidConfig indicates bad construction parameters. Fatal to startup only.
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrInvalidView indicates a rejected view transition. The round continues.
	ErrInvalidView = errors.New("invalid view")
	// ErrInvalidState indicates a rejected lifecycle transition or an
	// operation that is illegal in the current state.
	ErrInvalidState = errors.New("invalid state")
	// ErrInvalidMessage indicates a structurally invalid message. The message is discarded.
	ErrInvalidMessage = errors.New("invalid message")
	// ErrInvalidProposal indicates a proposal that fails round validation.
	ErrInvalidProposal = errors.New("invalid proposal")
	// ErrInvalidVote indicates a vote that does not match the current round.
	ErrInvalidVote = errors.New("invalid vote")
	// ErrRateLimitExceeded indicates that errors are being recorded faster
	// than the debounce interval allows.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	// ErrCircuitBreakerOpen indicates that too many errors accumulated and
	// the breaker refuses further work until reset.
	ErrCircuitBreakerOpen = errors.New("circuit breaker open")
	// ErrRecoveryFailed indicates that the recovery attempt budget is exhausted.
	ErrRecoveryFailed = errors.New("recovery failed")
	// ErrRecoveryTooSoon indicates a recovery attempt inside the minimum interval.
	ErrRecoveryTooSoon = errors.New("recovery attempted too soon")
)
