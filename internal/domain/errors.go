package domain

import "errors"

// Failure taxonomy shared by the scheduler, orchestrator, and source
// adapters. Callers classify with errors.Is; concrete causes are wrapped.
var (
	// ErrParse marks upstream content that could not be extracted.
	ErrParse = errors.New("source content parse failure")

	// ErrNotFound marks a resource absent upstream.
	ErrNotFound = errors.New("resource not found upstream")

	// ErrNetwork marks transport errors, timeouts, and detected blocking.
	ErrNetwork = errors.New("source network failure")

	// ErrQueueOverflow is returned on a job evicted to admit a newer one.
	ErrQueueOverflow = errors.New("job evicted on queue overflow")

	// ErrQueueFull rejects a submission when no queued job is evictable.
	ErrQueueFull = errors.New("scheduler queue is full")

	// ErrQueueCleared rejects queued jobs dropped by an explicit clear.
	ErrQueueCleared = errors.New("scheduler queue cleared")

	// ErrRetryExhausted wraps the last attempt error of a terminal failure.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrJobTimeout marks a job that exceeded the scheduler timeout.
	ErrJobTimeout = errors.New("job timed out")
)
