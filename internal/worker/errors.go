package worker

import "errors"

// ErrNotFound is returned when a task_id has no matching row.
var ErrNotFound = errors.New("worker: task not found")

// ErrAlreadyTerminal is returned by Cancel when the task has already
// reached a terminal status.
var ErrAlreadyTerminal = errors.New("worker: task already terminal")

// ErrUnauthorized is returned by the completion webhook handler when
// the supplied token does not match the task's callback_token.
var ErrUnauthorized = errors.New("worker: callback token mismatch")

// ErrConcurrencyLimit is returned by Spawn when the configured
// concurrency cap is already met by active tasks.
var ErrConcurrencyLimit = errors.New("worker: concurrency limit reached")
