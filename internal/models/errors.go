package models

import "errors"

var (
	// ErrAuthenticationRequired is returned by broker calls made without an established session.
	ErrAuthenticationRequired = errors.New("broker authentication required")
	// ErrBrokerRequest wraps any broker-side failure of a single request.
	ErrBrokerRequest = errors.New("broker request failed")
	// ErrDecisionNotFound is returned when a decision id does not exist.
	ErrDecisionNotFound = errors.New("decision not found")
	// ErrAlreadyExecuted guards the set-once executed_at field.
	ErrAlreadyExecuted = errors.New("decision already executed")
	// ErrExecutionClaimed is returned when another execution pass holds the decision.
	ErrExecutionClaimed = errors.New("decision execution already claimed")
	// ErrExecutedBeforeCreated rejects an executed_at earlier than the decision itself.
	ErrExecutedBeforeCreated = errors.New("execution time precedes decision creation")
	// ErrInvalidVerdict rejects feedback outside the canonical vocabulary.
	ErrInvalidVerdict = errors.New("invalid feedback verdict")
	// ErrInvariantViolation signals more than one active learning context.
	ErrInvariantViolation = errors.New("learning context invariant violated")
	// ErrConcurrentUpdate is returned when the active learning context changed under a commit.
	ErrConcurrentUpdate = errors.New("learning context changed concurrently")
)
