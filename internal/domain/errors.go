package domain

import "errors"

var (
	// ErrNotFound is returned when a referenced record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidInput is returned for malformed requests.
	ErrInvalidInput = errors.New("invalid input")

	// ErrSchemaNotReady is returned by the persistence layer when a relation
	// the rule engine reads has not been provisioned yet.
	ErrSchemaNotReady = errors.New("rule configuration storage not provisioned")
)
