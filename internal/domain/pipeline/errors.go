package pipeline

import "errors"

// Sentinel kinds for pipeline errors.
var (
	ErrDeviceNotRegistered = errors.New("device not registered")
	ErrEventNotActive      = errors.New("event not active")
	ErrPersistence         = errors.New("persistence failure")
	ErrNoPayload           = errors.New("record has neither image nor decoded bib")
)
