package model

import "errors"

// Sentinels shared by the store and its consumers.
var (
	ErrNotFound                = errors.New("record not found")
	ErrDuplicateClassification = errors.New("classification already exists for event, bib and checkpoint")
)
