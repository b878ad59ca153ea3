package repository

import (
	"errors"

	"github.com/okian/dorsal/internal/domain/model"
)

// Sentinel kinds for store errors.
var (
	ErrNotFound                = model.ErrNotFound
	ErrDuplicateClassification = model.ErrDuplicateClassification
	ErrInvalidLimit            = errors.New("invalid fetch limit")
	ErrUnsupportedDriver       = errors.New("unsupported store driver")
	ErrInvalidStatus           = errors.New("status is not terminal")
)
