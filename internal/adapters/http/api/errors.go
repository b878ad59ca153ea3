package api

import "errors"

// ErrBadRequest is reported for malformed request paths.
var ErrBadRequest = errors.New("bad request")
