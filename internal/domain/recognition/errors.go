package recognition

import "errors"

// Sentinel kinds for recognition errors.
var (
	ErrAllProvidersFailed  = errors.New("all fallbacks failed")
	ErrUnsupportedModality = errors.New("provider does not support image analysis")
	ErrMissingCredentials  = errors.New("provider credentials not configured")
	ErrMalformedResponse   = errors.New("malformed provider response")
	ErrUnknownProvider     = errors.New("unknown provider")
	ErrProviderStatus      = errors.New("provider returned an error status")
	ErrInvalidImage        = errors.New("invalid image payload")
	ErrEmptyBatch          = errors.New("empty batch")
)
