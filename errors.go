package rmbg

import "errors"

var (
	// ErrModelUnavailable means no model could be found, fetched or loaded.
	ErrModelUnavailable = errors.New("model unavailable")
	// ErrServiceUnavailable is returned to callers when the request cannot be
	// served because no model is obtainable. It always wraps ErrModelUnavailable.
	ErrServiceUnavailable = errors.New("background removal service unavailable")
	// ErrInference marks a failed model invocation or unusable model output.
	ErrInference = errors.New("inference failed")
	// ErrDecode marks input bytes that are not a decodable image.
	ErrDecode = errors.New("failed to decode image")
	// ErrEncode marks a result that could not be written as PNG.
	ErrEncode = errors.New("failed to encode image")
	// ErrProcessingFailed is returned instead of a degraded result when the
	// fallback is disabled.
	ErrProcessingFailed = errors.New("background removal failed")
)
