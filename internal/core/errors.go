package core

import "errors"

var (
	// ErrScriptNotFound is returned when a path does not name an existing regular file.
	ErrScriptNotFound = errors.New("script not found")
	// ErrUnsupportedScript covers a wrong suffix, an oversized file and non-text decoder output.
	ErrUnsupportedScript = errors.New("unsupported script")
	// ErrTransformFailed is returned when a decoder or encoder exits unsuccessfully.
	ErrTransformFailed = errors.New("transform failed")
	// ErrDecodeFailed marks a transform failure while decoding a script body.
	ErrDecodeFailed = errors.New("decode failed")
	// ErrConcurrencyLimit is returned when every detached slot is taken.
	ErrConcurrencyLimit = errors.New("detached process limit reached")
)
