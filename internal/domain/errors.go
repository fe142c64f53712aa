package domain

import "errors"

var (
	ErrNotFound = errors.New("not found")

	// ErrUnknownEvent marks a log whose topic0 matches no decoder variant.
	// It is permanent for that log: the engine skips and logs it rather
	// than blocking the batch.
	ErrUnknownEvent = errors.New("unknown event signature")

	// ErrMalformedLog marks a log that matched a known signature but failed
	// to unpack. Permanent for that log, same handling as ErrUnknownEvent.
	ErrMalformedLog = errors.New("malformed log")
)
