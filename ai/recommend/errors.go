package recommend

import "errors"

var (
	// ErrEmbeddingUnavailable means no usable query vector exists and recomputing it failed.
	ErrEmbeddingUnavailable = errors.New("query embedding unavailable")

	// ErrDomainEntityGone means the requesting user or group no longer exists or is inactive.
	ErrDomainEntityGone = errors.New("domain entity gone")
)
