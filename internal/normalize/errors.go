package normalize

import (
	"fmt"

	"github.com/crawlstack/crawlgraph/internal/metadata"
	"github.com/crawlstack/crawlgraph/pkg/failure"
)

type NormalizationErrorCause string

const (
	ErrCauseEmptyURL          NormalizationErrorCause = "empty URL"
	ErrCauseUnsupportedScheme NormalizationErrorCause = "unsupported scheme"
	ErrCauseParseFailure      NormalizationErrorCause = "failed to parse URL"
	ErrCauseResolveFailure    NormalizationErrorCause = "failed to resolve against base"
)

type NormalizationError struct {
	Message string
	Cause   NormalizationErrorCause
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalization error: %s: %s", e.Cause, e.Message)
}

// Severity is always SeverityFatal: a URL that fails to normalize is
// rejected outright, never retried.
func (e *NormalizationError) Severity() failure.Severity {
	return failure.SeverityFatal
}

// mapNormalizationErrorToMetadataCause maps normalize-local error semantics
// to the canonical metadata.ErrorCause table.
//
// This mapping is observational only and MUST NOT be used
// to derive control-flow decisions.
func mapNormalizationErrorToMetadataCause(err *NormalizationError) metadata.ErrorCause {
	switch err.Cause {
	case ErrCauseEmptyURL, ErrCauseUnsupportedScheme:
		return metadata.CauseContentInvalid
	case ErrCauseParseFailure, ErrCauseResolveFailure:
		return metadata.CauseContentInvalid
	default:
		return metadata.CauseUnknown
	}
}
