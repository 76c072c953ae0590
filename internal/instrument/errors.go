package instrument

import (
	"fmt"

	"github.com/blacktop/ilcov/internal/resolve"
)

// MissingDebugInfoError reports an absent or mismatched symbols companion.
type MissingDebugInfoError struct {
	Path string
	Err  error
}

func (e *MissingDebugInfoError) Error() string {
	return fmt.Sprintf("debug info not found for %s: %v", e.Path, e.Err)
}

func (e *MissingDebugInfoError) Unwrap() error { return e.Err }

// SigningKeyRequiredError reports a strong named module that cannot be rewritten without
// the signing key.
type SigningKeyRequiredError struct {
	Path   string
	Reason string
}

func (e *SigningKeyRequiredError) Error() string {
	return fmt.Sprintf("%s: %s, a signing key file is required (ILCOV_INSTRUMENT_SNK)", e.Path, e.Reason)
}

// RewriteConsistencyError reports a structural problem found while rewriting a method.
type RewriteConsistencyError struct {
	Method string
	Err    error
}

func (e *RewriteConsistencyError) Error() string {
	return fmt.Sprintf("failed to rewrite %s: %v", e.Method, e.Err)
}

func (e *RewriteConsistencyError) Unwrap() error { return e.Err }

// ResolutionError reports a reference that could not be resolved or does not have the
// expected shape.
type ResolutionError = resolve.Error

// SupportLibraryCopyError reports a failed support library copy. It never aborts a rewrite.
type SupportLibraryCopyError struct {
	Path string
	Err  error
}

func (e *SupportLibraryCopyError) Error() string {
	return fmt.Sprintf("failed to copy support library to %s: %v", e.Path, e.Err)
}

func (e *SupportLibraryCopyError) Unwrap() error { return e.Err }
