package remote

import (
	"context"
	"errors"
	"fmt"
)

// AbsoluteSymlinkTargetError is returned by the output planner when a symlink's
// target begins with a path separator. Servers occasionally emit these but
// Please has never supported materializing them.
type AbsoluteSymlinkTargetError struct {
	WirePath string
	Target   string
}

func (e *AbsoluteSymlinkTargetError) Error() string {
	return fmt.Sprintf("symlink %s has absolute target %s; this is not supported", e.WirePath, e.Target)
}

// MalformedTreeError is returned by the tree expander when a Directory node
// references a child digest that isn't present among the Tree's children.
type MalformedTreeError struct {
	Digest string
}

func (e *MalformedTreeError) Error() string {
	return fmt.Sprintf("malformed tree: no child directory with digest %s", e.Digest)
}

// BulkTransferError aggregates the failures of a set of concurrent fetches.
// Primary is whichever failure was recorded first; Suppressed holds the
// remainder, with duplicate error instances (the common case when several
// outputs share an unfetchable digest) collapsed to a single entry.
type BulkTransferError struct {
	Primary    error
	Suppressed []error
}

func (e *BulkTransferError) Error() string {
	if len(e.Suppressed) == 0 {
		return e.Primary.Error()
	}
	return fmt.Sprintf("%s (and %d other error(s))", e.Primary.Error(), len(e.Suppressed))
}

func (e *BulkTransferError) Unwrap() error {
	return e.Primary
}

// newBulkTransferError builds a BulkTransferError from a set of failures,
// deduplicating by instance identity per the aggregation rule: several
// fetches that failed because they shared a single unfetchable digest will
// have recorded the exact same error value, and must contribute only once.
func newBulkTransferError(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	seen := make(map[error]bool, len(errs))
	var deduped []error
	for _, err := range errs {
		if err == nil || seen[err] {
			continue
		}
		seen[err] = true
		deduped = append(deduped, err)
	}
	if len(deduped) == 0 {
		return nil
	}
	return &BulkTransferError{Primary: deduped[0], Suppressed: deduped[1:]}
}

// InterruptedError wraps a context cancellation that aborted a download.
// It is kept distinct from BulkTransferError so callers can tell "the build
// was stopped" apart from "the remote genuinely failed".
type InterruptedError struct {
	Cause error
}

func (e *InterruptedError) Error() string {
	return fmt.Sprintf("download interrupted: %s", e.Cause)
}

func (e *InterruptedError) Unwrap() error {
	return e.Cause
}

func (e *InterruptedError) Is(target error) bool {
	return target == context.Canceled
}

// isInterrupted reports whether err represents context cancellation, in
// which case it should be surfaced as an InterruptedError rather than
// folded into a BulkTransferError.
func isInterrupted(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
