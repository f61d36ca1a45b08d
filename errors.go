package coalstore

import (
	"errors"
	"fmt"

	"github.com/unkn0wn-root/coalstore/internal/lease"
)

// ErrThrottled reports that the admission gate refused the backing-store call.
// Distinct from backing-store failures so callers can apply backoff instead of
// an immediate retry.
var ErrThrottled = errors.New("coalstore: throttled by admission gate")

// ErrLeaseAbandoned reports that the leader for the key released its lease
// without producing a result (cancelled or torn down). Retryable: the lease
// slot is free by the time a follower observes this error.
var ErrLeaseAbandoned = lease.ErrAbandoned

// CorruptionError reports a violation of the content-addressing contract:
// bytes observed for a key differ from what that key must denote. Corrupt
// bytes are never cached and the error is always surfaced.
type CorruptionError struct {
	Key    string
	Reason string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("coalstore: corrupt blob %q: %s", e.Key, e.Reason)
}

// IsCorrupted reports whether err is (or wraps) a CorruptionError.
func IsCorrupted(err error) bool {
	var ce *CorruptionError
	return errors.As(err, &ce)
}

// IsRetryable reports whether err indicates a transient coordination failure
// that a caller may retry immediately. Throttling and backing-store errors are
// deliberately excluded: those want caller-side backoff policy.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrLeaseAbandoned)
}
