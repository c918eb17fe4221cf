package worker

import "strings"

// recoverableSubstrings is the exact keyword set spec.md §4.4.4 defines for
// recoverable queue-level errors, matched case-insensitively.
var recoverableSubstrings = []string{
	"connection",
	"timeout",
	"temporary",
	"retry",
	"unavailable",
	"overload",
	"congestion",
	"resource",
	"busy",
	"rate limit",
	"throttle",
}

// ClassifyError reports whether err should be treated as recoverable
// (negative-ack with requeue) per spec.md §4.4.4. In this implementation
// the classification is only consulted for errors raised by
// queue.Queue.AcquireNext, before a lease (and so early-ack) exists —
// everything past early-ack is, by construction, non-recoverable at the
// queue layer and persisted as a FAILED task instead.
func ClassifyError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, substr := range recoverableSubstrings {
		if strings.Contains(msg, substr) {
			return true
		}
	}
	return false
}
