package order

import "strings"

// Outcome is the decision for one observation against the stored status.
type Outcome struct {
	Next    Status
	Changed bool
	// Suppressed marks a terminal order hit by a disagreeing terminal
	// observation: the payload is recorded for audit, the status stays put.
	Suppressed bool
}

// Reconcile decides the next status from (stored status, observed status).
// It is a pure function, which is what makes webhook redelivery idempotent:
// the same observation always produces the same outcome.
//
// Rules:
//   - terminal stored statuses are write-once; nothing moves them
//   - a terminal observation commits from CREATED or PENDING
//   - anything else normalizes to PENDING, a no-op when already PENDING
func Reconcile(current, observed Status) Outcome {
	if current.Terminal() {
		return Outcome{
			Next:       current,
			Suppressed: observed.Terminal() && observed != current,
		}
	}
	switch observed {
	case StatusSuccess, StatusFailed:
		return Outcome{Next: observed, Changed: true}
	default:
		return Outcome{Next: StatusPending, Changed: current != StatusPending}
	}
}

// MapProviderStatus maps the gateway's status vocabulary onto the canonical
// enum. The mapping is total: any code that is neither a known success nor a
// known failure counts as still pending.
func MapProviderStatus(raw string) Status {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "PAID", "SUCCESS", "SUCCEEDED", "COMPLETED", "APPROVED", "SETTLED", "CAPTURED":
		return StatusSuccess
	case "FAILED", "FAILURE", "EXPIRED", "CANCELLED", "CANCELED", "DECLINED", "REJECTED", "ERROR":
		return StatusFailed
	default:
		return StatusPending
	}
}
