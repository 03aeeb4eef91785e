// Package dedupe remembers which needs this process already answered, so a
// bus redelivery is skipped even before the solution-carrying copy of the
// envelope circulates back on the topic.
//
// The store is advisory: a store failure never fails a message. The hard
// idempotency guarantee stays with the validator's solution-present check.
package dedupe

import "context"

// Store tracks answered need ids for a bounded retention window.
type Store interface {
	// Seen reports whether the need id was already answered.
	Seen(ctx context.Context, needID string) (bool, error)
	// Mark records the need id as answered.
	Mark(ctx context.Context, needID string) error
}
