package schema

// Stream event types published while passes run.
const (
	EventPassStarted   = "pass.started"
	EventPassSucceeded = "pass.succeeded"
	EventPassFailed    = "pass.failed"
	EventPassCancelled = "pass.cancelled"
	EventPassRetried   = "pass.retried"
	EventPassFellBack  = "pass.fell_back"

	EventPresentationsInvalidated = "presentations.invalidated"
)

// Pass outcomes, used as metric labels.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
	OutcomeFallback  = "fallback"
	OutcomeFastTrack = "fast_track"
)
