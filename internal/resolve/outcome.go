package resolve

import "inntekt/internal/need"

// Status is the three-way result of handling one message. Keeping ignore,
// failure and success as distinct states stops callers from treating a
// routine skip as an error or a swallowed failure as a skip.
type Status int

const (
	// StatusIgnored means the message was not addressed to this engine
	// (or was already answered); nothing happened.
	StatusIgnored Status = iota
	// StatusFailed means the message was ours but could not be resolved;
	// the reason is logged and nothing was published.
	StatusFailed
	// StatusResolved means a solution was published.
	StatusResolved
)

// Outcome carries the status plus its payload: the error for a failure,
// the published envelope for a resolution.
type Outcome struct {
	Status   Status
	Err      error
	Envelope need.Envelope
}

func ignored() Outcome {
	return Outcome{Status: StatusIgnored}
}

func failed(err error) Outcome {
	return Outcome{Status: StatusFailed, Err: err}
}

func resolved(env need.Envelope) Outcome {
	return Outcome{Status: StatusResolved, Envelope: env}
}
