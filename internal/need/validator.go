package need

// Validator decides whether an inbound message is addressed to one
// capability of this resolver. A miss is normal bus traffic, not an error:
// most messages on the shared topic belong to other resolvers.
type Validator struct {
	capability string
}

// NewValidator builds a validator for one capability name. Register one
// validator (and engine) per capability; they share no state.
func NewValidator(capability string) Validator {
	return Validator{capability: capability}
}

// Capability returns the capability name this validator accepts.
func (v Validator) Capability() string {
	return v.capability
}

// Validate inspects raw message bytes and returns the decoded envelope
// with ok=true only when every acceptance predicate holds: required keys
// present and well typed, the capability requested, and no solution
// attached yet. Anything else, including non-JSON input, is an ignore.
func (v Validator) Validate(raw []byte) (Envelope, bool) {
	env, err := decode(raw)
	if err != nil {
		return Envelope{}, false
	}
	if env.ID == "" || env.SubjectID == "" || env.CorrelationID == "" {
		return Envelope{}, false
	}
	if !env.RequestsCapability(v.capability) {
		return Envelope{}, false
	}
	if env.HasSolution() {
		return Envelope{}, false
	}
	return env, true
}
