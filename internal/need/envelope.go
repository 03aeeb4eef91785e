// Package need defines the request envelope exchanged on the shared topic
// and decides which envelopes this resolver may answer.
package need

import (
	"encoding/json"
	"fmt"

	"inntekt/internal/period"
)

// Envelope keys this resolver reads or writes. Envelopes carry arbitrary
// additional fields owned by other components on the bus; those must
// survive untouched.
const (
	KeyID           = "id"
	KeySubjectID    = "subjectId"
	KeyCorrelation  = "correlationId"
	KeyCapabilities = "requestedCapabilities"
	KeyPeriodStart  = "periodStart"
	KeyPeriodEnd    = "periodEnd"
	KeySolution     = "solution"
)

// Envelope is a need message. It is backed by the raw JSON fields so every
// key we do not understand round-trips byte-for-byte.
type Envelope struct {
	fields map[string]json.RawMessage

	ID            string
	SubjectID     string
	CorrelationID string
	Capabilities  []string
	PeriodStart   period.YearMonth
	PeriodEnd     period.YearMonth
}

// decode parses raw bytes into an Envelope. Typed fields are extracted but
// not validated beyond JSON shape; Validator applies the acceptance rules.
func decode(raw []byte) (Envelope, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}

	env := Envelope{fields: fields}

	stringFields := map[string]*string{
		KeyID:          &env.ID,
		KeySubjectID:   &env.SubjectID,
		KeyCorrelation: &env.CorrelationID,
	}
	for key, dst := range stringFields {
		raw, ok := fields[key]
		if !ok {
			return Envelope{}, fmt.Errorf("envelope missing %q", key)
		}
		if err := json.Unmarshal(raw, dst); err != nil {
			return Envelope{}, fmt.Errorf("envelope field %q: %w", key, err)
		}
	}

	if raw, ok := fields[KeyCapabilities]; ok {
		if err := json.Unmarshal(raw, &env.Capabilities); err != nil {
			return Envelope{}, fmt.Errorf("envelope field %q: %w", KeyCapabilities, err)
		}
	}

	for key, dst := range map[string]*period.YearMonth{
		KeyPeriodStart: &env.PeriodStart,
		KeyPeriodEnd:   &env.PeriodEnd,
	} {
		raw, ok := fields[key]
		if !ok {
			return Envelope{}, fmt.Errorf("envelope missing %q", key)
		}
		if err := json.Unmarshal(raw, dst); err != nil {
			return Envelope{}, fmt.Errorf("envelope field %q: %w", key, err)
		}
	}

	return env, nil
}

// HasSolution reports whether any resolver already answered this envelope.
func (e Envelope) HasSolution() bool {
	raw, ok := e.fields[KeySolution]
	if !ok {
		return false
	}
	return string(raw) != "null"
}

// RequestsCapability reports whether the envelope asks for the named
// capability.
func (e Envelope) RequestsCapability(name string) bool {
	for _, c := range e.Capabilities {
		if c == name {
			return true
		}
	}
	return false
}

// MarshalJSON renders the envelope from its raw fields, preserving every
// key the resolver never touched.
func (e Envelope) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.fields)
}

// WithSolution returns a copy of the envelope with result attached under
// solution[capability]. Sections written by other resolvers are merged,
// never replaced. The receiver is not mutated.
func (e Envelope) WithSolution(capability string, result any) (Envelope, error) {
	encoded, err := json.Marshal(result)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode solution %q: %w", capability, err)
	}

	solution := map[string]json.RawMessage{}
	if existing, ok := e.fields[KeySolution]; ok && string(existing) != "null" {
		if err := json.Unmarshal(existing, &solution); err != nil {
			return Envelope{}, fmt.Errorf("merge existing solution: %w", err)
		}
	}
	solution[capability] = encoded

	solutionRaw, err := json.Marshal(solution)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode solution object: %w", err)
	}

	fields := make(map[string]json.RawMessage, len(e.fields)+1)
	for k, v := range e.fields {
		fields[k] = v
	}
	fields[KeySolution] = solutionRaw

	out := e
	out.fields = fields
	return out, nil
}
