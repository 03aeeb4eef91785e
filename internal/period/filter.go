package period

import (
	"errors"
	"fmt"
)

// FilterCode selects which regulatory income-reporting slice the registry
// should answer from.
type FilterCode string

const (
	// FilterShortWindow covers the three month reporting window.
	FilterShortWindow FilterCode = "8-28"
	// FilterLongWindow covers the twelve month reporting window.
	FilterLongWindow FilterCode = "8-30"
)

// ErrUnsupportedSpan marks a requested window whose month span matches
// neither recognized reporting window. The registry only answers the two
// windows tied to their regulatory articles, so anything else is a caller
// defect and must not be coerced to a default.
var ErrUnsupportedSpan = errors.New("unsupported period span")

// FilterStrategy derives the registry filter for a requested window.
// Capabilities bound to a single regulatory article use FixedFilter;
// capabilities that infer the article from the window use Rules.
type FilterStrategy interface {
	FilterFor(start, end YearMonth) (FilterCode, error)
}

// Rules maps a window's month span to a filter code. The thresholds have
// drifted historically, so they are explicit fields rather than literals;
// DefaultRules reflects the current behavior.
type Rules struct {
	ShortSpan int
	LongSpan  int
	ShortCode FilterCode
	LongCode  FilterCode
}

// DefaultRules returns the canonical span thresholds: a three month window
// (span 2) selects the short code, a twelve month window (span 11) the
// long code.
func DefaultRules() Rules {
	return Rules{
		ShortSpan: 2,
		LongSpan:  11,
		ShortCode: FilterShortWindow,
		LongCode:  FilterLongWindow,
	}
}

// FilterFor resolves the filter code for the inclusive window [start, end].
func (r Rules) FilterFor(start, end YearMonth) (FilterCode, error) {
	span := MonthsBetween(start, end)
	switch span {
	case r.ShortSpan:
		return r.ShortCode, nil
	case r.LongSpan:
		return r.LongCode, nil
	default:
		return "", fmt.Errorf("%w: %d months between %s and %s", ErrUnsupportedSpan, span, start, end)
	}
}

// FixedFilter always resolves to the same code regardless of the window.
type FixedFilter FilterCode

func (f FixedFilter) FilterFor(_, _ YearMonth) (FilterCode, error) {
	return FilterCode(f), nil
}
