// Package period models calendar-month granularity time windows and the
// mapping from a window's span to the registry's reporting filter.
package period

import (
	"encoding/json"
	"fmt"
	"time"
)

// YearMonth is a calendar month with no day component, serialized as
// "YYYY-MM".
type YearMonth struct {
	Year  int
	Month time.Month
}

// Parse reads a "YYYY-MM" string into a YearMonth.
func Parse(s string) (YearMonth, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return YearMonth{}, fmt.Errorf("parse year-month %q: %w", s, err)
	}
	return YearMonth{Year: t.Year(), Month: t.Month()}, nil
}

func (ym YearMonth) String() string {
	return fmt.Sprintf("%04d-%02d", ym.Year, int(ym.Month))
}

// Before reports whether ym is strictly earlier than other.
func (ym YearMonth) Before(other YearMonth) bool {
	if ym.Year != other.Year {
		return ym.Year < other.Year
	}
	return ym.Month < other.Month
}

// MonthsBetween returns the signed number of whole months from a to b.
// Adjacent months yield 1; identical months yield 0.
func MonthsBetween(a, b YearMonth) int {
	return (b.Year-a.Year)*12 + int(b.Month) - int(a.Month)
}

func (ym YearMonth) MarshalJSON() ([]byte, error) {
	return json.Marshal(ym.String())
}

func (ym *YearMonth) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*ym = parsed
	return nil
}
