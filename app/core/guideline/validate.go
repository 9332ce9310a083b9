package guideline

import (
	"fmt"

	"eligo/app/pkg/types"
)

// ValidationError names the specific violated constraint of a rejected
// guidelines update. The update is refused before any mutation.
type ValidationError struct {
	Constraint string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid guidelines: %s", e.Constraint)
}

func invalid(format string, args ...interface{}) error {
	return &ValidationError{Constraint: fmt.Sprintf(format, args...)}
}

// Validate checks a guidelines configuration against the update
// invariants. A nil return means the configuration may atomically replace
// the stored version.
func Validate(g types.Guidelines) error {
	if g.AgeRange.Min < 0 || g.AgeRange.Min > 120 {
		return invalid("age_range.min %d must be within [0,120]", g.AgeRange.Min)
	}
	if g.AgeRange.Max < 0 || g.AgeRange.Max > 120 {
		return invalid("age_range.max %d must be within [0,120]", g.AgeRange.Max)
	}
	if g.AgeRange.Min >= g.AgeRange.Max {
		return invalid("age_range.min %d must be less than age_range.max %d", g.AgeRange.Min, g.AgeRange.Max)
	}
	if g.IntervalMonths <= 0 {
		return invalid("interval_months %d must be a positive integer", g.IntervalMonths)
	}
	if g.SexRequired != types.SexMale && g.SexRequired != types.SexFemale {
		return invalid("sex_required %q must be %q or %q", g.SexRequired, types.SexMale, types.SexFemale)
	}
	if !g.NoHistoryPolicy.Valid() {
		return invalid("no_history_policy %q is not a known decision", g.NoHistoryPolicy)
	}
	for _, d := range types.Decisions() {
		if g.Rationales[d] == "" {
			return invalid("rationales missing entry for decision %q", d)
		}
	}
	return nil
}
