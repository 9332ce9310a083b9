package guideline

import (
	"fmt"
	"time"

	"eligo/app/pkg/types"
)

// DateLayout is the wire format for fact dates.
const DateLayout = "2006-01-02"

// CheckStatus reports how a single guideline check resolved.
type CheckStatus string

const (
	CheckPassed    CheckStatus = "passed"
	CheckFailed    CheckStatus = "failed"
	CheckMissing   CheckStatus = "missing"
	CheckInvalid   CheckStatus = "invalid"
	CheckNoHistory CheckStatus = "no_history"
)

// CheckDetail is the structured record of one check.
type CheckDetail struct {
	Status        CheckStatus     `json:"status"`
	Detail        string          `json:"detail,omitempty"`
	PatientAge    int             `json:"patient_age,omitempty"`
	RequiredRange *types.AgeRange `json:"required_range,omitempty"`
}

// EvaluationResult is the rule engine's verdict for one set of facts.
type EvaluationResult struct {
	Decision          types.Decision `json:"decision"`
	Rationale         string         `json:"rationale"`
	Confidence        float64        `json:"confidence"`
	SexCheck          *CheckDetail   `json:"sex_check,omitempty"`
	AgeCheck          *CheckDetail   `json:"age_check,omitempty"`
	IntervalCheck     *CheckDetail   `json:"interval_check,omitempty"`
	GuidelinesVersion string         `json:"guidelines_version,omitempty"`
}

// Evaluate runs the guideline checks in fixed order (sex, age, interval),
// short-circuiting on the first check that fails or cannot complete. It is
// a pure function of its inputs: no clock reads, no side effects.
//
// The interval check deliberately fails when the last event is more recent
// than the interval cutoff: a subject screened inside the interval is not
// yet due again. That polarity is intentional and load-bearing.
func Evaluate(facts types.Facts, g types.Guidelines, evaluationDate time.Time) EvaluationResult {
	res := EvaluationResult{GuidelinesVersion: g.Version}

	// 1. Sex check.
	switch {
	case facts.Sex == "" || facts.Sex == types.SexUnknown:
		res.SexCheck = &CheckDetail{Status: CheckMissing, Detail: "sex not recorded"}
		res.Decision = types.DecisionNeedsMoreInfo
		res.Confidence = 0.5
		res.Rationale = "Subject sex is not recorded; it is required for this guideline."
		return res
	case facts.Sex != g.SexRequired:
		res.SexCheck = &CheckDetail{
			Status: CheckFailed,
			Detail: fmt.Sprintf("recorded sex %q does not match required %q", facts.Sex, g.SexRequired),
		}
		res.Decision = types.DecisionIneligible
		res.Confidence = 0.9
		res.Rationale = fmt.Sprintf("Guideline applies to %s subjects only.", g.SexRequired)
		return res
	default:
		res.SexCheck = &CheckDetail{Status: CheckPassed}
	}

	// 2. Age check.
	if facts.BirthDate == "" {
		res.AgeCheck = &CheckDetail{Status: CheckMissing, Detail: "birth date not recorded"}
		res.Decision = types.DecisionNeedsMoreInfo
		res.Confidence = 0.5
		res.Rationale = "Birth date is not recorded; age cannot be verified."
		return res
	}
	birth, err := time.Parse(DateLayout, facts.BirthDate)
	if err != nil {
		res.AgeCheck = &CheckDetail{Status: CheckInvalid, Detail: fmt.Sprintf("unparseable birth date %q", facts.BirthDate)}
		res.Decision = types.DecisionNeedsMoreInfo
		res.Confidence = 0.5
		res.Rationale = "Birth date is malformed; age cannot be verified."
		return res
	}
	age := wholeYears(birth, evaluationDate)
	if age < g.AgeRange.Min || age > g.AgeRange.Max {
		rng := g.AgeRange
		res.AgeCheck = &CheckDetail{
			Status:        CheckFailed,
			Detail:        fmt.Sprintf("age %d outside required range", age),
			PatientAge:    age,
			RequiredRange: &rng,
		}
		res.Decision = types.DecisionIneligible
		res.Confidence = 0.9
		res.Rationale = fmt.Sprintf("Subject age %d is outside the guideline range %d-%d.", age, rng.Min, rng.Max)
		return res
	}
	res.AgeCheck = &CheckDetail{Status: CheckPassed, PatientAge: age}

	// 3. Interval check.
	if facts.LastEventDate == "" {
		res.IntervalCheck = &CheckDetail{Status: CheckNoHistory, Detail: "no prior screening on record"}
		res.Decision = g.NoHistoryPolicy
		res.Confidence = 0.7
		res.Rationale = g.Rationales[g.NoHistoryPolicy]
		return res
	}
	lastEvent, err := time.Parse(DateLayout, facts.LastEventDate)
	if err != nil {
		res.IntervalCheck = &CheckDetail{Status: CheckInvalid, Detail: fmt.Sprintf("unparseable last event date %q", facts.LastEventDate)}
		res.Decision = types.DecisionNeedsMoreInfo
		res.Confidence = 0.5
		res.Rationale = "Last screening date is malformed; the interval cannot be verified."
		return res
	}
	cutoff := addMonths(evaluationDate, -g.IntervalMonths)
	if lastEvent.After(cutoff) {
		res.IntervalCheck = &CheckDetail{
			Status: CheckFailed,
			Detail: fmt.Sprintf("last event %s is more recent than cutoff %s", lastEvent.Format(DateLayout), cutoff.Format(DateLayout)),
		}
		res.Decision = types.DecisionIneligible
		res.Confidence = 0.8
		res.Rationale = fmt.Sprintf("Last screening on %s is within the %d-month interval; not yet due.", facts.LastEventDate, g.IntervalMonths)
		return res
	}
	res.IntervalCheck = &CheckDetail{Status: CheckPassed}

	res.Decision = types.DecisionEligible
	res.Confidence = 0.95
	res.Rationale = g.Rationales[types.DecisionEligible]
	return res
}

// EvaluateNow evaluates against today's date.
func EvaluateNow(facts types.Facts, g types.Guidelines) EvaluationResult {
	return Evaluate(facts, g, time.Now().UTC())
}

// wholeYears computes calendar age: the count is not incremented until the
// birthday has occurred in the evaluation year.
func wholeYears(birth, at time.Time) int {
	years := at.Year() - birth.Year()
	if at.Month() < birth.Month() || (at.Month() == birth.Month() && at.Day() < birth.Day()) {
		years--
	}
	return years
}

// addMonths shifts a date by whole calendar months, clamping the day to
// the target month's length (Mar 31 - 1mo = Feb 28/29, not Mar 3).
func addMonths(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m, 1, 0, 0, 0, 0, t.Location())
	first = first.AddDate(0, months, 0)
	if last := first.AddDate(0, 1, -1).Day(); d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, 0, 0, 0, 0, t.Location())
}
