package guideline

import (
	"reflect"
	"testing"
	"time"

	"eligo/app/pkg/types"
)

func date(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := time.Parse(DateLayout, value)
	if err != nil {
		t.Fatalf("parse date %s: %v", value, err)
	}
	return parsed
}

func TestEvaluateRecentScreeningFailsInterval(t *testing.T) {
	// Last screening within the 24-month interval means the subject is
	// not yet due again, so the check fails even though every other
	// criterion passes.
	facts := types.Facts{Sex: types.SexFemale, BirthDate: "1969-08-10", LastEventDate: "2024-05-01"}
	result := Evaluate(facts, types.DefaultGuidelines(), date(t, "2025-01-01"))

	if result.Decision != types.DecisionIneligible {
		t.Fatalf("expected ineligible, got %s", result.Decision)
	}
	if result.Confidence != 0.8 {
		t.Fatalf("expected confidence 0.8, got %v", result.Confidence)
	}
	if result.SexCheck == nil || result.SexCheck.Status != CheckPassed {
		t.Fatalf("expected sex check passed, got %+v", result.SexCheck)
	}
	if result.AgeCheck == nil || result.AgeCheck.Status != CheckPassed || result.AgeCheck.PatientAge != 55 {
		t.Fatalf("expected age check passed at 55, got %+v", result.AgeCheck)
	}
	if result.IntervalCheck == nil || result.IntervalCheck.Status != CheckFailed {
		t.Fatalf("expected interval check failed, got %+v", result.IntervalCheck)
	}
}

func TestEvaluateNoHistoryUsesPolicy(t *testing.T) {
	facts := types.Facts{Sex: types.SexFemale, BirthDate: "1978-09-01"}
	result := Evaluate(facts, types.DefaultGuidelines(), date(t, "2030-01-01"))

	if result.Decision != types.DecisionNeedsMoreInfo {
		t.Fatalf("expected needs-more-info, got %s", result.Decision)
	}
	if result.Confidence != 0.7 {
		t.Fatalf("expected confidence 0.7, got %v", result.Confidence)
	}
	if result.IntervalCheck == nil || result.IntervalCheck.Status != CheckNoHistory {
		t.Fatalf("expected no_history interval check, got %+v", result.IntervalCheck)
	}
	if result.Rationale != types.DefaultGuidelines().Rationales[types.DecisionNeedsMoreInfo] {
		t.Fatalf("expected policy rationale, got %q", result.Rationale)
	}
}

func TestEvaluateAgeOutsideRange(t *testing.T) {
	facts := types.Facts{Sex: types.SexFemale, BirthDate: "1999-02-01", LastEventDate: "2023-06-01"}
	result := Evaluate(facts, types.DefaultGuidelines(), date(t, "2025-01-01"))

	if result.Decision != types.DecisionIneligible {
		t.Fatalf("expected ineligible, got %s", result.Decision)
	}
	if result.Confidence != 0.9 {
		t.Fatalf("expected confidence 0.9, got %v", result.Confidence)
	}
	check := result.AgeCheck
	if check == nil || check.Status != CheckFailed {
		t.Fatalf("expected failed age check, got %+v", check)
	}
	if check.PatientAge != 25 {
		t.Fatalf("expected patient age 25, got %d", check.PatientAge)
	}
	if check.RequiredRange == nil || check.RequiredRange.Min != 50 || check.RequiredRange.Max != 74 {
		t.Fatalf("expected required range 50-74, got %+v", check.RequiredRange)
	}
	if result.IntervalCheck != nil {
		t.Fatalf("expected short-circuit before interval check, got %+v", result.IntervalCheck)
	}
}

func TestEvaluateAllChecksPass(t *testing.T) {
	facts := types.Facts{Sex: types.SexFemale, BirthDate: "1969-08-10", LastEventDate: "2022-06-01"}
	result := Evaluate(facts, types.DefaultGuidelines(), date(t, "2025-01-01"))

	if result.Decision != types.DecisionEligible {
		t.Fatalf("expected eligible, got %s", result.Decision)
	}
	if result.Confidence != 0.95 {
		t.Fatalf("expected confidence 0.95, got %v", result.Confidence)
	}
	if result.IntervalCheck == nil || result.IntervalCheck.Status != CheckPassed {
		t.Fatalf("expected passed interval check, got %+v", result.IntervalCheck)
	}
}

func TestEvaluateSexMismatchAlwaysIneligible(t *testing.T) {
	// Monotonic safety: a sex mismatch is ineligible at >= 0.9 confidence
	// regardless of age or history.
	histories := []types.Facts{
		{Sex: types.SexMale},
		{Sex: types.SexMale, BirthDate: "1960-01-01"},
		{Sex: types.SexMale, BirthDate: "1960-01-01", LastEventDate: "2010-01-01"},
		{Sex: types.SexMale, BirthDate: "not-a-date", LastEventDate: "garbage"},
	}
	for _, facts := range histories {
		result := Evaluate(facts, types.DefaultGuidelines(), date(t, "2025-01-01"))
		if result.Decision != types.DecisionIneligible {
			t.Fatalf("facts %+v: expected ineligible, got %s", facts, result.Decision)
		}
		if result.Confidence < 0.9 {
			t.Fatalf("facts %+v: expected confidence >= 0.9, got %v", facts, result.Confidence)
		}
		if result.SexCheck == nil || result.SexCheck.Status != CheckFailed {
			t.Fatalf("facts %+v: expected failed sex check, got %+v", facts, result.SexCheck)
		}
	}
}

func TestEvaluateMissingSex(t *testing.T) {
	for _, sex := range []types.Sex{"", types.SexUnknown} {
		result := Evaluate(types.Facts{Sex: sex, BirthDate: "1969-08-10"}, types.DefaultGuidelines(), date(t, "2025-01-01"))
		if result.Decision != types.DecisionNeedsMoreInfo {
			t.Fatalf("sex %q: expected needs-more-info, got %s", sex, result.Decision)
		}
		if result.Confidence != 0.5 {
			t.Fatalf("sex %q: expected confidence 0.5, got %v", sex, result.Confidence)
		}
		if result.SexCheck == nil || result.SexCheck.Status != CheckMissing {
			t.Fatalf("sex %q: expected missing sex check, got %+v", sex, result.SexCheck)
		}
	}
}

func TestEvaluateMalformedDates(t *testing.T) {
	g := types.DefaultGuidelines()
	at := date(t, "2025-01-01")

	result := Evaluate(types.Facts{Sex: types.SexFemale, BirthDate: "10/08/1969"}, g, at)
	if result.Decision != types.DecisionNeedsMoreInfo || result.AgeCheck == nil || result.AgeCheck.Status != CheckInvalid {
		t.Fatalf("expected invalid age check, got %+v", result)
	}

	result = Evaluate(types.Facts{Sex: types.SexFemale, BirthDate: "1969-08-10", LastEventDate: "last year"}, g, at)
	if result.Decision != types.DecisionNeedsMoreInfo || result.IntervalCheck == nil || result.IntervalCheck.Status != CheckInvalid {
		t.Fatalf("expected invalid interval check, got %+v", result)
	}
}

func TestEvaluateBirthdayBoundary(t *testing.T) {
	g := types.DefaultGuidelines()
	facts := types.Facts{Sex: types.SexFemale, BirthDate: "1975-06-15", LastEventDate: "2010-01-01"}

	// Day before the 50th birthday: still 49, outside the range.
	before := Evaluate(facts, g, date(t, "2025-06-14"))
	if before.Decision != types.DecisionIneligible || before.AgeCheck.PatientAge != 49 {
		t.Fatalf("expected 49/ineligible before birthday, got age %d decision %s", before.AgeCheck.PatientAge, before.Decision)
	}

	// On the birthday the age increments.
	on := Evaluate(facts, g, date(t, "2025-06-15"))
	if on.Decision != types.DecisionEligible || on.AgeCheck.PatientAge != 50 {
		t.Fatalf("expected 50/eligible on birthday, got age %d decision %s", on.AgeCheck.PatientAge, on.Decision)
	}
}

func TestEvaluateIsPure(t *testing.T) {
	facts := types.Facts{Sex: types.SexFemale, BirthDate: "1969-08-10", LastEventDate: "2024-05-01"}
	g := types.DefaultGuidelines()
	at := date(t, "2025-01-01")

	first := Evaluate(facts, g, at)
	for i := 0; i < 5; i++ {
		if again := Evaluate(facts, g, at); !reflect.DeepEqual(first, again) {
			t.Fatalf("evaluation not deterministic: %+v vs %+v", first, again)
		}
	}
}

func TestAddMonthsClampsDay(t *testing.T) {
	cases := []struct {
		from   string
		months int
		want   string
	}{
		{"2025-03-31", -1, "2025-02-28"},
		{"2024-03-31", -1, "2024-02-29"},
		{"2025-01-01", -24, "2023-01-01"},
		{"2025-01-31", -2, "2024-11-30"},
		{"2024-12-15", 2, "2025-02-15"},
	}
	for _, tc := range cases {
		got := addMonths(date(t, tc.from), tc.months)
		if got.Format(DateLayout) != tc.want {
			t.Fatalf("addMonths(%s, %d) = %s, want %s", tc.from, tc.months, got.Format(DateLayout), tc.want)
		}
	}
}
