package qualification

import (
	"strings"
	"testing"
)

func ptrFloat(v float64) *float64 { return &v }
func ptrBool(v bool) *bool        { return &v }

func fullRecord() *Record {
	return &Record{
		Intent:           IntentBuy,
		Timeline:         TimelineUrgent,
		Budget:           ptrFloat(400000),
		Financing:        FinancingApproved,
		LocationSpecific: ptrBool(true),
		PropertySpecific: ptrBool(true),
		HasContactInfo:   ptrBool(true),
	}
}

func TestNextQuestion_FixedOrder(t *testing.T) {
	r := &Record{}

	first := NextQuestion(r)
	if !strings.Contains(first, "acquistare") {
		t.Errorf("first question = %q, want the intent question", first)
	}

	r.Intent = IntentBuy
	second := NextQuestion(r)
	if !strings.Contains(second, "tempi") {
		t.Errorf("second question = %q, want the timeline question", second)
	}

	// Skipping ahead does not change priority: budget stays unanswered
	// even when later slots are filled.
	r.HasContactInfo = ptrBool(true)
	r.Timeline = TimelineUrgent
	third := NextQuestion(r)
	if !strings.Contains(third, "budget") {
		t.Errorf("third question = %q, want the budget question", third)
	}
}

func TestNextQuestion_CompleteRecord(t *testing.T) {
	r := fullRecord()
	if q := NextQuestion(r); q != "" {
		t.Errorf("NextQuestion(complete) = %q, want \"\"", q)
	}
	if !Complete(r) {
		t.Error("Complete(full record) = false, want true")
	}
}

func TestScore_HotLead(t *testing.T) {
	res := Score(fullRecord())
	if res.Raw != MaxRawScore {
		t.Errorf("Raw = %d, want %d", res.Raw, MaxRawScore)
	}
	if res.Normalized != 10 {
		t.Errorf("Normalized = %d, want 10", res.Normalized)
	}
	if res.Category != CategoryHot {
		t.Errorf("Category = %q, want %q", res.Category, CategoryHot)
	}
	if !strings.Contains(res.RecommendedAction, "5 minutes") {
		t.Errorf("RecommendedAction = %q, want a 5 minutes callback", res.RecommendedAction)
	}
}

func TestScore_KillSwitchOverridesNumericScore(t *testing.T) {
	// Strong answers everywhere except a sub-floor budget and an
	// unknown timeline: the kill-switch must win over the number.
	r := fullRecord()
	r.Budget = ptrFloat(30000)
	r.Timeline = TimelineUnknown

	res := Score(r)
	if res.Category != CategoryDisqualified {
		t.Errorf("Category = %q, want %q (kill-switch)", res.Category, CategoryDisqualified)
	}
	if res.Normalized == 0 {
		t.Error("kill-switch should override the category, not zero the score")
	}
}

func TestScore_KillSwitchRequiresAllThreeConditions(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Record)
	}{
		{"budget at floor", func(r *Record) { r.Budget = ptrFloat(50000) }},
		{"timeline known", func(r *Record) { r.Timeline = TimelineThreeMonths }},
		{"intent not buy", func(r *Record) { r.Intent = IntentRent }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &Record{
				Intent:   IntentBuy,
				Timeline: TimelineUnknown,
				Budget:   ptrFloat(30000),
			}
			tt.mutate(r)
			if res := Score(r); res.Category == CategoryDisqualified {
				t.Errorf("Category = DISQUALIFIED with condition relaxed (%s)", tt.name)
			}
		})
	}
}

func TestScore_NormalizationBoundaries(t *testing.T) {
	// No answers at all: score is zero, category COLD.
	empty := Score(&Record{})
	if empty.Normalized != 0 {
		t.Errorf("Normalized(empty) = %d, want 0", empty.Normalized)
	}
	if empty.Category != CategoryCold {
		t.Errorf("Category(empty) = %q, want %q", empty.Category, CategoryCold)
	}

	// One zero-point answer still floors the normalized score at 1.
	floored := Score(&Record{Timeline: TimelineExploring})
	if floored.Raw != 0 {
		t.Errorf("Raw = %d, want 0 for an exploring timeline", floored.Raw)
	}
	if floored.Normalized != 1 {
		t.Errorf("Normalized = %d, want floor of 1 once any answer exists", floored.Normalized)
	}
}

func TestScore_CategoryThresholds(t *testing.T) {
	// Warm band: solid but not urgent.
	warm := Score(&Record{
		Intent:           IntentBuy,
		Timeline:         TimelineThreeMonths,
		Budget:           ptrFloat(200000),
		Financing:        FinancingInProgress,
		LocationSpecific: ptrBool(true),
	})
	if warm.Category != CategoryWarm {
		t.Errorf("Category = %q (raw %d, normalized %d), want %q",
			warm.Category, warm.Raw, warm.Normalized, CategoryWarm)
	}

	// Cold band: vague answers only.
	cold := Score(&Record{
		Intent:   IntentInfo,
		Timeline: TimelineExploring,
	})
	if cold.Category != CategoryCold {
		t.Errorf("Category = %q, want %q", cold.Category, CategoryCold)
	}
}

func TestScore_IsPure(t *testing.T) {
	r := fullRecord()
	first := Score(r)
	second := Score(r)
	if first != second {
		t.Errorf("Score not deterministic: %+v vs %+v", first, second)
	}
}
