// Package qualification implements the lead qualification engine: a
// fixed-order slot-filling walk over buyer answers and a deterministic
// score/category derivation. The engine is pure; callers persist its
// output and decide when to invoke it.
package qualification

import (
	"fmt"
	"math"
)

// Intent is the declared transactional intent of the lead.
type Intent string

const (
	IntentBuy  Intent = "buy"
	IntentSell Intent = "sell"
	IntentRent Intent = "rent"
	IntentInfo Intent = "info"
)

// Timeline is the declared purchase timeline.
type Timeline string

const (
	TimelineUrgent      Timeline = "urgent"
	TimelineThreeMonths Timeline = "three_months"
	TimelineSixMonths   Timeline = "six_months"
	TimelineExploring   Timeline = "exploring"
	TimelineUnknown     Timeline = "unknown"
)

// Financing is the declared financing situation.
type Financing string

const (
	FinancingApproved   Financing = "approved"
	FinancingCash       Financing = "cash"
	FinancingInProgress Financing = "in_progress"
	FinancingNone       Financing = "none"
)

// Category is the qualification outcome bucket.
type Category string

const (
	CategoryHot          Category = "HOT"
	CategoryWarm         Category = "WARM"
	CategoryCold         Category = "COLD"
	CategoryDisqualified Category = "DISQUALIFIED"
)

// Record accumulates the qualification answers. A nil pointer or empty
// enum value means the slot is unanswered. Slots are filled in the
// order returned by NextQuestion.
type Record struct {
	Intent           Intent   `json:"intent,omitempty"`
	Timeline         Timeline `json:"timeline,omitempty"`
	Budget           *float64 `json:"budget,omitempty"`
	Financing        Financing `json:"financing,omitempty"`
	LocationSpecific *bool    `json:"location_specific,omitempty"`
	PropertySpecific *bool    `json:"property_specific,omitempty"`
	HasContactInfo   *bool    `json:"has_contact_info,omitempty"`
}

// Result is the scored outcome of a qualification record.
type Result struct {
	Raw               int      `json:"raw"`
	Normalized        int      `json:"normalized"`
	Category          Category `json:"category"`
	RecommendedAction string   `json:"recommended_action"`
}

// MaxRawScore is the ceiling of the point scheme: three high-signal
// slots worth 3 points each and three confirmation slots worth 2, plus
// budget worth 3.
const MaxRawScore = 18

// disqualifyBudgetFloor is the minimum credible budget for a declared
// buyer with no timeline.
const disqualifyBudgetFloor = 50000

// slot describes one qualification question: how to tell whether it is
// answered and what to ask when it is not.
type slot struct {
	name     string
	answered func(*Record) bool
	question string
}

// slots is the fixed priority order of the qualification flow.
var slots = []slot{
	{
		name:     "intent",
		answered: func(r *Record) bool { return r.Intent != "" },
		question: "Per iniziare: sta cercando di acquistare, vendere o affittare?",
	},
	{
		name:     "timeline",
		answered: func(r *Record) bool { return r.Timeline != "" },
		question: "In che tempi vorrebbe concludere? Entro un mese, tre mesi, sei mesi, o sta solo esplorando?",
	},
	{
		name:     "budget",
		answered: func(r *Record) bool { return r.Budget != nil },
		question: "Qual è il budget massimo che ha in mente per questo acquisto?",
	},
	{
		name:     "financing",
		answered: func(r *Record) bool { return r.Financing != "" },
		question: "Ha già un mutuo approvato, è in fase di richiesta, o acquisterebbe in contanti?",
	},
	{
		name:     "location",
		answered: func(r *Record) bool { return r.LocationSpecific != nil },
		question: "Ha già una zona precisa in mente, o è aperto a più quartieri?",
	},
	{
		name:     "property_type",
		answered: func(r *Record) bool { return r.PropertySpecific != nil },
		question: "Che tipo di immobile cerca? Bilocale, trilocale, attico?",
	},
	{
		name:     "contact",
		answered: func(r *Record) bool { return r.HasContactInfo != nil },
		question: "Mi lascia un nome e un recapito per inviarle le proposte selezionate?",
	},
}

// NextQuestion returns the first unanswered question in priority order,
// or "" when the record is complete.
func NextQuestion(r *Record) string {
	for _, s := range slots {
		if !s.answered(r) {
			return s.question
		}
	}
	return ""
}

// Complete reports whether every slot has an answer.
func Complete(r *Record) bool {
	return NextQuestion(r) == ""
}

// AnsweredCount returns how many slots hold an answer.
func AnsweredCount(r *Record) int {
	n := 0
	for _, s := range slots {
		if s.answered(r) {
			n++
		}
	}
	return n
}

// Score derives the raw and normalized score, the category, and a
// recommended follow-up action from the answers collected so far.
// The kill-switch overrides the numeric category: a declared buyer with
// a budget under the floor and no timeline is disqualified outright.
func Score(r *Record) Result {
	raw := rawScore(r)
	normalized := normalize(raw, AnsweredCount(r))
	category := categorize(normalized)
	if killSwitch(r) {
		category = CategoryDisqualified
	}
	return Result{
		Raw:               raw,
		Normalized:        normalized,
		Category:          category,
		RecommendedAction: recommendedAction(category),
	}
}

func rawScore(r *Record) int {
	score := 0
	switch r.Intent {
	case IntentBuy:
		score += 3
	case IntentSell, IntentRent:
		score += 2
	case IntentInfo:
		score += 1
	}
	switch r.Timeline {
	case TimelineUrgent:
		score += 3
	case TimelineThreeMonths:
		score += 2
	case TimelineSixMonths:
		score += 1
	}
	if r.Budget != nil {
		switch b := *r.Budget; {
		case b >= 300000:
			score += 3
		case b >= 150000:
			score += 2
		case b >= disqualifyBudgetFloor:
			score += 1
		}
	}
	switch r.Financing {
	case FinancingApproved, FinancingCash:
		score += 3
	case FinancingInProgress:
		score += 2
	}
	if r.LocationSpecific != nil && *r.LocationSpecific {
		score += 2
	}
	if r.PropertySpecific != nil && *r.PropertySpecific {
		score += 2
	}
	if r.HasContactInfo != nil && *r.HasContactInfo {
		score += 2
	}
	return score
}

// normalize maps the raw score onto a 1..10 scale. A record with no
// answers at all scores 0; any answered slot floors the result at 1.
func normalize(raw, answered int) int {
	if answered == 0 {
		return 0
	}
	n := int(math.Round(float64(raw) / MaxRawScore * 10))
	if n < 1 {
		n = 1
	}
	if n > 10 {
		n = 10
	}
	return n
}

func categorize(normalized int) Category {
	switch {
	case normalized >= 9:
		return CategoryHot
	case normalized >= 6:
		return CategoryWarm
	default:
		return CategoryCold
	}
}

// killSwitch reports whether the hard disqualification rule applies:
// declared buyer, budget under the floor, timeline never established.
func killSwitch(r *Record) bool {
	if r.Intent != IntentBuy {
		return false
	}
	if r.Budget == nil || *r.Budget >= disqualifyBudgetFloor {
		return false
	}
	return r.Timeline == "" || r.Timeline == TimelineUnknown
}

func recommendedAction(c Category) string {
	switch c {
	case CategoryHot:
		return "Call the lead within 5 minutes and propose two viewing slots."
	case CategoryWarm:
		return "Follow up within 24 hours with a curated shortlist."
	case CategoryCold:
		return "Add to the nurture sequence and check back in two weeks."
	case CategoryDisqualified:
		return "Close the lead politely; no follow-up scheduled."
	default:
		return fmt.Sprintf("Review lead manually (category %s).", c)
	}
}
