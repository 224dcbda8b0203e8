package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/alberto591/ai-automation-agency-sub000/internal/models"
	"github.com/alberto591/ai-automation-agency-sub000/internal/qualification"
)

const intentSystemPrompt = `You classify a single WhatsApp message from a real-estate lead.
Extract the top-level intent ("visit", "purchase", "info", or "other"), the stated budget in euros if any, and named entities such as zones or property types.
Schema: {"intent": "visit|purchase|info|other", "budget": 0, "entities": ["..."]}`

const preferencesSystemPrompt = `You extract housing preferences from a single WhatsApp message.
Schema: {"property_type": "...", "zones": ["..."], "bedrooms": 0, "min_size_sqm": 0, "features": ["..."]}
Omit fields the message does not mention.`

const sentimentSystemPrompt = `You classify the emotional tone of a single WhatsApp message from a real-estate lead.
Schema: {"sentiment": "positive|neutral|negative|frustrated"}`

const qualificationSystemPrompt = `You extract lead-qualification answers from a single WhatsApp message in a real-estate conversation.
Schema: {"intent": "buy|sell|rent|info", "timeline": "urgent|three_months|six_months|exploring|unknown", "budget": 0, "financing": "approved|cash|in_progress|none", "location_specific": true, "property_specific": true, "has_contact_info": true}
Include only the fields the message actually answers.`

// budgetPatterns back up the structured extraction: a "250k" or
// "250.000 euro" mention still yields a budget when the model call
// fails.
var (
	budgetKPattern   = regexp.MustCompile(`(?i)(\d+)\s*k\b`)
	budgetNumPattern = regexp.MustCompile(`(\d{1,3}(?:[.,]\d{3})+|\d{4,})`)
)

// extractIntent runs the structured intent extraction and, for
// unqualified transactional leads, the qualification track. Extraction
// failure degrades to a regex budget scan; this stage never errors.
func (e *Engine) extractIntent(ctx context.Context, st RunState) (RunState, error) {
	var out models.IntentExtraction
	if err := e.ai.ExtractJSON(ctx, intentSystemPrompt, st.Input, &out); err != nil {
		slog.Warn("Engine.extractIntent: extraction failed, falling back to budget scan",
			"error", err, "phone", st.Phone)
		st.Intent = models.IntentExtraction{Budget: scanBudget(st.Input)}
	} else {
		if !models.IsValidIntent(out.Intent) {
			out.Intent = ""
		}
		st.Intent = out
	}

	// A first visit request moves the journey forward. Recorded here,
	// but it never branches the pipeline.
	if st.Intent.Intent == models.IntentVisit && st.Customer.Stage == models.StageActive {
		st.Customer.Stage = models.StageAppointmentRequested
		slog.Info("Engine.extractIntent: visit intent, stage advanced",
			"phone", st.Phone, "stage", st.Customer.Stage)
	}

	// A declared purchase from a lead that never finished qualification
	// enters the scripted question track. Visit requests skip it; they
	// go straight to the booking flow.
	if st.Intent.Intent == models.IntentPurchase && st.Customer.Metadata[models.MetaQualificationDone] != "true" {
		st = e.qualify(ctx, st)
	}

	st.Checkpoint = CheckpointContinue
	return st, nil
}

// qualify advances the qualification record with whatever answers the
// message contains, then either asks the next scripted question or
// scores the completed record.
func (e *Engine) qualify(ctx context.Context, st RunState) RunState {
	record := loadQualification(st.Customer.Metadata)

	var answers qualification.Record
	if err := e.ai.ExtractJSON(ctx, qualificationSystemPrompt, st.Input, &answers); err != nil {
		slog.Warn("Engine.qualify: answer extraction failed, keeping prior record",
			"error", err, "phone", st.Phone)
	} else {
		mergeAnswers(record, &answers)
	}

	// Seed from the intent stage when the model did not restate it.
	if record.Intent == "" && st.Intent.Intent == models.IntentPurchase {
		record.Intent = qualification.IntentBuy
	}
	if record.Budget == nil && st.Intent.Budget > 0 {
		b := st.Intent.Budget
		record.Budget = &b
	}

	st.Qualification = record

	if question := qualification.NextQuestion(record); question != "" {
		st.Reply = question
		st.Scripted = true
		return st
	}

	result := qualification.Score(record)
	st.QualResult = &result
	switch result.Category {
	case qualification.CategoryHot:
		st.Customer.Stage = models.StageHot
		if e.notifier != nil {
			go e.notifier.NotifyHotLead(st.Phone, result)
		}
	case qualification.CategoryDisqualified:
		st.Customer.Stage = models.StageArchived
	default:
		st.Customer.Stage = models.StageQualified
	}
	slog.Info("Engine.qualify: qualification complete",
		"phone", st.Phone, "category", result.Category, "normalized", result.Normalized)
	return st
}

func loadQualification(metadata map[string]string) *qualification.Record {
	record := &qualification.Record{}
	if raw, ok := metadata[models.MetaQualification]; ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), record); err != nil {
			slog.Warn("Engine.qualify: stored record unreadable, starting fresh", "error", err)
			record = &qualification.Record{}
		}
	}
	return record
}

// mergeAnswers copies newly answered slots into the record. Existing
// answers are never overwritten; the customer answered them already.
func mergeAnswers(record, answers *qualification.Record) {
	if record.Intent == "" {
		record.Intent = answers.Intent
	}
	if record.Timeline == "" {
		record.Timeline = answers.Timeline
	}
	if record.Budget == nil {
		record.Budget = answers.Budget
	}
	if record.Financing == "" {
		record.Financing = answers.Financing
	}
	if record.LocationSpecific == nil {
		record.LocationSpecific = answers.LocationSpecific
	}
	if record.PropertySpecific == nil {
		record.PropertySpecific = answers.PropertySpecific
	}
	if record.HasContactInfo == nil {
		record.HasContactInfo = answers.HasContactInfo
	}
}

// extractPreferences is best effort; failures keep the previous
// preferences from the customer metadata.
func (e *Engine) extractPreferences(ctx context.Context, st RunState) (RunState, error) {
	var out models.Preferences
	if err := e.ai.ExtractJSON(ctx, preferencesSystemPrompt, st.Input, &out); err != nil {
		slog.Warn("Engine.extractPreferences: extraction failed, keeping previous",
			"error", err, "phone", st.Phone)
		if raw := st.Customer.Metadata[models.MetaLastPreferences]; raw != "" {
			_ = json.Unmarshal([]byte(raw), &st.Preferences)
		}
	} else {
		st.Preferences = out
	}
	st.Checkpoint = CheckpointContinue
	return st, nil
}

// extractSentiment is best effort; failures keep the neutral default.
func (e *Engine) extractSentiment(ctx context.Context, st RunState) (RunState, error) {
	var out struct {
		Sentiment models.Sentiment `json:"sentiment"`
	}
	if err := e.ai.ExtractJSON(ctx, sentimentSystemPrompt, st.Input, &out); err != nil {
		slog.Warn("Engine.extractSentiment: extraction failed, keeping neutral",
			"error", err, "phone", st.Phone)
	} else if out.Sentiment != "" {
		st.Sentiment = out.Sentiment
	}
	st.Checkpoint = CheckpointContinue
	return st, nil
}

// scanBudget is the regex fallback for the intent stage. "250k" wins
// over plain numbers; thousands separators are stripped.
func scanBudget(text string) float64 {
	if m := budgetKPattern.FindStringSubmatch(text); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			return v * 1000
		}
	}
	if m := budgetNumPattern.FindStringSubmatch(text); m != nil {
		clean := strings.NewReplacer(".", "", ",", "").Replace(m[1])
		if v, err := strconv.ParseFloat(clean, 64); err == nil {
			return v
		}
	}
	return 0
}
