package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/alberto591/ai-automation-agency-sub000/internal/models"
)

// englishKeywords override the phone-prefix language heuristic: a
// customer writing English from an Italian number gets English back.
var englishKeywords = []string{
	"hello", "hi ", "please", "thanks", "thank you", "price",
	"house", "apartment", "flat", "looking for", "viewing", "buy", "rent",
}

// sourceKeywords map inbound text fragments to an inferred lead source
// when the caller did not supply one.
var sourceKeywords = []struct {
	fragment string
	source   models.LeadSource
}{
	{"immobiliare.it", models.SourceImmobiliare},
	{"idealista", models.SourceIdealista},
	{"facebook", models.SourceFacebook},
	{"instagram", models.SourceInstagram},
	{"valutazione", models.SourceAppraisal},
	{"appraisal", models.SourceAppraisal},
	{"sito", models.SourceWebsite},
	{"website", models.SourceWebsite},
}

// ingest loads or creates the customer record and resolves language
// and lead source. A disabled AI flag short-circuits the whole run.
func (e *Engine) ingest(ctx context.Context, st RunState) (RunState, error) {
	customer, err := e.store.GetCustomer(st.Phone)
	if err != nil {
		slog.Error("Engine.ingest: failed to load customer", "error", err, "phone", st.Phone)
		return st, &models.PersistenceError{Phone: st.Phone, Err: err}
	}
	if customer == nil {
		st.IsNew = true
		st.Customer = models.Customer{
			Phone:     st.Phone,
			Stage:     models.StageActive,
			AIEnabled: true,
			CreatedAt: time.Now(),
		}
		slog.Info("Engine.ingest: new customer", "phone", st.Phone)
	} else {
		st.Customer = *customer
	}

	if !st.Customer.AIEnabled {
		st.Checkpoint = CheckpointHumanMode
		return st, nil
	}

	st.Language = detectLanguage(st.Phone, st.Input)
	if st.LeadSource == "" {
		st.LeadSource = detectLeadSource(st.Input)
	}
	st.Sentiment = models.SentimentNeutral
	st.Checkpoint = CheckpointContinue
	return st, nil
}

// detectLanguage applies the phone-country-code heuristic, overridden
// by an English-keyword scan of the input.
func detectLanguage(phone, text string) string {
	lang := "en"
	if strings.HasPrefix(phone, "+39") || strings.HasPrefix(phone, "39") {
		lang = "it"
	}
	lower := strings.ToLower(text)
	for _, kw := range englishKeywords {
		if strings.Contains(lower, kw) {
			return "en"
		}
	}
	return lang
}

// detectLeadSource infers the lead source from the inbound text.
func detectLeadSource(text string) models.LeadSource {
	lower := strings.ToLower(text)
	for _, sk := range sourceKeywords {
		if strings.Contains(lower, sk.fragment) {
			return sk.source
		}
	}
	return models.SourceDirect
}
