package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alberto591/ai-automation-agency-sub000/internal/models"
)

const generationSystemPrompt = `You are the WhatsApp assistant of an Italian real-estate agency.
Reply in the customer's language, in a warm and concise tone suitable for chat.
Ground every claim in the property data provided; never invent listings, prices, or availability.
If the briefing says the matches are low confidence, present them as the closest alternatives and say so.
If the briefing says no properties were found, admit it plainly and offer to take note of what the customer wants.`

// bookingLink is appended by prompt instruction when the customer has
// asked for a viewing.
const bookingLink = "https://calendly.com/agenzia-immobiliare/visita"

// Fallback replies when generation itself fails. The customer gets an
// apology, never an error.
var fallbackReplies = map[string]string{
	"it": "Mi scusi, ho avuto un problema tecnico. Può ripetere il messaggio? Un nostro agente è comunque a disposizione.",
	"en": "Sorry, I ran into a technical problem. Could you repeat your message? One of our agents is also available to help.",
}

// generate builds the grounding prompt and asks the model for the
// reply. A scripted qualification question from the intent stage wins
// over freeform generation. Failure degrades to an apologetic reply.
func (e *Engine) generate(ctx context.Context, st RunState) (RunState, error) {
	if st.Scripted {
		st.Checkpoint = CheckpointContinue
		return st, nil
	}

	reply, err := e.ai.Generate(ctx, generationSystemPrompt, e.buildPrompt(st))
	if err != nil {
		slog.Warn("Engine.generate: generation failed, sending fallback reply",
			"error", err, "phone", st.Phone)
		reply = fallbackReplies[st.Language]
		if reply == "" {
			reply = fallbackReplies["en"]
		}
	}
	st.Reply = reply
	st.Checkpoint = CheckpointContinue
	return st, nil
}

// buildPrompt assembles the generation briefing: customer profile,
// recent history, extraction results, market context, and candidate
// properties. Journey-stage behavior is expressed as prompt
// instructions, not code branches.
func (e *Engine) buildPrompt(st RunState) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Customer: %s (phone %s)\n", orUnknown(st.Customer.Name), st.Phone)
	fmt.Fprintf(&b, "Journey stage: %s\n", st.Customer.Stage)
	fmt.Fprintf(&b, "Language: %s\n", st.Language)
	fmt.Fprintf(&b, "Lead source: %s\n", st.LeadSource)
	fmt.Fprintf(&b, "Sentiment: %s\n", st.Sentiment)

	if st.Preferences.PropertyType != "" || len(st.Preferences.Zones) > 0 {
		fmt.Fprintf(&b, "Preferences: type=%s zones=%s bedrooms=%d\n",
			orUnknown(st.Preferences.PropertyType),
			strings.Join(st.Preferences.Zones, ","), st.Preferences.Bedrooms)
	}
	if st.Intent.Budget > 0 {
		fmt.Fprintf(&b, "Stated budget: %.0f EUR\n", st.Intent.Budget)
	}
	if !st.Market.IsEmpty() {
		fmt.Fprintf(&b, "Market context for %s: avg price %.0f EUR, avg %.0f EUR/sqm over %d comparables\n",
			st.Market.Zone, st.Market.AvgPrice, st.Market.AvgPricePerSqm, st.Market.SampleSize)
	}

	history, err := e.store.GetMessages(st.Phone, historyWindow)
	if err != nil {
		slog.Warn("Engine.buildPrompt: history load failed, prompting without it",
			"error", err, "phone", st.Phone)
	}
	if len(history) > 0 {
		b.WriteString("Recent conversation:\n")
		for _, m := range history {
			fmt.Fprintf(&b, "  %s: %s\n", m.Role, m.Content)
		}
	}

	switch st.StatusNote {
	case noteLowConfidence:
		b.WriteString("Briefing: no confident matches; the listings below are the closest alternatives. Disclose that.\n")
	case noteNoResults:
		b.WriteString("Briefing: no properties matched this request. Admit the gap; do not invent listings.\n")
	}
	if len(st.Matches) > 0 {
		b.WriteString("Candidate properties:\n")
		for _, m := range st.Matches {
			fmt.Fprintf(&b, "  - %s, %s, %.0f EUR (similarity %.2f) %s\n",
				m.Property.Title, m.Property.Zone, m.Property.Price, m.Similarity, m.Property.URL)
		}
	}

	if st.Customer.Stage == models.StageAppointmentRequested {
		fmt.Fprintf(&b, "Instruction: the customer asked for a viewing; include the booking link %s.\n", bookingLink)
	}

	fmt.Fprintf(&b, "\nCustomer message: %s\n", st.Input)
	return b.String()
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
