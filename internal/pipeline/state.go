package pipeline

import (
	"github.com/alberto591/ai-automation-agency-sub000/internal/models"
	"github.com/alberto591/ai-automation-agency-sub000/internal/qualification"
)

// RunState is the ephemeral state of one pipeline run. Stages receive
// it by value and return an updated copy; a failing stage cannot
// corrupt fields it did not touch. Only the derived side effects are
// persisted, never the state itself.
type RunState struct {
	// Inbound payload.
	Phone    string
	Input    string
	MediaURL string
	Context  map[string]string

	// Set by ingest.
	Customer   models.Customer
	IsNew      bool
	Language   string
	LeadSource models.LeadSource

	// Set by the extraction stages.
	Intent      models.IntentExtraction
	Preferences models.Preferences
	Sentiment   models.Sentiment

	// Set by the qualification track inside the intent stage.
	Qualification *qualification.Record
	QualResult    *qualification.Result
	Scripted      bool

	// Set by market lookup, cache check, and retrieval.
	Market    models.MarketStats
	Embedding []float32
	Matches   []models.PropertyMatch

	// StatusNote tells the generation stage how to present ungrounded
	// or low-confidence retrieval results.
	StatusNote string

	// Reply is the outbound text. Empty means no reply is issued.
	Reply string

	// Checkpoint is the routing tag, set once per stage transition.
	Checkpoint Checkpoint
}
